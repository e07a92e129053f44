package store

import (
	"database/sql"
	"errors"
	"time"
)

var (
	ErrInsufficientBudget = errors.New("team budget would go negative")
	ErrAlreadySettled     = errors.New("lot already settled")
)

// Settlement is the debit for a sold lot
type Settlement struct {
	SessionID     string
	LotID         string
	TeamID        string
	ParticipantID string
	Amount        int64
	SettledAt     time.Time
}

// SettleLot debits the winning team and marks the lot sold in one
// transaction. A lot is settled at most once.
func (s *Store) SettleLot(st Settlement) (remaining int64, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var done bool
	err = tx.QueryRow(
		"SELECT EXISTS(SELECT 1 FROM settlements WHERE session_id = ? AND lot_id = ?)",
		st.SessionID, st.LotID,
	).Scan(&done)
	if err != nil {
		return 0, err
	}
	if done {
		return 0, ErrAlreadySettled
	}

	err = tx.QueryRow(
		"SELECT remaining FROM teams WHERE session_id = ? AND id = ?",
		st.SessionID, st.TeamID,
	).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	if st.Amount > remaining {
		return remaining, ErrInsufficientBudget
	}
	remaining -= st.Amount

	if _, err := tx.Exec(
		"UPDATE teams SET remaining = ? WHERE session_id = ? AND id = ?",
		remaining, st.SessionID, st.TeamID,
	); err != nil {
		return 0, err
	}

	if _, err := tx.Exec(
		`INSERT INTO settlements (session_id, lot_id, team_id, participant_id, amount, settled_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		st.SessionID, st.LotID, st.TeamID, st.ParticipantID, st.Amount, st.SettledAt.UTC(),
	); err != nil {
		return 0, err
	}

	res, err := tx.Exec(
		`UPDATE lots SET status = 'SOLD', winner_id = ?, winner_team_id = ?, final_amount = ?
		 WHERE session_id = ? AND id = ?`,
		st.ParticipantID, st.TeamID, st.Amount, st.SessionID, st.LotID,
	)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return remaining, nil
}

// ListSettlements returns a session's settlements in order
func (s *Store) ListSettlements(sessionID string) ([]Settlement, error) {
	rows, err := s.db.Query(
		`SELECT session_id, lot_id, team_id, participant_id, amount, settled_at
		 FROM settlements WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Settlement
	for rows.Next() {
		var st Settlement
		if err := rows.Scan(&st.SessionID, &st.LotID, &st.TeamID, &st.ParticipantID, &st.Amount, &st.SettledAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
