package store

import (
	"database/sql"
	"errors"
	"time"
)

// CreateSession records a new auction session. Creating an existing id is a
// no-op so restarts can re-register rooms.
func (s *Store) CreateSession(id string, bidWindowSeconds int) error {
	_, err := s.db.Exec(
		`INSERT INTO auction_sessions (id, bid_window_seconds) VALUES (?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, bidWindowSeconds,
	)
	return err
}

// DeleteNewSession removes a session that was never initialized
func (s *Store) DeleteNewSession(id string) error {
	return s.exec1(`DELETE FROM auction_sessions WHERE id = ? AND status = 'NEW'`, id)
}

// GetSession retrieves a session by id
func (s *Store) GetSession(id string) (*SessionRecord, error) {
	rec := &SessionRecord{}
	err := s.db.QueryRow(
		`SELECT id, status, bid_window_seconds, auctioneer_id, created_at, updated_at
		 FROM auction_sessions WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Status, &rec.BidWindowSeconds, &rec.AuctioneerID, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListSessions returns sessions newest first
func (s *Store) ListSessions(limit int) ([]SessionRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, status, bid_window_seconds, auctioneer_id, created_at, updated_at
		 FROM auction_sessions ORDER BY created_at DESC, id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ID, &rec.Status, &rec.BidWindowSeconds, &rec.AuctioneerID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateSessionStatus sets the session status
func (s *Store) UpdateSessionStatus(id, status string) error {
	return s.exec1(
		"UPDATE auction_sessions SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now().UTC(), id,
	)
}

// ConfigureSession records the settings chosen at initialize
func (s *Store) ConfigureSession(id, status string, bidWindowSeconds int, auctioneerID string) error {
	return s.exec1(
		`UPDATE auction_sessions SET status = ?, bid_window_seconds = ?, auctioneer_id = ?, updated_at = ?
		 WHERE id = ?`,
		status, bidWindowSeconds, auctioneerID, time.Now().UTC(), id,
	)
}

// SetAuctioneer records a replaced auctioneer
func (s *Store) SetAuctioneer(id, auctioneerID string) error {
	return s.exec1(
		"UPDATE auction_sessions SET auctioneer_id = ?, updated_at = ? WHERE id = ?",
		auctioneerID, time.Now().UTC(), id,
	)
}

// UpsertTeam inserts a team or refreshes its name and budget. Remaining is
// only written on insert; settlements own it afterwards.
func (s *Store) UpsertTeam(t TeamRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO teams (session_id, id, name, budget, remaining) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, id) DO UPDATE SET name = excluded.name, budget = excluded.budget`,
		t.SessionID, t.ID, t.Name, t.Budget, t.Remaining,
	)
	return err
}

// GetTeam retrieves one team
func (s *Store) GetTeam(sessionID, teamID string) (*TeamRecord, error) {
	t := &TeamRecord{}
	err := s.db.QueryRow(
		"SELECT session_id, id, name, budget, remaining FROM teams WHERE session_id = ? AND id = ?",
		sessionID, teamID,
	).Scan(&t.SessionID, &t.ID, &t.Name, &t.Budget, &t.Remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTeams returns a session's teams ordered by id
func (s *Store) ListTeams(sessionID string) ([]TeamRecord, error) {
	rows, err := s.db.Query(
		"SELECT session_id, id, name, budget, remaining FROM teams WHERE session_id = ? ORDER BY id",
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TeamRecord
	for rows.Next() {
		var t TeamRecord
		if err := rows.Scan(&t.SessionID, &t.ID, &t.Name, &t.Budget, &t.Remaining); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertLot registers a lot in queue order, or refreshes its name and base
// price if it already exists.
func (s *Store) UpsertLot(l LotRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO lots (session_id, id, name, base_price, status, position)
		 VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM lots WHERE session_id = ?))
		 ON CONFLICT(session_id, id) DO UPDATE SET name = excluded.name, base_price = excluded.base_price`,
		l.SessionID, l.ID, l.Name, l.BasePrice, orDefault(l.Status, "PENDING"), l.SessionID,
	)
	return err
}

// OpenLot marks a lot in bidding and starts a new bid round for it
func (s *Store) OpenLot(sessionID, lotID, name string, basePrice int64) error {
	if err := s.UpsertLot(LotRecord{SessionID: sessionID, ID: lotID, Name: name, BasePrice: basePrice}); err != nil {
		return err
	}
	return s.exec1(
		"UPDATE lots SET status = 'IN_BIDDING', round = round + 1 WHERE session_id = ? AND id = ?",
		sessionID, lotID,
	)
}

// SetLotStatus changes a lot's status without touching its outcome
func (s *Store) SetLotStatus(sessionID, lotID, status string) error {
	return s.exec1(
		"UPDATE lots SET status = ? WHERE session_id = ? AND id = ?",
		status, sessionID, lotID,
	)
}

// GetLot retrieves one lot
func (s *Store) GetLot(sessionID, lotID string) (*LotRecord, error) {
	l := &LotRecord{}
	err := s.db.QueryRow(
		`SELECT session_id, id, name, base_price, status, winner_id, winner_team_id, final_amount, round, position
		 FROM lots WHERE session_id = ? AND id = ?`, sessionID, lotID,
	).Scan(&l.SessionID, &l.ID, &l.Name, &l.BasePrice, &l.Status, &l.WinnerID, &l.WinnerTeamID, &l.FinalAmount, &l.Round, &l.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// ListLots returns a session's lots in queue order
func (s *Store) ListLots(sessionID string) ([]LotRecord, error) {
	rows, err := s.db.Query(
		`SELECT session_id, id, name, base_price, status, winner_id, winner_team_id, final_amount, round, position
		 FROM lots WHERE session_id = ? ORDER BY position`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LotRecord
	for rows.Next() {
		var l LotRecord
		if err := rows.Scan(&l.SessionID, &l.ID, &l.Name, &l.BasePrice, &l.Status, &l.WinnerID, &l.WinnerTeamID, &l.FinalAmount, &l.Round, &l.Position); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// exec1 runs an update that must touch exactly one row
func (s *Store) exec1(query string, args ...interface{}) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
