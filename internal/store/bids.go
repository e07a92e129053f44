package store

// InsertBid stores an accepted bid in the lot's current round
func (s *Store) InsertBid(b BidRecord) error {
	res, err := s.db.Exec(
		`INSERT INTO bids (id, session_id, lot_id, round, participant_id, team_id, amount, sequence, accepted_at)
		 SELECT ?, ?, ?, round, ?, ?, ?, ?, ? FROM lots WHERE session_id = ? AND id = ?
		 ON CONFLICT(id) DO NOTHING`,
		b.ID, b.SessionID, b.LotID, b.ParticipantID, b.TeamID, b.Amount, b.Sequence, b.AcceptedAt.UTC(),
		b.SessionID, b.LotID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the lot is unknown or the bid was already stored
		if _, err := s.GetLot(b.SessionID, b.LotID); err != nil {
			return err
		}
	}
	return nil
}

// ListBids returns the bids after a sequence from the lot's latest round
func (s *Store) ListBids(sessionID, lotID string, since uint64) ([]BidRecord, error) {
	rows, err := s.db.Query(
		`SELECT b.id, b.session_id, b.lot_id, b.round, b.participant_id, b.team_id, b.amount, b.sequence, b.accepted_at
		 FROM bids b JOIN lots l ON l.session_id = b.session_id AND l.id = b.lot_id AND l.round = b.round
		 WHERE b.session_id = ? AND b.lot_id = ? AND b.sequence > ?
		 ORDER BY b.sequence`,
		sessionID, lotID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []BidRecord{}
	for rows.Next() {
		var b BidRecord
		if err := rows.Scan(&b.ID, &b.SessionID, &b.LotID, &b.Round, &b.ParticipantID, &b.TeamID, &b.Amount, &b.Sequence, &b.AcceptedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
