package store

import "time"

// AppendAudit records a committed event. A revision already recorded for
// the session is ignored.
func (s *Store) AppendAudit(sessionID string, revision uint64, typ, payload string, at time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO audit_log (session_id, revision, type, payload, at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, revision) DO NOTHING`,
		sessionID, revision, typ, payload, at.UTC(),
	)
	return err
}

// ListAudit returns events after a revision, oldest first
func (s *Store) ListAudit(sessionID string, after uint64, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.Query(
		`SELECT id, session_id, revision, type, payload, at FROM audit_log
		 WHERE session_id = ? AND revision > ? ORDER BY revision LIMIT ?`,
		sessionID, after, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []AuditRecord{}
	for rows.Next() {
		var a AuditRecord
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Revision, &a.Type, &a.Payload, &a.At); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
