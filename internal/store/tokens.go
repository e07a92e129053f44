package store

import (
	"database/sql"
	"errors"
	"time"
)

// ConsoleToken is an issued login for an operator
type ConsoleToken struct {
	Token      string
	OperatorID string
	Name       string
	Role       string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// CreateToken stores a console token
func (s *Store) CreateToken(token, operatorID string, expiresAt time.Time) error {
	_, err := s.db.Exec(
		"INSERT INTO console_tokens (token, operator_id, expires_at) VALUES (?, ?, ?)",
		token, operatorID, expiresAt.UTC(),
	)
	return err
}

// GetToken retrieves a token with its operator. Expired tokens are deleted
// and reported as ErrNotFound.
func (s *Store) GetToken(token string, now time.Time) (*ConsoleToken, error) {
	t := &ConsoleToken{}
	err := s.db.QueryRow(
		`SELECT t.token, t.operator_id, o.name, o.role, t.expires_at, t.created_at
		 FROM console_tokens t JOIN operators o ON o.id = t.operator_id
		 WHERE t.token = ?`,
		token,
	).Scan(&t.Token, &t.OperatorID, &t.Name, &t.Role, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if now.After(t.ExpiresAt) {
		_ = s.DeleteToken(token)
		return nil, ErrNotFound
	}
	return t, nil
}

// DeleteToken removes a token
func (s *Store) DeleteToken(token string) error {
	_, err := s.db.Exec("DELETE FROM console_tokens WHERE token = ?", token)
	return err
}

// CleanupExpiredTokens removes all expired tokens
func (s *Store) CleanupExpiredTokens(now time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM console_tokens WHERE expires_at < ?", now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
