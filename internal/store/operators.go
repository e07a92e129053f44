package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrOperatorExists = errors.New("operator name already exists")
	ErrInvalidKey     = errors.New("invalid console key")
)

// Operator is a console identity allowed to act as ADMIN or AUCTIONEER
type Operator struct {
	ID        string
	Name      string
	Role      string
	KeyHash   string
	CreatedAt time.Time
}

// CreateOperator registers an operator with a bcrypt-hashed console key
func (s *Store) CreateOperator(name, role, key string) (*Operator, error) {
	var exists bool
	err := s.db.QueryRow("SELECT EXISTS(SELECT 1 FROM operators WHERE name = ?)", name).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrOperatorExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	op := &Operator{
		ID:      uuid.NewString(),
		Name:    name,
		Role:    role,
		KeyHash: string(hash),
	}
	_, err = s.db.Exec(
		"INSERT INTO operators (id, name, role, key_hash) VALUES (?, ?, ?, ?)",
		op.ID, op.Name, op.Role, op.KeyHash,
	)
	if err != nil {
		return nil, err
	}
	return op, nil
}

// AuthenticateOperator checks a name and console key
func (s *Store) AuthenticateOperator(name, key string) (*Operator, error) {
	op := &Operator{}
	err := s.db.QueryRow(
		"SELECT id, name, role, key_hash, created_at FROM operators WHERE name = ?",
		name,
	).Scan(&op.ID, &op.Name, &op.Role, &op.KeyHash, &op.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(op.KeyHash), []byte(key)); err != nil {
		return nil, ErrInvalidKey
	}
	return op, nil
}

// GetOperator retrieves an operator by id
func (s *Store) GetOperator(id string) (*Operator, error) {
	op := &Operator{}
	err := s.db.QueryRow(
		"SELECT id, name, role, key_hash, created_at FROM operators WHERE id = ?",
		id,
	).Scan(&op.ID, &op.Name, &op.Role, &op.KeyHash, &op.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return op, nil
}
