package store

import (
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

// Store provides SQLite persistence for auction sessions
type Store struct {
	db *sql.DB
}

// New opens the database and applies pending migrations
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection: sqlite has a single writer, and ":memory:" databases
	// are per connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection, used by the health endpoint
func (s *Store) Ping() error {
	return s.db.Ping()
}

// SessionRecord is a persisted auction session
type SessionRecord struct {
	ID               string
	Status           string
	BidWindowSeconds int
	AuctioneerID     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TeamRecord is a team's budget within a session
type TeamRecord struct {
	SessionID string
	ID        string
	Name      string
	Budget    int64
	Remaining int64
}

// LotRecord is a lot and its outcome
type LotRecord struct {
	SessionID    string
	ID           string
	Name         string
	BasePrice    int64
	Status       string
	WinnerID     string
	WinnerTeamID string
	FinalAmount  int64
	Round        int // times the lot has been opened
	Position     int
}

// BidRecord is one accepted bid
type BidRecord struct {
	ID            string
	SessionID     string
	LotID         string
	Round         int
	ParticipantID string
	TeamID        string
	Amount        int64
	Sequence      uint64
	AcceptedAt    time.Time
}

// AuditRecord is one committed event
type AuditRecord struct {
	ID        int64
	SessionID string
	Revision  uint64
	Type      string
	Payload   string // JSON
	At        time.Time
}
