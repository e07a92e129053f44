package store

import (
	"fmt"
)

// Migration represents a database schema migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of all migrations
// New migrations should be appended to the end with incrementing version numbers
var migrations = []Migration{
	{
		Version:     1,
		Description: "Auction sessions, teams and lots",
		SQL: `
		CREATE TABLE IF NOT EXISTS auction_sessions (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'NEW',
			bid_window_seconds INTEGER NOT NULL DEFAULT 30,
			auctioneer_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS teams (
			session_id TEXT NOT NULL REFERENCES auction_sessions(id),
			id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			budget INTEGER NOT NULL,
			remaining INTEGER NOT NULL,
			PRIMARY KEY (session_id, id)
		);

		CREATE TABLE IF NOT EXISTS lots (
			session_id TEXT NOT NULL REFERENCES auction_sessions(id),
			id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			base_price INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'PENDING',
			winner_id TEXT NOT NULL DEFAULT '',
			winner_team_id TEXT NOT NULL DEFAULT '',
			final_amount INTEGER NOT NULL DEFAULT 0,
			round INTEGER NOT NULL DEFAULT 0,
			position INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (session_id, id)
		);
		`,
	},
	{
		Version:     2,
		Description: "Bids and settlements",
		SQL: `
		CREATE TABLE IF NOT EXISTS bids (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			lot_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			participant_id TEXT NOT NULL,
			team_id TEXT NOT NULL,
			amount INTEGER NOT NULL,
			sequence INTEGER NOT NULL,
			accepted_at DATETIME NOT NULL,
			UNIQUE(session_id, lot_id, round, sequence)
		);

		CREATE TABLE IF NOT EXISTS settlements (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			lot_id TEXT NOT NULL,
			team_id TEXT NOT NULL,
			participant_id TEXT NOT NULL,
			amount INTEGER NOT NULL,
			settled_at DATETIME NOT NULL,
			UNIQUE(session_id, lot_id)
		);

		CREATE INDEX IF NOT EXISTS idx_bids_lot ON bids(session_id, lot_id, round);
		`,
	},
	{
		Version:     3,
		Description: "Audit log",
		SQL: `
		CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			revision INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT NOT NULL,
			at DATETIME NOT NULL,
			UNIQUE(session_id, revision)
		);
		`,
	},
	{
		Version:     4,
		Description: "Console operators and tokens",
		SQL: `
		CREATE TABLE IF NOT EXISTS operators (
			id TEXT PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			role TEXT NOT NULL,
			key_hash TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS console_tokens (
			token TEXT PRIMARY KEY,
			operator_id TEXT NOT NULL REFERENCES operators(id),
			expires_at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_console_tokens_expires ON console_tokens(expires_at);
		`,
	},
}

// initMigrationsTable creates the migrations tracking table
func (s *Store) initMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// currentVersion returns the highest applied migration version
func (s *Store) currentVersion() (int, error) {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// Migrate runs all pending migrations
func (s *Store) Migrate() error {
	if err := s.initMigrationsTable(); err != nil {
		return fmt.Errorf("failed to init migrations table: %w", err)
	}

	current, err := s.currentVersion()
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := s.applyMigration(m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
	}
	return nil
}

// applyMigration runs a single migration in a transaction
func (s *Store) applyMigration(m Migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// MigrationStatus returns applied and pending migrations
func (s *Store) MigrationStatus() (applied []int, pending []int, err error) {
	if err := s.initMigrationsTable(); err != nil {
		return nil, nil, err
	}

	rows, err := s.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	appliedSet := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, nil, err
		}
		applied = append(applied, v)
		appliedSet[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	for _, m := range migrations {
		if !appliedSet[m.Version] {
			pending = append(pending, m.Version)
		}
	}
	return applied, pending, nil
}
