// Package store provides storage backends for citabot.
//
// Two relational backends are supported: PostgreSQL (lib/pq) and SQLite
// (go-sqlite3). Both apply embedded migrations at construction. Row-level
// conditional updates and unique constraints are the only synchronization
// primitives used across concurrent webhook and scheduler invocations.
package store

import (
	"context"
	"strings"
)

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string // database connection string or SQLite file path
}

// Option defines a function that configures store options.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns the database/sql driver name for a DSN:
// "postgres" for PostgreSQL URLs or key/value strings, "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "user=") {
		return "postgres"
	}
	return "sqlite3"
}

// Store is the full persistence surface used by the dialogue orchestrator,
// the scheduler and the HTTP API.
type Store interface {
	DedupRepo
	LeadRepo
	StateRepo
	ReminderRepo
	FollowupRepo
	AuditRepo
	IntegrationRepo
	InboxRepo

	// Ping verifies the database connection is alive.
	Ping(ctx context.Context) error
	// Close releases the underlying connection pool.
	Close() error
}

// New opens the backend matching the DSN type.
func New(dsn string) (Store, error) {
	if DetectDSNType(dsn) == "postgres" {
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
