package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Register the pure-Go sqlite driver.
	_ "modernc.org/sqlite"
)

// OpenSQLite opens (creating if needed) a SQLite database and applies migrations.
// path may be ":memory:" for a private in-memory database.
//
// SQLite allows a single writer, so the pool is pinned to one connection.
// That also keeps an in-memory database alive and shared by every caller.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("storage: empty sqlite path")
	}

	dsn := path
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping sqlite: %w", err)
	}
	if err := migrateSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func migrateSQLite(ctx context.Context, db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY CHECK (length(id) = 26),
			email TEXT NOT NULL,
			email_norm TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL CHECK (role IN ('viewer', 'manager', 'admin')),
			password_hash TEXT NOT NULL,
			avatar_ref TEXT NULL,
			last_login_at INTEGER NULL,
			last_client TEXT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS active_sessions (
			user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			session_id TEXT NOT NULL,
			token_hash TEXT NOT NULL CHECK (length(token_hash) = 64),
			issued_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			platform TEXT NOT NULL DEFAULT 'unknown',
			device TEXT NULL,
			user_agent TEXT NULL,
			ip TEXT NULL,
			CHECK (expires_at > issued_at)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_active_sessions_expires_at ON active_sessions (expires_at)`,
		`CREATE TABLE IF NOT EXISTS session_log (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			platform TEXT NOT NULL DEFAULT 'unknown',
			device TEXT NULL,
			user_agent TEXT NULL,
			ip TEXT NULL,
			login_at INTEGER NOT NULL,
			logout_at INTEGER NULL,
			end_reason TEXT NULL CHECK (end_reason IS NULL OR end_reason IN ('logout', 'superseded', 'expired'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_log_user_login ON session_log (user_id, login_at DESC)`,
		`CREATE TABLE IF NOT EXISTS expenses (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			amount REAL NOT NULL CHECK (amount > 0),
			category TEXT NOT NULL,
			spent_at INTEGER NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_expenses_user_spent ON expenses (user_id, spent_at DESC)`,
	}

	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("storage: migrate sqlite: %w", err)
		}
	}
	return nil
}

// SQLite columns hold instants as unix nanoseconds in UTC.

// Nanos converts t for storage in an INTEGER column.
func Nanos(t time.Time) int64 { return t.UTC().UnixNano() }

// FromNanos is the inverse of Nanos.
func FromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// NullNanos converts t, storing NULL for nil.
func NullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: Nanos(*t), Valid: true}
}

// FromNullNanos is the inverse of NullNanos.
func FromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := FromNanos(n.Int64)
	return &t
}

// NullString maps "" to NULL.
func NullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// IsSQLiteUnique reports whether err is a UNIQUE or PRIMARY KEY constraint failure.
func IsSQLiteUnique(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}

// IsSQLiteForeignKey reports whether err is a FOREIGN KEY constraint failure.
func IsSQLiteForeignKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
