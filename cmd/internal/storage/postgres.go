package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSchema is the Postgres schema used when none is configured.
const DefaultSchema = "spendsync"

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidSchema reports whether s is a legal unquoted PostgreSQL identifier.
func ValidSchema(s string) bool {
	return pgIdentRe.MatchString(strings.TrimSpace(s))
}

// Ident safely quotes a schema-qualified identifier: "schema"."name".
func Ident(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

// ApplyPostgres creates the schema and tables if they do not exist.
// Statements are idempotent, so it is safe to run on every start.
func ApplyPostgres(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if pool == nil {
		return fmt.Errorf("storage: nil pool")
	}
	if !ValidSchema(schema) {
		return fmt.Errorf("storage: invalid schema identifier %q", schema)
	}
	if _, err := pool.Exec(ctx, postgresDDL(schema)); err != nil {
		return fmt.Errorf("storage: apply postgres schema: %w", err)
	}
	return nil
}

func postgresDDL(schema string) string {
	users := Ident(schema, "users")
	active := Ident(schema, "active_sessions")
	log := Ident(schema, "session_log")
	expenses := Ident(schema, "expenses")

	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[2]s (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  email_norm TEXT NOT NULL,
  display_name TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  avatar_ref TEXT NULL,
  last_login_at TIMESTAMPTZ NULL,
  last_client JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_users_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT chk_users_role CHECK (role IN ('viewer', 'manager', 'admin')),
  CONSTRAINT uq_users_email_norm UNIQUE (email_norm)
);

CREATE TABLE IF NOT EXISTS %[3]s (
  user_id TEXT PRIMARY KEY REFERENCES %[2]s(id) ON DELETE CASCADE,
  session_id TEXT NOT NULL,
  token_hash TEXT NOT NULL,
  issued_at TIMESTAMPTZ NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL,
  platform TEXT NOT NULL DEFAULT 'unknown',
  device TEXT NULL,
  user_agent TEXT NULL,
  ip TEXT NULL,

  CONSTRAINT chk_active_sessions_token_hash_len CHECK (char_length(token_hash) = 64),
  CONSTRAINT chk_active_sessions_expiry CHECK (expires_at > issued_at)
);

CREATE INDEX IF NOT EXISTS idx_active_sessions_expires_at ON %[3]s (expires_at);

CREATE TABLE IF NOT EXISTS %[4]s (
  session_id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES %[2]s(id) ON DELETE CASCADE,
  platform TEXT NOT NULL DEFAULT 'unknown',
  device TEXT NULL,
  user_agent TEXT NULL,
  ip TEXT NULL,
  login_at TIMESTAMPTZ NOT NULL,
  logout_at TIMESTAMPTZ NULL,
  end_reason TEXT NULL,

  CONSTRAINT chk_session_log_end_reason CHECK (end_reason IS NULL OR end_reason IN ('logout', 'superseded', 'expired'))
);

CREATE INDEX IF NOT EXISTS idx_session_log_user_login ON %[4]s (user_id, login_at DESC);

CREATE TABLE IF NOT EXISTS %[5]s (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES %[2]s(id) ON DELETE CASCADE,
  title TEXT NOT NULL,
  amount DOUBLE PRECISION NOT NULL,
  category TEXT NOT NULL,
  spent_at TIMESTAMPTZ NOT NULL,
  version BIGINT NOT NULL DEFAULT 1,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_expenses_amount_positive CHECK (amount > 0)
);

CREATE INDEX IF NOT EXISTS idx_expenses_user_spent ON %[5]s (user_id, spent_at DESC);
`, pgx.Identifier{schema}.Sanitize(), users, active, log, expenses)
}
