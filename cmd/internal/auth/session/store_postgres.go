package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"spendsync/cmd/internal/storage"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool

	users  string
	active string
	log    string
}

// NewPostgresStore creates a Postgres-backed session store in schema
// (storage.DefaultSchema when empty).
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	if schema == "" {
		schema = storage.DefaultSchema
	}
	if !storage.ValidSchema(schema) {
		return nil, fmt.Errorf("session: invalid schema identifier")
	}
	return &PostgresStore{
		pool:   pool,
		users:  storage.Ident(schema, "users"),
		active: storage.Ident(schema, "active_sessions"),
		log:    storage.Ident(schema, "session_log"),
	}, nil
}

// Replace upserts the user's record inside one transaction. The users row is
// locked first so concurrent logins of one user serialize; the later commit
// wins and the earlier session is logged as superseded.
func (s *PostgresStore) Replace(ctx context.Context, rec Record) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked string
	err = tx.QueryRow(ctx,
		`SELECT id FROM `+s.users+` WHERE id = $1 FOR UPDATE`,
		rec.UserID,
	).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUnknownUser
	}
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE `+s.log+`
		   SET logout_at = $2, end_reason = 'superseded'
		 WHERE session_id = (SELECT session_id FROM `+s.active+` WHERE user_id = $1)
		   AND logout_at IS NULL
	`, rec.UserID, rec.IssuedAt)
	if err != nil {
		return err
	}

	c := rec.Client
	_, err = tx.Exec(ctx, `
		INSERT INTO `+s.active+` (
			user_id, session_id, token_hash, issued_at, expires_at,
			platform, device, user_agent, ip
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			token_hash = EXCLUDED.token_hash,
			issued_at  = EXCLUDED.issued_at,
			expires_at = EXCLUDED.expires_at,
			platform   = EXCLUDED.platform,
			device     = EXCLUDED.device,
			user_agent = EXCLUDED.user_agent,
			ip         = EXCLUDED.ip
	`, rec.UserID, rec.SessionID, rec.TokenHash, rec.IssuedAt, rec.ExpiresAt,
		c.Platform, nullIfEmpty(c.Device), nullIfEmpty(c.UserAgent), nullIfEmpty(c.IP))
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO `+s.log+` (session_id, user_id, platform, device, user_agent, ip, login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.SessionID, rec.UserID, c.Platform, nullIfEmpty(c.Device), nullIfEmpty(c.UserAgent), nullIfEmpty(c.IP), rec.IssuedAt)
	if err != nil {
		return err
	}

	clientJSON, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`UPDATE `+s.users+` SET last_login_at = $2, last_client = $3, updated_at = $2 WHERE id = $1`,
		rec.UserID, rec.IssuedAt, clientJSON,
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (Record, error) {
	var (
		rec                     Record
		device, userAgent, ipTx *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, session_id, token_hash, issued_at, expires_at, platform, device, user_agent, ip
		  FROM `+s.active+`
		 WHERE user_id = $1
	`, userID).Scan(
		&rec.UserID,
		&rec.SessionID,
		&rec.TokenHash,
		&rec.IssuedAt,
		&rec.ExpiresAt,
		&rec.Client.Platform,
		&device,
		&userAgent,
		&ipTx,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrSessionNotFound
	}
	if err != nil {
		return Record{}, err
	}
	rec.Client.Device = deref(device)
	rec.Client.UserAgent = deref(userAgent)
	rec.Client.IP = deref(ipTx)
	return rec, nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID string, now time.Time, reason EndReason) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var sessionID string
	err = tx.QueryRow(ctx,
		`DELETE FROM `+s.active+` WHERE user_id = $1 RETURNING session_id`,
		userID,
	).Scan(&sessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE `+s.log+` SET logout_at = $2, end_reason = $3 WHERE session_id = $1 AND logout_at IS NULL`,
		sessionID, now, string(reason),
	)
	if err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		WITH gone AS (
			DELETE FROM `+s.active+` WHERE expires_at <= $1 RETURNING session_id, expires_at
		), closed AS (
			UPDATE `+s.log+` l
			   SET logout_at = gone.expires_at, end_reason = 'expired'
			  FROM gone
			 WHERE l.session_id = gone.session_id AND l.logout_at IS NULL
			RETURNING l.session_id
		)
		SELECT count(*) FROM gone
	`, now).Scan(&n)
	return n, err
}

func (s *PostgresStore) History(ctx context.Context, userID string, limit int) ([]LogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, user_id, platform, device, user_agent, ip, login_at, logout_at, end_reason
		  FROM `+s.log+`
		 WHERE user_id = $1
		 ORDER BY login_at DESC, session_id DESC
		 LIMIT $2
	`, userID, clampHistory(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var (
			e                       LogEntry
			device, userAgent, ipTx *string
			reason                  *string
		)
		if err := rows.Scan(&e.SessionID, &e.UserID, &e.Client.Platform, &device, &userAgent, &ipTx,
			&e.LoginAt, &e.LogoutAt, &reason); err != nil {
			return nil, err
		}
		e.Client.Device = deref(device)
		e.Client.UserAgent = deref(userAgent)
		e.Client.IP = deref(ipTx)
		if reason != nil {
			r := EndReason(*reason)
			e.EndReason = &r
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

var _ Store = (*PostgresStore)(nil)
