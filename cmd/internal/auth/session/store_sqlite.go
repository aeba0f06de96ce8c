package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"spendsync/cmd/internal/storage"
)

// SQLiteStore implements Store over an embedded SQLite database.
// storage.OpenSQLite pins the pool to one connection, which serializes
// Replace transactions.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("session: nil db")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Replace(ctx context.Context, rec Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, rec.UserID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUnknownUser
	}
	if err != nil {
		return err
	}

	issued := storage.Nanos(rec.IssuedAt)

	_, err = tx.ExecContext(ctx, `
		UPDATE session_log
		   SET logout_at = ?, end_reason = 'superseded'
		 WHERE session_id = (SELECT session_id FROM active_sessions WHERE user_id = ?)
		   AND logout_at IS NULL
	`, issued, rec.UserID)
	if err != nil {
		return err
	}

	c := rec.Client
	_, err = tx.ExecContext(ctx, `
		INSERT INTO active_sessions (
			user_id, session_id, token_hash, issued_at, expires_at,
			platform, device, user_agent, ip
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			session_id = excluded.session_id,
			token_hash = excluded.token_hash,
			issued_at  = excluded.issued_at,
			expires_at = excluded.expires_at,
			platform   = excluded.platform,
			device     = excluded.device,
			user_agent = excluded.user_agent,
			ip         = excluded.ip
	`, rec.UserID, rec.SessionID, rec.TokenHash, issued, storage.Nanos(rec.ExpiresAt),
		c.Platform, storage.NullString(c.Device), storage.NullString(c.UserAgent), storage.NullString(c.IP))
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO session_log (session_id, user_id, platform, device, user_agent, ip, login_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.SessionID, rec.UserID, c.Platform,
		storage.NullString(c.Device), storage.NullString(c.UserAgent), storage.NullString(c.IP), issued)
	if err != nil {
		return err
	}

	clientJSON, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE users SET last_login_at = ?, last_client = ?, updated_at = ? WHERE id = ?`,
		issued, string(clientJSON), issued, rec.UserID,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, userID string) (Record, error) {
	var (
		rec                     Record
		issued, expires         int64
		device, userAgent, ipTx sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, session_id, token_hash, issued_at, expires_at, platform, device, user_agent, ip
		  FROM active_sessions
		 WHERE user_id = ?
	`, userID).Scan(
		&rec.UserID, &rec.SessionID, &rec.TokenHash, &issued, &expires,
		&rec.Client.Platform, &device, &userAgent, &ipTx,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrSessionNotFound
	}
	if err != nil {
		return Record{}, err
	}
	rec.IssuedAt = storage.FromNanos(issued)
	rec.ExpiresAt = storage.FromNanos(expires)
	rec.Client.Device = device.String
	rec.Client.UserAgent = userAgent.String
	rec.Client.IP = ipTx.String
	return rec, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, userID string, now time.Time, reason EndReason) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var sessionID string
	err = tx.QueryRowContext(ctx,
		`DELETE FROM active_sessions WHERE user_id = ? RETURNING session_id`,
		userID,
	).Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE session_log SET logout_at = ?, end_reason = ? WHERE session_id = ? AND logout_at IS NULL`,
		storage.Nanos(now), string(reason), sessionID,
	)
	if err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	cut := storage.Nanos(now)
	_, err = tx.ExecContext(ctx, `
		UPDATE session_log
		   SET logout_at = (SELECT expires_at FROM active_sessions a WHERE a.session_id = session_log.session_id),
		       end_reason = 'expired'
		 WHERE logout_at IS NULL
		   AND session_id IN (SELECT session_id FROM active_sessions WHERE expires_at <= ?)
	`, cut)
	if err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM active_sessions WHERE expires_at <= ?`, cut)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func (s *SQLiteStore) History(ctx context.Context, userID string, limit int) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, user_id, platform, device, user_agent, ip, login_at, logout_at, end_reason
		  FROM session_log
		 WHERE user_id = ?
		 ORDER BY login_at DESC, session_id DESC
		 LIMIT ?
	`, userID, clampHistory(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var (
			e                       LogEntry
			device, userAgent, ipTx sql.NullString
			reason                  sql.NullString
			loginAt                 int64
			logoutAt                sql.NullInt64
		)
		if err := rows.Scan(&e.SessionID, &e.UserID, &e.Client.Platform, &device, &userAgent, &ipTx,
			&loginAt, &logoutAt, &reason); err != nil {
			return nil, err
		}
		e.Client.Device = device.String
		e.Client.UserAgent = userAgent.String
		e.Client.IP = ipTx.String
		e.LoginAt = storage.FromNanos(loginAt)
		e.LogoutAt = storage.FromNullNanos(logoutAt)
		if reason.Valid {
			r := EndReason(reason.String)
			e.EndReason = &r
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ Store = (*SQLiteStore)(nil)
