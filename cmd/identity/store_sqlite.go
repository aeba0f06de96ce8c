package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"spendsync/cmd/identity/ids"
	"spendsync/cmd/internal/storage"
)

// SQLiteStore implements Store over an embedded SQLite database opened with
// storage.OpenSQLite. The *sql.DB is owned by the caller.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("identity: nil db")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteUserColumns = `id, email, email_norm, display_name, role, avatar_ref, last_login_at, last_client, created_at, updated_at`

func (s *SQLiteStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	in, hash, err := prepareCreate(op, in)
	if err != nil {
		return User{}, err
	}
	id, err := ids.NewULID(in.Now)
	if err != nil {
		return User{}, err
	}

	now := storage.FromNanos(storage.Nanos(in.Now))
	u := User{
		ID:          id,
		Email:       in.Email,
		EmailNorm:   NormalizeEmail(in.Email),
		DisplayName: in.DisplayName,
		Role:        in.Role,
		AvatarRef:   in.AvatarRef,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var avatar sql.NullString
	if u.AvatarRef != nil {
		avatar = storage.NullString(*u.AvatarRef)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (
		     id, email, email_norm, display_name, role, password_hash, avatar_ref, created_at, updated_at
		   ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.EmailNorm, u.DisplayName, string(u.Role), hash, avatar,
		storage.Nanos(now), storage.Nanos(now),
	)
	if err != nil {
		if storage.IsSQLiteUnique(err) {
			return User{}, emailTaken(op, u.Email)
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (User, error) {
	const op = "identity.GetUser"

	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteUserColumns+` FROM users WHERE id = ?`,
		strings.TrimSpace(userID),
	)
	u, _, err := sqliteScanUser(row, false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, notFound(op)
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *SQLiteStore) GetCredentialsByEmail(ctx context.Context, email string) (Credentials, error) {
	const op = "identity.GetCredentialsByEmail"

	norm := NormalizeEmail(email)
	if norm == "" {
		return Credentials{}, notFound(op)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteUserColumns+`, password_hash FROM users WHERE email_norm = ?`,
		norm,
	)
	u, hash, err := sqliteScanUser(row, true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Credentials{}, notFound(op)
		}
		return Credentials{}, fmt.Errorf("%s: %w", op, err)
	}
	return Credentials{User: u, PasswordHash: hash}, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context, limit int) ([]User, error) {
	const op = "identity.ListUsers"

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteUserColumns+` FROM users ORDER BY created_at DESC, id DESC LIMIT ?`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]User, 0, 16)
	for rows.Next() {
		u, _, err := sqliteScanUser(rows, false)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *SQLiteStore) SetPasswordHash(ctx context.Context, userID, hash string, now time.Time) error {
	const op = "identity.SetPasswordHash"

	if strings.TrimSpace(hash) == "" {
		return Error{Op: op, Kind: ErrInvalidInput, Detail: "empty hash"}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, storage.Nanos(now), userID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(op)
	}
	return nil
}

type sqlRow interface {
	Scan(dest ...any) error
}

func sqliteScanUser(row sqlRow, withHash bool) (User, string, error) {
	var (
		u          User
		role       string
		avatar     sql.NullString
		lastLogin  sql.NullInt64
		lastClient sql.NullString
		created    int64
		updated    int64
		hash       string
	)
	dest := []any{
		&u.ID, &u.Email, &u.EmailNorm, &u.DisplayName, &role, &avatar,
		&lastLogin, &lastClient, &created, &updated,
	}
	if withHash {
		dest = append(dest, &hash)
	}
	if err := row.Scan(dest...); err != nil {
		return User{}, "", err
	}

	u.Role = Role(role)
	if avatar.Valid {
		a := avatar.String
		u.AvatarRef = &a
	}
	u.LastLoginAt = storage.FromNullNanos(lastLogin)
	if lastClient.Valid {
		u.LastClient = decodeClient([]byte(lastClient.String))
	}
	u.CreatedAt = storage.FromNanos(created)
	u.UpdatedAt = storage.FromNanos(updated)
	return u, hash, nil
}
