package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"spendsync/cmd/identity/ids"
	"spendsync/cmd/internal/storage"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the Postgres schema used by the store (default "spendsync").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !storage.ValidSchema(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: storage.DefaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const pgUserColumns = `id, email, email_norm, display_name, role, avatar_ref, last_login_at, last_client, created_at, updated_at`

func (s *PostgresStore) users() string { return storage.Ident(s.schema, "users") }

func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	in, hash, err := prepareCreate(op, in)
	if err != nil {
		return User{}, err
	}
	id, err := ids.NewULID(in.Now)
	if err != nil {
		return User{}, err
	}

	u := User{
		ID:          id,
		Email:       in.Email,
		EmailNorm:   NormalizeEmail(in.Email),
		DisplayName: in.DisplayName,
		Role:        in.Role,
		AvatarRef:   in.AvatarRef,
		CreatedAt:   in.Now.UTC(),
		UpdatedAt:   in.Now.UTC(),
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.users()+` (
		     id, email, email_norm, display_name, role, password_hash, avatar_ref, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		u.ID, u.Email, u.EmailNorm, u.DisplayName, string(u.Role), hash, u.AvatarRef, u.CreatedAt,
	)
	if err != nil {
		if pgIsUniqueViolation(err) {
			return User{}, emailTaken(op, u.Email)
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	const op = "identity.GetUser"

	row := s.pool.QueryRow(ctx,
		`SELECT `+pgUserColumns+` FROM `+s.users()+` WHERE id = $1`,
		strings.TrimSpace(userID),
	)
	u, _, err := pgScanUser(row, false)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, notFound(op)
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *PostgresStore) GetCredentialsByEmail(ctx context.Context, email string) (Credentials, error) {
	const op = "identity.GetCredentialsByEmail"

	norm := NormalizeEmail(email)
	if norm == "" {
		return Credentials{}, notFound(op)
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+pgUserColumns+`, password_hash FROM `+s.users()+` WHERE email_norm = $1`,
		norm,
	)
	u, hash, err := pgScanUser(row, true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credentials{}, notFound(op)
		}
		return Credentials{}, fmt.Errorf("%s: %w", op, err)
	}
	return Credentials{User: u, PasswordHash: hash}, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, limit int) ([]User, error) {
	const op = "identity.ListUsers"

	rows, err := s.pool.Query(ctx,
		`SELECT `+pgUserColumns+` FROM `+s.users()+` ORDER BY created_at DESC, id DESC LIMIT $1`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]User, 0, 16)
	for rows.Next() {
		u, _, err := pgScanUser(rows, false)
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

func (s *PostgresStore) SetPasswordHash(ctx context.Context, userID, hash string, now time.Time) error {
	const op = "identity.SetPasswordHash"

	if strings.TrimSpace(hash) == "" {
		return Error{Op: op, Kind: ErrInvalidInput, Detail: "empty hash"}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.users()+` SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		userID, hash, now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(op)
	}
	return nil
}

func pgScanUser(row pgx.Row, withHash bool) (User, string, error) {
	var (
		u          User
		role       string
		lastClient []byte
		hash       string
	)
	dest := []any{
		&u.ID, &u.Email, &u.EmailNorm, &u.DisplayName, &role, &u.AvatarRef,
		&u.LastLoginAt, &lastClient, &u.CreatedAt, &u.UpdatedAt,
	}
	if withHash {
		dest = append(dest, &hash)
	}
	if err := row.Scan(dest...); err != nil {
		return User{}, "", err
	}
	u.Role = Role(role)
	u.LastClient = decodeClient(lastClient)
	return u, hash, nil
}

func decodeClient(raw []byte) *ClientDescriptor {
	if len(raw) == 0 {
		return nil
	}
	var c ClientDescriptor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil
	}
	return &c
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505"
}
