package expense

import (
	"context"
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

// PostgresStore implements Store using PostgreSQL. The pool is owned by the
// caller.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore creates a store over the expenses table in schema
// (storage.DefaultSchema when empty).
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("expense: nil pool")
	}
	if schema == "" {
		schema = storage.DefaultSchema
	}
	if !storage.ValidSchema(schema) {
		return nil, fmt.Errorf("expense: invalid schema identifier")
	}
	return &PostgresStore{pool: pool, table: storage.Ident(schema, "expenses")}, nil
}

func (s *PostgresStore) Create(ctx context.Context, userID string, in Input, now time.Time) (Expense, error) {
	const op = "expense.Create"

	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return Expense{}, err
	}
	now = now.UTC().Truncate(time.Microsecond)
	id, err := ids.NewULID(now)
	if err != nil {
		return Expense{}, err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table+` (id, user_id, title, amount, category, spent_at, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $7)
		 RETURNING `+expenseColumns,
		id, strings.TrimSpace(userID), in.Title, in.Amount, in.Category, in.Date, now,
	)
	e, err := pgScan(row)
	if err != nil {
		if pgIsForeignKeyViolation(err) {
			return Expense{}, fmt.Errorf("%s: unknown user: %w", op, ErrNotFound)
		}
		return Expense{}, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

func (s *PostgresStore) Get(ctx context.Context, userID, id string) (Expense, error) {
	const op = "expense.Get"

	row := s.pool.QueryRow(ctx,
		`SELECT `+expenseColumns+` FROM `+s.table+` WHERE id = $1 AND user_id = $2`,
		strings.TrimSpace(id), strings.TrimSpace(userID),
	)
	e, err := pgScan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Expense{}, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return Expense{}, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

func (s *PostgresStore) List(ctx context.Context, userID string, f Filter) ([]Expense, error) {
	const op = "expense.List"

	q := `SELECT ` + expenseColumns + ` FROM ` + s.table + ` WHERE user_id = $1`
	args := []any{strings.TrimSpace(userID)}
	if c := strings.TrimSpace(f.Category); c != "" {
		args = append(args, c)
		q += fmt.Sprintf(` AND category = $%d`, len(args))
	}
	if start, end, ok := f.dayBounds(); ok {
		args = append(args, start, end)
		q += fmt.Sprintf(` AND spent_at >= $%d AND spent_at < $%d`, len(args)-1, len(args))
	}
	q += ` ORDER BY spent_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []Expense{}
	for rows.Next() {
		e, err := pgScan(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *PostgresStore) Update(ctx context.Context, userID, id string, in Input, expectedVersion int64, now time.Time) (Expense, error) {
	const op = "expense.Update"

	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return Expense{}, err
	}
	now = now.UTC().Truncate(time.Microsecond)
	userID, id = strings.TrimSpace(userID), strings.TrimSpace(id)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Expense{}, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current int64
	err = tx.QueryRow(ctx,
		`SELECT version FROM `+s.table+` WHERE id = $1 AND user_id = $2 FOR UPDATE`, id, userID,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return Expense{}, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return Expense{}, fmt.Errorf("%s: %w", op, err)
	}
	if expectedVersion > 0 && expectedVersion != current {
		return Expense{}, fmt.Errorf("%s: have %d: %w", op, current, ErrVersionConflict)
	}

	row := tx.QueryRow(ctx,
		`UPDATE `+s.table+`
		    SET title = $1, amount = $2, category = $3, spent_at = $4, version = version + 1, updated_at = $5
		  WHERE id = $6 AND user_id = $7
		RETURNING `+expenseColumns,
		in.Title, in.Amount, in.Category, in.Date, now, id, userID,
	)
	e, err := pgScan(row)
	if err != nil {
		return Expense{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Expense{}, fmt.Errorf("%s: commit: %w", op, err)
	}
	return e, nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID, id string) error {
	const op = "expense.Delete"

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.table+` WHERE id = $1 AND user_id = $2`,
		strings.TrimSpace(id), strings.TrimSpace(userID),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func pgScan(r pgx.Row) (Expense, error) {
	var e Expense
	if err := r.Scan(&e.ID, &e.UserID, &e.Title, &e.Amount, &e.Category, &e.Date, &e.Version, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return Expense{}, err
	}
	e.Date = e.Date.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
