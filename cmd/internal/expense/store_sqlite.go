package expense

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

// SQLiteStore implements Store over a database opened with storage.OpenSQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db. The caller owns db.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("expense: nil db")
	}
	return &SQLiteStore{db: db}, nil
}

const expenseColumns = `id, user_id, title, amount, category, spent_at, version, created_at, updated_at`

func (s *SQLiteStore) Create(ctx context.Context, userID string, in Input, now time.Time) (Expense, error) {
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

	e := Expense{
		ID:        id,
		UserID:    strings.TrimSpace(userID),
		Title:     in.Title,
		Amount:    in.Amount,
		Category:  in.Category,
		Date:      in.Date.Truncate(time.Microsecond),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO expenses (`+expenseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Title, e.Amount, e.Category,
		storage.Nanos(e.Date), e.Version, storage.Nanos(e.CreatedAt), storage.Nanos(e.UpdatedAt),
	)
	if err != nil {
		if storage.IsSQLiteForeignKey(err) {
			return Expense{}, fmt.Errorf("%s: unknown user: %w", op, ErrNotFound)
		}
		return Expense{}, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

func (s *SQLiteStore) Get(ctx context.Context, userID, id string) (Expense, error) {
	const op = "expense.Get"

	row := s.db.QueryRowContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE id = ? AND user_id = ?`,
		strings.TrimSpace(id), strings.TrimSpace(userID),
	)
	e, err := sqliteScan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Expense{}, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return Expense{}, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

func (s *SQLiteStore) List(ctx context.Context, userID string, f Filter) ([]Expense, error) {
	const op = "expense.List"

	q := `SELECT ` + expenseColumns + ` FROM expenses WHERE user_id = ?`
	args := []any{strings.TrimSpace(userID)}
	if c := strings.TrimSpace(f.Category); c != "" {
		q += ` AND category = ?`
		args = append(args, c)
	}
	if start, end, ok := f.dayBounds(); ok {
		q += ` AND spent_at >= ? AND spent_at < ?`
		args = append(args, storage.Nanos(start), storage.Nanos(end))
	}
	q += ` ORDER BY spent_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []Expense{}
	for rows.Next() {
		e, err := sqliteScan(rows)
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

func (s *SQLiteStore) Update(ctx context.Context, userID, id string, in Input, expectedVersion int64, now time.Time) (Expense, error) {
	const op = "expense.Update"

	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return Expense{}, err
	}
	now = now.UTC().Truncate(time.Microsecond)
	userID, id = strings.TrimSpace(userID), strings.TrimSpace(id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Expense{}, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM expenses WHERE id = ? AND user_id = ?`, id, userID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return Expense{}, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return Expense{}, fmt.Errorf("%s: %w", op, err)
	}
	if expectedVersion > 0 && expectedVersion != current {
		return Expense{}, fmt.Errorf("%s: have %d: %w", op, current, ErrVersionConflict)
	}

	row := tx.QueryRowContext(ctx,
		`UPDATE expenses
		    SET title = ?, amount = ?, category = ?, spent_at = ?, version = version + 1, updated_at = ?
		  WHERE id = ? AND user_id = ?
		RETURNING `+expenseColumns,
		in.Title, in.Amount, in.Category, storage.Nanos(in.Date.Truncate(time.Microsecond)), storage.Nanos(now),
		id, userID,
	)
	e, err := sqliteScan(row)
	if err != nil {
		return Expense{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return Expense{}, fmt.Errorf("%s: commit: %w", op, err)
	}
	return e, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, userID, id string) error {
	const op = "expense.Delete"

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM expenses WHERE id = ? AND user_id = ?`,
		strings.TrimSpace(id), strings.TrimSpace(userID),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func sqliteScan(r rowScanner) (Expense, error) {
	var (
		e                       Expense
		spent, created, updated int64
	)
	if err := r.Scan(&e.ID, &e.UserID, &e.Title, &e.Amount, &e.Category, &spent, &e.Version, &created, &updated); err != nil {
		return Expense{}, err
	}
	e.Date = storage.FromNanos(spent)
	e.CreatedAt = storage.FromNanos(created)
	e.UpdatedAt = storage.FromNanos(updated)
	return e, nil
}
