package storage

import (
	"context"
	"testing"
	"time"
)

func TestOpenSQLite_MigratesIdempotently(t *testing.T) {
	ctx := context.Background()

	db, err := OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	// Second run must be a no-op.
	if err := migrateSQLite(ctx, db); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}

	for _, table := range []string{"users", "active_sessions", "session_log", "expenses"} {
		var n int
		err := db.QueryRowContext(ctx,
			`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&n)
		if err != nil {
			t.Fatalf("lookup %s: %v", table, err)
		}
		if n != 1 {
			t.Fatalf("table %s missing", table)
		}
	}
}

func TestOpenSQLite_ForeignKeysEnforced(t *testing.T) {
	ctx := context.Background()

	db, err := OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	_, err = db.ExecContext(ctx,
		`INSERT INTO expenses (id, user_id, title, amount, category, spent_at, created_at, updated_at)
		 VALUES ('x', 'missing-user', 't', 1, 'c', 0, 0, 0)`)
	if !IsSQLiteForeignKey(err) {
		t.Fatalf("expected foreign key failure, got %v", err)
	}
}

func TestNanosRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 891, time.FixedZone("X", 3600))
	got := FromNanos(Nanos(now))
	if !got.Equal(now) {
		t.Fatalf("got %v want %v", got, now)
	}
	if got.Location() != time.UTC {
		t.Fatalf("expected UTC")
	}
	if FromNullNanos(NullNanos(nil)) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestValidSchema(t *testing.T) {
	if !ValidSchema("spendsync_it_01") {
		t.Fatalf("expected valid")
	}
	if ValidSchema(`x"; DROP`) || ValidSchema("1abc") {
		t.Fatalf("expected invalid")
	}
}
