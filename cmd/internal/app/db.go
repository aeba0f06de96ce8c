package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"spendsync/cmd/identity"
	"spendsync/cmd/internal/auth/session"
	"spendsync/cmd/internal/expense"
	"spendsync/cmd/internal/storage"
)

// NewDBPool builds a pgxpool with sane defaults and validates connectivity.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// stores bundles the persistence layer the server runs on. ping backs
// /readyz; close releases the pool or database handle.
type stores struct {
	backend  string
	users    identity.Store
	sessions session.Store
	expenses expense.Store
	ping     func(ctx context.Context) error
	close    func()
}

// openStores selects Postgres when DatabaseURL is set, otherwise the
// embedded SQLite file at SQLitePath.
func openStores(ctx context.Context, cfg Config, log Logger) (stores, error) {
	if cfg.DatabaseURL == "" {
		return openSQLiteStores(ctx, cfg, log)
	}
	return openPostgresStores(ctx, cfg, log)
}

func openPostgresStores(ctx context.Context, cfg Config, log Logger) (stores, error) {
	if !storage.ValidSchema(cfg.DBSchema) {
		return stores{}, fmt.Errorf("db: invalid schema name %q", cfg.DBSchema)
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return stores{}, fmt.Errorf("db: connect: %w", err)
	}

	if cfg.DBMigrate {
		if err := storage.ApplyPostgres(ctx, pool, cfg.DBSchema); err != nil {
			pool.Close()
			return stores{}, fmt.Errorf("db: migrate: %w", err)
		}
	}

	users, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return stores{}, err
	}
	sess, err := session.NewPostgresStore(pool, cfg.DBSchema)
	if err != nil {
		pool.Close()
		return stores{}, err
	}
	exp, err := expense.NewPostgresStore(pool, cfg.DBSchema)
	if err != nil {
		pool.Close()
		return stores{}, err
	}

	log.Info("db.enabled.postgres", "schema", cfg.DBSchema, "migrate", cfg.DBMigrate)

	return stores{
		backend:  "postgres",
		users:    users,
		sessions: sess,
		expenses: exp,
		ping: func(ctx context.Context) error {
			return PingDB(ctx, pool, 2*time.Second)
		},
		close: pool.Close,
	}, nil
}

func openSQLiteStores(ctx context.Context, cfg Config, log Logger) (stores, error) {
	db, err := storage.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return stores{}, fmt.Errorf("db: open sqlite: %w", err)
	}

	st, err := sqliteStores(db)
	if err != nil {
		_ = db.Close()
		return stores{}, err
	}

	log.Info("db.enabled.sqlite", "path", cfg.SQLitePath)
	return st, nil
}

func sqliteStores(db *sql.DB) (stores, error) {
	users, err := identity.NewSQLiteStore(db)
	if err != nil {
		return stores{}, err
	}
	sess, err := session.NewSQLiteStore(db)
	if err != nil {
		return stores{}, err
	}
	exp, err := expense.NewSQLiteStore(db)
	if err != nil {
		return stores{}, err
	}

	return stores{
		backend:  "sqlite",
		users:    users,
		sessions: sess,
		expenses: exp,
		ping: func(ctx context.Context) error {
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return db.PingContext(pctx)
		},
		close: func() { _ = db.Close() },
	}, nil
}
