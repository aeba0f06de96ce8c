// Package sessiontest builds a working credential store and session authority
// over an in-memory SQLite database for handler and gateway tests.
package sessiontest

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"spendsync/cmd/identity"
	"spendsync/cmd/internal/auth/session"
	"spendsync/cmd/internal/storage/storagetest"
	"spendsync/cmd/security/token"
)

// Env is a ready-to-use authority.
type Env struct {
	DB       *sql.DB
	Users    *identity.SQLiteStore
	Store    *session.SQLiteStore
	Sessions *session.Service
	Config   session.Config
}

// CheapArgon lowers Argon2id cost so tests hashing passwords stay fast.
func CheapArgon(t testing.TB) {
	t.Helper()
	t.Setenv("SPENDSYNC_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("SPENDSYNC_ARGON2_ITERATIONS", "1")
	t.Setenv("SPENDSYNC_ARGON2_PARALLELISM", "1")
}

// New returns an Env with a fresh database and a PASETO key.
func New(t testing.TB, opts ...session.Option) Env {
	t.Helper()
	CheapArgon(t)

	cfg := session.DefaultConfig()
	cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()

	tokens, err := session.NewTokenManager(cfg)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}

	db := storagetest.SQLite(t)
	users, err := identity.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("identity store: %v", err)
	}
	st, err := session.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("session store: %v", err)
	}

	opts = append([]session.Option{session.WithHasher(token.NewHasher([]byte(strings.Repeat("k", 32))))}, opts...)
	svc, err := session.NewService(cfg, st, tokens, opts...)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return Env{DB: db, Users: users, Store: st, Sessions: svc, Config: cfg}
}

// CreateUser stores an account with the given password.
func (e Env) CreateUser(t testing.TB, email, password string, role identity.Role) identity.User {
	t.Helper()

	u, err := e.Users.CreateUser(context.Background(), identity.CreateUserInput{
		Email:       email,
		DisplayName: strings.SplitN(email, "@", 2)[0],
		Password:    password,
		Role:        role,
		Now:         time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

// Login issues a session for u as if it had just authenticated.
func (e Env) Login(t testing.TB, u identity.User, platform string) session.Issued {
	t.Helper()

	iss, err := e.Sessions.IssueSession(context.Background(), time.Now(), u.ID, u.Role,
		identity.ClientDescriptor{Platform: platform, Device: platform + "-device"})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return iss
}
