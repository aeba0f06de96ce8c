package session

import (
	"errors"
	"strings"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"spendsync/cmd/identity"
)

func testPasetoConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	return cfg
}

func testJWTConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TokenFormat = FormatJWT
	cfg.JWTSecret = strings.Repeat("s", 40)
	return cfg
}

func sampleClaims(now time.Time, ttl time.Duration) Claims {
	now = now.UTC().Truncate(time.Second)
	return Claims{
		Version:   ClaimsVersion,
		UserID:    "01HZZZZZZZZZZZZZZZZZZZZZZZ",
		Role:      identity.RoleManager,
		SessionID: "01HYYYYYYYYYYYYYYYYYYYYYYY",
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
		Issuer:    "spendsync",
	}
}

func TestTokenManagers(t *testing.T) {
	cases := map[string]func(*testing.T) Config{
		"paseto": testPasetoConfig,
		"jwt":    testJWTConfig,
	}

	for name, mkCfg := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := mkCfg(t)
			mgr, err := NewTokenManager(cfg)
			if err != nil {
				t.Fatalf("NewTokenManager: %v", err)
			}

			now := time.Now().UTC()
			in := sampleClaims(now, time.Hour)
			tok, err := mgr.Issue(in)
			if err != nil {
				t.Fatalf("Issue: %v", err)
			}

			t.Run("valid", func(t *testing.T) {
				got, err := mgr.Verify(tok, now.Add(time.Second))
				if err != nil {
					t.Fatalf("Verify: %v", err)
				}
				if got.UserID != in.UserID || got.SessionID != in.SessionID || got.Role != in.Role {
					t.Fatalf("claims mismatch: %+v", got)
				}
				if !got.ExpiresAt.Equal(in.ExpiresAt) || got.Version != ClaimsVersion {
					t.Fatalf("claims mismatch: %+v", got)
				}
			})

			t.Run("expired is distinct from bad", func(t *testing.T) {
				_, err := mgr.Verify(tok, in.ExpiresAt)
				if !errors.Is(err, ErrExpiredSignature) {
					t.Fatalf("expected ErrExpiredSignature, got %v", err)
				}
			})

			t.Run("tampered", func(t *testing.T) {
				bad := tok[:len(tok)-4] + flip(tok[len(tok)-4:])
				if _, err := mgr.Verify(bad, now); !errors.Is(err, ErrBadSignature) {
					t.Fatalf("expected ErrBadSignature, got %v", err)
				}
			})

			t.Run("garbage", func(t *testing.T) {
				if _, err := mgr.Verify("not-a-token", now); !errors.Is(err, ErrBadSignature) {
					t.Fatalf("expected ErrBadSignature, got %v", err)
				}
			})

			t.Run("other key", func(t *testing.T) {
				other, err := NewTokenManager(mkCfg(t))
				if err != nil {
					t.Fatalf("NewTokenManager: %v", err)
				}
				if _, err := other.Verify(tok, now); !errors.Is(err, ErrBadSignature) {
					t.Fatalf("expected ErrBadSignature, got %v", err)
				}
			})

			t.Run("expired token from other key is bad, not expired", func(t *testing.T) {
				other, _ := NewTokenManager(mkCfg(t))
				old, err := other.Issue(sampleClaims(now.Add(-3*time.Hour), time.Hour))
				if err != nil {
					t.Fatalf("Issue: %v", err)
				}
				if _, err := mgr.Verify(old, now); !errors.Is(err, ErrBadSignature) {
					t.Fatalf("expected ErrBadSignature, got %v", err)
				}
			})

			t.Run("issued in the future", func(t *testing.T) {
				future, err := mgr.Issue(sampleClaims(now.Add(time.Hour), time.Hour))
				if err != nil {
					t.Fatalf("Issue: %v", err)
				}
				if _, err := mgr.Verify(future, now); !errors.Is(err, ErrBadSignature) {
					t.Fatalf("expected ErrBadSignature, got %v", err)
				}
			})

			t.Run("unknown role", func(t *testing.T) {
				c := sampleClaims(now, time.Hour)
				c.Role = "owner"
				odd, err := mgr.Issue(c)
				if err != nil {
					t.Fatalf("Issue: %v", err)
				}
				if _, err := mgr.Verify(odd, now); !errors.Is(err, ErrBadSignature) {
					t.Fatalf("expected ErrBadSignature, got %v", err)
				}
			})
		})
	}
}

func TestTokenManagers_IssuerMismatch(t *testing.T) {
	cfg := testPasetoConfig(t)
	mgr, err := NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	now := time.Now()
	tok, err := mgr.Issue(sampleClaims(now, time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	cfg.Issuer = "someone-else"
	verifier, err := NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := verifier.Verify(tok, now); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestNewJWTManager_ShortSecret(t *testing.T) {
	cfg := testJWTConfig(t)
	cfg.JWTSecret = "short"
	if _, err := NewJWTManager(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func flip(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] == 'A' {
			b[i] = 'B'
		} else {
			b[i] = 'A'
		}
	}
	return string(b)
}
