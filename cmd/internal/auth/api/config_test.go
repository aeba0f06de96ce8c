package authapi

import (
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg := LoadConfigFromEnv()
	if cfg.DistinctLoginErrors {
		t.Fatalf("distinct login errors must be off by default")
	}
	if cfg.TrustProxy {
		t.Fatalf("proxy headers must not be trusted by default")
	}
	if cfg.LoginIPMax != 20 || cfg.LoginIPWindow != 5*time.Minute {
		t.Fatalf("unexpected throttle defaults: %d/%v", cfg.LoginIPMax, cfg.LoginIPWindow)
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("SPENDSYNC_AUTH_DISTINCT_LOGIN_ERRORS", "true")
	t.Setenv("SPENDSYNC_AUTH_LOGIN_IP_MAX", "3")
	t.Setenv("SPENDSYNC_AUTH_LOGIN_IP_WINDOW", "bogus")
	t.Setenv("SPENDSYNC_AUTH_USER_LIST_LIMIT", "10000")

	cfg := LoadConfigFromEnv()
	if !cfg.DistinctLoginErrors {
		t.Fatalf("expected distinct login errors")
	}
	if cfg.LoginIPMax != 3 {
		t.Fatalf("LoginIPMax=%d", cfg.LoginIPMax)
	}
	if cfg.LoginIPWindow != 5*time.Minute {
		t.Fatalf("invalid duration must fall back, got %v", cfg.LoginIPWindow)
	}
	if cfg.UserListLimit != 500 {
		t.Fatalf("UserListLimit=%d", cfg.UserListLimit)
	}
}
