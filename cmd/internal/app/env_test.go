package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDotEnv_ExplicitFile(t *testing.T) {
	const key = "SPENDSYNC_TEST_DOTENV_VALUE"
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte(key+"=from-file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv(EnvFileKey, path)

	got, err := LoadDotEnv()
	if err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got != path {
		t.Fatalf("path=%q want %q", got, path)
	}
	if v := os.Getenv(key); v != "from-file" {
		t.Fatalf("%s=%q", key, v)
	}
}

func TestLoadDotEnv_MissingExplicitFileFails(t *testing.T) {
	t.Setenv(EnvFileKey, filepath.Join(t.TempDir(), "nope.env"))
	if _, err := LoadDotEnv(); err == nil {
		t.Fatalf("expected error for missing explicit file")
	}
}

func TestLoadDotEnv_MissingDefaultIsFine(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(EnvFileKey, "")

	got, err := LoadDotEnv()
	if err != nil || got != "" {
		t.Fatalf("LoadDotEnv()=(%q, %v) want (\"\", nil)", got, err)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("SPENDSYNC_TEST_DUR", "nope")
	if got := EnvDuration("SPENDSYNC_TEST_DUR", time.Second); got != time.Second {
		t.Fatalf("EnvDuration=%v", got)
	}
	t.Setenv("SPENDSYNC_TEST_DUR", "250ms")
	if got := EnvDuration("SPENDSYNC_TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("EnvDuration=%v", got)
	}

	t.Setenv("SPENDSYNC_TEST_CSV", " a, ,b ,")
	if got := EnvCSV("SPENDSYNC_TEST_CSV", nil); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("EnvCSV=%v", got)
	}

	t.Setenv("SPENDSYNC_TEST_INT", "-3")
	if got := EnvInt("SPENDSYNC_TEST_INT", 7); got != 7 {
		t.Fatalf("EnvInt=%d", got)
	}
	t.Setenv("SPENDSYNC_TEST_BOOL", "yes")
	if got := EnvBool("SPENDSYNC_TEST_BOOL", true); !got {
		t.Fatalf("EnvBool fallback=%v", got)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{"SPENDSYNC_HTTP_ADDR", "SPENDSYNC_DB_SCHEMA", "SPENDSYNC_LOG_FORMAT", "SPENDSYNC_SQLITE_PATH", "SPENDSYNC_SESSION_SWEEP_INTERVAL"} {
		t.Setenv(k, "")
	}
	cfg := LoadConfig()
	if cfg.HTTPAddr != "0.0.0.0:8080" || cfg.DBSchema != "spendsync" || cfg.LogFormat != "json" || cfg.SQLitePath != "spendsync.db" {
		t.Fatalf("defaults=%+v", cfg)
	}
	if cfg.SessionSweepInterval != 10*time.Minute || !cfg.DBMigrate {
		t.Fatalf("defaults=%+v", cfg)
	}
}

func TestValidateSecurityConfig(t *testing.T) {
	if err := ValidateSecurityConfig(Config{}); err != nil {
		t.Fatalf("not required: %v", err)
	}

	t.Setenv("SPENDSYNC_TOKEN_HMAC_KEY", "")
	if err := ValidateSecurityConfig(Config{RequireTokenHMAC: true}); err == nil {
		t.Fatalf("expected missing-key error")
	}
	t.Setenv("SPENDSYNC_TOKEN_HMAC_KEY", "short")
	if err := ValidateSecurityConfig(Config{RequireTokenHMAC: true}); err == nil {
		t.Fatalf("expected too-short error")
	}
	t.Setenv("SPENDSYNC_TOKEN_HMAC_KEY", "0123456789abcdef0123456789abcdef")
	if err := ValidateSecurityConfig(Config{RequireTokenHMAC: true}); err != nil {
		t.Fatalf("valid key: %v", err)
	}
}

// The server.start log line advertises these URLs for SPENDSYNC_HTTP_ADDR.
func TestAdvertisedURLs(t *testing.T) {
	cases := []struct {
		addr, base, ws string
	}{
		{addr: ":8080", base: "http://127.0.0.1:8080", ws: "ws://127.0.0.1:8080/ws"},
		{addr: "0.0.0.0:8080", base: "http://127.0.0.1:8080", ws: "ws://127.0.0.1:8080/ws"},
		{addr: "[::]:9090", base: "http://127.0.0.1:9090", ws: "ws://127.0.0.1:9090/ws"},
		{addr: "[2001:db8::1]:9090", base: "http://[2001:db8::1]:9090", ws: "ws://[2001:db8::1]:9090/ws"},
		{addr: " sync.local:8443 ", base: "http://sync.local:8443", ws: "ws://sync.local:8443/ws"},
	}
	for _, tc := range cases {
		base := runtimeBaseURL(tc.addr)
		if base != tc.base {
			t.Fatalf("runtimeBaseURL(%q)=%q want %q", tc.addr, base, tc.base)
		}
		if ws := wsBaseURL(base) + "/ws"; ws != tc.ws {
			t.Fatalf("ws url for %q=%q want %q", tc.addr, ws, tc.ws)
		}
	}

	// Behind a TLS proxy the public base is https and sockets must use wss.
	if got := wsBaseURL("https://spendsync.example.com"); got != "wss://spendsync.example.com" {
		t.Fatalf("https base mapped to %q", got)
	}
	if got := wsBaseURL("127.0.0.1:8080"); got != "ws://127.0.0.1:8080" {
		t.Fatalf("bare host mapped to %q", got)
	}
}
