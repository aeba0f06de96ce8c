package authapi

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	// TrustProxy makes client IPs come from X-Forwarded-For / X-Real-IP.
	TrustProxy   bool
	MaxBodyBytes int64

	// Failed logins allowed per client IP within LoginIPWindow.
	LoginIPMax    int
	LoginIPWindow time.Duration

	// DistinctLoginErrors answers unknown user or wrong password with 400 and
	// a role mismatch with 401 role_mismatch. Off by default: every failure
	// is 401 invalid_credentials so responses do not reveal which emails exist.
	DistinctLoginErrors bool

	// UserListLimit caps GET /users.
	UserListLimit int
}

// LoadConfigFromEnv loads auth config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:          envBool("SPENDSYNC_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:        envInt64("SPENDSYNC_AUTH_MAX_BODY_BYTES", 64<<10),
		LoginIPMax:          envInt("SPENDSYNC_AUTH_LOGIN_IP_MAX", 20),
		LoginIPWindow:       envDuration("SPENDSYNC_AUTH_LOGIN_IP_WINDOW", 5*time.Minute),
		DistinctLoginErrors: envBool("SPENDSYNC_AUTH_DISTINCT_LOGIN_ERRORS", false),
		UserListLimit:       envInt("SPENDSYNC_AUTH_USER_LIST_LIMIT", 200),
	}
	if cfg.UserListLimit > 500 {
		cfg.UserListLimit = 500
	}
	return cfg
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
