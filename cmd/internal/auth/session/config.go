package session

import (
	"os"
	"strings"
	"time"
)

// Token formats accepted by SPENDSYNC_TOKEN_FORMAT.
const (
	FormatPaseto = "paseto"
	FormatJWT    = "jwt"
)

// Config defines runtime configuration for the session authority.
type Config struct {
	// Issuer is the value set in the "iss" claim.
	Issuer string

	// TTL is the lifetime of a session and of its token.
	TTL time.Duration

	// ClockSkew tolerates tokens whose iat is slightly in the future.
	// Expiry is never extended by it.
	ClockSkew time.Duration

	// StoreTimeout bounds every session store call. Exceeding it fails closed.
	StoreTimeout time.Duration

	// TokenFormat is FormatPaseto (default) or FormatJWT.
	TokenFormat string

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key for v4.public tokens.
	PasetoV4SecretKeyHex string

	// JWTSecret is the HS256 key; at least 32 bytes.
	JWTSecret string
}

// DefaultConfig returns development defaults. Keys are never defaulted.
func DefaultConfig() Config {
	return Config{
		Issuer:       "spendsync",
		TTL:          24 * time.Hour,
		ClockSkew:    30 * time.Second,
		StoreTimeout: 2 * time.Second,
		TokenFormat:  FormatPaseto,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required (depending on SPENDSYNC_TOKEN_FORMAT):
//   - SPENDSYNC_PASETO_V4_SECRET_KEY_HEX (paseto)
//   - SPENDSYNC_JWT_SECRET (jwt, >= 32 bytes)
//
// Optional (durations must be valid Go duration strings):
//   - SPENDSYNC_AUTH_ISSUER
//   - SPENDSYNC_SESSION_TTL
//   - SPENDSYNC_AUTH_CLOCK_SKEW
//   - SPENDSYNC_SESSION_STORE_TIMEOUT
//   - SPENDSYNC_TOKEN_FORMAT (paseto|jwt)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("SPENDSYNC_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("SPENDSYNC_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < time.Minute {
			return Config{}, ErrConfig
		}
		cfg.TTL = d
	}

	if v := os.Getenv("SPENDSYNC_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 || d > 5*time.Minute {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := os.Getenv("SPENDSYNC_SESSION_STORE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.StoreTimeout = d
	}

	if v := strings.TrimSpace(os.Getenv("SPENDSYNC_TOKEN_FORMAT")); v != "" {
		cfg.TokenFormat = strings.ToLower(v)
	}

	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("SPENDSYNC_PASETO_V4_SECRET_KEY_HEX"))
	cfg.JWTSecret = strings.TrimSpace(os.Getenv("SPENDSYNC_JWT_SECRET"))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants independent of where the values came from.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" || c.TTL <= 0 || c.StoreTimeout <= 0 || c.ClockSkew < 0 {
		return ErrConfig
	}
	switch c.TokenFormat {
	case FormatPaseto:
		if c.PasetoV4SecretKeyHex == "" {
			return ErrConfig
		}
	case FormatJWT:
		if len(c.JWTSecret) < 32 {
			return ErrConfig
		}
	default:
		return ErrConfig
	}
	return nil
}
