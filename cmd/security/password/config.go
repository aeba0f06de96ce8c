package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams is the hashing cost. MemoryKiB is in KiB, as argon2.IDKey
// expects.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy decides which secrets an account may be created with. It is only
// applied when a password is set (spendsync-adduser, identity.CreateUser);
// login verifies whatever hash is stored.
type Policy struct {
	MinLength int
	MaxLength int

	// RejectVeryWeak refuses secrets from a short list of trivial shapes:
	// one repeated character, digits only, keyboard or alphabet runs, and
	// common words such as "password" or "expenses" with a numeric suffix.
	RejectVeryWeak bool

	// RejectAccountTerms refuses secrets that contain the account's own
	// email local part or display name.
	RejectAccountTerms bool
}

// Config bundles hashing cost and policy.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig is tuned for interactive logins on a small server: 64 MiB,
// three passes, and at most four lanes.
func DefaultConfig() Config {
	lanes := runtime.NumCPU()
	if lanes < 1 {
		lanes = 1
	}
	if lanes > 4 {
		lanes = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(lanes), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:          12,
			MaxLength:          256,
			RejectVeryWeak:     true,
			RejectAccountTerms: true,
		},
	}
}

// envSetting binds one SPENDSYNC_ variable to a Config field.
type envSetting struct {
	key   string
	parse func(cfg *Config, raw string) error
}

func intSetting(key string, lo, hi int, dst func(*Config) *int) envSetting {
	return envSetting{key: key, parse: func(cfg *Config, raw string) error {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("not an integer")
		}
		if n < lo || n > hi {
			return fmt.Errorf("out of range [%d..%d]", lo, hi)
		}
		*dst(cfg) = n
		return nil
	}}
}

func uintSetting(key string, lo, hi uint32, set func(*Config, uint32)) envSetting {
	return envSetting{key: key, parse: func(cfg *Config, raw string) error {
		u, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
		if err != nil {
			return fmt.Errorf("not an unsigned integer")
		}
		if uint32(u) < lo || uint32(u) > hi {
			return fmt.Errorf("out of range [%d..%d]", lo, hi)
		}
		set(cfg, uint32(u))
		return nil
	}}
}

func boolSetting(key string, dst func(*Config) *bool) envSetting {
	return envSetting{key: key, parse: func(cfg *Config, raw string) error {
		b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(raw)))
		if err != nil {
			switch strings.ToLower(strings.TrimSpace(raw)) {
			case "yes", "on":
				b = true
			case "no", "off":
				b = false
			default:
				return fmt.Errorf("invalid boolean")
			}
		}
		*dst(cfg) = b
		return nil
	}}
}

var envSettings = []envSetting{
	intSetting("SPENDSYNC_PASSWORD_MIN_LEN", 8, 1024, func(c *Config) *int { return &c.Policy.MinLength }),
	intSetting("SPENDSYNC_PASSWORD_MAX_LEN", 8, 4096, func(c *Config) *int { return &c.Policy.MaxLength }),
	boolSetting("SPENDSYNC_PASSWORD_REJECT_VERY_WEAK", func(c *Config) *bool { return &c.Policy.RejectVeryWeak }),
	boolSetting("SPENDSYNC_PASSWORD_REJECT_ACCOUNT_TERMS", func(c *Config) *bool { return &c.Policy.RejectAccountTerms }),
	uintSetting("SPENDSYNC_ARGON2_MEMORY_KIB", 8*1024, 1024*1024, func(c *Config, u uint32) { c.Params.MemoryKiB = u }),
	uintSetting("SPENDSYNC_ARGON2_ITERATIONS", 1, 20, func(c *Config, u uint32) { c.Params.Iterations = u }),
	uintSetting("SPENDSYNC_ARGON2_PARALLELISM", 1, math.MaxUint8, func(c *Config, u uint32) {
		c.Params.Parallelism = uint8(u) // #nosec G115 -- bounded by the range check.
	}),
	uintSetting("SPENDSYNC_ARGON2_SALT_LEN", 8, 64, func(c *Config, u uint32) { c.Params.SaltLength = u }),
	uintSetting("SPENDSYNC_ARGON2_KEY_LEN", 16, 64, func(c *Config, u uint32) { c.Params.KeyLength = u }),
}

// FromEnv starts from DefaultConfig and applies every SPENDSYNC_PASSWORD_* and
// SPENDSYNC_ARGON2_* variable that is set. Unset variables keep the default;
// a malformed one is an error naming the variable.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	for _, s := range envSettings {
		raw, ok := os.LookupEnv(s.key)
		if !ok {
			continue
		}
		if err := s.parse(&cfg, raw); err != nil {
			return Config{}, fmt.Errorf("%s: %w", s.key, err)
		}
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf("password policy: min length %d exceeds max length %d",
			cfg.Policy.MinLength, cfg.Policy.MaxLength)
	}
	return cfg, nil
}
