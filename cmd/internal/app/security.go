package app

import (
	"errors"
	"fmt"

	"spendsync/cmd/security/token"
)

// ValidateSecurityConfig enforces the token hashing policy at startup.
// Fails fast rather than falling back to unkeyed digests.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	h, err := token.HasherFromEnv(true, token.MinHMACKeyBytes)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return fmt.Errorf("security policy: SPENDSYNC_REQUIRE_TOKEN_HMAC=true but %s is missing", token.HMACEnvKey)
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return fmt.Errorf("security policy: SPENDSYNC_REQUIRE_TOKEN_HMAC=true but %s is too short (min %d bytes)", token.HMACEnvKey, token.MinHMACKeyBytes)
		default:
			return err
		}
	}

	if !h.Keyed() {
		return errors.New("security policy: SPENDSYNC_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}
	return nil
}
