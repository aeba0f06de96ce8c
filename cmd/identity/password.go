package identity

import (
	"sync"

	"spendsync/cmd/security/password"
)

// Password hashing delegates to cmd/security/password so identity never drifts
// from the configured Argon2id parameters and policy.

// HashPassword applies the password policy for the account described by
// accountTerms (email, display name) and returns an Argon2id PHC string.
func HashPassword(plain string, accountTerms ...string) (string, error) {
	cfg, err := password.FromEnv()
	if err != nil {
		return "", err
	}
	return cfg.Hash(plain, accountTerms...)
}

// VerifyPassword checks plain against a stored Argon2id or legacy bcrypt hash.
func VerifyPassword(encoded, plain string) (bool, error) {
	cfg, err := password.FromEnv()
	if err != nil {
		return false, err
	}
	return cfg.Verify(encoded, plain)
}

// PasswordNeedsRehash reports whether a verified hash should be upgraded.
func PasswordNeedsRehash(encoded string) bool {
	cfg, err := password.FromEnv()
	if err != nil {
		return false
	}
	return cfg.NeedsRehash(encoded)
}

// RehashPassword hashes an already-verified secret without re-applying the
// policy, so accounts seeded under an older policy can still be upgraded.
func RehashPassword(plain string) (string, error) {
	cfg, err := password.FromEnv()
	if err != nil {
		return "", err
	}
	return cfg.HashUnchecked(plain)
}

var (
	dummyOnce sync.Once
	dummyHash string
)

// DummyPasswordHash returns a fixed valid hash. Verifying against it for
// unknown accounts keeps login timing independent of whether the email exists.
func DummyPasswordHash() string {
	dummyOnce.Do(func() {
		h, err := RehashPassword("spendsync-dummy-password")
		if err == nil {
			dummyHash = h
		}
	})
	return dummyHash
}
