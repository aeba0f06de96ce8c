package token

import "errors"

// HMACKeyFromEnv failures. Either one means session tokens would be stored
// as plain SHA-256 digests.
var (
	ErrHMACKeyMissing  = errors.New("token: " + HMACEnvKey + " is not set")
	ErrHMACKeyTooShort = errors.New("token: " + HMACEnvKey + " is too short")
)
