package session

import "errors"

// Validation outcomes. The request gate maps each to a distinct response.
var (
	// ErrExpiredSignature: the token verified but its expiry is in the past.
	ErrExpiredSignature = errors.New("token expired")

	// ErrBadSignature: the token does not verify or its claims are malformed.
	ErrBadSignature = errors.New("invalid token")

	// ErrNoActiveSession: the token verified but is not the user's current session.
	ErrNoActiveSession = errors.New("session not active")

	// ErrStoreUnavailable: the session store failed or timed out. Callers must deny.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

var (
	// ErrSessionNotFound is returned by stores when the user has no record.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUnknownUser is returned when issuing for a user the store does not know.
	ErrUnknownUser = errors.New("unknown user")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
