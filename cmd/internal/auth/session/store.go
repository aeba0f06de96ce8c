package session

import (
	"context"
	"time"

	"spendsync/cmd/identity"
)

// EndReason is recorded in the session log when a session stops being active.
type EndReason string

const (
	EndLogout     EndReason = "logout"
	EndSuperseded EndReason = "superseded"
	EndExpired    EndReason = "expired"
)

// Record is the single active-session row of a user.
// TokenHash is a digest; the plain token is never stored.
type Record struct {
	UserID    string
	SessionID string
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Client    identity.ClientDescriptor
}

// Active reports whether the record is still inside its lifetime.
func (r Record) Active(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

// LogEntry is one historical login, newest first in listings.
type LogEntry struct {
	SessionID string
	UserID    string
	Client    identity.ClientDescriptor
	LoginAt   time.Time
	LogoutAt  *time.Time
	EndReason *EndReason
}

// Store persists active sessions and their history.
//
// Implementations must make Replace atomic: after it commits there is exactly
// one record for the user, the previous session's log row is closed with
// EndSuperseded, a log row exists for the new session, and the user's
// last_login_at / last_client reflect the new session. If it fails nothing is
// observable.
type Store interface {
	Replace(ctx context.Context, rec Record) error

	// Get returns ErrSessionNotFound when the user has no record.
	Get(ctx context.Context, userID string) (Record, error)

	// Delete removes the user's record, if any, closing its log row with reason.
	// Deleting a missing record is not an error.
	Delete(ctx context.Context, userID string, now time.Time, reason EndReason) (bool, error)

	// DeleteExpired removes every record whose expiry is not after now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// History lists a user's most recent logins.
	History(ctx context.Context, userID string, limit int) ([]LogEntry, error)
}

func clampHistory(n int) int {
	if n <= 0 || n > 100 {
		return 20
	}
	return n
}
