package identity

import (
	"context"
	"strings"
	"time"
)

// User is the canonical account record. An account owns expenses and has at
// most one active session.
type User struct {
	ID          string
	Email       string
	EmailNorm   string
	DisplayName string
	Role        Role

	AvatarRef *string

	// Written only by the session authority when a session is issued.
	LastLoginAt *time.Time
	LastClient  *ClientDescriptor

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Credentials pairs a user with the stored password hash.
// The hash never leaves the login path.
type Credentials struct {
	User         User
	PasswordHash string
}

// ClientDescriptor identifies the device a session was issued to.
type ClientDescriptor struct {
	Platform  string `json:"platform"`
	Device    string `json:"device,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	IP        string `json:"ip,omitempty"`
}

var knownPlatforms = map[string]struct{}{
	"web": {}, "ios": {}, "android": {}, "desktop": {}, "cli": {}, "unknown": {},
}

// Normalize returns a bounded copy suitable for storage.
func (c ClientDescriptor) Normalize() ClientDescriptor {
	p := strings.ToLower(strings.TrimSpace(c.Platform))
	if _, ok := knownPlatforms[p]; !ok {
		p = "unknown"
	}
	return ClientDescriptor{
		Platform:  p,
		Device:    clip(strings.TrimSpace(c.Device), 128),
		UserAgent: clip(strings.TrimSpace(c.UserAgent), 512),
		IP:        clip(strings.TrimSpace(c.IP), 64),
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// CreateUserInput describes a new account. Registration happens out of band
// (admin CLI); there is no public sign-up endpoint.
type CreateUserInput struct {
	Email       string
	DisplayName string
	Password    string
	Role        Role
	AvatarRef   *string
	Now         time.Time
}

// Store is the credential persistence boundary.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUser(ctx context.Context, userID string) (User, error)

	// GetCredentialsByEmail returns ErrNotFound for unknown addresses.
	GetCredentialsByEmail(ctx context.Context, email string) (Credentials, error)

	// ListUsers returns users ordered by creation time, newest first.
	ListUsers(ctx context.Context, limit int) ([]User, error)

	// SetPasswordHash replaces the stored hash (used to upgrade legacy hashes).
	SetPasswordHash(ctx context.Context, userID, hash string, now time.Time) error
}

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultListLimit
	case n > maxListLimit:
		return maxListLimit
	default:
		return n
	}
}

// prepareCreate validates input and hashes the password.
func prepareCreate(op string, in CreateUserInput) (CreateUserInput, string, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.DisplayName = strings.TrimSpace(in.DisplayName)

	if !looksLikeEmail(in.Email) {
		return in, "", Error{Op: op, Kind: ErrInvalidInput, Detail: "valid email is required"}
	}
	if !in.Role.Valid() {
		return in, "", Error{Op: op, Kind: ErrInvalidRole, Detail: string(in.Role)}
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	hash, err := HashPassword(in.Password, in.Email, in.DisplayName)
	if err != nil {
		return in, "", Error{Op: op, Kind: ErrInvalidInput, Cause: err}
	}
	return in, hash, nil
}
