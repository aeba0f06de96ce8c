package session

import (
	"strings"
	"time"

	"spendsync/cmd/identity"
)

// ClaimsVersion is bumped whenever the claim set changes shape.
const ClaimsVersion = 1

// Claims is the fixed payload carried by every access token.
type Claims struct {
	Version   int
	UserID    string
	Role      identity.Role
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// TokenManager signs and verifies access tokens.
//
// Verify returns ErrBadSignature for anything that does not authenticate or
// has malformed claims, and ErrExpiredSignature only for a genuine token
// whose expiry has passed.
type TokenManager interface {
	Issue(c Claims) (string, error)
	Verify(token string, now time.Time) (Claims, error)
}

// NewTokenManager builds the manager selected by cfg.TokenFormat.
func NewTokenManager(cfg Config) (TokenManager, error) {
	switch cfg.TokenFormat {
	case FormatPaseto, "":
		return NewPasetoV4PublicManager(cfg)
	case FormatJWT:
		return NewJWTManager(cfg)
	default:
		return nil, ErrConfig
	}
}

// check validates decoded claims. Signature checks happen before this.
func (c Claims) check(issuer string, now time.Time, skew time.Duration) error {
	if c.Version != ClaimsVersion {
		return ErrBadSignature
	}
	if c.Issuer != issuer {
		return ErrBadSignature
	}
	if strings.TrimSpace(c.UserID) == "" || strings.TrimSpace(c.SessionID) == "" {
		return ErrBadSignature
	}
	if !c.Role.Valid() {
		return ErrBadSignature
	}
	if c.IssuedAt.IsZero() || c.ExpiresAt.IsZero() || !c.ExpiresAt.After(c.IssuedAt) {
		return ErrBadSignature
	}
	if c.IssuedAt.After(now.Add(skew)) {
		return ErrBadSignature
	}
	if !now.Before(c.ExpiresAt) {
		return ErrExpiredSignature
	}
	return nil
}
