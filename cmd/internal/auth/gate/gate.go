// Package gate is the request gate: every protected HTTP route and the
// WebSocket handshake pass through it.
//
// A request either carries a token that the session authority accepts, in
// which case the Principal is attached to its context, or it is answered
// here. Failures map to distinct responses:
//
//	missing or malformed header   401 missing_token
//	session.ErrExpiredSignature   401 token_expired
//	session.ErrBadSignature       401 invalid_token
//	session.ErrNoActiveSession    401 session_not_active
//	session.ErrStoreUnavailable   503 session_store_unavailable
//	role outside allow-list       403 forbidden
package gate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"spendsync/cmd/identity"
	"spendsync/cmd/internal/auth/session"
	"spendsync/cmd/internal/respond"
)

// Validator is satisfied by *session.Service.
type Validator interface {
	ValidateToken(ctx context.Context, token string, now time.Time) (session.Principal, error)
}

// ErrMissingToken is returned by Authenticate when no bearer token is present.
var ErrMissingToken = errors.New("missing bearer token")

// Gate guards handlers with session validation.
type Gate struct {
	v   Validator
	log *slog.Logger
	now func() time.Time

	allowQueryToken bool
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.log = l
		}
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// WithQueryToken lets Authenticate fall back to the access_token query
// parameter. Browsers cannot set headers on a WebSocket handshake; the gateway
// enables this, ordinary routes do not.
func WithQueryToken() Option {
	return func(g *Gate) { g.allowQueryToken = true }
}

// New constructs a Gate.
func New(v Validator, opts ...Option) *Gate {
	g := &Gate{
		v:   v,
		log: slog.Default(),
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// With returns a copy of g with extra options applied.
func (g *Gate) With(opts ...Option) *Gate {
	cp := *g
	for _, opt := range opts {
		if opt != nil {
			opt(&cp)
		}
	}
	return &cp
}

// Require admits requests that carry a valid session token.
func (g *Gate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := g.Authenticate(r)
		if err != nil {
			g.WriteError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireFunc is Require for a HandlerFunc.
func (g *Gate) RequireFunc(next http.HandlerFunc) http.Handler {
	return g.Require(next)
}

// RequireRoles returns middleware that admits valid sessions whose role is in
// roles. A valid session with another role gets 403; the session stays valid.
func (g *Gate) RequireRoles(roles ...identity.Role) func(http.Handler) http.Handler {
	allowed := make(map[identity.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return g.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := PrincipalFrom(r.Context())
			if _, ok := allowed[p.Role]; !ok {
				g.log.Info("gate.forbidden", "user_id", p.UserID, "role", p.Role, "path", r.URL.Path)
				respond.Error(w, http.StatusForbidden, "forbidden", "role not permitted")
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// Authenticate validates the request's token without writing a response.
// It returns ErrMissingToken or one of the session validation errors.
func (g *Gate) Authenticate(r *http.Request) (session.Principal, error) {
	tok := BearerToken(r)
	if tok == "" && g.allowQueryToken {
		tok = strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	if tok == "" {
		return session.Principal{}, ErrMissingToken
	}
	if g.v == nil {
		return session.Principal{}, session.ErrStoreUnavailable
	}
	return g.v.ValidateToken(r.Context(), tok, g.now().UTC())
}

// WriteError answers a failed Authenticate.
func (g *Gate) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := Classify(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="spendsync", error="invalid_token"`)
	}
	if status == http.StatusServiceUnavailable {
		g.log.Warn("gate.store_unavailable", "path", r.URL.Path, "err", err)
	}
	respond.Error(w, status, code, msg)
}

// Classify maps an Authenticate error to status, code and message.
func Classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, ErrMissingToken):
		return http.StatusUnauthorized, "missing_token", "missing bearer token"
	case errors.Is(err, session.ErrExpiredSignature):
		return http.StatusUnauthorized, "token_expired", "token expired"
	case errors.Is(err, session.ErrNoActiveSession):
		return http.StatusUnauthorized, "session_not_active", "session is no longer active"
	case errors.Is(err, session.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "session_store_unavailable", "please retry later"
	default:
		return http.StatusUnauthorized, "invalid_token", "invalid token"
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type principalKey struct{}

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p session.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal attached by Require.
func PrincipalFrom(ctx context.Context) (session.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(session.Principal)
	return p, ok
}
