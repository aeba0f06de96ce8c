package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"spendsync/cmd/identity"
	"spendsync/cmd/identity/ids"
	"spendsync/cmd/security/token"
)

// Principal is the authenticated identity attached to a request.
type Principal struct {
	UserID    string
	Role      identity.Role
	SessionID string
	ExpiresAt time.Time
}

// Issued is the result of IssueSession. Token is shown to the client once.
type Issued struct {
	Token     string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Listener is told about session changes after they commit. Callbacks run on
// the caller's goroutine and must not block.
type Listener interface {
	// SessionIssued: sessionID is now the user's only valid session.
	SessionIssued(userID, sessionID string)
	// SessionEnded: the user has no valid session.
	SessionEnded(userID string)
}

// Observer receives counters. Implemented by the metrics package.
type Observer interface {
	SessionIssued()
	SessionsEnded(reason EndReason, n int64)
	TokenValidated(result string)
}

// Validation result labels reported to the Observer.
const (
	ResultValid            = "valid"
	ResultExpired          = "expired"
	ResultBadSignature     = "bad_signature"
	ResultNoActiveSession  = "no_active_session"
	ResultStoreUnavailable = "store_unavailable"
)

// Service implements the session authority operations.
type Service struct {
	cfg    Config
	tokens TokenManager
	store  Store
	hasher token.Hasher

	log      *slog.Logger
	observer Observer

	mu        sync.RWMutex
	listeners []Listener

	// announceMu orders notifications: each one re-reads the store while
	// holding it, so the last notification names the last committed state.
	announceMu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithObserver installs a metrics observer.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithHasher sets the token digest function (default: plain SHA-256).
func WithHasher(h token.Hasher) Option {
	return func(s *Service) { s.hasher = h }
}

// NewService constructs a Service.
func NewService(cfg Config, store Store, tokens TokenManager, opts ...Option) (*Service, error) {
	if store == nil || tokens == nil {
		return nil, ErrConfig
	}
	if cfg.StoreTimeout <= 0 || cfg.TTL <= 0 {
		return nil, ErrConfig
	}
	s := &Service{
		cfg:    cfg,
		tokens: tokens,
		store:  store,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Subscribe registers l for session change notifications.
func (s *Service) Subscribe(l Listener) {
	if l == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// IssueSession mints a token for an already authenticated user and makes it
// the user's only valid session.
//
// The store write is a single transaction; on failure no token is returned and
// any previous session stays in place. On success every earlier token of the
// user fails validation with ErrNoActiveSession.
func (s *Service) IssueSession(ctx context.Context, now time.Time, userID string, role identity.Role, client identity.ClientDescriptor) (Issued, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || !role.Valid() {
		return Issued{}, fmt.Errorf("session: issue: invalid principal")
	}

	// Token timestamps have second precision; keep the record in step.
	now = now.UTC().Truncate(time.Second)
	exp := now.Add(s.cfg.TTL)

	sid, err := ids.NewULID(now)
	if err != nil {
		return Issued{}, err
	}

	tok, err := s.tokens.Issue(Claims{
		Version:   ClaimsVersion,
		UserID:    userID,
		Role:      role,
		SessionID: sid,
		IssuedAt:  now,
		ExpiresAt: exp,
		Issuer:    s.cfg.Issuer,
	})
	if err != nil {
		return Issued{}, fmt.Errorf("session: sign: %w", err)
	}

	rec := Record{
		UserID:    userID,
		SessionID: sid,
		TokenHash: s.hasher.Hex(tok),
		IssuedAt:  now,
		ExpiresAt: exp,
		Client:    client.Normalize(),
	}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.store.Replace(sctx, rec); err != nil {
		if errors.Is(err, ErrUnknownUser) {
			return Issued{}, err
		}
		s.log.Error("session.issue.store_failed", "user_id", userID, "err", err)
		return Issued{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	if s.observer != nil {
		s.observer.SessionIssued()
	}
	s.log.Info("session.issued",
		"user_id", userID,
		"session_id", sid,
		"platform", rec.Client.Platform,
		"expires_at", exp,
	)
	s.announce(ctx, userID, sid)

	return Issued{Token: tok, SessionID: sid, IssuedAt: now, ExpiresAt: exp}, nil
}

// ValidateToken authenticates a bearer token. It never writes.
//
// Order: signature and claims (ErrBadSignature), expiry (ErrExpiredSignature,
// reported even when no record exists), then the user's active record
// (ErrNoActiveSession). A store failure or timeout yields ErrStoreUnavailable.
func (s *Service) ValidateToken(ctx context.Context, tok string, now time.Time) (Principal, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" || len(tok) > 4096 {
		s.observe(ResultBadSignature)
		return Principal{}, ErrBadSignature
	}

	claims, err := s.tokens.Verify(tok, now)
	if err != nil {
		if errors.Is(err, ErrExpiredSignature) {
			s.observe(ResultExpired)
			return Principal{}, ErrExpiredSignature
		}
		s.observe(ResultBadSignature)
		return Principal{}, ErrBadSignature
	}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	rec, err := s.store.Get(sctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.observe(ResultNoActiveSession)
			return Principal{}, ErrNoActiveSession
		}
		s.observe(ResultStoreUnavailable)
		s.log.Warn("session.validate.store_failed", "user_id", claims.UserID, "err", err)
		return Principal{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	if rec.SessionID != claims.SessionID || !s.hasher.Matches(tok, rec.TokenHash) || !rec.Active(now) {
		s.observe(ResultNoActiveSession)
		return Principal{}, ErrNoActiveSession
	}

	s.observe(ResultValid)
	return Principal{
		UserID:    claims.UserID,
		Role:      claims.Role,
		SessionID: claims.SessionID,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// RevokeSession removes the user's session record. It is idempotent: revoking
// a user without a session succeeds.
func (s *Service) RevokeSession(ctx context.Context, now time.Time, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	deleted, err := s.store.Delete(sctx, userID, now.UTC(), EndLogout)
	if err != nil {
		s.log.Error("session.revoke.store_failed", "user_id", userID, "err", err)
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if deleted {
		if s.observer != nil {
			s.observer.SessionsEnded(EndLogout, 1)
		}
		s.log.Info("session.revoked", "user_id", userID)
	}
	s.announce(ctx, userID, "")
	return nil
}

// Sweep deletes expired records. Validation does not depend on it; expired
// records are already rejected lazily.
func (s *Service) Sweep(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, now.UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if s.observer != nil {
			s.observer.SessionsEnded(EndExpired, n)
		}
		s.log.Info("session.sweep", "deleted", n)
	}
	return n, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration, now func() time.Time) {
	if interval <= 0 {
		return
	}
	if now == nil {
		now = time.Now
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.Sweep(ctx, now()); err != nil && ctx.Err() == nil {
				s.log.Warn("session.sweep.failed", "err", err)
			}
		}
	}
}

// History lists the user's recent logins.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]LogEntry, error) {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	out, err := s.store.History(sctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return out, nil
}

func (s *Service) observe(result string) {
	if s.observer != nil {
		s.observer.TokenValidated(result)
	}
}

// announce tells listeners which session of userID is active now. Commits of
// concurrent logins can finish in any order relative to their notifications,
// so the state is read back from the store instead of trusting the caller's
// sid. When the read fails, fallbackSID ("" meaning none) is announced.
func (s *Service) announce(ctx context.Context, userID, fallbackSID string) {
	s.announceMu.Lock()
	defer s.announceMu.Unlock()

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	rec, err := s.store.Get(sctx, userID)
	cancel()

	sid := rec.SessionID
	switch {
	case err == nil:
	case errors.Is(err, ErrSessionNotFound):
		sid = ""
	default:
		s.log.Warn("session.announce.reread_failed", "user_id", userID, "err", err)
		sid = fallbackSID
	}

	if sid == "" {
		s.notify(func(l Listener) { l.SessionEnded(userID) })
		return
	}
	s.notify(func(l Listener) { l.SessionIssued(userID, sid) })
}

func (s *Service) notify(fn func(Listener)) {
	s.mu.RLock()
	ls := make([]Listener, len(s.listeners))
	copy(ls, s.listeners)
	s.mu.RUnlock()

	for _, l := range ls {
		fn(l)
	}
}
