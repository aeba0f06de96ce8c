// Package authapi exposes the login, logout and account endpoints.
package authapi

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"spendsync/cmd/identity"
	"spendsync/cmd/internal/auth/gate"
	"spendsync/cmd/internal/auth/session"
	"spendsync/cmd/internal/ratelimit"
	"spendsync/cmd/internal/respond"
)

// Login failure reasons, as recorded in audit events.
const (
	reasonUnknownUser  = "unknown_user"
	reasonBadPassword  = "bad_password"
	reasonRoleMismatch = "role_mismatch"
)

// Handler wires HTTP auth endpoints to the credential store and session authority.
type Handler struct {
	log *slog.Logger
	cfg Config

	users    identity.Store
	sessions *session.Service
	gate     *gate.Gate

	loginIP *ratelimit.Keyed
	now     func() time.Time
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, users identity.Store, sessions *session.Service, g *gate.Gate, opts ...HandlerOption) (*Handler, error) {
	if users == nil || sessions == nil || g == nil {
		return nil, errors.New("auth: missing dependency")
	}
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		users:    users,
		sessions: sessions,
		gate:     g,
		now:      time.Now,
	}
	if cfg.LoginIPMax > 0 {
		h.loginIP = ratelimit.NewKeyed(cfg.LoginIPMax, cfg.LoginIPWindow)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	// Warm the dummy hash so the first unknown-user login is not measurably faster.
	_ = identity.DummyPasswordHash()
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.Handle("POST /auth/logout", h.gate.RequireFunc(h.handleLogout))
	mux.Handle("GET /me", h.gate.RequireFunc(h.handleMe))
	mux.Handle("GET /users", h.gate.RequireRoles(identity.RoleAdmin, identity.RoleManager)(http.HandlerFunc(h.handleUsers)))
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := respond.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		respond.Error(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid_request", "role must be one of viewer, manager, admin")
		return
	}

	ctx := r.Context()
	now := h.now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	if blocked, retryAfter := h.checkLoginIPThrottle(ip, now); blocked {
		h.auditLoginRateLimited(ctx, ip, ua, email, retryAfter)
		respond.RateLimited(w, retryAfter)
		return
	}

	creds, err := h.users.GetCredentialsByEmail(ctx, email)
	if err != nil {
		if !identity.IsNotFound(err) {
			h.log.Error("auth.login.lookup.fail", "err", err)
			respond.Error(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		// Timing resistance: verify against a dummy hash when the user is missing.
		_, _ = identity.VerifyPassword(identity.DummyPasswordHash(), req.Password)
		h.rejectLogin(w, r, "", ip, ua, email, reasonUnknownUser)
		return
	}

	okPw, err := identity.VerifyPassword(creds.PasswordHash, req.Password)
	if err != nil || !okPw {
		h.rejectLogin(w, r, creds.User.ID, ip, ua, email, reasonBadPassword)
		return
	}

	// The claimed role must match the stored one; it is never substituted.
	if role != creds.User.Role {
		h.rejectLogin(w, r, creds.User.ID, ip, ua, email, reasonRoleMismatch)
		return
	}

	client := identity.ClientDescriptor{UserAgent: ua, IP: ipString(ip)}
	if req.Client != nil {
		client.Platform = req.Client.Platform
		client.Device = req.Client.Device
	}

	issued, err := h.sessions.IssueSession(ctx, now, creds.User.ID, creds.User.Role, client)
	if err != nil {
		if errors.Is(err, session.ErrStoreUnavailable) {
			respond.Error(w, http.StatusServiceUnavailable, "session_store_unavailable", "please retry later")
			return
		}
		h.log.Error("auth.login.issue_session.fail", "err", err)
		respond.Error(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.maybeRehash(r, creds, req.Password, now)
	h.auditLoginSuccess(ctx, creds.User.ID, issued.SessionID, ip, ua, client.Normalize().Platform)

	// The profile in the response reflects this login.
	u := creds.User
	loginAt := issued.IssuedAt
	lc := client.Normalize()
	u.LastLoginAt = &loginAt
	u.LastClient = &lc

	respond.JSON(w, http.StatusOK, loginResponse{
		Token:     issued.Token,
		TokenType: "Bearer",
		ExpiresAt: issued.ExpiresAt,
		UserID:    u.ID,
		Role:      u.Role.String(),
		SessionID: issued.SessionID,
		User:      toUserResponse(u),
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	p, _ := gate.PrincipalFrom(r.Context())

	ctx := r.Context()
	if err := h.sessions.RevokeSession(ctx, h.now(), p.UserID); err != nil {
		h.log.Error("auth.logout.fail", "err", err)
		respond.Error(w, http.StatusServiceUnavailable, "session_store_unavailable", "please retry later")
		return
	}

	h.auditLogout(ctx, p.UserID, p.SessionID, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := gate.PrincipalFrom(r.Context())

	ctx := r.Context()
	u, err := h.users.GetUser(ctx, p.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			respond.Error(w, http.StatusUnauthorized, "not_found", "user not found")
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		respond.Error(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	resp := meResponse{User: toUserResponse(u), SessionID: p.SessionID, ExpiresAt: p.ExpiresAt}
	if r.URL.Query().Get("include") == "logins" {
		logins, err := h.sessions.History(ctx, p.UserID, 20)
		if err != nil {
			h.log.Warn("auth.me.history.fail", "err", err)
		}
		for _, e := range logins {
			resp.Logins = append(resp.Logins, toSessionLogResponse(e))
		}
	}
	respond.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.users.ListUsers(r.Context(), h.cfg.UserListLimit)
	if err != nil {
		h.log.Error("auth.users.fail", "err", err)
		respond.Error(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	out := usersResponse{Users: make([]userResponse, 0, len(list))}
	for _, u := range list {
		out.Users = append(out.Users, toUserResponse(u))
	}
	respond.JSON(w, http.StatusOK, out)
}

// ---- helpers ----

func (h *Handler) rejectLogin(w http.ResponseWriter, r *http.Request, userID string, ip net.IP, ua, email, reason string) {
	h.recordLoginFailure(ip, h.now().UTC())
	h.auditLoginFailed(r.Context(), userID, ip, ua, email, reason)

	if !h.cfg.DistinctLoginErrors {
		respond.Error(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}
	if reason == reasonRoleMismatch {
		respond.Error(w, http.StatusUnauthorized, "role_mismatch", "unauthorized role")
		return
	}
	respond.Error(w, http.StatusBadRequest, "invalid_credentials", "invalid credentials")
}

// maybeRehash upgrades bcrypt or outdated Argon2id hashes after a successful
// login. Failure only delays the upgrade to the next login.
func (h *Handler) maybeRehash(r *http.Request, creds identity.Credentials, plain string, now time.Time) {
	if !identity.PasswordNeedsRehash(creds.PasswordHash) {
		return
	}
	hash, err := identity.RehashPassword(plain)
	if err != nil {
		h.log.Warn("auth.login.rehash.fail", "user_id", creds.User.ID, "err", err)
		return
	}
	if err := h.users.SetPasswordHash(r.Context(), creds.User.ID, hash, now); err != nil {
		h.log.Warn("auth.login.rehash.store_fail", "user_id", creds.User.ID, "err", err)
		return
	}
	h.log.Info("auth.login.rehashed", "user_id", creds.User.ID)
}
