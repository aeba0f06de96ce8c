package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"spendsync/cmd/identity"
	"spendsync/cmd/internal/auth/session"
	"spendsync/cmd/internal/auth/session/sessiontest"
	"spendsync/cmd/internal/respond"
)

type stubValidator struct {
	p   session.Principal
	err error
	got string
}

func (s *stubValidator) ValidateToken(_ context.Context, tok string, _ time.Time) (session.Principal, error) {
	s.got = tok
	return s.p, s.err
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			t.Errorf("principal missing from context")
		}
		w.Header().Set("X-User", p.UserID)
		w.WriteHeader(http.StatusNoContent)
	})
}

func decodeCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body respond.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Code
}

func TestRequire_MapsValidationErrors(t *testing.T) {
	cases := []struct {
		name   string
		header string
		err    error
		status int
		code   string
	}{
		{name: "missing header", header: "", status: http.StatusUnauthorized, code: "missing_token"},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized, code: "missing_token"},
		{name: "expired", header: "Bearer t", err: session.ErrExpiredSignature, status: http.StatusUnauthorized, code: "token_expired"},
		{name: "bad signature", header: "Bearer t", err: session.ErrBadSignature, status: http.StatusUnauthorized, code: "invalid_token"},
		{name: "superseded", header: "Bearer t", err: session.ErrNoActiveSession, status: http.StatusUnauthorized, code: "session_not_active"},
		{
			name:   "store down",
			header: "Bearer t",
			err:    fmt.Errorf("%w: %w", session.ErrStoreUnavailable, context.DeadlineExceeded),
			status: http.StatusServiceUnavailable,
			code:   "session_store_unavailable",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := New(&stubValidator{err: tc.err})
			h := g.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("handler must not run")
			}))

			req := httptest.NewRequest(http.MethodGet, "/expenses", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("status=%d want %d", rr.Code, tc.status)
			}
			hasChallenge := rr.Header().Get("WWW-Authenticate") != ""
			if hasChallenge != (tc.status == http.StatusUnauthorized) {
				t.Fatalf("WWW-Authenticate present=%v for status %d", hasChallenge, tc.status)
			}
			if got := decodeCode(t, rr); got != tc.code {
				t.Fatalf("code=%q want %q", got, tc.code)
			}
		})
	}
}

func TestRequire_AttachesPrincipal(t *testing.T) {
	v := &stubValidator{p: session.Principal{UserID: "u1", Role: identity.RoleViewer}}
	h := New(v).Require(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "bearer  tok-123 ")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status=%d", rr.Code)
	}
	if rr.Header().Get("X-User") != "u1" {
		t.Fatalf("principal not forwarded")
	}
	if v.got != "tok-123" {
		t.Fatalf("token=%q", v.got)
	}
}

func TestRequireRoles_ForbiddenIsNotUnauthorized(t *testing.T) {
	v := &stubValidator{p: session.Principal{UserID: "u1", Role: identity.RoleViewer}}
	g := New(v)
	h := g.RequireRoles(identity.RoleAdmin, identity.RoleManager)(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set("Authorization", "Bearer t")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status=%d want 403", rr.Code)
	}
	if decodeCode(t, rr) != "forbidden" {
		t.Fatalf("unexpected code")
	}

	v.p.Role = identity.RoleManager
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("manager should pass, status=%d", rr.Code)
	}
}

func TestAuthenticate_QueryTokenOnlyWhenEnabled(t *testing.T) {
	v := &stubValidator{p: session.Principal{UserID: "u1"}}
	req := httptest.NewRequest(http.MethodGet, "/ws?access_token=q-tok", nil)

	if _, err := New(v).Authenticate(req); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
	if _, err := New(v).With(WithQueryToken()).Authenticate(req); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if v.got != "q-tok" {
		t.Fatalf("token=%q", v.got)
	}

	// The header wins over the query parameter.
	req.Header.Set("Authorization", "Bearer h-tok")
	if _, err := New(v, WithQueryToken()).Authenticate(req); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if v.got != "h-tok" {
		t.Fatalf("token=%q", v.got)
	}
}

// Two devices: the second login makes the first device's token fail with
// session_not_active while the second keeps working; logout ends both.
func TestRequire_WithSessionAuthority(t *testing.T) {
	env := sessiontest.New(t)
	u := env.CreateUser(t, "ana@example.com", "correct-horse-battery-9", identity.RoleViewer)

	g := New(env.Sessions)
	h := g.Require(okHandler(t))

	call := func(tok string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/expenses", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	first := env.Login(t, u, "web")
	if rr := call(first.Token); rr.Code != http.StatusNoContent {
		t.Fatalf("first token status=%d", rr.Code)
	}

	second := env.Login(t, u, "ios")
	rr := call(first.Token)
	if rr.Code != http.StatusUnauthorized || decodeCode(t, rr) != "session_not_active" {
		t.Fatalf("superseded token: status=%d", rr.Code)
	}
	if rr := call(second.Token); rr.Code != http.StatusNoContent {
		t.Fatalf("second token status=%d", rr.Code)
	}

	if err := env.Sessions.RevokeSession(context.Background(), time.Now(), u.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if rr := call(second.Token); rr.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token status=%d", rr.Code)
	}
}

func TestRequire_ExpiredToken(t *testing.T) {
	env := sessiontest.New(t)
	u := env.CreateUser(t, "bo@example.com", "correct-horse-battery-9", identity.RoleAdmin)
	iss := env.Login(t, u, "web")

	g := New(env.Sessions, WithClock(func() time.Time { return iss.ExpiresAt.Add(time.Minute) }))
	req := httptest.NewRequest(http.MethodGet, "/expenses", nil)
	req.Header.Set("Authorization", "Bearer "+iss.Token)
	rr := httptest.NewRecorder()
	g.Require(okHandler(t)).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized || decodeCode(t, rr) != "token_expired" {
		t.Fatalf("status=%d", rr.Code)
	}
}
