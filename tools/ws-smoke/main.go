// Command ws-smoke is a CI-friendly end-to-end check against a running server.
//
// It validates:
//   - login and handshake with subprotocol selection
//   - hello_ack and ping/pong
//   - create, update and delete arrive as mutation events
//   - the client reconciler applies each event once
//   - a second login supersedes the first connection
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "spendsync/shared/contracts/realtime/v1"
	"spendsync/shared/reconcile"
)

const maxReadBytes = 1 << 20

type smokeClient struct {
	name      string
	conn      *websocket.Conn
	sessionID string
	userID    string

	inbox chan v1.Envelope
	errCh chan error
}

type loginResult struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

type expenseResult struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
}

func main() {
	var (
		baseURL  = flag.String("base", "http://127.0.0.1:8080", "HTTP base URL")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		email    = flag.String("email", "", "Account email")
		password = flag.String("password", "", "Account password")
		role     = flag.String("role", "viewer", "Account role")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if *email == "" || *password == "" {
		fatalf("-email and -password are required")
	}
	wsURL, err := wsURLFor(*baseURL)
	if err != nil {
		fatalf("invalid -base: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	api := &apiClient{base: strings.TrimRight(*baseURL, "/"), http: &http.Client{Timeout: *timeout}}

	first := api.mustLogin(*email, *password, *role, "smoke-a")
	a := mustConnect(root, "A", wsURL, *origin, first.Token, *timeout)
	defer closeWS(a.conn)

	if *verbose {
		fmt.Printf("connected: A session=%s user=%s\n", a.sessionID, a.userID)
	}

	mustPing(root, a, *timeout)

	state := reconcile.New(a.userID, v1.RecordExpense)

	created := api.mustExpense(http.MethodPost, "/expenses", first.Token, map[string]any{
		"title":    "ws-smoke lunch",
		"amount":   12.5,
		"category": "food",
		"date":     time.Now().UTC().Format(time.DateOnly),
	}, http.StatusCreated)
	ev := mustMutation(root, a, v1.KindCreate, created.ID, *timeout)
	mustOutcome(state, ev, reconcile.Applied)
	mustOutcome(state, ev, reconcile.Duplicate)

	updated := api.mustExpense(http.MethodPut, "/expenses/"+created.ID, first.Token, map[string]any{
		"title":    "ws-smoke dinner",
		"amount":   30,
		"category": "food",
		"date":     time.Now().UTC().Format(time.DateOnly),
		"version":  created.Version,
	}, http.StatusOK)
	ev = mustMutation(root, a, v1.KindUpdate, created.ID, *timeout)
	if ev.Version != updated.Version {
		fatalf("update version mismatch: event=%d response=%d", ev.Version, updated.Version)
	}
	mustOutcome(state, ev, reconcile.Applied)

	api.mustStatus(http.MethodDelete, "/expenses/"+created.ID, first.Token, nil, http.StatusNoContent)
	ev = mustMutation(root, a, v1.KindDelete, created.ID, *timeout)
	mustOutcome(state, ev, reconcile.Applied)
	if state.Len() != 0 {
		fatalf("reconciler still holds %d records after delete", state.Len())
	}

	second := api.mustLogin(*email, *password, *role, "smoke-b")
	ended := a.mustReadUntilType(root, v1.TypeSessionEnded, *timeout, map[string]struct{}{v1.TypePong: {}})
	var sp v1.SessionEndedPayload
	if err := ended.Decode(&sp); err != nil {
		fatalf("decode session_ended: %v", err)
	}
	if sp.Reason != v1.EndSuperseded {
		fatalf("session_ended reason: got=%q want=%q", sp.Reason, v1.EndSuperseded)
	}

	api.mustStatus(http.MethodGet, "/me", first.Token, nil, http.StatusUnauthorized)
	api.mustStatus(http.MethodGet, "/me", second.Token, nil, http.StatusOK)
	api.mustStatus(http.MethodPost, "/auth/logout", second.Token, nil, http.StatusNoContent)

	fmt.Printf("OK: user=%s first_session=%s second_session=%s expense=%s\n", a.userID, first.SessionID, second.SessionID, created.ID)
}

func wsURLFor(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("missing host")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

// ---- HTTP ----

type apiClient struct {
	base string
	http *http.Client
}

func (c *apiClient) do(method, path, token string, body any) (int, []byte) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(mustJSON(body))
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	return resp.StatusCode, b
}

func (c *apiClient) mustStatus(method, path, token string, body any, want int) []byte {
	got, b := c.do(method, path, token, body)
	if got != want {
		fatalf("%s %s: status=%d want=%d body=%s", method, path, got, want, strings.TrimSpace(string(b)))
	}
	return b
}

func (c *apiClient) mustLogin(email, password, role, device string) loginResult {
	b := c.mustStatus(http.MethodPost, "/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
		"role":     role,
		"client":   map[string]string{"platform": "cli", "device": device},
	}, http.StatusOK)

	var res loginResult
	if err := json.Unmarshal(b, &res); err != nil || res.Token == "" {
		fatalf("login (%s): bad response: %s", device, string(b))
	}
	return res
}

func (c *apiClient) mustExpense(method, path, token string, body any, want int) expenseResult {
	b := c.mustStatus(method, path, token, body, want)
	var res expenseResult
	if err := json.Unmarshal(b, &res); err != nil || res.ID == "" {
		fatalf("%s %s: bad response: %s", method, path, string(b))
	}
	return res
}

// ---- WebSocket ----

func mustConnect(parent context.Context, name, wsURL, origin, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, v1.Subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout, nil)

	var p v1.HelloAckPayload
	if err := ack.Decode(&p); err != nil {
		fatalf("decode hello_ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.SessionID) == "" || strings.TrimSpace(p.UserID) == "" {
		fatalf("hello_ack missing session_id or user_id (%s)", name)
	}
	c.sessionID = p.SessionID
	c.userID = p.UserID
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func mustPing(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	nonce := fmt.Sprintf("%s-%d", c.name, time.Now().UnixNano())
	env, err := v1.NewEnvelope(v1.TypePing, nonce, time.Now(), v1.PingPayload{Nonce: nonce})
	if err != nil {
		fatalf("build ping: %v", err)
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	pong := c.mustReadUntilType(parent, v1.TypePong, stepTimeout, nil)
	var p v1.PongPayload
	if err := pong.Decode(&p); err != nil || p.Nonce != nonce {
		fatalf("pong nonce mismatch (%s): got=%q want=%q", c.name, p.Nonce, nonce)
	}
}

func mustMutation(parent context.Context, c *smokeClient, kind v1.Kind, recordID string, stepTimeout time.Duration) v1.MutationEvent {
	env := c.mustReadUntilType(parent, v1.TypeMutation, stepTimeout, nil)

	var ev v1.MutationEvent
	if err := env.Decode(&ev); err != nil {
		fatalf("decode mutation (%s): %v", c.name, err)
	}
	if ev.Kind != kind || ev.RecordID != recordID {
		fatalf("mutation mismatch (%s): got=%s/%s want=%s/%s", c.name, ev.Kind, ev.RecordID, kind, recordID)
	}
	if ev.AccountID != c.userID {
		fatalf("mutation for foreign account (%s): %q", c.name, ev.AccountID)
	}
	return ev
}

func mustOutcome(state *reconcile.State, ev v1.MutationEvent, want reconcile.Outcome) {
	if got := state.Apply(ev); got != want {
		fatalf("reconcile %s %s: got=%s want=%s", ev.Kind, ev.RecordID, got, want)
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = env.Decode(&ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if _, ok := skipTypes[env.Type]; ok {
				continue
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, mustJSON(env)); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
