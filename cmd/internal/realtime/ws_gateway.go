package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"spendsync/cmd/internal/auth/gate"
	"spendsync/cmd/internal/auth/session"
	"spendsync/cmd/internal/ratelimit"
	v1 "spendsync/shared/contracts/realtime/v1"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Origin is required by default and only localhost is allowed by default.
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Config holds gateway settings.
type Config struct {
	// DevInsecure disables websocket.Accept's own origin check. Dev only.
	DevInsecure    bool
	OriginRequired bool
	AllowedOrigins []string

	// AllowQueryToken accepts ?access_token= for browsers, which cannot set
	// headers on the handshake.
	AllowQueryToken bool

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration
}

// LoadConfigFromEnv reads SPENDSYNC_WS_* with secure defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		DevInsecure:      envBoolWS("SPENDSYNC_WS_DEV_INSECURE", false),
		OriginRequired:   envBoolWS("SPENDSYNC_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired),
		AllowedOrigins:   envCSVWS("SPENDSYNC_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins),
		AllowQueryToken:  envBoolWS("SPENDSYNC_WS_ALLOW_QUERY_TOKEN", true),
		WriteTimeout:     envDurationWS("SPENDSYNC_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout),
		ReadIdleTimeout:  envDurationWS("SPENDSYNC_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle),
		SendQueueSize:    envIntWS("SPENDSYNC_WS_SEND_QUEUE", wsDefaultSendQueueSize),
		HeartbeatEvery:   envDurationWS("SPENDSYNC_WS_HEARTBEAT_INTERVAL", heartbeatInterval),
		HeartbeatTimeout: envDurationWS("SPENDSYNC_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout),
		RateEvents:       envIntWS("SPENDSYNC_WS_RATE_EVENTS", rateLimitEvents),
		RateWindow:       envDurationWS("SPENDSYNC_WS_RATE_WINDOW", rateLimitWindow),
	}
	if cfg.SendQueueSize < wsMinSendQueueSize {
		cfg.SendQueueSize = wsMinSendQueueSize
	}
	return cfg
}

// WSGateway is the WebSocket entrypoint for realtime sync.
//
// It enforces origin policy, authenticates the handshake through the request
// gate, selects the subprotocol, registers the connection with the Registry
// and runs writer, heartbeat and read loops. The connection closes when its
// session expires, is superseded or is revoked.
type WSGateway struct {
	log      *slog.Logger
	cfg      Config
	registry *Registry
	auth     *gate.Gate
	observer Observer

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	now func() time.Time
}

// GatewayOption configures a WSGateway.
type GatewayOption func(*WSGateway)

// WithGatewayObserver installs a metrics observer for handshake rejections.
func WithGatewayObserver(o Observer) GatewayOption {
	return func(g *WSGateway) { g.observer = o }
}

// WithGatewayClock overrides time.Now (tests).
func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *WSGateway) {
		if now != nil {
			g.now = now
		}
	}
}

// NewWSGateway constructs a gateway.
func NewWSGateway(log *slog.Logger, cfg Config, registry *Registry, auth *gate.Gate, opts ...GatewayOption) (*WSGateway, error) {
	if registry == nil || auth == nil {
		return nil, errors.New("realtime: nil registry or gate")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.SendQueueSize < wsMinSendQueueSize {
		cfg.SendQueueSize = wsMinSendQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = wsDefaultWriteTimeout
	}
	if cfg.ReadIdleTimeout <= 0 {
		cfg.ReadIdleTimeout = wsDefaultReadIdle
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = heartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = heartbeatTimeout
	}
	if cfg.AllowQueryToken {
		auth = auth.With(gate.WithQueryToken())
	}

	g := &WSGateway{
		log:      log,
		cfg:      cfg,
		registry: registry,
		auth:     auth,
		now:      time.Now,

		// websocket.Accept enforces its own origin policy:
		// - same-host is ok
		// - cross-origin requires OriginPatterns (host patterns)
		// We derive these patterns from allowed origins so the two layers agree.
		originPatterns: deriveOriginPatternsFromAllowedOrigins(cfg.AllowedOrigins),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an authenticated HTTP request to a realtime connection.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		g.rejected("origin")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// Authenticate before upgrading so failures are plain HTTP responses.
	p, err := g.auth.Authenticate(r)
	if err != nil {
		_, code, _ := gate.Classify(err)
		g.log.Info("ws.reject.auth", "code", code, "remote", r.RemoteAddr)
		g.rejected(code)
		g.auth.WriteError(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		g.rejected("subprotocol")
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	now := g.now().UTC()
	connID, err := NewConnectionID(now)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient(connID, p.UserID, p.SessionID, p.ExpiresAt, g.cfg.SendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	g.registry.Register(client)
	defer g.registry.Unregister(client)

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	// A login or logout that committed between the handshake check and
	// Register was not seen by the Registry; check once more now that it is.
	if err := g.recheck(r, p); err != nil {
		if errors.Is(err, session.ErrStoreUnavailable) {
			shutdown(websocket.StatusTryAgainLater, "session store unavailable")
			return
		}
		client.End(v1.EndNotActive)
	} else {
		g.sendEnvelope(client, v1.TypeHelloAck, v1.HelloAckPayload{
			ConnectionID:     connID,
			UserID:           p.UserID,
			SessionID:        p.SessionID,
			SessionExpiresAt: p.ExpiresAt,
		})
	}

	expiry := time.NewTimer(p.ExpiresAt.Sub(now))
	defer expiry.Stop()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		endSession := func(reason string) {
			env, _ := v1.NewEnvelope(v1.TypeSessionEnded, NewEnvelopeID(g.now()), g.now(), v1.SessionEndedPayload{Reason: reason})
			if b, err := json.Marshal(env); err == nil {
				_ = writeFrame(ctx, conn, b, g.cfg.WriteTimeout)
			}
			g.log.Info("ws.session_ended", "conn_id", connID, "user_id", p.UserID, "reason", reason)
			shutdown(websocket.StatusCode(v1.CloseSessionEnded), reason)
		}

		for {
			// A pending end is written before anything still queued in Send,
			// so a superseded connection never sees another mutation.
			select {
			case reason := <-client.Ended():
				endSession(reason)
				return
			default:
			}

			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case reason := <-client.Ended():
				endSession(reason)
				return
			case <-expiry.C:
				endSession(v1.EndExpired)
				return
			case frame := <-client.Send:
				if err := writeFrame(ctx, conn, frame, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", connID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	rl := ratelimit.NewWindow(g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		data, err := readFrame(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "conn_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		if !rl.Allow(g.now().UTC()) {
			g.trySendError(client, "rate_limited", "too many frames")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			g.trySendError(client, "bad_json", "invalid JSON")
			continue readLoop
		}
		if err := env.Validate(); err != nil {
			g.trySendError(client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypePing:
			var ping v1.PingPayload
			if len(env.Payload) > 0 {
				_ = env.Decode(&ping)
			}
			g.sendEnvelope(client, v1.TypePong, v1.PongPayload{Nonce: ping.Nonce})
		default:
			// Clients never push mutations; writes go through the HTTP API.
			g.trySendError(client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

func (g *WSGateway) recheck(r *http.Request, p session.Principal) error {
	again, err := g.auth.Authenticate(r)
	if err != nil {
		return err
	}
	if again.SessionID != p.SessionID {
		return session.ErrNoActiveSession
	}
	return nil
}

func (g *WSGateway) rejected(reason string) {
	if g.observer != nil {
		g.observer.HandshakeRejected(reason)
	}
}

// ---- send helpers ----

func (g *WSGateway) trySendError(client *Client, code, msg string) {
	g.sendEnvelope(client, v1.TypeError, v1.ErrorPayload{Code: code, Message: msg})
}

func (g *WSGateway) sendEnvelope(client *Client, typ string, payload any) bool {
	now := g.now().UTC()
	env, err := v1.NewEnvelope(typ, NewEnvelopeID(now), now, payload)
	if err != nil {
		return false
	}
	b, err := json.Marshal(env)
	if err != nil {
		return false
	}
	return client.offer(b)
}

// ---- frame IO ----

func readFrame(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func writeFrame(parent context.Context, conn *websocket.Conn, frame []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, frame)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins keeps websocket.Accept strict: only
// hosts extracted from the allowlist are accepted.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
