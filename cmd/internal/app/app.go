// Package app wires the spendsync server runtime: config, logging, storage,
// the session authority, HTTP routes and the realtime gateway.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	authapi "spendsync/cmd/internal/auth/api"
	"spendsync/cmd/internal/auth/gate"
	"spendsync/cmd/internal/auth/session"
	"spendsync/cmd/internal/expense"
	"spendsync/cmd/internal/metrics"
	"spendsync/cmd/internal/realtime"
	"spendsync/cmd/security/token"
)

// App is the spendsync server runtime. It owns the stores, the session
// authority, the publisher and the HTTP handler chain.
type App struct {
	cfg Config
	log Logger

	st       stores
	metrics  *metrics.Metrics
	sessions *session.Service
	registry *realtime.Registry
	handler  http.Handler

	closeOnce sync.Once
}

// New constructs a fully wired App. Session settings come from the
// SPENDSYNC_* environment (see session.LoadConfigFromEnv).
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, nil)
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	tokens, err := session.NewTokenManager(sessCfg)
	if err != nil {
		return nil, err
	}
	hasher, err := token.HasherFromEnv(cfg.RequireTokenHMAC, token.MinHMACKeyBytes)
	if err != nil {
		return nil, err
	}

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := assemble(cfg, log, st, sessCfg, tokens, hasher)
	if err != nil {
		st.close()
		return nil, err
	}
	return a, nil
}

func assemble(cfg Config, log Logger, st stores, sessCfg session.Config, tokens session.TokenManager, hasher token.Hasher) (*App, error) {
	m := metrics.New()

	svc, err := session.NewService(sessCfg, st.sessions, tokens,
		session.WithLogger(log),
		session.WithObserver(m),
		session.WithHasher(hasher),
	)
	if err != nil {
		return nil, err
	}

	// Logins and logouts end live connections through the registry.
	registry := realtime.NewRegistry(log, realtime.WithObserver(m))
	svc.Subscribe(registry)

	g := gate.New(svc, gate.WithLogger(log))

	authHandler, err := authapi.NewHandler(log, authapi.LoadConfigFromEnv(), st.users, svc, g)
	if err != nil {
		return nil, err
	}
	expHandler, err := expense.NewHandler(log, st.expenses, registry, g)
	if err != nil {
		return nil, err
	}
	ws, err := realtime.NewWSGateway(log, realtime.LoadConfigFromEnv(), registry, g, realtime.WithGatewayObserver(m))
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	registerHTTP(mux, log, cfg, st, m, authHandler, expHandler, ws)

	handler := WithRequestLogging(WithSecurityHeaders(WithCORS(mux, cfg, log)), log, m)

	return &App{
		cfg:      cfg,
		log:      log,
		st:       st,
		metrics:  m,
		sessions: svc,
		registry: registry,
		handler:  handler,
	}, nil
}

// Handler returns the full middleware chain over every route.
func (a *App) Handler() http.Handler { return a.handler }

// Close releases the stores. Safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.st.close != nil {
			a.st.close()
		}
	})
}

// Run starts the HTTP server and the session sweeper and blocks until ctx
// is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go a.sessions.RunSweeper(sweepCtx, a.cfg.SessionSweepInterval, time.Now)

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"backend", a.st.backend,
		"base_url", base,
		"ws_url", wsBaseURL(base)+"/ws",
		"metrics", a.cfg.MetricsEnabled,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
// Wildcard binds map to the loopback address.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + strings.TrimSpace(addr)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// wsBaseURL maps http(s) to ws(s). A bare host:port is treated as http.
func wsBaseURL(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return "ws://" + strings.TrimPrefix(base, "//")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}
