package app

import (
	"net/http"

	authapi "spendsync/cmd/internal/auth/api"
	"spendsync/cmd/internal/expense"
	"spendsync/cmd/internal/metrics"
	"spendsync/cmd/internal/realtime"
)

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	st stores,
	m *metrics.Metrics,
	auth *authapi.Handler,
	expenses *expense.Handler,
	ws *realtime.WSGateway,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && st.backend != "postgres" {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if st.ping != nil {
			if err := st.ping(r.Context()); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "backend", st.backend, "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if cfg.MetricsEnabled && m != nil {
		mux.Handle("/metrics", m.Handler())
	}

	auth.Register(mux)
	expenses.Register(mux)

	mux.HandleFunc("/ws", ws.HandleWS)
}
