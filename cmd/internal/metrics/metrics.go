// Package metrics owns the Prometheus registry and the counters reported by
// the session authority, the realtime publisher and the HTTP middleware.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spendsync/cmd/internal/auth/session"
)

const namespace = "spendsync"

// Metrics implements session.Observer and realtime.Observer.
type Metrics struct {
	reg *prometheus.Registry

	sessionsIssued   prometheus.Counter
	sessionsEnded    *prometheus.CounterVec
	tokenValidations *prometheus.CounterVec

	wsConnections prometheus.Gauge
	wsRejected    *prometheus.CounterVec
	eventsPub     *prometheus.CounterVec
	deliveries    prometheus.Counter
	drops         prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers every collector on a private registry, plus the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		sessionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "issued_total",
			Help: "Sessions issued.",
		}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "ended_total",
			Help: "Sessions ended, by reason.",
		}, []string{"reason"}),
		tokenValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "validations_total",
			Help: "Token validations, by result.",
		}, []string{"result"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "connections",
			Help: "Open WebSocket connections.",
		}),
		wsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "handshake_rejected_total",
			Help: "Rejected WebSocket handshakes, by reason.",
		}, []string{"reason"}),
		eventsPub: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "events_published_total",
			Help: "Mutation events published, by kind.",
		}, []string{"kind"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "deliveries_total",
			Help: "Events enqueued to client connections.",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "drops_total",
			Help: "Deliveries dropped because a client queue was full or closing.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests, by method and status code.",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessionsIssued, m.sessionsEnded, m.tokenValidations,
		m.wsConnections, m.wsRejected, m.eventsPub, m.deliveries, m.drops,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// Registry exposes the registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ---- session.Observer ----

func (m *Metrics) SessionIssued() { m.sessionsIssued.Inc() }

func (m *Metrics) SessionsEnded(reason session.EndReason, n int64) {
	if n > 0 {
		m.sessionsEnded.WithLabelValues(string(reason)).Add(float64(n))
	}
}

func (m *Metrics) TokenValidated(result string) {
	m.tokenValidations.WithLabelValues(result).Inc()
}

// ---- realtime.Observer ----

func (m *Metrics) ConnectionOpened() { m.wsConnections.Inc() }

func (m *Metrics) ConnectionClosed() { m.wsConnections.Dec() }

func (m *Metrics) HandshakeRejected(reason string) {
	m.wsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) EventPublished(kind string, delivered, dropped int) {
	m.eventsPub.WithLabelValues(kind).Inc()
	m.deliveries.Add(float64(delivered))
	m.drops.Add(float64(dropped))
}

// ObserveHTTP records one finished request.
func (m *Metrics) ObserveHTTP(method string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(d.Seconds())
}

var _ session.Observer = (*Metrics)(nil)
