package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"spendsync/cmd/internal/auth/session"
)

func TestObserverCounters(t *testing.T) {
	m := New()

	m.SessionIssued()
	m.SessionIssued()
	m.SessionsEnded(session.EndSuperseded, 1)
	m.SessionsEnded(session.EndExpired, 3)
	m.SessionsEnded(session.EndLogout, 0)
	m.TokenValidated(session.ResultValid)
	m.TokenValidated(session.ResultNoActiveSession)
	m.TokenValidated(session.ResultNoActiveSession)

	if got := testutil.ToFloat64(m.sessionsIssued); got != 2 {
		t.Fatalf("issued=%v", got)
	}
	if got := testutil.ToFloat64(m.sessionsEnded.WithLabelValues("expired")); got != 3 {
		t.Fatalf("expired=%v", got)
	}
	if got := testutil.ToFloat64(m.sessionsEnded.WithLabelValues("logout")); got != 0 {
		t.Fatalf("logout=%v", got)
	}
	if got := testutil.ToFloat64(m.tokenValidations.WithLabelValues("no_active_session")); got != 2 {
		t.Fatalf("no_active_session=%v", got)
	}
}

func TestRealtimeCounters(t *testing.T) {
	m := New()

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.EventPublished("create", 3, 1)
	m.EventPublished("delete", 0, 0)

	if got := testutil.ToFloat64(m.wsConnections); got != 1 {
		t.Fatalf("connections=%v", got)
	}
	if got := testutil.ToFloat64(m.deliveries); got != 3 {
		t.Fatalf("deliveries=%v", got)
	}
	if got := testutil.ToFloat64(m.drops); got != 1 {
		t.Fatalf("drops=%v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTP(http.MethodGet, http.StatusOK, 15*time.Millisecond)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	for _, want := range []string{
		`spendsync_http_requests_total{code="200",method="GET"} 1`,
		"spendsync_session_issued_total 0",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("missing %q in exposition", want)
		}
	}
}
