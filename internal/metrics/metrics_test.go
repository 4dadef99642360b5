package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.CallSubmitted("accepted")
	m.StatusTransition("dialing")
	m.CallFinished("completed", true)
	m.WorkerStarted()
	m.WorkerDone()
	m.ProviderRequest("get_status", "ok", time.Second)
	m.EventDropped()
	m.StaleCleaned(3)
	m.HTTPRequest("GET", "/healthz", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 from nil handler, got %d", rec.Code)
	}
}

func TestCounters(t *testing.T) {
	m := New("")
	m.CallSubmitted("accepted")
	m.CallSubmitted("accepted")
	m.StatusTransition("dialing")
	m.CallFinished("completed", true)
	m.StaleCleaned(2)
	m.StaleCleaned(0)
	m.WorkerStarted()

	if got := testutil.ToFloat64(m.callsSubmitted.WithLabelValues("accepted")); got != 2 {
		t.Fatalf("submitted: got %v", got)
	}
	if got := testutil.ToFloat64(m.outcomes.WithLabelValues("completed", "true")); got != 1 {
		t.Fatalf("outcomes: got %v", got)
	}
	if got := testutil.ToFloat64(m.sweepCleaned); got != 2 {
		t.Fatalf("cleaned: got %v", got)
	}
	if got := testutil.ToFloat64(m.callsInFlight); got != 1 {
		t.Fatalf("in flight: got %v", got)
	}
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := New("testns")
	m.ProviderRequest("create_call", "ok", 20*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `testns_provider_requests_total{operation="create_call",outcome="ok"} 1`) {
		t.Fatalf("metric missing from exposition:\n%s", rec.Body.String())
	}
}
