// Package metrics exposes Prometheus instrumentation for the call pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const DefaultNamespace = "callpilot"

type Metrics struct {
	registry *prometheus.Registry

	callsSubmitted   *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	outcomes         *prometheus.CounterVec
	callsInFlight    prometheus.Gauge
	providerRequests *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	eventsDropped    prometheus.Counter
	sweepCleaned     prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New builds a Metrics with its own registry, including Go runtime and process collectors.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		callsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_submitted_total",
			Help:      "Call requests received, by result (accepted, invalid, error).",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_status_transitions_total",
			Help:      "Persisted call status transitions, by new status.",
		}, []string{"status"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_outcomes_total",
			Help:      "Calls that reached a terminal status, by status and classified success.",
		}, []string{"status", "success"}),
		callsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_in_flight",
			Help:      "Calls currently being driven by a worker.",
		}),
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Requests to the calling provider, by operation and outcome.",
		}, []string{"operation", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Provider request latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"operation"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events not delivered to a subscriber because its buffer was full.",
		}),
		sweepCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_calls_cleaned_total",
			Help:      "Non-terminal calls force-failed by the staleness sweep.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.callsSubmitted,
		m.transitions,
		m.outcomes,
		m.callsInFlight,
		m.providerRequests,
		m.providerLatency,
		m.eventsDropped,
		m.sweepCleaned,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) CallSubmitted(result string) {
	if m == nil {
		return
	}
	m.callsSubmitted.WithLabelValues(result).Inc()
}

func (m *Metrics) StatusTransition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) CallFinished(status string, success bool) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(status, strconv.FormatBool(success)).Inc()
}

func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.callsInFlight.Inc()
}

func (m *Metrics) WorkerDone() {
	if m == nil {
		return
	}
	m.callsInFlight.Dec()
}

// ProviderRequest records one provider round trip. outcome is "ok" or an error kind.
func (m *Metrics) ProviderRequest(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(operation, outcome).Inc()
	m.providerLatency.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

func (m *Metrics) StaleCleaned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweepCleaned.Add(float64(n))
}

func (m *Metrics) HTTPRequest(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
