// Package metrics exposes the engine's prometheus instrumentation. All
// methods are nil-safe so callers never guard their metric calls.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's counters and gauges.
type Metrics struct {
	llmRequests *prometheus.CounterVec
	llmRetries  *prometheus.CounterVec
	modules     *prometheus.CounterVec
	inFlight    prometheus.Gauge
}

// New creates the metric set and registers it with reg. A nil registerer
// yields a functional but unregistered set.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repowiki_llm_requests_total",
			Help: "LLM requests by backend and outcome.",
		}, []string{"backend", "outcome"}),
		llmRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repowiki_llm_retries_total",
			Help: "Retried LLM attempts by backend.",
		}, []string{"backend"}),
		modules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repowiki_modules_total",
			Help: "Module generation outcomes by kind.",
		}, []string{"kind", "outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "repowiki_leaf_workers_in_flight",
			Help: "Leaf generations currently running.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.llmRequests, m.llmRetries, m.modules, m.inFlight)
	}
	return m
}

// ObserveLLMRequest records one gateway backend attempt outcome.
func (m *Metrics) ObserveLLMRequest(backend string, ok bool) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(backend, outcome(ok)).Inc()
}

// ObserveLLMRetry records one retried attempt against a backend.
func (m *Metrics) ObserveLLMRetry(backend string) {
	if m == nil {
		return
	}
	m.llmRetries.WithLabelValues(backend).Inc()
}

// ObserveModule records one module generation outcome.
func (m *Metrics) ObserveModule(kind string, ok bool) {
	if m == nil {
		return
	}
	m.modules.WithLabelValues(kind, outcome(ok)).Inc()
}

// WorkerStarted increments the in-flight gauge.
func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// WorkerFinished decrements the in-flight gauge.
func (m *Metrics) WorkerFinished() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
