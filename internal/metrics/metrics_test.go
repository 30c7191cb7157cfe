package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveLLMRequest("api:x", true)
	m.ObserveLLMRetry("api:x")
	m.ObserveModule("leaf", false)
	m.WorkerStarted()
	m.WorkerFinished()
}

func TestCountersRecordOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveLLMRequest("api:primary", true)
	m.ObserveLLMRequest("api:primary", false)
	m.ObserveLLMRetry("api:primary")
	m.ObserveLLMRetry("api:primary")
	m.ObserveModule("leaf", true)
	m.WorkerStarted()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.llmRequests.WithLabelValues("api:primary", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.llmRequests.WithLabelValues("api:primary", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.llmRetries.WithLabelValues("api:primary")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.modules.WithLabelValues("leaf", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))

	m.WorkerFinished()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
}

func TestUnregisteredSetStillCounts(t *testing.T) {
	m := New(nil)
	m.ObserveModule("parent", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.modules.WithLabelValues("parent", "ok")))
}
