package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_PoolState(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetPoolState("python", 2, 1)
	m.SetPoolState("javascript", 3, 0)

	assert.InDelta(t, 2, testutil.ToFloat64(m.poolAvailable.WithLabelValues("python")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.poolInUse.WithLabelValues("python")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.poolAvailable.WithLabelValues("javascript")), 0)
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ContainerCreateFailed("python")
	m.ContainerCreateFailed("python")
	m.ContainerRemoveFailed("python")
	m.ContainerQuarantined("python")
	m.AcquireRejected("python", "exhausted")
	m.AcquireRejected("python", "closed")
	m.AcquireRejected("python", "exhausted")

	assert.InDelta(t, 2, testutil.ToFloat64(m.createErrors.WithLabelValues("python")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.removeErrors.WithLabelValues("python")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.quarantined.WithLabelValues("python")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.acquireRejections.WithLabelValues("python", "exhausted")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.acquireRejections.WithLabelValues("python", "closed")), 0)
}

func TestMetrics_ObserveExecution(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveExecution("python", "success", 20*time.Millisecond)
	m.ObserveExecution("python", "execution_timeout", 2*time.Second)

	assert.InDelta(t, 1, testutil.ToFloat64(m.executions.WithLabelValues("python", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.executions.WithLabelValues("python", "execution_timeout")), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(m.executionLatency, "warmbox_dispatcher_execution_duration_seconds"))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.SetPoolState("python", 1, 1)
		m.ContainerCreateFailed("python")
		m.ContainerRemoveFailed("python")
		m.ContainerQuarantined("python")
		m.AcquireRejected("python", "exhausted")
		m.ObserveExecution("python", "success", time.Millisecond)
	})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SetPoolState("python", 2, 0)

	h := Handler(reg)

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.Contains(rec.Body.String(), `warmbox_pool_available{runtime="python"} 2`))
	})

	t.Run("healthz", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", rec.Body.String())
	})
}
