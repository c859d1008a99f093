package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	labels := map[string]string{"method": "direct", "outcome": OutcomeOK}
	rec.IncCounter(Grants, labels)
	rec.IncCounter(Grants, labels)
	rec.ObserveLatency(Grants, 250*time.Millisecond, labels)

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.counters.WithLabelValues(Grants, "direct", OutcomeOK)))

	rr := httptest.NewRecorder()
	rec.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "paygate_events_total")
	assert.Contains(t, string(body), "paygate_latency_seconds")
}

func TestSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewPrometheusRecorder(nil)
		NewPrometheusRecorder(nil)
	})
}
