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

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg, reg)

	m.IncIngested()
	m.IncIngested()
	m.IncDelivery(DeliverySent)
	m.IncDelivery(DeliveryAbsent)
	m.AddRecords(4, 1)
	m.IncExtractError("timeout")
	m.SetPending(3)

	assert.InDelta(t, 2, testutil.ToFloat64(m.MessagesIngested), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Deliveries.WithLabelValues(DeliverySent)), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(m.Records.WithLabelValues("accepted")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Records.WithLabelValues("rejected")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.PendingTimers), 0)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncIngested()
		m.IncPublishFailure()
		m.IncReset()
		m.IncExpiry()
		m.SetPending(1)
		m.IncDelivery(DeliveryFailed)
		m.AddRecords(1, 1)
		m.IncExtractError("malformed")
		m.IncConsumed("ack")
		m.ObserveExtract(time.Second)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.IncReset()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "fieldrelay_debounce_resets_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNew_Independent(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
		New()
	})
}
