// Package metrics holds the Prometheus instruments shared by the bot and the
// worker.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fieldrelay"

// Delivery outcomes.
const (
	DeliverySent   = "sent"
	DeliveryAbsent = "absent"
	DeliveryFailed = "failed"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry prometheus.Gatherer

	MessagesIngested prometheus.Counter
	PublishFailures  prometheus.Counter
	TimerResets      prometheus.Counter
	TimerExpiries    prometheus.Counter
	PendingTimers    prometheus.Gauge
	Deliveries       *prometheus.CounterVec
	Records          *prometheus.CounterVec
	ExtractErrors    *prometheus.CounterVec
	EventsConsumed   *prometheus.CounterVec
	ExtractLatency   prometheus.Histogram
}

// New registers the instruments on a fresh registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the instruments on reg and serves them from g.
func NewWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: g,
		MessagesIngested: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_ingested_total",
			Help:      "Inbound conversation messages handled by the bot.",
		}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_publish_failures_total",
			Help:      "Events that could not be published to the relay.",
		}),
		TimerResets: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debounce_resets_total",
			Help:      "Quiet timer resets.",
		}),
		TimerExpiries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debounce_expiries_total",
			Help:      "Quiet timers that fired.",
		}),
		PendingTimers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "debounce_pending_timers",
			Help:      "Conversations with a live quiet timer.",
		}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Quiet-period deliveries by outcome.",
		}, []string{"outcome"}),
		Records: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Extracted records by validation status.",
		}, []string{"status"}),
		ExtractErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extract_errors_total",
			Help:      "Extraction failures by kind.",
		}, []string{"kind"}),
		EventsConsumed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_events_consumed_total",
			Help:      "Relay events consumed by disposition.",
		}, []string{"disposition"}),
		ExtractLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extract_latency_seconds",
			Help:      "Wall time of extraction calls.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 90},
		}),
	}
}

// Gatherer returns the registry the instruments are served from, or nil.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncIngested() {
	if m != nil {
		m.MessagesIngested.Inc()
	}
}

func (m *Metrics) IncPublishFailure() {
	if m != nil {
		m.PublishFailures.Inc()
	}
}

func (m *Metrics) IncReset() {
	if m != nil {
		m.TimerResets.Inc()
	}
}

func (m *Metrics) IncExpiry() {
	if m != nil {
		m.TimerExpiries.Inc()
	}
}

func (m *Metrics) SetPending(n int) {
	if m != nil {
		m.PendingTimers.Set(float64(n))
	}
}

func (m *Metrics) IncDelivery(outcome string) {
	if m != nil {
		m.Deliveries.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) AddRecords(accepted, rejected int) {
	if m != nil {
		m.Records.WithLabelValues("accepted").Add(float64(accepted))
		m.Records.WithLabelValues("rejected").Add(float64(rejected))
	}
}

func (m *Metrics) IncExtractError(kind string) {
	if m != nil {
		m.ExtractErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncConsumed(disposition string) {
	if m != nil {
		m.EventsConsumed.WithLabelValues(disposition).Inc()
	}
}

func (m *Metrics) ObserveExtract(d time.Duration) {
	if m != nil {
		m.ExtractLatency.Observe(d.Seconds())
	}
}
