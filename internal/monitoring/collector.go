// Package monitoring watches the service's own counters and posts webhook
// alerts when failure rates cross configured thresholds.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rotisserie/eris"
)

// MetricsSnapshot holds cumulative counter totals at one point in time.
type MetricsSnapshot struct {
	MessagesIngested float64 `json:"messages_ingested"`
	PublishFailures  float64 `json:"publish_failures"`
	EventsConsumed   float64 `json:"events_consumed"`
	ExtractErrors    float64 `json:"extract_errors"`
	RecordsAccepted  float64 `json:"records_accepted"`
	RecordsRejected  float64 `json:"records_rejected"`
	DeliveriesSent   float64 `json:"deliveries_sent"`
	DeliveriesFailed float64 `json:"deliveries_failed"`

	CollectedAt time.Time `json:"collected_at"`
}

// Sub returns the change from prev to s.
func (s MetricsSnapshot) Sub(prev MetricsSnapshot) MetricsSnapshot {
	return MetricsSnapshot{
		MessagesIngested: s.MessagesIngested - prev.MessagesIngested,
		PublishFailures:  s.PublishFailures - prev.PublishFailures,
		EventsConsumed:   s.EventsConsumed - prev.EventsConsumed,
		ExtractErrors:    s.ExtractErrors - prev.ExtractErrors,
		RecordsAccepted:  s.RecordsAccepted - prev.RecordsAccepted,
		RecordsRejected:  s.RecordsRejected - prev.RecordsRejected,
		DeliveriesSent:   s.DeliveriesSent - prev.DeliveriesSent,
		DeliveriesFailed: s.DeliveriesFailed - prev.DeliveriesFailed,
		CollectedAt:      s.CollectedAt,
	}
}

// Collector reads counter totals from a Prometheus gatherer.
type Collector struct {
	gatherer prometheus.Gatherer
}

// NewCollector creates a Collector over g.
func NewCollector(g prometheus.Gatherer) *Collector {
	return &Collector{gatherer: g}
}

// Collect gathers a snapshot of the current totals.
func (c *Collector) Collect() (MetricsSnapshot, error) {
	snap := MetricsSnapshot{CollectedAt: time.Now().UTC()}
	if c.gatherer == nil {
		return snap, nil
	}

	families, err := c.gatherer.Gather()
	if err != nil {
		return snap, eris.Wrap(err, "monitoring: gather metrics")
	}

	for _, mf := range families {
		switch mf.GetName() {
		case "fieldrelay_messages_ingested_total":
			snap.MessagesIngested = sum(mf, "", "")
		case "fieldrelay_relay_publish_failures_total":
			snap.PublishFailures = sum(mf, "", "")
		case "fieldrelay_relay_events_consumed_total":
			snap.EventsConsumed = sum(mf, "", "")
		case "fieldrelay_extract_errors_total":
			snap.ExtractErrors = sum(mf, "", "")
		case "fieldrelay_records_total":
			snap.RecordsAccepted = sum(mf, "status", "accepted")
			snap.RecordsRejected = sum(mf, "status", "rejected")
		case "fieldrelay_deliveries_total":
			snap.DeliveriesSent = sum(mf, "outcome", "sent")
			snap.DeliveriesFailed = sum(mf, "outcome", "failed")
		}
	}
	return snap, nil
}

// sum adds the counter values of mf whose label matches value. An empty
// label matches every series.
func sum(mf *dto.MetricFamily, label, value string) float64 {
	var total float64
	for _, m := range mf.GetMetric() {
		if label != "" && !hasLabel(m, label, value) {
			continue
		}
		total += m.GetCounter().GetValue()
	}
	return total
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue() == value
		}
	}
	return false
}
