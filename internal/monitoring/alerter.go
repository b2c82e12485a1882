package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fieldrelay/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertExtractFailureRate AlertType = "extract_failure_rate"
	AlertRecordRejectRate   AlertType = "record_reject_rate"
	AlertDeliveryFailure    AlertType = "delivery_failure"
	AlertPublishFailure     AlertType = "publish_failure"
)

// Minimum sample sizes before a rate is judged.
const (
	minConsumed = 5
	minRecords  = 10
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Role      string         `json:"role"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates counter deltas against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	role   string
	client *http.Client
}

// NewAlerter creates a new Alerter for the named process.
func NewAlerter(cfg config.MonitoringConfig, role string) *Alerter {
	return &Alerter{
		cfg:    cfg,
		role:   role,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks one interval's delta against thresholds and returns any
// alerts.
func (a *Alerter) Evaluate(delta MetricsSnapshot, window time.Duration) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if delta.EventsConsumed >= minConsumed {
		rate := delta.ExtractErrors / delta.EventsConsumed
		if rate > a.cfg.FailureRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertExtractFailureRate,
				Severity: "high",
				Message: fmt.Sprintf(
					"Extraction failure rate %.1f%% exceeds threshold %.1f%% (%.0f failed / %.0f events in last %s)",
					rate*100, a.cfg.FailureRateThreshold*100, delta.ExtractErrors, delta.EventsConsumed, window,
				),
				Details: map[string]any{
					"failure_rate": rate,
					"threshold":    a.cfg.FailureRateThreshold,
					"failed":       delta.ExtractErrors,
					"consumed":     delta.EventsConsumed,
				},
				Timestamp: now,
			})
		}
	}

	records := delta.RecordsAccepted + delta.RecordsRejected
	if records >= minRecords && a.cfg.RejectRateThreshold > 0 {
		rate := delta.RecordsRejected / records
		if rate > a.cfg.RejectRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertRecordRejectRate,
				Severity: "medium",
				Message: fmt.Sprintf(
					"%.1f%% of extracted records were rejected in last %s (%.0f of %.0f)",
					rate*100, window, delta.RecordsRejected, records,
				),
				Details: map[string]any{
					"reject_rate": rate,
					"threshold":   a.cfg.RejectRateThreshold,
				},
				Timestamp: now,
			})
		}
	}

	if delta.DeliveriesFailed > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertDeliveryFailure,
			Severity:  "high",
			Message:   fmt.Sprintf("%.0f report deliveries failed in last %s", delta.DeliveriesFailed, window),
			Details:   map[string]any{"failed": delta.DeliveriesFailed, "sent": delta.DeliveriesSent},
			Timestamp: now,
		})
	}

	if delta.PublishFailures > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertPublishFailure,
			Severity:  "high",
			Message:   fmt.Sprintf("%.0f messages could not be relayed to the worker in last %s", delta.PublishFailures, window),
			Details:   map[string]any{"failed": delta.PublishFailures, "ingested": delta.MessagesIngested},
			Timestamp: now,
		})
	}

	for i := range alerts {
		alerts[i].Role = a.role
	}
	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
