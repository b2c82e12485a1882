// Package delivery wires the ingest side of the bot: every inbound message
// is logged, relayed to the worker and re-arms the conversation's quiet
// timer, and a quiet conversation gets today's workbook sent back.
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fieldrelay/internal/metrics"
	"github.com/sells-group/fieldrelay/internal/model"
)

// DefaultReportName is the filename suffix of delivered workbooks.
const DefaultReportName = "SlovarikDB"

// ArtifactReader reads the compiled workbook for a conversation and day.
type ArtifactReader interface {
	GetArtifact(ctx context.Context, conversationID string, day model.Day) ([]byte, error)
}

// Transport sends a file into a conversation.
type Transport interface {
	SendFile(ctx context.Context, conversationID, filename string, data []byte) error
}

// TransportError is a failed delivery.
type TransportError struct {
	ConversationID string
	Filename       string
	Err            error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("delivery: send %s to %s: %v", e.Filename, e.ConversationID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Coordinator delivers a conversation's workbook for today once the
// conversation goes quiet.
type Coordinator struct {
	store      ArtifactReader
	transport  Transport
	loc        *time.Location
	reportName string
	metrics    *metrics.Metrics
	now        func() time.Time
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLocation sets the zone that defines "today" and the filename hour.
func WithLocation(loc *time.Location) CoordinatorOption {
	return func(c *Coordinator) { c.loc = loc }
}

// WithReportName sets the filename suffix.
func WithReportName(name string) CoordinatorOption {
	return func(c *Coordinator) { c.reportName = name }
}

// WithMetrics counts deliveries by outcome.
func WithMetrics(m *metrics.Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(store ArtifactReader, transport Transport, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:      store,
		transport:  transport,
		loc:        time.UTC,
		reportName: DefaultReportName,
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.loc == nil {
		c.loc = time.UTC
	}
	return c
}

// Filename returns the delivered workbook name for time t.
func (c *Coordinator) Filename(t time.Time) string {
	t = t.In(c.loc)
	return fmt.Sprintf("%d_%d_%d_%d_%s.xlsx", t.Hour(), t.Day(), int(t.Month()), t.Year(), c.reportName)
}

// OnQuiet sends today's workbook for the conversation if one exists. It is
// the debouncer's expiry callback. Failed sends are not retried.
func (c *Coordinator) OnQuiet(ctx context.Context, conversationID string) error {
	now := c.now().In(c.loc)
	today := model.DayOf(now)
	log := zap.L().With(zap.String("conversation_id", conversationID), zap.Stringer("day", today))

	blob, err := c.store.GetArtifact(ctx, conversationID, today)
	if err != nil {
		c.metrics.IncDelivery(metrics.DeliveryFailed)
		return eris.Wrap(err, "delivery: read artifact")
	}
	if blob == nil {
		c.metrics.IncDelivery(metrics.DeliveryAbsent)
		log.Info("delivery: no report for today")
		return nil
	}

	filename := c.Filename(now)
	if err := c.transport.SendFile(ctx, conversationID, filename, blob); err != nil {
		c.metrics.IncDelivery(metrics.DeliveryFailed)
		return &TransportError{ConversationID: conversationID, Filename: filename, Err: err}
	}

	c.metrics.IncDelivery(metrics.DeliverySent)
	log.Info("delivery: report sent", zap.String("file", filename), zap.Int("bytes", len(blob)))
	return nil
}
