package delivery

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/fieldrelay/internal/metrics"
	"github.com/sells-group/fieldrelay/internal/model"
)

// MessageLog appends inbound messages to the message history.
type MessageLog interface {
	SaveMessage(ctx context.Context, msg model.ChatMessage) error
}

// Publisher hands events to the worker.
type Publisher interface {
	Publish(ctx context.Context, ev model.IngestEvent) error
}

// Resetter re-arms a conversation's quiet timer.
type Resetter interface {
	Reset(conversationID string)
}

// Ingestor handles inbound conversation messages on the bot side.
type Ingestor struct {
	log       MessageLog
	publisher Publisher
	timers    Resetter
	metrics   *metrics.Metrics
}

// NewIngestor creates an Ingestor. log may be nil to skip the message log.
func NewIngestor(log MessageLog, publisher Publisher, timers Resetter, m *metrics.Metrics) *Ingestor {
	return &Ingestor{log: log, publisher: publisher, timers: timers, metrics: m}
}

// HandleMessage resets the conversation's quiet timer, then logs msg (best
// effort) and relays it. The reset happens first so a slow message log or
// relay never holds it back; a publish error is logged and returned.
func (i *Ingestor) HandleMessage(ctx context.Context, msg model.ChatMessage, messageID string) error {
	log := zap.L().With(zap.String("conversation_id", msg.ConversationID), zap.String("message_id", messageID))
	i.metrics.IncIngested()
	i.timers.Reset(msg.ConversationID)

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	if i.log != nil {
		if err := i.log.SaveMessage(ctx, msg); err != nil {
			log.Warn("delivery: save message failed", zap.Error(err))
		}
	}

	sender := msg.SenderName
	if sender == "" && msg.SenderID != 0 {
		sender = strconv.FormatInt(msg.SenderID, 10)
	}
	ev := model.NewIngestEvent(msg.ConversationID, msg.Title, sender, msg.Text, messageID, msg.CreatedAt)

	if err := i.publisher.Publish(ctx, ev); err != nil {
		i.metrics.IncPublishFailure()
		log.Error("delivery: relay publish failed", zap.Error(err))
		return err
	}
	log.Debug("delivery: message relayed")
	return nil
}
