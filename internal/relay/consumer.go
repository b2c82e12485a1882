package relay

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fieldrelay/internal/metrics"
	"github.com/sells-group/fieldrelay/internal/model"
	"github.com/sells-group/fieldrelay/internal/resilience"
)

// Handler processes one event. A nil error acknowledges it; errors are
// classified into redelivery or drop.
type Handler func(ctx context.Context, ev model.IngestEvent) error

// Consumer drains the relay stream through a durable pull subscription,
// one message at a time. Several Consumers bound to the same durable share
// the stream, up to Config.MaxAckPending unacked messages in total.
type Consumer struct {
	cfg     Config
	sub     *nats.Subscription
	metrics *metrics.Metrics

	// redeliverDelay is how long a transiently failed event waits before the
	// broker hands it out again.
	redeliverDelay time.Duration
}

// NewConsumer declares the stream if needed and binds the durable consumer.
func NewConsumer(nc *nats.Conn, cfg Config, m *metrics.Metrics) (*Consumer, error) {
	cfg = cfg.withDefaults()
	js, err := nc.JetStream()
	if err != nil {
		return nil, &RelayError{Op: "jetstream", Err: err}
	}
	if err := EnsureStream(js, cfg); err != nil {
		return nil, err
	}

	if err := ensureConsumer(js, cfg); err != nil {
		return nil, err
	}
	sub, err := js.PullSubscribe(cfg.Subject, cfg.Durable, nats.Bind(cfg.Stream, cfg.Durable))
	if err != nil {
		return nil, eris.Wrapf(err, "relay: bind consumer %s", cfg.Durable)
	}
	return &Consumer{cfg: cfg, sub: sub, metrics: m, redeliverDelay: 10 * time.Second}, nil
}

// Run fetches and handles events until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	log := zap.L().With(zap.String("durable", c.cfg.Durable))
	log.Info("relay: consumer started")

	for {
		if ctx.Err() != nil {
			log.Info("relay: consumer stopped")
			return nil
		}

		fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchWait)
		msgs, err := c.sub.Fetch(1, nats.Context(fetchCtx))
		cancel()

		switch {
		case err == nil:
		case ctx.Err() != nil:
			log.Info("relay: consumer stopped")
			return nil
		case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			continue
		case errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrBadSubscription):
			return &RelayError{Op: "fetch", Err: err}
		default:
			log.Warn("relay: fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			c.handle(ctx, msg, h)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg *nats.Msg, h Handler) {
	log := zap.L().With(zap.String("subject", msg.Subject))

	var ev model.IngestEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		log.Error("relay: undecodable event, terminating", zap.Error(err))
		c.settle(msg.Term(), "terminate", log)
		return
	}
	if err := ev.Validate(); err != nil {
		log.Error("relay: invalid event, terminating", zap.Error(err))
		c.settle(msg.Term(), "terminate", log)
		return
	}
	log = log.With(
		zap.String("conversation_id", ev.ConversationID),
		zap.String("message_id", ev.MessageID),
	)

	err := safeHandle(ctx, h, ev)
	if err == nil {
		c.settle(msg.Ack(), "ack", log)
		return
	}

	switch resilience.Classify(err) {
	case resilience.Redeliver:
		log.Warn("relay: transient failure, redelivering", zap.Error(err))
		c.settle(msg.NakWithDelay(c.redeliverDelay), resilience.Redeliver.String(), log)
	default:
		log.Error("relay: processing failed, dropping", zap.Error(err))
		c.settle(msg.Ack(), resilience.Drop.String(), log)
	}
}

func (c *Consumer) settle(err error, disposition string, log *zap.Logger) {
	c.metrics.IncConsumed(disposition)
	if err != nil {
		log.Warn("relay: settle message failed", zap.String("disposition", disposition), zap.Error(err))
	}
}

func safeHandle(ctx context.Context, h Handler, ev model.IngestEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("relay: handler panic: %v", r)
		}
	}()
	return h(ctx, ev)
}

// ensureConsumer creates the durable consumer up front so that closing the
// subscription never deletes it.
func ensureConsumer(js nats.JetStreamContext, cfg Config) error {
	info, err := js.ConsumerInfo(cfg.Stream, cfg.Durable)
	if err == nil {
		if info.Config.MaxAckPending == cfg.MaxAckPending {
			return nil
		}
		updated := info.Config
		updated.MaxAckPending = cfg.MaxAckPending
		if _, err := js.UpdateConsumer(cfg.Stream, &updated); err != nil {
			return eris.Wrapf(err, "relay: update consumer %s", cfg.Durable)
		}
		return nil
	}
	if !errors.Is(err, nats.ErrConsumerNotFound) {
		return eris.Wrapf(err, "relay: consumer info %s", cfg.Durable)
	}
	_, err = js.AddConsumer(cfg.Stream, &nats.ConsumerConfig{
		Durable:       cfg.Durable,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		FilterSubject: cfg.Subject,
		MaxAckPending: cfg.MaxAckPending,
	})
	if err != nil {
		return eris.Wrapf(err, "relay: add consumer %s", cfg.Durable)
	}
	return nil
}
