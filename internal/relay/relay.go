// Package relay carries IngestEvents from the bot to the worker over a
// durable NATS JetStream stream.
package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Config describes the stream, subject and consumer shared by both sides.
type Config struct {
	URL         string
	Stream      string
	Subject     string
	Durable     string
	PoolSize    int
	FetchWait   time.Duration
	DedupWindow time.Duration
	AckWait     time.Duration
	// PublishTimeout bounds one Publish, including the wait for a pooled
	// connection and the broker ack.
	PublishTimeout time.Duration
	// MaxAckPending caps unacked messages across every worker bound to the
	// durable.
	MaxAckPending int
}

func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
	if c.FetchWait <= 0 {
		c.FetchWait = 5 * time.Second
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 2 * time.Minute
	}
	if c.AckWait <= 0 {
		c.AckWait = 5 * time.Minute
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 10 * time.Second
	}
	if c.MaxAckPending <= 0 {
		c.MaxAckPending = 64
	}
	return c
}

// RelayError is returned when an event cannot be handed to the broker.
type RelayError struct {
	Op  string
	Err error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay: %s: %v", e.Op, e.Err)
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

// Connect dials NATS with reconnects enabled.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				zap.L().Warn("relay: disconnected", zap.String("name", name), zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			zap.L().Info("relay: reconnected", zap.String("name", name), zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "relay: connect %s", url)
	}
	return nc, nil
}

// EnsureStream declares the stream with file storage and work-queue
// retention if it does not exist yet.
func EnsureStream(js nats.JetStreamContext, cfg Config) error {
	cfg = cfg.withDefaults()
	_, err := js.StreamInfo(cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return eris.Wrapf(err, "relay: stream info %s", cfg.Stream)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.Subject},
		Storage:    nats.FileStorage,
		Retention:  nats.WorkQueuePolicy,
		Duplicates: cfg.DedupWindow,
	})
	if err != nil {
		return eris.Wrapf(err, "relay: add stream %s", cfg.Stream)
	}
	zap.L().Info("relay: stream created",
		zap.String("stream", cfg.Stream),
		zap.String("subject", cfg.Subject),
	)
	return nil
}
