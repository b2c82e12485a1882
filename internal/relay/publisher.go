package relay

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fieldrelay/internal/model"
)

// Publisher publishes events through a bounded pool of NATS connections.
// Each publish borrows one connection and returns it afterwards.
type Publisher struct {
	cfg  Config
	dial func() (*nats.Conn, error)
	pool chan *nats.Conn

	mu     sync.Mutex
	closed bool
	open   []*nats.Conn
}

// NewPublisher creates a Publisher. Connections are dialed on first use.
func NewPublisher(cfg Config) *Publisher {
	cfg = cfg.withDefaults()
	p := &Publisher{cfg: cfg, pool: make(chan *nats.Conn, cfg.PoolSize)}
	p.dial = func() (*nats.Conn, error) { return Connect(cfg.URL, "fieldrelay-publisher") }
	for range cfg.PoolSize {
		p.pool <- nil
	}
	return p
}

// EnsureStream declares the relay stream using a pooled connection.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	nc, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer p.release(nc)

	js, err := nc.JetStream()
	if err != nil {
		return &RelayError{Op: "jetstream", Err: err}
	}
	return EnsureStream(js, p.cfg)
}

// Publish encodes ev and publishes it to the relay subject. An empty
// MessageID is filled with a random one; the broker drops re-publishes of
// the same message within the dedup window. The call gives up after
// Config.PublishTimeout.
func (p *Publisher) Publish(ctx context.Context, ev model.IngestEvent) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	if ev.MessageID == "" {
		ev.MessageID = uuid.NewString()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return &RelayError{Op: "encode", Err: err}
	}

	nc, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer p.release(nc)

	js, err := nc.JetStream()
	if err != nil {
		return &RelayError{Op: "jetstream", Err: err}
	}
	ack, err := js.Publish(p.cfg.Subject, data,
		nats.MsgId(ev.ConversationID+":"+ev.MessageID),
		nats.Context(ctx),
	)
	if err != nil {
		return &RelayError{Op: "publish", Err: err}
	}
	if ack.Duplicate {
		zap.L().Debug("relay: duplicate publish suppressed",
			zap.String("conversation_id", ev.ConversationID),
			zap.String("message_id", ev.MessageID),
		)
	}
	return nil
}

func (p *Publisher) acquire(ctx context.Context) (*nats.Conn, error) {
	var nc *nats.Conn
	select {
	case nc = <-p.pool:
	case <-ctx.Done():
		return nil, &RelayError{Op: "acquire", Err: ctx.Err()}
	}

	if nc != nil && !nc.IsClosed() {
		return nc, nil
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		p.pool <- nil
		return nil, &RelayError{Op: "acquire", Err: nats.ErrConnectionClosed}
	}

	nc, err := p.dial()
	if err != nil {
		p.pool <- nil
		return nil, &RelayError{Op: "connect", Err: err}
	}
	p.mu.Lock()
	p.open = append(p.open, nc)
	p.mu.Unlock()
	return nc, nil
}

func (p *Publisher) release(nc *nats.Conn) {
	if nc != nil && nc.IsClosed() {
		nc = nil
	}
	p.pool <- nc
}

// Close drains every connection the pool has opened.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for _, nc := range p.open {
		if nc.IsClosed() {
			continue
		}
		if err := nc.Drain(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return eris.Wrapf(errs[0], "relay: close %d connections", len(errs))
	}
	return nil
}
