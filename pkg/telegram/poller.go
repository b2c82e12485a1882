package telegram

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MessageHandler receives one group text message.
type MessageHandler func(ctx context.Context, msg Message)

// Poller long-polls getUpdates and hands every group text message to a
// handler on its own goroutine.
type Poller struct {
	client  Client
	handler MessageHandler
	timeout time.Duration
	backoff time.Duration
	offset  int64
}

// NewPoller creates a Poller with the given long-poll timeout.
func NewPoller(client Client, handler MessageHandler, timeout time.Duration) *Poller {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Poller{client: client, handler: handler, timeout: timeout, backoff: 3 * time.Second}
}

// Run polls until ctx is cancelled, then waits for running handlers.
func (p *Poller) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		updates, err := p.client.GetUpdates(ctx, p.offset, p.timeout)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			wait := p.backoff
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
				wait = apiErr.RetryAfter
			}
			zap.L().Warn("telegram: getUpdates failed", zap.Error(err), zap.Duration("retry_in", wait))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= p.offset {
				p.offset = u.UpdateID + 1
			}
			if u.Message == nil || u.Message.Text == "" || !u.Message.Chat.IsGroup() {
				continue
			}
			msg := *u.Message
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.handler(ctx, msg)
			}()
		}
	}
}
