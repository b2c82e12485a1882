// Package debounce runs a callback once a conversation has been quiet for a
// fixed interval.
package debounce

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/fieldrelay/internal/metrics"
)

// Callback is invoked when a conversation's quiet timer expires.
type Callback func(ctx context.Context, conversationID string) error

// task is one scheduled expiry. done is closed once the task can no longer
// run its callback, either because it was cancelled or because the callback
// returned.
type task struct {
	timer   *time.Timer
	done    chan struct{}
	prev    <-chan struct{}
	resetAt time.Time
	fired   bool
}

// Debouncer keeps at most one live timer per conversation. A task stays in
// tasks until its callback returns, so a later Reset can chain behind it.
type Debouncer struct {
	quiet    time.Duration
	callback Callback
	timeout  time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	tasks   map[string]*task
	closed  bool
	running sync.WaitGroup
}

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithMetrics records resets, expiries and the number of live timers.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Debouncer) { d.metrics = m }
}

// WithCallbackTimeout bounds each callback invocation.
func WithCallbackTimeout(t time.Duration) Option {
	return func(d *Debouncer) { d.timeout = t }
}

// New creates a Debouncer that calls cb after quiet has elapsed since the
// last Reset of a conversation.
func New(quiet time.Duration, cb Callback, opts ...Option) *Debouncer {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Debouncer{
		quiet:    quiet,
		callback: cb,
		timeout:  time.Minute,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		tasks:    make(map[string]*task),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Reset cancels the conversation's pending timer, if any, and schedules a
// new one. A timer that has already fired is left to finish; the new timer's
// callback waits for it.
func (d *Debouncer) Reset(conversationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	var prev <-chan struct{}
	if old, ok := d.tasks[conversationID]; ok {
		if !old.fired && old.timer.Stop() {
			close(old.done)
			prev = old.prev
		} else {
			prev = old.done
		}
	}

	t := &task{done: make(chan struct{}), prev: prev, resetAt: d.now()}
	t.timer = time.AfterFunc(d.quiet, func() { d.fire(conversationID, t) })
	d.tasks[conversationID] = t

	d.metrics.IncReset()
	d.metrics.SetPending(d.pendingLocked())
}

func (d *Debouncer) fire(conversationID string, t *task) {
	d.mu.Lock()
	t.fired = true
	if d.closed {
		d.finishLocked(conversationID, t)
		d.mu.Unlock()
		return
	}
	d.running.Add(1)
	pending := d.pendingLocked()
	d.mu.Unlock()

	defer d.running.Done()
	defer func() {
		d.mu.Lock()
		d.finishLocked(conversationID, t)
		d.mu.Unlock()
	}()

	d.metrics.SetPending(pending)
	d.metrics.IncExpiry()

	if t.prev != nil {
		select {
		case <-t.prev:
		case <-d.ctx.Done():
			return
		}
	}

	d.invoke(conversationID)
}

// finishLocked releases t's successor and drops t from the map if no newer
// task replaced it.
func (d *Debouncer) finishLocked(conversationID string, t *task) {
	close(t.done)
	if d.tasks[conversationID] == t {
		delete(d.tasks, conversationID)
	}
}

func (d *Debouncer) pendingLocked() int {
	n := 0
	for _, t := range d.tasks {
		if !t.fired {
			n++
		}
	}
	return n
}

func (d *Debouncer) invoke(conversationID string) {
	log := zap.L().With(zap.String("conversation_id", conversationID))

	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Error("debounce: callback panicked", zap.String("panic", fmt.Sprint(r)))
		}
	}()
	if err := d.callback(ctx, conversationID); err != nil {
		log.Error("debounce: callback failed", zap.Error(err))
	}
}

// CancelAll stops every pending timer and waits up to grace for callbacks
// that are already running. It reports whether they all finished in time.
// The Debouncer ignores Reset afterwards.
func (d *Debouncer) CancelAll(grace time.Duration) bool {
	d.mu.Lock()
	d.closed = true
	for id, t := range d.tasks {
		if !t.fired && t.timer.Stop() {
			close(t.done)
			delete(d.tasks, id)
		}
	}
	d.mu.Unlock()
	d.metrics.SetPending(0)

	finished := make(chan struct{})
	go func() {
		d.running.Wait()
		close(finished)
	}()

	defer d.cancel()
	select {
	case <-finished:
		return true
	case <-time.After(grace):
		zap.L().Warn("debounce: callbacks still running after grace period", zap.Duration("grace", grace))
		return false
	}
}

// Pending returns the number of scheduled timers.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pendingLocked()
}

// LastReset returns when the conversation's pending timer was scheduled.
func (d *Debouncer) LastReset(conversationID string) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tasks[conversationID]
	if !ok || t.fired {
		return time.Time{}, false
	}
	return t.resetAt, true
}
