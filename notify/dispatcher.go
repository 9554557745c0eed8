package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/pos-ledger/ledger"
)

const (
	defaultQueueSize      = 1024
	defaultPublishTimeout = 5 * time.Second
)

// DropFunc is told about every event that was not delivered.
// reason is "queue_full", "closed" or "publish_failed".
type DropFunc func(ev Event, reason string)

// Dispatcher queues events and publishes them from a single worker. Observe
// and Emit never block: when the queue is full the event is dropped.
type Dispatcher struct {
	publisher Publisher
	logger    zerolog.Logger
	onDrop    DropFunc
	timeout   time.Duration

	queue  chan Event
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type DispatcherOption func(*Dispatcher)

func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) { d.queue = make(chan Event, n) }
}

func WithDispatchLogger(lg zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = lg }
}

func WithDropFunc(f DropFunc) DispatcherOption {
	return func(d *Dispatcher) { d.onDrop = f }
}

func WithPublishTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = t }
}

// NewDispatcher starts the worker. Call Close to drain and stop it.
func NewDispatcher(p Publisher, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		publisher: p,
		logger:    zerolog.Nop(),
		timeout:   defaultPublishTimeout,
		queue:     make(chan Event, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.wg.Add(1)
	go d.run()
	return d
}

var _ ledger.Listener = (*Dispatcher)(nil)

// Observe turns a ledger outcome into an event.
func (d *Dispatcher) Observe(ctx context.Context, o ledger.Outcome) {
	if ev, ok := FromOutcome(o); ok {
		d.Emit(ctx, ev)
	}
}

// Emit queues ev for publishing.
func (d *Dispatcher) Emit(_ context.Context, ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(ev, "closed")
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.drop(ev, "queue_full")
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for ev := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.publisher.Publish(ctx, ev)
		cancel()
		if err != nil {
			d.logger.Error().Err(err).
				Str("event_id", ev.ID).
				Str("event_type", ev.Type).
				Str("account_id", string(ev.AccountID)).
				Msg("event publish failed")
			d.drop(ev, "publish_failed")
		}
	}
}

func (d *Dispatcher) drop(ev Event, reason string) {
	if reason != "publish_failed" {
		d.logger.Warn().
			Str("event_id", ev.ID).
			Str("event_type", ev.Type).
			Str("reason", reason).
			Msg("event dropped")
	}
	if d.onDrop != nil {
		d.onDrop(ev, reason)
	}
}

// Close stops accepting events, publishes what is queued and closes the
// publisher.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	return d.publisher.Close()
}

// =============================================================================
// LOG PUBLISHER
// =============================================================================

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	Logger zerolog.Logger
}

func (p LogPublisher) Publish(_ context.Context, events ...Event) error {
	for _, ev := range events {
		e := p.Logger.Info().
			Str("event_id", ev.ID).
			Str("event_type", ev.Type).
			Str("account_id", string(ev.AccountID)).
			Str("account_type", string(ev.AccountType))
		if ev.Kind != "" {
			e = e.Str("kind", string(ev.Kind))
		}
		if ev.Entry != nil {
			e = e.Int64("entry_id", int64(ev.Entry.ID))
		}
		e.Msg("ledger event")
	}
	return nil
}

func (LogPublisher) Close() error { return nil }
