package notifications

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"waster/internal/middleware"
	"waster/internal/observability"
)

// Sink is one delivery channel for claim events.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event ClaimEvent) error
}

const deliverTimeout = 5 * time.Second

// Dispatcher queues events in memory and delivers them to every sink from
// a single worker. A full queue drops events instead of blocking callers.
type Dispatcher struct {
	queue chan ClaimEvent
	sinks []Sink

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	once   sync.Once
}

// NewDispatcher creates a dispatcher with a bounded queue.
func NewDispatcher(size int, sinks ...Sink) *Dispatcher {
	if size <= 0 {
		size = 1
	}
	return &Dispatcher{
		queue: make(chan ClaimEvent, size),
		sinks: sinks,
		done:  make(chan struct{}),
	}
}

// Start runs the delivery worker until Close.
func (d *Dispatcher) Start() {
	d.once.Do(func() {
		go d.run()
	})
}

// Publish implements Publisher.
func (d *Dispatcher) Publish(events ...ClaimEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, event := range events {
		if d.closed {
			observability.EventsDropped.WithLabelValues("queue", "closed").Inc()
			continue
		}
		select {
		case d.queue <- event:
		default:
			observability.EventsDropped.WithLabelValues("queue", "full").Inc()
			middleware.Logger.Warn("claim event dropped, queue full",
				slog.String("event_type", string(event.EventType)),
				slog.String("claim_id", event.ClaimID.String()))
		}
	}
}

// Close stops accepting events and waits for queued ones to be delivered
// or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	d.Start()
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.queue {
		for _, sink := range d.sinks {
			d.deliver(sink, event)
		}
	}
}

func (d *Dispatcher) deliver(sink Sink, event ClaimEvent) {
	defer func() {
		if r := recover(); r != nil {
			observability.EventsDropped.WithLabelValues(sink.Name(), "panic").Inc()
			middleware.Logger.Error("PANIC in claim event sink",
				slog.String("sink", sink.Name()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	if err := sink.Deliver(ctx, event); err != nil {
		observability.EventsDropped.WithLabelValues(sink.Name(), "error").Inc()
		middleware.Logger.Warn("claim event delivery failed",
			slog.String("sink", sink.Name()),
			slog.String("event_type", string(event.EventType)),
			slog.String("user_id", event.UserID),
			slog.String("error", err.Error()))
		return
	}
	observability.EventsPublished.WithLabelValues(sink.Name()).Inc()
}
