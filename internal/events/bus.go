// internal/events/bus.go
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrBusClosed  = errors.New("event bus is shutting down")
	ErrBufferFull = errors.New("event channel full")
)

type handlerEntry struct {
	id      string
	handler Handler
}

// Bus fans lifecycle events out to subscribers. Publish never blocks: monitor
// actors publish from their poll loop. Queued events are dispatched by a
// single goroutine in publish order, so subscribers see "started" before
// "triggered" for a token.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry

	queueMu sync.RWMutex
	closed  bool
	queue   chan Event

	dispatchCtx    context.Context
	cancelDispatch context.CancelFunc
	done           chan struct{}

	published atomic.Uint64
	dropped   atomic.Uint64

	logger *zap.Logger
}

func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize < 1 {
		bufferSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		handlers:       make(map[EventType][]handlerEntry),
		queue:          make(chan Event, bufferSize),
		dispatchCtx:    ctx,
		cancelDispatch: cancel,
		done:           make(chan struct{}),
		logger:         logger.Named("event_bus"),
	}
	go b.dispatch()
	return b
}

// Subscribe registers handler for eventType. Handlers of one type are called
// in subscription order.
func (b *Bus) Subscribe(eventType EventType, handler Handler) *Subscription {
	id := uuid.NewString()

	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], handlerEntry{id: id, handler: handler})
	b.mu.Unlock()

	b.logger.Debug("Handler subscribed",
		zap.String("event_type", string(eventType)),
		zap.String("subscription_id", id))

	return &Subscription{id: id, typ: eventType, bus: b}
}

func (b *Bus) SubscribeFunc(eventType EventType, fn func(context.Context, Event) error) *Subscription {
	return b.Subscribe(eventType, HandlerFunc(fn))
}

func (b *Bus) unsubscribe(id string, eventType EventType) {
	b.mu.Lock()
	entries := b.handlers[eventType]
	kept := entries[:0]
	for _, e := range entries {
		if e.id != id {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(b.handlers, eventType)
	} else {
		b.handlers[eventType] = kept
	}
	b.mu.Unlock()

	b.logger.Debug("Handler unsubscribed",
		zap.String("event_type", string(eventType)),
		zap.String("subscription_id", id))
}

// Publish queues event for asynchronous delivery. A full queue drops the
// event and returns ErrBufferFull.
func (b *Bus) Publish(event Event) error {
	b.queueMu.RLock()
	defer b.queueMu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}
	select {
	case b.queue <- event:
		b.published.Add(1)
		return nil
	default:
		b.dropped.Add(1)
		b.logger.Warn("Event queue full, dropping event",
			zap.String("event_type", string(event.Type())),
			zap.Uint64("dropped_total", b.dropped.Load()))
		return ErrBufferFull
	}
}

// PublishSync delivers event on the caller's goroutine and joins the
// handlers' errors.
func (b *Bus) PublishSync(ctx context.Context, event Event) error {
	b.mu.RLock()
	entries := append([]handlerEntry(nil), b.handlers[event.Type()]...)
	b.mu.RUnlock()

	var errs []error
	for _, e := range entries {
		if err := b.call(ctx, e, event); err != nil {
			b.logger.Error("Handler error",
				zap.String("event_type", string(event.Type())),
				zap.String("subscription_id", e.id),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("handlers failed for %s: %w", event.Type(), err)
	}
	return nil
}

func (b *Bus) call(ctx context.Context, e handlerEntry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return e.handler.Handle(ctx, event)
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for event := range b.queue {
		// Errors are already logged per handler.
		_ = b.PublishSync(b.dispatchCtx, event)
	}
}

// Shutdown stops accepting events and waits until the queued ones are
// delivered. When ctx ends first, in-flight handlers see a cancelled context
// and the remaining queue is abandoned.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.queueMu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
		b.logger.Info("Shutting down event bus", zap.Int("pending", len(b.queue)))
	}
	b.queueMu.Unlock()

	select {
	case <-b.done:
		b.cancelDispatch()
		b.logger.Info("Event bus stopped",
			zap.Uint64("published", b.published.Load()),
			zap.Uint64("dropped", b.dropped.Load()))
		return nil
	case <-ctx.Done():
		b.cancelDispatch()
		b.logger.Warn("Event bus shutdown timed out", zap.Int("pending", len(b.queue)))
		return ctx.Err()
	}
}

// Stats is a snapshot of the bus state.
type Stats struct {
	BufferSize      int            `json:"buffer_size"`
	PendingEvents   int            `json:"pending_events"`
	Published       uint64         `json:"published"`
	Dropped         uint64         `json:"dropped"`
	HandlersPerType map[string]int `json:"handlers_per_type"`
}

func (b *Bus) Stats() Stats {
	b.mu.RLock()
	counts := make(map[string]int, len(b.handlers))
	for t, entries := range b.handlers {
		counts[string(t)] = len(entries)
	}
	b.mu.RUnlock()

	return Stats{
		BufferSize:      cap(b.queue),
		PendingEvents:   len(b.queue),
		Published:       b.published.Load(),
		Dropped:         b.dropped.Load(),
		HandlersPerType: counts,
	}
}
