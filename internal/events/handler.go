// internal/events/handler.go
package events

import (
	"context"
	"sync"
)

// Handler reacts to one published event. Handlers run on bus goroutines and
// must not block for long; a returned error is logged and otherwise ignored.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc lets a plain function serve as a Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Subscription is the handle returned by Bus.Subscribe. Unsubscribe may be
// called any number of times.
type Subscription struct {
	id   string
	typ  EventType
	bus  *Bus
	once sync.Once
}

// EventType is the event type the subscription listens to.
func (s *Subscription) EventType() EventType { return s.typ }

func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.unsubscribe(s.id, s.typ)
	})
}
