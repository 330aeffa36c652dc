// Package memory provides an in-memory implementation of the event bus.
// It offers a lightweight, non-persistent broker suitable for tests and
// single-process development environments where durability is not required.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/ahrav/hashferry/internal/domain/events"
)

const defaultMaxReceives = 3

type subscription struct {
	id      uint64
	handler events.HandlerFunc
}

// EventBus is an in-memory events.EventBus. Delivery is synchronous: Publish
// invokes every matching handler before returning. A handler error triggers
// immediate redelivery up to the receive limit; envelopes that exhaust their
// receives move to the dead-letter list, mirroring the durable bus's
// redelivery policy closely enough for pipeline tests to exercise
// at-least-once behavior.
type EventBus struct {
	mu     sync.RWMutex
	nextID uint64
	closed bool

	handlers    map[events.EventType][]subscription
	maxReceives int
	deadLetters []events.EventEnvelope
}

var _ events.EventBus = (*EventBus)(nil)

// NewEventBus creates an empty in-memory bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers:    make(map[events.EventType][]subscription),
		maxReceives: defaultMaxReceives,
	}
}

// Publish delivers the envelope to every handler subscribed to its type.
// Handler failures never surface to the publisher; an envelope whose handler
// keeps failing lands on the dead-letter list instead. Publishing a type
// nobody subscribed to succeeds and drops the envelope.
func (b *EventBus) Publish(ctx context.Context, evt events.EventEnvelope, opts ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errors.New("event bus is closed")
	}
	// Copy to avoid holding the lock while handlers execute.
	subs := make([]subscription, len(b.handlers[evt.Type]))
	copy(subs, b.handlers[evt.Type])
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.deliver(ctx, sub.handler, evt)
	}
	return nil
}

// deliver runs one handler against the envelope, retrying failures until the
// receive limit is exhausted.
func (b *EventBus) deliver(ctx context.Context, handler events.HandlerFunc, evt events.EventEnvelope) {
	for receive := 1; receive <= b.maxReceives; receive++ {
		if err := handler(ctx, evt, func(error) {}); err == nil {
			return
		}
	}

	b.mu.Lock()
	b.deadLetters = append(b.deadLetters, evt)
	b.mu.Unlock()
}

// Subscribe registers the handler for every listed event type. Multiple
// handlers can subscribe to the same type and all receive published
// envelopes. The subscription is removed when ctx is canceled.
func (b *EventBus) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("event bus is closed")
	}
	b.nextID++
	id := b.nextID
	for _, et := range eventTypes {
		b.handlers[et] = append(b.handlers[et], subscription{id: id, handler: handler})
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, et := range eventTypes {
			subs := b.handlers[et]
			kept := subs[:0]
			for _, sub := range subs {
				if sub.id != id {
					kept = append(kept, sub)
				}
			}
			b.handlers[et] = kept
		}
	}()

	return nil
}

// DeadLetters returns a copy of the envelopes that exhausted their receives.
func (b *EventBus) DeadLetters() []events.EventEnvelope {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]events.EventEnvelope, len(b.deadLetters))
	copy(out, b.deadLetters)
	return out
}

// Close drops all subscriptions and rejects further publishes and
// subscriptions.
func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[events.EventType][]subscription)
	return nil
}
