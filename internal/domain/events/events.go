// Package events provides domain event handling capabilities for communicating
// state changes and important activities across system boundaries in a
// decoupled way.
package events

import (
	"context"
	"time"
)

// EventType represents a domain event category, enabling type-safe event
// routing and handling. It lets the system distinguish between different kinds
// of events like scan requests, queued record batches, and unprocessed writes.
type EventType string

// DomainEvent is implemented by domain types that can travel through the event
// bus. Implementations declare their category and creation time; everything
// else stays inside the concrete type.
type DomainEvent interface {
	EventType() EventType
	OccurredAt() time.Time
}

// EventEnvelope wraps a domain event with the transport-level information a
// consumer needs to process and acknowledge it.
type EventEnvelope struct {
	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Key enables consistent event routing, typically containing a business
	// identifier events can be grouped or partitioned by.
	Key string

	// Timestamp records when this envelope was created.
	Timestamp time.Time

	// Payload contains the actual event data. The concrete type depends on
	// the EventType.
	Payload any

	// Metadata carries the stream position this envelope was read from.
	Metadata EventMetadata
}

// EventMetadata identifies where in the underlying stream an envelope came
// from. A zero value means the envelope was produced locally.
type EventMetadata struct {
	Partition int32
	Offset    int64
}

// AckFunc acknowledges the handling outcome of a single envelope. A nil error
// marks the message processed; a non-nil error leaves it subject to the
// bus's redelivery policy.
type AckFunc func(error)

// HandlerFunc processes a single envelope delivered by an event bus
// subscription.
type HandlerFunc func(ctx context.Context, evt EventEnvelope, ack AckFunc) error

// PublishOption is a function type that modifies PublishParams, enabling
// flexible configuration of event publishing behavior through functional
// options.
type PublishOption func(*PublishParams)

// PublishParams contains configuration options for publishing domain events.
type PublishParams struct {
	// Key is used as a partition key to control event routing and ordering.
	Key string
	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string
}

// WithKey returns a PublishOption that sets the partition key for event
// routing. The key helps ensure related events are processed in order by the
// same consumer.
func WithKey(key string) PublishOption {
	return func(p *PublishParams) { p.Key = key }
}

// WithHeaders returns a PublishOption that attaches metadata headers to an
// event.
func WithHeaders(headers map[string]string) PublishOption {
	return func(p *PublishParams) { p.Headers = headers }
}
