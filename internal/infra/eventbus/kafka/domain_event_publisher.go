package kafka

import (
	"context"

	"github.com/ahrav/hashferry/internal/domain/events"
)

var _ events.DomainEventPublisher = (*DomainEventPublisher)(nil)

// DomainEventPublisher publishes domain events on the Kafka-backed bus. It
// wraps each event in an envelope and maps domain publish options onto bus
// options so application code never touches transport details.
type DomainEventPublisher struct {
	eventBus   events.EventBus
	translator *events.DomainEventTranslator
}

// NewDomainEventPublisher creates a publisher on top of the given bus.
func NewDomainEventPublisher(bus events.EventBus, translator *events.DomainEventTranslator) *DomainEventPublisher {
	return &DomainEventPublisher{eventBus: bus, translator: translator}
}

// PublishDomainEvent wraps the event in an envelope stamped with its
// occurrence time and hands it to the bus.
func (pub *DomainEventPublisher) PublishDomainEvent(
	ctx context.Context,
	event events.DomainEvent,
	domainOpts ...events.PublishOption,
) error {
	envelope := events.EventEnvelope{
		Type:      event.EventType(),
		Timestamp: event.OccurredAt(),
		Payload:   event,
	}
	return pub.eventBus.Publish(ctx, envelope, pub.translator.ConvertDomainOptions(domainOpts)...)
}
