package queue

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/hashferry/internal/domain/events"
	"github.com/ahrav/hashferry/internal/domain/migration"
	"github.com/ahrav/hashferry/pkg/common/logger"
)

var _ migration.UnprocessedSink = (*DomainEventUnprocessedSink)(nil)

// DomainEventUnprocessedSink publishes uncommitted destination writes to the
// redrive side channel. Batches arrive already bounded by the writer's batch
// size, so one Forward call is one message.
type DomainEventUnprocessedSink struct {
	retryBudget time.Duration

	domainPublisher events.DomainEventPublisher

	logger *logger.Logger
	tracer trace.Tracer
}

// NewDomainEventUnprocessedSink creates a sink with the given publish retry
// budget; zero falls back to the dispatcher default.
func NewDomainEventUnprocessedSink(
	retryBudget time.Duration,
	domainPublisher events.DomainEventPublisher,
	logger *logger.Logger,
	tracer trace.Tracer,
) *DomainEventUnprocessedSink {
	if retryBudget <= 0 {
		retryBudget = defaultPublishRetryBudget
	}
	return &DomainEventUnprocessedSink{
		retryBudget:     retryBudget,
		domainPublisher: domainPublisher,
		logger:          logger.With("component", "unprocessed_sink"),
		tracer:          tracer,
	}
}

// Forward publishes the writes as one WritesUnprocessed event, keyed by the
// first write's hash key.
func (s *DomainEventUnprocessedSink) Forward(ctx context.Context, writes []migration.UnprocessedWrite) error {
	if len(writes) == 0 {
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "unprocessed_sink.forward",
		trace.WithAttributes(attribute.Int("write_count", len(writes))),
	)
	defer span.End()

	evt := migration.NewWritesUnprocessedEvent(writes)
	key := writes[0].Record.Key
	publish := func() error {
		return s.domainPublisher.PublishDomainEvent(ctx, evt, events.WithKey(key))
	}
	if err := retryPublish(ctx, s.retryBudget, s.logger, publish); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish unprocessed writes")
		return fmt.Errorf("publish unprocessed writes (key: %s): %w", key, err)
	}

	span.AddEvent("unprocessed_writes_published")
	span.SetStatus(codes.Ok, "unprocessed writes published")
	return nil
}
