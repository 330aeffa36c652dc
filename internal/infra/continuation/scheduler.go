// Package continuation schedules follow-up scan invocations by publishing
// scan-control events. It bridges the migration domain's continuation port to
// the event publishing infrastructure, so a worker that runs out of budget
// never calls itself.
package continuation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/hashferry/internal/domain/events"
	"github.com/ahrav/hashferry/internal/domain/migration"
)

var _ migration.ContinuationScheduler = (*DomainEventContinuationScheduler)(nil)

// DomainEventContinuationScheduler publishes a ScanRequested event for a shard
// so a later worker invocation picks the partition up from its persisted
// cursor. Events are keyed by shard, keeping one partition's invocations on a
// single queue partition, in order.
type DomainEventContinuationScheduler struct {
	domainPublisher events.DomainEventPublisher
	tracer          trace.Tracer
}

// New creates a DomainEventContinuationScheduler.
func New(domainPublisher events.DomainEventPublisher, tracer trace.Tracer) *DomainEventContinuationScheduler {
	return &DomainEventContinuationScheduler{domainPublisher: domainPublisher, tracer: tracer}
}

// ScheduleContinuation publishes one ScanRequested event for the shard. The
// caller owns retry; a returned error means this single publish failed.
func (s *DomainEventContinuationScheduler) ScheduleContinuation(ctx context.Context, shard migration.Shard) error {
	ctx, span := s.tracer.Start(
		ctx,
		"continuation_scheduler.schedule_continuation",
		trace.WithAttributes(
			attribute.Int("partition_id", shard.PartitionID),
			attribute.Int("total_partitions", shard.TotalPartitions),
		),
	)
	defer span.End()

	evt := migration.NewScanRequestedEvent(shard)
	if err := s.domainPublisher.PublishDomainEvent(ctx, evt, events.WithKey(shard.String())); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish scan requested event")
		return fmt.Errorf("failed to publish scan requested event (shard: %s): %w", shard, err)
	}
	span.SetStatus(codes.Ok, "scan requested event published")
	span.AddEvent("scan_requested_event_published")

	return nil
}
