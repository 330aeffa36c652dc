package scanning

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/hashferry/internal/domain/events"
	"github.com/ahrav/hashferry/internal/domain/migration"
	"github.com/ahrav/hashferry/pkg/common/logger"
)

// seedConcurrency bounds how many scan requests are published in parallel.
const seedConcurrency = 8

// Seeder starts or resumes a staged migration by publishing one ScanRequested
// event per partition. Re-seeding is safe: exhausted partitions answer their
// request with a no-op invocation, so only unfinished partitions do work.
type Seeder struct {
	stage           string
	totalPartitions int

	publisher   events.DomainEventPublisher
	checkpoints migration.CheckpointStore

	logger *logger.Logger
	tracer trace.Tracer
}

// NewSeeder creates a Seeder for the given stage and partition count.
func NewSeeder(
	stage string,
	totalPartitions int,
	publisher events.DomainEventPublisher,
	checkpoints migration.CheckpointStore,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Seeder {
	return &Seeder{
		stage:           stage,
		totalPartitions: totalPartitions,
		publisher:       publisher,
		checkpoints:     checkpoints,
		logger:          logger.With("component", "seeder"),
		tracer:          tracer,
	}
}

// Seed publishes scan requests for every partition, unless the stage's stop
// signal is present, in which case it publishes nothing.
func (s *Seeder) Seed(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "seeder.seed",
		trace.WithAttributes(
			attribute.String("stage", s.stage),
			attribute.Int("total_partitions", s.totalPartitions),
		),
	)
	defer span.End()

	if s.totalPartitions < 1 {
		err := fmt.Errorf("total partitions must be >= 1, got %d", s.totalPartitions)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid partition count")
		return err
	}

	_, halted, err := s.checkpoints.Get(ctx, migration.HaltKey(s.stage))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read halt signal")
		return fmt.Errorf("read halt signal: %w", err)
	}
	if halted {
		span.AddEvent("halt_signal_present")
		s.logger.Warn(ctx, "Stop signal present; seeding skipped", "stage", s.stage)
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(seedConcurrency)

	for pid := 0; pid < s.totalPartitions; pid++ {
		shard := migration.Shard{TotalPartitions: s.totalPartitions, PartitionID: pid}
		g.Go(func() error {
			evt := migration.NewScanRequestedEvent(shard)
			if err := s.publisher.PublishDomainEvent(ctx, evt, events.WithKey(shard.String())); err != nil {
				return fmt.Errorf("publish scan request (shard: %s): %w", shard, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to seed scan requests")
		return err
	}

	span.AddEvent("scan_requests_published", trace.WithAttributes(
		attribute.Int("count", s.totalPartitions),
	))
	span.SetStatus(codes.Ok, "scan requests published")
	s.logger.Info(ctx, "Scan requests published", "count", s.totalPartitions)

	return nil
}
