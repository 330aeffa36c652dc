package loading

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/hashferry/internal/domain/events"
	"github.com/ahrav/hashferry/internal/domain/migration"
	"github.com/ahrav/hashferry/pkg/common/logger"
)

// PipelineMetrics defines the metrics the consumer pipeline emits.
type PipelineMetrics interface {
	// IncMessagesProcessed records a fully processed batch message.
	IncMessagesProcessed(ctx context.Context)
	// IncMessagesFailed records a batch message that errored before completion.
	IncMessagesFailed(ctx context.Context)
	// AddCandidates records destination rows produced by expansion.
	AddCandidates(ctx context.Context, count int)
	// AddRecordsWritten records rows committed to the destination store.
	AddRecordsWritten(ctx context.Context, count int)
	// AddRecordsSkipped records candidates the filter dropped, whether as
	// in-batch duplicates or as rows already present in the store.
	AddRecordsSkipped(ctx context.Context, count int)
	// AddWritesUnprocessed records rows the store reported back unwritten.
	AddWritesUnprocessed(ctx context.Context, count int)
}

// Tally summarizes the processing of one batch message.
type Tally struct {
	// ItemCount is the number of destination rows the message expanded to.
	ItemCount int
	// WriteCount is the number of rows the destination store committed.
	WriteCount int
	// UnprocessedCount is the number of rows forwarded for redrive after the
	// store reported them unwritten. For every message,
	// WriteCount + UnprocessedCount equals the number of rows submitted to
	// the store.
	UnprocessedCount int
}

// Tuning defaults for the consumer pipeline. Read batches bound one
// existence query; write batches bound one store call.
const (
	defaultReadBatchSize  = 100
	defaultWriteBatchSize = 25
)

// Pipeline consumes queued batch messages and drives each through
// expand, filter, and write. Processing is idempotent: the existence filter
// plus the store's insert-if-absent semantics make redelivered messages
// converge without duplicating rows, which is what lets the queue promise
// only at-least-once delivery.
type Pipeline struct {
	readBatchSize  int
	writeBatchSize int

	filter *ExistenceFilter
	writer *BatchWriter
	sink   migration.UnprocessedSink

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics PipelineMetrics
}

// NewPipeline assembles the consumer pipeline from its stages.
func NewPipeline(
	filter *ExistenceFilter,
	writer *BatchWriter,
	sink migration.UnprocessedSink,
	logger *logger.Logger,
	tracer trace.Tracer,
	metrics PipelineMetrics,
) *Pipeline {
	return &Pipeline{
		readBatchSize:  defaultReadBatchSize,
		writeBatchSize: defaultWriteBatchSize,
		filter:         filter,
		writer:         writer,
		sink:           sink,
		logger:         logger.With("component", "consumer_pipeline"),
		tracer:         tracer,
		metrics:        metrics,
	}
}

var _ events.EventHandler = (*Pipeline)(nil)

// SupportedEvents implements events.EventHandler.
func (p *Pipeline) SupportedEvents() []events.EventType {
	return []events.EventType{migration.EventTypeBatchQueued}
}

// HandleEvent processes one queued batch message. The message is acked only
// after every row has been committed or forwarded to the unprocessed sink;
// any failure leaves the message unacked so the bus redelivers it.
func (p *Pipeline) HandleEvent(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
	ctx, span := p.tracer.Start(ctx, "consumer_pipeline.handle_event",
		trace.WithAttributes(
			attribute.String("event_type", string(evt.Type)),
			attribute.Int64("offset", evt.Metadata.Offset),
			attribute.Int("partition", int(evt.Metadata.Partition)),
		),
	)
	defer span.End()

	batch, ok := evt.Payload.(migration.BatchQueuedEvent)
	if !ok {
		err := fmt.Errorf("expected BatchQueuedEvent payload, got %T", evt.Payload)
		p.metrics.IncMessagesFailed(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid event payload")
		return err
	}

	tally, err := p.Process(ctx, batch.Records)
	if err != nil {
		p.metrics.IncMessagesFailed(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch processing failed")
		return err
	}

	p.metrics.IncMessagesProcessed(ctx)
	span.AddEvent("batch_processed", trace.WithAttributes(
		attribute.Int("item_count", tally.ItemCount),
		attribute.Int("write_count", tally.WriteCount),
		attribute.Int("unprocessed_count", tally.UnprocessedCount),
	))
	p.logger.Info(ctx, "Batch processed",
		"records", len(batch.Records),
		"items", tally.ItemCount,
		"written", tally.WriteCount,
		"unprocessed", tally.UnprocessedCount,
	)

	ack(nil)
	return nil
}

// Process expands the source records into destination rows and drives them
// through the filter and writer in bounded slices. Filtering runs per read
// batch; survivors accumulate across read batches and flush whenever a full
// write batch is available, so a mostly-migrated keyspace still produces
// full-sized writes instead of fragments.
func (p *Pipeline) Process(ctx context.Context, records []migration.SourceRecord) (Tally, error) {
	ctx, span := p.tracer.Start(ctx, "consumer_pipeline.process",
		trace.WithAttributes(attribute.Int("record_count", len(records))),
	)
	defer span.End()

	var tally Tally

	candidates := make([]migration.DestinationRecord, 0, len(records))
	for _, rec := range records {
		candidates = append(candidates, migration.Transform(rec)...)
	}
	tally.ItemCount = len(candidates)
	p.metrics.AddCandidates(ctx, len(candidates))

	var pending []migration.DestinationRecord
	for start := 0; start < len(candidates); start += p.readBatchSize {
		end := min(start+p.readBatchSize, len(candidates))

		survivors, err := p.filter.Filter(ctx, candidates[start:end])
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "existence filter failed")
			return tally, err
		}
		p.metrics.AddRecordsSkipped(ctx, (end-start)-len(survivors))

		pending = append(pending, survivors...)
		for len(pending) >= p.writeBatchSize {
			if err := p.flush(ctx, pending[:p.writeBatchSize], &tally); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "write flush failed")
				return tally, err
			}
			pending = pending[p.writeBatchSize:]
		}
	}

	if len(pending) > 0 {
		if err := p.flush(ctx, pending, &tally); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "write flush failed")
			return tally, err
		}
	}

	return tally, nil
}

// flush writes one bounded batch and forwards whatever the store could not
// process. The tally counts a row as written exactly when the store accepted
// it, so written plus unprocessed always accounts for the full batch.
func (p *Pipeline) flush(ctx context.Context, batch []migration.DestinationRecord, tally *Tally) error {
	unprocessed, err := p.writer.Write(ctx, batch)
	if err != nil {
		return err
	}

	tally.WriteCount += len(batch) - len(unprocessed)
	p.metrics.AddRecordsWritten(ctx, len(batch)-len(unprocessed))

	if len(unprocessed) == 0 {
		return nil
	}

	writes := make([]migration.UnprocessedWrite, 0, len(unprocessed))
	for _, rec := range unprocessed {
		writes = append(writes, migration.UnprocessedWrite{Record: rec})
	}
	if err := p.sink.Forward(ctx, writes); err != nil {
		return fmt.Errorf("forward unprocessed writes: %w", err)
	}
	tally.UnprocessedCount += len(unprocessed)
	p.metrics.AddWritesUnprocessed(ctx, len(unprocessed))

	return nil
}
