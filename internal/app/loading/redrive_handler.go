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

var _ events.EventHandler = (*RedriveHandler)(nil)

// RedriveHandler consumes the side channel of writes the destination store
// reported back unwritten and submits them again. A batch that still cannot
// be fully committed fails the message instead of re-forwarding it, so the
// bus's redelivery-then-dead-letter policy bounds the retries and nothing is
// ever silently dropped.
type RedriveHandler struct {
	writer *BatchWriter

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics PipelineMetrics
}

// NewRedriveHandler creates a handler for the unprocessed-writes channel.
func NewRedriveHandler(
	writer *BatchWriter,
	logger *logger.Logger,
	tracer trace.Tracer,
	metrics PipelineMetrics,
) *RedriveHandler {
	return &RedriveHandler{
		writer:  writer,
		logger:  logger.With("component", "redrive_handler"),
		tracer:  tracer,
		metrics: metrics,
	}
}

// SupportedEvents implements events.EventHandler.
func (h *RedriveHandler) SupportedEvents() []events.EventType {
	return []events.EventType{migration.EventTypeWritesUnprocessed}
}

// HandleEvent submits the forwarded writes to the destination store once
// more. The message is acked only when every row lands.
func (h *RedriveHandler) HandleEvent(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
	ctx, span := h.tracer.Start(ctx, "redrive_handler.handle_event",
		trace.WithAttributes(
			attribute.String("event_type", string(evt.Type)),
			attribute.Int64("offset", evt.Metadata.Offset),
			attribute.Int("partition", int(evt.Metadata.Partition)),
		),
	)
	defer span.End()

	batch, ok := evt.Payload.(migration.WritesUnprocessedEvent)
	if !ok {
		err := fmt.Errorf("expected WritesUnprocessedEvent payload, got %T", evt.Payload)
		h.metrics.IncMessagesFailed(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid event payload")
		return err
	}

	records := make([]migration.DestinationRecord, 0, len(batch.Writes))
	for _, w := range batch.Writes {
		records = append(records, w.Record)
	}
	span.SetAttributes(attribute.Int("write_count", len(records)))

	unprocessed, err := h.writer.Write(ctx, records)
	if err != nil {
		h.metrics.IncMessagesFailed(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, "redrive write failed")
		return err
	}
	h.metrics.AddRecordsWritten(ctx, len(records)-len(unprocessed))

	if len(unprocessed) > 0 {
		err := fmt.Errorf("%d of %d redriven writes still unprocessed", len(unprocessed), len(records))
		h.metrics.IncMessagesFailed(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, "writes still unprocessed")
		return err
	}

	h.metrics.IncMessagesProcessed(ctx)
	span.SetStatus(codes.Ok, "writes redriven")
	h.logger.Info(ctx, "Unprocessed writes redriven", "count", len(records))

	ack(nil)
	return nil
}
