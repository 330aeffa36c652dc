package loading

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/hashferry/internal/domain/migration"
	"github.com/ahrav/hashferry/pkg/common/logger"
)

// maxWriteBatch matches the destination store's batch-write ceiling.
const maxWriteBatch = 25

// BatchWriter commits one bounded batch of destination records per call.
// Writes are idempotent on the destination's primary key, so replaying a
// batch after a partial failure is safe.
type BatchWriter struct {
	storer migration.BatchStorer

	logger *logger.Logger
	tracer trace.Tracer
}

// NewBatchWriter creates a writer backed by the given storer.
func NewBatchWriter(storer migration.BatchStorer, logger *logger.Logger, tracer trace.Tracer) *BatchWriter {
	return &BatchWriter{
		storer: storer,
		logger: logger.With("component", "batch_writer"),
		tracer: tracer,
	}
}

// Write stores the batch and returns the records the store reported back as
// unprocessed, unchanged, for the caller to redrive. The batch is deduped on
// primary key before submission; the existence filter already dedupes, but
// the writer cannot assume its input came through the filter.
func (w *BatchWriter) Write(ctx context.Context, batch []migration.DestinationRecord) ([]migration.DestinationRecord, error) {
	ctx, span := w.tracer.Start(ctx, "batch_writer.write",
		trace.WithAttributes(attribute.Int("batch_size", len(batch))),
	)
	defer span.End()

	if len(batch) == 0 {
		return nil, nil
	}
	if len(batch) > maxWriteBatch {
		err := fmt.Errorf("write batch exceeds limit: %d > %d", len(batch), maxWriteBatch)
		span.RecordError(err)
		span.SetStatus(codes.Error, "write batch too large")
		return nil, err
	}

	deduped := dedupeByKey(batch)

	unprocessed, err := w.storer.Store(ctx, deduped)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch store failed")
		return nil, fmt.Errorf("store batch: %w", err)
	}

	if len(unprocessed) > 0 {
		span.AddEvent("writes_unprocessed", trace.WithAttributes(
			attribute.Int("unprocessed_count", len(unprocessed)),
		))
		w.logger.Warn(ctx, "Store left writes unprocessed",
			"submitted", len(deduped),
			"unprocessed", len(unprocessed),
		)
	}

	return unprocessed, nil
}
