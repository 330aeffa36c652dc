// Package loading implements the load side of the migration: the consumer
// pipeline that expands queued legacy batches into destination rows, filters
// out rows already migrated, and commits the remainder in store-sized write
// batches.
package loading

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/hashferry/internal/domain/migration"
	"github.com/ahrav/hashferry/pkg/common/logger"
)

// maxExistenceBatch matches the destination store's batch-get ceiling.
const maxExistenceBatch = 100

// ErrMalformedExistenceResponse signals the destination store answered an
// existence query without a result set. The filter fails fast on this rather
// than guessing, since guessing wrong could silently drop records.
var ErrMalformedExistenceResponse = errors.New("existence check returned no result set")

// ExistenceFilter drops candidates whose primary key already exists in the
// destination store, so repeated delivery of the same batch converges to
// no-op writes.
type ExistenceFilter struct {
	checker migration.ExistenceChecker

	logger *logger.Logger
	tracer trace.Tracer
}

// NewExistenceFilter creates a filter backed by the given checker.
func NewExistenceFilter(checker migration.ExistenceChecker, logger *logger.Logger, tracer trace.Tracer) *ExistenceFilter {
	return &ExistenceFilter{
		checker: checker,
		logger:  logger.With("component", "existence_filter"),
		tracer:  tracer,
	}
}

// Filter returns, in first-occurrence input order, every deduped candidate
// whose primary key the destination store does not already hold. Candidates
// sharing a primary key collapse to the last occurrence before the check;
// keys the store's answer omits count as absent, a deliberate bias toward an
// extra idempotent write over a silent skip.
func (f *ExistenceFilter) Filter(ctx context.Context, candidates []migration.DestinationRecord) ([]migration.DestinationRecord, error) {
	ctx, span := f.tracer.Start(ctx, "existence_filter.filter",
		trace.WithAttributes(attribute.Int("candidate_count", len(candidates))),
	)
	defer span.End()

	if len(candidates) == 0 {
		return nil, nil
	}
	if len(candidates) > maxExistenceBatch {
		err := fmt.Errorf("candidate batch exceeds existence-check limit: %d > %d", len(candidates), maxExistenceBatch)
		span.RecordError(err)
		span.SetStatus(codes.Error, "candidate batch too large")
		return nil, err
	}

	deduped := dedupeByKey(candidates)
	keys := make([]migration.RecordKey, 0, len(deduped))
	for _, rec := range deduped {
		keys = append(keys, rec.RecordKey())
	}

	present, err := f.checker.Present(ctx, keys)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "existence check failed")
		return nil, fmt.Errorf("existence check: %w", err)
	}
	if present == nil {
		span.RecordError(ErrMalformedExistenceResponse)
		span.SetStatus(codes.Error, "malformed existence response")
		return nil, ErrMalformedExistenceResponse
	}

	survivors := make([]migration.DestinationRecord, 0, len(deduped))
	for _, rec := range deduped {
		if _, ok := present[rec.RecordKey()]; ok {
			continue
		}
		survivors = append(survivors, rec)
	}

	span.AddEvent("candidates_filtered", trace.WithAttributes(
		attribute.Int("deduped_count", len(deduped)),
		attribute.Int("present_count", len(present)),
		attribute.Int("survivor_count", len(survivors)),
	))
	f.logger.Debug(ctx, "Candidates filtered",
		"candidates", len(candidates),
		"deduped", len(deduped),
		"survivors", len(survivors),
	)

	return survivors, nil
}

// dedupeByKey collapses records sharing a primary key to the last occurrence,
// preserving first-occurrence order. The destination store rejects duplicate
// keys within one batched call, so both the filter and the writer run their
// input through this.
func dedupeByKey(records []migration.DestinationRecord) []migration.DestinationRecord {
	if len(records) <= 1 {
		return records
	}

	order := make([]migration.RecordKey, 0, len(records))
	latest := make(map[migration.RecordKey]migration.DestinationRecord, len(records))
	for _, rec := range records {
		key := rec.RecordKey()
		if _, seen := latest[key]; !seen {
			order = append(order, key)
		}
		latest[key] = rec
	}

	if len(order) == len(records) {
		return records
	}
	out := make([]migration.DestinationRecord, 0, len(order))
	for _, key := range order {
		out = append(out, latest[key])
	}
	return out
}
