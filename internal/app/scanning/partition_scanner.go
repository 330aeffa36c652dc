// Package scanning implements the scan side of the migration: time-budgeted,
// checkpointed partition scans that page through the legacy blob index and
// dispatch record batches to the durable queue.
package scanning

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/hashferry/internal/domain/migration"
	"github.com/ahrav/hashferry/pkg/common/logger"
	"github.com/ahrav/hashferry/pkg/common/timeutil"
)

// ScanOutcome describes how a scanner invocation ended.
type ScanOutcome string

const (
	// OutcomeCompleted means the partition's keyspace is exhausted.
	OutcomeCompleted ScanOutcome = "completed"

	// OutcomeContinued means the time budget ran low and a continuation was
	// scheduled to pick up from the persisted cursor.
	OutcomeContinued ScanOutcome = "continued"

	// OutcomeHalted means a stop signal was observed before or during the
	// scan; progress is whatever was last persisted.
	OutcomeHalted ScanOutcome = "halted"
)

// ScanReport summarizes one scanner invocation.
type ScanReport struct {
	Outcome ScanOutcome
	Cursor  *migration.ScanCursor

	// Pages is the number of page cycles this invocation completed.
	Pages int
}

// ScannerMetrics defines the metrics recorded by partition scans.
type ScannerMetrics interface {
	IncPageFetched(ctx context.Context)
	AddRecordsScanned(ctx context.Context, count int)
	IncBatchDispatched(ctx context.Context)
	IncContinuationScheduled(ctx context.Context)
	IncScanHalted(ctx context.Context)
}

const (
	defaultPageSize          = 250
	minPageSize              = 100
	maxPageSize              = 500
	defaultInvocationBudget  = 10 * time.Minute
	defaultContinueThreshold = time.Minute
	defaultRetryBudget       = 90 * time.Second
)

// ScannerConfig bounds one scanner invocation.
type ScannerConfig struct {
	// Stage namespaces the checkpoint keyspace so runs against different
	// deployments never collide.
	Stage string

	// PageSize is the per-fetch record ceiling, clamped to [100, 500].
	PageSize int

	// InvocationBudget is the wall-clock budget for one invocation.
	InvocationBudget time.Duration

	// ContinueThreshold is the remaining-budget floor below which the
	// invocation hands off to a continuation instead of fetching again.
	ContinueThreshold time.Duration

	// RetryBudget caps the retry window for transient source and
	// checkpoint errors within one page cycle.
	RetryBudget time.Duration
}

func (c ScannerConfig) normalized() ScannerConfig {
	if c.PageSize == 0 {
		c.PageSize = defaultPageSize
	}
	if c.PageSize < minPageSize {
		c.PageSize = minPageSize
	}
	if c.PageSize > maxPageSize {
		c.PageSize = maxPageSize
	}
	if c.InvocationBudget <= 0 {
		c.InvocationBudget = defaultInvocationBudget
	}
	if c.ContinueThreshold <= 0 {
		c.ContinueThreshold = defaultContinueThreshold
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = defaultRetryBudget
	}
	return c
}

// PartitionScanner drives the fetch-dispatch-checkpoint cycle for one
// partition at a time. Each Run is a single time-boxed invocation; a
// partition larger than one budget's worth of pages is carried across
// invocations by the continuation scheduler and the persisted cursor.
type PartitionScanner struct {
	cfg ScannerConfig

	checkpoints   migration.CheckpointStore
	pager         migration.SourcePager
	dispatcher    migration.BatchDispatcher
	continuations migration.ContinuationScheduler

	clock   timeutil.Provider
	logger  *logger.Logger
	tracer  trace.Tracer
	metrics ScannerMetrics
}

// NewPartitionScanner assembles a scanner from its collaborators. Zero config
// fields fall back to production defaults.
func NewPartitionScanner(
	cfg ScannerConfig,
	checkpoints migration.CheckpointStore,
	pager migration.SourcePager,
	dispatcher migration.BatchDispatcher,
	continuations migration.ContinuationScheduler,
	clock timeutil.Provider,
	logger *logger.Logger,
	tracer trace.Tracer,
	metrics ScannerMetrics,
) *PartitionScanner {
	if clock == nil {
		clock = timeutil.Default()
	}
	return &PartitionScanner{
		cfg:           cfg.normalized(),
		checkpoints:   checkpoints,
		pager:         pager,
		dispatcher:    dispatcher,
		continuations: continuations,
		clock:         clock,
		logger:        logger.With("component", "partition_scanner"),
		tracer:        tracer,
		metrics:       metrics,
	}
}

// Run executes one invocation for the given shard: resume from the persisted
// cursor, page through the partition until it is exhausted, a stop signal
// appears, or the time budget runs low, and persist progress after every page
// cycle. The checkpoint write happens only after the page's batch has been
// dispatched, so an interrupted invocation can never persist progress for
// records the queue has not seen.
func (s *PartitionScanner) Run(ctx context.Context, shard migration.Shard) (*ScanReport, error) {
	logger := logger.NewLoggerContext(s.logger.With(
		"operation", "run",
		"stage", s.cfg.Stage,
		"partition_id", shard.PartitionID,
		"total_partitions", shard.TotalPartitions,
	))
	ctx, span := s.tracer.Start(ctx, "partition_scanner.run",
		trace.WithAttributes(
			attribute.String("stage", s.cfg.Stage),
			attribute.Int("partition_id", shard.PartitionID),
			attribute.Int("total_partitions", shard.TotalPartitions),
		),
	)
	defer span.End()

	deadline := s.clock.Now().Add(s.cfg.InvocationBudget)

	cursor, err := s.loadCursor(ctx, shard)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load scan cursor")
		return nil, fmt.Errorf("load scan cursor (shard: %s): %w", shard, err)
	}
	logger.Add("records_scanned", cursor.RecordsScanned())

	if cursor.StopRequested() {
		span.AddEvent("stop_requested_by_cursor")
		s.metrics.IncScanHalted(ctx)
		logger.Info(ctx, "Scan halted: cursor carries a stop request")
		return &ScanReport{Outcome: OutcomeHalted, Cursor: cursor}, nil
	}

	if cursor.Exhausted() {
		span.AddEvent("partition_already_exhausted")
		logger.Info(ctx, "Partition already exhausted; nothing to do")
		return &ScanReport{Outcome: OutcomeCompleted, Cursor: cursor}, nil
	}

	cursorKey := migration.CursorKey(s.cfg.Stage, shard)
	pages := 0

	for {
		halted, err := s.haltSignalled(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to read halt signal")
			return nil, fmt.Errorf("read halt signal: %w", err)
		}
		if halted {
			span.AddEvent("halt_signal_observed", trace.WithAttributes(attribute.Int("pages", pages)))
			s.metrics.IncScanHalted(ctx)
			logger.Info(ctx, "Scan halted by global stop signal", "pages", pages)
			return &ScanReport{Outcome: OutcomeHalted, Cursor: cursor, Pages: pages}, nil
		}

		page, err := s.fetchPage(ctx, shard, cursor.LastKey())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to fetch source page")
			return nil, fmt.Errorf("fetch source page (shard: %s): %w", shard, err)
		}
		s.metrics.IncPageFetched(ctx)

		if len(page.Records) > 0 {
			// The dispatcher owns queue-send retry; a returned error means
			// its bounded retry is already exhausted.
			if err := s.dispatcher.Dispatch(ctx, page.Records); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to dispatch batch")
				return nil, fmt.Errorf("dispatch batch (shard: %s): %w", shard, err)
			}
			s.metrics.IncBatchDispatched(ctx)
			s.metrics.AddRecordsScanned(ctx, len(page.Records))
		}

		if err := cursor.Advance(len(page.Records), page.NextKey); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to advance cursor")
			return nil, fmt.Errorf("advance cursor (shard: %s): %w", shard, err)
		}

		// Persist even for an empty or final page so a resumed invocation
		// immediately observes completion.
		if err := s.persistCursor(ctx, cursorKey, cursor); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to persist cursor")
			return nil, fmt.Errorf("persist cursor (shard: %s): %w", shard, err)
		}
		pages++
		logger.Debug(ctx, "Page cycle complete",
			"page_records", len(page.Records),
			"records_scanned", cursor.RecordsScanned(),
		)

		if cursor.Exhausted() {
			span.AddEvent("partition_exhausted", trace.WithAttributes(
				attribute.Int("pages", pages),
				attribute.Int64("records_scanned", cursor.RecordsScanned()),
			))
			span.SetStatus(codes.Ok, "partition exhausted")
			logger.Info(ctx, "Partition exhausted",
				"pages", pages,
				"records_scanned", cursor.RecordsScanned(),
			)
			return &ScanReport{Outcome: OutcomeCompleted, Cursor: cursor, Pages: pages}, nil
		}

		halted, err = s.haltSignalled(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to read halt signal")
			return nil, fmt.Errorf("read halt signal: %w", err)
		}
		if halted {
			span.AddEvent("halt_signal_observed", trace.WithAttributes(attribute.Int("pages", pages)))
			s.metrics.IncScanHalted(ctx)
			logger.Info(ctx, "Scan halted by global stop signal", "pages", pages)
			return &ScanReport{Outcome: OutcomeHalted, Cursor: cursor, Pages: pages}, nil
		}

		if remaining := deadline.Sub(s.clock.Now()); remaining < s.cfg.ContinueThreshold {
			if err := s.scheduleContinuation(ctx, shard); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to schedule continuation")
				return nil, fmt.Errorf("schedule continuation (shard: %s): %w", shard, err)
			}
			s.metrics.IncContinuationScheduled(ctx)
			span.AddEvent("continuation_scheduled", trace.WithAttributes(
				attribute.Int("pages", pages),
				attribute.String("remaining_budget", remaining.String()),
			))
			span.SetStatus(codes.Ok, "continuation scheduled")
			logger.Info(ctx, "Budget low; continuation scheduled",
				"pages", pages,
				"remaining_budget", remaining.String(),
			)
			return &ScanReport{Outcome: OutcomeContinued, Cursor: cursor, Pages: pages}, nil
		}
	}
}

// loadCursor reads the partition's persisted cursor, returning a fresh one
// when the checkpoint entry has never been written.
func (s *PartitionScanner) loadCursor(ctx context.Context, shard migration.Shard) (*migration.ScanCursor, error) {
	var (
		value string
		found bool
	)
	err := s.retryTransient(ctx, func() error {
		var err error
		value, found, err = s.checkpoints.Get(ctx, migration.CursorKey(s.cfg.Stage, shard))
		return err
	})
	if err != nil {
		return nil, err
	}

	cursor := migration.NewScanCursor(shard)
	if !found {
		return cursor, nil
	}
	// A checkpoint entry that no longer parses is not retryable; fail the
	// invocation loudly rather than rescan from scratch.
	if err := json.Unmarshal([]byte(value), cursor); err != nil {
		return nil, fmt.Errorf("decode persisted cursor: %w", err)
	}
	return cursor, nil
}

func (s *PartitionScanner) persistCursor(ctx context.Context, key string, cursor *migration.ScanCursor) error {
	raw, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}
	return s.retryTransient(ctx, func() error {
		return s.checkpoints.Put(ctx, key, string(raw))
	})
}

// haltSignalled reports whether the stage's global stop entry exists. Its
// value is ignored; presence alone is the signal.
func (s *PartitionScanner) haltSignalled(ctx context.Context) (bool, error) {
	var found bool
	err := s.retryTransient(ctx, func() error {
		var err error
		_, found, err = s.checkpoints.Get(ctx, migration.HaltKey(s.cfg.Stage))
		return err
	})
	return found, err
}

func (s *PartitionScanner) fetchPage(ctx context.Context, shard migration.Shard, after *string) (migration.Page, error) {
	var page migration.Page
	err := s.retryTransient(ctx, func() error {
		var err error
		page, err = s.pager.FetchPage(ctx, shard, after, s.cfg.PageSize)
		return err
	})
	return page, err
}

func (s *PartitionScanner) scheduleContinuation(ctx context.Context, shard migration.Shard) error {
	return s.retryTransient(ctx, func() error {
		return s.continuations.ScheduleContinuation(ctx, shard)
	})
}

func (s *PartitionScanner) retryTransient(ctx context.Context, operation func() error) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond
	expBackoff.MaxElapsedTime = s.cfg.RetryBudget
	return backoff.Retry(operation, backoff.WithContext(expBackoff, ctx))
}
