// Package queue adapts the migration domain's queue-outbound ports onto the
// domain event publisher: record batches from the scanner fleet and
// unprocessed writes from the loader fleet both leave the process through
// here.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/hashferry/internal/domain/events"
	"github.com/ahrav/hashferry/internal/domain/migration"
	"github.com/ahrav/hashferry/pkg/common/logger"
)

const (
	defaultMaxRecordsPerMessage = 100

	// defaultMaxBytesPerMessage leaves headroom under the broker's usual 1 MiB
	// message ceiling for the envelope and headers.
	defaultMaxBytesPerMessage = 900 << 10

	defaultPublishRetryBudget = 30 * time.Second
)

var _ migration.BatchDispatcher = (*DomainEventBatchDispatcher)(nil)

// DispatcherConfig bounds the messages a dispatcher produces.
type DispatcherConfig struct {
	// MaxRecordsPerMessage caps how many records ride in one queue message.
	MaxRecordsPerMessage int

	// MaxBytesPerMessage caps the approximate payload size of one message.
	MaxBytesPerMessage int

	// RetryBudget caps the retry window for one message publish.
	RetryBudget time.Duration
}

func (c DispatcherConfig) normalized() DispatcherConfig {
	if c.MaxRecordsPerMessage <= 0 {
		c.MaxRecordsPerMessage = defaultMaxRecordsPerMessage
	}
	if c.MaxBytesPerMessage <= 0 {
		c.MaxBytesPerMessage = defaultMaxBytesPerMessage
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = defaultPublishRetryBudget
	}
	return c
}

// DomainEventBatchDispatcher publishes scanner record batches to the durable
// queue, splitting each batch into messages that honor the count and byte
// ceilings and retrying each publish with bounded exponential backoff. A
// returned error means the retry budget is exhausted; messages published
// before the failure stay published, and the idempotent writer absorbs the
// resulting duplicates.
type DomainEventBatchDispatcher struct {
	cfg DispatcherConfig

	domainPublisher events.DomainEventPublisher

	logger *logger.Logger
	tracer trace.Tracer
}

// NewDomainEventBatchDispatcher creates a dispatcher with the given ceilings.
// Zero config fields fall back to production defaults.
func NewDomainEventBatchDispatcher(
	cfg DispatcherConfig,
	domainPublisher events.DomainEventPublisher,
	logger *logger.Logger,
	tracer trace.Tracer,
) *DomainEventBatchDispatcher {
	return &DomainEventBatchDispatcher{
		cfg:             cfg.normalized(),
		domainPublisher: domainPublisher,
		logger:          logger.With("component", "batch_dispatcher"),
		tracer:          tracer,
	}
}

// Dispatch publishes the records as one or more BatchQueued events. Each
// message is keyed by its first record's hash key.
func (d *DomainEventBatchDispatcher) Dispatch(ctx context.Context, records []migration.SourceRecord) error {
	if len(records) == 0 {
		return nil
	}

	ctx, span := d.tracer.Start(ctx, "batch_dispatcher.dispatch",
		trace.WithAttributes(attribute.Int("record_count", len(records))),
	)
	defer span.End()

	chunks, err := d.split(records)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to split record batch")
		return err
	}
	span.SetAttributes(attribute.Int("message_count", len(chunks)))

	for _, chunk := range chunks {
		evt := migration.NewBatchQueuedEvent(chunk)
		key := chunk[0].Key
		publish := func() error {
			return d.domainPublisher.PublishDomainEvent(ctx, evt, events.WithKey(key))
		}
		if err := retryPublish(ctx, d.cfg.RetryBudget, d.logger, publish); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to publish record batch")
			return fmt.Errorf("publish record batch (key: %s): %w", key, err)
		}
	}

	span.AddEvent("record_batches_published")
	span.SetStatus(codes.Ok, "record batches published")
	return nil
}

// split carves the batch into chunks honoring both ceilings. A single record
// larger than the byte ceiling still travels alone; records are never split.
func (d *DomainEventBatchDispatcher) split(records []migration.SourceRecord) ([][]migration.SourceRecord, error) {
	var (
		chunks  [][]migration.SourceRecord
		current []migration.SourceRecord
		bytes   int
	)
	for _, rec := range records {
		size, err := recordSize(rec)
		if err != nil {
			return nil, fmt.Errorf("size record %q: %w", rec.Key, err)
		}
		if len(current) > 0 && (len(current) >= d.cfg.MaxRecordsPerMessage || bytes+size > d.cfg.MaxBytesPerMessage) {
			chunks = append(chunks, current)
			current = nil
			bytes = 0
		}
		current = append(current, rec)
		bytes += size
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks, nil
}

// recordSize approximates a record's on-wire footprint. The queue payloads
// are JSON, so the marshaled domain record tracks the real size closely.
func recordSize(rec migration.SourceRecord) (int, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return 0, err
	}
	return len(raw), nil
}

// retryPublish runs publish under bounded exponential backoff, logging each
// failed attempt.
func retryPublish(ctx context.Context, budget time.Duration, log *logger.Logger, publish func() error) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 250 * time.Millisecond
	expBackoff.MaxElapsedTime = budget

	notify := func(err error, next time.Duration) {
		log.Warn(ctx, "Queue publish failed; retrying",
			"error", err,
			"next_attempt_in", next.String(),
		)
	}
	return backoff.RetryNotify(publish, backoff.WithContext(expBackoff, ctx), notify)
}
