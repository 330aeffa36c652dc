package scanning

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/hashferry/internal/infra/eventbus/kafka"
)

// ScanningMetrics aggregates every instrument the scan side records: the
// partition scan loop's own counters plus the event bus's messaging metrics.
// The controller shares this collector, since seeding is part of the scan side.
type ScanningMetrics interface {
	ScannerMetrics
	kafka.EventBusMetrics
}

var _ ScanningMetrics = (*scanningMetrics)(nil)

// scanningMetrics implements ScanningMetrics.
type scanningMetrics struct {
	// Messaging metrics
	messagesPublished    metric.Int64Counter
	messagesConsumed     metric.Int64Counter
	publishErrors        metric.Int64Counter
	consumeErrors        metric.Int64Counter
	messagesRedelivered  metric.Int64Counter
	messagesDeadLettered metric.Int64Counter

	// Scan loop metrics
	pagesFetched           metric.Int64Counter
	recordsScanned         metric.Int64Counter
	batchesDispatched      metric.Int64Counter
	continuationsScheduled metric.Int64Counter
	scansHalted            metric.Int64Counter
}

const namespace = "scanner"

// NewScanningMetrics creates the scan-side metrics collector.
func NewScanningMetrics(mp metric.MeterProvider) (*scanningMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	s := new(scanningMetrics)
	var err error

	// Initialize messaging metrics.
	if s.messagesPublished, err = meter.Int64Counter(
		"messages_published_total",
		metric.WithDescription("Total number of messages published"),
	); err != nil {
		return nil, err
	}

	if s.messagesConsumed, err = meter.Int64Counter(
		"messages_consumed_total",
		metric.WithDescription("Total number of messages consumed"),
	); err != nil {
		return nil, err
	}

	if s.publishErrors, err = meter.Int64Counter(
		"publish_errors_total",
		metric.WithDescription("Total number of publish errors"),
	); err != nil {
		return nil, err
	}

	if s.consumeErrors, err = meter.Int64Counter(
		"consume_errors_total",
		metric.WithDescription("Total number of consume errors"),
	); err != nil {
		return nil, err
	}

	if s.messagesRedelivered, err = meter.Int64Counter(
		"messages_redelivered_total",
		metric.WithDescription("Total number of messages republished after a handler failure"),
	); err != nil {
		return nil, err
	}

	if s.messagesDeadLettered, err = meter.Int64Counter(
		"messages_dead_lettered_total",
		metric.WithDescription("Total number of messages routed to a dead-letter topic"),
	); err != nil {
		return nil, err
	}

	// Initialize scan loop metrics.
	if s.pagesFetched, err = meter.Int64Counter(
		"pages_fetched_total",
		metric.WithDescription("Total number of legacy index pages fetched"),
	); err != nil {
		return nil, err
	}

	if s.recordsScanned, err = meter.Int64Counter(
		"records_scanned_total",
		metric.WithDescription("Total number of legacy records read from the source"),
	); err != nil {
		return nil, err
	}

	if s.batchesDispatched, err = meter.Int64Counter(
		"batches_dispatched_total",
		metric.WithDescription("Total number of record batches handed to the dispatcher"),
	); err != nil {
		return nil, err
	}

	if s.continuationsScheduled, err = meter.Int64Counter(
		"continuations_scheduled_total",
		metric.WithDescription("Total number of scan continuations scheduled"),
	); err != nil {
		return nil, err
	}

	if s.scansHalted, err = meter.Int64Counter(
		"scans_halted_total",
		metric.WithDescription("Total number of scan invocations ended by the stop signal"),
	); err != nil {
		return nil, err
	}

	return s, nil
}

// Scan loop metrics implementations.
func (m *scanningMetrics) IncPageFetched(ctx context.Context) {
	m.pagesFetched.Add(ctx, 1)
}

func (m *scanningMetrics) AddRecordsScanned(ctx context.Context, count int) {
	m.recordsScanned.Add(ctx, int64(count))
}

func (m *scanningMetrics) IncBatchDispatched(ctx context.Context) {
	m.batchesDispatched.Add(ctx, 1)
}

func (m *scanningMetrics) IncContinuationScheduled(ctx context.Context) {
	m.continuationsScheduled.Add(ctx, 1)
}

func (m *scanningMetrics) IncScanHalted(ctx context.Context) {
	m.scansHalted.Add(ctx, 1)
}

// Kafka EventBusMetrics implementations.
func (m *scanningMetrics) IncMessagePublished(ctx context.Context, topic string) {
	m.messagesPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *scanningMetrics) IncMessageConsumed(ctx context.Context, topic string) {
	m.messagesConsumed.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *scanningMetrics) IncPublishError(ctx context.Context, topic string) {
	m.publishErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *scanningMetrics) IncConsumeError(ctx context.Context, topic string) {
	m.consumeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *scanningMetrics) IncMessageRedelivered(ctx context.Context, topic string) {
	m.messagesRedelivered.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *scanningMetrics) IncMessageDeadLettered(ctx context.Context, topic string) {
	m.messagesDeadLettered.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}
