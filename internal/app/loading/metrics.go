package loading

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/hashferry/internal/infra/eventbus/kafka"
)

// LoadingMetrics aggregates every instrument the write side records: the
// consumer pipeline's counters plus the event bus's messaging metrics.
type LoadingMetrics interface {
	PipelineMetrics
	kafka.EventBusMetrics
}

var _ LoadingMetrics = (*loadingMetrics)(nil)

// loadingMetrics implements LoadingMetrics.
type loadingMetrics struct {
	// Messaging metrics
	messagesPublished    metric.Int64Counter
	messagesConsumed     metric.Int64Counter
	publishErrors        metric.Int64Counter
	consumeErrors        metric.Int64Counter
	messagesRedelivered  metric.Int64Counter
	messagesDeadLettered metric.Int64Counter

	// Pipeline metrics
	messagesProcessed metric.Int64Counter
	messagesFailed    metric.Int64Counter
	candidates        metric.Int64Counter
	recordsWritten    metric.Int64Counter
	recordsSkipped    metric.Int64Counter
	writesUnprocessed metric.Int64Counter
}

const namespace = "loader"

// NewLoadingMetrics creates the write-side metrics collector.
func NewLoadingMetrics(mp metric.MeterProvider) (*loadingMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	l := new(loadingMetrics)
	var err error

	// Initialize messaging metrics.
	if l.messagesPublished, err = meter.Int64Counter(
		"messages_published_total",
		metric.WithDescription("Total number of messages published"),
	); err != nil {
		return nil, err
	}

	if l.messagesConsumed, err = meter.Int64Counter(
		"messages_consumed_total",
		metric.WithDescription("Total number of messages consumed"),
	); err != nil {
		return nil, err
	}

	if l.publishErrors, err = meter.Int64Counter(
		"publish_errors_total",
		metric.WithDescription("Total number of publish errors"),
	); err != nil {
		return nil, err
	}

	if l.consumeErrors, err = meter.Int64Counter(
		"consume_errors_total",
		metric.WithDescription("Total number of consume errors"),
	); err != nil {
		return nil, err
	}

	if l.messagesRedelivered, err = meter.Int64Counter(
		"messages_redelivered_total",
		metric.WithDescription("Total number of messages republished after a handler failure"),
	); err != nil {
		return nil, err
	}

	if l.messagesDeadLettered, err = meter.Int64Counter(
		"messages_dead_lettered_total",
		metric.WithDescription("Total number of messages routed to a dead-letter topic"),
	); err != nil {
		return nil, err
	}

	// Initialize pipeline metrics.
	if l.messagesProcessed, err = meter.Int64Counter(
		"batch_messages_processed_total",
		metric.WithDescription("Total number of batch messages fully processed"),
	); err != nil {
		return nil, err
	}

	if l.messagesFailed, err = meter.Int64Counter(
		"batch_messages_failed_total",
		metric.WithDescription("Total number of batch messages that errored before completion"),
	); err != nil {
		return nil, err
	}

	if l.candidates, err = meter.Int64Counter(
		"candidate_records_total",
		metric.WithDescription("Total number of destination rows produced by expansion"),
	); err != nil {
		return nil, err
	}

	if l.recordsWritten, err = meter.Int64Counter(
		"records_written_total",
		metric.WithDescription("Total number of rows committed to the destination store"),
	); err != nil {
		return nil, err
	}

	if l.recordsSkipped, err = meter.Int64Counter(
		"records_skipped_total",
		metric.WithDescription("Total number of candidates dropped as duplicates or already present"),
	); err != nil {
		return nil, err
	}

	if l.writesUnprocessed, err = meter.Int64Counter(
		"writes_unprocessed_total",
		metric.WithDescription("Total number of rows the store reported back unwritten"),
	); err != nil {
		return nil, err
	}

	return l, nil
}

// Pipeline metrics implementations.
func (m *loadingMetrics) IncMessagesProcessed(ctx context.Context) {
	m.messagesProcessed.Add(ctx, 1)
}

func (m *loadingMetrics) IncMessagesFailed(ctx context.Context) {
	m.messagesFailed.Add(ctx, 1)
}

func (m *loadingMetrics) AddCandidates(ctx context.Context, count int) {
	m.candidates.Add(ctx, int64(count))
}

func (m *loadingMetrics) AddRecordsWritten(ctx context.Context, count int) {
	m.recordsWritten.Add(ctx, int64(count))
}

func (m *loadingMetrics) AddRecordsSkipped(ctx context.Context, count int) {
	m.recordsSkipped.Add(ctx, int64(count))
}

func (m *loadingMetrics) AddWritesUnprocessed(ctx context.Context, count int) {
	m.writesUnprocessed.Add(ctx, int64(count))
}

// Kafka EventBusMetrics implementations.
func (m *loadingMetrics) IncMessagePublished(ctx context.Context, topic string) {
	m.messagesPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *loadingMetrics) IncMessageConsumed(ctx context.Context, topic string) {
	m.messagesConsumed.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *loadingMetrics) IncPublishError(ctx context.Context, topic string) {
	m.publishErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *loadingMetrics) IncConsumeError(ctx context.Context, topic string) {
	m.consumeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *loadingMetrics) IncMessageRedelivered(ctx context.Context, topic string) {
	m.messagesRedelivered.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *loadingMetrics) IncMessageDeadLettered(ctx context.Context, topic string) {
	m.messagesDeadLettered.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}
