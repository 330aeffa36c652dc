package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/hashferry/internal/domain/events"
	"github.com/ahrav/hashferry/internal/domain/migration"
	"github.com/ahrav/hashferry/pkg/common/logger"
)

func newTestSink(publisher events.DomainEventPublisher) *DomainEventUnprocessedSink {
	return NewDomainEventUnprocessedSink(time.Second, publisher, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
}

func unprocessedWrites(n int) []migration.UnprocessedWrite {
	writes := make([]migration.UnprocessedWrite, 0, n)
	for i := 0; i < n; i++ {
		writes = append(writes, migration.UnprocessedWrite{
			Record: migration.DestinationRecord{
				Key:     "hash-" + string(rune('a'+i)),
				Locator: "pack-a",
				Offset:  int64(i) * 100,
				Length:  100,
			},
		})
	}
	return writes
}

func TestForwardPublishesSingleEvent(t *testing.T) {
	t.Parallel()
	publisher := &mockPublisher{}
	sink := newTestSink(publisher)

	writes := unprocessedWrites(3)
	require.NoError(t, sink.Forward(context.Background(), writes))

	require.Len(t, publisher.published, 1)
	evt, ok := publisher.published[0].event.(migration.WritesUnprocessedEvent)
	require.True(t, ok)
	assert.Equal(t, writes, evt.Writes)
	assert.Equal(t, migration.EventTypeWritesUnprocessed, evt.EventType())
	assert.Equal(t, writes[0].Record.Key, publisher.published[0].key)
}

func TestForwardEmptyBatchPublishesNothing(t *testing.T) {
	t.Parallel()
	publisher := &mockPublisher{}
	sink := newTestSink(publisher)

	require.NoError(t, sink.Forward(context.Background(), nil))
	assert.Empty(t, publisher.published)
}

func TestForwardRetriesBeforeFailing(t *testing.T) {
	t.Parallel()
	attempts := 0
	publisher := &mockPublisher{publishFunc: func(events.DomainEvent) error {
		attempts++
		if attempts < 2 {
			return errors.New("broker unavailable")
		}
		return nil
	}}
	sink := newTestSink(publisher)

	require.NoError(t, sink.Forward(context.Background(), unprocessedWrites(1)))
	assert.Equal(t, 2, attempts)
}

func TestForwardFailsAfterRetryBudget(t *testing.T) {
	t.Parallel()
	publishErr := errors.New("broker unavailable")
	publisher := &mockPublisher{publishFunc: func(events.DomainEvent) error {
		return publishErr
	}}
	sink := NewDomainEventUnprocessedSink(
		50*time.Millisecond, publisher, logger.Noop(), noop.NewTracerProvider().Tracer("test"),
	)

	err := sink.Forward(context.Background(), unprocessedWrites(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, publishErr)
}
