package queue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/hashferry/internal/domain/events"
	"github.com/ahrav/hashferry/internal/domain/migration"
	"github.com/ahrav/hashferry/pkg/common/logger"
)

type capturedPublish struct {
	event events.DomainEvent
	key   string
}

type mockPublisher struct {
	published   []capturedPublish
	publishFunc func(event events.DomainEvent) error
}

func (m *mockPublisher) PublishDomainEvent(_ context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	var params events.PublishParams
	for _, opt := range opts {
		opt(&params)
	}
	m.published = append(m.published, capturedPublish{event: event, key: params.Key})
	if m.publishFunc != nil {
		return m.publishFunc(event)
	}
	return nil
}

func newTestDispatcher(cfg DispatcherConfig, publisher events.DomainEventPublisher) *DomainEventBatchDispatcher {
	return NewDomainEventBatchDispatcher(cfg, publisher, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
}

func sourceRecords(n int) []migration.SourceRecord {
	recs := make([]migration.SourceRecord, 0, n)
	for i := 0; i < n; i++ {
		recs = append(recs, migration.SourceRecord{
			Key: "hash-" + string(rune('a'+i%26)) + string(rune('a'+i/26)),
			Positions: []migration.Position{
				{Locator: "pack-a", Offset: int64(i) * 100, Length: 100},
			},
		})
	}
	return recs
}

func TestDispatchEmptyBatchPublishesNothing(t *testing.T) {
	t.Parallel()
	publisher := &mockPublisher{}
	dispatcher := newTestDispatcher(DispatcherConfig{}, publisher)

	require.NoError(t, dispatcher.Dispatch(context.Background(), nil))
	assert.Empty(t, publisher.published)
}

func TestDispatchSingleMessage(t *testing.T) {
	t.Parallel()
	publisher := &mockPublisher{}
	dispatcher := newTestDispatcher(DispatcherConfig{}, publisher)

	recs := sourceRecords(5)
	require.NoError(t, dispatcher.Dispatch(context.Background(), recs))

	require.Len(t, publisher.published, 1)
	evt, ok := publisher.published[0].event.(migration.BatchQueuedEvent)
	require.True(t, ok)
	assert.Equal(t, recs, evt.Records)
	assert.Equal(t, recs[0].Key, publisher.published[0].key)
}

func TestDispatchSplitsOnRecordCeiling(t *testing.T) {
	t.Parallel()
	publisher := &mockPublisher{}
	dispatcher := newTestDispatcher(DispatcherConfig{MaxRecordsPerMessage: 4}, publisher)

	recs := sourceRecords(10)
	require.NoError(t, dispatcher.Dispatch(context.Background(), recs))

	require.Len(t, publisher.published, 3)
	var total int
	for i, pub := range publisher.published {
		evt, ok := pub.event.(migration.BatchQueuedEvent)
		require.True(t, ok)
		assert.LessOrEqual(t, len(evt.Records), 4)
		assert.Equal(t, evt.Records[0].Key, pub.key, "message %d should be keyed by its first record", i)
		total += len(evt.Records)
	}
	assert.Equal(t, len(recs), total, "splitting must not drop or duplicate records")
}

func TestDispatchSplitsOnByteCeiling(t *testing.T) {
	t.Parallel()
	publisher := &mockPublisher{}
	dispatcher := newTestDispatcher(DispatcherConfig{MaxBytesPerMessage: 600}, publisher)

	// Each record carries a ~200 byte payload, so only a couple fit per
	// message under the 600 byte ceiling.
	recs := sourceRecords(6)
	for i := range recs {
		recs[i].Payload = []byte(`{"note": "` + strings.Repeat("x", 200) + `"}`)
	}
	require.NoError(t, dispatcher.Dispatch(context.Background(), recs))

	require.Greater(t, len(publisher.published), 1)
	var total int
	for _, pub := range publisher.published {
		evt, ok := pub.event.(migration.BatchQueuedEvent)
		require.True(t, ok)
		total += len(evt.Records)
	}
	assert.Equal(t, len(recs), total)
}

func TestDispatchOversizedRecordTravelsAlone(t *testing.T) {
	t.Parallel()
	publisher := &mockPublisher{}
	dispatcher := newTestDispatcher(DispatcherConfig{MaxBytesPerMessage: 100}, publisher)

	recs := sourceRecords(2)
	recs[0].Payload = []byte(`{"note": "` + strings.Repeat("x", 500) + `"}`)
	require.NoError(t, dispatcher.Dispatch(context.Background(), recs))

	require.Len(t, publisher.published, 2)
	first, ok := publisher.published[0].event.(migration.BatchQueuedEvent)
	require.True(t, ok)
	assert.Len(t, first.Records, 1)
	assert.Equal(t, recs[0].Key, first.Records[0].Key)
}

func TestDispatchRetriesTransientPublishFailure(t *testing.T) {
	t.Parallel()
	attempts := 0
	publisher := &mockPublisher{publishFunc: func(events.DomainEvent) error {
		attempts++
		if attempts < 3 {
			return errors.New("broker unavailable")
		}
		return nil
	}}
	dispatcher := newTestDispatcher(DispatcherConfig{RetryBudget: 10 * time.Second}, publisher)

	require.NoError(t, dispatcher.Dispatch(context.Background(), sourceRecords(2)))
	assert.Equal(t, 3, attempts)
}

func TestDispatchFailsAfterRetryBudget(t *testing.T) {
	t.Parallel()
	publishErr := errors.New("broker unavailable")
	publisher := &mockPublisher{publishFunc: func(events.DomainEvent) error {
		return publishErr
	}}
	dispatcher := newTestDispatcher(DispatcherConfig{RetryBudget: 50 * time.Millisecond}, publisher)

	err := dispatcher.Dispatch(context.Background(), sourceRecords(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, publishErr)
}

func TestDispatchStopsRetryOnContextCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	publisher := &mockPublisher{publishFunc: func(events.DomainEvent) error {
		cancel()
		return errors.New("broker unavailable")
	}}
	dispatcher := newTestDispatcher(DispatcherConfig{RetryBudget: time.Minute}, publisher)

	start := time.Now()
	err := dispatcher.Dispatch(ctx, sourceRecords(1))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second, "cancellation should cut the retry loop short")
}
