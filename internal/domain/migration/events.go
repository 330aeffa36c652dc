package migration

import (
	"time"

	"github.com/ahrav/hashferry/internal/domain/events"
)

// Event types relevant to the migration:
const (
	// EventTypeScanRequested asks a scan worker to run one time-budgeted
	// invocation for a partition. Continuations reuse the same event.
	EventTypeScanRequested events.EventType = "ScanRequested"

	// EventTypeBatchQueued carries one batch of legacy records from the
	// scanner fleet to the loader fleet.
	EventTypeBatchQueued events.EventType = "BatchQueued"

	// EventTypeWritesUnprocessed carries destination writes the store did
	// not commit, bound for the redrive side channel.
	EventTypeWritesUnprocessed events.EventType = "WritesUnprocessed"
)

// ScanRequestedEvent represents the event generated when a partition scan
// invocation is requested, either by the seeding controller or by a worker
// scheduling its own continuation.
type ScanRequestedEvent struct {
	occurredAt time.Time
	Shard      Shard
}

// NewScanRequestedEvent creates a new scan requested event.
func NewScanRequestedEvent(shard Shard) ScanRequestedEvent {
	return ScanRequestedEvent{occurredAt: time.Now(), Shard: shard}
}

func (e ScanRequestedEvent) EventType() events.EventType { return EventTypeScanRequested }
func (e ScanRequestedEvent) OccurredAt() time.Time       { return e.occurredAt }

// BatchQueuedEvent carries one scanner page's worth of legacy records,
// bounded by the dispatcher's count and byte ceilings.
type BatchQueuedEvent struct {
	occurredAt time.Time
	Records    []SourceRecord
}

// NewBatchQueuedEvent creates a new batch queued event.
func NewBatchQueuedEvent(records []SourceRecord) BatchQueuedEvent {
	return BatchQueuedEvent{occurredAt: time.Now(), Records: records}
}

func (e BatchQueuedEvent) EventType() events.EventType { return EventTypeBatchQueued }
func (e BatchQueuedEvent) OccurredAt() time.Time       { return e.occurredAt }

// WritesUnprocessedEvent carries write requests the destination store
// reported as not committed.
type WritesUnprocessedEvent struct {
	occurredAt time.Time
	Writes     []UnprocessedWrite
}

// NewWritesUnprocessedEvent creates a new writes unprocessed event.
func NewWritesUnprocessedEvent(writes []UnprocessedWrite) WritesUnprocessedEvent {
	return WritesUnprocessedEvent{occurredAt: time.Now(), Writes: writes}
}

func (e WritesUnprocessedEvent) EventType() events.EventType { return EventTypeWritesUnprocessed }
func (e WritesUnprocessedEvent) OccurredAt() time.Time       { return e.occurredAt }
