package migration

import "context"

// CheckpointStore is the durable small-value key/value capability scan
// progress is persisted through. Key absence is a normal outcome, not an
// error, so Get returns a discriminated result instead of a sentinel error.
type CheckpointStore interface {
	// Get reads the value at key. found is false when the key has never
	// been written, which for a fresh partition is the expected first
	// read.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Put writes value at key with overwrite semantics.
	Put(ctx context.Context, key, value string) error
}

// Page is one bounded slice of a partition's records plus the token to fetch
// the next slice. A nil NextKey means the partition is exhausted.
type Page struct {
	Records []SourceRecord
	NextKey *string
}

// SourcePager reads the legacy store one page at a time. Implementations own
// the partitioning function; callers only thread tokens back in.
type SourcePager interface {
	// FetchPage returns up to limit records of the shard's slice of the
	// keyspace, starting after the opaque continuation token. A nil token
	// starts from the beginning.
	FetchPage(ctx context.Context, shard Shard, after *string, limit int) (Page, error)
}

// ExistenceChecker answers which of the given primary keys already exist in
// the destination store. Keys absent from the returned set are treated as not
// present. Implementations bound one call at the store's batch-get ceiling.
type ExistenceChecker interface {
	Present(ctx context.Context, keys []RecordKey) (map[RecordKey]struct{}, error)
}

// BatchStorer commits destination records. A partial failure is data, not an
// error: records the store could not commit come back as the unprocessed
// subset. Implementations bound one call at the store's batch-write ceiling
// and must be idempotent per primary key.
type BatchStorer interface {
	Store(ctx context.Context, records []DestinationRecord) (unprocessed []DestinationRecord, err error)
}

// BatchDispatcher serializes a batch of legacy records and hands it to the
// durable queue with bounded retry, splitting as needed to honor the
// transport's count and byte ceilings.
type BatchDispatcher interface {
	Dispatch(ctx context.Context, records []SourceRecord) error
}

// UnprocessedSink forwards uncommitted write requests to the redrive side
// channel. Forwarding failures surface as errors; the writes are never
// dropped silently.
type UnprocessedSink interface {
	Forward(ctx context.Context, writes []UnprocessedWrite) error
}

// ContinuationScheduler arranges a follow-up invocation for a partition whose
// time budget ran out before its keyspace did. Scheduling is fire-and-forget:
// success means the continuation was durably requested, not that it ran.
type ContinuationScheduler interface {
	ScheduleContinuation(ctx context.Context, shard Shard) error
}
