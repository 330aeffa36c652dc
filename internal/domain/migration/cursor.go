package migration

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCursorExhausted signals an attempt to advance a cursor that already
// reached its terminal state. Exhaustion is idempotent to observe but final;
// only an external reset of the checkpoint entry can restart a partition.
var ErrCursorExhausted = errors.New("scan cursor is exhausted")

// ScanCursor is an entity tracking the durable progress of one partition
// scan. It is persisted to the checkpoint store after every page cycle and
// loaded at the start of every invocation to resume. A cursor is monotonic:
// it only advances to a new page token or terminates, never rewinds.
type ScanCursor struct {
	// Identity. The shard is carried in the checkpoint key, not the
	// serialized value.
	shard Shard

	// State.
	lastKey        *string
	recordsScanned int64
	stopRequested  bool

	// started marks a cursor that has completed at least one page cycle.
	// It distinguishes a fresh cursor (no lastKey, nothing scanned yet)
	// from an exhausted one (no lastKey because the partition finished).
	started bool
}

// NewScanCursor creates a fresh cursor for a partition's first invocation.
func NewScanCursor(shard Shard) *ScanCursor {
	return &ScanCursor{shard: shard}
}

// Getters for ScanCursor.
func (c *ScanCursor) Shard() Shard          { return c.shard }
func (c *ScanCursor) RecordsScanned() int64 { return c.recordsScanned }
func (c *ScanCursor) StopRequested() bool   { return c.stopRequested }

// LastKey returns the continuation token of the most recent page, or nil when
// the scan has not started or the partition is exhausted.
func (c *ScanCursor) LastKey() *string {
	if c.lastKey == nil {
		return nil
	}
	k := *c.lastKey
	return &k
}

// Exhausted reports whether the partition completed: the cursor has advanced
// at least once and the source returned no further continuation token. This
// is a terminal state; re-invoking a scan against it is a no-op.
func (c *ScanCursor) Exhausted() bool { return c.started && c.lastKey == nil }

// Advance moves the cursor past one fetched page: pageCount records were
// observed and nextKey is the source's continuation token. A nil nextKey
// terminates the cursor.
func (c *ScanCursor) Advance(pageCount int, nextKey *string) error {
	if c.Exhausted() {
		return ErrCursorExhausted
	}
	if pageCount < 0 {
		return fmt.Errorf("page count must be >= 0, got %d", pageCount)
	}

	c.recordsScanned += int64(pageCount)
	if nextKey == nil {
		c.lastKey = nil
	} else {
		k := *nextKey
		c.lastKey = &k
	}
	c.started = true

	return nil
}

// RequestStop marks this partition's cursor so the next invocation halts
// before fetching anything. The scanner only reads this flag; it is set by
// operational tooling.
func (c *ScanCursor) RequestStop() { c.stopRequested = true }

// MarshalJSON serializes the cursor's persisted state. The shard is omitted;
// it lives in the checkpoint key.
func (c *ScanCursor) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		RecordsScanned int64   `json:"records_scanned"`
		LastKey        *string `json:"last_key,omitempty"`
		StopRequested  bool    `json:"stop_requested"`
	}{
		RecordsScanned: c.recordsScanned,
		LastKey:        c.lastKey,
		StopRequested:  c.stopRequested,
	})
}

// UnmarshalJSON restores a cursor from its persisted state. A cursor is only
// ever unmarshaled from a previously persisted value, so the result is always
// a started cursor.
func (c *ScanCursor) UnmarshalJSON(data []byte) error {
	aux := &struct {
		RecordsScanned int64   `json:"records_scanned"`
		LastKey        *string `json:"last_key"`
		StopRequested  bool    `json:"stop_requested"`
	}{}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	c.recordsScanned = aux.RecordsScanned
	c.lastKey = aux.LastKey
	c.stopRequested = aux.StopRequested
	c.started = true

	return nil
}

// CursorKey returns the checkpoint key holding the scan cursor for one
// partition of a staged migration.
func CursorKey(stage string, shard Shard) string {
	return fmt.Sprintf("%s:%d:%d", stage, shard.TotalPartitions, shard.PartitionID)
}

// HaltKey returns the checkpoint key whose mere presence, value ignored,
// halts every partition of a staged migration.
func HaltKey(stage string) string { return stage }
