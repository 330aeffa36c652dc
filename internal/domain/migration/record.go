// Package migration defines the domain model for the blob-index migration:
// the legacy and destination record shapes, the scan cursor that tracks
// partition progress, and the ports the application services are built
// against.
package migration

import (
	"encoding/json"
	"time"
)

// Position locates one chunk of content inside a pack file.
type Position struct {
	// Offset is the byte offset of the chunk within the pack.
	Offset int64

	// Length is the chunk's byte length.
	Length int64

	// Locator identifies the pack file holding the chunk.
	Locator string
}

// SourceRecord is one row of the legacy blob index: a content hash and every
// pack position holding that content. Only Key and Positions drive the
// migration; the remaining fields ride along for diagnostics.
type SourceRecord struct {
	// Key is the content hash the legacy index is keyed by.
	Key string

	// Positions lists every pack location holding this content, in the
	// order the legacy index recorded them.
	Positions []Position

	// CreatedAt records when the legacy row was written.
	CreatedAt time.Time

	// Payload carries the legacy row's auxiliary document untouched.
	Payload json.RawMessage

	// Kind is the legacy row's record class.
	Kind string
}

// DestinationRecord is one row of the new chunk-location schema: where one
// chunk of the keyed content lives.
type DestinationRecord struct {
	Key     string
	Locator string
	Offset  int64
	Length  int64
}

// RecordKey is the destination store's primary key.
type RecordKey struct {
	Key     string
	Locator string
}

// RecordKey returns the primary key identifying this record in the
// destination store.
func (r DestinationRecord) RecordKey() RecordKey {
	return RecordKey{Key: r.Key, Locator: r.Locator}
}

// UnprocessedWrite is a destination write request the store did not commit.
// It is forwarded on a side channel for redrive, never dropped.
type UnprocessedWrite struct {
	Record DestinationRecord
}
