// Package memory provides an in-memory destination store for tests and local
// development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ahrav/hashferry/internal/domain/migration"
)

var (
	_ migration.ExistenceChecker = (*Store)(nil)
	_ migration.BatchStorer      = (*Store)(nil)
)

// Store is a thread-safe, map-backed stand-in for the PostgreSQL chunk
// location store. Writes are first-write-wins, mirroring the destination
// table's ON CONFLICT DO NOTHING insert.
type Store struct {
	mu   sync.Mutex
	rows map[migration.RecordKey]migration.DestinationRecord
	fail map[migration.RecordKey]error
}

// NewStore creates an empty in-memory destination store.
func NewStore() *Store {
	return &Store{
		rows: make(map[migration.RecordKey]migration.DestinationRecord),
		fail: make(map[migration.RecordKey]error),
	}
}

// FailKey scripts a write failure for the given key. Later Store calls report
// records with that key as unprocessed.
func (s *Store) FailKey(key migration.RecordKey, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[key] = err
}

// Present reports which of the given keys have been stored.
func (s *Store) Present(_ context.Context, keys []migration.RecordKey) (map[migration.RecordKey]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	present := make(map[migration.RecordKey]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := s.rows[key]; ok {
			present[key] = struct{}{}
		}
	}
	return present, nil
}

// Store writes the batch, keeping the first value seen for each key. Scripted
// failures come back as the unprocessed subset; when every record in the
// batch fails the first scripted error is returned instead.
func (s *Store) Store(_ context.Context, records []migration.DestinationRecord) ([]migration.DestinationRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var unprocessed []migration.DestinationRecord
	var firstErr error
	for _, rec := range records {
		key := rec.RecordKey()
		if err, ok := s.fail[key]; ok {
			if firstErr == nil {
				firstErr = err
			}
			unprocessed = append(unprocessed, rec)
			continue
		}
		if _, ok := s.rows[key]; !ok {
			s.rows[key] = rec
		}
	}

	if len(unprocessed) == len(records) && firstErr != nil {
		return nil, fmt.Errorf("failed to store chunk locations: %w", firstErr)
	}
	return unprocessed, nil
}

// Get returns the stored record for key, if any.
func (s *Store) Get(key migration.RecordKey) (migration.DestinationRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[key]
	return rec, ok
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}
