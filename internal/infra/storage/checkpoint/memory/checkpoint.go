// Package memory provides a thread-safe in-memory checkpoint store for
// testing and development.
package memory

import (
	"context"
	"sync"

	"github.com/ahrav/hashferry/internal/domain/migration"
)

var _ migration.CheckpointStore = (*CheckpointStore)(nil)

// CheckpointStore implements migration.CheckpointStore over a mutex-guarded
// map.
type CheckpointStore struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewCheckpointStore creates an empty in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{entries: make(map[string]string)}
}

func (cs *CheckpointStore) Get(ctx context.Context, key string) (string, bool, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	value, found := cs.entries[key]
	return value, found, nil
}

func (cs *CheckpointStore) Put(ctx context.Context, key, value string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.entries[key] = value
	return nil
}
