// Package cache decorates the destination store with a short-lived known-keys
// cache.
package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ahrav/hashferry/internal/domain/migration"
)

var (
	_ migration.ExistenceChecker = (*KnownKeysCache)(nil)
	_ migration.BatchStorer      = (*KnownKeysCache)(nil)
)

// KnownKeysCache wraps a destination store and remembers, for a short TTL,
// which keys are known to exist. Cache hits skip the existence probe, and
// rows written through the wrapper are added on the way out. Only positive
// answers are cached; absence is always re-probed.
type KnownKeysCache struct {
	checker migration.ExistenceChecker
	storer  migration.BatchStorer
	known   *gocache.Cache
}

// NewKnownKeysCache wraps checker and storer with a known-keys cache whose
// entries expire after ttl.
func NewKnownKeysCache(checker migration.ExistenceChecker, storer migration.BatchStorer, ttl time.Duration) *KnownKeysCache {
	return &KnownKeysCache{
		checker: checker,
		storer:  storer,
		known:   gocache.New(ttl, 2*ttl),
	}
}

// cacheKey flattens a record key into a single string. NUL cannot appear in
// either component, so the join is unambiguous.
func cacheKey(key migration.RecordKey) string {
	return key.Key + "\x00" + key.Locator
}

// Present answers from the cache where possible and probes the underlying
// checker only for the misses. A nil map from the checker is passed through
// untouched.
func (c *KnownKeysCache) Present(ctx context.Context, keys []migration.RecordKey) (map[migration.RecordKey]struct{}, error) {
	present := make(map[migration.RecordKey]struct{}, len(keys))
	var misses []migration.RecordKey
	for _, key := range keys {
		if _, ok := c.known.Get(cacheKey(key)); ok {
			present[key] = struct{}{}
			continue
		}
		misses = append(misses, key)
	}
	if len(misses) == 0 {
		return present, nil
	}

	fromStore, err := c.checker.Present(ctx, misses)
	if err != nil {
		return nil, err
	}
	if fromStore == nil {
		return nil, nil
	}
	for key := range fromStore {
		present[key] = struct{}{}
		c.known.SetDefault(cacheKey(key), struct{}{})
	}
	return present, nil
}

// Store delegates to the underlying storer and marks every key that ended up
// written as known.
func (c *KnownKeysCache) Store(ctx context.Context, records []migration.DestinationRecord) ([]migration.DestinationRecord, error) {
	unprocessed, err := c.storer.Store(ctx, records)
	if err != nil {
		return unprocessed, err
	}

	failed := make(map[migration.RecordKey]struct{}, len(unprocessed))
	for _, rec := range unprocessed {
		failed[rec.RecordKey()] = struct{}{}
	}
	for _, rec := range records {
		key := rec.RecordKey()
		if _, ok := failed[key]; ok {
			continue
		}
		c.known.SetDefault(cacheKey(key), struct{}{})
	}
	return unprocessed, nil
}
