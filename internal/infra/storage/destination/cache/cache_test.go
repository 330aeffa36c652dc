package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/hashferry/internal/domain/migration"
	"github.com/ahrav/hashferry/internal/infra/storage/destination/memory"
)

type fakeChecker struct {
	calls   int
	probed  [][]migration.RecordKey
	respond func([]migration.RecordKey) (map[migration.RecordKey]struct{}, error)
}

func (f *fakeChecker) Present(_ context.Context, keys []migration.RecordKey) (map[migration.RecordKey]struct{}, error) {
	f.calls++
	f.probed = append(f.probed, keys)
	if f.respond != nil {
		return f.respond(keys)
	}
	return map[migration.RecordKey]struct{}{}, nil
}

func TestPresentCachesPositiveAnswers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	key := migration.RecordKey{Key: "hash-0001", Locator: "pack-a"}
	checker := &fakeChecker{respond: func(keys []migration.RecordKey) (map[migration.RecordKey]struct{}, error) {
		return map[migration.RecordKey]struct{}{key: {}}, nil
	}}
	kc := NewKnownKeysCache(checker, memory.NewStore(), time.Minute)

	present, err := kc.Present(ctx, []migration.RecordKey{key})
	require.NoError(t, err)
	assert.Contains(t, present, key)
	assert.Equal(t, 1, checker.calls)

	present, err = kc.Present(ctx, []migration.RecordKey{key})
	require.NoError(t, err)
	assert.Contains(t, present, key)
	assert.Equal(t, 1, checker.calls, "cached key should not be re-probed")
}

func TestPresentOnlyProbesMisses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	known := migration.RecordKey{Key: "hash-0001", Locator: "pack-a"}
	fresh := migration.RecordKey{Key: "hash-0002", Locator: "pack-a"}
	checker := &fakeChecker{respond: func(keys []migration.RecordKey) (map[migration.RecordKey]struct{}, error) {
		out := make(map[migration.RecordKey]struct{}, len(keys))
		for _, k := range keys {
			out[k] = struct{}{}
		}
		return out, nil
	}}
	kc := NewKnownKeysCache(checker, memory.NewStore(), time.Minute)

	_, err := kc.Present(ctx, []migration.RecordKey{known})
	require.NoError(t, err)

	present, err := kc.Present(ctx, []migration.RecordKey{known, fresh})
	require.NoError(t, err)
	assert.Len(t, present, 2)
	require.Equal(t, 2, checker.calls)
	assert.Equal(t, []migration.RecordKey{fresh}, checker.probed[1], "only the cache miss should reach the store")
}

func TestPresentDoesNotCacheAbsence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	key := migration.RecordKey{Key: "hash-0001", Locator: "pack-a"}
	checker := &fakeChecker{}
	kc := NewKnownKeysCache(checker, memory.NewStore(), time.Minute)

	for i := 0; i < 2; i++ {
		present, err := kc.Present(ctx, []migration.RecordKey{key})
		require.NoError(t, err)
		assert.Empty(t, present)
	}
	assert.Equal(t, 2, checker.calls, "absent keys must be re-probed every time")
}

func TestPresentPropagatesNilAnswer(t *testing.T) {
	t.Parallel()
	checker := &fakeChecker{respond: func([]migration.RecordKey) (map[migration.RecordKey]struct{}, error) {
		return nil, nil
	}}
	kc := NewKnownKeysCache(checker, memory.NewStore(), time.Minute)

	present, err := kc.Present(context.Background(), []migration.RecordKey{{Key: "hash-0001", Locator: "pack-a"}})
	require.NoError(t, err)
	assert.Nil(t, present)
}

func TestPresentErrorCachesNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	key := migration.RecordKey{Key: "hash-0001", Locator: "pack-a"}
	probeErr := errors.New("timeout")
	checker := &fakeChecker{respond: func([]migration.RecordKey) (map[migration.RecordKey]struct{}, error) {
		return nil, probeErr
	}}
	kc := NewKnownKeysCache(checker, memory.NewStore(), time.Minute)

	_, err := kc.Present(ctx, []migration.RecordKey{key})
	require.ErrorIs(t, err, probeErr)

	_, err = kc.Present(ctx, []migration.RecordKey{key})
	require.ErrorIs(t, err, probeErr)
	assert.Equal(t, 2, checker.calls)
}

func TestStoreMarksWrittenKeysKnown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	checker := &fakeChecker{}
	kc := NewKnownKeysCache(checker, memory.NewStore(), time.Minute)

	records := []migration.DestinationRecord{
		{Key: "hash-0001", Locator: "pack-a", Offset: 0, Length: 10},
		{Key: "hash-0002", Locator: "pack-b", Offset: 10, Length: 10},
	}
	unprocessed, err := kc.Store(ctx, records)
	require.NoError(t, err)
	assert.Empty(t, unprocessed)

	present, err := kc.Present(ctx, []migration.RecordKey{
		records[0].RecordKey(),
		records[1].RecordKey(),
	})
	require.NoError(t, err)
	assert.Len(t, present, 2)
	assert.Equal(t, 0, checker.calls, "written keys should answer from cache")
}

func TestStoreSkipsUnprocessedKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.NewStore()
	bad := migration.DestinationRecord{Key: "hash-bad", Locator: "pack-a", Offset: 0, Length: 10}
	good := migration.DestinationRecord{Key: "hash-good", Locator: "pack-a", Offset: 10, Length: 10}
	store.FailKey(bad.RecordKey(), errors.New("disk full"))

	checker := &fakeChecker{}
	kc := NewKnownKeysCache(checker, store, time.Minute)

	unprocessed, err := kc.Store(ctx, []migration.DestinationRecord{bad, good})
	require.NoError(t, err)
	require.Len(t, unprocessed, 1)

	_, err = kc.Present(ctx, []migration.RecordKey{bad.RecordKey()})
	require.NoError(t, err)
	assert.Equal(t, 1, checker.calls, "unprocessed keys must not be marked known")

	_, err = kc.Present(ctx, []migration.RecordKey{good.RecordKey()})
	require.NoError(t, err)
	assert.Equal(t, 1, checker.calls)
}

func TestStoreErrorCachesNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.NewStore()
	rec := migration.DestinationRecord{Key: "hash-0001", Locator: "pack-a", Offset: 0, Length: 10}
	store.FailKey(rec.RecordKey(), errors.New("connection reset"))

	checker := &fakeChecker{}
	kc := NewKnownKeysCache(checker, store, time.Minute)

	_, err := kc.Store(ctx, []migration.DestinationRecord{rec})
	require.Error(t, err)

	_, err = kc.Present(ctx, []migration.RecordKey{rec.RecordKey()})
	require.NoError(t, err)
	assert.Equal(t, 1, checker.calls)
}

func TestExpiredEntriesAreReprobed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	key := migration.RecordKey{Key: "hash-0001", Locator: "pack-a"}
	checker := &fakeChecker{respond: func(keys []migration.RecordKey) (map[migration.RecordKey]struct{}, error) {
		return map[migration.RecordKey]struct{}{key: {}}, nil
	}}
	kc := NewKnownKeysCache(checker, memory.NewStore(), 20*time.Millisecond)

	_, err := kc.Present(ctx, []migration.RecordKey{key})
	require.NoError(t, err)
	require.Equal(t, 1, checker.calls)

	time.Sleep(60 * time.Millisecond)

	_, err = kc.Present(ctx, []migration.RecordKey{key})
	require.NoError(t, err)
	assert.Equal(t, 2, checker.calls, "expired entry should fall through to the store")
}
