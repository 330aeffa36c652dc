package postgres

import (
	"context"
	"sort"
	"testing"
	"time"

	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/hashferry/internal/domain/migration"
	"github.com/ahrav/hashferry/internal/infra/storage"
	"github.com/ahrav/hashferry/pkg/common"
)

func setupPagerTest(t *testing.T) (context.Context, *pgxpool.Pool, *blobIndexPager, func()) {
	t.Helper()

	pool, cleanup := storage.SetupTestContainer(t)
	limiter := common.NewRateLimiter(1000, 1000)
	pager := NewBlobIndexPager(pool, limiter, storage.NoOpTracer())
	return context.Background(), pool, pager, cleanup
}

func seedBlobIndexRow(t *testing.T, ctx context.Context, pool *pgxpool.Pool, key, positions string) {
	t.Helper()

	_, err := pool.Exec(ctx,
		`INSERT INTO blob_index (hash_key, positions) VALUES ($1, $2::jsonb)`,
		key, positions,
	)
	require.NoError(t, err)
}

// collectPartition walks one shard to exhaustion via continuation tokens.
func collectPartition(t *testing.T, ctx context.Context, pager *blobIndexPager, shard migration.Shard, limit int) []migration.SourceRecord {
	t.Helper()

	var out []migration.SourceRecord
	var after *string
	for i := 0; ; i++ {
		require.Less(t, i, 100, "pager did not terminate")
		page, err := pager.FetchPage(ctx, shard, after, limit)
		require.NoError(t, err)
		out = append(out, page.Records...)
		if page.NextKey == nil {
			return out
		}
		after = page.NextKey
	}
}

func TestPGBlobIndexPager_EmptyTable(t *testing.T) {
	t.Parallel()
	ctx, _, pager, cleanup := setupPagerTest(t)
	defer cleanup()

	page, err := pager.FetchPage(ctx, migration.DefaultShard(), nil, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.Nil(t, page.NextKey)
}

func TestPGBlobIndexPager_WalksKeysInOrder(t *testing.T) {
	t.Parallel()
	ctx, pool, pager, cleanup := setupPagerTest(t)
	defer cleanup()

	keys := []string{"hash-0001", "hash-0002", "hash-0003", "hash-0004", "hash-0005", "hash-0006", "hash-0007"}
	for _, k := range keys {
		seedBlobIndexRow(t, ctx, pool, k, `[{"pack": "pack-a", "offset": 0, "len": 10}]`)
	}

	records := collectPartition(t, ctx, pager, migration.DefaultShard(), 3)
	require.Len(t, records, len(keys))

	got := make([]string, 0, len(records))
	for _, rec := range records {
		got = append(got, rec.Key)
	}
	assert.True(t, sort.StringsAreSorted(got), "keys should come back in hash_key order")
	assert.Equal(t, keys, got)
}

func TestPGBlobIndexPager_ExactPageBoundary(t *testing.T) {
	t.Parallel()
	ctx, pool, pager, cleanup := setupPagerTest(t)
	defer cleanup()

	for _, k := range []string{"hash-0001", "hash-0002", "hash-0003", "hash-0004"} {
		seedBlobIndexRow(t, ctx, pool, k, `[]`)
	}

	page, err := pager.FetchPage(ctx, migration.DefaultShard(), nil, 4)
	require.NoError(t, err)
	require.Len(t, page.Records, 4)
	require.NotNil(t, page.NextKey)
	assert.Equal(t, "hash-0004", *page.NextKey)

	page, err = pager.FetchPage(ctx, migration.DefaultShard(), page.NextKey, 4)
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.Nil(t, page.NextKey)
}

func TestPGBlobIndexPager_PartitionsAreDisjoint(t *testing.T) {
	t.Parallel()
	ctx, pool, pager, cleanup := setupPagerTest(t)
	defer cleanup()

	const totalKeys = 40
	seeded := make(map[string]struct{}, totalKeys)
	for i := 0; i < totalKeys; i++ {
		key := "hash-" + string(rune('a'+i%26)) + string(rune('a'+i/26)) + "-suffix"
		seeded[key] = struct{}{}
		seedBlobIndexRow(t, ctx, pool, key, `[]`)
	}

	const totalPartitions = 3
	seen := make(map[string]int, totalKeys)
	for pid := 0; pid < totalPartitions; pid++ {
		shard, err := migration.NewShard(totalPartitions, pid)
		require.NoError(t, err)
		for _, rec := range collectPartition(t, ctx, pager, shard, 7) {
			seen[rec.Key]++
		}
	}

	require.Len(t, seen, len(seeded), "union of partitions should cover every key")
	for key, count := range seen {
		assert.Equal(t, 1, count, "key %s appeared in more than one partition", key)
		assert.Contains(t, seeded, key)
	}
}

func TestPGBlobIndexPager_DecodesLegacyPositions(t *testing.T) {
	t.Parallel()
	ctx, pool, pager, cleanup := setupPagerTest(t)
	defer cleanup()

	_, err := pool.Exec(ctx,
		`INSERT INTO blob_index (hash_key, positions, kind, payload)
		 VALUES ($1, $2::jsonb, $3, $4::jsonb)`,
		"hash-rich",
		`[{"pack": "pack-a", "offset": 128, "len": 64}, {"pack": "pack-b", "offset": 0, "len": 2048}]`,
		"blob",
		`{"source": "import-2019"}`,
	)
	require.NoError(t, err)

	page, err := pager.FetchPage(ctx, migration.DefaultShard(), nil, 10)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)

	rec := page.Records[0]
	assert.Equal(t, "hash-rich", rec.Key)
	assert.Equal(t, "blob", rec.Kind)
	assert.JSONEq(t, `{"source": "import-2019"}`, string(rec.Payload))
	assert.WithinDuration(t, time.Now(), rec.CreatedAt, time.Minute)
	require.Len(t, rec.Positions, 2)
	assert.Equal(t, migration.Position{Locator: "pack-a", Offset: 128, Length: 64}, rec.Positions[0])
	assert.Equal(t, migration.Position{Locator: "pack-b", Offset: 0, Length: 2048}, rec.Positions[1])
}

func TestPGBlobIndexPager_EmptyPositionsDocument(t *testing.T) {
	t.Parallel()
	ctx, pool, pager, cleanup := setupPagerTest(t)
	defer cleanup()

	seedBlobIndexRow(t, ctx, pool, "hash-empty", `[]`)

	page, err := pager.FetchPage(ctx, migration.DefaultShard(), nil, 10)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Empty(t, page.Records[0].Positions)
	assert.Empty(t, page.Records[0].Kind)
}

func TestPGBlobIndexPager_MalformedPositionsDocument(t *testing.T) {
	t.Parallel()
	ctx, pool, pager, cleanup := setupPagerTest(t)
	defer cleanup()

	// Valid JSONB, wrong shape: an object where an array is expected.
	seedBlobIndexRow(t, ctx, pool, "hash-bad", `{"pack": "pack-a"}`)

	_, err := pager.FetchPage(ctx, migration.DefaultShard(), nil, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash-bad")
}

func TestPGBlobIndexPager_ResumesAfterToken(t *testing.T) {
	t.Parallel()
	ctx, pool, pager, cleanup := setupPagerTest(t)
	defer cleanup()

	for _, k := range []string{"hash-0001", "hash-0002", "hash-0003", "hash-0004", "hash-0005"} {
		seedBlobIndexRow(t, ctx, pool, k, `[]`)
	}

	after := "hash-0003"
	page, err := pager.FetchPage(ctx, migration.DefaultShard(), &after, 10)
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "hash-0004", page.Records[0].Key)
	assert.Equal(t, "hash-0005", page.Records[1].Key)
	assert.Nil(t, page.NextKey)
}
