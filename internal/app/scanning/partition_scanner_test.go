package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/hashferry/internal/domain/migration"
	"github.com/ahrav/hashferry/pkg/common/logger"
)

// fakeCheckpointStore is an in-memory CheckpointStore with optional error
// injection.
type fakeCheckpointStore struct {
	mu     sync.Mutex
	values map[string]string
	getErr error
	putErr error
	puts   int
}

func newFakeCheckpointStore() *fakeCheckpointStore {
	return &fakeCheckpointStore{values: make(map[string]string)}
}

func (s *fakeCheckpointStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return "", false, s.getErr
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *fakeCheckpointStore) Put(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.values[key] = value
	s.puts++
	return nil
}

func (s *fakeCheckpointStore) value(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// fakePager serves scripted pages keyed by the continuation token they are
// fetched after ("" for the start of the partition) and records every fetch.
type fakePager struct {
	mu    sync.Mutex
	pages map[string]migration.Page
	err   error
	calls []string
}

func (p *fakePager) FetchPage(_ context.Context, _ migration.Shard, after *string, _ int) (migration.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := ""
	if after != nil {
		key = *after
	}
	p.calls = append(p.calls, key)

	if p.err != nil {
		return migration.Page{}, p.err
	}
	page, ok := p.pages[key]
	if !ok {
		return migration.Page{}, fmt.Errorf("unexpected fetch after %q", key)
	}
	return page, nil
}

func (p *fakePager) fetches() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// recordingDispatcher captures dispatched batches and can run a hook after
// each successful dispatch.
type recordingDispatcher struct {
	mu         sync.Mutex
	batches    [][]migration.SourceRecord
	err        error
	onDispatch func()
}

func (d *recordingDispatcher) Dispatch(_ context.Context, records []migration.SourceRecord) error {
	d.mu.Lock()
	if d.err != nil {
		d.mu.Unlock()
		return d.err
	}
	d.batches = append(d.batches, records)
	hook := d.onDispatch
	d.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (d *recordingDispatcher) dispatched() [][]migration.SourceRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]migration.SourceRecord(nil), d.batches...)
}

type recordingScheduler struct {
	mu        sync.Mutex
	scheduled []migration.Shard
	err       error
}

func (s *recordingScheduler) ScheduleContinuation(_ context.Context, shard migration.Shard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.scheduled = append(s.scheduled, shard)
	return nil
}

// steppingClock advances by a fixed step on every Now call, making budget
// exhaustion deterministic.
type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.now
	c.now = c.now.Add(c.step)
	return v
}

type trackingScannerMetrics struct {
	mu                                            sync.Mutex
	pages, records, batches, continuations, halts int
}

func (m *trackingScannerMetrics) IncPageFetched(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages++
}

func (m *trackingScannerMetrics) AddRecordsScanned(_ context.Context, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records += count
}

func (m *trackingScannerMetrics) IncBatchDispatched(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
}

func (m *trackingScannerMetrics) IncContinuationScheduled(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.continuations++
}

func (m *trackingScannerMetrics) IncScanHalted(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halts++
}

func sourceRecords(prefix string, n int) []migration.SourceRecord {
	out := make([]migration.SourceRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, migration.SourceRecord{
			Key:       fmt.Sprintf("%s-%d", prefix, i),
			Positions: []migration.Position{{Offset: int64(i), Length: 10, Locator: "pack-0"}},
		})
	}
	return out
}

type scannerDeps struct {
	store     *fakeCheckpointStore
	pager     *fakePager
	disp      *recordingDispatcher
	sched     *recordingScheduler
	clock     *steppingClock
	metrics   *trackingScannerMetrics
	scanner   *PartitionScanner
	cursorKey string
}

func newTestScanner(t *testing.T, cfg ScannerConfig, shard migration.Shard) *scannerDeps {
	t.Helper()

	if cfg.Stage == "" {
		cfg.Stage = "test"
	}

	d := &scannerDeps{
		store:   newFakeCheckpointStore(),
		pager:   &fakePager{pages: make(map[string]migration.Page)},
		disp:    &recordingDispatcher{},
		sched:   &recordingScheduler{},
		clock:   &steppingClock{now: time.Unix(1700000000, 0)},
		metrics: &trackingScannerMetrics{},
	}
	d.cursorKey = migration.CursorKey(cfg.Stage, shard)

	log := logger.New(io.Discard, logger.LevelDebug, "test", nil)
	tracer := noop.NewTracerProvider().Tracer("test")

	d.scanner = NewPartitionScanner(cfg, d.store, d.pager, d.disp, d.sched, d.clock, log, tracer, d.metrics)
	return d
}

func persistedCursor(t *testing.T, store *fakeCheckpointStore, key string, shard migration.Shard) *migration.ScanCursor {
	t.Helper()
	raw, ok := store.value(key)
	require.True(t, ok, "expected a persisted cursor at %q", key)
	cursor := migration.NewScanCursor(shard)
	require.NoError(t, json.Unmarshal([]byte(raw), cursor))
	return cursor
}

func TestPartitionScannerScansToExhaustion(t *testing.T) {
	t.Parallel()

	shard := migration.Shard{TotalPartitions: 4, PartitionID: 1}
	d := newTestScanner(t, ScannerConfig{}, shard)

	k1 := "key-100"
	d.pager.pages[""] = migration.Page{Records: sourceRecords("a", 100), NextKey: &k1}
	d.pager.pages[k1] = migration.Page{Records: sourceRecords("b", 40), NextKey: nil}

	report, err := d.scanner.Run(context.Background(), shard)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.Equal(t, 2, report.Pages)
	assert.Equal(t, int64(140), report.Cursor.RecordsScanned())
	assert.True(t, report.Cursor.Exhausted())

	batches := d.disp.dispatched()
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 100)
	assert.Len(t, batches[1], 40)

	// One persist per page cycle, final state terminal.
	assert.Equal(t, 2, d.store.puts)
	final := persistedCursor(t, d.store, d.cursorKey, shard)
	assert.True(t, final.Exhausted())
	assert.Equal(t, int64(140), final.RecordsScanned())

	assert.Equal(t, 2, d.metrics.pages)
	assert.Equal(t, 140, d.metrics.records)
	assert.Equal(t, 2, d.metrics.batches)
	assert.Zero(t, d.metrics.continuations)
}

// TestPartitionScannerResumes verifies an invocation picks up after the
// persisted token and never re-fetches pages the cursor already reflects.
func TestPartitionScannerResumes(t *testing.T) {
	t.Parallel()

	shard := migration.Shard{TotalPartitions: 2, PartitionID: 0}
	d := newTestScanner(t, ScannerConfig{}, shard)

	// A prior invocation got through "key-100" with 100 records scanned.
	prior := migration.NewScanCursor(shard)
	k1 := "key-100"
	require.NoError(t, prior.Advance(100, &k1))
	raw, err := json.Marshal(prior)
	require.NoError(t, err)
	require.NoError(t, d.store.Put(context.Background(), d.cursorKey, string(raw)))

	d.pager.pages[k1] = migration.Page{Records: sourceRecords("c", 25), NextKey: nil}

	report, err := d.scanner.Run(context.Background(), shard)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.Equal(t, int64(125), report.Cursor.RecordsScanned())
	assert.Equal(t, []string{k1}, d.pager.fetches(), "resume must fetch only after the persisted token")
}

func TestPartitionScannerHaltPaths(t *testing.T) {
	t.Parallel()

	shard := migration.Shard{TotalPartitions: 8, PartitionID: 5}

	t.Run("global stop signal present before the scan", func(t *testing.T) {
		d := newTestScanner(t, ScannerConfig{}, shard)
		require.NoError(t, d.store.Put(context.Background(), migration.HaltKey("test"), "requested"))

		report, err := d.scanner.Run(context.Background(), shard)
		require.NoError(t, err)

		assert.Equal(t, OutcomeHalted, report.Outcome)
		assert.Empty(t, d.pager.fetches(), "halted invocation must fetch nothing")
		_, found := d.store.value(d.cursorKey)
		assert.False(t, found, "halted invocation must not write progress")
		assert.Equal(t, 1, d.metrics.halts)
	})

	t.Run("cursor carries a stop request", func(t *testing.T) {
		d := newTestScanner(t, ScannerConfig{}, shard)
		stopped := migration.NewScanCursor(shard)
		k := "key-50"
		require.NoError(t, stopped.Advance(50, &k))
		stopped.RequestStop()
		raw, err := json.Marshal(stopped)
		require.NoError(t, err)
		require.NoError(t, d.store.Put(context.Background(), d.cursorKey, string(raw)))

		report, err := d.scanner.Run(context.Background(), shard)
		require.NoError(t, err)

		assert.Equal(t, OutcomeHalted, report.Outcome)
		assert.Equal(t, int64(50), report.Cursor.RecordsScanned(), "previously persisted progress returned unchanged")
		assert.Empty(t, d.pager.fetches())
	})

	t.Run("stop signal appears mid-scan", func(t *testing.T) {
		d := newTestScanner(t, ScannerConfig{}, shard)
		k1 := "key-10"
		d.pager.pages[""] = migration.Page{Records: sourceRecords("a", 10), NextKey: &k1}
		d.pager.pages[k1] = migration.Page{Records: sourceRecords("b", 10), NextKey: nil}

		// An operator writes the halt entry while the first page is in flight.
		d.disp.onDispatch = func() {
			_ = d.store.Put(context.Background(), migration.HaltKey("test"), "requested")
		}

		report, err := d.scanner.Run(context.Background(), shard)
		require.NoError(t, err)

		assert.Equal(t, OutcomeHalted, report.Outcome)
		assert.Equal(t, 1, report.Pages, "halt is observed at the post-dispatch check")

		// The first page's progress was already durable before the halt.
		final := persistedCursor(t, d.store, d.cursorKey, shard)
		assert.Equal(t, int64(10), final.RecordsScanned())
	})
}

// TestPartitionScannerExhaustedCursorIsTerminal verifies re-invoking a
// finished partition is a durable no-op.
func TestPartitionScannerExhaustedCursorIsTerminal(t *testing.T) {
	t.Parallel()

	shard := migration.Shard{TotalPartitions: 2, PartitionID: 1}
	d := newTestScanner(t, ScannerConfig{}, shard)

	done := migration.NewScanCursor(shard)
	require.NoError(t, done.Advance(500, nil))
	raw, err := json.Marshal(done)
	require.NoError(t, err)
	require.NoError(t, d.store.Put(context.Background(), d.cursorKey, string(raw)))
	d.store.puts = 0

	report, err := d.scanner.Run(context.Background(), shard)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.Zero(t, report.Pages)
	assert.Empty(t, d.pager.fetches())
	assert.Zero(t, d.store.puts, "terminal invocation must not rewrite the cursor")
	assert.Equal(t, int64(500), report.Cursor.RecordsScanned())
}

func TestPartitionScannerSchedulesContinuation(t *testing.T) {
	t.Parallel()

	shard := migration.Shard{TotalPartitions: 4, PartitionID: 2}
	cfg := ScannerConfig{
		InvocationBudget:  time.Second,
		ContinueThreshold: 500 * time.Millisecond,
	}
	d := newTestScanner(t, cfg, shard)
	// Every clock read burns two seconds, so the budget is gone after the
	// first page cycle.
	d.clock.step = 2 * time.Second

	k1 := "key-250"
	k2 := "key-500"
	d.pager.pages[""] = migration.Page{Records: sourceRecords("a", 250), NextKey: &k1}
	d.pager.pages[k1] = migration.Page{Records: sourceRecords("b", 250), NextKey: &k2}

	report, err := d.scanner.Run(context.Background(), shard)
	require.NoError(t, err)

	assert.Equal(t, OutcomeContinued, report.Outcome)
	assert.Equal(t, 1, report.Pages)
	require.Len(t, d.sched.scheduled, 1)
	assert.Equal(t, shard, d.sched.scheduled[0])
	assert.Equal(t, 1, d.metrics.continuations)

	// The continuation will resume from the durably persisted token.
	final := persistedCursor(t, d.store, d.cursorKey, shard)
	require.NotNil(t, final.LastKey())
	assert.Equal(t, k1, *final.LastKey())
}

func TestPartitionScannerEmptyPageStillAdvances(t *testing.T) {
	t.Parallel()

	shard := migration.DefaultShard()
	d := newTestScanner(t, ScannerConfig{}, shard)

	// A sparse keyspace slice can return an empty page with more to scan.
	k1 := "key-gap"
	d.pager.pages[""] = migration.Page{Records: nil, NextKey: &k1}
	d.pager.pages[k1] = migration.Page{Records: sourceRecords("a", 5), NextKey: nil}

	report, err := d.scanner.Run(context.Background(), shard)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, report.Outcome)
	assert.Equal(t, 2, report.Pages)
	assert.Equal(t, int64(5), report.Cursor.RecordsScanned())
	assert.Len(t, d.disp.dispatched(), 1, "empty pages dispatch nothing")
	assert.Equal(t, 2, d.store.puts, "empty pages still persist the cursor")
}

func TestPartitionScannerFailureSemantics(t *testing.T) {
	t.Parallel()

	shard := migration.DefaultShard()
	// A tiny retry budget keeps the exhausted-retries path fast.
	cfg := ScannerConfig{RetryBudget: time.Millisecond}

	t.Run("dispatch failure surfaces without persisting the page", func(t *testing.T) {
		d := newTestScanner(t, cfg, shard)
		k1 := "key-1"
		d.pager.pages[""] = migration.Page{Records: sourceRecords("a", 10), NextKey: &k1}
		d.disp.err = errors.New("queue unavailable")

		_, err := d.scanner.Run(context.Background(), shard)
		require.Error(t, err)
		assert.ErrorContains(t, err, "dispatch batch")

		_, found := d.store.value(d.cursorKey)
		assert.False(t, found, "checkpoint must only record dispatched pages")
	})

	t.Run("source failure surfaces after retries", func(t *testing.T) {
		d := newTestScanner(t, cfg, shard)
		d.pager.err = errors.New("source throttled")

		_, err := d.scanner.Run(context.Background(), shard)
		require.Error(t, err)
		assert.ErrorContains(t, err, "fetch source page")
	})

	t.Run("corrupt persisted cursor fails loudly", func(t *testing.T) {
		d := newTestScanner(t, cfg, shard)
		require.NoError(t, d.store.Put(context.Background(), d.cursorKey, "{not json"))

		_, err := d.scanner.Run(context.Background(), shard)
		require.Error(t, err)
		assert.ErrorContains(t, err, "decode persisted cursor")
	})
}
