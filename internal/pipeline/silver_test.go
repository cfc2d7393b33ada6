package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bronzeAt(id, domain string, status int, responseTimeMs int64, ts time.Time) *BronzeRecord {
	return &BronzeRecord{
		RequestID:      id,
		URL:            "https://" + domain + "/" + id,
		Method:         "GET",
		Domain:         domain,
		Status:         status,
		ResponseTimeMs: responseTimeMs,
		Timestamp:      ts,
	}
}

type testPipeline struct {
	stores    *Stores
	dims      *DimensionManager
	gold      *GoldAggregator
	processor *SilverProcessor
}

func newTestPipeline(t *testing.T, batchSize int) *testPipeline {
	t.Helper()
	stores := NewMemoryStores()
	dims := NewDimensionManager(stores.Dimensions)
	dims.now = tickingClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	gold := NewGoldAggregator(stores, 24*time.Hour)
	return &testPipeline{
		stores:    stores,
		dims:      dims,
		gold:      gold,
		processor: NewSilverProcessor(stores, dims, gold, batchSize),
	}
}

func TestProcessOncePromotesBatch(t *testing.T) {
	p := newTestPipeline(t, 10)
	ts := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	for _, id := range []string{"a", "b", "c"} {
		ok, err := p.stores.Bronze.Insert(bronzeAt(id, "example.com", 200, 100, ts))
		require.NoError(t, err)
		require.True(t, ok)
	}

	n, err := p.processor.ProcessOnce()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	cursor, err := p.stores.Silver.Cursor()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), cursor)

	var records []SilverRecord
	require.NoError(t, p.stores.Silver.ScanAll(func(r SilverRecord) error {
		records = append(records, r)
		return nil
	}))
	require.Len(t, records, 3)
	for _, r := range records {
		assert.True(t, r.Validated)
		assert.NotZero(t, r.DomainKey)
	}
}

func TestProcessOnceIsIdempotentOnReplay(t *testing.T) {
	p := newTestPipeline(t, 10)
	ts := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	_, err := p.stores.Bronze.Insert(bronzeAt("a", "example.com", 200, 100, ts))
	require.NoError(t, err)

	n, err := p.processor.ProcessOnce()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	cursorAfterFirst, err := p.stores.Silver.Cursor()
	require.NoError(t, err)

	// No new bronze data: the second run is a no-op and the cursor holds.
	n, err = p.processor.ProcessOnce()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	cursorAfterSecond, err := p.stores.Silver.Cursor()
	require.NoError(t, err)
	assert.Equal(t, cursorAfterFirst, cursorAfterSecond)
}

func TestBronzeInsertIsIdempotent(t *testing.T) {
	p := newTestPipeline(t, 10)
	ts := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	ok, err := p.stores.Bronze.Insert(bronzeAt("a", "example.com", 200, 100, ts))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.stores.Bronze.Insert(bronzeAt("a", "example.com", 200, 100, ts))
	require.NoError(t, err)
	assert.False(t, ok)

	batch, err := p.stores.Bronze.ScanAfter(0, 10)
	require.NoError(t, err)
	assert.Len(t, batch, 1)
}

func TestMalformedRecordsAreQuarantined(t *testing.T) {
	p := newTestPipeline(t, 10)
	ts := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	_, err := p.stores.Bronze.Insert(bronzeAt("good-1", "example.com", 200, 100, ts))
	require.NoError(t, err)

	bad := bronzeAt("bad-1", "example.com", 200, 100, ts)
	bad.URL = ""
	_, err = p.stores.Bronze.Insert(bad)
	require.NoError(t, err)

	_, err = p.stores.Bronze.Insert(bronzeAt("good-2", "example.com", 200, 100, ts))
	require.NoError(t, err)

	n, err := p.processor.ProcessOnce()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	quarantined, err := p.stores.Silver.Quarantined(0)
	require.NoError(t, err)
	require.Len(t, quarantined, 1)
	assert.Equal(t, "bad-1", quarantined[0].RequestID)
	assert.Equal(t, "missing url", quarantined[0].Reason)

	// The quarantined record is past the cursor: it is not retried.
	n, err = p.processor.ProcessOnce()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDuplicateAcrossBatchesIsSkippedSilently(t *testing.T) {
	p := newTestPipeline(t, 10)
	ts := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	_, err := p.stores.Bronze.Insert(bronzeAt("a", "example.com", 200, 100, ts))
	require.NoError(t, err)
	_, err = p.processor.ProcessOnce()
	require.NoError(t, err)

	// The sweeper may evict bronze rows and free the request id; a
	// late re-capture must not produce a second silver record.
	_, err = p.stores.Bronze.DeleteOlderThan(ts.Add(time.Hour))
	require.NoError(t, err)
	ok, err := p.stores.Bronze.Insert(bronzeAt("a", "example.com", 200, 100, ts))
	require.NoError(t, err)
	require.True(t, ok)

	n, err := p.processor.ProcessOnce()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	count := 0
	require.NoError(t, p.stores.Silver.ScanAll(func(SilverRecord) error {
		count++
		return nil
	}))
	assert.Equal(t, 1, count)
}

func TestDrainHonorsBatchSize(t *testing.T) {
	p := newTestPipeline(t, 2)
	ts := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_, err := p.stores.Bronze.Insert(bronzeAt(id, "example.com", 200, 100, ts))
		require.NoError(t, err)
	}

	n, err := p.processor.ProcessOnce()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	total, err := p.processor.Drain()
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

// failingSilver rejects commits while fail is set, standing in for a
// storage outage.
type failingSilver struct {
	SilverStore
	fail     bool
	attempts int
}

func (s *failingSilver) CommitBatch(records []SilverRecord, quarantined []QuarantineRecord, cursor uint64) error {
	s.attempts++
	if s.fail {
		return errors.New("storage unavailable")
	}
	return s.SilverStore.CommitBatch(records, quarantined, cursor)
}

func TestBatchRollsBackOnStorageFailure(t *testing.T) {
	stores := NewMemoryStores()
	flaky := &failingSilver{SilverStore: stores.Silver, fail: true}
	stores.Silver = flaky

	dims := NewDimensionManager(stores.Dimensions)
	gold := NewGoldAggregator(stores, 24*time.Hour)
	processor := NewSilverProcessor(stores, dims, gold, 10)

	ts := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	_, err := stores.Bronze.Insert(bronzeAt("a", "example.com", 200, 100, ts))
	require.NoError(t, err)

	n, err := processor.ProcessOnce()
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 3, flaky.attempts) // bounded retries, then give up

	cursor, err := stores.Silver.Cursor()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cursor)

	// Outage over: the same batch replays cleanly.
	flaky.fail = false
	n, err = processor.ProcessOnce()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
