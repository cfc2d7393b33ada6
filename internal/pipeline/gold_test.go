package pipeline

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silverAt(id string, domainKey uint64, status int, responseTimeMs int64, ts time.Time) SilverRecord {
	return SilverRecord{
		RequestID:      id,
		URL:            "https://example.com/" + id,
		Method:         "GET",
		DomainKey:      domainKey,
		Status:         status,
		ResponseTimeMs: responseTimeMs,
		Timestamp:      ts,
		Validated:      true,
	}
}

func TestBucketTruncatesToUTCDay(t *testing.T) {
	agg := NewGoldAggregator(NewMemoryStores(), 24*time.Hour)
	ts := time.Date(2026, 8, 28, 17, 45, 12, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC), agg.Bucket(ts))
}

func TestBucketGranularityIsConfigurable(t *testing.T) {
	agg := NewGoldAggregator(NewMemoryStores(), time.Hour)
	ts := time.Date(2026, 8, 28, 17, 45, 12, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 28, 17, 0, 0, 0, time.UTC), agg.Bucket(ts))
}

func TestApplyDeltaMaintainsCountInvariant(t *testing.T) {
	stores := NewMemoryStores()
	agg := NewGoldAggregator(stores, 24*time.Hour)
	ts := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	require.NoError(t, agg.ApplyDelta(silverAt("a", 1, 200, 100, ts)))
	require.NoError(t, agg.ApplyDelta(silverAt("b", 1, 404, 200, ts)))
	require.NoError(t, agg.ApplyDelta(silverAt("c", 1, 0, 50, ts))) // aborted request

	fact, err := stores.Gold.Get(1, agg.Bucket(ts))
	require.NoError(t, err)
	require.NotNil(t, fact)
	assert.Equal(t, int64(3), fact.TotalRequests)
	assert.Equal(t, int64(1), fact.SuccessCount)
	assert.Equal(t, int64(1), fact.ErrorCount)
	assert.Equal(t, int64(1), fact.OtherCount)
	assert.Equal(t, fact.TotalRequests, fact.SuccessCount+fact.ErrorCount+fact.OtherCount)
	assert.Equal(t, int64(350), fact.SumResponseTimeMs)
}

func TestApplyDeltaIsOrderIndependent(t *testing.T) {
	ts := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	records := []SilverRecord{
		silverAt("a", 1, 200, 100, ts),
		silverAt("b", 1, 200, 200, ts),
		silverAt("c", 1, 404, 150, ts),
		silverAt("d", 1, 500, 900, ts),
		silverAt("e", 1, 301, 30, ts),
	}

	var baseline *GoldFact
	for trial := 0; trial < 5; trial++ {
		stores := NewMemoryStores()
		agg := NewGoldAggregator(stores, 24*time.Hour)
		shuffled := append([]SilverRecord(nil), records...)
		rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		for _, rec := range shuffled {
			require.NoError(t, agg.ApplyDelta(rec))
		}

		fact, err := stores.Gold.Get(1, agg.Bucket(ts))
		require.NoError(t, err)
		require.NotNil(t, fact)
		if baseline == nil {
			baseline = fact
			continue
		}
		assert.True(t, sameCounts(*baseline, *fact))
	}
}

func TestRebuildMatchesIncrementalRow(t *testing.T) {
	stores := NewMemoryStores()
	agg := NewGoldAggregator(stores, 24*time.Hour)
	ts := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	records := []SilverRecord{
		silverAt("a", 1, 200, 100, ts),
		silverAt("b", 1, 200, 200, ts.Add(time.Hour)),
		silverAt("c", 1, 404, 150, ts.Add(2*time.Hour)),
	}
	require.NoError(t, stores.Silver.CommitBatch(records, nil, 3))
	for _, rec := range records {
		require.NoError(t, agg.ApplyDelta(rec))
	}

	incremental, err := stores.Gold.Get(1, agg.Bucket(ts))
	require.NoError(t, err)
	require.NotNil(t, incremental)

	rebuilt, err := agg.Rebuild(1, ts)
	require.NoError(t, err)
	assert.True(t, sameCounts(*incremental, *rebuilt))
	assert.Equal(t, 150.0, rebuilt.AvgResponseTimeMs())
}

func TestAuditDetectsAndRepairsDrift(t *testing.T) {
	stores := NewMemoryStores()
	agg := NewGoldAggregator(stores, 24*time.Hour)
	ts := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	records := []SilverRecord{
		silverAt("a", 1, 200, 100, ts),
		silverAt("b", 1, 404, 200, ts),
	}
	require.NoError(t, stores.Silver.CommitBatch(records, nil, 2))
	for _, rec := range records {
		require.NoError(t, agg.ApplyDelta(rec))
	}

	drifted, err := agg.Audit(1, ts)
	require.NoError(t, err)
	assert.False(t, drifted)

	// Corrupt the live row, as if a delta had been lost.
	require.NoError(t, stores.Gold.Replace(&GoldFact{
		DomainKey:     1,
		BucketStart:   agg.Bucket(ts),
		TotalRequests: 1,
		SuccessCount:  1,
	}))

	drifted, err = agg.Audit(1, ts)
	require.NoError(t, err)
	assert.True(t, drifted)

	repaired, err := stores.Gold.Get(1, agg.Bucket(ts))
	require.NoError(t, err)
	require.NotNil(t, repaired)
	assert.Equal(t, int64(2), repaired.TotalRequests)
	assert.Equal(t, int64(1), repaired.SuccessCount)
	assert.Equal(t, int64(1), repaired.ErrorCount)
	assert.Equal(t, int64(300), repaired.SumResponseTimeMs)
}

func TestAvgResponseTimeIsDerived(t *testing.T) {
	f := GoldFact{TotalRequests: 4, SumResponseTimeMs: 600}
	assert.Equal(t, 150.0, f.AvgResponseTimeMs())
	assert.Equal(t, 0.0, GoldFact{}.AvgResponseTimeMs())
}
