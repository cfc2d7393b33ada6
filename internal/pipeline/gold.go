package pipeline

import (
	"log"
	"time"
)

// GoldAggregator maintains the pre-aggregated fact rows from silver
// records. Increments go through the store's atomic upsert, so silver
// batches landing in the same bucket concurrently cannot tear a row.
// Sum/count aggregates are order-independent: replaying deltas in any
// interleaving yields the same fact.
type GoldAggregator struct {
	gold        GoldStore
	silver      SilverStore
	granularity time.Duration
}

func NewGoldAggregator(stores *Stores, granularity time.Duration) *GoldAggregator {
	if granularity <= 0 {
		granularity = 24 * time.Hour
	}
	return &GoldAggregator{
		gold:        stores.Gold,
		silver:      stores.Silver,
		granularity: granularity,
	}
}

// Bucket maps a timestamp to the start of its UTC time bucket.
func (a *GoldAggregator) Bucket(ts time.Time) time.Time {
	return ts.UTC().Truncate(a.granularity)
}

// ApplyDelta folds one silver record into its fact row.
func (a *GoldAggregator) ApplyDelta(rec SilverRecord) error {
	err := a.gold.Increment(rec.DomainKey, a.Bucket(rec.Timestamp), DeltaFor(rec.Status, rec.ResponseTimeMs))
	if err == nil {
		goldDeltasApplied.Inc()
	}
	return err
}

// Facts returns the fact rows with buckets in [from, to). domainKey 0
// means all domains.
func (a *GoldAggregator) Facts(domainKey uint64, from, to time.Time) ([]GoldFact, error) {
	return a.gold.Query(domainKey, from.UTC(), to.UTC())
}

// Rebuild recomputes one fact row from silver and replaces the stored
// row. Used for backfill and for repair after detected drift; the result
// must match what incremental maintenance would have produced.
func (a *GoldAggregator) Rebuild(domainKey uint64, bucket time.Time) (*GoldFact, error) {
	fact, err := a.recompute(domainKey, bucket)
	if err != nil {
		return nil, err
	}
	if err := a.gold.Replace(fact); err != nil {
		return nil, err
	}
	return fact, nil
}

// Audit compares the live fact row against a recompute from silver.
// A mismatch is logged and repaired via Replace; it is never corrected
// silently. Returns whether drift was found.
func (a *GoldAggregator) Audit(domainKey uint64, bucket time.Time) (bool, error) {
	expected, err := a.recompute(domainKey, bucket)
	if err != nil {
		return false, err
	}
	live, err := a.gold.Get(domainKey, expected.BucketStart)
	if err != nil {
		return false, err
	}
	if live != nil && sameCounts(*live, *expected) {
		return false, nil
	}
	log.Printf("gold audit: drift for domain_key=%d bucket=%s (live=%+v expected=%+v), rebuilding",
		domainKey, expected.BucketStart.Format(time.RFC3339), live, expected)
	goldDriftDetected.Inc()
	if err := a.gold.Replace(expected); err != nil {
		return true, err
	}
	return true, nil
}

func (a *GoldAggregator) recompute(domainKey uint64, bucket time.Time) (*GoldFact, error) {
	start := a.Bucket(bucket)
	end := start.Add(a.granularity)
	fact := &GoldFact{DomainKey: domainKey, BucketStart: start}
	err := a.silver.ScanRange(domainKey, start, end, func(r SilverRecord) error {
		d := DeltaFor(r.Status, r.ResponseTimeMs)
		fact.TotalRequests += d.Total
		fact.SuccessCount += d.Success
		fact.ErrorCount += d.Error
		fact.OtherCount += d.Other
		fact.SumResponseTimeMs += d.SumResponseTimeMs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fact, nil
}

func sameCounts(a, b GoldFact) bool {
	return a.TotalRequests == b.TotalRequests &&
		a.SuccessCount == b.SuccessCount &&
		a.ErrorCount == b.ErrorCount &&
		a.OtherCount == b.OtherCount &&
		a.SumResponseTimeMs == b.SumResponseTimeMs
}
