package pipeline

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// NewMemoryStores returns a Stores backed by process memory. Used by the
// tests and by hosts running without a database; state does not survive a
// restart, so production deployments inject the database-backed stores.
func NewMemoryStores() *Stores {
	return &Stores{
		Bronze:     &memBronze{byID: make(map[string]uint64)},
		Silver:     &memSilver{ids: make(map[string]struct{})},
		Dimensions: &memDimensions{current: make(map[string]uint64)},
		Gold:       &memGold{facts: make(map[factKey]*GoldFact)},
	}
}

type memBronze struct {
	mu      sync.Mutex
	seq     uint64
	byID    map[string]uint64
	records []BronzeRecord
}

func (s *memBronze) Insert(rec *BronzeRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[rec.RequestID]; ok {
		return false, nil
	}
	s.seq++
	rec.Seq = s.seq
	s.byID[rec.RequestID] = rec.Seq
	s.records = append(s.records, *rec)
	return true, nil
}

func (s *memBronze) ScanAfter(after uint64, limit int) ([]BronzeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []BronzeRecord
	for _, r := range s.records {
		if r.Seq <= after {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memBronze) DeleteOlderThan(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	var removed int64
	for _, r := range s.records {
		if r.Timestamp.Before(cutoff) {
			delete(s.byID, r.RequestID)
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return removed, nil
}

type memSilver struct {
	mu         sync.Mutex
	nextID     uint
	cursor     uint64
	ids        map[string]struct{}
	records    []SilverRecord
	quarantine []QuarantineRecord
}

func (s *memSilver) Cursor() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, nil
}

func (s *memSilver) ExistingIDs(requestIDs []string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{})
	for _, id := range requestIDs {
		if _, ok := s.ids[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (s *memSilver) CommitBatch(records []SilverRecord, quarantined []QuarantineRecord, cursor uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if _, ok := s.ids[r.RequestID]; ok {
			return fmt.Errorf("silver commit: duplicate request id %q", r.RequestID)
		}
	}
	for _, r := range records {
		s.nextID++
		r.ID = s.nextID
		s.ids[r.RequestID] = struct{}{}
		s.records = append(s.records, r)
	}
	s.quarantine = append(s.quarantine, quarantined...)
	s.cursor = cursor
	return nil
}

func (s *memSilver) ScanRange(domainKey uint64, from, to time.Time, fn func(SilverRecord) error) error {
	for _, r := range s.snapshot() {
		if r.DomainKey != domainKey {
			continue
		}
		if r.Timestamp.Before(from) || !r.Timestamp.Before(to) {
			continue
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (s *memSilver) ScanAll(fn func(SilverRecord) error) error {
	for _, r := range s.snapshot() {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (s *memSilver) snapshot() []SilverRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SilverRecord, len(s.records))
	copy(out, s.records)
	return out
}

func (s *memSilver) DeleteOlderThan(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	var removed int64
	for _, r := range s.records {
		if r.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return removed, nil
}

func (s *memSilver) Quarantined(limit int) ([]QuarantineRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.quarantine
	if limit > 0 && len(q) > limit {
		q = q[len(q)-limit:]
	}
	out := make([]QuarantineRecord, len(q))
	copy(out, q)
	return out, nil
}

type memDimensions struct {
	mu       sync.Mutex
	nextKey  uint64
	current  map[string]uint64
	versions []DomainVersion
}

func (s *memDimensions) Current(naturalKey string) (*DomainVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.current[naturalKey]
	if !ok {
		return nil, nil
	}
	for i := range s.versions {
		if s.versions[i].SurrogateKey == key {
			v := s.versions[i]
			return &v, nil
		}
	}
	return nil, nil
}

func (s *memDimensions) Create(v *DomainVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key, ok := s.current[v.NaturalKey]; ok && key != 0 {
		return ErrDimensionConflict
	}
	s.nextKey++
	v.SurrogateKey = s.nextKey
	v.IsCurrent = true
	s.versions = append(s.versions, *v)
	s.current[v.NaturalKey] = v.SurrogateKey
	return nil
}

func (s *memDimensions) CloseAndCreate(prevKey uint64, closeAt time.Time, next *DomainVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current[next.NaturalKey] != prevKey {
		return ErrDimensionConflict
	}
	for i := range s.versions {
		if s.versions[i].SurrogateKey == prevKey {
			t := closeAt
			s.versions[i].ValidTo = &t
			s.versions[i].IsCurrent = false
		}
	}
	s.nextKey++
	next.SurrogateKey = s.nextKey
	next.IsCurrent = true
	s.versions = append(s.versions, *next)
	s.current[next.NaturalKey] = next.SurrogateKey
	return nil
}

func (s *memDimensions) History(naturalKey string) ([]DomainVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []DomainVersion
	for _, v := range s.versions {
		if v.NaturalKey == naturalKey {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ValidFrom.Equal(out[j].ValidFrom) {
			return out[i].SurrogateKey < out[j].SurrogateKey
		}
		return out[i].ValidFrom.Before(out[j].ValidFrom)
	})
	return out, nil
}

type factKey struct {
	domainKey uint64
	bucket    int64
}

type memGold struct {
	mu    sync.Mutex
	facts map[factKey]*GoldFact
}

func (s *memGold) Increment(domainKey uint64, bucket time.Time, delta FactDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := factKey{domainKey, bucket.UnixNano()}
	f, ok := s.facts[k]
	if !ok {
		f = &GoldFact{DomainKey: domainKey, BucketStart: bucket}
		s.facts[k] = f
	}
	f.TotalRequests += delta.Total
	f.SuccessCount += delta.Success
	f.ErrorCount += delta.Error
	f.OtherCount += delta.Other
	f.SumResponseTimeMs += delta.SumResponseTimeMs
	return nil
}

func (s *memGold) Get(domainKey uint64, bucket time.Time) (*GoldFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.facts[factKey{domainKey, bucket.UnixNano()}]
	if !ok {
		return nil, nil
	}
	out := *f
	return &out, nil
}

func (s *memGold) Query(domainKey uint64, from, to time.Time) ([]GoldFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []GoldFact
	for _, f := range s.facts {
		if domainKey != 0 && f.DomainKey != domainKey {
			continue
		}
		if f.BucketStart.Before(from) || !f.BucketStart.Before(to) {
			continue
		}
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BucketStart.Equal(out[j].BucketStart) {
			return out[i].DomainKey < out[j].DomainKey
		}
		return out[i].BucketStart.Before(out[j].BucketStart)
	})
	return out, nil
}

func (s *memGold) Replace(fact *GoldFact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := *fact
	s.facts[factKey{fact.DomainKey, fact.BucketStart.UnixNano()}] = &f
	return nil
}

func (s *memGold) ScanAll(fn func(GoldFact) error) error {
	s.mu.Lock()
	snapshot := make([]GoldFact, 0, len(s.facts))
	for _, f := range s.facts {
		snapshot = append(snapshot, *f)
	}
	s.mu.Unlock()
	sort.Slice(snapshot, func(i, j int) bool {
		if snapshot[i].BucketStart.Equal(snapshot[j].BucketStart) {
			return snapshot[i].DomainKey < snapshot[j].DomainKey
		}
		return snapshot[i].BucketStart.Before(snapshot[j].BucketStart)
	})
	for _, f := range snapshot {
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}
