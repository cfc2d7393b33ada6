package db

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"netpulse/internal/pipeline"
)

type goldStore struct {
	db *gorm.DB
}

// Increment upserts the fact row with additive assignments, so concurrent
// batches landing in the same (domain_key, bucket_start) row serialize in
// the database instead of read-modify-writing stale counts.
func (s *goldStore) Increment(domainKey uint64, bucket time.Time, delta pipeline.FactDelta) error {
	row := pipeline.GoldFact{
		DomainKey:         domainKey,
		BucketStart:       bucket,
		TotalRequests:     delta.Total,
		SuccessCount:      delta.Success,
		ErrorCount:        delta.Error,
		OtherCount:        delta.Other,
		SumResponseTimeMs: delta.SumResponseTimeMs,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "domain_key"}, {Name: "bucket_start"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_requests":       gorm.Expr("gold_facts.total_requests + ?", delta.Total),
			"success_count":        gorm.Expr("gold_facts.success_count + ?", delta.Success),
			"error_count":          gorm.Expr("gold_facts.error_count + ?", delta.Error),
			"other_count":          gorm.Expr("gold_facts.other_count + ?", delta.Other),
			"sum_response_time_ms": gorm.Expr("gold_facts.sum_response_time_ms + ?", delta.SumResponseTimeMs),
		}),
	}).Create(&row).Error
}

func (s *goldStore) Get(domainKey uint64, bucket time.Time) (*pipeline.GoldFact, error) {
	var f pipeline.GoldFact
	err := s.db.Where("domain_key = ? AND bucket_start = ?", domainKey, bucket).
		Limit(1).Find(&f).Error
	if err != nil {
		return nil, err
	}
	if f.ID == 0 {
		return nil, nil
	}
	return &f, nil
}

func (s *goldStore) Query(domainKey uint64, from, to time.Time) ([]pipeline.GoldFact, error) {
	q := s.db.Where("bucket_start >= ? AND bucket_start < ?", from, to)
	if domainKey != 0 {
		q = q.Where("domain_key = ?", domainKey)
	}
	var facts []pipeline.GoldFact
	err := q.Order("bucket_start, domain_key").Find(&facts).Error
	return facts, err
}

func (s *goldStore) Replace(fact *pipeline.GoldFact) error {
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "domain_key"}, {Name: "bucket_start"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_requests", "success_count", "error_count", "other_count", "sum_response_time_ms",
		}),
	}).Create(fact).Error
}

func (s *goldStore) ScanAll(fn func(pipeline.GoldFact) error) error {
	var batch []pipeline.GoldFact
	res := s.db.Order("bucket_start, domain_key").FindInBatches(&batch, 500, func(_ *gorm.DB, _ int) error {
		for _, f := range batch {
			if err := fn(f); err != nil {
				return err
			}
		}
		return nil
	})
	return res.Error
}
