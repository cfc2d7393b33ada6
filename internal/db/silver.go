package db

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"netpulse/internal/pipeline"
)

type silverStore struct {
	db *gorm.DB
}

func (s *silverStore) Cursor() (uint64, error) {
	var cur pipeline.PipelineCursor
	err := s.db.Where("name = ?", pipeline.SilverCursorName).Limit(1).Find(&cur).Error
	if err != nil {
		return 0, err
	}
	return cur.Position, nil
}

func (s *silverStore) ExistingIDs(requestIDs []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(requestIDs) == 0 {
		return out, nil
	}
	var found []string
	err := s.db.Model(&pipeline.SilverRecord{}).
		Where("request_id IN ?", requestIDs).
		Pluck("request_id", &found).Error
	if err != nil {
		return nil, err
	}
	for _, id := range found {
		out[id] = struct{}{}
	}
	return out, nil
}

// CommitBatch writes the promoted records, the quarantine rows and the
// cursor advance in one transaction. A mid-batch failure rolls everything
// back, leaving the cursor where it was.
func (s *silverStore) CommitBatch(records []pipeline.SilverRecord, quarantined []pipeline.QuarantineRecord, cursor uint64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if len(records) > 0 {
			if err := tx.Create(&records).Error; err != nil {
				return err
			}
		}
		if len(quarantined) > 0 {
			if err := tx.Create(&quarantined).Error; err != nil {
				return err
			}
		}
		cur := pipeline.PipelineCursor{
			Name:      pipeline.SilverCursorName,
			Position:  cursor,
			UpdatedAt: time.Now().UTC(),
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"position", "updated_at"}),
		}).Create(&cur).Error
	})
}

func (s *silverStore) ScanRange(domainKey uint64, from, to time.Time, fn func(pipeline.SilverRecord) error) error {
	var batch []pipeline.SilverRecord
	res := s.db.Where("domain_key = ? AND timestamp >= ? AND timestamp < ?", domainKey, from, to).
		FindInBatches(&batch, 500, func(_ *gorm.DB, _ int) error {
			for _, r := range batch {
				if err := fn(r); err != nil {
					return err
				}
			}
			return nil
		})
	return res.Error
}

func (s *silverStore) ScanAll(fn func(pipeline.SilverRecord) error) error {
	var batch []pipeline.SilverRecord
	res := s.db.Order("id").FindInBatches(&batch, 500, func(_ *gorm.DB, _ int) error {
		for _, r := range batch {
			if err := fn(r); err != nil {
				return err
			}
		}
		return nil
	})
	return res.Error
}

func (s *silverStore) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res := s.db.Where("timestamp < ?", cutoff).Delete(&pipeline.SilverRecord{})
	return res.RowsAffected, res.Error
}

func (s *silverStore) Quarantined(limit int) ([]pipeline.QuarantineRecord, error) {
	var recs []pipeline.QuarantineRecord
	q := s.db.Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	// Newest last, matching the in-memory store.
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}
