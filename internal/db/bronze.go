package db

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"netpulse/internal/pipeline"
)

type bronzeStore struct {
	db *gorm.DB
}

// Insert appends to the bronze log. A conflicting request id is absorbed
// by ON CONFLICT DO NOTHING, so a duplicate capture is a no-op rather
// than an error.
func (s *bronzeStore) Insert(rec *pipeline.BronzeRecord) (bool, error) {
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "request_id"}},
		DoNothing: true,
	}).Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *bronzeStore) ScanAfter(after uint64, limit int) ([]pipeline.BronzeRecord, error) {
	var recs []pipeline.BronzeRecord
	err := s.db.Where("seq > ?", after).Order("seq").Limit(limit).Find(&recs).Error
	return recs, err
}

func (s *bronzeStore) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res := s.db.Where("timestamp < ?", cutoff).Delete(&pipeline.BronzeRecord{})
	return res.RowsAffected, res.Error
}
