package db

import (
	"time"

	"gorm.io/gorm"

	"netpulse/internal/pipeline"
)

type dimensionStore struct {
	db *gorm.DB
}

func (s *dimensionStore) Current(naturalKey string) (*pipeline.DomainVersion, error) {
	var v pipeline.DomainVersion
	err := s.db.Where("natural_key = ? AND is_current = ?", naturalKey, true).
		Limit(1).Find(&v).Error
	if err != nil {
		return nil, err
	}
	if v.SurrogateKey == 0 {
		return nil, nil
	}
	return &v, nil
}

func (s *dimensionStore) Create(v *pipeline.DomainVersion) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&pipeline.DomainVersion{}).
			Where("natural_key = ? AND is_current = ?", v.NaturalKey, true).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return pipeline.ErrDimensionConflict
		}
		v.IsCurrent = true
		return tx.Create(v).Error
	})
}

// CloseAndCreate is the Type-2 version swap. The close is a conditional
// update on is_current, so a concurrent writer that already closed the
// row surfaces as ErrDimensionConflict and the manager re-reads.
func (s *dimensionStore) CloseAndCreate(prevKey uint64, closeAt time.Time, next *pipeline.DomainVersion) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&pipeline.DomainVersion{}).
			Where("surrogate_key = ? AND is_current = ?", prevKey, true).
			Updates(map[string]interface{}{"is_current": false, "valid_to": closeAt})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return pipeline.ErrDimensionConflict
		}
		next.IsCurrent = true
		return tx.Create(next).Error
	})
}

func (s *dimensionStore) History(naturalKey string) ([]pipeline.DomainVersion, error) {
	var versions []pipeline.DomainVersion
	err := s.db.Where("natural_key = ?", naturalKey).
		Order("valid_from, surrogate_key").
		Find(&versions).Error
	return versions, err
}
