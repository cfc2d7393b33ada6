package db

import (
	"errors"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"netpulse/internal/config"
	"netpulse/internal/pipeline"
)

// Connect opens a GORM database connection using NETPULSE_DATABASE_URL
// (PostgreSQL URL) and migrates the pipeline tables.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := strings.TrimSpace(cfg.DatabaseURL)
	if dsn == "" {
		return nil, errors.New("NETPULSE_DATABASE_URL is required (PostgreSQL URL)")
	}
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return nil, errors.New("NETPULSE_DATABASE_URL must be a postgres:// or postgresql:// URL")
	}

	// PrepareStmt: true prevents the GORM postgres migrator from forcing simple protocol
	// for "SELECT * FROM table LIMIT 1", which would otherwise trigger "insufficient arguments".
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{PrepareStmt: true})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&pipeline.BronzeRecord{},
		&pipeline.SilverRecord{},
		&pipeline.DomainVersion{},
		&pipeline.GoldFact{},
		&pipeline.QuarantineRecord{},
		&pipeline.PipelineCursor{},
	); err != nil {
		return nil, err
	}

	return db, nil
}

// NewStores returns the pipeline persistence surfaces backed by the
// database. This is the durable counterpart of pipeline.NewMemoryStores.
func NewStores(g *gorm.DB) *pipeline.Stores {
	return &pipeline.Stores{
		Bronze:     &bronzeStore{db: g},
		Silver:     &silverStore{db: g},
		Dimensions: &dimensionStore{db: g},
		Gold:       &goldStore{db: g},
	}
}
