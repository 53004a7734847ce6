package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/talentmesh/milestones-api/internal/negotiation"
)

const migrationBackfillTransitionTimestamps = "2026-07-12_backfill_last_transition_at"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillTransitionTimestamps, apply: backfillTransitionTimestamps},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Headers written before the supervisory-timeout work carried no transition
// timestamp; seed it from the creation time so external timeout processes
// have a baseline for every row.
func backfillTransitionTimestamps(db *gorm.DB) error {
	return db.Model(&negotiation.Header{}).
		Where("last_transition_at_s = 0").
		Update("last_transition_at_s", gorm.Expr("created_at_s")).Error
}
