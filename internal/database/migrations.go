package database

import (
	"errors"
	"time"

	"github.com/ripplehq/ripple/internal/feed"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillLikeIdentifiers = "2026-07-14_backfill_like_identifiers"

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
		{name: migrationBackfillLikeIdentifiers, apply: backfillLikeIdentifiers},
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

// Earlier deployments keyed likes by (post_id, user_id) only; change events
// need a stable single-column identifier, so synthesize one where missing.
func backfillLikeIdentifiers(db *gorm.DB) error {
	return db.Model(&feed.Like{}).
		Where("like_id = '' OR like_id IS NULL").
		Update("like_id", gorm.Expr("post_id || ':' || user_id")).Error
}
