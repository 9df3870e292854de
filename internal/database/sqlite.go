package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/ripplehq/ripple/internal/auth"
	"github.com/ripplehq/ripple/internal/feed"
	"github.com/ripplehq/ripple/internal/messaging"
	"github.com/ripplehq/ripple/internal/profiles"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&auth.Account{},
		&profiles.Profile{},
		&feed.Post{},
		&feed.Comment{},
		&feed.Like{},
		&messaging.Conversation{},
		&messaging.Message{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
