package database

import (
	"path/filepath"
	"testing"

	"github.com/ripplehq/ripple/internal/feed"
	"go.uber.org/zap"
)

func TestOpenSQLiteCreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ripple.db")

	db, err := OpenSQLite(path, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access pool: %v", err)
	}
	defer sqlDB.Close()

	tables := []string{"accounts", "profiles", "posts", "comments", "likes", "conversations", "messages", "db_migrations"}
	for _, table := range tables {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %q to exist", table)
		}
	}

	var record migrationRecord
	if err := db.Where("name = ?", migrationBackfillLikeIdentifiers).Take(&record).Error; err != nil {
		t.Fatalf("expected migration record, got %v", err)
	}
}

func TestOpenSQLiteIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ripple.db")

	first, err := OpenSQLite(path, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	firstDB, _ := first.DB()
	firstDB.Close()

	second, err := OpenSQLite(path, zap.NewNop())
	if err != nil {
		t.Fatalf("reopening must succeed: %v", err)
	}
	secondDB, _ := second.DB()
	defer secondDB.Close()

	var count int64
	if err := second.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected migrations to run once, got %d records", count)
	}
}

func TestBackfillLikeIdentifiers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ripple.db")

	db, err := OpenSQLite(path, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	sqlDB, _ := db.DB()
	defer sqlDB.Close()

	// Simulate a legacy row written before like identifiers existed.
	if err := db.Exec(
		"INSERT INTO likes (like_id, post_id, user_id) VALUES ('', 'p-1', 'u-1')",
	).Error; err != nil {
		t.Fatalf("failed to seed legacy like: %v", err)
	}

	if err := backfillLikeIdentifiers(db); err != nil {
		t.Fatalf("backfill failed: %v", err)
	}

	var like feed.Like
	if err := db.Where("post_id = ? AND user_id = ?", "p-1", "u-1").Take(&like).Error; err != nil {
		t.Fatalf("failed to load like: %v", err)
	}
	if like.LikeID != "p-1:u-1" {
		t.Fatalf("expected synthesized identifier, got %q", like.LikeID)
	}
}
