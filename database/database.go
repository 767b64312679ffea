// Package database opens the on-device SQLite engine backing the offline
// cache. The engine serializes transactions per connection, which is the
// ordering guarantee the store relies on.
package database

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/taleforge/offline-cache/models"
)

// Open connects to the local database at path and migrates the cache
// schema. Use ":memory:" in tests. A failure here means device storage is
// unavailable (missing directory, quota, locked file) and the caller
// should treat the session as non-persistent.
func Open(path string, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("storage unavailable at %s: %w", path, err)
	}

	// Single connection: the engine serializes transactions, and a pool
	// would hand ":memory:" callers separate empty databases.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.Profile{},
		&models.Story{},
		&models.StorySegment{},
		&models.OperationQueueItem{},
	); err != nil {
		return nil, fmt.Errorf("migrate cache schema: %w", err)
	}

	log.Info("local store opened", zap.String("path", path))
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
