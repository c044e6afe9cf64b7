// Package store provides the grid audit journal.
// The journal is write-mostly: trading decisions never read it back.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"gridbot/logger"
)

// Open opens (or creates) the SQLite journal at path and migrates its tables
func Open(path string) (*GridStore, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := gorm.Open(&sqlite.Dialector{DriverName: "sqlite", DSN: path}, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := NewGridStore(db)
	if err := s.InitTables(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize table structure: %w", err)
	}

	logger.Infof("✅ Grid journal initialized (%s)", path)
	return s, nil
}

// Close releases the underlying connection pool
func (s *GridStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
