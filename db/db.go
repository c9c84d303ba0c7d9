// Package db owns the sqlite database holding VM records. Records survive
// control-plane restarts; process handles do not, the registry reconciles
// them on startup.
package db

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"gitlab.com/glidex/control-plane/models"
)

var DB *gorm.DB

// ConnectDatabase opens (creating if needed) the database at path and runs
// migrations. The parent directory is created when missing.
func ConnectDatabase(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create database directory: %w", err)
	}

	database, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("could not open database at %s: %w", path, err)
	}

	if err := database.AutoMigrate(&models.VirtualMachine{}); err != nil {
		return fmt.Errorf("could not migrate database: %w", err)
	}

	DB = database
	return nil
}

var testDBCount atomic.Int64

// ConnectTestDatabase opens a fresh in-memory database for tests. The named
// shared cache keeps gorm's pooled connections on the same database.
func ConnectTestDatabase() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:glidex-test-%d?mode=memory&cache=shared", testDBCount.Add(1))
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(&models.VirtualMachine{}); err != nil {
		return nil, err
	}
	return database, nil
}
