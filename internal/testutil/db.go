// Package testutil provides an isolated in-memory database for package tests.
package testutil

import (
	"fmt"
	"strings"
	"testing"

	"commhub-backend/pkg/database"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// DB opens a migrated in-memory sqlite database private to the test.
// The pool is capped at one connection so concurrent writers serialize.
func DB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)

	db, err := database.Open(sqlite.Open(dsn), 1)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}
