package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/agjmills/swapshelf/internal/database"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

var dbCounter atomic.Int64

// NewTestDatabase opens a private in-memory SQLite database with the full
// schema applied, including the scs sessions table. Each call gets its own
// database even though background goroutines share the connection pool.
func NewTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:swapshelf-test-%d?mode=memory&cache=shared&_time_format=sqlite", dbCounter.Add(1))
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn}), database.GormConfig(gormlogger.Silent))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	// A single connection keeps the in-memory database alive and serialises writers.
	sqlDB.SetMaxOpenConns(1)

	if err := database.Migrate(db); err != nil {
		sqlDB.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	t.Cleanup(func() {
		sqlDB.Close()
	})

	return db
}
