package database

import (
	"fmt"

	"github.com/agjmills/swapshelf/internal/config"
	"github.com/agjmills/swapshelf/internal/database/models"
	"github.com/agjmills/swapshelf/internal/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registered as "sqlite"
)

func Connect(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.DBType {
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
			cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort,
		)
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.New(sqlite.Config{
			DriverName: "sqlite",
			DSN:        cfg.DBPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite",
		})
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DBType)
	}

	logLevel := gormlogger.Silent
	if cfg.Env == "development" {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(dialector, GormConfig(logLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("database connected", "type", cfg.DBType)
	return db, nil
}

// GormConfig is shared by Connect and the test helpers. Foreign keys are not
// created: trade requests reference files weakly and are cleaned up explicitly.
func GormConfig(level gormlogger.LogLevel) *gorm.Config {
	return &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(level),
		TranslateError:                           true,
		DisableForeignKeyConstraintWhenMigrating: true,
	}
}

func Migrate(db *gorm.DB) error {
	logger.Info("running database migrations")

	err := db.AutoMigrate(
		&models.User{},
		&models.File{},
		&models.TradeRequest{},
		&models.UserSession{},
	)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	// Create sessions table for alexedwards/scs
	if err := createSessionsTable(db); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	logger.Info("database migrations completed successfully")
	return nil
}

func createSessionsTable(db *gorm.DB) error {
	switch dbType := db.Dialector.Name(); dbType {
	case "postgres":
		if err := db.Exec(`
			CREATE TABLE IF NOT EXISTS sessions (
				token TEXT PRIMARY KEY,
				data BYTEA NOT NULL,
				expiry TIMESTAMPTZ NOT NULL
			)
		`).Error; err != nil {
			return err
		}
		return db.Exec(`CREATE INDEX IF NOT EXISTS sessions_expiry_idx ON sessions (expiry)`).Error

	case "sqlite":
		if err := db.Exec(`
			CREATE TABLE IF NOT EXISTS sessions (
				token TEXT PRIMARY KEY,
				data BLOB NOT NULL,
				expiry REAL NOT NULL
			)
		`).Error; err != nil {
			return err
		}
		return db.Exec(`CREATE INDEX IF NOT EXISTS sessions_expiry_idx ON sessions(expiry)`).Error

	default:
		return fmt.Errorf("unsupported database type: %s", dbType)
	}
}
