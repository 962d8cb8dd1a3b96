package database

import (
	"fmt"
	"strings"

	"github.com/HugoGarrigues/MusicSwipe/internal/links"
	"github.com/HugoGarrigues/MusicSwipe/internal/ratings"
	"github.com/HugoGarrigues/MusicSwipe/internal/tracks"
	"github.com/HugoGarrigues/MusicSwipe/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	sqliteForeignKeysPragma = "_pragma=foreign_keys(1)"
)

// Query errors reach zap through the callers; gorm itself stays quiet.
var silentGormLogger = gormlogger.Default.LogMode(gormlogger.Silent)

// DriverFactory builds a gorm dialector from a DSN.
type DriverFactory func(dsn string) gorm.Dialector

var driverFactories = map[string]DriverFactory{
	DriverSQLite:   sqlite.Open,
	DriverPostgres: postgres.Open,
}

// Dialector returns the dialector registered for driver.
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	factory, ok := driverFactories[strings.ToLower(strings.TrimSpace(driver))]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
	return factory(dsn), nil
}

// Open connects to the configured database and brings the schema up to date.
func Open(driver, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.EqualFold(strings.TrimSpace(driver), DriverSQLite) {
		dsn = withSQLiteForeignKeys(dsn)
	}
	dialector, err := Dialector(driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         silentGormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}

	if dialector.Name() == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", dialector.Name()))
	return db, nil
}

// Migrate creates or updates every table and applies pending named migrations.
// Rows left without an owning user are pruned before the foreign keys are added.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := removeOrphanedUserRows(db); err != nil {
		return fmt.Errorf("pruning orphaned rows: %w", err)
	}
	if err := db.AutoMigrate(
		&users.User{},
		&links.OAuthLink{},
		&tracks.Track{},
		&ratings.Rating{},
		&ratings.Like{},
		&migrationRecord{},
	); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return applyMigrations(db, logger)
}

// withSQLiteForeignKeys turns on foreign key enforcement, which SQLite leaves
// off for every new connection.
func withSQLiteForeignKeys(dsn string) string {
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + sqliteForeignKeysPragma
}
