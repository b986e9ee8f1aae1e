package fields

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var log = logrus.New()

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// OpenFromConfig opens the database: postgres when a url is present (or the
// driver says so), sqlite on a local path otherwise.
func OpenFromConfig(dbURL, sqlitePath, driverOverride string) (*gorm.DB, error) {
	driver := strings.ToLower(strings.TrimSpace(driverOverride))
	gormCfg := &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	}

	switch driver {
	case "", "default":
		if dbURL != "" {
			return gorm.Open(postgres.Open(dbURL), gormCfg)
		}
		if sqlitePath == "" {
			sqlitePath = "mediadesk.db"
		}
		return gorm.Open(sqlite.Open(sqlitePath), gormCfg)
	case "postgres", "pgx":
		if dbURL == "" {
			return nil, fmt.Errorf("database_url required for %s driver", driver)
		}
		return gorm.Open(postgres.Open(dbURL), gormCfg)
	case "sqlite", "sqlite3":
		if sqlitePath == "" {
			sqlitePath = "mediadesk.db"
		}
		return gorm.Open(sqlite.Open(sqlitePath), gormCfg)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driverOverride)
	}
}

// Migrate creates or updates every persisted table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&GenerationJob{},
		&ReferenceImage{},
		&EmailAccount{},
		&ProcessedEmail{},
	)
}
