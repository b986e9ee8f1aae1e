package providers

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mediadesk/mediadesk/fields"
	"github.com/mediadesk/mediadesk/storage"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := fields.Migrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.New(t.TempDir(), "/media")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func newTestConfig() *fields.Config {
	cfg := &fields.Config{
		GenaiKey:  "test-genai-key",
		HeyGenKey: "test-heygen-key",
		OpenAIKey: "test-openai-key",
	}
	cfg.Defaults()
	return cfg
}
