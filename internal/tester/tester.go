package tester

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/emrgen/cdr/internal/model"
	"github.com/emrgen/cdr/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Setup prepares the process for tests. Call it from TestMain.
func Setup() {
	_ = os.Setenv("ENV", "test")
	logrus.SetLevel(logrus.WarnLevel)
}

// TestDB opens a fresh, migrated sqlite database in the test's temp dir.
func TestDB(t testing.TB) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cdr.db")
	db, err := gorm.Open(sqlite.Open(path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=off"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, model.Migrate(db))

	return db
}

// NewStore returns a store over a fresh test database.
func NewStore(t testing.TB) *store.GormStore {
	t.Helper()
	return store.NewGormStore(TestDB(t))
}
