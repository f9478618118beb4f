package datastore

import (
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/pinalbum/internal/logger"
)

const sqliteDSNOptions = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// OpenSQLite opens (creating if needed) the SQLite database at path.
// The special path ":memory:" opens a private in-memory database.
func OpenSQLite(path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewDiscardLogger()
	}

	dsn := ":memory:?_foreign_keys=on"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, dbError(err, "create_database_dir", "path", path)
			}
		}
		dsn = path + sqliteDSNOptions
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(log))
	if err != nil {
		return nil, dbError(err, "open_sqlite", "path", path)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, dbError(err, "open_sqlite", "path", path)
	}
	// One writer at a time; also keeps an in-memory database on one connection.
	sqlDB.SetMaxOpenConns(1)

	log.Info("opened sqlite record store", logger.String("path", path))
	return newStore(db, "sqlite", log)
}
