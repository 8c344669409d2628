package database

import (
	"database/sql"
	"fmt"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var registerExternalVecDriver sync.Once

// NewSQLitePool opens the on-disk SQLite database with the sqlite-vec
// extension available on every connection, so vec0 virtual tables and
// vec_distance_L2 work. vecExtensionPath optionally points at an external
// vec0 build to load instead of the embedded one.
func NewSQLitePool(dbPath, vecExtensionPath string, logger *zap.Logger) (*sql.DB, error) {
	driver := "sqlite3"
	if vecExtensionPath == "" {
		sqlite_vec.Auto()
	} else {
		driver = "sqlite3_vec_ext"
		registerExternalVecDriver.Do(func() {
			sql.Register(driver, &sqlite3.SQLiteDriver{
				ConnectHook: func(conn *sqlite3.SQLiteConn) error {
					return conn.LoadExtension(vecExtensionPath, "sqlite3_vec_init")
				},
			})
		})
	}

	db, err := sql.Open(driver, dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// SQLite allows only a single writer; serialize at the pool level so the
	// driver never has to juggle concurrent write locks itself.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	var vecVersion string
	if err := db.QueryRow("select vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("verify sqlite-vec extension: %w", err)
	}

	logger.Info("sqlite connection established", zap.String("path", dbPath), zap.String("vec_version", vecVersion))
	return db, nil
}
