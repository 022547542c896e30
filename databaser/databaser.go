// Package databaser stores hourly readings and forecast runs in SQLite.
package databaser

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // SQLite driver
)

// schemaVersion is written to PRAGMA user_version by Init.
const schemaVersion = 1

//go:embed init.sql
var initSQL string

// DB wraps sqlx.DB for database operations.
type DB struct {
	*sqlx.DB
}

// New creates a new database connection.
func New(ctx context.Context, path string) (*DB, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// one connection keeps pragmas and an in-memory database shared by all queries
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",   // write-ahead logging
		"PRAGMA synchronous=NORMAL", // balance between performance and safety
		"PRAGMA cache_size=-32000",  // 32 mb cache
		"PRAGMA busy_timeout=5000",  // 5 sec busy timeout
		"PRAGMA foreign_keys=ON",    // forecasts are removed with their runs
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err = db.ExecContext(ctx, pragma); err != nil {
			return nil, closeOnError(ctx, db, fmt.Errorf("set pragma %q: %w", pragma, err))
		}
	}

	if err = db.PingContext(ctx); err != nil {
		return nil, closeOnError(ctx, db, fmt.Errorf("ping database: %w", err))
	}

	result := &DB{DB: db}
	if err = result.Init(ctx); err != nil {
		return nil, closeOnError(ctx, db, fmt.Errorf("initialize database: %w", err))
	}

	return result, nil
}

func closeOnError(ctx context.Context, db *sqlx.DB, err error) error {
	if closeErr := db.Close(); closeErr != nil {
		slog.ErrorContext(ctx, "failed to close database", "error", closeErr)
	}
	return err
}

// Init creates missing tables and stamps the schema version.
// A database written by a newer schema is rejected.
func (db *DB) Init(ctx context.Context) error {
	version, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	if version > schemaVersion {
		return fmt.Errorf("schema version %d is newer than supported %d", version, schemaVersion)
	}

	if _, err = db.ExecContext(ctx, initSQL); err != nil {
		return fmt.Errorf("create schema error: %w", err)
	}

	if _, err = db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d", schemaVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}

	return nil
}

// SchemaVersion returns the stored schema version, zero for a new database.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := db.GetContext(ctx, &version, "PRAGMA user_version"); err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return version, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}

// InTransaction executes the given function within a database transaction.
func InTransaction(ctx context.Context, db *DB, f func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	err = f(tx)
	if err != nil {
		err = fmt.Errorf("transaction function error: %w", err)
		rbErr := tx.Rollback()
		if rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rollback error: %w", rbErr))
		}
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}
