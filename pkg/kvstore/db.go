// Package kvstore implements the Persistent KV Store (C7): file-backed
// key-value databases with cursors, concurrent open, and repair.
package kvstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ID enumerates the well-known named databases.
type ID string

const (
	DBClasses            ID = "classes"
	DBVariables          ID = "variables"
	DBPerformance        ID = "performance"
	DBChecksums          ID = "checksums"
	DBFilestats          ID = "filestats"
	DBChanges            ID = "changes"
	DBObservations       ID = "observations"
	DBState              ID = "state"
	DBLastSeen           ID = "lastseen"
	DBAudit              ID = "audit"
	DBLocks              ID = "locks"
	DBHistory            ID = "history"
	DBPackagesInstalled  ID = "packages_installed"
)

// db wraps one SQLite-backed named database.
type db struct {
	sql  *sql.DB
	path string
}

func openDB(path string) (*db, error) {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %s: %w", path, err)
	}
	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, &CorruptError{Path: path, Cause: err}
	}

	d := &db{sql: conn, path: path}
	if err := d.migrate(); err != nil {
		_ = conn.Close()
		return nil, &CorruptError{Path: path, Cause: err}
	}
	return d, nil
}

func (d *db) migrate() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("kvstore: migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(d.sql, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("kvstore: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("kvstore: migration instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("kvstore: migrate up: %w", err)
	}
	return nil
}

func (d *db) close() error {
	return d.sql.Close()
}

// CorruptError signals that opening or migrating a database file failed in
// a way that warrants the rename-and-recreate recovery path.
type CorruptError struct {
	Path  string
	Cause error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("kvstore: database at %s appears corrupt: %v", e.Path, e.Cause)
}

func (e *CorruptError) Unwrap() error { return e.Cause }
