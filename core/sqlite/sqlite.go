// Package sqlite opens SQLite databases with the driver selected at build
// time.
//
// Build modes:
//   - Default: pure Go modernc.org/sqlite, registered as "sqlite"
//   - CGO_ENABLED=1 -tags cgo_sqlite: mattn/go-sqlite3, registered as "sqlite3"
//
// Use Open instead of sql.Open so the matching driver name is used.
package sqlite

import (
	"database/sql"
	"fmt"
)

// Open opens a read-write database at path. The pool is limited to one
// connection so the per-connection pragmas hold for every statement.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	return db, nil
}

// OpenReadOnly opens an existing database in read-only mode. The pool is
// limited to one connection like Open.
func OpenReadOnly(path string) (*sql.DB, error) {
	db, err := sql.Open(driverName, "file:"+path+"?mode=ro")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Info describes the SQLite driver configuration.
type Info struct {
	DriverName string `json:"driver_name"`
	DriverType string `json:"driver_type"`
	IsCGO      bool   `json:"is_cgo"`
	Package    string `json:"package"`
}

// GetInfo returns information about the current SQLite configuration.
func GetInfo() Info {
	return Info{
		DriverName: driverName,
		DriverType: driverType,
		IsCGO:      driverType == "cgo",
		Package:    driverPackage,
	}
}
