//go:build cgo_sqlite

// CGO SQLite driver using mattn/go-sqlite3.
//
// Build with: CGO_ENABLED=1 go build -tags cgo_sqlite
package sqlite

import (
	_ "github.com/mattn/go-sqlite3" // CGO driver
)

const (
	driverName    = "sqlite3"
	driverType    = "cgo"
	driverPackage = "github.com/mattn/go-sqlite3"
)
