// Package sqlite provides the SQLite driver (modernc.org/sqlite, no cgo).
// It registers itself with the driver registry on import.
package sqlite

import (
	"github.com/tabulify/tabulify-sub009/internal/driver"
	"github.com/tabulify/tabulify-sub009/internal/driver/sqldb"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for SQLite databases.
type Driver struct{}

// Name returns the primary driver name.
func (d *Driver) Name() string {
	return "sqlite"
}

// Aliases returns alternative names for this driver.
func (d *Driver) Aliases() []string {
	return []string{"sqlite3"}
}

// Open opens the database file of uri (sqlite:///path/to/file.db).
func (d *Driver) Open(name, uri string, attrs map[string]string) (resource.Connection, error) {
	return sqldb.Open(name, uri, attrs, &Dialect{})
}
