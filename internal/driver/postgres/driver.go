// Package postgres provides the PostgreSQL driver (pgx through
// database/sql). It registers itself with the driver registry on import.
package postgres

import (
	"github.com/tabulify/tabulify-sub009/internal/driver"
	"github.com/tabulify/tabulify-sub009/internal/driver/sqldb"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for PostgreSQL databases.
type Driver struct{}

// Name returns the primary driver name.
func (d *Driver) Name() string {
	return "postgres"
}

// Aliases returns alternative names for this driver.
func (d *Driver) Aliases() []string {
	return []string{"postgresql", "pg"}
}

// Open opens a pool on uri. The schema attribute sets the default schema
// (public when absent).
func (d *Driver) Open(name, uri string, attrs map[string]string) (resource.Connection, error) {
	return sqldb.Open(name, uri, attrs, &Dialect{})
}
