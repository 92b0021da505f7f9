// Package mssql provides the Microsoft SQL Server driver (go-mssqldb).
// It registers itself with the driver registry on import.
package mssql

import (
	"github.com/tabulify/tabulify-sub009/internal/driver"
	"github.com/tabulify/tabulify-sub009/internal/driver/sqldb"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for Microsoft SQL Server.
type Driver struct{}

// Name returns the primary driver name.
func (d *Driver) Name() string {
	return "sqlserver"
}

// Aliases returns alternative names for the driver.
func (d *Driver) Aliases() []string {
	return []string{"mssql", "sql-server"}
}

// Open opens a pool on uri. Attributes: schema (dbo), encrypt,
// trustServerCertificate, packetSize.
func (d *Driver) Open(name, uri string, attrs map[string]string) (resource.Connection, error) {
	return sqldb.Open(name, uri, attrs, &Dialect{})
}
