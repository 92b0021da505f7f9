// Package memory provides the in-memory backend. Tables live in the
// connection for the lifetime of the process. It registers itself with the
// driver registry on import.
package memory

import (
	"github.com/tabulify/tabulify-sub009/internal/driver"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for in-memory connections.
type Driver struct{}

// Name returns the primary scheme.
func (d *Driver) Name() string {
	return "memory"
}

// Aliases returns alternative schemes for this driver.
func (d *Driver) Aliases() []string {
	return []string{"mem"}
}

// Open returns a new, empty in-memory connection.
func (d *Driver) Open(name, uri string, _ map[string]string) (resource.Connection, error) {
	c := New(name)
	c.uri = uri
	return c, nil
}
