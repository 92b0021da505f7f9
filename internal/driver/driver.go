// Package driver provides the pluggable backend abstraction. Each backend
// (in-memory, file system, SQL databases, object store, web) implements
// the Driver interface and opens resource.Connection values for a URI.
package driver

import (
	"fmt"
	"strings"

	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

// Driver opens connections for one or more URI schemes.
//
// To add a backend:
// 1. Create a package under internal/driver/<backend>/
// 2. Implement the Driver interface
// 3. Register via init(): driver.Register(&MyDriver{})
type Driver interface {
	// Name returns the primary scheme (e.g., "sqlite", "postgres", "file").
	Name() string

	// Aliases returns alternative schemes for this driver.
	// For example, postgres has aliases ["postgresql", "pg"].
	Aliases() []string

	// Open creates a connection named name for uri. attrs carries the
	// backend specific attributes declared with the connection.
	Open(name, uri string, attrs map[string]string) (resource.Connection, error)
}

// Scheme returns the lowercased scheme of uri (the text before the first
// colon).
func Scheme(uri string) (string, error) {
	i := strings.Index(uri, ":")
	if i <= 0 {
		return "", fmt.Errorf("the connection uri (%s) has no scheme: %w", uri, exitcodes.ErrInvalidURI)
	}
	return strings.ToLower(uri[:i]), nil
}

// Open opens a connection with the driver registered for the scheme of uri.
func Open(name, uri string, attrs map[string]string) (resource.Connection, error) {
	scheme, err := Scheme(uri)
	if err != nil {
		return nil, err
	}
	d, err := Get(scheme)
	if err != nil {
		return nil, fmt.Errorf("connection %s: %w", name, err)
	}
	conn, err := d.Open(name, uri, attrs)
	if err != nil {
		return nil, fmt.Errorf("opening connection %s (%s): %w", name, d.Name(), err)
	}
	return conn, nil
}
