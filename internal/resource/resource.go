// Package resource defines the capability surface every backend implements
// (Connection, DataSystem and the row streams), the DataPath that addresses
// one resource of a connection, and the Registry of named connections.
package resource

import (
	"context"
	"strings"

	"github.com/tabulify/tabulify-sub009/internal/relation"
)

// MediaType identifies the format of a resource.
type MediaType string

const (
	MediaUnknown   MediaType = ""
	MediaTable     MediaType = "table"
	MediaQuery     MediaType = "query"
	MediaCSV       MediaType = "text/csv"
	MediaJSONL     MediaType = "application/x-ndjson"
	MediaSQL       MediaType = "application/sql"
	MediaHTML      MediaType = "text/html"
	MediaDirectory MediaType = "inode/directory"
)

// Capability is a set of operations a connection supports.
type Capability uint8

const (
	CapCreate Capability = 1 << iota
	CapDrop
	CapTruncate
	CapSelect
	CapCount

	CapAll = CapCreate | CapDrop | CapTruncate | CapSelect | CapCount
)

// Has reports whether every capability of o is in c.
func (c Capability) Has(o Capability) bool {
	return c&o == o
}

func (c Capability) String() string {
	var parts []string
	for _, e := range []struct {
		c    Capability
		name string
	}{{CapCreate, "create"}, {CapDrop, "drop"}, {CapTruncate, "truncate"}, {CapSelect, "select"}, {CapCount, "count"}} {
		if c.Has(e.c) {
			parts = append(parts, e.name)
		}
	}
	return strings.Join(parts, ",")
}

// Connection is a named handle on a backing store.
type Connection interface {
	// Name is the registered (normalized) name.
	Name() string
	URI() string
	Scheme() string
	// ServiceID identifies the physical service. Two connections with the
	// same service id can rename resources between each other.
	ServiceID() string
	// CurrentPath is the absolute path that relative paths resolve against.
	CurrentPath() string
	Capabilities() Capability
	DataSystem() DataSystem
	// DataPath returns the resource at path. An empty path is the current path.
	DataPath(path string, mediaType MediaType) (*DataPath, error)
	// Close releases the backend resources. It is idempotent.
	Close() error
}

// DataSystem is the per-backend implementation of the resource operations.
type DataSystem interface {
	Exists(ctx context.Context, dp *DataPath) (bool, error)
	IsEmpty(ctx context.Context, dp *DataPath) (bool, error)
	IsContainer(dp *DataPath) bool

	// Create creates target with the columns of its relation. source is a
	// hint and may be nil.
	Create(ctx context.Context, target, source *DataPath) error
	Drop(ctx context.Context, dp *DataPath) error
	Truncate(ctx context.Context, dp *DataPath) error

	// Select returns the resources whose path relative to the current path
	// matches the glob pattern.
	Select(ctx context.Context, pattern string, mediaType MediaType) ([]*DataPath, error)
	// Count returns the number of records or -1 when unknown.
	Count(ctx context.Context, dp *DataPath) (int64, error)
	// Child returns the resource named name inside the container parent.
	Child(parent *DataPath, name string) (*DataPath, error)

	// Describe reads the structure of an existing resource.
	Describe(ctx context.Context, dp *DataPath) (*relation.Def, error)
	// FreeForm reports whether a new resource at dp accepts any columns.
	FreeForm(dp *DataPath) bool
	// TargetColumn translates a column of another backend into the
	// column this backend declares for it.
	TargetColumn(col relation.Column) relation.Column

	NewSelectStream(ctx context.Context, dp *DataPath) (SelectStream, error)
	NewInsertStream(ctx context.Context, dp *DataPath, spec WriteSpec) (InsertStream, error)
}

// Renamer is implemented by data systems that can move a resource without
// copying its records.
type Renamer interface {
	Rename(ctx context.Context, source, target *DataPath) error
}

// TextReader is implemented by data systems whose resources can be read as
// text (scripts).
type TextReader interface {
	ReadText(ctx context.Context, dp *DataPath) (string, error)
}
