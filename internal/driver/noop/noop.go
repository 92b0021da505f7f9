// Package noop provides a backend that accepts every write and stores
// nothing. Targets on it are free-form and always empty.
package noop

import (
	"context"
	"sync/atomic"

	"github.com/tabulify/tabulify-sub009/internal/driver"
	"github.com/tabulify/tabulify-sub009/internal/relation"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for the no-op backend.
type Driver struct{}

func (d *Driver) Name() string      { return "noop" }
func (d *Driver) Aliases() []string { return []string{"void"} }

func (d *Driver) Open(name, uri string, _ map[string]string) (resource.Connection, error) {
	return &Connection{name: name, uri: uri}, nil
}

// Connection discards everything written to it.
type Connection struct {
	name    string
	uri     string
	written atomic.Int64
}

// New returns a no-op connection.
func New(name string) *Connection {
	return &Connection{name: name, uri: "noop://"}
}

func (c *Connection) Name() string                      { return c.name }
func (c *Connection) URI() string                       { return c.uri }
func (c *Connection) Scheme() string                    { return "noop" }
func (c *Connection) ServiceID() string                 { return "noop:" + c.name }
func (c *Connection) CurrentPath() string               { return "" }
func (c *Connection) Capabilities() resource.Capability { return resource.CapAll }
func (c *Connection) DataSystem() resource.DataSystem   { return c }
func (c *Connection) Close() error                      { return nil }

// Written returns the number of records discarded so far.
func (c *Connection) Written() int64 { return c.written.Load() }

func (c *Connection) DataPath(path string, mediaType resource.MediaType) (*resource.DataPath, error) {
	return resource.NewDataPath(c, path, mediaType), nil
}

func (c *Connection) Exists(context.Context, *resource.DataPath) (bool, error)  { return false, nil }
func (c *Connection) IsEmpty(context.Context, *resource.DataPath) (bool, error) { return true, nil }
func (c *Connection) IsContainer(dp *resource.DataPath) bool                    { return dp.Path() == "" }
func (c *Connection) Create(context.Context, *resource.DataPath, *resource.DataPath) error {
	return nil
}
func (c *Connection) Drop(context.Context, *resource.DataPath) error     { return nil }
func (c *Connection) Truncate(context.Context, *resource.DataPath) error { return nil }
func (c *Connection) Select(context.Context, string, resource.MediaType) ([]*resource.DataPath, error) {
	return nil, nil
}
func (c *Connection) Count(context.Context, *resource.DataPath) (int64, error) { return 0, nil }
func (c *Connection) Child(_ *resource.DataPath, name string) (*resource.DataPath, error) {
	return c.DataPath(name, resource.MediaUnknown)
}
func (c *Connection) Describe(context.Context, *resource.DataPath) (*relation.Def, error) {
	def := relation.New()
	def.FreeForm = true
	return def, nil
}
func (c *Connection) FreeForm(*resource.DataPath) bool                 { return true }
func (c *Connection) TargetColumn(col relation.Column) relation.Column { return col }

func (c *Connection) NewSelectStream(context.Context, *resource.DataPath) (resource.SelectStream, error) {
	return emptyStream{}, nil
}

func (c *Connection) NewInsertStream(context.Context, *resource.DataPath, resource.WriteSpec) (resource.InsertStream, error) {
	return &discard{conn: c}, nil
}

type emptyStream struct{}

func (emptyStream) Next() bool         { return false }
func (emptyStream) Values() []any      { return nil }
func (emptyStream) Err() error         { return nil }
func (emptyStream) BeforeFirst() error { return nil }
func (emptyStream) Close() error       { return nil }

type discard struct {
	conn    *Connection
	pending int64
}

func (d *discard) Insert(context.Context, []any) error { d.pending++; return nil }
func (d *discard) Flush(context.Context) error {
	d.conn.written.Add(d.pending)
	d.pending = 0
	return nil
}
func (d *discard) Commit(ctx context.Context) error { return d.Flush(ctx) }
func (d *discard) Close() error                     { return nil }
