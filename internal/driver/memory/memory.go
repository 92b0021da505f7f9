package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/glob"
	"github.com/tabulify/tabulify-sub009/internal/relation"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

type table struct {
	def  *relation.Def
	rows [][]any
}

// Connection is an in-memory store of tables. It is both the
// resource.Connection and its resource.DataSystem.
type Connection struct {
	name string
	uri  string

	mu     sync.RWMutex
	tables map[string]*table
	closed bool
}

// New returns an empty connection.
func New(name string) *Connection {
	return &Connection{name: name, uri: "memory://", tables: make(map[string]*table)}
}

func (c *Connection) Name() string                      { return c.name }
func (c *Connection) URI() string                       { return c.uri }
func (c *Connection) Scheme() string                    { return "memory" }
func (c *Connection) ServiceID() string                 { return "memory:" + c.name }
func (c *Connection) CurrentPath() string               { return "" }
func (c *Connection) Capabilities() resource.Capability { return resource.CapAll }
func (c *Connection) DataSystem() resource.DataSystem   { return c }

func (c *Connection) DataPath(path string, mediaType resource.MediaType) (*resource.DataPath, error) {
	if mediaType == resource.MediaUnknown {
		mediaType = resource.MediaTable
	}
	return resource.NewDataPath(c, path, mediaType), nil
}

// Close drops every table. Closing twice is a no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.tables = make(map[string]*table)
	return nil
}

// Put stores a table with the given structure and rows, replacing any
// existing one.
func (c *Connection) Put(name string, def *relation.Def, rows [][]any) *resource.DataPath {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([][]any, len(rows))
	for i, r := range rows {
		cp[i] = append([]any(nil), r...)
	}
	c.tables[name] = &table{def: def.Clone(), rows: cp}
	return resource.NewDataPath(c, name, resource.MediaTable)
}

// Rows returns a copy of the rows of a table.
func (c *Connection) Rows(name string) [][]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[name]
	if !ok {
		return nil
	}
	out := make([][]any, len(t.rows))
	for i, r := range t.rows {
		out[i] = append([]any(nil), r...)
	}
	return out
}

func (c *Connection) lookup(dp *resource.DataPath) (*table, error) {
	t, ok := c.tables[dp.Path()]
	if !ok {
		return nil, fmt.Errorf("the table %s does not exist: %w", dp, exitcodes.ErrNotFound)
	}
	return t, nil
}

func (c *Connection) Exists(_ context.Context, dp *resource.DataPath) (bool, error) {
	if dp.IsRuntime() {
		return false, nil
	}
	if dp.Path() == "" {
		return true, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tables[dp.Path()]
	return ok, nil
}

func (c *Connection) IsEmpty(_ context.Context, dp *resource.DataPath) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if dp.Path() == "" {
		return len(c.tables) == 0, nil
	}
	t, ok := c.tables[dp.Path()]
	return !ok || len(t.rows) == 0, nil
}

func (c *Connection) IsContainer(dp *resource.DataPath) bool {
	return dp.Path() == "" && !dp.IsRuntime()
}

func (c *Connection) Create(ctx context.Context, target, _ *resource.DataPath) error {
	def, err := target.Relation(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[target.Path()]; ok {
		return fmt.Errorf("the table %s already exists", target)
	}
	c.tables[target.Path()] = &table{def: def.Clone()}
	return nil
}

func (c *Connection) Drop(_ context.Context, dp *resource.DataPath) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.lookup(dp); err != nil {
		return err
	}
	delete(c.tables, dp.Path())
	return nil
}

func (c *Connection) Truncate(_ context.Context, dp *resource.DataPath) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.lookup(dp)
	if err != nil {
		return err
	}
	t.rows = nil
	return nil
}

// Rename moves a table to another name on the same connection.
func (c *Connection) Rename(_ context.Context, source, target *resource.DataPath) error {
	if source.Connection().ServiceID() != target.Connection().ServiceID() {
		return fmt.Errorf("rename from %s to %s crosses connections: %w", source, target, exitcodes.ErrUnsupported)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.lookup(source)
	if err != nil {
		return err
	}
	if _, exists := c.tables[target.Path()]; exists {
		return fmt.Errorf("the table %s already exists", target)
	}
	delete(c.tables, source.Path())
	c.tables[target.Path()] = t
	return nil
}

func (c *Connection) Select(_ context.Context, pattern string, mediaType resource.MediaType) ([]*resource.DataPath, error) {
	g := glob.New(pattern)
	c.mu.RLock()
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		if g.Match(name) {
			names = append(names, name)
		}
	}
	c.mu.RUnlock()
	sort.Strings(names)
	out := make([]*resource.DataPath, 0, len(names))
	for _, n := range names {
		dp, _ := c.DataPath(n, mediaType)
		out = append(out, dp)
	}
	return out, nil
}

func (c *Connection) Count(_ context.Context, dp *resource.DataPath) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if dp.Path() == "" {
		return int64(len(c.tables)), nil
	}
	t, err := c.lookup(dp)
	if err != nil {
		return -1, err
	}
	return int64(len(t.rows)), nil
}

func (c *Connection) Child(_ *resource.DataPath, name string) (*resource.DataPath, error) {
	return c.DataPath(name, resource.MediaTable)
}

func (c *Connection) Describe(_ context.Context, dp *resource.DataPath) (*relation.Def, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, err := c.lookup(dp)
	if err != nil {
		return nil, err
	}
	return t.def.Clone(), nil
}

func (c *Connection) FreeForm(*resource.DataPath) bool { return false }

func (c *Connection) TargetColumn(col relation.Column) relation.Column { return col }

func (c *Connection) NewSelectStream(_ context.Context, dp *resource.DataPath) (resource.SelectStream, error) {
	rows := c.Rows(dp.Path())
	c.mu.RLock()
	_, err := c.lookup(dp)
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return &selectStream{rows: rows, pos: -1}, nil
}

func (c *Connection) NewInsertStream(ctx context.Context, dp *resource.DataPath, spec resource.WriteSpec) (resource.InsertStream, error) {
	c.mu.RLock()
	t, err := c.lookup(dp)
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	positions := make([]int, len(spec.Columns))
	for i, name := range spec.Columns {
		col := t.def.ColumnByName(name)
		if col == nil {
			return nil, fmt.Errorf("the table %s has no column %s: %w", dp, name, exitcodes.ErrStructure)
		}
		positions[i] = col.Position - 1
	}
	return &insertStream{conn: c, path: dp.Path(), spec: spec, positions: positions, width: t.def.Len()}, nil
}

func rowKey(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, "\x00")
}
