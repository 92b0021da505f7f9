// Package relation models the structure of a tabular resource: an ordered
// list of columns with 1-based contiguous positions, an optional primary
// key, unique keys and foreign keys.
package relation

import (
	"fmt"
	"strings"
)

// Column is a column definition. Position is 1-based and owned by the Def
// the column belongs to.
type Column struct {
	Name      string `json:"name"`
	Type      Type   `json:"type"`
	TypeName  string `json:"type_name,omitempty"` // vendor declaration when known
	Precision int    `json:"precision"`
	Scale     int    `json:"scale"`
	Nullable  bool   `json:"nullable"`
	Comment   string `json:"comment,omitempty"`
	Position  int    `json:"position"`
}

func (c *Column) String() string {
	return fmt.Sprintf("%s (%d, %s)", c.Name, c.Position, c.Type)
}

// Key is a primary or unique key.
type Key struct {
	Name    string
	Columns []*Column
}

// ColumnNames returns the names of the key columns in key order.
func (k *Key) ColumnNames() []string {
	names := make([]string, len(k.Columns))
	for i, c := range k.Columns {
		names[i] = c.Name
	}
	return names
}

// ForeignKey references another resource by name.
type ForeignKey struct {
	Name       string
	Columns    []*Column
	RefTable   string
	RefColumns []string
}

// Def is a relation definition.
type Def struct {
	columns     []*Column
	byName      map[string]*Column
	primaryKey  *Key
	uniqueKeys  []*Key
	foreignKeys []*ForeignKey

	// FreeForm marks a relation that accepts any columns and is declared
	// again from the source on every transfer run.
	FreeForm bool

	// Strict marks a relation whose nullability is authoritative.
	Strict bool
}

// New returns an empty definition.
func New() *Def {
	return &Def{byName: make(map[string]*Column)}
}

func nameKey(name string) string {
	return strings.ToLower(name)
}

// AddColumn appends a column at the next position. The Position field of
// the argument is ignored.
func (d *Def) AddColumn(c Column) (*Column, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("column at position %d has no name", len(d.columns)+1)
	}
	if _, exists := d.byName[nameKey(c.Name)]; exists {
		return nil, fmt.Errorf("column %q already exists", c.Name)
	}
	col := c
	col.Position = len(d.columns) + 1
	d.columns = append(d.columns, &col)
	d.byName[nameKey(c.Name)] = &col
	return &col, nil
}

// MustAddColumn is AddColumn for static definitions; it panics on a duplicate.
func (d *Def) MustAddColumn(name string, t Type) *Column {
	c, err := d.AddColumn(Column{Name: name, Type: t, Nullable: true})
	if err != nil {
		panic(err)
	}
	return c
}

// Len returns the number of columns.
func (d *Def) Len() int {
	return len(d.columns)
}

// Columns returns the columns in position order.
func (d *Def) Columns() []*Column {
	out := make([]*Column, len(d.columns))
	copy(out, d.columns)
	return out
}

// ColumnNames returns the names in position order.
func (d *Def) ColumnNames() []string {
	names := make([]string, len(d.columns))
	for i, c := range d.columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the column at a 1-based position or nil.
func (d *Def) Column(position int) *Column {
	if position < 1 || position > len(d.columns) {
		return nil
	}
	return d.columns[position-1]
}

// ColumnByName returns the column with the given name (case-insensitive) or nil.
func (d *Def) ColumnByName(name string) *Column {
	return d.byName[nameKey(name)]
}

// HasColumn reports whether a column with that name exists.
func (d *Def) HasColumn(name string) bool {
	return d.ColumnByName(name) != nil
}

func (d *Def) columnsByName(names []string) ([]*Column, error) {
	cols := make([]*Column, 0, len(names))
	for _, n := range names {
		c := d.ColumnByName(n)
		if c == nil {
			return nil, fmt.Errorf("no column named %q", n)
		}
		cols = append(cols, c)
	}
	return cols, nil
}

// SetPrimaryKey declares the primary key. A relation has at most one.
func (d *Def) SetPrimaryKey(names ...string) error {
	if len(names) == 0 {
		d.primaryKey = nil
		return nil
	}
	cols, err := d.columnsByName(names)
	if err != nil {
		return fmt.Errorf("primary key: %w", err)
	}
	d.primaryKey = &Key{Columns: cols}
	return nil
}

// PrimaryKey returns the primary key or nil.
func (d *Def) PrimaryKey() *Key {
	return d.primaryKey
}

// AddUniqueKey declares a unique key over the named columns.
func (d *Def) AddUniqueKey(names ...string) error {
	if len(names) == 0 {
		return fmt.Errorf("unique key without columns")
	}
	cols, err := d.columnsByName(names)
	if err != nil {
		return fmt.Errorf("unique key: %w", err)
	}
	d.uniqueKeys = append(d.uniqueKeys, &Key{Columns: cols})
	return nil
}

// UniqueKeys returns the unique keys in declaration order.
func (d *Def) UniqueKeys() []*Key {
	return d.uniqueKeys
}

// AddForeignKey declares a foreign key.
func (d *Def) AddForeignKey(names []string, refTable string, refColumns []string) error {
	cols, err := d.columnsByName(names)
	if err != nil {
		return fmt.Errorf("foreign key: %w", err)
	}
	d.foreignKeys = append(d.foreignKeys, &ForeignKey{Columns: cols, RefTable: refTable, RefColumns: refColumns})
	return nil
}

// ForeignKeys returns the foreign keys.
func (d *Def) ForeignKeys() []*ForeignKey {
	return d.foreignKeys
}

// Reset drops every column and key. The FreeForm and Strict flags stay.
func (d *Def) Reset() {
	d.columns = nil
	d.byName = make(map[string]*Column)
	d.primaryKey = nil
	d.uniqueKeys = nil
	d.foreignKeys = nil
}

// CopyFrom appends the columns of src and carries over its primary and
// unique keys. convert, when non-nil, maps each source column to the
// column to declare (used to translate types between backends).
func (d *Def) CopyFrom(src *Def, convert func(Column) Column) error {
	for _, c := range src.columns {
		col := *c
		if convert != nil {
			col = convert(col)
		}
		if _, err := d.AddColumn(col); err != nil {
			return err
		}
	}
	if pk := src.PrimaryKey(); pk != nil {
		if err := d.SetPrimaryKey(pk.ColumnNames()...); err != nil {
			return err
		}
	}
	for _, uk := range src.uniqueKeys {
		if err := d.AddUniqueKey(uk.ColumnNames()...); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy with fresh column pointers.
func (d *Def) Clone() *Def {
	out := New()
	out.FreeForm = d.FreeForm
	out.Strict = d.Strict
	_ = out.CopyFrom(d, nil)
	for _, fk := range d.foreignKeys {
		names := make([]string, len(fk.Columns))
		for i, c := range fk.Columns {
			names[i] = c.Name
		}
		_ = out.AddForeignKey(names, fk.RefTable, fk.RefColumns)
	}
	return out
}

// KeyColumnSets returns the primary key followed by the unique keys.
func (d *Def) KeyColumnSets() []*Key {
	var keys []*Key
	if d.primaryKey != nil {
		keys = append(keys, d.primaryKey)
	}
	return append(keys, d.uniqueKeys...)
}
