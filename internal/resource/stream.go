package resource

import (
	"context"

	"github.com/tabulify/tabulify-sub009/internal/relation"
)

// SelectStream reads the records of a resource one at a time.
type SelectStream interface {
	Next() bool
	// Values returns the current record in column position order. The
	// slice is only valid until the next call to Next.
	Values() []any
	Err() error
	// BeforeFirst rewinds the stream.
	BeforeFirst() error
	Close() error
}

// InsertStream writes records to a resource. Close releases the backend
// resources and must be called on every path, including after an error.
type InsertStream interface {
	Insert(ctx context.Context, values []any) error
	Flush(ctx context.Context) error
	Commit(ctx context.Context) error
	Close() error
}

// StatementKind is the shape of the write statement.
type StatementKind int

const (
	StatementInsert StatementKind = iota
	StatementMerge
	StatementUpdate
	StatementDelete
	StatementCopy
)

func (k StatementKind) String() string {
	switch k {
	case StatementInsert:
		return "INSERT"
	case StatementMerge:
		return "MERGE"
	case StatementUpdate:
		return "UPDATE"
	case StatementDelete:
		return "DELETE"
	case StatementCopy:
		return "COPY"
	default:
		return "UNKNOWN"
	}
}

// UpsertType selects how a MERGE statement is executed.
type UpsertType int

const (
	// UpsertMerge uses the native merge of the backend.
	UpsertMerge UpsertType = iota
	// UpsertInsertUpdate tries an insert and updates on a key conflict.
	UpsertInsertUpdate
	// UpsertUpdateInsert tries an update and inserts when no row matched.
	UpsertUpdateInsert
)

func (u UpsertType) String() string {
	switch u {
	case UpsertInsertUpdate:
		return "INSERT_UPDATE"
	case UpsertUpdateInsert:
		return "UPDATE_INSERT"
	default:
		return "MERGE"
	}
}

// WriteSpec describes the statement an InsertStream executes.
//
// Columns names the target columns in the order values are passed to
// Insert. For UPDATE the key columns come last, for DELETE Columns equals
// KeyColumns.
type WriteSpec struct {
	Kind          StatementKind
	Columns       []string
	KeyColumns    []string
	BindVariables bool
	Upsert        UpsertType
}

// SetColumns returns the columns that are not key columns, in value order.
func (s WriteSpec) SetColumns() []string {
	keys := make(map[string]bool, len(s.KeyColumns))
	for _, k := range s.KeyColumns {
		keys[k] = true
	}
	var out []string
	for _, c := range s.Columns {
		if !keys[c] {
			out = append(out, c)
		}
	}
	return out
}

// Row is a record in column position order.
type Row []any

// At returns the value at a 1-based position or nil.
func (r Row) At(position int) any {
	if position < 1 || position > len(r) {
		return nil
	}
	return r[position-1]
}

// ByName returns the value of the named column of def or nil.
func (r Row) ByName(def *relation.Def, name string) any {
	c := def.ColumnByName(name)
	if c == nil {
		return nil
	}
	return r.At(c.Position)
}
