package transfer

import (
	"context"
	"testing"

	"github.com/tabulify/tabulify-sub009/internal/driver/memory"
	"github.com/tabulify/tabulify-sub009/internal/relation"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

// peopleDef is [id(pk), name, age].
func peopleDef() *relation.Def {
	def := relation.New()
	def.MustAddColumn("id", relation.TypeInteger)
	def.MustAddColumn("name", relation.TypeVarchar)
	def.MustAddColumn("age", relation.TypeInteger)
	if err := def.SetPrimaryKey("id"); err != nil {
		panic(err)
	}
	return def
}

func defOf(names ...string) *relation.Def {
	def := relation.New()
	for _, n := range names {
		def.MustAddColumn(n, relation.TypeVarchar)
	}
	return def
}

func people() [][]any {
	return [][]any{{1, "ann", 30}, {2, "bob", 40}}
}

func path(t *testing.T, c *memory.Connection, name string) *resource.DataPath {
	t.Helper()
	dp, err := c.DataPath(name, resource.MediaUnknown)
	if err != nil {
		t.Fatal(err)
	}
	return dp
}

func mustProps(t *testing.T, op Operation, opts ...SystemOption) SystemProperties {
	t.Helper()
	p, err := NewSystemProperties(op, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func mustCross(t *testing.T, opts ...CrossOption) CrossProperties {
	t.Helper()
	p, err := NewCrossProperties(opts...)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// prepare runs the target pre-operations of a new order.
func prepare(t *testing.T, src, tgt *resource.DataPath, props SystemProperties) (*Order, *Listener, error) {
	t.Helper()
	o := NewOrder(src, tgt, props)
	l := NewListener(o)
	err := o.TargetPreOperationsAndCheck(context.Background(), l, true)
	return o, l, err
}

// restricted is a memory connection advertising fewer capabilities or
// hiding its rename support.
type restricted struct {
	*memory.Connection
	caps     resource.Capability
	noRename bool
}

func (r *restricted) Capabilities() resource.Capability { return r.caps }

func (r *restricted) DataSystem() resource.DataSystem {
	if r.noRename {
		return struct{ resource.DataSystem }{r.Connection}
	}
	return r.Connection
}

func (r *restricted) path(name string) *resource.DataPath {
	return resource.NewDataPath(r, name, resource.MediaTable)
}
