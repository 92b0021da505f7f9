package transfer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tabulify/tabulify-sub009/internal/driver/memory"
	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/relation"
)

func TestMappingIsCached(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		opts []SystemOption
	}{
		{"position", []SystemOption{WithMappingMethod(MappingPosition)}},
		{"name", []SystemOption{WithMappingMethod(MappingName)}},
		{"map by position", []SystemOption{WithMapByPosition(map[int]int{1: 1, 3: 2})}},
		{"map by name", []SystemOption{WithMapByName(map[string]string{"name": "name", "id": "id"})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := memory.New("memory")
			src := c.Put("src", peopleDef(), people())
			tgt := c.Put("tgt", peopleDef(), nil)
			o := NewOrder(src, tgt, mustProps(t, OperationInsert, tt.opts...))
			first, err := o.ColumnMapping(ctx)
			if err != nil {
				t.Fatal(err)
			}
			second, err := o.ColumnMapping(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if first != second {
				t.Error("the mapping should be computed once")
			}
			if first.Len() == 0 {
				t.Error("empty mapping")
			}
		})
	}
}

func TestDefaultMappingMethod(t *testing.T) {
	ctx := context.Background()
	c := memory.New("memory")
	src := c.Put("src", peopleDef(), people())

	o := NewOrder(src, path(t, c, "missing"), mustProps(t, OperationInsert))
	if m, _ := o.MappingMethod(ctx); m != MappingPosition {
		t.Errorf("structureless target: %s, want POSITION", m)
	}

	o = NewOrder(src, c.Put("existing", peopleDef(), nil), mustProps(t, OperationInsert))
	if m, _ := o.MappingMethod(ctx); m != MappingName {
		t.Errorf("existing target: %s, want NAME", m)
	}

	free := path(t, c, "free")
	def := relation.New()
	def.FreeForm = true
	def.MustAddColumn("x", relation.TypeVarchar)
	free.SetRelation(def)
	o = NewOrder(src, free, mustProps(t, OperationInsert))
	if m, _ := o.MappingMethod(ctx); m != MappingPosition {
		t.Errorf("free-form target: %s, want POSITION", m)
	}

	o = NewOrder(src, path(t, c, "missing"), mustProps(t, OperationInsert, WithMappingMethod(MappingName)))
	if m, _ := o.MappingMethod(ctx); m != MappingName {
		t.Errorf("explicit method: %s, want NAME", m)
	}
}

func TestPositionMappingStrictness(t *testing.T) {
	ctx := context.Background()
	c := memory.New("memory")
	src := c.Put("src", peopleDef(), people())
	tgt := c.Put("tgt", defOf("a", "b"), nil)

	o := NewOrder(src, tgt, mustProps(t, OperationInsert, WithMappingMethod(MappingPosition)))
	_, err := o.ColumnMapping(ctx)
	if !errors.Is(err, exitcodes.ErrStructure) {
		t.Fatalf("strict: err = %v, want ErrStructure", err)
	}
	if !strings.Contains(err.Error(), "age") {
		t.Errorf("the error should name the column: %v", err)
	}

	o = NewOrder(src, tgt, mustProps(t, OperationInsert, WithMappingMethod(MappingPosition), WithStrictMapping(false)))
	m, err := o.ColumnMapping(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if m.Len() != 2 {
		t.Errorf("mapping size = %d, want 2", m.Len())
	}
	sdef, _ := src.Relation(ctx)
	if _, ok := m.Get(sdef.Column(3)); ok {
		t.Error("the unmatched source column should be omitted")
	}
	tdef, _ := tgt.Relation(ctx)
	if sc, _ := m.GetKey(tdef.Column(2)); sc.Name != "name" {
		t.Errorf("target b is fed by %v, want name", sc)
	}
}

func TestNameMapping(t *testing.T) {
	ctx := context.Background()
	c := memory.New("memory")
	src := c.Put("src", peopleDef(), people())
	tgt := c.Put("tgt", defOf("age", "id", "name"), nil)
	o := NewOrder(src, tgt, mustProps(t, OperationInsert))
	m, err := o.ColumnMapping(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sdef, _ := src.Relation(ctx)
	for _, sc := range sdef.Columns() {
		tc, ok := m.Get(sc)
		if !ok || tc.Name != sc.Name {
			t.Errorf("%s mapped to %v", sc.Name, tc)
		}
	}

	missing := c.Put("narrow", defOf("id"), nil)
	o = NewOrder(src, missing, mustProps(t, OperationInsert))
	if _, err := o.ColumnMapping(ctx); !errors.Is(err, exitcodes.ErrStructure) {
		t.Errorf("err = %v, want ErrStructure", err)
	}
}

func TestExplicitMapValidation(t *testing.T) {
	ctx := context.Background()
	c := memory.New("memory")
	src := c.Put("src", peopleDef(), people())
	tgt := c.Put("tgt", defOf("a", "b"), nil)

	tests := []struct {
		name  string
		opt   SystemOption
		entry string
	}{
		{"source position", WithMapByPosition(map[int]int{4: 1}), "(4 -> 1)"},
		{"target position", WithMapByPosition(map[int]int{1: 9}), "(1 -> 9)"},
		{"source name", WithMapByName(map[string]string{"nope": "a"}), "(nope -> a)"},
		{"target name", WithMapByName(map[string]string{"id": "zz"}), "(id -> zz)"},
		{"duplicate target", WithMapByName(map[string]string{"id": "a", "name": "a"}), "(name -> a)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOrder(src, tgt, mustProps(t, OperationInsert, tt.opt))
			_, err := o.ColumnMapping(ctx)
			if !errors.Is(err, exitcodes.ErrMapping) {
				t.Fatalf("err = %v, want ErrMapping", err)
			}
			if !strings.Contains(err.Error(), tt.entry) {
				t.Errorf("the error should name the entry %s: %v", tt.entry, err)
			}
		})
	}

	o := NewOrder(src, tgt, mustProps(t, OperationInsert, WithMapByName(map[string]string{"name": "b", "id": "a"})))
	m, err := o.ColumnMapping(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if keys := m.Keys(); len(keys) != 2 || keys[0].Name != "id" || keys[1].Name != "name" {
		t.Errorf("entries should follow the source order: %v", keys)
	}
}
