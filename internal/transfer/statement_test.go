package transfer

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/tabulify/tabulify-sub009/internal/driver/memory"
	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/relation"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

func TestPositionsInStatementOrder(t *testing.T) {
	ctx := context.Background()
	c := memory.New("memory")
	src := c.Put("src", defOf("id", "name", "age"), people())
	tgt := c.Put("tgt", peopleDef(), nil)
	o := NewOrder(src, tgt, mustProps(t, OperationUpdate))

	tests := []struct {
		kind resource.StatementKind
		want []int
	}{
		{resource.StatementUpdate, []int{2, 3, 1}},
		{resource.StatementDelete, []int{1}},
		{resource.StatementInsert, []int{1, 2, 3}},
		{resource.StatementMerge, []int{1, 2, 3}},
		{resource.StatementCopy, []int{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			got, err := o.SourceColumnPositionsInStatementOrder(ctx, tt.kind)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("positions = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPositionsFollowTargetOrder(t *testing.T) {
	ctx := context.Background()
	c := memory.New("memory")
	src := c.Put("src", defOf("id", "name", "extra"), nil)
	tgt := c.Put("tgt", defOf("name", "other", "id"), nil)
	o := NewOrder(src, tgt, mustProps(t, OperationInsert, WithStrictMapping(false)))

	got, err := o.SourceColumnPositionsInStatementOrder(ctx, resource.StatementCopy)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []int{2, 1}) {
		t.Errorf("copy positions = %v, want [2 1]", got)
	}
	got, _ = o.SourceColumnPositionsInStatementOrder(ctx, resource.StatementInsert)
	if !reflect.DeepEqual(got, []int{1, 2}) {
		t.Errorf("insert positions = %v, want [1 2]", got)
	}
}

func TestStatementSpec(t *testing.T) {
	ctx := context.Background()
	c := memory.New("memory")
	src := c.Put("src", defOf("id", "name", "age"), people())
	tgt := c.Put("tgt", peopleDef(), nil)
	o := NewOrder(src, tgt, mustProps(t, OperationUpdate, WithBindVariables(false)))

	spec, positions, err := o.Statement(ctx, resource.StatementUpdate)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(spec.Columns, []string{"name", "age", "id"}) || !reflect.DeepEqual(spec.KeyColumns, []string{"id"}) {
		t.Errorf("spec = %+v", spec)
	}
	if !reflect.DeepEqual(spec.SetColumns(), []string{"name", "age"}) {
		t.Errorf("set columns = %v", spec.SetColumns())
	}
	if spec.BindVariables || !reflect.DeepEqual(positions, []int{2, 3, 1}) {
		t.Errorf("bind = %v, positions = %v", spec.BindVariables, positions)
	}

	spec, _, err = o.Statement(ctx, resource.StatementInsert)
	if err != nil {
		t.Fatal(err)
	}
	if spec.KeyColumns != nil {
		t.Errorf("insert has no key columns: %v", spec.KeyColumns)
	}
}

func TestCheckBeforeUpdate(t *testing.T) {
	ctx := context.Background()
	c := memory.New("memory")
	src := c.Put("src", peopleDef(), people())

	noKey := c.Put("nokey", defOf("id", "name", "age"), nil)
	err := NewOrder(src, noKey, mustProps(t, OperationUpdate)).CheckBeforeUpdate(ctx)
	if !errors.Is(err, exitcodes.ErrStructure) || !strings.Contains(err.Error(), "no primary key or unique key") {
		t.Errorf("no key: %v", err)
	}

	withoutID := c.Put("partial", defOf("name", "age"), nil)
	err = NewOrder(withoutID, c.Put("tgt", peopleDef(), nil), mustProps(t, OperationUpdate)).CheckBeforeUpdate(ctx)
	if !errors.Is(err, exitcodes.ErrStructure) || !strings.Contains(err.Error(), "no unique column found") {
		t.Errorf("key not in source: %v", err)
	}

	onlyKey := c.Put("onlykey", defOf("id"), nil)
	o := NewOrder(onlyKey, c.Put("tgt2", peopleDef(), nil), mustProps(t, OperationUpdate))
	if err := o.CheckBeforeUpdate(ctx); err == nil || !strings.Contains(err.Error(), "nothing to update") {
		t.Errorf("only key: %v", err)
	}
	if err := o.CheckBeforeDelete(ctx); err != nil {
		t.Errorf("a delete only needs the key: %v", err)
	}
}

func TestCheckBeforeUpdateUsesUniqueKey(t *testing.T) {
	ctx := context.Background()
	c := memory.New("memory")
	src := c.Put("src", defOf("code", "label"), nil)
	def := relation.New()
	def.MustAddColumn("id", relation.TypeInteger)
	def.MustAddColumn("code", relation.TypeVarchar)
	def.MustAddColumn("label", relation.TypeVarchar)
	_ = def.SetPrimaryKey("id")
	_ = def.AddUniqueKey("code")
	tgt := c.Put("tgt", def, nil)

	o := NewOrder(src, tgt, mustProps(t, OperationUpdate, WithStrictMapping(false)))
	got, err := o.SourceColumnPositionsInStatementOrder(ctx, resource.StatementUpdate)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []int{2, 1}) {
		t.Errorf("positions = %v, want [2 1]", got)
	}
}

func TestCheckBeforeInsert(t *testing.T) {
	ctx := context.Background()
	c := memory.New("memory")
	src := c.Put("src", defOf("name", "age"), nil)
	tgt := c.Put("tgt", peopleDef(), nil)
	err := NewOrder(src, tgt, mustProps(t, OperationInsert)).CheckBeforeInsert(ctx)
	if !errors.Is(err, exitcodes.ErrStructure) || !strings.Contains(err.Error(), "primary key column (id)") {
		t.Errorf("missing pk: %v", err)
	}

	strict := defOf("id", "name")
	strict.Strict = true
	strictSrc := c.Put("strict", strict, nil)
	mandatory := relation.New()
	if _, err := mandatory.AddColumn(relation.Column{Name: "id", Type: relation.TypeVarchar}); err != nil {
		t.Fatal(err)
	}
	mandatory.MustAddColumn("name", relation.TypeVarchar)
	err = NewOrder(strictSrc, c.Put("mandatory", mandatory, nil), mustProps(t, OperationInsert)).CheckBeforeInsert(ctx)
	if !errors.Is(err, exitcodes.ErrStructure) || !strings.Contains(err.Error(), "is nullable") {
		t.Errorf("nullable into mandatory: %v", err)
	}
}
