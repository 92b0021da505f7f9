package transfer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/relation"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

// SourceColumnPositionsInStatementOrder returns the 1-based source
// positions in the order the write statement of kind binds its values.
func (o *Order) SourceColumnPositionsInStatementOrder(ctx context.Context, kind resource.StatementKind) ([]int, error) {
	cols, err := o.statementSourceColumns(ctx, kind)
	if err != nil {
		return nil, err
	}
	positions := make([]int, len(cols))
	for i, c := range cols {
		positions[i] = c.Position
	}
	return positions, nil
}

func (o *Order) statementSourceColumns(ctx context.Context, kind resource.StatementKind) ([]*relation.Column, error) {
	mapping, err := o.ColumnMapping(ctx)
	if err != nil {
		return nil, err
	}
	switch kind {
	case resource.StatementUpdate:
		set, keys, err := o.updateColumns(ctx)
		if err != nil {
			return nil, err
		}
		return append(set, keys...), nil
	case resource.StatementDelete:
		_, keys, err := o.updateColumns(ctx)
		if err != nil {
			return nil, err
		}
		return keys, nil
	case resource.StatementInsert, resource.StatementMerge:
		return sortedSourceColumns(mapping), nil
	default:
		tgt, err := o.target.Relation(ctx)
		if err != nil {
			return nil, err
		}
		var cols []*relation.Column
		for _, tc := range tgt.Columns() {
			if sc, ok := mapping.GetKey(tc); ok {
				cols = append(cols, sc)
			}
		}
		return cols, nil
	}
}

func sortedSourceColumns(m *ColumnMapping) []*relation.Column {
	cols := m.Keys()
	sort.Slice(cols, func(i, j int) bool { return cols[i].Position < cols[j].Position })
	return cols
}

// updateColumns returns the source columns of the SET clause and of the
// WHERE clause. The WHERE clause uses the first target key (primary key
// first, then unique keys) whose columns are all mapped from the source.
func (o *Order) updateColumns(ctx context.Context) (set, keys []*relation.Column, err error) {
	tgt, err := o.target.Relation(ctx)
	if err != nil {
		return nil, nil, err
	}
	mapping, err := o.ColumnMapping(ctx)
	if err != nil {
		return nil, nil, err
	}
	keySets := tgt.KeyColumnSets()
	if len(keySets) == 0 {
		return nil, nil, fmt.Errorf("cannot build the statement, the target (%s) has no primary key or unique key: %w",
			o.target, exitcodes.ErrStructure)
	}
	for _, k := range keySets {
		var cols []*relation.Column
		for _, tc := range k.Columns {
			sc, ok := mapping.GetKey(tc)
			if !ok {
				cols = nil
				break
			}
			cols = append(cols, sc)
		}
		if cols != nil {
			keys = cols
			break
		}
	}
	if keys == nil {
		var names []string
		for _, k := range keySets {
			names = append(names, "("+strings.Join(k.ColumnNames(), ", ")+")")
		}
		return nil, nil, fmt.Errorf("no unique column found in the source (%s) for the keys %s of the target (%s): %w",
			o.source, strings.Join(names, ", "), o.target, exitcodes.ErrStructure)
	}
	isKey := make(map[*relation.Column]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	for _, sc := range sortedSourceColumns(mapping) {
		if !isKey[sc] {
			set = append(set, sc)
		}
	}
	return set, keys, nil
}

// CheckBeforeInsert verifies that every primary key column of the target
// is fed by the source and, when the source schema is strict, that no
// nullable source column feeds a mandatory target column.
func (o *Order) CheckBeforeInsert(ctx context.Context) error {
	tgt, err := o.target.Relation(ctx)
	if err != nil {
		return err
	}
	src, err := o.source.Relation(ctx)
	if err != nil {
		return err
	}
	mapping, err := o.ColumnMapping(ctx)
	if err != nil {
		return err
	}
	if pk := tgt.PrimaryKey(); pk != nil {
		for _, tc := range pk.Columns {
			if _, ok := mapping.GetKey(tc); !ok {
				return fmt.Errorf("the primary key column (%s) of the target (%s) has no source column in %s: %w",
					tc.Name, o.target, o.source, exitcodes.ErrStructure)
			}
		}
	}
	if src.Strict {
		for _, tc := range tgt.Columns() {
			if tc.Nullable {
				continue
			}
			sc, ok := mapping.GetKey(tc)
			if !ok {
				return fmt.Errorf("the mandatory target column (%s) of %s has no source column in %s: %w",
					tc.Name, o.target, o.source, exitcodes.ErrStructure)
			}
			if sc.Nullable {
				return fmt.Errorf("the source column (%s) is nullable but the target column (%s) of %s is not: %w",
					sc.Name, tc.Name, o.target, exitcodes.ErrStructure)
			}
		}
	}
	return nil
}

// CheckBeforeUpdate verifies that the target has a key present in the
// source and that at least one column is left to update.
func (o *Order) CheckBeforeUpdate(ctx context.Context) error {
	set, _, err := o.updateColumns(ctx)
	if err != nil {
		return err
	}
	if len(set) == 0 {
		return fmt.Errorf("nothing to update, every column of the source (%s) mapped to the target (%s) is a key column: %w",
			o.source, o.target, exitcodes.ErrStructure)
	}
	return nil
}

// CheckBeforeDelete verifies that the target has a key present in the
// source.
func (o *Order) CheckBeforeDelete(ctx context.Context) error {
	_, _, err := o.updateColumns(ctx)
	return err
}

// checkBeforeWrite runs the preconditions of the operation.
func (o *Order) checkBeforeWrite(ctx context.Context) error {
	switch o.props.Operation() {
	case OperationUpdate:
		return o.CheckBeforeUpdate(ctx)
	case OperationDelete:
		return o.CheckBeforeDelete(ctx)
	case OperationUpsert:
		if err := o.CheckBeforeInsert(ctx); err != nil {
			return err
		}
		return o.CheckBeforeDelete(ctx)
	default:
		return o.CheckBeforeInsert(ctx)
	}
}

// Statement returns the write specification of kind and the source
// positions that feed it.
func (o *Order) Statement(ctx context.Context, kind resource.StatementKind) (resource.WriteSpec, []int, error) {
	cols, err := o.statementSourceColumns(ctx, kind)
	if err != nil {
		return resource.WriteSpec{}, nil, err
	}
	mapping, err := o.ColumnMapping(ctx)
	if err != nil {
		return resource.WriteSpec{}, nil, err
	}
	spec := resource.WriteSpec{
		Kind:          kind,
		BindVariables: o.props.BindVariables(),
		Upsert:        o.props.UpsertType(),
	}
	positions := make([]int, len(cols))
	for i, sc := range cols {
		tc, _ := mapping.Get(sc)
		spec.Columns = append(spec.Columns, tc.Name)
		positions[i] = sc.Position
	}
	switch kind {
	case resource.StatementUpdate, resource.StatementDelete, resource.StatementMerge:
		_, keys, err := o.updateColumns(ctx)
		if err != nil {
			return resource.WriteSpec{}, nil, err
		}
		for _, sc := range keys {
			tc, _ := mapping.Get(sc)
			spec.KeyColumns = append(spec.KeyColumns, tc.Name)
		}
	}
	return spec, positions, nil
}
