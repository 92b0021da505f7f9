package transfer

import (
	"context"
	"fmt"
	"sort"

	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/relation"
)

// ColumnMapping associates source columns with target columns.
type ColumnMapping = BiMap[*relation.Column, *relation.Column]

// MappingMethod returns the column mapping method of the order. An
// explicit method wins. Otherwise a target without structure or with a
// free-form structure is mapped by position, any other by name. The
// result is computed once.
func (o *Order) MappingMethod(ctx context.Context) (MappingMethod, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mappingMethodLocked(ctx)
}

func (o *Order) mappingMethodLocked(ctx context.Context) (MappingMethod, error) {
	if o.method != MappingUnset {
		return o.method, nil
	}
	if m := o.props.MappingMethod(); m != MappingUnset {
		o.method = m
		return m, nil
	}
	def, err := o.target.Relation(ctx)
	if err != nil {
		return MappingUnset, err
	}
	if def.Len() == 0 || def.FreeForm {
		o.method = MappingPosition
	} else {
		o.method = MappingName
	}
	return o.method, nil
}

// ColumnMapping resolves the mapping between the source and target
// columns. The result is computed once and cached for the lifetime of the
// order.
func (o *Order) ColumnMapping(ctx context.Context) (*ColumnMapping, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.mapping != nil {
		return o.mapping, nil
	}
	method, err := o.mappingMethodLocked(ctx)
	if err != nil {
		return nil, err
	}
	src, err := o.source.Relation(ctx)
	if err != nil {
		return nil, err
	}
	tgt, err := o.target.Relation(ctx)
	if err != nil {
		return nil, err
	}

	var m *ColumnMapping
	switch method {
	case MappingPosition:
		m, err = o.mapBy(src, method, func(c *relation.Column) *relation.Column {
			return tgt.Column(c.Position)
		})
	case MappingName:
		m, err = o.mapBy(src, method, func(c *relation.Column) *relation.Column {
			return tgt.ColumnByName(c.Name)
		})
	case MappingMapByPosition:
		m, err = o.mapByPositionEntries(src, tgt)
	case MappingMapByName:
		m, err = o.mapByNameEntries(src, tgt)
	default:
		err = fmt.Errorf("the column mapping method %s is not supported: %w", method, exitcodes.ErrInternal)
	}
	if err != nil {
		return nil, err
	}
	o.mapping = m
	return m, nil
}

func (o *Order) mapBy(src *relation.Def, method MappingMethod, find func(*relation.Column) *relation.Column) (*ColumnMapping, error) {
	m := NewBiMap[*relation.Column, *relation.Column]()
	for _, sc := range src.Columns() {
		tc := find(sc)
		if tc == nil {
			if o.props.StrictMapping() {
				return nil, fmt.Errorf("the source column (%s) of %s has no target column by %s in %s: %w",
					sc, o.source, method, o.target, exitcodes.ErrStructure)
			}
			continue
		}
		if err := m.Put(sc, tc); err != nil {
			return nil, fmt.Errorf("mapping %s to %s: %v: %w", sc.Name, tc.Name, err, exitcodes.ErrMapping)
		}
	}
	return m, nil
}

func (o *Order) mapByPositionEntries(src, tgt *relation.Def) (*ColumnMapping, error) {
	entries := o.props.MapByPosition()
	positions := make([]int, 0, len(entries))
	for s := range entries {
		positions = append(positions, s)
	}
	sort.Ints(positions)

	m := NewBiMap[*relation.Column, *relation.Column]()
	for _, s := range positions {
		t := entries[s]
		sc := src.Column(s)
		if sc == nil {
			return nil, fmt.Errorf("the source position (%d) of the column mapping entry (%d -> %d) does not exist in the source %s (%d columns): %w",
				s, s, t, o.source, src.Len(), exitcodes.ErrMapping)
		}
		tc := tgt.Column(t)
		if tc == nil {
			return nil, fmt.Errorf("the target position (%d) of the column mapping entry (%d -> %d) does not exist in the target %s (%d columns): %w",
				t, s, t, o.target, tgt.Len(), exitcodes.ErrMapping)
		}
		if err := m.Put(sc, tc); err != nil {
			return nil, fmt.Errorf("the column mapping entry (%d -> %d): %v: %w", s, t, err, exitcodes.ErrMapping)
		}
	}
	return m, nil
}

func (o *Order) mapByNameEntries(src, tgt *relation.Def) (*ColumnMapping, error) {
	entries := o.props.MapByName()
	names := make([]string, 0, len(entries))
	for s := range entries {
		names = append(names, s)
	}
	// source position order, then name for unknown columns
	sort.Slice(names, func(i, j int) bool {
		pi, pj := positionOf(src, names[i]), positionOf(src, names[j])
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})

	m := NewBiMap[*relation.Column, *relation.Column]()
	for _, s := range names {
		t := entries[s]
		sc := src.ColumnByName(s)
		if sc == nil {
			return nil, fmt.Errorf("the source column (%s) of the column mapping entry (%s -> %s) does not exist in the source %s: %w",
				s, s, t, o.source, exitcodes.ErrMapping)
		}
		tc := tgt.ColumnByName(t)
		if tc == nil {
			return nil, fmt.Errorf("the target column (%s) of the column mapping entry (%s -> %s) does not exist in the target %s: %w",
				t, s, t, o.target, exitcodes.ErrMapping)
		}
		if err := m.Put(sc, tc); err != nil {
			return nil, fmt.Errorf("the column mapping entry (%s -> %s): %v: %w", s, t, err, exitcodes.ErrMapping)
		}
	}
	return m, nil
}

func positionOf(def *relation.Def, name string) int {
	if c := def.ColumnByName(name); c != nil {
		return c.Position
	}
	return def.Len() + 1
}

// buildTargetColumns declares the target columns from the source
// according to the mapping method.
func (o *Order) buildTargetColumns(ctx context.Context, src, tgt *relation.Def) error {
	method, err := o.MappingMethod(ctx)
	if err != nil {
		return err
	}
	convert := o.target.DataSystem().TargetColumn
	switch method {
	case MappingMapByPosition:
		entries := o.props.MapByPosition()
		targets := make([]int, 0, len(entries))
		bySource := make(map[int]int, len(entries))
		for s, t := range entries {
			targets = append(targets, t)
			bySource[t] = s
		}
		sort.Ints(targets)
		for _, t := range targets {
			s := bySource[t]
			sc := src.Column(s)
			if sc == nil {
				return fmt.Errorf("the source position (%d) of the column mapping entry (%d -> %d) does not exist in the source %s: %w",
					s, s, t, o.source, exitcodes.ErrMapping)
			}
			if _, err := tgt.AddColumn(convert(*sc)); err != nil {
				return fmt.Errorf("the column mapping entry (%d -> %d): %v: %w", s, t, err, exitcodes.ErrMapping)
			}
		}
		return nil
	case MappingMapByName:
		entries := o.props.MapByName()
		names := make([]string, 0, len(entries))
		for s := range entries {
			names = append(names, s)
		}
		sort.Slice(names, func(i, j int) bool { return positionOf(src, names[i]) < positionOf(src, names[j]) })
		for _, s := range names {
			sc := src.ColumnByName(s)
			if sc == nil {
				return fmt.Errorf("the source column (%s) of the column mapping entry (%s -> %s) does not exist in the source %s: %w",
					s, s, entries[s], o.source, exitcodes.ErrMapping)
			}
			col := convert(*sc)
			col.Name = entries[s]
			if _, err := tgt.AddColumn(col); err != nil {
				return fmt.Errorf("the column mapping entry (%s -> %s): %v: %w", s, entries[s], err, exitcodes.ErrMapping)
			}
		}
		return nil
	default:
		return tgt.CopyFrom(src, convert)
	}
}
