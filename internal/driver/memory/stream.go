package memory

import (
	"context"
	"fmt"

	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

type selectStream struct {
	rows [][]any
	pos  int
}

func (s *selectStream) Next() bool {
	if s.pos+1 >= len(s.rows) {
		s.pos = len(s.rows)
		return false
	}
	s.pos++
	return true
}

func (s *selectStream) Values() []any {
	if s.pos < 0 || s.pos >= len(s.rows) {
		return nil
	}
	return s.rows[s.pos]
}

func (s *selectStream) Err() error         { return nil }
func (s *selectStream) BeforeFirst() error { s.pos = -1; return nil }
func (s *selectStream) Close() error       { return nil }

// insertStream buffers values and applies them to the table on Flush.
type insertStream struct {
	conn      *Connection
	path      string
	spec      resource.WriteSpec
	positions []int
	width     int
	pending   [][]any
	closed    bool
}

func (s *insertStream) Insert(_ context.Context, values []any) error {
	if s.closed {
		return fmt.Errorf("insert on a closed stream for %s", s.path)
	}
	if len(values) != len(s.positions) {
		return fmt.Errorf("expected %d values, got %d: %w", len(s.positions), len(values), exitcodes.ErrInternal)
	}
	s.pending = append(s.pending, append([]any(nil), values...))
	return nil
}

func (s *insertStream) Flush(_ context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	t, ok := s.conn.tables[s.path]
	if !ok {
		return fmt.Errorf("the table %s@%s does not exist: %w", s.path, s.conn.name, exitcodes.ErrNotFound)
	}
	keyIdx := s.keyPositions()
	for _, values := range s.pending {
		switch s.spec.Kind {
		case resource.StatementInsert, resource.StatementCopy:
			t.rows = append(t.rows, s.newRow(values))
		case resource.StatementMerge:
			if s.updateMatching(t, values, keyIdx) == 0 {
				t.rows = append(t.rows, s.newRow(values))
			}
		case resource.StatementUpdate:
			s.updateMatching(t, values, keyIdx)
		case resource.StatementDelete:
			key := rowKey(values)
			kept := t.rows[:0]
			for _, r := range t.rows {
				if rowKey(pick(r, keyIdx)) != key {
					kept = append(kept, r)
				}
			}
			t.rows = kept
		}
	}
	s.pending = s.pending[:0]
	return nil
}

// keyPositions returns the table positions of the key columns.
func (s *insertStream) keyPositions() []int {
	var idx []int
	for _, k := range s.spec.KeyColumns {
		for i, c := range s.spec.Columns {
			if c == k {
				idx = append(idx, s.positions[i])
				break
			}
		}
	}
	return idx
}

func (s *insertStream) keyValues(values []any) []any {
	var out []any
	for _, k := range s.spec.KeyColumns {
		for i, c := range s.spec.Columns {
			if c == k {
				out = append(out, values[i])
				break
			}
		}
	}
	return out
}

func (s *insertStream) updateMatching(t *table, values []any, keyIdx []int) int {
	key := rowKey(s.keyValues(values))
	n := 0
	for _, r := range t.rows {
		if rowKey(pick(r, keyIdx)) != key {
			continue
		}
		for i, p := range s.positions {
			r[p] = values[i]
		}
		n++
	}
	return n
}

func (s *insertStream) newRow(values []any) []any {
	row := make([]any, s.width)
	for i, p := range s.positions {
		row[p] = values[i]
	}
	return row
}

func pick(row []any, idx []int) []any {
	out := make([]any, len(idx))
	for i, p := range idx {
		out[i] = row[p]
	}
	return out
}

func (s *insertStream) Commit(ctx context.Context) error {
	return s.Flush(ctx)
}

func (s *insertStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.pending = nil
	return nil
}
