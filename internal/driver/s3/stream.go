package s3

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

// objectStream downloads the object and reads it as CSV records or as
// lines. BeforeFirst downloads it again.
type objectStream struct {
	ctx    context.Context
	store  objectStore
	key    string
	csv    bool
	cr     *csv.Reader
	sc     *bufio.Scanner
	width  int
	values []any
	err    error
}

func (s *objectStream) BeforeFirst() error {
	data, err := s.store.Get(s.ctx, s.key)
	if err != nil {
		return fmt.Errorf("reading %s: %w", s.key, err)
	}
	s.err = nil
	if !s.csv {
		s.sc = bufio.NewScanner(bytes.NewReader(data))
		s.sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
		return nil
	}
	s.cr = newCSVReader(bytes.NewReader(data))
	hdr, err := readHeader(s.cr)
	if errors.Is(err, io.EOF) {
		s.width = 0
		return nil
	}
	if err != nil {
		return fmt.Errorf("read header of %s: %w", s.key, err)
	}
	s.width = len(hdr)
	return nil
}

func (s *objectStream) Next() bool {
	if s.err != nil {
		return false
	}
	if !s.csv {
		if !s.sc.Scan() {
			s.err = s.sc.Err()
			return false
		}
		s.values = []any{s.sc.Text()}
		return true
	}
	rec, err := s.cr.Read()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.err = fmt.Errorf("read %s: %w", s.key, err)
		}
		return false
	}
	s.values = make([]any, s.width)
	for i := 0; i < s.width && i < len(rec); i++ {
		s.values[i] = rec[i]
	}
	return true
}

func (s *objectStream) Values() []any { return s.values }
func (s *objectStream) Err() error    { return s.err }
func (s *objectStream) Close() error  { return nil }

type recordStream struct {
	records [][]any
	pos     int
}

func (s *recordStream) Next() bool {
	if s.pos+1 >= len(s.records) {
		return false
	}
	s.pos++
	return true
}

func (s *recordStream) Values() []any      { return s.records[s.pos] }
func (s *recordStream) Err() error         { return nil }
func (s *recordStream) BeforeFirst() error { s.pos = -1; return nil }
func (s *recordStream) Close() error       { return nil }

// objectWriter appends CSV records to a copy of the object and uploads the
// whole object on Commit. Objects cannot be appended in place.
type objectWriter struct {
	conn      *Connection
	key       string
	body      bytes.Buffer
	cw        *csv.Writer
	positions []int
	width     int
	dirty     bool
}

func newObjectWriter(ctx context.Context, c *Connection, dp *resource.DataPath, columns []string) (*objectWriter, error) {
	def, err := c.Describe(ctx, dp)
	if err != nil {
		return nil, err
	}
	positions := make([]int, len(columns))
	for i, name := range columns {
		col := def.ColumnByName(name)
		if col == nil {
			return nil, fmt.Errorf("the object %s has no column %s: %w", dp, name, exitcodes.ErrStructure)
		}
		positions[i] = col.Position - 1
	}
	data, err := c.store.Get(ctx, dp.Path())
	if err != nil {
		return nil, err
	}
	w := &objectWriter{conn: c, key: dp.Path(), positions: positions, width: def.Len()}
	w.body.Write(data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		w.body.WriteByte('\n')
	}
	w.cw = csv.NewWriter(&w.body)
	return w, nil
}

func (w *objectWriter) Insert(_ context.Context, values []any) error {
	rec := make([]string, w.width)
	for i, p := range w.positions {
		if i < len(values) {
			rec[p] = formatValue(values[i])
		}
	}
	w.dirty = true
	return w.cw.Write(rec)
}

func (w *objectWriter) Flush(context.Context) error {
	w.cw.Flush()
	return w.cw.Error()
}

func (w *objectWriter) Commit(ctx context.Context) error {
	if err := w.Flush(ctx); err != nil {
		return err
	}
	if !w.dirty {
		return nil
	}
	if err := w.conn.store.Put(ctx, w.key, w.body.Bytes(), string(resource.MediaCSV)); err != nil {
		return fmt.Errorf("uploading %s: %w", w.key, err)
	}
	w.dirty = false
	return nil
}

// Close drops what was not committed.
func (w *objectWriter) Close() error {
	w.body.Reset()
	return nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
