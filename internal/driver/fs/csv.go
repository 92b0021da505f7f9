package fs

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/relation"
)

func writeHeader(w io.Writer, names []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(names); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

func readHeader(cr *csv.Reader) ([]string, error) {
	hdr, err := cr.Read()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(hdr))
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		out[i] = strings.TrimSpace(h)
	}
	return out, nil
}

// describeCSV reads the header line. Every column is text.
func describeCSV(path string) (*relation.Def, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	def := relation.New()
	hdr, err := readHeader(newCSVReader(f))
	if errors.Is(err, io.EOF) {
		return def, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	for i, h := range hdr {
		if h == "" {
			h = fmt.Sprintf("col%d", i+1)
		}
		if _, err := def.AddColumn(relation.Column{Name: h, Type: relation.TypeVarchar, Nullable: true}); err != nil {
			return nil, fmt.Errorf("header of %s: %w", path, err)
		}
	}
	return def, nil
}

type csvStream struct {
	path   string
	f      *os.File
	cr     *csv.Reader
	width  int
	values []any
	err    error
}

func openCSV(path string) (*csvStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s := &csvStream{path: path, f: f}
	if err := s.BeforeFirst(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *csvStream) BeforeFirst() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	s.cr = newCSVReader(bufio.NewReader(s.f))
	s.err = nil
	hdr, err := readHeader(s.cr)
	if errors.Is(err, io.EOF) {
		s.width = 0
		return nil
	}
	if err != nil {
		return fmt.Errorf("read header of %s: %w", s.path, err)
	}
	s.width = len(hdr)
	return nil
}

func (s *csvStream) Next() bool {
	if s.err != nil {
		return false
	}
	rec, err := s.cr.Read()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.err = fmt.Errorf("read %s: %w", s.path, err)
		}
		return false
	}
	s.values = make([]any, s.width)
	for i := 0; i < s.width && i < len(rec); i++ {
		s.values[i] = rec[i]
	}
	return true
}

func (s *csvStream) Values() []any { return s.values }
func (s *csvStream) Err() error    { return s.err }
func (s *csvStream) Close() error  { return s.f.Close() }

// csvWriter appends records to a CSV file. Values are placed at the header
// position of their column; columns that are not written stay empty.
type csvWriter struct {
	path      string
	f         *os.File
	w         *bufio.Writer
	cw        *csv.Writer
	positions []int
	width     int
}

func newCSVWriter(path string, def *relation.Def, columns []string) (*csvWriter, error) {
	positions := make([]int, len(columns))
	for i, name := range columns {
		col := def.ColumnByName(name)
		if col == nil {
			return nil, fmt.Errorf("the file %s has no column %s: %w", path, name, exitcodes.ErrStructure)
		}
		positions[i] = col.Position - 1
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(f)
	return &csvWriter{path: path, f: f, w: w, cw: csv.NewWriter(w), positions: positions, width: def.Len()}, nil
}

func (c *csvWriter) Insert(_ context.Context, values []any) error {
	rec := make([]string, c.width)
	for i, p := range c.positions {
		if i < len(values) {
			rec[p] = formatValue(values[i])
		}
	}
	return c.cw.Write(rec)
}

func (c *csvWriter) Flush(context.Context) error {
	c.cw.Flush()
	if err := c.cw.Error(); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *csvWriter) Commit(ctx context.Context) error {
	if err := c.Flush(ctx); err != nil {
		return err
	}
	return c.f.Sync()
}

func (c *csvWriter) Close() error {
	c.cw.Flush()
	err := c.w.Flush()
	if cerr := c.f.Close(); err == nil {
		err = cerr
	}
	return err
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
