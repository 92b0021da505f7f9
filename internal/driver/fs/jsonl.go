package fs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tabulify/tabulify-sub009/internal/relation"
)

// describeJSONL declares the keys of the first object, in document order.
func describeJSONL(path string) (*relation.Def, error) {
	def := relation.New()
	def.FreeForm = true
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := declareKeys(def, line); err != nil {
			return nil, fmt.Errorf("first record of %s: %w", path, err)
		}
		break
	}
	return def, sc.Err()
}

func declareKeys(def *relation.Def, line []byte) error {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected a json object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			return err
		}
		if def.HasColumn(key) {
			continue
		}
		if _, err := def.AddColumn(relation.Column{Name: key, Type: jsonType(v), Nullable: true}); err != nil {
			return err
		}
	}
	return nil
}

func jsonType(v any) relation.Type {
	switch t := v.(type) {
	case json.Number:
		if _, err := t.Int64(); err == nil {
			return relation.TypeBigInt
		}
		return relation.TypeDouble
	case bool:
		return relation.TypeBoolean
	case string:
		return relation.TypeVarchar
	case map[string]any, []any:
		return relation.TypeJSON
	}
	return relation.TypeVarchar
}

type jsonlStream struct {
	path    string
	f       *os.File
	sc      *bufio.Scanner
	columns []string
	values  []any
	err     error
}

func openJSONL(path string, columns []string) (*jsonlStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s := &jsonlStream{path: path, f: f, columns: columns}
	if err := s.BeforeFirst(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *jsonlStream) BeforeFirst() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	s.sc = bufio.NewScanner(s.f)
	s.sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	s.err = nil
	return nil
}

func (s *jsonlStream) Next() bool {
	for s.err == nil && s.sc.Scan() {
		line := bytes.TrimSpace(s.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			s.err = fmt.Errorf("read %s: %w", s.path, err)
			return false
		}
		s.values = make([]any, len(s.columns))
		for i, c := range s.columns {
			v := obj[c]
			if n, ok := v.(json.Number); ok {
				if iv, err := n.Int64(); err == nil {
					v = iv
				} else if fv, err := n.Float64(); err == nil {
					v = fv
				}
			}
			s.values[i] = v
		}
		return true
	}
	if err := s.sc.Err(); err != nil && s.err == nil {
		s.err = err
	}
	return false
}

func (s *jsonlStream) Values() []any { return s.values }
func (s *jsonlStream) Err() error    { return s.err }
func (s *jsonlStream) Close() error  { return s.f.Close() }

type jsonlWriter struct {
	f       *os.File
	w       *bufio.Writer
	columns []string
}

func newJSONLWriter(path string, columns []string) (*jsonlWriter, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &jsonlWriter{f: f, w: bufio.NewWriter(f), columns: columns}, nil
}

func (j *jsonlWriter) Insert(_ context.Context, values []any) error {
	obj := make(map[string]any, len(j.columns))
	for i, c := range j.columns {
		if i >= len(values) {
			break
		}
		v := values[i]
		switch t := v.(type) {
		case []byte:
			v = string(t)
		case time.Time:
			v = t.Format(time.RFC3339Nano)
		}
		obj[c] = v
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	if _, err := j.w.Write(b); err != nil {
		return err
	}
	return j.w.WriteByte('\n')
}

func (j *jsonlWriter) Flush(context.Context) error { return j.w.Flush() }

func (j *jsonlWriter) Commit(ctx context.Context) error {
	if err := j.Flush(ctx); err != nil {
		return err
	}
	return j.f.Sync()
}

func (j *jsonlWriter) Close() error {
	err := j.w.Flush()
	if cerr := j.f.Close(); err == nil {
		err = cerr
	}
	return err
}
