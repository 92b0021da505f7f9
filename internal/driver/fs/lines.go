package fs

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// linesStream reads a text file as one record per line.
type linesStream struct {
	f      *os.File
	sc     *bufio.Scanner
	values []any
}

func openLines(path string) (*linesStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &linesStream{f: f, sc: bufio.NewScanner(f)}, nil
}

func (s *linesStream) Next() bool {
	if !s.sc.Scan() {
		return false
	}
	s.values = []any{s.sc.Text()}
	return true
}

func (s *linesStream) BeforeFirst() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	s.sc = bufio.NewScanner(s.f)
	return nil
}

func (s *linesStream) Values() []any { return s.values }
func (s *linesStream) Err() error    { return s.sc.Err() }
func (s *linesStream) Close() error  { return s.f.Close() }

// dirStream lists the entries of a directory.
type dirStream struct {
	paths []string
	pos   int
}

func newDirStream(dir string) (*dirStream, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = filepath.Join(dir, e.Name())
	}
	sort.Strings(paths)
	return &dirStream{paths: paths, pos: -1}, nil
}

func (s *dirStream) Next() bool {
	s.pos++
	return s.pos < len(s.paths)
}

func (s *dirStream) Values() []any      { return []any{s.paths[s.pos]} }
func (s *dirStream) Err() error         { return nil }
func (s *dirStream) BeforeFirst() error { s.pos = -1; return nil }
func (s *dirStream) Close() error       { return nil }
