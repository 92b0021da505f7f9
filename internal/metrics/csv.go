package metrics

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

var csvHeader = []string{"time", "order", "rows", "batches", "commits", "queue_depth", "elapsed_ms"}

// CSV appends samples to a file. The header is written when the file is
// new.
type CSV struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// NewCSV opens path for appending.
func NewCSV(path string) (*CSV, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening metrics file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	s := &CSV{f: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := s.w.Write(csvHeader); err != nil {
			f.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *CSV) Record(smp Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.w.Write([]string{
		smp.Time.UTC().Format(time.RFC3339Nano),
		smp.Order,
		strconv.FormatInt(smp.Rows, 10),
		strconv.FormatInt(smp.Batches, 10),
		strconv.FormatInt(smp.Commits, 10),
		strconv.Itoa(smp.QueueDepth),
		strconv.FormatInt(smp.Elapsed.Milliseconds(), 10),
	})
}

func (s *CSV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	err := s.w.Error()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}
