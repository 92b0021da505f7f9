package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

type sliceStream struct {
	rows [][]any
	pos  int
}

func (s *sliceStream) Next() bool {
	s.pos++
	return s.pos <= len(s.rows)
}
func (s *sliceStream) Values() []any      { return s.rows[s.pos-1] }
func (s *sliceStream) Err() error         { return nil }
func (s *sliceStream) BeforeFirst() error { s.pos = 0; return nil }
func (s *sliceStream) Close() error       { return nil }

type recordingSink struct {
	mu        sync.Mutex
	inserted  [][]any
	flushes   int
	commits   int
	committed int
	closed    int
	stall     chan struct{}
}

type recordingStream struct {
	sink    *recordingSink
	pending [][]any
}

func (s *recordingSink) open(context.Context) (resource.InsertStream, error) {
	return &recordingStream{sink: s}, nil
}

func (w *recordingStream) Insert(ctx context.Context, values []any) error {
	if w.sink.stall != nil {
		<-w.sink.stall
	}
	w.pending = append(w.pending, values)
	return nil
}

func (w *recordingStream) Flush(context.Context) error {
	w.sink.mu.Lock()
	defer w.sink.mu.Unlock()
	w.sink.flushes++
	return nil
}

func (w *recordingStream) Commit(context.Context) error {
	w.sink.mu.Lock()
	defer w.sink.mu.Unlock()
	w.sink.commits++
	w.sink.inserted = append(w.sink.inserted, w.pending...)
	w.sink.committed += len(w.pending)
	w.pending = nil
	return nil
}

func (w *recordingStream) Close() error {
	w.sink.mu.Lock()
	defer w.sink.mu.Unlock()
	w.sink.closed++
	return nil
}

func rows(n int) [][]any {
	out := make([][]any, n)
	for i := range out {
		out[i] = []any{i + 1, "name", i * 10}
	}
	return out
}

func reader(rs [][]any) func(context.Context) (resource.SelectStream, error) {
	return func(context.Context) (resource.SelectStream, error) {
		return &sliceStream{rows: rs}, nil
	}
}

func TestDefaults(t *testing.T) {
	cfg := Config{TargetWorkers: 1, FetchSize: 10}.WithDefaults()
	if cfg.BufferSize != 20 {
		t.Errorf("BufferSize = %d, want 20", cfg.BufferSize)
	}
	cfg = Config{}.WithDefaults()
	if cfg.FetchSize != 10000 || cfg.BatchSize != 10000 || cfg.TargetWorkers != 1 || cfg.BufferSize != 20000 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.CommitFrequency != 0 || cfg.Timeout != 0 {
		t.Errorf("commit frequency and timeout should default to unbounded: %+v", cfg)
	}
}

func TestRunBatchesAndCommits(t *testing.T) {
	tests := []struct {
		name            string
		rows            int
		batch           int
		commitFrequency int
		wantFlushes     int
		wantCommits     int
	}{
		{"commit at end", 25, 10, 0, 3, 1},
		{"commit every batch", 25, 10, 1, 3, 3},
		{"commit every two batches", 40, 10, 2, 4, 3},
		{"no rows", 0, 10, 0, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			stats, err := Run(context.Background(),
				Config{BatchSize: tt.batch, CommitFrequency: tt.commitFrequency, FetchSize: 5},
				Job{Name: tt.name, Reader: reader(rows(tt.rows)), Writer: sink.open})
			if err != nil {
				t.Fatal(err)
			}
			if stats.Rows != int64(tt.rows) || sink.committed != tt.rows {
				t.Errorf("rows = %d, committed = %d, want %d", stats.Rows, sink.committed, tt.rows)
			}
			if sink.flushes != tt.wantFlushes {
				t.Errorf("flushes = %d, want %d", sink.flushes, tt.wantFlushes)
			}
			if sink.commits != tt.wantCommits {
				t.Errorf("commits = %d, want %d", sink.commits, tt.wantCommits)
			}
			if sink.closed != 1 {
				t.Errorf("closed = %d, want 1", sink.closed)
			}
		})
	}
}

func TestRunProjectsPositions(t *testing.T) {
	sink := &recordingSink{}
	_, err := Run(context.Background(), Config{},
		Job{Name: "update", Reader: reader(rows(2)), Writer: sink.open, Positions: []int{2, 3, 1}})
	if err != nil {
		t.Fatal(err)
	}
	got := sink.inserted[1]
	if got[0] != "name" || got[1] != 10 || got[2] != 2 {
		t.Errorf("projected row = %v, want [name 10 2]", got)
	}

	_, err = Run(context.Background(), Config{},
		Job{Name: "bad", Reader: reader(rows(1)), Writer: (&recordingSink{}).open, Positions: []int{4}})
	if !errors.Is(err, exitcodes.ErrInternal) {
		t.Errorf("err = %v, want ErrInternal", err)
	}
}

func TestRunParallelWriters(t *testing.T) {
	sink := &recordingSink{}
	stats, err := Run(context.Background(), Config{TargetWorkers: 4, BatchSize: 7},
		Job{Name: "parallel", Reader: reader(rows(100)), Writer: sink.open})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Rows != 100 || sink.committed != 100 {
		t.Errorf("rows = %d, committed = %d", stats.Rows, sink.committed)
	}
	if sink.closed != 4 {
		t.Errorf("closed = %d, want one per writer", sink.closed)
	}
}

func TestRunWriterError(t *testing.T) {
	boom := errors.New("disk full")
	failing := func(context.Context) (resource.InsertStream, error) { return nil, boom }
	_, err := Run(context.Background(), Config{BufferSize: 1},
		Job{Name: "failing", Reader: reader(rows(50)), Writer: failing})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestRunStalledConsumerTimesOut(t *testing.T) {
	sink := &recordingSink{stall: make(chan struct{})}
	t.Cleanup(func() { close(sink.stall) })

	done := make(chan error, 1)
	go func() {
		_, err := Run(context.Background(),
			Config{TargetWorkers: 1, FetchSize: 1, Timeout: 50 * time.Millisecond},
			Job{Name: "stalled", Reader: reader(rows(10)), Writer: sink.open})
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, exitcodes.ErrTimeout) {
			t.Fatalf("err = %v, want ErrTimeout", err)
		}
		if !strings.Contains(err.Error(), "The timeout of the consumers (0.05 s) elapsed before termination") {
			t.Errorf("message = %q", err)
		}
		if exitcodes.FromError(err) != exitcodes.TimeoutError {
			t.Errorf("exit code = %d", exitcodes.FromError(err))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("the pipeline hung on a stalled consumer")
	}
	if sink.committed != 0 {
		t.Errorf("committed = %d, want nothing", sink.committed)
	}
}

func TestStatsString(t *testing.T) {
	if got := (Stats{}).String(); got != "no data" {
		t.Errorf("empty stats = %q", got)
	}
	s := Stats{Rows: 1000, Elapsed: time.Second, Batches: 1, Commits: 1}
	if !strings.Contains(s.String(), "rows=1000") {
		t.Errorf("String() = %q", s.String())
	}
	if s.RowsPerSecond() != 1000 {
		t.Errorf("RowsPerSecond() = %v", s.RowsPerSecond())
	}
}
