// Package pipeline moves the records of one transfer order from a source
// stream to a target through a bounded queue drained by a pool of writers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/logging"
	"github.com/tabulify/tabulify-sub009/internal/metrics"
	"github.com/tabulify/tabulify-sub009/internal/progress"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

// Config contains pipeline execution configuration.
type Config struct {
	// FetchSize is the number of rows the source reads per round trip.
	FetchSize int

	// BatchSize is the number of rows a writer inserts before a flush.
	BatchSize int

	// CommitFrequency is the number of batches between commits.
	// 0 commits once at the end.
	CommitFrequency int

	// TargetWorkers is the number of parallel writer goroutines.
	TargetWorkers int

	// BufferSize is the capacity of the queue in rows.
	// Default: 2 × TargetWorkers × FetchSize.
	BufferSize int

	// Timeout bounds every queue wait and the final drain. 0 waits forever.
	Timeout time.Duration

	// FeedbackFrequency is the number of written rows between two feedback
	// log lines. 0 disables them.
	FeedbackFrequency int64
}

// WithDefaults returns the configuration with unset values defaulted.
func (c Config) WithDefaults() Config {
	if c.FetchSize <= 0 {
		c.FetchSize = 10000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10000
	}
	if c.CommitFrequency < 0 {
		c.CommitFrequency = 0
	}
	if c.TargetWorkers < 1 {
		c.TargetWorkers = 1
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 2 * c.TargetWorkers * c.FetchSize
	}
	if c.Timeout < 0 {
		c.Timeout = 0
	}
	return c
}

// Job is one order to execute.
type Job struct {
	// Name identifies the order in logs and metrics.
	Name string

	// Reader opens the source stream.
	Reader func(ctx context.Context) (resource.SelectStream, error)

	// Writer opens one target stream. It is called once per worker.
	Writer func(ctx context.Context) (resource.InsertStream, error)

	// Positions are the 1-based source positions in the order the target
	// statement expects its values. Empty passes records through.
	Positions []int

	Metrics  metrics.Sink
	Progress *progress.Tracker
}

// NewJob returns a job that streams source into target with spec.
func NewJob(name string, source, target *resource.DataPath, spec resource.WriteSpec, positions []int) Job {
	return Job{
		Name: name,
		Reader: func(ctx context.Context) (resource.SelectStream, error) {
			return source.DataSystem().NewSelectStream(ctx, source)
		},
		Writer: func(ctx context.Context) (resource.InsertStream, error) {
			return target.DataSystem().NewInsertStream(ctx, target, spec)
		},
		Positions: positions,
	}
}

// Stats summarizes an execution.
type Stats struct {
	Rows      int64
	Batches   int64
	Commits   int64
	ReadTime  time.Duration
	WriteTime time.Duration
	Elapsed   time.Duration
}

// RowsPerSecond is the throughput over the elapsed time.
func (s Stats) RowsPerSecond() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Rows) / s.Elapsed.Seconds()
}

func (s Stats) String() string {
	if s.Rows == 0 && s.Elapsed == 0 {
		return "no data"
	}
	return fmt.Sprintf("read=%.1fs, write=%.1fs, batches=%d, commits=%d, rows=%d",
		s.ReadTime.Seconds(), s.WriteTime.Seconds(), s.Batches, s.Commits, s.Rows)
}

// TimeoutError builds the error returned when a queue wait or the drain
// exceeds the timeout.
func TimeoutError(d time.Duration) error {
	return fmt.Errorf("The timeout of the consumers (%g s) elapsed before termination: %w", d.Seconds(), exitcodes.ErrTimeout)
}

// Run executes job: the calling goroutine reads the source and fills the
// queue while cfg.TargetWorkers writers drain it. On a timeout the writers
// still running are abandoned.
func Run(ctx context.Context, cfg Config, job Job) (Stats, error) {
	cfg = cfg.WithDefaults()
	if job.Metrics == nil {
		job.Metrics = metrics.Nop{}
	}
	start := time.Now()

	wp := newWriterPool(ctx, cfg, job, start)
	defer wp.cancel()
	wp.start()

	readErr := produce(wp, cfg, job)
	if readErr != nil {
		wp.fail(readErr)
	}
	wp.closeQueue()

	var drainErr error
	if readErr == nil || !errors.Is(readErr, exitcodes.ErrTimeout) {
		drainErr = wp.waitFor(cfg.Timeout)
	}

	stats := wp.stats()
	stats.Elapsed = time.Since(start)

	err := wp.error()
	if err == nil {
		err = readErr
	}
	if err == nil {
		err = drainErr
	}
	if err != nil {
		wp.cancel()
		return stats, err
	}
	logging.Debug("%s: %s", job.Name, stats)
	return stats, nil
}

func produce(wp *writerPool, cfg Config, job Job) error {
	src, err := job.Reader(wp.ctx)
	if err != nil {
		return fmt.Errorf("opening the source of %s: %w", job.Name, err)
	}
	defer src.Close()

	readStart := time.Now()
	var waited time.Duration
	for src.Next() {
		values := src.Values()
		row, err := project(values, job.Positions)
		if err != nil {
			return err
		}
		enqueueStart := time.Now()
		if err := wp.submit(row, cfg.Timeout); err != nil {
			return err
		}
		waited += time.Since(enqueueStart)
	}
	wp.addReadTime(time.Since(readStart) - waited)
	if err := src.Err(); err != nil {
		return fmt.Errorf("reading the source of %s: %w", job.Name, err)
	}
	return nil
}

// project copies the values at positions. Values returned by a stream are
// only valid until the next call to Next.
func project(values []any, positions []int) ([]any, error) {
	if len(positions) == 0 {
		row := make([]any, len(values))
		copy(row, values)
		return row, nil
	}
	row := make([]any, len(positions))
	for i, p := range positions {
		if p < 1 || p > len(values) {
			return nil, fmt.Errorf("the source record has %d values, no value at position %d: %w", len(values), p, exitcodes.ErrInternal)
		}
		row[i] = values[p-1]
	}
	return row, nil
}
