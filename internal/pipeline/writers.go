package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tabulify/tabulify-sub009/internal/logging"
	"github.com/tabulify/tabulify-sub009/internal/metrics"
)

// writerPool drains the queue with parallel writers. Each writer owns one
// insert stream.
type writerPool struct {
	cfg     Config
	job     Job
	started time.Time

	queue chan []any

	// State
	rows      int64 // atomic
	batches   int64 // atomic
	commits   int64 // atomic
	readTime  int64 // atomic, nanoseconds
	writeTime int64 // atomic, nanoseconds
	writeErr  atomic.Pointer[error]

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func newWriterPool(ctx context.Context, cfg Config, job Job, start time.Time) *writerPool {
	writerCtx, cancel := context.WithCancel(ctx)
	return &writerPool{
		cfg:     cfg,
		job:     job,
		started: start,
		queue:   make(chan []any, cfg.BufferSize),
		ctx:     writerCtx,
		cancel:  cancel,
	}
}

func (wp *writerPool) start() {
	for i := 0; i < wp.cfg.TargetWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

func (wp *writerPool) fail(err error) {
	wp.writeErr.CompareAndSwap(nil, &err)
	wp.cancel()
}

func (wp *writerPool) worker(id int) {
	defer wp.wg.Done()

	w, err := wp.job.Writer(wp.ctx)
	if err != nil {
		wp.fail(fmt.Errorf("opening the target of %s: %w", wp.job.Name, err))
		return
	}
	defer w.Close()

	pending := 0
	var batches int64
	for {
		if wp.ctx.Err() != nil {
			return
		}
		row, ok, err := wp.take()
		if err != nil {
			wp.fail(err)
			return
		}
		if !ok {
			break
		}
		writeStart := time.Now()
		if err := w.Insert(wp.ctx, row); err != nil {
			wp.fail(fmt.Errorf("writer %d: %w", id, err))
			return
		}
		pending++
		if pending == wp.cfg.BatchSize {
			if err := w.Flush(wp.ctx); err != nil {
				wp.fail(fmt.Errorf("writer %d: flush: %w", id, err))
				return
			}
			batches++
			atomic.AddInt64(&wp.batches, 1)
			if wp.cfg.CommitFrequency > 0 && batches%int64(wp.cfg.CommitFrequency) == 0 {
				if err := w.Commit(wp.ctx); err != nil {
					wp.fail(fmt.Errorf("writer %d: commit: %w", id, err))
					return
				}
				atomic.AddInt64(&wp.commits, 1)
			}
		}
		atomic.AddInt64(&wp.writeTime, int64(time.Since(writeStart)))
		if pending == wp.cfg.BatchSize {
			wp.account(int64(pending))
			pending = 0
		}
	}

	if wp.ctx.Err() != nil {
		return
	}
	writeStart := time.Now()
	if pending > 0 {
		if err := w.Flush(wp.ctx); err != nil {
			wp.fail(fmt.Errorf("writer %d: flush: %w", id, err))
			return
		}
		atomic.AddInt64(&wp.batches, 1)
	}
	if err := w.Commit(wp.ctx); err != nil {
		wp.fail(fmt.Errorf("writer %d: commit: %w", id, err))
		return
	}
	atomic.AddInt64(&wp.commits, 1)
	atomic.AddInt64(&wp.writeTime, int64(time.Since(writeStart)))
	if pending > 0 {
		wp.account(int64(pending))
	}
}

// account counts rows that reached the target and emits feedback.
func (wp *writerPool) account(n int64) {
	total := atomic.AddInt64(&wp.rows, n)
	wp.job.Progress.Add(n)
	wp.job.Metrics.Record(metrics.Sample{
		Time:       time.Now(),
		Order:      wp.job.Name,
		Rows:       total,
		Batches:    atomic.LoadInt64(&wp.batches),
		Commits:    atomic.LoadInt64(&wp.commits),
		QueueDepth: len(wp.queue),
		Elapsed:    time.Since(wp.started),
	})
	if f := wp.cfg.FeedbackFrequency; f > 0 && total/f != (total-n)/f {
		logging.Info("%s: %d rows transferred", wp.job.Name, total)
	}
}

// take dequeues a row. ok is false once the queue is closed and empty.
func (wp *writerPool) take() (row []any, ok bool, err error) {
	select {
	case row, ok = <-wp.queue:
		return row, ok, nil
	default:
	}
	var expired <-chan time.Time
	if wp.cfg.Timeout > 0 {
		t := time.NewTimer(wp.cfg.Timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case row, ok = <-wp.queue:
		return row, ok, nil
	case <-wp.ctx.Done():
		return nil, false, wp.ctx.Err()
	case <-expired:
		return nil, false, TimeoutError(wp.cfg.Timeout)
	}
}

// submit enqueues a row, blocking while the queue is full.
func (wp *writerPool) submit(row []any, timeout time.Duration) error {
	select {
	case wp.queue <- row:
		return nil
	default:
	}
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case wp.queue <- row:
		return nil
	case <-wp.ctx.Done():
		if err := wp.error(); err != nil {
			return err
		}
		return wp.ctx.Err()
	case <-expired:
		err := TimeoutError(timeout)
		wp.fail(err)
		return err
	}
}

func (wp *writerPool) closeQueue() {
	wp.once.Do(func() { close(wp.queue) })
}

// waitFor waits for the writers to finish, at most timeout when positive.
func (wp *writerPool) waitFor(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()
	if timeout <= 0 {
		<-done
		return nil
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
		err := TimeoutError(timeout)
		wp.fail(err)
		return err
	}
}

func (wp *writerPool) addReadTime(d time.Duration) {
	atomic.AddInt64(&wp.readTime, int64(d))
}

func (wp *writerPool) error() error {
	if err := wp.writeErr.Load(); err != nil {
		return *err
	}
	return nil
}

func (wp *writerPool) stats() Stats {
	return Stats{
		Rows:      atomic.LoadInt64(&wp.rows),
		Batches:   atomic.LoadInt64(&wp.batches),
		Commits:   atomic.LoadInt64(&wp.commits),
		ReadTime:  time.Duration(atomic.LoadInt64(&wp.readTime)),
		WriteTime: time.Duration(atomic.LoadInt64(&wp.writeTime)),
	}
}
