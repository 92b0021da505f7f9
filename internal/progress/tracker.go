package progress

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/tabulify/tabulify-sub009/internal/logging"
)

// Tracker tracks transfer progress over every order of a run. A nil
// *Tracker is valid and tracks nothing.
type Tracker struct {
	bar       *progressbar.ProgressBar
	out       io.Writer
	reporter  Reporter
	total     atomic.Int64
	current   atomic.Int64
	startTime time.Time

	mu           sync.Mutex
	activeOrders map[string]int // source name -> active count
	ordersTotal  int
	ordersDone   int
	errors       int
}

// New creates a tracker. With out nil no bar is drawn; with reporter nil
// no JSON updates are emitted.
func New(out io.Writer, reporter Reporter) *Tracker {
	if reporter == nil {
		reporter = &NullReporter{}
	}
	return &Tracker{
		out:          out,
		reporter:     reporter,
		startTime:    time.Now(),
		activeOrders: make(map[string]int),
	}
}

// SetTotal sets the number of orders and the number of rows to transfer.
// A row total of -1 draws a spinner.
func (t *Tracker) SetTotal(orders int, rows int64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.ordersTotal = orders
	t.mu.Unlock()
	t.total.Store(rows)
	if t.out == nil {
		return
	}
	t.bar = progressbar.NewOptions64(
		rows,
		progressbar.OptionSetWriter(t.out),
		progressbar.OptionSetDescription("Transferring"),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Add increments the row counter.
func (t *Tracker) Add(n int64) {
	if t == nil {
		return
	}
	t.current.Add(n)
	if t.bar != nil {
		t.bar.Add64(n)
	}
	t.reporter.Report(t.update("transferring"))
}

// StartOrder marks an order as running.
func (t *Tracker) StartOrder(name string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.activeOrders[name]++
	count := len(t.activeOrders)
	t.mu.Unlock()

	if t.bar != nil {
		if count == 1 {
			t.bar.Describe(fmt.Sprintf("Transferring %s", name))
		} else {
			t.bar.Describe(fmt.Sprintf("Transferring (%d resources)", count))
		}
		t.bar.RenderBlank()
	}
	t.reporter.ReportImmediate(t.update("transferring"))
}

// EndOrder marks an order as done; failed counts it as an error.
func (t *Tracker) EndOrder(name string, failed bool) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.activeOrders[name]--
	if t.activeOrders[name] <= 0 {
		delete(t.activeOrders, name)
	}
	t.ordersDone++
	if failed {
		t.errors++
	}
	count := len(t.activeOrders)
	var remaining string
	for n := range t.activeOrders {
		remaining = n
		break
	}
	t.mu.Unlock()

	if t.bar != nil && count > 0 {
		if count == 1 {
			t.bar.Describe(fmt.Sprintf("Transferring %s", remaining))
		} else {
			t.bar.Describe(fmt.Sprintf("Transferring (%d resources)", count))
		}
	}
	t.reporter.ReportImmediate(t.update("transferring"))
}

// Current returns the number of rows transferred.
func (t *Tracker) Current() int64 {
	if t == nil {
		return 0
	}
	return t.current.Load()
}

func (t *Tracker) update(phase string) ProgressUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()
	u := ProgressUpdate{
		Phase:           phase,
		OrdersComplete:  t.ordersDone,
		OrdersTotal:     t.ordersTotal,
		OrdersRunning:   len(t.activeOrders),
		RowsTransferred: t.current.Load(),
		ErrorCount:      t.errors,
	}
	if total := t.total.Load(); total > 0 {
		u.RowsTotal = total
		u.ProgressPct = float64(u.RowsTransferred) * 100 / float64(total)
	}
	if secs := time.Since(t.startTime).Seconds(); secs > 0 {
		u.RowsPerSecond = int64(float64(u.RowsTransferred) / secs)
	}
	for n := range t.activeOrders {
		u.CurrentOrders = append(u.CurrentOrders, n)
	}
	return u
}

// Finish marks the progress as complete
func (t *Tracker) Finish() {
	if t == nil {
		return
	}
	if t.bar != nil {
		t.bar.Finish()
		fmt.Fprintln(t.out)
	}
	t.reporter.ReportImmediate(t.update("complete"))
	t.reporter.Close()

	elapsed := time.Since(t.startTime)
	rowsPerSec := float64(t.current.Load()) / elapsed.Seconds()
	logging.Info("Transfer complete: %d rows in %s (%.0f rows/sec)",
		t.current.Load(), elapsed.Round(time.Millisecond), rowsPerSec)
}
