package progress

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/tabulify/tabulify-sub009/internal/logging"
)

// ProgressUpdate is one JSON line describing the state of a transfer run.
type ProgressUpdate struct {
	Timestamp       string   `json:"timestamp"`
	Phase           string   `json:"phase"`
	OrdersComplete  int      `json:"orders_complete"`
	OrdersTotal     int      `json:"orders_total"`
	OrdersRunning   int      `json:"orders_running"`
	RowsTransferred int64    `json:"rows_transferred"`
	RowsTotal       int64    `json:"rows_total,omitempty"`
	ProgressPct     float64  `json:"progress_pct"`
	RowsPerSecond   int64    `json:"rows_per_second,omitempty"`
	CurrentOrders   []string `json:"current_orders,omitempty"`
	ErrorCount      int      `json:"error_count,omitempty"`
}

// Reporter receives run updates from a Tracker.
type Reporter interface {
	// Report may drop the update when the previous one is too recent.
	Report(update ProgressUpdate)
	// ReportImmediate always emits.
	ReportImmediate(update ProgressUpdate)
	Close()
}

// JSONReporter writes one JSON object per line, for schedulers that watch
// stderr instead of a progress bar.
type JSONReporter struct {
	mu       sync.Mutex
	enc      *json.Encoder
	interval time.Duration
	last     time.Time
	closed   bool
}

// NewJSONReporter returns a reporter writing to w (stderr when nil) at most
// once per interval, immediate updates aside.
func NewJSONReporter(w io.Writer, interval time.Duration) *JSONReporter {
	if w == nil {
		w = os.Stderr
	}
	return &JSONReporter{enc: json.NewEncoder(w), interval: interval}
}

func (r *JSONReporter) Report(update ProgressUpdate) {
	r.emit(update, false)
}

func (r *JSONReporter) ReportImmediate(update ProgressUpdate) {
	r.emit(update, true)
}

func (r *JSONReporter) emit(update ProgressUpdate, force bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	now := time.Now()
	if !force && r.interval > 0 && now.Sub(r.last) < r.interval {
		return
	}
	r.last = now
	if update.Timestamp == "" {
		update.Timestamp = now.Format(time.RFC3339)
	}
	if err := r.enc.Encode(update); err != nil {
		logging.Warn("Failed to write progress update: %v", err)
	}
}

// Close stops every later update.
func (r *JSONReporter) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// NullReporter discards updates.
type NullReporter struct{}

func (NullReporter) Report(ProgressUpdate)          {}
func (NullReporter) ReportImmediate(ProgressUpdate) {}
func (NullReporter) Close()                         {}
