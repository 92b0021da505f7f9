package transfer

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
)

// Method is how the records reached the target.
type Method string

const (
	MethodNone   Method = ""
	MethodStream Method = "STREAM"
	MethodRename Method = "RENAME"
)

// Listener accumulates the outcome of one order execution.
type Listener struct {
	source string
	target string

	mu         sync.Mutex
	start      time.Time
	end        time.Time
	method     Method
	rows       int64
	sourceOps  []ResourceOperation
	targetOps  []ResourceOperation
	errs       []string
	exitStatus int
}

// NewListener returns the listener of o. Its timer starts now.
func NewListener(o *Order) *Listener {
	return &Listener{source: o.Source().String(), target: o.Target().String(), start: time.Now()}
}

func (l *Listener) Source() string { return l.source }
func (l *Listener) Target() string { return l.target }

func (l *Listener) setMethod(m Method) {
	l.mu.Lock()
	l.method = m
	l.mu.Unlock()
}

func (l *Listener) Method() Method {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.method
}

func (l *Listener) setRows(n int64) {
	l.mu.Lock()
	l.rows = n
	l.mu.Unlock()
}

// RowCount is the number of records written.
func (l *Listener) RowCount() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rows
}

func (l *Listener) addSourceOperation(op ResourceOperation) {
	l.mu.Lock()
	l.sourceOps = append(l.sourceOps, op)
	l.mu.Unlock()
}

func (l *Listener) addTargetOperation(op ResourceOperation) {
	l.mu.Lock()
	l.targetOps = append(l.targetOps, op)
	l.mu.Unlock()
}

// SourceOperations are the operations applied to the source, in order.
func (l *Listener) SourceOperations() []ResourceOperation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ResourceOperation(nil), l.sourceOps...)
}

// TargetOperations are the operations applied to the target, in order.
func (l *Listener) TargetOperations() []ResourceOperation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ResourceOperation(nil), l.targetOps...)
}

// AddError records err. The first error sets the exit status.
func (l *Listener) AddError(err error) {
	if err == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err.Error())
	if l.exitStatus == 0 {
		l.exitStatus = exitcodes.FromError(err)
	}
}

// Errors returns the recorded error messages.
func (l *Listener) Errors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.errs...)
}

// ErrorMessage joins the error messages with a comma.
func (l *Listener) ErrorMessage() string {
	return strings.Join(l.Errors(), ", ")
}

// ExitStatus is 0 on success.
func (l *Listener) ExitStatus() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exitStatus
}

func (l *Listener) stop() {
	l.mu.Lock()
	l.end = time.Now()
	l.mu.Unlock()
}

// Latency is the execution time, up to now while the order runs.
func (l *Listener) Latency() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.end.IsZero() {
		return time.Since(l.start)
	}
	return l.end.Sub(l.start)
}

func (l *Listener) String() string {
	if s := l.ExitStatus(); s != 0 {
		return fmt.Sprintf("%s -> %s: failed (%d): %s", l.source, l.target, s, l.ErrorMessage())
	}
	return fmt.Sprintf("%s -> %s: %d rows in %s", l.source, l.target, l.RowCount(), l.Latency().Round(time.Millisecond))
}

// ISODuration formats d as an ISO-8601 duration such as PT1M2.5S.
func ISODuration(d time.Duration) string {
	if d == 0 {
		return "PT0S"
	}
	var sb strings.Builder
	if d < 0 {
		sb.WriteByte('-')
		d = -d
	}
	sb.WriteString("PT")
	if h := d / time.Hour; h > 0 {
		sb.WriteString(strconv.FormatInt(int64(h), 10) + "H")
		d -= h * time.Hour
	}
	if m := d / time.Minute; m > 0 {
		sb.WriteString(strconv.FormatInt(int64(m), 10) + "M")
		d -= m * time.Minute
	}
	if d > 0 {
		sb.WriteString(strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "S")
	}
	return sb.String()
}
