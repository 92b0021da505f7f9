// Package metrics records pipeline samples (rows, batches, commits, queue
// depth) to a sink: nothing, a CSV file or Datadog.
package metrics

import (
	"context"
	"strings"
	"time"
)

// Sample is a point-in-time view of one running order.
type Sample struct {
	Time       time.Time
	Order      string
	Rows       int64
	Batches    int64
	Commits    int64
	QueueDepth int
	Elapsed    time.Duration
}

// Sink receives samples. Implementations are safe for concurrent use.
type Sink interface {
	Record(s Sample)
	Close() error
}

// Open returns the sink for spec:
//
//	""               no metrics
//	datadog          Datadog, job tag "tabul"
//	datadog:<job>    Datadog, job tag <job>
//	<path>           CSV file, appended
func Open(ctx context.Context, spec string) (Sink, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "":
		return Nop{}, nil
	case spec == "datadog":
		return NewDatadog(ctx, DatadogOptions{})
	case strings.HasPrefix(spec, "datadog:"):
		return NewDatadog(ctx, DatadogOptions{JobName: strings.TrimPrefix(spec, "datadog:")})
	}
	return NewCSV(spec)
}

// Nop drops every sample.
type Nop struct{}

func (Nop) Record(Sample) {}
func (Nop) Close() error  { return nil }
