package metrics

import (
	"context"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// DatadogOptions configure the Datadog sink. Credentials come from the
// DD_API_KEY and DD_SITE environment variables read by the client.
type DatadogOptions struct {
	// JobName becomes the tag "job:<name>". Default: tabul.
	JobName string
	Tags    []string
	// FlushEvery is the submission period. Default: 60s.
	FlushEvery time.Duration

	submitter submitter
	now       func() time.Time
}

type submitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Datadog keeps the last sample of every order and submits them as gauges
// periodically and on Close.
type Datadog struct {
	api      submitter
	ctx      context.Context
	baseTags []string
	now      func() time.Time

	mu     sync.Mutex
	latest map[string]Sample

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// NewDatadog starts the flush loop.
func NewDatadog(parent context.Context, opts DatadogOptions) (*Datadog, error) {
	job := opts.JobName
	if job == "" {
		job = "tabul"
	}
	every := opts.FlushEvery
	if every <= 0 {
		every = 60 * time.Second
	}
	env := "env:unknown"
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		env = "env:" + v
	}
	tags := append([]string{env, "job:" + job}, opts.Tags...)

	api := opts.submitter
	if api == nil {
		api = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}
	now := opts.now
	if now == nil {
		now = time.Now
	}
	d := &Datadog{
		api:      api,
		ctx:      dd.NewDefaultContext(parent),
		baseTags: tags,
		now:      now,
		latest:   make(map[string]Sample),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go d.loop(every)
	return d, nil
}

func (d *Datadog) loop(every time.Duration) {
	defer close(d.doneCh)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = d.Flush()
		case <-d.stopCh:
			return
		}
	}
}

func (d *Datadog) Record(s Sample) {
	d.mu.Lock()
	d.latest[s.Order] = s
	d.mu.Unlock()
}

// Flush submits the buffered samples and forgets them.
func (d *Datadog) Flush() error {
	d.mu.Lock()
	samples := d.latest
	d.latest = make(map[string]Sample)
	d.mu.Unlock()
	if len(samples) == 0 {
		return nil
	}
	ts := d.now().Unix()
	var series []datadogV2.MetricSeries
	for order, s := range samples {
		tags := append(append([]string(nil), d.baseTags...), "order:"+order)
		series = append(series,
			gauge("tabul.transfer.rows", float64(s.Rows), tags, ts),
			gauge("tabul.transfer.batches", float64(s.Batches), tags, ts),
			gauge("tabul.transfer.commits", float64(s.Commits), tags, ts),
			gauge("tabul.transfer.queue_depth", float64(s.QueueDepth), tags, ts),
			gauge("tabul.transfer.elapsed_seconds", s.Elapsed.Seconds(), tags, ts),
		)
	}
	_, _, err := d.api.SubmitMetrics(d.ctx, datadogV2.MetricPayload{Series: series}, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

func gauge(metric string, value float64, tags []string, ts int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(ts), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

// Close stops the loop and flushes. It can be called more than once.
func (d *Datadog) Close() error {
	var err error
	d.once.Do(func() {
		close(d.stopCh)
		<-d.doneCh
		err = d.Flush()
	})
	return err
}
