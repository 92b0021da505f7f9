package transfer

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/logging"
	"github.com/tabulify/tabulify-sub009/internal/metrics"
	"github.com/tabulify/tabulify-sub009/internal/pipeline"
	"github.com/tabulify/tabulify-sub009/internal/progress"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

// Manager executes a batch of orders.
type Manager struct {
	cross       CrossProperties
	props       SystemProperties
	parallelism int
	sink        metrics.Sink
	progress    *progress.Tracker
	runID       string

	orders  []*Order
	sources map[string]bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithParallelism sets the number of targets processed at the same time.
func WithParallelism(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.parallelism = n
		}
	}
}

// WithMetrics sets the metrics sink. Without it, the sink named by the
// cross properties is opened for each Execute.
func WithMetrics(s metrics.Sink) ManagerOption { return func(m *Manager) { m.sink = s } }

func WithProgress(t *progress.Tracker) ManagerOption { return func(m *Manager) { m.progress = t } }

// WithRunID sets the id of the next run. By default each Execute draws a
// random uuid.
func WithRunID(id string) ManagerOption { return func(m *Manager) { m.runID = id } }

// NewManager returns a manager whose orders share cross and props.
func NewManager(cross CrossProperties, props SystemProperties, opts ...ManagerOption) *Manager {
	m := &Manager{cross: cross, props: props, parallelism: 1, sources: make(map[string]bool)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Orders returns the orders in creation order.
func (m *Manager) Orders() []*Order {
	return append([]*Order(nil), m.orders...)
}

// AddOrder adds one source/target pair. A source can be added only once.
func (m *Manager) AddOrder(source, target *resource.DataPath) (*Order, error) {
	if m.sources[source.Key()] {
		return nil, fmt.Errorf("the source (%s) is already part of the transfer", source)
	}
	m.sources[source.Key()] = true
	o := NewOrder(source, target, m.props)
	m.orders = append(m.orders, o)
	return o, nil
}

// CreateOrder adds one pair per source. When target is a container, the
// target of each pair is the child named after the source.
func (m *Manager) CreateOrder(sources []*resource.DataPath, target *resource.DataPath) error {
	return m.CreateOrderFunc(sources, func(source *resource.DataPath) (*resource.DataPath, error) {
		if !target.IsContainer() {
			return target, nil
		}
		return target.Child(source.LogicalName())
	})
}

// CreateOrderFunc adds one pair per source with the target returned by
// targetOf.
func (m *Manager) CreateOrderFunc(sources []*resource.DataPath, targetOf func(*resource.DataPath) (*resource.DataPath, error)) error {
	for _, s := range sources {
		t, err := targetOf(s)
		if err != nil {
			return fmt.Errorf("target of %s: %w", s, err)
		}
		if _, err := m.AddOrder(s, t); err != nil {
			return err
		}
	}
	return nil
}

// group is the orders sharing one target, executed sequentially.
type group struct {
	target string
	orders []*Order
}

// plan groups the orders by target. The first order of a group runs the
// target pre-operations (with CREATE added); the others run none.
func (m *Manager) plan() []*group {
	prepared := make(map[string]bool)
	byTarget := make(map[string]*group)
	var groups []*group
	for _, o := range m.orders {
		key := o.target.Key()
		g, ok := byTarget[key]
		if !ok {
			g = &group{target: key}
			byTarget[key] = g
			groups = append(groups, g)
		}
		props := o.props
		if !prepared[key] {
			prepared[key] = true
			props.runPreDataOperation = true
			props.targetOperations = props.targetOperations.With(OpCreate)
		} else {
			props.runPreDataOperation = false
			props.targetOperations = 0
		}
		g.orders = append(g.orders, NewOrder(o.source, o.target, props))
	}
	return groups
}

// Execute runs every order. A failing order is recorded on its listener and
// does not stop the others. Groups of distinct targets run concurrently up
// to the parallelism.
func (m *Manager) Execute(ctx context.Context) *Result {
	result := &Result{RunID: m.runID}
	if result.RunID == "" {
		result.RunID = uuid.NewString()
	}

	sink := m.sink
	if sink == nil {
		s, err := metrics.Open(ctx, m.cross.MetricsSink())
		if err != nil {
			logging.Warn("Metrics disabled: %v", err)
			s = metrics.Nop{}
		}
		sink = s
		defer func() {
			if err := s.Close(); err != nil {
				logging.Warn("Closing the metrics sink: %v", err)
			}
		}()
	}

	groups := m.plan()
	m.progress.SetTotal(len(m.orders), m.totalRows(ctx))

	var (
		mu        sync.Mutex
		listeners []*Listener
		wg        sync.WaitGroup
	)
	sem := make(chan struct{}, m.parallelism)
	for _, g := range groups {
		sem <- struct{}{}
		wg.Add(1)
		go func(g *group) {
			defer wg.Done()
			defer func() { <-sem }()
			for _, o := range g.orders {
				l := m.run(ctx, o, sink)
				mu.Lock()
				listeners = append(listeners, l)
				mu.Unlock()
			}
		}(g)
	}
	wg.Wait()
	m.progress.Finish()

	sort.SliceStable(listeners, func(i, j int) bool { return listeners[i].Source() < listeners[j].Source() })
	result.Listeners = listeners
	return result
}

// totalRows sums the known source counts. It returns -1 when one is unknown.
func (m *Manager) totalRows(ctx context.Context) int64 {
	if m.progress == nil {
		return 0
	}
	var total int64
	for _, o := range m.orders {
		n, err := o.source.Count(ctx)
		if err != nil || n < 0 {
			return -1
		}
		total += n
	}
	return total
}

// run executes one order and returns its listener.
func (m *Manager) run(ctx context.Context, o *Order, sink metrics.Sink) *Listener {
	l := NewListener(o)
	name := o.String()
	m.progress.StartOrder(name)
	err := m.execute(ctx, o, l, sink)
	l.stop()
	if err != nil {
		l.AddError(err)
		logging.Error("%s: %v", name, err)
	} else {
		logging.Info("%s", l)
	}
	m.progress.EndOrder(name, err != nil)
	return l
}

func (m *Manager) execute(ctx context.Context, o *Order, l *Listener, sink metrics.Sink) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.SourcePreChecks(ctx); err != nil {
		return err
	}
	if err := o.TargetPreOperationsAndCheck(ctx, l, true); err != nil {
		return err
	}

	if renamer, ok := o.renamer(); ok {
		n, err := o.source.Count(ctx)
		if err != nil {
			n = -1
		}
		if err := renamer.Rename(ctx, o.source, o.target); err != nil {
			return fmt.Errorf("renaming %s to %s: %w", o.source, o.target, err)
		}
		l.setMethod(MethodRename)
		if n >= 0 {
			l.setRows(n)
			m.progress.Add(n)
		}
		l.addSourceOperation(OpDrop)
		return nil
	}

	if err := o.checkBeforeWrite(ctx); err != nil {
		return err
	}
	spec, positions, err := o.Statement(ctx, o.props.Operation().StatementKind())
	if err != nil {
		return err
	}
	job := pipeline.NewJob(o.String(), o.source, o.target, spec, positions)
	job.Metrics = sink
	job.Progress = m.progress

	l.setMethod(MethodStream)
	stats, err := pipeline.Run(ctx, m.cross.pipelineConfig(), job)
	l.setRows(stats.Rows)
	if err != nil {
		return err
	}
	logging.Debug("%s: %s", o, stats)
	return o.SourcePostOperations(ctx, l)
}

// Result is the outcome of Manager.Execute.
type Result struct {
	RunID string
	// Listeners are sorted by source.
	Listeners []*Listener
}

// ExitStatus is the sum of the exit statuses of the listeners.
func (r *Result) ExitStatus() int {
	total := 0
	for _, l := range r.Listeners {
		total += l.ExitStatus()
	}
	return total
}

// Failed returns the number of failed orders.
func (r *Result) Failed() int {
	n := 0
	for _, l := range r.Listeners {
		if l.ExitStatus() != 0 {
			n++
		}
	}
	return n
}

// ErrorMessage joins the error messages of every listener with a comma.
func (r *Result) ErrorMessage() string {
	var msgs []string
	for _, l := range r.Listeners {
		msgs = append(msgs, l.Errors()...)
	}
	return joinMessages(msgs)
}

// Err returns nil on success. Otherwise the error carries the exit code of
// the first failed order.
func (r *Result) Err() error {
	for _, l := range r.Listeners {
		if s := l.ExitStatus(); s != 0 {
			err := fmt.Errorf("%d of %d transfers failed: %s", r.Failed(), len(r.Listeners), r.ErrorMessage())
			return exitcodes.NewExitError(err, s)
		}
	}
	return nil
}

// Rows returns the total number of records written.
func (r *Result) Rows() int64 {
	var total int64
	for _, l := range r.Listeners {
		total += l.RowCount()
	}
	return total
}
