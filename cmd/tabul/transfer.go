package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/tabulify/tabulify-sub009/internal/checkpoint"
	"github.com/tabulify/tabulify-sub009/internal/config"
	"github.com/tabulify/tabulify-sub009/internal/env"
	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/glob"
	"github.com/tabulify/tabulify-sub009/internal/logging"
	"github.com/tabulify/tabulify-sub009/internal/notify"
	"github.com/tabulify/tabulify-sub009/internal/progress"
	"github.com/tabulify/tabulify-sub009/internal/resource"
	"github.com/tabulify/tabulify-sub009/internal/transfer"
)

func transferCommand() *cli.Command {
	return &cli.Command{
		Name:      "transfer",
		Usage:     "Transfer the selected resources into a target",
		ArgsUsage: "<source-selector>... <target-uri>",
		Description: "Each source selector is a glob data uri such as '*.csv@cd'. The target uri may\n" +
			"name a container (one target per source), a single resource, or use\n" +
			"back-references such as '$1@sqlite' to derive the target name from the source.",
		Action: runTransfer,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "operation", Aliases: []string{"o"}, Usage: "insert, upsert, update, delete or copy"},
			&cli.StringFlag{Name: "target-operation", Usage: "Comma separated target operations: create, drop, truncate"},
			&cli.StringFlag{Name: "source-operation", Usage: "Comma separated source operations after the load: drop, truncate"},
			&cli.StringFlag{Name: "mapping-method", Usage: "position, name, map_by_position or map_by_name"},
			&cli.StringSliceFlag{Name: "map-by-position", Usage: "Column map entry source=target by position, repeatable (e.g. 1=2)"},
			&cli.StringSliceFlag{Name: "map-by-name", Usage: "Column map entry source=target by name, repeatable (e.g. id=code)"},
			&cli.BoolFlag{Name: "strict-mapping", Value: true, Usage: "Fail when a source column has no target column"},
			&cli.StringFlag{Name: "upsert-type", Usage: "merge, insert_update or update_insert"},
			&cli.BoolFlag{Name: "bind-variables", Value: true, Usage: "Bind values instead of inlining literals"},
			&cli.BoolFlag{Name: "strict-selection", Value: true, Usage: "Fail when a selector selects nothing"},
			&cli.IntFlag{Name: "fetch-size", Usage: "Rows read per fetch"},
			&cli.IntFlag{Name: "batch-size", Usage: "Rows per target flush"},
			&cli.IntFlag{Name: "commit-frequency", Usage: "Batches per commit (0 commits at the end)"},
			&cli.IntFlag{Name: "target-workers", Usage: "Parallel writers per transfer"},
			&cli.IntFlag{Name: "buffer-size", Usage: "Capacity of the queue between reader and writers, in rows"},
			&cli.DurationFlag{Name: "timeout", Usage: "Queue and drain timeout (e.g. 30s)"},
			&cli.Int64Flag{Name: "feedback-frequency", Usage: "Log progress every N rows"},
			&cli.StringFlag{Name: "metrics", Usage: "Metrics sink: CSV file path, datadog or datadog:<job>"},
			&cli.IntFlag{Name: "parallelism", Usage: "Distinct targets loaded at the same time"},
			&cli.StringFlag{Name: "result-uri", Usage: "Publish the result table at this data uri (e.g. result@memory)"},
			&cli.StringFlag{Name: "run-id", Usage: "Explicit run id (default: random uuid)"},
			&cli.BoolFlag{Name: "progress-json", Usage: "Emit JSON progress updates on stderr instead of a bar"},
		},
	}
}

func runTransfer(c *cli.Context) error {
	cfg := configOf(c)
	args := c.Args().Slice()
	if len(args) < 2 {
		return usageError("transfer needs at least one source selector and a target uri")
	}
	selectors, targetURI := args[:len(args)-1], args[len(args)-1]

	cross, props, err := transferProperties(c, cfg)
	if err != nil {
		return exitcodes.NewExitError(err, exitcodes.ConfigError)
	}
	parallelism := cfg.Transfer.Parallelism
	if c.IsSet("parallelism") {
		parallelism = c.Int("parallelism")
	}

	ctx, cancel := signalContext(c.Context)
	defer cancel()

	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	strict := *cfg.Strict
	if c.IsSet("strict-selection") {
		strict = c.Bool("strict-selection")
	}
	sources, err := e.Select(ctx, strict, selectors...)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		logging.Warn("Nothing to transfer")
		return nil
	}

	runID := c.String("run-id")
	if runID == "" {
		runID = uuid.NewString()
	}
	manager := transfer.NewManager(cross, props,
		transfer.WithParallelism(parallelism),
		transfer.WithProgress(newTracker(c)),
		transfer.WithRunID(runID),
	)
	if err := createOrders(ctx, e, manager, sources, targetURI); err != nil {
		return err
	}

	history, err := openHistory(cfg)
	if err != nil {
		return err
	}
	if history != nil {
		defer history.Close()
		if err := history.CreateRun(runID, "transfer "+strings.Join(args, " "), cfg.Sanitized()); err != nil {
			logging.Warn("Run history disabled: %v", err)
			history = nil
		}
	}

	notifier := notify.New(&cfg.Notify.Slack)
	if err := notifier.RunStarted(runID, config.SanitizeURI(targetURI), len(manager.Orders())); err != nil {
		logging.Warn("Slack notification failed: %v", err)
	}

	logging.Info("Transferring %d resource(s) to %s", len(manager.Orders()), targetURI)
	started := time.Now()
	result := manager.Execute(ctx)
	notifyResult(notifier, result, started)

	if history != nil {
		recordRun(history, result)
	}

	uri := c.String("result-uri")
	if uri == "" && cfg.Transfer.ResultTable != "" {
		uri = cfg.Transfer.ResultTable + "@" + env.ConnMemory
	}
	if uri != "" {
		if err := publishResult(ctx, e, result, uri); err != nil {
			logging.Error("Publishing the result to %s: %v", uri, err)
		}
	}

	if c.Bool("output-json") {
		if err := writeJSON(c.App.Writer, resultJSON(result)); err != nil {
			return err
		}
	} else {
		renderTableHighlight(c.App.Writer, resultHeaders(), resultRows(result), 4)
		logging.Info("%d record(s) transferred, %d of %d transfer(s) failed", result.Rows(), result.Failed(), len(result.Listeners))
	}
	return cancelled(ctx, result.Err())
}

func notifyResult(n notify.Provider, result *transfer.Result, started time.Time) {
	elapsed := time.Since(started)
	var err error
	if failed := result.Failed(); failed > 0 {
		var failures []string
		for _, l := range result.Listeners {
			if l.ExitStatus() != 0 {
				failures = append(failures, l.Source())
			}
		}
		err = n.RunCompletedWithErrors(result.RunID, started, elapsed, len(result.Listeners)-failed, failed, result.Rows(), failures)
	} else {
		err = n.RunCompleted(result.RunID, started, elapsed, len(result.Listeners), result.Rows())
	}
	if err != nil {
		logging.Warn("Slack notification failed: %v", err)
	}
}

// createOrders pairs every source with its target. A target uri with
// back-references is expanded per source.
func createOrders(ctx context.Context, e *env.Environment, m *transfer.Manager, sources []*resource.DataPath, targetURI string) error {
	if glob.HasBackReference(targetURI) {
		return m.CreateOrderFunc(sources, func(src *resource.DataPath) (*resource.DataPath, error) {
			return e.TargetFor(ctx, targetURI, src)
		})
	}
	target, err := e.DataPath(ctx, targetURI)
	if err != nil {
		return err
	}
	return m.CreateOrder(sources, target)
}

// transferProperties merges the configuration with the command flags.
func transferProperties(c *cli.Context, cfg *config.Config) (transfer.CrossProperties, transfer.SystemProperties, error) {
	crossOpts := cfg.CrossOptions()
	if c.IsSet("fetch-size") {
		crossOpts = append(crossOpts, transfer.WithFetchSize(c.Int("fetch-size")))
	}
	if c.IsSet("batch-size") {
		crossOpts = append(crossOpts, transfer.WithBatchSize(c.Int("batch-size")))
	}
	if c.IsSet("commit-frequency") {
		crossOpts = append(crossOpts, transfer.WithCommitFrequency(c.Int("commit-frequency")))
	}
	if c.IsSet("target-workers") {
		crossOpts = append(crossOpts, transfer.WithTargetWorkers(c.Int("target-workers")))
	}
	if c.IsSet("buffer-size") {
		crossOpts = append(crossOpts, transfer.WithBufferSize(c.Int("buffer-size")))
	} else if c.IsSet("fetch-size") || c.IsSet("target-workers") {
		// Recomputed from the new fetch size and workers
		crossOpts = append(crossOpts, transfer.WithBufferSize(0))
	}
	if c.IsSet("timeout") {
		crossOpts = append(crossOpts, transfer.WithTimeout(c.Duration("timeout")))
	}
	if c.IsSet("feedback-frequency") {
		crossOpts = append(crossOpts, transfer.WithFeedbackFrequency(c.Int64("feedback-frequency")))
	}
	if c.IsSet("metrics") {
		crossOpts = append(crossOpts, transfer.WithMetricsSink(c.String("metrics")))
	}
	cross, err := transfer.NewCrossProperties(crossOpts...)
	if err != nil {
		return transfer.CrossProperties{}, transfer.SystemProperties{}, err
	}

	opName := cfg.Transfer.Operation
	if c.IsSet("operation") {
		opName = c.String("operation")
	}
	op, err := transfer.ParseOperation(opName)
	if err != nil {
		return cross, transfer.SystemProperties{}, err
	}

	sysOpts := cfg.SystemOptions()
	if c.IsSet("target-operation") {
		ops, err := transfer.ParseResourceOperations(c.String("target-operation"))
		if err != nil {
			return cross, transfer.SystemProperties{}, err
		}
		sysOpts = append(sysOpts, transfer.WithTargetOperations(ops))
	}
	if c.IsSet("source-operation") {
		ops, err := transfer.ParseResourceOperations(c.String("source-operation"))
		if err != nil {
			return cross, transfer.SystemProperties{}, err
		}
		sysOpts = append(sysOpts, transfer.WithSourceOperations(ops))
	}
	if c.IsSet("upsert-type") {
		u, err := transfer.ParseUpsertType(c.String("upsert-type"))
		if err != nil {
			return cross, transfer.SystemProperties{}, err
		}
		sysOpts = append(sysOpts, transfer.WithUpsertType(u))
	}
	if c.IsSet("bind-variables") {
		sysOpts = append(sysOpts, transfer.WithBindVariables(c.Bool("bind-variables")))
	}
	if c.IsSet("strict-mapping") {
		sysOpts = append(sysOpts, transfer.WithStrictMapping(c.Bool("strict-mapping")))
	}
	if c.IsSet("mapping-method") {
		m, err := transfer.ParseMappingMethod(c.String("mapping-method"))
		if err != nil {
			return cross, transfer.SystemProperties{}, err
		}
		sysOpts = append(sysOpts, transfer.WithMappingMethod(m))
	}
	if entries := c.StringSlice("map-by-position"); len(entries) > 0 {
		m, err := parsePositionMap(entries)
		if err != nil {
			return cross, transfer.SystemProperties{}, err
		}
		sysOpts = append(sysOpts, transfer.WithMapByPosition(m))
	}
	if entries := c.StringSlice("map-by-name"); len(entries) > 0 {
		m, err := parseNameMap(entries)
		if err != nil {
			return cross, transfer.SystemProperties{}, err
		}
		sysOpts = append(sysOpts, transfer.WithMapByName(m))
	}

	props, err := transfer.NewSystemProperties(op, sysOpts...)
	return cross, props, err
}

// parseNameMap parses entries of the form source=target. An entry may also
// hold several pairs separated by commas.
func parseNameMap(entries []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, entry := range entries {
		for _, pair := range strings.Split(entry, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			src, tgt, ok := strings.Cut(pair, "=")
			src, tgt = strings.TrimSpace(src), strings.TrimSpace(tgt)
			if !ok || src == "" || tgt == "" {
				return nil, fmt.Errorf("the column map entry (%s) is not of the form source=target", pair)
			}
			if _, dup := out[src]; dup {
				return nil, fmt.Errorf("the source column (%s) is mapped twice", src)
			}
			out[src] = tgt
		}
	}
	return out, nil
}

func parsePositionMap(entries []string) (map[int]int, error) {
	names, err := parseNameMap(entries)
	if err != nil {
		return nil, err
	}
	out := make(map[int]int, len(names))
	for src, tgt := range names {
		s, err := strconv.Atoi(src)
		if err != nil {
			return nil, fmt.Errorf("the source position (%s) is not a number", src)
		}
		t, err := strconv.Atoi(tgt)
		if err != nil {
			return nil, fmt.Errorf("the target position (%s) is not a number", tgt)
		}
		out[s] = t
	}
	return out, nil
}

// newTracker draws a bar on an interactive stderr, emits JSON updates with
// --progress-json and tracks nothing otherwise.
func newTracker(c *cli.Context) *progress.Tracker {
	if c.Bool("progress-json") {
		return progress.New(nil, progress.NewJSONReporter(c.App.ErrWriter, 2*time.Second))
	}
	if isTerminal(c.App.ErrWriter) && !c.Bool("output-json") {
		return progress.New(c.App.ErrWriter, nil)
	}
	return nil
}

// recordRun saves the result in the run history. Failures are logged.
func recordRun(store checkpoint.Store, result *transfer.Result) {
	records := make([]checkpoint.Result, 0, len(result.Listeners))
	for _, l := range result.Listeners {
		r := checkpoint.Result{
			Input:       l.Source(),
			Target:      l.Target(),
			Latency:     transfer.ISODuration(l.Latency()),
			RecordCount: l.RowCount(),
		}
		if s := l.ExitStatus(); s != 0 {
			code := s
			r.ErrorCode = &code
			r.ErrorMessage = l.ErrorMessage()
		}
		records = append(records, r)
	}
	if err := store.SaveResults(result.RunID, records); err != nil {
		logging.Warn("Saving the run results: %v", err)
	}

	status := checkpoint.StatusSuccess
	if result.Failed() > 0 {
		status = checkpoint.StatusFailed
	}
	if err := store.CompleteRun(result.RunID, status, result.ErrorMessage()); err != nil {
		logging.Warn("Completing the run: %v", err)
	}
}

func publishResult(ctx context.Context, e *env.Environment, result *transfer.Result, uri string) error {
	u, err := e.Parse(uri)
	if err != nil {
		return err
	}
	conn, err := e.Connection(u.Connection())
	if err != nil {
		return err
	}
	dp, err := result.Publish(ctx, conn, u.Path())
	if err != nil {
		return err
	}
	logging.Info("Result published to %s", dp)
	return nil
}

func resultHeaders() []string {
	return []string{transfer.ColInput, transfer.ColTarget, transfer.ColLatency, transfer.ColRecordCount, transfer.ColErrorCode, transfer.ColErrorMessage}
}

func resultRows(result *transfer.Result) [][]string {
	records := result.Records()
	rows := make([][]string, len(records))
	for i, rec := range records {
		rows[i] = stringify(rec)
	}
	return rows
}

type resultEntry struct {
	Input        string `json:"input"`
	Target       string `json:"target"`
	Latency      string `json:"latency"`
	RecordCount  int64  `json:"record_count"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type resultDoc struct {
	RunID      string        `json:"run_id"`
	ExitStatus int           `json:"exit_status"`
	Rows       int64         `json:"rows"`
	Results    []resultEntry `json:"results"`
}

func resultJSON(result *transfer.Result) resultDoc {
	doc := resultDoc{RunID: result.RunID, ExitStatus: result.ExitStatus(), Rows: result.Rows(), Results: []resultEntry{}}
	for _, l := range result.Listeners {
		entry := resultEntry{
			Input:       l.Source(),
			Target:      l.Target(),
			Latency:     transfer.ISODuration(l.Latency()),
			RecordCount: l.RowCount(),
		}
		if s := l.ExitStatus(); s != 0 {
			code := s
			entry.ErrorCode = &code
			entry.ErrorMessage = l.ErrorMessage()
		}
		doc.Results = append(doc.Results, entry)
	}
	return doc
}
