package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tabulify/tabulify-sub009/internal/checkpoint"
	"github.com/tabulify/tabulify-sub009/internal/config"
	"github.com/tabulify/tabulify-sub009/internal/env"
	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

func listCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Aliases:   []string{"ls"},
		Usage:     "List the resources selected by data selectors",
		ArgsUsage: "<selector>...",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "count", Usage: "Count the records of each resource"},
			&cli.BoolFlag{Name: "strict-selection", Value: true, Usage: "Fail when a selector selects nothing"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return usageError("list needs at least one selector")
			}
			e, err := openEnv(c)
			if err != nil {
				return err
			}
			defer e.Close()

			strict := *configOf(c).Strict
			if c.IsSet("strict-selection") {
				strict = c.Bool("strict-selection")
			}
			dps, err := e.Select(c.Context, strict, c.Args().Slice()...)
			if err != nil {
				return err
			}

			type entry struct {
				Path       string `json:"path"`
				Connection string `json:"connection"`
				MediaType  string `json:"media_type"`
				Count      *int64 `json:"count,omitempty"`
			}
			entries := make([]entry, 0, len(dps))
			for _, dp := range dps {
				en := entry{Path: dp.RelativePath(), Connection: dp.Connection().Name(), MediaType: string(dp.MediaType())}
				if c.Bool("count") {
					n, err := dp.Count(c.Context)
					if err != nil {
						return fmt.Errorf("counting %s: %w", dp, err)
					}
					en.Count = &n
				}
				entries = append(entries, en)
			}

			if c.Bool("output-json") {
				return writeJSON(c.App.Writer, entries)
			}
			headers := []string{"path", "connection", "media_type"}
			if c.Bool("count") {
				headers = append(headers, "count")
			}
			rows := make([][]string, len(entries))
			for i, en := range entries {
				rows[i] = []string{en.Path, en.Connection, en.MediaType}
				if en.Count != nil {
					rows[i] = append(rows[i], strconv.FormatInt(*en.Count, 10))
				}
			}
			renderTable(c.App.Writer, headers, rows)
			return nil
		},
	}
}

func describeCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe",
		Usage:     "Print the columns of a resource",
		ArgsUsage: "<data-uri>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return usageError("describe needs exactly one data uri")
			}
			e, err := openEnv(c)
			if err != nil {
				return err
			}
			defer e.Close()

			dp, err := e.DataPath(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			exists, err := dp.Exists(c.Context)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("the resource (%s) does not exist: %w", dp, exitcodes.ErrNotFound)
			}
			def, err := dp.Relation(c.Context)
			if err != nil {
				return err
			}

			keys := make(map[string]string)
			if pk := def.PrimaryKey(); pk != nil {
				for _, col := range pk.Columns {
					keys[col.Name] = "PK"
				}
			}
			for _, uk := range def.UniqueKeys() {
				for _, col := range uk.Columns {
					if keys[col.Name] == "" {
						keys[col.Name] = "UK"
					}
				}
			}

			type column struct {
				Position int    `json:"position"`
				Name     string `json:"name"`
				Type     string `json:"type"`
				Nullable bool   `json:"nullable"`
				Key      string `json:"key,omitempty"`
			}
			cols := make([]column, 0, def.Len())
			for _, col := range def.Columns() {
				typ := col.Type.String()
				if col.TypeName != "" {
					typ = col.TypeName
				}
				cols = append(cols, column{Position: col.Position, Name: col.Name, Type: typ, Nullable: col.Nullable, Key: keys[col.Name]})
			}

			if c.Bool("output-json") {
				return writeJSON(c.App.Writer, map[string]any{"resource": dp.String(), "columns": cols})
			}
			rows := make([][]string, len(cols))
			for i, col := range cols {
				rows[i] = []string{strconv.Itoa(col.Position), col.Name, col.Type, strconv.FormatBool(col.Nullable), col.Key}
			}
			fmt.Fprintln(c.App.Writer, dp.String())
			renderTable(c.App.Writer, []string{"position", "name", "type", "nullable", "key"}, rows)
			return nil
		},
	}
}

func printCommand() *cli.Command {
	return &cli.Command{
		Name:      "print",
		Aliases:   []string{"head"},
		Usage:     "Print the records of a resource",
		ArgsUsage: "<data-uri>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 10, Usage: "Maximum number of records (0 prints all)"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return usageError("print needs exactly one data uri")
			}
			e, err := openEnv(c)
			if err != nil {
				return err
			}
			defer e.Close()

			dp, err := e.DataPath(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			def, err := dp.Relation(c.Context)
			if err != nil {
				return err
			}
			stream, err := dp.DataSystem().NewSelectStream(c.Context, dp)
			if err != nil {
				return err
			}
			defer stream.Close()

			limit := c.Int("limit")
			var rows [][]string
			for stream.Next() {
				if limit > 0 && len(rows) >= limit {
					break
				}
				rows = append(rows, stringify(stream.Values()))
			}
			if err := stream.Err(); err != nil {
				return fmt.Errorf("reading %s: %w", dp, err)
			}

			if c.Bool("output-json") {
				names := def.ColumnNames()
				records := make([]map[string]string, len(rows))
				for i, row := range rows {
					rec := make(map[string]string, len(names))
					for j, name := range names {
						if j < len(row) {
							rec[name] = row[j]
						}
					}
					records[i] = rec
				}
				return writeJSON(c.App.Writer, records)
			}
			renderTable(c.App.Writer, def.ColumnNames(), rows)
			return nil
		},
	}
}

func connectionCommand() *cli.Command {
	return &cli.Command{
		Name:  "connection",
		Usage: "Manage connections",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List the built-in, declared and saved connections",
				Action: listConnections,
			},
			{
				Name:      "add",
				Usage:     "Save an encrypted connection in the run history store (needs TABUL_MASTER_KEY)",
				ArgsUsage: "<name> <uri>",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "attribute", Aliases: []string{"a"}, Usage: "Connection attribute key=value, repeatable"},
					&cli.StringFlag{Name: "user", Usage: "User name"},
					&cli.StringFlag{Name: "password", Usage: "Password", EnvVars: []string{"TABUL_CONNECTION_PASSWORD"}},
				},
				Action: addConnection,
			},
			{
				Name:      "remove",
				Aliases:   []string{"rm"},
				Usage:     "Remove a saved connection",
				ArgsUsage: "<name>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return usageError("connection remove needs a connection name")
					}
					state, err := connectionStore(configOf(c))
					if err != nil {
						return err
					}
					defer state.Close()
					name := resource.NormalizeName(c.Args().First())
					if err := state.DeleteConnection(name); err != nil {
						return exitcodes.NewExitError(err, exitcodes.SelectionError)
					}
					fmt.Fprintf(c.App.Writer, "Removed connection %q\n", name)
					return nil
				},
			},
		},
	}
}

func connectionStore(cfg *config.Config) (*checkpoint.State, error) {
	if cfg.History.Backend != "sqlite" {
		return nil, usageError("saved connections need the sqlite history backend, got %s", cfg.History.Backend)
	}
	state, err := checkpoint.New(cfg.History.DataDir)
	if err != nil {
		return nil, exitcodes.NewExitError(err, exitcodes.StateError)
	}
	return state, nil
}

func addConnection(c *cli.Context) error {
	if c.NArg() != 2 {
		return usageError("connection add needs a name and a uri")
	}
	name := resource.NormalizeName(c.Args().Get(0))
	uri := c.Args().Get(1)
	switch name {
	case env.ConnCd, env.ConnTemp, env.ConnHome, env.ConnMemory, env.ConnNoop:
		return usageError("the connection name (%s) is reserved", name)
	}

	attrs, err := parseNameMap(c.StringSlice("attribute"))
	if err != nil {
		return usageError("%v", err)
	}
	if u := c.String("user"); u != "" {
		attrs["user"] = u
	}
	if p := c.String("password"); p != "" {
		attrs["password"] = p
	}

	// Fail now rather than at the first use of the connection
	probe, err := env.New(env.Options{Home: configOf(c).Home, Connections: []env.ConnectionSpec{{Name: name, URI: uri, Attributes: attrs}}})
	if err != nil {
		return exitcodes.NewExitError(err, exitcodes.ConnectionError)
	}
	probe.Close()

	state, err := connectionStore(configOf(c))
	if err != nil {
		return err
	}
	defer state.Close()
	if err := state.SaveConnection(name, uri, attrs); err != nil {
		return exitcodes.NewExitError(err, exitcodes.StateError)
	}
	fmt.Fprintf(c.App.Writer, "Saved connection %q\n", name)
	return nil
}

func listConnections(c *cli.Context) error {
	cfg := configOf(c)
	e, err := openEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	origin := map[string]string{
		env.ConnCd: "built-in", env.ConnTemp: "built-in", env.ConnHome: "built-in",
		env.ConnMemory: "built-in", env.ConnNoop: "built-in",
	}
	for name := range cfg.Connections {
		origin[resource.NormalizeName(name)] = "config"
	}
	for _, s := range savedConnections(cfg) {
		if _, ok := origin[s.Name]; !ok {
			origin[s.Name] = "saved"
		}
	}

	type entry struct {
		Name    string `json:"name"`
		URI     string `json:"uri"`
		Origin  string `json:"origin"`
		Default bool   `json:"default"`
	}
	var entries []entry
	for _, nc := range e.Describe() {
		entries = append(entries, entry{
			Name:    nc[0],
			URI:     config.SanitizeURI(nc[1]),
			Origin:  origin[nc[0]],
			Default: nc[0] == e.DefaultConnection(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	if c.Bool("output-json") {
		return writeJSON(c.App.Writer, entries)
	}
	rows := make([][]string, len(entries))
	for i, en := range entries {
		def := ""
		if en.Default {
			def = "*"
		}
		rows[i] = []string{en.Name, en.URI, en.Origin, def}
	}
	renderTable(c.App.Writer, []string{"name", "uri", "origin", "default"}, rows)
	return nil
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List past runs, or view the results of a specific run",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "run", Usage: "Show the results of a specific run id"},
			&cli.IntFlag{Name: "cleanup", Usage: "Delete completed runs older than N days (sqlite backend)"},
		},
		Action: showHistory,
	}
}

func showHistory(c *cli.Context) error {
	cfg := configOf(c)
	store, err := openHistory(cfg)
	if err != nil {
		return err
	}
	if store == nil {
		return usageError("the run history is disabled (history.enabled: false)")
	}
	defer store.Close()

	if days := c.Int("cleanup"); days > 0 || (cfg.History.RetentionDays > 0 && !c.IsSet("run")) {
		if days == 0 {
			days = cfg.History.RetentionDays
		}
		if state, ok := store.(*checkpoint.State); ok {
			n, err := state.CleanupOldRuns(days)
			if err != nil {
				return exitcodes.NewExitError(err, exitcodes.StateError)
			}
			if c.IsSet("cleanup") {
				fmt.Fprintf(c.App.Writer, "Deleted %d run(s) older than %d day(s)\n", n, days)
				return nil
			}
		}
	}

	if runID := c.String("run"); runID != "" {
		return showRunDetails(c, store, runID)
	}

	runs, err := store.GetAllRuns()
	if err != nil {
		return exitcodes.NewExitError(err, exitcodes.StateError)
	}
	if c.Bool("output-json") {
		if runs == nil {
			runs = []checkpoint.Run{}
		}
		return writeJSON(c.App.Writer, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(c.App.Writer, "No runs found")
		return nil
	}
	rows := make([][]string, len(runs))
	for i, r := range runs {
		rows[i] = []string{r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), duration(r), r.Status, r.Command}
	}
	renderTable(c.App.Writer, []string{"run", "started", "duration", "status", "command"}, rows)
	return nil
}

func showRunDetails(c *cli.Context, store checkpoint.Store, runID string) error {
	run, err := store.GetRunByID(runID)
	if err != nil {
		return exitcodes.NewExitError(err, exitcodes.StateError)
	}
	if run == nil {
		return fmt.Errorf("the run (%s) is not in the history: %w", runID, exitcodes.ErrNotFound)
	}
	results, err := store.GetResults(runID)
	if err != nil {
		return exitcodes.NewExitError(err, exitcodes.StateError)
	}

	if c.Bool("output-json") {
		if results == nil {
			results = []checkpoint.Result{}
		}
		return writeJSON(c.App.Writer, map[string]any{"run": run, "results": results})
	}

	fmt.Fprintf(c.App.Writer, "Run:      %s\n", run.ID)
	fmt.Fprintf(c.App.Writer, "Command:  %s\n", run.Command)
	fmt.Fprintf(c.App.Writer, "Status:   %s\n", run.Status)
	fmt.Fprintf(c.App.Writer, "Started:  %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(c.App.Writer, "Duration: %s\n", duration(*run))
	if run.Error != "" {
		fmt.Fprintf(c.App.Writer, "Error:    %s\n", strings.ReplaceAll(run.Error, "\n", " "))
	}

	rows := make([][]string, len(results))
	for i, r := range results {
		code := ""
		if r.ErrorCode != nil {
			code = strconv.Itoa(*r.ErrorCode)
		}
		rows[i] = []string{r.Input, r.Target, r.Latency, strconv.FormatInt(r.RecordCount, 10), code, r.ErrorMessage}
	}
	renderTableHighlight(c.App.Writer, resultHeaders(), rows, 4)
	return nil
}

func duration(r checkpoint.Run) string {
	if r.CompletedAt == nil {
		return "-"
	}
	return r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
}
