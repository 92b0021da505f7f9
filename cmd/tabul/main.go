package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/tabulify/tabulify-sub009/internal/checkpoint"
	"github.com/tabulify/tabulify-sub009/internal/config"
	"github.com/tabulify/tabulify-sub009/internal/env"
	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/logging"
)

var version = "dev"

const configKey = "config"

func main() {
	app := newApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitcodes.FromError(err))
	}
}

func newApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:      "tabul",
		Usage:     "Select, describe and transfer tabular data between files, databases and object stores",
		Version:   version,
		Writer:    out,
		ErrWriter: errOut,
		// Errors are printed once by main with their exit code.
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the environment file (default: ./tabul.yml, then <home>/tabul.yml)",
				EnvVars: []string{"TABUL_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "home",
				Usage: "Home directory of the home connection and the run history",
			},
			&cli.StringFlag{
				Name:  "default-connection",
				Usage: "Connection of the data uris without one",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format: text or json",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Usage: "Log verbosity level (debug, info, warn, error)",
			},
			&cli.BoolFlag{
				Name:  "output-json",
				Usage: "Print results as JSON on stdout (logs go to stderr)",
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return exitcodes.NewExitError(fmt.Errorf("failed to load config: %w", err), exitcodes.ConfigError)
			}
			if c.App.Metadata == nil {
				c.App.Metadata = make(map[string]any)
			}
			c.App.Metadata[configKey] = cfg

			verbosity := cfg.Log.Level
			if c.IsSet("verbosity") {
				verbosity = c.String("verbosity")
			}
			level, err := logging.ParseLevel(verbosity)
			if err != nil {
				return exitcodes.NewExitError(err, exitcodes.ConfigError)
			}
			logging.SetLevel(level)

			format := cfg.Log.Format
			if c.IsSet("log-format") {
				format = c.String("log-format")
			}
			logging.SetFormat(format)

			// Keep stdout for results
			logging.SetOutput(c.App.ErrWriter)
			return nil
		},
		Commands: []*cli.Command{
			transferCommand(),
			listCommand(),
			describeCommand(),
			printCommand(),
			connectionCommand(),
			historyCommand(),
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		path = config.DefaultPath()
	}
	var cfg *config.Config
	if path == "" {
		cfg = config.Default()
	} else {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if h := c.String("home"); h != "" {
		if cfg.History.DataDir == cfg.Home {
			cfg.History.DataDir = h
		}
		cfg.Home = h
	}
	if dc := c.String("default-connection"); dc != "" {
		cfg.DefaultConnection = dc
	}
	return cfg, nil
}

func configOf(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata[configKey].(*config.Config); ok {
		return cfg
	}
	return config.Default()
}

// openEnv builds the environment from the configuration and the saved
// connections of the history store. Declared connections win over saved
// ones of the same name.
func openEnv(c *cli.Context) (*env.Environment, error) {
	cfg := configOf(c)
	opts := cfg.EnvOptions()

	if saved := savedConnections(cfg); len(saved) > 0 {
		declared := make(map[string]bool, len(opts.Connections))
		for _, spec := range opts.Connections {
			declared[spec.Name] = true
		}
		for _, s := range saved {
			if declared[s.Name] {
				continue
			}
			opts.Connections = append(opts.Connections, env.ConnectionSpec{Name: s.Name, URI: s.URI, Attributes: s.Attributes})
		}
	}

	e, err := env.New(opts)
	if err != nil {
		if exitcodes.FromError(err) == exitcodes.TransferError {
			err = exitcodes.NewExitError(err, exitcodes.ConnectionError)
		}
		return nil, err
	}
	return e, nil
}

// savedConnections reads the saved connections when the history store
// supports them and the master key is set. Failures are logged.
func savedConnections(cfg *config.Config) []checkpoint.SavedConnection {
	if !*cfg.History.Enabled || cfg.History.Backend != "sqlite" || os.Getenv("TABUL_MASTER_KEY") == "" {
		return nil
	}
	state, err := checkpoint.New(cfg.History.DataDir)
	if err != nil {
		logging.Warn("Saved connections unavailable: %v", err)
		return nil
	}
	defer state.Close()
	conns, err := state.ListConnections()
	if err != nil {
		logging.Warn("Saved connections unavailable: %v", err)
		return nil
	}
	return conns
}

// openHistory returns the history store or nil when history is disabled.
func openHistory(cfg *config.Config) (checkpoint.Store, error) {
	if !*cfg.History.Enabled {
		return nil, nil
	}
	store, err := checkpoint.Open(cfg.History.Backend, cfg.History.DataDir)
	if err != nil {
		return nil, exitcodes.NewExitError(fmt.Errorf("opening run history: %w", err), exitcodes.StateError)
	}
	return store, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nInterrupted. Stopping transfers...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func usageError(format string, args ...any) error {
	return exitcodes.NewExitError(fmt.Errorf(format, args...), exitcodes.ConfigError)
}

// cancelled maps a context cancellation to the Cancelled exit code.
func cancelled(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return exitcodes.NewExitError(err, exitcodes.Cancelled)
	}
	return err
}
