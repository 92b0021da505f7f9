package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tabulify/tabulify-sub009/internal/env"
	"github.com/tabulify/tabulify-sub009/internal/transfer"
)

// expandTilde expands ~ or ~/ at the start of a path to the user's home directory
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// Config holds the environment file of the tool
type Config struct {
	DefaultConnection string                      `yaml:"default_connection"`
	Strict            *bool                       `yaml:"strict"` // selection of nothing is an error (default: true)
	Home              string                      `yaml:"home"`
	Connections       map[string]ConnectionConfig `yaml:"connections"`
	Transfer          TransferConfig              `yaml:"transfer"`
	History           HistoryConfig               `yaml:"history"`
	Log               LogConfig                   `yaml:"log"`
	Notify            NotifyConfig                `yaml:"notify"`
}

// ConnectionConfig declares a named connection
type ConnectionConfig struct {
	URI        string            `yaml:"uri"`
	User       string            `yaml:"user"`
	Password   string            `yaml:"password"`
	Attributes map[string]string `yaml:"attributes"`
}

// TransferConfig holds the tuning of the transfer pipeline and the default
// transfer behavior. Command-line flags override it.
type TransferConfig struct {
	FetchSize         int    `yaml:"fetch_size"`         // Rows read per fetch (default=10000)
	BatchSize         int    `yaml:"batch_size"`         // Rows per target flush (default=10000)
	CommitFrequency   int    `yaml:"commit_frequency"`   // Batches per commit, 0 commits once at the end
	TargetWorkers     int    `yaml:"target_workers"`     // Parallel writers per transfer (default=1)
	BufferSize        int    `yaml:"buffer_size"`        // Queue capacity in rows (default=2*workers*fetch, capped by memory)
	Timeout           string `yaml:"timeout"`            // Queue and drain timeout, Go duration, empty waits forever
	FeedbackFrequency int64  `yaml:"feedback_frequency"` // Log progress every N rows, 0 disables
	Metrics           string `yaml:"metrics"`            // CSV file path, "datadog" or "datadog:<job>"
	Parallelism       int    `yaml:"parallelism"`        // Distinct targets loaded concurrently (default=1)

	Operation     string `yaml:"operation"`      // insert, upsert, update, delete, copy (default=insert)
	UpsertType    string `yaml:"upsert_type"`    // merge, insert_update, update_insert (default=merge)
	BindVariables *bool  `yaml:"bind_variables"` // default: true
	StrictMapping *bool  `yaml:"strict_mapping"` // default: true
	TargetOps     string `yaml:"target_operations"`
	SourceOps     string `yaml:"source_operations"`
	MappingMethod string `yaml:"mapping_method"`
	ResultTable   string `yaml:"result_table"` // publish the result on the memory connection when set
	timeoutParsed time.Duration
}

// HistoryConfig controls the run history store
type HistoryConfig struct {
	Enabled       *bool  `yaml:"enabled"`        // default: true
	Backend       string `yaml:"backend"`        // sqlite (default) or file
	DataDir       string `yaml:"data_dir"`       // default: <home>
	RetentionDays int    `yaml:"retention_days"` // completed runs older than this are removed, 0 keeps all
}

// LogConfig holds the logger settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default=info)
	Format string `yaml:"format"` // text or json (default=text)
}

// NotifyConfig holds the run notification settings
type NotifyConfig struct {
	Slack SlackConfig `yaml:"slack"`
}

// SlackConfig holds the Slack webhook used to report transfer runs
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
	Enabled    bool   `yaml:"enabled"`
}

// LoadOptions controls configuration loading behavior.
type LoadOptions struct {
	SuppressWarnings bool
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	return LoadWithOptions(path, LoadOptions{})
}

// LoadWithOptions reads configuration from a YAML file with options.
func LoadWithOptions(path string, opts LoadOptions) (*Config, error) {
	if warning := permissionWarning(path); warning != "" && !opts.SuppressWarnings {
		fmt.Fprint(os.Stderr, warning)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return LoadBytes(data)
}

// LoadBytes reads configuration from YAML bytes.
func LoadBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	_ = cfg.validate()
	return &cfg
}

// DefaultPath returns tabul.yml in the working directory when it exists,
// else <home>/tabul.yml. It returns "" when neither exists.
func DefaultPath() string {
	candidates := []string{"tabul.yml", filepath.Join(env.DefaultHome(), "tabul.yml")}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func boolPtr(b bool) *bool { return &b }

func (c *Config) applyDefaults() {
	if c.DefaultConnection == "" {
		c.DefaultConnection = env.ConnCd
	}
	if c.Strict == nil {
		c.Strict = boolPtr(true)
	}
	c.Home = expandTilde(c.Home)
	if c.Home == "" {
		c.Home = env.DefaultHome()
	}

	t := &c.Transfer
	if t.FetchSize == 0 {
		t.FetchSize = 10000
	}
	if t.BatchSize == 0 {
		t.BatchSize = 10000
	}
	if t.TargetWorkers == 0 {
		t.TargetWorkers = 1
	}
	if t.BufferSize == 0 {
		t.BufferSize = 2 * t.TargetWorkers * t.FetchSize
		if limit := maxBufferRows(); t.BufferSize > limit {
			t.BufferSize = limit
		}
	}
	if t.Parallelism == 0 {
		t.Parallelism = 1
	}
	if t.Operation == "" {
		t.Operation = "insert"
	}
	if t.BindVariables == nil {
		t.BindVariables = boolPtr(true)
	}
	if t.StrictMapping == nil {
		t.StrictMapping = boolPtr(true)
	}

	if c.History.Enabled == nil {
		c.History.Enabled = boolPtr(true)
	}
	if c.History.Backend == "" {
		c.History.Backend = "sqlite"
	}
	c.History.DataDir = expandTilde(c.History.DataDir)
	if c.History.DataDir == "" {
		c.History.DataDir = c.Home
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

const defaultMemoryMB = 4096

// maxBufferRows caps the default queue so that it holds at most a tenth of
// the system memory, counting 1 KiB per row.
func maxBufferRows() int {
	rows := totalMemoryMB() * 1024 / 10
	if rows < 1000 {
		return 1000
	}
	return int(rows)
}

func (c *Config) validate() error {
	var errs []error

	for name, conn := range c.Connections {
		if conn.URI == "" {
			errs = append(errs, fmt.Errorf("connections.%s.uri is required", name))
		}
		switch strings.ToLower(name) {
		case env.ConnCd, env.ConnTemp, env.ConnHome, env.ConnMemory, env.ConnNoop:
			errs = append(errs, fmt.Errorf("connections.%s: the name is reserved for a built-in connection", name))
		}
	}

	t := &c.Transfer
	if t.FetchSize < 0 || t.BatchSize < 0 || t.TargetWorkers < 0 || t.BufferSize < 0 || t.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("transfer sizes and counts must be positive"))
	}
	if t.CommitFrequency < 0 {
		errs = append(errs, fmt.Errorf("transfer.commit_frequency must be zero or positive, got %d", t.CommitFrequency))
	}
	if t.Timeout != "" {
		d, err := time.ParseDuration(t.Timeout)
		if err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("transfer.timeout must be a positive duration such as 30s, got %q", t.Timeout))
		}
		t.timeoutParsed = d
	}
	if _, err := transfer.ParseOperation(t.Operation); err != nil {
		errs = append(errs, fmt.Errorf("transfer.operation: %w", err))
	}
	if t.UpsertType != "" {
		if _, err := transfer.ParseUpsertType(t.UpsertType); err != nil {
			errs = append(errs, fmt.Errorf("transfer.upsert_type: %w", err))
		}
	}
	if t.TargetOps != "" {
		if _, err := transfer.ParseResourceOperations(t.TargetOps); err != nil {
			errs = append(errs, fmt.Errorf("transfer.target_operations: %w", err))
		}
	}
	if t.SourceOps != "" {
		if _, err := transfer.ParseResourceOperations(t.SourceOps); err != nil {
			errs = append(errs, fmt.Errorf("transfer.source_operations: %w", err))
		}
	}
	if t.MappingMethod != "" {
		if _, err := transfer.ParseMappingMethod(t.MappingMethod); err != nil {
			errs = append(errs, fmt.Errorf("transfer.mapping_method: %w", err))
		}
	}

	if c.History.Backend != "sqlite" && c.History.Backend != "file" {
		errs = append(errs, fmt.Errorf("history.backend must be 'sqlite' or 'file', got '%s'", c.History.Backend))
	}
	if c.History.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("history.retention_days must be zero or positive"))
	}
	if c.Notify.Slack.Enabled && c.Notify.Slack.WebhookURL == "" {
		errs = append(errs, fmt.Errorf("notify.slack.webhook_url is required when slack notifications are enabled"))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be 'text' or 'json', got '%s'", c.Log.Format))
	}
	return errors.Join(errs...)
}

// TimeoutDuration returns the parsed transfer timeout, zero when unset.
func (t TransferConfig) TimeoutDuration() time.Duration {
	return t.timeoutParsed
}

// EnvOptions returns the options to build the environment. Connections
// are sorted by name; user and password become attributes.
func (c *Config) EnvOptions() env.Options {
	names := make([]string, 0, len(c.Connections))
	for name := range c.Connections {
		names = append(names, name)
	}
	sort.Strings(names)

	opts := env.Options{DefaultConnection: c.DefaultConnection, Home: c.Home}
	for _, name := range names {
		conn := c.Connections[name]
		attrs := make(map[string]string, len(conn.Attributes)+2)
		for k, v := range conn.Attributes {
			attrs[k] = v
		}
		if conn.User != "" {
			attrs["user"] = conn.User
		}
		if conn.Password != "" {
			attrs["password"] = conn.Password
		}
		opts.Connections = append(opts.Connections, env.ConnectionSpec{Name: name, URI: conn.URI, Attributes: attrs})
	}
	return opts
}

// CrossOptions returns the pipeline tuning as transfer options.
func (c *Config) CrossOptions() []transfer.CrossOption {
	t := c.Transfer
	return []transfer.CrossOption{
		transfer.WithFetchSize(t.FetchSize),
		transfer.WithBatchSize(t.BatchSize),
		transfer.WithCommitFrequency(t.CommitFrequency),
		transfer.WithTargetWorkers(t.TargetWorkers),
		transfer.WithBufferSize(t.BufferSize),
		transfer.WithTimeout(t.timeoutParsed),
		transfer.WithFeedbackFrequency(t.FeedbackFrequency),
		transfer.WithMetricsSink(t.Metrics),
	}
}

// SystemOptions returns the default transfer behavior as transfer options.
// Values were checked by validate.
func (c *Config) SystemOptions() []transfer.SystemOption {
	t := c.Transfer
	opts := []transfer.SystemOption{
		transfer.WithBindVariables(*t.BindVariables),
		transfer.WithStrictMapping(*t.StrictMapping),
	}
	if t.UpsertType != "" {
		u, _ := transfer.ParseUpsertType(t.UpsertType)
		opts = append(opts, transfer.WithUpsertType(u))
	}
	if t.TargetOps != "" {
		ops, _ := transfer.ParseResourceOperations(t.TargetOps)
		opts = append(opts, transfer.WithTargetOperations(ops))
	}
	if t.SourceOps != "" {
		ops, _ := transfer.ParseResourceOperations(t.SourceOps)
		opts = append(opts, transfer.WithSourceOperations(ops))
	}
	if t.MappingMethod != "" {
		m, _ := transfer.ParseMappingMethod(t.MappingMethod)
		opts = append(opts, transfer.WithMappingMethod(m))
	}
	return opts
}

const redacted = "[REDACTED]"

var secretAttributes = []string{"password", "secret", "token", "key"}

func isSecret(attr string) bool {
	a := strings.ToLower(attr)
	for _, s := range secretAttributes {
		if strings.Contains(a, s) {
			return true
		}
	}
	return false
}

// SanitizeURI redacts the password of a uri carrying user info.
func SanitizeURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); !ok {
		return raw
	}
	u.User = url.UserPassword(u.User.Username(), redacted)
	return strings.Replace(u.String(), url.QueryEscape(redacted), redacted, 1)
}

// Sanitized returns a copy of the config with sensitive fields redacted
func (c *Config) Sanitized() *Config {
	sanitized := *c // shallow copy

	sanitized.Connections = make(map[string]ConnectionConfig, len(c.Connections))
	for name, conn := range c.Connections {
		cc := conn
		cc.URI = SanitizeURI(conn.URI)
		if cc.Password != "" {
			cc.Password = redacted
		}
		if len(conn.Attributes) > 0 {
			cc.Attributes = make(map[string]string, len(conn.Attributes))
			for k, v := range conn.Attributes {
				if isSecret(k) {
					v = redacted
				}
				cc.Attributes[k] = v
			}
		}
		sanitized.Connections[name] = cc
	}
	if sanitized.Notify.Slack.WebhookURL != "" {
		sanitized.Notify.Slack.WebhookURL = redacted
	}

	return &sanitized
}
