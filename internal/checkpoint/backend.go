// Package checkpoint records transfer runs and their per-pair results so that
// past executions can be listed and inspected.
package checkpoint

import (
	"fmt"
	"path/filepath"
	"time"
)

// Run statuses.
const (
	StatusRunning     = "running"
	StatusSuccess     = "success"
	StatusFailed      = "failed"
	StatusInterrupted = "interrupted"
)

// Store defines the interface for run history persistence.
// Implementations include SQLite (full featured) and file-based (last run only).
type Store interface {
	// Run management
	CreateRun(id, command string, config any) error
	CompleteRun(id, status, errorMsg string) error
	GetLastIncompleteRun() (*Run, error)

	// Results of the transfer pairs of a run
	SaveResults(runID string, results []Result) error
	GetResults(runID string) ([]Result, error)

	// History
	GetAllRuns() ([]Run, error)
	GetRunByID(runID string) (*Run, error)

	// Lifecycle
	Close() error
}

// ConnectionStore extends Store with saved connections.
// Only SQLite implements this; the file backend does not persist connections.
type ConnectionStore interface {
	Store

	SaveConnection(name, uri string, attributes map[string]string) error
	GetConnection(name string) (*SavedConnection, error)
	ListConnections() ([]SavedConnection, error)
	DeleteConnection(name string) error
}

// Ensure State implements ConnectionStore
var _ ConnectionStore = (*State)(nil)

// Ensure FileState implements Store
var _ Store = (*FileState)(nil)

// Run is one execution of a command.
type Run struct {
	ID          string
	StartedAt   time.Time
	CompletedAt *time.Time
	Status      string
	Command     string
	Error       string
	Config      string
}

// Result is the outcome of one transfer pair. ErrorCode is nil on success.
type Result struct {
	Input        string
	Target       string
	Latency      string
	RecordCount  int64
	ErrorCode    *int
	ErrorMessage string
}

// Open returns the store of the given kind: "sqlite" (default) keeps
// history.db under dataDir, "file" keeps the last run in last-run.yaml.
func Open(kind, dataDir string) (Store, error) {
	switch kind {
	case "", "sqlite":
		return New(dataDir)
	case "file":
		return NewFileState(filepath.Join(dataDir, "last-run.yaml"))
	default:
		return nil, fmt.Errorf("unknown history backend %q (expected sqlite or file)", kind)
	}
}

const sqliteTime = "2006-01-02 15:04:05"
