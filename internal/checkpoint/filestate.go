package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// FileState implements Store using a single YAML file holding the last run.
// Designed for schedulers and headless environments where SQLite is impractical.
type FileState struct {
	path  string
	mu    sync.RWMutex
	state *fileStateData
}

// fileStateData is the YAML structure for the state file.
type fileStateData struct {
	RunID       string        `yaml:"run_id"`
	StartedAt   time.Time     `yaml:"started_at"`
	CompletedAt *time.Time    `yaml:"completed_at,omitempty"`
	Status      string        `yaml:"status"`
	Command     string        `yaml:"command"`
	Error       string        `yaml:"error,omitempty"`
	ConfigHash  string        `yaml:"config_hash,omitempty"`
	Results     []resultState `yaml:"results,omitempty"`
}

type resultState struct {
	Input        string `yaml:"input"`
	Target       string `yaml:"target"`
	Latency      string `yaml:"latency"`
	RecordCount  int64  `yaml:"record_count"`
	ErrorCode    *int   `yaml:"error_code,omitempty"`
	ErrorMessage string `yaml:"error_message,omitempty"`
}

// NewFileState creates a file-based store.
// If the file exists, it loads the existing state.
func NewFileState(path string) (*FileState, error) {
	fs := &FileState{path: path, state: &fileStateData{}}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading state file: %w", err)
		}
		if err := yaml.Unmarshal(data, fs.state); err != nil {
			return nil, fmt.Errorf("parsing state file: %w", err)
		}
	}

	return fs, nil
}

// save writes the current state to the YAML file.
func (fs *FileState) save() error {
	data, err := yaml.Marshal(fs.state)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	if err := os.WriteFile(fs.path, data, 0600); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	return nil
}

// CreateRun replaces the stored run with a new one.
func (fs *FileState) CreateRun(id, command string, config any) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	// Config hash for change detection
	configJSON, _ := json.Marshal(config)
	hash := sha256.Sum256(configJSON)

	fs.state = &fileStateData{
		RunID:      id,
		StartedAt:  time.Now().UTC(),
		Status:     StatusRunning,
		Command:    command,
		ConfigHash: hex.EncodeToString(hash[:8]),
	}
	return fs.save()
}

// CompleteRun marks the run as complete.
func (fs *FileState) CompleteRun(id, status, errorMsg string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.state.RunID != id {
		return fmt.Errorf("run ID mismatch: expected %s, got %s", fs.state.RunID, id)
	}
	now := time.Now().UTC()
	fs.state.CompletedAt = &now
	fs.state.Status = status
	fs.state.Error = errorMsg
	return fs.save()
}

// GetLastIncompleteRun returns the stored run if it is still running.
func (fs *FileState) GetLastIncompleteRun() (*Run, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.state.RunID == "" || fs.state.Status != StatusRunning {
		return nil, nil
	}
	return fs.run(), nil
}

// SaveResults appends results to the stored run.
func (fs *FileState) SaveResults(runID string, results []Result) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.state.RunID != runID {
		return fmt.Errorf("run ID mismatch: expected %s, got %s", fs.state.RunID, runID)
	}
	for _, r := range results {
		fs.state.Results = append(fs.state.Results, resultState(r))
	}
	return fs.save()
}

// GetResults returns the results of the stored run.
func (fs *FileState) GetResults(runID string) ([]Result, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.state.RunID != runID {
		return nil, nil
	}
	out := make([]Result, len(fs.state.Results))
	for i, r := range fs.state.Results {
		out[i] = Result(r)
	}
	return out, nil
}

// GetAllRuns returns the stored run, if any.
func (fs *FileState) GetAllRuns() ([]Run, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.state.RunID == "" {
		return nil, nil
	}
	return []Run{*fs.run()}, nil
}

// GetRunByID returns the stored run when the id matches.
func (fs *FileState) GetRunByID(runID string) (*Run, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.state.RunID != runID {
		return nil, nil
	}
	return fs.run(), nil
}

// Close is a no-op; every change is already on disk.
func (fs *FileState) Close() error {
	return nil
}

func (fs *FileState) run() *Run {
	return &Run{
		ID:          fs.state.RunID,
		StartedAt:   fs.state.StartedAt,
		CompletedAt: fs.state.CompletedAt,
		Status:      fs.state.Status,
		Command:     fs.state.Command,
		Error:       fs.state.Error,
		Config:      fs.state.ConfigHash,
	}
}
