package checkpoint

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// State manages run history in SQLite
type State struct {
	db *sql.DB
}

// New creates a new history store under dataDir
func New(dataDir string) (*State, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "history.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	s := &State{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating history schema: %w", err)
	}

	return s, nil
}

func (s *State) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		status TEXT NOT NULL DEFAULT 'running',
		command TEXT NOT NULL,
		error TEXT,
		config TEXT
	);

	CREATE TABLE IF NOT EXISTS results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		input TEXT NOT NULL,
		target TEXT NOT NULL,
		latency TEXT NOT NULL,
		record_count INTEGER NOT NULL DEFAULT 0,
		error_code INTEGER,
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS connections (
		name TEXT PRIMARY KEY,
		config_enc BLOB NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_run ON results(run_id);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *State) Close() error {
	return s.db.Close()
}

// CreateRun creates a new run
func (s *State) CreateRun(id, command string, config any) error {
	configJSON, _ := json.Marshal(config)
	_, err := s.db.Exec(`
		INSERT INTO runs (id, started_at, status, command, config)
		VALUES (?, datetime('now'), 'running', ?, ?)
	`, id, command, string(configJSON))
	return err
}

// CompleteRun marks a run as complete
func (s *State) CompleteRun(id, status, errorMsg string) error {
	res, err := s.db.Exec(`
		UPDATE runs SET status = ?, completed_at = datetime('now'), error = ?
		WHERE id = ?
	`, status, nullString(errorMsg), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// GetLastIncompleteRun returns the most recent run still marked running
func (s *State) GetLastIncompleteRun() (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, started_at, completed_at, status, command, error, config
		FROM runs WHERE status = 'running'
		ORDER BY started_at DESC, rowid DESC LIMIT 1
	`)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// MarkInterrupted flags every run still marked running as interrupted.
// It returns the number of runs updated.
func (s *State) MarkInterrupted() (int64, error) {
	res, err := s.db.Exec(`
		UPDATE runs SET status = 'interrupted', completed_at = datetime('now')
		WHERE status = 'running'
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SaveResults stores the results of a run in one transaction
func (s *State) SaveResults(runID string, results []Result) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO results (run_id, input, target, latency, record_count, error_code, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		var code sql.NullInt64
		if r.ErrorCode != nil {
			code = sql.NullInt64{Int64: int64(*r.ErrorCode), Valid: true}
		}
		if _, err := stmt.Exec(runID, r.Input, r.Target, r.Latency, r.RecordCount, code, nullString(r.ErrorMessage)); err != nil {
			return fmt.Errorf("saving result %s: %w", r.Input, err)
		}
	}
	return tx.Commit()
}

// GetResults returns the results of a run in insertion order
func (s *State) GetResults(runID string) ([]Result, error) {
	rows, err := s.db.Query(`
		SELECT input, target, latency, record_count, error_code, error_message
		FROM results WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var code sql.NullInt64
		var msg sql.NullString
		if err := rows.Scan(&r.Input, &r.Target, &r.Latency, &r.RecordCount, &code, &msg); err != nil {
			return nil, err
		}
		if code.Valid {
			c := int(code.Int64)
			r.ErrorCode = &c
		}
		r.ErrorMessage = msg.String
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetAllRuns returns the last 20 runs for history
func (s *State) GetAllRuns() ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, completed_at, status, command, error, config
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 20
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetRunByID returns a run or nil when it does not exist
func (s *State) GetRunByID(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, started_at, completed_at, status, command, error, config
		FROM runs WHERE id = ?
	`, runID)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// CleanupOldRuns deletes completed runs older than the given number of days
// with their results. Running runs are kept.
func (s *State) CleanupOldRuns(days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days).UTC().Format(sqliteTime)

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM results WHERE run_id IN (
			SELECT id FROM runs WHERE status != 'running' AND completed_at < ?
		)
	`, cutoff); err != nil {
		return 0, err
	}
	res, err := tx.Exec(`DELETE FROM runs WHERE status != 'running' AND completed_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	deleted, _ := res.RowsAffected()
	return deleted, tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var r Run
	var startedAtStr string
	var completedAtStr, errStr, config sql.NullString
	if err := sc.Scan(&r.ID, &startedAtStr, &completedAtStr, &r.Status, &r.Command, &errStr, &config); err != nil {
		return nil, err
	}
	// SQLite datetime('now') is UTC
	r.StartedAt, _ = time.ParseInLocation(sqliteTime, startedAtStr, time.UTC)
	if completedAtStr.Valid {
		t, _ := time.ParseInLocation(sqliteTime, completedAtStr.String, time.UTC)
		r.CompletedAt = &t
	}
	r.Error = errStr.String
	r.Config = config.String
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
