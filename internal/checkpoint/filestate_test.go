package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileState_RunAndResults(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "last-run.yaml")

	fs, err := NewFileState(stateFile)
	if err != nil {
		t.Fatalf("NewFileState: %v", err)
	}

	if runs, _ := fs.GetAllRuns(); len(runs) != 0 {
		t.Fatalf("expected no runs in a new file, got %d", len(runs))
	}

	if err := fs.CreateRun("test123", "transfer", map[string]string{"key": "value"}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if _, err := os.Stat(stateFile); os.IsNotExist(err) {
		t.Fatal("state file not created")
	}

	run, err := fs.GetLastIncompleteRun()
	if err != nil {
		t.Fatalf("GetLastIncompleteRun: %v", err)
	}
	if run == nil || run.ID != "test123" || run.Status != StatusRunning {
		t.Fatalf("incomplete run = %+v", run)
	}

	if err := fs.SaveResults("other", nil); err == nil {
		t.Error("expected a run ID mismatch error")
	}
	if err := fs.SaveResults("test123", []Result{{Input: "a@cd", Target: "a@memory", Latency: "PT1S", RecordCount: 3}}); err != nil {
		t.Fatalf("SaveResults: %v", err)
	}
	if err := fs.CompleteRun("test123", StatusSuccess, ""); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	// Reload from disk
	fs2, err := NewFileState(stateFile)
	if err != nil {
		t.Fatalf("NewFileState reload: %v", err)
	}
	if run, _ := fs2.GetLastIncompleteRun(); run != nil {
		t.Errorf("expected no incomplete run after completion, got %+v", run)
	}
	run, _ = fs2.GetRunByID("test123")
	if run == nil || run.Status != StatusSuccess || run.CompletedAt == nil {
		t.Fatalf("reloaded run = %+v", run)
	}
	results, err := fs2.GetResults("test123")
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if len(results) != 1 || results[0].RecordCount != 3 || results[0].ErrorCode != nil {
		t.Errorf("results = %+v", results)
	}
}

func TestFileState_NewRunReplacesPrevious(t *testing.T) {
	fs, err := NewFileState(filepath.Join(t.TempDir(), "last-run.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.CreateRun("one", "transfer", nil); err != nil {
		t.Fatal(err)
	}
	if err := fs.SaveResults("one", []Result{{Input: "a@cd"}}); err != nil {
		t.Fatal(err)
	}
	if err := fs.CreateRun("two", "transfer", nil); err != nil {
		t.Fatal(err)
	}
	if run, _ := fs.GetRunByID("one"); run != nil {
		t.Error("the previous run should be replaced")
	}
	if results, _ := fs.GetResults("two"); len(results) != 0 {
		t.Errorf("results of the new run = %d, want 0", len(results))
	}
	if err := fs.CompleteRun("one", StatusSuccess, ""); err == nil {
		t.Error("expected a run ID mismatch completing a replaced run")
	}
}
