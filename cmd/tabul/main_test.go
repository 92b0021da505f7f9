package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
)

// workspace creates a directory with a csv file and an environment file
// declaring a sqlite connection, and makes it the working directory.
func workspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	// Equivalent of t.Chdir (Go 1.24+) for older toolchains.
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})

	csv := "id,name\n1,ann\n2,bob\n3,cid\n"
	if err := os.WriteFile(filepath.Join(dir, "people.csv"), []byte(csv), 0600); err != nil {
		t.Fatal(err)
	}
	cfg := fmt.Sprintf(`connections:
  lite:
    uri: sqlite://%s
history:
  data_dir: %s
`, filepath.ToSlash(filepath.Join(dir, "lite.db")), filepath.ToSlash(filepath.Join(dir, "state")))
	if err := os.WriteFile(filepath.Join(dir, "tabul.yml"), []byte(cfg), 0600); err != nil {
		t.Fatal(err)
	}
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := newApp(&out, &errOut)
	err := app.Run(append([]string{"tabul"}, args...))
	if err != nil {
		t.Logf("stderr: %s", errOut.String())
	}
	return out.String(), err
}

func TestTransferCSVToSQLite(t *testing.T) {
	workspace(t)

	out, err := run(t, "transfer", "*.csv@cd", "$1@lite")
	if err != nil {
		t.Fatalf("transfer error: %v", err)
	}
	if !strings.Contains(out, "people.csv@cd") || !strings.Contains(out, "people@lite") {
		t.Errorf("result table missing the pair:\n%s", out)
	}

	out, err = run(t, "print", "people@lite")
	if err != nil {
		t.Fatalf("print error: %v", err)
	}
	for _, name := range []string{"ann", "bob", "cid"} {
		if !strings.Contains(out, name) {
			t.Errorf("print output missing %s:\n%s", name, out)
		}
	}

	out, err = run(t, "describe", "people@lite")
	if err != nil {
		t.Fatalf("describe error: %v", err)
	}
	if !strings.Contains(out, "name") || !strings.Contains(out, "id") {
		t.Errorf("describe output:\n%s", out)
	}
}

func TestTransferRecordsHistory(t *testing.T) {
	workspace(t)

	out, err := run(t, "--output-json", "transfer", "--run-id", "run-42", "people.csv@cd", "people@lite")
	if err != nil {
		t.Fatalf("transfer error: %v", err)
	}
	var doc resultDoc
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	if doc.RunID != "run-42" || doc.Rows != 3 || doc.ExitStatus != 0 || len(doc.Results) != 1 {
		t.Errorf("result = %+v", doc)
	}

	out, err = run(t, "history")
	if err != nil {
		t.Fatalf("history error: %v", err)
	}
	if !strings.Contains(out, "run-42") || !strings.Contains(out, "success") {
		t.Errorf("history output:\n%s", out)
	}

	out, err = run(t, "history", "--run", "run-42")
	if err != nil {
		t.Fatalf("history --run error: %v", err)
	}
	if !strings.Contains(out, "people.csv@cd") || !strings.Contains(out, "3") {
		t.Errorf("run details:\n%s", out)
	}

	if _, err := run(t, "history", "--run", "missing"); exitcodes.FromError(err) != exitcodes.ValidationError {
		t.Errorf("unknown run: exit code %d, want %d (err %v)", exitcodes.FromError(err), exitcodes.ValidationError, err)
	}
}

func TestTransferExitCodes(t *testing.T) {
	workspace(t)

	_, err := run(t, "transfer", "nothing*.csv@cd", "x@memory")
	if got := exitcodes.FromError(err); got != exitcodes.SelectionError {
		t.Errorf("empty selection: exit code %d, want %d (err %v)", got, exitcodes.SelectionError, err)
	}

	if _, err := run(t, "transfer", "people.csv@cd", "people@lite"); err != nil {
		t.Fatalf("first transfer error: %v", err)
	}
	_, err = run(t, "transfer", "--operation", "copy", "people.csv@cd", "people@lite")
	if got := exitcodes.FromError(err); got != exitcodes.NotEmptyError {
		t.Errorf("copy into a loaded target: exit code %d, want %d (err %v)", got, exitcodes.NotEmptyError, err)
	}

	if _, err := run(t, "transfer", "--operation", "copy", "--target-operation", "truncate", "people.csv@cd", "people@lite"); err != nil {
		t.Errorf("copy with truncate error: %v", err)
	}

	_, err = run(t, "transfer", "people.csv@cd")
	if got := exitcodes.FromError(err); got != exitcodes.ConfigError {
		t.Errorf("missing target: exit code %d, want %d", got, exitcodes.ConfigError)
	}

	_, err = run(t, "transfer", "--operation", "explode", "people.csv@cd", "x@memory")
	if got := exitcodes.FromError(err); got != exitcodes.ConfigError {
		t.Errorf("bad operation: exit code %d, want %d", got, exitcodes.ConfigError)
	}
}

func TestListAndConnections(t *testing.T) {
	workspace(t)

	out, err := run(t, "list", "--count", "*.csv@cd")
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if !strings.Contains(out, "people.csv") || !strings.Contains(out, "3") {
		t.Errorf("list output:\n%s", out)
	}

	out, err = run(t, "--output-json", "connection", "list")
	if err != nil {
		t.Fatalf("connection list error: %v", err)
	}
	var conns []struct {
		Name    string `json:"name"`
		Origin  string `json:"origin"`
		Default bool   `json:"default"`
	}
	if err := json.Unmarshal([]byte(out), &conns); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	origins := make(map[string]string)
	for _, c := range conns {
		origins[c.Name] = c.Origin
		if c.Default && c.Name != "cd" {
			t.Errorf("default connection = %s, want cd", c.Name)
		}
	}
	if origins["lite"] != "config" || origins["memory"] != "built-in" {
		t.Errorf("origins = %v", origins)
	}
}

func TestParseColumnMaps(t *testing.T) {
	names, err := parseNameMap([]string{"id=code", "name = label,age=years"})
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 3 || names["id"] != "code" || names["name"] != "label" || names["age"] != "years" {
		t.Errorf("name map = %v", names)
	}
	if _, err := parseNameMap([]string{"id"}); err == nil {
		t.Error("expected an error for an entry without =")
	}
	if _, err := parseNameMap([]string{"id=a", "id=b"}); err == nil {
		t.Error("expected an error for a source mapped twice")
	}

	positions, err := parsePositionMap([]string{"1=2", "2=1"})
	if err != nil {
		t.Fatal(err)
	}
	if positions[1] != 2 || positions[2] != 1 {
		t.Errorf("position map = %v", positions)
	}
	if _, err := parsePositionMap([]string{"a=1"}); err == nil {
		t.Error("expected an error for a non numeric position")
	}
}

func TestStringify(t *testing.T) {
	got := stringify([]any{nil, []byte("x"), 3, "s"})
	want := []string{"", "x", "3", "s"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stringify[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
