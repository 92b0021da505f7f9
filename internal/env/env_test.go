package env

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

func newTestEnv(t *testing.T, files map[string]string, conns ...ConnectionSpec) *Environment {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	e, err := New(Options{WorkDir: dir, Home: t.TempDir(), Connections: conns})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestBuiltins(t *testing.T) {
	e := newTestEnv(t, nil)
	for _, name := range []string{ConnCd, ConnTemp, ConnHome, ConnMemory, ConnNoop} {
		if !e.Registry().Has(name) {
			t.Errorf("built-in connection %s missing", name)
		}
	}
	if e.DefaultConnection() != ConnCd {
		t.Errorf("default connection = %s", e.DefaultConnection())
	}
}

func TestUnknownDefaultConnection(t *testing.T) {
	_, err := New(Options{WorkDir: t.TempDir(), Home: t.TempDir(), DefaultConnection: "nope"})
	if !errors.Is(err, exitcodes.ErrConnectionNotFound) {
		t.Errorf("New = %v, want ErrConnectionNotFound", err)
	}
}

func TestSelectBackReferences(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, map[string]string{
		"sales_1.csv": "id\n1\n",
		"sales_2.csv": "id\n2\n",
		"other.csv":   "id\n",
	})
	dps, err := e.Select(ctx, true, "sales_*.csv")
	if err != nil {
		t.Fatal(err)
	}
	if len(dps) != 2 {
		t.Fatalf("selected %d resources, want 2", len(dps))
	}
	for i, want := range []string{"1", "2"} {
		if v, _ := dps[i].Attribute("1"); v != want {
			t.Errorf("resource %s: $1 = %q, want %q", dps[i], v, want)
		}
		if v, _ := dps[i].Attribute("0"); v != "sales_"+want+".csv" {
			t.Errorf("resource %s: $0 = %q", dps[i], v)
		}
	}

	// an absolute pattern is relativized against the current path
	cd, _ := e.Connection(ConnCd)
	abs := filepath.ToSlash(filepath.Join(cd.CurrentPath(), "sales_?.csv"))
	dps, err = e.Select(ctx, true, abs+"@cd")
	if err != nil {
		t.Fatal(err)
	}
	if len(dps) != 2 {
		t.Fatalf("absolute selection = %d resources", len(dps))
	}
	if v, _ := dps[1].Attribute("1"); v != "2" {
		t.Errorf("$1 of absolute selection = %q", v)
	}

	// duplicates across selectors are dropped
	dps, _ = e.Select(ctx, true, "sales_1.csv", "sales_*.csv")
	if len(dps) != 2 {
		t.Errorf("duplicate selection returned %d resources", len(dps))
	}
}

func TestSelectStrictness(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, map[string]string{"a.csv": "x\n"})

	if _, err := e.Select(ctx, true, "a.csv", "missing_*.csv"); !errors.Is(err, exitcodes.ErrNoSelection) {
		t.Errorf("strict Select = %v, want ErrNoSelection", err)
	}
	dps, err := e.Select(ctx, false, "a.csv", "missing_*.csv")
	if err != nil || len(dps) != 1 {
		t.Errorf("non-strict Select = %v, %v", dps, err)
	}

	_, err = e.Select(ctx, false, "a.csv@nowhere")
	if !errors.Is(err, exitcodes.ErrConnectionNotFound) {
		t.Fatalf("unknown connection = %v", err)
	}
	if got := err.Error(); got != "The connection (nowhere) given by the data uri (a.csv@nowhere) is unknown: connection not found" {
		t.Errorf("message = %q", got)
	}
}

func TestScriptSelection(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.ToSlash(filepath.Join(t.TempDir(), "test.db"))
	e := newTestEnv(t, map[string]string{
		"sql/one.sql": "select 1 as n union all select 2",
		"sql/two.sql": "select 'a' as s",
	}, ConnectionSpec{Name: "DB", URI: "sqlite://" + dbPath})

	dps, err := e.Select(ctx, true, "(sql/*.sql@cd)@db")
	if err != nil {
		t.Fatal(err)
	}
	if len(dps) != 2 {
		t.Fatalf("selected %d executables", len(dps))
	}
	exe := dps[0]
	if !exe.IsRuntime() || exe.Connection().Name() != "db" || exe.Script().Name() != "one.sql" {
		t.Fatalf("unexpected executable %s", exe)
	}
	if v, _ := exe.Attribute("1"); v != "one" {
		t.Errorf("$1 of the executable = %q", v)
	}
	if n, err := exe.Count(ctx); err != nil || n != 2 {
		t.Errorf("Count = %d, %v", n, err)
	}

	one, err := e.DataPath(ctx, "(sql/two.sql)@db")
	if err != nil {
		t.Fatal(err)
	}
	def, err := one.Relation(ctx)
	if err != nil || def.Len() != 1 || def.Column(1).Name != "s" {
		t.Errorf("relation of the query = %v, %v", def, err)
	}
}

func TestScriptDepth(t *testing.T) {
	e := newTestEnv(t, nil)
	uri := "x.sql@cd"
	for i := 0; i <= maxScriptDepth+1; i++ {
		uri = "(" + uri + ")@memory"
	}
	if _, err := e.Select(context.Background(), true, uri); !errors.Is(err, exitcodes.ErrInvalidURI) {
		t.Errorf("deep script = %v, want ErrInvalidURI", err)
	}
}

func TestWebSelection(t *testing.T) {
	e := newTestEnv(t, nil)
	dps, err := e.Select(context.Background(), true, "https://example.com/stats.html")
	if err != nil {
		t.Fatal(err)
	}
	if len(dps) != 1 || dps[0].Path() != "https://example.com/stats.html" || dps[0].MediaType() != resource.MediaHTML {
		t.Errorf("web selection = %v", dps)
	}
}

func TestTargetFor(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t, map[string]string{"sales_eu.csv": "id\n"})
	dps, err := e.Select(ctx, true, "sales_*.csv")
	if err != nil {
		t.Fatal(err)
	}
	target, err := e.TargetFor(ctx, "report_$1@memory", dps[0])
	if err != nil {
		t.Fatal(err)
	}
	if target.Path() != "report_eu" || target.Connection().Name() != ConnMemory {
		t.Errorf("target = %s", target)
	}
}

func TestRuntimeConnection(t *testing.T) {
	e := newTestEnv(t, nil)
	conn, err := e.RuntimeConnection(ConnectionSpec{Name: "Scratch Pad", URI: "memory://"})
	if err != nil {
		t.Fatal(err)
	}
	if conn.Name() != "scratch_pad" {
		t.Errorf("name = %s", conn.Name())
	}
	if e.Registry().Has("scratch_pad") {
		t.Error("a runtime connection must not be registered implicitly")
	}
	if err := e.Registry().Add(conn); err != nil {
		t.Fatal(err)
	}
	if _, err := e.AddConnection(ConnectionSpec{Name: "scratch pad", URI: "memory://"}); err == nil {
		t.Error("duplicate connection name should fail")
	}
	if err := e.Registry().Drop("SCRATCH_PAD"); err != nil {
		t.Fatal(err)
	}
	if e.Registry().Has("scratch_pad") {
		t.Error("dropped connection still registered")
	}
}
