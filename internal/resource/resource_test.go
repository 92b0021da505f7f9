package resource

import (
	"context"
	"errors"
	"testing"

	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/relation"
)

type stubConn struct {
	name    string
	current string
	closed  int
	ds      *stubDS
}

func (c *stubConn) Name() string             { return c.name }
func (c *stubConn) URI() string              { return "stub://" + c.name }
func (c *stubConn) Scheme() string           { return "stub" }
func (c *stubConn) ServiceID() string        { return "stub" }
func (c *stubConn) CurrentPath() string      { return c.current }
func (c *stubConn) Capabilities() Capability { return CapSelect }
func (c *stubConn) DataSystem() DataSystem   { return c.ds }
func (c *stubConn) Close() error             { c.closed++; return nil }
func (c *stubConn) DataPath(p string, mt MediaType) (*DataPath, error) {
	return NewDataPath(c, p, mt), nil
}

type stubDS struct {
	existing map[string]*relation.Def
	describe int
}

func (s *stubDS) Exists(_ context.Context, dp *DataPath) (bool, error) {
	_, ok := s.existing[dp.Path()]
	return ok, nil
}
func (s *stubDS) IsEmpty(context.Context, *DataPath) (bool, error) { return true, nil }
func (s *stubDS) IsContainer(dp *DataPath) bool                    { return dp.Path() == "" }
func (s *stubDS) Create(context.Context, *DataPath, *DataPath) error {
	return nil
}
func (s *stubDS) Drop(context.Context, *DataPath) error     { return nil }
func (s *stubDS) Truncate(context.Context, *DataPath) error { return nil }
func (s *stubDS) Select(context.Context, string, MediaType) ([]*DataPath, error) {
	return nil, nil
}
func (s *stubDS) Count(context.Context, *DataPath) (int64, error) { return -1, nil }
func (s *stubDS) Child(parent *DataPath, name string) (*DataPath, error) {
	return parent.Connection().DataPath(name, MediaTable)
}
func (s *stubDS) Describe(_ context.Context, dp *DataPath) (*relation.Def, error) {
	s.describe++
	return s.existing[dp.Path()].Clone(), nil
}
func (s *stubDS) FreeForm(*DataPath) bool                        { return true }
func (s *stubDS) TargetColumn(c relation.Column) relation.Column { return c }
func (s *stubDS) NewSelectStream(context.Context, *DataPath) (SelectStream, error) {
	return nil, exitcodes.ErrUnsupported
}
func (s *stubDS) NewInsertStream(context.Context, *DataPath, WriteSpec) (InsertStream, error) {
	return nil, exitcodes.ErrUnsupported
}

func newStub(name string) *stubConn {
	def := relation.New()
	def.MustAddColumn("id", relation.TypeInteger)
	return &stubConn{name: name, ds: &stubDS{existing: map[string]*relation.Def{"users": def}}}
}

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		"sqlite":     "sqlite",
		"My-Conn":    "my_conn",
		" my conn ":  "my_conn",
		"a--b..c":    "a_b_c",
		"STRASSE":    "strasse",
		"trailing--": "trailing",
	}
	for in, want := range tests {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	conn := newStub("My-Conn")
	if err := r.Add(conn); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(newStub("my_conn")); err == nil {
		t.Error("expected duplicate name error")
	}
	got, err := r.Get("MY_CONN")
	if err != nil || got != conn {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if _, err := r.Get("missing"); !errors.Is(err, exitcodes.ErrConnectionNotFound) {
		t.Errorf("Get(missing) error = %v", err)
	}

	removed, err := r.Remove("my-conn")
	if err != nil || removed != conn {
		t.Fatalf("Remove = %v, %v", removed, err)
	}
	if conn.closed != 1 {
		t.Errorf("Remove should close the connection, closed=%d", conn.closed)
	}
	if r.Has("my_conn") {
		t.Error("connection still registered after Remove")
	}
	if err := r.Drop("my_conn"); !errors.Is(err, exitcodes.ErrConnectionNotFound) {
		t.Errorf("Drop of a removed connection = %v", err)
	}
}

func TestRegistryClose(t *testing.T) {
	r := NewRegistry()
	a, b := newStub("a"), newStub("b")
	_ = r.Add(a)
	_ = r.Add(b)
	if got := r.Names(); len(got) != 2 || got[0] != "a" {
		t.Errorf("Names = %v", got)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if a.closed != 1 || b.closed != 1 || len(r.Names()) != 0 {
		t.Error("Close should close and forget every connection")
	}
}

func TestDataPathRelation(t *testing.T) {
	ctx := context.Background()
	conn := newStub("stub")

	users, _ := conn.DataPath("users", MediaTable)
	def, err := users.Relation(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if def.Len() != 1 {
		t.Fatalf("described columns = %d", def.Len())
	}
	again, _ := users.Relation(ctx)
	if again != def || conn.ds.describe != 1 {
		t.Error("relation should be described once and cached")
	}

	fresh, _ := conn.DataPath("new_table", MediaTable)
	def, err = fresh.Relation(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if def.Len() != 0 || !def.FreeForm {
		t.Error("missing resource should get an empty free-form definition")
	}
}

func TestDataPathNames(t *testing.T) {
	conn := newStub("cd")
	conn.current = "/work"
	dp, _ := conn.DataPath("/work/data/sales.csv", MediaCSV)
	if dp.Name() != "sales.csv" || dp.LogicalName() != "sales" {
		t.Errorf("Name = %q LogicalName = %q", dp.Name(), dp.LogicalName())
	}
	if dp.RelativePath() != "data/sales.csv" {
		t.Errorf("RelativePath = %q", dp.RelativePath())
	}
	if dp.String() != "/work/data/sales.csv@cd" {
		t.Errorf("String = %q", dp.String())
	}

	exe := NewExecutable(newStub("sqlite"), dp)
	if !exe.IsRuntime() || exe.Name() != "sales.csv" {
		t.Errorf("executable name = %q", exe.Name())
	}
	if exe.String() != "(/work/data/sales.csv@cd)@sqlite" {
		t.Errorf("executable String = %q", exe.String())
	}
	if _, err := exe.Child("x"); !errors.Is(err, exitcodes.ErrUnsupported) {
		t.Error("an executable is not a container")
	}
}

func TestWriteSpecSetColumns(t *testing.T) {
	spec := WriteSpec{Kind: StatementUpdate, Columns: []string{"name", "age", "id"}, KeyColumns: []string{"id"}}
	got := spec.SetColumns()
	if len(got) != 2 || got[0] != "name" || got[1] != "age" {
		t.Errorf("SetColumns = %v", got)
	}
}
