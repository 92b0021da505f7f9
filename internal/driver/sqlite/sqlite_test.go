package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tabulify/tabulify-sub009/internal/driver/fs"
	"github.com/tabulify/tabulify-sub009/internal/driver/sqldb"
	"github.com/tabulify/tabulify-sub009/internal/relation"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

func openTestDB(t *testing.T) *sqldb.Connection {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	conn, err := (&Driver{}).Open("sqlite", "sqlite://"+filepath.ToSlash(path), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn.(*sqldb.Connection)
}

func usersDef() *relation.Def {
	def := relation.New()
	def.MustAddColumn("id", relation.TypeInteger)
	def.MustAddColumn("name", relation.TypeVarchar)
	def.MustAddColumn("age", relation.TypeInteger)
	_ = def.SetPrimaryKey("id")
	return def
}

func createUsers(t *testing.T, c *sqldb.Connection) *resource.DataPath {
	t.Helper()
	dp, _ := c.DataPath("users", resource.MediaUnknown)
	dp.SetRelation(usersDef())
	if err := c.Create(context.Background(), dp, nil); err != nil {
		t.Fatal(err)
	}
	dp.ForgetRelation()
	return dp
}

func write(t *testing.T, c *sqldb.Connection, dp *resource.DataPath, spec resource.WriteSpec, rows ...[]any) {
	t.Helper()
	ctx := context.Background()
	s, err := c.NewInsertStream(ctx, dp, spec)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	for _, r := range rows {
		if err := s.Insert(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Commit(ctx); err != nil {
		t.Fatal(err)
	}
}

func readAll(t *testing.T, c *sqldb.Connection, dp *resource.DataPath) [][]any {
	t.Helper()
	s, err := c.NewSelectStream(context.Background(), dp)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	var out [][]any
	for s.Next() {
		out = append(out, append([]any(nil), s.Values()...))
	}
	if err := s.Err(); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestCreateDescribe(t *testing.T) {
	ctx := context.Background()
	c := openTestDB(t)
	dp := createUsers(t, c)

	ok, err := c.Exists(ctx, dp)
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
	def, err := dp.Relation(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if def.Len() != 3 || def.Column(2).Name != "name" || def.Column(2).Type != relation.TypeClob {
		t.Errorf("described columns %v (%v)", def.ColumnNames(), def.Column(2).Type)
	}
	if def.PrimaryKey() == nil || def.PrimaryKey().Columns[0].Name != "id" {
		t.Error("primary key not described")
	}
	if empty, _ := c.IsEmpty(ctx, dp); !empty {
		t.Error("new table should be empty")
	}
}

func TestWriteKinds(t *testing.T) {
	c := openTestDB(t)
	dp := createUsers(t, c)
	all := []string{"id", "name", "age"}

	write(t, c, dp, resource.WriteSpec{Kind: resource.StatementInsert, Columns: all, BindVariables: true},
		[]any{1, "ann", 30}, []any{2, "bob", 40})
	write(t, c, dp, resource.WriteSpec{Kind: resource.StatementUpdate, Columns: []string{"name", "age", "id"}, KeyColumns: []string{"id"}, BindVariables: true},
		[]any{"anna", 31, 1})
	write(t, c, dp, resource.WriteSpec{Kind: resource.StatementMerge, Columns: all, KeyColumns: []string{"id"}, BindVariables: true},
		[]any{2, "bobby", 41}, []any{3, "cid", 50})
	write(t, c, dp, resource.WriteSpec{Kind: resource.StatementMerge, Upsert: resource.UpsertUpdateInsert, Columns: all, KeyColumns: []string{"id"}, BindVariables: true},
		[]any{3, "cyd", 51}, []any{4, "dan", 60})
	write(t, c, dp, resource.WriteSpec{Kind: resource.StatementMerge, Upsert: resource.UpsertInsertUpdate, Columns: all, KeyColumns: []string{"id"}},
		[]any{4, "d'an", 61}, []any{5, "eve", 70})
	write(t, c, dp, resource.WriteSpec{Kind: resource.StatementDelete, Columns: []string{"id"}, KeyColumns: []string{"id"}, BindVariables: true},
		[]any{5})

	rows := readAll(t, c, dp)
	want := []string{"anna", "bobby", "cyd", "d'an"}
	if len(rows) != len(want) {
		t.Fatalf("rows = %v", rows)
	}
	for i, w := range want {
		if rows[i][1] != w {
			t.Errorf("row %d name = %v, want %s", i, rows[i][1], w)
		}
	}
}

func TestRollbackOnClose(t *testing.T) {
	ctx := context.Background()
	c := openTestDB(t)
	dp := createUsers(t, c)
	s, err := c.NewInsertStream(ctx, dp, resource.WriteSpec{Kind: resource.StatementInsert, Columns: []string{"id", "name", "age"}, BindVariables: true})
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Insert(ctx, []any{1, "ann", 30})
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if n, _ := c.Count(ctx, dp); n != 0 {
		t.Errorf("uncommitted rows visible after Close: %d", n)
	}
}

func TestSelectRenameTruncate(t *testing.T) {
	ctx := context.Background()
	c := openTestDB(t)
	dp := createUsers(t, c)
	write(t, c, dp, resource.WriteSpec{Kind: resource.StatementInsert, Columns: []string{"id"}, BindVariables: true}, []any{1})

	got, err := c.Select(ctx, "us*", resource.MediaUnknown)
	if err != nil || len(got) != 1 || got[0].Path() != "users" {
		t.Fatalf("Select = %v, %v", got, err)
	}

	renamed, _ := c.DataPath("people", resource.MediaUnknown)
	if err := c.Rename(ctx, dp, renamed); err != nil {
		t.Fatal(err)
	}
	if ok, _ := c.Exists(ctx, dp); ok {
		t.Error("old name still exists")
	}
	if err := c.Truncate(ctx, renamed); err != nil {
		t.Fatal(err)
	}
	if n, _ := c.Count(ctx, renamed); n != 0 {
		t.Errorf("Count after truncate = %d", n)
	}
	if err := c.Drop(ctx, renamed); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Error("second Close should return the first result")
	}
}

func TestExecutable(t *testing.T) {
	ctx := context.Background()
	c := openTestDB(t)
	dp := createUsers(t, c)
	write(t, c, dp, resource.WriteSpec{Kind: resource.StatementInsert, Columns: []string{"id", "name", "age"}, BindVariables: true},
		[]any{1, "ann", 30}, []any{2, "bob", 40})

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "adults.sql"), []byte("select name from users where age > 35;\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cd, _ := fs.New("cd", dir)
	script, _ := cd.DataPath("adults.sql", resource.MediaUnknown)
	exe := resource.NewExecutable(c, script)

	def, err := exe.Relation(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if def.Len() != 1 || def.Column(1).Name != "name" {
		t.Errorf("query columns = %v", def.ColumnNames())
	}
	if n, err := c.Count(ctx, exe); err != nil || n != 1 {
		t.Errorf("Count = %d, %v", n, err)
	}
	rows := readAll(t, c, exe)
	if len(rows) != 1 || rows[0][0] != "bob" {
		t.Errorf("rows = %v", rows)
	}
}
