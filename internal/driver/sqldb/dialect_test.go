package sqldb_test

import (
	"strings"
	"testing"
	"time"

	"github.com/tabulify/tabulify-sub009/internal/driver"
	"github.com/tabulify/tabulify-sub009/internal/driver/mssql"
	"github.com/tabulify/tabulify-sub009/internal/driver/postgres"
	"github.com/tabulify/tabulify-sub009/internal/driver/sqldb"
	"github.com/tabulify/tabulify-sub009/internal/driver/sqlite"
	"github.com/tabulify/tabulify-sub009/internal/relation"
)

var (
	pgDialect     sqldb.Dialect = &postgres.Dialect{}
	mssqlDialect  sqldb.Dialect = &mssql.Dialect{}
	sqliteDialect sqldb.Dialect = &sqlite.Dialect{}
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		scheme string
		want   string
	}{
		{"postgres", "postgres"},
		{"postgresql", "postgres"},
		{"PG", "postgres"},
		{"mssql", "sqlserver"},
		{"sqlite3", "sqlite"},
		{"unknown", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.scheme, func(t *testing.T) {
			if got := driver.Canonicalize(tt.scheme); got != tt.want {
				t.Errorf("Canonicalize(%q) = %q, want %q", tt.scheme, got, tt.want)
			}
		})
	}
	if _, err := driver.Get("oracle"); err == nil {
		t.Error("expected an error for an unregistered scheme")
	}
}

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		dialect  sqldb.Dialect
		input    string
		expected string
	}{
		{"postgres simple", pgDialect, "users", `"users"`},
		{"postgres with quote", pgDialect, `user"name`, `"user""name"`},
		{"mssql simple", mssqlDialect, "users", "[users]"},
		{"mssql with bracket", mssqlDialect, "user]name", "[user]]name]"},
		{"sqlite simple", sqliteDialect, "users", `"users"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.dialect.QuoteIdentifier(tt.input)
			if got != tt.expected {
				t.Errorf("QuoteIdentifier(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestQualifyTable(t *testing.T) {
	tests := []struct {
		name     string
		dialect  sqldb.Dialect
		schema   string
		table    string
		expected string
	}{
		{"postgres", pgDialect, "public", "users", `"public"."users"`},
		{"mssql", mssqlDialect, "dbo", "users", "[dbo].[users]"},
		{"sqlite main", sqliteDialect, "main", "users", `"users"`},
		{"sqlite attached", sqliteDialect, "aux", "users", `"aux"."users"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.dialect.QualifyTable(tt.schema, tt.table)
			if got != tt.expected {
				t.Errorf("QualifyTable(%q, %q) = %q, want %q", tt.schema, tt.table, got, tt.expected)
			}
		})
	}
}

func TestLiteral(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		name     string
		dialect  sqldb.Dialect
		value    any
		expected string
	}{
		{"null", sqliteDialect, nil, "NULL"},
		{"int", sqliteDialect, int64(42), "42"},
		{"quote", sqliteDialect, "O'Hara", "'O''Hara'"},
		{"time", sqliteDialect, ts, "'2024-03-01 10:30:00'"},
		{"pg backslash", pgDialect, `a\b`, ` E'a\\b'`},
		{"pg bool", pgDialect, true, "TRUE"},
		{"mssql unicode", mssqlDialect, "x", "N'x'"},
		{"mssql binary", mssqlDialect, []byte{0xca, 0xfe}, "0xcafe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dialect.Literal(tt.value); got != tt.expected {
				t.Errorf("Literal(%v) = %q, want %q", tt.value, got, tt.expected)
			}
		})
	}
}

func TestColumnType(t *testing.T) {
	varchar := relation.Column{Name: "c", Type: relation.TypeVarchar, Precision: 50}
	if got := pgDialect.ColumnType(varchar); got != "VARCHAR(50)" {
		t.Errorf("postgres varchar = %s", got)
	}
	if got := mssqlDialect.ColumnType(varchar); got != "NVARCHAR(50)" {
		t.Errorf("mssql varchar = %s", got)
	}
	if got := sqliteDialect.ColumnType(relation.Column{Type: relation.TypeBigInt}); got != "INTEGER" {
		t.Errorf("sqlite bigint = %s", got)
	}
	if got := mssqlDialect.ColumnType(relation.Column{Type: relation.TypeDecimal, Precision: 50, Scale: 2}); got != "DECIMAL(38,2)" {
		t.Errorf("mssql decimal = %s", got)
	}
}

func TestMergeStatement(t *testing.T) {
	cols := []string{"id", "name"}
	keys := []string{"id"}

	pg := pgDialect.MergeStatement("public", "users", cols, keys)
	for _, want := range []string{
		`INSERT INTO "public"."users" ("id", "name") VALUES ($1, $2)`,
		`ON CONFLICT ("id")`,
		`DO UPDATE SET "name" = excluded."name"`,
	} {
		if !strings.Contains(pg, want) {
			t.Errorf("postgres merge %q missing %q", pg, want)
		}
	}

	ms := mssqlDialect.MergeStatement("dbo", "users", cols, keys)
	for _, want := range []string{
		"MERGE INTO [dbo].[users] AS target",
		"USING (VALUES (@p1, @p2)) AS source ([id], [name])",
		"ON target.[id] = source.[id]",
		"WHEN MATCHED THEN UPDATE SET [name] = source.[name]",
		"WHEN NOT MATCHED THEN INSERT ([id], [name]) VALUES (source.[id], source.[name]);",
	} {
		if !strings.Contains(ms, want) {
			t.Errorf("mssql merge %q missing %q", ms, want)
		}
	}

	onlyKeys := sqliteDialect.MergeStatement("main", "t", []string{"id"}, []string{"id"})
	if !strings.HasSuffix(onlyKeys, "DO NOTHING") {
		t.Errorf("merge with only key columns = %q", onlyKeys)
	}
}

func TestDSN(t *testing.T) {
	dsn, err := pgDialect.DSN("postgresql://u:p@localhost:5432/db", map[string]string{"sslmode": "disable"})
	if err != nil || dsn != "postgres://u:p@localhost:5432/db?sslmode=disable" {
		t.Errorf("postgres DSN = %q, %v", dsn, err)
	}
	dsn, err = mssqlDialect.DSN("mssql://sa:pw@host:1433", map[string]string{"database": "app", "encrypt": "false"})
	if err != nil || !strings.HasPrefix(dsn, "sqlserver://sa:pw@host:1433?") ||
		!strings.Contains(dsn, "database=app") || !strings.Contains(dsn, "encrypt=false") {
		t.Errorf("mssql DSN = %q, %v", dsn, err)
	}
	dsn, _ = sqliteDialect.DSN("sqlite:///tmp/app.db", nil)
	if !strings.HasPrefix(dsn, "/tmp/app.db?_pragma=journal_mode(WAL)") {
		t.Errorf("sqlite DSN = %q", dsn)
	}
}

func TestInlineParameters(t *testing.T) {
	tests := []struct {
		name    string
		dialect sqldb.Dialect
		query   string
		args    []any
		want    string
	}{
		{"postgres value with placeholder text", pgDialect,
			"INSERT INTO t (a, b) VALUES ($1, $2)", []any{"x", "price $1"},
			"INSERT INTO t (a, b) VALUES ('x', 'price $1')"},
		{"mssql value with placeholder text", mssqlDialect,
			"INSERT INTO t (a, b) VALUES (@p1, @p2)", []any{"x", "see @p1 and @p2"},
			"INSERT INTO t (a, b) VALUES (N'x', N'see @p1 and @p2')"},
		{"sqlite positional", sqliteDialect,
			"UPDATE t SET a = ? WHERE id = ?", []any{"it's ?", 7},
			"UPDATE t SET a = 'it''s ?' WHERE id = 7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sqldb.InlineParameters(tt.dialect, tt.query, tt.args); got != tt.want {
				t.Errorf("InlineParameters = %q, want %q", got, tt.want)
			}
		})
	}

	// $1 must not match the prefix of $10.
	args := make([]any, 10)
	for i := range args {
		args[i] = i + 1
	}
	got := sqldb.InlineParameters(pgDialect, "VALUES ($1, $10)", args)
	if got != "VALUES (1, 10)" {
		t.Errorf("InlineParameters with ten args = %q", got)
	}
}
