package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tabulify/tabulify-sub009/internal/driver/sqldb"
	"github.com/tabulify/tabulify-sub009/internal/relation"

	_ "modernc.org/sqlite"
)

// Dialect implements sqldb.Dialect for SQLite.
type Dialect struct{}

func (d *Dialect) DBType() string { return "sqlite" }

func (d *Dialect) DriverName() string { return "sqlite" }

// DSN returns the file path of uri with WAL journaling. A path of
// ":memory:" opens a shared in-memory database named after the host.
func (d *Dialect) DSN(uri string, _ map[string]string) (string, error) {
	rest := uri[strings.Index(uri, ":")+1:]
	rest = strings.TrimPrefix(rest, "//")
	if rest == "" || strings.HasSuffix(rest, ":memory:") {
		name := strings.TrimSuffix(strings.TrimSuffix(rest, ":memory:"), "/")
		if name == "" {
			name = "memdb"
		}
		return "file:" + url.PathEscape(name) + "?mode=memory&cache=shared&_pragma=busy_timeout(5000)", nil
	}
	path, err := url.PathUnescape(rest)
	if err != nil {
		return "", err
	}
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	return filepath.FromSlash(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", nil
}

func (d *Dialect) DefaultSchema(_ map[string]string) string { return "main" }

func (d *Dialect) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *Dialect) QualifyTable(schema, table string) string {
	if schema == "" || schema == "main" {
		return d.QuoteIdentifier(table)
	}
	return d.QuoteIdentifier(schema) + "." + d.QuoteIdentifier(table)
}

func (d *Dialect) ParameterPlaceholder(_ int) string { return "?" }

func (d *Dialect) Literal(v any) string { return sqldb.QuoteLiteral(v) }

func (d *Dialect) ColumnType(col relation.Column) string {
	switch col.Type {
	case relation.TypeInteger, relation.TypeBigInt, relation.TypeSmallInt:
		return "INTEGER"
	case relation.TypeFloat, relation.TypeDouble, relation.TypeReal:
		return "REAL"
	case relation.TypeBinary:
		return "BLOB"
	case relation.TypeClob, relation.TypeJSON, relation.TypeOther:
		return "TEXT"
	}
	return sqldb.ANSIColumnType(col)
}

func (d *Dialect) ListTables(ctx context.Context, db *sql.DB, schema string) ([]string, error) {
	master := "sqlite_master"
	if schema != "" && schema != "main" {
		master = d.QuoteIdentifier(schema) + ".sqlite_master"
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf(
		"SELECT name FROM %s WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%%' ORDER BY name", master))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// DescribeTable reads PRAGMA table_info for the columns and primary key and
// PRAGMA index_list for the unique constraints.
func (d *Dialect) DescribeTable(ctx context.Context, db *sql.DB, _ string, table string) (*relation.Def, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", d.QuoteIdentifier(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	def := relation.New()
	def.Strict = true
	type pkCol struct {
		name string
		seq  int
	}
	var pk []pkCol
	for rows.Next() {
		var (
			cid, notNull, pkSeq int
			name, decl          string
			dflt                sql.NullString
		)
		if err := rows.Scan(&cid, &name, &decl, &notNull, &dflt, &pkSeq); err != nil {
			return nil, err
		}
		typ, precision, scale := relation.ParseType(decl)
		if decl == "" {
			typ = relation.TypeVarchar
		}
		if _, err := def.AddColumn(relation.Column{
			Name: name, Type: typ, TypeName: decl,
			Precision: precision, Scale: scale,
			Nullable: notNull == 0 && pkSeq == 0,
		}); err != nil {
			return nil, err
		}
		if pkSeq > 0 {
			pk = append(pk, pkCol{name, pkSeq})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(pk, func(i, j int) bool { return pk[i].seq < pk[j].seq })
	if len(pk) > 0 {
		names := make([]string, len(pk))
		for i, c := range pk {
			names[i] = c.name
		}
		if err := def.SetPrimaryKey(names...); err != nil {
			return nil, err
		}
	}

	uniques, err := d.uniqueIndexes(ctx, db, table)
	if err != nil {
		return nil, err
	}
	for _, cols := range uniques {
		if err := def.AddUniqueKey(cols...); err != nil {
			return nil, err
		}
	}
	return def, nil
}

func (d *Dialect) uniqueIndexes(ctx context.Context, db *sql.DB, table string) ([][]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%s)", d.QuoteIdentifier(table)))
	if err != nil {
		return nil, err
	}
	var names []string
	for rows.Next() {
		var (
			seq, unique, partial int
			name, origin         string
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			rows.Close()
			return nil, err
		}
		if unique == 1 && origin == "u" {
			names = append(names, name)
		}
	}
	rows.Close()
	sort.Strings(names)

	var out [][]string
	for _, idx := range names {
		info, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%s)", d.QuoteIdentifier(idx)))
		if err != nil {
			return nil, err
		}
		var cols []string
		for info.Next() {
			var seqno, cid int
			var col string
			if err := info.Scan(&seqno, &cid, &col); err != nil {
				info.Close()
				return nil, err
			}
			cols = append(cols, col)
		}
		info.Close()
		out = append(out, cols)
	}
	return out, nil
}

// TruncateStatement uses DELETE; SQLite has no TRUNCATE.
func (d *Dialect) TruncateStatement(schema, table string) string {
	return "DELETE FROM " + d.QualifyTable(schema, table)
}

func (d *Dialect) RenameStatement(schema, from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", d.QualifyTable(schema, from), d.QuoteIdentifier(to))
}

func (d *Dialect) MergeStatement(schema, table string, cols, keys []string) string {
	return sqldb.UpsertOnConflict(d, schema, table, cols, keys)
}
