package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/tabulify/tabulify-sub009/internal/driver/sqldb"
	"github.com/tabulify/tabulify-sub009/internal/relation"
)

// Dialect implements sqldb.Dialect for PostgreSQL.
type Dialect struct{}

func (d *Dialect) DBType() string { return "postgres" }

func (d *Dialect) DriverName() string { return "pgx" }

// DSN normalizes the scheme to postgres:// and applies the sslmode
// attribute (prefer when absent).
func (d *Dialect) DSN(uri string, attrs map[string]string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parsing postgres uri: %w", err)
	}
	u.Scheme = "postgres"
	params := u.Query()
	if params.Get("sslmode") == "" {
		if mode := attrs["sslmode"]; mode != "" {
			params.Set("sslmode", mode)
		} else {
			params.Set("sslmode", "prefer")
		}
	}
	if user := attrs["user"]; user != "" && u.User == nil {
		if pw, ok := attrs["password"]; ok {
			u.User = url.UserPassword(user, pw)
		} else {
			u.User = url.User(user)
		}
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}

func (d *Dialect) DefaultSchema(attrs map[string]string) string {
	if s := attrs["schema"]; s != "" {
		return s
	}
	return "public"
}

func (d *Dialect) QuoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}

func (d *Dialect) QualifyTable(schema, table string) string {
	return d.QuoteIdentifier(schema) + "." + d.QuoteIdentifier(table)
}

func (d *Dialect) ParameterPlaceholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

// Literal inlines strings with pq.QuoteLiteral, which escapes
// backslashes, and booleans as TRUE/FALSE.
func (d *Dialect) Literal(v any) string {
	switch t := v.(type) {
	case string:
		return pq.QuoteLiteral(t)
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	case []byte:
		return `'\x` + fmt.Sprintf("%x", t) + `'::bytea`
	}
	return sqldb.QuoteLiteral(v)
}

func (d *Dialect) ColumnType(col relation.Column) string {
	switch col.Type {
	case relation.TypeFloat, relation.TypeDouble:
		return "DOUBLE PRECISION"
	case relation.TypeTimestamp:
		return "TIMESTAMP"
	case relation.TypeJSON:
		return "JSONB"
	case relation.TypeClob:
		return "TEXT"
	}
	return sqldb.ANSIColumnType(col)
}

func (d *Dialect) ListTables(ctx context.Context, db *sql.DB, schema string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = $1
		ORDER BY table_name`, schema)
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

func (d *Dialect) DescribeTable(ctx context.Context, db *sql.DB, schema, table string) (*relation.Def, error) {
	return sqldb.DescribeInformationSchema(ctx, db, d, schema, table)
}

func (d *Dialect) TruncateStatement(schema, table string) string {
	return "TRUNCATE TABLE " + d.QualifyTable(schema, table)
}

func (d *Dialect) RenameStatement(schema, from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", d.QualifyTable(schema, from), d.QuoteIdentifier(to))
}

// MergeStatement builds INSERT ... ON CONFLICT (keys) DO UPDATE SET col = excluded.col.
func (d *Dialect) MergeStatement(schema, table string, cols, keys []string) string {
	return sqldb.UpsertOnConflict(d, schema, table, cols, keys)
}
