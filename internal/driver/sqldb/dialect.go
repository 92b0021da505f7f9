// Package sqldb implements resource.Connection for relational databases on
// top of database/sql. Engine specifics live behind the Dialect interface;
// the sqlite, postgres and mssql packages provide the dialects and register
// the drivers.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tabulify/tabulify-sub009/internal/relation"
)

// Dialect abstracts database-specific SQL syntax differences.
type Dialect interface {
	// DBType returns the engine name (e.g., "sqlite", "postgres").
	DBType() string

	// DriverName returns the database/sql driver name.
	DriverName() string

	// DSN converts a connection uri into the driver data source name.
	DSN(uri string, attrs map[string]string) (string, error)

	// DefaultSchema returns the schema unqualified table names resolve to.
	DefaultSchema(attrs map[string]string) string

	// QuoteIdentifier quotes an identifier (table, column name).
	// PostgreSQL, SQLite: "identifier"
	// MSSQL: [identifier]
	QuoteIdentifier(name string) string

	// QualifyTable returns a fully qualified table reference.
	QualifyTable(schema, table string) string

	// ParameterPlaceholder returns the parameter placeholder for the given index.
	// PostgreSQL: $1, $2, $3
	// MSSQL: @p1, @p2, @p3
	// SQLite: ?, ?, ?
	ParameterPlaceholder(index int) string

	// Literal renders a value inline when bind variables are off.
	Literal(v any) string

	// ColumnType returns the DDL type declaration of a column.
	ColumnType(col relation.Column) string

	// ListTables returns the table and view names of a schema.
	ListTables(ctx context.Context, db *sql.DB, schema string) ([]string, error)

	// DescribeTable reads the columns and keys of a table.
	DescribeTable(ctx context.Context, db *sql.DB, schema, table string) (*relation.Def, error)

	// TruncateStatement returns the statement that deletes every row.
	TruncateStatement(schema, table string) string

	// RenameStatement returns the statement that renames a table in place.
	RenameStatement(schema, from, to string) string

	// MergeStatement returns a native upsert of one row keyed by keys, with
	// the values bound in cols order.
	MergeStatement(schema, table string, cols, keys []string) string
}

// QuoteLiteral renders a value as an ANSI SQL literal.
func QuoteLiteral(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	case []byte:
		return "X'" + hex.EncodeToString(t) + "'"
	case bool:
		if t {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(t)
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", t)
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case time.Time:
		return "'" + t.Format("2006-01-02 15:04:05.999999999") + "'"
	default:
		return QuoteLiteral(fmt.Sprint(t))
	}
}

// InlineParameters replaces the placeholders of query by the literals of
// args. The query is scanned once so that an inlined value is never read
// again as a placeholder.
func InlineParameters(d Dialect, query string, args []any) string {
	first := d.ParameterPlaceholder(1)
	if first == d.ParameterPlaceholder(2) {
		var sb strings.Builder
		rest := query
		for _, a := range args {
			i := strings.Index(rest, first)
			if i < 0 {
				break
			}
			sb.WriteString(rest[:i])
			sb.WriteString(d.Literal(a))
			rest = rest[i+len(first):]
		}
		sb.WriteString(rest)
		return sb.String()
	}

	prefix := strings.TrimSuffix(first, "1")
	if prefix == "" || prefix == first {
		return query
	}
	var sb strings.Builder
	for i := 0; i < len(query); {
		if !strings.HasPrefix(query[i:], prefix) {
			sb.WriteByte(query[i])
			i++
			continue
		}
		j := i + len(prefix)
		for j < len(query) && query[j] >= '0' && query[j] <= '9' {
			j++
		}
		idx, err := strconv.Atoi(query[i+len(prefix) : j])
		if err != nil || idx < 1 || idx > len(args) {
			sb.WriteString(query[i:j])
			i = j
			continue
		}
		sb.WriteString(d.Literal(args[idx-1]))
		i = j
	}
	return sb.String()
}

// ANSIColumnType maps a portable type to a standard declaration. Dialects
// override the types their engine names differently.
func ANSIColumnType(col relation.Column) string {
	switch col.Type {
	case relation.TypeInteger:
		return "INTEGER"
	case relation.TypeBigInt:
		return "BIGINT"
	case relation.TypeSmallInt:
		return "SMALLINT"
	case relation.TypeNumeric, relation.TypeDecimal:
		if col.Precision > 0 {
			return fmt.Sprintf("NUMERIC(%d,%d)", col.Precision, col.Scale)
		}
		return "NUMERIC"
	case relation.TypeFloat, relation.TypeDouble:
		return "DOUBLE PRECISION"
	case relation.TypeReal:
		return "REAL"
	case relation.TypeBoolean:
		return "BOOLEAN"
	case relation.TypeChar:
		if col.Precision > 0 {
			return fmt.Sprintf("CHAR(%d)", col.Precision)
		}
		return "CHAR(1)"
	case relation.TypeVarchar:
		if col.Precision > 0 {
			return fmt.Sprintf("VARCHAR(%d)", col.Precision)
		}
		return "TEXT"
	case relation.TypeDate:
		return "DATE"
	case relation.TypeTime:
		return "TIME"
	case relation.TypeTimestamp:
		return "TIMESTAMP"
	case relation.TypeBinary:
		return "BYTEA"
	}
	return "TEXT"
}

// keyRow is one row of an information_schema key query.
type keyRow struct {
	constraint string
	kind       string
	column     string
}

// DescribeInformationSchema reads a table from information_schema. It
// serves the engines that implement the standard views (postgres, mssql).
func DescribeInformationSchema(ctx context.Context, db *sql.DB, d Dialect, schema, table string) (*relation.Def, error) {
	p1, p2 := d.ParameterPlaceholder(1), d.ParameterPlaceholder(2)
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT column_name, data_type, is_nullable,
		       COALESCE(character_maximum_length, 0),
		       COALESCE(numeric_precision, 0),
		       COALESCE(numeric_scale, 0)
		FROM information_schema.columns
		WHERE table_schema = %s AND table_name = %s
		ORDER BY ordinal_position`, p1, p2), schema, table)
	if err != nil {
		return nil, fmt.Errorf("querying columns: %w", err)
	}
	defer rows.Close()

	def := relation.New()
	def.Strict = true
	for rows.Next() {
		var name, dataType, nullable string
		var length, precision, scale int64
		if err := rows.Scan(&name, &dataType, &nullable, &length, &precision, &scale); err != nil {
			return nil, err
		}
		typ, _, _ := relation.ParseType(dataType)
		col := relation.Column{
			Name:      name,
			Type:      typ,
			TypeName:  dataType,
			Precision: int(precision),
			Scale:     int(scale),
			Nullable:  strings.EqualFold(nullable, "YES"),
		}
		if typ.IsText() && length > 0 {
			col.Precision = int(length)
		}
		if _, err := def.AddColumn(col); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	keyRows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT tc.constraint_name, tc.constraint_type, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		 AND tc.table_name = kcu.table_name
		WHERE tc.table_schema = %s AND tc.table_name = %s
		  AND tc.constraint_type IN ('PRIMARY KEY', 'UNIQUE')
		ORDER BY tc.constraint_name, kcu.ordinal_position`, p1, p2), schema, table)
	if err != nil {
		return nil, fmt.Errorf("querying keys: %w", err)
	}
	defer keyRows.Close()
	var keys []keyRow
	for keyRows.Next() {
		var k keyRow
		if err := keyRows.Scan(&k.constraint, &k.kind, &k.column); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := keyRows.Err(); err != nil {
		return nil, err
	}
	return def, applyKeys(def, keys)
}

func applyKeys(def *relation.Def, keys []keyRow) error {
	var order []string
	cols := map[string][]string{}
	kinds := map[string]string{}
	for _, k := range keys {
		if _, seen := cols[k.constraint]; !seen {
			order = append(order, k.constraint)
		}
		cols[k.constraint] = append(cols[k.constraint], k.column)
		kinds[k.constraint] = k.kind
	}
	for _, name := range order {
		var err error
		if kinds[name] == "PRIMARY KEY" {
			err = def.SetPrimaryKey(cols[name]...)
		} else {
			err = def.AddUniqueKey(cols[name]...)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// UpsertOnConflict builds INSERT ... ON CONFLICT (keys) DO UPDATE, the
// upsert shared by postgres and sqlite.
func UpsertOnConflict(d Dialect, schema, table string, cols, keys []string) string {
	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.QuoteIdentifier(c)
		params[i] = d.ParameterPlaceholder(i + 1)
	}
	quotedKeys := make([]string, len(keys))
	keySet := make(map[string]bool, len(keys))
	for i, k := range keys {
		quotedKeys[i] = d.QuoteIdentifier(k)
		keySet[k] = true
	}
	var sets []string
	for _, c := range cols {
		if !keySet[c] {
			q := d.QuoteIdentifier(c)
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", q, q))
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.QualifyTable(schema, table), strings.Join(quoted, ", "), strings.Join(params, ", ")))
	sb.WriteString(fmt.Sprintf(" ON CONFLICT (%s)", strings.Join(quotedKeys, ", ")))
	if len(sets) > 0 {
		sb.WriteString(" DO UPDATE SET " + strings.Join(sets, ", "))
	} else {
		sb.WriteString(" DO NOTHING")
	}
	return sb.String()
}
