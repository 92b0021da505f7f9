package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/tabulify/tabulify-sub009/internal/driver/sqldb"
	"github.com/tabulify/tabulify-sub009/internal/relation"
)

// Dialect implements sqldb.Dialect for SQL Server.
type Dialect struct{}

func (d *Dialect) DBType() string { return "sqlserver" }

func (d *Dialect) DriverName() string { return "sqlserver" }

// DSN normalizes the scheme to sqlserver:// and applies the encryption
// and packet size attributes.
func (d *Dialect) DSN(uri string, attrs map[string]string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parsing sqlserver uri: %w", err)
	}
	u.Scheme = "sqlserver"
	params := u.Query()
	if encrypt, ok := attrs["encrypt"]; ok && params.Get("encrypt") == "" {
		if b, err := strconv.ParseBool(encrypt); err == nil {
			params.Set("encrypt", strconv.FormatBool(b))
		}
	}
	if trust, _ := strconv.ParseBool(attrs["trustServerCertificate"]); trust {
		params.Set("TrustServerCertificate", "true")
	}
	if size, err := strconv.Atoi(attrs["packetSize"]); err == nil && size > 0 {
		// "packet size" is the go-mssqldb parameter name
		params.Set("packet size", strconv.Itoa(size))
	}
	if db := attrs["database"]; db != "" && params.Get("database") == "" {
		params.Set("database", db)
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}

func (d *Dialect) DefaultSchema(attrs map[string]string) string {
	if s := attrs["schema"]; s != "" {
		return s
	}
	return "dbo"
}

func (d *Dialect) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (d *Dialect) QualifyTable(schema, table string) string {
	return d.QuoteIdentifier(schema) + "." + d.QuoteIdentifier(table)
}

func (d *Dialect) ParameterPlaceholder(index int) string {
	return fmt.Sprintf("@p%d", index)
}

func (d *Dialect) Literal(v any) string {
	if s, ok := v.(string); ok {
		return "N" + sqldb.QuoteLiteral(s)
	}
	if b, ok := v.([]byte); ok {
		return fmt.Sprintf("0x%x", b)
	}
	return sqldb.QuoteLiteral(v)
}

func (d *Dialect) ColumnType(col relation.Column) string {
	switch col.Type {
	case relation.TypeInteger:
		return "INT"
	case relation.TypeDouble, relation.TypeFloat:
		return "FLOAT"
	case relation.TypeNumeric, relation.TypeDecimal:
		if col.Precision > 0 {
			return fmt.Sprintf("DECIMAL(%d,%d)", min(col.Precision, 38), col.Scale)
		}
		return "DECIMAL(38,10)"
	case relation.TypeBoolean:
		return "BIT"
	case relation.TypeChar:
		if col.Precision > 0 && col.Precision <= 4000 {
			return fmt.Sprintf("NCHAR(%d)", col.Precision)
		}
		return "NCHAR(1)"
	case relation.TypeVarchar:
		if col.Precision > 0 && col.Precision <= 4000 {
			return fmt.Sprintf("NVARCHAR(%d)", col.Precision)
		}
		return "NVARCHAR(MAX)"
	case relation.TypeTimestamp:
		return "DATETIME2"
	case relation.TypeBinary:
		return "VARBINARY(MAX)"
	case relation.TypeClob, relation.TypeJSON, relation.TypeOther:
		return "NVARCHAR(MAX)"
	}
	return sqldb.ANSIColumnType(col)
}

func (d *Dialect) ListTables(ctx context.Context, db *sql.DB, schema string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = @p1
		ORDER BY TABLE_NAME`, schema)
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
	return fmt.Sprintf("EXEC sp_rename N'%s.%s', N'%s'",
		strings.ReplaceAll(schema, "'", "''"), strings.ReplaceAll(from, "'", "''"), strings.ReplaceAll(to, "'", "''"))
}

// MergeStatement builds a single-row MERGE with the values as source.
func (d *Dialect) MergeStatement(schema, table string, cols, keys []string) string {
	keySet := make(map[string]bool, len(keys))
	var onClauses []string
	for _, k := range keys {
		keySet[k] = true
		q := d.QuoteIdentifier(k)
		onClauses = append(onClauses, fmt.Sprintf("target.%s = source.%s", q, q))
	}

	quotedCols := make([]string, len(cols))
	sourceCols := make([]string, len(cols))
	params := make([]string, len(cols))
	var setClauses []string
	for i, c := range cols {
		q := d.QuoteIdentifier(c)
		quotedCols[i] = q
		sourceCols[i] = "source." + q
		params[i] = d.ParameterPlaceholder(i + 1)
		if !keySet[c] {
			setClauses = append(setClauses, fmt.Sprintf("%s = source.%s", q, q))
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("MERGE INTO %s AS target\n", d.QualifyTable(schema, table)))
	sb.WriteString(fmt.Sprintf("USING (VALUES (%s)) AS source (%s)\n", strings.Join(params, ", "), strings.Join(quotedCols, ", ")))
	sb.WriteString(fmt.Sprintf("ON %s\n", strings.Join(onClauses, " AND ")))
	if len(setClauses) > 0 {
		sb.WriteString(fmt.Sprintf("WHEN MATCHED THEN UPDATE SET %s\n", strings.Join(setClauses, ", ")))
	}
	sb.WriteString(fmt.Sprintf("WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);",
		strings.Join(quotedCols, ", "), strings.Join(sourceCols, ", ")))
	return sb.String()
}
