package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/glob"
	"github.com/tabulify/tabulify-sub009/internal/logging"
	"github.com/tabulify/tabulify-sub009/internal/relation"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

// Connection is a database. It is both the resource.Connection and its
// resource.DataSystem. Paths are table names, optionally qualified by a
// schema ("schema.table"); the empty path is the default schema.
type Connection struct {
	name    string
	uri     string
	dialect Dialect
	db      *sql.DB
	schema  string

	closeOnce sync.Once
	closeErr  error
}

// Open opens the database of uri with dialect d.
func Open(name, uri string, attrs map[string]string, d Dialect) (*Connection, error) {
	dsn, err := d.DSN(uri, attrs)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", d.DBType(), err)
	}
	return &Connection{name: name, uri: uri, dialect: d, db: db, schema: d.DefaultSchema(attrs)}, nil
}

func (c *Connection) Name() string                      { return c.name }
func (c *Connection) URI() string                       { return c.uri }
func (c *Connection) Scheme() string                    { return c.dialect.DBType() }
func (c *Connection) ServiceID() string                 { return c.dialect.DBType() + "|" + c.uri }
func (c *Connection) CurrentPath() string               { return "" }
func (c *Connection) Capabilities() resource.Capability { return resource.CapAll }
func (c *Connection) DataSystem() resource.DataSystem   { return c }

// DB returns the underlying pool.
func (c *Connection) DB() *sql.DB { return c.db }

// Dialect returns the SQL dialect of the connection.
func (c *Connection) Dialect() Dialect { return c.dialect }

// Schema returns the default schema.
func (c *Connection) Schema() string { return c.schema }

// Close closes the pool. Closing twice is a no-op.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.db.Close()
	})
	return c.closeErr
}

func (c *Connection) DataPath(path string, mediaType resource.MediaType) (*resource.DataPath, error) {
	if mediaType == resource.MediaUnknown {
		mediaType = resource.MediaTable
	}
	return resource.NewDataPath(c, path, mediaType), nil
}

// split returns the schema and table of a path.
func (c *Connection) split(path string) (schema, table string) {
	if i := strings.Index(path, "."); i > 0 {
		return path[:i], path[i+1:]
	}
	return c.schema, path
}

func (c *Connection) qualified(dp *resource.DataPath) string {
	schema, table := c.split(dp.Path())
	return c.dialect.QualifyTable(schema, table)
}

func (c *Connection) tableName(ctx context.Context, dp *resource.DataPath) (string, bool, error) {
	schema, table := c.split(dp.Path())
	names, err := c.dialect.ListTables(ctx, c.db, schema)
	if err != nil {
		return "", false, fmt.Errorf("listing tables of %s: %w", c.name, err)
	}
	for _, n := range names {
		if n == table {
			return n, true, nil
		}
	}
	for _, n := range names {
		if strings.EqualFold(n, table) {
			return n, true, nil
		}
	}
	return table, false, nil
}

func (c *Connection) Exists(ctx context.Context, dp *resource.DataPath) (bool, error) {
	if dp.IsRuntime() {
		return dp.Script().Exists(ctx)
	}
	if dp.Path() == "" {
		return true, nil
	}
	_, ok, err := c.tableName(ctx, dp)
	return ok, err
}

func (c *Connection) IsEmpty(ctx context.Context, dp *resource.DataPath) (bool, error) {
	if !dp.IsRuntime() {
		if ok, err := c.Exists(ctx, dp); err != nil || !ok {
			return true, err
		}
	}
	n, err := c.Count(ctx, dp)
	return n == 0, err
}

func (c *Connection) IsContainer(dp *resource.DataPath) bool {
	return dp.Path() == "" && !dp.IsRuntime()
}

// Create issues CREATE TABLE from the relation of target.
func (c *Connection) Create(ctx context.Context, target, _ *resource.DataPath) error {
	def, err := target.Relation(ctx)
	if err != nil {
		return err
	}
	if def.Len() == 0 {
		return fmt.Errorf("cannot create %s without columns: %w", target, exitcodes.ErrStructure)
	}
	ddl := c.createDDL(target, def)
	logging.Debug("%s: %s", c.name, ddl)
	if _, err := c.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	return nil
}

func (c *Connection) createDDL(target *resource.DataPath, def *relation.Def) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("CREATE TABLE %s (\n", c.qualified(target)))
	for i, col := range def.Columns() {
		if i > 0 {
			sb.WriteString(",\n")
		}
		decl := col.TypeName
		if decl == "" {
			decl = c.dialect.ColumnType(*col)
		}
		sb.WriteString(fmt.Sprintf("    %s %s", c.dialect.QuoteIdentifier(col.Name), decl))
		if !col.Nullable {
			sb.WriteString(" NOT NULL")
		}
	}
	if pk := def.PrimaryKey(); pk != nil {
		sb.WriteString(fmt.Sprintf(",\n    PRIMARY KEY (%s)", c.columnList(pk.ColumnNames())))
	}
	for _, uk := range def.UniqueKeys() {
		sb.WriteString(fmt.Sprintf(",\n    UNIQUE (%s)", c.columnList(uk.ColumnNames())))
	}
	sb.WriteString("\n)")
	return sb.String()
}

func (c *Connection) columnList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = c.dialect.QuoteIdentifier(col)
	}
	return strings.Join(quoted, ", ")
}

func (c *Connection) Drop(ctx context.Context, dp *resource.DataPath) error {
	_, err := c.db.ExecContext(ctx, "DROP TABLE "+c.qualified(dp))
	if err != nil {
		return fmt.Errorf("dropping %s: %w", dp, err)
	}
	return nil
}

func (c *Connection) Truncate(ctx context.Context, dp *resource.DataPath) error {
	schema, table := c.split(dp.Path())
	if _, err := c.db.ExecContext(ctx, c.dialect.TruncateStatement(schema, table)); err != nil {
		return fmt.Errorf("truncating %s: %w", dp, err)
	}
	return nil
}

// Rename renames a table of the same database and schema.
func (c *Connection) Rename(ctx context.Context, source, target *resource.DataPath) error {
	if target.Connection().ServiceID() != c.ServiceID() {
		return fmt.Errorf("rename from %s to %s crosses databases: %w", source, target, exitcodes.ErrUnsupported)
	}
	srcSchema, from := c.split(source.Path())
	tgtSchema, to := c.split(target.Path())
	if srcSchema != tgtSchema {
		return fmt.Errorf("rename from %s to %s crosses schemas: %w", source, target, exitcodes.ErrUnsupported)
	}
	if _, err := c.db.ExecContext(ctx, c.dialect.RenameStatement(srcSchema, from, to)); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", source, target, err)
	}
	return nil
}

func (c *Connection) Select(ctx context.Context, pattern string, mediaType resource.MediaType) ([]*resource.DataPath, error) {
	schema, tablePattern := c.split(pattern)
	names, err := c.dialect.ListTables(ctx, c.db, schema)
	if err != nil {
		return nil, fmt.Errorf("listing tables of %s: %w", c.name, err)
	}
	g := glob.New(tablePattern)
	var out []*resource.DataPath
	for _, n := range names {
		if !g.Match(n) {
			continue
		}
		p := n
		if schema != c.schema {
			p = schema + "." + n
		}
		dp, _ := c.DataPath(p, mediaType)
		out = append(out, dp)
	}
	return out, nil
}

// source returns the FROM clause item of a resource: the table, or the
// script of an executable as a derived table.
func (c *Connection) source(ctx context.Context, dp *resource.DataPath) (string, error) {
	if !dp.IsRuntime() {
		return c.qualified(dp), nil
	}
	q, err := c.query(ctx, dp)
	if err != nil {
		return "", err
	}
	return "(" + q + ") q", nil
}

func (c *Connection) query(ctx context.Context, dp *resource.DataPath) (string, error) {
	text, err := resource.ReadText(ctx, dp.Script())
	if err != nil {
		return "", err
	}
	q := strings.TrimSpace(text)
	q = strings.TrimRight(q, ";")
	if q == "" {
		return "", fmt.Errorf("the script %s is empty: %w", dp.Script(), exitcodes.ErrStructure)
	}
	return q, nil
}

func (c *Connection) Count(ctx context.Context, dp *resource.DataPath) (int64, error) {
	if c.IsContainer(dp) {
		names, err := c.dialect.ListTables(ctx, c.db, c.schema)
		return int64(len(names)), err
	}
	from, err := c.source(ctx, dp)
	if err != nil {
		return -1, err
	}
	var n int64
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+from).Scan(&n); err != nil {
		return -1, fmt.Errorf("counting %s: %w", dp, err)
	}
	return n, nil
}

func (c *Connection) Child(parent *resource.DataPath, name string) (*resource.DataPath, error) {
	return c.DataPath(name, resource.MediaTable)
}

// Describe reads the table from the catalog. An executable is described
// from the column types of its result set.
func (c *Connection) Describe(ctx context.Context, dp *resource.DataPath) (*relation.Def, error) {
	if dp.IsRuntime() {
		q, err := c.query(ctx, dp)
		if err != nil {
			return nil, err
		}
		rows, err := c.db.QueryContext(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("executing %s: %w", dp, err)
		}
		defer rows.Close()
		return describeRows(rows)
	}
	name, ok, err := c.tableName(ctx, dp)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("the table %s does not exist: %w", dp, exitcodes.ErrNotFound)
	}
	schema, _ := c.split(dp.Path())
	return c.dialect.DescribeTable(ctx, c.db, schema, name)
}

func describeRows(rows *sql.Rows) (*relation.Def, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	def := relation.New()
	for _, ct := range types {
		typ, precision, scale := relation.ParseType(ct.DatabaseTypeName())
		if p, s, ok := ct.DecimalSize(); ok {
			precision, scale = int(p), int(s)
		} else if l, ok := ct.Length(); ok && typ.IsText() && l < 1<<31 {
			precision = int(l)
		}
		nullable, ok := ct.Nullable()
		if !ok {
			nullable = true
		}
		if _, err := def.AddColumn(relation.Column{
			Name:      ct.Name(),
			Type:      typ,
			TypeName:  ct.DatabaseTypeName(),
			Precision: precision,
			Scale:     scale,
			Nullable:  nullable,
		}); err != nil {
			return nil, err
		}
	}
	return def, nil
}

func (c *Connection) FreeForm(*resource.DataPath) bool { return false }

// TargetColumn declares the column with this dialect's type.
func (c *Connection) TargetColumn(col relation.Column) relation.Column {
	col.TypeName = c.dialect.ColumnType(col)
	return col
}

func (c *Connection) NewSelectStream(ctx context.Context, dp *resource.DataPath) (resource.SelectStream, error) {
	var q string
	if dp.IsRuntime() {
		var err error
		if q, err = c.query(ctx, dp); err != nil {
			return nil, err
		}
	} else {
		q = "SELECT * FROM " + c.qualified(dp)
	}
	s := &selectStream{ctx: ctx, db: c.db, query: q, name: dp.String()}
	if err := s.BeforeFirst(); err != nil {
		return nil, err
	}
	return s, nil
}

func (c *Connection) NewInsertStream(ctx context.Context, dp *resource.DataPath, spec resource.WriteSpec) (resource.InsertStream, error) {
	if dp.IsRuntime() {
		return nil, fmt.Errorf("cannot write to the query %s: %w", dp, exitcodes.ErrUnsupported)
	}
	if len(spec.Columns) == 0 {
		return nil, fmt.Errorf("no columns to write to %s: %w", dp, exitcodes.ErrInternal)
	}
	schema, table := c.split(dp.Path())
	return newInsertStream(c, schema, table, spec), nil
}
