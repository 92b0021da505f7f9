package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

type selectStream struct {
	ctx    context.Context
	db     *sql.DB
	query  string
	name   string
	rows   *sql.Rows
	text   []bool
	values []any
	err    error
}

// BeforeFirst runs the query again.
func (s *selectStream) BeforeFirst() error {
	if s.rows != nil {
		s.rows.Close()
	}
	rows, err := s.db.QueryContext(s.ctx, s.query)
	if err != nil {
		return fmt.Errorf("selecting %s: %w", s.name, err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		rows.Close()
		return err
	}
	s.text = make([]bool, len(types))
	for i, ct := range types {
		n := strings.ToUpper(ct.DatabaseTypeName())
		s.text[i] = strings.Contains(n, "CHAR") || strings.Contains(n, "TEXT") || n == "JSON" || n == "UUID"
	}
	s.rows = rows
	s.err = nil
	return nil
}

func (s *selectStream) Next() bool {
	if s.err != nil || s.rows == nil {
		return false
	}
	if !s.rows.Next() {
		s.err = s.rows.Err()
		return false
	}
	values := make([]any, len(s.text))
	ptrs := make([]any, len(values))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := s.rows.Scan(ptrs...); err != nil {
		s.err = fmt.Errorf("reading %s: %w", s.name, err)
		return false
	}
	for i, v := range values {
		if b, ok := v.([]byte); ok && s.text[i] {
			values[i] = string(b)
		}
	}
	s.values = values
	return true
}

func (s *selectStream) Values() []any { return s.values }
func (s *selectStream) Err() error    { return s.err }

func (s *selectStream) Close() error {
	if s.rows == nil {
		return nil
	}
	err := s.rows.Close()
	s.rows = nil
	return err
}

// insertStream buffers records and executes them in a transaction on
// Flush. Commit ends the transaction; Close rolls back whatever was not
// committed.
type insertStream struct {
	conn    *Connection
	schema  string
	table   string
	spec    resource.WriteSpec
	tx      *sql.Tx
	stmts   map[string]*sql.Stmt
	pending [][]any
}

func newInsertStream(c *Connection, schema, table string, spec resource.WriteSpec) *insertStream {
	return &insertStream{conn: c, schema: schema, table: table, spec: spec, stmts: map[string]*sql.Stmt{}}
}

func (s *insertStream) Insert(_ context.Context, values []any) error {
	if len(values) != len(s.spec.Columns) {
		return fmt.Errorf("expected %d values, got %d: %w", len(s.spec.Columns), len(values), exitcodes.ErrInternal)
	}
	s.pending = append(s.pending, append([]any(nil), values...))
	return nil
}

func (s *insertStream) Flush(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	if s.tx == nil {
		tx, err := s.conn.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction on %s: %w", s.table, err)
		}
		s.tx = tx
	}
	for _, values := range s.pending {
		if err := s.write(ctx, values); err != nil {
			return fmt.Errorf("%s on %s: %w", s.spec.Kind, s.conn.dialect.QualifyTable(s.schema, s.table), err)
		}
	}
	s.pending = s.pending[:0]
	return nil
}

func (s *insertStream) write(ctx context.Context, values []any) error {
	switch s.spec.Kind {
	case resource.StatementUpdate:
		_, err := s.exec(ctx, s.updateSQL(), values)
		return err
	case resource.StatementDelete:
		_, err := s.exec(ctx, s.deleteSQL(), values)
		return err
	case resource.StatementMerge:
		return s.merge(ctx, values)
	default:
		_, err := s.exec(ctx, s.insertSQL(), values)
		return err
	}
}

func (s *insertStream) merge(ctx context.Context, values []any) error {
	switch s.spec.Upsert {
	case resource.UpsertUpdateInsert:
		n, err := s.exec(ctx, s.updateSQL(), s.updateOrder(values))
		if err != nil || n > 0 {
			return err
		}
		_, err = s.exec(ctx, s.insertSQL(), values)
		return err
	case resource.UpsertInsertUpdate:
		found, err := s.exists(ctx, values)
		if err != nil {
			return err
		}
		if found {
			_, err = s.exec(ctx, s.updateSQL(), s.updateOrder(values))
		} else {
			_, err = s.exec(ctx, s.insertSQL(), values)
		}
		return err
	default:
		_, err := s.exec(ctx, s.conn.dialect.MergeStatement(s.schema, s.table, s.spec.Columns, s.spec.KeyColumns), values)
		return err
	}
}

// updateOrder reorders merge values (insert order) into SET then key order.
func (s *insertStream) updateOrder(values []any) []any {
	byName := make(map[string]any, len(values))
	for i, c := range s.spec.Columns {
		byName[c] = values[i]
	}
	out := make([]any, 0, len(values))
	for _, c := range s.spec.SetColumns() {
		out = append(out, byName[c])
	}
	for _, k := range s.spec.KeyColumns {
		out = append(out, byName[k])
	}
	return out
}

func (s *insertStream) exists(ctx context.Context, values []any) (bool, error) {
	byName := make(map[string]any, len(values))
	for i, c := range s.spec.Columns {
		byName[c] = values[i]
	}
	keyValues := make([]any, len(s.spec.KeyColumns))
	for i, k := range s.spec.KeyColumns {
		keyValues[i] = byName[k]
	}
	q := "SELECT COUNT(*) FROM " + s.conn.dialect.QualifyTable(s.schema, s.table) + " WHERE " + s.where(s.spec.KeyColumns, 1)
	var n int64
	if err := s.tx.QueryRowContext(ctx, q, keyValues...).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *insertStream) exec(ctx context.Context, query string, args []any) (int64, error) {
	var res sql.Result
	var err error
	if s.spec.BindVariables {
		var stmt *sql.Stmt
		stmt, err = s.prepare(ctx, query)
		if err != nil {
			return 0, err
		}
		res, err = stmt.ExecContext(ctx, args...)
	} else {
		res, err = s.tx.ExecContext(ctx, s.inline(query, args))
	}
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *insertStream) prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmts[query]; ok {
		return stmt, nil
	}
	stmt, err := s.tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("preparing %q: %w", query, err)
	}
	s.stmts[query] = stmt
	return stmt, nil
}

func (s *insertStream) inline(query string, args []any) string {
	return InlineParameters(s.conn.dialect, query, args)
}

func (s *insertStream) placeholders(n, from int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = s.conn.dialect.ParameterPlaceholder(from + i)
	}
	return strings.Join(ps, ", ")
}

func (s *insertStream) where(cols []string, from int) string {
	conds := make([]string, len(cols))
	for i, c := range cols {
		conds[i] = s.conn.dialect.QuoteIdentifier(c) + " = " + s.conn.dialect.ParameterPlaceholder(from+i)
	}
	return strings.Join(conds, " AND ")
}

func (s *insertStream) insertSQL() string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.conn.dialect.QualifyTable(s.schema, s.table),
		s.conn.columnList(s.spec.Columns),
		s.placeholders(len(s.spec.Columns), 1))
}

func (s *insertStream) updateSQL() string {
	set := s.spec.SetColumns()
	sets := make([]string, len(set))
	for i, c := range set {
		sets[i] = s.conn.dialect.QuoteIdentifier(c) + " = " + s.conn.dialect.ParameterPlaceholder(i+1)
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		s.conn.dialect.QualifyTable(s.schema, s.table),
		strings.Join(sets, ", "),
		s.where(s.spec.KeyColumns, len(set)+1))
}

func (s *insertStream) deleteSQL() string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s",
		s.conn.dialect.QualifyTable(s.schema, s.table),
		s.where(s.spec.KeyColumns, 1))
}

func (s *insertStream) Commit(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	if s.tx == nil {
		return nil
	}
	s.closeStmts()
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		return fmt.Errorf("commit on %s: %w", s.table, err)
	}
	return nil
}

func (s *insertStream) closeStmts() {
	for q, stmt := range s.stmts {
		stmt.Close()
		delete(s.stmts, q)
	}
}

// Close rolls back the uncommitted work.
func (s *insertStream) Close() error {
	s.pending = nil
	s.closeStmts()
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}
