package transfer

import (
	"context"
	"fmt"
	"strings"

	"github.com/tabulify/tabulify-sub009/internal/relation"
	"github.com/tabulify/tabulify-sub009/internal/resource"
)

// Result table columns.
const (
	ColInput        = "input"
	ColTarget       = "target"
	ColLatency      = "latency"
	ColRecordCount  = "record_count"
	ColErrorCode    = "error_code"
	ColErrorMessage = "error_message"
)

// ResultRelation is the structure of the result table.
func ResultRelation() *relation.Def {
	def := relation.New()
	def.MustAddColumn(ColInput, relation.TypeVarchar)
	def.MustAddColumn(ColTarget, relation.TypeVarchar)
	def.MustAddColumn(ColLatency, relation.TypeVarchar)
	def.MustAddColumn(ColRecordCount, relation.TypeBigInt)
	def.MustAddColumn(ColErrorCode, relation.TypeInteger)
	def.MustAddColumn(ColErrorMessage, relation.TypeVarchar)
	return def
}

// Records returns one record per listener in ResultRelation order. The
// error code is nil on success.
func (r *Result) Records() [][]any {
	out := make([][]any, 0, len(r.Listeners))
	for _, l := range r.Listeners {
		var code, msg any
		if s := l.ExitStatus(); s != 0 {
			code = s
			msg = l.ErrorMessage()
		}
		out = append(out, []any{
			l.Source(),
			l.Target(),
			ISODuration(l.Latency()),
			l.RowCount(),
			code,
			msg,
		})
	}
	return out
}

// Publish writes the result table as name on conn, replacing an existing
// resource.
func (r *Result) Publish(ctx context.Context, conn resource.Connection, name string) (*resource.DataPath, error) {
	dp, err := conn.DataPath(name, resource.MediaUnknown)
	if err != nil {
		return nil, err
	}
	ds := conn.DataSystem()
	exists, err := ds.Exists(ctx, dp)
	if err != nil {
		return nil, err
	}
	if exists {
		if err := ds.Drop(ctx, dp); err != nil {
			return nil, fmt.Errorf("dropping %s: %w", dp, err)
		}
	}
	def := ResultRelation()
	dp.SetRelation(def)
	if err := ds.Create(ctx, dp, nil); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dp, err)
	}

	w, err := ds.NewInsertStream(ctx, dp, resource.WriteSpec{
		Kind:          resource.StatementInsert,
		Columns:       def.ColumnNames(),
		BindVariables: true,
	})
	if err != nil {
		return nil, err
	}
	defer w.Close()
	for _, rec := range r.Records() {
		if err := w.Insert(ctx, rec); err != nil {
			return nil, fmt.Errorf("writing %s: %w", dp, err)
		}
	}
	if err := w.Commit(ctx); err != nil {
		return nil, fmt.Errorf("writing %s: %w", dp, err)
	}
	return dp, nil
}

func joinMessages(msgs []string) string {
	return strings.Join(msgs, ", ")
}
