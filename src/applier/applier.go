// Package applier implements the Destination Applier (§4.F): the two
// public entry points a supervisor calls once a DDL or DML record has
// been translated, each running in its own destination transaction.
package applier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/synchdb-go/synchdb/src/decode"
	"github.com/synchdb-go/synchdb/src/destination"
	"github.com/synchdb-go/synchdb/src/domain"
	"github.com/synchdb-go/synchdb/src/dmltranslator"
	"github.com/synchdb-go/synchdb/src/expr"
	"github.com/synchdb-go/synchdb/src/status"
	"github.com/synchdb-go/synchdb/src/synchdberr"
)

type Applier struct {
	logger     *slog.Logger
	engine     destination.Engine
	statusTbl  *status.Table
	translator *dmltranslator.Translator
}

func New(logger *slog.Logger, engine destination.Engine, statusTbl *status.Table, translator *dmltranslator.Translator) *Applier {
	return &Applier{logger: logger, engine: engine, statusTbl: statusTbl, translator: translator}
}

// ApplyDDL runs one DDL statement in its own transaction (§4.F).
func (a *Applier) ApplyDDL(ctx context.Context, connectorName string, statement string) error {
	txn, err := a.engine.BeginTxn(ctx)
	if err != nil {
		return a.fail(connectorName, 0, fmt.Errorf("begin txn for ddl: %w", err))
	}

	if err := txn.ExecuteSQL(ctx, statement); err != nil {
		_ = txn.Abort(ctx)
		return a.fail(connectorName, 0, fmt.Errorf("ddl statement %q: %w", statement, err))
	}

	if err := txn.Commit(ctx); err != nil {
		return a.fail(connectorName, 0, fmt.Errorf("commit ddl: %w", err))
	}
	return nil
}

// ApplyDML runs one translated DML record in its own transaction. When
// sqlMode is true it takes the SQL-mode emission path; otherwise it walks
// the tuple-mode path through the destination's table handle primitives.
func (a *Applier) ApplyDML(ctx context.Context, connectorName string, rec domain.DMLRecord, sqlMode bool, pkColumns []string) error {
	txn, err := a.engine.BeginTxn(ctx)
	if err != nil {
		return a.fail(connectorName, rec.TableOID, fmt.Errorf("begin txn for dml: %w", err))
	}

	if sqlMode {
		text, err := a.translator.EmitSQL(rec, pkColumns)
		if err != nil {
			_ = txn.Abort(ctx)
			return a.fail(connectorName, rec.TableOID, err)
		}
		if err := txn.ExecuteSQL(ctx, text); err != nil {
			_ = txn.Abort(ctx)
			return a.fail(connectorName, rec.TableOID, fmt.Errorf("dml statement %q: %w", text, err))
		}
		if err := txn.Commit(ctx); err != nil {
			return a.fail(connectorName, rec.TableOID, fmt.Errorf("commit dml: %w", err))
		}
		return nil
	}

	tableOID := rec.TableOID
	table, err := txn.Table(ctx, tableOID)
	if err != nil {
		_ = txn.Abort(ctx)
		return a.fail(connectorName, tableOID, fmt.Errorf("open table: %w", err))
	}

	applyErr := a.applyTuple(ctx, connectorName, table, rec, pkColumns)
	if closeErr := table.Close(ctx); closeErr != nil {
		a.logger.Warn("failed to close table handle", "connector", connectorName, "err", closeErr)
	}
	if applyErr != nil {
		_ = txn.Abort(ctx)
		return applyErr
	}

	if err := txn.Commit(ctx); err != nil {
		return a.fail(connectorName, tableOID, fmt.Errorf("commit dml: %w", err))
	}
	return nil
}

// applyTuple walks the insert/update/delete-by-pk-or-seqscan logic §4.F
// describes. Misses on update/delete are non-fatal: logged and counted,
// not propagated as an error.
func (a *Applier) applyTuple(ctx context.Context, connectorName string, table destination.TableHandle, rec domain.DMLRecord, pkColumns []string) error {
	switch rec.Op {
	case domain.OpRead, domain.OpCreate:
		cols, fields, err := a.decodeFields(rec.AfterValues)
		if err != nil {
			return a.fail(connectorName, rec.TableOID, err)
		}
		if err := table.InsertTuple(ctx, cols, fields, pkColumns); err != nil {
			return a.fail(connectorName, rec.TableOID, fmt.Errorf("insert tuple: %w", err))
		}
		return nil

	case domain.OpUpdate:
		_, before, err := a.decodeFields(rec.BeforeValues)
		if err != nil {
			return a.fail(connectorName, rec.TableOID, err)
		}
		_, after, err := a.decodeFields(rec.AfterValues)
		if err != nil {
			return a.fail(connectorName, rec.TableOID, err)
		}

		var found bool
		if len(pkColumns) > 0 {
			found, err = table.UpdateTupleByIndex(ctx, pkColumns, before, after)
		} else {
			found, err = table.UpdateTupleBySeqScan(ctx, before, after)
		}
		if err != nil {
			return a.fail(connectorName, rec.TableOID, fmt.Errorf("update tuple: %w", err))
		}
		if !found {
			a.logger.Warn("tuple to update not found", "connector", connectorName, "table", rec.Table.Qualified())
			a.statusTbl.UpdateStats(connectorName, func(st *domain.Stats) { st.BadEvents++ })
		}
		return nil

	case domain.OpDelete:
		_, before, err := a.decodeFields(rec.BeforeValues)
		if err != nil {
			return a.fail(connectorName, rec.TableOID, err)
		}

		var found bool
		if len(pkColumns) > 0 {
			found, err = table.DeleteTupleByIndex(ctx, pkColumns, before)
		} else {
			found, err = table.DeleteTupleBySeqScan(ctx, before)
		}
		if err != nil {
			return a.fail(connectorName, rec.TableOID, fmt.Errorf("delete tuple: %w", err))
		}
		if !found {
			a.logger.Warn("tuple to delete not found", "connector", connectorName, "table", rec.Table.Qualified())
			a.statusTbl.UpdateStats(connectorName, func(st *domain.Stats) { st.BadEvents++ })
		}
		return nil

	default:
		return synchdberr.Errorf(synchdberr.KindInternal, "applyTuple called with unhandled op %v", rec.Op)
	}
}

// decodeFields decodes each value for tuple-mode emission, applying §4.A's
// final clause (transform-expression substitution) the same way SQL-mode
// emission does, and returns the destination column names alongside the
// decoded fields so the caller never has to assume a row carries every
// catalog column.
func (a *Applier) decodeFields(values []domain.Value) ([]string, []interface{}, error) {
	columns := make([]string, len(values))
	fields := make([]interface{}, len(values))
	for i, v := range values {
		columns[i] = v.MappedName
		result, err := decode.Decode(decode.Input{
			RawValue: v.RawValue,
			DestKind: decode.ResolveDestKind(v.DestTypeOID),
			Typemod:  v.Typemod,
			Scale:    v.Scale,
			HasScale: v.HasScale,
			TimeRep:  v.TimeRep,
		})
		if err != nil {
			return nil, nil, err
		}
		if result.IsNull {
			fields[i] = nil
			continue
		}
		field := result.Field
		if a.translator != nil {
			if exprText, ok := a.translator.Expression(v.RemoteColumnFQID); ok {
				if s, isString := field.(string); isString {
					field = expr.Evaluate(exprText, s, v.GeometryWKB, v.GeometrySRID)
				}
			}
		}
		fields[i] = field
	}
	return columns, fields, nil
}

// fail saves the error verbatim into shared status, prefixed with the
// table oid for debuggability, and returns it wrapped as KindApply.
func (a *Applier) fail(connectorName string, tableOID uint32, err error) error {
	msg := fmt.Sprintf("[table oid %d] %s", tableOID, err.Error())
	a.statusTbl.SetError(connectorName, msg)
	return synchdberr.Errorf(synchdberr.KindApply, "%s", msg)
}
