package applier

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/synchdb-go/synchdb/src/destination"
	"github.com/synchdb-go/synchdb/src/domain"
	"github.com/synchdb-go/synchdb/src/dmltranslator"
	"github.com/synchdb-go/synchdb/src/rulestore"
	"github.com/synchdb-go/synchdb/src/status"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTableHandle struct {
	insertErr            error
	insertCalls          int
	lastInsertColumns    []string
	lastInsertFields     []interface{}
	lastInsertPK         []string
	updateByIndexFound   bool
	updateByIndexErr     error
	updateBySeqScanFound bool
	deleteByIndexFound   bool
	deleteBySeqScanFound bool
	closeErr             error
}

func (h *fakeTableHandle) TupleDescriptor() []domain.ColumnInfo { return nil }

func (h *fakeTableHandle) InsertTuple(ctx context.Context, columns []string, fields []interface{}, pkColumns []string) error {
	h.insertCalls++
	h.lastInsertColumns = columns
	h.lastInsertFields = fields
	h.lastInsertPK = pkColumns
	return h.insertErr
}

func (h *fakeTableHandle) UpdateTupleByIndex(ctx context.Context, pkColumns []string, before, after []interface{}) (bool, error) {
	return h.updateByIndexFound, h.updateByIndexErr
}

func (h *fakeTableHandle) UpdateTupleBySeqScan(ctx context.Context, before, after []interface{}) (bool, error) {
	return h.updateBySeqScanFound, nil
}

func (h *fakeTableHandle) DeleteTupleByIndex(ctx context.Context, pkColumns []string, before []interface{}) (bool, error) {
	return h.deleteByIndexFound, nil
}

func (h *fakeTableHandle) DeleteTupleBySeqScan(ctx context.Context, before []interface{}) (bool, error) {
	return h.deleteBySeqScanFound, nil
}

func (h *fakeTableHandle) Close(ctx context.Context) error { return h.closeErr }

type fakeTxn struct {
	table       destination.TableHandle
	tableErr    error
	execErr     error
	commitErr   error
	aborted     bool
	committed   bool
	executedSQL []string
}

func (t *fakeTxn) ExecuteSQL(ctx context.Context, text string) error {
	t.executedSQL = append(t.executedSQL, text)
	return t.execErr
}
func (t *fakeTxn) Commit(ctx context.Context) error { t.committed = true; return t.commitErr }
func (t *fakeTxn) Abort(ctx context.Context) error  { t.aborted = true; return nil }
func (t *fakeTxn) Table(ctx context.Context, tableOID uint32) (destination.TableHandle, error) {
	return t.table, t.tableErr
}

type fakeEngine struct {
	txn      *fakeTxn
	beginErr error
}

func (e *fakeEngine) BeginTxn(ctx context.Context) (destination.Txn, error) { return e.txn, e.beginErr }
func (e *fakeEngine) GetNamespaceOID(ctx context.Context, name string) (uint32, error) {
	return 0, nil
}
func (e *fakeEngine) GetTableOID(ctx context.Context, schema, table string) (uint32, error) {
	return 0, nil
}
func (e *fakeEngine) TableColumns(ctx context.Context, tableOID uint32) (map[string]domain.ColumnInfo, error) {
	return nil, nil
}
func (e *fakeEngine) GetPrimaryKeyColumns(ctx context.Context, tableOID uint32) ([]string, error) {
	return nil, nil
}

func newStatusWithConnector(name string) *status.Table {
	st := status.New()
	_ = st.Acquire(name, domain.FlavorMySQL, 1)
	return st
}

func TestApplyDDLCommitsOnSuccess(t *testing.T) {
	txn := &fakeTxn{}
	eng := &fakeEngine{txn: txn}
	a := New(testLogger(), eng, newStatusWithConnector("conn1"), nil)

	if err := a.ApplyDDL(context.Background(), "conn1", "CREATE TABLE x();"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !txn.committed || txn.aborted {
		t.Fatalf("want a commit and no abort, got committed=%v aborted=%v", txn.committed, txn.aborted)
	}
	if len(txn.executedSQL) != 1 || txn.executedSQL[0] != "CREATE TABLE x();" {
		t.Fatalf("unexpected executed SQL: %v", txn.executedSQL)
	}
}

func TestApplyDDLAbortsAndRecordsErrorOnStatementFailure(t *testing.T) {
	txn := &fakeTxn{execErr: errors.New("syntax error")}
	eng := &fakeEngine{txn: txn}
	st := newStatusWithConnector("conn1")
	a := New(testLogger(), eng, st, nil)

	if err := a.ApplyDDL(context.Background(), "conn1", "BAD SQL"); err == nil {
		t.Fatal("want an error propagated")
	}
	if !txn.aborted || txn.committed {
		t.Fatalf("want an abort and no commit, got aborted=%v committed=%v", txn.aborted, txn.committed)
	}
	snap, _ := st.Get("conn1")
	if snap.LastErrorMsg == "" {
		t.Fatal("want the failure recorded in shared status")
	}
}

func TestApplyDMLSQLModeCommitsGeneratedStatement(t *testing.T) {
	txn := &fakeTxn{}
	eng := &fakeEngine{txn: txn}
	tr := dmltranslator.New(testLogger(), nil, nil)
	a := New(testLogger(), eng, newStatusWithConnector("conn1"), tr)

	rec := domain.DMLRecord{
		Table: domain.FQID{Schema: "public", Table: "orders"},
		Op:    domain.OpCreate,
		AfterValues: []domain.Value{
			{MappedName: "id", DestTypeOID: 23, RawValue: "1"},
		},
	}
	if err := a.ApplyDML(context.Background(), "conn1", rec, true, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txn.executedSQL) != 1 || txn.executedSQL[0] != "INSERT INTO public.orders(id) VALUES (1);" {
		t.Fatalf("unexpected executed SQL: %v", txn.executedSQL)
	}
	if !txn.committed {
		t.Fatal("want the transaction committed")
	}
}

func TestApplyDMLTupleModeInsertPassesPKColumnsThrough(t *testing.T) {
	table := &fakeTableHandle{}
	txn := &fakeTxn{table: table}
	eng := &fakeEngine{txn: txn}
	a := New(testLogger(), eng, newStatusWithConnector("conn1"), nil)

	rec := domain.DMLRecord{
		Table:    domain.FQID{Schema: "public", Table: "orders"},
		TableOID: 99,
		Op:       domain.OpCreate,
		AfterValues: []domain.Value{
			{MappedName: "id", DestTypeOID: 23, RawValue: "1"},
		},
	}
	if err := a.ApplyDML(context.Background(), "conn1", rec, false, []string{"id"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.insertCalls != 1 {
		t.Fatalf("want one insert call, got %d", table.insertCalls)
	}
	if len(table.lastInsertPK) != 1 || table.lastInsertPK[0] != "id" {
		t.Fatalf("want pk columns passed through to InsertTuple, got %v", table.lastInsertPK)
	}
	if !txn.committed {
		t.Fatal("want the transaction committed")
	}
}

func TestApplyDMLTupleModeInsertFailureAbortsAndRecordsError(t *testing.T) {
	table := &fakeTableHandle{insertErr: errors.New("conflict")}
	txn := &fakeTxn{table: table}
	eng := &fakeEngine{txn: txn}
	st := newStatusWithConnector("conn1")
	a := New(testLogger(), eng, st, nil)

	rec := domain.DMLRecord{
		Table: domain.FQID{Schema: "public", Table: "orders"},
		Op:    domain.OpCreate,
		AfterValues: []domain.Value{
			{MappedName: "id", DestTypeOID: 23, RawValue: "1"},
		},
	}
	if err := a.ApplyDML(context.Background(), "conn1", rec, false, nil); err == nil {
		t.Fatal("want the insert failure propagated")
	}
	if !txn.aborted || txn.committed {
		t.Fatalf("want an abort and no commit, got aborted=%v committed=%v", txn.aborted, txn.committed)
	}
	snap, _ := st.Get("conn1")
	if snap.LastErrorMsg == "" {
		t.Fatal("want the failure recorded in shared status")
	}
}

func TestApplyTupleUpdateByIndexMissIsLoggedNotFatal(t *testing.T) {
	table := &fakeTableHandle{updateByIndexFound: false}
	txn := &fakeTxn{table: table}
	eng := &fakeEngine{txn: txn}
	st := newStatusWithConnector("conn1")
	a := New(testLogger(), eng, st, nil)

	rec := domain.DMLRecord{
		Table: domain.FQID{Schema: "public", Table: "orders"},
		Op:    domain.OpUpdate,
		BeforeValues: []domain.Value{
			{MappedName: "id", DestTypeOID: 23, RawValue: "1"},
		},
		AfterValues: []domain.Value{
			{MappedName: "id", DestTypeOID: 23, RawValue: "1"},
		},
	}
	if err := a.ApplyDML(context.Background(), "conn1", rec, false, []string{"id"}); err != nil {
		t.Fatalf("want a miss treated as non-fatal, got %v", err)
	}
	if !txn.committed {
		t.Fatal("want the transaction still committed on a miss")
	}
	snap, _ := st.Get("conn1")
	if snap.Stats.BadEvents != 1 {
		t.Fatalf("want a tuple-update miss counted as a bad event, got %d", snap.Stats.BadEvents)
	}
}

func TestDecodeFieldsAppliesTransformExpressionInTupleMode(t *testing.T) {
	rules := rulestore.New()
	rules.Merge(domain.RuleFile{
		TransformExpressionRules: []domain.ExpressionRule{
			{TransformFrom: "public.orders.note", TransformExpression: "UPPER(%d)"},
		},
	})
	tr := dmltranslator.New(testLogger(), rules, &fakeEngine{})
	a := New(testLogger(), &fakeEngine{}, newStatusWithConnector("conn1"), tr)

	cols, fields, err := a.decodeFields([]domain.Value{
		{MappedName: "note", RemoteColumnFQID: "public.orders.note", DestTypeOID: 25, RawValue: "hello"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cols[0] != "note" {
		t.Fatalf("want column name carried through, got %v", cols)
	}
	if fields[0] != "UPPER(hello)" {
		t.Fatalf("want the transform expression applied to the tuple-mode field, got %v", fields[0])
	}
}

func TestApplyTupleDeleteWithoutPKUsesSeqScan(t *testing.T) {
	table := &fakeTableHandle{deleteBySeqScanFound: true}
	txn := &fakeTxn{table: table}
	eng := &fakeEngine{txn: txn}
	st := newStatusWithConnector("conn1")
	a := New(testLogger(), eng, st, nil)

	rec := domain.DMLRecord{
		Table: domain.FQID{Schema: "public", Table: "orders"},
		Op:    domain.OpDelete,
		BeforeValues: []domain.Value{
			{MappedName: "id", DestTypeOID: 23, RawValue: "1"},
		},
	}
	if err := a.ApplyDML(context.Background(), "conn1", rec, false, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Only the seq-scan path reports a hit in this fake; the index path
	// would miss and count a bad event.
	snap, _ := st.Get("conn1")
	if snap.Stats.BadEvents != 0 {
		t.Fatalf("want the delete to go through the seq-scan path, got %d bad events", snap.Stats.BadEvents)
	}
}
