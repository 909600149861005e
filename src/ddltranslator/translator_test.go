package ddltranslator

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/synchdb-go/synchdb/src/destination"
	"github.com/synchdb-go/synchdb/src/domain"
	"github.com/synchdb-go/synchdb/src/infra/debezium"
	"github.com/synchdb-go/synchdb/src/mapping"
	"github.com/synchdb-go/synchdb/src/rulestore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intp(i int) *int       { return &i }
func strp(s string) *string { return &s }

// fakeEngine is a minimal destination.Engine stand-in the Alter tests drive
// directly; it never opens a real transaction.
type fakeEngine struct {
	namespaceOID uint32
	tableOID     uint32
	columns      map[string]domain.ColumnInfo
}

func (f *fakeEngine) BeginTxn(ctx context.Context) (destination.Txn, error) { return nil, nil }
func (f *fakeEngine) GetNamespaceOID(ctx context.Context, name string) (uint32, error) {
	return f.namespaceOID, nil
}
func (f *fakeEngine) GetTableOID(ctx context.Context, schema, table string) (uint32, error) {
	return f.tableOID, nil
}
func (f *fakeEngine) TableColumns(ctx context.Context, tableOID uint32) (map[string]domain.ColumnInfo, error) {
	return f.columns, nil
}
func (f *fakeEngine) GetPrimaryKeyColumns(ctx context.Context, tableOID uint32) ([]string, error) {
	return nil, nil
}

func newTranslator(flavor domain.SourceFlavor, engine destination.Engine) *Translator {
	return New(testLogger(), mapping.NewRegistry(), rulestore.New(), flavor, engine)
}

func TestTranslateCreateEmitsSchemaAndTable(t *testing.T) {
	tr := newTranslator(domain.FlavorMySQL, &fakeEngine{})
	payload := debezium.RawPayload{TableChanges: []debezium.TableChange{
		{
			ID:   "mydb.orders",
			Type: "CREATE",
			Table: debezium.TableChangeTable{
				PrimaryKeyColumnNames: []string{"id"},
				Columns: []debezium.TableChangeColumn{
					{Name: "id", TypeName: "INT", AutoIncremented: true, Optional: false},
					{Name: "qty", TypeName: "INT", Optional: false},
					{Name: "note", TypeName: "VARCHAR", Length: intp(255), Optional: true},
				},
			},
		},
	}}

	stmts, fqid, err := tr.Translate(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fqid.Table != "orders" || fqid.Schema != "mydb" {
		t.Fatalf("unexpected fqid: %+v", fqid)
	}
	if len(stmts) != 2 {
		t.Fatalf("want a schema statement plus a create table statement, got %v", stmts)
	}
	if stmts[0] != "CREATE SCHEMA IF NOT EXISTS mydb;" {
		t.Fatalf("unexpected schema statement: %q", stmts[0])
	}
	if want := "CREATE TABLE IF NOT EXISTS mydb.orders"; !containsPrefix(stmts[1], want) {
		t.Fatalf("want statement to start with %q, got %q", want, stmts[1])
	}
	if !contains(stmts[1], "PRIMARY KEY(id)") {
		t.Fatalf("want a primary key clause, got %q", stmts[1])
	}
	if !contains(stmts[1], "note VARCHAR(255)") {
		t.Fatalf("want note column with length, got %q", stmts[1])
	}
}

func TestTranslateCreateUnsignedGetsCheckConstraint(t *testing.T) {
	tr := newTranslator(domain.FlavorMySQL, &fakeEngine{})
	payload := debezium.RawPayload{TableChanges: []debezium.TableChange{
		{
			ID:   "orders",
			Type: "CREATE",
			Table: debezium.TableChangeTable{
				Columns: []debezium.TableChangeColumn{
					{Name: "qty", TypeName: "INT UNSIGNED", Optional: false},
				},
			},
		},
	}}

	stmts, _, err := tr.Translate(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !contains(stmts[0], "CHECK (qty >= 0)") {
		t.Fatalf("want unsigned check constraint, got %q", stmts[0])
	}
}

func TestTranslateDropReturnsFQIDAndEmitsDropTable(t *testing.T) {
	tr := newTranslator(domain.FlavorMySQL, &fakeEngine{})
	payload := debezium.RawPayload{TableChanges: []debezium.TableChange{
		{ID: "public.orders", Type: "DROP"},
	}}

	stmts, fqid, err := tr.Translate(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fqid.Qualified() != "public.orders" {
		t.Fatalf("unexpected fqid: %+v", fqid)
	}
	if len(stmts) != 1 || stmts[0] != "DROP TABLE IF EXISTS public.orders;" {
		t.Fatalf("unexpected drop statement: %v", stmts)
	}
}

func TestTranslateEmptyTableChangesIsNoOp(t *testing.T) {
	tr := newTranslator(domain.FlavorMySQL, &fakeEngine{})
	stmts, fqid, err := tr.Translate(context.Background(), debezium.RawPayload{})
	if err != nil || stmts != nil || fqid != (domain.FQID{}) {
		t.Fatalf("want a silent no-op, got stmts=%v fqid=%+v err=%v", stmts, fqid, err)
	}
}

func TestTranslateAlterAddColumn(t *testing.T) {
	engine := &fakeEngine{
		columns: map[string]domain.ColumnInfo{
			"id": {OID: 23, Position: 1},
		},
	}
	tr := newTranslator(domain.FlavorMySQL, engine)
	payload := debezium.RawPayload{TableChanges: []debezium.TableChange{
		{
			ID:   "public.orders",
			Type: "ALTER",
			Table: debezium.TableChangeTable{
				Columns: []debezium.TableChangeColumn{
					{Name: "id", TypeName: "INT", Optional: false},
					{Name: "shipped_at", TypeName: "DATETIME", Optional: true},
				},
			},
		},
	}}

	stmts, _, err := tr.Translate(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stmts) != 1 || !contains(stmts[0], "ADD COLUMN shipped_at TIMESTAMP") {
		t.Fatalf("want ADD COLUMN for the new column, got %v", stmts)
	}
}

func TestTranslateAlterDropColumn(t *testing.T) {
	engine := &fakeEngine{
		columns: map[string]domain.ColumnInfo{
			"id":        {OID: 23, Position: 1},
			"legacy_id": {OID: 23, Position: 2},
		},
	}
	tr := newTranslator(domain.FlavorMySQL, engine)
	payload := debezium.RawPayload{TableChanges: []debezium.TableChange{
		{
			ID:   "public.orders",
			Type: "ALTER",
			Table: debezium.TableChangeTable{
				Columns: []debezium.TableChangeColumn{
					{Name: "id", TypeName: "INT", Optional: false},
				},
			},
		},
	}}

	stmts, _, err := tr.Translate(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stmts) != 1 || !contains(stmts[0], "DROP COLUMN legacy_id") {
		t.Fatalf("want DROP COLUMN for the removed column, got %v", stmts)
	}
}

func TestTranslateAlterModifyColumn(t *testing.T) {
	engine := &fakeEngine{
		columns: map[string]domain.ColumnInfo{
			"id": {OID: 23, Position: 1},
		},
	}
	tr := newTranslator(domain.FlavorMySQL, engine)
	payload := debezium.RawPayload{TableChanges: []debezium.TableChange{
		{
			ID:   "public.orders",
			Type: "ALTER",
			Table: debezium.TableChangeTable{
				Columns: []debezium.TableChangeColumn{
					{Name: "id", TypeName: "BIGINT", Optional: false, DefaultValueExpression: strp("0")},
				},
			},
		},
	}}

	stmts, _, err := tr.Translate(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stmts) != 1 {
		t.Fatalf("want one ALTER TABLE statement, got %v", stmts)
	}
	if !contains(stmts[0], "SET DATA TYPE BIGINT") || !contains(stmts[0], "SET DEFAULT 0") || !contains(stmts[0], "SET NOT NULL") {
		t.Fatalf("unexpected modify clause: %q", stmts[0])
	}
}

func TestTranslateAlterRenameIsLoggedAndIgnored(t *testing.T) {
	engine := &fakeEngine{
		columns: map[string]domain.ColumnInfo{
			"old_name": {OID: 25, Position: 1},
		},
	}
	tr := newTranslator(domain.FlavorMySQL, engine)
	payload := debezium.RawPayload{TableChanges: []debezium.TableChange{
		{
			ID:   "public.orders",
			Type: "ALTER",
			Table: debezium.TableChangeTable{
				Columns: []debezium.TableChangeColumn{
					{Name: "new_name", TypeName: "TEXT", Optional: true},
				},
			},
		},
	}}

	stmts, _, err := tr.Translate(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stmts != nil {
		t.Fatalf("want no statements emitted for an unmatched rename, got %v", stmts)
	}
}

// randomCreateTableChange synthesizes a CREATE tableChanges entry with
// gofakeit-generated names, standing in for the varied schemas a real
// upstream connector would emit across many tables.
func randomCreateTableChange(seed uint64) debezium.TableChange {
	gofakeit.Seed(int64(seed))
	// Dots are stripped so the id stays a bare table name: words such as
	// "i.e." would otherwise be split as a qualified id.
	tableName := strings.ReplaceAll(gofakeit.Word(), ".", "")
	colCount := 2 + gofakeit.Number(0, 3)
	cols := make([]debezium.TableChangeColumn, colCount)
	cols[0] = debezium.TableChangeColumn{Name: "id", TypeName: "INT", AutoIncremented: true}
	for i := 1; i < colCount; i++ {
		cols[i] = debezium.TableChangeColumn{Name: gofakeit.Word(), TypeName: "VARCHAR", Length: intp(64), Optional: true}
	}
	return debezium.TableChange{
		ID:   tableName,
		Type: "CREATE",
		Table: debezium.TableChangeTable{
			PrimaryKeyColumnNames: []string{"id"},
			Columns:               cols,
		},
	}
}

func TestTranslateCreateHandlesRandomizedFixtures(t *testing.T) {
	for seed := uint64(1); seed <= 5; seed++ {
		change := randomCreateTableChange(seed)
		tr := newTranslator(domain.FlavorMySQL, &fakeEngine{})
		payload := debezium.RawPayload{TableChanges: []debezium.TableChange{change}}

		stmts, fqid, err := tr.Translate(context.Background(), payload)
		if err != nil {
			t.Fatalf("seed %d: unexpected error: %v", seed, err)
		}
		if fqid.Table != change.ID {
			t.Fatalf("seed %d: unexpected fqid: %+v", seed, fqid)
		}
		if len(stmts) != 1 || !containsPrefix(stmts[0], "CREATE TABLE IF NOT EXISTS "+change.ID) {
			t.Fatalf("seed %d: unexpected statements: %v", seed, stmts)
		}
	}
}

func contains(s, sub string) bool {
	return containsAt(s, sub) >= 0
}

func containsPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func containsAt(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
