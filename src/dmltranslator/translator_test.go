package dmltranslator

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/go-faker/faker/v4"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/synchdb-go/synchdb/src/destination"
	"github.com/synchdb-go/synchdb/src/domain"
	"github.com/synchdb-go/synchdb/src/infra/debezium"
	"github.com/synchdb-go/synchdb/src/rulestore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEngine struct {
	tableOID  uint32
	columns   map[string]domain.ColumnInfo
	pkColumns []string
}

func (f *fakeEngine) BeginTxn(ctx context.Context) (destination.Txn, error) { return nil, nil }
func (f *fakeEngine) GetNamespaceOID(ctx context.Context, name string) (uint32, error) {
	return 0, nil
}
func (f *fakeEngine) GetTableOID(ctx context.Context, schema, table string) (uint32, error) {
	return f.tableOID, nil
}
func (f *fakeEngine) TableColumns(ctx context.Context, tableOID uint32) (map[string]domain.ColumnInfo, error) {
	return f.columns, nil
}
func (f *fakeEngine) GetPrimaryKeyColumns(ctx context.Context, tableOID uint32) ([]string, error) {
	return f.pkColumns, nil
}

func newTestTranslator(engine destination.Engine) *Translator {
	return New(testLogger(), rulestore.New(), engine)
}

func TestTranslateInsertResolvesCatalogAndSortsByPosition(t *testing.T) {
	engine := &fakeEngine{
		tableOID: 100,
		columns: map[string]domain.ColumnInfo{
			"id":   {OID: 23, Position: 0},
			"name": {OID: 25, Position: 1},
		},
	}
	tr := newTestTranslator(engine)

	op := "c"
	ev := &debezium.RawEvent{
		Payload: debezium.RawPayload{
			Op: &op,
			After: map[string]interface{}{
				"id":   float64(42),
				"name": "alice",
			},
			Source: debezium.SourceBlock{Schema: "public", Table: "users"},
		},
	}

	rec, err := tr.Translate(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Op != domain.OpCreate || rec.TableOID != 100 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	want := []domain.Value{
		{RemoteColumnName: "id", RemoteColumnFQID: "public.users.id", MappedName: "id", DestTypeOID: 23, Position: 0, RawValue: "42"},
		{RemoteColumnName: "name", RemoteColumnFQID: "public.users.name", MappedName: "name", DestTypeOID: 25, Position: 1, RawValue: "alice"},
	}
	if diff := cmp.Diff(want, rec.AfterValues, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("unexpected after-values (-want +got):\n%s", diff)
	}
}

// TestTranslateInsertWithFakerGeneratedRow drives the same insert path with
// faker-generated scalar values, standing in for the varied row content a
// real upstream snapshot would emit rather than a single hand-picked row.
func TestTranslateInsertWithFakerGeneratedRow(t *testing.T) {
	engine := &fakeEngine{
		tableOID: 1,
		columns: map[string]domain.ColumnInfo{
			"id":    {OID: 23, Position: 0},
			"name":  {OID: 25, Position: 1},
			"email": {OID: 25, Position: 2},
		},
	}
	tr := newTestTranslator(engine)

	name, email := faker.Name(), faker.Email()
	op := "c"
	ev := &debezium.RawEvent{Payload: debezium.RawPayload{
		Op: &op,
		After: map[string]interface{}{
			"id":    float64(1),
			"name":  name,
			"email": email,
		},
		Source: debezium.SourceBlock{Schema: "public", Table: "customers"},
	}}

	rec, err := tr.Translate(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	byName := map[string]string{}
	for _, v := range rec.AfterValues {
		byName[v.MappedName] = v.RawValue
	}
	if byName["name"] != name || byName["email"] != email {
		t.Fatalf("want faker-generated values carried through verbatim, got %+v", byName)
	}
}

func TestTranslateCarriesPrimaryKeyColumnsFromCatalog(t *testing.T) {
	engine := &fakeEngine{
		tableOID:  1,
		columns:   map[string]domain.ColumnInfo{"id": {OID: 23, Position: 0}},
		pkColumns: []string{"id"},
	}
	tr := newTestTranslator(engine)
	op := "c"
	ev := &debezium.RawEvent{Payload: debezium.RawPayload{
		Op: &op, After: map[string]interface{}{"id": float64(1)},
		Source: debezium.SourceBlock{Schema: "public", Table: "users"},
	}}
	rec, err := tr.Translate(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"id"}, rec.PKColumns); diff != "" {
		t.Fatalf("unexpected pk columns (-want +got):\n%s", diff)
	}
}

func TestTranslateMissingOpIsParseError(t *testing.T) {
	tr := newTestTranslator(&fakeEngine{})
	ev := &debezium.RawEvent{Payload: debezium.RawPayload{Source: debezium.SourceBlock{Table: "users"}}}
	if _, err := tr.Translate(context.Background(), ev); err == nil {
		t.Fatal("want an error for a missing payload.op")
	}
}

func TestTranslateUnknownOpCodeIsParseError(t *testing.T) {
	tr := newTestTranslator(&fakeEngine{})
	op := "x"
	ev := &debezium.RawEvent{Payload: debezium.RawPayload{Op: &op, Source: debezium.SourceBlock{Table: "users"}}}
	if _, err := tr.Translate(context.Background(), ev); err == nil {
		t.Fatal("want an error for an unrecognized op code")
	}
}

func TestTranslateDefaultsToPublicSchema(t *testing.T) {
	engine := &fakeEngine{tableOID: 1, columns: map[string]domain.ColumnInfo{"id": {OID: 23, Position: 0}}}
	tr := newTestTranslator(engine)
	op := "d"
	ev := &debezium.RawEvent{Payload: debezium.RawPayload{
		Op:     &op,
		Before: map[string]interface{}{"id": float64(1)},
		Source: debezium.SourceBlock{Table: "users"},
	}}
	rec, err := tr.Translate(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Table.Schema != "public" {
		t.Fatalf("want schema defaulted to public, got %+v", rec.Table)
	}
}

func TestTranslateColumnNotInCatalogIsSkipped(t *testing.T) {
	engine := &fakeEngine{tableOID: 1, columns: map[string]domain.ColumnInfo{"id": {OID: 23, Position: 0}}}
	tr := newTestTranslator(engine)
	op := "c"
	ev := &debezium.RawEvent{Payload: debezium.RawPayload{
		Op:     &op,
		After:  map[string]interface{}{"id": float64(1), "ghost_column": "x"},
		Source: debezium.SourceBlock{Schema: "public", Table: "users"},
	}}
	rec, err := tr.Translate(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.AfterValues) != 1 || rec.AfterValues[0].MappedName != "id" {
		t.Fatalf("want the unmapped column silently skipped, got %+v", rec.AfterValues)
	}
}

func TestTranslateGeometrySubObjectIsCaptured(t *testing.T) {
	engine := &fakeEngine{tableOID: 1, columns: map[string]domain.ColumnInfo{"loc": {OID: 25, Position: 0}}}
	tr := newTestTranslator(engine)
	op := "c"
	ev := &debezium.RawEvent{Payload: debezium.RawPayload{
		Op: &op,
		After: map[string]interface{}{
			"loc": map[string]interface{}{"wkb": "0101000000", "srid": float64(4326)},
		},
		Source: debezium.SourceBlock{Schema: "public", Table: "places"},
	}}
	rec, err := tr.Translate(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.AfterValues[0].IsGeometry || rec.AfterValues[0].GeometryWKB != "0101000000" || rec.AfterValues[0].GeometrySRID != "4326" {
		t.Fatalf("want geometry sub-object captured, got %+v", rec.AfterValues[0])
	}
}

// TestTranslateUsesOneBasedCatalogPositionsAgainstZeroBasedSchemaFields
// mirrors what the production engine actually emits: ColumnInfo.Position
// is pg_attribute.attnum, 1-based, while schema.fields[side].fields is a
// 0-based JSON array. A table with a single timestamp column at attnum 1
// must still resolve its schema metadata rather than silently falling
// back to TimeRepUndef.
func TestTranslateUsesOneBasedCatalogPositionsAgainstZeroBasedSchemaFields(t *testing.T) {
	engine := &fakeEngine{
		tableOID: 1,
		columns: map[string]domain.ColumnInfo{
			"created_at": {OID: 1114, Position: 1},
		},
	}
	tr := newTestTranslator(engine)
	op := "c"
	ev := &debezium.RawEvent{
		Schema: debezium.TopLevelSchema{},
		Payload: debezium.RawPayload{
			Op:     &op,
			After:  map[string]interface{}{"created_at": float64(1700000000000)},
			Source: debezium.SourceBlock{Schema: "public", Table: "events"},
		},
	}
	ev.Schema.Fields = []debezium.SchemaField{
		{}, // before, unused on an insert
		{Fields: []debezium.SchemaField{
			{Name: "io.debezium.time.Timestamp"},
		}},
	}

	rec, err := tr.Translate(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.AfterValues) != 1 {
		t.Fatalf("want one value, got %+v", rec.AfterValues)
	}
	if rec.AfterValues[0].TimeRep == domain.TimeRepUndef {
		t.Fatalf("want schema metadata resolved for a 1-based catalog position, got TimeRepUndef")
	}
}

func TestTranslateUpdateParsesBeforeAndAfter(t *testing.T) {
	engine := &fakeEngine{tableOID: 1, columns: map[string]domain.ColumnInfo{"id": {OID: 23, Position: 0}, "qty": {OID: 23, Position: 1}}}
	tr := newTestTranslator(engine)
	op := "u"
	ev := &debezium.RawEvent{Payload: debezium.RawPayload{
		Op:     &op,
		Before: map[string]interface{}{"id": float64(1), "qty": float64(1)},
		After:  map[string]interface{}{"id": float64(1), "qty": float64(2)},
		Source: debezium.SourceBlock{Schema: "public", Table: "orders"},
	}}
	rec, err := tr.Translate(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.BeforeValues) != 2 || len(rec.AfterValues) != 2 {
		t.Fatalf("want both before and after values parsed, got %+v", rec)
	}
}

func TestTranslateUnresolvableTableIsCatalogError(t *testing.T) {
	tr := newTestTranslator(&erroringEngine{})
	op := "c"
	ev := &debezium.RawEvent{Payload: debezium.RawPayload{Op: &op, Source: debezium.SourceBlock{Table: "ghost"}}}
	if _, err := tr.Translate(context.Background(), ev); err == nil {
		t.Fatal("want a catalog error when the table cannot be resolved")
	}
}

type erroringEngine struct{ fakeEngine }

func (e *erroringEngine) GetTableOID(ctx context.Context, schema, table string) (uint32, error) {
	return 0, errNotFound
}

var errNotFound = &notFoundErr{}

type notFoundErr struct{}

func (e *notFoundErr) Error() string { return "table not found" }

func TestTranslateInvalidateClearsInProcessCache(t *testing.T) {
	engine := &fakeEngine{tableOID: 1, columns: map[string]domain.ColumnInfo{"id": {OID: 23, Position: 0}}}
	tr := newTestTranslator(engine)
	op := "c"
	ev := &debezium.RawEvent{Payload: debezium.RawPayload{
		Op: &op, After: map[string]interface{}{"id": float64(1)},
		Source: debezium.SourceBlock{Schema: "public", Table: "users"},
	}}
	if _, err := tr.Translate(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := tr.cache["public.users"]; !ok {
		t.Fatal("want the table cached after first resolution")
	}
	tr.Invalidate("public", "users")
	if _, ok := tr.cache["public.users"]; ok {
		t.Fatal("want the cache entry dropped after Invalidate")
	}
}

func TestEmitSQLInsert(t *testing.T) {
	rec := domain.DMLRecord{
		Table: domain.FQID{Schema: "public", Table: "orders"},
		Op:    domain.OpCreate,
		AfterValues: []domain.Value{
			{MappedName: "id", DestTypeOID: 23, RawValue: "42"},
			{MappedName: "note", DestTypeOID: 25, RawValue: "hello"},
		},
	}
	tr := &Translator{}
	sql, err := tr.EmitSQL(rec, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "INSERT INTO public.orders(id,note) VALUES (42,'hello');"
	if sql != want {
		t.Fatalf("want %q, got %q", want, sql)
	}
}

func TestEmitSQLDeleteUsesPrimaryKeyOnly(t *testing.T) {
	rec := domain.DMLRecord{
		Table: domain.FQID{Schema: "public", Table: "orders"},
		Op:    domain.OpDelete,
		BeforeValues: []domain.Value{
			{MappedName: "id", DestTypeOID: 23, RawValue: "42"},
			{MappedName: "note", DestTypeOID: 25, RawValue: "stale"},
		},
	}
	tr := &Translator{}
	sql, err := tr.EmitSQL(rec, []string{"id"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "DELETE FROM public.orders WHERE id = 42;"
	if sql != want {
		t.Fatalf("want %q, got %q", want, sql)
	}
}

func TestEmitSQLUpdateSetsAllColumnsAndFiltersWhereToPK(t *testing.T) {
	rec := domain.DMLRecord{
		Table: domain.FQID{Schema: "public", Table: "orders"},
		Op:    domain.OpUpdate,
		BeforeValues: []domain.Value{
			{MappedName: "id", DestTypeOID: 23, RawValue: "42"},
		},
		AfterValues: []domain.Value{
			{MappedName: "id", DestTypeOID: 23, RawValue: "42"},
			{MappedName: "qty", DestTypeOID: 23, RawValue: "7"},
		},
	}
	tr := &Translator{}
	sql, err := tr.EmitSQL(rec, []string{"id"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "UPDATE public.orders SET id = 42, qty = 7 WHERE id = 42;"
	if sql != want {
		t.Fatalf("want %q, got %q", want, sql)
	}
}

func TestEmitSQLInsertAppliesTransformExpression(t *testing.T) {
	engine := &fakeEngine{
		tableOID: 1,
		columns: map[string]domain.ColumnInfo{
			"id":   {OID: 23, Position: 0},
			"note": {OID: 25, Position: 1},
		},
	}
	rules := rulestore.New()
	rules.Merge(domain.RuleFile{
		TransformExpressionRules: []domain.ExpressionRule{
			{TransformFrom: "public.orders.note", TransformExpression: "UPPER(%d)"},
		},
	})
	tr := New(testLogger(), rules, engine)

	op := "c"
	ev := &debezium.RawEvent{Payload: debezium.RawPayload{
		Op:     &op,
		After:  map[string]interface{}{"id": float64(1), "note": "hello"},
		Source: debezium.SourceBlock{Schema: "public", Table: "orders"},
	}}
	rec, err := tr.Translate(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sql, err := tr.EmitSQL(rec, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "INSERT INTO public.orders(id,note) VALUES (1,UPPER('hello'));"
	if sql != want {
		t.Fatalf("want %q, got %q", want, sql)
	}
}

func TestEmitSQLInsertAppliesGeometryTransformExpression(t *testing.T) {
	engine := &fakeEngine{
		tableOID: 1,
		columns: map[string]domain.ColumnInfo{
			"loc": {OID: 25, Position: 0},
		},
	}
	rules := rulestore.New()
	rules.Merge(domain.RuleFile{
		TransformExpressionRules: []domain.ExpressionRule{
			{TransformFrom: "public.places.loc", TransformExpression: "ST_GeomFromWKB(%1,%2)"},
		},
	})
	tr := New(testLogger(), rules, engine)

	op := "c"
	ev := &debezium.RawEvent{Payload: debezium.RawPayload{
		Op: &op,
		After: map[string]interface{}{
			"loc": map[string]interface{}{"wkb": "0101000000", "srid": float64(4326)},
		},
		Source: debezium.SourceBlock{Schema: "public", Table: "places"},
	}}
	rec, err := tr.Translate(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sql, err := tr.EmitSQL(rec, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "INSERT INTO public.places(loc) VALUES (ST_GeomFromWKB(0101000000,4326));"
	if sql != want {
		t.Fatalf("want %q, got %q", want, sql)
	}
}

func TestEmitSQLDeleteFallsBackToAllBeforeColumnsWithoutPK(t *testing.T) {
	rec := domain.DMLRecord{
		Table: domain.FQID{Schema: "public", Table: "orders"},
		Op:    domain.OpDelete,
		BeforeValues: []domain.Value{
			{MappedName: "id", DestTypeOID: 23, RawValue: "42"},
			{MappedName: "note", DestTypeOID: 25, RawValue: "NULL"},
		},
	}
	tr := &Translator{}
	sql, err := tr.EmitSQL(rec, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "DELETE FROM public.orders WHERE id = 42 AND note IS NULL;"
	if sql != want {
		t.Fatalf("want %q, got %q", want, sql)
	}
}
