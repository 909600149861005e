// Package dmltranslator implements the DML Translator (§4.E): parses
// source DML events and emits destination DML, either as textual SQL or
// as a tuple ready for direct heap insertion.
package dmltranslator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/synchdb-go/synchdb/src/decode"
	"github.com/synchdb-go/synchdb/src/destination"
	"github.com/synchdb-go/synchdb/src/domain"
	"github.com/synchdb-go/synchdb/src/expr"
	"github.com/synchdb-go/synchdb/src/infra/debezium"
	"github.com/synchdb-go/synchdb/src/rulestore"
	"github.com/synchdb-go/synchdb/src/synchdberr"
)

// secondTierCache is the optional Redis-backed catalog cache (DOMAIN
// STACK) sitting in front of this translator's in-process DataCache. A nil
// value disables it entirely — every call falls straight through to the
// live catalog probe, matching the teacher's "cache absence degrades to a
// cold lookup" posture elsewhere in the stack.
type secondTierCache interface {
	GetTableEntry(ctx context.Context, connector, schema, table string) (domain.TableCacheEntry, bool, error)
	SetTableEntry(ctx context.Context, connector, schema, table string, entry domain.TableCacheEntry) error
	InvalidateTable(ctx context.Context, connector, schema, table string) error
}

// Translator owns the per-connector DataCache (§3) — never shared across
// connector tasks (§5).
type Translator struct {
	logger    *slog.Logger
	rules     *rulestore.Store
	engine    destination.Engine
	connector string
	l2        secondTierCache

	mu    sync.Mutex
	cache map[string]domain.TableCacheEntry // key = "schema.table", lower-cased
}

func New(logger *slog.Logger, rules *rulestore.Store, engine destination.Engine) *Translator {
	return &Translator{
		logger: logger,
		rules:  rules,
		engine: engine,
		cache:  map[string]domain.TableCacheEntry{},
	}
}

// WithCatalogCache attaches the optional Redis-backed second-tier cache
// (DOMAIN STACK) and the connector name it is namespaced under. Calling it
// is optional; a Translator built via New alone works, falling through to
// the live catalog on every miss.
func (t *Translator) WithCatalogCache(connector string, l2 secondTierCache) *Translator {
	t.connector = connector
	t.l2 = l2
	return t
}

// Invalidate drops the DataCache entry for one table, both in-process and
// (if attached) in the second-tier cache, called whenever a DDL event
// touches it (§3 invariant).
func (t *Translator) Invalidate(schema, table string) {
	t.mu.Lock()
	delete(t.cache, cacheKey(schema, table))
	t.mu.Unlock()

	if t.l2 != nil {
		if err := t.l2.InvalidateTable(context.Background(), t.connector, schema, table); err != nil {
			t.logger.Warn("second-tier catalog cache invalidation failed", "connector", t.connector, "schema", schema, "table", table, "err", err)
		}
	}
}

func cacheKey(schema, table string) string {
	return strings.ToLower(schema) + "." + strings.ToLower(table)
}

func (t *Translator) resolveCache(ctx context.Context, schema, table string) (domain.TableCacheEntry, error) {
	key := cacheKey(schema, table)

	t.mu.Lock()
	entry, ok := t.cache[key]
	t.mu.Unlock()
	if ok {
		return entry, nil
	}

	if t.l2 != nil {
		if entry, ok, err := t.l2.GetTableEntry(ctx, t.connector, schema, table); err != nil {
			t.logger.Warn("second-tier catalog cache read failed, falling back to live catalog", "connector", t.connector, "schema", schema, "table", table, "err", err)
		} else if ok {
			t.mu.Lock()
			t.cache[key] = entry
			t.mu.Unlock()
			return entry, nil
		}
	}

	tableOID, err := t.engine.GetTableOID(ctx, schema, table)
	if err != nil {
		return domain.TableCacheEntry{}, synchdberr.Errorf(synchdberr.KindCatalog, "table %s.%s not found in destination catalog: %w", schema, table, err)
	}
	cols, err := t.engine.TableColumns(ctx, tableOID)
	if err != nil {
		return domain.TableCacheEntry{}, synchdberr.Errorf(synchdberr.KindCatalog, "failed to load columns for %s.%s: %w", schema, table, err)
	}
	pkCols, err := t.engine.GetPrimaryKeyColumns(ctx, tableOID)
	if err != nil {
		return domain.TableCacheEntry{}, synchdberr.Errorf(synchdberr.KindCatalog, "failed to load primary key columns for %s.%s: %w", schema, table, err)
	}

	entry = domain.TableCacheEntry{TableOID: tableOID, Columns: cols, PKColumns: pkCols}
	t.mu.Lock()
	t.cache[key] = entry
	t.mu.Unlock()

	if t.l2 != nil {
		if err := t.l2.SetTableEntry(ctx, t.connector, schema, table, entry); err != nil {
			t.logger.Warn("second-tier catalog cache write failed", "connector", t.connector, "schema", schema, "table", table, "err", err)
		}
	}

	return entry, nil
}

// Translate parses one DML envelope, per §4.E.
func (t *Translator) Translate(ctx context.Context, ev *debezium.RawEvent) (domain.DMLRecord, error) {
	payload := ev.Payload
	if payload.Op == nil {
		return domain.DMLRecord{}, synchdberr.Errorf(synchdberr.KindParse, "DML event missing payload.op")
	}
	op := domain.ParseOp(*payload.Op)
	if op == domain.OpUndef {
		return domain.DMLRecord{}, synchdberr.Errorf(synchdberr.KindParse, "unrecognized operation code %q", *payload.Op)
	}

	remoteFQ := buildRemoteFQID(payload.Source)
	mappedID := t.rules.ResolveName(remoteFQ, domain.ObjectTable)
	fqid := domain.SplitFQID(mappedID)
	if fqid.Schema == "" {
		fqid.Schema = "public"
	}

	entry, err := t.resolveCache(ctx, fqid.Schema, fqid.Table)
	if err != nil {
		return domain.DMLRecord{}, err
	}

	rec := domain.DMLRecord{Table: fqid, TableOID: entry.TableOID, Op: op, PKColumns: entry.PKColumns}

	switch op {
	case domain.OpRead, domain.OpCreate:
		vals, err := t.parseSide(ev, payload.After, payload.Source, 1, entry, fqid)
		if err != nil {
			return domain.DMLRecord{}, err
		}
		rec.AfterValues = vals
	case domain.OpDelete:
		vals, err := t.parseSide(ev, payload.Before, payload.Source, 0, entry, fqid)
		if err != nil {
			return domain.DMLRecord{}, err
		}
		rec.BeforeValues = vals
	case domain.OpUpdate:
		beforeVals, err := t.parseSide(ev, payload.Before, payload.Source, 0, entry, fqid)
		if err != nil {
			return domain.DMLRecord{}, err
		}
		afterVals, err := t.parseSide(ev, payload.After, payload.Source, 1, entry, fqid)
		if err != nil {
			return domain.DMLRecord{}, err
		}
		rec.BeforeValues = beforeVals
		rec.AfterValues = afterVals
	}

	return rec, nil
}

func buildRemoteFQID(src debezium.SourceBlock) string {
	parts := []string{}
	if src.DB != "" {
		parts = append(parts, src.DB)
	}
	if src.Schema != "" {
		parts = append(parts, src.Schema)
	}
	parts = append(parts, src.Table)
	return strings.Join(parts, ".")
}

// parseSide walks one JSON body (before or after), applying the per-column
// remap, catalog resolution, and schema-metadata extraction §4.E
// describes, then sorts by position ascending.
func (t *Translator) parseSide(ev *debezium.RawEvent, body map[string]interface{}, src debezium.SourceBlock, schemaSide int, entry domain.TableCacheEntry, fqid domain.FQID) ([]domain.Value, error) {
	if body == nil {
		return nil, nil
	}

	var values []domain.Value
	for key, raw := range body {
		remappedName, fqColumn := t.resolveDMLColumnName(src, key)
		colInfo, ok := entry.Columns[strings.ToLower(remappedName)]
		if !ok {
			t.logger.Warn("column not found in destination catalog, skipping", "table", fqid.Qualified(), "column", remappedName)
			continue
		}

		val := domain.Value{
			RemoteColumnName: key,
			RemoteColumnFQID: fqColumn,
			MappedName:       remappedName,
			DestTypeOID:      colInfo.OID,
			Typemod:          colInfo.Typemod,
			Position:         colInfo.Position,
		}

		if sub, isObject := raw.(map[string]interface{}); isObject {
			// Sub-objects (e.g. geometry) are captured whole as a JSON
			// string, per §4.E.
			encoded, err := json.Marshal(sub)
			if err != nil {
				return nil, synchdberr.Errorf(synchdberr.KindParse, "failed to re-encode sub-object for column %s: %w", key, err)
			}
			val.RawValue = string(encoded)
			if wkb, srid, ok := expr.IsGeometrySubObject(sub); ok {
				val.IsGeometry = true
				val.GeometryWKB = wkb
				val.GeometrySRID = srid
			}
		} else {
			val.RawValue = scalarToString(raw)
		}

		// colInfo.Position is the catalog attnum (1-based); FieldMeta
		// indexes the schema's 0-based fields array.
		if meta, ok := ev.FieldMeta(schemaSide, colInfo.Position-1); ok {
			val.TimeRep = domain.TimeRepFromSchemaName(meta.Name)
			if meta.Parameters.Scale != "" {
				fmt.Sscanf(meta.Parameters.Scale, "%d", &val.Scale)
				val.HasScale = true
			}
		}

		values = append(values, val)
	}

	sort.Slice(values, func(i, j int) bool { return values[i].Position < values[j].Position })
	return values, nil
}

// resolveDMLColumnName remaps one source column name through the Name Rule
// Store and also returns the fully-qualified source column id (§4.C), which
// doubles as the Expression Rule Store's lookup key.
func (t *Translator) resolveDMLColumnName(src debezium.SourceBlock, col string) (mappedName string, fqColumn string) {
	parts := []string{}
	if src.DB != "" {
		parts = append(parts, src.DB)
	}
	if src.Schema != "" {
		parts = append(parts, src.Schema)
	}
	parts = append(parts, src.Table, col)
	fq := strings.Join(parts, ".")
	remapped := t.rules.ResolveName(fq, domain.ObjectColumn)
	if remapped == fq {
		return col, fq
	}
	return remapped, fq
}

func scalarToString(v interface{}) string {
	if v == nil {
		return "NULL"
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return decode.FormatFloatLexeme(x)
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

// EmissionMode picks between the two emission paths §4.E describes.
type EmissionMode int

const (
	ModeTuple EmissionMode = iota
	ModeSQL
)

// EmitSQL builds the textual SQL statement for SQL-mode emission.
func (t *Translator) EmitSQL(rec domain.DMLRecord, pkColumns []string) (string, error) {
	switch rec.Op {
	case domain.OpRead, domain.OpCreate:
		return t.emitInsertSQL(rec)
	case domain.OpDelete:
		return emitDeleteSQL(rec, pkColumns)
	case domain.OpUpdate:
		return t.emitUpdateSQL(rec, pkColumns)
	default:
		return "", synchdberr.Errorf(synchdberr.KindInternal, "cannot emit SQL for op %v", rec.Op)
	}
}

// applyExpression implements §4.A's final clause: after base decoding, if a
// transform-expression rule exists for the value's fully-qualified source
// column, the decoded literal is replaced by the expression's substitution
// rather than used as-is.
func (t *Translator) applyExpression(v domain.Value, literal string) string {
	if t.rules == nil {
		return literal
	}
	exprText, ok := t.rules.Expression(v.RemoteColumnFQID)
	if !ok {
		return literal
	}
	return expr.Evaluate(exprText, literal, v.GeometryWKB, v.GeometrySRID)
}

func (t *Translator) emitInsertSQL(rec domain.DMLRecord) (string, error) {
	var cols, lits []string
	for _, v := range rec.AfterValues {
		cols = append(cols, v.MappedName)
		lit, err := decode.Decode(decode.Input{RawValue: v.RawValue, DestKind: destKindFor(v), Typemod: v.Typemod, Scale: v.Scale, HasScale: v.HasScale, TimeRep: v.TimeRep, QuoteForSQL: true})
		if err != nil {
			return "", err
		}
		rendered := literalOrNull(lit)
		if !lit.IsNull {
			rendered = t.applyExpression(v, rendered)
		}
		lits = append(lits, rendered)
	}
	return fmt.Sprintf("INSERT INTO %s(%s) VALUES (%s);", rec.Table.Qualified(), strings.Join(cols, ","), strings.Join(lits, ",")), nil
}

func emitDeleteSQL(rec domain.DMLRecord, pkColumns []string) (string, error) {
	where, err := buildWhereClause(rec.BeforeValues, pkColumns)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s;", rec.Table.Qualified(), where), nil
}

func (t *Translator) emitUpdateSQL(rec domain.DMLRecord, pkColumns []string) (string, error) {
	var sets []string
	for _, v := range rec.AfterValues {
		lit, err := decode.Decode(decode.Input{RawValue: v.RawValue, DestKind: destKindFor(v), Typemod: v.Typemod, Scale: v.Scale, HasScale: v.HasScale, TimeRep: v.TimeRep, QuoteForSQL: true})
		if err != nil {
			return "", err
		}
		rendered := literalOrNull(lit)
		if !lit.IsNull {
			rendered = t.applyExpression(v, rendered)
		}
		sets = append(sets, fmt.Sprintf("%s = %s", v.MappedName, rendered))
	}
	where, err := buildWhereClause(rec.BeforeValues, pkColumns)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s;", rec.Table.Qualified(), strings.Join(sets, ", "), where), nil
}

func buildWhereClause(before []domain.Value, pkColumns []string) (string, error) {
	useCols := before
	if len(pkColumns) > 0 {
		pkSet := map[string]bool{}
		for _, pk := range pkColumns {
			pkSet[strings.ToLower(pk)] = true
		}
		var filtered []domain.Value
		for _, v := range before {
			if pkSet[strings.ToLower(v.MappedName)] {
				filtered = append(filtered, v)
			}
		}
		if len(filtered) > 0 {
			useCols = filtered
		}
	}

	var clauses []string
	for _, v := range useCols {
		lit, err := decode.Decode(decode.Input{RawValue: v.RawValue, DestKind: destKindFor(v), Typemod: v.Typemod, Scale: v.Scale, HasScale: v.HasScale, TimeRep: v.TimeRep, QuoteForSQL: true})
		if err != nil {
			return "", err
		}
		if lit.IsNull {
			clauses = append(clauses, fmt.Sprintf("%s IS NULL", v.MappedName))
			continue
		}
		clauses = append(clauses, fmt.Sprintf("%s = %s", v.MappedName, lit.Literal))
	}
	return strings.Join(clauses, " AND "), nil
}

func literalOrNull(r decode.Result) string {
	if r.IsNull {
		return "NULL"
	}
	return r.Literal
}

func destKindFor(v domain.Value) decode.DestKind {
	return decode.ResolveDestKind(v.DestTypeOID)
}

// Expression exposes the Expression Rule Store lookup to tuple-mode
// emission (applier.decodeFields), which needs the same §4.A final-clause
// treatment SQL-mode emission applies above.
func (t *Translator) Expression(fqColumn string) (string, bool) {
	if t.rules == nil {
		return "", false
	}
	return t.rules.Expression(fqColumn)
}
