// Package ddltranslator implements the DDL Translator (§4.D): parses
// source DDL events and emits destination DDL.
package ddltranslator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/synchdb-go/synchdb/src/destination"
	"github.com/synchdb-go/synchdb/src/domain"
	"github.com/synchdb-go/synchdb/src/infra/debezium"
	"github.com/synchdb-go/synchdb/src/mapping"
	"github.com/synchdb-go/synchdb/src/rulestore"
	"github.com/synchdb-go/synchdb/src/synchdberr"
)

const maxDestAttributeSize = 10485760 // destination's max varlena attribute size

// Translator parses one DDL envelope per call and emits the destination
// statement (or a no-op if tableChanges was empty).
type Translator struct {
	logger   *slog.Logger
	registry *mapping.Registry
	rules    *rulestore.Store
	flavor   domain.SourceFlavor
	engine   destination.Engine
}

func New(logger *slog.Logger, registry *mapping.Registry, rules *rulestore.Store, flavor domain.SourceFlavor, engine destination.Engine) *Translator {
	return &Translator{logger: logger, registry: registry, rules: rules, flavor: flavor, engine: engine}
}

// Translate parses payload.tableChanges[0] and returns the destination DDL
// statement(s) to execute, or an empty slice if there is nothing to do
// (§8 boundary case: empty tableChanges).
func (t *Translator) Translate(ctx context.Context, payload debezium.RawPayload) ([]string, domain.FQID, error) {
	if len(payload.TableChanges) == 0 {
		t.logger.Debug("DDL event carried no table changes, treating as no-op")
		return nil, domain.FQID{}, nil
	}
	if len(payload.TableChanges) > 1 {
		t.logger.Warn("DDL event carried multiple table changes, only the first is applied", "count", len(payload.TableChanges))
	}

	tc := payload.TableChanges[0]
	record, err := t.parseRecord(tc)
	if err != nil {
		return nil, domain.FQID{}, err
	}

	var stmts []string
	switch record.Kind {
	case domain.DDLCreate:
		stmts, err = t.emitCreate(record)
	case domain.DDLDrop:
		stmts = t.emitDrop(record)
	case domain.DDLAlter:
		stmts, err = t.emitAlter(ctx, record)
	default:
		err = synchdberr.Errorf(synchdberr.KindParse, "unknown DDL change type %q", tc.Type)
	}
	return stmts, record.FQID, err
}

func (t *Translator) parseRecord(tc debezium.TableChange) (domain.DDLRecord, error) {
	mappedID := t.rules.ResolveName(tc.ID, domain.ObjectTable)
	fqid := domain.SplitFQID(mappedID)
	if fqid.Table == "" {
		return domain.DDLRecord{}, synchdberr.Errorf(synchdberr.KindParse, "DDL id %q resolved to an empty table name", tc.ID)
	}

	cols := make([]domain.Column, 0, len(tc.Table.Columns))
	for _, c := range tc.Table.Columns {
		col := domain.Column{
			Name:            c.Name,
			TypeName:        c.TypeName,
			Optional:        c.Optional,
			Position:        c.Position,
			AutoIncremented: c.AutoIncremented,
			EnumValues:      c.EnumValues,
		}
		if c.Length != nil {
			col.Length = *c.Length
		}
		if c.Scale != nil {
			col.Scale = *c.Scale
		}
		if c.DefaultValueExpression != nil {
			col.DefaultExpr = *c.DefaultValueExpression
			col.HasDefault = true
		}
		if c.Charset != nil {
			col.Charset = *c.Charset
		}
		cols = append(cols, col)
	}

	return domain.DDLRecord{
		FQID:      fqid,
		Kind:      domain.ParseDDLKind(tc.Type),
		PKColumns: tc.Table.PrimaryKeyColumnNames,
		Columns:   cols,
	}, nil
}

func (t *Translator) columnFQColumn(rec domain.DDLRecord, colName string) string {
	parts := []string{}
	if rec.FQID.Database != "" {
		parts = append(parts, rec.FQID.Database)
	}
	if rec.FQID.Schema != "" {
		parts = append(parts, rec.FQID.Schema)
	}
	parts = append(parts, rec.FQID.Table, colName)
	return strings.Join(parts, ".")
}

// resolveColumnName remaps a source column name through the object-name
// rule store, falling back to the original short name (not the
// fully-qualified lookup key) when no rule applies.
func (t *Translator) resolveColumnName(rec domain.DDLRecord, colName string) string {
	fq := t.columnFQColumn(rec, colName)
	remapped := t.rules.ResolveName(fq, domain.ObjectColumn)
	if remapped == fq {
		return colName
	}
	return remapped
}

func (t *Translator) emitCreate(rec domain.DDLRecord) ([]string, error) {
	var stmts []string
	if rec.FQID.Schema != "" {
		stmts = append(stmts, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s;", rec.FQID.Schema))
	}

	var colClauses []string
	for _, col := range rec.Columns {
		remapped := t.resolveColumnName(rec, col.Name)
		clause, err := t.columnClause(rec, col, remapped)
		if err != nil {
			return nil, err
		}
		colClauses = append(colClauses, clause)
	}

	if len(rec.PKColumns) > 0 {
		mapped := make([]string, 0, len(rec.PKColumns))
		for _, pk := range rec.PKColumns {
			mapped = append(mapped, t.resolveColumnName(rec, pk))
		}
		colClauses = append(colClauses, fmt.Sprintf("PRIMARY KEY(%s)", strings.Join(mapped, ", ")))
	}

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s ( %s );", rec.FQID.Qualified(), strings.Join(colClauses, " , "))
	stmts = append(stmts, stmt)
	return stmts, nil
}

// columnClause builds one column's DDL fragment, shared by Create and the
// Alter-add case.
func (t *Translator) columnClause(rec domain.DDLRecord, col domain.Column, destName string) (string, error) {
	mv := t.registry.Resolve(t.flavorOrDefault(), t.columnFQColumn(rec, col.Name), col.TypeName, col.Length, col.AutoIncremented)

	length := col.Length
	if mv.FixedLength >= 0 {
		length = mv.FixedLength
	}
	if length > maxDestAttributeSize {
		length = maxDestAttributeSize
	}

	clause := fmt.Sprintf("%s %s%s", destName, mv.DestTypeName, lengthSuffix(length, col.Scale))

	if strings.Contains(strings.ToUpper(col.TypeName), "UNSIGNED") {
		clause += fmt.Sprintf(" CHECK (%s >= 0)", destName)
	}

	if !col.Optional {
		clause += " NOT NULL"
	}

	if col.HasDefault && !col.AutoIncremented {
		clause += fmt.Sprintf(" DEFAULT %s", col.DefaultExpr)
	}

	return clause, nil
}

func (t *Translator) flavorOrDefault() domain.SourceFlavor {
	if t.flavor == "" {
		return domain.FlavorMySQL
	}
	return t.flavor
}

func (t *Translator) emitDrop(rec domain.DDLRecord) []string {
	return []string{fmt.Sprintf("DROP TABLE IF EXISTS %s;", rec.FQID.Qualified())}
}

// emitAlter implements the three-way disjoint classification §4.D
// describes: add (more source columns), drop (fewer), or modify (equal).
func (t *Translator) emitAlter(ctx context.Context, rec domain.DDLRecord) ([]string, error) {
	nsOID, err := t.engine.GetNamespaceOID(ctx, schemaOrPublic(rec.FQID.Schema))
	if err != nil {
		return nil, synchdberr.Errorf(synchdberr.KindCatalog, "namespace lookup failed for %s: %w", rec.FQID.Qualified(), err)
	}
	tableOID, err := t.engine.GetTableOID(ctx, schemaOrPublic(rec.FQID.Schema), rec.FQID.Table)
	if err != nil {
		return nil, synchdberr.Errorf(synchdberr.KindCatalog, "table lookup failed for %s: %w", rec.FQID.Qualified(), err)
	}
	_ = nsOID

	destCols, err := t.engine.TableColumns(ctx, tableOID)
	if err != nil {
		return nil, synchdberr.Errorf(synchdberr.KindCatalog, "column lookup failed for %s: %w", rec.FQID.Qualified(), err)
	}

	srcByName := map[string]domain.Column{}
	for _, c := range rec.Columns {
		remapped := t.resolveColumnName(rec, c.Name)
		srcByName[strings.ToLower(remapped)] = c
	}

	switch {
	case len(rec.Columns) > len(destCols):
		return t.emitAlterAdd(rec, srcByName, destCols)
	case len(rec.Columns) < len(destCols):
		return t.emitAlterDrop(rec, srcByName, destCols)
	default:
		return t.emitAlterModify(rec, srcByName, destCols)
	}
}

func schemaOrPublic(schema string) string {
	if schema == "" {
		return "public"
	}
	return schema
}

func (t *Translator) emitAlterAdd(rec domain.DDLRecord, srcByName map[string]domain.Column, destCols map[string]domain.ColumnInfo) ([]string, error) {
	var adds []string
	for name, col := range srcByName {
		if _, exists := destCols[name]; exists {
			continue
		}
		clause, err := t.columnClause(rec, col, name)
		if err != nil {
			return nil, err
		}
		adds = append(adds, fmt.Sprintf("ADD COLUMN %s", clause))
	}
	if len(adds) == 0 {
		return nil, nil
	}
	return []string{fmt.Sprintf("ALTER TABLE %s %s;", rec.FQID.Qualified(), strings.Join(adds, ", "))}, nil
}

func (t *Translator) emitAlterDrop(rec domain.DDLRecord, srcByName map[string]domain.Column, destCols map[string]domain.ColumnInfo) ([]string, error) {
	var drops []string
	for name := range destCols {
		if _, exists := srcByName[name]; exists {
			continue
		}
		drops = append(drops, fmt.Sprintf("DROP COLUMN %s", name))
	}
	if len(drops) == 0 {
		return nil, nil
	}
	return []string{fmt.Sprintf("ALTER TABLE %s %s;", rec.FQID.Qualified(), strings.Join(drops, ", "))}, nil
}

func (t *Translator) emitAlterModify(rec domain.DDLRecord, srcByName map[string]domain.Column, destCols map[string]domain.ColumnInfo) ([]string, error) {
	var groups []string
	for name, col := range srcByName {
		if _, exists := destCols[name]; !exists {
			// Equal counts but name not matched: rename is unsupported
			// per §4.D's open question — log and ignore.
			t.logger.Warn("column rename on ALTER is unsupported, ignoring", "table", rec.FQID.Qualified(), "column", name)
			continue
		}

		mv := t.registry.Resolve(t.flavorOrDefault(), t.columnFQColumn(rec, col.Name), col.TypeName, col.Length, col.AutoIncremented)
		length := col.Length
		if mv.FixedLength >= 0 {
			length = mv.FixedLength
		}

		typeClause := mv.DestTypeName + lengthSuffix(length, col.Scale)

		var parts []string
		parts = append(parts, fmt.Sprintf("ALTER COLUMN %s SET DATA TYPE %s", name, typeClause))
		if col.HasDefault {
			parts = append(parts, fmt.Sprintf("ALTER COLUMN %s SET DEFAULT %s", name, col.DefaultExpr))
		} else {
			parts = append(parts, fmt.Sprintf("ALTER COLUMN %s DROP DEFAULT", name))
		}
		if !col.Optional {
			parts = append(parts, fmt.Sprintf("ALTER COLUMN %s SET NOT NULL", name))
		} else {
			parts = append(parts, fmt.Sprintf("ALTER COLUMN %s DROP NOT NULL", name))
		}
		groups = append(groups, strings.Join(parts, ", "))
	}

	if len(groups) == 0 {
		return nil, nil
	}
	return []string{fmt.Sprintf("ALTER TABLE %s %s;", rec.FQID.Qualified(), strings.Join(groups, ", "))}, nil
}

// lengthSuffix renders "(len)" or "(len, scale)" when length is positive,
// shared by columnClause and the Alter-type-change case.
func lengthSuffix(length, scale int) string {
	if length <= 0 {
		return ""
	}
	if scale > 0 {
		return "(" + strconv.Itoa(length) + ", " + strconv.Itoa(scale) + ")"
	}
	return "(" + strconv.Itoa(length) + ")"
}
