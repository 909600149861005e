// Package mapping implements the Type-Mapping Registry (§4.B): resolving
// source type name -> destination type name + size, per source flavor,
// with user overrides layered on top of compiled-in defaults.
package mapping

import (
	"fmt"
	"strings"

	"github.com/synchdb-go/synchdb/src/domain"
)

// Registry holds one resolved lookup table per source flavor, built once
// at worker start from the compiled-in defaults plus any rules-file
// overrides, then treated as read-only for the life of the connector
// (§5's "built once... then read-only" invariant).
type Registry struct {
	byFlavor map[domain.SourceFlavor]map[string]domain.MappingValue
	// columnOverrides are keyed by the fully-qualified per-column key
	// described in §4.B.1, independent of source flavor.
	columnOverrides map[string]domain.MappingValue
}

// NewRegistry builds a registry from the compiled-in defaults for every
// known flavor. Oracle has no compiled-in entries: it defaults to
// identity passthrough, per §4.B.
func NewRegistry() *Registry {
	r := &Registry{
		byFlavor:        map[domain.SourceFlavor]map[string]domain.MappingValue{},
		columnOverrides: map[string]domain.MappingValue{},
	}
	r.byFlavor[domain.FlavorMySQL] = cloneDefaults(mysqlDefaults)
	r.byFlavor[domain.FlavorSQLServer] = cloneDefaults(sqlServerDefaults)
	r.byFlavor[domain.FlavorOracle] = map[string]domain.MappingValue{}
	return r
}

func cloneDefaults(src map[string]domain.MappingValue) map[string]domain.MappingValue {
	out := make(map[string]domain.MappingValue, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// ApplyRules layers the rules-file datatype entries on top of the
// compiled-in defaults for the given flavor. Entries whose TranslateFrom
// already carries a fully-qualified column suffix are routed into the
// per-column override table instead.
func (r *Registry) ApplyRules(flavor domain.SourceFlavor, rules []domain.DatatypeRule) {
	table := r.byFlavor[flavor]
	if table == nil {
		table = map[string]domain.MappingValue{}
		r.byFlavor[flavor] = table
	}
	for _, rule := range rules {
		value := domain.MappingValue{DestTypeName: rule.TranslateTo, FixedLength: rule.TranslateToSize}
		if strings.Count(rule.TranslateFrom, ".") >= 3 {
			// db.schema.table.column.TYPE form -> per-column override. Only
			// the TYPE part is normalised, so the key matches the one
			// Resolve builds from the column path as given.
			i := strings.LastIndex(rule.TranslateFrom, ".")
			r.columnOverrides[rule.TranslateFrom[:i]+"."+globalKey(rule.TranslateFrom[i+1:], rule.TranslateFromAutoinc)] = value
			continue
		}
		table[globalKey(rule.TranslateFrom, rule.TranslateFromAutoinc)] = value
	}
}

// globalKey builds the upper-cased "<source_type>" key, with a "#AUTOINC"
// suffix for auto-incremented columns. The BIT(1)->boolean special case
// uses bitOneKey instead.
func globalKey(sourceType string, autoIncremented bool) string {
	key := strings.ToUpper(sourceType)
	if autoIncremented {
		key += "#AUTOINC"
	}
	return key
}

// bitOneKey is the special-cased key for single-bit BIT columns, which
// map to boolean regardless of flavor (§8 boundary case).
func bitOneKey() string {
	return "BIT(1)"
}

// Resolve implements the two-tier lookup §4.B.1/§4.B.2 describes. qualifiedColumn
// is "<db>.<schema>.<table>.<column>" (schema may be empty); length is the
// source-declared column length, needed only to detect the BIT(1) case.
func (r *Registry) Resolve(flavor domain.SourceFlavor, qualifiedColumn, sourceType string, length int, autoIncremented bool) domain.MappingValue {
	if strings.EqualFold(sourceType, "BIT") && length == 1 {
		if v, ok := r.columnOverrides[qualifiedColumn+"."+bitOneKey()]; ok {
			return v
		}
		table := r.byFlavor[flavor]
		if v, ok := table[bitOneKey()]; ok {
			return v
		}
		return domain.MappingValue{DestTypeName: "BOOLEAN", FixedLength: -1}
	}

	perColumnKey := fmt.Sprintf("%s.%s", qualifiedColumn, globalKey(sourceType, autoIncremented))
	if v, ok := r.columnOverrides[perColumnKey]; ok {
		return v
	}

	table := r.byFlavor[flavor]
	if v, ok := table[globalKey(sourceType, autoIncremented)]; ok {
		return v
	}

	// Miss: use the source type name verbatim, per §4.B.
	return domain.MappingValue{DestTypeName: sourceType, FixedLength: -1}
}

// mysqlDefaults is the compiled-in MySQL -> destination type table.
var mysqlDefaults = map[string]domain.MappingValue{
	"INT":        {DestTypeName: "INT", FixedLength: -1},
	"INT#AUTOINC": {DestTypeName: "SERIAL", FixedLength: -1},
	"BIGINT":      {DestTypeName: "BIGINT", FixedLength: -1},
	"BIGINT#AUTOINC": {DestTypeName: "BIGSERIAL", FixedLength: -1},
	"SMALLINT":   {DestTypeName: "SMALLINT", FixedLength: -1},
	"TINYINT":    {DestTypeName: "SMALLINT", FixedLength: -1},
	"VARCHAR":    {DestTypeName: "VARCHAR", FixedLength: -1},
	"CHAR":       {DestTypeName: "CHAR", FixedLength: -1},
	"TEXT":       {DestTypeName: "TEXT", FixedLength: -1},
	"LONGTEXT":   {DestTypeName: "TEXT", FixedLength: -1},
	"DATETIME":   {DestTypeName: "TIMESTAMP", FixedLength: -1},
	"TIMESTAMP":  {DestTypeName: "TIMESTAMPTZ", FixedLength: -1},
	"DATE":       {DestTypeName: "DATE", FixedLength: -1},
	"TIME":       {DestTypeName: "TIME", FixedLength: -1},
	"DECIMAL":    {DestTypeName: "NUMERIC", FixedLength: -1},
	"NUMERIC":    {DestTypeName: "NUMERIC", FixedLength: -1},
	"FLOAT":      {DestTypeName: "REAL", FixedLength: -1},
	"DOUBLE":     {DestTypeName: "DOUBLE PRECISION", FixedLength: -1},
	"BLOB":       {DestTypeName: "BYTEA", FixedLength: -1},
	"BIT":        {DestTypeName: "VARBIT", FixedLength: -1},
	"JSON":       {DestTypeName: "JSONB", FixedLength: -1},
	"ENUM":       {DestTypeName: "TEXT", FixedLength: -1},
}

// sqlServerDefaults is the compiled-in SQL Server -> destination type table.
var sqlServerDefaults = map[string]domain.MappingValue{
	"INT":             {DestTypeName: "INT", FixedLength: -1},
	"INT#AUTOINC":     {DestTypeName: "SERIAL", FixedLength: -1},
	"BIGINT":          {DestTypeName: "BIGINT", FixedLength: -1},
	"BIGINT#AUTOINC":  {DestTypeName: "BIGSERIAL", FixedLength: -1},
	"SMALLINT":        {DestTypeName: "SMALLINT", FixedLength: -1},
	"TINYINT":         {DestTypeName: "SMALLINT", FixedLength: -1},
	"NVARCHAR":        {DestTypeName: "VARCHAR", FixedLength: -1},
	"VARCHAR":         {DestTypeName: "VARCHAR", FixedLength: -1},
	"NCHAR":           {DestTypeName: "CHAR", FixedLength: -1},
	"CHAR":            {DestTypeName: "CHAR", FixedLength: -1},
	"TEXT":            {DestTypeName: "TEXT", FixedLength: -1},
	"NTEXT":           {DestTypeName: "TEXT", FixedLength: -1},
	"DATETIME":        {DestTypeName: "TIMESTAMP", FixedLength: -1},
	"DATETIME2":       {DestTypeName: "TIMESTAMP", FixedLength: -1},
	"DATETIMEOFFSET":  {DestTypeName: "TIMESTAMPTZ", FixedLength: -1},
	"DATE":            {DestTypeName: "DATE", FixedLength: -1},
	"TIME":            {DestTypeName: "TIME", FixedLength: -1},
	"DECIMAL":         {DestTypeName: "NUMERIC", FixedLength: -1},
	"NUMERIC":         {DestTypeName: "NUMERIC", FixedLength: -1},
	"MONEY":           {DestTypeName: "MONEY", FixedLength: -1},
	"SMALLMONEY":      {DestTypeName: "MONEY", FixedLength: -1},
	"FLOAT":           {DestTypeName: "DOUBLE PRECISION", FixedLength: -1},
	"REAL":            {DestTypeName: "REAL", FixedLength: -1},
	"VARBINARY":       {DestTypeName: "BYTEA", FixedLength: -1},
	"BINARY":          {DestTypeName: "BYTEA", FixedLength: -1},
	"BIT":             {DestTypeName: "BOOLEAN", FixedLength: -1},
	"UNIQUEIDENTIFIER": {DestTypeName: "UUID", FixedLength: -1},
}
