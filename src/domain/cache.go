package domain

// ColumnInfo is the catalog-resolved shape of one destination column.
type ColumnInfo struct {
	OID      uint32
	Position int
	Typemod  int
}

// TableCacheEntry is one DataCache entry (§3), keyed by {schema, table} by
// the owner (applier/dml translator), populated lazily, invalidated on any
// DDL that mentions that table.
type TableCacheEntry struct {
	TableOID  uint32
	Columns   map[string]ColumnInfo // keyed by lower-cased column name
	PKColumns []string              // destination primary-key column names, lower-cased; empty if the table has none
}

// MappingKey is the two-tier lookup key §4.B describes.
type MappingKey struct {
	SourceTypeName  string
	AutoIncremented bool
}

// MappingValue is what a mapping key resolves to.
type MappingValue struct {
	DestTypeName string
	FixedLength  int // -1 = no override
}

// ObjectKind distinguishes the two remap kinds the Name/Expression Rule
// Store resolves.
type ObjectKind int

const (
	ObjectTable ObjectKind = iota
	ObjectColumn
)

// ObjectMapKey is {external_object_id, kind} as described in §3.
type ObjectMapKey struct {
	ExternalObjectID string
	Kind             ObjectKind
}
