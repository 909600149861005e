package domain

// Op is the row-change operation a DML envelope carries.
type Op int

const (
	OpUndef Op = iota
	OpRead
	OpCreate
	OpUpdate
	OpDelete
)

// ParseOp maps payload.op's single-letter code to Op.
func ParseOp(code string) Op {
	switch code {
	case "r":
		return OpRead
	case "c":
		return OpCreate
	case "u":
		return OpUpdate
	case "d":
		return OpDelete
	default:
		return OpUndef
	}
}

// TimeRep tags the base unit a numeric-encoded temporal value is in.
type TimeRep int

const (
	TimeRepUndef TimeRep = iota
	TimeRepDate
	TimeRepTime
	TimeRepMicroTime
	TimeRepNanoTime
	TimeRepTimestamp
	TimeRepMicroTimestamp
	TimeRepNanoTimestamp
	TimeRepZonedTimestamp
)

// TimeRepFromSchemaName maps a Debezium schema.fields[].name semantic type
// (e.g. "io.debezium.time.MicroTimestamp") to a TimeRep.
func TimeRepFromSchemaName(name string) TimeRep {
	switch name {
	case "io.debezium.time.Date":
		return TimeRepDate
	case "io.debezium.time.Time":
		return TimeRepTime
	case "io.debezium.time.MicroTime":
		return TimeRepMicroTime
	case "io.debezium.time.NanoTime":
		return TimeRepNanoTime
	case "io.debezium.time.Timestamp":
		return TimeRepTimestamp
	case "io.debezium.time.MicroTimestamp":
		return TimeRepMicroTimestamp
	case "io.debezium.time.NanoTimestamp":
		return TimeRepNanoTimestamp
	case "io.debezium.time.ZonedTimestamp":
		return TimeRepZonedTimestamp
	default:
		return TimeRepUndef
	}
}

// Value is one decoded-or-pending-decode column value carried through the
// DML translator, per the §3 DML record value shape.
type Value struct {
	RemoteColumnName  string
	RemoteColumnFQID  string // fully-qualified source column id, the Expression Rule Store's lookup key (§4.C)
	MappedName        string
	SourceTypeLiteral string
	DestTypeOID       uint32
	Typemod           int
	Position          int
	Scale             int
	HasScale          bool // true when the source schema carried explicit scale metadata for this column
	TimeRep           TimeRep
	RawValue          string
	IsGeometry        bool
	GeometryWKB       string
	GeometrySRID      string
}

// DMLRecord is the parsed form of one row-change event.
type DMLRecord struct {
	Table        FQID
	TableOID     uint32
	Op           Op
	PKColumns    []string // destination primary-key columns, for update/delete-by-index and insert-conflict fallback
	BeforeValues []Value
	AfterValues  []Value
}
