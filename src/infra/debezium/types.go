// Package debezium holds the raw JSON envelope shapes emitted by the
// upstream event producer, kept close to the wire format so the DDL/DML
// translators can parse them without caring how the producer delivered
// the bytes (Kafka record, subprocess stdout line, HTTP stream, ...).
package debezium

// SourceBlock is payload.source, shared by DDL and DML envelopes.
type SourceBlock struct {
	Connector string `json:"connector"`
	DB        string `json:"db"`
	Schema    string `json:"schema"`
	Table     string `json:"table"`
	Snapshot  string `json:"snapshot"`
	TsMs      int64  `json:"ts_ms"`
}

// SchemaField is one entry of schema.fields[i].fields[j], used to recover
// the scale/time-representation metadata §4.E step 3 needs.
type SchemaField struct {
	Name       string        `json:"name"`
	Type       string        `json:"type"`
	Parameters FieldParams   `json:"parameters"`
	Fields     []SchemaField `json:"fields"`
}

type FieldParams struct {
	Scale     string `json:"scale"`
	Precision string `json:"precision"`
}

// TopLevelSchema is the envelope's schema block: fields[0] describes
// "before", fields[1] describes "after".
type TopLevelSchema struct {
	Fields []SchemaField `json:"fields"`
}

// RawEvent is the outer JSON object the producer hands the supervisor for
// every event: payload plus the top-level schema block. Whether it is a
// DDL or DML event is determined by which of payload.ddl/payload.op is
// present (§4.G step 3).
type RawEvent struct {
	Schema  TopLevelSchema `json:"schema"`
	Payload RawPayload     `json:"payload"`
}

// RawPayload is unmarshalled leniently: DDL and DML envelopes share the
// outer object but populate disjoint fields.
type RawPayload struct {
	DDL          *string                `json:"ddl"`
	Op           *string                `json:"op"`
	Before       map[string]interface{} `json:"before"`
	After        map[string]interface{} `json:"after"`
	Source       SourceBlock             `json:"source"`
	TsMs         int64                   `json:"ts_ms"`
	TableChanges []TableChange           `json:"tableChanges"`
}

// TableChange is one payload.tableChanges[i] entry. The column shape is
// grounded on the Debezium JSON history-record serializer's "columns"
// array (struct fields match name-for-name so a plain json.Unmarshal
// works without bespoke path-walking).
type TableChange struct {
	ID    string           `json:"id"`
	Type  string           `json:"type"`
	Table TableChangeTable `json:"table"`
}

type TableChangeTable struct {
	PrimaryKeyColumnNames []string            `json:"primaryKeyColumnNames"`
	Columns               []TableChangeColumn `json:"columns"`
}

type TableChangeColumn struct {
	Name                   string   `json:"name"`
	TypeName               string   `json:"typeName"`
	Length                 *int     `json:"length"`
	Scale                  *int     `json:"scale"`
	Position               int      `json:"position"`
	Optional               bool     `json:"optional"`
	AutoIncremented        bool     `json:"autoIncremented"`
	DefaultValueExpression *string  `json:"defaultValueExpression"`
	EnumValues             []string `json:"enumValues"`
	Charset                *string  `json:"charsetName"`
}

// IsDDL reports whether this raw payload is a schema-change envelope.
func (p RawPayload) IsDDL() bool {
	return p.DDL != nil || len(p.TableChanges) > 0
}

// IsDML reports whether this raw payload is a row-change envelope.
func (p RawPayload) IsDML() bool {
	return p.Op != nil
}
