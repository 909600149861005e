package debezium

import (
	"encoding/json"
	"fmt"
)

// ParseRawEvent unmarshals one event payload string. It is deliberately
// tolerant: both DDL and DML envelopes round-trip through the same struct.
func ParseRawEvent(raw []byte) (*RawEvent, error) {
	var ev RawEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event envelope: %w", err)
	}
	return &ev, nil
}

// FieldMeta looks up schema.fields[side].fields[position] where side is 0
// for "before" and 1 for "after", matching §4.E step 3's path.
func (e *RawEvent) FieldMeta(side int, position int) (SchemaField, bool) {
	if side < 0 || side >= len(e.Schema.Fields) {
		return SchemaField{}, false
	}
	sub := e.Schema.Fields[side].Fields
	if position < 0 || position >= len(sub) {
		return SchemaField{}, false
	}
	return sub[position], true
}
