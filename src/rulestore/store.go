// Package rulestore implements the Name/Expression Rule Store (§4.C): two
// hashmaps loaded from the rules file, with deterministic per-column-beats-
// global resolution.
package rulestore

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/synchdb-go/synchdb/src/domain"
)

// Store holds the object-name remap and transform-expression tables.
type Store struct {
	objectNames map[objectNameKey]string
	expressions map[string]string
}

type objectNameKey struct {
	name string
	kind domain.ObjectKind
}

// New returns an empty store (no rules loaded): every Resolve call is then
// a pass-through, per §4.C's "absence returns the input unchanged" rule.
func New() *Store {
	return &Store{
		objectNames: map[objectNameKey]string{},
		expressions: map[string]string{},
	}
}

// LoadFile reads a rules JSON document from disk and merges its name and
// expression rules in. The datatype rules it also carries are the Type-
// Mapping Registry's concern (§4.B) — callers that need them should use
// LoadRuleFile directly.
func LoadFile(path string) (*Store, error) {
	s := New()
	if path == "" {
		return s, nil
	}

	rf, err := LoadRuleFile(path)
	if err != nil {
		return nil, err
	}

	s.Merge(rf)
	return s, nil
}

// LoadRuleFile parses the rules JSON document without applying it
// anywhere, so a caller can route its three rule arrays to the Type-
// Mapping Registry and the Rule Store independently.
func LoadRuleFile(path string) (domain.RuleFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.RuleFile{}, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}

	var rf domain.RuleFile
	if err := json.Unmarshal(raw, &rf); err != nil {
		return domain.RuleFile{}, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	return rf, nil
}

// Merge folds a parsed rule file's object-name and expression rules into
// the store, overwriting any existing entry for the same key.
func (s *Store) Merge(rf domain.RuleFile) {
	for _, rule := range rf.TransformObjectnameRules {
		kind := domain.ObjectColumn
		if rule.ObjectType == "table" {
			kind = domain.ObjectTable
		}
		s.objectNames[objectNameKey{name: rule.SourceObject, kind: kind}] = rule.DestinationObject
	}
	for _, rule := range rf.TransformExpressionRules {
		s.expressions[rule.TransformFrom] = rule.TransformExpression
	}
}

// ResolveName returns the remapped destination name for a fully-qualified
// external object name, or externalName unchanged if no rule applies.
func (s *Store) ResolveName(externalName string, kind domain.ObjectKind) string {
	if v, ok := s.objectNames[objectNameKey{name: externalName, kind: kind}]; ok {
		return v
	}
	return externalName
}

// AddObjectName inserts or overwrites one object-name remap rule at
// runtime, for the admin surface's add_objmap verb.
func (s *Store) AddObjectName(kind domain.ObjectKind, sourceObject, destinationObject string) {
	s.objectNames[objectNameKey{name: sourceObject, kind: kind}] = destinationObject
}

// DeleteObjectName removes one object-name remap rule, for delete_objmap.
// A miss is a silent no-op, matching the store's pass-through-on-absence
// posture elsewhere.
func (s *Store) DeleteObjectName(kind domain.ObjectKind, sourceObject string) {
	delete(s.objectNames, objectNameKey{name: sourceObject, kind: kind})
}

// Expression returns the transform-expression text for a fully-qualified
// column id, and whether a rule exists at all.
func (s *Store) Expression(externalColumnFQID string) (string, bool) {
	expr, ok := s.expressions[externalColumnFQID]
	return expr, ok
}
