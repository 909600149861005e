// Package destination declares the interfaces the core calls against the
// destination relational engine (§6, "Destination interface (consumed)").
// The engine's catalog, transaction, and tuple primitives are external
// collaborators; this package only states the contract.
package destination

import (
	"context"

	"github.com/synchdb-go/synchdb/src/domain"
)

// Txn is one destination transaction, private to the supervisor task that
// opened it (§5: "transaction scope is private to one task at a time").
type Txn interface {
	ExecuteSQL(ctx context.Context, text string) error
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error

	// Table opens a handle for tuple-mode DML.
	Table(ctx context.Context, tableOID uint32) (TableHandle, error)
}

// Engine begins transactions and resolves catalog identifiers. Everything
// else happens within a Txn.
type Engine interface {
	BeginTxn(ctx context.Context) (Txn, error)
	GetNamespaceOID(ctx context.Context, name string) (uint32, error)
	GetTableOID(ctx context.Context, schema, table string) (uint32, error)
	TableColumns(ctx context.Context, tableOID uint32) (map[string]domain.ColumnInfo, error)

	// GetPrimaryKeyColumns returns the table's primary-key column names,
	// lower-cased and ordered by key position; empty if the table has no
	// primary key, in which case the applier falls back to full-row
	// sequential-scan matching (§4.F).
	GetPrimaryKeyColumns(ctx context.Context, tableOID uint32) ([]string, error)
}

// TableHandle is an open destination table, scoped to one Txn.
type TableHandle interface {
	TupleDescriptor() []domain.ColumnInfo

	// InsertTuple inserts fields as a new row. columns names fields
	// positionally (columns[i] is the destination column fields[i] belongs
	// to), so a change event that omits a column never misaligns the
	// generated column list against the value list. On a primary-key/
	// unique conflict (the snapshot and the live stream overlapping on the
	// same row, §1 Non-goals: "at-least-once with deterministic conflict
	// resolution via primary-key lookup"), it falls back to an UPDATE of
	// the existing row keyed by pkColumns, using fields as the new image.
	// pkColumns may be empty, in which case a conflict is a fatal error.
	InsertTuple(ctx context.Context, columns []string, fields []interface{}, pkColumns []string) error

	// UpdateTupleByIndex locates the live row via the primary-key index
	// and applies after. Returns found=false on miss (§4.F step 4).
	UpdateTupleByIndex(ctx context.Context, pkColumns []string, before []interface{}, after []interface{}) (found bool, err error)

	// UpdateTupleBySeqScan locates the live row using the full before
	// image when no primary key index exists.
	UpdateTupleBySeqScan(ctx context.Context, before []interface{}, after []interface{}) (found bool, err error)

	DeleteTupleByIndex(ctx context.Context, pkColumns []string, before []interface{}) (found bool, err error)
	DeleteTupleBySeqScan(ctx context.Context, before []interface{}) (found bool, err error)

	Close(ctx context.Context) error
}
