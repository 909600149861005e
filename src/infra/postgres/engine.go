package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/synchdb-go/synchdb/src/destination"
	"github.com/synchdb-go/synchdb/src/domain"
	"github.com/synchdb-go/synchdb/src/synchdberr"
)

// Engine adapts a pgxpool.Pool into the destination.Engine contract §6
// describes, resolving catalog identifiers through pg_namespace/pg_class/
// pg_attribute the way the original extension walks the server's own
// relcache, but over SQL instead of in-process C structures.
type Engine struct {
	pool *pgxpool.Pool
}

func NewEngine(pool *pgxpool.Pool) *Engine {
	return &Engine{pool: pool}
}

func (e *Engine) BeginTxn(ctx context.Context) (destination.Txn, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin destination transaction: %w", err)
	}
	return &Txn{tx: tx}, nil
}

func (e *Engine) GetNamespaceOID(ctx context.Context, name string) (uint32, error) {
	var oid uint32
	err := e.pool.QueryRow(ctx, `SELECT oid FROM pg_namespace WHERE nspname = $1`, name).Scan(&oid)
	if IsNoRows(err) {
		return 0, synchdberr.Errorf(synchdberr.KindCatalog, "namespace %q does not exist on destination", name)
	}
	if err != nil {
		return 0, fmt.Errorf("namespace %q not found: %w", name, err)
	}
	return oid, nil
}

func (e *Engine) GetTableOID(ctx context.Context, schema, table string) (uint32, error) {
	const q = `
		SELECT c.oid FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2`
	var oid uint32
	err := e.pool.QueryRow(ctx, q, strings.ToLower(schema), strings.ToLower(table)).Scan(&oid)
	if IsNoRows(err) {
		return 0, synchdberr.Errorf(synchdberr.KindCatalog, "table %s.%s does not exist on destination", schema, table)
	}
	if err != nil {
		return 0, fmt.Errorf("table %s.%s not found: %w", schema, table, err)
	}
	return oid, nil
}

func (e *Engine) TableColumns(ctx context.Context, tableOID uint32) (map[string]domain.ColumnInfo, error) {
	const q = `
		SELECT attname, atttypid, attnum, atttypmod
		FROM pg_attribute
		WHERE attrelid = $1 AND attnum > 0 AND NOT attisdropped
		ORDER BY attnum`
	rows, err := e.pool.Query(ctx, q, tableOID)
	if err != nil {
		return nil, fmt.Errorf("load columns for table oid %d: %w", tableOID, err)
	}
	defer rows.Close()

	out := map[string]domain.ColumnInfo{}
	for rows.Next() {
		var name string
		var oid uint32
		var position, typmod int
		if err := rows.Scan(&name, &oid, &position, &typmod); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		out[strings.ToLower(name)] = domain.ColumnInfo{OID: oid, Position: position, Typemod: typmod}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPrimaryKeyColumns walks pg_index for the table's primary-key index,
// the same catalog the original extension's relcache lookup ultimately
// reads, and returns the backing columns in key order.
func (e *Engine) GetPrimaryKeyColumns(ctx context.Context, tableOID uint32) ([]string, error) {
	const q = `
		SELECT a.attname
		FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE i.indrelid = $1 AND i.indisprimary
		ORDER BY array_position(i.indkey, a.attnum)`
	rows, err := e.pool.Query(ctx, q, tableOID)
	if err != nil {
		return nil, fmt.Errorf("load primary key columns for table oid %d: %w", tableOID, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan primary key column row: %w", err)
		}
		cols = append(cols, strings.ToLower(name))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cols, nil
}

// Txn wraps one pgx.Tx; private to the supervisor task that opened it.
type Txn struct {
	tx pgx.Tx
}

func (t *Txn) ExecuteSQL(ctx context.Context, text string) error {
	_, err := t.tx.Exec(ctx, text)
	return err
}

func (t *Txn) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *Txn) Abort(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

func (t *Txn) Table(ctx context.Context, tableOID uint32) (destination.TableHandle, error) {
	const relQ = `
		SELECT n.nspname, c.relname FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.oid = $1`
	var schema, table string
	if err := t.tx.QueryRow(ctx, relQ, tableOID).Scan(&schema, &table); err != nil {
		return nil, fmt.Errorf("resolve table oid %d: %w", tableOID, err)
	}

	const colQ = `
		SELECT attname, atttypid, attnum, atttypmod
		FROM pg_attribute
		WHERE attrelid = $1 AND attnum > 0 AND NOT attisdropped
		ORDER BY attnum`
	rows, err := t.tx.Query(ctx, colQ, tableOID)
	if err != nil {
		return nil, fmt.Errorf("load columns for table oid %d: %w", tableOID, err)
	}
	defer rows.Close()

	var names []string
	var cols []domain.ColumnInfo
	for rows.Next() {
		var name string
		var oid uint32
		var position, typmod int
		if err := rows.Scan(&name, &oid, &position, &typmod); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		names = append(names, name)
		cols = append(cols, domain.ColumnInfo{OID: oid, Position: position, Typemod: typmod})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &TableHandle{tx: t.tx, schema: schema, table: table, columnNames: names, columns: cols}, nil
}

// TableHandle is an open destination table scoped to one Txn. Each
// positional slice it receives (fields, before, after) is assumed sorted
// by column position ascending, matching columnNames' order — the DML
// Translator and Applier guarantee this (§4.E, §4.F).
type TableHandle struct {
	tx          pgx.Tx
	schema      string
	table       string
	columnNames []string
	columns     []domain.ColumnInfo
}

func (h *TableHandle) qualifiedName() string {
	return pgx.Identifier{h.schema, h.table}.Sanitize()
}

func (h *TableHandle) TupleDescriptor() []domain.ColumnInfo {
	return h.columns
}

// InsertTuple inserts fields as a new row. A unique-violation on insert (the
// initial snapshot and the live change stream racing on the same row) falls
// back to an UPDATE of the conflicting row keyed by pkColumns, rather than
// failing the event: this is the deterministic primary-key-lookup conflict
// resolution the destination contract promises in lieu of exactly-once.
func (h *TableHandle) InsertTuple(ctx context.Context, columns []string, fields []interface{}, pkColumns []string) error {
	placeholders := make([]string, len(fields))
	quotedCols := make([]string, len(columns))
	for i := range fields {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	for i, c := range columns {
		quotedCols[i] = pgx.Identifier{c}.Sanitize()
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		h.qualifiedName(), strings.Join(quotedCols, ","), strings.Join(placeholders, ","))
	_, err := h.tx.Exec(ctx, sql, fields...)
	if err == nil {
		return nil
	}
	if len(pkColumns) == 0 || !IsUniqueViolation(err) {
		return err
	}

	found, updateErr := h.updateByColumns(ctx, pkColumns, columns, fields)
	if updateErr != nil {
		return fmt.Errorf("insert conflict, fallback update failed: %w", updateErr)
	}
	if !found {
		return fmt.Errorf("insert conflict but fallback update matched no row: %w", err)
	}
	return nil
}

// updateByColumns is InsertTuple's conflict-fallback path: unlike
// UpdateTupleByIndex, which assumes before/after are full, catalog-width
// rows, this aligns against the same explicit column list InsertTuple just
// built, since fields here may be a sparse subset of the table's columns.
func (h *TableHandle) updateByColumns(ctx context.Context, pkColumns []string, columns []string, fields []interface{}) (bool, error) {
	var sets []string
	var setArgs []interface{}
	byName := map[string]interface{}{}
	for i, c := range columns {
		byName[strings.ToLower(c)] = fields[i]
		setArgs = append(setArgs, fields[i])
		sets = append(sets, fmt.Sprintf("%s = $%d", pgx.Identifier{c}.Sanitize(), len(setArgs)))
	}

	var whereClauses []string
	var whereArgs []interface{}
	for _, pk := range pkColumns {
		v, ok := byName[strings.ToLower(pk)]
		if !ok {
			return false, fmt.Errorf("primary key column %q not found in inserted row", pk)
		}
		whereArgs = append(whereArgs, v)
		whereClauses = append(whereClauses, fmt.Sprintf("%s = $%d", pgx.Identifier{pk}.Sanitize(), len(setArgs)+len(whereArgs)))
	}

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s", h.qualifiedName(), strings.Join(sets, ","), strings.Join(whereClauses, " AND "))
	return h.execWrite(ctx, sql, append(setArgs, whereArgs...))
}

func (h *TableHandle) UpdateTupleByIndex(ctx context.Context, pkColumns []string, before []interface{}, after []interface{}) (bool, error) {
	setClause, setArgs := h.setClause(after)
	whereClause, whereArgs, err := h.pkWhereClause(pkColumns, before, len(setArgs))
	if err != nil {
		return false, err
	}
	return h.execWrite(ctx, fmt.Sprintf("UPDATE %s SET %s WHERE %s", h.qualifiedName(), setClause, whereClause), append(setArgs, whereArgs...))
}

func (h *TableHandle) UpdateTupleBySeqScan(ctx context.Context, before []interface{}, after []interface{}) (bool, error) {
	setClause, setArgs := h.setClause(after)
	whereClause, whereArgs := h.fullRowWhereClause(before, len(setArgs))
	return h.execWrite(ctx, fmt.Sprintf("UPDATE %s SET %s WHERE %s", h.qualifiedName(), setClause, whereClause), append(setArgs, whereArgs...))
}

func (h *TableHandle) DeleteTupleByIndex(ctx context.Context, pkColumns []string, before []interface{}) (bool, error) {
	whereClause, args, err := h.pkWhereClause(pkColumns, before, 0)
	if err != nil {
		return false, err
	}
	return h.execWrite(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", h.qualifiedName(), whereClause), args)
}

func (h *TableHandle) DeleteTupleBySeqScan(ctx context.Context, before []interface{}) (bool, error) {
	whereClause, args := h.fullRowWhereClause(before, 0)
	return h.execWrite(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", h.qualifiedName(), whereClause), args)
}

func (h *TableHandle) Close(ctx context.Context) error {
	return nil
}

func (h *TableHandle) columnIndex(name string) int {
	for i, c := range h.columnNames {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

func (h *TableHandle) pkWhereClause(pkColumns []string, before []interface{}, argOffset int) (string, []interface{}, error) {
	var clauses []string
	var args []interface{}
	for _, pk := range pkColumns {
		idx := h.columnIndex(pk)
		if idx < 0 || idx >= len(before) {
			return "", nil, fmt.Errorf("primary key column %q not found in before image", pk)
		}
		args = append(args, before[idx])
		clauses = append(clauses, fmt.Sprintf("%s = $%d", pgx.Identifier{h.columnNames[idx]}.Sanitize(), argOffset+len(args)))
	}
	return strings.Join(clauses, " AND "), args, nil
}

func (h *TableHandle) fullRowWhereClause(before []interface{}, argOffset int) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	for i, v := range before {
		if i >= len(h.columnNames) {
			break
		}
		if v == nil {
			clauses = append(clauses, fmt.Sprintf("%s IS NULL", pgx.Identifier{h.columnNames[i]}.Sanitize()))
			continue
		}
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", pgx.Identifier{h.columnNames[i]}.Sanitize(), argOffset+len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

func (h *TableHandle) setClause(after []interface{}) (string, []interface{}) {
	var sets []string
	args := make([]interface{}, 0, len(after))
	for i, v := range after {
		if i >= len(h.columnNames) {
			break
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", pgx.Identifier{h.columnNames[i]}.Sanitize(), len(args)))
	}
	return strings.Join(sets, ","), args
}

func (h *TableHandle) execWrite(ctx context.Context, sql string, args []interface{}) (bool, error) {
	tag, err := h.tx.Exec(ctx, sql, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
