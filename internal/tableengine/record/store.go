// Package record implements C5 RecordStore: CRUD against a Table's
// physical backing table, including the CASE-WHEN batch UPDATE path and
// optimistic-version conflict handling.
package record

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fluxbase-eu/tableengine/internal/query"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/engineerr"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/field"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/schema"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/types"
)

// Executor is the subset of database.Connection the store needs,
// including BeginTx for AllOrNothingStrategy.
type Executor interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context) (pgx.Tx, error)
}

// queryExecutor is the subset the internal query builders use; both
// Executor and pgx.Tx satisfy it, which lets batch strategies swap a
// transaction in for ordinary calls without a wrapper type.
type queryExecutor interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// FieldLister is the subset of field.Registry the store reads through.
type FieldLister interface {
	List(ctx context.Context, tableID string) ([]types.Field, error)
}

// TableLookup resolves a field's owning table, needed only by MaxFanout
// (link.RowCounter's fixed signature takes a Field, not a Table).
type TableLookup interface {
	GetTable(ctx context.Context, tableID string) (types.Table, error)
}

// Store implements C5 RecordStore.
type Store struct {
	db     Executor
	schema *schema.Provider
	fields FieldLister
	tables TableLookup
}

// Option configures a Store at construction.
type Option func(*Store)

// WithTableLookup wires the lookup MaxFanout needs to resolve a Link
// field's physical schema.
func WithTableLookup(t TableLookup) Option {
	return func(s *Store) { s.tables = t }
}

// NewStore constructs a Store.
func NewStore(db Executor, provider *schema.Provider, fields FieldLister, opts ...Option) *Store {
	s := &Store{db: db, schema: provider, fields: fields}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Filter constrains List to a conjunction of equality shorthand plus the
// query package's operator vocabulary (Conditions, grouped by OrGroupID
// into OR clauses ANDed together), and orders the result. The engine
// leaves the grammar unspecified beyond list's (tableId, filter, limit,
// offset) signature, and "supporting arbitrary user SQL" is an explicit
// non-goal, so this stays a closed, parameterized shape rather than a raw
// query string — but the operators come from query.FilterOperator so a
// View's stored filter/sort can be handed to List unchanged.
type Filter struct {
	Equals     map[string]interface{} // fieldID -> required value
	Conditions []query.Filter         // fieldID-keyed Column, richer operators
	Order      []query.OrderBy        // fieldID-keyed Column; empty falls back to created_time asc
}

// ItemResult is one slot of a batch operation's per-record outcome list.
type ItemResult struct {
	Record *types.Record
	Err    error
}

// writableFields returns the non-deleted, non-computed fields that have a
// real backing column on table's own physical table. Computed fields
// (formula/rollup/lookup/count) are server-derived and never directly
// written; a Link field is only column-backed here
// when this table is its fk_host_table (manyOne/oneOne land the FK column
// on the current table — manyMany's junction table and oneMany's foreign
// column are owned and mutated by LinkSchemaManager/the engine's Link
// cell write path, not by this generic per-table CRUD).
func (s *Store) writableFields(ctx context.Context, table types.Table) ([]types.Field, error) {
	all, err := s.fields.List(ctx, table.ID)
	if err != nil {
		return nil, engineerr.DBError(fmt.Errorf("list fields for table %s: %w", table.ID, err))
	}
	out := make([]types.Field, 0, len(all))
	for _, f := range all {
		if f.Deleted || f.Type.IsComputed() {
			continue
		}
		if f.Type == types.FieldLink {
			opts, err := field.UnmarshalOptions(f.Type, f.Options)
			if err != nil {
				return nil, engineerr.ValidationFailed(err.Error())
			}
			lo, ok := opts.(field.LinkFieldOptions)
			if !ok || lo.FKHostTableName != table.ID {
				continue
			}
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *Store) systemColumns() []string {
	q := s.schema.Dialect().QuoteIdentifier
	return []string{
		q(types.ColID), q(types.ColVersion), q(types.ColCreatedTime),
		q(types.ColLastModifiedTime), q(types.ColCreatedBy), q(types.ColLastModifiedBy),
	}
}

func (s *Store) columnList(fields []types.Field) []string {
	q := s.schema.Dialect().QuoteIdentifier
	cols := s.systemColumns()
	for _, f := range fields {
		cols = append(cols, q(f.DBFieldName))
	}
	return cols
}

// encodeColumnValue marshals JSONB-typed field values (link, multiSelect,
// attachment, user, ...) to JSON text before binding; everything else
// passes through to the pgx driver's native type mapping.
func encodeColumnValue(f types.Field, v interface{}) (interface{}, error) {
	if f.DBFieldType != "JSONB" || v == nil {
		return v, nil
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, engineerr.ValidationFailed(fmt.Sprintf("encode field %q: %v", f.Name, err))
	}
	return buf, nil
}

func decodeColumnValue(f types.Field, raw interface{}) (interface{}, error) {
	if raw == nil || f.DBFieldType != "JSONB" {
		return raw, nil
	}
	var buf []byte
	switch v := raw.(type) {
	case []byte:
		buf = v
	case string:
		buf = []byte(v)
	default:
		return raw, nil
	}
	if len(buf) == 0 {
		return nil, nil
	}
	var decoded interface{}
	if err := json.Unmarshal(buf, &decoded); err != nil {
		return nil, fmt.Errorf("record: decode field %q: %w", f.DBFieldName, err)
	}
	return decoded, nil
}

func scanRecordRow(rows pgx.Rows, tableID string, fields []types.Field) (*types.Record, error) {
	vals, err := rows.Values()
	if err != nil {
		return nil, err
	}
	rec := &types.Record{TableID: tableID, Data: make(map[string]interface{}, len(fields))}
	if id, ok := vals[0].(string); ok {
		rec.ID = id
	}
	switch v := vals[1].(type) {
	case int64:
		rec.Version = v
	case int32:
		rec.Version = int64(v)
	}
	if t, ok := vals[2].(time.Time); ok {
		rec.CreatedAt = t
	}
	if t, ok := vals[3].(time.Time); ok {
		rec.UpdatedAt = t
	}
	if s, ok := vals[4].(string); ok {
		rec.CreatedBy = s
	}
	if s, ok := vals[5].(string); ok {
		rec.UpdatedBy = s
	}
	for i, f := range fields {
		val, err := decodeColumnValue(f, vals[6+i])
		if err != nil {
			return nil, err
		}
		rec.Data[f.ID] = val
	}
	return rec, nil
}

// Create inserts a new record on table, writing only the keys of data
// that name a known writable field.
func (s *Store) Create(ctx context.Context, table types.Table, data map[string]interface{}, user string) (*types.Record, error) {
	fields, err := s.writableFields(ctx, table)
	if err != nil {
		return nil, err
	}

	id := types.NewRecordID()
	q := s.schema.Dialect().QuoteIdentifier
	cols := []string{q(types.ColID), q(types.ColVersion), q(types.ColCreatedTime), q(types.ColLastModifiedTime), q(types.ColCreatedBy), q(types.ColLastModifiedBy)}
	placeholders := []string{"$1", "1", "now()", "now()", "$2", "$2"}
	args := []interface{}{id, user}
	idx := 3
	for _, f := range fields {
		raw, ok := data[f.ID]
		if !ok {
			continue
		}
		val, err := encodeColumnValue(f, raw)
		if err != nil {
			return nil, err
		}
		cols = append(cols, q(f.DBFieldName))
		placeholders = append(placeholders, fmt.Sprintf("$%d", idx))
		args = append(args, val)
		idx++
	}

	sqlStr := fmt.Sprintf("INSERT INTO %s.%s (%s) VALUES (%s) RETURNING %s",
		q(table.PhysicalSchema()), q(table.PhysicalTableName()),
		strings.Join(cols, ", "), strings.Join(placeholders, ", "),
		strings.Join(s.columnList(fields), ", "))

	rows, err := s.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, engineerr.DBError(fmt.Errorf("create record on table %s: %w", table.ID, err))
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, engineerr.Internal("create record: no row returned")
	}
	rec, err := scanRecordRow(rows, table.ID, fields)
	if err != nil {
		return nil, engineerr.DBError(err)
	}
	return rec, rows.Err()
}

// Get fetches a single record by id.
func (s *Store) Get(ctx context.Context, table types.Table, recordID string) (*types.Record, error) {
	fields, err := s.writableFields(ctx, table)
	if err != nil {
		return nil, err
	}
	q := s.schema.Dialect().QuoteIdentifier
	sqlStr := fmt.Sprintf("SELECT %s FROM %s.%s WHERE %s = $1",
		strings.Join(s.columnList(fields), ", "),
		q(table.PhysicalSchema()), q(table.PhysicalTableName()), q(types.ColID))

	rows, err := s.db.Query(ctx, sqlStr, recordID)
	if err != nil {
		return nil, engineerr.DBError(fmt.Errorf("get record %s: %w", recordID, err))
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, engineerr.NotFound(engineerr.CodeRecordNotFound, recordID)
	}
	rec, err := scanRecordRow(rows, table.ID, fields)
	if err != nil {
		return nil, engineerr.DBError(err)
	}
	return rec, rows.Err()
}

// Update applies newData to recordID, bumping __version and
// __last_modified_time. When expectedVersion is non-nil and no row
// matches it, the record's current version is looked up and returned
// inside a VersionConflict rather than a bare NotFound.
func (s *Store) Update(ctx context.Context, table types.Table, recordID string, newData map[string]interface{}, expectedVersion *int64, user string) (*types.Record, error) {
	fields, err := s.writableFields(ctx, table)
	if err != nil {
		return nil, err
	}
	q := s.schema.Dialect().QuoteIdentifier

	var setClauses []string
	var args []interface{}
	idx := 1
	for _, f := range fields {
		raw, ok := newData[f.ID]
		if !ok {
			continue
		}
		val, err := encodeColumnValue(f, raw)
		if err != nil {
			return nil, err
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", q(f.DBFieldName), idx))
		args = append(args, val)
		idx++
	}
	if len(setClauses) == 0 {
		return s.Get(ctx, table, recordID)
	}
	setClauses = append(setClauses,
		fmt.Sprintf("%s = %s + 1", q(types.ColVersion), q(types.ColVersion)),
		fmt.Sprintf("%s = now()", q(types.ColLastModifiedTime)),
		fmt.Sprintf("%s = $%d", q(types.ColLastModifiedBy), idx),
	)
	args = append(args, user)
	idx++

	where := fmt.Sprintf("%s = $%d", q(types.ColID), idx)
	args = append(args, recordID)
	idx++
	if expectedVersion != nil {
		where += fmt.Sprintf(" AND %s = $%d", q(types.ColVersion), idx)
		args = append(args, *expectedVersion)
		idx++
	}

	sqlStr := fmt.Sprintf("UPDATE %s.%s SET %s WHERE %s RETURNING %s",
		q(table.PhysicalSchema()), q(table.PhysicalTableName()),
		strings.Join(setClauses, ", "), where, strings.Join(s.columnList(fields), ", "))

	rows, err := s.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, engineerr.DBError(fmt.Errorf("update record %s: %w", recordID, err))
	}
	defer rows.Close()
	if !rows.Next() {
		rows.Close()
		existing, getErr := s.Get(ctx, table, recordID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, engineerr.VersionConflict(existing.Version)
	}
	rec, err := scanRecordRow(rows, table.ID, fields)
	if err != nil {
		return nil, engineerr.DBError(err)
	}
	return rec, rows.Err()
}

// Delete removes a record. The physical table carries no soft-delete
// column, so this is a hard DELETE.
func (s *Store) Delete(ctx context.Context, table types.Table, recordID string) error {
	q := s.schema.Dialect().QuoteIdentifier
	sqlStr := fmt.Sprintf("DELETE FROM %s.%s WHERE %s = $1", q(table.PhysicalSchema()), q(table.PhysicalTableName()), q(types.ColID))
	tag, err := s.db.Exec(ctx, sqlStr, recordID)
	if err != nil {
		return engineerr.DBError(fmt.Errorf("delete record %s: %w", recordID, err))
	}
	if tag.RowsAffected() == 0 {
		return engineerr.NotFound(engineerr.CodeRecordNotFound, recordID)
	}
	return nil
}

// List returns a page of records matching filter plus the total matching
// row count, ordered per filter.Order (falling back to creation time).
func (s *Store) List(ctx context.Context, table types.Table, filter Filter, limit, offset int) ([]types.Record, int64, error) {
	fields, err := s.writableFields(ctx, table)
	if err != nil {
		return nil, 0, err
	}
	byID := make(map[string]types.Field, len(fields))
	for _, f := range fields {
		byID[f.ID] = f
	}
	q := s.schema.Dialect().QuoteIdentifier

	var whereClauses []string
	var args []interface{}
	idx := 1
	for fieldID, val := range filter.Equals {
		f, ok := byID[fieldID]
		if !ok {
			continue
		}
		encoded, err := encodeColumnValue(f, val)
		if err != nil {
			return nil, 0, err
		}
		whereClauses = append(whereClauses, fmt.Sprintf("%s = $%d", q(f.DBFieldName), idx))
		args = append(args, encoded)
		idx++
	}

	orGroups := make(map[int][]string)
	var orGroupOrder []int
	for _, cond := range filter.Conditions {
		f, ok := byID[cond.Column]
		if !ok {
			continue
		}
		clause, clauseArgs, err := conditionClause(q, f, cond, &idx)
		if err != nil {
			return nil, 0, err
		}
		if clause == "" {
			continue
		}
		args = append(args, clauseArgs...)
		if cond.OrGroupID != 0 {
			if _, seen := orGroups[cond.OrGroupID]; !seen {
				orGroupOrder = append(orGroupOrder, cond.OrGroupID)
			}
			orGroups[cond.OrGroupID] = append(orGroups[cond.OrGroupID], clause)
		} else {
			whereClauses = append(whereClauses, clause)
		}
	}
	for _, id := range orGroupOrder {
		whereClauses = append(whereClauses, "("+strings.Join(orGroups[id], " OR ")+")")
	}

	where := ""
	if len(whereClauses) > 0 {
		where = "WHERE " + strings.Join(whereClauses, " AND ")
	}

	var total int64
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s %s", q(table.PhysicalSchema()), q(table.PhysicalTableName()), where)
	if err := s.db.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, engineerr.DBError(fmt.Errorf("count records on table %s: %w", table.ID, err))
	}

	listArgs := append(append([]interface{}{}, args...), limit, offset)
	listSQL := fmt.Sprintf("SELECT %s FROM %s.%s %s ORDER BY %s LIMIT $%d OFFSET $%d",
		strings.Join(s.columnList(fields), ", "),
		q(table.PhysicalSchema()), q(table.PhysicalTableName()), where,
		orderByClause(q, byID, filter.Order), idx, idx+1)

	rows, err := s.db.Query(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, engineerr.DBError(fmt.Errorf("list records on table %s: %w", table.ID, err))
	}
	defer rows.Close()

	var records []types.Record
	for rows.Next() {
		rec, err := scanRecordRow(rows, table.ID, fields)
		if err != nil {
			return nil, 0, engineerr.DBError(err)
		}
		records = append(records, *rec)
	}
	return records, total, rows.Err()
}

// conditionClause translates one query.Filter into a parameterized SQL
// fragment against f's physical column, advancing idx by the number of
// placeholders it consumes. An unsupported operator is a DBError, not a
// silently-dropped condition, since a dropped condition would widen the
// result set without the caller knowing.
func conditionClause(q func(string) string, f types.Field, cond query.Filter, idx *int) (string, []interface{}, error) {
	col := q(f.DBFieldName)
	if cond.Operator == query.OpIs || cond.Operator == query.OpIsNot {
		if cond.Value != nil {
			return "", nil, engineerr.DBError(fmt.Errorf("filter on %s: is/isnot only supports a nil value", f.ID))
		}
		if cond.Operator == query.OpIs {
			return col + " IS NULL", nil, nil
		}
		return col + " IS NOT NULL", nil, nil
	}

	sqlOp, ok := operatorSQL[cond.Operator]
	if !ok {
		return "", nil, engineerr.DBError(fmt.Errorf("filter on %s: unsupported operator %q", f.ID, cond.Operator))
	}

	if cond.Operator == query.OpIn || cond.Operator == query.OpNotIn {
		values, ok := cond.Value.([]interface{})
		if !ok {
			values = []interface{}{cond.Value}
		}
		placeholders := make([]string, len(values))
		args := make([]interface{}, len(values))
		for i, v := range values {
			encoded, err := encodeColumnValue(f, v)
			if err != nil {
				return "", nil, err
			}
			placeholders[i] = fmt.Sprintf("$%d", *idx)
			args[i] = encoded
			*idx++
		}
		return fmt.Sprintf("%s %s (%s)", col, sqlOp, strings.Join(placeholders, ", ")), args, nil
	}

	if cond.Operator == query.OpTextSearch {
		clause := fmt.Sprintf("to_tsvector(%s) @@ plainto_tsquery($%d)", col, *idx)
		args := []interface{}{cond.Value}
		*idx++
		return clause, args, nil
	}

	encoded, err := encodeColumnValue(f, cond.Value)
	if err != nil {
		return "", nil, err
	}
	clause := fmt.Sprintf("%s %s $%d", col, sqlOp, *idx)
	*idx++
	return clause, []interface{}{encoded}, nil
}

// operatorSQL maps every query.FilterOperator but IS/ISNOT/IN/NIN/FTS,
// which conditionClause special-cases for shape (null checks, value
// lists, tsquery wrapping) rather than a plain "col OP $n" template.
var operatorSQL = map[query.FilterOperator]string{
	query.OpEqual:          "=",
	query.OpNotEqual:       "<>",
	query.OpGreaterThan:    ">",
	query.OpGreaterOrEqual: ">=",
	query.OpLessThan:       "<",
	query.OpLessOrEqual:    "<=",
	query.OpLike:           "LIKE",
	query.OpILike:          "ILIKE",
	query.OpIn:             "IN",
	query.OpNotIn:          "NOT IN",
	query.OpContains:       "@>",
	query.OpContained:      "<@",
	query.OpOverlap:        "&&",
	query.OpNot:            "<>",
}

// orderByClause renders filter.Order against byID's physical columns,
// falling back to created_time ascending when Order is empty or every
// entry names an unknown field.
func orderByClause(q func(string) string, byID map[string]types.Field, order []query.OrderBy) string {
	var parts []string
	for _, o := range order {
		f, ok := byID[o.Column]
		if !ok {
			continue
		}
		part := q(f.DBFieldName)
		if o.Desc {
			part += " DESC"
		} else {
			part += " ASC"
		}
		if o.Nulls == "first" || (o.Nulls == "" && o.NullsFirst) {
			part += " NULLS FIRST"
		} else if o.Nulls == "last" {
			part += " NULLS LAST"
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return q(types.ColCreatedTime)
	}
	return strings.Join(parts, ", ")
}

// FindByIds fetches every record named in recordIDs, in no particular
// order; ids with no matching row are simply absent from the result.
func (s *Store) FindByIds(ctx context.Context, table types.Table, recordIDs []string) ([]types.Record, error) {
	if len(recordIDs) == 0 {
		return nil, nil
	}
	fields, err := s.writableFields(ctx, table)
	if err != nil {
		return nil, err
	}
	q := s.schema.Dialect().QuoteIdentifier
	placeholders := make([]string, len(recordIDs))
	args := make([]interface{}, len(recordIDs))
	for i, id := range recordIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	sqlStr := fmt.Sprintf("SELECT %s FROM %s.%s WHERE %s IN (%s)",
		strings.Join(s.columnList(fields), ", "),
		q(table.PhysicalSchema()), q(table.PhysicalTableName()),
		q(types.ColID), strings.Join(placeholders, ", "))

	rows, err := s.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, engineerr.DBError(fmt.Errorf("find records by id on table %s: %w", table.ID, err))
	}
	defer rows.Close()
	var records []types.Record
	for rows.Next() {
		rec, err := scanRecordRow(rows, table.ID, fields)
		if err != nil {
			return nil, engineerr.DBError(err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// BatchCreate inserts each item independently, collecting a per-record
// result list rather than failing the whole call on one bad record.
func (s *Store) BatchCreate(ctx context.Context, table types.Table, items []map[string]interface{}, user string) []ItemResult {
	results := make([]ItemResult, len(items))
	for i, data := range items {
		rec, err := s.Create(ctx, table, data, user)
		results[i] = ItemResult{Record: rec, Err: err}
	}
	return results
}

// BatchDelete removes each record independently, collecting a per-record
// result list.
func (s *Store) BatchDelete(ctx context.Context, table types.Table, recordIDs []string) []ItemResult {
	results := make([]ItemResult, len(recordIDs))
	for i, id := range recordIDs {
		err := s.Delete(ctx, table, id)
		results[i] = ItemResult{Err: err}
	}
	return results
}

// MaxFanout implements link.RowCounter: for a manyMany Link field's
// junction table, the greatest number of rows sharing the same key on
// either side. LinkSchemaManager uses this to reject a
// manyMany→{manyOne,oneOne} migration that would silently drop data.
func (s *Store) MaxFanout(ctx context.Context, f types.Field) (int64, error) {
	if s.tables == nil {
		return 0, engineerr.Internal("record.Store: MaxFanout requires a TableLookup (see WithTableLookup)")
	}
	opts, err := field.UnmarshalOptions(f.Type, f.Options)
	if err != nil {
		return 0, engineerr.ValidationFailed(err.Error())
	}
	lo, ok := opts.(field.LinkFieldOptions)
	if !ok || lo.FKHostTableName == "" {
		return 0, nil
	}
	table, err := s.tables.GetTable(ctx, f.TableID)
	if err != nil {
		return 0, err
	}

	q := s.schema.Dialect().QuoteIdentifier
	junction := fmt.Sprintf("%s.%s", q(table.PhysicalSchema()), q(lo.FKHostTableName))
	sqlStr := fmt.Sprintf(`SELECT COALESCE(MAX(cnt), 0) FROM (
	SELECT COUNT(*) AS cnt FROM %s GROUP BY %s
	UNION ALL
	SELECT COUNT(*) AS cnt FROM %s GROUP BY %s
) fanout`, junction, q(lo.SelfKeyName), junction, q(lo.ForeignKeyName))

	var max int64
	if err := s.db.QueryRow(ctx, sqlStr).Scan(&max); err != nil {
		return 0, engineerr.DBError(fmt.Errorf("max fanout for field %s: %w", f.ID, err))
	}
	return max, nil
}
