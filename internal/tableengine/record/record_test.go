package record

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/tableengine/internal/query"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/engineerr"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/field"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/schema"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/types"
)

func scanInto(dest []interface{}, values []interface{}) error {
	for i, d := range dest {
		rv := reflect.ValueOf(d).Elem()
		rv.Set(reflect.ValueOf(values[i]).Convert(rv.Type()))
	}
	return nil
}

type fakeRow struct {
	values []interface{}
	err    error
}

func (r *fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	return scanInto(dest, r.values)
}

// fakeRows fakes pgx.Rows for both the Values()-based scan path record.go
// uses and the plain Scan() path findVersionsByIDs uses.
type fakeRows struct {
	pgx.Rows
	rows [][]interface{}
	idx  int
}

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx <= len(r.rows)
}

func (r *fakeRows) Values() ([]interface{}, error) {
	return r.rows[r.idx-1], nil
}

func (r *fakeRows) Scan(dest ...interface{}) error {
	return scanInto(dest, r.rows[r.idx-1])
}

func (r *fakeRows) Close()     {}
func (r *fakeRows) Err() error { return nil }

// fakeTx routes every call back through the fakeDB it was opened from, so
// AllOrNothingStrategy tests exercise the same scripted responses as the
// non-transactional path.
type fakeTx struct {
	pgx.Tx
	db         *fakeDB
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return t.db.Query(ctx, sql, args...)
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return t.db.QueryRow(ctx, sql, args...)
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return t.db.Exec(ctx, sql, args...)
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.rolledBack = true
	return nil
}

// fakeDB is a scriptable double satisfying both record.Executor and
// schema.Executor.
type fakeDB struct {
	mu         sync.Mutex
	queryFn    func(sql string, args []interface{}) (*fakeRows, error)
	queryRowFn func(sql string, args []interface{}) *fakeRow
	execFn     func(sql string, args []interface{}) (pgconn.CommandTag, error)
	execs      []string
	lastTx     *fakeTx
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	f.mu.Lock()
	f.execs = append(f.execs, sql)
	f.mu.Unlock()
	if f.queryFn == nil {
		return &fakeRows{}, nil
	}
	rows, err := f.queryFn(sql, args)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	if f.queryRowFn == nil {
		return &fakeRow{}
	}
	return f.queryRowFn(sql, args)
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.mu.Lock()
	f.execs = append(f.execs, sql)
	f.mu.Unlock()
	if f.execFn == nil {
		return pgconn.CommandTag{}, nil
	}
	return f.execFn(sql, args)
}

func (f *fakeDB) ExecuteWithAdminRole(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(&fakeTx{db: f})
}

func (f *fakeDB) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx := &fakeTx{db: f}
	f.lastTx = tx
	return tx, nil
}

type fakeFieldLister struct {
	byTable map[string][]types.Field
}

func (f *fakeFieldLister) List(ctx context.Context, tableID string) ([]types.Field, error) {
	return f.byTable[tableID], nil
}

type fakeTableLookup struct {
	byID map[string]types.Table
}

func (f *fakeTableLookup) GetTable(ctx context.Context, tableID string) (types.Table, error) {
	t, ok := f.byID[tableID]
	if !ok {
		return types.Table{}, engineerr.NotFound(engineerr.CodeTableNotFound, tableID)
	}
	return t, nil
}

func newTestStore(db *fakeDB, fields *fakeFieldLister, opts ...Option) *Store {
	provider := schema.NewProvider(schema.NewPostgresDialect(), db, nil, nil)
	return NewStore(db, provider, fields, opts...)
}

func nameField() types.Field {
	return types.Field{ID: "fld_name", TableID: "tbl_1", Name: "Name", Type: types.FieldShortText, DBFieldName: "name", DBFieldType: "TEXT"}
}

func TestStore_Create_InsertsAndReturnsRecord(t *testing.T) {
	fields := &fakeFieldLister{byTable: map[string][]types.Field{"tbl_1": {nameField()}}}
	now := time.Now()
	db := &fakeDB{
		queryFn: func(sql string, args []interface{}) (*fakeRows, error) {
			assert.Contains(t, sql, "INSERT INTO")
			assert.Contains(t, sql, "RETURNING")
			return &fakeRows{rows: [][]interface{}{
				{"rec_1", int64(1), now, now, "user_1", "user_1", "Alice"},
			}}, nil
		},
	}
	store := newTestStore(db, fields)
	table := types.Table{ID: "tbl_1", BaseID: "base_1"}

	rec, err := store.Create(context.Background(), table, map[string]interface{}{"fld_name": "Alice"}, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "rec_1", rec.ID)
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, "Alice", rec.Data["fld_name"])
}

func TestStore_Get_NotFound(t *testing.T) {
	fields := &fakeFieldLister{byTable: map[string][]types.Field{"tbl_1": nil}}
	db := &fakeDB{
		queryFn: func(sql string, args []interface{}) (*fakeRows, error) {
			return &fakeRows{}, nil
		},
	}
	store := newTestStore(db, fields)

	_, err := store.Get(context.Background(), types.Table{ID: "tbl_1", BaseID: "base_1"}, "rec_missing")
	var engErr *engineerr.Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, engineerr.CodeRecordNotFound, engErr.Code)
}

func TestStore_Update_VersionConflictReturnsCurrentVersion(t *testing.T) {
	fields := &fakeFieldLister{byTable: map[string][]types.Field{"tbl_1": {nameField()}}}
	now := time.Now()
	calls := 0
	db := &fakeDB{
		queryFn: func(sql string, args []interface{}) (*fakeRows, error) {
			calls++
			if calls == 1 {
				assert.Contains(t, sql, "UPDATE")
				return &fakeRows{}, nil
			}
			assert.Contains(t, sql, "SELECT")
			return &fakeRows{rows: [][]interface{}{{"rec_1", int64(7), now, now, "u", "u", "Bob"}}}, nil
		},
	}
	store := newTestStore(db, fields)
	table := types.Table{ID: "tbl_1", BaseID: "base_1"}
	expected := int64(5)

	_, err := store.Update(context.Background(), table, "rec_1", map[string]interface{}{"fld_name": "Carl"}, &expected, "user_1")
	var engErr *engineerr.Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, engineerr.CodeVersionConflict, engErr.Code)
	assert.Equal(t, int64(7), engErr.Details["current"])
}

func TestStore_Update_NoChangedFieldsIsAGet(t *testing.T) {
	fields := &fakeFieldLister{byTable: map[string][]types.Field{"tbl_1": {nameField()}}}
	now := time.Now()
	db := &fakeDB{
		queryFn: func(sql string, args []interface{}) (*fakeRows, error) {
			assert.Contains(t, sql, "SELECT")
			return &fakeRows{rows: [][]interface{}{{"rec_1", int64(3), now, now, "u", "u", "Alice"}}}, nil
		},
	}
	store := newTestStore(db, fields)
	table := types.Table{ID: "tbl_1", BaseID: "base_1"}

	rec, err := store.Update(context.Background(), table, "rec_1", map[string]interface{}{"fld_unknown": "x"}, nil, "user_1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Version)
}

func TestStore_Delete_NotFound(t *testing.T) {
	db := &fakeDB{
		execFn: func(sql string, args []interface{}) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("DELETE 0"), nil
		},
	}
	store := newTestStore(db, &fakeFieldLister{})

	err := store.Delete(context.Background(), types.Table{ID: "tbl_1", BaseID: "base_1"}, "rec_missing")
	var engErr *engineerr.Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, engineerr.CodeRecordNotFound, engErr.Code)
}

func TestStore_Delete_Success(t *testing.T) {
	db := &fakeDB{
		execFn: func(sql string, args []interface{}) (pgconn.CommandTag, error) {
			assert.Contains(t, sql, "DELETE FROM")
			return pgconn.NewCommandTag("DELETE 1"), nil
		},
	}
	store := newTestStore(db, &fakeFieldLister{})

	err := store.Delete(context.Background(), types.Table{ID: "tbl_1", BaseID: "base_1"}, "rec_1")
	assert.NoError(t, err)
}

func TestStore_List_UsesFilterAndReturnsTotal(t *testing.T) {
	fields := &fakeFieldLister{byTable: map[string][]types.Field{"tbl_1": {nameField()}}}
	now := time.Now()
	db := &fakeDB{
		queryRowFn: func(sql string, args []interface{}) *fakeRow {
			assert.Contains(t, sql, "COUNT(*)")
			return &fakeRow{values: []interface{}{int64(2)}}
		},
		queryFn: func(sql string, args []interface{}) (*fakeRows, error) {
			assert.Contains(t, sql, "WHERE")
			assert.Contains(t, sql, "LIMIT")
			return &fakeRows{rows: [][]interface{}{
				{"rec_1", int64(1), now, now, "u", "u", "Alice"},
				{"rec_2", int64(1), now, now, "u", "u", "Alice"},
			}}, nil
		},
	}
	store := newTestStore(db, fields)
	table := types.Table{ID: "tbl_1", BaseID: "base_1"}

	recs, total, err := store.List(context.Background(), table, Filter{Equals: map[string]interface{}{"fld_name": "Alice"}}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, recs, 2)
}

func TestStore_List_ConditionsAndOrderTranslateToSQL(t *testing.T) {
	fields := &fakeFieldLister{byTable: map[string][]types.Field{"tbl_1": {nameField()}}}
	now := time.Now()
	db := &fakeDB{
		queryRowFn: func(sql string, args []interface{}) *fakeRow {
			assert.Contains(t, sql, "ILIKE")
			return &fakeRow{values: []interface{}{int64(1)}}
		},
		queryFn: func(sql string, args []interface{}) (*fakeRows, error) {
			assert.Contains(t, sql, "ORDER BY")
			assert.Contains(t, sql, "DESC")
			return &fakeRows{rows: [][]interface{}{
				{"rec_1", int64(1), now, now, "u", "u", "Alice"},
			}}, nil
		},
	}
	store := newTestStore(db, fields)
	table := types.Table{ID: "tbl_1", BaseID: "base_1"}

	filter := Filter{
		Conditions: []query.Filter{{Column: "fld_name", Operator: query.OpILike, Value: "%ali%"}},
		Order:      []query.OrderBy{{Column: "fld_name", Desc: true}},
	}
	recs, total, err := store.List(context.Background(), table, filter, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, recs, 1)
}

func TestStore_List_OrGroupedConditions(t *testing.T) {
	fields := &fakeFieldLister{byTable: map[string][]types.Field{"tbl_1": {nameField()}}}
	db := &fakeDB{
		queryRowFn: func(sql string, args []interface{}) *fakeRow {
			assert.Contains(t, sql, "OR")
			return &fakeRow{values: []interface{}{int64(0)}}
		},
		queryFn: func(sql string, args []interface{}) (*fakeRows, error) {
			return &fakeRows{rows: nil}, nil
		},
	}
	store := newTestStore(db, fields)
	table := types.Table{ID: "tbl_1", BaseID: "base_1"}

	filter := Filter{
		Conditions: []query.Filter{
			{Column: "fld_name", Operator: query.OpEqual, Value: "Alice", OrGroupID: 1},
			{Column: "fld_name", Operator: query.OpEqual, Value: "Bob", OrGroupID: 1},
		},
	}
	_, total, err := store.List(context.Background(), table, filter, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestConditionClause_UnsupportedOperatorIsDBError(t *testing.T) {
	idx := 1
	_, _, err := conditionClause(func(s string) string { return s }, nameField(), query.Filter{Column: "fld_name", Operator: "bogus"}, &idx)
	require.Error(t, err)
	var engErr *engineerr.Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, engineerr.CodeDBError, engErr.Code)
}

func TestStore_FindByIds_Empty(t *testing.T) {
	store := newTestStore(&fakeDB{}, &fakeFieldLister{})
	recs, err := store.FindByIds(context.Background(), types.Table{ID: "tbl_1"}, nil)
	require.NoError(t, err)
	assert.Nil(t, recs)
}

func TestOptimalBatchSize(t *testing.T) {
	cases := []struct{ n, want int }{
		{10, 10}, {49, 49}, {50, 100}, {500, 100}, {1000, 100}, {1001, 500}, {5000, 500},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, optimalBatchSize(c.n), "n=%d", c.n)
	}
}

func TestStore_BatchCreate_IsolatesPerItemFailure(t *testing.T) {
	fields := &fakeFieldLister{byTable: map[string][]types.Field{"tbl_1": {nameField()}}}
	now := time.Now()
	calls := 0
	db := &fakeDB{
		queryFn: func(sql string, args []interface{}) (*fakeRows, error) {
			calls++
			if calls == 2 {
				return nil, errors.New("boom")
			}
			return &fakeRows{rows: [][]interface{}{{"rec_1", int64(1), now, now, "u", "u", "Alice"}}}, nil
		},
	}
	store := newTestStore(db, fields)
	table := types.Table{ID: "tbl_1", BaseID: "base_1"}

	results := store.BatchCreate(context.Background(), table, []map[string]interface{}{
		{"fld_name": "Alice"},
		{"fld_name": "Bob"},
	}, "user_1")
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
}

func TestStore_BatchUpdate_BestEffort_UpdatesBothRecords(t *testing.T) {
	fields := &fakeFieldLister{byTable: map[string][]types.Field{"tbl_1": {nameField()}}}
	now := time.Now()
	db := &fakeDB{
		queryFn: func(sql string, args []interface{}) (*fakeRows, error) {
			assert.Contains(t, sql, "CASE")
			return &fakeRows{rows: [][]interface{}{
				{"rec_1", int64(2), now, now, "u", "u", "Alice2"},
				{"rec_2", int64(2), now, now, "u", "u", "Bob2"},
			}}, nil
		},
	}
	store := newTestStore(db, fields)
	table := types.Table{ID: "tbl_1", BaseID: "base_1"}

	items := []BatchUpdateItem{
		{Table: table, RecordID: "rec_1", Data: map[string]interface{}{"fld_name": "Alice2"}},
		{Table: table, RecordID: "rec_2", Data: map[string]interface{}{"fld_name": "Bob2"}},
	}
	results, err := store.BatchUpdate(context.Background(), items, "user_1", BestEffortStrategy{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	require.NoError(t, results[1].Err)
	assert.Equal(t, "Alice2", results[0].Record.Data["fld_name"])
	assert.Equal(t, "Bob2", results[1].Record.Data["fld_name"])
}

func TestStore_BatchUpdate_BestEffort_IsolatesTableFailures(t *testing.T) {
	fields := &fakeFieldLister{byTable: map[string][]types.Field{
		"tbl_1": {nameField()},
		"tbl_2": {nameField()},
	}}
	now := time.Now()
	db := &fakeDB{
		queryFn: func(sql string, args []interface{}) (*fakeRows, error) {
			return &fakeRows{rows: [][]interface{}{{"rec_2", int64(2), now, now, "u", "u", "ok"}}}, nil
		},
		execFn: func(sql string, args []interface{}) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, nil
		},
	}
	store := newTestStore(db, fields)
	table1 := types.Table{ID: "tbl_1", BaseID: "base_1"}
	table2 := types.Table{ID: "tbl_2", BaseID: "base_1"}

	items := []BatchUpdateItem{
		{Table: table1, RecordID: "rec_1", Data: map[string]interface{}{"fld_name": "x"}},
		{Table: table2, RecordID: "rec_2", Data: map[string]interface{}{"fld_name": "ok"}},
	}
	results, _ := store.BatchUpdate(context.Background(), items, "user_1", BestEffortStrategy{})
	require.Len(t, results, 2)
	assert.NoError(t, results[1].Err)
}

func TestStore_BatchUpdate_AllOrNothing_RollsBackOnFailure(t *testing.T) {
	fields := &fakeFieldLister{byTable: map[string][]types.Field{"tbl_1": {nameField()}}}
	db := &fakeDB{
		queryFn: func(sql string, args []interface{}) (*fakeRows, error) {
			return nil, errors.New("boom")
		},
	}
	store := newTestStore(db, fields)
	table := types.Table{ID: "tbl_1", BaseID: "base_1"}

	items := []BatchUpdateItem{
		{Table: table, RecordID: "rec_1", Data: map[string]interface{}{"fld_name": "X"}},
	}
	results, err := store.BatchUpdate(context.Background(), items, "user_1", AllOrNothingStrategy{})
	require.Error(t, err)
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
	require.NotNil(t, db.lastTx)
	assert.True(t, db.lastTx.rolledBack)
}

func TestStore_MaxFanout_ComputesGroupByMax(t *testing.T) {
	db := &fakeDB{
		queryRowFn: func(sql string, args []interface{}) *fakeRow {
			assert.Contains(t, sql, "GROUP BY")
			return &fakeRow{values: []interface{}{int64(3)}}
		},
	}
	tables := &fakeTableLookup{byID: map[string]types.Table{"tbl_1": {ID: "tbl_1", BaseID: "base_1"}}}
	store := newTestStore(db, &fakeFieldLister{}, WithTableLookup(tables))

	optsJSON, err := json.Marshal(field.LinkFieldOptions{
		LinkOptions: types.LinkOptions{
			FKHostTableName: "link_tbl1_tbl2",
			SelfKeyName:     "tbl1_id",
			ForeignKeyName:  "tbl2_id",
		},
	})
	require.NoError(t, err)
	f := types.Field{ID: "fld_link", TableID: "tbl_1", Type: types.FieldLink, Options: optsJSON}

	max, err := store.MaxFanout(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, int64(3), max)
}

func TestStore_MaxFanout_RequiresTableLookup(t *testing.T) {
	store := newTestStore(&fakeDB{}, &fakeFieldLister{})
	_, err := store.MaxFanout(context.Background(), types.Field{ID: "fld_link", TableID: "tbl_1", Type: types.FieldLink})
	var engErr *engineerr.Error
	require.ErrorAs(t, err, &engErr)
}
