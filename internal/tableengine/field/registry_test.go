package field

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/tableengine/internal/tableengine/engineerr"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/schema"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/types"
)

// scanInto assigns values into dest pointers via reflection, converting
// between assignable kinds (e.g. string -> types.FieldType, float64 ->
// float64) the way a real pgx driver scan would.
func scanInto(dest []interface{}, values []interface{}) error {
	for i, d := range dest {
		rv := reflect.ValueOf(d).Elem()
		rv.Set(reflect.ValueOf(values[i]).Convert(rv.Type()))
	}
	return nil
}

// fakeRow fakes pgx.Row (a single-method interface: Scan).
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

// fakeRows fakes pgx.Rows for the subset Registry.List/GetByNames use.
// Embedding the nil pgx.Rows interface satisfies every other method at
// compile time; none of them are exercised by these tests.
type fakeRows struct {
	pgx.Rows
	rows []([]interface{})
	idx  int
}

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx <= len(r.rows)
}

func (r *fakeRows) Scan(dest ...interface{}) error {
	return scanInto(dest, r.rows[r.idx-1])
}

func (r *fakeRows) Close()     {}
func (r *fakeRows) Err() error { return nil }

// fakeTx fakes pgx.Tx for the subset Registry.Create uses (Exec only).
type fakeTx struct {
	pgx.Tx
	execs []string
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, sql)
	return pgconn.CommandTag{}, nil
}

// fakeDB is a scriptable field.Executor + schema.Executor double.
type fakeDB struct {
	queryRowFn func(sql string, args []interface{}) *fakeRow
	queryFn    func(sql string, args []interface{}) *fakeRows
	execFn     func(sql string, args []interface{}) error
	tx         *fakeTx
	execs      []string
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return f.queryRowFn(sql, args)
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return f.queryFn(sql, args), nil
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	if f.execFn != nil {
		if err := f.execFn(sql, args); err != nil {
			return pgconn.CommandTag{}, err
		}
	}
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) ExecuteWithAdminRole(ctx context.Context, fn func(tx pgx.Tx) error) error {
	if f.tx == nil {
		f.tx = &fakeTx{}
	}
	return fn(f.tx)
}

// fakeTableLookup is a scriptable TableLookup double.
type fakeTableLookup struct {
	table types.Table
	err   error
}

func (f *fakeTableLookup) GetTable(ctx context.Context, tableID string) (types.Table, error) {
	return f.table, f.err
}

func newTestRegistry(db *fakeDB) *Registry {
	provider := schema.NewProvider(schema.NewPostgresDialect(), db, nil, nil)
	return NewRegistry(db, provider)
}

func newTestRegistryWithTables(db *fakeDB, tables TableLookup) *Registry {
	provider := schema.NewProvider(schema.NewPostgresDialect(), db, nil, nil)
	return NewRegistry(db, provider, WithTableLookup(tables))
}

func TestRegistry_Create_Success(t *testing.T) {
	db := &fakeDB{}
	// Call order inside Create: nameConflict (bool), nextOrder (int64),
	// then deriveDBFieldName's collision-check loop (bool per iteration).
	calls := 0
	db.queryRowFn = func(sql string, args []interface{}) *fakeRow {
		calls++
		switch calls {
		case 1:
			return &fakeRow{values: []interface{}{false}} // name conflict check
		case 2:
			return &fakeRow{values: []interface{}{int64(0)}} // nextOrder
		default:
			return &fakeRow{values: []interface{}{false}} // db_field_name collision check
		}
	}

	table := types.Table{ID: "tbl_abc", BaseID: "base_xyz"}
	r := newTestRegistry(db)

	f, err := r.Create(context.Background(), table, CreateRequest{
		Name: "Full Name",
		Type: types.FieldShortText,
	}, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "full_name", f.DBFieldName)
	assert.Equal(t, int64(1), f.Order)
	assert.Equal(t, "TEXT", f.DBFieldType)
	assert.NotEmpty(t, f.ID)

	require.Len(t, db.tx.execs, 2)
	assert.Contains(t, db.tx.execs[0], "ADD COLUMN")
	assert.Contains(t, db.tx.execs[1], "INSERT INTO tableengine.fields")
}

func TestRegistry_Create_NameConflict(t *testing.T) {
	db := &fakeDB{
		queryRowFn: func(sql string, args []interface{}) *fakeRow {
			return &fakeRow{values: []interface{}{true}} // name conflict check fires first
		},
	}
	r := newTestRegistry(db)

	_, err := r.Create(context.Background(), types.Table{ID: "tbl_abc", BaseID: "base_xyz"}, CreateRequest{
		Name: "Dup",
		Type: types.FieldShortText,
	}, "user_1")
	require.Error(t, err)
	var ee *engineerr.Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, engineerr.CodeNameConflict, ee.Code)
}

func TestRegistry_Create_EmptyName(t *testing.T) {
	r := newTestRegistry(&fakeDB{})
	_, err := r.Create(context.Background(), types.Table{ID: "tbl_abc"}, CreateRequest{
		Name: "   ",
		Type: types.FieldShortText,
	}, "user_1")
	require.Error(t, err)
	var ee *engineerr.Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, engineerr.CodeValidationFailed, ee.Code)
}

func TestRegistry_Create_UnknownType(t *testing.T) {
	r := newTestRegistry(&fakeDB{})
	_, err := r.Create(context.Background(), types.Table{ID: "tbl_abc"}, CreateRequest{
		Name: "X",
		Type: types.FieldType("bogus"),
	}, "user_1")
	require.Error(t, err)
}

func TestRegistry_Create_LinkFieldSkipsColumn(t *testing.T) {
	calls := 0
	db := &fakeDB{
		queryRowFn: func(sql string, args []interface{}) *fakeRow {
			calls++
			switch calls {
			case 1:
				return &fakeRow{values: []interface{}{false}} // name conflict check
			case 2:
				return &fakeRow{values: []interface{}{int64(3)}} // nextOrder
			default:
				return &fakeRow{values: []interface{}{false}} // db_field_name collision check
			}
		},
	}
	r := newTestRegistry(db)

	f, err := r.Create(context.Background(), types.Table{ID: "tbl_abc"}, CreateRequest{
		Name:       "Related",
		Type:       types.FieldLink,
		OptionsRaw: []byte(`{"foreignTableId":"tbl_other","relationship":"manyOne"}`),
	}, "user_1")
	require.NoError(t, err)
	require.Len(t, db.tx.execs, 1)
	assert.Contains(t, db.tx.execs[0], "INSERT INTO tableengine.fields")
	assert.Equal(t, int64(4), f.Order)
}

func TestRegistry_Get_NotFound(t *testing.T) {
	db := &fakeDB{
		queryRowFn: func(sql string, args []interface{}) *fakeRow {
			return &fakeRow{err: pgx.ErrNoRows}
		},
	}
	r := newTestRegistry(db)
	_, err := r.Get(context.Background(), "fld_missing")
	require.Error(t, err)
	var ee *engineerr.Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, engineerr.CodeFieldNotFound, ee.Code)
}

func fieldRow(id, tableID, name string, isPrimary bool) []interface{} {
	now := time.Now()
	return []interface{}{
		id, tableID, name, "", "db_" + name, "shortText", false,
		[]byte(`{}`), false, false, isPrimary, float64(1), false,
		now, now, "user_1", "user_1",
	}
}

func TestRegistry_List(t *testing.T) {
	db := &fakeDB{
		queryFn: func(sql string, args []interface{}) *fakeRows {
			return &fakeRows{rows: [][]interface{}{
				fieldRow("fld_1", "tbl_abc", "A", true),
				fieldRow("fld_2", "tbl_abc", "B", false),
			}}
		},
	}
	r := newTestRegistry(db)
	fields, err := r.List(context.Background(), "tbl_abc")
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, "fld_1", fields[0].ID)
	assert.True(t, fields[0].IsPrimary)
}

func TestRegistry_ListLinksByForeignTable(t *testing.T) {
	db := &fakeDB{
		queryFn: func(sql string, args []interface{}) *fakeRows {
			assert.Contains(t, sql, "foreignTableId")
			assert.Equal(t, "tbl_customers", args[1])
			return &fakeRows{rows: [][]interface{}{
				fieldRow("fld_link", "tbl_orders", "Customer", false),
			}}
		},
	}
	r := newTestRegistry(db)
	links, err := r.ListLinksByForeignTable(context.Background(), "tbl_customers")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "fld_link", links[0].ID)
}

func TestRegistry_Delete_PrimaryForbidden(t *testing.T) {
	db := &fakeDB{
		queryRowFn: func(sql string, args []interface{}) *fakeRow {
			return &fakeRow{values: fieldRow("fld_1", "tbl_abc", "Primary", true)}
		},
	}
	r := newTestRegistry(db)
	err := r.Delete(context.Background(), "fld_1")
	require.Error(t, err)
	var ee *engineerr.Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, engineerr.CodeCannotDeletePrimary, ee.Code)
}

func TestRegistry_Delete_Success(t *testing.T) {
	db := &fakeDB{
		queryRowFn: func(sql string, args []interface{}) *fakeRow {
			return &fakeRow{values: fieldRow("fld_1", "tbl_abc", "Normal", false)}
		},
	}
	tables := &fakeTableLookup{table: types.Table{ID: "tbl_abc", BaseID: "base_xyz"}}
	r := newTestRegistryWithTables(db, tables)
	err := r.Delete(context.Background(), "fld_1")
	require.NoError(t, err)

	require.Len(t, db.execs, 2)
	assert.Contains(t, db.execs[0], "DROP COLUMN")
	assert.Contains(t, db.execs[0], "db_Normal")
	assert.Contains(t, db.execs[1], "UPDATE tableengine.fields")
	assert.Contains(t, db.execs[1], "SET deleted = true")
}

func TestRegistry_Update_Rename(t *testing.T) {
	calls := 0
	db := &fakeDB{
		queryRowFn: func(sql string, args []interface{}) *fakeRow {
			calls++
			if calls == 1 {
				return &fakeRow{values: fieldRow("fld_1", "tbl_abc", "Old", false)}
			}
			return &fakeRow{values: []interface{}{false}} // name conflict check
		},
	}
	r := newTestRegistry(db)
	newName := "New Name"
	f, err := r.Update(context.Background(), "fld_1", UpdatePatch{Name: &newName}, "user_2")
	require.NoError(t, err)
	assert.Equal(t, "New Name", f.Name)
	assert.Equal(t, "db_Old", f.DBFieldName) // rename never changes db_field_name
}

func TestRegistry_Update_PostSaveHookFires(t *testing.T) {
	db := &fakeDB{
		queryRowFn: func(sql string, args []interface{}) *fakeRow {
			return &fakeRow{values: fieldRow("fld_1", "tbl_abc", "Old", false)}
		},
	}
	provider := schema.NewProvider(schema.NewPostgresDialect(), db, nil, nil)
	fired := false
	r := NewRegistry(db, provider, WithPostSaveHook(func(ctx context.Context, f *types.Field) error {
		fired = true
		return nil
	}))

	required := true
	_, err := r.Update(context.Background(), "fld_1", UpdatePatch{Required: &required}, "user_2")
	require.NoError(t, err)
	assert.True(t, fired)
}
