package engine

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fluxbase-eu/tableengine/internal/tableengine/engineerr"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/types"
)

// CatalogExecutor is the raw-SQL capability TableCatalog needs, the same
// shape field.Executor and schema.Executor use.
type CatalogExecutor interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// TableCatalog persists Space/Base/Table/View metadata — the Spaces ->
// Bases -> Tables -> Views hierarchy that every component's TableLookup
// dependency (record.TableLookup, link.TableLookup, linktitle.TableLookup)
// resolves a Table through. Grounded on field.Registry's query/scan style.
type TableCatalog struct {
	db CatalogExecutor
}

// NewTableCatalog constructs a TableCatalog.
func NewTableCatalog(db CatalogExecutor) *TableCatalog {
	return &TableCatalog{db: db}
}

// CreateSpace inserts a new Space.
func (c *TableCatalog) CreateSpace(ctx context.Context, name, ownerID, user string) (*types.Space, error) {
	s := &types.Space{ID: types.NewSpaceID(), Name: name, OwnerID: ownerID}
	_, err := c.db.Exec(ctx,
		`INSERT INTO tableengine.spaces (id, name, owner_id, created_by, updated_by) VALUES ($1, $2, $3, $4, $4)`,
		s.ID, s.Name, s.OwnerID, user)
	if err != nil {
		return nil, engineerr.DBError(fmt.Errorf("create space: %w", err))
	}
	return s, nil
}

// CreateBase inserts a new Base under a Space, naming its physical schema
// after the Base ID so every Table it owns resolves PhysicalSchema()
// consistently with types.Table's own convention.
func (c *TableCatalog) CreateBase(ctx context.Context, spaceID, name, icon, user string) (*types.Base, error) {
	b := &types.Base{ID: types.NewBaseID(), SpaceID: spaceID, Name: name, Icon: icon}
	_, err := c.db.Exec(ctx,
		`INSERT INTO tableengine.bases (id, space_id, name, icon, schema_name, created_by, updated_by) VALUES ($1, $2, $3, $4, $1, $5, $5)`,
		b.ID, b.SpaceID, b.Name, b.Icon, user)
	if err != nil {
		return nil, engineerr.DBError(fmt.Errorf("create base: %w", err))
	}
	return b, nil
}

// CreateTable inserts a new Table under a Base. The physical table itself
// is created separately by schema.Provider; this only records the logical
// entity so GetTable can resolve it afterward.
func (c *TableCatalog) CreateTable(ctx context.Context, baseID, name, user string) (*types.Table, error) {
	t := &types.Table{ID: types.NewTableID(), BaseID: baseID, Name: name, Version: 1}
	_, err := c.db.Exec(ctx,
		`INSERT INTO tableengine.tables (id, base_id, name, db_table_name, version, created_by, updated_by) VALUES ($1, $2, $3, $1, 1, $4, $4)`,
		t.ID, t.BaseID, t.Name, user)
	if err != nil {
		return nil, engineerr.DBError(fmt.Errorf("create table: %w", err))
	}
	return t, nil
}

// GetTable satisfies record.TableLookup, link.TableLookup, and
// linktitle.TableLookup with a single implementation.
func (c *TableCatalog) GetTable(ctx context.Context, tableID string) (types.Table, error) {
	row := c.db.QueryRow(ctx,
		`SELECT id, base_id, name, version, deleted, created_at, updated_at, created_by, updated_by
		 FROM tableengine.tables WHERE id = $1 AND deleted = false`, tableID)
	var t types.Table
	err := row.Scan(&t.ID, &t.BaseID, &t.Name, &t.Version, &t.Deleted,
		&t.CreatedAt, &t.UpdatedAt, &t.CreatedBy, &t.UpdatedBy)
	if err == pgx.ErrNoRows {
		return types.Table{}, engineerr.NotFound(engineerr.CodeTableNotFound, tableID)
	}
	if err != nil {
		return types.Table{}, engineerr.DBError(fmt.Errorf("get table %s: %w", tableID, err))
	}
	return t, nil
}

// GetBase fetches a Base by ID.
func (c *TableCatalog) GetBase(ctx context.Context, baseID string) (types.Base, error) {
	row := c.db.QueryRow(ctx,
		`SELECT id, space_id, name, icon, deleted, created_at, updated_at, created_by, updated_by
		 FROM tableengine.bases WHERE id = $1 AND deleted = false`, baseID)
	var b types.Base
	err := row.Scan(&b.ID, &b.SpaceID, &b.Name, &b.Icon, &b.Deleted,
		&b.CreatedAt, &b.UpdatedAt, &b.CreatedBy, &b.UpdatedBy)
	if err == pgx.ErrNoRows {
		return types.Base{}, engineerr.NotFound(engineerr.CodeTableNotFound, baseID)
	}
	if err != nil {
		return types.Base{}, engineerr.DBError(fmt.Errorf("get base %s: %w", baseID, err))
	}
	return b, nil
}

// ListTables returns every non-deleted Table owned by a Base.
func (c *TableCatalog) ListTables(ctx context.Context, baseID string) ([]types.Table, error) {
	rows, err := c.db.Query(ctx,
		`SELECT id, base_id, name, version, deleted, created_at, updated_at, created_by, updated_by
		 FROM tableengine.tables WHERE base_id = $1 AND deleted = false ORDER BY created_at ASC`, baseID)
	if err != nil {
		return nil, engineerr.DBError(fmt.Errorf("list tables for base %s: %w", baseID, err))
	}
	defer rows.Close()

	var out []types.Table
	for rows.Next() {
		var t types.Table
		if err := rows.Scan(&t.ID, &t.BaseID, &t.Name, &t.Version, &t.Deleted,
			&t.CreatedAt, &t.UpdatedAt, &t.CreatedBy, &t.UpdatedBy); err != nil {
			return nil, engineerr.DBError(err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
