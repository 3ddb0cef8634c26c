package field

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fluxbase-eu/tableengine/internal/tableengine/engineerr"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/schema"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/types"
)

const maxNameLength = 255

// Executor is the subset of database.Connection the registry needs.
type Executor interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// CycleChecker is consulted before persisting a computed field's option
// change. A nil CycleChecker skips the check — acceptable
// until DependencyGraph is wired in by the engine package.
type CycleChecker interface {
	CheckCycle(ctx context.Context, tableID string, candidate types.Field) (hasCycle bool, path []string, err error)
}

// TableLookup resolves a Table by ID. Needed only by Delete, to resolve the
// physical schema/table a non-Link field's backing column lives on. Kept
// narrow and separate from any concrete Table store to avoid an import
// cycle with the engine package that owns Table metadata.
type TableLookup interface {
	GetTable(ctx context.Context, tableID string) (types.Table, error)
}

// CreateRequest is the input to Registry.Create.
type CreateRequest struct {
	Name        string
	Description string
	Type        types.FieldType
	OptionsRaw  []byte
	Required    bool
	Unique      bool
	IsPrimary   bool
}

// UpdatePatch is the input to Registry.Update; nil pointers/fields leave the
// current value unchanged.
type UpdatePatch struct {
	Name        *string
	Description *string
	OptionsRaw  []byte
	Required    *bool
	Unique      *bool
}

// Registry implements C2 FieldRegistry.
type Registry struct {
	db     Executor
	schema *schema.Provider
	hooks  hooks
	cycles CycleChecker
	tables TableLookup
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithPreSaveHook registers a pre_save stage hook.
func WithPreSaveHook(h Hook) Option {
	return func(r *Registry) { r.hooks.preSave = append(r.hooks.preSave, h) }
}

// WithTableLookup wires the lookup Delete needs to resolve a non-Link
// field's physical table before dropping its column.
func WithTableLookup(t TableLookup) Option {
	return func(r *Registry) { r.tables = t }
}

// WithPostSaveHook registers a post_save stage hook (e.g. OTChannel
// broadcast to the field-schema collection).
func WithPostSaveHook(h Hook) Option {
	return func(r *Registry) { r.hooks.postSave = append(r.hooks.postSave, h) }
}

// WithCycleChecker wires a DependencyGraph cycle checker.
func WithCycleChecker(c CycleChecker) Option {
	return func(r *Registry) { r.cycles = c }
}

// NewRegistry constructs a Registry.
func NewRegistry(db Executor, provider *schema.Provider, opts ...Option) *Registry {
	r := &Registry{db: db, schema: provider}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = nonAlnum.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		s = "field"
	}
	return s
}

// deriveDBFieldName computes a deterministic, collision-free physical
// column name for a new field. On rename the db_field_name never
// changes, so this only runs at create time.
func (r *Registry) deriveDBFieldName(ctx context.Context, tableID, name string) (string, error) {
	base := slugify(name)
	candidate := base
	for i := 2; ; i++ {
		var exists bool
		err := r.db.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM tableengine.fields WHERE table_id = $1 AND db_field_name = $2)`,
			tableID, candidate).Scan(&exists)
		if err != nil {
			return "", engineerr.DBError(fmt.Errorf("check db_field_name collision: %w", err))
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s_%d", base, i)
	}
}

func (r *Registry) nameConflict(ctx context.Context, tableID, name, excludeFieldID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM tableengine.fields WHERE table_id = $1 AND name = $2 AND deleted = false AND id != $3)`,
		tableID, name, excludeFieldID).Scan(&exists)
	if err != nil {
		return false, engineerr.DBError(fmt.Errorf("check name conflict: %w", err))
	}
	return exists, nil
}

func (r *Registry) nextOrder(ctx context.Context, tableID string) (int64, error) {
	var max int64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(order_index), 0) FROM tableengine.fields WHERE table_id = $1`, tableID).Scan(&max)
	if err != nil {
		return 0, engineerr.DBError(fmt.Errorf("compute next order: %w", err))
	}
	return max + 1, nil
}

// Create validates and persists a new Field on table, running its physical
// DDL (when the type needs a backing column) and metadata insert within a
// single transaction: on failure the physical column never survives.
func (r *Registry) Create(ctx context.Context, table types.Table, req CreateRequest, user string) (*types.Field, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, engineerr.ValidationFailed("field name must not be empty")
	}
	if len(name) > maxNameLength {
		return nil, engineerr.ValidationFailed(fmt.Sprintf("field name exceeds %d characters", maxNameLength))
	}

	if _, err := newOptions(req.Type); err != nil {
		return nil, engineerr.Conflict(engineerr.CodeInvalidFieldType, err.Error())
	}

	conflict, err := r.nameConflict(ctx, table.ID, name, "")
	if err != nil {
		return nil, err
	}
	if conflict {
		return nil, engineerr.NameConflict(name)
	}

	order, err := r.nextOrder(ctx, table.ID)
	if err != nil {
		return nil, err
	}

	dbFieldName, err := r.deriveDBFieldName(ctx, table.ID, name)
	if err != nil {
		return nil, err
	}

	opts, err := UnmarshalOptions(req.Type, req.OptionsRaw)
	if err != nil {
		return nil, engineerr.ValidationFailed(err.Error())
	}
	optionsJSON, err := MarshalOptions(opts)
	if err != nil {
		return nil, engineerr.ValidationFailed(err.Error())
	}

	f := &types.Field{
		ID:          types.NewFieldID(),
		TableID:     table.ID,
		Name:        name,
		Description: req.Description,
		Type:        req.Type,
		DBFieldName: dbFieldName,
		Options:     optionsJSON,
		Required:    req.Required,
		Unique:      req.Unique,
		IsPrimary:   req.IsPrimary,
		Order:       order,
	}
	f.CreatedBy = user
	f.UpdatedBy = user

	if err := r.hooks.runPreSave(ctx, f); err != nil {
		return nil, err
	}

	colType, needsColumn := "", req.Type != types.FieldLink
	var sqlType string
	if needsColumn {
		ct, err := r.schema.MapFieldType(req.Type, f.Options)
		if err != nil {
			return nil, engineerr.ValidationFailed(err.Error())
		}
		sqlType = ct.SQLType
		colType = ct.Default
		f.DBFieldType = sqlType
	}

	err = r.schema.WithTx(ctx, func(tx pgx.Tx) error {
		if needsColumn {
			ddl := r.schema.Dialect().AddColumnSQL(table.PhysicalSchema(), table.PhysicalTableName(), schema.ColumnDef{
				Name:     dbFieldName,
				Type:     sqlType,
				Default:  colType,
				NotNull:  req.Required,
			})
			if _, err := tx.Exec(ctx, ddl); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, insertFieldSQL,
			f.ID, f.TableID, f.Name, f.Description, f.DBFieldName, string(f.Type), f.Type.IsComputed(),
			f.Options, f.Required, f.Unique, f.IsPrimary, f.Order, f.CreatedBy, f.UpdatedBy)
		return err
	})
	if err != nil {
		return nil, engineerr.DBError(fmt.Errorf("create field %s on table %s: %w", name, table.ID, err))
	}

	if err := r.hooks.runPostSave(ctx, f); err != nil {
		return nil, err
	}

	return f, nil
}

const insertFieldSQL = `
INSERT INTO tableengine.fields (
	id, table_id, name, description, db_field_name, type, is_computed,
	options, required, is_unique, is_primary, order_index, created_by, updated_by
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

const selectFieldColumns = `
	id, table_id, name, description, db_field_name, type, is_computed,
	options, required, is_unique, is_primary, order_index, deleted,
	created_at, updated_at, created_by, updated_by`

func scanField(row pgx.Row) (*types.Field, error) {
	var f types.Field
	var isComputed bool
	var order float64
	if err := row.Scan(
		&f.ID, &f.TableID, &f.Name, &f.Description, &f.DBFieldName, &f.Type, &isComputed,
		&f.Options, &f.Required, &f.Unique, &f.IsPrimary, &order, &f.Deleted,
		&f.CreatedAt, &f.UpdatedAt, &f.CreatedBy, &f.UpdatedBy,
	); err != nil {
		return nil, err
	}
	f.Order = int64(order)
	return &f, nil
}

// Get fetches a field by ID.
func (r *Registry) Get(ctx context.Context, fieldID string) (*types.Field, error) {
	row := r.db.QueryRow(ctx, `SELECT `+selectFieldColumns+` FROM tableengine.fields WHERE id = $1 AND deleted = false`, fieldID)
	f, err := scanField(row)
	if err == pgx.ErrNoRows {
		return nil, engineerr.NotFound(engineerr.CodeFieldNotFound, fieldID)
	}
	if err != nil {
		return nil, engineerr.DBError(fmt.Errorf("get field %s: %w", fieldID, err))
	}
	return f, nil
}

// List returns every non-deleted field of a table, ordered by Order, then
// CreatedAt, then ID.
func (r *Registry) List(ctx context.Context, tableID string) ([]types.Field, error) {
	rows, err := r.db.Query(ctx, `SELECT `+selectFieldColumns+` FROM tableengine.fields WHERE table_id = $1 AND deleted = false ORDER BY order_index ASC, created_at ASC, id ASC`, tableID)
	if err != nil {
		return nil, engineerr.DBError(fmt.Errorf("list fields for table %s: %w", tableID, err))
	}
	defer rows.Close()

	var out []types.Field
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, engineerr.DBError(fmt.Errorf("scan field row: %w", err))
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, engineerr.DBError(err)
	}
	return out, nil
}

// ListLinksByForeignTable returns every non-deleted Link field across the
// whole registry whose options name foreignTableID as the foreign table —
// LinkTitleUpdater's discovery step.
func (r *Registry) ListLinksByForeignTable(ctx context.Context, foreignTableID string) ([]types.Field, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+selectFieldColumns+` FROM tableengine.fields
		 WHERE type = $1 AND deleted = false AND options->>'foreignTableId' = $2`,
		types.FieldLink, foreignTableID)
	if err != nil {
		return nil, engineerr.DBError(fmt.Errorf("list links by foreign table %s: %w", foreignTableID, err))
	}
	defer rows.Close()

	var out []types.Field
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, engineerr.DBError(fmt.Errorf("scan field row: %w", err))
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, engineerr.DBError(err)
	}
	return out, nil
}

// GetByNames resolves a set of field names to their Field rows (order
// matches input; missing names are simply absent from the result).
func (r *Registry) GetByNames(ctx context.Context, tableID string, names []string) ([]types.Field, error) {
	if len(names) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+selectFieldColumns+` FROM tableengine.fields WHERE table_id = $1 AND name = ANY($2) AND deleted = false`, tableID, names)
	if err != nil {
		return nil, engineerr.DBError(fmt.Errorf("get fields by name for table %s: %w", tableID, err))
	}
	defer rows.Close()

	var out []types.Field
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, engineerr.DBError(fmt.Errorf("scan field row: %w", err))
		}
		out = append(out, *f)
	}
	pos := make(map[string]int, len(names))
	for i := len(names) - 1; i >= 0; i-- {
		pos[names[i]] = i
	}
	sort.SliceStable(out, func(a, b int) bool { return pos[out[a].Name] < pos[out[b].Name] })
	return out, rows.Err()
}

// Update applies patch to a field. Renaming does not change db_field_name.
// For computed fields whose options change, a cycle check runs first when a
// CycleChecker is wired.
func (r *Registry) Update(ctx context.Context, fieldID string, patch UpdatePatch, user string) (*types.Field, error) {
	f, err := r.Get(ctx, fieldID)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, engineerr.ValidationFailed("field name must not be empty")
		}
		if len(name) > maxNameLength {
			return nil, engineerr.ValidationFailed(fmt.Sprintf("field name exceeds %d characters", maxNameLength))
		}
		conflict, err := r.nameConflict(ctx, f.TableID, name, f.ID)
		if err != nil {
			return nil, err
		}
		if conflict {
			return nil, engineerr.NameConflict(name)
		}
		f.Name = name
	}
	if patch.Description != nil {
		f.Description = *patch.Description
	}
	if patch.Required != nil {
		f.Required = *patch.Required
	}
	if patch.Unique != nil {
		f.Unique = *patch.Unique
	}
	if patch.OptionsRaw != nil {
		opts, err := UnmarshalOptions(f.Type, patch.OptionsRaw)
		if err != nil {
			return nil, engineerr.ValidationFailed(err.Error())
		}
		optionsJSON, err := MarshalOptions(opts)
		if err != nil {
			return nil, engineerr.ValidationFailed(err.Error())
		}
		f.Options = optionsJSON

		if f.Type.IsComputed() && r.cycles != nil {
			hasCycle, path, err := r.cycles.CheckCycle(ctx, f.TableID, *f)
			if err != nil {
				return nil, engineerr.DBError(err)
			}
			if hasCycle {
				return nil, engineerr.CircularDependency(path)
			}
		}
	}
	f.UpdatedBy = user

	if err := r.hooks.runPreSave(ctx, f); err != nil {
		return nil, err
	}

	_, err = r.db.Exec(ctx, `
		UPDATE tableengine.fields
		SET name = $1, description = $2, options = $3, required = $4, is_unique = $5, updated_by = $6, updated_at = now()
		WHERE id = $7`,
		f.Name, f.Description, f.Options, f.Required, f.Unique, f.UpdatedBy, f.ID)
	if err != nil {
		return nil, engineerr.DBError(fmt.Errorf("update field %s: %w", fieldID, err))
	}

	if err := r.hooks.runPostSave(ctx, f); err != nil {
		return nil, err
	}

	return f, nil
}

// Delete soft-deletes a field, dropping its backing physical column first
// so create(field) -> delete(field) leaves no orphan column behind. Must
// not be called on the primary field. A Link field's own FK column/junction
// table is owned by LinkSchemaManager, which drops it before calling this
// method, so Delete skips column cleanup for that type.
func (r *Registry) Delete(ctx context.Context, fieldID string) error {
	f, err := r.Get(ctx, fieldID)
	if err != nil {
		return err
	}
	if f.IsPrimary {
		return engineerr.Conflict(engineerr.CodeCannotDeletePrimary, "cannot delete the primary field")
	}

	if f.Type != types.FieldLink && r.tables != nil {
		table, err := r.tables.GetTable(ctx, f.TableID)
		if err != nil {
			return err
		}
		if err := r.schema.DropColumn(ctx, table.PhysicalSchema(), table.PhysicalTableName(), f.DBFieldName); err != nil {
			return err
		}
	}

	_, err = r.db.Exec(ctx, `UPDATE tableengine.fields SET deleted = true, updated_at = now() WHERE id = $1`, fieldID)
	if err != nil {
		return engineerr.DBError(fmt.Errorf("delete field %s: %w", fieldID, err))
	}

	return r.hooks.runPostSave(ctx, f)
}
