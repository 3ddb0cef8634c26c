// Package link implements C3 LinkSchemaManager: derives the FK host table,
// self/foreign key names, and junction tables for Link fields, and manages
// symmetric reverse-field creation, relationship-type migration, and delete
// cascade.
package link

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/tableengine/internal/tableengine/engineerr"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/field"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/schema"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/types"
)

// maxSymmetricCreateAttempts bounds the retry loop for best-effort
// symmetric field creation, retried since it runs outside the main
// create's transaction.
const maxSymmetricCreateAttempts = 3

// maxSymmetricNameAttempts bounds the suffix search when deduplicating a
// symmetric field's display name against the foreign table's fields.
const maxSymmetricNameAttempts = 20

// TableLookup resolves a Table by ID. Kept narrow and separate from any
// concrete Table store to avoid an import cycle with the engine package
// that owns Table metadata.
type TableLookup interface {
	GetTable(ctx context.Context, tableID string) (types.Table, error)
}

// FieldStore is the subset of field.Registry's API LinkSchemaManager drives.
type FieldStore interface {
	Create(ctx context.Context, table types.Table, req field.CreateRequest, user string) (*types.Field, error)
	Get(ctx context.Context, fieldID string) (*types.Field, error)
	List(ctx context.Context, tableID string) ([]types.Field, error)
	Update(ctx context.Context, fieldID string, patch field.UpdatePatch, user string) (*types.Field, error)
	Delete(ctx context.Context, fieldID string) error
}

// RowCounter reports the largest fan-out a Link field currently has on
// either side of the relationship, so a manyMany->{manyOne,oneOne,oneMany}
// migration can be rejected before it would lose data. engine.New wires
// record.Store in; a nil RowCounter skips the check.
type RowCounter interface {
	MaxFanout(ctx context.Context, f types.Field) (int64, error)
}

// Executor is the minimal raw-SQL capability a relationship-type migration
// needs to move data between a junction table and an FK column.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Manager implements C3 LinkSchemaManager.
type Manager struct {
	fields  FieldStore
	tables  TableLookup
	schema  *schema.Provider
	db      Executor
	counter RowCounter
}

// Option configures optional Manager collaborators.
type Option func(*Manager)

// WithRowCounter wires a RowCounter into migration safety checks.
func WithRowCounter(c RowCounter) Option { return func(m *Manager) { m.counter = c } }

// NewManager constructs a LinkSchemaManager. db is used only for the raw
// data-moving statements a relationship migration issues; all structural
// DDL goes through provider.
func NewManager(fields FieldStore, tables TableLookup, provider *schema.Provider, db Executor, opts ...Option) *Manager {
	m := &Manager{fields: fields, tables: tables, schema: provider, db: db}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateRequest describes a Link field to create.
type CreateRequest struct {
	Name           string
	ForeignTableID string
	Relationship   types.Relationship
	LookupFieldID  string
	IsSymmetric    bool
	AllowMultiple  bool
}

func (r CreateRequest) validate() error {
	switch r.Relationship {
	case types.RelOneOne, types.RelOneMany, types.RelManyOne, types.RelManyMany:
	default:
		return engineerr.ValidationFailed(fmt.Sprintf("unknown relationship %q", r.Relationship))
	}
	if r.ForeignTableID == "" {
		return engineerr.ValidationFailed("foreignTableId is required")
	}
	return nil
}

// CreateLink creates a Link field on table, deriving its physical layout
// per relationship, auto-resolving lookup_field_id when unset, and — when
// IsSymmetric — creating the reverse field on the foreign table
// best-effort.
func (m *Manager) CreateLink(ctx context.Context, table types.Table, req CreateRequest, user string) (*types.Field, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	foreignTable, err := m.tables.GetTable(ctx, req.ForeignTableID)
	if err != nil {
		return nil, err
	}

	lookupFieldID := req.LookupFieldID
	if lookupFieldID == "" {
		lookupFieldID, err = m.autoResolveLookupField(ctx, foreignTable.ID)
		if err != nil {
			return nil, err
		}
	}

	prelim := types.LinkOptions{
		ForeignTableID: foreignTable.ID,
		Relationship:   req.Relationship,
		LookupFieldID:  lookupFieldID,
		IsSymmetric:    req.IsSymmetric,
		AllowMultiple:  req.AllowMultiple,
	}
	rawPrelim, err := field.MarshalOptions(field.LinkFieldOptions{LinkOptions: prelim})
	if err != nil {
		return nil, engineerr.Internal(err.Error())
	}

	f, err := m.fields.Create(ctx, table, field.CreateRequest{
		Name:       req.Name,
		Type:       types.FieldLink,
		OptionsRaw: rawPrelim,
	}, user)
	if err != nil {
		return nil, err
	}

	lay := deriveLayout(table, foreignTable, req.Relationship, f.DBFieldName)
	if err := m.materializeLayout(ctx, table, lay); err != nil {
		return nil, err
	}

	final := prelim
	final.FKHostTableName = lay.fkHostTableName
	final.SelfKeyName = lay.selfKeyName
	final.ForeignKeyName = lay.foreignKeyName
	rawFinal, err := field.MarshalOptions(field.LinkFieldOptions{LinkOptions: final})
	if err != nil {
		return nil, engineerr.Internal(err.Error())
	}
	f, err = m.fields.Update(ctx, f.ID, field.UpdatePatch{OptionsRaw: rawFinal}, user)
	if err != nil {
		return nil, err
	}

	if req.IsSymmetric {
		m.createSymmetricBestEffort(ctx, table, foreignTable, f, user)
		if refreshed, err := m.fields.Get(ctx, f.ID); err == nil {
			f = refreshed
		}
	}
	return f, nil
}

// layout is the derived physical placement of a Link field's data.
type layout struct {
	fkHostTableName string
	selfKeyName     string
	foreignKeyName  string
}

func isColumnBased(rel types.Relationship) bool {
	return rel == types.RelManyOne || rel == types.RelOneOne
}

func junctionTableName(currentTableID, foreignTableID string) string {
	return fmt.Sprintf("link_%s_%s", currentTableID, foreignTableID)
}

// deriveLayout implements the relationship-to-physical-layout derivation
// table. For oneMany the FK column lives on the foreign ("many") table,
// named after the symmetric field's db_field_name, applied uniformly by
// migration code that keys on this same layout function.
func deriveLayout(current, foreign types.Table, rel types.Relationship, dbFieldName string) layout {
	switch rel {
	case types.RelManyMany:
		return layout{
			fkHostTableName: junctionTableName(current.ID, foreign.ID),
			selfKeyName:     current.ID + "_id",
			foreignKeyName:  foreign.ID + "_id",
		}
	case types.RelOneMany:
		return layout{
			fkHostTableName: foreign.ID,
			selfKeyName:     types.ColID,
			foreignKeyName:  types.ColID,
		}
	default: // RelManyOne, RelOneOne
		return layout{
			fkHostTableName: current.ID,
			selfKeyName:     types.ColID,
			foreignKeyName:  dbFieldName,
		}
	}
}

// materializeLayout performs the one-time DDL a freshly derived layout
// needs. oneMany contributes nothing here: its FK column is added later,
// on the foreign table, by the symmetric field's own materializeLayout
// call (its relationship is manyOne from that side, the isColumnBased
// branch below).
func (m *Manager) materializeLayout(ctx context.Context, current types.Table, lay layout) error {
	switch {
	case strings.HasPrefix(lay.fkHostTableName, "link_"):
		return m.schema.CreateJunctionTable(ctx, current.PhysicalSchema(), lay.fkHostTableName, lay.selfKeyName, lay.foreignKeyName)
	case lay.fkHostTableName == current.ID:
		return m.schema.AddColumn(ctx, current.PhysicalSchema(), current.PhysicalTableName(), schema.ColumnDef{
			Name: lay.foreignKeyName,
			Type: "JSONB",
		})
	default:
		return nil
	}
}

// autoResolveLookupField picks the foreign table's lookup field: the
// first non-virtual field by order, falling back to the first field of
// any kind if every field is virtual (formula/rollup/lookup/ai).
func (m *Manager) autoResolveLookupField(ctx context.Context, foreignTableID string) (string, error) {
	fields, err := m.fields.List(ctx, foreignTableID)
	if err != nil {
		return "", err
	}
	if len(fields) == 0 {
		return "", engineerr.ValidationFailed(fmt.Sprintf("table %s has no fields to supply a link title", foreignTableID))
	}
	for _, f := range fields {
		if !f.Type.IsVirtual() {
			return f.ID, nil
		}
	}
	return fields[0].ID, nil
}

func linkOptionsOf(f *types.Field) (field.LinkFieldOptions, error) {
	opts, err := field.UnmarshalOptions(types.FieldLink, f.Options)
	if err != nil {
		return field.LinkFieldOptions{}, err
	}
	lo, ok := opts.(field.LinkFieldOptions)
	if !ok {
		return field.LinkFieldOptions{}, engineerr.Internal(fmt.Sprintf("field %s is not a link field", f.ID))
	}
	return lo, nil
}

func (m *Manager) setSymmetricFieldID(ctx context.Context, f *types.Field, symFieldID, user string) error {
	lo, err := linkOptionsOf(f)
	if err != nil {
		return err
	}
	lo.SymmetricFieldID = symFieldID
	raw, err := field.MarshalOptions(lo)
	if err != nil {
		return err
	}
	_, err = m.fields.Update(ctx, f.ID, field.UpdatePatch{OptionsRaw: raw}, user)
	return err
}

func (m *Manager) dedupSymmetricName(ctx context.Context, foreignTableID, baseName string) (string, error) {
	existing, err := m.fields.List(ctx, foreignTableID)
	if err != nil {
		return "", err
	}
	taken := make(map[string]bool, len(existing))
	for _, f := range existing {
		taken[f.Name] = true
	}
	if !taken[baseName] {
		return baseName, nil
	}
	for i := 2; i < maxSymmetricNameAttempts; i++ {
		candidate := fmt.Sprintf("%s (%d)", baseName, i)
		if !taken[candidate] {
			return candidate, nil
		}
	}
	return "", engineerr.Internal("could not derive a unique symmetric field name")
}

// ensureSymmetricField returns f's existing symmetric field, or creates one
// on foreign with the given relationship and cross-links both sides'
// symmetric_field_id. Used both by normal symmetric-field creation and by
// relationship migrations that need a field to host data on the other side.
func (m *Manager) ensureSymmetricField(ctx context.Context, current, foreign types.Table, f *types.Field, desiredRel types.Relationship, user string) (*types.Field, error) {
	lo, err := linkOptionsOf(f)
	if err != nil {
		return nil, err
	}
	if lo.SymmetricFieldID != "" {
		return m.fields.Get(ctx, lo.SymmetricFieldID)
	}

	name, err := m.dedupSymmetricName(ctx, foreign.ID, current.Name)
	if err != nil {
		return nil, err
	}
	sym, err := m.CreateLink(ctx, foreign, CreateRequest{
		Name:           name,
		ForeignTableID: current.ID,
		Relationship:   desiredRel,
	}, user)
	if err != nil {
		return nil, err
	}
	if err := m.setSymmetricFieldID(ctx, sym, f.ID, user); err != nil {
		return nil, err
	}
	if err := m.setSymmetricFieldID(ctx, f, sym.ID, user); err != nil {
		return nil, err
	}
	return sym, nil
}

// createSymmetricBestEffort retries creating the reverse field and logs
// on exhausted failure rather than failing the main create. The main field's
// symmetric_field_id stays empty — an
// acceptable degraded state, not a hard rollback, since rolling back the
// main create would lose user schema.
func (m *Manager) createSymmetricBestEffort(ctx context.Context, current, foreign types.Table, main *types.Field, user string) {
	lo, err := linkOptionsOf(main)
	if err != nil {
		log.Warn().Err(err).Str("field_id", main.ID).Msg("could not read main link field options for symmetric creation")
		return
	}

	var lastErr error
	for attempt := 1; attempt <= maxSymmetricCreateAttempts; attempt++ {
		if _, err := m.ensureSymmetricField(ctx, current, foreign, main, lo.Relationship.Reverse(), user); err == nil {
			return
		} else {
			lastErr = err
		}
	}
	log.Warn().Err(lastErr).Str("field_id", main.ID).
		Msg("symmetric link field creation failed after retries; main field keeps an empty symmetric_field_id")
}

// Delete removes a Link field, cascading to its symmetric field
// (best-effort) and any junction table or FK column it owned.
func (m *Manager) Delete(ctx context.Context, fieldID, user string) error {
	f, err := m.fields.Get(ctx, fieldID)
	if err != nil {
		return err
	}
	if f.Type != types.FieldLink {
		return engineerr.ValidationFailed(fmt.Sprintf("field %s is not a link field", fieldID))
	}
	lo, err := linkOptionsOf(f)
	if err != nil {
		return err
	}

	if lo.SymmetricFieldID != "" {
		if err := m.fields.Delete(ctx, lo.SymmetricFieldID); err != nil {
			log.Warn().Err(err).Str("field_id", fieldID).Str("symmetric_field_id", lo.SymmetricFieldID).
				Msg("failed to delete symmetric link field during cascade, proceeding")
		}
	}

	current, err := m.tables.GetTable(ctx, f.TableID)
	if err != nil {
		return err
	}
	switch {
	case strings.HasPrefix(lo.FKHostTableName, "link_"):
		if err := m.schema.DropPhysicalTable(ctx, current.PhysicalSchema(), lo.FKHostTableName); err != nil {
			return err
		}
	case lo.FKHostTableName == current.ID && lo.ForeignKeyName != "":
		if err := m.schema.DropColumn(ctx, current.PhysicalSchema(), current.PhysicalTableName(), lo.ForeignKeyName); err != nil {
			return err
		}
	}
	return m.fields.Delete(ctx, fieldID)
}
