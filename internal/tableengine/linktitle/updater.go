// Package linktitle implements C6 LinkTitleUpdater: when a record changes,
// finds every Link-field cell across the schema that points at it and
// rewrites the cached title in place using JSONB operators, publishing one
// OT op per affected record so subscribers see the refreshed cell.
package linktitle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/tableengine/internal/tableengine/engineerr"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/field"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/schema"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/types"
)

// FieldLister is the subset of field.Registry the updater reads through:
// per-table listing (for auto-resolving a lookup field and for looking up
// the lookup field's display name) plus the cross-table discovery query.
type FieldLister interface {
	List(ctx context.Context, tableID string) ([]types.Field, error)
	ListLinksByForeignTable(ctx context.Context, foreignTableID string) ([]types.Field, error)
}

// TableLookup resolves a Table's physical schema/name by ID.
type TableLookup interface {
	GetTable(ctx context.Context, tableID string) (types.Table, error)
}

// Executor is the raw-SQL capability the bulk JSONB rewrite needs.
type Executor interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Publisher fans a single cell's new value out over OTChannel, addressed by
// (collection, docId, fieldId). A nil Publisher (the zero Option state)
// makes UpdateTitles a rewrite-only operation — useful before OTChannel is
// wired in and in tests.
type Publisher interface {
	Publish(ctx context.Context, collection, docID, fieldID string, value interface{}) error
}

// Updater implements C6 LinkTitleUpdater.
type Updater struct {
	fields    FieldLister
	tables    TableLookup
	db        Executor
	schema    *schema.Provider
	publisher Publisher
}

// Option configures an Updater at construction.
type Option func(*Updater)

// WithPublisher wires an OT publisher for step 4 of the algorithm.
func WithPublisher(p Publisher) Option { return func(u *Updater) { u.publisher = p } }

// NewUpdater constructs an Updater.
func NewUpdater(fields FieldLister, tables TableLookup, db Executor, provider *schema.Provider, opts ...Option) *Updater {
	u := &Updater{fields: fields, tables: tables, db: db, schema: provider}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// UpdateTitles is the write-path fan-out: sourceTable/sourceRecordID name
// the record that just changed, newSourceData is its post-write data keyed
// by field ID. Every affected table's rewrite is independent: a failure on
// one never fails the others or propagates to the caller, and running
// this twice with the same newSourceData is a no-op on the second pass
// (idempotent).
func (u *Updater) UpdateTitles(ctx context.Context, sourceTable types.Table, sourceRecordID string, newSourceData map[string]interface{}) {
	links, err := u.fields.ListLinksByForeignTable(ctx, sourceTable.ID)
	if err != nil {
		log.Warn().Err(err).Str("table_id", sourceTable.ID).Msg("link title update: failed to discover referencing link fields")
		return
	}
	if len(links) == 0 {
		return
	}

	sourceFields, err := u.fields.List(ctx, sourceTable.ID)
	if err != nil {
		log.Warn().Err(err).Str("table_id", sourceTable.ID).Msg("link title update: failed to list source table fields")
		return
	}
	sourceFieldsByID := make(map[string]types.Field, len(sourceFields))
	for _, f := range sourceFields {
		sourceFieldsByID[f.ID] = f
	}

	for _, linkField := range links {
		if err := u.updateOneLinkField(ctx, linkField, sourceRecordID, newSourceData, sourceFields, sourceFieldsByID); err != nil {
			log.Warn().Err(err).Str("field_id", linkField.ID).Str("source_table_id", sourceTable.ID).
				Msg("link title update failed for field, skipping")
		}
	}
}

func (u *Updater) updateOneLinkField(
	ctx context.Context,
	linkField types.Field,
	sourceRecordID string,
	newSourceData map[string]interface{},
	sourceFields []types.Field,
	sourceFieldsByID map[string]types.Field,
) error {
	opts, err := field.UnmarshalOptions(linkField.Type, linkField.Options)
	if err != nil {
		return err
	}
	lo, ok := opts.(field.LinkFieldOptions)
	if !ok {
		return nil
	}

	lookupFieldID := lo.LookupFieldID
	if lookupFieldID == "" {
		lookupFieldID, err = autoResolveLookupField(sourceFields)
		if err != nil {
			return err
		}
	}

	title, present := resolveTitle(newSourceData, lookupFieldID, sourceFieldsByID)
	if !present {
		return nil
	}

	hostTable, err := u.tables.GetTable(ctx, linkField.TableID)
	if err != nil {
		return err
	}

	rows, err := u.rewriteCells(ctx, hostTable, linkField, lo.AllowMultiple, sourceRecordID, title)
	if err != nil {
		return err
	}

	if u.publisher == nil {
		return nil
	}
	collection := types.RecordCollection(hostTable.ID)
	for _, r := range rows {
		if err := u.publisher.Publish(ctx, collection, r.recordID, linkField.ID, r.value); err != nil {
			log.Warn().Err(err).Str("table_id", hostTable.ID).Str("record_id", r.recordID).
				Msg("link title update: OT publish failed")
		}
	}
	return nil
}

// autoResolveLookupField picks the foreign table's lookup field per the
// LinkSchemaManager rule this mirrors (link.Manager.autoResolveLookupField):
// the first non-virtual field by order, falling back to the first field if
// every field is virtual. Duplicated rather than imported to keep the two
// packages' dependency directions independent of one another.
func autoResolveLookupField(fields []types.Field) (string, error) {
	if len(fields) == 0 {
		return "", engineerr.ValidationFailed("source table has no fields to supply a link title")
	}
	for _, f := range fields {
		if !f.Type.IsVirtual() {
			return f.ID, nil
		}
	}
	return fields[0].ID, nil
}

// resolveTitle looks up newSourceData by the lookup field's id, then by its
// display name; field-name keying wins when both are present (the freshest
// client-submitted value is transitionally keyed by name, an
// intentionally-kept heuristic until callers always key by id). The bool
// return distinguishes "not present" (skip this link field) from "present
// but empty".
func resolveTitle(newSourceData map[string]interface{}, lookupFieldID string, byID map[string]types.Field) (string, bool) {
	if lookupField, ok := byID[lookupFieldID]; ok {
		if nameVal, hasName := newSourceData[lookupField.Name]; hasName {
			if s, ok := nameVal.(string); ok {
				return s, true
			}
		}
	}
	if idVal, hasID := newSourceData[lookupFieldID]; hasID {
		if s, ok := idVal.(string); ok {
			return s, true
		}
	}
	return "", false
}

type updatedCell struct {
	recordID string
	value    interface{}
}

// rewriteCells issues one JSONB-aware bulk UPDATE against hostTable's
// physical column for linkField, choosing the array or object rewrite shape
// per the field's allowMultiple flag, and reads back every touched row's
// new cell value for the OT fan-out step.
func (u *Updater) rewriteCells(ctx context.Context, hostTable types.Table, linkField types.Field, allowMultiple bool, sourceRecordID, title string) ([]updatedCell, error) {
	q := u.schema.Dialect().QuoteIdentifier
	col := q(linkField.DBFieldName)
	tableRef := fmt.Sprintf("%s.%s", q(hostTable.PhysicalSchema()), q(hostTable.PhysicalTableName()))

	var sqlStr string
	if allowMultiple {
		sqlStr = fmt.Sprintf(`UPDATE %s SET %s = (
	SELECT jsonb_agg(CASE WHEN elem->>'id' = $2 THEN jsonb_set(elem, '{title}', to_jsonb($1::text)) ELSE elem END)
	FROM jsonb_array_elements(%s) elem
)
WHERE EXISTS (SELECT 1 FROM jsonb_array_elements(%s) e WHERE e->>'id' = $2)
RETURNING %s, %s`, tableRef, col, col, col, q(types.ColID), col)
	} else {
		sqlStr = fmt.Sprintf(`UPDATE %s SET %s = jsonb_set(%s, '{title}', to_jsonb($1::text))
WHERE %s->>'id' = $2
RETURNING %s, %s`, tableRef, col, col, col, q(types.ColID), col)
	}

	rows, err := u.db.Query(ctx, sqlStr, title, sourceRecordID)
	if err != nil {
		return nil, engineerr.DBError(fmt.Errorf("rewrite link titles on table %s: %w", hostTable.ID, err))
	}
	defer rows.Close()

	var out []updatedCell
	for rows.Next() {
		var recordID string
		var raw []byte
		if err := rows.Scan(&recordID, &raw); err != nil {
			return nil, engineerr.DBError(err)
		}
		var val interface{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &val); err != nil {
				return nil, engineerr.DBError(fmt.Errorf("decode rewritten cell on table %s: %w", hostTable.ID, err))
			}
		}
		out = append(out, updatedCell{recordID: recordID, value: val})
	}
	return out, rows.Err()
}
