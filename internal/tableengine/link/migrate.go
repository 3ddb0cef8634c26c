package link

import (
	"context"
	"fmt"

	"github.com/fluxbase-eu/tableengine/internal/tableengine/engineerr"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/field"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/schema"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/types"
)

// UpdateRelationship performs a relationship-type migration on an existing
// Link field: data-preserving transitions move data between a junction
// table and an FK column; transitions that cannot preserve data safely, or
// that this manager does not implement a data-moving path for, are
// rejected with MigrationConflict.
func (m *Manager) UpdateRelationship(ctx context.Context, fieldID string, newRel types.Relationship, user string) (*types.Field, error) {
	f, err := m.fields.Get(ctx, fieldID)
	if err != nil {
		return nil, err
	}
	if f.Type != types.FieldLink {
		return nil, engineerr.ValidationFailed(fmt.Sprintf("field %s is not a link field", fieldID))
	}
	lo, err := linkOptionsOf(f)
	if err != nil {
		return nil, err
	}
	oldRel := lo.Relationship
	if oldRel == newRel {
		return f, nil
	}

	if err := m.checkMigrationSafety(ctx, *f, oldRel, newRel); err != nil {
		return nil, err
	}

	current, err := m.tables.GetTable(ctx, f.TableID)
	if err != nil {
		return nil, err
	}
	foreign, err := m.tables.GetTable(ctx, lo.ForeignTableID)
	if err != nil {
		return nil, err
	}

	if err := m.migratePhysical(ctx, current, foreign, f, oldRel, newRel, user); err != nil {
		return nil, err
	}

	newLayout := deriveLayout(current, foreign, newRel, f.DBFieldName)
	lo.Relationship = newRel
	lo.FKHostTableName = newLayout.fkHostTableName
	lo.SelfKeyName = newLayout.selfKeyName
	lo.ForeignKeyName = newLayout.foreignKeyName
	raw, err := field.MarshalOptions(lo)
	if err != nil {
		return nil, err
	}
	updated, err := m.fields.Update(ctx, f.ID, field.UpdatePatch{OptionsRaw: raw}, user)
	if err != nil {
		return nil, err
	}

	if lo.SymmetricFieldID != "" {
		if err := m.syncSymmetricRelationship(ctx, lo.SymmetricFieldID, newRel.Reverse(), user); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

// checkMigrationSafety rejects a manyMany-narrowing transition when either
// side currently fans out to more than one row. Skipped when no RowCounter
// has been wired; engine.New wires record.Store in to answer this query.
func (m *Manager) checkMigrationSafety(ctx context.Context, f types.Field, oldRel, newRel types.Relationship) error {
	if m.counter == nil {
		return nil
	}
	if !(oldRel == types.RelManyMany && newRel != types.RelManyMany) {
		return nil
	}
	maxFanout, err := m.counter.MaxFanout(ctx, f)
	if err != nil {
		return err
	}
	if maxFanout > 1 {
		return engineerr.MigrationConflict(fmt.Sprintf(
			"cannot migrate field %s from %s to %s: at least one side links more than one row", f.ID, oldRel, newRel))
	}
	return nil
}

func (m *Manager) migratePhysical(ctx context.Context, current, foreign types.Table, f *types.Field, oldRel, newRel types.Relationship, user string) error {
	switch {
	case oldRel == types.RelManyMany && isColumnBased(newRel):
		return m.migrateJunctionToColumn(ctx, current, foreign, f)
	case isColumnBased(oldRel) && newRel == types.RelManyMany:
		return m.migrateColumnToJunction(ctx, current, foreign, f)
	case isColumnBased(oldRel) && newRel == types.RelOneMany:
		return m.migrateColumnToForeignColumn(ctx, current, foreign, f, user)
	case oldRel == types.RelOneMany && isColumnBased(newRel):
		return m.migrateForeignColumnToColumn(ctx, current, foreign, f, user)
	case isColumnBased(oldRel) && isColumnBased(newRel):
		// manyOne <-> oneOne: same physical column (current table, FK name
		// unchanged). Cardinality is an application-level invariant only;
		// no DDL is required.
		return nil
	default:
		return engineerr.MigrationConflict(fmt.Sprintf("unsupported relationship migration %s -> %s", oldRel, newRel))
	}
}

// syncSymmetricRelationship keeps the symmetric side's own relationship
// consistent after a migration, without re-running the full migration
// machinery on it (its physical layout already moved as a side effect of
// the primary field's migration).
func (m *Manager) syncSymmetricRelationship(ctx context.Context, symFieldID string, newSymRel types.Relationship, user string) error {
	sym, err := m.fields.Get(ctx, symFieldID)
	if err != nil {
		return err
	}
	lo, err := linkOptionsOf(sym)
	if err != nil {
		return err
	}
	if lo.Relationship == newSymRel {
		return nil
	}
	lo.Relationship = newSymRel
	raw, err := field.MarshalOptions(lo)
	if err != nil {
		return err
	}
	_, err = m.fields.Update(ctx, sym.ID, field.UpdatePatch{OptionsRaw: raw}, user)
	return err
}

func (m *Manager) lookupFieldDBName(ctx context.Context, fieldID string) (string, error) {
	if fieldID == "" {
		return "", engineerr.Internal("link field has no lookup_field_id set")
	}
	lf, err := m.fields.Get(ctx, fieldID)
	if err != nil {
		return "", err
	}
	return lf.DBFieldName, nil
}

// migrateJunctionToColumn moves data from a manyMany junction table onto a
// new FK column on the current table (manyMany -> manyOne/oneOne).
func (m *Manager) migrateJunctionToColumn(ctx context.Context, current, foreign types.Table, f *types.Field) error {
	lo, err := linkOptionsOf(f)
	if err != nil {
		return err
	}
	lookupCol, err := m.lookupFieldDBName(ctx, lo.LookupFieldID)
	if err != nil {
		return err
	}

	schemaName := current.PhysicalSchema()
	if err := m.schema.AddColumn(ctx, schemaName, current.PhysicalTableName(), schema.ColumnDef{Name: f.DBFieldName, Type: "JSONB"}); err != nil {
		return err
	}

	q := m.schema.Dialect().QuoteIdentifier
	moveSQL := fmt.Sprintf(
		`UPDATE %s.%s c SET %s = jsonb_build_object('id', j.%s, 'title', fo.%s)
		 FROM %s.%s j JOIN %s.%s fo ON fo.%s = j.%s
		 WHERE j.%s = c.%s`,
		q(schemaName), q(current.PhysicalTableName()), q(f.DBFieldName), q(lo.ForeignKeyName), q(lookupCol),
		q(schemaName), q(lo.FKHostTableName), q(schemaName), q(foreign.PhysicalTableName()), q(types.ColID), q(lo.ForeignKeyName),
		q(lo.SelfKeyName), q(types.ColID),
	)
	if _, err := m.db.Exec(ctx, moveSQL); err != nil {
		return engineerr.DBError(fmt.Errorf("migrate junction data for field %s: %w", f.ID, err))
	}

	return m.schema.DropPhysicalTable(ctx, schemaName, lo.FKHostTableName)
}

// migrateColumnToJunction moves data from an FK column on the current table
// into a new manyMany junction table (manyOne/oneOne -> manyMany).
func (m *Manager) migrateColumnToJunction(ctx context.Context, current, foreign types.Table, f *types.Field) error {
	lo, err := linkOptionsOf(f)
	if err != nil {
		return err
	}

	junctionName := junctionTableName(current.ID, foreign.ID)
	selfKey, foreignKey := current.ID+"_id", foreign.ID+"_id"
	if err := m.schema.CreateJunctionTable(ctx, current.PhysicalSchema(), junctionName, selfKey, foreignKey); err != nil {
		return err
	}

	q := m.schema.Dialect().QuoteIdentifier
	schemaName := current.PhysicalSchema()
	insertSQL := fmt.Sprintf(
		`INSERT INTO %s.%s (%s, %s, %s) SELECT gen_random_uuid()::text, c.%s, c.%s->>'id' FROM %s.%s c WHERE c.%s IS NOT NULL`,
		q(schemaName), q(junctionName), q(types.ColID), q(selfKey), q(foreignKey),
		q(types.ColID), q(f.DBFieldName),
		q(schemaName), q(current.PhysicalTableName()), q(f.DBFieldName),
	)
	if _, err := m.db.Exec(ctx, insertSQL); err != nil {
		return engineerr.DBError(fmt.Errorf("migrate column data to junction for field %s: %w", f.ID, err))
	}

	return m.schema.DropColumn(ctx, schemaName, current.PhysicalTableName(), lo.ForeignKeyName)
}

// migrateColumnToForeignColumn handles a manyOne/oneOne field migrating
// to oneMany. The FK column moves onto the foreign table, contributed by a
// manyOne symmetric field created (or reused) there, then the old column
// is dropped.
func (m *Manager) migrateColumnToForeignColumn(ctx context.Context, current, foreign types.Table, f *types.Field, user string) error {
	lo, err := linkOptionsOf(f)
	if err != nil {
		return err
	}

	sym, err := m.ensureSymmetricField(ctx, current, foreign, f, types.RelManyOne, user)
	if err != nil {
		return err
	}
	symLO, err := linkOptionsOf(sym)
	if err != nil {
		return err
	}
	lookupCol, err := m.lookupFieldDBName(ctx, symLO.LookupFieldID)
	if err != nil {
		return err
	}

	q := m.schema.Dialect().QuoteIdentifier
	moveSQL := fmt.Sprintf(
		`UPDATE %s.%s fo SET %s = jsonb_build_object('id', c.%s, 'title', c.%s)
		 FROM %s.%s c
		 WHERE c.%s->>'id' = fo.%s::text`,
		q(foreign.PhysicalSchema()), q(foreign.PhysicalTableName()), q(sym.DBFieldName),
		q(types.ColID), q(lookupCol),
		q(current.PhysicalSchema()), q(current.PhysicalTableName()),
		q(f.DBFieldName), q(types.ColID),
	)
	if _, err := m.db.Exec(ctx, moveSQL); err != nil {
		return engineerr.DBError(fmt.Errorf("migrate column data to foreign column for field %s: %w", f.ID, err))
	}

	return m.schema.DropColumn(ctx, current.PhysicalSchema(), current.PhysicalTableName(), lo.ForeignKeyName)
}

// migrateForeignColumnToColumn is the reverse of migrateColumnToForeignColumn
// (oneMany -> manyOne/oneOne): data moves from the symmetric field's column
// on the foreign table back onto a new column on the current table.
func (m *Manager) migrateForeignColumnToColumn(ctx context.Context, current, foreign types.Table, f *types.Field, user string) error {
	lo, err := linkOptionsOf(f)
	if err != nil {
		return err
	}
	if lo.SymmetricFieldID == "" {
		return engineerr.MigrationConflict(fmt.Sprintf("field %s has no symmetric field to migrate data from", f.ID))
	}
	sym, err := m.fields.Get(ctx, lo.SymmetricFieldID)
	if err != nil {
		return err
	}
	lookupCol, err := m.lookupFieldDBName(ctx, lo.LookupFieldID)
	if err != nil {
		return err
	}

	schemaName := current.PhysicalSchema()
	if err := m.schema.AddColumn(ctx, schemaName, current.PhysicalTableName(), schema.ColumnDef{Name: f.DBFieldName, Type: "JSONB"}); err != nil {
		return err
	}

	q := m.schema.Dialect().QuoteIdentifier
	moveSQL := fmt.Sprintf(
		`UPDATE %s.%s c SET %s = jsonb_build_object('id', fo.%s, 'title', fo.%s)
		 FROM %s.%s fo
		 WHERE fo.%s->>'id' = c.%s::text`,
		q(schemaName), q(current.PhysicalTableName()), q(f.DBFieldName),
		q(types.ColID), q(lookupCol),
		q(foreign.PhysicalSchema()), q(foreign.PhysicalTableName()),
		q(sym.DBFieldName), q(types.ColID),
	)
	if _, err := m.db.Exec(ctx, moveSQL); err != nil {
		return engineerr.DBError(fmt.Errorf("migrate foreign column data for field %s: %w", f.ID, err))
	}

	return m.schema.DropColumn(ctx, foreign.PhysicalSchema(), foreign.PhysicalTableName(), sym.DBFieldName)
}
