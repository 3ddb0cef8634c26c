package schema

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fluxbase-eu/tableengine/internal/database"
	"github.com/fluxbase-eu/tableengine/internal/observability"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/engineerr"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Executor is the subset of database.Connection that SchemaProvider needs,
// so it can be tested against a fake instead of a live pool.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	ExecuteWithAdminRole(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Provider implements C1 SchemaProvider: mapping logical field types to
// physical column DDL, and the DDL operations that create/alter/drop
// columns and auxiliary tables.
type Provider struct {
	dialect Dialect
	exec    Executor
	cache   *database.SchemaCache
	metrics *observability.Metrics
}

// NewProvider constructs a SchemaProvider bound to a dialect and executor.
// cache and metrics are optional (nil is a valid, if less efficient/observed,
// configuration).
func NewProvider(dialect Dialect, exec Executor, cache *database.SchemaCache, metrics *observability.Metrics) *Provider {
	return &Provider{dialect: dialect, exec: exec, cache: cache, metrics: metrics}
}

// MapFieldType exposes the dialect's pure field-type mapping function.
func (p *Provider) MapFieldType(fieldType types.FieldType, options []byte) (ColumnType, error) {
	return p.dialect.MapFieldType(fieldType, options)
}

// Dialect exposes the underlying Dialect so callers that must combine DDL
// with a metadata write in one transaction (FieldRegistry.Create) can
// build DDL strings without duplicating dialect logic.
func (p *Provider) Dialect() Dialect {
	return p.dialect
}

// run executes sql, recording both a trace span and a metric for op
// (tableID is used only to label the span; empty is fine for
// schema-level operations).
func (p *Provider) run(ctx context.Context, op, tableID, sql string) error {
	ctx, span := observability.StartSchemaSpan(ctx, op, tableID)
	start := time.Now()
	_, err := p.exec.Exec(ctx, sql)
	if p.metrics != nil {
		p.metrics.RecordDDLOperation(op, time.Since(start), err)
	}
	observability.EndSchemaSpan(span, err)
	return err
}

// CreateSchema creates the Postgres schema backing a Base's physical tables.
// Idempotent: CREATE SCHEMA IF NOT EXISTS.
func (p *Provider) CreateSchema(ctx context.Context, schemaName string) error {
	if err := p.run(ctx, "create_schema", "", p.dialect.CreateSchemaSQL(schemaName)); err != nil {
		return engineerr.DBError(fmt.Errorf("create schema %s: %w", schemaName, err))
	}
	return nil
}

// DropSchema drops a Base's entire physical schema namespace (cascades to
// every Table's physical table). Idempotent: DROP SCHEMA IF EXISTS.
func (p *Provider) DropSchema(ctx context.Context, schemaName string) error {
	if err := p.run(ctx, "drop_schema", "", p.dialect.DropSchemaSQL(schemaName)); err != nil {
		return engineerr.DBError(fmt.Errorf("drop schema %s: %w", schemaName, err))
	}
	return nil
}

// CreatePhysicalTable creates a Table's backing physical table with its
// system columns, no logical field columns yet.
func (p *Provider) CreatePhysicalTable(ctx context.Context, schemaName, tableName string) error {
	err := p.run(ctx, "create_physical_table", tableName, p.dialect.CreatePhysicalTableSQL(schemaName, tableName))
	if err != nil {
		if database.IsUniqueViolation(err) || isDuplicateTable(err) {
			return engineerr.Conflict(engineerr.CodeSchemaConflict, fmt.Sprintf("physical table %s.%s already exists", schemaName, tableName))
		}
		return engineerr.DBError(fmt.Errorf("create physical table %s.%s: %w", schemaName, tableName, err))
	}
	if p.cache != nil {
		p.cache.Invalidate(schemaName, tableName)
	}
	return nil
}

// DropPhysicalTable drops a Table's physical table. Idempotent (DROP TABLE
// IF EXISTS).
func (p *Provider) DropPhysicalTable(ctx context.Context, schemaName, tableName string) error {
	if err := p.run(ctx, "drop_physical_table", tableName, p.dialect.DropPhysicalTableSQL(schemaName, tableName)); err != nil {
		return engineerr.DBError(fmt.Errorf("drop physical table %s.%s: %w", schemaName, tableName, err))
	}
	if p.cache != nil {
		p.cache.Invalidate(schemaName, tableName)
	}
	return nil
}

// AddColumn adds a physical column for a logical field. Fails with a
// distinguished SchemaConflict if the column already exists (ADD is not
// idempotent).
func (p *Provider) AddColumn(ctx context.Context, schemaName, tableName string, col ColumnDef) error {
	err := p.run(ctx, "add_column", tableName, p.dialect.AddColumnSQL(schemaName, tableName, col))
	if err != nil {
		if isDuplicateColumn(err) {
			return engineerr.Conflict(engineerr.CodeSchemaConflict, fmt.Sprintf("column %s already exists on %s.%s", col.Name, schemaName, tableName))
		}
		return engineerr.DBError(fmt.Errorf("add column %s to %s.%s: %w", col.Name, schemaName, tableName, err))
	}
	if p.cache != nil {
		p.cache.Invalidate(schemaName, tableName)
	}
	return nil
}

// DropColumn drops a physical column. Idempotent (DROP COLUMN IF EXISTS).
func (p *Provider) DropColumn(ctx context.Context, schemaName, tableName, columnName string) error {
	if err := p.run(ctx, "drop_column", tableName, p.dialect.DropColumnSQL(schemaName, tableName, columnName)); err != nil {
		return engineerr.DBError(fmt.Errorf("drop column %s from %s.%s: %w", columnName, schemaName, tableName, err))
	}
	if p.cache != nil {
		p.cache.Invalidate(schemaName, tableName)
	}
	return nil
}

// AlterColumn changes a physical column's type, e.g. during a Field type
// change.
func (p *Provider) AlterColumn(ctx context.Context, schemaName, tableName, columnName, newType string) error {
	if err := p.run(ctx, "alter_column", tableName, p.dialect.AlterColumnTypeSQL(schemaName, tableName, columnName, newType)); err != nil {
		return engineerr.DBError(fmt.Errorf("alter column %s on %s.%s: %w", columnName, schemaName, tableName, err))
	}
	if p.cache != nil {
		p.cache.Invalidate(schemaName, tableName)
	}
	return nil
}

// AddUniqueConstraint adds a unique constraint, e.g. for a Field with
// Unique: true.
func (p *Provider) AddUniqueConstraint(ctx context.Context, schemaName, tableName, constraintName string, columns []string) error {
	if err := p.run(ctx, "add_unique_constraint", tableName, p.dialect.AddUniqueConstraintSQL(schemaName, tableName, constraintName, columns)); err != nil {
		return engineerr.DBError(fmt.Errorf("add unique constraint %s on %s.%s: %w", constraintName, schemaName, tableName, err))
	}
	return nil
}

// AddCheckConstraint adds a check constraint, e.g. for a number Field's
// min/max value options.
func (p *Provider) AddCheckConstraint(ctx context.Context, schemaName, tableName, constraintName, checkExpr string) error {
	if err := p.run(ctx, "add_check_constraint", tableName, p.dialect.AddCheckConstraintSQL(schemaName, tableName, constraintName, checkExpr)); err != nil {
		return engineerr.DBError(fmt.Errorf("add check constraint %s on %s.%s: %w", constraintName, schemaName, tableName, err))
	}
	return nil
}

// CreateJunctionTable creates the junction physical table backing a
// manyMany Link field.
func (p *Provider) CreateJunctionTable(ctx context.Context, schemaName, tableName, selfKeyColumn, foreignKeyColumn string) error {
	err := p.run(ctx, "create_junction_table", tableName, p.dialect.CreateJunctionTableSQL(schemaName, tableName, selfKeyColumn, foreignKeyColumn))
	if err != nil {
		if database.IsUniqueViolation(err) || isDuplicateTable(err) {
			return engineerr.Conflict(engineerr.CodeSchemaConflict, fmt.Sprintf("junction table %s.%s already exists", schemaName, tableName))
		}
		return engineerr.DBError(fmt.Errorf("create junction table %s.%s: %w", schemaName, tableName, err))
	}
	return nil
}

// WithTx runs fn within a privileged transaction, used by FieldRegistry to
// combine metadata persistence with physical DDL in a single SQL
// transaction: on failure the whole attempt — including any physical
// column already added — rolls back.
func (p *Provider) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return p.exec.ExecuteWithAdminRole(ctx, fn)
}

// pg error code 42P07 = duplicate_table, 42701 = duplicate_column.
func isDuplicateTable(err error) bool {
	return hasSQLState(err, "42P07")
}

func isDuplicateColumn(err error) bool {
	return hasSQLState(err, "42701")
}

func hasSQLState(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
