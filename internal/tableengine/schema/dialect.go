// Package schema implements C1 SchemaProvider: mapping logical field types
// to physical column DDL, and the side-effecting DDL operations that create,
// alter, and drop the physical tables/columns/constraints backing a Table.
package schema

import "github.com/fluxbase-eu/tableengine/internal/tableengine/types"

// ColumnDef describes a physical column to add or alter.
type ColumnDef struct {
	Name         string
	Type         string
	Default      string // raw SQL default expression, empty if none
	NotNull      bool
	CheckExpr    string // raw SQL CHECK expression, empty if none
}

// ColumnType is the result of mapping a logical field type to a physical
// column definition.
type ColumnType struct {
	SQLType string
	Default string
	Check   string
}

// Dialect abstracts the SQL dialect SchemaProvider targets. One dialect
// (Postgres) is fully implemented; the interface is shaped so a second
// dialect can be added without touching SchemaProvider's call sites.
type Dialect interface {
	// QuoteIdentifier quotes a column/table/schema identifier for safe
	// interpolation into DDL.
	QuoteIdentifier(identifier string) string

	// MapFieldType maps a logical field type + its options to a physical
	// column type, default, and optional CHECK expression.
	MapFieldType(fieldType types.FieldType, options []byte) (ColumnType, error)

	// CreateSchemaSQL returns the DDL to create a schema (Base namespace).
	CreateSchemaSQL(schemaName string) string

	// DropSchemaSQL returns the DDL to drop a schema and everything in it.
	DropSchemaSQL(schemaName string) string

	// CreatePhysicalTableSQL returns the DDL to create a physical table
	// with the system columns and no logical field columns yet.
	CreatePhysicalTableSQL(schemaName, tableName string) string

	// DropPhysicalTableSQL returns idempotent (IF EXISTS) DDL to drop a
	// physical table.
	DropPhysicalTableSQL(schemaName, tableName string) string

	// AddColumnSQL returns the DDL to add a column. Callers must check
	// column existence first (or handle the resulting SchemaConflict) since
	// ADD of an existing column is not idempotent.
	AddColumnSQL(schemaName, tableName string, col ColumnDef) string

	// DropColumnSQL returns idempotent (IF EXISTS) DDL to drop a column.
	DropColumnSQL(schemaName, tableName, columnName string) string

	// AlterColumnTypeSQL returns the DDL to change a column's type.
	AlterColumnTypeSQL(schemaName, tableName, columnName, newType string) string

	// AddUniqueConstraintSQL returns the DDL to add a unique constraint.
	AddUniqueConstraintSQL(schemaName, tableName, constraintName string, columns []string) string

	// AddCheckConstraintSQL returns the DDL to add a check constraint.
	AddCheckConstraintSQL(schemaName, tableName, constraintName, checkExpr string) string

	// CreateJunctionTableSQL returns the DDL to create a manyMany junction
	// table with __id, selfKeyColumn, foreignKeyColumn.
	CreateJunctionTableSQL(schemaName, tableName, selfKeyColumn, foreignKeyColumn string) string
}
