package schema

import (
	"fmt"
	"strings"

	"github.com/fluxbase-eu/tableengine/internal/database"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/types"
)

// PostgresDialect is the engine's fully supported SQL dialect.
type PostgresDialect struct{}

// NewPostgresDialect constructs the Postgres dialect.
func NewPostgresDialect() *PostgresDialect {
	return &PostgresDialect{}
}

func (PostgresDialect) QuoteIdentifier(identifier string) string {
	return database.QuoteIdentifier(identifier)
}

func (d PostgresDialect) MapFieldType(fieldType types.FieldType, _ []byte) (ColumnType, error) {
	switch fieldType {
	case types.FieldShortText, types.FieldLongText, types.FieldEmail, types.FieldPhone, types.FieldURL, types.FieldButton:
		return ColumnType{SQLType: "TEXT"}, nil
	case types.FieldNumber, types.FieldRating, types.FieldDuration:
		return ColumnType{SQLType: "NUMERIC"}, nil
	case types.FieldCheckbox:
		return ColumnType{SQLType: "BOOLEAN", Default: "FALSE"}, nil
	case types.FieldDate, types.FieldDateTime:
		return ColumnType{SQLType: "TIMESTAMPTZ"}, nil
	case types.FieldSingleSelect:
		return ColumnType{SQLType: "TEXT"}, nil
	case types.FieldMultiSelect, types.FieldLink, types.FieldAttachment, types.FieldUser,
		types.FieldFormula, types.FieldRollup, types.FieldLookup, types.FieldCount, types.FieldAI:
		// JSONB for everything shape-polymorphic: Link cells ({id,title} or
		// an array thereof), multi-value selections, attachment tuples, and
		// computed fields whose result shape depends on the referenced field
		// (formula/rollup/lookup/count/ai).
		return ColumnType{SQLType: "JSONB"}, nil
	default:
		return ColumnType{}, fmt.Errorf("schema: no physical column mapping for field type %q", fieldType)
	}
}

func (d PostgresDialect) CreateSchemaSQL(schemaName string) string {
	return fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", d.QuoteIdentifier(schemaName))
}

func (d PostgresDialect) DropSchemaSQL(schemaName string) string {
	return fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", d.QuoteIdentifier(schemaName))
}

func (d PostgresDialect) CreatePhysicalTableSQL(schemaName, tableName string) string {
	q := d.QuoteIdentifier
	return fmt.Sprintf(`CREATE TABLE %s.%s (
	%s TEXT PRIMARY KEY,
	%s BIGINT NOT NULL DEFAULT 1,
	%s TIMESTAMPTZ NOT NULL DEFAULT now(),
	%s TIMESTAMPTZ NOT NULL DEFAULT now(),
	%s TEXT,
	%s TEXT
)`,
		q(schemaName), q(tableName),
		q(types.ColID),
		q(types.ColVersion),
		q(types.ColCreatedTime),
		q(types.ColLastModifiedTime),
		q(types.ColCreatedBy),
		q(types.ColLastModifiedBy),
	)
}

func (d PostgresDialect) DropPhysicalTableSQL(schemaName, tableName string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s.%s", d.QuoteIdentifier(schemaName), d.QuoteIdentifier(tableName))
}

func (d PostgresDialect) AddColumnSQL(schemaName, tableName string, col ColumnDef) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ALTER TABLE %s.%s ADD COLUMN %s %s",
		d.QuoteIdentifier(schemaName), d.QuoteIdentifier(tableName), d.QuoteIdentifier(col.Name), col.Type)
	if col.Default != "" {
		fmt.Fprintf(&b, " DEFAULT %s", col.Default)
	}
	if col.NotNull {
		b.WriteString(" NOT NULL")
	}
	if col.CheckExpr != "" {
		fmt.Fprintf(&b, " CHECK (%s)", col.CheckExpr)
	}
	return b.String()
}

func (d PostgresDialect) DropColumnSQL(schemaName, tableName, columnName string) string {
	return fmt.Sprintf("ALTER TABLE %s.%s DROP COLUMN IF EXISTS %s",
		d.QuoteIdentifier(schemaName), d.QuoteIdentifier(tableName), d.QuoteIdentifier(columnName))
}

func (d PostgresDialect) AlterColumnTypeSQL(schemaName, tableName, columnName, newType string) string {
	return fmt.Sprintf("ALTER TABLE %s.%s ALTER COLUMN %s TYPE %s USING %s::%s",
		d.QuoteIdentifier(schemaName), d.QuoteIdentifier(tableName), d.QuoteIdentifier(columnName),
		newType, d.QuoteIdentifier(columnName), newType)
}

func (d PostgresDialect) AddUniqueConstraintSQL(schemaName, tableName, constraintName string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.QuoteIdentifier(c)
	}
	return fmt.Sprintf("ALTER TABLE %s.%s ADD CONSTRAINT %s UNIQUE (%s)",
		d.QuoteIdentifier(schemaName), d.QuoteIdentifier(tableName), d.QuoteIdentifier(constraintName),
		strings.Join(quoted, ", "))
}

func (d PostgresDialect) AddCheckConstraintSQL(schemaName, tableName, constraintName, checkExpr string) string {
	return fmt.Sprintf("ALTER TABLE %s.%s ADD CONSTRAINT %s CHECK (%s)",
		d.QuoteIdentifier(schemaName), d.QuoteIdentifier(tableName), d.QuoteIdentifier(constraintName), checkExpr)
}

func (d PostgresDialect) CreateJunctionTableSQL(schemaName, tableName, selfKeyColumn, foreignKeyColumn string) string {
	q := d.QuoteIdentifier
	return fmt.Sprintf(`CREATE TABLE %s.%s (
	%s TEXT PRIMARY KEY,
	%s TEXT NOT NULL,
	%s TEXT NOT NULL
)`,
		q(schemaName), q(tableName),
		q(types.ColID), q(selfKeyColumn), q(foreignKeyColumn),
	)
}
