package schema

import (
	"testing"

	"github.com/fluxbase-eu/tableengine/internal/tableengine/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresDialect_MapFieldType(t *testing.T) {
	d := NewPostgresDialect()

	tests := []struct {
		name    string
		field   types.FieldType
		want    string
		wantErr bool
	}{
		{"shortText", types.FieldShortText, "TEXT", false},
		{"longText", types.FieldLongText, "TEXT", false},
		{"email", types.FieldEmail, "TEXT", false},
		{"phone", types.FieldPhone, "TEXT", false},
		{"url", types.FieldURL, "TEXT", false},
		{"button", types.FieldButton, "TEXT", false},
		{"number", types.FieldNumber, "NUMERIC", false},
		{"rating", types.FieldRating, "NUMERIC", false},
		{"duration", types.FieldDuration, "NUMERIC", false},
		{"checkbox", types.FieldCheckbox, "BOOLEAN", false},
		{"date", types.FieldDate, "TIMESTAMPTZ", false},
		{"dateTime", types.FieldDateTime, "TIMESTAMPTZ", false},
		{"singleSelect", types.FieldSingleSelect, "TEXT", false},
		{"multiSelect", types.FieldMultiSelect, "JSONB", false},
		{"link", types.FieldLink, "JSONB", false},
		{"attachment", types.FieldAttachment, "JSONB", false},
		{"user", types.FieldUser, "JSONB", false},
		{"formula", types.FieldFormula, "JSONB", false},
		{"rollup", types.FieldRollup, "JSONB", false},
		{"lookup", types.FieldLookup, "JSONB", false},
		{"count", types.FieldCount, "JSONB", false},
		{"ai", types.FieldAI, "JSONB", false},
		{"unknown", types.FieldType("bogus"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, err := d.MapFieldType(tt.field, nil)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ct.SQLType)
		})
	}
}

func TestPostgresDialect_MapFieldType_CheckboxDefault(t *testing.T) {
	d := NewPostgresDialect()
	ct, err := d.MapFieldType(types.FieldCheckbox, nil)
	require.NoError(t, err)
	assert.Equal(t, "FALSE", ct.Default)
}

func TestPostgresDialect_QuoteIdentifier(t *testing.T) {
	d := NewPostgresDialect()
	assert.Equal(t, `"foo"`, d.QuoteIdentifier("foo"))
	assert.Equal(t, `"fo""o"`, d.QuoteIdentifier(`fo"o`))
}

func TestPostgresDialect_CreateSchemaSQL(t *testing.T) {
	d := NewPostgresDialect()
	assert.Equal(t, `CREATE SCHEMA IF NOT EXISTS "base_xyz"`, d.CreateSchemaSQL("base_xyz"))
}

func TestPostgresDialect_DropSchemaSQL(t *testing.T) {
	d := NewPostgresDialect()
	assert.Equal(t, `DROP SCHEMA IF EXISTS "base_xyz" CASCADE`, d.DropSchemaSQL("base_xyz"))
}

func TestPostgresDialect_CreatePhysicalTableSQL(t *testing.T) {
	d := NewPostgresDialect()
	sql := d.CreatePhysicalTableSQL("base_xyz", "tbl_abc")
	assert.Contains(t, sql, `CREATE TABLE "base_xyz"."tbl_abc"`)
	assert.Contains(t, sql, `"__id" TEXT PRIMARY KEY`)
	assert.Contains(t, sql, `"__version" BIGINT NOT NULL DEFAULT 1`)
	assert.Contains(t, sql, `"__created_time" TIMESTAMPTZ NOT NULL DEFAULT now()`)
	assert.Contains(t, sql, `"__last_modified_time" TIMESTAMPTZ NOT NULL DEFAULT now()`)
	assert.Contains(t, sql, `"__created_by" TEXT`)
	assert.Contains(t, sql, `"__last_modified_by" TEXT`)
}

func TestPostgresDialect_DropPhysicalTableSQL(t *testing.T) {
	d := NewPostgresDialect()
	assert.Equal(t, `DROP TABLE IF EXISTS "base_xyz"."tbl_abc"`, d.DropPhysicalTableSQL("base_xyz", "tbl_abc"))
}

func TestPostgresDialect_AddColumnSQL(t *testing.T) {
	d := NewPostgresDialect()

	t.Run("bare", func(t *testing.T) {
		sql := d.AddColumnSQL("base_xyz", "tbl_abc", ColumnDef{Name: "fld_1", Type: "TEXT"})
		assert.Equal(t, `ALTER TABLE "base_xyz"."tbl_abc" ADD COLUMN "fld_1" TEXT`, sql)
	})

	t.Run("with default, not null, and check", func(t *testing.T) {
		sql := d.AddColumnSQL("base_xyz", "tbl_abc", ColumnDef{
			Name:      "fld_2",
			Type:      "NUMERIC",
			Default:   "0",
			NotNull:   true,
			CheckExpr: `"fld_2" >= 0`,
		})
		assert.Equal(t, `ALTER TABLE "base_xyz"."tbl_abc" ADD COLUMN "fld_2" NUMERIC DEFAULT 0 NOT NULL CHECK ("fld_2" >= 0)`, sql)
	})
}

func TestPostgresDialect_DropColumnSQL(t *testing.T) {
	d := NewPostgresDialect()
	assert.Equal(t, `ALTER TABLE "base_xyz"."tbl_abc" DROP COLUMN IF EXISTS "fld_1"`, d.DropColumnSQL("base_xyz", "tbl_abc", "fld_1"))
}

func TestPostgresDialect_AlterColumnTypeSQL(t *testing.T) {
	d := NewPostgresDialect()
	sql := d.AlterColumnTypeSQL("base_xyz", "tbl_abc", "fld_1", "NUMERIC")
	assert.Equal(t, `ALTER TABLE "base_xyz"."tbl_abc" ALTER COLUMN "fld_1" TYPE NUMERIC USING "fld_1"::NUMERIC`, sql)
}

func TestPostgresDialect_AddUniqueConstraintSQL(t *testing.T) {
	d := NewPostgresDialect()
	sql := d.AddUniqueConstraintSQL("base_xyz", "tbl_abc", "uq_fld_1", []string{"fld_1"})
	assert.Equal(t, `ALTER TABLE "base_xyz"."tbl_abc" ADD CONSTRAINT "uq_fld_1" UNIQUE ("fld_1")`, sql)
}

func TestPostgresDialect_AddCheckConstraintSQL(t *testing.T) {
	d := NewPostgresDialect()
	sql := d.AddCheckConstraintSQL("base_xyz", "tbl_abc", "chk_fld_1", `"fld_1" > 0`)
	assert.Equal(t, `ALTER TABLE "base_xyz"."tbl_abc" ADD CONSTRAINT "chk_fld_1" CHECK ("fld_1" > 0)`, sql)
}

func TestPostgresDialect_CreateJunctionTableSQL(t *testing.T) {
	d := NewPostgresDialect()
	sql := d.CreateJunctionTableSQL("base_xyz", "jnc_abc", "self_id", "foreign_id")
	assert.Contains(t, sql, `CREATE TABLE "base_xyz"."jnc_abc"`)
	assert.Contains(t, sql, `"__id" TEXT PRIMARY KEY`)
	assert.Contains(t, sql, `"self_id" TEXT NOT NULL`)
	assert.Contains(t, sql, `"foreign_id" TEXT NOT NULL`)
}
