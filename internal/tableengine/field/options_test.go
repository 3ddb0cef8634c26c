package field

import (
	"testing"

	"github.com/fluxbase-eu/tableengine/internal/tableengine/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalOptions_AllTypes(t *testing.T) {
	tests := []struct {
		name      string
		fieldType types.FieldType
		raw       string
		check     func(t *testing.T, opts Options)
	}{
		{"shortText", types.FieldShortText, `{}`, func(t *testing.T, opts Options) {
			_, ok := opts.(TextOptions)
			assert.True(t, ok)
		}},
		{"number", types.FieldNumber, `{"precision":2}`, func(t *testing.T, opts Options) {
			no, ok := opts.(NumberOptions)
			require.True(t, ok)
			assert.Equal(t, 2, no.Precision)
		}},
		{"singleSelect", types.FieldSingleSelect, `{"choices":[{"id":"c1","label":"A"}]}`, func(t *testing.T, opts Options) {
			so, ok := opts.(SingleSelectOptions)
			require.True(t, ok)
			require.Len(t, so.Choices, 1)
			assert.Equal(t, "A", so.Choices[0].Label)
		}},
		{"link", types.FieldLink, `{"foreignTableId":"tbl_x","relationship":"manyOne"}`, func(t *testing.T, opts Options) {
			lo, ok := opts.(LinkFieldOptions)
			require.True(t, ok)
			assert.Equal(t, "tbl_x", lo.ForeignTableID)
			assert.Equal(t, types.RelManyOne, lo.Relationship)
		}},
		{"formula", types.FieldFormula, `{"expression":"{a}+{b}"}`, func(t *testing.T, opts Options) {
			fo, ok := opts.(FormulaOptions)
			require.True(t, ok)
			assert.Equal(t, "{a}+{b}", fo.Expression)
		}},
		{"rollup", types.FieldRollup, `{"linkFieldId":"fld_1","rollupFieldId":"fld_2","aggregationFunction":"sum"}`, func(t *testing.T, opts Options) {
			ro, ok := opts.(RollupOptions)
			require.True(t, ok)
			assert.Equal(t, "fld_1", ro.LinkFieldID)
			assert.Equal(t, "fld_2", ro.FieldID)
			assert.Equal(t, "sum", ro.Aggregation)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := UnmarshalOptions(tt.fieldType, []byte(tt.raw))
			require.NoError(t, err)
			tt.check(t, opts)
		})
	}
}

func TestUnmarshalOptions_EmptyRaw(t *testing.T) {
	opts, err := UnmarshalOptions(types.FieldNumber, nil)
	require.NoError(t, err)
	assert.Equal(t, NumberOptions{}, opts)
}

func TestUnmarshalOptions_UnknownType(t *testing.T) {
	_, err := UnmarshalOptions(types.FieldType("bogus"), nil)
	require.Error(t, err)
}

func TestMarshalOptions_RoundTrip(t *testing.T) {
	opts := NumberOptions{Precision: 3}
	raw, err := MarshalOptions(opts)
	require.NoError(t, err)

	back, err := UnmarshalOptions(types.FieldNumber, raw)
	require.NoError(t, err)
	assert.Equal(t, opts, back)
}

func TestMarshalOptions_Nil(t *testing.T) {
	raw, err := MarshalOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(raw))
}
