package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterOperator_BasicOperators(t *testing.T) {
	t.Run("comparison operators have expected values", func(t *testing.T) {
		assert.Equal(t, FilterOperator("eq"), OpEqual)
		assert.Equal(t, FilterOperator("neq"), OpNotEqual)
		assert.Equal(t, FilterOperator("gt"), OpGreaterThan)
		assert.Equal(t, FilterOperator("gte"), OpGreaterOrEqual)
		assert.Equal(t, FilterOperator("lt"), OpLessThan)
		assert.Equal(t, FilterOperator("lte"), OpLessOrEqual)
	})

	t.Run("text matching operators have expected values", func(t *testing.T) {
		assert.Equal(t, FilterOperator("like"), OpLike)
		assert.Equal(t, FilterOperator("ilike"), OpILike)
	})

	t.Run("set operators have expected values", func(t *testing.T) {
		assert.Equal(t, FilterOperator("in"), OpIn)
		assert.Equal(t, FilterOperator("nin"), OpNotIn)
	})

	t.Run("null operators have expected values", func(t *testing.T) {
		assert.Equal(t, FilterOperator("is"), OpIs)
		assert.Equal(t, FilterOperator("isnot"), OpIsNot)
	})
}

func TestFilterOperator_ArrayJsonOperators(t *testing.T) {
	t.Run("array/jsonb operators have expected values", func(t *testing.T) {
		assert.Equal(t, FilterOperator("cs"), OpContains)
		assert.Equal(t, FilterOperator("cd"), OpContained)
		assert.Equal(t, FilterOperator("ov"), OpOverlap)
	})
}

func TestFilterOperator_TextSearchOperators(t *testing.T) {
	t.Run("full text search operator has expected value", func(t *testing.T) {
		assert.Equal(t, FilterOperator("fts"), OpTextSearch)
	})
}

func TestFilterOperator_Negation(t *testing.T) {
	assert.Equal(t, FilterOperator("not"), OpNot)
}

func TestFilterOperator_Distinctness(t *testing.T) {
	t.Run("all operators are distinct", func(t *testing.T) {
		operators := []FilterOperator{
			OpEqual, OpNotEqual, OpGreaterThan, OpGreaterOrEqual,
			OpLessThan, OpLessOrEqual, OpLike, OpILike, OpIn, OpNotIn,
			OpIs, OpIsNot, OpContains, OpContained, OpOverlap,
			OpTextSearch, OpNot,
		}

		seen := make(map[FilterOperator]bool)
		for _, op := range operators {
			assert.False(t, seen[op], "Unexpected duplicate operator: %s", op)
			seen[op] = true
		}
	})
}

func TestFilterOperator_StringConversion(t *testing.T) {
	t.Run("can convert to string", func(t *testing.T) {
		assert.Equal(t, "eq", string(OpEqual))
		assert.Equal(t, "neq", string(OpNotEqual))
	})

	t.Run("can create from string", func(t *testing.T) {
		op := FilterOperator("eq")
		assert.Equal(t, OpEqual, op)
	})
}

// =============================================================================
// Filter Struct Tests
// =============================================================================

func TestFilter_Struct(t *testing.T) {
	t.Run("all fields accessible", func(t *testing.T) {
		filter := Filter{
			Column:    "age",
			Operator:  OpGreaterThan,
			Value:     21,
			IsOr:      true,
			OrGroupID: 1,
		}

		assert.Equal(t, "age", filter.Column)
		assert.Equal(t, OpGreaterThan, filter.Operator)
		assert.Equal(t, 21, filter.Value)
		assert.True(t, filter.IsOr)
		assert.Equal(t, 1, filter.OrGroupID)
	})

	t.Run("zero value filter", func(t *testing.T) {
		var filter Filter

		assert.Empty(t, filter.Column)
		assert.Empty(t, filter.Operator)
		assert.Nil(t, filter.Value)
		assert.False(t, filter.IsOr)
		assert.Equal(t, 0, filter.OrGroupID)
	})

	t.Run("filter with nil value", func(t *testing.T) {
		filter := Filter{
			Column:   "deleted_at",
			Operator: OpIs,
			Value:    nil,
		}

		assert.Equal(t, "deleted_at", filter.Column)
		assert.Equal(t, OpIs, filter.Operator)
		assert.Nil(t, filter.Value)
	})

	t.Run("filter with slice value", func(t *testing.T) {
		filter := Filter{
			Column:   "status",
			Operator: OpIn,
			Value:    []string{"active", "pending"},
		}

		assert.Equal(t, "status", filter.Column)
		assert.Equal(t, OpIn, filter.Operator)
		values, ok := filter.Value.([]string)
		assert.True(t, ok)
		assert.Equal(t, []string{"active", "pending"}, values)
	})

	t.Run("filter with OR grouping", func(t *testing.T) {
		filter1 := Filter{
			Column:    "status",
			Operator:  OpEqual,
			Value:     "active",
			IsOr:      true,
			OrGroupID: 1,
		}
		filter2 := Filter{
			Column:    "status",
			Operator:  OpEqual,
			Value:     "pending",
			IsOr:      true,
			OrGroupID: 1,
		}

		assert.Equal(t, filter1.OrGroupID, filter2.OrGroupID)
		assert.True(t, filter1.IsOr)
		assert.True(t, filter2.IsOr)
	})
}

func TestFilter_DifferentValueTypes(t *testing.T) {
	tests := []struct {
		name     string
		value    interface{}
		expected interface{}
	}{
		{"string value", "test", "test"},
		{"int value", 42, 42},
		{"float value", 3.14, 3.14},
		{"bool value", true, true},
		{"nil value", nil, nil},
		{"slice of strings", []string{"a", "b"}, []string{"a", "b"}},
		{"slice of ints", []int{1, 2, 3}, []int{1, 2, 3}},
		{"map value", map[string]interface{}{"key": "value"}, map[string]interface{}{"key": "value"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			filter := Filter{
				Column:   "column",
				Operator: OpEqual,
				Value:    tc.value,
			}

			assert.Equal(t, tc.expected, filter.Value)
		})
	}
}

// =============================================================================
// OrderBy Struct Tests
// =============================================================================

func TestOrderBy_Struct(t *testing.T) {
	t.Run("all fields accessible", func(t *testing.T) {
		orderBy := OrderBy{
			Column:     "created_at",
			Desc:       true,
			Nulls:      "last",
			NullsFirst: false,
		}

		assert.Equal(t, "created_at", orderBy.Column)
		assert.True(t, orderBy.Desc)
		assert.Equal(t, "last", orderBy.Nulls)
	})

	t.Run("zero value orderBy", func(t *testing.T) {
		var orderBy OrderBy

		assert.Empty(t, orderBy.Column)
		assert.False(t, orderBy.Desc)
		assert.Empty(t, orderBy.Nulls)
		assert.False(t, orderBy.NullsFirst)
	})

	t.Run("ascending order with nulls first", func(t *testing.T) {
		orderBy := OrderBy{
			Column:     "priority",
			Desc:       false,
			Nulls:      "first",
			NullsFirst: true,
		}

		assert.False(t, orderBy.Desc)
		assert.Equal(t, "first", orderBy.Nulls)
	})

	t.Run("descending order with nulls last", func(t *testing.T) {
		orderBy := OrderBy{
			Column: "updated_at",
			Desc:   true,
			Nulls:  "last",
		}

		assert.True(t, orderBy.Desc)
		assert.Equal(t, "last", orderBy.Nulls)
	})
}

// =============================================================================
// Benchmarks
// =============================================================================

func BenchmarkFilterCreation(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = Filter{
			Column:   "name",
			Operator: OpEqual,
			Value:    "test",
		}
	}
}

func BenchmarkOrderByCreation(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = OrderBy{
			Column: "created_at",
			Desc:   true,
			Nulls:  "last",
		}
	}
}

func BenchmarkFilterWithSliceValue(b *testing.B) {
	values := []string{"active", "pending", "completed"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Filter{
			Column:   "status",
			Operator: OpIn,
			Value:    values,
		}
	}
}

// =============================================================================
// Edge Cases
// =============================================================================

func TestFilter_EdgeCases(t *testing.T) {
	t.Run("empty column name", func(t *testing.T) {
		filter := Filter{
			Column:   "",
			Operator: OpEqual,
			Value:    "test",
		}

		assert.Empty(t, filter.Column)
	})

	t.Run("empty operator", func(t *testing.T) {
		filter := Filter{
			Column:   "name",
			Operator: "",
			Value:    "test",
		}

		assert.Empty(t, filter.Operator)
	})

	t.Run("custom operator string", func(t *testing.T) {
		customOp := FilterOperator("custom_op")
		filter := Filter{
			Column:   "field",
			Operator: customOp,
			Value:    "value",
		}

		assert.Equal(t, FilterOperator("custom_op"), filter.Operator)
	})
}

func TestOrderBy_EdgeCases(t *testing.T) {
	t.Run("empty column name", func(t *testing.T) {
		orderBy := OrderBy{
			Column: "",
			Desc:   true,
		}

		assert.Empty(t, orderBy.Column)
	})

	t.Run("invalid nulls value", func(t *testing.T) {
		orderBy := OrderBy{
			Column: "name",
			Nulls:  "invalid",
		}

		assert.Equal(t, "invalid", orderBy.Nulls)
	})

	t.Run("deprecated NullsFirst field", func(t *testing.T) {
		orderBy := OrderBy{
			Column:     "priority",
			NullsFirst: true,
			Nulls:      "",
		}

		assert.True(t, orderBy.NullsFirst)
		assert.Empty(t, orderBy.Nulls)
	})
}
