// Package query provides the filter/sort vocabulary shared by RecordStore's
// list operation and any external query layer built on top of it.
package query

// FilterOperator represents comparison operators usable in a Filter.
type FilterOperator string

const (
	OpEqual          FilterOperator = "eq"
	OpNotEqual       FilterOperator = "neq"
	OpGreaterThan    FilterOperator = "gt"
	OpGreaterOrEqual FilterOperator = "gte"
	OpLessThan       FilterOperator = "lt"
	OpLessOrEqual    FilterOperator = "lte"
	OpLike           FilterOperator = "like"
	OpILike          FilterOperator = "ilike"
	OpIn             FilterOperator = "in"
	OpNotIn          FilterOperator = "nin"
	OpIs             FilterOperator = "is"
	OpIsNot          FilterOperator = "isnot"
	OpContains       FilterOperator = "cs" // contains (array/jsonb) @>
	OpContained      FilterOperator = "cd" // contained by (array/jsonb) <@
	OpOverlap        FilterOperator = "ov" // overlap (array) &&
	OpTextSearch     FilterOperator = "fts"
	OpNot            FilterOperator = "not" // negation
)

// Filter represents a WHERE condition over a physical column.
type Filter struct {
	Column    string
	Operator  FilterOperator
	Value     interface{}
	IsOr      bool // OR instead of AND
	OrGroupID int  // Groups OR filters together (filters with same non-zero ID are ORed)
}

// OrderBy represents an ORDER BY clause.
type OrderBy struct {
	Column     string
	Desc       bool
	Nulls      string // "first" or "last"
	NullsFirst bool   // Deprecated: use Nulls instead
}
