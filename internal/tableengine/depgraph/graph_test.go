package depgraph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/tableengine/internal/tableengine/types"
)

type fakeFieldStore struct {
	byTable map[string][]types.Field
}

func (f *fakeFieldStore) List(ctx context.Context, tableID string) ([]types.Field, error) {
	return f.byTable[tableID], nil
}

func mkField(id, tableID, name string, ft types.FieldType, optionsJSON string) types.Field {
	return types.Field{ID: id, TableID: tableID, Name: name, Type: ft, Options: []byte(optionsJSON)}
}

func TestGraph_Build_FormulaEdgesByNameAndID(t *testing.T) {
	fields := []types.Field{
		mkField("fld_a", "tbl_1", "A", types.FieldNumber, `{}`),
		mkField("fld_b", "tbl_1", "B", types.FieldNumber, `{}`),
		mkField("fld_c", "tbl_1", "Total", types.FieldFormula, `{"expression":"{A}+{fld_b}"}`),
	}
	store := &fakeFieldStore{byTable: map[string][]types.Field{"tbl_1": fields}}
	g := NewGraph(store, nil, time.Minute)

	edges, err := g.Build(context.Background(), "tbl_1")
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Contains(t, edges, types.DependencyEdge{FromFieldID: "fld_a", ToFieldID: "fld_c"})
	assert.Contains(t, edges, types.DependencyEdge{FromFieldID: "fld_b", ToFieldID: "fld_c"})
}

func TestGraph_Build_RollupLookupCountEdges(t *testing.T) {
	fields := []types.Field{
		mkField("fld_link", "tbl_1", "Orders", types.FieldLink, `{}`),
		mkField("fld_rollup", "tbl_1", "Total", types.FieldRollup, `{"linkFieldId":"fld_link"}`),
		mkField("fld_lookup", "tbl_1", "CustomerName", types.FieldLookup, `{"linkFieldId":"fld_link"}`),
		mkField("fld_count", "tbl_1", "OrderCount", types.FieldCount, `{"linkFieldId":"fld_link"}`),
	}
	store := &fakeFieldStore{byTable: map[string][]types.Field{"tbl_1": fields}}
	g := NewGraph(store, nil, time.Minute)

	edges, err := g.Build(context.Background(), "tbl_1")
	require.NoError(t, err)
	assert.Contains(t, edges, types.DependencyEdge{FromFieldID: "fld_link", ToFieldID: "fld_rollup"})
	assert.Contains(t, edges, types.DependencyEdge{FromFieldID: "fld_link", ToFieldID: "fld_lookup"})
	assert.Contains(t, edges, types.DependencyEdge{FromFieldID: "fld_link", ToFieldID: "fld_count"})
}

func TestGraph_Build_LinkEdgeFromForeignLookupField(t *testing.T) {
	// fld_name lives on the foreign table and is configured as the
	// lookup field of fld_link (on the current table): changes to
	// fld_name must trigger LinkTitleUpdater recomputation of fld_link.
	fields := []types.Field{
		mkField("fld_link", "tbl_1", "Customer", types.FieldLink, `{"lookupFieldId":"fld_name"}`),
	}
	store := &fakeFieldStore{byTable: map[string][]types.Field{"tbl_1": fields}}
	g := NewGraph(store, nil, time.Minute)

	edges, err := g.Build(context.Background(), "tbl_1")
	require.NoError(t, err)
	assert.Equal(t, []types.DependencyEdge{{FromFieldID: "fld_name", ToFieldID: "fld_link"}}, edges)
}

func TestGraph_Build_CachesAcrossCalls(t *testing.T) {
	fields := []types.Field{
		mkField("fld_a", "tbl_1", "A", types.FieldNumber, `{}`),
		mkField("fld_c", "tbl_1", "Total", types.FieldFormula, `{"expression":"{A}"}`),
	}
	store := &fakeFieldStore{byTable: map[string][]types.Field{"tbl_1": fields}}
	cache := NewMemoryCache()
	g := NewGraph(store, cache, time.Minute)
	ctx := context.Background()

	first, err := g.Build(ctx, "tbl_1")
	require.NoError(t, err)

	// Mutate the backing store directly; Build should still serve the
	// stale cached value until Invalidate is called.
	store.byTable["tbl_1"] = nil

	second, err := g.Build(ctx, "tbl_1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, g.Invalidate(ctx, "tbl_1"))
	third, err := g.Build(ctx, "tbl_1")
	require.NoError(t, err)
	assert.Empty(t, third)
}

func TestGraph_Dependents_ReverseBFS(t *testing.T) {
	fields := []types.Field{
		mkField("fld_a", "tbl_1", "A", types.FieldNumber, `{}`),
		mkField("fld_b", "tbl_1", "B", types.FieldFormula, `{"expression":"{A}"}`),
		mkField("fld_c", "tbl_1", "C", types.FieldFormula, `{"expression":"{B}"}`),
		mkField("fld_d", "tbl_1", "D", types.FieldFormula, `{"expression":"{A}"}`),
	}
	store := &fakeFieldStore{byTable: map[string][]types.Field{"tbl_1": fields}}
	g := NewGraph(store, nil, time.Minute)

	deps, err := g.Dependents(context.Background(), "tbl_1", "fld_a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"fld_b", "fld_c", "fld_d"}, deps)
}

func TestGraph_CheckCycle_DetectsMutuallyReferencingFormulas(t *testing.T) {
	fields := []types.Field{
		mkField("fld_a", "tbl_1", "A", types.FieldFormula, `{"expression":"{B}"}`),
		mkField("fld_b", "tbl_1", "B", types.FieldNumber, `{}`),
	}
	store := &fakeFieldStore{byTable: map[string][]types.Field{"tbl_1": fields}}
	g := NewGraph(store, nil, time.Minute)

	candidate := mkField("fld_b", "tbl_1", "B", types.FieldFormula, `{"expression":"{A}"}`)
	hasCycle, path, err := g.CheckCycle(context.Background(), "tbl_1", candidate)
	require.NoError(t, err)
	assert.True(t, hasCycle)
	assert.NotEmpty(t, path)
}

func TestGraph_CheckCycle_NoCycleForAcyclicChange(t *testing.T) {
	fields := []types.Field{
		mkField("fld_a", "tbl_1", "A", types.FieldNumber, `{}`),
		mkField("fld_b", "tbl_1", "B", types.FieldFormula, `{"expression":"{A}"}`),
	}
	store := &fakeFieldStore{byTable: map[string][]types.Field{"tbl_1": fields}}
	g := NewGraph(store, nil, time.Minute)

	candidate := mkField("fld_b", "tbl_1", "B", types.FieldFormula, `{"expression":"{A}+1"}`)
	hasCycle, path, err := g.CheckCycle(context.Background(), "tbl_1", candidate)
	require.NoError(t, err)
	assert.False(t, hasCycle)
	assert.Nil(t, path)
}

func TestDetectCycle_ThreeNodeCycle(t *testing.T) {
	edges := []types.DependencyEdge{
		{FromFieldID: "a", ToFieldID: "b"},
		{FromFieldID: "b", ToFieldID: "c"},
		{FromFieldID: "c", ToFieldID: "a"},
	}
	hasCycle, path := DetectCycle(edges)
	require.True(t, hasCycle)
	assert.GreaterOrEqual(t, len(path), 3)
}

func TestDetectCycle_DAGNoCycle(t *testing.T) {
	edges := []types.DependencyEdge{
		{FromFieldID: "a", ToFieldID: "b"},
		{FromFieldID: "a", ToFieldID: "c"},
		{FromFieldID: "b", ToFieldID: "d"},
		{FromFieldID: "c", ToFieldID: "d"},
	}
	hasCycle, path := DetectCycle(edges)
	assert.False(t, hasCycle)
	assert.Nil(t, path)
}

func TestExtractFieldRefs_DedupesAndTrims(t *testing.T) {
	refs := extractFieldRefs(`{ A } + {B} - {A}`)
	assert.Equal(t, []string{"A", "B"}, refs)
}

func TestMemoryCache_ExpiresAfterTTL(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), -time.Second))

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache_ExistsReflectsGet(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	ok, err := c.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	ok, err = c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}
