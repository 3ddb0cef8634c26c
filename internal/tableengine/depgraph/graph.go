// Package depgraph implements C4 DependencyGraph: derives, caches, and
// invalidates the field→field dependency edges within a table, answers
// "what depends on this field" for the write path, and checks whether a
// pending field change would introduce a cycle before it is persisted.
package depgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/tableengine/internal/tableengine/field"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/types"
)

const defaultTTL = 5 * time.Minute

// FieldStore is the subset of field.Registry the graph reads fields
// through. A narrow interface so depgraph never imports a concrete
// Registry, avoiding the import cycle field.CycleChecker would otherwise
// create (field depends on depgraph's check, depgraph reads through field).
type FieldStore interface {
	List(ctx context.Context, tableID string) ([]types.Field, error)
}

// Graph implements C4. Edges are derived on demand from a table's current
// fields and cached under an opaque key; callers invalidate a table's
// entry on any field create/update/delete.
type Graph struct {
	fields FieldStore
	cache  CacheRepository
	ttl    time.Duration
}

// NewGraph constructs a Graph. A nil cache falls back to an in-process
// MemoryCache; a zero/negative ttl falls back to defaultTTL.
func NewGraph(fields FieldStore, cache CacheRepository, ttl time.Duration) *Graph {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Graph{fields: fields, cache: cache, ttl: ttl}
}

func cacheKey(tableID string) string {
	return "depgraph:" + tableID
}

// Build returns the edge list for tableID, serving from cache when fresh
// and recomputing (then repopulating the cache) on a miss.
func (g *Graph) Build(ctx context.Context, tableID string) ([]types.DependencyEdge, error) {
	key := cacheKey(tableID)
	if raw, ok, err := g.cache.Get(ctx, key); err == nil && ok {
		if edges, err := decodeEdges(raw); err == nil {
			return edges, nil
		}
	}

	edges, err := g.deriveEdges(ctx, tableID)
	if err != nil {
		return nil, err
	}

	if raw, err := encodeEdges(edges); err != nil {
		log.Warn().Err(err).Str("table_id", tableID).Msg("failed to encode dependency graph for caching")
	} else if err := g.cache.Set(ctx, key, raw, g.ttl); err != nil {
		log.Warn().Err(err).Str("table_id", tableID).Msg("failed to cache dependency graph")
	}
	return edges, nil
}

// Invalidate drops tableID's cached edge list. Called on any field
// create/update/delete against the table.
func (g *Graph) Invalidate(ctx context.Context, tableID string) error {
	return g.cache.Delete(ctx, cacheKey(tableID))
}

// Dependents returns every fieldID reachable from fieldID by following
// dependency edges forward (fieldID changed → these must recompute),
// via reverse-BFS over the table's current edge list.
func (g *Graph) Dependents(ctx context.Context, tableID, fieldID string) ([]string, error) {
	edges, err := g.Build(ctx, tableID)
	if err != nil {
		return nil, err
	}
	adj := adjacency(edges)

	visited := map[string]bool{fieldID: true}
	queue := []string{fieldID}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if visited[next] {
				continue
			}
			visited[next] = true
			out = append(out, next)
			queue = append(queue, next)
		}
	}
	return out, nil
}

// CheckCycle builds the hypothetical edge list that would exist if
// candidate were saved as-is (replacing whatever edges it currently
// contributes) and reports whether that graph contains a cycle. *Graph
// satisfies field.CycleChecker directly; engine.New wires it into
// field.Registry.
func (g *Graph) CheckCycle(ctx context.Context, tableID string, candidate types.Field) (bool, []string, error) {
	fields, err := g.fields.List(ctx, tableID)
	if err != nil {
		return false, nil, err
	}
	byName := nameIndex(fields)
	byName[candidate.Name] = candidate.ID

	edges := make([]types.DependencyEdge, 0, len(fields))
	for _, f := range fields {
		if f.ID == candidate.ID {
			continue
		}
		fe, err := deriveFieldEdges(f, byName)
		if err != nil {
			return false, nil, err
		}
		edges = append(edges, fe...)
	}
	candEdges, err := deriveFieldEdges(candidate, byName)
	if err != nil {
		return false, nil, err
	}
	edges = append(edges, candEdges...)

	hasCycle, path := DetectCycle(edges)
	return hasCycle, path, nil
}

func (g *Graph) deriveEdges(ctx context.Context, tableID string) ([]types.DependencyEdge, error) {
	fields, err := g.fields.List(ctx, tableID)
	if err != nil {
		return nil, err
	}
	byName := nameIndex(fields)

	var edges []types.DependencyEdge
	for _, f := range fields {
		fe, err := deriveFieldEdges(f, byName)
		if err != nil {
			return nil, err
		}
		edges = append(edges, fe...)
	}
	return edges, nil
}

func nameIndex(fields []types.Field) map[string]string {
	idx := make(map[string]string, len(fields))
	for _, f := range fields {
		idx[f.Name] = f.ID
	}
	return idx
}

// deriveFieldEdges applies the four edge rules to a single field: formula
// references parsed out of its expression, rollup/lookup/count keyed off
// their configured link field, and link fields keyed off the foreign
// table's configured lookup field (the edge that triggers
// LinkTitleUpdater when the lookup field's value changes).
func deriveFieldEdges(f types.Field, byName map[string]string) ([]types.DependencyEdge, error) {
	switch f.Type {
	case types.FieldFormula:
		opts, err := field.UnmarshalOptions(f.Type, f.Options)
		if err != nil {
			return nil, err
		}
		fo, _ := opts.(field.FormulaOptions)
		var edges []types.DependencyEdge
		for _, ref := range extractFieldRefs(fo.Expression) {
			from := ref
			if id, ok := byName[ref]; ok {
				from = id
			}
			edges = append(edges, types.DependencyEdge{FromFieldID: from, ToFieldID: f.ID})
		}
		return edges, nil

	case types.FieldRollup:
		opts, err := field.UnmarshalOptions(f.Type, f.Options)
		if err != nil {
			return nil, err
		}
		ro, _ := opts.(field.RollupOptions)
		if ro.LinkFieldID == "" {
			return nil, nil
		}
		return []types.DependencyEdge{{FromFieldID: ro.LinkFieldID, ToFieldID: f.ID}}, nil

	case types.FieldLookup:
		opts, err := field.UnmarshalOptions(f.Type, f.Options)
		if err != nil {
			return nil, err
		}
		lo, _ := opts.(field.LookupOptions)
		if lo.LinkFieldID == "" {
			return nil, nil
		}
		return []types.DependencyEdge{{FromFieldID: lo.LinkFieldID, ToFieldID: f.ID}}, nil

	case types.FieldCount:
		opts, err := field.UnmarshalOptions(f.Type, f.Options)
		if err != nil {
			return nil, err
		}
		co, _ := opts.(field.CountOptions)
		if co.LinkFieldID == "" {
			return nil, nil
		}
		return []types.DependencyEdge{{FromFieldID: co.LinkFieldID, ToFieldID: f.ID}}, nil

	case types.FieldLink:
		opts, err := field.UnmarshalOptions(f.Type, f.Options)
		if err != nil {
			return nil, err
		}
		lo, _ := opts.(field.LinkFieldOptions)
		if lo.LookupFieldID == "" {
			return nil, nil
		}
		return []types.DependencyEdge{{FromFieldID: lo.LookupFieldID, ToFieldID: f.ID}}, nil

	default:
		return nil, nil
	}
}

var fieldRefPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// extractFieldRefs pulls every {fieldName|fieldId} reference out of a
// formula expression, deduplicated and in first-seen order.
func extractFieldRefs(expr string) []string {
	matches := fieldRefPattern.FindAllStringSubmatch(expr, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		ref := strings.TrimSpace(m[1])
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, ref)
	}
	return out
}

func adjacency(edges []types.DependencyEdge) map[string][]string {
	adj := make(map[string][]string)
	for _, e := range edges {
		adj[e.FromFieldID] = append(adj[e.FromFieldID], e.ToFieldID)
	}
	return adj
}

type dfsFrame struct {
	node    string
	edgeIdx int
}

// DetectCycle walks edges with an explicit-stack DFS (no recursion, no
// full Tarjan SCC — the write path only needs "does this edge set
// contain a cycle reachable from some node", not component enumeration)
// and returns the first cycle found as a closed path, outer node first.
func DetectCycle(edges []types.DependencyEdge) (bool, []string) {
	adj := adjacency(edges)

	nodeSet := make(map[string]bool)
	for _, e := range edges {
		nodeSet[e.FromFieldID] = true
		nodeSet[e.ToFieldID] = true
	}
	nodes := make([]string, 0, len(nodeSet))
	for n := range nodeSet {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))

	for _, start := range nodes {
		if color[start] != white {
			continue
		}
		stack := []dfsFrame{{node: start}}
		color[start] = gray
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			neighbors := adj[top.node]
			if top.edgeIdx >= len(neighbors) {
				color[top.node] = black
				stack = stack[:len(stack)-1]
				continue
			}
			next := neighbors[top.edgeIdx]
			top.edgeIdx++

			switch color[next] {
			case white:
				color[next] = gray
				stack = append(stack, dfsFrame{node: next})
			case gray:
				path := make([]string, 0, len(stack)+1)
				started := false
				for _, fr := range stack {
					if fr.node == next {
						started = true
					}
					if started {
						path = append(path, fr.node)
					}
				}
				path = append(path, next)
				return true, path
			}
		}
	}
	return false, nil
}

func encodeEdges(edges []types.DependencyEdge) ([]byte, error) {
	return json.Marshal(edges)
}

func decodeEdges(raw []byte) ([]types.DependencyEdge, error) {
	var edges []types.DependencyEdge
	if err := json.Unmarshal(raw, &edges); err != nil {
		return nil, fmt.Errorf("depgraph: decode cached edges: %w", err)
	}
	return edges, nil
}
