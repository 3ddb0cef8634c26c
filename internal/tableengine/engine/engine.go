// Package engine wires C1-C7 together into the write pipeline: HTTP layer
// (external, out of scope) -> RecordStore.Update ->
// SchemaProvider type resolution -> physical UPDATE -> DependencyGraph
// lookup of dependents -> recompute -> LinkTitleUpdater fan-out ->
// OTChannel publish.
package engine

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/tableengine/internal/config"
	"github.com/fluxbase-eu/tableengine/internal/database"
	"github.com/fluxbase-eu/tableengine/internal/observability"
	"github.com/fluxbase-eu/tableengine/internal/pubsub"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/depgraph"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/field"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/link"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/linktitle"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/ot"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/record"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/schema"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/types"
)

// Recomputer evaluates one computed field's new value for a record.
// "formula"'s expression grammar is only loosely specified (free-form
// "{fieldName|fieldId}" references); no concrete expression parser is
// available, so Engine owns *when*
// to recompute (DependencyGraph.Dependents, in breadth-first order)
// and persists the result through RecordStore, while *how* a
// formula/rollup/lookup/count evaluates is supplied by the caller. A nil
// Recomputer makes recompute a no-op: the write pipeline still runs
// LinkTitleUpdater and OTChannel for the fields that did change.
type Recomputer interface {
	Recompute(ctx context.Context, table types.Table, f types.Field, recordID string, sourceData map[string]interface{}) (interface{}, error)
}

// PermissionChecker is the external collaborator interface for
// authorization. Engine holds one in its Permissions field but does not
// call Can itself: UpdateRecord and the other operations leave enforcement
// to the embedding layer. No default implementation ships
// beyond internal/testutil's always-allow double; a real deployment's
// REST/GraphQL layer supplies one backed by its own ACL store.
type PermissionChecker interface {
	Can(ctx context.Context, user string, resourceType types.ResourceType, resourceID, action string) (bool, error)
}

// AttachmentResolver is the external collaborator interface for attachment
// cell values: the engine treats an Attachment's bytes as owned by
// whatever object store the caller plugs in here.
type AttachmentResolver interface {
	Resolve(ctx context.Context, path string) (url string, err error)
}

// Engine bundles C1-C7 plus the catalog. Exported fields let an embedding
// REST/GraphQL layer reach any component directly (e.g. Fields.Create for
// a schema-change endpoint) without the orchestration methods getting in
// the way.
type Engine struct {
	Catalog    *TableCatalog
	Schema     *schema.Provider
	Fields     *field.Registry
	Links      *link.Manager
	Graph      *depgraph.Graph
	Records    *record.Store
	LinkTitles *linktitle.Updater
	OT         *ot.Channel

	Permissions PermissionChecker
	Attachments AttachmentResolver
	Recompute   Recomputer

	graphCache depgraph.CacheRepository
}

// New wires an Engine from a live database connection, a pub/sub bus, and
// config. db also satisfies schema.Executor/field.Executor/record.
// Executor/link.Executor/engine.CatalogExecutor, letting every component
// share one *database.Connection, the way a set of HTTP handlers would
// share one connection.
func New(cfg *config.Config, db *database.Connection, ps pubsub.PubSub, metrics *observability.Metrics) (*Engine, error) {
	cache, err := newDepGraphCache(cfg.DepGraph)
	if err != nil {
		return nil, err
	}

	schemaCache := database.NewSchemaCache(db.Inspector(), cfg.DepGraph.TTL)
	provider := schema.NewProvider(schema.NewPostgresDialect(), db, schemaCache, metrics)
	catalog := NewTableCatalog(db)

	fields := field.NewRegistry(db, provider)
	graph := depgraph.NewGraph(fields, cache, cfg.DepGraph.TTL)
	fields = field.NewRegistry(db, provider, field.WithCycleChecker(graph), field.WithTableLookup(catalog))

	records := record.NewStore(db, provider, fields, record.WithTableLookup(catalog))
	links := link.NewManager(fields, catalog, provider, db, link.WithRowCounter(records))

	channel := ot.NewChannel(ps, nil)
	linkTitles := linktitle.NewUpdater(fields, catalog, db, provider, linktitle.WithPublisher(channel))

	return &Engine{
		Catalog:    catalog,
		Schema:     provider,
		Fields:     fields,
		Links:      links,
		Graph:      graph,
		Records:    records,
		LinkTitles: linkTitles,
		OT:         channel,
		graphCache: cache,
	}, nil
}

// SweepCache evicts expired DependencyGraph cache entries and returns how
// many it removed. It's a no-op against RedisCache, which expires keys
// natively; only MemoryCache accumulates entries that need a periodic
// sweep, since it only checks TTL lazily on Get. Intended to be called on
// a schedule (cmd/tableengine wires it to a cron job) rather than per
// request.
func (e *Engine) SweepCache() int {
	mc, ok := e.graphCache.(*depgraph.MemoryCache)
	if !ok {
		return 0
	}
	return mc.Sweep()
}

func newDepGraphCache(cfg config.DepGraphConfig) (depgraph.CacheRepository, error) {
	switch cfg.Backend {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse depgraph redis_url: %w", err)
		}
		return depgraph.NewRedisCache(redis.NewClient(opts)), nil
	case "memory", "":
		return depgraph.NewMemoryCache(), nil
	default:
		return nil, fmt.Errorf("unknown depgraph cache backend: %s", cfg.Backend)
	}
}

// UpdateRecord runs the representative write pipeline end to end for a
// single record update: physical write, dependent
// recompute, Link title fan-out, and one OT publish per field that
// actually changed. Permission enforcement is the caller's responsibility
// (via Permissions) since it happens above this layer in a real deployment;
// UpdateRecord itself only refuses to run without a resolvable Table.
func (e *Engine) UpdateRecord(ctx context.Context, tableID, recordID string, patch map[string]interface{}, expectedVersion *int64, user string) (*types.Record, error) {
	table, err := e.Catalog.GetTable(ctx, tableID)
	if err != nil {
		return nil, err
	}

	rec, err := e.Records.Update(ctx, table, recordID, patch, expectedVersion, user)
	if err != nil {
		return nil, err
	}

	for fieldID, value := range patch {
		if err := e.OT.Publish(ctx, types.RecordCollection(tableID), recordID, fieldID, value); err != nil {
			log.Warn().Err(err).Str("table_id", tableID).Str("record_id", recordID).Str("field_id", fieldID).
				Msg("engine: OT publish failed for changed field")
		}
	}

	e.recomputeDependents(ctx, table, recordID, patch, user)

	e.LinkTitles.UpdateTitles(ctx, table, recordID, rec.Data)

	return rec, nil
}

// recomputeDependents walks every field touched by patch, finds its
// dependents via DependencyGraph, and asks Recompute to produce each
// dependent's new value, persisting accepted results through RecordStore.
// A nil Recompute or a per-field recompute failure is logged and skipped —
// cross-table side effects are failure-isolated from the primary write
// (a broken formula must never fail the write that triggered it).
func (e *Engine) recomputeDependents(ctx context.Context, table types.Table, recordID string, patch map[string]interface{}, user string) {
	if e.Recompute == nil {
		return
	}

	seen := make(map[string]bool)
	var dependents []string
	for fieldID := range patch {
		deps, err := e.Graph.Dependents(ctx, table.ID, fieldID)
		if err != nil {
			log.Warn().Err(err).Str("table_id", table.ID).Str("field_id", fieldID).Msg("engine: dependents lookup failed")
			continue
		}
		for _, d := range deps {
			if !seen[d] {
				seen[d] = true
				dependents = append(dependents, d)
			}
		}
	}
	if len(dependents) == 0 {
		return
	}

	recomputed := make(map[string]interface{}, len(dependents))
	for _, fieldID := range dependents {
		f, err := e.Fields.Get(ctx, fieldID)
		if err != nil {
			log.Warn().Err(err).Str("field_id", fieldID).Msg("engine: recompute target field lookup failed")
			continue
		}
		value, err := e.Recompute.Recompute(ctx, table, *f, recordID, patch)
		if err != nil {
			log.Warn().Err(err).Str("field_id", fieldID).Msg("engine: recompute failed")
			continue
		}
		recomputed[fieldID] = value
	}
	if len(recomputed) == 0 {
		return
	}

	if _, err := e.Records.Update(ctx, table, recordID, recomputed, nil, user); err != nil {
		log.Warn().Err(err).Str("table_id", table.ID).Str("record_id", recordID).Msg("engine: persisting recomputed fields failed")
		return
	}
	for fieldID, value := range recomputed {
		if err := e.OT.Publish(ctx, types.RecordCollection(table.ID), recordID, fieldID, value); err != nil {
			log.Warn().Err(err).Str("field_id", fieldID).Msg("engine: OT publish failed for recomputed field")
		}
	}
}
