package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fluxbase-eu/tableengine/internal/pubsub"
	"github.com/rs/zerolog/log"
)

// SchemaCache caches per-table physical schema information with TTL-based
// expiration and manual invalidation. SchemaProvider does not read it; it
// calls Invalidate for a table after DDL that changes that table or its
// columns. Invalidate is local to this instance; only InvalidateAll is
// broadcast to other instances, and only when a PubSub has been set with
// SetPubSub.
type SchemaCache struct {
	mu          sync.RWMutex
	entries     map[string]*cacheEntry // key: "schema.table"
	ttl         time.Duration
	inspector   *SchemaInspector

	ps         pubsub.PubSub
	ctx        context.Context
	cancelFunc context.CancelFunc
}

type cacheEntry struct {
	info      *TableInfo
	fetchedAt time.Time
}

// NewSchemaCache creates a new schema cache with the given TTL.
func NewSchemaCache(inspector *SchemaInspector, ttl time.Duration) *SchemaCache {
	return &SchemaCache{
		entries:   make(map[string]*cacheEntry),
		ttl:       ttl,
		inspector: inspector,
	}
}

func makeKey(schema, table string) string {
	return fmt.Sprintf("%s.%s", schema, table)
}

func (c *SchemaCache) expired(e *cacheEntry) bool {
	return time.Since(e.fetchedAt) > c.ttl
}

// GetTable returns the physical table's schema info, fetching and caching it
// on first access or after expiry/invalidation.
func (c *SchemaCache) GetTable(ctx context.Context, schema, table string) (*TableInfo, error) {
	key := makeKey(schema, table)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && !c.expired(entry) {
		return entry.info, nil
	}

	info, err := c.inspector.GetTableInfo(ctx, schema, table)
	if err != nil {
		return nil, fmt.Errorf("fetch table info for %s: %w", key, err)
	}

	c.mu.Lock()
	c.entries[key] = &cacheEntry{info: info, fetchedAt: time.Now()}
	c.mu.Unlock()

	return info, nil
}

// Invalidate drops the cached entry for a single physical table so the next
// GetTable call re-reads it from the catalog.
func (c *SchemaCache) Invalidate(schema, table string) {
	c.mu.Lock()
	delete(c.entries, makeKey(schema, table))
	c.mu.Unlock()
}

// InvalidateAll drops every cached entry, locally and (if PubSub is
// configured) on every other instance.
func (c *SchemaCache) InvalidateAll(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()

	if c.ps != nil {
		if err := c.ps.Publish(ctx, pubsub.SchemaCacheChannel, []byte("invalidate")); err != nil {
			log.Error().Err(err).Msg("failed to broadcast schema cache invalidation")
		}
	}
}

// SetPubSub configures the PubSub backend for cross-instance cache
// invalidation. When set, this instance listens for invalidation messages
// broadcast by others (e.g. after they run DDL) and clears its own cache.
func (c *SchemaCache) SetPubSub(ps pubsub.PubSub) {
	c.mu.Lock()
	c.ps = ps
	c.mu.Unlock()

	if ps != nil {
		c.startInvalidationListener()
	}
}

func (c *SchemaCache) startInvalidationListener() {
	c.mu.Lock()
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.ctx, c.cancelFunc = context.WithCancel(context.Background())
	ctx := c.ctx
	ps := c.ps
	c.mu.Unlock()

	go func() {
		msgCh, err := ps.Subscribe(ctx, pubsub.SchemaCacheChannel)
		if err != nil {
			log.Error().Err(err).Msg("failed to subscribe to schema cache invalidation channel")
			return
		}

		log.Info().Msg("schema cache listening for cross-instance invalidation")

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				log.Debug().Str("payload", string(msg.Payload)).Msg("received schema cache invalidation")
				c.mu.Lock()
				c.entries = make(map[string]*cacheEntry)
				c.mu.Unlock()
			}
		}
	}()
}

// Close stops the invalidation listener if one is running.
func (c *SchemaCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelFunc != nil {
		c.cancelFunc()
		c.cancelFunc = nil
	}
}

// EntryCount returns the number of cached table entries.
func (c *SchemaCache) EntryCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
