package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeKey(t *testing.T) {
	tests := []struct {
		name     string
		schema   string
		table    string
		expected string
	}{
		{"tableengine schema", "tableengine", "tbl_abc", "tableengine.tbl_abc"},
		{"schema with underscore", "my_schema", "my_table", "my_schema.my_table"},
		{"empty schema", "", "tbl_x", ".tbl_x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, makeKey(tt.schema, tt.table))
		})
	}
}

func TestNewSchemaCache(t *testing.T) {
	insp := NewSchemaInspector(nil)
	cache := NewSchemaCache(insp, 30*time.Second)
	require.NotNil(t, cache)
	assert.Equal(t, 0, cache.EntryCount())
}

func TestSchemaCache_Invalidate(t *testing.T) {
	insp := NewSchemaInspector(nil)
	cache := NewSchemaCache(insp, time.Minute)

	cache.entries[makeKey("tableengine", "tbl_a")] = &cacheEntry{
		info:      &TableInfo{Schema: "tableengine", Name: "tbl_a"},
		fetchedAt: time.Now(),
	}
	assert.Equal(t, 1, cache.EntryCount())

	cache.Invalidate("tableengine", "tbl_a")
	assert.Equal(t, 0, cache.EntryCount())
}

func TestSchemaCache_InvalidateAll_NoPubSub(t *testing.T) {
	insp := NewSchemaInspector(nil)
	cache := NewSchemaCache(insp, time.Minute)

	cache.entries[makeKey("tableengine", "tbl_a")] = &cacheEntry{
		info:      &TableInfo{Schema: "tableengine", Name: "tbl_a"},
		fetchedAt: time.Now(),
	}
	cache.entries[makeKey("tableengine", "tbl_b")] = &cacheEntry{
		info:      &TableInfo{Schema: "tableengine", Name: "tbl_b"},
		fetchedAt: time.Now(),
	}

	cache.InvalidateAll(nil)
	assert.Equal(t, 0, cache.EntryCount())
}

func TestSchemaCache_Expired(t *testing.T) {
	insp := NewSchemaInspector(nil)
	cache := NewSchemaCache(insp, time.Nanosecond)

	entry := &cacheEntry{fetchedAt: time.Now().Add(-time.Hour)}
	assert.True(t, cache.expired(entry))

	freshCache := NewSchemaCache(insp, time.Hour)
	freshEntry := &cacheEntry{fetchedAt: time.Now()}
	assert.False(t, freshCache.expired(freshEntry))
}

func TestSchemaCache_Close_WithoutListener(t *testing.T) {
	insp := NewSchemaInspector(nil)
	cache := NewSchemaCache(insp, time.Minute)
	assert.NotPanics(t, func() {
		cache.Close()
	})
}
