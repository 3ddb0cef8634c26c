package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/tableengine/internal/config"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/depgraph"
)

func TestNewDepGraphCache_DefaultsToMemory(t *testing.T) {
	cache, err := newDepGraphCache(config.DepGraphConfig{})
	require.NoError(t, err)
	assert.NotNil(t, cache)
}

func TestNewDepGraphCache_ExplicitMemory(t *testing.T) {
	cache, err := newDepGraphCache(config.DepGraphConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.NotNil(t, cache)
}

func TestNewDepGraphCache_UnknownBackendErrors(t *testing.T) {
	_, err := newDepGraphCache(config.DepGraphConfig{Backend: "memcached"})
	require.Error(t, err)
}

func TestNewDepGraphCache_InvalidRedisURLErrors(t *testing.T) {
	_, err := newDepGraphCache(config.DepGraphConfig{Backend: "redis", RedisURL: "://not-a-url"})
	require.Error(t, err)
}

func TestEngine_SweepCache_RemovesExpiredMemoryEntries(t *testing.T) {
	cache := depgraph.NewMemoryCache()
	require.NoError(t, cache.Set(nil, "tbl_1", []byte("{}"), -time.Second))
	require.NoError(t, cache.Set(nil, "tbl_2", []byte("{}"), time.Hour))

	e := &Engine{graphCache: cache}

	assert.Equal(t, 1, e.SweepCache())
	assert.Equal(t, 0, e.SweepCache())
}

func TestEngine_SweepCache_NoopWithoutMemoryCache(t *testing.T) {
	e := &Engine{}
	assert.Equal(t, 0, e.SweepCache())
}
