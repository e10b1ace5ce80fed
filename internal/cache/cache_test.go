package cache

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshwork-labs/meshd/internal/config"
	"github.com/meshwork-labs/meshd/internal/logging"
)

// newMemoryCache builds a cache with no Redis backend.
func newMemoryCache(t *testing.T, maxEntries int) *Cache {
	t.Helper()
	cfg := config.CacheConfig{
		DefaultTTL:         config.Duration(time.Minute),
		FallbackMaxEntries: maxEntries,
	}
	c := New(cfg, logging.NewNopLogger(), nil)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCache_SetGet(t *testing.T) {
	c := newMemoryCache(t, 0)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "llm", "prompt-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "llm", "prompt-1", []byte("answer"), 0))

	val, ok, err := c.Get(ctx, "llm", "prompt-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("answer"), val)

	// Same key in another namespace stays independent.
	_, ok, err = c.Get(ctx, "tts", "prompt-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_TTLExpiry(t *testing.T) {
	c := newMemoryCache(t, 0)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "llm", "k", []byte("v"), 20*time.Millisecond))

	_, ok, err := c.Get(ctx, "llm", "k")
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(30 * time.Millisecond)

	_, ok, err = c.Get(ctx, "llm", "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_Purge(t *testing.T) {
	c := newMemoryCache(t, 0)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "llm", "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "llm", "b", []byte("2"), 0))
	require.NoError(t, c.Set(ctx, "tts", "a", []byte("3"), 0))

	require.NoError(t, c.Purge(ctx, "llm"))

	_, ok, _ := c.Get(ctx, "llm", "a")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "llm", "b")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "tts", "a")
	assert.True(t, ok)
}

func TestCache_NoTTLAnywhere(t *testing.T) {
	c := New(config.CacheConfig{}, logging.NewNopLogger(), nil)
	err := c.Set(context.Background(), "llm", "k", []byte("v"), 0)
	assert.Error(t, err)
}

func TestShapeKey(t *testing.T) {
	k := shapeKey("llm", "hello")
	assert.True(t, strings.HasPrefix(k, "llm:"))
	assert.Len(t, strings.TrimPrefix(k, "llm:"), 32)
	assert.Equal(t, k, shapeKey("llm", "hello"))
	assert.NotEqual(t, k, shapeKey("llm", "hello2"))
}

func TestMemoryStore_EvictsAtCapacity(t *testing.T) {
	s := newMemoryStore(4)
	for i := 0; i < 10; i++ {
		s.set(fmt.Sprintf("k%d", i), []byte("v"), time.Minute)
	}
	assert.LessOrEqual(t, s.len(), 4)

	// The newest entry survives eviction.
	_, ok := s.get("k9")
	assert.True(t, ok)
}

func TestMemoryStore_SweepsExpiredBeforeEvicting(t *testing.T) {
	s := newMemoryStore(2)
	s.set("old", []byte("v"), time.Nanosecond)
	time.Sleep(time.Millisecond)
	s.set("a", []byte("v"), time.Minute)
	s.set("b", []byte("v"), time.Minute)

	_, ok := s.get("a")
	assert.True(t, ok)
	_, ok = s.get("b")
	assert.True(t, ok)
}
