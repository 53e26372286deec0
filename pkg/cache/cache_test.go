package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockMetrics implements CacheMetrics for testing
type MockMetrics struct {
	mu     sync.Mutex
	hits   int
	misses int
}

func (m *MockMetrics) RecordCacheLookup(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
}

func newTestCache(t *testing.T, metrics CacheMetrics) *Cache {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 4})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skip("Redis not available, skipping test")
	}

	config := DefaultCacheConfig()
	config.Namespace = "mediatk-test"
	config.MaxEntrySize = 1024
	c := NewWithClient(client, config, zerolog.Nop(), metrics)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDefaultCacheConfig(t *testing.T) {
	config := DefaultCacheConfig()

	assert.Equal(t, 24*time.Hour, config.DefaultTTL)
	assert.Equal(t, "mediatk", config.Namespace)
	assert.Equal(t, int64(32*1024*1024), config.MaxEntrySize)
}

func TestCachePatternMatching(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		matches bool
	}{
		{"*", "anything", true},
		{"result:image-*", "result:image-crop:abc", true},
		{"result:image-*", "result:video-trim:abc", false},
		{"exact", "exact", true},
		{"exact", "exactish", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"_"+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.matches, matchPattern(tt.pattern, tt.key))
		})
	}
}

func TestBuildKeyAndTTL(t *testing.T) {
	c := &Cache{config: DefaultCacheConfig(), patterns: map[string]time.Duration{"result:pdf-*": time.Minute}}
	assert.Equal(t, "mediatk:result:x", c.buildKey("result:x"))
	assert.Equal(t, time.Minute, c.getTTLForKey("result:pdf-merge:1"))
	assert.Equal(t, 24*time.Hour, c.getTTLForKey("result:video-speed:1"))

	c.config = &CacheConfig{}
	assert.Equal(t, "plain", c.buildKey("plain"))
}

func TestUpdateStats(t *testing.T) {
	c := &Cache{}
	c.updateStats(func(s *CacheStats) { s.Hits = 3 })
	c.updateStats(func(s *CacheStats) { s.Misses = 1 })

	stats := c.Stats()
	assert.Equal(t, 0.75, stats.HitRatio)
	assert.False(t, stats.LastUpdated.IsZero())
}

func TestCacheRoundTrip(t *testing.T) {
	metrics := &MockMetrics{}
	c := newTestCache(t, metrics)
	ctx := context.Background()

	_, err := c.Get(ctx, "result:missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "result:image-crop:1", []byte("payload"), 0))
	data, err := c.Get(ctx, "result:image-crop:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	exists, err := c.Exists(ctx, "result:image-crop:1")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, c.Delete(ctx, "result:image-crop:1"))
	exists, err = c.Exists(ctx, "result:image-crop:1")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.Equal(t, 1, metrics.hits)
	assert.Equal(t, 1, metrics.misses)
}

func TestCacheRejectsLargeEntries(t *testing.T) {
	c := newTestCache(t, nil)
	err := c.Set(context.Background(), "result:big", make([]byte, 2048), time.Minute)
	assert.ErrorIs(t, err, ErrEntryTooLarge)
	assert.Equal(t, int64(1), c.Stats().Skipped)
}
