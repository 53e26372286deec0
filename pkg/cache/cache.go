package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	ErrCacheMiss     = errors.New("cache miss")
	ErrEntryTooLarge = errors.New("cache entry too large")
)

// CacheConfig holds cache configuration
type CacheConfig struct {
	DefaultTTL   time.Duration `json:"default_ttl"`
	Namespace    string        `json:"namespace"`
	MaxEntrySize int64         `json:"max_entry_size"`
}

// DefaultCacheConfig returns default cache configuration
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		DefaultTTL:   24 * time.Hour,
		Namespace:    "mediatk",
		MaxEntrySize: 32 * 1024 * 1024,
	}
}

// CacheStats tracks cache performance
type CacheStats struct {
	Hits           int64         `json:"hits"`
	Misses         int64         `json:"misses"`
	Sets           int64         `json:"sets"`
	Skipped        int64         `json:"skipped"`
	Deletes        int64         `json:"deletes"`
	BytesWritten   int64         `json:"bytes_written"`
	AverageLatency time.Duration `json:"average_latency"`
	HitRatio       float64       `json:"hit_ratio"`
	LastUpdated    time.Time     `json:"last_updated"`
}

// CacheMetrics receives hit and miss notifications
type CacheMetrics interface {
	RecordCacheLookup(hit bool)
}

// Cache stores transform results in Redis as raw bytes
type Cache struct {
	client   *redis.Client
	config   *CacheConfig
	stats    CacheStats
	statsMu  sync.RWMutex
	metrics  CacheMetrics
	logger   zerolog.Logger
	mu       sync.RWMutex
	patterns map[string]time.Duration
}

// NewWithClient creates a cache on an existing Redis client
func NewWithClient(client *redis.Client, config *CacheConfig, logger zerolog.Logger, metrics CacheMetrics) *Cache {
	if config == nil {
		config = DefaultCacheConfig()
	}
	c := &Cache{
		client:   client,
		config:   config,
		stats:    CacheStats{LastUpdated: time.Now()},
		metrics:  metrics,
		logger:   logger.With().Str("component", "cache").Logger(),
		patterns: make(map[string]time.Duration),
	}

	// Image results are cheap to recompute, video results are not.
	c.SetTTLPattern("result:image-*", time.Hour)
	c.SetTTLPattern("result:pdf-*", 2*time.Hour)

	c.logger.Info().
		Str("namespace", config.Namespace).
		Dur("default_ttl", config.DefaultTTL).
		Int64("max_entry_size", config.MaxEntrySize).
		Msg("Cache initialized")
	return c
}

// SetTTLPattern sets TTL for keys matching a pattern
func (c *Cache) SetTTLPattern(pattern string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patterns[pattern] = ttl
}

func (c *Cache) getTTLForKey(key string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for pattern, ttl := range c.patterns {
		if matchPattern(pattern, key) {
			return ttl
		}
	}
	return c.config.DefaultTTL
}

// matchPattern supports a single trailing * wildcard
func matchPattern(pattern, key string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(key, prefix)
	}
	return pattern == key
}

func (c *Cache) buildKey(key string) string {
	if c.config.Namespace == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", c.config.Namespace, key)
}

// Set stores a value. A zero ttl selects the pattern or default TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.config.MaxEntrySize > 0 && int64(len(value)) > c.config.MaxEntrySize {
		c.updateStats(func(s *CacheStats) { s.Skipped++ })
		c.logger.Debug().Str("key", key).Int("size", len(value)).Msg("Cache entry skipped, too large")
		return ErrEntryTooLarge
	}

	start := time.Now()
	if ttl <= 0 {
		ttl = c.getTTLForKey(key)
	}

	if err := c.client.Set(ctx, c.buildKey(key), value, ttl).Err(); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to set cache value")
		return fmt.Errorf("redis set error: %w", err)
	}

	latency := time.Since(start)
	c.updateStats(func(s *CacheStats) {
		s.Sets++
		s.BytesWritten += int64(len(value))
		s.AverageLatency = (s.AverageLatency + latency) / 2
	})

	c.logger.Debug().
		Str("key", key).
		Dur("ttl", ttl).
		Int("size", len(value)).
		Msg("Cache value set")
	return nil
}

// Get retrieves a value, returning ErrCacheMiss when absent
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()

	data, err := c.client.Get(ctx, c.buildKey(key)).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to get cache value")
		return nil, fmt.Errorf("redis get error: %w", err)
	}

	hit := err == nil
	latency := time.Since(start)
	c.updateStats(func(s *CacheStats) {
		if hit {
			s.Hits++
		} else {
			s.Misses++
		}
		s.AverageLatency = (s.AverageLatency + latency) / 2
	})
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(hit)
	}

	if !hit {
		return nil, ErrCacheMiss
	}
	return data, nil
}

// Delete removes a value from cache
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.buildKey(key)).Err(); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to delete cache value")
		return fmt.Errorf("redis del error: %w", err)
	}
	c.updateStats(func(s *CacheStats) { s.Deletes++ })
	return nil
}

// Exists checks if a key exists in cache
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	count, err := c.client.Exists(ctx, c.buildKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists error: %w", err)
	}
	return count > 0, nil
}

func (c *Cache) updateStats(fn func(*CacheStats)) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	fn(&c.stats)

	c.stats.LastUpdated = time.Now()
	if total := c.stats.Hits + c.stats.Misses; total > 0 {
		c.stats.HitRatio = float64(c.stats.Hits) / float64(total)
	}
}

// Stats returns a copy of the current statistics
func (c *Cache) Stats() CacheStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.stats
}

// Close closes the cache connection
func (c *Cache) Close() error {
	c.logger.Info().Msg("Closing cache connection")
	return c.client.Close()
}
