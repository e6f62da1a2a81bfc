package routing

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/hrygo/stylebot/ai/cache"
)

// RouterCache provides LRU caching for classification results keyed by the
// normalised message. Follow-up results depend on history and are never cached.
type RouterCache struct {
	cache          *cache.LRUCache[string, Result]
	ttl            time.Duration
	hitCount       int64
	missCount      int64
	lastStatsReset time.Time
	statsMu        sync.Mutex
}

// CacheConfig contains configuration for RouterCache.
type CacheConfig struct {
	Capacity int           // Maximum number of entries (default: 500)
	TTL      time.Duration // default: 30min
}

// NewRouterCache creates a new router cache with specified configuration.
func NewRouterCache(cfg CacheConfig) *RouterCache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 500
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}

	return &RouterCache{
		cache:          cache.NewLRUCache[string, Result](cfg.Capacity, cfg.TTL),
		ttl:            cfg.TTL,
		lastStatsReset: time.Now(),
	}
}

// Get retrieves a cached classification.
func (c *RouterCache) Get(input string) (*Result, bool) {
	entry, found := c.cache.Get(c.hashKey(input))
	if !found {
		c.incrementMiss()
		return nil, false
	}

	c.incrementHit()
	slog.Debug("router cache hit", "input", truncate(input, 50), "intent", entry.Intent)
	result := entry
	result.ExtractedInfo = maps.Clone(entry.ExtractedInfo)
	result.Source = SourceCache
	return &result, true
}

// Set stores a classification. Only model results are worth caching.
func (c *RouterCache) Set(input string, result *Result) {
	if result == nil || result.Source != SourceLLM || result.IsFollowUp() {
		return
	}
	entry := *result
	entry.ExtractedInfo = maps.Clone(result.ExtractedInfo)
	c.cache.Set(c.hashKey(input), entry, c.ttl)
}

// Clear removes all entries from the cache.
func (c *RouterCache) Clear() {
	c.cache.Clear()
	c.statsMu.Lock()
	c.hitCount = 0
	c.missCount = 0
	c.lastStatsReset = time.Now()
	c.statsMu.Unlock()
}

// Stats returns cache statistics.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	Size      int     `json:"size"`
	Capacity  int     `json:"capacity"`
	UptimeSec int64   `json:"uptime_sec"`
}

// GetStats returns current cache statistics.
func (c *RouterCache) GetStats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	total := c.hitCount + c.missCount
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hitCount) / float64(total)
	}

	return Stats{
		Hits:      c.hitCount,
		Misses:    c.missCount,
		HitRate:   hitRate,
		Size:      c.cache.Size(),
		Capacity:  c.cache.Capacity(),
		UptimeSec: int64(time.Since(c.lastStatsReset).Seconds()),
	}
}

// hashKey creates a stable hash key for input.
func (c *RouterCache) hashKey(input string) string {
	hash := sha256.Sum256([]byte(normalizeInput(input)))
	return "route:" + hex.EncodeToString(hash[:8])
}

func (c *RouterCache) incrementHit() {
	c.statsMu.Lock()
	c.hitCount++
	c.statsMu.Unlock()
}

func (c *RouterCache) incrementMiss() {
	c.statsMu.Lock()
	c.missCount++
	c.statsMu.Unlock()
}
