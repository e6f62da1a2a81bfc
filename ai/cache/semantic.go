// Package cache provides the semantic result cache: queries whose embeddings
// are close enough to an earlier query reuse that query's results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// EmbeddingService generates vector embeddings.
// Local interface to avoid importing the embedding provider.
type EmbeddingService interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Recorder receives cache outcomes, typically a metrics exporter.
type Recorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
	RecordCacheError(cacheType string)
}

// ProductReferencer lets cached values declare the products they mention.
type ProductReferencer interface {
	ProductIDs() []string
}

// SemanticCacheConfig configures the semantic cache.
type SemanticCacheConfig struct {
	Enabled bool

	// SimilarityThreshold is the minimum cosine similarity for a hit.
	SimilarityThreshold float64

	// TTL is the time-to-live for cache entries.
	TTL time.Duration

	// ScanLimit bounds how many recent entries are compared per lookup.
	ScanLimit int

	EmbeddingService EmbeddingService
	Backend          Backend
	Recorder         Recorder
}

// DefaultSemanticCacheConfig returns the default configuration.
func DefaultSemanticCacheConfig() SemanticCacheConfig {
	return SemanticCacheConfig{
		Enabled:             true,
		SimilarityThreshold: 0.95,
		TTL:                 6 * time.Hour,
		ScanLimit:           100,
	}
}

// Result is a cache hit.
type Result struct {
	Query      string
	Results    json.RawMessage
	Similarity float64
	CachedAt   time.Time
}

// Decode unmarshals the cached results into v.
func (r *Result) Decode(v any) error {
	return json.Unmarshal(r.Results, v)
}

// Stats represents cache statistics.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hit_rate"`
	Size    int     `json:"size"`
}

const recorderName = "semantic"

// SemanticCache never returns errors to callers: every backend or embedding
// failure is logged, counted, and treated as a miss or a no-op.
type SemanticCache struct {
	cfg SemanticCacheConfig

	// Query text to embedding, so Set after Get does not embed twice.
	embeddings *LRUCache[string, []float32]

	stats   Stats
	statsMu sync.Mutex
}

// NewSemanticCache creates a new semantic cache.
func NewSemanticCache(cfg SemanticCacheConfig) *SemanticCache {
	defaults := DefaultSemanticCacheConfig()
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = defaults.SimilarityThreshold
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = defaults.ScanLimit
	}
	if cfg.Backend == nil {
		cfg.Backend = NewMemoryBackend(1000)
	}
	if cfg.EmbeddingService == nil {
		cfg.Enabled = false
	}

	return &SemanticCache{
		cfg:        cfg,
		embeddings: NewLRUCache[string, []float32](1000, 10*time.Minute),
	}
}

// Enabled reports whether lookups reach the backend.
func (c *SemanticCache) Enabled() bool {
	return c.cfg.Enabled
}

// Get returns the results cached for the most similar recent query, if that
// similarity reaches the threshold.
func (c *SemanticCache) Get(ctx context.Context, query string) (*Result, bool) {
	if !c.cfg.Enabled {
		return nil, false
	}
	start := time.Now()

	embedding, err := c.embed(ctx, query)
	if err != nil {
		c.recordError("embed", err)
		c.recordMiss()
		return nil, false
	}

	match, err := c.cfg.Backend.FindSimilar(ctx, embedding, c.cfg.ScanLimit)
	if err != nil {
		c.recordError("find", err)
		c.recordMiss()
		return nil, false
	}
	if match == nil || match.Similarity < c.cfg.SimilarityThreshold {
		c.recordMiss()
		return nil, false
	}

	c.recordHit()
	slog.Debug("semantic cache: hit",
		"query", query,
		"cached_query", match.Entry.Query,
		"similarity", match.Similarity,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return &Result{
		Query:      match.Entry.Query,
		Results:    match.Entry.Results,
		Similarity: match.Similarity,
		CachedAt:   time.UnixMilli(match.Entry.Timestamp),
	}, true
}

// Set caches results for query. Failures are logged and counted.
func (c *SemanticCache) Set(ctx context.Context, query string, results any) {
	if !c.cfg.Enabled {
		return
	}

	embedding, err := c.embed(ctx, query)
	if err != nil {
		c.recordError("embed", err)
		return
	}
	data, err := json.Marshal(results)
	if err != nil {
		c.recordError("encode", err)
		return
	}

	entry := &Entry{
		Key:        EntryKey(c.keyPrefix(), embedding),
		Query:      query,
		Embedding:  embedding,
		Results:    data,
		ProductIDs: productIDs(results, data),
		Timestamp:  time.Now().UnixMilli(),
	}
	if err := c.cfg.Backend.Put(ctx, entry, c.cfg.TTL); err != nil {
		c.recordError("put", err)
	}
}

// Invalidate removes every entry whose results reference productID.
func (c *SemanticCache) Invalidate(ctx context.Context, productID string) int {
	if productID == "" {
		return 0
	}
	n, err := c.cfg.Backend.DeleteByProduct(ctx, productID)
	if err != nil {
		c.recordError("invalidate", err)
	}
	if n > 0 {
		slog.Info("semantic cache: invalidated entries", "product_id", productID, "count", n)
	}
	return n
}

// Flush removes all entries.
func (c *SemanticCache) Flush(ctx context.Context) {
	if err := c.cfg.Backend.Flush(ctx); err != nil {
		c.recordError("flush", err)
		return
	}
	c.embeddings.Clear()
}

// Stats returns a snapshot of the counters.
func (c *SemanticCache) Stats(ctx context.Context) Stats {
	size, err := c.cfg.Backend.Len(ctx)
	if err != nil {
		c.recordError("len", err)
	}

	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	s := c.stats
	s.Size = size
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func (c *SemanticCache) keyPrefix() string {
	if rb, ok := c.cfg.Backend.(*RedisBackend); ok {
		return rb.Prefix()
	}
	return "semcache:"
}

func (c *SemanticCache) embed(ctx context.Context, query string) ([]float32, error) {
	key := hashQuery(query)
	if v, ok := c.embeddings.Get(key); ok {
		return v, nil
	}
	v, err := c.cfg.EmbeddingService.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	c.embeddings.Set(key, v, 0)
	return v, nil
}

func hashQuery(query string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(query)))
	return hex.EncodeToString(sum[:8])
}

func (c *SemanticCache) recordHit() {
	c.statsMu.Lock()
	c.stats.Hits++
	c.statsMu.Unlock()
	if c.cfg.Recorder != nil {
		c.cfg.Recorder.RecordCacheHit(recorderName)
	}
}

func (c *SemanticCache) recordMiss() {
	c.statsMu.Lock()
	c.stats.Misses++
	c.statsMu.Unlock()
	if c.cfg.Recorder != nil {
		c.cfg.Recorder.RecordCacheMiss(recorderName)
	}
}

func (c *SemanticCache) recordError(op string, err error) {
	c.statsMu.Lock()
	c.stats.Errors++
	c.statsMu.Unlock()
	if c.cfg.Recorder != nil {
		c.cfg.Recorder.RecordCacheError(recorderName)
	}
	slog.Warn("semantic cache: operation failed", "op", op, "error", err)
}

// productIDs collects product ids from a ProductReferencer or, failing that,
// from "id"/"product_id" string fields anywhere in the encoded results.
func productIDs(results any, data []byte) []string {
	if ref, ok := results.(ProductReferencer); ok {
		return ref.ProductIDs()
	}

	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil
	}
	seen := map[string]bool{}
	var ids []string
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case map[string]any:
			for k, child := range t {
				if s, ok := child.(string); ok && (k == "id" || k == "product_id") && !seen[s] {
					seen[s] = true
					ids = append(ids, s)
					continue
				}
				walk(child)
			}
		case []any:
			for _, child := range t {
				walk(child)
			}
		}
	}
	walk(decoded)
	return ids
}
