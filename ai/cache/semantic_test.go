package cache

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEmbeddingService returns fixed vectors per text and counts calls.
type mockEmbeddingService struct {
	vectors map[string][]float32
	err     error
	calls   int
	mu      sync.Mutex
}

func newMockEmbeddingService() *mockEmbeddingService {
	return &mockEmbeddingService{vectors: map[string][]float32{
		"áo polo nam":        {1, 0, 0, 0},
		"áo polo cho nam":    {0.99, 0.05, 0, 0},
		"quần jean nữ":       {0, 1, 0, 0},
		"chính sách đổi trả": {0, 0, 1, 0},
	}}
}

func (m *mockEmbeddingService) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if v, ok := m.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 0, 1}, nil
}

type countingRecorder struct {
	hits, misses, errors int
}

func (r *countingRecorder) RecordCacheHit(string)   { r.hits++ }
func (r *countingRecorder) RecordCacheMiss(string)  { r.misses++ }
func (r *countingRecorder) RecordCacheError(string) { r.errors++ }

type failingBackend struct{}

var errBackendDown = errors.New("backend down")

func (failingBackend) Put(context.Context, *Entry, time.Duration) error { return errBackendDown }
func (failingBackend) FindSimilar(context.Context, []float32, int) (*Match, error) {
	return nil, errBackendDown
}
func (failingBackend) DeleteByProduct(context.Context, string) (int, error) { return 0, errBackendDown }
func (failingBackend) Flush(context.Context) error                          { return errBackendDown }
func (failingBackend) Len(context.Context) (int, error)                     { return 0, errBackendDown }

type productList struct {
	Products []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"products"`
}

func newTestCache(embedder EmbeddingService) *SemanticCache {
	cfg := DefaultSemanticCacheConfig()
	cfg.EmbeddingService = embedder
	return NewSemanticCache(cfg)
}

func TestSemanticCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	embedder := newMockEmbeddingService()
	c := newTestCache(embedder)

	results := map[string]any{"products": []map[string]any{{"id": "p1", "name": "Áo Polo Navy"}}}
	c.Set(ctx, "áo polo nam", results)

	hit, ok := c.Get(ctx, "áo polo nam")
	require.True(t, ok)
	assert.InDelta(t, 1.0, hit.Similarity, 1e-9)
	assert.Equal(t, "áo polo nam", hit.Query)

	var decoded productList
	require.NoError(t, hit.Decode(&decoded))
	require.Len(t, decoded.Products, 1)
	assert.Equal(t, "p1", decoded.Products[0].ID)

	// Set then Get of the same text embeds once.
	assert.Equal(t, 1, embedder.calls)
}

func TestSemanticCache_SimilarQueryHits(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(newMockEmbeddingService())

	c.Set(ctx, "áo polo nam", map[string]any{"answer": "ok"})
	hit, ok := c.Get(ctx, "áo polo cho nam")
	require.True(t, ok)
	assert.GreaterOrEqual(t, hit.Similarity, 0.95)
}

func TestSemanticCache_BelowThresholdMisses(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(newMockEmbeddingService())

	c.Set(ctx, "áo polo nam", map[string]any{"answer": "ok"})
	_, ok := c.Get(ctx, "quần jean nữ")
	assert.False(t, ok)

	stats := c.Stats(ctx)
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestSemanticCache_Disabled(t *testing.T) {
	ctx := context.Background()
	embedder := newMockEmbeddingService()
	cfg := DefaultSemanticCacheConfig()
	cfg.Enabled = false
	cfg.EmbeddingService = embedder
	c := NewSemanticCache(cfg)

	c.Set(ctx, "áo polo nam", map[string]any{"answer": "ok"})
	_, ok := c.Get(ctx, "áo polo nam")
	assert.False(t, ok)
	assert.Equal(t, 0, embedder.calls)
	assert.False(t, c.Enabled())
}

func TestSemanticCache_NoEmbedderDisables(t *testing.T) {
	c := NewSemanticCache(DefaultSemanticCacheConfig())
	assert.False(t, c.Enabled())
}

func TestSemanticCache_EmbeddingFailureIsMiss(t *testing.T) {
	ctx := context.Background()
	embedder := newMockEmbeddingService()
	embedder.err = errors.New("quota")
	rec := &countingRecorder{}
	cfg := DefaultSemanticCacheConfig()
	cfg.EmbeddingService = embedder
	cfg.Recorder = rec
	c := NewSemanticCache(cfg)

	_, ok := c.Get(ctx, "áo polo nam")
	assert.False(t, ok)
	c.Set(ctx, "áo polo nam", "x")

	stats := c.Stats(ctx)
	assert.Equal(t, int64(2), stats.Errors)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 2, rec.errors)
	assert.Equal(t, 1, rec.misses)
}

func TestSemanticCache_BackendFailureDegrades(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultSemanticCacheConfig()
	cfg.EmbeddingService = newMockEmbeddingService()
	cfg.Backend = failingBackend{}
	c := NewSemanticCache(cfg)

	assert.NotPanics(t, func() {
		c.Set(ctx, "áo polo nam", "x")
		_, ok := c.Get(ctx, "áo polo nam")
		assert.False(t, ok)
		assert.Equal(t, 0, c.Invalidate(ctx, "p1"))
		c.Flush(ctx)
	})

	stats := c.Stats(ctx)
	// put, find, invalidate, flush and the size lookup in Stats each fail once.
	assert.Equal(t, int64(5), stats.Errors)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestSemanticCache_RedisUnavailable(t *testing.T) {
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	cfg := DefaultSemanticCacheConfig()
	cfg.EmbeddingService = newMockEmbeddingService()
	cfg.Backend = NewRedisBackend(client, "test:", 100)
	c := NewSemanticCache(cfg)

	c.Set(ctx, "áo polo nam", "x")
	_, ok := c.Get(ctx, "áo polo nam")
	assert.False(t, ok)

	stats := c.Stats(ctx)
	assert.GreaterOrEqual(t, stats.Errors, int64(2))
	assert.Equal(t, int64(1), stats.Misses)
}

func TestSemanticCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(newMockEmbeddingService())

	c.Set(ctx, "áo polo nam", map[string]any{"products": []map[string]any{{"id": "p1"}, {"id": "p2"}}})
	c.Set(ctx, "quần jean nữ", map[string]any{"products": []map[string]any{{"id": "p3"}}})
	c.Set(ctx, "chính sách đổi trả", map[string]any{"answer": "30 ngày"})

	assert.Equal(t, 1, c.Invalidate(ctx, "p2"))
	_, ok := c.Get(ctx, "áo polo nam")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "quần jean nữ")
	assert.True(t, ok)

	assert.Equal(t, 0, c.Invalidate(ctx, "unknown"))
	assert.Equal(t, 0, c.Invalidate(ctx, ""))
}

func TestSemanticCache_FlushAndStats(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(newMockEmbeddingService())

	c.Set(ctx, "áo polo nam", "a")
	c.Set(ctx, "quần jean nữ", "b")
	_, _ = c.Get(ctx, "áo polo nam")
	_, _ = c.Get(ctx, "something else")

	stats := c.Stats(ctx)
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)

	c.Flush(ctx)
	assert.Equal(t, 0, c.Stats(ctx).Size)
}

func TestSemanticCache_ScanIsBounded(t *testing.T) {
	ctx := context.Background()
	embedder := newMockEmbeddingService()
	cfg := DefaultSemanticCacheConfig()
	cfg.EmbeddingService = embedder
	cfg.ScanLimit = 2
	c := NewSemanticCache(cfg)

	c.Set(ctx, "áo polo nam", "old")
	c.Set(ctx, "quần jean nữ", "b")
	c.Set(ctx, "chính sách đổi trả", "c")

	// The matching entry is the third most recent, outside the scan window.
	_, ok := c.Get(ctx, "áo polo nam")
	assert.False(t, ok)
}

func TestSemanticCache_DimensionMismatchIsCountedError(t *testing.T) {
	ctx := context.Background()
	embedder := newMockEmbeddingService()
	c := newTestCache(embedder)

	c.Set(ctx, "áo polo nam", "x")
	embedder.vectors["short"] = []float32{1, 0}
	_, ok := c.Get(ctx, "short")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats(ctx).Errors)

	// The entry of the old dimension is evicted, so later lookups are clean.
	assert.Equal(t, 0, c.Stats(ctx).Size)
	c.Set(ctx, "short", "y")
	_, ok = c.Get(ctx, "short")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats(ctx).Errors)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, err := CosineSimilarity([]float32{1}, []float32{1, 2})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestEntryKeyStable(t *testing.T) {
	long := make([]float32, 64)
	for i := range long {
		long[i] = float32(math.Sin(float64(i)))
	}
	other := append([]float32(nil), long...)
	other[40] = 99

	assert.Equal(t, EntryKey("p:", long), EntryKey("p:", long))
	// Only the leading components feed the key.
	assert.Equal(t, EntryKey("p:", long), EntryKey("p:", other))
	assert.NotEqual(t, EntryKey("p:", long), EntryKey("p:", []float32{1, 2}))
	assert.Contains(t, EntryKey("p:", long), "p:entry:")
}

type refResults struct{ ids []string }

func (r refResults) ProductIDs() []string { return r.ids }

func TestProductIDs(t *testing.T) {
	ids := productIDs(refResults{ids: []string{"a"}}, nil)
	assert.Equal(t, []string{"a"}, ids)

	data := []byte(`{"conversation_id":"c1","products":[{"id":"p1","variants":[{"product_id":"p1"}]},{"id":"p2"}],"action":{"product_id":"p9"}}`)
	ids = productIDs(map[string]any{}, data)
	sort.Strings(ids)
	assert.Equal(t, []string{"p1", "p2", "p9"}, ids)
}
