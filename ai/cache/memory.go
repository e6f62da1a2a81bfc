package cache

import (
	"context"
	"time"
)

// MemoryBackend keeps entries in an in-process LRU. Recency is write order.
type MemoryBackend struct {
	entries *LRUCache[string, *Entry]
}

// NewMemoryBackend creates a backend bounded to maxEntries.
func NewMemoryBackend(maxEntries int) *MemoryBackend {
	return &MemoryBackend{entries: NewLRUCache[string, *Entry](maxEntries, 6*time.Hour)}
}

func (b *MemoryBackend) Put(_ context.Context, entry *Entry, ttl time.Duration) error {
	b.entries.Set(entry.Key, entry, ttl)
	return nil
}

func (b *MemoryBackend) FindSimilar(_ context.Context, embedding []float32, limit int) (*Match, error) {
	match, err := bestMatch(embedding, b.entries.Recent(limit))
	for _, key := range mismatchedKeys(err) {
		b.entries.Remove(key)
	}
	return match, err
}

func (b *MemoryBackend) DeleteByProduct(_ context.Context, productID string) (int, error) {
	var keys []string
	b.entries.Range(func(key string, e *Entry) bool {
		if e.References(productID) {
			keys = append(keys, key)
		}
		return true
	})
	for _, key := range keys {
		b.entries.Remove(key)
	}
	return len(keys), nil
}

func (b *MemoryBackend) Flush(_ context.Context) error {
	b.entries.Clear()
	return nil
}

func (b *MemoryBackend) Len(_ context.Context) (int, error) {
	b.entries.CleanupExpired()
	return b.entries.Size(), nil
}
