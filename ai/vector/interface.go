// Package vector provides the product vector store: embedding plus nearest
// neighbour search over an Index, with retries and batched writes.
package vector

import "context"

// Match is one search hit.
type Match struct {
	Metadata map[string]any `json:"metadata,omitempty"`
	ID       string         `json:"id"`
	Score    float32        `json:"score"`
}

// Record is a document to upsert. Values may be left empty when Text is set,
// in which case the store embeds Text.
type Record struct {
	Metadata map[string]any `json:"metadata,omitempty"`
	ID       string         `json:"id"`
	Text     string         `json:"text,omitempty"`
	Values   []float32      `json:"values,omitempty"`
}

// Index is a vector index. Filters are metadata equality constraints.
type Index interface {
	Query(ctx context.Context, vector []float32, topK int, filter map[string]any) ([]Match, error)
	Upsert(ctx context.Context, records []Record) error
	DeleteByIDs(ctx context.Context, ids []string) (int, error)
	DeleteByFilter(ctx context.Context, filter map[string]any) (int, error)
	Fetch(ctx context.Context, ids []string) ([]Record, error)
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
