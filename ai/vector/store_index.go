package vector

import (
	"context"

	"github.com/hrygo/stylebot/store"
)

// StoreIndex implements Index over the product_vector table.
type StoreIndex struct {
	store *store.Store
	model string
}

// NewStoreIndex creates an Index. model is recorded on every upserted row.
func NewStoreIndex(s *store.Store, model string) *StoreIndex {
	return &StoreIndex{store: s, model: model}
}

func (i *StoreIndex) Query(ctx context.Context, vector []float32, topK int, filter map[string]any) ([]Match, error) {
	results, err := i.store.ProductVectorSearch(ctx, &store.ProductVectorSearchOptions{
		Vector: vector,
		Filter: filter,
		Limit:  topK,
	})
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{ID: r.Vector.ID, Score: r.Score, Metadata: r.Vector.Metadata})
	}
	return matches, nil
}

func (i *StoreIndex) Upsert(ctx context.Context, records []Record) error {
	vectors := make([]*store.ProductVector, 0, len(records))
	for _, r := range records {
		vectors = append(vectors, &store.ProductVector{
			ID:        r.ID,
			Embedding: r.Values,
			Metadata:  r.Metadata,
			Model:     i.model,
		})
	}
	return i.store.UpsertProductVectors(ctx, vectors)
}

func (i *StoreIndex) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	return i.store.DeleteProductVectors(ctx, &store.DeleteProductVector{IDs: ids})
}

func (i *StoreIndex) DeleteByFilter(ctx context.Context, filter map[string]any) (int, error) {
	return i.store.DeleteProductVectors(ctx, &store.DeleteProductVector{Filter: filter})
}

func (i *StoreIndex) Fetch(ctx context.Context, ids []string) ([]Record, error) {
	vectors, err := i.store.ListProductVectors(ctx, &store.FindProductVector{IDs: ids})
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(vectors))
	for _, v := range vectors {
		records = append(records, Record{ID: v.ID, Values: v.Embedding, Metadata: v.Metadata})
	}
	return records, nil
}
