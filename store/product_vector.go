package store

import (
	"encoding/json"
)

// ProductVector is an embedded catalog document (a product or a policy page).
type ProductVector struct {
	ID        string
	Embedding []float32
	Metadata  map[string]any
	Model     string
	UpdatedTs int64
}

// FindProductVector fetches vectors by id.
type FindProductVector struct {
	IDs []string
}

// DeleteProductVector deletes vectors by id or by metadata filter.
// At least one of IDs or Filter must be set.
type DeleteProductVector struct {
	IDs    []string
	Filter map[string]any
}

// ProductVectorSearchOptions is a nearest-neighbour query.
type ProductVectorSearchOptions struct {
	Vector []float32
	Filter map[string]any
	Limit  int
}

// ProductVectorWithScore is a search hit with its cosine similarity.
type ProductVectorWithScore struct {
	Vector *ProductVector
	Score  float32
}

// MatchesFilter reports whether metadata contains every key of filter with an
// equal value. Values are compared by their JSON encoding so numbers decoded
// from storage compare equal to numbers supplied by callers.
func MatchesFilter(metadata, filter map[string]any) bool {
	for key, want := range filter {
		got, ok := metadata[key]
		if !ok {
			return false
		}
		wantJSON, err1 := json.Marshal(want)
		gotJSON, err2 := json.Marshal(got)
		if err1 != nil || err2 != nil || string(wantJSON) != string(gotJSON) {
			return false
		}
	}
	return true
}
