package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"
)

// ErrDimensionMismatch is returned when two vectors of different length are compared.
var ErrDimensionMismatch = errors.New("cache: embedding dimension mismatch")

// keyPrefixDims is how many leading embedding components feed the entry key.
const keyPrefixDims = 16

// Entry is one cached query and its results.
type Entry struct {
	Key        string          `json:"key"`
	Query      string          `json:"query"`
	Embedding  []float32       `json:"embedding"`
	Results    json.RawMessage `json:"results"`
	ProductIDs []string        `json:"product_ids,omitempty"`
	Timestamp  int64           `json:"timestamp"` // unix milliseconds
}

// References reports whether the cached results mention productID.
func (e *Entry) References(productID string) bool {
	return slices.Contains(e.ProductIDs, productID)
}

// Match is the most similar entry found by a backend.
type Match struct {
	Entry      *Entry
	Similarity float64
}

// Backend stores cache entries. Implementations choose how to find candidates
// but must only consider the limit most recently written entries.
type Backend interface {
	Put(ctx context.Context, entry *Entry, ttl time.Duration) error
	// FindSimilar returns the best match among the limit most recent entries,
	// or nil when there are none.
	FindSimilar(ctx context.Context, embedding []float32, limit int) (*Match, error)
	// DeleteByProduct removes entries referencing productID and returns how many.
	DeleteByProduct(ctx context.Context, productID string) (int, error)
	Flush(ctx context.Context) error
	Len(ctx context.Context) (int, error)
}

// CosineSimilarity returns the cosine of the angle between a and b.
// Zero vectors have similarity 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// EntryKey derives a stable key from the leading components of an embedding.
func EntryKey(prefix string, embedding []float32) string {
	n := min(len(embedding), keyPrefixDims)
	buf := make([]byte, 4*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(embedding[i]))
	}
	sum := sha256.Sum256(buf)
	return prefix + "entry:" + hex.EncodeToString(sum[:16])
}

// mismatchError names the cached entries whose embedding length differs from
// the query's, typically left over from a previous embedding model.
type mismatchError struct {
	keys []string
}

func (e *mismatchError) Error() string {
	return fmt.Sprintf("%v: %d cached entries", ErrDimensionMismatch, len(e.keys))
}

func (e *mismatchError) Unwrap() error { return ErrDimensionMismatch }

// mismatchedKeys returns the entry keys carried by a mismatch error.
func mismatchedKeys(err error) []string {
	var mismatch *mismatchError
	if errors.As(err, &mismatch) {
		return mismatch.keys
	}
	return nil
}

// bestMatch scores candidates against embedding and keeps the most similar.
// Candidates of another dimension are skipped and reported in the error so
// the backend can evict them.
func bestMatch(embedding []float32, candidates []*Entry) (*Match, error) {
	var (
		best       *Match
		mismatched []string
	)
	for _, cand := range candidates {
		sim, err := CosineSimilarity(embedding, cand.Embedding)
		if err != nil {
			mismatched = append(mismatched, cand.Key)
			continue
		}
		if best == nil || sim > best.Similarity {
			best = &Match{Entry: cand, Similarity: sim}
		}
	}
	if len(mismatched) > 0 {
		return best, &mismatchError{keys: mismatched}
	}
	return best, nil
}
