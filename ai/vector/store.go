package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrUnavailable wraps the last error once every retry attempt has failed.
var ErrUnavailable = errors.New("vector store unavailable")

// Recorder receives per-operation outcomes, typically a metrics exporter.
type Recorder interface {
	RecordVectorOperation(operation string, attempts int, err error, duration time.Duration)
}

// Config controls retries and batching.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	BatchSize   int
	Recorder    Recorder
}

// DefaultConfig returns 3 attempts, 500ms doubling backoff and batches of 100.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		BatchSize:   100,
	}
}

// SearchOptions configures a search.
type SearchOptions struct {
	Filter          map[string]any
	TopK            int
	IncludeMetadata bool
}

// Store embeds queries and talks to the Index.
type Store struct {
	index    Index
	embedder Embedder
	cfg      Config
}

// NewStore creates a store. Zero config fields take their defaults.
func NewStore(index Index, embedder Embedder, cfg Config) *Store {
	defaults := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaults.BaseDelay
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	return &Store{index: index, embedder: embedder, cfg: cfg}
}

// Search embeds query and returns the topK nearest matches. Embedding and
// querying are retried together.
func (s *Store) Search(ctx context.Context, query string, opts SearchOptions) ([]Match, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = 10
	}

	var matches []Match
	err := s.retryWithBackoff(ctx, "search", func(ctx context.Context) error {
		vec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		result, err := s.index.Query(ctx, vec, topK, opts.Filter)
		if err != nil {
			return fmt.Errorf("query index: %w", err)
		}
		matches = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !opts.IncludeMetadata {
		for i := range matches {
			matches[i].Metadata = nil
		}
	}
	return matches, nil
}

// Upsert writes records in sequential batches. The first batch that fails
// after retries aborts the rest; the count of records written so far is
// returned with the error.
func (s *Store) Upsert(ctx context.Context, records []Record) (int, error) {
	upserted := 0
	for start := 0; start < len(records); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(records))
		batch := records[start:end]

		err := s.retryWithBackoff(ctx, "upsert", func(ctx context.Context) error {
			if err := s.embedMissing(ctx, batch); err != nil {
				return err
			}
			return s.index.Upsert(ctx, batch)
		})
		if err != nil {
			return upserted, fmt.Errorf("upsert batch %d-%d: %w", start, end, err)
		}
		upserted += len(batch)
	}
	return upserted, nil
}

func (s *Store) embedMissing(ctx context.Context, batch []Record) error {
	var texts []string
	var positions []int
	for i, r := range batch {
		if len(r.Values) == 0 {
			if r.Text == "" {
				return fmt.Errorf("record %s has neither values nor text", r.ID)
			}
			texts = append(texts, r.Text)
			positions = append(positions, i)
		}
	}
	if len(texts) == 0 {
		return nil
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed records: %w", err)
	}
	for i, pos := range positions {
		batch[pos].Values = vectors[i]
	}
	return nil
}

// Delete removes records whose metadata matches filter.
func (s *Store) Delete(ctx context.Context, filter map[string]any) (int, error) {
	if len(filter) == 0 {
		return 0, errors.New("delete requires a non-empty filter")
	}
	var deleted int
	err := s.retryWithBackoff(ctx, "delete", func(ctx context.Context) error {
		n, err := s.index.DeleteByFilter(ctx, filter)
		deleted = n
		return err
	})
	return deleted, err
}

// DeleteByIDs removes records by id.
func (s *Store) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var deleted int
	err := s.retryWithBackoff(ctx, "delete_by_ids", func(ctx context.Context) error {
		n, err := s.index.DeleteByIDs(ctx, ids)
		deleted = n
		return err
	})
	return deleted, err
}

// Fetch returns the records with the given ids. Missing ids are skipped.
func (s *Store) Fetch(ctx context.Context, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return []Record{}, nil
	}
	var records []Record
	err := s.retryWithBackoff(ctx, "fetch", func(ctx context.Context) error {
		r, err := s.index.Fetch(ctx, ids)
		records = r
		return err
	})
	return records, err
}

// retryWithBackoff runs op up to MaxAttempts times, sleeping BaseDelay*2^n
// between attempts. Context cancellation stops retrying immediately.
func (s *Store) retryWithBackoff(ctx context.Context, operation string, op func(ctx context.Context) error) error {
	start := time.Now()
	var lastErr error
	attempt := 0
	for attempt < s.cfg.MaxAttempts {
		attempt++
		lastErr = op(ctx)
		if lastErr == nil {
			s.record(operation, attempt, nil, start)
			return nil
		}
		if ctx.Err() != nil {
			s.record(operation, attempt, ctx.Err(), start)
			return fmt.Errorf("vector %s cancelled: %w", operation, ctx.Err())
		}
		if attempt == s.cfg.MaxAttempts {
			break
		}

		delay := s.cfg.BaseDelay * time.Duration(1<<uint(attempt-1))
		slog.Warn("vector store: operation failed, retrying",
			"operation", operation,
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"error", lastErr,
		)
		select {
		case <-ctx.Done():
			s.record(operation, attempt, ctx.Err(), start)
			return fmt.Errorf("vector %s cancelled: %w", operation, ctx.Err())
		case <-time.After(delay):
		}
	}

	s.record(operation, attempt, lastErr, start)
	slog.Error("vector store: operation failed after retries",
		"operation", operation,
		"attempts", attempt,
		"error", lastErr,
	)
	return fmt.Errorf("%w: %s failed after %d attempts: %w", ErrUnavailable, operation, attempt, lastErr)
}

func (s *Store) record(operation string, attempts int, err error, start time.Time) {
	if s.cfg.Recorder != nil {
		s.cfg.Recorder.RecordVectorOperation(operation, attempts, err, time.Since(start))
	}
}
