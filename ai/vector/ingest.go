package vector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrQueueFull      = errors.New("ingest queue is full")
	ErrIngestorClosed = errors.New("ingestor is closed")
)

// Invalidator drops cached answers mentioning a product.
type Invalidator interface {
	Invalidate(ctx context.Context, productID string) int
}

// Job is one unit of catalog change.
type Job struct {
	Upsert    []Record
	DeleteIDs []string
}

func (j Job) productIDs() []string {
	ids := make([]string, 0, len(j.Upsert)+len(j.DeleteIDs))
	for _, r := range j.Upsert {
		ids = append(ids, r.ID)
	}
	return append(ids, j.DeleteIDs...)
}

// Ingestor applies catalog changes asynchronously on a single worker so
// writes reach the index in submission order.
type Ingestor struct {
	store       *Store
	invalidator Invalidator
	jobs        chan Job
	wg          sync.WaitGroup
	mu          sync.RWMutex
	closed      bool
}

// NewIngestor creates an ingestor with a bounded queue. invalidator may be nil.
func NewIngestor(store *Store, invalidator Invalidator, queueSize int) *Ingestor {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Ingestor{
		store:       store,
		invalidator: invalidator,
		jobs:        make(chan Job, queueSize),
	}
}

// Start launches the worker. It stops when Close is called.
func (i *Ingestor) Start(ctx context.Context) {
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		for job := range i.jobs {
			i.process(ctx, job)
		}
	}()
}

// Enqueue submits a job without blocking.
func (i *Ingestor) Enqueue(job Job) error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return ErrIngestorClosed
	}
	select {
	case i.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits for queued jobs to finish.
func (i *Ingestor) Close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	close(i.jobs)
	i.mu.Unlock()
	i.wg.Wait()
}

func (i *Ingestor) process(ctx context.Context, job Job) {
	start := time.Now()
	if len(job.Upsert) > 0 {
		n, err := i.store.Upsert(ctx, job.Upsert)
		if err != nil {
			slog.Error("ingest: upsert failed", "upserted", n, "total", len(job.Upsert), "error", err)
		}
	}
	if len(job.DeleteIDs) > 0 {
		if _, err := i.store.DeleteByIDs(ctx, job.DeleteIDs); err != nil {
			slog.Error("ingest: delete failed", "ids", len(job.DeleteIDs), "error", err)
		}
	}

	// Invalidate even on partial failure.
	if i.invalidator != nil {
		for _, id := range job.productIDs() {
			i.invalidator.Invalidate(ctx, id)
		}
	}
	slog.Debug("ingest: job processed",
		"upserts", len(job.Upsert),
		"deletes", len(job.DeleteIDs),
		"latency_ms", time.Since(start).Milliseconds(),
	)
}
