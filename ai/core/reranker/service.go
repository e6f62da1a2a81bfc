package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Result is the relevance of one input document.
type Result struct {
	Index int     // position in the input slice
	Score float32 // relevance score, higher is better
}

// Service reorders candidate documents by relevance to a query.
type Service interface {
	// Rerank returns at most topN results ordered by descending score.
	// topN <= 0 means all documents.
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error)

	IsEnabled() bool
}

// Config configures a rerank endpoint speaking the Cohere/Jina /rerank protocol.
type Config struct {
	Model   string
	APIKey  string
	BaseURL string
	Enabled bool
	Timeout time.Duration
}

type service struct {
	client  *http.Client
	apiKey  string
	baseURL string
	model   string
	enabled bool
}

// NewService creates a new reranker Service.
func NewService(cfg *Config) Service {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &service{
		enabled: cfg.Enabled,
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (s *service) IsEnabled() bool {
	return s.enabled
}

// identity keeps the input order, used when reranking is disabled.
func identity(n, topN int) []Result {
	results := make([]Result, n)
	for i := range results {
		results[i] = Result{Index: i, Score: 1.0 - float32(i)*0.01}
	}
	if topN > 0 && topN < n {
		return results[:topN]
	}
	return results
}

func (s *service) endpoint() string {
	baseURL := strings.TrimRight(s.baseURL, "/")
	if strings.HasSuffix(baseURL, "/v1") {
		return baseURL + "/rerank"
	}
	return baseURL + "/v1/rerank"
}

func (s *service) Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error) {
	if len(documents) == 0 {
		return []Result{}, nil
	}
	if !s.enabled {
		return identity(len(documents), topN), nil
	}
	if topN <= 0 || topN > len(documents) {
		topN = len(documents)
	}

	body, err := json.Marshal(map[string]any{
		"model":     s.model,
		"query":     query,
		"documents": documents,
		"top_n":     topN,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("rerank API error: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var payload struct {
		Results []struct {
			Index int     `json:"index"`
			Score float32 `json:"relevance_score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	seen := make(map[int]bool, len(payload.Results))
	results := make([]Result, 0, len(payload.Results))
	for _, r := range payload.Results {
		if r.Index < 0 || r.Index >= len(documents) || seen[r.Index] {
			continue
		}
		seen[r.Index] = true
		results = append(results, Result{Index: r.Index, Score: r.Score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topN {
		results = results[:topN]
	}
	return results, nil
}
