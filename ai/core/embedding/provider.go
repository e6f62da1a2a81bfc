package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Service is the vector embedding service interface.
type Service interface {
	// Embed generates vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates vectors for multiple texts, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimension.
	Dimensions() int
}

// Config configures the OpenAI-compatible embedding gateway.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
	// QPS limits outgoing embedding requests; 0 disables limiting.
	QPS float64
}

// DefaultConfig returns the OpenAI defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "https://api.openai.com/v1",
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
		Timeout:    30 * time.Second,
		QPS:        20,
	}
}

// Validate checks the config is usable.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return errors.New("API key is required")
	}
	if c.Model == "" {
		return errors.New("embedding model is required")
	}
	return nil
}

// Provider implements Service over an OpenAI-compatible /embeddings endpoint.
type Provider struct {
	client  *openai.Client
	limiter *rate.Limiter
	config  Config
}

// NewProvider creates a provider. A nil config uses DefaultConfig and zero
// values are filled from it.
func NewProvider(cfg *Config) (*Provider, error) {
	defaults := DefaultConfig()
	if cfg == nil {
		cfg = defaults
	}
	merged := *cfg
	if merged.BaseURL == "" {
		merged.BaseURL = defaults.BaseURL
	}
	if merged.Model == "" {
		merged.Model = defaults.Model
	}
	if merged.Dimensions <= 0 {
		merged.Dimensions = defaults.Dimensions
	}
	if merged.Timeout <= 0 {
		merged.Timeout = defaults.Timeout
	}

	clientConfig := openai.DefaultConfig(merged.APIKey)
	clientConfig.BaseURL = strings.TrimRight(merged.BaseURL, "/")
	clientConfig.HTTPClient = &http.Client{Timeout: merged.Timeout}

	p := &Provider{
		client: openai.NewClientWithConfig(clientConfig),
		config: merged,
	}
	if merged.QPS > 0 {
		burst := int(merged.QPS)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(merged.QPS), burst)
	}
	return p, nil
}

// Config returns a copy of the effective configuration.
func (p *Provider) Config() Config {
	return p.config
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for embedding")
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedding rate limiter: %w", err)
		}
	}

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.config.Model),
	}
	// Only the text-embedding-3 family accepts a reduced dimension.
	if strings.HasPrefix(p.config.Model, "text-embedding-3") {
		req.Dimensions = p.config.Dimensions
	}

	start := time.Now()
	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create embeddings failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, data := range resp.Data {
		idx := data.Index
		if idx < 0 || idx >= len(texts) || vectors[idx] != nil {
			idx = i
		}
		vectors[idx] = data.Embedding
	}

	slog.Debug("embedding: batch embedded",
		"model", p.config.Model,
		"count", len(texts),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return vectors, nil
}

func (p *Provider) Dimensions() int {
	return p.config.Dimensions
}
