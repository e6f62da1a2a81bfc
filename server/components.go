package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/hrygo/stylebot/ai/cache"
	"github.com/hrygo/stylebot/ai/conversation"
	"github.com/hrygo/stylebot/ai/core/embedding"
	"github.com/hrygo/stylebot/ai/core/llm"
	"github.com/hrygo/stylebot/ai/core/reranker"
	"github.com/hrygo/stylebot/ai/metrics"
	"github.com/hrygo/stylebot/ai/query"
	"github.com/hrygo/stylebot/ai/rag"
	"github.com/hrygo/stylebot/ai/ranking"
	"github.com/hrygo/stylebot/ai/routing"
	"github.com/hrygo/stylebot/ai/vector"
	"github.com/hrygo/stylebot/internal/profile"
	"github.com/hrygo/stylebot/plugin/shop"
	"github.com/hrygo/stylebot/store"
)

const ingestQueueSize = 256

// components is the retrieval stack built from a profile.
type components struct {
	metrics       *metrics.PrometheusExporter
	llm           llm.Service
	redis         *redis.Client
	cache         *cache.SemanticCache
	vectors       *vector.Store
	ingestor      *vector.Ingestor
	conversations *conversation.Manager
	profiles      *ranking.StoreProfileSource
	chat          *rag.Service
}

func newComponents(p *profile.Profile, st *store.Store) (*components, error) {
	c := &components{
		metrics: metrics.NewPrometheusExporter(metrics.DefaultConfig()),
	}

	var intentLLM llm.Service
	if p.IsAIEnabled() {
		chatLLM, err := llm.NewService(&llm.Config{
			Provider: p.LLMProvider,
			Model:    p.LLMModel,
			APIKey:   p.LLMAPIKey,
			BaseURL:  p.LLMBaseURL,
			Timeout:  p.LLMTimeout,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create LLM service")
		}
		c.llm = chatLLM

		intentLLM = chatLLM
		if p.IntentModel != "" && p.IntentModel != p.LLMModel {
			intentLLM, err = llm.NewService(&llm.Config{
				Provider:    p.LLMProvider,
				Model:       p.IntentModel,
				APIKey:      p.LLMAPIKey,
				BaseURL:     p.LLMBaseURL,
				MaxTokens:   256,
				Temperature: 0.1,
				Timeout:     p.LLMTimeout,
			})
			if err != nil {
				return nil, errors.Wrap(err, "failed to create intent LLM service")
			}
		}
	} else {
		slog.Warn("no LLM API key configured, answers use templates and intents use keyword rules")
	}

	embedder, err := NewEmbedder(p)
	if err != nil {
		return nil, err
	}

	var backend cache.Backend
	if p.RedisAddr != "" {
		c.redis = redis.NewClient(&redis.Options{
			Addr:     p.RedisAddr,
			Password: p.RedisPassword,
			DB:       p.RedisDB,
		})
		backend = cache.NewRedisBackend(c.redis, "stylebot:semcache:", 0)
		slog.Info("semantic cache uses redis", "addr", p.RedisAddr)
	} else {
		backend = cache.NewMemoryBackend(1000)
	}
	c.cache = cache.NewSemanticCache(cache.SemanticCacheConfig{
		Enabled:             p.EnableSemanticCache,
		SimilarityThreshold: p.SemanticCacheThreshold,
		TTL:                 time.Duration(p.SemanticCacheTTLHours) * time.Hour,
		EmbeddingService:    embedder,
		Backend:             backend,
		Recorder:            c.metrics,
	})

	c.vectors = vector.NewStore(
		vector.NewStoreIndex(st, embedder.Config().Model),
		embedder,
		vector.Config{Recorder: c.metrics},
	)
	c.ingestor = vector.NewIngestor(c.vectors, c.cache, ingestQueueSize)

	c.conversations = conversation.NewManager(conversation.NewStoreAdapter(st), p.ContextWindow)
	c.profiles = ranking.NewStoreProfileSource(st)

	var rr reranker.Service
	if p.IsRerankEnabled() {
		rr = reranker.NewService(&reranker.Config{
			Model:   p.RerankModel,
			APIKey:  p.RerankAPIKey,
			BaseURL: p.RerankBaseURL,
			Enabled: true,
		})
	}

	var (
		orders rag.OrderLookup
		cart   rag.Cart
	)
	if p.ShopAPIURL != "" {
		client := shop.NewClient(p.ShopAPIURL, p.ShopAPIKey)
		orders, cart = client, client
	}

	c.chat, err = rag.NewService(rag.Config{
		Classifier: routing.NewService(routing.Config{
			LLM:         intentLLM,
			EnableCache: true,
			Recorder:    c.metrics,
		}),
		Conversations: c.conversations,
		Vectors:       c.vectors,
		Rewriter:      query.NewRewriter(nil),
		Decomposer:    query.NewDecomposer(c.llm, p.EnableQueryTransformation),
		Cache:         c.cache,
		Reranker:      rr,
		Ranker: ranking.NewRanker(ranking.Config{
			Enabled:  p.EnablePersonalization,
			BoostMax: p.PersonalizationBoostMax,
		}),
		Profiles:    c.profiles,
		LLM:         c.llm,
		Orders:      orders,
		Cart:        cart,
		Recorder:    c.metrics,
		LLMModel:    p.LLMModel,
		TopK:        p.RetrievalTopK,
		MaxProducts: 5,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create chat service")
	}
	return c, nil
}

// NewEmbedder creates the embedding provider described by the profile.
func NewEmbedder(p *profile.Profile) (*embedding.Provider, error) {
	embedder, err := embedding.NewProvider(&embedding.Config{
		BaseURL:    p.EmbeddingBaseURL,
		APIKey:     p.EmbeddingAPIKey,
		Model:      p.EmbeddingModel,
		Dimensions: p.EmbeddingDimensions,
		QPS:        p.EmbeddingQPS,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create embedding provider")
	}
	return embedder, nil
}

func (c *components) warmup(ctx context.Context) {
	if c.llm != nil {
		c.llm.Warmup(ctx)
	}
	if c.redis != nil {
		if err := c.redis.Ping(ctx).Err(); err != nil {
			slog.Warn("redis is unreachable, semantic cache lookups will miss", "error", err)
		}
	}
}

func (c *components) close() {
	c.ingestor.Close()
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			slog.Error("failed to close redis client", "error", err)
		}
	}
}
