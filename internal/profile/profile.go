package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start main server.
type Profile struct {
	// LLM configuration (OpenAI-compatible protocol).
	LLMProvider string
	LLMAPIKey   string
	LLMBaseURL  string
	LLMModel    string
	LLMTimeout  int // seconds

	// Intent classification uses a lightweight model on the same endpoint.
	IntentModel string

	// Embedding configuration
	EmbeddingModel      string
	EmbeddingAPIKey     string
	EmbeddingBaseURL    string
	EmbeddingDimensions int
	EmbeddingQPS        float64

	// Reranker configuration, disabled when no API key is set.
	RerankModel   string
	RerankAPIKey  string
	RerankBaseURL string

	// Redis backs the semantic cache when RedisAddr is set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Commerce backend for order lookup and cart, disabled when unset.
	ShopAPIURL string
	ShopAPIKey string

	// Retrieval feature flags.
	EnablePersonalization     bool
	PersonalizationBoostMax   float64
	EnableSemanticCache       bool
	SemanticCacheTTLHours     int
	SemanticCacheThreshold    float64
	EnableQueryTransformation bool
	ContextWindow             int
	RetrievalTopK             int

	Mode    string
	Addr    string
	Port    int
	Data    string
	Driver  string
	DSN     string
	Version string
}

// Provider default configurations for LLM.
// Used when the base URL or model is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-72B-Instruct",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "openai/gpt-4o-mini",
	},
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if an LLM API key is configured.
// Ollama runs without a key.
func (p *Profile) IsAIEnabled() bool {
	return p.LLMAPIKey != "" || p.LLMProvider == "ollama"
}

// IsRerankEnabled returns true if the rerank endpoint is configured.
func (p *Profile) IsRerankEnabled() bool {
	return p.RerankAPIKey != "" && p.RerankBaseURL != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvOrDefaultBool accepts the usual strconv spellings ("true", "1", "false", "0").
func getEnvOrDefaultBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("STYLEBOT_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("STYLEBOT_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("STYLEBOT_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("STYLEBOT_LLM_MODEL", "")
	p.LLMTimeout = getEnvOrDefaultInt("STYLEBOT_LLM_TIMEOUT_SECONDS", 60)

	if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
		slog.Warn("Unknown LLM provider, using default: openai", "provider", p.LLMProvider)
		p.LLMProvider = "openai"
	}
	defaults := llmProviderDefaults[p.LLMProvider]
	if p.LLMBaseURL == "" {
		p.LLMBaseURL = defaults.BaseURL
	}
	if p.LLMModel == "" {
		p.LLMModel = defaults.Model
	}
	p.IntentModel = getEnvOrDefault("STYLEBOT_INTENT_MODEL", p.LLMModel)

	p.EmbeddingModel = getEnvOrDefault("STYLEBOT_EMBEDDING_MODEL", "text-embedding-3-small")
	p.EmbeddingAPIKey = getEnvOrDefault("STYLEBOT_EMBEDDING_API_KEY", p.LLMAPIKey)
	p.EmbeddingBaseURL = getEnvOrDefault("STYLEBOT_EMBEDDING_BASE_URL", "https://api.openai.com/v1")
	p.EmbeddingDimensions = getEnvOrDefaultInt("STYLEBOT_EMBEDDING_DIMENSIONS", 1536)
	p.EmbeddingQPS = getEnvOrDefaultFloat("STYLEBOT_EMBEDDING_QPS", 20)

	p.RerankModel = getEnvOrDefault("STYLEBOT_RERANK_MODEL", "BAAI/bge-reranker-v2-m3")
	p.RerankAPIKey = getEnvOrDefault("STYLEBOT_RERANK_API_KEY", "")
	p.RerankBaseURL = getEnvOrDefault("STYLEBOT_RERANK_BASE_URL", "https://api.siliconflow.cn/v1")

	p.RedisAddr = getEnvOrDefault("REDIS_ADDR", "")
	p.RedisPassword = getEnvOrDefault("REDIS_PASSWORD", "")
	p.RedisDB = getEnvOrDefaultInt("REDIS_DB", 0)

	p.ShopAPIURL = getEnvOrDefault("STYLEBOT_SHOP_API_URL", "")
	p.ShopAPIKey = getEnvOrDefault("STYLEBOT_SHOP_API_KEY", "")

	p.EnablePersonalization = getEnvOrDefaultBool("ENABLE_PERSONALIZATION", true)
	p.PersonalizationBoostMax = getEnvOrDefaultFloat("PERSONALIZATION_BOOST_MAX", 1.5)
	p.EnableSemanticCache = getEnvOrDefaultBool("ENABLE_SEMANTIC_CACHE", true)
	p.SemanticCacheTTLHours = getEnvOrDefaultInt("SEMANTIC_CACHE_TTL_HOURS", 6)
	p.SemanticCacheThreshold = getEnvOrDefaultFloat("SEMANTIC_CACHE_THRESHOLD", 0.95)
	p.EnableQueryTransformation = getEnvOrDefaultBool("ENABLE_QUERY_TRANSFORMATION", false)
	p.ContextWindow = getEnvOrDefaultInt("STYLEBOT_CONTEXT_WINDOW", 10)
	p.RetrievalTopK = getEnvOrDefaultInt("STYLEBOT_RETRIEVAL_TOP_K", 10)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate normalizes the profile and resolves the data directory and DSN.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported driver %q", p.Driver)
	}

	if p.PersonalizationBoostMax < 1.0 {
		slog.Warn("personalization boost cap below 1.0, using 1.5", "value", p.PersonalizationBoostMax)
		p.PersonalizationBoostMax = 1.5
	}
	if p.SemanticCacheThreshold <= 0 || p.SemanticCacheThreshold > 1 {
		p.SemanticCacheThreshold = 0.95
	}
	if p.SemanticCacheTTLHours <= 0 {
		p.SemanticCacheTTLHours = 6
	}
	if p.ContextWindow <= 0 {
		p.ContextWindow = 10
	}
	if p.RetrievalTopK <= 0 {
		p.RetrievalTopK = 10
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "stylebot")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/stylebot"
		}
	}

	if p.Driver == "sqlite" {
		if p.Data == "" {
			p.Data = "."
		}
		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
			return err
		}
		p.Data = dataDir
		if p.DSN == "" {
			p.DSN = filepath.Join(dataDir, fmt.Sprintf("stylebot_%s.db", p.Mode))
		}
	} else if p.DSN == "" {
		return errors.New("dsn is required for postgres driver")
	}

	return nil
}
