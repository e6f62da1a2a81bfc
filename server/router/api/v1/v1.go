package v1

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/stylebot/ai/cache"
	"github.com/hrygo/stylebot/ai/conversation"
	"github.com/hrygo/stylebot/ai/rag"
	"github.com/hrygo/stylebot/ai/ranking"
	"github.com/hrygo/stylebot/ai/vector"
	"github.com/hrygo/stylebot/internal/profile"
)

// ChatService answers shopper messages.
type ChatService interface {
	Chat(ctx context.Context, userID, message string, history []conversation.Message) (*rag.ChatResponse, error)
}

// ConversationService exposes the durable history and soft resets.
type ConversationService interface {
	GetHistory(ctx context.Context, userID string, limit int) ([]conversation.Message, error)
	ClearContext(ctx context.Context, userID string) error
}

// PreferenceService stores shopper personalization profiles.
type PreferenceService interface {
	SaveProfile(ctx context.Context, userID string, prefs ranking.Preferences) (*ranking.UserProfile, error)
}

// CacheService administers the semantic cache.
type CacheService interface {
	Stats(ctx context.Context) cache.Stats
	Invalidate(ctx context.Context, productID string) int
	Flush(ctx context.Context)
}

// VectorIngestor queues catalog changes.
type VectorIngestor interface {
	Enqueue(job vector.Job) error
}

// VectorDeleter removes catalog documents synchronously.
type VectorDeleter interface {
	Delete(ctx context.Context, filter map[string]any) (int, error)
}

// APIV1Service serves the JSON API. Nil collaborators disable their routes'
// functionality with 503 responses.
type APIV1Service struct {
	Profile       *profile.Profile
	Chat          ChatService
	Conversations ConversationService
	Preferences   PreferenceService
	Cache         CacheService
	Ingestor      VectorIngestor
	Vectors       VectorDeleter
}

// RegisterRoutes mounts the API on the echo server.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
	}))

	g.POST("/chat", s.ChatHandler)

	g.GET("/users/:id/history", s.GetHistory)
	g.DELETE("/users/:id/context", s.ClearContext)
	g.PUT("/users/:id/preferences", s.UpdatePreferences)

	g.GET("/cache/stats", s.GetCacheStats)
	g.POST("/cache/invalidate", s.InvalidateCache)
	g.DELETE("/cache", s.FlushCache)

	g.POST("/vectors", s.UpsertVectors)
	g.DELETE("/vectors", s.DeleteVectors)
}

func unavailable(component string) error {
	return echo.NewHTTPError(http.StatusServiceUnavailable, component+" is not configured")
}
