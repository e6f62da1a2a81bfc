// Package rag answers shopper messages: it classifies the message, resolves
// it against the conversation, retrieves and personalizes products, and
// records the turn.
package rag

import (
	"context"
	"errors"
	"time"

	"github.com/hrygo/stylebot/ai/cache"
	"github.com/hrygo/stylebot/ai/catalog"
	"github.com/hrygo/stylebot/ai/conversation"
	"github.com/hrygo/stylebot/ai/ranking"
	"github.com/hrygo/stylebot/ai/routing"
	"github.com/hrygo/stylebot/ai/vector"
)

// ErrInvalidRequest is returned by Chat for an empty user id or message.
var ErrInvalidRequest = errors.New("invalid chat request")

// ErrOrderNotFound is returned by an OrderLookup for unknown orders.
var ErrOrderNotFound = errors.New("order not found")

// Vector metadata document types.
const (
	DocTypeKey     = catalog.DocTypeKey
	DocTypeProduct = catalog.DocTypeProduct
	DocTypePolicy  = catalog.DocTypePolicy
)

// Response actions.
const (
	ActionAddToCart    = "add_to_cart"
	ActionCompare      = "compare"
	ActionShowSimilar  = "show_similar"
	ActionAskMeasures  = "ask_measurements"
	ActionAskProduct   = "ask_product"
	ActionAskOrderID   = "ask_order_id"
	ActionContactStaff = "contact_staff"
)

// ChatResponse is the answer to one shopper message.
type ChatResponse struct {
	ExtractedInfo   map[string]any           `json:"extracted_info,omitempty"`
	Insights        *ranking.Insights        `json:"personalization,omitempty"`
	Product         *conversation.ProductRef `json:"product,omitempty"`
	Order           *Order                   `json:"order,omitempty"`
	Intent          routing.Intent           `json:"intent"`
	Answer          string                   `json:"answer"`
	ConversationID  string                   `json:"conversation_id"`
	RequestID       string                   `json:"request_id"`
	Action          string                   `json:"action,omitempty"`
	RewrittenQuery  string                   `json:"rewritten_query,omitempty"`
	RecommendedSize string                   `json:"recommended_size,omitempty"`
	Products        []ranking.ScoredProduct  `json:"products,omitempty"`
	Sources         []string                 `json:"sources,omitempty"`
	Confidence      float64                  `json:"confidence"`
	Cached          bool                     `json:"cached"`
	Degraded        bool                     `json:"degraded"`
}

// Order is the status view of one order.
type Order struct {
	UpdatedAt  time.Time `json:"updated_at"`
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Carrier    string    `json:"carrier,omitempty"`
	TrackingNo string    `json:"tracking_no,omitempty"`
	Total      float64   `json:"total,omitempty"`
}

// VectorSearcher is the retrieval side of the vector store.
type VectorSearcher interface {
	Search(ctx context.Context, query string, opts vector.SearchOptions) ([]vector.Match, error)
	Fetch(ctx context.Context, ids []string) ([]vector.Record, error)
}

// ResultCache stores answers by query meaning. It never fails.
type ResultCache interface {
	Get(ctx context.Context, query string) (*cache.Result, bool)
	Set(ctx context.Context, query string, results any)
}

// ConversationManager owns the per-user message log.
type ConversationManager interface {
	GetContext(ctx context.Context, userID string, history []conversation.Message) (*conversation.Context, error)
	AddMessage(ctx context.Context, userID string, msg conversation.Message) error
}

// OrderLookup resolves order status from the order system.
type OrderLookup interface {
	LookupOrder(ctx context.Context, userID, orderID string) (*Order, error)
}

// Cart adds items to a shopper's cart.
type Cart interface {
	AddItem(ctx context.Context, userID, productID, size string) error
}

// Recorder receives per-request outcomes, typically a metrics exporter.
type Recorder interface {
	RecordChatRequest(intent, status string, latency time.Duration)
	TrackActiveChat() func()
	RecordLLMCall(model string, promptTokens, completionTokens int, latency time.Duration)
}
