// Package conversation maintains per-user chat history and the product the
// user is currently discussing.
package conversation

import (
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MetadataProductKey is the assistant metadata key holding the referenced product.
const MetadataProductKey = "product"

// Message is one immutable turn.
type Message struct {
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Intent    string         `json:"intent,omitempty"`
}

// ProductRef identifies the anchor product used for pronoun resolution.
type ProductRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

// DisplayName returns the name used when substituting the product into a query.
func (p *ProductRef) DisplayName() string {
	if p == nil {
		return ""
	}
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	return p.ID
}

// Context is the per-request view of a conversation.
type Context struct {
	CurrentProduct *ProductRef `json:"current_product,omitempty"`
	ConversationID string      `json:"conversation_id"`
	RecentMessages []Message   `json:"recent_messages"`
	History        []Message   `json:"history"`
}

// productFromMetadata extracts a ProductRef from assistant metadata. Both a
// nested object and a *ProductRef are accepted.
func productFromMetadata(metadata map[string]any) *ProductRef {
	raw, ok := metadata[MetadataProductKey]
	if !ok || raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case *ProductRef:
		if v.ID == "" {
			return nil
		}
		return v
	case ProductRef:
		if v.ID == "" {
			return nil
		}
		return &v
	case map[string]any:
		ref := &ProductRef{}
		ref.ID, _ = v["id"].(string)
		ref.Name, _ = v["name"].(string)
		ref.Category, _ = v["category"].(string)
		if ref.ID == "" {
			return nil
		}
		return ref
	}
	return nil
}
