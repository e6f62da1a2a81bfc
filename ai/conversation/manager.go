package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultWindow is the number of messages kept in Context.RecentMessages.
const DefaultWindow = 10

// conversationNamespace scopes the UUIDv5 conversation ids.
var conversationNamespace = uuid.MustParse("6f1c2b9e-4d3a-5e8f-9a0b-7c6d5e4f3a21")

// State is the mutable per-user context state.
type State struct {
	CurrentProduct *ProductRef
	ResetAt        time.Time
}

// MessageStore persists the append-only log and the context state.
type MessageStore interface {
	AppendMessage(ctx context.Context, userID string, msg Message) error
	// ListMessages returns up to limit messages after since, oldest first.
	// limit <= 0 means no limit.
	ListMessages(ctx context.Context, userID string, since time.Time, limit int) ([]Message, error)
	GetState(ctx context.Context, userID string) (*State, error)
	SaveState(ctx context.Context, userID string, state *State) error
}

// Manager builds conversation contexts and appends turns.
type Manager struct {
	store  MessageStore
	window int
}

// NewManager creates a manager. window <= 0 uses DefaultWindow.
func NewManager(store MessageStore, window int) *Manager {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Manager{store: store, window: window}
}

// ConversationID returns the stable conversation id of a user.
func ConversationID(userID string) string {
	return uuid.NewSHA1(conversationNamespace, []byte(userID)).String()
}

// GetContext builds the context for a turn. A non-empty history supplied by
// the client takes precedence over the stored log; the anchor product always
// comes from stored state, falling back to the newest product referenced in
// the history.
func (m *Manager) GetContext(ctx context.Context, userID string, history []Message) (*Context, error) {
	state, err := m.store.GetState(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load conversation state: %w", err)
	}
	if state == nil {
		state = &State{}
	}

	if len(history) == 0 {
		history, err = m.store.ListMessages(ctx, userID, state.ResetAt, m.window)
		if err != nil {
			return nil, fmt.Errorf("load conversation history: %w", err)
		}
	}

	current := state.CurrentProduct
	if current == nil {
		current = latestProduct(history)
	}

	return &Context{
		ConversationID: ConversationID(userID),
		RecentMessages: tail(history, m.window),
		CurrentProduct: current,
		History:        history,
	}, nil
}

// AddMessage appends a turn. Assistant turns referencing a product move the
// anchor to that product.
func (m *Manager) AddMessage(ctx context.Context, userID string, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if err := m.store.AppendMessage(ctx, userID, msg); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if msg.Role != RoleAssistant {
		return nil
	}

	product := productFromMetadata(msg.Metadata)
	if product == nil {
		return nil
	}
	state, err := m.store.GetState(ctx, userID)
	if err != nil {
		return fmt.Errorf("load conversation state: %w", err)
	}
	if state == nil {
		state = &State{}
	}
	state.CurrentProduct = product
	if err := m.store.SaveState(ctx, userID, state); err != nil {
		return fmt.Errorf("save conversation state: %w", err)
	}
	slog.Debug("conversation: anchor product updated", "user_id", userID, "product_id", product.ID)
	return nil
}

// GetHistory returns the full durable history, oldest first. Soft resets do
// not hide messages here. limit <= 0 returns everything.
func (m *Manager) GetHistory(ctx context.Context, userID string, limit int) ([]Message, error) {
	msgs, err := m.store.ListMessages(ctx, userID, time.Time{}, limit)
	if err != nil {
		return nil, fmt.Errorf("load conversation history: %w", err)
	}
	return msgs, nil
}

// ClearContext drops the anchor product and restarts the window. Stored
// messages are kept.
func (m *Manager) ClearContext(ctx context.Context, userID string) error {
	state := &State{ResetAt: time.Now()}
	if err := m.store.SaveState(ctx, userID, state); err != nil {
		return fmt.Errorf("clear conversation context: %w", err)
	}
	return nil
}

func tail(msgs []Message, n int) []Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

func latestProduct(msgs []Message) *ProductRef {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != RoleAssistant {
			continue
		}
		if p := productFromMetadata(msgs[i].Metadata); p != nil {
			return p
		}
	}
	return nil
}

// marshalMetadata is shared by store adapters.
func marshalMetadata(metadata map[string]any) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
