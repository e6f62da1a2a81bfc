package store

// ConversationRole is the author of a conversation message.
type ConversationRole string

const (
	ConversationRoleUser      ConversationRole = "user"
	ConversationRoleAssistant ConversationRole = "assistant"
)

// ConversationMessage is one row of the append-only conversation log.
type ConversationMessage struct {
	UserID  string
	Role    ConversationRole
	Content string
	Intent  string
	// Metadata is a JSON object string, "{}" when empty.
	Metadata  string
	ID        int64
	CreatedTs int64 // unix milliseconds
}

// FindConversationMessage selects messages of one user.
// When Limit is set the most recent Limit messages are returned, still in
// chronological order.
type FindConversationMessage struct {
	UserID       string
	CreatedAfter *int64
	Limit        int
}

// ConversationState holds per-user context that outlives the message window.
type ConversationState struct {
	UserID string
	// CurrentProduct is the JSON-encoded anchor product, empty when unset.
	CurrentProduct string
	// ResetTs is the unix millisecond time of the last soft reset, 0 if never reset.
	ResetTs   int64
	UpdatedTs int64
}
