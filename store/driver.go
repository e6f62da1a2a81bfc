package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Migrate brings the schema up to the latest known version.
	Migrate(ctx context.Context) error

	// ConversationMessage model related methods.
	CreateConversationMessage(ctx context.Context, create *ConversationMessage) (*ConversationMessage, error)
	ListConversationMessages(ctx context.Context, find *FindConversationMessage) ([]*ConversationMessage, error)

	// ConversationState model related methods.
	GetConversationState(ctx context.Context, userID string) (*ConversationState, error)
	UpsertConversationState(ctx context.Context, upsert *ConversationState) (*ConversationState, error)

	// ProductVector model related methods.
	UpsertProductVectors(ctx context.Context, vectors []*ProductVector) error
	ListProductVectors(ctx context.Context, find *FindProductVector) ([]*ProductVector, error)
	DeleteProductVectors(ctx context.Context, delete *DeleteProductVector) (int, error)
	ProductVectorSearch(ctx context.Context, opts *ProductVectorSearchOptions) ([]*ProductVectorWithScore, error)

	// UserPreferences model related methods.
	UpsertUserPreferences(ctx context.Context, upsert *UpsertUserPreferences) (*UserPreferences, error)
	GetUserPreferences(ctx context.Context, find *FindUserPreferences) (*UserPreferences, error)
}
