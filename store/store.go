package store

import (
	"context"

	"github.com/hrygo/stylebot/internal/profile"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) CreateConversationMessage(ctx context.Context, create *ConversationMessage) (*ConversationMessage, error) {
	if create.Metadata == "" {
		create.Metadata = "{}"
	}
	return s.driver.CreateConversationMessage(ctx, create)
}

func (s *Store) ListConversationMessages(ctx context.Context, find *FindConversationMessage) ([]*ConversationMessage, error) {
	return s.driver.ListConversationMessages(ctx, find)
}

func (s *Store) GetConversationState(ctx context.Context, userID string) (*ConversationState, error) {
	return s.driver.GetConversationState(ctx, userID)
}

func (s *Store) UpsertConversationState(ctx context.Context, upsert *ConversationState) (*ConversationState, error) {
	return s.driver.UpsertConversationState(ctx, upsert)
}

func (s *Store) UpsertProductVectors(ctx context.Context, vectors []*ProductVector) error {
	if len(vectors) == 0 {
		return nil
	}
	return s.driver.UpsertProductVectors(ctx, vectors)
}

func (s *Store) ListProductVectors(ctx context.Context, find *FindProductVector) ([]*ProductVector, error) {
	if len(find.IDs) == 0 {
		return []*ProductVector{}, nil
	}
	return s.driver.ListProductVectors(ctx, find)
}

func (s *Store) DeleteProductVectors(ctx context.Context, delete *DeleteProductVector) (int, error) {
	return s.driver.DeleteProductVectors(ctx, delete)
}

func (s *Store) ProductVectorSearch(ctx context.Context, opts *ProductVectorSearchOptions) ([]*ProductVectorWithScore, error) {
	return s.driver.ProductVectorSearch(ctx, opts)
}

func (s *Store) UpsertUserPreferences(ctx context.Context, upsert *UpsertUserPreferences) (*UserPreferences, error) {
	return s.driver.UpsertUserPreferences(ctx, upsert)
}

func (s *Store) GetUserPreferences(ctx context.Context, find *FindUserPreferences) (*UserPreferences, error) {
	return s.driver.GetUserPreferences(ctx, find)
}
