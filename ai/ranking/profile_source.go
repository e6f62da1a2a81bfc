package ranking

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/stylebot/store"
)

// ProfileSource loads shopper profiles. A missing profile is (nil, nil).
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (*UserProfile, error)
}

// StoreProfileSource reads and writes profiles in the user_preferences table.
type StoreProfileSource struct {
	store *store.Store
}

// NewStoreProfileSource creates a profile source.
func NewStoreProfileSource(s *store.Store) *StoreProfileSource {
	return &StoreProfileSource{store: s}
}

func (s *StoreProfileSource) GetProfile(ctx context.Context, userID string) (*UserProfile, error) {
	row, err := s.store.GetUserPreferences(ctx, &store.FindUserPreferences{UserID: userID})
	if err != nil {
		return nil, err
	}
	if row == nil || strings.TrimSpace(row.Preferences) == "" {
		return nil, nil
	}

	profile := &UserProfile{UserID: userID}
	if err := json.Unmarshal([]byte(row.Preferences), &profile.Preferences); err != nil {
		return nil, errors.Wrapf(err, "failed to decode preferences of user %s", userID)
	}
	return profile, nil
}

// SaveProfile validates and stores the preferences of a user.
func (s *StoreProfileSource) SaveProfile(ctx context.Context, userID string, prefs Preferences) (*UserProfile, error) {
	if err := prefs.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(prefs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal preferences")
	}
	if _, err := s.store.UpsertUserPreferences(ctx, &store.UpsertUserPreferences{
		UserID:      userID,
		Preferences: string(b),
	}); err != nil {
		return nil, err
	}
	return &UserProfile{UserID: userID, Preferences: prefs}, nil
}

// Validate rejects inverted or negative budgets.
func (p Preferences) Validate() error {
	if p.BudgetRange == nil {
		return nil
	}
	if p.BudgetRange.Min < 0 || p.BudgetRange.Max < 0 {
		return errors.New("budget range must not be negative")
	}
	if p.BudgetRange.Max > 0 && p.BudgetRange.Min > p.BudgetRange.Max {
		return errors.Errorf("budget min %.0f exceeds max %.0f", p.BudgetRange.Min, p.BudgetRange.Max)
	}
	return nil
}

var _ ProfileSource = (*StoreProfileSource)(nil)
