package store

// UserPreferences holds the personalization profile of a shopper as JSON.
type UserPreferences struct {
	UserID      string
	Preferences string
	CreatedTs   int64
	UpdatedTs   int64
}

// FindUserPreferences specifies the conditions for finding user preferences.
type FindUserPreferences struct {
	UserID string
}

// UpsertUserPreferences specifies the data for upserting user preferences.
type UpsertUserPreferences struct {
	UserID      string
	Preferences string
}
