package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/hrygo/stylebot/store"
)

func (d *DB) UpsertUserPreferences(ctx context.Context, upsert *store.UpsertUserPreferences) (*store.UserPreferences, error) {
	now := nowMillis()
	stmt := `INSERT INTO user_preferences (user_id, preferences, created_ts, updated_ts)
		VALUES (` + placeholders(4) + `)
		ON CONFLICT (user_id) DO UPDATE SET
			preferences = EXCLUDED.preferences,
			updated_ts = EXCLUDED.updated_ts
		RETURNING user_id, preferences::text, created_ts, updated_ts`

	prefs := &store.UserPreferences{}
	if err := d.db.QueryRowContext(ctx, stmt, upsert.UserID, upsert.Preferences, now, now).Scan(
		&prefs.UserID, &prefs.Preferences, &prefs.CreatedTs, &prefs.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to upsert user preferences")
	}
	return prefs, nil
}

func (d *DB) GetUserPreferences(ctx context.Context, find *store.FindUserPreferences) (*store.UserPreferences, error) {
	prefs := &store.UserPreferences{}
	err := d.db.QueryRowContext(ctx, `SELECT user_id, preferences::text, created_ts, updated_ts
		FROM user_preferences WHERE user_id = `+placeholder(1), find.UserID,
	).Scan(&prefs.UserID, &prefs.Preferences, &prefs.CreatedTs, &prefs.UpdatedTs)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get user preferences")
	}
	return prefs, nil
}
