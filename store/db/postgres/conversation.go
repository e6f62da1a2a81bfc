package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/stylebot/store"
)

func (d *DB) CreateConversationMessage(ctx context.Context, create *store.ConversationMessage) (*store.ConversationMessage, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = nowMillis()
	}
	fields := []string{"user_id", "role", "content", "intent", "metadata", "created_ts"}
	args := []any{create.UserID, create.Role, create.Content, create.Intent, create.Metadata, create.CreatedTs}
	stmt := `INSERT INTO conversation_message (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create conversation message")
	}
	return create, nil
}

func (d *DB) ListConversationMessages(ctx context.Context, find *store.FindConversationMessage) ([]*store.ConversationMessage, error) {
	where, args := []string{"user_id = " + placeholder(1)}, []any{find.UserID}
	if find.CreatedAfter != nil {
		where, args = append(where, "created_ts > "+placeholder(len(args)+1)), append(args, *find.CreatedAfter)
	}

	query := `SELECT id, user_id, role, content, intent, metadata::text, created_ts
		FROM conversation_message
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT " + placeholder(len(args))
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversation messages")
	}
	defer rows.Close()

	list := []*store.ConversationMessage{}
	for rows.Next() {
		m := &store.ConversationMessage{}
		if err := rows.Scan(&m.ID, &m.UserID, &m.Role, &m.Content, &m.Intent, &m.Metadata, &m.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan conversation message")
		}
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, nil
}

func (d *DB) GetConversationState(ctx context.Context, userID string) (*store.ConversationState, error) {
	state := &store.ConversationState{}
	err := d.db.QueryRowContext(ctx, `SELECT user_id, current_product, reset_ts, updated_ts
		FROM conversation_state WHERE user_id = `+placeholder(1), userID,
	).Scan(&state.UserID, &state.CurrentProduct, &state.ResetTs, &state.UpdatedTs)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get conversation state")
	}
	return state, nil
}

func (d *DB) UpsertConversationState(ctx context.Context, upsert *store.ConversationState) (*store.ConversationState, error) {
	upsert.UpdatedTs = nowMillis()
	stmt := `INSERT INTO conversation_state (user_id, current_product, reset_ts, updated_ts)
		VALUES (` + placeholders(4) + `)
		ON CONFLICT (user_id) DO UPDATE SET
			current_product = EXCLUDED.current_product,
			reset_ts = EXCLUDED.reset_ts,
			updated_ts = EXCLUDED.updated_ts`
	if _, err := d.db.ExecContext(ctx, stmt, upsert.UserID, upsert.CurrentProduct, upsert.ResetTs, upsert.UpdatedTs); err != nil {
		return nil, errors.Wrap(err, "failed to upsert conversation state")
	}
	return upsert, nil
}
