package conversation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/stylebot/store"
)

// StoreAdapter adapts *store.Store to MessageStore.
type StoreAdapter struct {
	store *store.Store
}

// NewStoreAdapter creates a new store adapter.
func NewStoreAdapter(s *store.Store) *StoreAdapter {
	return &StoreAdapter{store: s}
}

func (a *StoreAdapter) AppendMessage(ctx context.Context, userID string, msg Message) error {
	metadata, err := marshalMetadata(msg.Metadata)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message metadata")
	}
	_, err = a.store.CreateConversationMessage(ctx, &store.ConversationMessage{
		UserID:    userID,
		Role:      store.ConversationRole(msg.Role),
		Content:   msg.Content,
		Intent:    msg.Intent,
		Metadata:  metadata,
		CreatedTs: msg.Timestamp.UnixMilli(),
	})
	return err
}

func (a *StoreAdapter) ListMessages(ctx context.Context, userID string, since time.Time, limit int) ([]Message, error) {
	find := &store.FindConversationMessage{UserID: userID, Limit: limit}
	if !since.IsZero() {
		after := since.UnixMilli()
		find.CreatedAfter = &after
	}
	rows, err := a.store.ListConversationMessages(ctx, find)
	if err != nil {
		return nil, err
	}

	msgs := make([]Message, 0, len(rows))
	for _, r := range rows {
		msg := Message{
			Role:      Role(r.Role),
			Content:   r.Content,
			Intent:    r.Intent,
			Timestamp: time.UnixMilli(r.CreatedTs),
		}
		if r.Metadata != "" && r.Metadata != "{}" {
			if err := json.Unmarshal([]byte(r.Metadata), &msg.Metadata); err != nil {
				return nil, errors.Wrapf(err, "failed to unmarshal metadata of message %d", r.ID)
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (a *StoreAdapter) GetState(ctx context.Context, userID string) (*State, error) {
	row, err := a.store.GetConversationState(ctx, userID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}

	state := &State{}
	if row.ResetTs > 0 {
		state.ResetAt = time.UnixMilli(row.ResetTs)
	}
	if row.CurrentProduct != "" {
		product := &ProductRef{}
		if err := json.Unmarshal([]byte(row.CurrentProduct), product); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal current product")
		}
		state.CurrentProduct = product
	}
	return state, nil
}

func (a *StoreAdapter) SaveState(ctx context.Context, userID string, state *State) error {
	row := &store.ConversationState{UserID: userID}
	if !state.ResetAt.IsZero() {
		row.ResetTs = state.ResetAt.UnixMilli()
	}
	if state.CurrentProduct != nil {
		b, err := json.Marshal(state.CurrentProduct)
		if err != nil {
			return errors.Wrap(err, "failed to marshal current product")
		}
		row.CurrentProduct = string(b)
	}
	_, err := a.store.UpsertConversationState(ctx, row)
	return err
}

var _ MessageStore = (*StoreAdapter)(nil)
