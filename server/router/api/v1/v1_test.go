package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/stylebot/ai/cache"
	"github.com/hrygo/stylebot/ai/conversation"
	"github.com/hrygo/stylebot/ai/rag"
	"github.com/hrygo/stylebot/ai/ranking"
	"github.com/hrygo/stylebot/ai/routing"
	"github.com/hrygo/stylebot/ai/vector"
)

type fakeChat struct {
	resp    *rag.ChatResponse
	err     error
	userID  string
	message string
	history []conversation.Message
}

func (f *fakeChat) Chat(_ context.Context, userID, message string, history []conversation.Message) (*rag.ChatResponse, error) {
	f.userID, f.message, f.history = userID, message, history
	return f.resp, f.err
}

type fakeConversations struct {
	messages []conversation.Message
	limit    int
	cleared  []string
}

func (f *fakeConversations) GetHistory(_ context.Context, _ string, limit int) ([]conversation.Message, error) {
	f.limit = limit
	return f.messages, nil
}

func (f *fakeConversations) ClearContext(_ context.Context, userID string) error {
	f.cleared = append(f.cleared, userID)
	return nil
}

type fakePreferences struct {
	saved map[string]ranking.Preferences
}

func (f *fakePreferences) SaveProfile(_ context.Context, userID string, prefs ranking.Preferences) (*ranking.UserProfile, error) {
	if f.saved == nil {
		f.saved = map[string]ranking.Preferences{}
	}
	f.saved[userID] = prefs
	return &ranking.UserProfile{UserID: userID, Preferences: prefs}, nil
}

type fakeCache struct {
	perProduct  map[string]int
	invalidated []string
	flushes     int
}

func (f *fakeCache) Stats(context.Context) cache.Stats {
	return cache.Stats{Hits: 3, Misses: 1, HitRate: 0.75, Size: 2}
}

func (f *fakeCache) Invalidate(_ context.Context, productID string) int {
	f.invalidated = append(f.invalidated, productID)
	return f.perProduct[productID]
}

func (f *fakeCache) Flush(context.Context) { f.flushes++ }

type fakeIngestor struct {
	jobs []vector.Job
	err  error
}

func (f *fakeIngestor) Enqueue(job vector.Job) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeDeleter struct {
	filter  map[string]any
	deleted int
	err     error
}

func (f *fakeDeleter) Delete(_ context.Context, filter map[string]any) (int, error) {
	f.filter = filter
	return f.deleted, f.err
}

func newTestServer(s *APIV1Service) *echo.Echo {
	e := echo.New()
	s.RegisterRoutes(e)
	return e
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestChatHandler(t *testing.T) {
	chat := &fakeChat{resp: &rag.ChatResponse{
		Intent:         routing.IntentProductAdvice,
		Answer:         "Mình gợi ý cho bạn một số mẫu:",
		ConversationID: "conv-1",
	}}
	e := newTestServer(&APIV1Service{Chat: chat})

	rec := do(e, http.MethodPost, "/api/v1/chat", `{
		"user_id": " u1 ",
		"message": "áo thun trắng",
		"conversation_history": [{"role": "user", "content": "chào shop"}]
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "product_advice", body["intent"])
	assert.Equal(t, "conv-1", body["conversation_id"])
	assert.Equal(t, "u1", chat.userID)
	assert.Equal(t, "áo thun trắng", chat.message)
	require.Len(t, chat.history, 1)
	assert.Equal(t, "chào shop", chat.history[0].Content)
}

func TestChatHandlerValidation(t *testing.T) {
	e := newTestServer(&APIV1Service{Chat: &fakeChat{resp: &rag.ChatResponse{}}})

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"user_id":`},
		{"missing user", `{"message": "hi"}`},
		{"blank message", `{"user_id": "u1", "message": "   "}`},
		{"too long", `{"user_id": "u1", "message": "` + strings.Repeat("á", maxMessageLength+1) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, http.MethodPost, "/api/v1/chat", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestChatHandlerErrors(t *testing.T) {
	t.Run("invalid request from service", func(t *testing.T) {
		e := newTestServer(&APIV1Service{Chat: &fakeChat{err: errors.Wrap(rag.ErrInvalidRequest, "empty")}})
		rec := do(e, http.MethodPost, "/api/v1/chat", `{"user_id": "u1", "message": "hi"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("internal failure", func(t *testing.T) {
		e := newTestServer(&APIV1Service{Chat: &fakeChat{err: errors.New("boom")}})
		rec := do(e, http.MethodPost, "/api/v1/chat", `{"user_id": "u1", "message": "hi"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "boom")
	})

	t.Run("not configured", func(t *testing.T) {
		e := newTestServer(&APIV1Service{})
		rec := do(e, http.MethodPost, "/api/v1/chat", `{"user_id": "u1", "message": "hi"}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHistoryAndContext(t *testing.T) {
	convs := &fakeConversations{messages: []conversation.Message{
		{Role: conversation.RoleUser, Content: "áo sơ mi"},
	}}
	e := newTestServer(&APIV1Service{Conversations: convs})

	rec := do(e, http.MethodGet, "/api/v1/users/u1/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, convs.limit)

	var body struct {
		UserID         string                 `json:"user_id"`
		ConversationID string                 `json:"conversation_id"`
		Messages       []conversation.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "u1", body.UserID)
	assert.Equal(t, conversation.ConversationID("u1"), body.ConversationID)
	require.Len(t, body.Messages, 1)

	rec = do(e, http.MethodGet, "/api/v1/users/u1/history?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, convs.limit)

	rec = do(e, http.MethodGet, "/api/v1/users/u1/history?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodDelete, "/api/v1/users/u1/context", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"u1"}, convs.cleared)
}

func TestUpdatePreferences(t *testing.T) {
	prefs := &fakePreferences{}
	e := newTestServer(&APIV1Service{Preferences: prefs})

	rec := do(e, http.MethodPut, "/api/v1/users/u1/preferences", `{
		"favorite_colors": ["đen"],
		"budget_range": {"min": 200000, "max": 500000}
	}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"đen"}, prefs.saved["u1"].FavoriteColors)
	assert.Contains(t, rec.Body.String(), `"user_id":"u1"`)

	rec = do(e, http.MethodPut, "/api/v1/users/u2/preferences", `{"budget_range": {"min": 500000, "max": 100000}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotContains(t, prefs.saved, "u2")
}

func TestCacheEndpoints(t *testing.T) {
	c := &fakeCache{perProduct: map[string]int{"p1": 2, "p2": 1}}
	e := newTestServer(&APIV1Service{Cache: c})

	rec := do(e, http.MethodGet, "/api/v1/cache/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"hit_rate":0.75`)

	rec = do(e, http.MethodPost, "/api/v1/cache/invalidate", `{"product_ids": ["p1", " ", "p2"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"invalidated": 3}`, rec.Body.String())
	assert.Equal(t, []string{"p1", "p2"}, c.invalidated)

	rec = do(e, http.MethodDelete, "/api/v1/cache", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, c.flushes)

	rec = do(newTestServer(&APIV1Service{}), http.MethodGet, "/api/v1/cache/stats", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUpsertVectors(t *testing.T) {
	ingestor := &fakeIngestor{}
	e := newTestServer(&APIV1Service{Ingestor: ingestor})

	rec := do(e, http.MethodPost, "/api/v1/vectors", `{"records": [
		{"id": "p1", "text": "Áo thun basic trắng", "metadata": {"doc_type": "product"}},
		{"id": "p2", "values": [0.1, 0.2]}
	]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"queued": 2}`, rec.Body.String())
	require.Len(t, ingestor.jobs, 1)
	assert.Len(t, ingestor.jobs[0].Upsert, 2)

	rec = do(e, http.MethodPost, "/api/v1/vectors", `{"records": [{"id": "p3"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodPost, "/api/v1/vectors", `{"records": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ingestor.err = vector.ErrQueueFull
	rec = do(e, http.MethodPost, "/api/v1/vectors", `{"records": [{"id": "p4", "text": "quần jean"}]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDeleteVectors(t *testing.T) {
	t.Run("by ids is queued", func(t *testing.T) {
		ingestor := &fakeIngestor{}
		e := newTestServer(&APIV1Service{Ingestor: ingestor})

		rec := do(e, http.MethodDelete, "/api/v1/vectors", `{"ids": ["p1", "p2"]}`)
		require.Equal(t, http.StatusAccepted, rec.Code)
		require.Len(t, ingestor.jobs, 1)
		assert.Equal(t, []string{"p1", "p2"}, ingestor.jobs[0].DeleteIDs)
	})

	t.Run("by filter flushes cache", func(t *testing.T) {
		deleter := &fakeDeleter{deleted: 4}
		c := &fakeCache{}
		e := newTestServer(&APIV1Service{Vectors: deleter, Cache: c})

		rec := do(e, http.MethodDelete, "/api/v1/vectors", `{"filter": {"brand": "Coolmate"}}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"deleted": 4}`, rec.Body.String())
		assert.Equal(t, "Coolmate", deleter.filter["brand"])
		assert.Equal(t, 1, c.flushes)
	})

	t.Run("filter matching nothing keeps cache", func(t *testing.T) {
		c := &fakeCache{}
		e := newTestServer(&APIV1Service{Vectors: &fakeDeleter{}, Cache: c})

		rec := do(e, http.MethodDelete, "/api/v1/vectors", `{"filter": {"brand": "none"}}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Zero(t, c.flushes)
	})

	t.Run("store unavailable", func(t *testing.T) {
		deleter := &fakeDeleter{err: errors.Wrap(vector.ErrUnavailable, "index down")}
		e := newTestServer(&APIV1Service{Vectors: deleter})

		rec := do(e, http.MethodDelete, "/api/v1/vectors", `{"filter": {"brand": "x"}}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("ids and filter together", func(t *testing.T) {
		e := newTestServer(&APIV1Service{Ingestor: &fakeIngestor{}, Vectors: &fakeDeleter{}})

		rec := do(e, http.MethodDelete, "/api/v1/vectors", `{"ids": ["p1"], "filter": {"brand": "x"}}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
