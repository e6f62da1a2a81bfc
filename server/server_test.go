package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/stylebot/internal/profile"
	"github.com/hrygo/stylebot/store"
	"github.com/hrygo/stylebot/store/db"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()
	p := &profile.Profile{
		Mode:                    "dev",
		Driver:                  "sqlite",
		DSN:                     filepath.Join(t.TempDir(), "stylebot.db"),
		EmbeddingBaseURL:        "http://127.0.0.1:1",
		EmbeddingModel:          "text-embedding-3-small",
		EnablePersonalization:   true,
		PersonalizationBoostMax: 1.5,
		EnableSemanticCache:     true,
		SemanticCacheTTLHours:   6,
		SemanticCacheThreshold:  0.95,
		ContextWindow:           10,
		RetrievalTopK:           10,
	}
	driver, err := db.NewDBDriver(p)
	require.NoError(t, err)
	st := store.New(driver, p)
	require.NoError(t, st.Migrate(ctx))

	s, err := NewServer(ctx, p, st)
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServerRoutes(t *testing.T) {
	s := newTestServer(t)

	rec := serve(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	rec = serve(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/plain")

	rec = serve(s, http.MethodGet, "/api/v1/cache/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"hits":0`)
}

func TestServerPreferencesAndHistory(t *testing.T) {
	s := newTestServer(t)

	rec := serve(s, http.MethodPut, "/api/v1/users/u1/preferences", `{"favorite_colors": ["be"], "style_profile": ["minimalist"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	prof, err := s.components.profiles.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, prof)
	assert.Equal(t, []string{"be"}, prof.Preferences.FavoriteColors)

	rec = serve(s, http.MethodGet, "/api/v1/users/u1/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Messages []json.RawMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Messages)

	rec = serve(s, http.MethodDelete, "/api/v1/users/u1/context", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestServerIngestQueue(t *testing.T) {
	s := newTestServer(t)

	// The ingestor is not started, so jobs stay queued.
	rec := serve(s, http.MethodPost, "/api/v1/vectors", `{"records": [{"id": "p1", "text": "Áo khoác gió"}]}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
