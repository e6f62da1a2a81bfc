package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, content string, capture *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		if capture != nil {
			body := map[string]any{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			*capture = body
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewService(t *testing.T) {
	t.Run("unknown provider without base url", func(t *testing.T) {
		_, err := NewService(&Config{Provider: "unsupported", Model: "m"})
		assert.Error(t, err)
	})

	t.Run("model required", func(t *testing.T) {
		_, err := NewService(&Config{Provider: "openai"})
		assert.Error(t, err)
	})

	t.Run("known provider defaults", func(t *testing.T) {
		for _, provider := range []string{"openai", "deepseek", "siliconflow", "openrouter", "ollama"} {
			svc, err := NewService(&Config{Provider: provider, Model: "m", APIKey: "k"})
			require.NoError(t, err, provider)
			assert.NotNil(t, svc)
		}
	})

	t.Run("generic provider with base url", func(t *testing.T) {
		svc, err := NewService(&Config{Provider: "custom", Model: "m", BaseURL: "http://localhost:9999/v1"})
		require.NoError(t, err)
		assert.NotNil(t, svc)
	})
}

func TestChat(t *testing.T) {
	var body map[string]any
	srv := newTestServer(t, "Xin chào!", &body)

	svc, err := NewService(&Config{Provider: "custom", Model: "test-model", BaseURL: srv.URL})
	require.NoError(t, err)

	content, stats, err := svc.Chat(context.Background(), []Message{
		SystemPrompt("be nice"),
		UserMessage("chào"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Xin chào!", content)
	assert.Equal(t, 15, stats.TotalTokens)

	messages := body["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Nil(t, body["response_format"])
}

func TestChatJSON(t *testing.T) {
	var body map[string]any
	srv := newTestServer(t, "```json\n{\"intent\":\"general\"}\n```", &body)

	svc, err := NewService(&Config{Provider: "custom", Model: "test-model", BaseURL: srv.URL})
	require.NoError(t, err)

	schema := &ResponseSchema{
		Name: "intent",
		Schema: &JSONSchema{
			Type:     "object",
			Required: []string{"intent"},
			Properties: map[string]*JSONSchema{
				"intent": {Type: "string", Enum: []string{"general"}},
			},
		},
	}
	content, _, err := svc.ChatJSON(context.Background(), []Message{UserMessage("hi")}, schema)
	require.NoError(t, err)
	assert.JSONEq(t, `{"intent":"general"}`, content)

	format := body["response_format"].(map[string]any)
	assert.Equal(t, "json_schema", format["type"])
	jsonSchema := format["json_schema"].(map[string]any)
	assert.Equal(t, "intent", jsonSchema["name"])

	_, _, err = svc.ChatJSON(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestChatServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	t.Cleanup(srv.Close)

	svc, err := NewService(&Config{Provider: "custom", Model: "m", BaseURL: srv.URL})
	require.NoError(t, err)

	_, _, err = svc.Chat(context.Background(), []Message{UserMessage("hi")})
	assert.Error(t, err)
}

func TestSchemaMarshal(t *testing.T) {
	s := &JSONSchema{Type: "number", Minimum: Float(0), Maximum: Float(1)}
	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"number","minimum":0,"maximum":1,"additionalProperties":false}`, string(b))
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(`  {"a":1} `))
}

func TestConvertMessages(t *testing.T) {
	out := convertMessages([]Message{SystemPrompt("s"), AssistantMessage("a"), {Role: "weird", Content: "w"}})
	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, "assistant", out[1].Role)
	assert.Equal(t, "user", out[2].Role)
}
