package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPrometheusExporterCounters(t *testing.T) {
	e := NewPrometheusExporter(DefaultConfig())

	e.RecordCacheHit("semantic")
	e.RecordCacheHit("semantic")
	e.RecordCacheMiss("semantic")
	e.RecordCacheError("semantic")
	e.RecordClassification("product_advice", "llm", 20*time.Millisecond)
	e.RecordVectorOperation("search", 3, errors.New("down"), time.Second)
	e.RecordVectorOperation("search", 1, nil, 10*time.Millisecond)
	e.RecordChatRequest("product_advice", FormatStatus(true, nil), 300*time.Millisecond)
	e.RecordLLMCall("gpt-4o-mini", 120, 40, 400*time.Millisecond)

	assert.Equal(t, 2.0, e.CounterValue("stylebot_cache_hits_total", map[string]string{"cache_type": "semantic"}))
	assert.Equal(t, 1.0, e.CounterValue("stylebot_cache_errors_total", map[string]string{"cache_type": "semantic"}))
	assert.Equal(t, 1.0, e.CounterValue("stylebot_vector_operations_total", map[string]string{"operation": "search", "status": "error"}))
	assert.Equal(t, 1.0, e.CounterValue("stylebot_chat_requests_total", map[string]string{"intent": "product_advice", "status": "degraded"}))
	assert.Equal(t, 120.0, e.CounterValue("stylebot_llm_tokens_total", map[string]string{"model": "gpt-4o-mini", "token_type": "prompt"}))
	assert.Zero(t, e.CounterValue("stylebot_cache_hits_total", map[string]string{"cache_type": "other"}))
}

func TestTrackActiveChat(t *testing.T) {
	e := NewPrometheusExporter(DefaultConfig())
	done := e.TrackActiveChat()
	done()
}

func TestPrometheusExporterHandler(t *testing.T) {
	e := NewPrometheusExporter(DefaultConfig())
	e.RecordChatRequest("general", "ok", 100*time.Millisecond)
	e.RecordCacheMiss("semantic")

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "stylebot_chat_requests_total")
	assert.Contains(t, body, "stylebot_cache_misses_total")
	assert.Contains(t, body, "stylebot_chat_latency_seconds_bucket")
}

func TestFormatStatus(t *testing.T) {
	assert.Equal(t, "ok", FormatStatus(false, nil))
	assert.Equal(t, "degraded", FormatStatus(true, nil))
	assert.Equal(t, "degraded", FormatStatus(true, errors.New("x")))
	assert.Equal(t, "error", FormatStatus(false, errors.New("x")))
}
