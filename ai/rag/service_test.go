package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/stylebot/ai/cache"
	"github.com/hrygo/stylebot/ai/conversation"
	"github.com/hrygo/stylebot/ai/core/llm"
	"github.com/hrygo/stylebot/ai/query"
	"github.com/hrygo/stylebot/ai/ranking"
	"github.com/hrygo/stylebot/ai/routing"
	"github.com/hrygo/stylebot/ai/vector"
)

// memMessages is an in-memory conversation.MessageStore.
type memMessages struct {
	mu       sync.Mutex
	messages map[string][]conversation.Message
	states   map[string]*conversation.State
}

func newMemMessages() *memMessages {
	return &memMessages{
		messages: map[string][]conversation.Message{},
		states:   map[string]*conversation.State{},
	}
}

func (m *memMessages) AppendMessage(_ context.Context, userID string, msg conversation.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[userID] = append(m.messages[userID], msg)
	return nil
}

func (m *memMessages) ListMessages(_ context.Context, userID string, since time.Time, limit int) ([]conversation.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []conversation.Message
	for _, msg := range m.messages[userID] {
		if msg.Timestamp.After(since) {
			out = append(out, msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memMessages) GetState(_ context.Context, userID string) (*conversation.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[userID]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (m *memMessages) SaveState(_ context.Context, userID string, state *conversation.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	m.states[userID] = &cp
	return nil
}

// fakeVectors serves products and policies from memory.
type fakeVectors struct {
	mu       sync.Mutex
	docs     []vector.Record
	err      error
	searches []string
	fetches  int
}

func (f *fakeVectors) Search(_ context.Context, q string, opts vector.SearchOptions) ([]vector.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, q)
	if f.err != nil {
		return nil, f.err
	}
	var out []vector.Match
	for i, d := range f.docs {
		if opts.Filter[DocTypeKey] != d.Metadata[DocTypeKey] {
			continue
		}
		out = append(out, vector.Match{ID: d.ID, Score: 0.9 - float32(i)*0.1, Metadata: d.Metadata})
	}
	if opts.TopK > 0 && len(out) > opts.TopK {
		out = out[:opts.TopK]
	}
	return out, nil
}

func (f *fakeVectors) Fetch(_ context.Context, ids []string) ([]vector.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	var out []vector.Record
	for _, d := range f.docs {
		for _, id := range ids {
			if d.ID == id {
				out = append(out, d)
			}
		}
	}
	return out, nil
}

func (f *fakeVectors) searchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.searches)
}

type fakeClassifier struct {
	result routing.Result
}

func (f *fakeClassifier) Classify(context.Context, string, []conversation.Message) *routing.Result {
	r := f.result
	if r.ExtractedInfo == nil {
		r.ExtractedInfo = map[string]any{}
	}
	return &r
}

type fakeLLM struct {
	answer string
	json   string
	err    error
	calls  int
}

func (f *fakeLLM) Chat(context.Context, []llm.Message) (string, *llm.LLMCallStats, error) {
	f.calls++
	if f.err != nil {
		return "", nil, f.err
	}
	return f.answer, &llm.LLMCallStats{PromptTokens: 10, CompletionTokens: 5}, nil
}

func (f *fakeLLM) ChatJSON(context.Context, []llm.Message, *llm.ResponseSchema) (string, *llm.LLMCallStats, error) {
	if f.err != nil {
		return "", nil, f.err
	}
	return f.json, &llm.LLMCallStats{}, nil
}

func (f *fakeLLM) Warmup(context.Context) {}

// indexEmbedder gives each distinct text its own axis, so only identical
// texts are similar.
type indexEmbedder struct {
	mu   sync.Mutex
	axes map[string]int
}

func (e *indexEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.axes == nil {
		e.axes = map[string]int{}
	}
	axis, ok := e.axes[text]
	if !ok {
		axis = len(e.axes) % 16
		e.axes[text] = axis
	}
	v := make([]float32, 16)
	v[axis] = 1
	return v, nil
}

type fakeProfiles struct {
	profile *ranking.UserProfile
}

func (f *fakeProfiles) GetProfile(context.Context, string) (*ranking.UserProfile, error) {
	return f.profile, nil
}

type mockOrders struct {
	mock.Mock
}

func (m *mockOrders) LookupOrder(ctx context.Context, userID, orderID string) (*Order, error) {
	args := m.Called(ctx, userID, orderID)
	order, _ := args.Get(0).(*Order)
	return order, args.Error(1)
}

type fakeCart struct {
	added []string
	err   error
}

func (f *fakeCart) AddItem(_ context.Context, _, productID, size string) error {
	if f.err != nil {
		return f.err
	}
	f.added = append(f.added, productID+"/"+size)
	return nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	statuses []string
	llmCalls int
}

func (f *fakeRecorder) RecordChatRequest(_, status string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
}

func (f *fakeRecorder) TrackActiveChat() func() { return func() {} }

func (f *fakeRecorder) RecordLLMCall(string, int, int, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.llmCalls++
}

func productDoc(id, name, style, color string, price float64, sizes ...string) vector.Record {
	variants := make([]any, 0, len(sizes))
	for _, s := range sizes {
		variants = append(variants, map[string]any{"size": s, "color": color, "price": price, "stock": 5})
	}
	return vector.Record{
		ID: id,
		Metadata: map[string]any{
			DocTypeKey: DocTypeProduct,
			"name":     name,
			"category": "áo",
			"style":    style,
			"brand":    map[string]any{"name": "Coolmate"},
			"variants": variants,
		},
	}
}

func catalogRecords() []vector.Record {
	return []vector.Record{
		productDoc("p1", "Áo thun basic trắng", "casual", "Trắng", 250000, "M", "L"),
		productDoc("p2", "Áo thun oversize đen", "streetwear", "Đen", 350000, "L", "XL"),
		{
			ID: "pol-1",
			Metadata: map[string]any{
				DocTypeKey: DocTypePolicy,
				"title":    "Chính sách đổi trả",
				"content":  "Đổi trả miễn phí trong 30 ngày với sản phẩm còn tem mác.",
			},
		},
	}
}

type harness struct {
	svc      *Service
	vectors  *fakeVectors
	messages *memMessages
	recorder *fakeRecorder
	llm      *fakeLLM
	cfg      Config
}

func newHarness(t *testing.T, intent routing.Result, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		vectors:  &fakeVectors{docs: catalogRecords()},
		messages: newMemMessages(),
		recorder: &fakeRecorder{},
	}
	cfg := Config{
		Classifier:    &fakeClassifier{result: intent},
		Conversations: conversation.NewManager(h.messages, 10),
		Vectors:       h.vectors,
		Ranker:        ranking.NewRanker(ranking.Config{Enabled: true}),
		Recorder:      h.recorder,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	if l, ok := cfg.LLM.(*fakeLLM); ok {
		h.llm = l
	}
	svc, err := NewService(cfg)
	require.NoError(t, err)
	h.svc = svc
	h.cfg = cfg
	return h
}

func (h *harness) anchor(userID string, ref *conversation.ProductRef) {
	_ = h.messages.SaveState(context.Background(), userID, &conversation.State{CurrentProduct: ref})
}

func intentOf(i routing.Intent, info map[string]any) routing.Result {
	return routing.Result{Intent: i, Confidence: 0.9, Source: routing.SourceLLM, ExtractedInfo: info}
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	_, err := NewService(Config{})
	assert.Error(t, err)

	_, err = NewService(Config{Classifier: &fakeClassifier{}, Conversations: conversation.NewManager(newMemMessages(), 10)})
	assert.Error(t, err)
}

func TestChat_InvalidRequest(t *testing.T) {
	h := newHarness(t, intentOf(routing.IntentGeneral, nil), nil)

	_, err := h.svc.Chat(context.Background(), "", "xin chào", nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.svc.Chat(context.Background(), "u1", "   ", nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestChat_ProductAdvice(t *testing.T) {
	h := newHarness(t, intentOf(routing.IntentProductAdvice, nil), nil)
	ctx := context.Background()

	resp, err := h.svc.Chat(ctx, "u1", "tìm áo thun", nil)
	require.NoError(t, err)

	assert.Equal(t, routing.IntentProductAdvice, resp.Intent)
	assert.Equal(t, conversation.ConversationID("u1"), resp.ConversationID)
	assert.NotEmpty(t, resp.RequestID)
	assert.False(t, resp.Degraded)
	require.Len(t, resp.Products, 2)
	assert.Equal(t, "p1", resp.Products[0].Product.ID)
	assert.Equal(t, 1.0, resp.Products[0].PersonalizedScore)
	assert.Contains(t, resp.Answer, "Áo thun basic trắng")
	require.NotNil(t, resp.Product)
	assert.Equal(t, "p1", resp.Product.ID)
	require.NotNil(t, resp.Insights)
	assert.Equal(t, 2, resp.Insights.TotalProducts)

	// User turn first, then the assistant turn carrying the anchor.
	history, err := h.messages.ListMessages(ctx, "u1", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, conversation.RoleUser, history[0].Role)
	assert.Equal(t, "tìm áo thun", history[0].Content)
	assert.Equal(t, conversation.RoleAssistant, history[1].Role)
	assert.Equal(t, resp.Answer, history[1].Content)

	state, err := h.messages.GetState(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, state.CurrentProduct)
	assert.Equal(t, "p1", state.CurrentProduct.ID)

	assert.Equal(t, []string{"ok"}, h.recorder.statuses)
}

func TestChat_GroundedAnswerFromLLM(t *testing.T) {
	h := newHarness(t, intentOf(routing.IntentStyleMatching, nil), func(c *Config) {
		c.LLM = &fakeLLM{answer: "Bạn phối áo thun trắng với quần jean nhé."}
		c.LLMModel = "test-model"
	})

	resp, err := h.svc.Chat(context.Background(), "u1", "phối đồ đi chơi", nil)
	require.NoError(t, err)
	assert.Equal(t, "Bạn phối áo thun trắng với quần jean nhé.", resp.Answer)
	assert.Equal(t, 1, h.llm.calls)
	assert.Equal(t, 1, h.recorder.llmCalls)
}

func TestChat_LLMFailureFallsBackToTemplate(t *testing.T) {
	h := newHarness(t, intentOf(routing.IntentProductAdvice, nil), func(c *Config) {
		c.LLM = &fakeLLM{err: errors.New("timeout")}
	})

	resp, err := h.svc.Chat(context.Background(), "u1", "tìm áo thun", nil)
	require.NoError(t, err)
	assert.False(t, resp.Degraded)
	assert.True(t, strings.HasPrefix(resp.Answer, "Mình gợi ý cho bạn"))
}

func TestChat_PersonalizationReorders(t *testing.T) {
	h := newHarness(t, intentOf(routing.IntentProductAdvice, nil), func(c *Config) {
		c.Profiles = &fakeProfiles{profile: &ranking.UserProfile{
			UserID:      "u1",
			Preferences: ranking.Preferences{StyleProfile: []string{"streetwear"}},
		}}
	})

	resp, err := h.svc.Chat(context.Background(), "u1", "tìm áo thun", nil)
	require.NoError(t, err)
	require.Len(t, resp.Products, 2)
	assert.Equal(t, "p2", resp.Products[0].Product.ID)
	assert.Equal(t, 1.3, resp.Products[0].PersonalizedScore)
	assert.Equal(t, "p2", resp.Product.ID)
	assert.Equal(t, 1, resp.Insights.PersonalizedProducts)
}

func TestChat_VectorStoreUnavailable(t *testing.T) {
	h := newHarness(t, intentOf(routing.IntentProductAdvice, nil), nil)
	h.vectors.err = fmt.Errorf("%w: search failed after 3 attempts: %w", vector.ErrUnavailable, errors.New("connection refused"))
	ctx := context.Background()

	resp, err := h.svc.Chat(ctx, "u1", "tìm áo thun", nil)
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Equal(t, degradedAnswer, resp.Answer)
	assert.Empty(t, resp.Products)
	assert.Equal(t, []string{"degraded"}, h.recorder.statuses)

	history, err := h.messages.ListMessages(ctx, "u1", time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestChat_SemanticCacheHit(t *testing.T) {
	semantic := cache.NewSemanticCache(cache.SemanticCacheConfig{
		Enabled:          true,
		EmbeddingService: &indexEmbedder{},
	})
	h := newHarness(t, intentOf(routing.IntentProductAdvice, nil), func(c *Config) {
		c.Cache = semantic
	})
	ctx := context.Background()

	first, err := h.svc.Chat(ctx, "u1", "tìm áo thun", nil)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, 1, h.vectors.searchCount())

	second, err := h.svc.Chat(ctx, "u2", "tìm áo thun", nil)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Len(t, second.Products, 2)
	assert.Equal(t, 1, h.vectors.searchCount())

	// A product change invalidates the cached answer.
	assert.Equal(t, 1, semantic.Invalidate(ctx, "p2"))
	third, err := h.svc.Chat(ctx, "u3", "tìm áo thun", nil)
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, 2, h.vectors.searchCount())
}

func TestChat_CacheIsPerIntent(t *testing.T) {
	semantic := cache.NewSemanticCache(cache.SemanticCacheConfig{
		Enabled:          true,
		EmbeddingService: &indexEmbedder{},
	})
	classifier := &fakeClassifier{result: intentOf(routing.IntentProductAdvice, nil)}
	h := newHarness(t, routing.Result{}, func(c *Config) {
		c.Classifier = classifier
		c.Cache = semantic
	})
	ctx := context.Background()

	_, err := h.svc.Chat(ctx, "u1", "áo thun", nil)
	require.NoError(t, err)

	classifier.result = intentOf(routing.IntentStyleMatching, nil)
	resp, err := h.svc.Chat(ctx, "u1", "áo thun", nil)
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.Equal(t, 2, h.vectors.searchCount())
}

func TestChat_PronounRewriteUsesAnchor(t *testing.T) {
	h := newHarness(t, intentOf(routing.IntentProductAdvice, map[string]any{routing.SlotIsFollowUp: true}), nil)
	h.anchor("u1", &conversation.ProductRef{ID: "p9", Name: "Áo Polo Navy"})

	resp, err := h.svc.Chat(context.Background(), "u1", "cái này giá bao nhiêu", nil)
	require.NoError(t, err)

	assert.Contains(t, resp.RewrittenQuery, "Áo Polo Navy")
	assert.NotContains(t, resp.RewrittenQuery, "cái này")
	require.Len(t, h.vectors.searches, 1)
	assert.Contains(t, h.vectors.searches[0], "Áo Polo Navy")
}

func TestChat_FollowUpAnswersAboutAnchor(t *testing.T) {
	h := newHarness(t, intentOf(routing.IntentProductAdvice, map[string]any{routing.SlotIsFollowUp: true}), func(c *Config) {
		c.Rewriter = query.NewRewriter([]query.Rule{})
	})
	h.anchor("u1", &conversation.ProductRef{ID: "p2", Name: "Áo thun oversize đen"})

	resp, err := h.svc.Chat(context.Background(), "u1", "còn không shop", nil)
	require.NoError(t, err)

	assert.Equal(t, 0, h.vectors.searchCount())
	assert.Equal(t, 1, h.vectors.fetches)
	require.Len(t, resp.Products, 1)
	assert.Equal(t, "p2", resp.Products[0].Product.ID)
	assert.Contains(t, resp.Answer, "Áo thun oversize đen")
}

func TestChat_ShowSimilarExcludesAnchor(t *testing.T) {
	h := newHarness(t, intentOf(routing.IntentGeneral, nil), nil)
	h.anchor("u1", &conversation.ProductRef{ID: "p1", Name: "Áo thun basic trắng", Category: "áo"})

	resp, err := h.svc.Chat(context.Background(), "u1", "xem thêm mẫu tương tự", nil)
	require.NoError(t, err)

	assert.Equal(t, routing.IntentProductAdvice, resp.Intent)
	assert.Equal(t, ActionShowSimilar, resp.Action)
	require.Len(t, resp.Products, 1)
	assert.Equal(t, "p2", resp.Products[0].Product.ID)
}

func TestChat_ParallelFilterDecomposition(t *testing.T) {
	decomposition := `{"product_type":"áo thun","filters":[{"type":"color","value":"trắng"},{"type":"price","value":"300k","operator":"lte"}]}`
	h := newHarness(t, intentOf(routing.IntentProductAdvice, nil), func(c *Config) {
		c.Decomposer = query.NewDecomposer(&fakeLLM{json: decomposition}, true)
	})

	resp, err := h.svc.Chat(context.Background(), "u1", "áo thun trắng dưới 300k", nil)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"áo thun", "áo thun trắng"}, h.vectors.searches)
	require.Len(t, resp.Products, 1)
	assert.Equal(t, "p1", resp.Products[0].Product.ID)
}

func TestChat_PolicyFAQ(t *testing.T) {
	h := newHarness(t, intentOf(routing.IntentPolicyFAQ, nil), func(c *Config) {
		c.LLM = &fakeLLM{answer: "Shop hỗ trợ đổi trả trong 30 ngày bạn nhé."}
	})

	resp, err := h.svc.Chat(context.Background(), "u1", "chính sách đổi trả thế nào", nil)
	require.NoError(t, err)
	assert.Equal(t, "Shop hỗ trợ đổi trả trong 30 ngày bạn nhé.", resp.Answer)
	assert.Equal(t, []string{"pol-1"}, resp.Sources)
	assert.Empty(t, resp.Products)
}

func TestChat_PolicyWithoutDocuments(t *testing.T) {
	h := newHarness(t, intentOf(routing.IntentPolicyFAQ, nil), nil)
	h.vectors.docs = catalogRecords()[:2]

	resp, err := h.svc.Chat(context.Background(), "u1", "phí ship bao nhiêu", nil)
	require.NoError(t, err)
	assert.Equal(t, noPolicyAnswer, resp.Answer)
	assert.Equal(t, ActionContactStaff, resp.Action)
}

func TestChat_OrderLookup(t *testing.T) {
	orders := &mockOrders{}
	orders.On("LookupOrder", mock.Anything, "u1", "DH12345").
		Return(&Order{ID: "DH12345", Status: "shipping", Carrier: "GHN", TrackingNo: "GHN001"}, nil)
	orders.On("LookupOrder", mock.Anything, "u1", "DH99999").
		Return(nil, ErrOrderNotFound)

	h := newHarness(t, intentOf(routing.IntentOrderLookup, nil), func(c *Config) {
		c.Orders = orders
	})
	ctx := context.Background()

	resp, err := h.svc.Chat(ctx, "u1", "đơn DH12345 của mình tới đâu rồi", nil)
	require.NoError(t, err)
	require.NotNil(t, resp.Order)
	assert.Contains(t, resp.Answer, "đang giao")
	assert.Contains(t, resp.Answer, "GHN001")

	resp, err = h.svc.Chat(ctx, "u1", "kiểm tra đơn DH99999", nil)
	require.NoError(t, err)
	assert.Nil(t, resp.Order)
	assert.Equal(t, ActionAskOrderID, resp.Action)

	resp, err = h.svc.Chat(ctx, "u1", "đơn của mình đâu rồi", nil)
	require.NoError(t, err)
	assert.Equal(t, ActionAskOrderID, resp.Action)

	orders.AssertExpectations(t)
}

func TestChat_OrderLookupWithoutPort(t *testing.T) {
	h := newHarness(t, intentOf(routing.IntentOrderLookup, map[string]any{routing.SlotOrderID: "DH12345"}), nil)

	resp, err := h.svc.Chat(context.Background(), "u1", "đơn DH12345", nil)
	require.NoError(t, err)
	assert.Equal(t, orderGuidanceAnswer, resp.Answer)
	assert.Equal(t, ActionContactStaff, resp.Action)
}

func TestChat_AddToCart(t *testing.T) {
	cart := &fakeCart{}
	h := newHarness(t, intentOf(routing.IntentAddToCart, map[string]any{routing.SlotSize: "L"}), func(c *Config) {
		c.Cart = cart
	})
	ctx := context.Background()

	resp, err := h.svc.Chat(ctx, "u1", "thêm vào giỏ", nil)
	require.NoError(t, err)
	assert.Equal(t, ActionAskProduct, resp.Action)
	assert.Empty(t, cart.added)

	h.anchor("u1", &conversation.ProductRef{ID: "p2", Name: "Áo thun oversize đen"})
	resp, err = h.svc.Chat(ctx, "u1", "thêm vào giỏ", nil)
	require.NoError(t, err)
	assert.Equal(t, ActionAddToCart, resp.Action)
	assert.Equal(t, []string{"p2/L"}, cart.added)
	assert.Contains(t, resp.Answer, "Áo thun oversize đen size L")
}

func TestChat_GeneralFallsBackToGreeting(t *testing.T) {
	h := newHarness(t, intentOf(routing.IntentGeneral, nil), func(c *Config) {
		c.LLM = &fakeLLM{err: errors.New("rate limited")}
	})

	resp, err := h.svc.Chat(context.Background(), "u1", "xin chào", nil)
	require.NoError(t, err)
	assert.Equal(t, greetingAnswer, resp.Answer)
	assert.False(t, resp.Degraded)
}

func TestChat_ClientHistoryIsUsed(t *testing.T) {
	h := newHarness(t, intentOf(routing.IntentAddToCart, nil), nil)
	history := []conversation.Message{
		{Role: conversation.RoleUser, Content: "áo polo"},
		{Role: conversation.RoleAssistant, Content: "Áo Polo Navy giá 300k", Metadata: map[string]any{
			conversation.MetadataProductKey: map[string]any{"id": "p9", "name": "Áo Polo Navy"},
		}},
	}

	resp, err := h.svc.Chat(context.Background(), "u1", "mua luôn", history)
	require.NoError(t, err)
	require.NotNil(t, resp.Product)
	assert.Equal(t, "p9", resp.Product.ID)
	assert.Equal(t, ActionAddToCart, resp.Action)
}
