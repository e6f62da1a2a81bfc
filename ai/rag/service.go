package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/stylebot/ai/conversation"
	"github.com/hrygo/stylebot/ai/core/llm"
	"github.com/hrygo/stylebot/ai/core/reranker"
	"github.com/hrygo/stylebot/ai/metrics"
	"github.com/hrygo/stylebot/ai/query"
	"github.com/hrygo/stylebot/ai/ranking"
	"github.com/hrygo/stylebot/ai/routing"
	"github.com/hrygo/stylebot/ai/vector"
)

const (
	defaultTopK        = 10
	defaultMaxProducts = 5
	policyTopK         = 3
)

// Config wires the collaborators of a Service. Classifier, Conversations and
// Vectors are required; everything else is optional.
type Config struct {
	Classifier    routing.IntentClassifier
	Conversations ConversationManager
	Vectors       VectorSearcher

	Rewriter   *query.Rewriter
	Decomposer *query.Decomposer
	Cache      ResultCache
	Reranker   reranker.Service
	Ranker     *ranking.Ranker
	Profiles   ranking.ProfileSource
	LLM        llm.Service
	Orders     OrderLookup
	Cart       Cart
	Recorder   Recorder

	LLMModel    string
	TopK        int
	MaxProducts int
}

// Service answers shopper messages.
type Service struct {
	classifier    routing.IntentClassifier
	conversations ConversationManager
	vectors       VectorSearcher
	rewriter      *query.Rewriter
	decomposer    *query.Decomposer
	cache         ResultCache
	reranker      reranker.Service
	ranker        *ranking.Ranker
	profiles      ranking.ProfileSource
	llm           llm.Service
	orders        OrderLookup
	cart          Cart
	recorder      Recorder

	llmModel    string
	topK        int
	maxProducts int
}

// NewService creates a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Classifier == nil {
		return nil, errors.New("rag: classifier is required")
	}
	if cfg.Conversations == nil {
		return nil, errors.New("rag: conversation manager is required")
	}
	if cfg.Vectors == nil {
		return nil, errors.New("rag: vector store is required")
	}
	if cfg.Rewriter == nil {
		cfg.Rewriter = query.NewRewriter(nil)
	}
	if cfg.Decomposer == nil {
		cfg.Decomposer = query.NewDecomposer(nil, false)
	}
	if cfg.Ranker == nil {
		cfg.Ranker = ranking.NewRanker(ranking.Config{})
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.MaxProducts <= 0 {
		cfg.MaxProducts = defaultMaxProducts
	}

	return &Service{
		classifier:    cfg.Classifier,
		conversations: cfg.Conversations,
		vectors:       cfg.Vectors,
		rewriter:      cfg.Rewriter,
		decomposer:    cfg.Decomposer,
		cache:         cfg.Cache,
		reranker:      cfg.Reranker,
		ranker:        cfg.Ranker,
		profiles:      cfg.Profiles,
		llm:           cfg.LLM,
		orders:        cfg.Orders,
		cart:          cfg.Cart,
		recorder:      cfg.Recorder,
		llmModel:      cfg.LLMModel,
		topK:          cfg.TopK,
		maxProducts:   cfg.MaxProducts,
	}, nil
}

// turn carries the state of one Chat call between the flows.
type turn struct {
	conv      *conversation.Context
	intent    *routing.Result
	rewrite   *query.RewriteResult
	resp      *ChatResponse
	userID    string
	message   string
	query     string
	excludeID string
}

func (t *turn) anchor() *conversation.ProductRef {
	return t.conv.CurrentProduct
}

// rewritten reports whether the query text differs from the message.
func (t *turn) rewritten() bool {
	return t.query != t.message
}

// Chat answers one message. Only an empty user id or message is an error;
// every downstream failure is mapped to a fallback answer, with Degraded set
// when retrieval was unavailable.
func (s *Service) Chat(ctx context.Context, userID, message string, history []conversation.Message) (*ChatResponse, error) {
	userID = strings.TrimSpace(userID)
	message = strings.TrimSpace(message)
	if userID == "" || message == "" {
		return nil, fmt.Errorf("%w: user id and message are required", ErrInvalidRequest)
	}

	start := time.Now()
	if s.recorder != nil {
		done := s.recorder.TrackActiveChat()
		defer done()
	}

	conv, err := s.conversations.GetContext(ctx, userID, history)
	if err != nil {
		slog.Warn("rag: conversation context unavailable, continuing without it",
			"user_id", userID,
			"error", err)
		conv = &conversation.Context{
			ConversationID: conversation.ConversationID(userID),
			RecentMessages: history,
			History:        history,
		}
	}

	t := &turn{
		conv:    conv,
		userID:  userID,
		message: message,
		query:   message,
		resp: &ChatResponse{
			ConversationID: conv.ConversationID,
			RequestID:      shortuuid.New(),
		},
	}

	t.intent = s.classifier.Classify(ctx, message, conv.RecentMessages)
	t.resp.Intent = t.intent.Intent
	t.resp.Confidence = t.intent.Confidence
	t.resp.ExtractedInfo = t.intent.ExtractedInfo

	s.applyRewrite(t)

	flowErr := s.dispatch(ctx, t)
	unavailable := errors.Is(flowErr, vector.ErrUnavailable)
	if flowErr != nil {
		t.resp.Degraded = true
		t.resp.Answer = errorAnswer
		if unavailable {
			t.resp.Answer = degradedAnswer
		}
		t.resp.Products = nil
		t.resp.Insights = nil
		slog.Error("rag: intent flow failed",
			"request_id", t.resp.RequestID,
			"intent", t.resp.Intent,
			"error", flowErr)
	}

	s.recordTurn(ctx, t)

	if s.recorder != nil {
		s.recorder.RecordChatRequest(string(t.resp.Intent), metrics.FormatStatus(unavailable, flowErr), time.Since(start))
	}
	slog.Debug("rag: chat answered",
		"request_id", t.resp.RequestID,
		"intent", t.resp.Intent,
		"source", t.intent.Source,
		"cached", t.resp.Cached,
		"products", len(t.resp.Products),
		"latency_ms", time.Since(start).Milliseconds())
	return t.resp, nil
}

// applyRewrite resolves the message against the anchor product. Follow-up
// actions may redirect the intent.
func (s *Service) applyRewrite(t *turn) {
	if !s.rewriter.NeedsContext(t.message) {
		return
	}
	rw := s.rewriter.Rewrite(t.message, t.conv)
	if !rw.HasContext {
		return
	}
	t.rewrite = rw
	if rw.Rewritten != t.message {
		t.query = rw.Rewritten
		t.resp.RewrittenQuery = rw.Rewritten
	}

	switch rw.Action() {
	case query.ActionAddToCart:
		t.resp.Intent = routing.IntentAddToCart
	case query.ActionShowSimilar:
		t.resp.Intent = routing.IntentProductAdvice
		t.resp.Action = ActionShowSimilar
		if anchor := t.anchor(); anchor != nil {
			t.query = strings.TrimSpace(anchor.Category + " " + anchor.DisplayName())
			t.excludeID = anchor.ID
		}
	case query.ActionCompare:
		t.resp.Action = ActionCompare
	}
}

func (s *Service) dispatch(ctx context.Context, t *turn) error {
	switch t.resp.Intent {
	case routing.IntentProductAdvice, routing.IntentStyleMatching:
		return s.productFlow(ctx, t)
	case routing.IntentSizeRecommendation:
		return s.sizeFlow(ctx, t)
	case routing.IntentPolicyFAQ:
		return s.policyFlow(ctx, t)
	case routing.IntentOrderLookup:
		return s.orderFlow(ctx, t)
	case routing.IntentAddToCart:
		return s.cartFlow(ctx, t)
	default:
		return s.generalFlow(ctx, t)
	}
}

// recordTurn appends the user turn, then the assistant turn. Failures are
// logged; the answer has already been produced.
func (s *Service) recordTurn(ctx context.Context, t *turn) {
	now := time.Now()
	intent := string(t.resp.Intent)

	user := conversation.Message{
		Role:      conversation.RoleUser,
		Content:   t.message,
		Intent:    intent,
		Timestamp: now,
	}
	if err := s.conversations.AddMessage(ctx, t.userID, user); err != nil {
		slog.Warn("rag: failed to append user message", "user_id", t.userID, "error", err)
		return
	}

	metadata := map[string]any{"request_id": t.resp.RequestID}
	if t.resp.Product != nil {
		metadata[conversation.MetadataProductKey] = t.resp.Product
	}
	if t.resp.Action != "" {
		metadata["action"] = t.resp.Action
	}
	assistant := conversation.Message{
		Role:      conversation.RoleAssistant,
		Content:   t.resp.Answer,
		Intent:    intent,
		Metadata:  metadata,
		Timestamp: now.Add(time.Millisecond),
	}
	if err := s.conversations.AddMessage(ctx, t.userID, assistant); err != nil {
		slog.Warn("rag: failed to append assistant message", "user_id", t.userID, "error", err)
	}
}

// complete calls the model and records usage. An empty answer is an error.
func (s *Service) complete(ctx context.Context, messages []llm.Message) (string, error) {
	if s.llm == nil {
		return "", errors.New("llm not configured")
	}
	start := time.Now()
	content, stats, err := s.llm.Chat(ctx, messages)
	if err != nil {
		return "", err
	}
	if s.recorder != nil && stats != nil {
		s.recorder.RecordLLMCall(s.llmModel, stats.PromptTokens, stats.CompletionTokens, time.Since(start))
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", llm.ErrEmptyResponse
	}
	return content, nil
}

// historyMessages converts recent turns to model messages.
func historyMessages(msgs []conversation.Message, limit int) []llm.Message {
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case conversation.RoleUser:
			out = append(out, llm.UserMessage(m.Content))
		case conversation.RoleAssistant:
			out = append(out, llm.AssistantMessage(m.Content))
		}
	}
	return out
}

func productRef(p ranking.Product) *conversation.ProductRef {
	return &conversation.ProductRef{ID: p.ID, Name: p.Name, Category: p.Category}
}
