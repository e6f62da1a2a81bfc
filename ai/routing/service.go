package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hrygo/stylebot/ai/conversation"
	"github.com/hrygo/stylebot/ai/core/llm"
)

// Recorder receives classification outcomes, typically a metrics exporter.
type Recorder interface {
	RecordClassification(intent, source string, duration time.Duration)
}

// Service classifies messages: follow-up resolution, then cache, then the
// model, then keyword rules.
type Service struct {
	llm         llm.Service
	ruleMatcher *RuleMatcher
	cache       *RouterCache
	recorder    Recorder
}

// Config contains the configuration for the router service.
type Config struct {
	LLM         llm.Service // optional; rules only when nil
	EnableCache bool
	Recorder    Recorder
}

// NewService creates a new router service.
func NewService(cfg Config) *Service {
	svc := &Service{
		llm:         cfg.LLM,
		ruleMatcher: NewRuleMatcher(),
		recorder:    cfg.Recorder,
	}
	if cfg.EnableCache {
		svc.cache = NewRouterCache(CacheConfig{})
	}
	return svc
}

// Classify never fails: every path resolves to an intent in the taxonomy.
func (s *Service) Classify(ctx context.Context, message string, history []conversation.Message) *Result {
	start := time.Now()
	result := s.classify(ctx, message, history)
	if s.recorder != nil {
		s.recorder.RecordClassification(string(result.Intent), result.Source, time.Since(start))
	}
	slog.Debug("intent classified",
		"input", truncate(message, 50),
		"intent", result.Intent,
		"confidence", result.Confidence,
		"source", result.Source,
		"latency_ms", time.Since(start).Milliseconds())
	return result
}

func (s *Service) classify(ctx context.Context, message string, history []conversation.Message) *Result {
	if r := resolveFollowUp(message, history); r != nil {
		return r
	}

	if s.cache != nil {
		if r, ok := s.cache.Get(message); ok {
			return r
		}
	}

	if s.llm != nil {
		r, err := s.classifyWithLLM(ctx, message, history)
		if err == nil {
			if s.cache != nil {
				s.cache.Set(message, r)
			}
			return r
		}
		slog.Warn("intent classification via LLM failed, using keyword rules",
			"input", truncate(message, 50),
			"error", err)
	}

	return s.ruleMatcher.Match(message)
}

type llmClassification struct {
	ExtractedInfo map[string]any `json:"extracted_info"`
	Intent        string         `json:"intent"`
	Confidence    *float64       `json:"confidence"`
}

func (s *Service) classifyWithLLM(ctx context.Context, message string, history []conversation.Message) (*Result, error) {
	content, _, err := s.llm.ChatJSON(ctx, buildClassifyMessages(message, history), classifySchema)
	if err != nil {
		return nil, err
	}

	var raw llmClassification
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("parse classification: %w", err)
	}
	intent := Intent(strings.TrimSpace(raw.Intent))
	if !intent.Valid() {
		return nil, fmt.Errorf("intent %q outside taxonomy", raw.Intent)
	}
	if raw.Confidence == nil || *raw.Confidence < 0 || *raw.Confidence > 1 {
		return nil, fmt.Errorf("confidence out of range")
	}

	return &Result{
		Intent:        intent,
		Confidence:    *raw.Confidence,
		ExtractedInfo: sanitizeSlots(raw.ExtractedInfo, message),
		Source:        SourceLLM,
	}, nil
}

// measurementTolerance absorbs rounding between the model's value and the
// parsed one, in centimetres or kilograms.
const measurementTolerance = 1

var (
	digitRun    = regexp.MustCompile(`\d+`)
	numberValue = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
)

// sanitizeSlots drops unknown and empty slots, and numeric slots whose value
// the user did not state.
func sanitizeSlots(info map[string]any, message string) map[string]any {
	out := make(map[string]any, len(info))
	for k, v := range info {
		if !allowedSlots[k] || isEmptySlot(v) {
			continue
		}
		out[k] = v
	}

	var stated map[string]any
	for _, k := range []string{SlotHeight, SlotWeight} {
		v, ok := out[k]
		if !ok {
			continue
		}
		if stated == nil {
			stated = ExtractSlots(message)
		}
		if !measurementStated(k, v, stated) {
			slog.Debug("dropping unstated slot", "slot", k, "value", v)
			delete(out, k)
			continue
		}
		out[k] = stated[k]
	}
	if v, ok := out[SlotBudget]; ok && !budgetStated(v, message) {
		slog.Debug("dropping unstated slot", "slot", SlotBudget, "value", v)
		delete(out, SlotBudget)
	}

	if v, ok := out[SlotIsFollowUp]; ok {
		if b, isBool := v.(bool); !isBool || !b {
			delete(out, SlotIsFollowUp)
		}
	}
	return out
}

func isEmptySlot(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

// measurementStated reports whether the model's height or weight matches the
// one parsed from the message.
func measurementStated(slot string, v any, stated map[string]any) bool {
	want, ok := stated[slot].(int)
	if !ok {
		return false
	}
	got, ok := measurementValue(slot, v)
	if !ok {
		return false
	}
	diff := got - float64(want)
	return diff >= -measurementTolerance && diff <= measurementTolerance
}

// measurementValue normalises heights to centimetres and weights to
// kilograms. Heights below 3 are read as metres.
func measurementValue(slot string, v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case string:
		lower := normalizeInput(t)
		if slot == SlotHeight {
			if h, ok := parseHeight(lower); ok {
				return float64(h), true
			}
		}
		raw := numberValue.FindString(lower)
		if raw == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(strings.Replace(raw, ",", ".", 1), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if slot == SlotHeight && f > 0 && f < 3 {
		f *= 100
	}
	return f, f > 0
}

// budgetStated reports whether the digits of v appear in the message. "1tr"
// and "500k" state budgets whose normalised values only share a digit prefix.
func budgetStated(v any, message string) bool {
	var s string
	switch t := v.(type) {
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case string:
		s = t
	default:
		s = fmt.Sprint(t)
	}
	want := strings.Join(digitRun.FindAllString(s, -1), "")
	if want == "" {
		return false
	}

	for _, token := range strings.Fields(message) {
		digits := strings.Join(digitRun.FindAllString(token, -1), "")
		if digits == "" {
			continue
		}
		if strings.Contains(digits, want) || strings.HasPrefix(want, digits) {
			return true
		}
	}
	return false
}

var _ IntentClassifier = (*Service)(nil)
