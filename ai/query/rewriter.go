// Package query rewrites context-dependent shopper queries and decomposes
// compound queries into a product term plus filters.
package query

import (
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/hrygo/stylebot/ai/conversation"
)

// RewriteResult is the outcome of Rewrite.
type RewriteResult struct {
	Metadata    map[string]any `json:"metadata,omitempty"`
	Rewritten   string         `json:"rewritten"`
	RewriteType RuleKind       `json:"rewrite_type,omitempty"`
	HasContext  bool           `json:"has_context"`
}

// Rewriter resolves pronouns, completes partial questions and detects
// follow-up actions against the anchor product.
type Rewriter struct {
	rules []Rule
}

// NewRewriter creates a rewriter over the given rules, or the built-in table
// when rules is nil.
func NewRewriter(rules []Rule) *Rewriter {
	if rules == nil {
		rules = defaultRules
	}
	return &Rewriter{rules: rules}
}

// maxSubstitutions bounds pronoun replacement passes; adjacent phrases share
// a boundary character and need a second pass.
const maxSubstitutions = 3

// Rewrite applies the first matching rule whose anchor requirement is met.
// Without a match the query is returned unchanged.
func (r *Rewriter) Rewrite(query string, c *conversation.Context) *RewriteResult {
	trimmed := strings.TrimSpace(norm.NFC.String(query))
	var product *conversation.ProductRef
	if c != nil {
		product = c.CurrentProduct
	}

	for _, rule := range r.rules {
		m := rule.Pattern.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		if rule.NeedsProduct && product == nil {
			slog.Warn("query rewriter: rule matched without anchor product, skipping",
				"rule", rule.Name,
				"kind", rule.Kind)
			continue
		}

		switch rule.Kind {
		case KindPronoun:
			return r.resolvePronoun(rule, trimmed, m, product)
		case KindPartial:
			return completePartial(rule, m, product)
		case KindFollowUp:
			return tagAction(rule, query, product)
		}
	}

	return &RewriteResult{Rewritten: query}
}

func (r *Rewriter) resolvePronoun(rule Rule, query string, m []string, product *conversation.ProductRef) *RewriteResult {
	name := product.DisplayName()
	rewritten := query
	for range maxSubstitutions {
		next := rule.Pattern.ReplaceAllString(rewritten, "${1}"+escapeReplacement(name)+"${3}")
		if next == rewritten {
			break
		}
		rewritten = next
	}

	return &RewriteResult{
		Rewritten:   rewritten,
		HasContext:  true,
		RewriteType: KindPronoun,
		Metadata: map[string]any{
			"rule":       rule.Name,
			"pronoun":    strings.ToLower(m[2]),
			"product_id": product.ID,
		},
	}
}

func completePartial(rule Rule, m []string, product *conversation.ProductRef) *RewriteResult {
	metadata := map[string]any{
		"rule":       rule.Name,
		"product_id": product.ID,
	}
	replacements := []string{"{product}", product.DisplayName()}
	if rule.Extract != nil {
		for k, v := range rule.Extract(m) {
			replacements = append(replacements, "{"+k+"}", v)
			metadata[k] = v
		}
	}

	return &RewriteResult{
		Rewritten:   strings.NewReplacer(replacements...).Replace(rule.Template),
		HasContext:  true,
		RewriteType: KindPartial,
		Metadata:    metadata,
	}
}

func tagAction(rule Rule, query string, product *conversation.ProductRef) *RewriteResult {
	metadata := map[string]any{
		"rule":   rule.Name,
		"action": rule.Action,
	}
	if product != nil {
		metadata["product_id"] = product.ID
	}
	return &RewriteResult{
		Rewritten:   query,
		HasContext:  true,
		RewriteType: KindFollowUp,
		Metadata:    metadata,
	}
}

// NeedsContext reports whether any rule could apply to query, so callers can
// skip loading context for self-contained queries.
func (r *Rewriter) NeedsContext(query string) bool {
	trimmed := strings.TrimSpace(norm.NFC.String(query))
	for _, rule := range r.rules {
		if rule.Pattern.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// Action returns the follow-up action tag of a result, or "".
func (res *RewriteResult) Action() string {
	if res == nil || res.RewriteType != KindFollowUp {
		return ""
	}
	a, _ := res.Metadata["action"].(string)
	return a
}

func escapeReplacement(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}
