package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hrygo/stylebot/ai/core/llm"
	"github.com/hrygo/stylebot/ai/query"
	"github.com/hrygo/stylebot/ai/ranking"
	"github.com/hrygo/stylebot/ai/routing"
	"github.com/hrygo/stylebot/ai/vector"
)

// maxParallelSearches bounds the parallel_filter fan-out.
const maxParallelSearches = 4

// cachedAnswer is the semantic cache payload. Products are stored unscored
// so a hit can be personalized for whoever asks.
type cachedAnswer struct {
	Intent   routing.Intent    `json:"intent"`
	Answer   string            `json:"answer"`
	Products []ranking.Product `json:"products,omitempty"`
	Sources  []string          `json:"sources,omitempty"`
}

// ProductIDs lets the cache invalidate this answer when a product changes.
func (c *cachedAnswer) ProductIDs() []string {
	ids := make([]string, 0, len(c.Products))
	for _, p := range c.Products {
		ids = append(ids, p.ID)
	}
	return ids
}

// cacheable reports whether the answer depends only on the query text.
// Follow-ups that could not be rewritten depend on the conversation.
func (s *Service) cacheable(t *turn) bool {
	if s.cache == nil || t.excludeID != "" || t.resp.Action == ActionCompare {
		return false
	}
	switch t.resp.Intent {
	case routing.IntentProductAdvice, routing.IntentStyleMatching, routing.IntentPolicyFAQ:
	default:
		return false
	}
	return !t.intent.IsFollowUp() || t.rewritten()
}

func cacheKey(t *turn) string {
	return string(t.resp.Intent) + ": " + t.query
}

// lookupCache returns a cached answer for the turn's intent.
func (s *Service) lookupCache(ctx context.Context, t *turn) (*cachedAnswer, bool) {
	if !s.cacheable(t) {
		return nil, false
	}
	hit, ok := s.cache.Get(ctx, cacheKey(t))
	if !ok {
		return nil, false
	}
	var cached cachedAnswer
	if err := hit.Decode(&cached); err != nil {
		slog.Warn("rag: undecodable cache entry, ignoring", "query", hit.Query, "error", err)
		return nil, false
	}
	if cached.Intent != t.resp.Intent {
		return nil, false
	}
	slog.Debug("rag: semantic cache hit",
		"request_id", t.resp.RequestID,
		"cached_query", hit.Query,
		"similarity", hit.Similarity)
	return &cached, true
}

func (s *Service) storeCache(ctx context.Context, t *turn, answer *cachedAnswer) {
	if !s.cacheable(t) {
		return
	}
	s.cache.Set(ctx, cacheKey(t), answer)
}

// productFlow serves product_advice and style_matching.
func (s *Service) productFlow(ctx context.Context, t *turn) error {
	if t.intent.IsFollowUp() && !t.rewritten() && t.anchor() != nil {
		return s.anchorFollowUp(ctx, t)
	}

	if cached, ok := s.lookupCache(ctx, t); ok {
		scored := s.personalize(ctx, t.userID, cached.Products)
		s.fillProducts(t, scored)
		t.resp.Answer = cached.Answer
		t.resp.Cached = true
		return nil
	}

	decomposed := s.decomposer.Decompose(ctx, t.query)
	products, err := s.retrieveProducts(ctx, t.query, decomposed)
	if err != nil {
		return err
	}
	if t.excludeID != "" {
		products = without(products, t.excludeID)
	}
	products = applyFilters(products, query.ExtractFilters(decomposed))
	products = s.rerank(ctx, t.query, products)
	if len(products) > s.maxProducts {
		products = products[:s.maxProducts]
	}

	scored := s.personalize(ctx, t.userID, products)
	s.fillProducts(t, scored)
	t.resp.Answer = s.productAnswer(ctx, t, scored)

	if len(products) > 0 {
		s.storeCache(ctx, t, &cachedAnswer{
			Intent:   t.resp.Intent,
			Answer:   t.resp.Answer,
			Products: products,
		})
	}
	return nil
}

func (s *Service) fillProducts(t *turn, scored []ranking.ScoredProduct) {
	t.resp.Products = scored
	insights := ranking.ExtractInsights(scored)
	t.resp.Insights = &insights
	if len(scored) > 0 {
		t.resp.Product = productRef(scored[0].Product)
	}
}

// anchorFollowUp answers an elliptical question about the anchor product.
func (s *Service) anchorFollowUp(ctx context.Context, t *turn) error {
	anchor := t.anchor()
	product, err := s.fetchProduct(ctx, anchor.ID)
	if err != nil {
		return err
	}
	if product == nil {
		t.resp.Answer = fmt.Sprintf("Mình chưa tìm thấy thông tin mới của %s, bạn thử hỏi lại tên sản phẩm giúp mình nhé.", anchor.DisplayName())
		t.resp.Product = anchor
		return nil
	}

	scored := s.personalize(ctx, t.userID, []ranking.Product{*product})
	s.fillProducts(t, scored)
	t.resp.Answer = s.productAnswer(ctx, t, scored)
	return nil
}

// fetchProduct loads one product by id. A missing product is (nil, nil).
func (s *Service) fetchProduct(ctx context.Context, id string) (*ranking.Product, error) {
	records, err := s.vectors.Fetch(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.ID != id {
			continue
		}
		p, err := ranking.ProductFromMetadata(r.ID, 1, r.Metadata)
		if err != nil {
			slog.Warn("rag: undecodable product metadata", "product_id", id, "error", err)
			return nil, nil
		}
		return &p, nil
	}
	return nil, nil
}

// retrieveProducts runs the decomposition's execution strategy. Any search
// failure aborts retrieval.
func (s *Service) retrieveProducts(ctx context.Context, q string, d *query.DecomposedQuery) ([]ranking.Product, error) {
	term := query.ExtractProductType(d)
	if term == "" {
		term = q
	}

	var matches []vector.Match
	var err error
	switch d.ExecutionStrategy {
	case query.StrategyParallelFilter:
		matches, err = s.parallelSearch(ctx, term, filterTerms(d))
	case query.StrategySequential:
		matches, err = s.searchProducts(ctx, term)
	default:
		matches, err = s.searchProducts(ctx, q)
	}
	if err != nil {
		return nil, err
	}
	return decodeProducts(matches), nil
}

func (s *Service) searchProducts(ctx context.Context, q string) ([]vector.Match, error) {
	return s.vectors.Search(ctx, q, vector.SearchOptions{
		Filter:          map[string]any{DocTypeKey: DocTypeProduct},
		TopK:            s.topK,
		IncludeMetadata: true,
	})
}

// parallelSearch searches the product term alone and combined with each
// filter value, keeping the best score per product.
func (s *Service) parallelSearch(ctx context.Context, term string, filters []string) ([]vector.Match, error) {
	queries := []string{term}
	for _, f := range filters {
		queries = append(queries, term+" "+f)
	}

	results := make([][]vector.Match, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelSearches)
	for i, q := range queries {
		g.Go(func() error {
			matches, err := s.searchProducts(gctx, q)
			if err != nil {
				return err
			}
			results[i] = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return mergeMatches(results), nil
}

// mergeMatches keeps the highest score per id, ordered by score.
func mergeMatches(groups [][]vector.Match) []vector.Match {
	best := map[string]int{}
	var merged []vector.Match
	for _, group := range groups {
		for _, m := range group {
			if i, ok := best[m.ID]; ok {
				if m.Score > merged[i].Score {
					merged[i] = m
				}
				continue
			}
			best[m.ID] = len(merged)
			merged = append(merged, m)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	return merged
}

// filterTerms returns the non-price filter values used to expand searches.
func filterTerms(d *query.DecomposedQuery) []string {
	var terms []string
	for _, sq := range d.SubQueries {
		switch sq.Type {
		case query.TypeColor, query.TypeBrand, query.TypeStyle:
			terms = append(terms, sq.Value)
		case query.TypeSize:
			terms = append(terms, "size "+sq.Value)
		}
	}
	return terms
}

func decodeProducts(matches []vector.Match) []ranking.Product {
	products := make([]ranking.Product, 0, len(matches))
	for _, m := range matches {
		p, err := ranking.ProductFromMetadata(m.ID, m.Score, m.Metadata)
		if err != nil {
			slog.Warn("rag: skipping undecodable product", "product_id", m.ID, "error", err)
			continue
		}
		products = append(products, p)
	}
	return products
}

func without(products []ranking.Product, id string) []ranking.Product {
	out := make([]ranking.Product, 0, len(products))
	for _, p := range products {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

// rerank reorders products with the cross-encoder. Failures keep the
// retrieval order.
func (s *Service) rerank(ctx context.Context, q string, products []ranking.Product) []ranking.Product {
	if s.reranker == nil || !s.reranker.IsEnabled() || len(products) < 2 {
		return products
	}
	docs := make([]string, len(products))
	for i, p := range products {
		docs[i] = p.Document()
	}
	results, err := s.reranker.Rerank(ctx, q, docs, len(docs))
	if err != nil {
		slog.Warn("rag: rerank failed, keeping retrieval order", "error", err)
		return products
	}
	out := make([]ranking.Product, 0, len(results))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(products) {
			continue
		}
		p := products[r.Index]
		p.Score = r.Score
		out = append(out, p)
	}
	return out
}

// personalize loads the shopper profile and ranks. A profile failure ranks
// neutrally.
func (s *Service) personalize(ctx context.Context, userID string, products []ranking.Product) []ranking.ScoredProduct {
	var profile *ranking.UserProfile
	if s.profiles != nil && s.ranker.Enabled() {
		p, err := s.profiles.GetProfile(ctx, userID)
		if err != nil {
			slog.Warn("rag: user profile unavailable, ranking without it", "user_id", userID, "error", err)
		} else {
			profile = p
		}
	}
	return s.ranker.Apply(products, profile)
}

// productAnswer writes a grounded answer, falling back to a template.
func (s *Service) productAnswer(ctx context.Context, t *turn, scored []ranking.ScoredProduct) string {
	if len(scored) == 0 {
		return noProductAnswer
	}
	if s.llm != nil {
		messages := []llm.Message{llm.SystemPrompt(productSystemPrompt)}
		messages = append(messages, historyMessages(t.conv.RecentMessages, 4)...)
		messages = append(messages, llm.UserMessage(productUserPrompt(t.query, scored)))
		answer, err := s.complete(ctx, messages)
		if err == nil {
			return answer
		}
		slog.Warn("rag: product answer generation failed, using template", "error", err)
	}
	return productTemplateAnswer(t, scored)
}

// applyFilters keeps products matching every filter. When nothing matches,
// the filters are relaxed and the input is returned.
func applyFilters(products []ranking.Product, f query.Filters) []ranking.Product {
	if f.Empty() || len(products) == 0 {
		return products
	}
	out := make([]ranking.Product, 0, len(products))
	for _, p := range products {
		if matchesFilters(p, f) {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		slog.Debug("rag: no product matches filters, relaxing", "candidates", len(products))
		return products
	}
	return out
}

func matchesFilters(p ranking.Product, f query.Filters) bool {
	if len(f.Colors) > 0 && !anyContains(append(p.Colors(), p.Name), f.Colors) {
		return false
	}
	if len(f.Sizes) > 0 && !anyEqual(p.Sizes(), f.Sizes) {
		return false
	}
	if len(f.Brands) > 0 && !anyEqual([]string{p.Brand.Name}, f.Brands) {
		return false
	}
	if len(f.Styles) > 0 && !anyContains([]string{p.Style, p.Name}, f.Styles) {
		return false
	}
	if f.HasPrice() {
		inRange := false
		for _, price := range p.Prices() {
			if price >= f.PriceMin && price <= f.PriceMax {
				inRange = true
				break
			}
		}
		if !inRange {
			return false
		}
	}
	return true
}

func anyEqual(values, wanted []string) bool {
	for _, v := range values {
		for _, w := range wanted {
			if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(w)) {
				return true
			}
		}
	}
	return false
}

func anyContains(values, wanted []string) bool {
	for _, v := range values {
		lv := strings.ToLower(v)
		for _, w := range wanted {
			if lw := strings.ToLower(strings.TrimSpace(w)); lw != "" && strings.Contains(lv, lw) {
				return true
			}
		}
	}
	return false
}
