// Package recommend ranks secondary catalogs (books, events, audio, questions) against a query.
package recommend

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chiweic/rag-08122025/internal/embedding"
	"github.com/chiweic/rag-08122025/internal/metrics"
	"github.com/chiweic/rag-08122025/internal/utils"
)

// Candidate - One catalog item and the text that represents it in vector space.
type Candidate[T any] struct {
	ID   string
	Text string
	Item T
}

type Match[T any] struct {
	ID    string
	Item  T
	Score float64
}

type indexed[T any] struct {
	Candidate[T]
	vec []float32
}

// Engine - Brute-force cosine ranking over a small candidate set embedded up front.
type Engine[T any] struct {
	name    string
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu    sync.RWMutex
	items []indexed[T]
	model string
	dim   int
}

func NewEngine[T any](name string, m *metrics.Metrics, log zerolog.Logger) *Engine[T] {
	return &Engine[T]{
		name:    name,
		metrics: m,
		log:     log.With().Str("component", "recommend").Str("engine", name).Logger(),
	}
}

// Build - Embed candidates with emb and replace the current set. On error the old set stays.
func (e *Engine[T]) Build(ctx context.Context, emb embedding.Embedder, candidates []Candidate[T]) error {
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}
	var vecs [][]float32
	if len(texts) > 0 {
		var err error
		vecs, err = emb.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
	}

	items := make([]indexed[T], len(candidates))
	dim := 0
	for i, c := range candidates {
		items[i] = indexed[T]{Candidate: c, vec: vecs[i]}
		dim = len(vecs[i])
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.items, e.model, e.dim = items, emb.Model(), dim
	e.log.Info().Int("candidates", len(items)).Str("model", e.model).Msg("recommendation index built")
	return nil
}

func (e *Engine[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.items)
}

// Recommend - Candidates scoring at least minSimilarity, best first, ties by ID, at most topK.
// keep may be nil. Any failure degrades to an empty list.
func (e *Engine[T]) Recommend(ctx context.Context, emb embedding.Embedder, query string, topK int, minSimilarity float64, keep func(T) bool) []Match[T] {
	matches := []Match[T]{}
	if topK <= 0 || strings.TrimSpace(query) == "" {
		return matches
	}

	e.mu.RLock()
	items, model, dim := e.items, e.model, e.dim
	e.mu.RUnlock()
	if len(items) == 0 {
		return matches
	}
	if emb == nil || emb.Model() != model {
		e.degrade("candidates were embedded with another model, re-initialize to rebuild", nil)
		return matches
	}

	vec, err := emb.Embed(ctx, query)
	if err != nil {
		e.degrade("embedding query failed", err)
		return matches
	}
	if len(vec) != dim {
		e.degrade("query dimension differs from candidates", nil)
		return matches
	}

	for _, it := range items {
		if keep != nil && !keep(it.Item) {
			continue
		}
		score := utils.Cosine(vec, it.vec)
		if score < minSimilarity {
			continue
		}
		matches = append(matches, Match[T]{ID: it.ID, Item: it.Item, Score: score})
	}
	slices.SortStableFunc(matches, func(a, b Match[T]) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return matches[:min(topK, len(matches))]
}

func (e *Engine[T]) degrade(msg string, err error) {
	e.log.Warn().Err(err).Msg(msg)
	e.metrics.RecommendationFailed(e.name)
}

// Relevance - Coarse label for a similarity score.
func Relevance(score float64) string {
	switch {
	case score > 0.7:
		return "high"
	case score > 0.5:
		return "medium"
	default:
		return "low"
	}
}
