// Package retrieval turns a question into the ranked chunks that ground an answer.
package retrieval

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/chiweic/rag-08122025/internal/apperr"
	"github.com/chiweic/rag-08122025/internal/config"
	"github.com/chiweic/rag-08122025/internal/corpus"
	"github.com/chiweic/rag-08122025/internal/embedding"
	"github.com/chiweic/rag-08122025/internal/vector"
)

var tracer = otel.Tracer("github.com/chiweic/rag-08122025/internal/retrieval")

// Chunk - A retrieved record with its similarity score and the metadata shown next to a citation.
type Chunk struct {
	ID       string         `json:"id"`
	Variant  corpus.Variant `json:"type"`
	Score    float64        `json:"score"`
	Header   string         `json:"header"`
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Request - Limits set per variant selects partitioned retrieval. Otherwise TopK > 0 runs a single
// unpartitioned search, and with neither the configured per-variant defaults apply.
type Request struct {
	Query     string
	Limits    map[corpus.Variant]int
	TopK      int
	Threshold *float64
	// Variant restricts either mode to one kind of content.
	Variant corpus.Variant
}

type Retriever struct {
	index vector.Index
	store atomic.Pointer[corpus.Store]
	cfg   config.RetrievalConfig
	log   zerolog.Logger
}

// New - store may be nil; chunks then carry only what the index payload holds.
func New(index vector.Index, store *corpus.Store, cfg config.RetrievalConfig, log zerolog.Logger) *Retriever {
	if cfg.OverFetch < 1 {
		cfg.OverFetch = 1
	}
	r := &Retriever{
		index: index,
		cfg:   cfg,
		log:   log.With().Str("component", "retrieval").Logger(),
	}
	r.store.Store(store)
	return r
}

// SetStore - Swap in a reloaded corpus.
func (r *Retriever) SetStore(store *corpus.Store) {
	r.store.Store(store)
}

// DefaultLimits - The configured per-variant limits.
func (r *Retriever) DefaultLimits() map[corpus.Variant]int {
	return map[corpus.Variant]int{
		corpus.Text:  r.cfg.TextLimit,
		corpus.Audio: r.cfg.AudioLimit,
		corpus.Event: r.cfg.EventLimit,
	}
}

// Retrieve - Ranked chunks for req.Query. An empty result is not an error.
func (r *Retriever) Retrieve(ctx context.Context, emb embedding.Embedder, req Request) ([]Chunk, error) {
	const op = "retrieval.Retrieve"
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, apperr.Errorf(apperr.InvalidRequest, op, "query is empty")
	}
	if req.Variant != "" && !req.Variant.Valid() {
		return nil, apperr.Errorf(apperr.InvalidRequest, op, "unknown content type %q", req.Variant)
	}
	threshold := r.cfg.Threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	ctx, span := tracer.Start(ctx, "retrieval.Retrieve")
	defer span.End()
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	vec, err := emb.Embed(ctx, query)
	if err != nil {
		return nil, r.fail(op, err)
	}

	var chunks []Chunk
	switch {
	case len(req.Limits) > 0:
		chunks, err = r.partitioned(ctx, vec, req.Limits, req.Variant, threshold)
	case req.TopK > 0:
		chunks, err = r.plain(ctx, vec, req.TopK, req.Variant, threshold)
	default:
		chunks, err = r.partitioned(ctx, vec, r.DefaultLimits(), req.Variant, threshold)
	}
	if err != nil {
		return nil, r.fail(op, err)
	}
	span.SetAttributes(attribute.Int("retrieval.chunks", len(chunks)))
	return chunks, nil
}

func (r *Retriever) fail(op string, err error) error {
	r.log.Warn().Err(err).Msg("retrieval failed")
	switch kind := apperr.KindOf(err); kind {
	case apperr.NotInitialized, apperr.DimensionMismatch, apperr.NotFound:
		return apperr.New(kind, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Errorf(apperr.ProviderUnavailable, op, "retrieval failed: timed out after %s", r.cfg.Timeout)
	}
	return apperr.New(apperr.ProviderUnavailable, op, err)
}

func (r *Retriever) partitioned(ctx context.Context, vec []float32, limits map[corpus.Variant]int, only corpus.Variant, threshold float64) ([]Chunk, error) {
	results := make([][]vector.Hit, len(corpus.Variants))

	g, gctx := errgroup.WithContext(ctx)
	for i, v := range corpus.Variants {
		limit := limits[v]
		if limit <= 0 || (only != "" && only != v) {
			continue
		}
		g.Go(func() error {
			hits, err := r.index.Search(gctx, vec, limit*r.cfg.OverFetch, &vector.Filter{Variant: v})
			if err != nil {
				return err
			}
			results[i] = rank(hits, v, threshold, limit)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var chunks []Chunk
	for _, hits := range results {
		for _, h := range hits {
			chunks = append(chunks, r.chunk(h))
		}
	}
	return chunks, nil
}

func (r *Retriever) plain(ctx context.Context, vec []float32, topK int, only corpus.Variant, threshold float64) ([]Chunk, error) {
	var filter *vector.Filter
	if only != "" {
		filter = &vector.Filter{Variant: only}
	}
	hits, err := r.index.Search(ctx, vec, topK*r.cfg.OverFetch, filter)
	if err != nil {
		return nil, err
	}
	hits = rank(hits, only, threshold, topK)
	chunks := make([]Chunk, len(hits))
	for i, h := range hits {
		chunks[i] = r.chunk(h)
	}
	return chunks, nil
}

// rank - Drop hits of other variants or below threshold, order deterministically, keep the first limit.
func rank(hits []vector.Hit, only corpus.Variant, threshold float64, limit int) []vector.Hit {
	kept := make([]vector.Hit, 0, len(hits))
	for _, h := range hits {
		if only != "" && h.Variant != only {
			continue
		}
		if h.Score < threshold {
			continue
		}
		kept = append(kept, h)
	}
	vector.SortHits(kept)
	return kept[:min(limit, len(kept))]
}

func (r *Retriever) chunk(h vector.Hit) Chunk {
	c := Chunk{
		ID:      h.ContentID,
		Variant: h.Variant,
		Score:   h.Score,
		Header:  h.Header,
		Title:   h.Title,
		Content: h.Content,
	}
	store := r.store.Load()
	if store == nil {
		return c
	}
	rec, ok := store.Get(h.ContentID)
	if !ok {
		return c
	}
	c.Metadata = DisplayMetadata(rec)
	return c
}

// DisplayMetadata - The per-variant fields shown with a citation.
func DisplayMetadata(rec corpus.Record) map[string]any {
	m := map[string]any{}
	put := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	switch {
	case rec.Text != nil:
		put("title", rec.Text.Title)
		put("pages", rec.Text.Pages())
		put("source", rec.Text.Source)
		put("category", rec.Text.Category)
	case rec.Audio != nil:
		put("audio_id", rec.Audio.AudioID)
		put("audio_title", rec.Audio.Title)
		put("speaker", rec.Audio.Speaker)
		put("timestamp", rec.Audio.Timestamp())
		put("audio_url", rec.Audio.URL)
	case rec.Event != nil:
		put("event_id", rec.Event.EventID)
		put("event_title", rec.Event.Title)
		put("location", rec.Event.Location)
		put("time_period", rec.Event.TimePeriod)
		put("url", rec.Event.URL)
	}
	return m
}
