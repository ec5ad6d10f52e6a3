package pipeline

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/chiweic/rag-08122025/internal/apperr"
	"github.com/chiweic/rag-08122025/internal/constants"
	"github.com/chiweic/rag-08122025/internal/recommend"
)

func emptyQuery(op, query string) error {
	if strings.TrimSpace(query) == "" {
		return apperr.Errorf(apperr.InvalidRequest, op, "query is empty")
	}
	return nil
}

func (p *Pipeline) RecommendBooks(ctx context.Context, query string, topK int, minSimilarity float64) ([]recommend.BookRecommendation, error) {
	if err := emptyQuery("pipeline.RecommendBooks", query); err != nil {
		return nil, err
	}
	return p.books.Recommend(ctx, p.snapshot().embedder, query, topK, minSimilarity), nil
}

func (p *Pipeline) RecommendEvents(ctx context.Context, query string, topK int, minSimilarity float64, upcomingOnly bool) ([]recommend.EventRecommendation, error) {
	if err := emptyQuery("pipeline.RecommendEvents", query); err != nil {
		return nil, err
	}
	return p.events.Recommend(ctx, p.snapshot().embedder, query, topK, minSimilarity, upcomingOnly), nil
}

// RecommendAudio - queryAndAnswer is the question followed by the answer it got.
func (p *Pipeline) RecommendAudio(ctx context.Context, queryAndAnswer string, topK int, minSimilarity float64) ([]recommend.AudioRecommendation, error) {
	if err := emptyQuery("pipeline.RecommendAudio", queryAndAnswer); err != nil {
		return nil, err
	}
	return p.audio.Recommend(ctx, p.snapshot().embedder, queryAndAnswer, topK, minSimilarity), nil
}

func (p *Pipeline) RelatedQueries(ctx context.Context, query string, topK int, minSimilarity float64, category string) ([]recommend.RelatedQuery, error) {
	if err := emptyQuery("pipeline.RelatedQueries", query); err != nil {
		return nil, err
	}
	return p.queries.Related(ctx, p.snapshot().embedder, query, topK, minSimilarity, category), nil
}

type Recommendations struct {
	Books   []recommend.BookRecommendation  `json:"books"`
	Events  []recommend.EventRecommendation `json:"events"`
	Audio   []recommend.AudioRecommendation `json:"audio"`
	Queries []recommend.RelatedQuery        `json:"related_queries"`
}

// Recommend - All four catalogs for one answered question, with their default limits. The engines
// run concurrently and none of them can fail the others.
func (p *Pipeline) Recommend(ctx context.Context, question, answer string) (Recommendations, error) {
	if err := emptyQuery("pipeline.Recommend", question); err != nil {
		return Recommendations{}, err
	}
	ctx, span := tracer.Start(ctx, "pipeline.Recommend")
	defer span.End()

	emb := p.snapshot().embedder
	minSim := constants.DefaultMinSimilarity
	var recs Recommendations
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		recs.Books = p.books.Recommend(ctx, emb, question, constants.DefaultBookTopK, minSim)
		return nil
	})
	g.Go(func() error {
		recs.Events = p.events.Recommend(ctx, emb, question, constants.DefaultEventTopK, minSim, true)
		return nil
	})
	g.Go(func() error {
		recs.Audio = p.audio.Recommend(ctx, emb, strings.TrimSpace(question+"\n"+answer), constants.DefaultAudioTopK, minSim)
		return nil
	})
	g.Go(func() error {
		recs.Queries = p.queries.Related(ctx, emb, question, constants.DefaultRelatedTopK, minSim, "")
		return nil
	})
	return recs, g.Wait()
}

func notFound(op string, err error) error {
	return apperr.New(apperr.NotFound, op, err)
}

func (p *Pipeline) Book(isbn string) (recommend.Book, error) {
	book, err := p.books.ByISBN(isbn)
	if errors.Is(err, recommend.ErrBookNotFound) {
		return recommend.Book{}, notFound("pipeline.Book", err)
	}
	return book, err
}

func (p *Pipeline) RandomBooks(n int) []recommend.Book {
	return p.books.Random(n)
}

func (p *Pipeline) UpcomingEvents(limit int) []recommend.Event {
	return p.events.Upcoming(limit)
}

func (p *Pipeline) Event(id string) (recommend.Event, error) {
	ev, err := p.events.ByID(id)
	if errors.Is(err, recommend.ErrEventNotFound) {
		return recommend.Event{}, notFound("pipeline.Event", err)
	}
	return ev, err
}

func (p *Pipeline) AudioSegment(id string) (recommend.AudioSegment, error) {
	seg, err := p.audio.ByID(id)
	if errors.Is(err, recommend.ErrAudioNotFound) {
		return recommend.AudioSegment{}, notFound("pipeline.AudioSegment", err)
	}
	return seg, err
}

func (p *Pipeline) PopularQueries(limit int) []recommend.QueryItem {
	return p.queries.Popular(limit)
}
