package recommend

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chiweic/rag-08122025/internal/corpus"
	"github.com/chiweic/rag-08122025/internal/embedding"
	"github.com/chiweic/rag-08122025/internal/metrics"
)

const dateLayout = "2006-01-02"

var ErrEventNotFound = errors.New("event not found")

type Event struct {
	ID             string `json:"id"`
	ChunkID        string `json:"chunk_id"`
	Title          string `json:"title"`
	Category       string `json:"category,omitempty"`
	Location       string `json:"location,omitempty"`
	Venue          string `json:"venue,omitempty"`
	Organizer      string `json:"organizer,omitempty"`
	TargetAudience string `json:"target_audience,omitempty"`
	TimePeriod     string `json:"time_period,omitempty"`
	StartDate      string `json:"start_date,omitempty"`
	EndDate        string `json:"end_date,omitempty"`
	Content        string `json:"content"`
	URL            string `json:"url,omitempty"`
	Views          int    `json:"views,omitempty"`

	start, end time.Time
}

type EventRecommendation struct {
	Event
	SimilarityScore float64 `json:"similarity_score"`
	Relevance       string  `json:"relevance"`
}

// Events - Events catalog derived from the event records, one entry per event id.
type Events struct {
	engine *Engine[Event]
	now    func() time.Time

	mu   sync.RWMutex
	byID map[string]Event
	all  []Event
}

func NewEvents(m *metrics.Metrics, log zerolog.Logger) *Events {
	return &Events{
		engine: NewEngine[Event]("events", m, log),
		now:    time.Now,
		byID:   map[string]Event{},
	}
}

func eventFromRecord(rec corpus.Record) Event {
	meta := rec.Event
	ev := Event{
		ID:             meta.EventID,
		ChunkID:        rec.ID,
		Title:          meta.Title,
		Category:       meta.Category,
		Location:       meta.Location,
		Venue:          meta.Venue,
		Organizer:      meta.Organizer,
		TargetAudience: meta.TargetAudience,
		TimePeriod:     meta.TimePeriod,
		Content:        rec.Content,
		URL:            meta.URL,
		Views:          meta.Views,
		start:          meta.StartDate,
		end:            meta.EndDate,
	}
	if ev.ID == "" {
		ev.ID = rec.ID
	}
	if ev.Title == "" {
		ev.Title = rec.Header
	}
	if !ev.start.IsZero() {
		ev.StartDate = ev.start.Format(dateLayout)
	}
	if !ev.end.IsZero() {
		ev.EndDate = ev.end.Format(dateLayout)
	}
	return ev
}

// Build - Replace the catalog with the event records and embed them.
func (e *Events) Build(ctx context.Context, emb embedding.Embedder, records []corpus.Record) error {
	byID := map[string]Event{}
	var all []Event
	var candidates []Candidate[Event]
	for _, rec := range records {
		if rec.Event == nil {
			continue
		}
		ev := eventFromRecord(rec)
		if _, dup := byID[ev.ID]; dup {
			continue
		}
		byID[ev.ID] = ev
		all = append(all, ev)
		candidates = append(candidates, Candidate[Event]{
			ID:   ev.ID,
			Text: strings.Join([]string{ev.Title, ev.Category, ev.Location, ev.Content}, "\n"),
			Item: ev,
		})
	}
	if err := e.engine.Build(ctx, emb, candidates); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byID, e.all = byID, all
	return nil
}

func (e *Events) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.all)
}

func (e *Events) today() time.Time {
	y, m, d := e.now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

// upcoming - Not yet ended. Undated events count as upcoming.
func (e *Events) upcoming(today time.Time) func(Event) bool {
	return func(ev Event) bool {
		return ev.end.IsZero() || !ev.end.Before(today)
	}
}

func (e *Events) Recommend(ctx context.Context, emb embedding.Embedder, query string, topK int, minSimilarity float64, upcomingOnly bool) []EventRecommendation {
	var keep func(Event) bool
	if upcomingOnly {
		keep = e.upcoming(e.today())
	}
	matches := e.engine.Recommend(ctx, emb, query, topK, minSimilarity, keep)
	out := make([]EventRecommendation, len(matches))
	for i, m := range matches {
		out[i] = EventRecommendation{Event: m.Item, SimilarityScore: m.Score, Relevance: Relevance(m.Score)}
	}
	return out
}

// Upcoming - Dated events that have not ended, by start date.
func (e *Events) Upcoming(limit int) []Event {
	today := e.today()
	e.mu.RLock()
	var out []Event
	for _, ev := range e.all {
		if !ev.end.IsZero() && !ev.end.Before(today) {
			out = append(out, ev)
		}
	}
	e.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b Event) int {
		if c := a.start.Compare(b.start); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if out == nil {
		return []Event{}
	}
	return out[:min(max(limit, 0), len(out))]
}

func (e *Events) ByID(id string) (Event, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ev, ok := e.byID[id]
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return ev, nil
}
