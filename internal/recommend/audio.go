package recommend

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chiweic/rag-08122025/internal/corpus"
	"github.com/chiweic/rag-08122025/internal/embedding"
	"github.com/chiweic/rag-08122025/internal/metrics"
)

var ErrAudioNotFound = errors.New("audio segment not found")

type AudioSegment struct {
	ID             string `json:"id"`
	AudioID        string `json:"audio_id"`
	Header         string `json:"header"`
	Content        string `json:"content"`
	Title          string `json:"audio_title"`
	URL            string `json:"audio_url,omitempty"`
	Speaker        string `json:"speaker,omitempty"`
	Section        string `json:"section,omitempty"`
	TimestampStart string `json:"timestamp_start,omitempty"`
	TimestampEnd   string `json:"timestamp_end,omitempty"`
	ChunkIndex     int    `json:"chunk_index"`
}

type AudioRecommendation struct {
	AudioSegment
	SimilarityScore float64 `json:"similarity_score"`
	Relevance       string  `json:"relevance"`
}

type Audio struct {
	engine *Engine[AudioSegment]

	mu   sync.RWMutex
	byID map[string]AudioSegment
	n    int
}

func NewAudio(m *metrics.Metrics, log zerolog.Logger) *Audio {
	return &Audio{
		engine: NewEngine[AudioSegment]("audio", m, log),
		byID:   map[string]AudioSegment{},
	}
}

func (a *Audio) Build(ctx context.Context, emb embedding.Embedder, records []corpus.Record) error {
	byID := map[string]AudioSegment{}
	var candidates []Candidate[AudioSegment]
	for _, rec := range records {
		if rec.Audio == nil {
			continue
		}
		meta := rec.Audio
		seg := AudioSegment{
			ID:             rec.ID,
			AudioID:        meta.AudioID,
			Header:         rec.Header,
			Content:        rec.Content,
			Title:          meta.Title,
			URL:            meta.URL,
			Speaker:        meta.Speaker,
			Section:        meta.Section,
			TimestampStart: meta.TimestampStart,
			TimestampEnd:   meta.TimestampEnd,
			ChunkIndex:     meta.ChunkIndex,
		}
		byID[seg.ID] = seg
		// segments are also addressable as <audio_id>_<chunk_index>
		if seg.AudioID != "" {
			composite := seg.AudioID + "_" + strconv.Itoa(seg.ChunkIndex)
			if _, taken := byID[composite]; !taken {
				byID[composite] = seg
			}
		}
		candidates = append(candidates, Candidate[AudioSegment]{
			ID:   seg.ID,
			Text: strings.Join([]string{seg.Title, seg.Speaker, seg.Section, seg.Header, seg.Content}, "\n"),
			Item: seg,
		})
	}
	if err := a.engine.Build(ctx, emb, candidates); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byID, a.n = byID, len(candidates)
	return nil
}

func (a *Audio) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.n
}

// Recommend - queryAndAnswer is the question and the produced answer joined.
func (a *Audio) Recommend(ctx context.Context, emb embedding.Embedder, queryAndAnswer string, topK int, minSimilarity float64) []AudioRecommendation {
	matches := a.engine.Recommend(ctx, emb, queryAndAnswer, topK, minSimilarity, nil)
	out := make([]AudioRecommendation, len(matches))
	for i, m := range matches {
		out[i] = AudioRecommendation{AudioSegment: m.Item, SimilarityScore: m.Score, Relevance: Relevance(m.Score)}
	}
	return out
}

func (a *Audio) ByID(id string) (AudioSegment, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	seg, ok := a.byID[id]
	if !ok {
		return AudioSegment{}, fmt.Errorf("%w: %s", ErrAudioNotFound, id)
	}
	return seg, nil
}
