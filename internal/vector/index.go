package vector

import (
	"context"

	"github.com/google/uuid"

	"github.com/chiweic/rag-08122025/internal/corpus"
)

// Payload keys stored with every point.
const (
	KeyContentID = "content_id"
	KeyChunkType = "chunk_type"
	KeyHeader    = "header"
	KeyTitle     = "title"
	KeyContent   = "content"
)

// pointNamespace - Fixed so re-ingesting the same record overwrites its point instead of duplicating it.
var pointNamespace = uuid.MustParse("6f1c2b7e-3d4a-5e8f-9a0b-1c2d3e4f5a6b")

// Point - One record's vector plus the payload needed to render it without a corpus lookup.
type Point struct {
	ContentID string
	Variant   corpus.Variant
	Vector    []float32
	Header    string
	Title     string
	Content   string
}

// Hit - A search result. Score is cosine similarity clamped to [0, 1]; opposite vectors score 0.
type Hit struct {
	ContentID string
	Variant   corpus.Variant
	Score     float64
	Header    string
	Title     string
	Content   string
}

// Filter - Restricts a search to one content variant. Empty Variant matches everything.
type Filter struct {
	Variant corpus.Variant
}

func (f *Filter) matches(v corpus.Variant) bool {
	return f == nil || f.Variant == "" || f.Variant == v
}

type Stats struct {
	Name      string `json:"name"`
	Count     int    `json:"count"`
	Status    string `json:"status"`
	Dimension int    `json:"dimension"`
}

// Index - A vector collection of fixed dimensionality.
type Index interface {
	// EnsureCollection makes name the active collection with the given dimension. With recreate false
	// an existing collection of another size is an apperr.DimensionMismatch. created reports whether
	// the collection was (re)built empty.
	EnsureCollection(ctx context.Context, name string, dim int, recreate bool) (created bool, err error)
	// Upsert writes points in batches of batchSize (<= 0 uses the default).
	Upsert(ctx context.Context, points []Point, batchSize int) error
	Search(ctx context.Context, vector []float32, limit int, filter *Filter) ([]Hit, error)
	// ContentIDs lists the content id of every point in the active collection.
	ContentIDs(ctx context.Context) (map[string]struct{}, error)
	// Delete removes the points of the given content ids. Unknown ids are ignored.
	Delete(ctx context.Context, contentIDs []string) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

func clampScore(s float64) float64 {
	return min(max(s, 0), 1)
}

// PointID - Deterministic point id for a content id.
func PointID(contentID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(contentID)).String()
}

// PointFromRecord - Point for r with the given embedding.
func PointFromRecord(r corpus.Record, vec []float32) Point {
	return Point{
		ContentID: r.ID,
		Variant:   r.Variant,
		Vector:    vec,
		Header:    r.Header,
		Title:     r.Title(),
		Content:   r.Content,
	}
}
