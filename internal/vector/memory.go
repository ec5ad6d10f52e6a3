package vector

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/chiweic/rag-08122025/internal/apperr"
	"github.com/chiweic/rag-08122025/internal/utils"
)

type memCollection struct {
	dim    int
	points map[string]Point
}

// MemoryIndex - Brute-force cosine index held in process memory. Backs tests and the
// "memory" backend for small corpora.
type MemoryIndex struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
	active      string

	// overFetch > 0 disables filter pushdown: searches pull limit*overFetch unfiltered
	// neighbours and filter afterwards, like a store without payload indexes would.
	overFetch int
}

type MemoryOption func(*MemoryIndex)

// WithoutPushdown - Apply filters after the nearest-neighbour search, over-fetching by factor.
func WithoutPushdown(factor int) MemoryOption {
	return func(m *MemoryIndex) {
		m.overFetch = max(factor, 1)
	}
}

func NewMemoryIndex(opts ...MemoryOption) *MemoryIndex {
	m := &MemoryIndex{collections: make(map[string]*memCollection)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryIndex) EnsureCollection(_ context.Context, name string, dim int, recreate bool) (bool, error) {
	const op = "vector.EnsureCollection"
	if dim <= 0 {
		return false, apperr.Errorf(apperr.InvalidRequest, op, "dimension must be positive, got %d", dim)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.collections[name]
	switch {
	case ok && !recreate && existing.dim != dim:
		return false, apperr.Errorf(apperr.DimensionMismatch, op, "collection %s has dimension %d, requested %d", name, existing.dim, dim)
	case ok && !recreate:
		m.active = name
		return false, nil
	}
	m.collections[name] = &memCollection{dim: dim, points: make(map[string]Point)}
	m.active = name
	return true, nil
}

func (m *MemoryIndex) current(op string) (*memCollection, error) {
	c, ok := m.collections[m.active]
	if !ok {
		return nil, apperr.Errorf(apperr.NotInitialized, op, "no active collection")
	}
	return c, nil
}

func (m *MemoryIndex) Upsert(ctx context.Context, points []Point, _ int) error {
	const op = "vector.Upsert"
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.current(op)
	if err != nil {
		return err
	}
	for _, p := range points {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(p.Vector) != c.dim {
			return apperr.Errorf(apperr.DimensionMismatch, op, "point %s has dimension %d, collection expects %d", p.ContentID, len(p.Vector), c.dim)
		}
		c.points[PointID(p.ContentID)] = p
	}
	return nil
}

func (m *MemoryIndex) Search(ctx context.Context, vector []float32, limit int, filter *Filter) ([]Hit, error) {
	const op = "vector.Search"
	if limit <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, err := m.current(op)
	if err != nil {
		return nil, err
	}
	if len(vector) != c.dim {
		return nil, apperr.Errorf(apperr.DimensionMismatch, op, "query has dimension %d, collection expects %d", len(vector), c.dim)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pushdown := m.overFetch == 0
	hits := make([]Hit, 0, len(c.points))
	for _, p := range c.points {
		if pushdown && !filter.matches(p.Variant) {
			continue
		}
		hits = append(hits, Hit{
			ContentID: p.ContentID,
			Variant:   p.Variant,
			Score:     clampScore(utils.Cosine(vector, p.Vector)),
			Header:    p.Header,
			Title:     p.Title,
			Content:   p.Content,
		})
	}
	SortHits(hits)

	if pushdown {
		return hits[:min(limit, len(hits))], nil
	}
	hits = hits[:min(limit*m.overFetch, len(hits))]
	out := make([]Hit, 0, limit)
	for _, h := range hits {
		if filter.matches(h.Variant) {
			out = append(out, h)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryIndex) ContentIDs(context.Context) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, err := m.current("vector.ContentIDs")
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(c.points))
	for _, p := range c.points {
		ids[p.ContentID] = struct{}{}
	}
	return ids, nil
}

func (m *MemoryIndex) Delete(_ context.Context, contentIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.current("vector.Delete")
	if err != nil {
		return err
	}
	for _, id := range contentIDs {
		delete(c.points, PointID(id))
	}
	return nil
}

func (m *MemoryIndex) Stats(context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, err := m.current("vector.Stats")
	if err != nil {
		return Stats{}, err
	}
	return Stats{Name: m.active, Count: len(c.points), Status: "green", Dimension: c.dim}, nil
}

func (m *MemoryIndex) Close() error {
	return nil
}

// SortHits - Score descending, content id ascending on ties.
func SortHits(hits []Hit) {
	slices.SortFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ContentID, b.ContentID)
	})
}
