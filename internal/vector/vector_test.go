package vector

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/chiweic/rag-08122025/internal/apperr"
	"github.com/chiweic/rag-08122025/internal/config"
	"github.com/chiweic/rag-08122025/internal/corpus"
)

func point(id string, v corpus.Variant, vec ...float32) Point {
	return Point{ContentID: id, Variant: v, Vector: vec, Title: "title " + id, Content: "content " + id}
}

func TestEnsureCollection(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	created, err := idx.EnsureCollection(ctx, "ddm_rag", 2, false)
	require.NoError(t, err)
	assert.True(t, created)

	require.NoError(t, idx.Upsert(ctx, []Point{point("a", corpus.Text, 1, 0)}, 0))

	t.Run("idempotent", func(t *testing.T) {
		created, err := idx.EnsureCollection(ctx, "ddm_rag", 2, false)
		require.NoError(t, err)
		assert.False(t, created)
		stats, err := idx.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Count)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := idx.EnsureCollection(ctx, "ddm_rag", 3, false)
		assert.Equal(t, apperr.DimensionMismatch, apperr.KindOf(err))
		stats, err := idx.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Dimension)
	})

	t.Run("recreate", func(t *testing.T) {
		created, err := idx.EnsureCollection(ctx, "ddm_rag", 3, true)
		require.NoError(t, err)
		assert.True(t, created)
		stats, err := idx.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, Stats{Name: "ddm_rag", Count: 0, Status: "green", Dimension: 3}, stats)
	})
}

func TestUpsertRejectsWrongDimension(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	err := idx.Upsert(ctx, []Point{point("a", corpus.Text, 1, 0)}, 0)
	assert.Equal(t, apperr.NotInitialized, apperr.KindOf(err))

	_, err = idx.EnsureCollection(ctx, "c", 2, false)
	require.NoError(t, err)
	err = idx.Upsert(ctx, []Point{point("a", corpus.Text, 1, 0, 0)}, 0)
	assert.Equal(t, apperr.DimensionMismatch, apperr.KindOf(err))
}

func seeded(t *testing.T, opts ...MemoryOption) *MemoryIndex {
	t.Helper()
	ctx := context.Background()
	idx := NewMemoryIndex(opts...)
	_, err := idx.EnsureCollection(ctx, "c", 2, false)
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx, []Point{
		point("t1", corpus.Text, 1, 0),
		point("t2", corpus.Text, 1, 0.1),
		point("t3", corpus.Text, 1, 0.2),
		point("t4", corpus.Text, 1, 0.3),
		point("a1", corpus.Audio, 0, 1),
		point("e1", corpus.Event, 1, 1),
		point("t0", corpus.Text, 1, 0),
	}, 2))
	return idx
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	query := []float32{1, 0}

	t.Run("ordering and ties", func(t *testing.T) {
		hits, err := seeded(t).Search(ctx, query, 3, nil)
		require.NoError(t, err)
		require.Len(t, hits, 3)
		// t0 and t1 are identical, ties go to the smaller id
		assert.Equal(t, []string{"t0", "t1", "t2"}, ids(hits))
		assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
		assert.Equal(t, "title t0", hits[0].Title)
	})

	t.Run("pushdown filter", func(t *testing.T) {
		hits, err := seeded(t).Search(ctx, query, 2, &Filter{Variant: corpus.Audio})
		require.NoError(t, err)
		assert.Equal(t, []string{"a1"}, ids(hits))
	})

	t.Run("post filter over-fetches", func(t *testing.T) {
		// event e1 is the 6th nearest; limit 1 with factor 6 still finds it
		hits, err := seeded(t, WithoutPushdown(6)).Search(ctx, query, 1, &Filter{Variant: corpus.Event})
		require.NoError(t, err)
		assert.Equal(t, []string{"e1"}, ids(hits))

		// without enough over-fetch it is missed rather than padded with other variants
		hits, err = seeded(t, WithoutPushdown(2)).Search(ctx, query, 1, &Filter{Variant: corpus.Event})
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("opposite vectors score zero", func(t *testing.T) {
		hits, err := seeded(t).Search(ctx, []float32{-1, 0}, 7, nil)
		require.NoError(t, err)
		for _, h := range hits {
			assert.GreaterOrEqual(t, h.Score, 0.0)
			assert.LessOrEqual(t, h.Score, 1.0)
		}
		assert.Zero(t, hits[len(hits)-1].Score)
	})

	t.Run("query dimension", func(t *testing.T) {
		_, err := seeded(t).Search(ctx, []float32{1, 0, 0}, 1, nil)
		assert.Equal(t, apperr.DimensionMismatch, apperr.KindOf(err))
	})
}

func TestContentIDsAndDelete(t *testing.T) {
	ctx := context.Background()
	idx := seeded(t)

	got, err := idx.ContentIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 7)
	assert.Contains(t, got, "e1")

	require.NoError(t, idx.Delete(ctx, []string{"e1", "a1", "unknown"}))
	got, err = idx.ContentIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.NotContains(t, got, "e1")

	hits, err := idx.Search(ctx, []float32{0, 1}, 10, &Filter{Variant: corpus.Event})
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = NewMemoryIndex().ContentIDs(ctx)
	assert.Equal(t, apperr.NotInitialized, apperr.KindOf(err))
}

func TestRecreateWhileSearching(t *testing.T) {
	ctx := context.Background()
	idx := seeded(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				hits, err := idx.Search(ctx, []float32{1, 0}, 3, nil)
				if err != nil {
					// the collection flipped to 3 dimensions mid-run
					assert.Equal(t, apperr.DimensionMismatch, apperr.KindOf(err))
					continue
				}
				assert.LessOrEqual(t, len(hits), 3)
			}
		}()
	}
	_, err := idx.EnsureCollection(ctx, "c", 3, true)
	require.NoError(t, err)
	wg.Wait()
}

func TestPointID(t *testing.T) {
	assert.Equal(t, PointID("text_001"), PointID("text_001"))
	assert.NotEqual(t, PointID("text_001"), PointID("text_002"))
	assert.Len(t, PointID("text_001"), 36)
}

func TestToQdrantPoint(t *testing.T) {
	p := toQdrantPoint(point("audio_001_0", corpus.Audio, 0.5, 0.5))
	assert.Equal(t, PointID("audio_001_0"), p.GetId().GetUuid())
	assert.Equal(t, "audio", p.GetPayload()[KeyChunkType].GetStringValue())
	assert.Equal(t, "audio_001_0", p.GetPayload()[KeyContentID].GetStringValue())
	assert.Equal(t, "title audio_001_0", p.GetPayload()[KeyTitle].GetStringValue())
}

func TestAPIKeyInterceptor(t *testing.T) {
	var got []string
	invoker := func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		got = md.Get("api-key")
		return nil
	}
	err := apiKeyInterceptor("secret")(context.Background(), "/qdrant.Points/Search", nil, nil, nil, invoker)
	require.NoError(t, err)
	assert.Equal(t, []string{"secret"}, got)
}

func TestConnectIsLazy(t *testing.T) {
	cfg := config.Default().Index
	cfg.APIKey = "secret"
	db, err := Connect(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, db.Close())
}

func ids(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ContentID
	}
	return out
}
