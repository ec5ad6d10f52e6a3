package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiweic/rag-08122025/internal/config"
	"github.com/chiweic/rag-08122025/internal/corpus"
	"github.com/chiweic/rag-08122025/internal/embedding"
	"github.com/chiweic/rag-08122025/internal/llms"
	"github.com/chiweic/rag-08122025/internal/pipeline"
	"github.com/chiweic/rag-08122025/internal/recommend"
)

func newApp(t *testing.T) *App {
	t.Helper()
	store, err := corpus.NewStore([]corpus.Record{
		{ID: "text_001", Variant: corpus.Text, Header: "四聖諦", Content: "什麼是四聖諦？四聖諦是苦諦、集諦、滅諦、道諦。",
			Text: &corpus.TextMeta{Title: "佛法綱要"}},
	})
	require.NoError(t, err)

	a, err := New(Options{Backend: "memory", LogLevel: "error"},
		pipeline.WithCorpus(store),
		pipeline.WithBooks([]recommend.Book{}),
		pipeline.WithResolvers(
			func(config.Providers, zerolog.Logger) (embedding.Embedder, error) { return embedding.NewLocal(0), nil },
			func(config.Providers, zerolog.Logger) (llms.Generator, error) {
				return llms.NewMockLLM("mock", "苦集滅道"), nil
			},
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestInitializeAndMetrics(t *testing.T) {
	a := newApp(t)
	a.Initialize(context.Background(), pipeline.InitializeRequest{})
	require.True(t, a.Pipeline.Initialized())

	e := a.Echo()
	assert.Equal(t, http.StatusOK, get(e, "/config").Code)
	assert.Equal(t, http.StatusNotFound, get(e, "/chunk/missing").Code)

	rec := get(e, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `rag_http_requests_total{method="GET",route="/config",status="200"} 1`)
	assert.Contains(t, body, `rag_http_requests_total{method="GET",route="/chunk/:id",status="404"} 1`)
	assert.Contains(t, body, "rag_indexed_points 1")
}

func TestRateLimit(t *testing.T) {
	a := newApp(t)
	a.Config.Server.RateLimit = 1
	e := a.Echo()

	assert.Equal(t, http.StatusOK, get(e, "/config").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(e, "/config").Code)
	for range 3 {
		assert.Equal(t, http.StatusOK, get(e, "/health").Code)
	}
}

func TestOpenIndexMemory(t *testing.T) {
	idx, err := OpenIndex(config.IndexConfig{Backend: "memory"}, zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, idx.Close())
}
