package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelpers(t *testing.T) {
	m := New()
	m.RecommendationFailed("books")
	m.RecommendationFailed("books")
	m.ConfigSwapped(true)
	m.ConfigSwapped(false)
	m.Frame("answer")
	m.Indexed(42)
	m.ObserveStage("retrieval", time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecommendFails.WithLabelValues("books")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConfigSwaps.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamFrames.WithLabelValues("answer")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.IndexedPoints))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecommendationFailed("books")
		m.ObserveStage("embed", time.Now())
		m.Frame("done")
		m.ConfigSwapped(true)
		m.Indexed(1)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.Frame("start")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `rag_stream_frames_total{type="start"} 1`)
}
