package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiweic/rag-08122025/internal/apperr"
	"github.com/chiweic/rag-08122025/internal/config"
	"github.com/chiweic/rag-08122025/internal/utils"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		providers config.Providers
		wantKind  apperr.Kind
		wantModel string
	}{
		{name: "local", providers: config.Providers{EmbeddingProvider: "local"}, wantModel: "local-hash"},
		{name: "ollama default model", providers: config.Providers{EmbeddingProvider: "ollama", Credentials: config.Credentials{OllamaBaseURL: "http://localhost:11434"}}, wantModel: "bge-m3"},
		{name: "openai without key", providers: config.Providers{EmbeddingProvider: "openai"}, wantKind: apperr.Configuration},
		{name: "openai", providers: config.Providers{EmbeddingProvider: "openai", Credentials: config.Credentials{OpenAIKey: "sk-test"}}, wantModel: "text-embedding-3-small"},
		{name: "dashscope without key", providers: config.Providers{EmbeddingProvider: "dashscope"}, wantKind: apperr.Configuration},
		{name: "google without key", providers: config.Providers{EmbeddingProvider: "google"}, wantKind: apperr.Configuration},
		{name: "unknown", providers: config.Providers{EmbeddingProvider: "word2vec"}, wantKind: apperr.Configuration},
		{name: "empty", providers: config.Providers{}, wantKind: apperr.Configuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Resolve(tt.providers, zerolog.Nop())
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, apperr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantModel, e.Model())
		})
	}
}

func TestKnownAndConfiguredDimensions(t *testing.T) {
	e, err := Resolve(config.Providers{EmbeddingProvider: "openai", Credentials: config.Credentials{OpenAIKey: "sk-test"}}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1536, e.Dimension())

	e, err = Resolve(config.Providers{EmbeddingProvider: "openai", EmbeddingModel: "text-embedding-3-large", EmbeddingDimension: 256, Credentials: config.Credentials{OpenAIKey: "sk-test"}}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 256, e.Dimension())
}

func TestLocalEmbedder(t *testing.T) {
	ctx := context.Background()
	e := NewLocal(0)
	assert.Equal(t, defaultLocalDimension, e.Dimension())

	q, err := e.Embed(ctx, "什麼是四聖諦？")
	require.NoError(t, err)
	related, err := e.Embed(ctx, "四聖諦\n四聖諦是苦、集、滅、道四種真理。")
	require.NoError(t, err)
	unrelated, err := e.Embed(ctx, "Weekend parking information")
	require.NoError(t, err)

	again, err := e.Embed(ctx, "什麼是四聖諦？")
	require.NoError(t, err)
	assert.Equal(t, q, again)

	assert.Greater(t, utils.Cosine(q, related), 0.3)
	assert.Greater(t, utils.Cosine(q, related), utils.Cosine(q, unrelated))
	assert.InDelta(t, 1.0, utils.Cosine(q, q), 1e-6)
}

func TestDetectDimension(t *testing.T) {
	d, err := DetectDimension(context.Background(), NewLocal(64))
	require.NoError(t, err)
	assert.Equal(t, 64, d)

	probe := &batcher{
		model:     "probe",
		batchSize: 8,
		timeout:   time.Second,
		log:       zerolog.Nop(),
		call: func(_ context.Context, texts []string) ([][]float32, error) {
			out := make([][]float32, len(texts))
			for i := range out {
				out[i] = make([]float32, 7)
			}
			return out, nil
		},
	}
	d, err = DetectDimension(context.Background(), probe)
	require.NoError(t, err)
	assert.Equal(t, 7, d)
}

func TestBatcherPreservesOrder(t *testing.T) {
	var calls atomic.Int32
	b := &batcher{
		model:     "fake",
		dimension: 1,
		batchSize: 2,
		workers:   3,
		timeout:   time.Second,
		log:       zerolog.Nop(),
		call: func(_ context.Context, texts []string) ([][]float32, error) {
			calls.Add(1)
			out := make([][]float32, len(texts))
			for i, t := range texts {
				var n int
				_, _ = fmt.Sscanf(t, "text-%d", &n)
				out[i] = []float32{float32(n)}
			}
			return out, nil
		},
	}

	texts := make([]string, 7)
	for i := range texts {
		texts[i] = fmt.Sprintf("text-%d", i)
	}
	vectors, err := b.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 7)
	for i, v := range vectors {
		assert.Equal(t, []float32{float32(i)}, v)
	}
	assert.Equal(t, int32(4), calls.Load())
}

func TestBatcherErrors(t *testing.T) {
	t.Run("dimension mismatch", func(t *testing.T) {
		b := &batcher{
			model:     "fake",
			dimension: 4,
			batchSize: 4,
			timeout:   time.Second,
			log:       zerolog.Nop(),
			call: func(_ context.Context, texts []string) ([][]float32, error) {
				return [][]float32{{1, 2}}, nil
			},
		}
		_, err := b.Embed(context.Background(), "x")
		assert.Equal(t, apperr.DimensionMismatch, apperr.KindOf(err))
	})

	t.Run("provider failure", func(t *testing.T) {
		var calls atomic.Int32
		b := &batcher{
			model:     "fake",
			batchSize: 4,
			timeout:   time.Second,
			log:       zerolog.Nop(),
			call: func(context.Context, []string) ([][]float32, error) {
				calls.Add(1)
				return nil, errors.New("connection refused")
			},
		}
		_, err := b.Embed(context.Background(), "x")
		assert.Equal(t, apperr.ProviderUnavailable, apperr.KindOf(err))
		assert.Equal(t, int32(1+callRetries), calls.Load())
	})

	t.Run("empty input", func(t *testing.T) {
		b := &batcher{model: "fake", batchSize: 4, log: zerolog.Nop()}
		vectors, err := b.EmbedBatch(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, vectors)
	})
}
