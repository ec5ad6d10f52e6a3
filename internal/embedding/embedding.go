// Package embedding turns text into vectors through interchangeable providers.
//
// Every provider is resolved once from a config.Providers snapshot and then used through the
// Embedder interface only. Batch output always lines up with batch input.
package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/chiweic/rag-08122025/internal/apperr"
	"github.com/chiweic/rag-08122025/internal/config"
	"github.com/chiweic/rag-08122025/internal/constants"
	"github.com/chiweic/rag-08122025/internal/utils"
)

const (
	probeText   = "test"
	callRetries = 3
)

// Embedder - Text to vector. Implementations are safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension is 0 when it can only be learned by embedding something.
	Dimension() int
	Model() string
}

// knownDimensions - Output sizes of the models we've deployed with, used when config leaves the dimension unset.
var knownDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"models/embedding-001":   768,
	"text-embedding-004":     768,
	"bge-m3":                 1024,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"text-embedding-v4":      1024,
	"text-embedding-v3":      1024,
}

// Resolve - Build the embedder named by p. Unknown providers and missing credentials fail here,
// never on first use.
func Resolve(p config.Providers, log zerolog.Logger) (Embedder, error) {
	const op = "embedding.Resolve"
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = constants.ProviderTimeout
	}
	creds := p.Credentials
	log = log.With().Str("component", "embedding").Str("provider", p.EmbeddingProvider).Logger()

	switch strings.ToLower(p.EmbeddingProvider) {
	case "openai":
		if creds.OpenAIKey == "" {
			return nil, apperr.Errorf(apperr.Configuration, op, "OPENAI_API_KEY env var not set")
		}
		return newOpenAIEmbedder(creds.OpenAIKey, modelOr(p.EmbeddingModel, "text-embedding-3-small"), p.EmbeddingDimension, timeout, log), nil
	case "google", "gemini":
		if creds.GoogleKey == "" {
			return nil, apperr.Errorf(apperr.Configuration, op, "GOOGLE_API_KEY env var not set")
		}
		return newGoogleEmbedder(creds.GoogleKey, modelOr(p.EmbeddingModel, "models/embedding-001"), p.EmbeddingDimension, timeout, log)
	case "ollama":
		return newOllamaEmbedder(creds.OllamaBaseURL, modelOr(p.EmbeddingModel, "bge-m3"), p.EmbeddingDimension, p.EmbeddingWorkers, timeout, log)
	case "dashscope":
		if creds.DashScopeKey == "" {
			return nil, apperr.Errorf(apperr.Configuration, op, "DASHSCOPE_API_KEY env var not set")
		}
		return newDashScopeEmbedder(creds.DashScopeKey, modelOr(p.EmbeddingModel, "text-embedding-v4"), p.EmbeddingDimension, timeout, log), nil
	case "local":
		return NewLocal(p.EmbeddingDimension), nil
	case "":
		return nil, apperr.Errorf(apperr.Configuration, op, "embedding provider not set")
	default:
		return nil, apperr.Errorf(apperr.Configuration, op, "unknown embedding provider %q", p.EmbeddingProvider)
	}
}

// DetectDimension - The embedder's dimension, probing with a short text when it isn't known up front.
func DetectDimension(ctx context.Context, e Embedder) (int, error) {
	if d := e.Dimension(); d > 0 {
		return d, nil
	}
	vec, err := e.Embed(ctx, probeText)
	if err != nil {
		return 0, err
	}
	if len(vec) == 0 {
		return 0, apperr.Errorf(apperr.ProviderUnavailable, "embedding.DetectDimension", "%s returned an empty vector", e.Model())
	}
	return len(vec), nil
}

func modelOr(model, fallback string) string {
	if model == "" {
		return fallback
	}
	return model
}

func dimensionFor(model string, configured int) int {
	if configured > 0 {
		return configured
	}
	return knownDimensions[model]
}

// batchFunc - One provider round trip. Must return exactly len(texts) vectors in input order.
type batchFunc func(ctx context.Context, texts []string) ([][]float32, error)

// batcher - Shared plumbing for remote embedders: splitting, bounded parallelism, pacing,
// per-call timeout, retry and index-addressed reassembly.
type batcher struct {
	model     string
	dimension int
	batchSize int
	workers   int
	timeout   time.Duration
	limiter   *rate.Limiter
	call      batchFunc
	log       zerolog.Logger
}

func (b *batcher) Model() string {
	return b.model
}

func (b *batcher) Dimension() int {
	return b.dimension
}

func (b *batcher) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := b.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (b *batcher) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "embedding.EmbedBatch"
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(b.workers, 1))
	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))
		g.Go(func() error {
			if b.limiter != nil {
				if err := b.limiter.Wait(gctx); err != nil {
					return err
				}
			}
			var vectors [][]float32
			err := utils.Retry(gctx, callRetries, func(ctx context.Context) error {
				callCtx, cancel := context.WithTimeout(ctx, b.timeout)
				defer cancel()
				var err error
				vectors, err = b.call(callCtx, texts[start:end])
				return err
			})
			if err != nil {
				return err
			}
			if len(vectors) != end-start {
				return fmt.Errorf("%s returned %d vectors for %d inputs", b.model, len(vectors), end-start)
			}
			for i, v := range vectors {
				if b.dimension > 0 && len(v) != b.dimension {
					return apperr.Errorf(apperr.DimensionMismatch, op, "%s returned %d dimensions, expected %d", b.model, len(v), b.dimension)
				}
				out[start+i] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if apperr.KindOf(err) == apperr.DimensionMismatch {
			return nil, err
		}
		b.log.Warn().Err(err).Int("texts", len(texts)).Msg("embedding failed")
		return nil, apperr.New(apperr.ProviderUnavailable, op, err)
	}
	return out, nil
}
