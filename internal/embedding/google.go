package embedding

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/chiweic/rag-08122025/internal/apperr"
)

const (
	googleBatchSize = 100
	googleRPS       = 10
)

func newGoogleEmbedder(apiKey, model string, dimension int, timeout time.Duration, log zerolog.Logger) (Embedder, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, apperr.New(apperr.Configuration, "embedding.newGoogleEmbedder", err)
	}

	cfg := &genai.EmbedContentConfig{}
	if dimension > 0 {
		cfg.OutputDimensionality = genai.Ptr(int32(dimension))
	}

	return &batcher{
		model:     model,
		dimension: dimensionFor(model, dimension),
		batchSize: googleBatchSize,
		workers:   1,
		timeout:   timeout,
		limiter:   rate.NewLimiter(rate.Limit(googleRPS), 1),
		log:       log,
		call: func(ctx context.Context, texts []string) ([][]float32, error) {
			contents := make([]*genai.Content, len(texts))
			for i, t := range texts {
				contents[i] = genai.NewContentFromText(t, genai.RoleUser)
			}
			resp, err := client.Models.EmbedContent(ctx, model, contents, cfg)
			if err != nil {
				return nil, err
			}
			out := make([][]float32, 0, len(resp.Embeddings))
			for _, e := range resp.Embeddings {
				if e == nil {
					return nil, errors.New("no response from Google")
				}
				out = append(out, e.Values)
			}
			return out, nil
		},
	}, nil
}
