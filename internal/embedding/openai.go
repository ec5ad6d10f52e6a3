package embedding

import (
	"context"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	openAIBatchSize = 100
	openAIWorkers   = 2
	openAIRPS       = 20
)

func newOpenAIEmbedder(apiKey, model string, dimension int, timeout time.Duration, log zerolog.Logger) Embedder {
	client := openai.NewClient(option.WithAPIKey(apiKey))

	return &batcher{
		model:     model,
		dimension: dimensionFor(model, dimension),
		batchSize: openAIBatchSize,
		workers:   openAIWorkers,
		timeout:   timeout,
		limiter:   rate.NewLimiter(rate.Limit(openAIRPS), 1),
		log:       log,
		call: func(ctx context.Context, texts []string) ([][]float32, error) {
			params := openai.EmbeddingNewParams{
				Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
				Model: openai.EmbeddingModel(model),
			}
			// only the v3 family accepts a shortened output
			if dimension > 0 && strings.HasPrefix(model, "text-embedding-3") {
				params.Dimensions = openai.Int(int64(dimension))
			}
			resp, err := client.Embeddings.New(ctx, params)
			if err != nil {
				return nil, err
			}
			out := make([][]float32, len(texts))
			for _, d := range resp.Data {
				if int(d.Index) >= len(out) {
					continue
				}
				vec := make([]float32, len(d.Embedding))
				for i, x := range d.Embedding {
					vec[i] = float32(x)
				}
				out[d.Index] = vec
			}
			return out, nil
		},
	}
}
