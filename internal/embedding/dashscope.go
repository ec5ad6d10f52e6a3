package embedding

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	goopenai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	dashScopeBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	// the compatible endpoint rejects more than 10 inputs per call
	dashScopeBatchSize = 10
	dashScopeWorkers   = 4
	dashScopeRPS       = 8
)

// newDashScopeEmbedder - Alibaba DashScope through its OpenAI-compatible endpoint.
func newDashScopeEmbedder(apiKey, model string, dimension int, timeout time.Duration, log zerolog.Logger) Embedder {
	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = dashScopeBaseURL
	client := goopenai.NewClientWithConfig(cfg)

	return &batcher{
		model:     model,
		dimension: dimensionFor(model, dimension),
		batchSize: dashScopeBatchSize,
		workers:   dashScopeWorkers,
		timeout:   timeout,
		limiter:   rate.NewLimiter(rate.Limit(dashScopeRPS), dashScopeWorkers),
		log:       log,
		call: func(ctx context.Context, texts []string) ([][]float32, error) {
			resp, err := client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
				Input:          texts,
				Model:          goopenai.EmbeddingModel(model),
				Dimensions:     dimension,
				EncodingFormat: goopenai.EmbeddingEncodingFormatFloat,
			})
			if err != nil {
				return nil, err
			}
			out := make([][]float32, len(texts))
			for _, d := range resp.Data {
				if d.Index < len(out) {
					out[d.Index] = d.Embedding
				}
			}
			return out, nil
		},
	}
}
