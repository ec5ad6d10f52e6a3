package embedding

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	"github.com/chiweic/rag-08122025/internal/apperr"
)

const (
	ollamaBatchSize      = 16
	defaultOllamaWorkers = 4
)

// newOllamaEmbedder - Local ollama server. Batches fan out over workers since a single GPU-backed server
// keeps up with a few concurrent requests.
func newOllamaEmbedder(baseURL, model string, dimension, workers int, timeout time.Duration, log zerolog.Logger) (Embedder, error) {
	var (
		client *api.Client
		err    error
	)
	if baseURL == "" {
		client, err = api.ClientFromEnvironment()
	} else {
		var u *url.URL
		u, err = url.Parse(baseURL)
		if err == nil {
			client = api.NewClient(u, http.DefaultClient)
		}
	}
	if err != nil {
		return nil, apperr.New(apperr.Configuration, "embedding.newOllamaEmbedder", err)
	}
	if workers <= 0 {
		workers = defaultOllamaWorkers
	}

	return &batcher{
		model:     model,
		dimension: dimensionFor(model, dimension),
		batchSize: ollamaBatchSize,
		workers:   workers,
		timeout:   timeout,
		log:       log,
		call: func(ctx context.Context, texts []string) ([][]float32, error) {
			resp, err := client.Embed(ctx, &api.EmbedRequest{
				Model: model,
				Input: texts,
			})
			if err != nil {
				return nil, err
			}
			return resp.Embeddings, nil
		},
	}, nil
}
