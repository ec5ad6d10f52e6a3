package embedding

import (
	"context"
	"hash/fnv"

	"github.com/chiweic/rag-08122025/internal/utils"
)

const defaultLocalDimension = 512

// Local - Feature-hashing embedder over characters and character pairs. Needs no network,
// is deterministic and is good enough to rank a small corpus in tests and offline demos.
type Local struct {
	dimension int
}

func NewLocal(dimension int) *Local {
	if dimension <= 0 {
		dimension = defaultLocalDimension
	}
	return &Local{dimension: dimension}
}

func (l *Local) Model() string {
	return "local-hash"
}

func (l *Local) Dimension() int {
	return l.dimension
}

func (l *Local) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, l.dimension)
	for _, tok := range utils.Words(text) {
		vec[l.bucket(tok)]++
	}
	for _, tok := range utils.Bigrams(text) {
		vec[l.bucket(tok)] += 2
	}
	return utils.Normalize(vec), nil
}

func (l *Local) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := l.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (l *Local) bucket(tok string) int {
	h := fnv.New32a()
	h.Write([]byte(tok))
	return int(h.Sum32() % uint32(l.dimension))
}
