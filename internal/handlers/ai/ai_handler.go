// Package ai serves the OpenAI-compatible chat completions API on top of the pipeline, so
// existing chat clients can talk to the service unchanged.
package ai

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/chiweic/rag-08122025/internal/llms"
	"github.com/chiweic/rag-08122025/internal/logger"
	"github.com/chiweic/rag-08122025/internal/metrics"
	"github.com/chiweic/rag-08122025/internal/pipeline"
	"github.com/chiweic/rag-08122025/internal/retrieval"
)

const (
	defaultModel = "rag-model"
	ownedBy      = "rag-system"
)

// AIHandler - Handles the entire chat client -> pipeline communication.
type AIHandler struct {
	pipeline *pipeline.Pipeline
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

func NewHandler(p *pipeline.Pipeline, m *metrics.Metrics, log zerolog.Logger) *AIHandler {
	return &AIHandler{
		pipeline: p,
		metrics:  m,
		log:      logger.Component(log, "chat"),
	}
}

type ChatMessage struct {
	Role    llms.Role `json:"role"`
	Content string    `json:"content"`
}

type ChatCompletionRequest struct {
	Model          string        `json:"model"`
	Messages       []ChatMessage `json:"messages"`
	Temperature    *float64      `json:"temperature,omitempty"`
	MaxTokens      *int          `json:"max_tokens,omitempty"`
	Stream         bool          `json:"stream"`
	TopK           int           `json:"top_k"`
	IncludeSources bool          `json:"include_sources"`
}

type ChatCompletionChoice struct {
	Index        int          `json:"index"`
	Message      *ChatMessage `json:"message,omitempty"`
	Delta        *ChatMessage `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

type ChatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ChatCompletionResponse struct {
	ID                string                 `json:"id"`
	Object            string                 `json:"object"`
	Created           int64                  `json:"created"`
	Model             string                 `json:"model"`
	Choices           []ChatCompletionChoice `json:"choices"`
	Usage             *ChatCompletionUsage   `json:"usage,omitempty"`
	SystemFingerprint string                 `json:"system_fingerprint,omitempty"`
	Sources           []retrieval.Chunk      `json:"sources,omitempty"`
	ComputationTime   map[string]float64     `json:"computation_time,omitempty"`
}

type ModelCard struct {
	ID         string  `json:"id"`
	Object     string  `json:"object"`
	Created    int64   `json:"created"`
	OwnedBy    string  `json:"owned_by"`
	Permission []any   `json:"permission"`
	Root       string  `json:"root"`
	Parent     *string `json:"parent"`
}

type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelCard `json:"data"`
}

// question - The last user message, prefixed with the system message when there is one.
func (r ChatCompletionRequest) question() string {
	var user, system string
	for _, msg := range r.Messages {
		switch msg.Role {
		case llms.UserRole:
			user = msg.Content
		case llms.SystemRole:
			system = msg.Content
		}
	}
	if strings.TrimSpace(user) == "" {
		return ""
	}
	if system != "" {
		return system + "\n\n" + user
	}
	return user
}

func (r ChatCompletionRequest) model() string {
	if r.Model == "" {
		return defaultModel
	}
	return r.Model
}

// estimateTokens - Rough count, two tokens per whitespace separated word.
func estimateTokens(s string) int {
	return len(strings.Fields(s)) * 2
}
