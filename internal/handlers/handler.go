package handlers

import (
	"strings"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/chiweic/rag-08122025/internal/apperr"
	"github.com/chiweic/rag-08122025/internal/constants"
	"github.com/chiweic/rag-08122025/internal/corpus"
	"github.com/chiweic/rag-08122025/internal/logger"
	"github.com/chiweic/rag-08122025/internal/metrics"
	"github.com/chiweic/rag-08122025/internal/pipeline"
	"github.com/chiweic/rag-08122025/internal/retrieval"
	"github.com/chiweic/rag-08122025/internal/synthesis"
)

// Handler - The REST surface over the pipeline.
type Handler struct {
	pipeline *pipeline.Pipeline
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

func NewHandler(p *pipeline.Pipeline, m *metrics.Metrics, log zerolog.Logger) *Handler {
	return &Handler{
		pipeline: p,
		metrics:  m,
		log:      logger.Component(log, "handlers"),
	}
}

// fail - Failure, logging the ones that are the server's fault.
func (h *Handler) fail(c echo.Context, err error) error {
	if apperr.HTTPStatus(apperr.KindOf(err)) >= 500 {
		h.log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	return Failure(c, err)
}

func invalidBody(c echo.Context, err error) error {
	return BadRequest(c, "Invalid request body. Error: "+err.Error())
}

// CheckQuestion - Empty and oversized questions are rejected before any provider is called.
func CheckQuestion(question string) string {
	switch {
	case strings.TrimSpace(question) == "":
		return "question is empty"
	case utf8.RuneCountInString(question) > constants.MaxPromptLength:
		return "Max question length is 2000 characters."
	}
	return ""
}

// limitsBody - Per-variant result counts. An explicit 0 excludes the variant.
type limitsBody struct {
	TextLimit   *int   `json:"text_limit"`
	AudioLimit  *int   `json:"audio_limit"`
	EventLimit  *int   `json:"event_limit"`
	ContentType string `json:"content_type"`
}

// limits - Nil unless the client set at least one per-variant limit; the unset ones are then 0.
func (b limitsBody) limits() map[corpus.Variant]int {
	if b.TextLimit == nil && b.AudioLimit == nil && b.EventLimit == nil {
		return nil
	}
	limit := func(n *int) int {
		if n == nil {
			return 0
		}
		return max(*n, 0)
	}
	return map[corpus.Variant]int{
		corpus.Text:  limit(b.TextLimit),
		corpus.Audio: limit(b.AudioLimit),
		corpus.Event: limit(b.EventLimit),
	}
}

// thresholdBody - "threshold" is still read from older clients.
type thresholdBody struct {
	SimilarityThreshold *float64 `json:"similarity_threshold"`
	Threshold           *float64 `json:"threshold"`
}

func (b thresholdBody) threshold() *float64 {
	if b.SimilarityThreshold != nil {
		return b.SimilarityThreshold
	}
	return b.Threshold
}

type queryBody struct {
	limitsBody
	thresholdBody
	Question       string   `json:"question"`
	TopK           int      `json:"top_k"`
	IncludeSources bool     `json:"include_sources"`
	PromptType     string   `json:"prompt_type"`
	Temperature    *float64 `json:"temperature"`
	MaxTokens      *int     `json:"max_tokens"`
}

func newQueryBody() queryBody {
	return queryBody{IncludeSources: true}
}

func (b queryBody) request() pipeline.QueryRequest {
	return pipeline.QueryRequest{
		Question:       b.Question,
		TopK:           b.TopK,
		Limits:         b.limits(),
		Threshold:      b.threshold(),
		Variant:        corpus.Variant(b.ContentType),
		IncludeSources: b.IncludeSources,
		PromptType:     synthesis.PromptType(b.PromptType),
		Temperature:    b.Temperature,
		MaxTokens:      b.MaxTokens,
	}
}

type retrieveBody struct {
	limitsBody
	thresholdBody
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (b retrieveBody) request() retrieval.Request {
	return retrieval.Request{
		Query:     b.Query,
		Limits:    b.limits(),
		TopK:      b.TopK,
		Threshold: b.threshold(),
		Variant:   corpus.Variant(b.ContentType),
	}
}

type synthesizeBody struct {
	Question   string            `json:"question"`
	Contexts   []retrieval.Chunk `json:"contexts"`
	PromptType string            `json:"prompt_type"`
}

type initializeBody struct {
	RecreateCollection bool `json:"recreate_collection"`
	BatchSize          int  `json:"batch_size"`
}
