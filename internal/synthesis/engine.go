// Package synthesis turns retrieved chunks and a question into a grounded answer, either in one
// piece or as an ordered stream of frames.
package synthesis

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chiweic/rag-08122025/internal/apperr"
	"github.com/chiweic/rag-08122025/internal/llms"
	"github.com/chiweic/rag-08122025/internal/retrieval"
	"github.com/chiweic/rag-08122025/internal/utils"
)

var tracer = otel.Tracer("github.com/chiweic/rag-08122025/internal/synthesis")

type Request struct {
	Question   string
	Chunks     []retrieval.Chunk
	PromptType PromptType
	Options    []llms.Option
}

type Answer struct {
	Text string `json:"answer"`
	// Elapsed is the synthesis time in seconds.
	Elapsed float64 `json:"synthesis_time"`
}

func prepare(op string, req Request) (string, error) {
	if req.PromptType != "" && !req.PromptType.Valid() {
		return "", apperr.Errorf(apperr.InvalidRequest, op, "unknown prompt type %q", req.PromptType)
	}
	if strings.TrimSpace(req.Question) == "" && req.PromptType != Summary {
		return "", apperr.Errorf(apperr.InvalidRequest, op, "question is empty")
	}
	prompt, err := BuildPrompt(req.PromptType, req.Question, req.Chunks)
	if err != nil {
		return "", apperr.New(apperr.InvalidRequest, op, err)
	}
	return prompt, nil
}

// Synthesize - Complete answer for req. An empty chunk list is answered, not rejected.
func Synthesize(ctx context.Context, gen llms.Generator, req Request) (Answer, error) {
	const op = "synthesis.Synthesize"
	prompt, err := prepare(op, req)
	if err != nil {
		return Answer{}, err
	}

	return complete(ctx, op, gen, prompt, len(req.Chunks), req.Options...)
}

// Complete - Generate from a ready-made prompt, with the same error mapping and timing as Synthesize.
func Complete(ctx context.Context, gen llms.Generator, prompt string, opts ...llms.Option) (Answer, error) {
	return complete(ctx, "synthesis.Complete", gen, prompt, 0, opts...)
}

func complete(ctx context.Context, op string, gen llms.Generator, prompt string, chunks int, opts ...llms.Option) (Answer, error) {
	ctx, span := tracer.Start(ctx, op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", string(gen.Model())),
		attribute.Int("synthesis.chunks", chunks),
	)

	start := time.Now()
	text, err := gen.Generate(ctx, prompt, opts...)
	if err != nil {
		if apperr.KindOf(err) == apperr.Internal {
			err = apperr.New(apperr.ProviderUnavailable, op, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
		return Answer{}, err
	}
	return Answer{Text: strings.TrimSpace(text), Elapsed: utils.Seconds(time.Since(start))}, nil
}
