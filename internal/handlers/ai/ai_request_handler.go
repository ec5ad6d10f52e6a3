package ai

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/chiweic/rag-08122025/internal/apperr"
	"github.com/chiweic/rag-08122025/internal/constants"
	"github.com/chiweic/rag-08122025/internal/handlers"
	"github.com/chiweic/rag-08122025/internal/pipeline"
	"github.com/chiweic/rag-08122025/internal/synthesis"
)

var stopReason = "stop"

func completionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// openAIError - Chat clients expect errors in the OpenAI shape.
func openAIError(c echo.Context, err error) error {
	kind := apperr.KindOf(err)
	return c.JSON(apperr.HTTPStatus(kind), map[string]any{
		"error": map[string]any{
			"message": handlers.PublicMessage(err),
			"type":    kind,
		},
	})
}

func (handler *AIHandler) PostChatCompletionsHandler(c echo.Context) error {
	body := ChatCompletionRequest{TopK: constants.DefaultTopK, IncludeSources: true}
	if err := c.Bind(&body); err != nil {
		return openAIError(c, apperr.New(apperr.InvalidRequest, "chat.bind", err))
	}
	question := body.question()
	if question == "" {
		return openAIError(c, apperr.Errorf(apperr.InvalidRequest, "chat", "No user message found in the request"))
	}
	if msg := handlers.CheckQuestion(question); msg != "" {
		return openAIError(c, apperr.Errorf(apperr.InvalidRequest, "chat", "%s", msg))
	}
	req := pipeline.QueryRequest{
		Question:       question,
		TopK:           body.TopK,
		IncludeSources: body.IncludeSources,
		Temperature:    body.Temperature,
		MaxTokens:      body.MaxTokens,
	}
	if body.Stream {
		return handler.stream(c, body, req)
	}

	res, err := handler.pipeline.Query(c.Request().Context(), req)
	if err != nil {
		if apperr.HTTPStatus(apperr.KindOf(err)) >= 500 {
			handler.log.Error().Err(err).Msg("chat completion failed")
		}
		return openAIError(c, err)
	}
	providers := handler.pipeline.Providers()
	prompt, completion := estimateTokens(question), estimateTokens(res.Answer)
	resp := ChatCompletionResponse{
		ID:      completionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   body.model(),
		Choices: []ChatCompletionChoice{{
			Message:      &ChatMessage{Role: "assistant", Content: res.Answer},
			FinishReason: &stopReason,
		}},
		Usage: &ChatCompletionUsage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
		SystemFingerprint: "rag-" + providers.LLMProvider + "-" + fingerprint(providers.EmbeddingModel),
		ComputationTime: map[string]float64{
			"retrieval_time": res.RetrievalTime,
			"synthesis_time": res.SynthesisTime,
			"total_time":     res.TotalTime,
		},
	}
	if body.IncludeSources {
		resp.Sources = res.Sources
	}
	return c.JSON(http.StatusOK, resp)
}

// GetModelsHandler - The single model chat clients can address.
func (handler *AIHandler) GetModelsHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, ModelList{
		Object: "list",
		Data: []ModelCard{{
			ID:         defaultModel,
			Object:     "model",
			Created:    time.Now().Unix(),
			OwnedBy:    ownedBy,
			Permission: []any{},
			Root:       defaultModel,
		}},
	})
}

// fingerprint - Up to 8 characters of the last path segment of an embedding model name.
func fingerprint(model string) string {
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	if len(model) > 8 {
		model = model[:8]
	}
	return model
}

// stream - chat.completion.chunk events, one per answer fragment, then a chunk carrying the
// finish reason and the [DONE] terminator. A failure mid-stream ends it with an error event.
func (handler *AIHandler) stream(c echo.Context, body ChatCompletionRequest, req pipeline.QueryRequest) error {
	flusher, err := handlers.GetSSEFlusher(c)
	if err != nil {
		return openAIError(c, err)
	}
	id, created, model := completionID(), time.Now().Unix(), body.model()
	chunk := func(delta *ChatMessage, finish *string) ChatCompletionResponse {
		return ChatCompletionResponse{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []ChatCompletionChoice{{Delta: delta, FinishReason: finish}},
		}
	}

	req.IncludeSources = false
	first := true
	for frame := range handler.pipeline.Stream(c.Request().Context(), req) {
		handler.metrics.Frame(string(frame.Type))
		var event any
		switch frame.Type {
		case synthesis.FrameAnswer:
			delta := &ChatMessage{Content: frame.Content}
			if first {
				delta.Role = "assistant"
				first = false
			}
			event = chunk(delta, nil)
		case synthesis.FrameDone:
			event = chunk(&ChatMessage{}, &stopReason)
		case synthesis.FrameError:
			event = map[string]any{"error": map[string]any{"message": frame.Message, "type": frame.Kind}}
		default:
			continue
		}
		if err := handlers.WriteEvent(c, flusher, event); err != nil {
			handler.log.Debug().Err(err).Msg("stream write failed")
		}
	}
	handlers.WriteDone(c, flusher)
	return nil
}
