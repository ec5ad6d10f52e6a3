package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chiweic/rag-08122025/internal/config"
	"github.com/chiweic/rag-08122025/internal/constants"
	"github.com/chiweic/rag-08122025/internal/pipeline"
	"github.com/chiweic/rag-08122025/internal/synthesis"
)

func (h *Handler) PostInitializeHandler(c echo.Context) error {
	var body initializeBody
	if err := c.Bind(&body); err != nil {
		return invalidBody(c, err)
	}
	res, err := h.pipeline.Initialize(c.Request().Context(), pipeline.InitializeRequest{
		Recreate:  body.RecreateCollection,
		BatchSize: body.BatchSize,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return Success(c, res)
}

// GetHealthHandler - Always 200, readiness is in the body.
func (h *Handler) GetHealthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, ReturnType{Message: successMessage, Data: h.pipeline.Health(c.Request().Context())})
}

func (h *Handler) GetStatisticsHandler(c echo.Context) error {
	stats, err := h.pipeline.Statistics(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return Success(c, stats)
}

func (h *Handler) PostQueryHandler(c echo.Context) error {
	body := newQueryBody()
	if err := c.Bind(&body); err != nil {
		return invalidBody(c, err)
	}
	if msg := CheckQuestion(body.Question); msg != "" {
		return BadRequest(c, msg)
	}
	res, err := h.pipeline.Query(c.Request().Context(), body.request())
	if err != nil {
		return h.fail(c, err)
	}
	return Success(c, res)
}

// PostQueryStreamHandler - Server-sent frames: start, sources, answer fragments, then done or
// error, followed by the [DONE] terminator. Body errors are answered as plain JSON since no
// stream has started yet.
func (h *Handler) PostQueryStreamHandler(c echo.Context) error {
	body := newQueryBody()
	if err := c.Bind(&body); err != nil {
		return invalidBody(c, err)
	}
	if msg := CheckQuestion(body.Question); msg != "" {
		return BadRequest(c, msg)
	}

	flusher, err := GetSSEFlusher(c)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ReturnType{Message: "Request error. Error: " + err.Error()})
	}
	for frame := range h.pipeline.Stream(c.Request().Context(), body.request()) {
		h.metrics.Frame(string(frame.Type))
		if err := WriteEvent(c, flusher, frame); err != nil {
			// client is gone; keep draining so the producer can finish
			h.log.Debug().Err(err).Msg("stream write failed")
		}
	}
	WriteDone(c, flusher)
	return nil
}

func (h *Handler) PostRetrieveHandler(c echo.Context) error {
	var body retrieveBody
	if err := c.Bind(&body); err != nil {
		return invalidBody(c, err)
	}
	res, err := h.pipeline.Retrieve(c.Request().Context(), body.request())
	if err != nil {
		return h.fail(c, err)
	}
	return Success(c, res)
}

func (h *Handler) PostSynthesizeHandler(c echo.Context) error {
	body := synthesizeBody{PromptType: string(synthesis.QA)}
	if err := c.Bind(&body); err != nil {
		return invalidBody(c, err)
	}
	answer, err := h.pipeline.Synthesize(c.Request().Context(), body.Question, body.Contexts, synthesis.PromptType(body.PromptType))
	if err != nil {
		return h.fail(c, err)
	}
	return Success(c, map[string]any{
		"question":       body.Question,
		"answer":         answer.Text,
		"prompt_type":    body.PromptType,
		"synthesis_time": answer.Elapsed,
	})
}

func (h *Handler) PostUpdateConfigHandler(c echo.Context) error {
	var patch config.ProvidersPatch
	if err := c.Bind(&patch); err != nil {
		return invalidBody(c, err)
	}
	providers, err := h.pipeline.UpdateConfig(patch)
	if err != nil {
		return h.fail(c, err)
	}
	return Success(c, map[string]any{
		"providers":   providers,
		"initialized": h.pipeline.Initialized(),
	})
}

func (h *Handler) GetConfigHandler(c echo.Context) error {
	return Success(c, h.pipeline.Config())
}

func (h *Handler) GetChunkHandler(c echo.Context) error {
	chunk, err := h.pipeline.Chunk(c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return Success(c, chunk)
}

func (h *Handler) GetHistoryHandler(c echo.Context) error {
	limit := constants.DefaultHistoryLimit
	if err := echo.QueryParamsBinder(c).Int("limit", &limit).BindError(); err != nil {
		return BadRequest(c, "limit must be a number")
	}
	return Success(c, h.pipeline.History(limit))
}
