package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/chiweic/rag-08122025/internal/constants"
)

type recommendBody struct {
	Query         string  `json:"query"`
	TopK          int     `json:"top_k"`
	MinSimilarity float64 `json:"min_similarity"`
}

func newRecommendBody(topK int) recommendBody {
	return recommendBody{TopK: topK, MinSimilarity: constants.DefaultMinSimilarity}
}

func (h *Handler) PostBooksRecommendHandler(c echo.Context) error {
	body := newRecommendBody(constants.DefaultBookTopK)
	if err := c.Bind(&body); err != nil {
		return invalidBody(c, err)
	}
	recs, err := h.pipeline.RecommendBooks(c.Request().Context(), body.Query, body.TopK, body.MinSimilarity)
	if err != nil {
		return h.fail(c, err)
	}
	return Success(c, map[string]any{"query": body.Query, "recommendations": recs, "count": len(recs)})
}

func (h *Handler) PostEventsRecommendHandler(c echo.Context) error {
	body := struct {
		recommendBody
		UpcomingOnly bool `json:"upcoming_only"`
	}{recommendBody: newRecommendBody(constants.DefaultEventTopK), UpcomingOnly: true}
	if err := c.Bind(&body); err != nil {
		return invalidBody(c, err)
	}
	recs, err := h.pipeline.RecommendEvents(c.Request().Context(), body.Query, body.TopK, body.MinSimilarity, body.UpcomingOnly)
	if err != nil {
		return h.fail(c, err)
	}
	return Success(c, map[string]any{"query": body.Query, "recommendations": recs, "count": len(recs)})
}

func (h *Handler) PostAudioRecommendHandler(c echo.Context) error {
	body := struct {
		QueryAndAnswer string  `json:"query_and_answer"`
		TopK           int     `json:"top_k"`
		MinSimilarity  float64 `json:"min_similarity"`
	}{TopK: constants.DefaultAudioTopK, MinSimilarity: constants.DefaultMinSimilarity}
	if err := c.Bind(&body); err != nil {
		return invalidBody(c, err)
	}
	recs, err := h.pipeline.RecommendAudio(c.Request().Context(), body.QueryAndAnswer, body.TopK, body.MinSimilarity)
	if err != nil {
		return h.fail(c, err)
	}
	return Success(c, map[string]any{"query_and_answer": body.QueryAndAnswer, "recommendations": recs, "count": len(recs)})
}

func (h *Handler) PostRelatedQueriesHandler(c echo.Context) error {
	body := struct {
		recommendBody
		Category string `json:"category"`
	}{recommendBody: newRecommendBody(constants.DefaultRelatedTopK)}
	if err := c.Bind(&body); err != nil {
		return invalidBody(c, err)
	}
	related, err := h.pipeline.RelatedQueries(c.Request().Context(), body.Query, body.TopK, body.MinSimilarity, body.Category)
	if err != nil {
		return h.fail(c, err)
	}
	return Success(c, map[string]any{"user_query": body.Query, "related_queries": related, "count": len(related)})
}

func (h *Handler) GetPopularQueriesHandler(c echo.Context) error {
	limit := 10
	if err := echo.QueryParamsBinder(c).Int("limit", &limit).BindError(); err != nil {
		return BadRequest(c, "limit must be a number")
	}
	popular := h.pipeline.PopularQueries(limit)
	return Success(c, map[string]any{"popular_queries": popular, "count": len(popular)})
}

func (h *Handler) GetUpcomingEventsHandler(c echo.Context) error {
	limit := 10
	if err := echo.QueryParamsBinder(c).Int("limit", &limit).BindError(); err != nil {
		return BadRequest(c, "limit must be a number")
	}
	events := h.pipeline.UpcomingEvents(limit)
	return Success(c, map[string]any{"upcoming_events": events, "count": len(events)})
}

func (h *Handler) GetEventHandler(c echo.Context) error {
	ev, err := h.pipeline.Event(c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return Success(c, ev)
}

func (h *Handler) GetBookHandler(c echo.Context) error {
	book, err := h.pipeline.Book(c.Param("isbn"))
	if err != nil {
		return h.fail(c, err)
	}
	return Success(c, book)
}

func (h *Handler) GetRandomBooksHandler(c echo.Context) error {
	var count int
	if err := echo.PathParamsBinder(c).MustInt("count", &count).BindError(); err != nil {
		return BadRequest(c, "count must be a number")
	}
	books := h.pipeline.RandomBooks(count)
	return Success(c, map[string]any{"books": books, "count": len(books)})
}

func (h *Handler) GetAudioHandler(c echo.Context) error {
	seg, err := h.pipeline.AudioSegment(c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return Success(c, seg)
}

// PostRecommendHandler - All four catalogs for a question and its answer in one call.
func (h *Handler) PostRecommendHandler(c echo.Context) error {
	var body struct {
		Question string `json:"question"`
		Answer   string `json:"answer"`
	}
	if err := c.Bind(&body); err != nil {
		return invalidBody(c, err)
	}
	recs, err := h.pipeline.Recommend(c.Request().Context(), body.Question, body.Answer)
	if err != nil {
		return h.fail(c, err)
	}
	return Success(c, recs)
}
