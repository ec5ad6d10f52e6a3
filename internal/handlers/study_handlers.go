package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/chiweic/rag-08122025/internal/constants"
)

func (h *Handler) PostSummarizeHandler(c echo.Context) error {
	body := struct {
		Text      string `json:"text"`
		MaxLength int    `json:"max_length"`
	}{MaxLength: constants.DefaultSummaryLength}
	if err := c.Bind(&body); err != nil {
		return invalidBody(c, err)
	}
	summary, err := h.pipeline.Summarize(c.Request().Context(), body.Text, body.MaxLength)
	if err != nil {
		return h.fail(c, err)
	}
	return Success(c, summary)
}

func (h *Handler) PostTranslateHandler(c echo.Context) error {
	body := struct {
		Text           string `json:"text"`
		TargetLanguage string `json:"target_language"`
	}{TargetLanguage: constants.DefaultTargetLanguage}
	if err := c.Bind(&body); err != nil {
		return invalidBody(c, err)
	}
	translation, err := h.pipeline.Translate(c.Request().Context(), body.Text, body.TargetLanguage)
	if err != nil {
		return h.fail(c, err)
	}
	return Success(c, translation)
}

func (h *Handler) PostQuizGenerateHandler(c echo.Context) error {
	quiz, err := h.pipeline.GenerateQuiz(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return Success(c, quiz)
}

func (h *Handler) PostQuizEvaluateHandler(c echo.Context) error {
	body := struct {
		QuizID  string   `json:"quiz_id"`
		Answers []string `json:"answers"`
		UserID  string   `json:"user_id"`
	}{UserID: "anonymous"}
	if err := c.Bind(&body); err != nil {
		return invalidBody(c, err)
	}
	eval, err := h.pipeline.EvaluateQuiz(c.Request().Context(), body.QuizID, body.Answers, body.UserID)
	if err != nil {
		return h.fail(c, err)
	}
	return Success(c, eval)
}
