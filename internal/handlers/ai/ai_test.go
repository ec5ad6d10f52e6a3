package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiweic/rag-08122025/internal/config"
	"github.com/chiweic/rag-08122025/internal/corpus"
	"github.com/chiweic/rag-08122025/internal/embedding"
	"github.com/chiweic/rag-08122025/internal/llms"
	"github.com/chiweic/rag-08122025/internal/pipeline"
	"github.com/chiweic/rag-08122025/internal/recommend"
	"github.com/chiweic/rag-08122025/internal/vector"
)

func newChat(t *testing.T, initialize bool) *echo.Echo {
	t.Helper()
	e, _ := newChatWithLLM(t, initialize)
	return e
}

func newChatWithLLM(t *testing.T, initialize bool) (*echo.Echo, *llms.MockLLM) {
	t.Helper()
	cfg := config.Default()
	cfg.Index.Backend = "memory"
	cfg.Providers.EmbeddingModel = "BAAI/bge-m3"

	store, err := corpus.NewStore([]corpus.Record{
		{ID: "text_001", Variant: corpus.Text, Header: "四聖諦", Content: "什麼是四聖諦？四聖諦是苦諦、集諦、滅諦、道諦。",
			Text: &corpus.TextMeta{Title: "佛法綱要"}},
	})
	require.NoError(t, err)

	gen := llms.NewMockLLM("mock", "苦集", "滅道")
	p, err := pipeline.New(cfg, vector.NewMemoryIndex(),
		pipeline.WithCorpus(store),
		pipeline.WithBooks([]recommend.Book{}),
		pipeline.WithResolvers(
			func(config.Providers, zerolog.Logger) (embedding.Embedder, error) { return embedding.NewLocal(0), nil },
			func(config.Providers, zerolog.Logger) (llms.Generator, error) { return gen, nil },
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	if initialize {
		_, err := p.Initialize(context.Background(), pipeline.InitializeRequest{})
		require.NoError(t, err)
	}

	h := NewHandler(p, nil, zerolog.Nop())
	e := echo.New()
	e.GET("/v1/models", h.GetModelsHandler)
	e.POST("/v1/chat/completions", h.PostChatCompletionsHandler)
	return e, gen
}

func post(e *echo.Echo, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestChatCompletion(t *testing.T) {
	e := newChat(t, true)

	rec := post(e, `{"messages":[{"role":"user","content":"什麼是四聖諦？"}],"top_k":1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChatCompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.ID, "chatcmpl-"))
	assert.Len(t, resp.ID, len("chatcmpl-")+8)
	assert.Equal(t, "chat.completion", resp.Object)
	assert.Equal(t, defaultModel, resp.Model)
	assert.Equal(t, "rag-openai-bge-m3", resp.SystemFingerprint)
	require.Len(t, resp.Choices, 1)
	require.NotNil(t, resp.Choices[0].Message)
	assert.Equal(t, llms.AssistantRole, resp.Choices[0].Message.Role)
	assert.Equal(t, "苦集滅道", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", *resp.Choices[0].FinishReason)
	assert.Len(t, resp.Sources, 1)
	assert.Contains(t, resp.ComputationTime, "total_time")
}

func TestChatCompletionGenerationSettings(t *testing.T) {
	e, gen := newChatWithLLM(t, true)

	rec := post(e, `{"messages":[{"role":"user","content":"什麼是四聖諦？"}],"temperature":0.2,"max_tokens":128}`)
	require.Equal(t, http.StatusOK, rec.Code)
	calls := gen.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 0.2, calls[0].Temperature)
	assert.Equal(t, 128, calls[0].MaxTokens)
}

func TestModels(t *testing.T) {
	e := newChat(t, false)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var list ModelList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, "list", list.Object)
	require.Len(t, list.Data, 1)
	assert.Equal(t, defaultModel, list.Data[0].ID)
	assert.Equal(t, "model", list.Data[0].Object)
	assert.Equal(t, "rag-system", list.Data[0].OwnedBy)
	assert.Nil(t, list.Data[0].Parent)
	assert.Contains(t, rec.Body.String(), `"parent":null`)
}

func TestChatCompletionStream(t *testing.T) {
	e := newChat(t, true)

	rec := post(e, `{"model":"my-model","stream":true,"messages":[{"role":"user","content":"什麼是四聖諦？"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	events := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	require.Len(t, events, 4)
	assert.Equal(t, "data: [DONE]", events[3])

	var content strings.Builder
	for i, event := range events[:3] {
		var chunk ChatCompletionResponse
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(event, "data: ")), &chunk))
		assert.Equal(t, "chat.completion.chunk", chunk.Object)
		assert.Equal(t, "my-model", chunk.Model)
		require.Len(t, chunk.Choices, 1)
		delta := chunk.Choices[0].Delta
		require.NotNil(t, delta)
		content.WriteString(delta.Content)
		if i == 0 {
			assert.Equal(t, llms.AssistantRole, delta.Role)
		}
		if i == 2 {
			assert.Equal(t, "stop", *chunk.Choices[0].FinishReason)
		} else {
			assert.Nil(t, chunk.Choices[0].FinishReason)
		}
	}
	assert.Equal(t, "苦集滅道", content.String())
}

func TestChatCompletionErrors(t *testing.T) {
	cases := []struct {
		name       string
		initialize bool
		body       string
		status     int
		kind       string
	}{
		{"no user message", true, `{"messages":[{"role":"system","content":"be brief"}]}`, http.StatusBadRequest, "invalid_request"},
		{"malformed", true, `{"messages":`, http.StatusBadRequest, "invalid_request"},
		{"not initialized", false, `{"messages":[{"role":"user","content":"什麼是四聖諦？"}]}`, http.StatusServiceUnavailable, "not_initialized"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := post(newChat(t, tc.initialize), tc.body)
			assert.Equal(t, tc.status, rec.Code)
			var resp struct {
				Error struct {
					Message string `json:"message"`
					Type    string `json:"type"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tc.kind, resp.Error.Type)
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestQuestion(t *testing.T) {
	req := ChatCompletionRequest{Messages: []ChatMessage{
		{Role: llms.SystemRole, Content: "請簡短回答"},
		{Role: llms.UserRole, Content: "第一個問題"},
		{Role: llms.AssistantRole, Content: "回答"},
		{Role: llms.UserRole, Content: "什麼是禪？"},
	}}
	assert.Equal(t, "請簡短回答\n\n什麼是禪？", req.question())
	assert.Empty(t, ChatCompletionRequest{}.question())
	assert.Equal(t, "bge-m3", fingerprint("BAAI/bge-m3"))
	assert.Equal(t, "text-emb", fingerprint("text-embedding-3-small"))
	assert.Equal(t, 4, estimateTokens("hello world"))
}
