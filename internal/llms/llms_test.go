package llms

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/chiweic/rag-08122025/internal/apperr"
	"github.com/chiweic/rag-08122025/internal/config"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name         string
		providers    config.Providers
		wantKind     apperr.Kind
		wantProvider string
		wantModel    Model
	}{
		{name: "openai", providers: config.Providers{LLMProvider: "openai", Credentials: config.Credentials{OpenAIKey: "sk"}}, wantProvider: "openai", wantModel: "gpt-4o-mini"},
		{name: "openai without key", providers: config.Providers{LLMProvider: "openai"}, wantKind: apperr.Configuration},
		{name: "deepseek", providers: config.Providers{LLMProvider: "deepseek", Credentials: config.Credentials{DeepSeekKey: "sk"}}, wantProvider: "deepseek", wantModel: "deepseek-chat"},
		{name: "dashscope explicit model", providers: config.Providers{LLMProvider: "dashscope", LLMModel: "qwen-max", Credentials: config.Credentials{DashScopeKey: "sk"}}, wantProvider: "dashscope", wantModel: "qwen-max"},
		{name: "gemini alias", providers: config.Providers{LLMProvider: "Gemini", Credentials: config.Credentials{GoogleKey: "key"}}, wantProvider: "google", wantModel: "gemini-2.0-flash"},
		{name: "anthropic", providers: config.Providers{LLMProvider: "anthropic", Credentials: config.Credentials{AnthropicKey: "sk"}}, wantProvider: "anthropic", wantModel: "claude-3-5-haiku-latest"},
		{name: "groq", providers: config.Providers{LLMProvider: "groq", Credentials: config.Credentials{GroqKey: "gsk"}}, wantProvider: "groq", wantModel: "meta-llama/llama-4-scout-17b-16e-instruct"},
		{name: "ollama", providers: config.Providers{LLMProvider: "ollama", Credentials: config.Credentials{OllamaBaseURL: "http://localhost:11434"}}, wantProvider: "ollama", wantModel: "llama3.1"},
		{name: "custom needs base url", providers: config.Providers{LLMProvider: "custom", LLMModel: "m", Credentials: config.Credentials{CustomKey: "k"}}, wantKind: apperr.Configuration},
		{name: "custom needs model", providers: config.Providers{LLMProvider: "custom", Credentials: config.Credentials{CustomKey: "k", CustomBaseURL: "http://gw/v1"}}, wantKind: apperr.Configuration},
		{name: "custom", providers: config.Providers{LLMProvider: "custom", LLMModel: "m", Credentials: config.Credentials{CustomKey: "k", CustomBaseURL: "http://gw/v1"}}, wantProvider: "custom", wantModel: "m"},
		{name: "unknown", providers: config.Providers{LLMProvider: "eliza"}, wantKind: apperr.Configuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Resolve(tt.providers, zerolog.Nop())
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, apperr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantProvider, g.Provider())
			assert.Equal(t, tt.wantModel, g.Model())
		})
	}
}

func TestOptionsOverrideDefaults(t *testing.T) {
	l := LLM{defaults: Options{Temperature: 0.2, MaxTokens: 100}}
	o := l.options([]Option{WithTemperature(0.9), WithSystemPrompt("sys")})
	assert.Equal(t, Options{Temperature: 0.9, MaxTokens: 100, SystemPrompt: "sys"}, o)
	assert.Equal(t, Options{Temperature: 0.2, MaxTokens: 100}, l.defaults)
}

func TestParseGeminiResponse(t *testing.T) {
	_, err := parseGeminiResponse(&genai.GenerateContentResponse{}, nil)
	assert.Error(t, err)

	text, err := parseGeminiResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: "thinking", Thought: true}, {Text: "四聖諦"}, {Text: "是..."}}},
		}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "四聖諦是...", text)

	assert.Equal(t, "", streamedText(&genai.GenerateContentResponse{}))
}

func TestMockLLM(t *testing.T) {
	ctx := context.Background()

	m := NewMockLLM("mock-1", "四聖諦", "是", "苦集滅道")
	text, err := m.Generate(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, "四聖諦是苦集滅道", text)
	assert.Equal(t, []string{"q"}, m.Prompts())

	boom := errors.New("boom")
	var got []string
	err = NewMockLLM("mock-1", "a", "b", "c").WithError(boom, 2).GenerateStream(ctx, "q", func(s string) error {
		got = append(got, s)
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b"}, got)

	stop := errors.New("client gone")
	err = NewMockLLM("mock-1", "a", "b").GenerateStream(ctx, "q", func(string) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestFailKeepsCallbackErrors(t *testing.T) {
	l := LLM{log: zerolog.Nop(), model: "m"}
	stop := errors.New("client gone")

	assert.Same(t, stop, l.fail("GenerateStream", stop, stop))
	assert.Nil(t, l.fail("GenerateStream", nil, nil))

	err := l.fail("Generate", errors.New("503"), nil)
	assert.Equal(t, apperr.ProviderUnavailable, apperr.KindOf(err))
}
