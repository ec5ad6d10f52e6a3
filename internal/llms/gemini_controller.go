package llms

import (
	"context"

	"google.golang.org/genai"

	"github.com/chiweic/rag-08122025/internal/apperr"
)

type GeminiLLM struct {
	LLM
	Client *genai.Client
}

func NewGeminiHandler(base LLM, apiKey string) (*GeminiLLM, error) {
	// the ctx here only covers client setup, requests carry their own
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, apperr.New(apperr.Configuration, "llms.NewGeminiHandler", err)
	}
	return &GeminiLLM{LLM: base, Client: client}, nil
}

func (gemini *GeminiLLM) request(prompt string, opts Options) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := []*genai.Content{
		{
			Parts: []*genai.Part{{Text: prompt}},
			Role:  string(UserRole),
		},
	}
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(opts.Temperature)),
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(opts.SystemPrompt, genai.RoleUser)
	}
	return contents, cfg
}

// Generate - Unstreamed request.
func (gemini *GeminiLLM) Generate(ctx context.Context, prompt string, opts ...Option) (string, error) {
	ctx, cancel := gemini.call(ctx)
	defer cancel()

	contents, cfg := gemini.request(prompt, gemini.options(opts))
	text, err := parseGeminiResponse(gemini.Client.Models.GenerateContent(ctx, string(gemini.model), contents, cfg))
	if err != nil {
		return "", gemini.fail("Generate", err, nil)
	}
	return text, nil
}

func (gemini *GeminiLLM) GenerateStream(ctx context.Context, prompt string, onFragment func(string) error, opts ...Option) error {
	ctx, cancel := gemini.call(ctx)
	defer cancel()

	contents, cfg := gemini.request(prompt, gemini.options(opts))
	for resp, err := range gemini.Client.Models.GenerateContentStream(ctx, string(gemini.model), contents, cfg) {
		if err != nil {
			return gemini.fail("GenerateStream", err, nil)
		}
		if text := streamedText(resp); text != "" {
			if err := onFragment(text); err != nil {
				return err
			}
		}
	}
	return nil
}
