package llms

// Groq speaks the OpenAI wire format, go-openai handles its SSE framing and the [DONE] sentinel.

import (
	"context"
	"errors"
	"io"

	goopenai "github.com/sashabaranov/go-openai"
)

// GroqLLM - Groq LLM. What else is there to know
type GroqLLM struct {
	LLM
	Client *goopenai.Client
}

func NewGroqHandler(base LLM, apiKey string) *GroqLLM {
	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = groqBaseURL
	return &GroqLLM{
		LLM:    base,
		Client: goopenai.NewClientWithConfig(cfg),
	}
}

func (groq *GroqLLM) request(prompt string, opts Options, stream bool) goopenai.ChatCompletionRequest {
	var messages []goopenai.ChatCompletionMessage
	if opts.SystemPrompt != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{Role: string(SystemRole), Content: opts.SystemPrompt})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{Role: string(UserRole), Content: prompt})

	return goopenai.ChatCompletionRequest{
		Model:       string(groq.model),
		Messages:    messages,
		Temperature: float32(opts.Temperature),
		MaxTokens:   opts.MaxTokens,
		Stream:      stream,
	}
}

func (groq *GroqLLM) Generate(ctx context.Context, prompt string, opts ...Option) (string, error) {
	ctx, cancel := groq.call(ctx)
	defer cancel()

	resp, err := groq.Client.CreateChatCompletion(ctx, groq.request(prompt, groq.options(opts), false))
	if err != nil {
		return "", groq.fail("Generate", err, nil)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", groq.fail("Generate", ErrEmptyResponse, nil)
	}
	return resp.Choices[0].Message.Content, nil
}

func (groq *GroqLLM) GenerateStream(ctx context.Context, prompt string, onFragment func(string) error, opts ...Option) error {
	ctx, cancel := groq.call(ctx)
	defer cancel()

	stream, err := groq.Client.CreateChatCompletionStream(ctx, groq.request(prompt, groq.options(opts), true))
	if err != nil {
		return groq.fail("GenerateStream", err, nil)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return groq.fail("GenerateStream", err, nil)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			if err := onFragment(delta); err != nil {
				return err
			}
		}
	}
}
