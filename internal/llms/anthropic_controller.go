package llms

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// defaultAnthropicMaxTokens - The messages API requires max_tokens on every call.
const defaultAnthropicMaxTokens = 2000

type AnthropicLLM struct {
	LLM
	Client anthropic.Client
}

func NewAnthropicHandler(base LLM, apiKey string) *AnthropicLLM {
	return &AnthropicLLM{
		LLM:    base,
		Client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

func (a *AnthropicLLM) params(prompt string, opts Options) anthropic.MessageNewParams {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		// anthropic caps temperature at 1
		Temperature: anthropic.Float(min(opts.Temperature, 1)),
	}
	if opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: opts.SystemPrompt}}
	}
	return params
}

func (a *AnthropicLLM) Generate(ctx context.Context, prompt string, opts ...Option) (string, error) {
	ctx, cancel := a.call(ctx)
	defer cancel()

	resp, err := a.Client.Messages.New(ctx, a.params(prompt, a.options(opts)))
	if err != nil {
		return "", a.fail("Generate", err, nil)
	}

	var b strings.Builder
	for _, content := range resp.Content {
		if text, ok := content.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	if b.Len() == 0 {
		return "", a.fail("Generate", ErrEmptyResponse, nil)
	}
	return b.String(), nil
}

func (a *AnthropicLLM) GenerateStream(ctx context.Context, prompt string, onFragment func(string) error, opts ...Option) error {
	ctx, cancel := a.call(ctx)
	defer cancel()

	stream := a.Client.Messages.NewStreaming(ctx, a.params(prompt, a.options(opts)))
	defer stream.Close()

	for stream.Next() {
		event, ok := stream.Current().AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		if delta, ok := event.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
			if err := onFragment(delta.Text); err != nil {
				return err
			}
		}
	}
	return a.fail("GenerateStream", stream.Err(), nil)
}
