package llms

import (
	"context"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAICompatibleLLM - OpenAI itself and every vendor exposing the same chat completions API
// (DeepSeek, DashScope, self-hosted gateways).
type OpenAICompatibleLLM struct {
	LLM
	Client openai.Client
}

func NewOpenAICompatible(base LLM, apiKey, baseURL string) *OpenAICompatibleLLM {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAICompatibleLLM{
		LLM:    base,
		Client: openai.NewClient(opts...),
	}
}

func (o *OpenAICompatibleLLM) params(prompt string, opts Options) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if opts.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(opts.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(o.model),
		Messages:    messages,
		Temperature: openai.Float(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	return params
}

func (o *OpenAICompatibleLLM) Generate(ctx context.Context, prompt string, opts ...Option) (string, error) {
	ctx, cancel := o.call(ctx)
	defer cancel()

	resp, err := o.Client.Chat.Completions.New(ctx, o.params(prompt, o.options(opts)))
	if err != nil {
		return "", o.fail("Generate", err, nil)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", o.fail("Generate", ErrEmptyResponse, nil)
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAICompatibleLLM) GenerateStream(ctx context.Context, prompt string, onFragment func(string) error, opts ...Option) error {
	ctx, cancel := o.call(ctx)
	defer cancel()

	stream := o.Client.Chat.Completions.NewStreaming(ctx, o.params(prompt, o.options(opts)))
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			if err := onFragment(delta); err != nil {
				return err
			}
		}
	}
	return o.fail("GenerateStream", stream.Err(), nil)
}
