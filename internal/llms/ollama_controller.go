package llms

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/chiweic/rag-08122025/internal/apperr"
)

type OllamaLLM struct {
	LLM
	Client *api.Client
}

// NewOllamaHandler - An empty baseURL falls back to OLLAMA_HOST / localhost:11434.
func NewOllamaHandler(base LLM, baseURL string) (*OllamaLLM, error) {
	var (
		client *api.Client
		err    error
	)
	if baseURL == "" {
		client, err = api.ClientFromEnvironment()
	} else {
		var u *url.URL
		if u, err = url.Parse(baseURL); err == nil {
			client = api.NewClient(u, http.DefaultClient)
		}
	}
	if err != nil {
		return nil, apperr.New(apperr.Configuration, "llms.NewOllamaHandler", err)
	}
	return &OllamaLLM{LLM: base, Client: client}, nil
}

func (o *OllamaLLM) request(prompt string, opts Options, stream bool) *api.ChatRequest {
	var messages []api.Message
	if opts.SystemPrompt != "" {
		messages = append(messages, api.Message{Role: string(SystemRole), Content: opts.SystemPrompt})
	}
	messages = append(messages, api.Message{Role: string(UserRole), Content: prompt})

	options := map[string]any{"temperature": opts.Temperature}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	return &api.ChatRequest{
		Model:    string(o.model),
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}
}

func (o *OllamaLLM) Generate(ctx context.Context, prompt string, opts ...Option) (string, error) {
	ctx, cancel := o.call(ctx)
	defer cancel()

	var sb strings.Builder
	err := o.Client.Chat(ctx, o.request(prompt, o.options(opts), false), func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", o.fail("Generate", err, nil)
	}
	if sb.Len() == 0 {
		return "", o.fail("Generate", ErrEmptyResponse, nil)
	}
	return sb.String(), nil
}

func (o *OllamaLLM) GenerateStream(ctx context.Context, prompt string, onFragment func(string) error, opts ...Option) error {
	ctx, cancel := o.call(ctx)
	defer cancel()

	var callbackErr error
	err := o.Client.Chat(ctx, o.request(prompt, o.options(opts), true), func(resp api.ChatResponse) error {
		if resp.Message.Content == "" {
			return nil
		}
		if err := onFragment(resp.Message.Content); err != nil {
			callbackErr = err
			return err
		}
		return nil
	})
	return o.fail("GenerateStream", err, callbackErr)
}
