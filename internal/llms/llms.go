package llms

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/chiweic/rag-08122025/internal/apperr"
	"github.com/chiweic/rag-08122025/internal/config"
	"github.com/chiweic/rag-08122025/internal/constants"
)

const (
	UserRole      Role = "user"
	AssistantRole Role = "assistant"
	SystemRole    Role = "system"

	deepSeekBaseURL  = "https://api.deepseek.com/v1"
	dashScopeBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	groqBaseURL      = "https://api.groq.com/openai/v1"
)

type Role string
type Model string

// defaultModels - Used when the config names a provider but no model.
var defaultModels = map[string]Model{
	"openai":    "gpt-4o-mini",
	"deepseek":  "deepseek-chat",
	"dashscope": "qwen-plus",
	"google":    "gemini-2.0-flash",
	"anthropic": "claude-3-5-haiku-latest",
	"groq":      "meta-llama/llama-4-scout-17b-16e-instruct",
	"ollama":    "llama3.1",
}

// ErrEmptyResponse - The provider answered but produced no text.
var ErrEmptyResponse = errors.New("empty response from model")

// Generator - A chat model behind one of the supported providers. Generation is never retried
// since it isn't idempotent and a retried stream would duplicate fragments.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts ...Option) (string, error)
	// GenerateStream calls onFragment for every text fragment in order. An error from onFragment
	// stops generation and is returned as is.
	GenerateStream(ctx context.Context, prompt string, onFragment func(string) error, opts ...Option) error
	Model() Model
	Provider() string
}

type Options struct {
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

type Option func(*Options)

func WithTemperature(t float64) Option {
	return func(o *Options) {
		o.Temperature = t
	}
}

func WithMaxTokens(n int) Option {
	return func(o *Options) {
		o.MaxTokens = n
	}
}

func WithSystemPrompt(prompt string) Option {
	return func(o *Options) {
		o.SystemPrompt = prompt
	}
}

// LLM - Fields every provider shares.
type LLM struct {
	provider string
	model    Model
	defaults Options
	timeout  time.Duration
	log      zerolog.Logger
}

func (l *LLM) Model() Model {
	return l.model
}

func (l *LLM) Provider() string {
	return l.provider
}

func (l *LLM) options(opts []Option) Options {
	o := l.defaults
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// call - Bounds a provider call by the provider timeout.
func (l *LLM) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, l.timeout)
}

// fail - Wrap a provider error. Fragment callback errors pass through untouched so the caller sees its own error.
func (l *LLM) fail(op string, err error, callbackErr error) error {
	if err == nil {
		return nil
	}
	if callbackErr != nil && errors.Is(err, callbackErr) {
		return callbackErr
	}
	l.log.Warn().Err(err).Str("model", string(l.model)).Msg(op + " failed")
	return apperr.New(apperr.ProviderUnavailable, "llms."+op, err)
}

// Resolve - Build the generator named by p. Missing credentials fail here rather than on first use.
func Resolve(p config.Providers, log zerolog.Logger) (Generator, error) {
	const op = "llms.Resolve"
	name := strings.ToLower(p.LLMProvider)
	if name == "gemini" {
		name = "google"
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = constants.ProviderTimeout
	}
	model := Model(p.LLMModel)
	if model == "" {
		model = defaultModels[name]
	}
	base := LLM{
		provider: name,
		model:    model,
		defaults: Options{Temperature: p.Temperature, MaxTokens: p.MaxTokens},
		timeout:  timeout,
		log:      log.With().Str("component", "llm").Str("provider", name).Logger(),
	}
	creds := p.Credentials
	missing := func(env string) error {
		return apperr.Errorf(apperr.Configuration, op, "%s env var not set", env)
	}

	switch name {
	case "openai":
		if creds.OpenAIKey == "" {
			return nil, missing("OPENAI_API_KEY")
		}
		return NewOpenAICompatible(base, creds.OpenAIKey, ""), nil
	case "deepseek":
		if creds.DeepSeekKey == "" {
			return nil, missing("DEEPSEEK_API_KEY")
		}
		return NewOpenAICompatible(base, creds.DeepSeekKey, deepSeekBaseURL), nil
	case "dashscope":
		if creds.DashScopeKey == "" {
			return nil, missing("DASHSCOPE_API_KEY")
		}
		return NewOpenAICompatible(base, creds.DashScopeKey, dashScopeBaseURL), nil
	case "custom":
		if creds.CustomKey == "" || creds.CustomBaseURL == "" {
			return nil, missing("CUSTOM_LLM_API_KEY/CUSTOM_LLM_BASE_URL")
		}
		if base.model == "" {
			return nil, apperr.Errorf(apperr.Configuration, op, "custom provider needs LLM_MODEL")
		}
		return NewOpenAICompatible(base, creds.CustomKey, creds.CustomBaseURL), nil
	case "google":
		if creds.GoogleKey == "" {
			return nil, missing("GOOGLE_API_KEY")
		}
		return NewGeminiHandler(base, creds.GoogleKey)
	case "anthropic":
		if creds.AnthropicKey == "" {
			return nil, missing("ANTHROPIC_API_KEY")
		}
		return NewAnthropicHandler(base, creds.AnthropicKey), nil
	case "groq":
		if creds.GroqKey == "" {
			return nil, missing("GROQ_API_KEY")
		}
		return NewGroqHandler(base, creds.GroqKey), nil
	case "ollama":
		return NewOllamaHandler(base, creds.OllamaBaseURL)
	case "":
		return nil, apperr.Errorf(apperr.Configuration, op, "llm provider not set")
	default:
		return nil, apperr.Errorf(apperr.Configuration, op, "unknown llm provider %q", p.LLMProvider)
	}
}
