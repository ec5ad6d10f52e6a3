package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chiweic/rag-08122025/internal/apperr"
	"github.com/chiweic/rag-08122025/internal/constants"
)

// Config is the process configuration. Only Providers may change at runtime; everything else is read once.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Index     IndexConfig     `yaml:"index"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Providers Providers       `yaml:"providers"`
	Session   SessionConfig   `yaml:"session"`
}

type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	RateLimit   float64  `yaml:"rate_limit"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type IndexConfig struct {
	Backend    string        `yaml:"backend"` // qdrant | memory
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	APIKey     string        `yaml:"api_key"`
	UseTLS     bool          `yaml:"use_tls"`
	Collection string        `yaml:"collection"`
	BatchSize  int           `yaml:"batch_size"`
	Workers    int           `yaml:"workers"`
	Timeout    time.Duration `yaml:"timeout"`
}

type CorpusConfig struct {
	Dir           string `yaml:"dir"`
	BooksFile     string `yaml:"books_file"`
	QueryBankFile string `yaml:"query_bank_file"`
	AudioLimit    int    `yaml:"audio_limit"`
}

type RetrievalConfig struct {
	TopK       int           `yaml:"top_k"`
	TextLimit  int           `yaml:"text_limit"`
	AudioLimit int           `yaml:"audio_limit"`
	EventLimit int           `yaml:"event_limit"`
	Threshold  float64       `yaml:"threshold"`
	OverFetch  int           `yaml:"over_fetch"`
	Timeout    time.Duration `yaml:"timeout"`
}

type SessionConfig struct {
	Capacity int `yaml:"capacity"`
}

// Providers - The hot-swappable part of the configuration. Values are copied, never shared, so a
// Providers value held by a request cannot change underneath it.
type Providers struct {
	EmbeddingProvider  string        `yaml:"embedding_provider" json:"embedding_provider"`
	EmbeddingModel     string        `yaml:"embedding_model" json:"embedding_model"`
	EmbeddingDimension int           `yaml:"embedding_dimension" json:"embedding_dimension"`
	EmbeddingWorkers   int           `yaml:"embedding_workers" json:"embedding_workers"`
	LLMProvider        string        `yaml:"llm_provider" json:"llm_provider"`
	LLMModel           string        `yaml:"llm_model" json:"llm_model"`
	Temperature        float64       `yaml:"temperature" json:"temperature"`
	MaxTokens          int           `yaml:"max_tokens" json:"max_tokens"`
	Timeout            time.Duration `yaml:"timeout" json:"-"`
	Credentials        Credentials   `yaml:"credentials" json:"-"`
}

type Credentials struct {
	OpenAIKey     string `yaml:"openai_api_key"`
	DeepSeekKey   string `yaml:"deepseek_api_key"`
	GoogleKey     string `yaml:"google_api_key"`
	DashScopeKey  string `yaml:"dashscope_api_key"`
	AnthropicKey  string `yaml:"anthropic_api_key"`
	GroqKey       string `yaml:"groq_api_key"`
	CustomKey     string `yaml:"custom_api_key"`
	CustomBaseURL string `yaml:"custom_base_url"`
	OllamaBaseURL string `yaml:"ollama_base_url"`
}

// ProvidersPatch - Partial update for Providers. Nil fields keep their current value.
type ProvidersPatch struct {
	EmbeddingProvider  *string  `json:"embedding_provider,omitempty"`
	EmbeddingModel     *string  `json:"embedding_model,omitempty"`
	EmbeddingDimension *int     `json:"embedding_dimension,omitempty"`
	LLMProvider        *string  `json:"llm_provider,omitempty"`
	LLMModel           *string  `json:"llm_model,omitempty"`
	Temperature        *float64 `json:"llm_temperature,omitempty"`
	MaxTokens          *int     `json:"llm_max_tokens,omitempty"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        constants.ServerPort,
			CORSOrigins: []string{"http://localhost:5173"},
			RateLimit:   constants.RequestRateLimit,
		},
		Log: LogConfig{Level: "info"},
		Index: IndexConfig{
			Backend:    "qdrant",
			Host:       "localhost",
			Port:       6334, // gRPC; 6333 is the http server port
			Collection: constants.CollectionName,
			BatchSize:  constants.MaxVectors,
			Workers:    constants.MaxVectorWorkers,
			Timeout:    constants.RetrievalTimeout,
		},
		Corpus: CorpusConfig{
			Dir:           constants.ChunksDir,
			BooksFile:     constants.BooksFile,
			QueryBankFile: constants.QueryBankFile,
		},
		Retrieval: RetrievalConfig{
			TopK:       constants.DefaultTopK,
			TextLimit:  constants.DefaultTextLimit,
			AudioLimit: constants.DefaultAudioLimit,
			EventLimit: constants.DefaultEventLimit,
			Threshold:  constants.DefaultThreshold,
			OverFetch:  constants.OverFetchFactor,
			Timeout:    constants.RetrievalTimeout,
		},
		Providers: Providers{
			EmbeddingProvider: "ollama",
			EmbeddingModel:    "bge-m3",
			EmbeddingWorkers:  10,
			LLMProvider:       "openai",
			LLMModel:          "gpt-4o-mini",
			Temperature:       0,
			MaxTokens:         2000,
			Timeout:           constants.ProviderTimeout,
			Credentials: Credentials{
				OllamaBaseURL: "http://localhost:11434",
			},
		},
		Session: SessionConfig{Capacity: constants.SessionCapacity},
	}
}

// Load - Defaults, then the yaml file at path (a missing file is fine), then env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, apperr.New(apperr.Configuration, "config.Load", fmt.Errorf("parse %s: %w", path, err))
			}
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadProviders - Only the providers block of the file at path, layered on base. Used by the watcher.
func ReadProviders(path string, base Providers) (Providers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config: %w", err)
	}
	var file struct {
		Providers *Providers `yaml:"providers"`
	}
	p := base
	file.Providers = &p
	if err := yaml.Unmarshal(data, &file); err != nil {
		return base, apperr.New(apperr.Configuration, "config.ReadProviders", err)
	}
	return p, p.Validate()
}

func (c *Config) Validate() error {
	if c.Index.Backend != "qdrant" && c.Index.Backend != "memory" {
		return apperr.Errorf(apperr.Configuration, "config.Validate", "unknown index backend %q", c.Index.Backend)
	}
	if c.Index.Collection == "" {
		return apperr.Errorf(apperr.Configuration, "config.Validate", "collection name is empty")
	}
	if c.Index.BatchSize <= 0 {
		c.Index.BatchSize = constants.MaxVectors
	}
	if c.Index.Workers <= 0 {
		c.Index.Workers = constants.MaxVectorWorkers
	}
	if c.Retrieval.OverFetch < 1 {
		c.Retrieval.OverFetch = 1
	}
	if c.Session.Capacity <= 0 {
		c.Session.Capacity = constants.SessionCapacity
	}
	return c.Providers.Validate()
}

func (p Providers) Validate() error {
	if p.EmbeddingProvider == "" {
		return apperr.Errorf(apperr.Configuration, "config.Validate", "embedding provider is empty")
	}
	if p.LLMProvider == "" {
		return apperr.Errorf(apperr.Configuration, "config.Validate", "llm provider is empty")
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return apperr.Errorf(apperr.Configuration, "config.Validate", "temperature %.2f outside [0, 2]", p.Temperature)
	}
	if p.EmbeddingDimension < 0 || p.MaxTokens < 0 {
		return apperr.Errorf(apperr.Configuration, "config.Validate", "negative dimension or max tokens")
	}
	return nil
}

// Apply - Copy of p with the patch applied. Changing the embedding model without naming a
// dimension clears the configured dimension so it gets detected again.
func (p Providers) Apply(patch ProvidersPatch) Providers {
	next := p
	if patch.EmbeddingProvider != nil {
		next.EmbeddingProvider = *patch.EmbeddingProvider
	}
	if patch.EmbeddingModel != nil {
		next.EmbeddingModel = *patch.EmbeddingModel
	}
	if patch.EmbeddingDimension != nil {
		next.EmbeddingDimension = *patch.EmbeddingDimension
	} else if next.EmbeddingFingerprint() != p.EmbeddingFingerprint() {
		next.EmbeddingDimension = 0
	}
	if patch.LLMProvider != nil {
		next.LLMProvider = *patch.LLMProvider
	}
	if patch.LLMModel != nil {
		next.LLMModel = *patch.LLMModel
	}
	if patch.Temperature != nil {
		next.Temperature = *patch.Temperature
	}
	if patch.MaxTokens != nil {
		next.MaxTokens = *patch.MaxTokens
	}
	return next
}

// Diff - Patch that turns p into next.
func (p Providers) Diff(next Providers) ProvidersPatch {
	var patch ProvidersPatch
	if next.EmbeddingProvider != p.EmbeddingProvider {
		patch.EmbeddingProvider = &next.EmbeddingProvider
	}
	if next.EmbeddingModel != p.EmbeddingModel {
		patch.EmbeddingModel = &next.EmbeddingModel
	}
	if next.EmbeddingDimension != p.EmbeddingDimension {
		patch.EmbeddingDimension = &next.EmbeddingDimension
	}
	if next.LLMProvider != p.LLMProvider {
		patch.LLMProvider = &next.LLMProvider
	}
	if next.LLMModel != p.LLMModel {
		patch.LLMModel = &next.LLMModel
	}
	if next.Temperature != p.Temperature {
		patch.Temperature = &next.Temperature
	}
	if next.MaxTokens != p.MaxTokens {
		patch.MaxTokens = &next.MaxTokens
	}
	return patch
}

func (patch ProvidersPatch) Empty() bool {
	return patch == ProvidersPatch{}
}

// EmbeddingFingerprint - Identity of the vector space. Two configs with the same fingerprint produce comparable vectors.
func (p Providers) EmbeddingFingerprint() string {
	return strings.ToLower(p.EmbeddingProvider) + "/" + p.EmbeddingModel
}

func (p Providers) LLMChanged(next Providers) bool {
	return p.LLMProvider != next.LLMProvider || p.LLMModel != next.LLMModel ||
		p.Temperature != next.Temperature || p.MaxTokens != next.MaxTokens
}

func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	flt := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	p := &cfg.Providers
	str("EMBEDDING_PROVIDER", &p.EmbeddingProvider)
	str("EMBEDDING_MODEL", &p.EmbeddingModel)
	num("EMBEDDING_DIMENSION", &p.EmbeddingDimension)
	num("OLLAMA_WORKERS", &p.EmbeddingWorkers)
	str("LLM_PROVIDER", &p.LLMProvider)
	str("LLM_MODEL", &p.LLMModel)
	flt("LLM_TEMPERATURE", &p.Temperature)
	num("LLM_MAX_TOKENS", &p.MaxTokens)

	c := &p.Credentials
	str("OPENAI_API_KEY", &c.OpenAIKey)
	str("DEEPSEEK_API_KEY", &c.DeepSeekKey)
	str("GOOGLE_API_KEY", &c.GoogleKey)
	str("DASHSCOPE_API_KEY", &c.DashScopeKey)
	str("ANTHROPIC_API_KEY", &c.AnthropicKey)
	str("GROQ_API_KEY", &c.GroqKey)
	str("CUSTOM_LLM_API_KEY", &c.CustomKey)
	str("CUSTOM_LLM_BASE_URL", &c.CustomBaseURL)
	str("OLLAMA_BASE_URL", &c.OllamaBaseURL)

	str("INDEX_BACKEND", &cfg.Index.Backend)
	str("QDRANT_HOST", &cfg.Index.Host)
	num("QDRANT_PORT", &cfg.Index.Port)
	str("QDRANT_API_KEY", &cfg.Index.APIKey)
	str("QDRANT_COLLECTION", &cfg.Index.Collection)
	num("BATCH_SIZE", &cfg.Index.BatchSize)

	num("RETRIEVAL_TOP_K", &cfg.Retrieval.TopK)
	str("CHUNKS_DIR", &cfg.Corpus.Dir)
	str("BOOKS_FILE", &cfg.Corpus.BooksFile)
	num("API_PORT", &cfg.Server.Port)
	str("LOG_LEVEL", &cfg.Log.Level)

	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.Server.CORSOrigins = origins
	}
}
