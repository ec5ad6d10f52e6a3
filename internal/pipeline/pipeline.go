// Package pipeline ties retrieval, synthesis, the recommendation catalogs and the session cache
// together behind the operations the HTTP layer and the CLI call.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/chiweic/rag-08122025/internal/apperr"
	"github.com/chiweic/rag-08122025/internal/config"
	"github.com/chiweic/rag-08122025/internal/corpus"
	"github.com/chiweic/rag-08122025/internal/embedding"
	"github.com/chiweic/rag-08122025/internal/llms"
	"github.com/chiweic/rag-08122025/internal/metrics"
	"github.com/chiweic/rag-08122025/internal/recommend"
	"github.com/chiweic/rag-08122025/internal/retrieval"
	"github.com/chiweic/rag-08122025/internal/session"
	"github.com/chiweic/rag-08122025/internal/synthesis"
	"github.com/chiweic/rag-08122025/internal/utils"
	"github.com/chiweic/rag-08122025/internal/vector"
)

var tracer = otel.Tracer("github.com/chiweic/rag-08122025/internal/pipeline")

// snapshot - Providers and the clients resolved from them. Never modified once published.
type snapshot struct {
	providers config.Providers
	embedder  embedding.Embedder
	generator llms.Generator
}

type EmbedderResolver func(config.Providers, zerolog.Logger) (embedding.Embedder, error)
type GeneratorResolver func(config.Providers, zerolog.Logger) (llms.Generator, error)

type Pipeline struct {
	cfg       *config.Config
	index     vector.Index
	retriever *retrieval.Retriever
	sessions  *session.Cache
	metrics   *metrics.Metrics
	log       zerolog.Logger

	books   *recommend.Books
	events  *recommend.Events
	audio   *recommend.Audio
	queries *recommend.Queries
	quizzes *quizStore

	current     atomic.Pointer[snapshot]
	store       atomic.Pointer[corpus.Store]
	initialized atomic.Bool
	// catalogModel is the embedding model the recommendation catalogs were built with. Guarded by initMu.
	catalogModel string

	// updateMu serializes config swaps, initMu serializes (re)initialization. Lock order: updateMu, initMu.
	updateMu sync.Mutex
	initMu   sync.Mutex

	loadCorpus       func() (*corpus.Store, error)
	bookList         []recommend.Book
	queryBank        []recommend.QueryItem
	resolveEmbedder  EmbedderResolver
	resolveGenerator GeneratorResolver
	chance           func() float64
}

type Option func(*Pipeline)

func WithLogger(log zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithCorpus - Use store instead of loading the chunk files from the configured directory.
func WithCorpus(store *corpus.Store) Option {
	return func(p *Pipeline) {
		p.loadCorpus = func() (*corpus.Store, error) { return store, nil }
	}
}

// WithBooks - Use books instead of the configured books file.
func WithBooks(books []recommend.Book) Option {
	return func(p *Pipeline) {
		if books == nil {
			books = []recommend.Book{}
		}
		p.bookList = books
	}
}

func WithQueryBank(bank []recommend.QueryItem) Option {
	return func(p *Pipeline) {
		if bank == nil {
			bank = []recommend.QueryItem{}
		}
		p.queryBank = bank
	}
}

// WithResolvers - Replace provider resolution, e.g. with a local embedder and a scripted generator.
func WithResolvers(emb EmbedderResolver, gen GeneratorResolver) Option {
	return func(p *Pipeline) {
		if emb != nil {
			p.resolveEmbedder = emb
		}
		if gen != nil {
			p.resolveGenerator = gen
		}
	}
}

// New - Resolve the configured providers and load the corpus. The pipeline starts uninitialized;
// Initialize makes it ready to answer.
func New(cfg *config.Config, index vector.Index, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		cfg:              cfg,
		index:            index,
		sessions:         session.New(cfg.Session.Capacity),
		log:              zerolog.Nop(),
		quizzes:          newQuizStore(),
		resolveEmbedder:  embedding.Resolve,
		resolveGenerator: llms.Resolve,
		chance:           randomChance,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With().Str("component", "pipeline").Logger()
	if p.loadCorpus == nil {
		p.loadCorpus = func() (*corpus.Store, error) {
			return corpus.Load(cfg.Corpus.Dir, cfg.Corpus.AudioLimit, p.log)
		}
	}
	if p.bookList == nil {
		books, err := recommend.LoadBooks(cfg.Corpus.BooksFile)
		if err != nil {
			p.log.Warn().Err(err).Msg("books catalog unavailable")
		}
		p.bookList = books
	}
	if p.queryBank == nil {
		bank, err := recommend.LoadQueryBank(cfg.Corpus.QueryBankFile)
		if err != nil {
			p.log.Warn().Err(err).Msg("query bank unreadable, using the built-in bank")
			bank, _ = recommend.LoadQueryBank("")
		}
		p.queryBank = bank
	}
	p.books = recommend.NewBooks(p.bookList, p.metrics, p.log)
	p.queries = recommend.NewQueries(p.queryBank, p.metrics, p.log)
	p.events = recommend.NewEvents(p.metrics, p.log)
	p.audio = recommend.NewAudio(p.metrics, p.log)

	snap, err := p.resolve(cfg.Providers, nil)
	if err != nil {
		return nil, err
	}
	p.current.Store(snap)

	store, err := p.loadCorpus()
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	p.store.Store(store)
	p.retriever = retrieval.New(index, store, cfg.Retrieval, p.log)
	return p, nil
}

// resolve - Clients for next. Sides that did not change since prev are reused.
func (p *Pipeline) resolve(next config.Providers, prev *snapshot) (*snapshot, error) {
	const op = "pipeline.resolve"
	snap := &snapshot{providers: next}
	if prev != nil && !embeddingChanged(prev.providers, next) {
		snap.embedder = prev.embedder
	} else {
		emb, err := p.resolveEmbedder(next, p.log)
		if err != nil {
			return nil, asConfigError(op, err)
		}
		snap.embedder = emb
	}
	if prev != nil && !prev.providers.LLMChanged(next) {
		snap.generator = prev.generator
	} else {
		gen, err := p.resolveGenerator(next, p.log)
		if err != nil {
			return nil, asConfigError(op, err)
		}
		snap.generator = gen
	}
	return snap, nil
}

func embeddingChanged(prev, next config.Providers) bool {
	return prev.EmbeddingFingerprint() != next.EmbeddingFingerprint() ||
		prev.EmbeddingDimension != next.EmbeddingDimension
}

func asConfigError(op string, err error) error {
	if apperr.KindOf(err) == apperr.Internal {
		return apperr.New(apperr.Configuration, op, err)
	}
	return err
}

func (p *Pipeline) snapshot() *snapshot {
	return p.current.Load()
}

func (p *Pipeline) Providers() config.Providers {
	return p.snapshot().providers
}

func (p *Pipeline) Initialized() bool {
	return p.initialized.Load()
}

// UpdateConfig - Apply patch to the provider configuration. The new clients are resolved before
// anything is swapped, so a failure leaves the running configuration untouched. Requests already
// in flight keep the snapshot they started with. Changing the embedding side marks the pipeline
// uninitialized until the collection is rebuilt.
func (p *Pipeline) UpdateConfig(patch config.ProvidersPatch) (config.Providers, error) {
	p.updateMu.Lock()
	defer p.updateMu.Unlock()

	prev := p.snapshot()
	if patch.Empty() {
		return prev.providers, nil
	}
	next := prev.providers.Apply(patch)
	if err := next.Validate(); err != nil {
		p.metrics.ConfigSwapped(false)
		return prev.providers, err
	}
	snap, err := p.resolve(next, prev)
	if err != nil {
		p.metrics.ConfigSwapped(false)
		p.log.Warn().Err(err).Msg("config update rejected")
		return prev.providers, err
	}

	if embeddingChanged(prev.providers, next) {
		p.initMu.Lock()
		p.current.Store(snap)
		p.initialized.Store(false)
		p.catalogModel = ""
		p.initMu.Unlock()
		p.log.Warn().
			Str("embedding_provider", next.EmbeddingProvider).
			Str("embedding_model", next.EmbeddingModel).
			Msg("embedding changed, collection must be initialized again")
	} else {
		p.current.Store(snap)
	}
	p.metrics.ConfigSwapped(true)
	p.log.Info().
		Str("llm_provider", next.LLMProvider).
		Str("llm_model", next.LLMModel).
		Float64("temperature", next.Temperature).
		Int("max_tokens", next.MaxTokens).
		Msg("configuration updated")
	return next, nil
}

func (p *Pipeline) requireInitialized(op string) error {
	if !p.initialized.Load() {
		return apperr.Errorf(apperr.NotInitialized, op, "pipeline not initialized, call /initialize first")
	}
	return nil
}

type QueryRequest struct {
	Question string
	// TopK, Limits, Threshold and Variant select the retrieval mode, see retrieval.Request.
	TopK           int
	Limits         map[corpus.Variant]int
	Threshold      *float64
	Variant        corpus.Variant
	IncludeSources bool
	PromptType     synthesis.PromptType
	// Temperature and MaxTokens override the configured generation settings for this request only.
	Temperature *float64
	MaxTokens   *int
}

func (r QueryRequest) validate(op string) error {
	if strings.TrimSpace(r.Question) == "" {
		return apperr.Errorf(apperr.InvalidRequest, op, "question is empty")
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return apperr.Errorf(apperr.InvalidRequest, op, "temperature %.2f outside [0, 2]", *r.Temperature)
	}
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return apperr.Errorf(apperr.InvalidRequest, op, "max_tokens must be positive, got %d", *r.MaxTokens)
	}
	return nil
}

func (r QueryRequest) options() []llms.Option {
	var opts []llms.Option
	if r.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*r.Temperature))
	}
	if r.MaxTokens != nil {
		opts = append(opts, llms.WithMaxTokens(*r.MaxTokens))
	}
	return opts
}

func (r QueryRequest) retrieval() retrieval.Request {
	return retrieval.Request{
		Query:     r.Question,
		Limits:    r.Limits,
		TopK:      r.TopK,
		Threshold: r.Threshold,
		Variant:   r.Variant,
	}
}

type QueryResult struct {
	Question      string            `json:"question"`
	Answer        string            `json:"answer"`
	Sources       []retrieval.Chunk `json:"sources"`
	RetrievalTime float64           `json:"retrieval_time"`
	SynthesisTime float64           `json:"synthesis_time"`
	TotalTime     float64           `json:"total_time"`
}

// Query - Retrieve, then synthesize, then remember the exchange.
func (p *Pipeline) Query(ctx context.Context, req QueryRequest) (QueryResult, error) {
	const op = "pipeline.Query"
	start := time.Now()
	if err := req.validate(op); err != nil {
		return QueryResult{}, err
	}
	if err := p.requireInitialized(op); err != nil {
		return QueryResult{}, err
	}
	snap := p.snapshot()

	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	chunks, err := p.retriever.Retrieve(ctx, snap.embedder, req.retrieval())
	if err != nil {
		return QueryResult{}, err
	}
	p.metrics.ObserveStage("retrieval", start)
	retrievalTime := utils.Seconds(time.Since(start))

	synthesisStart := time.Now()
	answer, err := synthesis.Synthesize(ctx, snap.generator, synthesis.Request{
		Question:   req.Question,
		Chunks:     chunks,
		PromptType: req.PromptType,
		Options:    req.options(),
	})
	if err != nil {
		return QueryResult{}, err
	}
	p.metrics.ObserveStage("synthesis", synthesisStart)
	p.sessions.Record(req.Question, answer.Text, chunks)

	res := QueryResult{
		Question:      req.Question,
		Answer:        answer.Text,
		Sources:       []retrieval.Chunk{},
		RetrievalTime: retrievalTime,
		SynthesisTime: answer.Elapsed,
		TotalTime:     utils.Seconds(time.Since(start)),
	}
	if req.IncludeSources && chunks != nil {
		res.Sources = chunks
	}
	return res, nil
}

// Stream - Frames for req, see synthesis.Stream. Failures, including an uninitialized pipeline,
// arrive as the error frame.
func (p *Pipeline) Stream(ctx context.Context, req QueryRequest) <-chan synthesis.Frame {
	const op = "pipeline.Stream"
	start := time.Now()
	snap := p.snapshot()
	return synthesis.Stream(ctx, synthesis.StreamInput{
		Request: synthesis.Request{
			Question:   req.Question,
			PromptType: req.PromptType,
			Options:    req.options(),
		},
		Generator:      snap.generator,
		IncludeSources: req.IncludeSources,
		Start:          start,
		Retrieve: func(ctx context.Context) ([]retrieval.Chunk, error) {
			if err := req.validate(op); err != nil {
				return nil, err
			}
			if err := p.requireInitialized(op); err != nil {
				return nil, err
			}
			chunks, err := p.retriever.Retrieve(ctx, snap.embedder, req.retrieval())
			if err == nil {
				p.metrics.ObserveStage("retrieval", start)
			}
			return chunks, err
		},
		OnComplete: func(answer string, chunks []retrieval.Chunk) {
			p.metrics.ObserveStage("synthesis", start)
			p.sessions.Record(req.Question, answer, chunks)
		},
	})
}

type RetrieveResult struct {
	Query         string            `json:"query"`
	Chunks        []retrieval.Chunk `json:"chunks"`
	Count         int               `json:"count"`
	RetrievalTime float64           `json:"retrieval_time"`
}

func (p *Pipeline) Retrieve(ctx context.Context, req retrieval.Request) (RetrieveResult, error) {
	const op = "pipeline.Retrieve"
	start := time.Now()
	if err := p.requireInitialized(op); err != nil {
		return RetrieveResult{}, err
	}
	chunks, err := p.retriever.Retrieve(ctx, p.snapshot().embedder, req)
	if err != nil {
		return RetrieveResult{}, err
	}
	p.metrics.ObserveStage("retrieval", start)
	if chunks == nil {
		chunks = []retrieval.Chunk{}
	}
	return RetrieveResult{
		Query:         req.Query,
		Chunks:        chunks,
		Count:         len(chunks),
		RetrievalTime: utils.Seconds(time.Since(start)),
	}, nil
}

// Synthesize - Answer question from caller-supplied chunks. Needs no collection.
func (p *Pipeline) Synthesize(ctx context.Context, question string, chunks []retrieval.Chunk, promptType synthesis.PromptType) (synthesis.Answer, error) {
	start := time.Now()
	answer, err := synthesis.Synthesize(ctx, p.snapshot().generator, synthesis.Request{
		Question:   question,
		Chunks:     chunks,
		PromptType: promptType,
	})
	if err != nil {
		return synthesis.Answer{}, err
	}
	p.metrics.ObserveStage("synthesis", start)
	return answer, nil
}

type Health struct {
	Status               string `json:"status"`
	Initialized          bool   `json:"initialized"`
	VectorStoreConnected bool   `json:"vector_store_connected"`
	PipelineReady        bool   `json:"pipeline_ready"`
	Collection           string `json:"collection"`
	Points               int    `json:"points"`
}

// Health - Never fails; an unreachable index is reported, not returned.
func (p *Pipeline) Health(ctx context.Context) Health {
	h := Health{
		Initialized: p.initialized.Load(),
		Collection:  p.cfg.Index.Collection,
	}
	stats, err := p.index.Stats(ctx)
	switch kind := apperr.KindOf(err); {
	case err == nil:
		h.VectorStoreConnected = true
		h.Points = stats.Count
	case kind == apperr.NotInitialized || kind == apperr.NotFound:
		h.VectorStoreConnected = true
	default:
		p.log.Warn().Err(err).Msg("vector store unreachable")
	}
	h.PipelineReady = h.Initialized && h.VectorStoreConnected
	h.Status = "healthy"
	if !h.PipelineReady {
		h.Status = "degraded"
	}
	return h
}

type Statistics struct {
	Collection    vector.Stats           `json:"collection"`
	Records       map[corpus.Variant]int `json:"records"`
	TotalRecords  int                    `json:"total_records"`
	Catalogs      map[string]int         `json:"recommendation_catalogs"`
	CachedQueries int                    `json:"cached_queries"`
	Initialized   bool                   `json:"initialized"`
	Providers     config.Providers       `json:"providers"`
}

func (p *Pipeline) Statistics(ctx context.Context) (Statistics, error) {
	stats, err := p.index.Stats(ctx)
	if err != nil {
		return Statistics{}, err
	}
	store := p.store.Load()
	return Statistics{
		Collection:   stats,
		Records:      store.Counts(),
		TotalRecords: store.Len(),
		Catalogs: map[string]int{
			"books":   p.books.Len(),
			"events":  p.events.Len(),
			"audio":   p.audio.Len(),
			"queries": p.queries.Len(),
		},
		CachedQueries: p.sessions.Len(),
		Initialized:   p.initialized.Load(),
		Providers:     p.snapshot().providers,
	}, nil
}

// Chunk - One corpus record rendered the way retrieval renders it, without a score.
func (p *Pipeline) Chunk(id string) (retrieval.Chunk, error) {
	rec, ok := p.store.Load().Get(id)
	if !ok {
		return retrieval.Chunk{}, apperr.Errorf(apperr.NotFound, "pipeline.Chunk", "chunk %q not found", id)
	}
	return retrieval.Chunk{
		ID:       rec.ID,
		Variant:  rec.Variant,
		Header:   rec.Header,
		Title:    rec.Title(),
		Content:  rec.Content,
		Metadata: retrieval.DisplayMetadata(rec),
	}, nil
}

type ConfigView struct {
	LLM struct {
		Provider    string  `json:"provider"`
		Model       string  `json:"model"`
		Temperature float64 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens"`
	} `json:"llm"`
	Embedding struct {
		Provider  string `json:"provider"`
		Model     string `json:"model"`
		Dimension int    `json:"dimension"`
	} `json:"embedding"`
	Retrieval struct {
		TopK      int     `json:"top_k"`
		Threshold float64 `json:"threshold"`
	} `json:"retrieval"`
	VectorStore struct {
		Backend    string `json:"backend"`
		URL        string `json:"url"`
		Collection string `json:"collection"`
	} `json:"vector_store"`
}

// Config - The effective configuration, without credentials.
func (p *Pipeline) Config() ConfigView {
	snap := p.snapshot()
	var v ConfigView
	v.LLM.Provider = snap.providers.LLMProvider
	v.LLM.Model = string(snap.generator.Model())
	v.LLM.Temperature = snap.providers.Temperature
	v.LLM.MaxTokens = snap.providers.MaxTokens
	v.Embedding.Provider = snap.providers.EmbeddingProvider
	v.Embedding.Model = snap.embedder.Model()
	v.Embedding.Dimension = snap.embedder.Dimension()
	v.Retrieval.TopK = p.cfg.Retrieval.TopK
	v.Retrieval.Threshold = p.cfg.Retrieval.Threshold
	v.VectorStore.Backend = p.cfg.Index.Backend
	if p.cfg.Index.Backend == "qdrant" {
		v.VectorStore.URL = fmt.Sprintf("%s:%d", p.cfg.Index.Host, p.cfg.Index.Port)
	}
	v.VectorStore.Collection = p.cfg.Index.Collection
	return v
}

type History struct {
	History     []session.Entry `json:"history"`
	TotalCached int             `json:"total_cached"`
	Returned    int             `json:"returned"`
}

// History - Cached exchanges, most recent first.
func (p *Pipeline) History(limit int) History {
	entries := p.sessions.Recent(limit)
	return History{History: entries, TotalCached: p.sessions.Len(), Returned: len(entries)}
}

// Close - Release the index connection.
func (p *Pipeline) Close() error {
	return p.index.Close()
}
