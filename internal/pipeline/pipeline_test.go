package pipeline

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiweic/rag-08122025/internal/apperr"
	"github.com/chiweic/rag-08122025/internal/config"
	"github.com/chiweic/rag-08122025/internal/corpus"
	"github.com/chiweic/rag-08122025/internal/embedding"
	"github.com/chiweic/rag-08122025/internal/llms"
	"github.com/chiweic/rag-08122025/internal/metrics"
	"github.com/chiweic/rag-08122025/internal/recommend"
	"github.com/chiweic/rag-08122025/internal/retrieval"
	"github.com/chiweic/rag-08122025/internal/synthesis"
	"github.com/chiweic/rag-08122025/internal/vector"
)

const fourTruths = "什麼是四聖諦？"

func records(t *testing.T) *corpus.Store {
	t.Helper()
	start, end := corpus.ParseTimePeriod("2099/01/01～2099/01/03")
	store, err := corpus.NewStore([]corpus.Record{
		{ID: "text_001", Variant: corpus.Text, Header: "四聖諦", Content: "什麼是四聖諦？四聖諦是苦諦、集諦、滅諦、道諦。",
			Text: &corpus.TextMeta{Title: "佛法綱要", StartPage: 12, EndPage: 15}},
		{ID: "text_002", Variant: corpus.Text, Header: "禪修方法", Content: "放鬆身心，數息觀是初學禪修的方法。",
			Text: &corpus.TextMeta{Title: "禪的體驗"}},
		{ID: "audio_001_0", Variant: corpus.Audio, Header: "心經", Content: "色即是空，空即是色。",
			Audio: &corpus.AudioMeta{AudioID: "A1", Title: "心經講記", Speaker: "聖嚴法師"}},
		{ID: "event_001", Variant: corpus.Event, Header: "禪修營", Content: "初級禪訓班，學習打坐的基本方法。",
			Event: &corpus.EventMeta{EventID: "E1", Title: "初級禪訓班", TimePeriod: "2099/01/01～2099/01/03", StartDate: start, EndDate: end}},
	})
	require.NoError(t, err)
	return store
}

// generators - Resolver that hands out a generator per configured model.
func generators(byModel map[string]llms.Generator) GeneratorResolver {
	return func(p config.Providers, _ zerolog.Logger) (llms.Generator, error) {
		gen, ok := byModel[p.LLMModel]
		if !ok {
			return nil, apperr.Errorf(apperr.Configuration, "test", "no generator for %q", p.LLMModel)
		}
		return gen, nil
	}
}

// localEmbeddings - "small" models get a smaller vector space.
func localEmbeddings(p config.Providers, _ zerolog.Logger) (embedding.Embedder, error) {
	switch p.EmbeddingModel {
	case "broken":
		return nil, errors.New("model not available")
	case "small":
		return embedding.NewLocal(256), nil
	}
	return embedding.NewLocal(0), nil
}

type fixture struct {
	*Pipeline
	gen     *llms.MockLLM
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, gens map[string]llms.Generator) fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Index.Backend = "memory"
	cfg.Index.BatchSize = 2
	cfg.Index.Workers = 2
	cfg.Providers.LLMModel = "primary"
	cfg.Providers.EmbeddingModel = "local"

	gen := llms.NewMockLLM("primary", "問題1：什麼是苦諦？\n", "問題2：什麼是道諦？")
	if gens == nil {
		gens = map[string]llms.Generator{}
	}
	if _, ok := gens["primary"]; !ok {
		gens["primary"] = gen
	}
	m := metrics.New()
	p, err := New(cfg, vector.NewMemoryIndex(),
		WithCorpus(records(t)),
		WithMetrics(m),
		WithBooks([]recommend.Book{
			{ISBN: "978-1", Title: "禪的智慧", ContentIntroduction: "介紹禪修的基本方法"},
			{ISBN: "978-2", Title: "四聖諦講記", ContentIntroduction: "苦集滅道"},
		}),
		WithResolvers(localEmbeddings, generators(gens)),
	)
	require.NoError(t, err)
	return fixture{Pipeline: p, gen: gen, metrics: m}
}

func initialized(t *testing.T, gens map[string]llms.Generator) fixture {
	t.Helper()
	f := newFixture(t, gens)
	_, err := f.Initialize(context.Background(), InitializeRequest{})
	require.NoError(t, err)
	return f
}

func drain(frames <-chan synthesis.Frame) []synthesis.Frame {
	var out []synthesis.Frame
	for f := range frames {
		out = append(out, f)
	}
	return out
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	assert.False(t, f.Initialized())

	res, err := f.Initialize(ctx, InitializeRequest{})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 4, res.Indexed)
	assert.Equal(t, 4, res.Points)
	assert.Equal(t, 512, res.Dimension)
	assert.Equal(t, 2, res.Records[corpus.Text])
	assert.True(t, f.Initialized())
	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.IndexedPoints))

	again, err := f.Initialize(ctx, InitializeRequest{})
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Zero(t, again.Indexed)
	assert.Equal(t, 4, again.Points)

	recreated, err := f.Initialize(ctx, InitializeRequest{Recreate: true, BatchSize: 3})
	require.NoError(t, err)
	assert.True(t, recreated.Created)
	assert.Equal(t, 4, recreated.Indexed)
	assert.Equal(t, 4, recreated.Points)
}

func TestInitializeReconcilesCorpus(t *testing.T) {
	ctx := context.Background()
	f := initialized(t, nil)

	full := records(t)
	shrunk, err := corpus.NewStore(slices.DeleteFunc(slices.Clone(full.All()), func(r corpus.Record) bool {
		return r.ID == "event_001"
	}))
	require.NoError(t, err)
	f.loadCorpus = func() (*corpus.Store, error) { return shrunk, nil }

	res, err := f.Initialize(ctx, InitializeRequest{})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Zero(t, res.Indexed)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 3, res.Points)

	again, err := f.Initialize(ctx, InitializeRequest{})
	require.NoError(t, err)
	assert.Zero(t, again.Indexed)
	assert.Zero(t, again.Removed)
	assert.Equal(t, 3, again.Points)

	zero := 0.0
	got, err := f.Retrieve(ctx, retrieval.Request{Query: "禪修營", TopK: 10, Threshold: &zero, Variant: corpus.Event})
	require.NoError(t, err)
	assert.Empty(t, got.Chunks)

	// growing back only embeds the record that came back
	f.loadCorpus = func() (*corpus.Store, error) { return full, nil }
	grown, err := f.Initialize(ctx, InitializeRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, grown.Indexed)
	assert.Equal(t, 4, grown.Points)
}

// gatedEmbedder - Blocks EmbedBatch on gate once armed, closing entered on the first blocked call.
type gatedEmbedder struct {
	*embedding.Local
	armed   *atomic.Bool
	gate    chan struct{}
	entered chan struct{}
	once    *sync.Once
}

func (g gatedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if g.armed.Load() {
		g.once.Do(func() { close(g.entered) })
		<-g.gate
	}
	return g.Local.EmbedBatch(ctx, texts)
}

func TestRecreateRefusesQueriesUntilRebuilt(t *testing.T) {
	ctx := context.Background()
	emb := gatedEmbedder{
		Local:   embedding.NewLocal(0),
		armed:   &atomic.Bool{},
		gate:    make(chan struct{}),
		entered: make(chan struct{}),
		once:    &sync.Once{},
	}
	cfg := config.Default()
	cfg.Index.Backend = "memory"
	p, err := New(cfg, vector.NewMemoryIndex(),
		WithCorpus(records(t)),
		WithBooks(nil),
		WithResolvers(
			func(config.Providers, zerolog.Logger) (embedding.Embedder, error) { return emb, nil },
			func(config.Providers, zerolog.Logger) (llms.Generator, error) {
				return llms.NewMockLLM("m", "答"), nil
			},
		),
	)
	require.NoError(t, err)
	_, err = p.Initialize(ctx, InitializeRequest{})
	require.NoError(t, err)

	zero := 0.0
	before, err := p.Retrieve(ctx, retrieval.Request{Query: fourTruths, TopK: 10, Threshold: &zero})
	require.NoError(t, err)
	require.Equal(t, 4, before.Count)

	emb.armed.Store(true)
	done := make(chan error, 1)
	go func() {
		_, err := p.Initialize(ctx, InitializeRequest{Recreate: true})
		done <- err
	}()
	<-emb.entered

	assert.False(t, p.Initialized())
	_, err = p.Retrieve(ctx, retrieval.Request{Query: fourTruths, TopK: 10, Threshold: &zero})
	assert.Equal(t, apperr.NotInitialized, apperr.KindOf(err))
	_, err = p.Query(ctx, QueryRequest{Question: fourTruths})
	assert.Equal(t, apperr.NotInitialized, apperr.KindOf(err))

	close(emb.gate)
	require.NoError(t, <-done)
	assert.True(t, p.Initialized())
	after, err := p.Retrieve(ctx, retrieval.Request{Query: fourTruths, TopK: 10, Threshold: &zero})
	require.NoError(t, err)
	assert.Equal(t, 4, after.Count)
}

type failingEmbedder struct {
	*embedding.Local
}

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("connection reset by peer")
}

func TestInitializeEmbeddingFailure(t *testing.T) {
	cfg := config.Default()
	cfg.Index.Backend = "memory"
	p, err := New(cfg, vector.NewMemoryIndex(),
		WithCorpus(records(t)),
		WithBooks(nil),
		WithResolvers(
			func(config.Providers, zerolog.Logger) (embedding.Embedder, error) {
				return failingEmbedder{embedding.NewLocal(8)}, nil
			},
			func(config.Providers, zerolog.Logger) (llms.Generator, error) { return llms.NewMockLLM("m"), nil },
		),
	)
	require.NoError(t, err)

	_, err = p.Initialize(context.Background(), InitializeRequest{})
	require.Error(t, err)
	assert.Equal(t, apperr.ProviderUnavailable, apperr.KindOf(err))
	assert.False(t, p.Initialized())
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := config.Default()
	cfg.Providers.EmbeddingModel = "broken"
	_, err := New(cfg, vector.NewMemoryIndex(), WithCorpus(records(t)), WithBooks(nil),
		WithResolvers(localEmbeddings, nil))
	require.Error(t, err)
	assert.Equal(t, apperr.Configuration, apperr.KindOf(err))
}

func TestNotInitialized(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.Query(ctx, QueryRequest{Question: fourTruths})
	assert.Equal(t, apperr.NotInitialized, apperr.KindOf(err))

	_, err = f.Retrieve(ctx, retrieval.Request{Query: fourTruths})
	assert.Equal(t, apperr.NotInitialized, apperr.KindOf(err))

	frames := drain(f.Stream(ctx, QueryRequest{Question: fourTruths}))
	require.Len(t, frames, 2)
	assert.Equal(t, synthesis.FrameStart, frames[0].Type)
	assert.Equal(t, synthesis.FrameError, frames[1].Type)
	assert.Equal(t, apperr.NotInitialized, frames[1].Kind)

	// synthesis from supplied chunks doesn't need the collection
	answer, err := f.Synthesize(ctx, fourTruths, nil, synthesis.QA)
	require.NoError(t, err)
	assert.NotEmpty(t, answer.Text)
}

func TestQueryFourNobleTruths(t *testing.T) {
	ctx := context.Background()
	f := initialized(t, nil)
	threshold := 0.3

	res, err := f.Query(ctx, QueryRequest{Question: fourTruths, TopK: 1, Threshold: &threshold, IncludeSources: true})
	require.NoError(t, err)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "text_001", res.Sources[0].ID)
	assert.GreaterOrEqual(t, res.Sources[0].Score, threshold)
	assert.Equal(t, "問題1：什麼是苦諦？\n問題2：什麼是道諦？", res.Answer)
	assert.GreaterOrEqual(t, res.TotalTime, res.RetrievalTime)

	prompts := f.gen.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "[來源 1｜佛法綱要]")

	history := f.History(10)
	assert.Equal(t, 1, history.TotalCached)
	require.Len(t, history.History, 1)
	assert.Equal(t, fourTruths, history.History[0].Question)
}

func TestQueryWithoutSources(t *testing.T) {
	f := initialized(t, nil)
	res, err := f.Query(context.Background(), QueryRequest{Question: fourTruths, TopK: 1})
	require.NoError(t, err)
	assert.NotNil(t, res.Sources)
	assert.Empty(t, res.Sources)
}

func TestQueryAboveEveryScore(t *testing.T) {
	f := initialized(t, nil)
	threshold := 1.1

	res, err := f.Query(context.Background(), QueryRequest{Question: fourTruths, Threshold: &threshold, IncludeSources: true})
	require.NoError(t, err)
	assert.Empty(t, res.Sources)
	assert.NotEmpty(t, res.Answer)

	prompts := f.gen.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "沒有找到相關的參考資料")
}

func TestQueryEmptyQuestion(t *testing.T) {
	f := initialized(t, nil)
	_, err := f.Query(context.Background(), QueryRequest{Question: "  "})
	assert.Equal(t, apperr.InvalidRequest, apperr.KindOf(err))
}

func TestStream(t *testing.T) {
	f := initialized(t, nil)
	frames := drain(f.Stream(context.Background(), QueryRequest{Question: fourTruths, IncludeSources: true}))

	require.GreaterOrEqual(t, len(frames), 4)
	assert.Equal(t, synthesis.FrameStart, frames[0].Type)
	assert.Equal(t, synthesis.FrameSources, frames[1].Type)
	assert.NotEmpty(t, frames[1].Sources)
	var answer strings.Builder
	for _, fr := range frames[2 : len(frames)-1] {
		assert.Equal(t, synthesis.FrameAnswer, fr.Type)
		answer.WriteString(fr.Content)
	}
	last := frames[len(frames)-1]
	assert.Equal(t, synthesis.FrameDone, last.Type)

	entry, ok := f.sessions.Last()
	require.True(t, ok)
	assert.Equal(t, answer.String(), entry.Answer)
}

func TestUpdateConfigDuringRequest(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	slow := llms.NewMockLLM("primary", "before").WithGate(gate)
	next := llms.NewMockLLM("secondary", "after")
	f := initialized(t, map[string]llms.Generator{"primary": slow, "secondary": next})

	type result struct {
		res QueryResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := f.Query(ctx, QueryRequest{Question: fourTruths, IncludeSources: true})
		done <- result{res, err}
	}()
	require.Eventually(t, func() bool { return len(slow.Prompts()) == 1 }, 2*time.Second, 5*time.Millisecond)

	model := "secondary"
	providers, err := f.UpdateConfig(config.ProvidersPatch{LLMModel: &model})
	require.NoError(t, err)
	assert.Equal(t, "secondary", providers.LLMModel)
	assert.True(t, f.Initialized(), "an llm change keeps the collection")
	close(gate)

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, "before", r.res.Answer)

	after, err := f.Query(ctx, QueryRequest{Question: fourTruths, IncludeSources: true})
	require.NoError(t, err)
	assert.Equal(t, "after", after.Answer)
	assert.Equal(t, r.res.Sources, after.Sources)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ConfigSwaps.WithLabelValues("applied")))
}

func TestUpdateConfigRejected(t *testing.T) {
	f := initialized(t, nil)
	before := f.Providers()

	unknown := "missing"
	_, err := f.UpdateConfig(config.ProvidersPatch{LLMModel: &unknown})
	assert.Equal(t, apperr.Configuration, apperr.KindOf(err))

	hot := 5.0
	_, err = f.UpdateConfig(config.ProvidersPatch{Temperature: &hot})
	assert.Equal(t, apperr.Configuration, apperr.KindOf(err))

	broken := "broken"
	_, err = f.UpdateConfig(config.ProvidersPatch{EmbeddingModel: &broken})
	assert.Equal(t, apperr.Configuration, apperr.KindOf(err))

	assert.Equal(t, before, f.Providers())
	assert.True(t, f.Initialized())
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.ConfigSwaps.WithLabelValues("rejected")))

	same, err := f.UpdateConfig(config.ProvidersPatch{})
	require.NoError(t, err)
	assert.Equal(t, before, same)
}

func TestUpdateConfigEmbeddingChange(t *testing.T) {
	ctx := context.Background()
	f := initialized(t, nil)

	small := "small"
	_, err := f.UpdateConfig(config.ProvidersPatch{EmbeddingModel: &small})
	require.NoError(t, err)
	assert.False(t, f.Initialized())

	_, err = f.Query(ctx, QueryRequest{Question: fourTruths})
	assert.Equal(t, apperr.NotInitialized, apperr.KindOf(err))

	_, err = f.Initialize(ctx, InitializeRequest{})
	assert.Equal(t, apperr.DimensionMismatch, apperr.KindOf(err))
	assert.False(t, f.Initialized())

	res, err := f.Initialize(ctx, InitializeRequest{Recreate: true})
	require.NoError(t, err)
	assert.Equal(t, 256, res.Dimension)
	assert.Equal(t, 4, res.Indexed)

	_, err = f.Query(ctx, QueryRequest{Question: fourTruths})
	require.NoError(t, err)
}

func TestHealthAndStatistics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	h := f.Health(ctx)
	assert.Equal(t, "degraded", h.Status)
	assert.True(t, h.VectorStoreConnected)
	assert.False(t, h.PipelineReady)

	_, err := f.Statistics(ctx)
	assert.Equal(t, apperr.NotInitialized, apperr.KindOf(err))

	_, err = f.Initialize(ctx, InitializeRequest{})
	require.NoError(t, err)

	h = f.Health(ctx)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, 4, h.Points)

	stats, err := f.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalRecords)
	assert.Equal(t, 4, stats.Collection.Count)
	assert.Equal(t, 1, stats.Records[corpus.Event])
	assert.Equal(t, 2, stats.Catalogs["books"])
	assert.Equal(t, 1, stats.Catalogs["events"])
}

func TestChunk(t *testing.T) {
	f := newFixture(t, nil)

	c, err := f.Chunk("text_001")
	require.NoError(t, err)
	assert.Equal(t, "佛法綱要", c.Title)
	assert.Equal(t, "12-15", c.Metadata["pages"])

	_, err = f.Chunk("text_999")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestConfigView(t *testing.T) {
	f := newFixture(t, nil)
	v := f.Config()
	assert.Equal(t, "primary", v.LLM.Model)
	assert.Equal(t, "local-hash", v.Embedding.Model)
	assert.Equal(t, 512, v.Embedding.Dimension)
	assert.Equal(t, "memory", v.VectorStore.Backend)
	assert.Empty(t, v.VectorStore.URL)
}

func TestRecommend(t *testing.T) {
	ctx := context.Background()
	f := initialized(t, nil)

	recs, err := f.Recommend(ctx, "禪修的方法", "放鬆身心，從數息開始。")
	require.NoError(t, err)
	assert.NotNil(t, recs.Books)
	assert.NotNil(t, recs.Audio)
	assert.NotEmpty(t, recs.Queries)
	for _, ev := range recs.Events {
		assert.Equal(t, "E1", ev.ID)
	}

	_, err = f.RecommendBooks(ctx, "", 5, 0.1)
	assert.Equal(t, apperr.InvalidRequest, apperr.KindOf(err))

	book, err := f.Book("978-2")
	require.NoError(t, err)
	assert.Equal(t, "四聖諦講記", book.Title)
	_, err = f.Book("nope")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
	assert.True(t, errors.Is(err, recommend.ErrBookNotFound))

	seg, err := f.AudioSegment("A1_0")
	require.NoError(t, err)
	assert.Equal(t, "audio_001_0", seg.ID)
	_, err = f.AudioSegment("A9_0")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	ev, err := f.Event("E1")
	require.NoError(t, err)
	assert.Equal(t, "2099-01-03", ev.EndDate)
	assert.Len(t, f.UpcomingEvents(5), 1)
	assert.Len(t, f.RandomBooks(5), 2)
	assert.Len(t, f.PopularQueries(3), 3)
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()
	f := initialized(t, nil)

	_, err := f.Summarize(ctx, "", 0)
	assert.Equal(t, apperr.InvalidRequest, apperr.KindOf(err))

	provided, err := f.Summarize(ctx, "色即是空，空即是色。", 50)
	require.NoError(t, err)
	assert.Equal(t, "provided_text", provided.Source)
	assert.Equal(t, 50, provided.MaxLength)

	_, err = f.Query(ctx, QueryRequest{Question: fourTruths})
	require.NoError(t, err)
	cached, err := f.Summarize(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, "cached_query", cached.Source)
	assert.Equal(t, 200, cached.MaxLength)
	assert.NotEmpty(t, cached.Summary)
}

func TestQuiz(t *testing.T) {
	ctx := context.Background()
	f := initialized(t, nil)

	_, err := f.GenerateQuiz(ctx)
	assert.Equal(t, apperr.InvalidRequest, apperr.KindOf(err))
	_, err = f.EvaluateQuiz(ctx, "quiz_0_deadbeef", []string{"苦"}, "u1")
	assert.Equal(t, apperr.InvalidRequest, apperr.KindOf(err))

	threshold := 0.3
	_, err = f.Query(ctx, QueryRequest{Question: fourTruths, TopK: 1, Threshold: &threshold})
	require.NoError(t, err)

	quiz, err := f.GenerateQuiz(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(quiz.QuizID, "quiz_"))
	assert.Equal(t, []string{"什麼是苦諦？", "什麼是道諦？"}, quiz.Questions)
	assert.Equal(t, "text_001", quiz.ReferenceChunk.ChunkID)
	assert.Equal(t, fourTruths, quiz.SourceQuery)

	_, err = f.EvaluateQuiz(ctx, quiz.QuizID, []string{" ", ""}, "u1")
	assert.Equal(t, apperr.InvalidRequest, apperr.KindOf(err))

	f.chance = func() float64 { return 0 }
	eval, err := f.EvaluateQuiz(ctx, quiz.QuizID, []string{"苦是生命的不圓滿", "道是八正道"}, "u1")
	require.NoError(t, err)
	assert.True(t, eval.PracticeJourneyLogged)
	assert.NotEmpty(t, eval.Evaluation)
	require.NotNil(t, eval.ZenMasterResponse)
	assert.Contains(t, masterResponses, *eval.ZenMasterResponse)

	prompts := f.gen.Prompts()
	assert.Contains(t, prompts[len(prompts)-1], "什麼是苦諦？")

	f.chance = func() float64 { return 1 }
	eval, err = f.EvaluateQuiz(ctx, "unknown", []string{"苦"}, "u1")
	require.NoError(t, err)
	assert.Nil(t, eval.ZenMasterResponse)
}

func TestQuizStoreDropsOldest(t *testing.T) {
	s := newQuizStore()
	for i := range 150 {
		s.put(strings.Repeat("x", i+1), quizRecord{})
	}
	_, ok := s.get("x")
	assert.False(t, ok)
	_, ok = s.get(strings.Repeat("x", 150))
	assert.True(t, ok)
	assert.Len(t, s.byID, 100)
}
