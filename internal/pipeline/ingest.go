package pipeline

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chiweic/rag-08122025/internal/apperr"
	"github.com/chiweic/rag-08122025/internal/constants"
	"github.com/chiweic/rag-08122025/internal/corpus"
	"github.com/chiweic/rag-08122025/internal/embedding"
	"github.com/chiweic/rag-08122025/internal/utils"
	"github.com/chiweic/rag-08122025/internal/vector"
)

type InitializeRequest struct {
	Recreate  bool
	BatchSize int
}

type InitializeResult struct {
	Collection string                 `json:"collection"`
	Created    bool                   `json:"created"`
	Indexed    int                    `json:"indexed"`
	Removed    int                    `json:"removed"`
	Points     int                    `json:"points"`
	Dimension  int                    `json:"dimension"`
	Records    map[corpus.Variant]int `json:"records"`
	Elapsed    float64                `json:"initialization_time"`
}

// Initialize - Make sure the collection exists at the current embedding dimension and holds exactly
// the corpus, then build the recommendation catalogs. An existing collection is reconciled by id:
// records without a point are embedded, points without a record are deleted. While a collection
// is rebuilt from empty the pipeline reports not initialized; it answers queries again once this
// succeeds.
func (p *Pipeline) Initialize(ctx context.Context, req InitializeRequest) (InitializeResult, error) {
	const op = "pipeline.Initialize"
	p.initMu.Lock()
	defer p.initMu.Unlock()

	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	start := time.Now()
	snap := p.snapshot()
	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = p.cfg.Index.BatchSize
	}

	store, err := p.loadCorpus()
	if err != nil {
		return InitializeResult{}, apperr.New(apperr.Internal, op, err)
	}

	dim, err := embedding.DetectDimension(ctx, snap.embedder)
	if err != nil {
		if apperr.KindOf(err) == apperr.Internal {
			err = apperr.New(apperr.ProviderUnavailable, op, err)
		}
		return InitializeResult{}, err
	}
	if req.Recreate {
		p.initialized.Store(false)
	}
	created, err := p.index.EnsureCollection(ctx, p.cfg.Index.Collection, dim, req.Recreate)
	if err != nil {
		return InitializeResult{}, err
	}
	if created {
		p.initialized.Store(false)
	}

	var present map[string]struct{}
	if !created {
		if present, err = p.index.ContentIDs(ctx); err != nil {
			return InitializeResult{}, err
		}
	}
	pending, stale := reconcile(store, present)
	removed := 0
	if len(stale) > 0 {
		p.log.Info().Int("points", len(stale)).Msg("removing points without a record")
		if err := p.index.Delete(ctx, stale); err != nil {
			return InitializeResult{}, err
		}
		removed = len(stale)
	}
	indexed := 0
	if n := pendingCount(pending); n > 0 {
		p.log.Info().
			Str("collection", p.cfg.Index.Collection).
			Int("records", store.Len()).
			Int("pending", n).
			Bool("created", created).
			Msg("indexing corpus")
		if indexed, err = p.ingest(ctx, snap.embedder, pending, batchSize); err != nil {
			return InitializeResult{}, err
		}
	}
	stats, err := p.index.Stats(ctx)
	if err != nil {
		return InitializeResult{}, err
	}
	p.metrics.Indexed(stats.Count)
	p.store.Store(store)
	p.retriever.SetStore(store)

	if indexed > 0 || removed > 0 || p.catalogModel != snap.embedder.Model() {
		p.buildCatalogs(ctx, snap.embedder, store)
	}
	p.initialized.Store(true)

	res := InitializeResult{
		Collection: p.cfg.Index.Collection,
		Created:    created,
		Indexed:    indexed,
		Removed:    removed,
		Points:     stats.Count,
		Dimension:  dim,
		Records:    store.Counts(),
		Elapsed:    utils.Seconds(time.Since(start)),
	}
	p.log.Info().
		Str("collection", res.Collection).
		Int("indexed", res.Indexed).
		Int("removed", res.Removed).
		Int("points", res.Points).
		Int("dimension", res.Dimension).
		Float64("elapsed", res.Elapsed).
		Msg("pipeline initialized")
	return res, nil
}

// reconcile - Records with no point in present, per variant, and the content ids in present that
// the store no longer holds. A nil present means an empty collection.
func reconcile(store *corpus.Store, present map[string]struct{}) (map[corpus.Variant][]corpus.Record, []string) {
	pending := make(map[corpus.Variant][]corpus.Record, len(corpus.Variants))
	for _, v := range corpus.Variants {
		for _, rec := range store.ByVariant(v) {
			if _, ok := present[rec.ID]; !ok {
				pending[v] = append(pending[v], rec)
			}
		}
	}
	var stale []string
	for id := range present {
		if _, ok := store.Get(id); !ok {
			stale = append(stale, id)
		}
	}
	slices.Sort(stale)
	return pending, stale
}

func pendingCount(pending map[corpus.Variant][]corpus.Record) int {
	n := 0
	for _, records := range pending {
		n += len(records)
	}
	return n
}

// ingest - Embed and upsert the pending records. Batches are produced per variant and consumed by a
// bounded set of workers; the first failure cancels the rest.
func (p *Pipeline) ingest(ctx context.Context, emb embedding.Embedder, pending map[corpus.Variant][]corpus.Record, batchSize int) (int, error) {
	const op = "pipeline.ingest"
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	workers := p.cfg.Index.Workers
	if workers <= 0 {
		workers = constants.MaxVectorWorkers
	}
	var (
		doneWg   sync.WaitGroup
		wg       sync.WaitGroup
		failOnce sync.Once
		firstErr error
		indexed  atomic.Int64
	)
	fail := func(err error) {
		failOnce.Do(func() {
			firstErr = err
			cancel(err)
		})
	}

	batches := make(chan []corpus.Record, workers*2)
	maxWorkers := make(chan struct{}, workers)

	// the consumer runs while producers are still sending, the total number of batches isn't known up front
	doneWg.Add(1)
	go func() {
		defer doneWg.Done()
		var goroutineWg sync.WaitGroup
		for batch := range batches {
			maxWorkers <- struct{}{}
			goroutineWg.Add(1)
			go func(batch []corpus.Record) {
				defer func() {
					<-maxWorkers
					goroutineWg.Done()
				}()
				if ctx.Err() != nil {
					return
				}
				n, err := p.upsertBatch(ctx, emb, batch, batchSize)
				if err != nil {
					fail(err)
					return
				}
				indexed.Add(int64(n))
			}(batch)
		}
		goroutineWg.Wait()
	}()

	for _, v := range corpus.Variants {
		records := pending[v]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < len(records); i += batchSize {
				end := min(i+batchSize, len(records))
				select {
				case batches <- records[i:end]:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	wg.Wait()
	close(batches)
	doneWg.Wait()

	if firstErr != nil {
		return int(indexed.Load()), wrapIngest(op, firstErr)
	}
	if err := context.Cause(ctx); err != nil {
		return int(indexed.Load()), wrapIngest(op, err)
	}
	return int(indexed.Load()), nil
}

func (p *Pipeline) upsertBatch(ctx context.Context, emb embedding.Embedder, batch []corpus.Record, batchSize int) (int, error) {
	texts := make([]string, len(batch))
	for i, rec := range batch {
		texts[i] = rec.EmbedText()
	}
	vecs, err := emb.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vecs) != len(batch) {
		return 0, errors.New("embedding batch size mismatch")
	}
	points := make([]vector.Point, len(batch))
	for i, rec := range batch {
		points[i] = vector.PointFromRecord(rec, vecs[i])
	}
	if err := p.index.Upsert(ctx, points, batchSize); err != nil {
		return 0, err
	}
	return len(points), nil
}

func wrapIngest(op string, err error) error {
	if apperr.KindOf(err) == apperr.Internal {
		return apperr.New(apperr.ProviderUnavailable, op, err)
	}
	return err
}

// buildCatalogs - Failures leave a catalog empty; recommendations then come back empty.
func (p *Pipeline) buildCatalogs(ctx context.Context, emb embedding.Embedder, store *corpus.Store) {
	builds := []struct {
		name  string
		build func() error
	}{
		{"books", func() error { return p.books.Build(ctx, emb) }},
		{"events", func() error { return p.events.Build(ctx, emb, store.ByVariant(corpus.Event)) }},
		{"audio", func() error { return p.audio.Build(ctx, emb, store.ByVariant(corpus.Audio)) }},
		{"queries", func() error { return p.queries.Build(ctx, emb, store.ByVariant(corpus.Text)) }},
	}
	ok := true
	for _, b := range builds {
		if err := b.build(); err != nil {
			ok = false
			p.log.Warn().Err(err).Str("catalog", b.name).Msg("recommendation catalog not built")
		}
	}
	if ok {
		p.catalogModel = emb.Model()
	}
}
