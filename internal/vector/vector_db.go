package vector

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/chiweic/rag-08122025/internal/apperr"
	"github.com/chiweic/rag-08122025/internal/config"
	"github.com/chiweic/rag-08122025/internal/constants"
	"github.com/chiweic/rag-08122025/internal/corpus"
	"github.com/chiweic/rag-08122025/internal/utils"
)

const (
	readRetries = 2
	scrollPage  = 256
)

// QdrantIndex - Qdrant over its raw gRPC services. The lock guards the active collection:
// recreating takes it exclusively so no search or upsert sees a half-built collection.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	Points      qdrant.PointsClient
	Collections qdrant.CollectionsClient

	mu         sync.RWMutex
	collection string
	dim        int

	timeout time.Duration
	log     zerolog.Logger
}

// Connect - Dial qdrant. grpc.NewClient is lazy, so an unreachable server surfaces on first use.
func Connect(cfg config.IndexConfig, log zerolog.Logger) (*QdrantIndex, error) {
	creds := insecure.NewCredentials()
	if cfg.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if cfg.APIKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
	}

	conn, err := grpc.NewClient(net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)), opts...)
	if err != nil {
		return nil, apperr.New(apperr.Configuration, "vector.Connect", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.RetrievalTimeout
	}
	return &QdrantIndex{
		conn:        conn,
		Points:      qdrant.NewPointsClient(conn),
		Collections: qdrant.NewCollectionsClient(conn),
		collection:  cfg.Collection,
		timeout:     timeout,
		log:         log.With().Str("component", "qdrant").Logger(),
	}, nil
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(metadata.AppendToOutgoingContext(ctx, "api-key", key), method, req, reply, cc, opts...)
	}
}

func (db *QdrantIndex) EnsureCollection(ctx context.Context, name string, dim int, recreate bool) (bool, error) {
	const op = "vector.EnsureCollection"
	if dim <= 0 {
		return false, apperr.Errorf(apperr.InvalidRequest, op, "dimension must be positive, got %d", dim)
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()

	info, err := db.Collections.Get(ctx, &qdrant.GetCollectionInfoRequest{CollectionName: name})
	switch {
	case status.Code(err) == codes.NotFound:
		// only create collection if it's not found
		db.log.Info().Str("collection", name).Int("dimension", dim).Msg("collection not found, creating it")
	case err != nil:
		return false, apperr.New(apperr.ProviderUnavailable, op, err)
	case recreate:
		db.log.Warn().Str("collection", name).Msg("recreating collection")
		if _, err := db.Collections.Delete(ctx, &qdrant.DeleteCollection{CollectionName: name}); err != nil {
			return false, apperr.New(apperr.ProviderUnavailable, op, err)
		}
	default:
		size := int(info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
		if size != dim {
			return false, apperr.Errorf(apperr.DimensionMismatch, op, "collection %s has dimension %d, requested %d", name, size, dim)
		}
		db.collection, db.dim = name, dim
		return false, nil
	}

	if err := db.create(ctx, name, dim); err != nil {
		return false, apperr.New(apperr.ProviderUnavailable, op, err)
	}
	db.collection, db.dim = name, dim
	return true, nil
}

func (db *QdrantIndex) create(ctx context.Context, name string, dim int) error {
	_, err := db.Collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(dim),
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return err
	}
	// keyword index so the chunk_type filter is served by the index, not a scan
	_, err = db.Points.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: name,
		FieldName:      KeyChunkType,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		Wait:           proto.Bool(true),
	})
	return err
}

func toQdrantPoint(p Point) *qdrant.PointStruct {
	return &qdrant.PointStruct{
		Id:      qdrant.NewID(PointID(p.ContentID)),
		Vectors: qdrant.NewVectors(p.Vector...),
		Payload: map[string]*qdrant.Value{
			KeyContentID: qdrant.NewValueString(p.ContentID),
			KeyChunkType: qdrant.NewValueString(string(p.Variant)),
			KeyHeader:    qdrant.NewValueString(p.Header),
			KeyTitle:     qdrant.NewValueString(p.Title),
			KeyContent:   qdrant.NewValueString(p.Content),
		},
	}
}

func (db *QdrantIndex) Upsert(ctx context.Context, points []Point, batchSize int) error {
	const op = "vector.Upsert"
	if batchSize <= 0 {
		batchSize = constants.MaxVectors
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	for start := 0; start < len(points); start += batchSize {
		end := min(start+batchSize, len(points))
		batch := make([]*qdrant.PointStruct, 0, end-start)
		for _, p := range points[start:end] {
			if db.dim > 0 && len(p.Vector) != db.dim {
				return apperr.Errorf(apperr.DimensionMismatch, op, "point %s has dimension %d, collection expects %d", p.ContentID, len(p.Vector), db.dim)
			}
			batch = append(batch, toQdrantPoint(p))
		}

		callCtx, cancel := context.WithTimeout(ctx, db.timeout)
		upsert, err := db.Points.Upsert(callCtx, &qdrant.UpsertPoints{
			CollectionName: db.collection,
			Wait:           proto.Bool(true),
			Points:         batch,
		})
		cancel()
		if err != nil {
			return apperr.New(apperr.ProviderUnavailable, op, err)
		}
		getStatus := upsert.GetResult().GetStatus()
		if getStatus != qdrant.UpdateStatus_Acknowledged && getStatus != qdrant.UpdateStatus_Completed {
			return apperr.Errorf(apperr.ProviderUnavailable, op, "error adding points to vector db. status: %s", getStatus)
		}
	}
	return nil
}

func (db *QdrantIndex) Search(ctx context.Context, vector []float32, limit int, filter *Filter) ([]Hit, error) {
	const op = "vector.Search"
	if limit <= 0 {
		return nil, nil
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	searchRequest := &qdrant.SearchPoints{
		CollectionName: db.collection,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
	}
	if filter != nil && filter.Variant != "" {
		searchRequest.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(KeyChunkType, string(filter.Variant))},
		}
	}

	var resp *qdrant.SearchResponse
	err := utils.Retry(ctx, readRetries, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, db.timeout)
		defer cancel()
		var err error
		resp, err = db.Points.Search(callCtx, searchRequest)
		if code := status.Code(err); code == codes.InvalidArgument || code == codes.NotFound {
			return utils.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, apperr.New(apperr.ProviderUnavailable, op, err)
	}

	hits := make([]Hit, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		payload := point.GetPayload()
		if payload == nil {
			return nil, apperr.Errorf(apperr.Internal, op, "payload is nil")
		}
		hits = append(hits, Hit{
			ContentID: payload[KeyContentID].GetStringValue(),
			Variant:   corpus.Variant(payload[KeyChunkType].GetStringValue()),
			Score:     clampScore(float64(point.GetScore())),
			Header:    payload[KeyHeader].GetStringValue(),
			Title:     payload[KeyTitle].GetStringValue(),
			Content:   payload[KeyContent].GetStringValue(),
		})
	}
	return hits, nil
}

// ContentIDs - Scrolls the whole collection, payload limited to the content id.
func (db *QdrantIndex) ContentIDs(ctx context.Context) (map[string]struct{}, error) {
	const op = "vector.ContentIDs"
	db.mu.RLock()
	defer db.mu.RUnlock()

	ids := make(map[string]struct{})
	var offset *qdrant.PointId
	for {
		var resp *qdrant.ScrollResponse
		err := utils.Retry(ctx, readRetries, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, db.timeout)
			defer cancel()
			var err error
			resp, err = db.Points.Scroll(callCtx, &qdrant.ScrollPoints{
				CollectionName: db.collection,
				Offset:         offset,
				Limit:          qdrant.PtrOf(uint32(scrollPage)),
				WithPayload:    qdrant.NewWithPayloadInclude(KeyContentID),
				WithVectors:    qdrant.NewWithVectors(false),
			})
			if status.Code(err) == codes.NotFound {
				return utils.Permanent(err)
			}
			return err
		})
		if err != nil {
			return nil, apperr.New(apperr.ProviderUnavailable, op, err)
		}
		for _, point := range resp.GetResult() {
			ids[point.GetPayload()[KeyContentID].GetStringValue()] = struct{}{}
		}
		if offset = resp.GetNextPageOffset(); offset == nil {
			return ids, nil
		}
	}
}

func (db *QdrantIndex) Delete(ctx context.Context, contentIDs []string) error {
	const op = "vector.Delete"
	if len(contentIDs) == 0 {
		return nil
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	pointIDs := make([]*qdrant.PointId, len(contentIDs))
	for i, id := range contentIDs {
		pointIDs[i] = qdrant.NewID(PointID(id))
	}
	callCtx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()
	_, err := db.Points.Delete(callCtx, &qdrant.DeletePoints{
		CollectionName: db.collection,
		Wait:           proto.Bool(true),
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return apperr.New(apperr.ProviderUnavailable, op, err)
	}
	return nil
}

func (db *QdrantIndex) Stats(ctx context.Context) (Stats, error) {
	const op = "vector.Stats"
	db.mu.RLock()
	defer db.mu.RUnlock()

	stats := Stats{Name: db.collection, Dimension: db.dim}
	err := utils.Retry(ctx, readRetries, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, db.timeout)
		defer cancel()

		info, err := db.Collections.Get(callCtx, &qdrant.GetCollectionInfoRequest{CollectionName: db.collection})
		if status.Code(err) == codes.NotFound {
			return utils.Permanent(apperr.Errorf(apperr.NotFound, op, "collection %s does not exist", db.collection))
		}
		if err != nil {
			return err
		}
		stats.Status = strings.ToLower(info.GetResult().GetStatus().String())
		stats.Dimension = int(info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())

		resp, err := db.Points.Count(callCtx, &qdrant.CountPoints{
			CollectionName: db.collection,
			Exact:          proto.Bool(true), // ensures accurate count
		})
		if err != nil {
			return err
		}
		stats.Count = int(resp.GetResult().GetCount())
		return nil
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			return stats, err
		}
		return stats, apperr.New(apperr.ProviderUnavailable, op, fmt.Errorf("collection %s: %w", db.collection, err))
	}
	return stats, nil
}

func (db *QdrantIndex) Close() error {
	return db.conn.Close()
}
