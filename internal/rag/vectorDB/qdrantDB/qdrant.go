package qdrantDB

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/akolanti/kbAPI/internal/config"
	"github.com/akolanti/kbAPI/internal/domain/kbModel"
	"github.com/akolanti/kbAPI/internal/rag/vectorDB"
	"github.com/akolanti/kbAPI/pkg/logger_i"
	"github.com/qdrant/go-client/qdrant"
)

var logger *logger_i.Logger
var quadrantInstance *qdrant.Client
var once sync.Once
var dimension = uint64(config.EmbeddingOutputDimensionality)

type ClientHolder struct {
	QObj *qdrant.Client
}

func GetQuadrantClient(ctx context.Context) *ClientHolder {

	once.Do(func() {
		logger = logger_i.NewLogger("Qdrant")
		res := newClient()
		if res != nil {
			quadrantInstance = res
			go closeQdrant(ctx, quadrantInstance)
		}
	})

	if quadrantInstance == nil {
		return nil
	}
	return &ClientHolder{
		QObj: quadrantInstance,
	}
}

func newClient() *qdrant.Client {

	host := os.Getenv("QDRANT_HOST")
	port, er := strconv.Atoi(os.Getenv("QDRANT_PORT"))

	if host == "" || er != nil {
		host = config.QdrantHost
		port = config.QdrantGrpcPort
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:     host,
		Port:     port,
		UseTLS:   config.QdrantUseTLS,
		PoolSize: uint(config.QdrantPoolSize),
	})
	if err != nil {
		logger.Error("could not instantiate: ", "error:", err)
		return nil
	}

	return client
}

func closeQdrant(ctx context.Context, qi *qdrant.Client) {
	<-ctx.Done()
	logger.Info("Shutting down Qdrant")
	err := qi.Close()
	if err != nil {
		logger.Error("could not close Qdrant: ", "error:", err)
	}
	logger.Info("Closed Qdrant")
}

func (db *ClientHolder) EnsureCollection(ctx context.Context, collectionName string) error {
	if collectionName == "" {
		return errors.New("empty collection name")
	}

	exists, err := db.QObj.CollectionExists(ctx, collectionName)
	if err != nil {
		return wrapQdrantErr(err)
	}
	if exists {
		return nil
	}

	err = db.QObj.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	return wrapQdrantErr(err)
}

func (db *ClientHolder) UpsertBatch(ctx context.Context, collectionName string, points []vectorDB.Point) error {
	qdrantPoints := make([]*qdrant.PointStruct, len(points))

	for i, point := range points {
		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(point.Id),
			Vectors: qdrant.NewVectors(point.Vector...),
			Payload: qdrant.NewValueMap(point.Payload),
		}
	}

	// Wait:true so a confirmed upsert is actually queryable - the reconciler
	// checks presence right after.
	_, err := db.QObj.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collectionName,
		Points:         qdrantPoints,
		Wait:           qdrant.PtrOf(true),
	})

	if err != nil {
		return fmt.Errorf("qdrant upsert failed: %w", wrapQdrantErr(err))
	}
	return nil
}

func (db *ClientHolder) Query(ctx context.Context, collectionName string, vector []float32, k int) ([]vectorDB.Hit, error) {
	loggr := logger.With("traceId", ctx.Value(config.TRACE_ID_KEY))

	//a knowledge base with nothing ingested has no collection yet
	exists, err := db.QObj.CollectionExists(ctx, collectionName)
	if err != nil {
		return nil, wrapQdrantErr(err)
	}
	if !exists {
		return nil, nil
	}

	result, err := db.QObj.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collectionName,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		loggr.Error("Error querying Qdrant: ", "error:", err)
		return nil, wrapQdrantErr(err)
	}

	hits := make([]vectorDB.Hit, 0, len(result))
	for _, hit := range result {
		hits = append(hits, vectorDB.Hit{
			Id:    hit.Id.GetUuid(),
			Score: hit.Score,
		})
	}
	return hits, nil
}

func (db *ClientHolder) DeletePoints(ctx context.Context, collectionName string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIds := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIds[i] = qdrant.NewID(id)
	}

	_, err := db.QObj.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collectionName,
		Points:         qdrant.NewPointsSelector(pointIds...),
		Wait:           qdrant.PtrOf(true),
	})
	return wrapQdrantErr(err)
}

func (db *ClientHolder) DeleteByDocument(ctx context.Context, collectionName string, docId string) error {
	_, err := db.QObj.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collectionName,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("document_id", docId)},
		}),
		Wait: qdrant.PtrOf(true),
	})
	return wrapQdrantErr(err)
}

// ListPointIds scrolls the whole collection pageLimit points at a time.
// Orphan detection needs every id, so the cursor runs until exhausted.
func (db *ClientHolder) ListPointIds(ctx context.Context, collectionName string, pageLimit int) ([]string, error) {
	exists, err := db.QObj.CollectionExists(ctx, collectionName)
	if err != nil {
		return nil, wrapQdrantErr(err)
	}
	if !exists {
		return nil, nil
	}

	var ids []string
	var offset *qdrant.PointId
	for {
		points, nextOffset, err := db.QObj.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: collectionName,
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(pageLimit)),
			WithPayload:    qdrant.NewWithPayload(false),
		})
		if err != nil {
			return nil, wrapQdrantErr(err)
		}
		for _, point := range points {
			ids = append(ids, point.Id.GetUuid())
		}
		if len(points) == 0 || nextOffset == nil {
			return ids, nil
		}
		offset = nextOffset
	}
}

func (db *ClientHolder) HasPoints(ctx context.Context, collectionName string, ids []string) (map[string]bool, error) {
	pointIds := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIds[i] = qdrant.NewID(id)
	}

	points, err := db.QObj.Get(ctx, &qdrant.GetPoints{
		CollectionName: collectionName,
		Ids:            pointIds,
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return nil, wrapQdrantErr(err)
	}

	present := make(map[string]bool, len(ids))
	for _, point := range points {
		present[point.Id.GetUuid()] = true
	}
	return present, nil
}

func (db *ClientHolder) DropCollection(ctx context.Context, collectionName string) error {
	exists, err := db.QObj.CollectionExists(ctx, collectionName)
	if err != nil {
		return wrapQdrantErr(err)
	}
	if !exists {
		return nil
	}
	return wrapQdrantErr(db.QObj.DeleteCollection(ctx, collectionName))
}

func wrapQdrantErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: qdrant: %v", kbModel.ErrTransientIO, err)
}
