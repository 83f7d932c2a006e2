package vectorDB

import "context"

type Point struct {
	Id      string
	Vector  []float32
	Payload map[string]any
}

type Hit struct {
	Id    string
	Score float32
}

// VectorIndex is the thin boundary over the vector database. One collection
// per knowledge base; upserts are idempotent by point id.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, collectionName string) error
	UpsertBatch(ctx context.Context, collectionName string, points []Point) error
	Query(ctx context.Context, collectionName string, vector []float32, k int) ([]Hit, error)
	DeletePoints(ctx context.Context, collectionName string, ids []string) error
	DeleteByDocument(ctx context.Context, collectionName string, docId string) error
	// ListPointIds is the reconciler's view of what the index actually
	// holds: every point id in the collection, paged internally by
	// pageLimit until the cursor is exhausted.
	ListPointIds(ctx context.Context, collectionName string, pageLimit int) ([]string, error)
	// HasPoints reports which of the given ids are present in the collection.
	HasPoints(ctx context.Context, collectionName string, ids []string) (map[string]bool, error)
	DropCollection(ctx context.Context, collectionName string) error
}
