package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/akolanti/kbAPI/internal/data/blobStore"
	"github.com/akolanti/kbAPI/internal/data/metaStore"
	"github.com/akolanti/kbAPI/internal/domain/kbModel"
	"github.com/akolanti/kbAPI/internal/metrics"
	"github.com/akolanti/kbAPI/internal/rag/vectorDB"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// --- Mocks ---

type mockEmbedder struct {
	queryFunc func(ctx context.Context, query string) ([]float32, error)
	batchFunc func(ctx context.Context, chunks []string) ([][]float32, error)
}

func (m *mockEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, query)
	}
	return []float32{0.1}, nil
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, chunks []string) ([][]float32, error) {
	if m.batchFunc != nil {
		return m.batchFunc(ctx, chunks)
	}
	vecs := make([][]float32, len(chunks))
	for i := range vecs {
		vecs[i] = []float32{0.1, 0.2}
	}
	return vecs, nil
}

type mockVectorIndex struct {
	upsertFunc func(ctx context.Context, coll string, points []vectorDB.Point) error
	upserted   map[string][]string //collection -> point ids
	dropped    []string
	deleted    []string
}

func newMockVectorIndex() *mockVectorIndex {
	return &mockVectorIndex{upserted: make(map[string][]string)}
}

func (m *mockVectorIndex) EnsureCollection(ctx context.Context, coll string) error { return nil }

func (m *mockVectorIndex) UpsertBatch(ctx context.Context, coll string, points []vectorDB.Point) error {
	if m.upsertFunc != nil {
		if err := m.upsertFunc(ctx, coll, points); err != nil {
			return err
		}
	}
	for _, p := range points {
		m.upserted[coll] = append(m.upserted[coll], p.Id)
	}
	return nil
}

func (m *mockVectorIndex) Query(ctx context.Context, coll string, v []float32, k int) ([]vectorDB.Hit, error) {
	return nil, nil
}

func (m *mockVectorIndex) DeletePoints(ctx context.Context, coll string, ids []string) error {
	m.deleted = append(m.deleted, ids...)
	return nil
}

func (m *mockVectorIndex) DeleteByDocument(ctx context.Context, coll string, docId string) error {
	m.deleted = append(m.deleted, "doc:"+docId)
	return nil
}

func (m *mockVectorIndex) ListPointIds(ctx context.Context, coll string, limit int) ([]string, error) {
	return m.upserted[coll], nil
}

func (m *mockVectorIndex) HasPoints(ctx context.Context, coll string, ids []string) (map[string]bool, error) {
	present := make(map[string]bool, len(ids))
	have := make(map[string]bool)
	for _, id := range m.upserted[coll] {
		have[id] = true
	}
	for _, id := range ids {
		present[id] = have[id]
	}
	return present, nil
}

func (m *mockVectorIndex) DropCollection(ctx context.Context, coll string) error {
	m.dropped = append(m.dropped, coll)
	delete(m.upserted, coll)
	return nil
}

// --- Helpers ---

func seedDocument(t *testing.T, meta metaStore.MetadataStore, blobs blobStore.BlobStore, content string) kbModel.Document {
	t.Helper()
	ctx := context.Background()

	kb := kbModel.KnowledgeBase{Id: "kb1", TenantId: "t1", Name: "test kb", CreatedAt: time.Now()}
	if err := meta.CreateKnowledgeBase(ctx, kb); err != nil {
		t.Fatalf("seeding kb: %v", err)
	}

	doc := kbModel.Document{
		Id:          "doc1",
		KbId:        kb.Id,
		FileName:    "notes.txt",
		ContentType: kbModel.TXT,
		ContentHash: "hash-v1",
		BlobKey:     "kb_kb1/doc1_notes.txt",
		Status:      kbModel.DocStatusPending,
		CreatedAt:   time.Now(),
	}
	if err := meta.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("seeding document: %v", err)
	}
	if err := blobs.Put(ctx, doc.BlobKey, []byte(content), "text/plain"); err != nil {
		t.Fatalf("seeding blob: %v", err)
	}
	return doc
}

func newTestPipeline(meta metaStore.MetadataStore, blobs blobStore.BlobStore, e *mockEmbedder, v *mockVectorIndex) *Pipeline {
	p := NewPipeline(meta, blobs, e, v)
	p.sleep = func(time.Duration) {} //no real backoff in tests
	return p
}

// --- Tests ---

func TestIndexDocumentHappyPath(t *testing.T) {
	ctx := context.Background()
	meta := metaStore.InitInMemoryStore()
	blobs := blobStore.InitInMemoryBlobStore()
	vdb := newMockVectorIndex()

	doc := seedDocument(t, meta, blobs, strings.Repeat("some sentence about storage engines. ", 200))
	embeddedBefore := testutil.ToFloat64(metrics.ChunksEmbedded)

	p := newTestPipeline(meta, blobs, &mockEmbedder{}, vdb)
	if err := p.IndexDocument(ctx, doc.Id); err != nil {
		t.Fatalf("IndexDocument failed: %v", err)
	}

	got, err := meta.GetDocument(ctx, doc.Id)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Status != kbModel.DocStatusIndexed {
		t.Errorf("status = %s; want INDEXED", got.Status)
	}
	if got.ChunkCount == 0 {
		t.Error("chunk count not recorded")
	}

	chunks, _ := meta.ListChunks(ctx, doc.Id)
	if len(chunks) != got.ChunkCount {
		t.Errorf("chunk rows = %d; want %d", len(chunks), got.ChunkCount)
	}
	for _, c := range chunks {
		if !c.Embedded {
			t.Errorf("chunk %s not marked embedded", c.Id)
		}
	}
	if len(vdb.upserted["kb_kb1"]) != len(chunks) {
		t.Errorf("upserted %d points; want %d", len(vdb.upserted["kb_kb1"]), len(chunks))
	}
	if got := testutil.ToFloat64(metrics.ChunksEmbedded) - embeddedBefore; got != float64(len(chunks)) {
		t.Errorf("chunks_embedded_total grew by %v; want %d", got, len(chunks))
	}
}

func TestIndexDocumentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	meta := metaStore.InitInMemoryStore()
	blobs := blobStore.InitInMemoryBlobStore()
	vdb := newMockVectorIndex()

	doc := seedDocument(t, meta, blobs, strings.Repeat("deterministic chunking text. ", 100))

	p := newTestPipeline(meta, blobs, &mockEmbedder{}, vdb)
	if err := p.IndexDocument(ctx, doc.Id); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstIds, _ := meta.ListChunks(ctx, doc.Id)

	// push back to pending, same content hash: re-ingestion must yield the
	// same chunk ids and delete nothing
	if err := meta.TransitionDocument(ctx, doc.Id, kbModel.DocStatusIndexed, kbModel.DocStatusPending, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := p.IndexDocument(ctx, doc.Id); err != nil {
		t.Fatalf("second run: %v", err)
	}

	secondIds, _ := meta.ListChunks(ctx, doc.Id)
	if len(firstIds) != len(secondIds) {
		t.Fatalf("chunk count changed: %d vs %d", len(firstIds), len(secondIds))
	}
	for i := range firstIds {
		if firstIds[i].Id != secondIds[i].Id {
			t.Errorf("chunk id %d changed: %s vs %s", i, firstIds[i].Id, secondIds[i].Id)
		}
	}
	if len(vdb.deleted) != 0 {
		t.Errorf("unchanged content deleted %d points", len(vdb.deleted))
	}
}

func TestIndexDocumentReVersionDeletesStalePoints(t *testing.T) {
	ctx := context.Background()
	meta := metaStore.InitInMemoryStore()
	blobs := blobStore.InitInMemoryBlobStore()
	vdb := newMockVectorIndex()

	doc := seedDocument(t, meta, blobs, strings.Repeat("version one content. ", 100))

	p := newTestPipeline(meta, blobs, &mockEmbedder{}, vdb)
	if err := p.IndexDocument(ctx, doc.Id); err != nil {
		t.Fatalf("first run: %v", err)
	}
	oldChunks, _ := meta.ListChunks(ctx, doc.Id)

	// new content under the same document id
	if err := blobs.Put(ctx, doc.BlobKey, []byte(strings.Repeat("version two, rather different. ", 100)), "text/plain"); err != nil {
		t.Fatalf("replacing blob: %v", err)
	}
	if err := meta.UpdateDocumentContent(ctx, doc.Id, "hash-v2", doc.BlobKey); err != nil {
		t.Fatalf("updating content: %v", err)
	}
	if err := meta.TransitionDocument(ctx, doc.Id, kbModel.DocStatusIndexed, kbModel.DocStatusPending, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}

	if err := p.IndexDocument(ctx, doc.Id); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if len(vdb.deleted) != len(oldChunks) {
		t.Errorf("deleted %d stale points; want %d", len(vdb.deleted), len(oldChunks))
	}
	newChunks, _ := meta.ListChunks(ctx, doc.Id)
	for _, c := range newChunks {
		for _, o := range oldChunks {
			if c.Id == o.Id {
				t.Errorf("chunk id %s survived a content change", c.Id)
			}
		}
	}
}

func TestIndexDocumentFailsAfterRetryCeiling(t *testing.T) {
	ctx := context.Background()
	meta := metaStore.InitInMemoryStore()
	blobs := blobStore.InitInMemoryBlobStore()
	vdb := newMockVectorIndex()

	doc := seedDocument(t, meta, blobs, "short text")

	calls := 0
	emb := &mockEmbedder{
		batchFunc: func(ctx context.Context, chunks []string) ([][]float32, error) {
			calls++
			return nil, fmt.Errorf("provider throttled: %w", kbModel.ErrTransientIO)
		},
	}

	p := newTestPipeline(meta, blobs, emb, vdb)
	err := p.IndexDocument(ctx, doc.Id)
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if !kbModel.IsRetryable(err) {
		t.Errorf("exhausted transient error should stay retryable for the job layer, got %v", err)
	}
	if calls < 2 {
		t.Errorf("embedder called %d times; want retries", calls)
	}

	got, _ := meta.GetDocument(ctx, doc.Id)
	if got.Status != kbModel.DocStatusFailed {
		t.Errorf("status = %s; want FAILED", got.Status)
	}
	if got.ErrorDetail == "" {
		t.Error("no error detail recorded")
	}
	chunks, _ := meta.ListChunks(ctx, doc.Id)
	for _, c := range chunks {
		if c.Embedded {
			t.Errorf("chunk %s marked embedded on a failed run", c.Id)
		}
	}
	if len(vdb.upserted["kb_kb1"]) != 0 {
		t.Errorf("failed run upserted %d points", len(vdb.upserted["kb_kb1"]))
	}
}

func TestIndexDocumentUnsupportedFormatIsTerminal(t *testing.T) {
	ctx := context.Background()
	meta := metaStore.InitInMemoryStore()
	blobs := blobStore.InitInMemoryBlobStore()

	doc := seedDocument(t, meta, blobs, "binary blob")
	// force an unknown content type past upload validation
	stored, _ := meta.GetDocument(ctx, doc.Id)
	stored.ContentType = kbModel.ERR
	if err := meta.DeleteDocument(ctx, doc.Id); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := meta.CreateDocument(ctx, stored); err != nil {
		t.Fatalf("reset: %v", err)
	}

	p := newTestPipeline(meta, blobs, &mockEmbedder{}, newMockVectorIndex())
	err := p.IndexDocument(ctx, doc.Id)
	if !errors.Is(err, kbModel.ErrUnsupportedFormat) {
		t.Fatalf("err = %v; want ErrUnsupportedFormat", err)
	}
	if kbModel.IsRetryable(err) {
		t.Error("unsupported format must not be retryable")
	}

	got, _ := meta.GetDocument(ctx, doc.Id)
	if got.Status != kbModel.DocStatusFailed {
		t.Errorf("status = %s; want FAILED", got.Status)
	}
}

func TestIndexDocumentCancelledByDeletion(t *testing.T) {
	ctx := context.Background()
	meta := metaStore.InitInMemoryStore()
	blobs := blobStore.InitInMemoryBlobStore()
	vdb := newMockVectorIndex()

	doc := seedDocument(t, meta, blobs, strings.Repeat("enough text for several batches of chunking output here. ", 3000))

	// mark the document deleting as soon as the first upsert lands
	vdb.upsertFunc = func(ctx context.Context, coll string, points []vectorDB.Point) error {
		d, _ := meta.GetDocument(ctx, doc.Id)
		if d.Status == kbModel.DocStatusProcessing {
			_ = meta.TransitionDocument(ctx, doc.Id, kbModel.DocStatusProcessing, kbModel.DocStatusDeleting, "")
		}
		return nil
	}

	p := newTestPipeline(meta, blobs, &mockEmbedder{}, vdb)
	err := p.IndexDocument(ctx, doc.Id)
	if !errors.Is(err, kbModel.ErrCancelled) {
		t.Fatalf("err = %v; want ErrCancelled", err)
	}

	got, _ := meta.GetDocument(ctx, doc.Id)
	if got.Status != kbModel.DocStatusDeleting {
		t.Errorf("status = %s; cancellation must not overwrite DELETING", got.Status)
	}
}

func TestIndexDocumentEmptyContent(t *testing.T) {
	ctx := context.Background()
	meta := metaStore.InitInMemoryStore()
	blobs := blobStore.InitInMemoryBlobStore()

	doc := seedDocument(t, meta, blobs, "   \n\n  ")

	p := newTestPipeline(meta, blobs, &mockEmbedder{}, newMockVectorIndex())
	if err := p.IndexDocument(ctx, doc.Id); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}

	got, _ := meta.GetDocument(ctx, doc.Id)
	if got.Status != kbModel.DocStatusIndexed {
		t.Errorf("status = %s; want INDEXED", got.Status)
	}
	if got.ChunkCount != 0 {
		t.Errorf("chunk count = %d; want 0", got.ChunkCount)
	}
}

func TestDeleteDocumentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	meta := metaStore.InitInMemoryStore()
	blobs := blobStore.InitInMemoryBlobStore()
	vdb := newMockVectorIndex()

	doc := seedDocument(t, meta, blobs, "to be deleted")

	p := newTestPipeline(meta, blobs, &mockEmbedder{}, vdb)
	if err := p.IndexDocument(ctx, doc.Id); err != nil {
		t.Fatalf("index: %v", err)
	}
	if err := meta.TransitionDocument(ctx, doc.Id, kbModel.DocStatusIndexed, kbModel.DocStatusDeleting, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}

	if err := p.DeleteDocument(ctx, doc.Id); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if _, err := meta.GetDocument(ctx, doc.Id); !errors.Is(err, kbModel.ErrNotFound) {
		t.Errorf("document still present after delete: %v", err)
	}
	if _, err := blobs.Get(ctx, doc.BlobKey); err == nil {
		t.Error("blob still present after delete")
	}

	// second run is a no-op
	if err := p.DeleteDocument(ctx, doc.Id); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestPurgeKnowledgeBase(t *testing.T) {
	ctx := context.Background()
	meta := metaStore.InitInMemoryStore()
	blobs := blobStore.InitInMemoryBlobStore()
	vdb := newMockVectorIndex()

	doc := seedDocument(t, meta, blobs, "kb content")

	p := newTestPipeline(meta, blobs, &mockEmbedder{}, vdb)
	if err := p.IndexDocument(ctx, doc.Id); err != nil {
		t.Fatalf("index: %v", err)
	}

	if err := p.PurgeKnowledgeBase(ctx, doc.KbId); err != nil {
		t.Fatalf("purge: %v", err)
	}

	if len(vdb.dropped) != 1 || vdb.dropped[0] != "kb_kb1" {
		t.Errorf("dropped collections = %v; want [kb_kb1]", vdb.dropped)
	}
	if _, err := meta.GetKnowledgeBase(ctx, doc.KbId); !errors.Is(err, kbModel.ErrNotFound) {
		t.Errorf("kb still present: %v", err)
	}
	if docs, _ := meta.ListDocuments(ctx, doc.KbId); len(docs) != 0 {
		t.Errorf("%d documents survived the purge", len(docs))
	}
}

func TestExtractTextUnsupported(t *testing.T) {
	if _, err := extractText([]byte("x"), kbModel.ERR); !errors.Is(err, kbModel.ErrUnsupportedFormat) {
		t.Fatalf("err = %v; want ErrUnsupportedFormat", err)
	}
}

func TestPrepareChunksOrdinalsSpanPages(t *testing.T) {
	pages := []rawPage{
		{Number: 1, Content: strings.Repeat("page one text. ", 200)},
		{Number: 2, Content: strings.Repeat("page two text. ", 200)},
	}
	doc := kbModel.Document{Id: "d", KbId: "kb", ContentHash: "h"}

	chunks := prepareChunks(pages, doc)
	if len(chunks) < 4 {
		t.Fatalf("expected chunks across both pages, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Ordinal != i {
			t.Errorf("ordinal %d at position %d", c.Ordinal, i)
		}
	}
	seen := make(map[string]bool)
	for _, c := range chunks {
		if seen[c.Id] {
			t.Errorf("duplicate chunk id %s", c.Id)
		}
		seen[c.Id] = true
	}
}
