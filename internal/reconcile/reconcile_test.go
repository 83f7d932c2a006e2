package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/akolanti/kbAPI/internal/data/metaStore"
	"github.com/akolanti/kbAPI/internal/domain/kbModel"
	"github.com/akolanti/kbAPI/internal/rag/vectorDB"
)

type mockVectorIndex struct {
	points  map[string]map[string]bool //collection -> point ids
	deleted []string
}

func newMockVectorIndex() *mockVectorIndex {
	return &mockVectorIndex{points: make(map[string]map[string]bool)}
}

func (m *mockVectorIndex) add(coll string, ids ...string) {
	if m.points[coll] == nil {
		m.points[coll] = make(map[string]bool)
	}
	for _, id := range ids {
		m.points[coll][id] = true
	}
}

func (m *mockVectorIndex) EnsureCollection(ctx context.Context, coll string) error { return nil }
func (m *mockVectorIndex) UpsertBatch(ctx context.Context, coll string, points []vectorDB.Point) error {
	return nil
}
func (m *mockVectorIndex) Query(ctx context.Context, coll string, v []float32, k int) ([]vectorDB.Hit, error) {
	return nil, nil
}

func (m *mockVectorIndex) DeletePoints(ctx context.Context, coll string, ids []string) error {
	for _, id := range ids {
		delete(m.points[coll], id)
		m.deleted = append(m.deleted, id)
	}
	return nil
}

func (m *mockVectorIndex) DeleteByDocument(ctx context.Context, coll string, docId string) error {
	return nil
}

func (m *mockVectorIndex) ListPointIds(ctx context.Context, coll string, limit int) ([]string, error) {
	var ids []string
	for id := range m.points[coll] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *mockVectorIndex) HasPoints(ctx context.Context, coll string, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = m.points[coll][id]
	}
	return out, nil
}

func (m *mockVectorIndex) DropCollection(ctx context.Context, coll string) error {
	delete(m.points, coll)
	return nil
}

func seedIndexedDoc(t *testing.T, meta metaStore.MetadataStore, kbId, docId string, chunkIds ...string) {
	t.Helper()
	ctx := context.Background()

	if _, err := meta.GetKnowledgeBase(ctx, kbId); err != nil {
		kb := kbModel.KnowledgeBase{Id: kbId, TenantId: "t1", Name: kbId, CreatedAt: time.Now()}
		if err := meta.CreateKnowledgeBase(ctx, kb); err != nil {
			t.Fatalf("seed kb: %v", err)
		}
	}

	doc := kbModel.Document{
		Id: docId, KbId: kbId, FileName: docId + ".txt",
		ContentType: kbModel.TXT, Status: kbModel.DocStatusIndexed,
		ChunkCount: len(chunkIds), CreatedAt: time.Now(),
	}
	if err := meta.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("seed doc: %v", err)
	}

	chunks := make([]kbModel.Chunk, len(chunkIds))
	for i, id := range chunkIds {
		chunks[i] = kbModel.Chunk{Id: id, DocId: docId, Ordinal: i, Text: "c", Embedded: true}
	}
	if err := meta.ReplaceChunks(ctx, docId, chunks); err != nil {
		t.Fatalf("seed chunks: %v", err)
	}
}

func TestConfirmDocumentAllPresent(t *testing.T) {
	ctx := context.Background()
	meta := metaStore.InitInMemoryStore()
	vdb := newMockVectorIndex()

	seedIndexedDoc(t, meta, "kb1", "d1", "c1", "c2")
	vdb.add("kb_kb1", "c1", "c2")

	requeued := 0
	r := NewReconciler(meta, vdb, func(ctx context.Context, docId string) error {
		requeued++
		return nil
	})

	if err := r.ConfirmDocument(ctx, "d1"); err != nil {
		t.Fatalf("ConfirmDocument: %v", err)
	}
	if requeued != 0 {
		t.Errorf("requeued %d; want 0", requeued)
	}
	doc, _ := meta.GetDocument(ctx, "d1")
	if doc.Status != kbModel.DocStatusIndexed {
		t.Errorf("status = %s; want INDEXED", doc.Status)
	}
}

func TestConfirmDocumentMissingPointsRequeues(t *testing.T) {
	ctx := context.Background()
	meta := metaStore.InitInMemoryStore()
	vdb := newMockVectorIndex()

	seedIndexedDoc(t, meta, "kb1", "d1", "c1", "c2")
	vdb.add("kb_kb1", "c1") //c2 never landed

	var requeued []string
	r := NewReconciler(meta, vdb, func(ctx context.Context, docId string) error {
		requeued = append(requeued, docId)
		return nil
	})

	if err := r.ConfirmDocument(ctx, "d1"); err != nil {
		t.Fatalf("ConfirmDocument: %v", err)
	}
	if len(requeued) != 1 || requeued[0] != "d1" {
		t.Fatalf("requeued = %v; want [d1]", requeued)
	}
	doc, _ := meta.GetDocument(ctx, "d1")
	if doc.Status != kbModel.DocStatusPending {
		t.Errorf("status = %s; want PENDING", doc.Status)
	}
}

func TestSweepDeletesOrphanPoints(t *testing.T) {
	ctx := context.Background()
	meta := metaStore.InitInMemoryStore()
	vdb := newMockVectorIndex()

	seedIndexedDoc(t, meta, "kb1", "d1", "c1", "c2")
	vdb.add("kb_kb1", "c1", "c2", "ghost1", "ghost2")

	r := NewReconciler(meta, vdb, nil)
	if err := r.SweepKnowledgeBase(ctx, "kb1"); err != nil {
		t.Fatalf("SweepKnowledgeBase: %v", err)
	}

	if len(vdb.deleted) != 2 {
		t.Fatalf("deleted %v; want the two ghosts", vdb.deleted)
	}
	for _, id := range vdb.deleted {
		if id != "ghost1" && id != "ghost2" {
			t.Errorf("deleted real point %s", id)
		}
	}
	if !vdb.points["kb_kb1"]["c1"] || !vdb.points["kb_kb1"]["c2"] {
		t.Error("sweep deleted points that have chunk rows")
	}
}

func TestSweepRequeuesDocsWithLostVectors(t *testing.T) {
	ctx := context.Background()
	meta := metaStore.InitInMemoryStore()
	vdb := newMockVectorIndex()

	seedIndexedDoc(t, meta, "kb1", "dGood", "g1")
	seedIndexedDoc(t, meta, "kb1", "dBad", "b1", "b2")
	vdb.add("kb_kb1", "g1", "b1") //b2 vanished

	var requeued []string
	r := NewReconciler(meta, vdb, func(ctx context.Context, docId string) error {
		requeued = append(requeued, docId)
		return nil
	})

	if err := r.SweepKnowledgeBase(ctx, "kb1"); err != nil {
		t.Fatalf("SweepKnowledgeBase: %v", err)
	}
	if len(requeued) != 1 || requeued[0] != "dBad" {
		t.Fatalf("requeued = %v; want [dBad]", requeued)
	}

	good, _ := meta.GetDocument(ctx, "dGood")
	if good.Status != kbModel.DocStatusIndexed {
		t.Errorf("healthy document moved to %s", good.Status)
	}
}

func TestSweepSkipsInFlightDocuments(t *testing.T) {
	ctx := context.Background()
	meta := metaStore.InitInMemoryStore()
	vdb := newMockVectorIndex()

	seedIndexedDoc(t, meta, "kb1", "d1", "c1")
	// no vectors at all, but the doc is mid-flight
	if err := meta.TransitionDocument(ctx, "d1", kbModel.DocStatusIndexed, kbModel.DocStatusPending, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := meta.TransitionDocument(ctx, "d1", kbModel.DocStatusPending, kbModel.DocStatusProcessing, ""); err != nil {
		t.Fatalf("transition: %v", err)
	}

	requeued := 0
	r := NewReconciler(meta, vdb, func(ctx context.Context, docId string) error {
		requeued++
		return nil
	})
	if err := r.SweepKnowledgeBase(ctx, "kb1"); err != nil {
		t.Fatalf("SweepKnowledgeBase: %v", err)
	}
	if requeued != 0 {
		t.Errorf("requeued an in-flight document")
	}
}

func TestSweepAllCoversEveryKnowledgeBase(t *testing.T) {
	ctx := context.Background()
	meta := metaStore.InitInMemoryStore()
	vdb := newMockVectorIndex()

	seedIndexedDoc(t, meta, "kb1", "d1", "c1")
	seedIndexedDoc(t, meta, "kb2", "d2", "c2")
	vdb.add("kb_kb1", "c1", "ghost")
	vdb.add("kb_kb2", "c2")

	r := NewReconciler(meta, vdb, nil)
	if err := r.SweepAll(ctx); err != nil {
		t.Fatalf("SweepAll: %v", err)
	}
	if len(vdb.deleted) != 1 || vdb.deleted[0] != "ghost" {
		t.Fatalf("deleted = %v; want [ghost]", vdb.deleted)
	}
}
