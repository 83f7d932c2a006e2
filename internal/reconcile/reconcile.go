package reconcile

import (
	"context"
	"errors"

	"github.com/akolanti/kbAPI/internal/config"
	"github.com/akolanti/kbAPI/internal/data/metaStore"
	"github.com/akolanti/kbAPI/internal/domain/kbModel"
	"github.com/akolanti/kbAPI/internal/metrics"
	"github.com/akolanti/kbAPI/internal/rag/vectorDB"
	"github.com/akolanti/kbAPI/pkg/logger_i"
)

// RequeueFunc puts a document back on the ingestion queue. Injected so this
// package never has to know about the job layer.
type RequeueFunc func(ctx context.Context, docId string) error

// Reconciler repairs drift between the relational store and the vector
// index. The relational store is the source of truth: vectors without a
// chunk row get deleted, chunk rows without vectors get their document
// re-queued.
type Reconciler struct {
	meta    metaStore.MetadataStore
	vectors vectorDB.VectorIndex
	requeue RequeueFunc
	logger  *logger_i.Logger
}

func NewReconciler(meta metaStore.MetadataStore, vectors vectorDB.VectorIndex, requeue RequeueFunc) *Reconciler {
	return &Reconciler{
		meta:    meta,
		vectors: vectors,
		requeue: requeue,
		logger:  logger_i.NewLogger("Reconciler "),
	}
}

// ConfirmDocument runs right after an ingestion completes: every embedded
// chunk of an INDEXED document must be present in the collection. A miss
// sends the document back through the queue.
func (r *Reconciler) ConfirmDocument(ctx context.Context, docId string) error {
	doc, err := r.meta.GetDocument(ctx, docId)
	if err != nil {
		if errors.Is(err, kbModel.ErrNotFound) {
			return nil
		}
		return err
	}
	if doc.Status != kbModel.DocStatusIndexed {
		return nil
	}

	chunks, err := r.meta.ListChunks(ctx, docId)
	if err != nil {
		return err
	}
	var ids []string
	for _, c := range chunks {
		if c.Embedded {
			ids = append(ids, c.Id)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	present, err := r.vectors.HasPoints(ctx, kbModel.CollectionNameFor(doc.KbId), ids)
	if err != nil {
		return err
	}

	missing := 0
	for _, id := range ids {
		if !present[id] {
			missing++
		}
	}
	if missing == 0 {
		return nil
	}

	r.logger.Warn("indexed document missing vectors, re-queueing",
		"documentId", docId, "missing", missing, "expected", len(ids))
	metrics.ReconcileRepairs.Inc()
	return r.requeueDocument(ctx, docId)
}

// SweepKnowledgeBase diffs one knowledge base's collection against the
// relational chunk rows. Orphan points are deleted; documents whose embedded
// chunks lost their points go back through ingestion.
func (r *Reconciler) SweepKnowledgeBase(ctx context.Context, kbId string) error {
	collection := kbModel.CollectionNameFor(kbId)

	pointIds, err := r.vectors.ListPointIds(ctx, collection, config.SweepScrollPageLimit)
	if err != nil {
		return err
	}
	pointSet := make(map[string]bool, len(pointIds))
	for _, id := range pointIds {
		pointSet[id] = true
	}

	chunkIds, err := r.meta.ListChunkIdsForKb(ctx, kbId)
	if err != nil {
		return err
	}
	expected := make(map[string]bool, len(chunkIds))
	for _, id := range chunkIds {
		expected[id] = true
	}

	var orphans []string
	for _, id := range pointIds {
		if !expected[id] {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		r.logger.Info("deleting orphan points", "knowledgeBaseId", kbId, "count", len(orphans))
		if err := r.vectors.DeletePoints(ctx, collection, orphans); err != nil {
			return err
		}
		metrics.ReconcileOrphansDeleted.Add(float64(len(orphans)))
	}

	// the other direction: embedded chunk rows whose point vanished
	docs, err := r.meta.ListDocuments(ctx, kbId)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		// in-flight and failed documents are the job layer's problem
		if doc.Status != kbModel.DocStatusIndexed {
			continue
		}
		chunks, err := r.meta.ListChunks(ctx, doc.Id)
		if err != nil {
			return err
		}
		for _, c := range chunks {
			if c.Embedded && !pointSet[c.Id] {
				r.logger.Warn("indexed document lost vectors, re-queueing", "documentId", doc.Id)
				metrics.ReconcileRepairs.Inc()
				if err := r.requeueDocument(ctx, doc.Id); err != nil {
					return err
				}
				break
			}
		}
	}
	return nil
}

// SweepAll walks every knowledge base. Called from the worker's sweep
// ticker and from the sweep job.
func (r *Reconciler) SweepAll(ctx context.Context) error {
	kbs, err := r.meta.ListKnowledgeBases(ctx, "")
	if err != nil {
		return err
	}
	for _, kb := range kbs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.SweepKnowledgeBase(ctx, kb.Id); err != nil {
			//one bad kb must not starve the rest of the sweep
			r.logger.Error("sweep failed", "knowledgeBaseId", kb.Id, "error", err)
		}
	}
	return nil
}

func (r *Reconciler) requeueDocument(ctx context.Context, docId string) error {
	err := r.meta.TransitionDocument(ctx, docId, kbModel.DocStatusIndexed, kbModel.DocStatusPending, "")
	if err != nil {
		if errors.Is(err, kbModel.ErrConflict) {
			//someone else already moved it, they win
			return nil
		}
		return err
	}
	if r.requeue == nil {
		return nil
	}
	return r.requeue(ctx, docId)
}
