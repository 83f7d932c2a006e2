package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/akolanti/kbAPI/internal/config"
	"github.com/akolanti/kbAPI/internal/data/blobStore"
	"github.com/akolanti/kbAPI/internal/data/metaStore"
	"github.com/akolanti/kbAPI/internal/domain/kbModel"
	"github.com/akolanti/kbAPI/internal/metrics"
	"github.com/akolanti/kbAPI/internal/rag/chunker"
	"github.com/akolanti/kbAPI/internal/rag/embedding"
	"github.com/akolanti/kbAPI/internal/rag/vectorDB"
	"github.com/akolanti/kbAPI/pkg/logger_i"
)

var logger = logger_i.NewLogger("Document Ingestion ")

// Pipeline drives a document from PENDING to INDEXED: fetch the blob,
// extract pages, chunk, embed in batches and upsert into the knowledge
// base's collection. All status moves are compare-and-set so a concurrent
// deletion always wins.
type Pipeline struct {
	meta    metaStore.MetadataStore
	blobs   blobStore.BlobStore
	embed   embedding.Embedder
	vectors vectorDB.VectorIndex

	sleep func(time.Duration) //swapped out in tests
}

func NewPipeline(meta metaStore.MetadataStore, blobs blobStore.BlobStore, e embedding.Embedder, v vectorDB.VectorIndex) *Pipeline {
	return &Pipeline{
		meta:    meta,
		blobs:   blobs,
		embed:   e,
		vectors: v,
		sleep:   time.Sleep,
	}
}

func (p *Pipeline) IndexDocument(ctx context.Context, docId string) error {
	log := traceLogger(ctx)

	doc, err := p.meta.GetDocument(ctx, docId)
	if err != nil {
		if errors.Is(err, kbModel.ErrNotFound) {
			//document deleted before the job ran
			log.Info("document gone before ingestion, nothing to do", "documentId", docId)
			return nil
		}
		return err
	}

	switch doc.Status {
	case kbModel.DocStatusIndexed:
		log.Info("document already indexed, skipping", "documentId", docId)
		return nil
	case kbModel.DocStatusDeleting:
		log.Info("document is being deleted, skipping ingestion", "documentId", docId)
		return nil
	case kbModel.DocStatusFailed:
		//retry path: failed documents go back through pending
		if err := p.meta.TransitionDocument(ctx, docId, kbModel.DocStatusFailed, kbModel.DocStatusPending, ""); err != nil {
			return err
		}
	}

	if err := p.meta.TransitionDocument(ctx, docId, kbModel.DocStatusPending, kbModel.DocStatusProcessing, ""); err != nil {
		if errors.Is(err, kbModel.ErrConflict) {
			return p.resolveConflict(ctx, docId, err)
		}
		return err
	}

	log.Info("ingestion started", "documentId", docId, "file", doc.FileName)

	data, err := p.blobs.Get(ctx, doc.BlobKey)
	if err != nil {
		return p.fail(ctx, docId, fmt.Errorf("fetching blob %s: %w", doc.BlobKey, err))
	}

	pages, err := extractText(data, doc.ContentType)
	if err != nil {
		return p.fail(ctx, docId, err)
	}

	chunks := prepareChunks(pages, doc)
	log.Debug("prepared chunks", "documentId", docId, "count", len(chunks))

	collection := kbModel.CollectionNameFor(doc.KbId)

	// Re-versioning is staged: points from the previous content get deleted
	// before any new point is written, never interleaved.
	if err := p.deleteStalePoints(ctx, collection, docId, chunks); err != nil {
		return p.fail(ctx, docId, err)
	}

	if err := p.meta.ReplaceChunks(ctx, docId, chunkRows(chunks)); err != nil {
		return p.fail(ctx, docId, err)
	}

	if len(chunks) == 0 {
		//empty document, indexed with zero chunks
		if err := p.meta.SetChunkCount(ctx, docId, 0); err != nil {
			return p.fail(ctx, docId, err)
		}
		return p.finish(ctx, docId, log)
	}

	if err := p.vectors.EnsureCollection(ctx, collection); err != nil {
		return p.fail(ctx, docId, err)
	}

	for i := 0; i < len(chunks); i += config.EmbedBatchSize {
		//cancellation is honored at batch boundaries only
		if err := p.checkCancelled(ctx, docId); err != nil {
			return err
		}

		end := i + config.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[i:end]

		if err := p.ingestBatch(ctx, collection, doc, batch); err != nil {
			return p.fail(ctx, docId, err)
		}
		log.Debug("batch ingested", "documentId", docId, "from", i, "to", end)
	}

	if err := p.meta.SetChunkCount(ctx, docId, len(chunks)); err != nil {
		return p.fail(ctx, docId, err)
	}
	return p.finish(ctx, docId, log)
}

// DeleteDocument removes every trace of a document: vectors first, then the
// blob, then the relational rows. Safe to run twice.
func (p *Pipeline) DeleteDocument(ctx context.Context, docId string) error {
	log := traceLogger(ctx)

	doc, err := p.meta.GetDocument(ctx, docId)
	if err != nil {
		if errors.Is(err, kbModel.ErrNotFound) {
			return nil
		}
		return err
	}

	collection := kbModel.CollectionNameFor(doc.KbId)
	if err := p.vectors.DeleteByDocument(ctx, collection, doc.Id); err != nil {
		return err
	}

	if err := p.blobs.Delete(ctx, doc.BlobKey); err != nil && !errors.Is(err, kbModel.ErrBlobUnavailable) {
		return err
	}

	if err := p.meta.DeleteChunks(ctx, docId); err != nil {
		return err
	}
	if err := p.meta.DeleteDocument(ctx, docId); err != nil && !errors.Is(err, kbModel.ErrNotFound) {
		return err
	}
	log.Info("document deleted", "documentId", docId)
	return nil
}

// PurgeKnowledgeBase drops a whole knowledge base: blobs, the vector
// collection and the relational rows (documents and chunks cascade).
func (p *Pipeline) PurgeKnowledgeBase(ctx context.Context, kbId string) error {
	log := traceLogger(ctx)

	docs, err := p.meta.ListDocuments(ctx, kbId)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := p.blobs.Delete(ctx, doc.BlobKey); err != nil && !errors.Is(err, kbModel.ErrBlobUnavailable) {
			return err
		}
	}

	if err := p.vectors.DropCollection(ctx, kbModel.CollectionNameFor(kbId)); err != nil {
		return err
	}

	if err := p.meta.DeleteKnowledgeBase(ctx, kbId); err != nil && !errors.Is(err, kbModel.ErrNotFound) {
		return err
	}
	log.Info("knowledge base purged", "knowledgeBaseId", kbId, "documents", len(docs))
	return nil
}

// docChunk pairs the persisted chunk row with the page it came from, so the
// vector payload can carry provenance.
type docChunk struct {
	kbModel.Chunk
	PageNum int
}

func prepareChunks(pages []rawPage, doc kbModel.Document) []docChunk {
	var all []docChunk

	opts := chunker.Options{
		TargetSize:   config.ChunkTargetSize,
		OverlapFract: config.ChunkOverlapFract,
		MinLength:    config.MinChunkLength,
	}

	ordinal := 0
	for _, page := range pages {
		for _, text := range chunker.Split(page.Content, opts) {
			all = append(all, docChunk{
				Chunk: kbModel.Chunk{
					Id:      chunker.ChunkID(doc.KbId, doc.Id, ordinal, doc.ContentHash),
					DocId:   doc.Id,
					Ordinal: ordinal,
					Text:    text,
				},
				PageNum: page.Number,
			})
			ordinal++
		}
	}
	return all
}

func chunkRows(chunks []docChunk) []kbModel.Chunk {
	rows := make([]kbModel.Chunk, len(chunks))
	for i, c := range chunks {
		rows[i] = c.Chunk
	}
	return rows
}

// deleteStalePoints clears vectors from a previous version of the document
// whose ids are not in the new chunk set. Unchanged content produces the
// same ids, so a plain re-ingestion deletes nothing.
func (p *Pipeline) deleteStalePoints(ctx context.Context, collection, docId string, chunks []docChunk) error {
	old, err := p.meta.ListChunks(ctx, docId)
	if err != nil {
		return err
	}
	if len(old) == 0 {
		return nil
	}

	keep := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		keep[c.Id] = true
	}

	var stale []string
	for _, c := range old {
		if !keep[c.Id] {
			stale = append(stale, c.Id)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	return p.vectors.DeletePoints(ctx, collection, stale)
}

func (p *Pipeline) ingestBatch(ctx context.Context, collection string, doc kbModel.Document, batch []docChunk) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	vecs, err := p.embedConcurrent(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding batch failed: %w", err)
	}

	points := make([]vectorDB.Point, len(batch))
	ids := make([]string, len(batch))
	for i, c := range batch {
		ids[i] = c.Id
		points[i] = vectorDB.Point{
			Id:     c.Id,
			Vector: vecs[i],
			Payload: map[string]any{
				"document_id": doc.Id,
				"kb_id":       doc.KbId,
				"ordinal":     c.Ordinal,
				"page":        c.PageNum,
			},
		}
	}

	if err := p.vectors.UpsertBatch(ctx, collection, points); err != nil {
		return fmt.Errorf("upserting batch failed: %w", err)
	}
	metrics.ChunksEmbedded.Add(float64(len(batch)))
	return p.meta.MarkChunksEmbedded(ctx, doc.Id, ids)
}

// embedConcurrent splits one upsert batch across a bounded number of
// parallel embedding calls. Order of the returned vectors matches texts.
func (p *Pipeline) embedConcurrent(ctx context.Context, texts []string) ([][]float32, error) {
	parts := config.EmbedConcurrentBatches
	if parts > len(texts) {
		parts = len(texts)
	}
	if parts <= 1 {
		return p.embedWithRetry(ctx, texts)
	}

	size := (len(texts) + parts - 1) / parts
	results := make([][][]float32, parts)
	errs := make([]error, parts)

	var wg sync.WaitGroup
	for i := 0; i < parts; i++ {
		start := i * size
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}

		wg.Add(1)
		go func(slot int, part []string) {
			defer wg.Done()
			results[slot], errs[slot] = p.embedWithRetry(ctx, part)
		}(i, texts[start:end])
	}
	wg.Wait()

	var out [][]float32
	for i := 0; i < parts; i++ {
		if errs[i] != nil {
			return nil, errs[i]
		}
		out = append(out, results[i]...)
	}
	return out, nil
}

func (p *Pipeline) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < config.EmbedRetryLimit; attempt++ {
		if attempt > 0 {
			delay := config.EmbedRetryBaseDelay << (attempt - 1)
			logger.Warn("retrying embedding call", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			p.sleep(delay)
		}

		vecs, err := p.embed.EmbedBatch(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		if !kbModel.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// checkCancelled aborts the pipeline when the document was marked for
// deletion underneath us. Already-upserted points stay behind for the
// deletion job to clean up.
func (p *Pipeline) checkCancelled(ctx context.Context, docId string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cur, err := p.meta.GetDocument(ctx, docId)
	if err != nil {
		if errors.Is(err, kbModel.ErrNotFound) {
			return kbModel.ErrCancelled
		}
		return err
	}
	if cur.Status == kbModel.DocStatusDeleting {
		return kbModel.ErrCancelled
	}
	return nil
}

// fail moves the document to FAILED with the error message and hands the
// original error back so the worker can decide about a retry.
func (p *Pipeline) fail(ctx context.Context, docId string, cause error) error {
	if err := p.meta.TransitionDocument(ctx, docId, kbModel.DocStatusProcessing, kbModel.DocStatusFailed, cause.Error()); err != nil {
		if errors.Is(err, kbModel.ErrConflict) {
			//somebody marked it deleting while we were failing, let them win
			return kbModel.ErrCancelled
		}
		logger.Error("could not mark document failed", "documentId", docId, "error", err)
	}
	return cause
}

func (p *Pipeline) finish(ctx context.Context, docId string, log *logger_i.Logger) error {
	if err := p.meta.TransitionDocument(ctx, docId, kbModel.DocStatusProcessing, kbModel.DocStatusIndexed, ""); err != nil {
		if errors.Is(err, kbModel.ErrConflict) {
			return p.resolveConflict(ctx, docId, err)
		}
		return err
	}
	log.Info("ingestion complete", "documentId", docId)
	return nil
}

// resolveConflict decides what a CAS miss means: a concurrent deletion is a
// clean cancellation, anything else bubbles up.
func (p *Pipeline) resolveConflict(ctx context.Context, docId string, conflict error) error {
	cur, err := p.meta.GetDocument(ctx, docId)
	if err != nil {
		if errors.Is(err, kbModel.ErrNotFound) {
			return kbModel.ErrCancelled
		}
		return err
	}
	if cur.Status == kbModel.DocStatusDeleting {
		return kbModel.ErrCancelled
	}
	return conflict
}

func traceLogger(ctx context.Context) *logger_i.Logger {
	if traceId, ok := ctx.Value(config.TRACE_ID_KEY).(string); ok {
		return logger.With("traceId", traceId)
	}
	return logger
}
