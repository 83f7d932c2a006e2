package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/akolanti/kbAPI/internal/config"
	"github.com/akolanti/kbAPI/internal/data/metaStore"
	"github.com/akolanti/kbAPI/internal/domain/kbModel"
	"github.com/akolanti/kbAPI/internal/rag/embedding"
	"github.com/akolanti/kbAPI/internal/rag/vectorDB"
	"github.com/akolanti/kbAPI/pkg/logger_i"
)

// Service is the public contract for similarity search. Handlers and the MCP
// surface only ever call this, never the vector client directly.
type Service interface {
	Query(ctx context.Context, scope kbModel.Scope, req Request) ([]kbModel.ScoredChunk, error)
}

type Request struct {
	Query string
	// KbIds narrows the search; empty means every knowledge base the scope
	// can see.
	KbIds []string
	TopK  int
}

type service struct {
	meta     metaStore.MetadataStore
	vectors  vectorDB.VectorIndex
	embedder embedding.Embedder
	logger   *logger_i.Logger
}

func NewService(meta metaStore.MetadataStore, vectors vectorDB.VectorIndex, em embedding.Embedder) Service {
	return &service{
		meta:     meta,
		vectors:  vectors,
		embedder: em,
		logger:   logger_i.NewLogger("Retrieval Service :"),
	}
}

// Query runs tenant-scoped similarity search. The candidate set is fixed
// before any vector call: only collections of knowledge bases the scope owns
// are searched, there is no post-filtering of foreign results.
func (s *service) Query(ctx context.Context, scope kbModel.Scope, req Request) ([]kbModel.ScoredChunk, error) {
	log := s.logger
	if traceId, ok := ctx.Value(config.TRACE_ID_KEY).(string); ok {
		log = log.With("traceId", traceId)
	}

	if strings.TrimSpace(req.Query) == "" {
		return nil, errors.New("empty query")
	}
	if scope.IsAdmin() {
		//admin keys manage tenants, they hold no document access of their own
		return nil, kbModel.ErrScopeMismatch
	}

	topK := req.TopK
	if topK <= 0 {
		topK = config.DefaultTopK
	}
	if topK > config.MaxTopK {
		topK = config.MaxTopK
	}

	kbs, err := s.resolveKnowledgeBases(ctx, scope, req.KbIds)
	if err != nil {
		return nil, err
	}
	if len(kbs) == 0 {
		return []kbModel.ScoredChunk{}, nil
	}

	queryVector, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	type scoredHit struct {
		kbId  string
		score float32
	}
	hitsById := make(map[string]scoredHit)

	for _, kb := range kbs {
		hits, err := s.vectors.Query(ctx, kb.CollectionName(), queryVector, topK)
		if err != nil {
			return nil, fmt.Errorf("searching %s: %w", kb.Id, err)
		}
		for _, h := range hits {
			hitsById[h.Id] = scoredHit{kbId: kb.Id, score: h.Score}
		}
	}
	if len(hitsById) == 0 {
		return []kbModel.ScoredChunk{}, nil
	}

	ids := make([]string, 0, len(hitsById))
	for id := range hitsById {
		ids = append(ids, id)
	}

	chunks, err := s.meta.GetChunksByIds(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]kbModel.ScoredChunk, 0, len(chunks))
	docs := make(map[string]kbModel.Document)
	for _, chunk := range chunks {
		doc, ok := docs[chunk.DocId]
		if !ok {
			doc, err = s.meta.GetDocument(ctx, chunk.DocId)
			if err != nil {
				if errors.Is(err, kbModel.ErrNotFound) {
					//vector outlived its document, the sweeper will get it
					log.Warn("hit without a document row", "chunkId", chunk.Id)
					continue
				}
				return nil, err
			}
			docs[chunk.DocId] = doc
		}

		hit := hitsById[chunk.Id]
		results = append(results, kbModel.ScoredChunk{
			Chunk:        chunk,
			Score:        hit.score,
			KbId:         hit.kbId,
			DocumentName: doc.FileName,
			DocCreatedAt: doc.CreatedAt,
		})
	}

	sortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}

	log.Debug("query served", "knowledgeBases", len(kbs), "results", len(results))
	return results, nil
}

// resolveKnowledgeBases fixes the candidate set up front. A knowledge base
// outside the scope's tenant reads as not found, same as one that does not
// exist.
func (s *service) resolveKnowledgeBases(ctx context.Context, scope kbModel.Scope, kbIds []string) ([]kbModel.KnowledgeBase, error) {
	if len(kbIds) == 0 {
		return s.meta.ListKnowledgeBases(ctx, scope.TenantId)
	}

	kbs := make([]kbModel.KnowledgeBase, 0, len(kbIds))
	for _, id := range kbIds {
		kb, err := s.meta.GetKnowledgeBase(ctx, id)
		if err != nil {
			return nil, err
		}
		if !scope.CanAccessTenant(kb.TenantId) {
			return nil, kbModel.ErrNotFound
		}
		kbs = append(kbs, kb)
	}
	return kbs, nil
}

// sortResults orders by score descending; equal scores break on document
// creation order (earlier document first), then chunk ordinal, then id.
// Same inputs, same order, every time.
func sortResults(results []kbModel.ScoredChunk) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.DocCreatedAt.Equal(b.DocCreatedAt) {
			return a.DocCreatedAt.Before(b.DocCreatedAt)
		}
		if a.Chunk.Ordinal != b.Chunk.Ordinal {
			return a.Chunk.Ordinal < b.Chunk.Ordinal
		}
		return a.Chunk.Id < b.Chunk.Id
	})
}
