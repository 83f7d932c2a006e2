package metaStore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/akolanti/kbAPI/internal/domain/kbModel"
)

// InMemoryStore mirrors the Postgres implementation for tests and for
// running without a database, the same way the job store pairs Redis with an
// in-memory fallback.
type InMemoryStore struct {
	mu     sync.RWMutex
	kbs    map[string]kbModel.KnowledgeBase
	docs   map[string]kbModel.Document
	chunks map[string][]kbModel.Chunk //by doc id, ordinal order
	keys   map[string]kbModel.ApiKey
}

func InitInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		kbs:    make(map[string]kbModel.KnowledgeBase),
		docs:   make(map[string]kbModel.Document),
		chunks: make(map[string][]kbModel.Chunk),
		keys:   make(map[string]kbModel.ApiKey),
	}
}

func (s *InMemoryStore) CreateKnowledgeBase(ctx context.Context, kb kbModel.KnowledgeBase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kbs[kb.Id] = kb
	return nil
}

func (s *InMemoryStore) GetKnowledgeBase(ctx context.Context, id string) (kbModel.KnowledgeBase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kb, ok := s.kbs[id]
	if !ok {
		return kb, kbModel.ErrNotFound
	}
	return kb, nil
}

func (s *InMemoryStore) ListKnowledgeBases(ctx context.Context, tenantId string) ([]kbModel.KnowledgeBase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []kbModel.KnowledgeBase
	for _, kb := range s.kbs {
		if tenantId == "" || kb.TenantId == tenantId {
			out = append(out, kb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) DeleteKnowledgeBase(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.kbs[id]; !ok {
		return kbModel.ErrNotFound
	}
	delete(s.kbs, id)
	for docId, doc := range s.docs {
		if doc.KbId == id {
			delete(s.docs, docId)
			delete(s.chunks, docId)
		}
	}
	return nil
}

func (s *InMemoryStore) CreateDocument(ctx context.Context, doc kbModel.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.Id] = doc
	return nil
}

func (s *InMemoryStore) GetDocument(ctx context.Context, id string) (kbModel.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return doc, kbModel.ErrNotFound
	}
	return doc, nil
}

func (s *InMemoryStore) ListDocuments(ctx context.Context, kbId string) ([]kbModel.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []kbModel.Document
	for _, doc := range s.docs {
		if doc.KbId == kbId {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) FindDocumentByHash(ctx context.Context, kbId string, hash string) (kbModel.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, doc := range s.docs {
		if doc.KbId == kbId && doc.ContentHash == hash {
			return doc, nil
		}
	}
	return kbModel.Document{}, kbModel.ErrNotFound
}

func (s *InMemoryStore) TransitionDocument(ctx context.Context, id string, from, to kbModel.DocStatus, errDetail string) error {
	if !kbModel.ValidTransition(from, to) {
		return kbModel.ErrConflict
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return kbModel.ErrNotFound
	}
	if doc.Status != from {
		return kbModel.ErrConflict
	}
	doc.Status = to
	doc.ErrorDetail = errDetail
	doc.UpdatedAt = time.Now()
	s.docs[id] = doc
	return nil
}

func (s *InMemoryStore) UpdateDocumentContent(ctx context.Context, id string, contentHash string, blobKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return kbModel.ErrNotFound
	}
	doc.ContentHash = contentHash
	doc.BlobKey = blobKey
	doc.UpdatedAt = time.Now()
	s.docs[id] = doc
	return nil
}

func (s *InMemoryStore) SetChunkCount(ctx context.Context, id string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return kbModel.ErrNotFound
	}
	doc.ChunkCount = count
	doc.UpdatedAt = time.Now()
	s.docs[id] = doc
	return nil
}

func (s *InMemoryStore) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return kbModel.ErrNotFound
	}
	delete(s.docs, id)
	delete(s.chunks, id)
	return nil
}

func (s *InMemoryStore) ReplaceChunks(ctx context.Context, docId string, chunks []kbModel.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]kbModel.Chunk, len(chunks))
	copy(copied, chunks)
	s.chunks[docId] = copied
	return nil
}

func (s *InMemoryStore) MarkChunksEmbedded(ctx context.Context, docId string, chunkIds []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[string]bool, len(chunkIds))
	for _, id := range chunkIds {
		wanted[id] = true
	}
	for i, chunk := range s.chunks[docId] {
		if wanted[chunk.Id] {
			s.chunks[docId][i].Embedded = true
		}
	}
	return nil
}

func (s *InMemoryStore) ListChunks(ctx context.Context, docId string) ([]kbModel.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]kbModel.Chunk, len(s.chunks[docId]))
	copy(out, s.chunks[docId])
	return out, nil
}

func (s *InMemoryStore) GetChunksByIds(ctx context.Context, ids []string) ([]kbModel.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var out []kbModel.Chunk
	for _, chunks := range s.chunks {
		for _, chunk := range chunks {
			if wanted[chunk.Id] {
				out = append(out, chunk)
			}
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListChunkIdsForKb(ctx context.Context, kbId string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for docId, chunks := range s.chunks {
		doc, ok := s.docs[docId]
		if !ok || doc.KbId != kbId {
			continue
		}
		for _, chunk := range chunks {
			ids = append(ids, chunk.Id)
		}
	}
	return ids, nil
}

func (s *InMemoryStore) DeleteChunks(ctx context.Context, docId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, docId)
	return nil
}

func (s *InMemoryStore) CreateApiKey(ctx context.Context, key kbModel.ApiKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.Id] = key
	return nil
}

func (s *InMemoryStore) GetApiKey(ctx context.Context, id string) (kbModel.ApiKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[id]
	if !ok {
		return key, kbModel.ErrNotFound
	}
	return key, nil
}

func (s *InMemoryStore) ListApiKeys(ctx context.Context) ([]kbModel.ApiKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []kbModel.ApiKey
	for _, key := range s.keys {
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) UpdateApiKey(ctx context.Context, key kbModel.ApiKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.keys[key.Id]
	if !ok {
		return kbModel.ErrNotFound
	}
	existing.Name = key.Name
	existing.IsActive = key.IsActive
	s.keys[key.Id] = existing
	return nil
}

func (s *InMemoryStore) DeleteApiKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[id]; !ok {
		return kbModel.ErrNotFound
	}
	delete(s.keys, id)
	return nil
}

func (s *InMemoryStore) TouchApiKey(ctx context.Context, id string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[id]
	if !ok {
		return kbModel.ErrNotFound
	}
	key.LastUsedAt = &when
	s.keys[id] = key
	return nil
}
