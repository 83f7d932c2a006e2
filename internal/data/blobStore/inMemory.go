package blobStore

import (
	"context"
	"sync"

	"github.com/akolanti/kbAPI/internal/domain/kbModel"
)

type InMemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func InitInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{blobs: make(map[string][]byte)}
}

func (s *InMemoryBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]byte, len(data))
	copy(copied, data)
	s.blobs[key] = copied
	return nil
}

func (s *InMemoryBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, kbModel.ErrBlobUnavailable
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *InMemoryBlobStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return kbModel.ErrBlobUnavailable
	}
	delete(s.blobs, key)
	return nil
}
