package blobStore

import "context"

// BlobStore holds the raw uploaded bytes. Keys are opaque to callers; the
// handlers build them as kb_<id>/<docId>_<filename>.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
