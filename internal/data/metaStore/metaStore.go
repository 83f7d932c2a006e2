package metaStore

import (
	"context"
	"time"

	"github.com/akolanti/kbAPI/internal/domain/kbModel"
)

// MetadataStore is the relational side of the system: knowledge bases,
// documents, chunks and api keys. The vector index is reconciled against
// this, never the other way around.
type MetadataStore interface {
	CreateKnowledgeBase(ctx context.Context, kb kbModel.KnowledgeBase) error
	GetKnowledgeBase(ctx context.Context, id string) (kbModel.KnowledgeBase, error)
	// ListKnowledgeBases with an empty tenantId returns every knowledge base;
	// the reconciler sweeps across tenants.
	ListKnowledgeBases(ctx context.Context, tenantId string) ([]kbModel.KnowledgeBase, error)
	DeleteKnowledgeBase(ctx context.Context, id string) error

	CreateDocument(ctx context.Context, doc kbModel.Document) error
	GetDocument(ctx context.Context, id string) (kbModel.Document, error)
	ListDocuments(ctx context.Context, kbId string) ([]kbModel.Document, error)
	FindDocumentByHash(ctx context.Context, kbId string, hash string) (kbModel.Document, error)
	// TransitionDocument is a compare-and-set on status: it fails with
	// ErrConflict when the row is no longer in `from`. This is the only way
	// document status moves.
	TransitionDocument(ctx context.Context, id string, from, to kbModel.DocStatus, errDetail string) error
	UpdateDocumentContent(ctx context.Context, id string, contentHash string, blobKey string) error
	SetChunkCount(ctx context.Context, id string, count int) error
	DeleteDocument(ctx context.Context, id string) error

	// ReplaceChunks swaps a document's chunk set wholesale - re-ingestion is
	// staged delete-then-index, never interleaved.
	ReplaceChunks(ctx context.Context, docId string, chunks []kbModel.Chunk) error
	MarkChunksEmbedded(ctx context.Context, docId string, chunkIds []string) error
	ListChunks(ctx context.Context, docId string) ([]kbModel.Chunk, error)
	GetChunksByIds(ctx context.Context, ids []string) ([]kbModel.Chunk, error)
	// ListChunkIdsForKb feeds orphan detection: every chunk id the relational
	// side believes should exist in the kb's collection.
	ListChunkIdsForKb(ctx context.Context, kbId string) ([]string, error)
	DeleteChunks(ctx context.Context, docId string) error

	CreateApiKey(ctx context.Context, key kbModel.ApiKey) error
	GetApiKey(ctx context.Context, id string) (kbModel.ApiKey, error)
	ListApiKeys(ctx context.Context) ([]kbModel.ApiKey, error)
	UpdateApiKey(ctx context.Context, key kbModel.ApiKey) error
	DeleteApiKey(ctx context.Context, id string) error
	// TouchApiKey records usage - called once per successful authentication,
	// never from inside the credential check itself.
	TouchApiKey(ctx context.Context, id string, when time.Time) error
}
