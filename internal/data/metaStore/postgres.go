package metaStore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/akolanti/kbAPI/internal/config"
	"github.com/akolanti/kbAPI/internal/domain/kbModel"
	"github.com/akolanti/kbAPI/pkg/logger_i"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	pgInstance *PostgresStore
	pgOnce     sync.Once
	pgLogger   *logger_i.Logger
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

// schema is bootstrapped at startup - migration tooling lives outside this
// service.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS knowledge_bases (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kb_tenant ON knowledge_bases (tenant_id);

CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	kb_id        TEXT NOT NULL REFERENCES knowledge_bases (id) ON DELETE CASCADE,
	file_name    TEXT NOT NULL,
	content_type TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	blob_key     TEXT NOT NULL,
	status       TEXT NOT NULL,
	error_detail TEXT NOT NULL DEFAULT '',
	chunk_count  INT  NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_doc_kb ON documents (kb_id);
CREATE INDEX IF NOT EXISTS idx_doc_hash ON documents (kb_id, content_hash);

CREATE TABLE IF NOT EXISTS chunks (
	id       TEXT PRIMARY KEY,
	doc_id   TEXT NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
	ordinal  INT  NOT NULL,
	content  TEXT NOT NULL,
	embedded BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_chunk_doc ON chunks (doc_id);

CREATE TABLE IF NOT EXISTS api_keys (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	secret_hash  TEXT NOT NULL,
	salt         TEXT NOT NULL,
	role         TEXT NOT NULL,
	tenant_id    TEXT NOT NULL DEFAULT '',
	is_active    BOOLEAN NOT NULL DEFAULT TRUE,
	last_used_at TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL
);
`

func GetPostgresStore(ctx context.Context) *PostgresStore {
	pgOnce.Do(func() {
		pgLogger = logger_i.NewLogger("Postgres MetaStore")

		dsn := os.Getenv("POSTGRES_DSN")
		if dsn == "" {
			dsn = config.PostgresDSN
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			pgLogger.Error("Bad postgres DSN", "error", err)
			return
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			pgLogger.Error("Could not create postgres pool", "error", err)
			return
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			pgLogger.Error("Postgres is offline", "error", err)
			pool.Close()
			return
		}

		if _, err := pool.Exec(ctx, schemaSQL); err != nil {
			pgLogger.Error("Schema bootstrap failed", "error", err)
			pool.Close()
			return
		}

		pgLogger.Info("Postgres metadata store ready")
		pgInstance = &PostgresStore{pool: pool}
		go closePostgres(ctx, pool)
	})
	return pgInstance
}

func closePostgres(ctx context.Context, pool *pgxpool.Pool) {
	<-ctx.Done()
	pgLogger.Info("Closing postgres pool")
	pool.Close()
}

// knowledge bases ----------------------------------------------------------

func (s *PostgresStore) CreateKnowledgeBase(ctx context.Context, kb kbModel.KnowledgeBase) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO knowledge_bases (id, tenant_id, name, description, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		kb.Id, kb.TenantId, kb.Name, kb.Description, kb.CreatedAt, kb.UpdatedAt)
	return wrapPgErr(err)
}

func (s *PostgresStore) GetKnowledgeBase(ctx context.Context, id string) (kbModel.KnowledgeBase, error) {
	var kb kbModel.KnowledgeBase
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, description, created_at, updated_at
		 FROM knowledge_bases WHERE id = $1`, id).
		Scan(&kb.Id, &kb.TenantId, &kb.Name, &kb.Description, &kb.CreatedAt, &kb.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return kb, kbModel.ErrNotFound
	}
	return kb, wrapPgErr(err)
}

func (s *PostgresStore) ListKnowledgeBases(ctx context.Context, tenantId string) ([]kbModel.KnowledgeBase, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, description, created_at, updated_at
		 FROM knowledge_bases WHERE tenant_id = $1 OR $1 = '' ORDER BY created_at`, tenantId)
	if err != nil {
		return nil, wrapPgErr(err)
	}
	defer rows.Close()

	var out []kbModel.KnowledgeBase
	for rows.Next() {
		var kb kbModel.KnowledgeBase
		if err := rows.Scan(&kb.Id, &kb.TenantId, &kb.Name, &kb.Description, &kb.CreatedAt, &kb.UpdatedAt); err != nil {
			return nil, wrapPgErr(err)
		}
		out = append(out, kb)
	}
	return out, wrapPgErr(rows.Err())
}

func (s *PostgresStore) DeleteKnowledgeBase(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM knowledge_bases WHERE id = $1`, id)
	if err != nil {
		return wrapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return kbModel.ErrNotFound
	}
	return nil
}

// documents ----------------------------------------------------------------

func (s *PostgresStore) CreateDocument(ctx context.Context, doc kbModel.Document) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, kb_id, file_name, content_type, content_hash, blob_key,
		                        status, error_detail, chunk_count, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		doc.Id, doc.KbId, doc.FileName, string(doc.ContentType), doc.ContentHash, doc.BlobKey,
		string(doc.Status), doc.ErrorDetail, doc.ChunkCount, doc.CreatedAt, doc.UpdatedAt)
	return wrapPgErr(err)
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (kbModel.Document, error) {
	return s.scanDocument(s.pool.QueryRow(ctx, docSelect+` WHERE id = $1`, id))
}

const docSelect = `SELECT id, kb_id, file_name, content_type, content_hash, blob_key,
       status, error_detail, chunk_count, created_at, updated_at FROM documents`

func (s *PostgresStore) scanDocument(row pgx.Row) (kbModel.Document, error) {
	var doc kbModel.Document
	var ctype, status string
	err := row.Scan(&doc.Id, &doc.KbId, &doc.FileName, &ctype, &doc.ContentHash, &doc.BlobKey,
		&status, &doc.ErrorDetail, &doc.ChunkCount, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return doc, kbModel.ErrNotFound
	}
	doc.ContentType = kbModel.DocType(ctype)
	doc.Status = kbModel.DocStatus(status)
	return doc, wrapPgErr(err)
}

func (s *PostgresStore) ListDocuments(ctx context.Context, kbId string) ([]kbModel.Document, error) {
	rows, err := s.pool.Query(ctx, docSelect+` WHERE kb_id = $1 ORDER BY created_at`, kbId)
	if err != nil {
		return nil, wrapPgErr(err)
	}
	defer rows.Close()

	var out []kbModel.Document
	for rows.Next() {
		doc, err := s.scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, wrapPgErr(rows.Err())
}

func (s *PostgresStore) FindDocumentByHash(ctx context.Context, kbId string, hash string) (kbModel.Document, error) {
	return s.scanDocument(s.pool.QueryRow(ctx,
		docSelect+` WHERE kb_id = $1 AND content_hash = $2 LIMIT 1`, kbId, hash))
}

func (s *PostgresStore) TransitionDocument(ctx context.Context, id string, from, to kbModel.DocStatus, errDetail string) error {
	if !kbModel.ValidTransition(from, to) {
		return kbModel.ErrConflict
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $1, error_detail = $2, updated_at = NOW()
		 WHERE id = $3 AND status = $4`,
		string(to), errDetail, id, string(from))
	if err != nil {
		return wrapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		// either missing or someone else moved it first
		if _, getErr := s.GetDocument(ctx, id); errors.Is(getErr, kbModel.ErrNotFound) {
			return kbModel.ErrNotFound
		}
		return kbModel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) UpdateDocumentContent(ctx context.Context, id string, contentHash string, blobKey string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET content_hash = $1, blob_key = $2, updated_at = NOW() WHERE id = $3`,
		contentHash, blobKey, id)
	if err != nil {
		return wrapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return kbModel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetChunkCount(ctx context.Context, id string, count int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE documents SET chunk_count = $1, updated_at = NOW() WHERE id = $2`, count, id)
	return wrapPgErr(err)
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return wrapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return kbModel.ErrNotFound
	}
	return nil
}

// chunks -------------------------------------------------------------------

func (s *PostgresStore) ReplaceChunks(ctx context.Context, docId string, chunks []kbModel.Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapPgErr(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE doc_id = $1`, docId); err != nil {
		return wrapPgErr(err)
	}

	batch := &pgx.Batch{}
	for _, chunk := range chunks {
		batch.Queue(
			`INSERT INTO chunks (id, doc_id, ordinal, content, embedded) VALUES ($1,$2,$3,$4,$5)`,
			chunk.Id, docId, chunk.Ordinal, chunk.Text, chunk.Embedded)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return wrapPgErr(err)
	}
	return wrapPgErr(tx.Commit(ctx))
}

func (s *PostgresStore) MarkChunksEmbedded(ctx context.Context, docId string, chunkIds []string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE chunks SET embedded = TRUE WHERE doc_id = $1 AND id = ANY($2)`,
		docId, chunkIds)
	return wrapPgErr(err)
}

func (s *PostgresStore) ListChunks(ctx context.Context, docId string) ([]kbModel.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, doc_id, ordinal, content, embedded FROM chunks
		 WHERE doc_id = $1 ORDER BY ordinal`, docId)
	if err != nil {
		return nil, wrapPgErr(err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

func (s *PostgresStore) GetChunksByIds(ctx context.Context, ids []string) ([]kbModel.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, doc_id, ordinal, content, embedded FROM chunks WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, wrapPgErr(err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

func (s *PostgresStore) ListChunkIdsForKb(ctx context.Context, kbId string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.id FROM chunks c JOIN documents d ON d.id = c.doc_id WHERE d.kb_id = $1`, kbId)
	if err != nil {
		return nil, wrapPgErr(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapPgErr(err)
		}
		ids = append(ids, id)
	}
	return ids, wrapPgErr(rows.Err())
}

func (s *PostgresStore) DeleteChunks(ctx context.Context, docId string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE doc_id = $1`, docId)
	return wrapPgErr(err)
}

func scanChunks(rows pgx.Rows) ([]kbModel.Chunk, error) {
	var out []kbModel.Chunk
	for rows.Next() {
		var chunk kbModel.Chunk
		if err := rows.Scan(&chunk.Id, &chunk.DocId, &chunk.Ordinal, &chunk.Text, &chunk.Embedded); err != nil {
			return nil, wrapPgErr(err)
		}
		out = append(out, chunk)
	}
	return out, wrapPgErr(rows.Err())
}

// api keys -----------------------------------------------------------------

func (s *PostgresStore) CreateApiKey(ctx context.Context, key kbModel.ApiKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, secret_hash, salt, role, tenant_id, is_active, last_used_at, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		key.Id, key.Name, key.SecretHash, key.Salt, string(key.Role), key.TenantId,
		key.IsActive, key.LastUsedAt, key.CreatedAt)
	return wrapPgErr(err)
}

func (s *PostgresStore) GetApiKey(ctx context.Context, id string) (kbModel.ApiKey, error) {
	var key kbModel.ApiKey
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, secret_hash, salt, role, tenant_id, is_active, last_used_at, created_at
		 FROM api_keys WHERE id = $1`, id).
		Scan(&key.Id, &key.Name, &key.SecretHash, &key.Salt, &role, &key.TenantId,
			&key.IsActive, &key.LastUsedAt, &key.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return key, kbModel.ErrNotFound
	}
	key.Role = kbModel.KeyRole(role)
	return key, wrapPgErr(err)
}

func (s *PostgresStore) ListApiKeys(ctx context.Context) ([]kbModel.ApiKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, secret_hash, salt, role, tenant_id, is_active, last_used_at, created_at
		 FROM api_keys ORDER BY created_at`)
	if err != nil {
		return nil, wrapPgErr(err)
	}
	defer rows.Close()

	var out []kbModel.ApiKey
	for rows.Next() {
		var key kbModel.ApiKey
		var role string
		if err := rows.Scan(&key.Id, &key.Name, &key.SecretHash, &key.Salt, &role, &key.TenantId,
			&key.IsActive, &key.LastUsedAt, &key.CreatedAt); err != nil {
			return nil, wrapPgErr(err)
		}
		key.Role = kbModel.KeyRole(role)
		out = append(out, key)
	}
	return out, wrapPgErr(rows.Err())
}

func (s *PostgresStore) UpdateApiKey(ctx context.Context, key kbModel.ApiKey) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET name = $1, is_active = $2 WHERE id = $3`,
		key.Name, key.IsActive, key.Id)
	if err != nil {
		return wrapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return kbModel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteApiKey(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return wrapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return kbModel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) TouchApiKey(ctx context.Context, id string, when time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, when, id)
	return wrapPgErr(err)
}

// wrapPgErr folds driver failures into the transient class - the caller's
// retry budget decides what happens next.
func wrapPgErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: postgres: %v", kbModel.ErrTransientIO, err)
}
