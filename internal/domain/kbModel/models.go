package kbModel

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

type DocStatus string
type KeyRole string
type DocType string

const (
	DocStatusPending    DocStatus = "PENDING"
	DocStatusProcessing DocStatus = "PROCESSING"
	DocStatusIndexed    DocStatus = "INDEXED"
	DocStatusFailed     DocStatus = "FAILED"
	DocStatusDeleting   DocStatus = "DELETING"

	RoleAdmin  KeyRole = "admin"
	RoleScoped KeyRole = "scoped"

	PDF  DocType = "PDF"
	DOCX DocType = "DOCX"
	TXT  DocType = "TXT"
	MD   DocType = "MD"
	ERR  DocType = "ERROR"
)

type KnowledgeBase struct {
	Id          string    `json:"id"`
	TenantId    string    `json:"tenant_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CollectionName is the vector collection for a knowledge base.
// Derived so collection lookup never needs a mapping table.
func (kb KnowledgeBase) CollectionName() string {
	return "kb_" + kb.Id
}

func CollectionNameFor(kbId string) string {
	return "kb_" + kbId
}

type Document struct {
	Id          string    `json:"id"`
	KbId        string    `json:"knowledge_base_id"`
	FileName    string    `json:"file_name"`
	ContentType DocType   `json:"content_type"`
	ContentHash string    `json:"content_hash"`
	BlobKey     string    `json:"blob_key"`
	Status      DocStatus `json:"status"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	ChunkCount  int       `json:"chunk_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Chunk struct {
	Id       string `json:"chunk_id"` //also the vector-store point id
	DocId    string `json:"document_id"`
	Ordinal  int    `json:"ordinal"`
	Text     string `json:"content"`
	Embedded bool   `json:"embedded"`
}

type ApiKey struct {
	Id         string     `json:"id"`
	Name       string     `json:"name"`
	SecretHash string     `json:"-"`
	Salt       string     `json:"-"`
	Role       KeyRole    `json:"role"`
	TenantId   string     `json:"tenant_id,omitempty"` //empty for admin keys
	IsActive   bool       `json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Scope is what a resolved credential grants. Core operations take a Scope,
// never a raw key.
type Scope struct {
	KeyId    string
	Role     KeyRole
	TenantId string
}

func (s Scope) IsAdmin() bool {
	return s.Role == RoleAdmin
}

// CanAccessTenant reports whether the scope may touch data under tenantId.
// Admin keys manage knowledge bases across every tenant; scoped keys stay
// inside their own. Retrieval rejects admin scopes before ever asking.
func (s Scope) CanAccessTenant(tenantId string) bool {
	if s.Role == RoleAdmin {
		return true
	}
	return s.Role == RoleScoped && s.TenantId == tenantId
}

type ScoredChunk struct {
	Chunk        Chunk   `json:"chunk"`
	Score        float32 `json:"score"`
	KbId         string  `json:"knowledge_base_id"`
	DocumentName string  `json:"document_name"`
	DocCreatedAt time.Time
}

func DocTypeFromFileName(name string) DocType {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return PDF
	case ".docx", ".rtf", ".odt":
		return DOCX
	case ".md":
		return MD
	case ".txt":
		return TXT
	default:
		return ERR
	}
}

// ValidTransition encodes the document lifecycle state machine. Deleting is
// reachable from every state, failed goes back to pending on retry, indexed
// goes back to pending when the reconciler re-queues lost vectors.
func ValidTransition(from, to DocStatus) bool {
	if to == DocStatusDeleting {
		return true
	}
	switch from {
	case DocStatusPending:
		return to == DocStatusProcessing
	case DocStatusProcessing:
		return to == DocStatusIndexed || to == DocStatusFailed
	case DocStatusFailed:
		return to == DocStatusPending
	case DocStatusIndexed:
		return to == DocStatusPending
	default:
		return false
	}
}

func (d Document) String() string {
	return fmt.Sprintf("doc %s (%s, kb %s)", d.Id, d.Status, d.KbId)
}
