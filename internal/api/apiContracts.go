package api

import "time"

type ErrorResponse struct {
	Code    int    `json:"code" example:"400"`
	Message string `json:"message" example:"knowledge base not found"`
	Id      string `json:"id,omitempty"`
}

// knowledge bases ---------------------

type CreateKnowledgeBaseRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description,omitempty"`
}

type KnowledgeBaseResponse struct {
	Id          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	TenantId    string    `json:"tenant_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// documents ---------------------

type DocumentResponse struct {
	Id          string    `json:"id"`
	KbId        string    `json:"knowledge_base_id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Status      string    `json:"status"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	ChunkCount  int       `json:"chunk_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type UploadAcceptedResponse struct {
	DocumentId string `json:"document_id"`
	JobId      string `json:"job_id"`
	StatusURL  string `json:"status_url"`
	// NoOp is set when the uploaded content is already indexed unchanged
	NoOp bool `json:"no_op,omitempty"`
}

// retrieval ---------------------

type QueryRequest struct {
	Query string   `json:"query" validate:"required"`
	KbIds []string `json:"knowledge_base_ids,omitempty"`
	TopK  int      `json:"top_k,omitempty"`
}

type QueryResult struct {
	ChunkId      string  `json:"chunk_id"`
	DocumentId   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	KbId         string  `json:"knowledge_base_id"`
	Ordinal      int     `json:"ordinal"`
	Text         string  `json:"text"`
	Score        float32 `json:"score"`
}

type QueryResponse struct {
	Results []QueryResult `json:"results"`
}

// api keys ---------------------

type CreateApiKeyRequest struct {
	Name     string `json:"name" validate:"required"`
	Role     string `json:"role" validate:"required" example:"scoped"`
	TenantId string `json:"tenant_id,omitempty"`
}

type ApiKeyResponse struct {
	Id         string     `json:"id"`
	Name       string     `json:"name"`
	Role       string     `json:"role"`
	TenantId   string     `json:"tenant_id,omitempty"`
	IsActive   bool       `json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// CreatedApiKeyResponse carries the plaintext credential exactly once.
type CreatedApiKeyResponse struct {
	ApiKeyResponse
	Credential string `json:"credential"`
}

// jobs ---------------------

type JobResponse struct {
	Id        string            `json:"id"`
	Op        string            `json:"op"`
	Status    string            `json:"status"`
	Attempt   int               `json:"attempt"`
	Error     *JobOutgoingError `json:"error,omitempty"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitempty"`
}

type JobOutgoingError struct {
	Code    int    `json:"code" example:"400"`
	Message string `json:"message" example:"Job not found"`
	Retry   bool   `json:"can_retry" example:"false"`
}
