package adapter

import (
	"fmt"

	"github.com/akolanti/kbAPI/internal/api"
	"github.com/akolanti/kbAPI/internal/domain/jobModel"
	"github.com/akolanti/kbAPI/internal/domain/kbModel"
)

func ToKnowledgeBaseResponse(kb kbModel.KnowledgeBase) api.KnowledgeBaseResponse {
	return api.KnowledgeBaseResponse{
		Id:          kb.Id,
		Name:        kb.Name,
		Description: kb.Description,
		TenantId:    kb.TenantId,
		CreatedAt:   kb.CreatedAt,
	}
}

func ToDocumentResponse(doc kbModel.Document) api.DocumentResponse {
	return api.DocumentResponse{
		Id:          doc.Id,
		KbId:        doc.KbId,
		FileName:    doc.FileName,
		ContentType: string(doc.ContentType),
		Status:      string(doc.Status),
		ErrorDetail: doc.ErrorDetail,
		ChunkCount:  doc.ChunkCount,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
}

func ToUploadAccepted(docId, jobId string, noOp bool) api.UploadAcceptedResponse {
	return api.UploadAcceptedResponse{
		DocumentId: docId,
		JobId:      jobId,
		StatusURL:  fmt.Sprintf("jobs/%s", jobId),
		NoOp:       noOp,
	}
}

func ToQueryResponse(chunks []kbModel.ScoredChunk) api.QueryResponse {
	results := make([]api.QueryResult, 0, len(chunks))
	for _, sc := range chunks {
		results = append(results, api.QueryResult{
			ChunkId:      sc.Chunk.Id,
			DocumentId:   sc.Chunk.DocId,
			DocumentName: sc.DocumentName,
			KbId:         sc.KbId,
			Ordinal:      sc.Chunk.Ordinal,
			Text:         sc.Chunk.Text,
			Score:        sc.Score,
		})
	}
	return api.QueryResponse{Results: results}
}

func ToApiKeyResponse(key kbModel.ApiKey) api.ApiKeyResponse {
	return api.ApiKeyResponse{
		Id:         key.Id,
		Name:       key.Name,
		Role:       string(key.Role),
		TenantId:   key.TenantId,
		IsActive:   key.IsActive,
		LastUsedAt: key.LastUsedAt,
		CreatedAt:  key.CreatedAt,
	}
}

func ToCreatedApiKeyResponse(key kbModel.ApiKey, credential string) api.CreatedApiKeyResponse {
	return api.CreatedApiKeyResponse{
		ApiKeyResponse: ToApiKeyResponse(key),
		Credential:     credential,
	}
}

func ToJobResponse(job jobModel.Job) api.JobResponse {
	var errorPtr *api.JobOutgoingError
	if job.Error.Message != "" || job.Error.Code != 0 {
		errorPtr = &api.JobOutgoingError{
			Code:    job.Error.Code,
			Message: job.Error.Message,
			Retry:   job.Error.Retry,
		}
	}

	return api.JobResponse{
		Id:        job.Id,
		Op:        string(job.Op),
		Status:    string(job.Status),
		Attempt:   job.Attempt,
		Error:     errorPtr,
		StartTime: job.CreatedTime,
		EndTime:   job.EndTime,
	}
}

func BadRequest(id string, message string, code int) api.ErrorResponse {
	return api.ErrorResponse{
		Code:    code,
		Message: message,
		Id:      id,
	}
}
