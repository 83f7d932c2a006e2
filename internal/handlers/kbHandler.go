package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/akolanti/kbAPI/internal/adapter"
	"github.com/akolanti/kbAPI/internal/adapter/utils"
	"github.com/akolanti/kbAPI/internal/api"
	"github.com/akolanti/kbAPI/internal/domain/kbModel"
	"github.com/akolanti/kbAPI/internal/job"
)

// CreateKbHandler godoc
// @Summary      Create a knowledge base
// @Description  Creates an empty knowledge base under the caller's tenant.
// @Tags         Knowledge Bases
// @Accept       json
// @Produce      json
// @Param        request  body      api.CreateKnowledgeBaseRequest  true  "Knowledge base name and description"
// @Success      201      {object}  api.KnowledgeBaseResponse
// @Failure      400      {object}  api.ErrorResponse
// @Security     ApiKey
// @Router       /kb [post]
func CreateKbHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	scope, ok := scopeFrom(r.Context())
	if !ok {
		WriteErrorResponse(w, http.StatusUnauthorized, "", "Unauthorized")
		return
	}

	var req api.CreateKnowledgeBaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		WriteErrorResponse(w, http.StatusBadRequest, "", "name is required")
		return
	}
	defer r.Body.Close()

	kb := kbModel.KnowledgeBase{
		Id:          utils.GetNewUUID(),
		TenantId:    scope.TenantId,
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := handlerInstance.meta.CreateKnowledgeBase(r.Context(), kb); err != nil {
		writeDomainError(w, kb.Id, err)
		return
	}
	writeJsonResponse(w, http.StatusCreated, adapter.ToKnowledgeBaseResponse(kb))
}

// ListKbHandler godoc
// @Summary      List knowledge bases
// @Tags         Knowledge Bases
// @Produce      json
// @Success      200  {array}  api.KnowledgeBaseResponse
// @Security     ApiKey
// @Router       /kb [get]
func ListKbHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	scope, ok := scopeFrom(r.Context())
	if !ok {
		WriteErrorResponse(w, http.StatusUnauthorized, "", "Unauthorized")
		return
	}

	kbs, err := handlerInstance.meta.ListKnowledgeBases(r.Context(), scope.TenantId)
	if err != nil {
		writeDomainError(w, "", err)
		return
	}
	out := make([]api.KnowledgeBaseResponse, 0, len(kbs))
	for _, kb := range kbs {
		out = append(out, adapter.ToKnowledgeBaseResponse(kb))
	}
	writeJsonResponse(w, http.StatusOK, out)
}

// GetKbHandler godoc
// @Summary      Get one knowledge base
// @Tags         Knowledge Bases
// @Produce      json
// @Param        id   path      string  true  "Knowledge base ID"
// @Success      200  {object}  api.KnowledgeBaseResponse
// @Failure      404  {object}  api.ErrorResponse
// @Security     ApiKey
// @Router       /kb/{id} [get]
func GetKbHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	scope, ok := scopeFrom(r.Context())
	if !ok {
		WriteErrorResponse(w, http.StatusUnauthorized, "", "Unauthorized")
		return
	}

	kbId := utils.GetChiURLParam(r, "id")
	kb, err := handlerInstance.kbForScope(r.Context(), kbId, scope)
	if err != nil {
		writeDomainError(w, kbId, err)
		return
	}
	writeJsonResponse(w, http.StatusOK, adapter.ToKnowledgeBaseResponse(kb))
}

// DeleteKbHandler godoc
// @Summary      Delete a knowledge base
// @Description  Marks every document for deletion and queues a purge job removing vectors, blobs and rows.
// @Tags         Knowledge Bases
// @Produce      json
// @Param        id   path  string  true  "Knowledge base ID"
// @Success      202  {object}  api.UploadAcceptedResponse
// @Failure      404  {object}  api.ErrorResponse
// @Security     ApiKey
// @Router       /kb/{id} [delete]
func DeleteKbHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	scope, ok := scopeFrom(r.Context())
	if !ok {
		WriteErrorResponse(w, http.StatusUnauthorized, "", "Unauthorized")
		return
	}

	kbId := utils.GetChiURLParam(r, "id")
	kb, err := handlerInstance.kbForScope(r.Context(), kbId, scope)
	if err != nil {
		writeDomainError(w, kbId, err)
		return
	}

	// mark everything deleting first so in-flight ingestions cancel at
	// their next batch boundary
	docs, err := handlerInstance.meta.ListDocuments(r.Context(), kb.Id)
	if err != nil {
		writeDomainError(w, kbId, err)
		return
	}
	for _, doc := range docs {
		if doc.Status == kbModel.DocStatusDeleting {
			continue
		}
		err := handlerInstance.meta.TransitionDocument(r.Context(), doc.Id, doc.Status, kbModel.DocStatusDeleting, "")
		if err != nil {
			//raced with a status change, the purge job will still catch it
			logRH.Warn("could not mark document deleting", "documentId", doc.Id, "err", err)
		}
	}

	purge := job.NewDeleteJob("", kb.Id, kb.TenantId, traceFrom(r.Context()))
	if err := handlerInstance.jobs.Enqueue(r.Context(), purge); err != nil {
		writeDomainError(w, kbId, err)
		return
	}
	writeJsonResponse(w, http.StatusAccepted, adapter.ToUploadAccepted("", purge.Id, false))
}
