package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/akolanti/kbAPI/internal/adapter"
	"github.com/akolanti/kbAPI/internal/adapter/utils"
	"github.com/akolanti/kbAPI/internal/api"
	"github.com/akolanti/kbAPI/internal/domain/kbModel"
	"github.com/akolanti/kbAPI/internal/job"
)

const maxUploadSize = 32 << 20 //32mb

// UploadDocumentHandler godoc
// @Summary      Upload a document
// @Description  Receives a file via multipart/form-data, stores the blob and queues ingestion. Re-uploading identical content is a no-op; changed content under the same file name re-versions the document.
// @Tags         Documents
// @Accept       multipart/form-data
// @Produce      json
// @Param        id        path      string  true  "Knowledge base ID"
// @Param        document  formData  file    true  "The document to ingest (pdf, docx, rtf, odt, md, txt)"
// @Success      202  {object}  api.UploadAcceptedResponse
// @Failure      400  {object}  api.ErrorResponse
// @Failure      409  {object}  api.ErrorResponse "Document is mid-ingestion"
// @Security     ApiKey
// @Router       /kb/{id}/documents [post]
func UploadDocumentHandler(w http.ResponseWriter, r *http.Request) {
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

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, "", "File too large or bad request")
		return
	}
	fileReader, fileMetadata, err := r.FormFile("document")
	if err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, "", "Could not retrieve file")
		return
	}
	defer fileReader.Close()

	fileName := fileMetadata.Filename
	docType := kbModel.DocTypeFromFileName(fileName)
	if docType == kbModel.ERR {
		writeDomainError(w, fileName, kbModel.ErrUnsupportedFormat)
		return
	}

	data, err := io.ReadAll(io.LimitReader(fileReader, maxUploadSize))
	if err != nil {
		WriteErrorResponse(w, http.StatusInternalServerError, fileName, "Read error")
		return
	}
	sum := sha256.Sum256(data)
	contentHash := hex.EncodeToString(sum[:])

	// identical content already known to this kb: nothing to do
	if existing, err := handlerInstance.meta.FindDocumentByHash(r.Context(), kb.Id, contentHash); err == nil {
		if existing.Status == kbModel.DocStatusIndexed || existing.Status == kbModel.DocStatusPending ||
			existing.Status == kbModel.DocStatusProcessing {
			logRH.Info("duplicate upload, no-op", "documentId", existing.Id)
			writeJsonResponse(w, http.StatusOK, adapter.ToUploadAccepted(existing.Id, "", true))
			return
		}
	}

	// same file name means a new version of that document
	if existing, found := findByFileName(r, kb.Id, fileName); found {
		reVersionDocument(w, r, scope, existing, data, contentHash)
		return
	}

	docId := utils.GetNewUUID()
	blobKey := fmt.Sprintf("kb_%s/%s_%s", kb.Id, docId, fileName)
	if err := handlerInstance.blobs.Put(r.Context(), blobKey, data, fileMetadata.Header.Get("Content-Type")); err != nil {
		writeDomainError(w, fileName, err)
		return
	}

	doc := kbModel.Document{
		Id:          docId,
		KbId:        kb.Id,
		FileName:    fileName,
		ContentType: docType,
		ContentHash: contentHash,
		BlobKey:     blobKey,
		Status:      kbModel.DocStatusPending,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := handlerInstance.meta.CreateDocument(r.Context(), doc); err != nil {
		writeDomainError(w, docId, err)
		return
	}

	enqueueIndex(w, r, scope, doc)
}

func findByFileName(r *http.Request, kbId, fileName string) (kbModel.Document, bool) {
	docs, err := handlerInstance.meta.ListDocuments(r.Context(), kbId)
	if err != nil {
		return kbModel.Document{}, false
	}
	for _, doc := range docs {
		if doc.FileName == fileName {
			return doc, true
		}
	}
	return kbModel.Document{}, false
}

func reVersionDocument(w http.ResponseWriter, r *http.Request, scope kbModel.Scope, doc kbModel.Document, data []byte, contentHash string) {
	switch doc.Status {
	case kbModel.DocStatusProcessing, kbModel.DocStatusDeleting:
		writeDomainError(w, doc.Id, kbModel.ErrConflict)
		return
	}

	if err := handlerInstance.blobs.Put(r.Context(), doc.BlobKey, data, ""); err != nil {
		writeDomainError(w, doc.Id, err)
		return
	}
	if err := handlerInstance.meta.UpdateDocumentContent(r.Context(), doc.Id, contentHash, doc.BlobKey); err != nil {
		writeDomainError(w, doc.Id, err)
		return
	}
	if doc.Status != kbModel.DocStatusPending {
		if err := handlerInstance.meta.TransitionDocument(r.Context(), doc.Id, doc.Status, kbModel.DocStatusPending, ""); err != nil {
			writeDomainError(w, doc.Id, err)
			return
		}
	}
	doc.ContentHash = contentHash
	enqueueIndex(w, r, scope, doc)
}

func enqueueIndex(w http.ResponseWriter, r *http.Request, scope kbModel.Scope, doc kbModel.Document) {
	indexJob := job.NewIndexJob(doc.Id, doc.KbId, scope.TenantId, traceFrom(r.Context()))
	if err := handlerInstance.jobs.Enqueue(r.Context(), indexJob); err != nil {
		writeDomainError(w, doc.Id, err)
		return
	}
	writeJsonResponse(w, http.StatusAccepted, adapter.ToUploadAccepted(doc.Id, indexJob.Id, false))
}

// ListDocumentsHandler godoc
// @Summary      List documents of a knowledge base
// @Tags         Documents
// @Produce      json
// @Param        id   path     string  true  "Knowledge base ID"
// @Success      200  {array}  api.DocumentResponse
// @Failure      404  {object} api.ErrorResponse
// @Security     ApiKey
// @Router       /kb/{id}/documents [get]
func ListDocumentsHandler(w http.ResponseWriter, r *http.Request) {
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

	docs, err := handlerInstance.meta.ListDocuments(r.Context(), kb.Id)
	if err != nil {
		writeDomainError(w, kbId, err)
		return
	}
	out := make([]api.DocumentResponse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, adapter.ToDocumentResponse(doc))
	}
	writeJsonResponse(w, http.StatusOK, out)
}

// GetDocumentHandler godoc
// @Summary      Get document status
// @Tags         Documents
// @Produce      json
// @Param        id   path      string  true  "Document ID"
// @Success      200  {object}  api.DocumentResponse
// @Failure      404  {object}  api.ErrorResponse
// @Security     ApiKey
// @Router       /documents/{id} [get]
func GetDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	scope, ok := scopeFrom(r.Context())
	if !ok {
		WriteErrorResponse(w, http.StatusUnauthorized, "", "Unauthorized")
		return
	}

	docId := utils.GetChiURLParam(r, "id")
	doc, err := documentForScope(r, docId, scope)
	if err != nil {
		writeDomainError(w, docId, err)
		return
	}
	writeJsonResponse(w, http.StatusOK, adapter.ToDocumentResponse(doc))
}

// DeleteDocumentHandler godoc
// @Summary      Delete a document
// @Description  Marks the document DELETING and queues the removal of its vectors, blob and rows.
// @Tags         Documents
// @Produce      json
// @Param        id   path      string  true  "Document ID"
// @Success      202  {object}  api.UploadAcceptedResponse
// @Failure      404  {object}  api.ErrorResponse
// @Security     ApiKey
// @Router       /documents/{id} [delete]
func DeleteDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	scope, ok := scopeFrom(r.Context())
	if !ok {
		WriteErrorResponse(w, http.StatusUnauthorized, "", "Unauthorized")
		return
	}

	docId := utils.GetChiURLParam(r, "id")
	doc, err := documentForScope(r, docId, scope)
	if err != nil {
		writeDomainError(w, docId, err)
		return
	}

	if doc.Status != kbModel.DocStatusDeleting {
		err = handlerInstance.meta.TransitionDocument(r.Context(), doc.Id, doc.Status, kbModel.DocStatusDeleting, "")
		if err != nil && !errors.Is(err, kbModel.ErrConflict) {
			writeDomainError(w, docId, err)
			return
		}
	}

	deleteJob := job.NewDeleteJob(doc.Id, doc.KbId, scope.TenantId, traceFrom(r.Context()))
	if err := handlerInstance.jobs.Enqueue(r.Context(), deleteJob); err != nil {
		writeDomainError(w, docId, err)
		return
	}
	writeJsonResponse(w, http.StatusAccepted, adapter.ToUploadAccepted(doc.Id, deleteJob.Id, false))
}

// RetryDocumentHandler godoc
// @Summary      Retry a failed document
// @Description  Queues a failed document for another ingestion attempt.
// @Tags         Documents
// @Produce      json
// @Param        id   path      string  true  "Document ID"
// @Success      202  {object}  api.UploadAcceptedResponse
// @Failure      409  {object}  api.ErrorResponse "Document is not in FAILED state"
// @Security     ApiKey
// @Router       /documents/{id}/retry [post]
func RetryDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	scope, ok := scopeFrom(r.Context())
	if !ok {
		WriteErrorResponse(w, http.StatusUnauthorized, "", "Unauthorized")
		return
	}

	docId := utils.GetChiURLParam(r, "id")
	doc, err := documentForScope(r, docId, scope)
	if err != nil {
		writeDomainError(w, docId, err)
		return
	}
	if doc.Status != kbModel.DocStatusFailed {
		writeDomainError(w, docId, kbModel.ErrConflict)
		return
	}

	enqueueIndex(w, r, scope, doc)
}

func documentForScope(r *http.Request, docId string, scope kbModel.Scope) (kbModel.Document, error) {
	doc, err := handlerInstance.meta.GetDocument(r.Context(), docId)
	if err != nil {
		return doc, err
	}
	if _, err := handlerInstance.kbForScope(r.Context(), doc.KbId, scope); err != nil {
		return doc, kbModel.ErrNotFound
	}
	return doc, nil
}
