package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/akolanti/kbAPI/internal/adapter"
	"github.com/akolanti/kbAPI/internal/auth"
	"github.com/akolanti/kbAPI/internal/config"
	"github.com/akolanti/kbAPI/internal/data/blobStore"
	"github.com/akolanti/kbAPI/internal/data/metaStore"
	"github.com/akolanti/kbAPI/internal/domain/kbModel"
	"github.com/akolanti/kbAPI/internal/job"
	"github.com/akolanti/kbAPI/internal/rag/retrieval"
	"github.com/akolanti/kbAPI/pkg/logger_i"
)

var (
	handlerInstance *HandlerSet //private singleton
	once            sync.Once
	logRH           *logger_i.Logger
)

type HandlerSet struct {
	meta   metaStore.MetadataStore
	blobs  blobStore.BlobStore
	jobs   *job.Service
	auth   auth.Service
	search retrieval.Service
}

func InitHandlers(meta metaStore.MetadataStore, blobs blobStore.BlobStore, jobs *job.Service, authSvc auth.Service, search retrieval.Service) {
	once.Do(func() {
		handlerInstance = &HandlerSet{
			meta:   meta,
			blobs:  blobs,
			jobs:   jobs,
			auth:   authSvc,
			search: search,
		}
		logRH = logger_i.NewLogger("RequestHandler")
		logRH.Info("Starting request handlers")
	})
}

// AuthService exposes the wired auth service to the middleware layer.
func AuthService() auth.Service {
	if handlerInstance == nil {
		return nil
	}
	return handlerInstance.auth
}

func writeJsonResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log the error but can't send a clean status code now
		logRH.Error("Error encoding response: %v", err)
	}
}

func WriteErrorResponse(w http.ResponseWriter, httpCode int, id string, error string) {
	writeJsonResponse(w, httpCode, adapter.BadRequest(id, error, httpCode))
}

// writeDomainError maps the error taxonomy onto status codes. A scope
// mismatch on data access deliberately reads the same as not found.
func writeDomainError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, kbModel.ErrNotFound):
		WriteErrorResponse(w, http.StatusNotFound, id, "not found")
	case errors.Is(err, kbModel.ErrConflict):
		WriteErrorResponse(w, http.StatusConflict, id, "conflicting state, try again")
	case errors.Is(err, kbModel.ErrScopeMismatch):
		WriteErrorResponse(w, http.StatusForbidden, id, "scope does not allow this")
	case errors.Is(err, kbModel.ErrUnsupportedFormat):
		WriteErrorResponse(w, http.StatusBadRequest, id, "unsupported document format")
	case errors.Is(err, job.ErrQueueFull):
		WriteErrorResponse(w, http.StatusServiceUnavailable, id, "queue full, try again later")
	default:
		WriteErrorResponse(w, http.StatusInternalServerError, id, "internal error")
	}
}

func validateContext(ctx context.Context) bool {
	if ctx.Err() != nil {
		logRH.Warn("context error", "err", ctx.Err())
		return false
	}
	select {
	case <-ctx.Done():
		logRH.Warn("context cancelled")
		return false
	default:
		return true
	}
}

func scopeFrom(ctx context.Context) (kbModel.Scope, bool) {
	scope, ok := ctx.Value(config.SCOPE_KEY).(kbModel.Scope)
	return scope, ok
}

func traceFrom(ctx context.Context) string {
	if traceId, ok := ctx.Value(config.TRACE_ID_KEY).(string); ok {
		return traceId
	}
	return ""
}

// kbForScope loads a knowledge base and checks ownership. Foreign tenants
// get ErrNotFound, never a hint the kb exists.
func (h *HandlerSet) kbForScope(ctx context.Context, kbId string, scope kbModel.Scope) (kbModel.KnowledgeBase, error) {
	kb, err := h.meta.GetKnowledgeBase(ctx, kbId)
	if err != nil {
		return kb, err
	}
	if !scope.CanAccessTenant(kb.TenantId) {
		return kb, kbModel.ErrNotFound
	}
	return kb, nil
}
