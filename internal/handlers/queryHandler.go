package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/akolanti/kbAPI/internal/adapter"
	"github.com/akolanti/kbAPI/internal/api"
	"github.com/akolanti/kbAPI/internal/metrics"
	"github.com/akolanti/kbAPI/internal/rag/retrieval"
)

// QueryHandler godoc
// @Summary      Similarity search
// @Description  Embeds the query text and searches the caller's knowledge bases. An empty result list is a valid answer.
// @Tags         Retrieval
// @Accept       json
// @Produce      json
// @Param        request  body      api.QueryRequest  true  "Query text, optional knowledge base filter and top-k"
// @Success      200      {object}  api.QueryResponse
// @Failure      400      {object}  api.ErrorResponse
// @Security     ApiKey
// @Router       /query [post]
func QueryHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	scope, ok := scopeFrom(r.Context())
	if !ok {
		WriteErrorResponse(w, http.StatusUnauthorized, "", "Unauthorized")
		return
	}

	var req api.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		WriteErrorResponse(w, http.StatusBadRequest, "", "query is required")
		return
	}
	defer r.Body.Close()

	start := time.Now()
	results, err := handlerInstance.search.Query(r.Context(), scope, retrieval.Request{
		Query: req.Query,
		KbIds: req.KbIds,
		TopK:  req.TopK,
	})
	metrics.CaptureExecutionMetrics("retrieval", time.Since(start))
	if err != nil {
		writeDomainError(w, "", err)
		return
	}

	writeJsonResponse(w, http.StatusOK, adapter.ToQueryResponse(results))
}
