package handlers

import (
	"context"
	"net/http"

	"github.com/akolanti/kbAPI/internal/adapter"
	"github.com/akolanti/kbAPI/internal/adapter/utils"
	"github.com/akolanti/kbAPI/internal/api"
	"github.com/akolanti/kbAPI/internal/domain/jobModel"
)

// jobs are not tenant scoped records, but a scoped caller may only see a job
// that belongs to its own tenant. Admin keys see everything.

// GetJobHandler godoc
// @Summary      Get job status
// @Description  Returns the last persisted state of an ingestion or deletion job.
// @Tags         Jobs
// @Produce      json
// @Param        id   path      string  true  "Job ID"
// @Success      200  {object}  api.JobResponse
// @Failure      404  {object}  api.ErrorResponse
// @Security     ApiKey
// @Router       /jobs/{id} [get]
func GetJobHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}

	jobId := utils.GetChiURLParam(r, "id")
	job, found := handlerInstance.jobs.JobStore.GetJob(r.Context(), jobId)
	if !found {
		WriteErrorResponse(w, http.StatusNotFound, jobId, "job not found")
		return
	}

	scope, ok := scopeFrom(r.Context())
	if !ok || (!scope.IsAdmin() && job.TenantId != scope.TenantId) {
		// foreign jobs read as missing, same as every other resource
		WriteErrorResponse(w, http.StatusNotFound, jobId, "job not found")
		return
	}

	writeJsonResponse(w, http.StatusOK, adapter.ToJobResponse(job))
}

// deadLetterLister is satisfied by both bundled job stores; the type
// assertion keeps the handler working against a store that doesn't keep
// a dead letter log.
type deadLetterLister interface {
	DeadLetters(ctx context.Context) ([]jobModel.Job, error)
}

// ListDeadLettersHandler godoc
// @Summary      List dead lettered jobs
// @Description  Jobs that exhausted their retry budget, most recent last. Admin only.
// @Tags         Jobs
// @Produce      json
// @Success      200  {array}   api.JobResponse
// @Security     AdminKey
// @Router       /jobs/deadletters [get]
func ListDeadLettersHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}

	lister, ok := handlerInstance.jobs.JobStore.(deadLetterLister)
	if !ok {
		writeJsonResponse(w, http.StatusOK, []api.JobResponse{})
		return
	}

	jobs, err := lister.DeadLetters(r.Context())
	if err != nil {
		writeDomainError(w, "", err)
		return
	}
	out := make([]api.JobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, adapter.ToJobResponse(job))
	}
	writeJsonResponse(w, http.StatusOK, out)
}
