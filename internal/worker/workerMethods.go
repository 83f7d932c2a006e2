package worker

import (
	"context"
	"errors"
	"time"

	"github.com/akolanti/kbAPI/internal/config"
	jobmodel "github.com/akolanti/kbAPI/internal/domain/jobModel"
	"github.com/akolanti/kbAPI/internal/domain/kbModel"
	"github.com/akolanti/kbAPI/internal/metrics"
)

// how long a job blocked by a per-document lock waits before going back on
// the queue
const blockedRequeueDelay = 2 * time.Second

// scheduleLater is a variable so tests can run retries inline.
var scheduleLater = func(delay time.Duration, fn func()) {
	time.AfterFunc(delay, fn)
}

func executeJob(job jobmodel.Job) {
	start := time.Now()
	terminal := job.Status
	defer func() {
		metrics.CaptureJobMetrics(string(terminal), time.Since(start))
	}()

	ctxTrace := context.WithValue(context.Background(), config.TRACE_ID_KEY, job.TraceId)
	ctx, cancel := context.WithTimeout(ctxTrace, config.JobExecuteTimeout)
	defer cancel()

	log := logger.With("traceId", job.TraceId, "jobId", job.Id)
	log.Debug("Processing job:", "op", job.Op, "attempt", job.Attempt)

	// one job per document at a time; a blocked job goes back on the queue
	// instead of waiting inside a worker
	if !_jobService.TryAcquireDoc(job.DocumentId) {
		log.Debug("document locked, re-queueing", "documentId", job.DocumentId)
		requeueLater(job, blockedRequeueDelay)
		return
	}
	defer _jobService.ReleaseDoc(job.DocumentId)

	saveJobState(ctx, job, jobmodel.JobStatusRunning)

	var err error
	switch job.Op {
	case jobmodel.OpIndex:
		err = _pipeline.IndexDocument(ctx, job.DocumentId)
		if err == nil {
			if confirmErr := _reconciler.ConfirmDocument(ctx, job.DocumentId); confirmErr != nil {
				log.Error("post-ingest confirmation failed", "err", confirmErr)
			}
		}
	case jobmodel.OpDelete:
		if job.DocumentId == "" {
			err = _pipeline.PurgeKnowledgeBase(ctx, job.KbId)
		} else {
			err = _pipeline.DeleteDocument(ctx, job.DocumentId)
		}
	case jobmodel.OpSweep:
		err = _reconciler.SweepAll(ctx)
	default:
		err = errors.New("unknown job op " + string(job.Op))
	}

	terminal = finishJob(ctx, job, err)
}

// finishJob persists the job's outcome and reports the status it landed on.
func finishJob(ctx context.Context, job jobmodel.Job, err error) jobmodel.JobStatus {
	log := logger.With("traceId", job.TraceId, "jobId", job.Id)

	switch {
	case err == nil, errors.Is(err, kbModel.ErrCancelled):
		job.EndTime = time.Now()
		saveJobState(ctx, job, jobmodel.JobStatusComplete)
		if job.Op == jobmodel.OpIndex && err == nil {
			metrics.DocumentsIngested.WithLabelValues("indexed").Inc()
		}
		return jobmodel.JobStatusComplete

	case kbModel.IsRetryable(err) && job.Attempt+1 < config.JobAttemptCeiling:
		job.Attempt++
		job.Error = jobmodel.JobError{Message: err.Error(), Retry: true}
		saveJobState(ctx, job, jobmodel.JobStatusError)
		metrics.JobsRetried.Inc()

		delay := retryDelay(job.Attempt)
		log.Info("transient failure, will retry", "attempt", job.Attempt, "delay", delay, "err", err)
		requeueLater(job, delay)
		return jobmodel.JobStatusError

	default:
		// permanent failure or retry budget exhausted: park it, never drop it
		job.EndTime = time.Now()
		job.Error = jobmodel.JobError{Message: err.Error(), Retry: false}
		saveJobState(ctx, job, jobmodel.JobStatusDead)
		metrics.JobsDeadLettered.Inc()
		if job.Op == jobmodel.OpIndex {
			metrics.DocumentsIngested.WithLabelValues("failed").Inc()
		}
		log.Error("job dead-lettered", "op", job.Op, "attempts", job.Attempt+1, "err", err)
		return jobmodel.JobStatusDead
	}
}

// retryDelay follows min(cap, base*2^attempt).
func retryDelay(attempt int) time.Duration {
	delay := config.JobRetryBaseDelay << attempt
	if delay > config.JobRetryMaxDelay || delay <= 0 {
		delay = config.JobRetryMaxDelay
	}
	return delay
}

func requeueLater(job jobmodel.Job, delay time.Duration) {
	scheduleLater(delay, func() {
		ctx := context.WithValue(context.Background(), config.TRACE_ID_KEY, job.TraceId)
		if err := _jobService.Enqueue(ctx, job); err != nil {
			logger.Error("Failed to re-enqueue job", "jobId", job.Id, "err", err)
		}
	})
}

func saveJobState(ctx context.Context, job jobmodel.Job, jobStatus jobmodel.JobStatus) {
	job.Status = jobStatus
	if err := _jobService.JobStore.SaveJob(ctx, job); err != nil {
		logger.Error("Failed to update job state", "err", err)
	}
}
