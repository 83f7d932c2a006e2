package jobModel

import (
	"context"
	"time"
)

type JobStatus string
type JobOp string

const (
	JobStatusQueued   JobStatus = "QUEUED"
	JobStatusRunning  JobStatus = "RUNNING"
	JobStatusComplete JobStatus = "COMPLETE"
	JobStatusError    JobStatus = "Error"
	JobStatusDead     JobStatus = "DEAD" //retry budget exhausted, no silent drop

	OpIndex  JobOp = "index"
	OpDelete JobOp = "delete"
	OpSweep  JobOp = "sweep" //periodic reconciler run, not tied to one document
)

// Job is the unit of work the coordinator moves around. Durability is
// at-least-once delivery, not exactly-once storage: the job store keeps the
// last written state so in-flight jobs can be redelivered after a crash.
type Job struct {
	Id          string    `json:"id"`
	Op          JobOp     `json:"op"`
	DocumentId  string    `json:"document_id,omitempty"`
	KbId        string    `json:"knowledge_base_id,omitempty"`
	TenantId    string    `json:"tenant_id,omitempty"`
	Attempt     int       `json:"attempt"`
	TraceId     string    `json:"trace_id"`
	Error       JobError  `json:"error,omitempty"`
	CreatedTime time.Time `json:"created_time"`
	EndTime     time.Time `json:"end_time,omitempty"`
	Status      JobStatus `json:"status"`
}

type JobError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Retry   bool   `json:"retry"`
}

// Redeliverable reports whether a restart must put this job back on the
// queue: it was queued or running when the process died, or it was waiting
// out a retry backoff timer that died with the process. The persisted
// attempt counter keeps redelivered retries inside the same budget.
func (j Job) Redeliverable() bool {
	switch j.Status {
	case JobStatusQueued, JobStatusRunning:
		return true
	case JobStatusError:
		return j.Error.Retry
	}
	return false
}

type JobStore interface {
	GetJob(ctx context.Context, jobId string) (Job, bool)
	SaveJob(ctx context.Context, job Job) error
	DeleteJob(ctx context.Context, jobID string)
	// ListUnfinished returns every job Redeliverable reports true for -
	// the redelivery set after a restart.
	ListUnfinished(ctx context.Context) ([]Job, error)
}
