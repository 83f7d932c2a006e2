package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/akolanti/kbAPI/internal/adapter/utils"
	"github.com/akolanti/kbAPI/internal/domain/jobModel"
	"github.com/akolanti/kbAPI/internal/metrics"
)

var ErrQueueFull = errors.New("job queue full")

type Service struct {
	JobChannel        chan jobModel.Job
	RequestCount      int64
	DispatcherChannel chan bool
	JobStore          jobModel.JobStore

	//per-document serialization: at most one job touches a document at a time
	lockMu   sync.Mutex
	docLocks map[string]bool
}

type ServiceConfig struct {
	JobChannel        chan jobModel.Job
	RequestCount      int64
	DispatcherChannel chan bool
	JobStore          jobModel.JobStore
}

func InitJobService(cfg ServiceConfig) *Service {
	return &Service{
		JobChannel:        cfg.JobChannel,
		RequestCount:      cfg.RequestCount,
		DispatcherChannel: cfg.DispatcherChannel,
		JobStore:          cfg.JobStore,
		docLocks:          make(map[string]bool),
	}
}

// NewIndexJob builds an ingestion job for a document.
func NewIndexJob(docId, kbId, tenantId, traceId string) jobModel.Job {
	return jobModel.Job{
		Id:          utils.GetNewUUID(),
		Op:          jobModel.OpIndex,
		DocumentId:  docId,
		KbId:        kbId,
		TenantId:    tenantId,
		TraceId:     traceId,
		CreatedTime: time.Now(),
		Status:      jobModel.JobStatusQueued,
	}
}

// NewDeleteJob builds a deletion job. With an empty docId it purges the
// whole knowledge base.
func NewDeleteJob(docId, kbId, tenantId, traceId string) jobModel.Job {
	return jobModel.Job{
		Id:          utils.GetNewUUID(),
		Op:          jobModel.OpDelete,
		DocumentId:  docId,
		KbId:        kbId,
		TenantId:    tenantId,
		TraceId:     traceId,
		CreatedTime: time.Now(),
		Status:      jobModel.JobStatusQueued,
	}
}

func NewSweepJob(traceId string) jobModel.Job {
	return jobModel.Job{
		Id:          utils.GetNewUUID(),
		Op:          jobModel.OpSweep,
		TraceId:     traceId,
		CreatedTime: time.Now(),
		Status:      jobModel.JobStatusQueued,
	}
}

// Enqueue persists the job as QUEUED and hands it to the channel. The state
// write happens first so a crash between the two redelivers instead of
// losing the job.
func (s *Service) Enqueue(ctx context.Context, job jobModel.Job) error {
	job.Status = jobModel.JobStatusQueued
	if err := s.JobStore.SaveJob(ctx, job); err != nil {
		return err
	}

	select {
	case s.JobChannel <- job:
	default:
		return ErrQueueFull
	}

	metrics.IncrementJobsInQueue()
	select {
	case s.DispatcherChannel <- true:
	default:
	}
	return nil
}

// RedeliverUnfinished puts every job the store reports as redeliverable -
// queued, running, or parked waiting for a retry timer that died with the
// process - back on the channel. Called once at startup; the per-document
// locks make a duplicate delivery harmless.
func (s *Service) RedeliverUnfinished(ctx context.Context) (int, error) {
	jobs, err := s.JobStore.ListUnfinished(ctx)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, j := range jobs {
		if err := s.Enqueue(ctx, j); err != nil {
			if errors.Is(err, ErrQueueFull) {
				//whatever did not fit stays queued in the store
				return delivered, nil
			}
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

// TryAcquireDoc claims the document for one job. Returns false when another
// job is already working on it.
func (s *Service) TryAcquireDoc(docId string) bool {
	if docId == "" {
		return true //sweeps and kb purges are not document-scoped
	}
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if s.docLocks[docId] {
		return false
	}
	s.docLocks[docId] = true
	return true
}

func (s *Service) ReleaseDoc(docId string) {
	if docId == "" {
		return
	}
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	delete(s.docLocks, docId)
}
