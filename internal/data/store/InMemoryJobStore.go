package store

import (
	"context"
	"sync"

	"github.com/akolanti/kbAPI/internal/domain/jobModel"
	"github.com/akolanti/kbAPI/pkg/logger_i"
)

var inMemLogger = logger_i.NewLogger("InMem JobStore")

type InMemoryJobStore struct {
	jobMutex *sync.RWMutex
	jobMap   map[string]jobModel.Job
	dead     []jobModel.Job
}

func InitInMemoryJobStore() *InMemoryJobStore {
	return &InMemoryJobStore{
		jobMutex: new(sync.RWMutex),
		jobMap:   make(map[string]jobModel.Job),
	}
}

func (store *InMemoryJobStore) SaveJob(ctx context.Context, jobToStore jobModel.Job) error {
	store.jobMutex.Lock()
	defer store.jobMutex.Unlock()
	store.jobMap[jobToStore.Id] = jobToStore
	if jobToStore.Status == jobModel.JobStatusDead {
		store.dead = append(store.dead, jobToStore)
	}
	inMemLogger.Debug(jobToStore.Id, " : Saved job to store")
	return nil
}

func (store *InMemoryJobStore) GetJob(ctx context.Context, jobId string) (jobModel.Job, bool) {
	store.jobMutex.RLock()
	defer store.jobMutex.RUnlock()
	result, found := store.jobMap[jobId]
	return result, found
}

func (store *InMemoryJobStore) DeleteJob(ctx context.Context, jobID string) {
	store.jobMutex.Lock()
	defer store.jobMutex.Unlock()
	delete(store.jobMap, jobID)
}

func (store *InMemoryJobStore) ListUnfinished(ctx context.Context) ([]jobModel.Job, error) {
	store.jobMutex.RLock()
	defer store.jobMutex.RUnlock()
	var unfinished []jobModel.Job
	for _, job := range store.jobMap {
		if job.Redeliverable() {
			unfinished = append(unfinished, job)
		}
	}
	return unfinished, nil
}

func (store *InMemoryJobStore) DeadLetters(ctx context.Context) ([]jobModel.Job, error) {
	store.jobMutex.RLock()
	defer store.jobMutex.RUnlock()
	out := make([]jobModel.Job, len(store.dead))
	copy(out, store.dead)
	return out, nil
}
