package store

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/akolanti/kbAPI/internal/config"
	"github.com/akolanti/kbAPI/internal/data/redisStore"
	"github.com/akolanti/kbAPI/internal/domain/jobModel"
	"github.com/akolanti/kbAPI/pkg/logger_i"
)

const jobKeyPrefix = "job:"
const deadLetterKey = "deadletter"

type RedisJobStore struct {
	store  *redisStore.Store
	logger *logger_i.Logger
}

func GetRedisJobStore(ctx context.Context) *RedisJobStore {
	inner := redisStore.GetRedisStore(ctx, config.RedisJobStore)
	if inner == nil {
		return nil
	}
	return &RedisJobStore{
		store:  inner,
		logger: logger_i.NewLogger("JobStore"),
	}
}

func (s *RedisJobStore) SaveJob(ctx context.Context, job jobModel.Job) error {
	log := s.logger.With("traceId", ctx.Value(config.TRACE_ID_KEY), "job Id", job.Id)
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	err = s.store.Set(ctx, jobKeyPrefix+job.Id, data, config.RedisJobStoreTTL)
	if err == nil {
		log.Debug("Saved job to Redis")
	}

	// dead jobs also land on an append-only log for operators
	if job.Status == jobModel.JobStatusDead {
		if dlErr := s.store.ListPush(ctx, deadLetterKey, data); dlErr != nil {
			log.Error("Failed to append to dead-letter log", "error", dlErr)
		}
	}
	return err
}

func (s *RedisJobStore) GetJob(ctx context.Context, jobId string) (jobModel.Job, bool) {
	var job jobModel.Job
	val, err := s.store.Get(ctx, jobKeyPrefix+jobId)
	if s.store.IsNil(err) {
		return job, false
	} else if err != nil {
		return job, false
	}

	if err = json.Unmarshal([]byte(val), &job); err != nil {
		return job, false
	}
	return job, true
}

func (s *RedisJobStore) DeleteJob(ctx context.Context, jobID string) {
	err := s.store.Del(ctx, jobKeyPrefix+jobID)
	if err != nil {
		s.logger.Error("Error deleting job from Redis", "jobId", jobID)
		return
	}
	s.logger.Debug("Job deleted from Redis", "jobId:", jobID)
}

func (s *RedisJobStore) ListUnfinished(ctx context.Context) ([]jobModel.Job, error) {
	keys, err := s.store.ScanKeys(ctx, jobKeyPrefix+"*")
	if err != nil {
		return nil, err
	}

	var unfinished []jobModel.Job
	for _, key := range keys {
		val, err := s.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var job jobModel.Job
		if err := json.Unmarshal([]byte(val), &job); err != nil {
			s.logger.Error("Corrupt job record", "key", key)
			continue
		}
		if job.Redeliverable() {
			unfinished = append(unfinished, job)
		}
	}
	s.logger.Info("Scanned for unfinished jobs", "found", len(unfinished), "scanned", len(keys))
	return unfinished, nil
}

func (s *RedisJobStore) DeadLetters(ctx context.Context) ([]jobModel.Job, error) {
	raw, err := s.store.ListGetAll(ctx, deadLetterKey)
	if err != nil {
		return nil, err
	}
	jobs := make([]jobModel.Job, 0, len(raw))
	for _, item := range raw {
		var job jobModel.Job
		if err := json.Unmarshal([]byte(strings.TrimSpace(item)), &job); err == nil {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

func TestJobStore(store *redisStore.Store) *RedisJobStore {
	return &RedisJobStore{
		store:  store,
		logger: logger_i.NewLogger("test redis"),
	}
}
