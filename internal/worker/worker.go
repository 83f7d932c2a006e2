package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/akolanti/kbAPI/internal/adapter/utils"
	"github.com/akolanti/kbAPI/internal/config"
	"github.com/akolanti/kbAPI/internal/job"
	"github.com/akolanti/kbAPI/internal/metrics"
	"github.com/akolanti/kbAPI/pkg/logger_i"
)

// Executor is what a worker can do to a document. The ingestion pipeline
// satisfies it; workers never see the stores underneath.
type Executor interface {
	IndexDocument(ctx context.Context, docId string) error
	DeleteDocument(ctx context.Context, docId string) error
	PurgeKnowledgeBase(ctx context.Context, kbId string) error
}

// Reconciler is the consistency side: post-ingest confirmation and the
// periodic sweep.
type Reconciler interface {
	ConfirmDocument(ctx context.Context, docId string) error
	SweepAll(ctx context.Context) error
}

var (
	_jobService        *job.Service
	_pipeline          Executor
	_reconciler        Reconciler
	stopWorkerChannel  chan bool
	workerWaitGroup    *sync.WaitGroup
	dispatcherChannel  chan bool
	currentWorkerCount int64
	logger             *logger_i.Logger
)

func InitServices(jobService *job.Service, pipeline Executor, reconciler Reconciler) {
	_jobService = jobService
	_pipeline = pipeline
	_reconciler = reconciler
	dispatcherChannel = jobService.DispatcherChannel
}

func InitWorkerPool(stopWorkerChan chan bool, waitGroup *sync.WaitGroup) {
	stopWorkerChannel = stopWorkerChan
	workerWaitGroup = waitGroup
	logger = logger_i.NewLogger("WorkerPool")
	logger.Info("Initializing worker pool")
	go dispatcher()
}

func dispatcher() {
	createWorker()
	logger.Info("Dispatcher started")
	for range dispatcherChannel {
		metrics.StartDispatcherSignalCount()
		if atomic.LoadInt64(&currentWorkerCount) < config.MaxWorkerCount {
			logger.Info("Creating new worker", "WorkerCount :", currentWorkerCount)
			createWorker()
		}
	}
}

func createWorker() {
	workerWaitGroup.Add(1)
	go workerLoop()
	atomic.AddInt64(&currentWorkerCount, 1)
	metrics.IncrementActiveWorkerCount()
	logger.Info("Created new worker")
}

func workerLoop() {
	for {
		select {
		case currentJob := <-_jobService.JobChannel:
			executeJob(currentJob)
			metrics.DecrementJobsInQueue()

		case <-stopWorkerChannel:
			removeWorker("Stop worker signal received")
			return

		case <-time.After(config.IdleWorkerTimeout):
			// Worker was idle for too long, retire unless we are the floor
			if atomic.LoadInt64(&currentWorkerCount) > config.MinWorkerCount {
				removeWorker("Idle worker timeout - Removed worker")
				return
			}
		}
	}
}

func removeWorker(reason string) {
	workerWaitGroup.Done()
	atomic.AddInt64(&currentWorkerCount, -1)
	logger.Info("Removed worker ", "reason", reason, "workerCount", currentWorkerCount)
	metrics.DecrementActiveWorkerCount()
}

// StartSweepScheduler enqueues a sweep job on a fixed interval until the
// stop channel closes.
func StartSweepScheduler(stop chan bool) {
	go func() {
		ticker := time.NewTicker(config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sweep := job.NewSweepJob(utils.GetNewUUID())
				if err := _jobService.Enqueue(context.Background(), sweep); err != nil {
					logger.Error("Failed to enqueue sweep", "err", err)
				}
			case <-stop:
				return
			}
		}
	}()
}
