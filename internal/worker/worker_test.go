package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/akolanti/kbAPI/internal/data/store"
	"github.com/akolanti/kbAPI/internal/domain/jobModel"
	"github.com/akolanti/kbAPI/internal/domain/kbModel"
	"github.com/akolanti/kbAPI/internal/job"
	"github.com/akolanti/kbAPI/pkg/logger_i"
)

type mockExecutor struct {
	indexFunc func(ctx context.Context, docId string) error
	indexed   int32
	deleted   int32
	purged    int32
}

func (m *mockExecutor) IndexDocument(ctx context.Context, docId string) error {
	atomic.AddInt32(&m.indexed, 1)
	if m.indexFunc != nil {
		return m.indexFunc(ctx, docId)
	}
	return nil
}

func (m *mockExecutor) DeleteDocument(ctx context.Context, docId string) error {
	atomic.AddInt32(&m.deleted, 1)
	return nil
}

func (m *mockExecutor) PurgeKnowledgeBase(ctx context.Context, kbId string) error {
	atomic.AddInt32(&m.purged, 1)
	return nil
}

type mockReconciler struct {
	confirmed int32
	swept     int32
}

func (m *mockReconciler) ConfirmDocument(ctx context.Context, docId string) error {
	atomic.AddInt32(&m.confirmed, 1)
	return nil
}

func (m *mockReconciler) SweepAll(ctx context.Context) error {
	atomic.AddInt32(&m.swept, 1)
	return nil
}

func setup(t *testing.T) (*job.Service, *mockExecutor, *mockReconciler) {
	t.Helper()
	jobSvc := job.InitJobService(job.ServiceConfig{
		JobChannel:        make(chan jobModel.Job, 100),
		DispatcherChannel: make(chan bool, 100),
		JobStore:          store.InitInMemoryJobStore(),
	})
	exec := &mockExecutor{}
	recon := &mockReconciler{}
	InitServices(jobSvc, exec, recon)
	logger = logger_i.NewLogger("worker test")
	return jobSvc, exec, recon
}

func runScheduledInline(t *testing.T) *[]time.Duration {
	t.Helper()
	var delays []time.Duration
	prev := scheduleLater
	scheduleLater = func(delay time.Duration, fn func()) {
		delays = append(delays, delay)
		//run inline, no timers in tests
		fn()
	}
	t.Cleanup(func() { scheduleLater = prev })
	return &delays
}

func TestExecuteJobIndexConfirms(t *testing.T) {
	_, exec, recon := setup(t)

	executeJob(job.NewIndexJob("d1", "kb1", "t1", "trace"))

	if exec.indexed != 1 {
		t.Errorf("indexed %d times; want 1", exec.indexed)
	}
	if recon.confirmed != 1 {
		t.Errorf("confirmed %d times; want 1", recon.confirmed)
	}
}

func TestExecuteJobRetriesWithBackoff(t *testing.T) {
	jobSvc, exec, _ := setup(t)
	delays := runScheduledInline(t)

	exec.indexFunc = func(ctx context.Context, docId string) error {
		return fmt.Errorf("qdrant down: %w", kbModel.ErrTransientIO)
	}

	j := job.NewIndexJob("d1", "kb1", "t1", "trace")
	executeJob(j)

	// inline scheduling re-enqueued the retries onto the channel; drain and
	// run them like a worker would
	for i := 0; i < 10; i++ {
		select {
		case next := <-jobSvc.JobChannel:
			executeJob(next)
		default:
			i = 10
		}
	}

	// attempts 1..4 get scheduled, the 5th run dead-letters
	if len(*delays) != 4 {
		t.Fatalf("scheduled %d retries; want 4 (delays %v)", len(*delays), *delays)
	}
	for i := 1; i < len(*delays); i++ {
		if (*delays)[i] < (*delays)[i-1] {
			t.Errorf("backoff not monotonic: %v", *delays)
		}
	}

	dead, err := jobSvc.JobStore.(*store.InMemoryJobStore).DeadLetters(context.Background())
	if err != nil {
		t.Fatalf("DeadLetters: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("dead letters = %d; want 1", len(dead))
	}
	if dead[0].Id != j.Id {
		t.Errorf("dead job id = %s; want %s", dead[0].Id, j.Id)
	}
	if exec.indexed != 5 {
		t.Errorf("executed %d attempts; want the full ceiling of 5", exec.indexed)
	}
}

func TestRetryWaitingJobSurvivesRestart(t *testing.T) {
	jobSvc, exec, _ := setup(t)

	// a backoff timer that never fires stands in for a process crash during
	// the retry window
	prev := scheduleLater
	scheduleLater = func(delay time.Duration, fn func()) {}
	t.Cleanup(func() { scheduleLater = prev })

	exec.indexFunc = func(ctx context.Context, docId string) error {
		return fmt.Errorf("embed call: %w", kbModel.ErrTransientIO)
	}

	j := job.NewIndexJob("d1", "kb1", "t1", "trace")
	executeJob(j)

	saved, ok := jobSvc.JobStore.GetJob(context.Background(), j.Id)
	if !ok || saved.Status != jobModel.JobStatusError || !saved.Error.Retry {
		t.Fatalf("job not parked as retryable: %+v", saved)
	}

	// a fresh service over the same store is the restarted process
	restarted := job.InitJobService(job.ServiceConfig{
		JobChannel:        make(chan jobModel.Job, 10),
		DispatcherChannel: make(chan bool, 10),
		JobStore:          jobSvc.JobStore,
	})
	redelivered, err := restarted.RedeliverUnfinished(context.Background())
	if err != nil {
		t.Fatalf("RedeliverUnfinished: %v", err)
	}
	if redelivered != 1 {
		t.Fatalf("redelivered %d jobs; want 1", redelivered)
	}
	next := <-restarted.JobChannel
	if next.Id != j.Id {
		t.Errorf("redelivered job %s; want %s", next.Id, j.Id)
	}
	if next.Attempt != 1 {
		t.Errorf("redelivered attempt = %d; the retry budget must carry over", next.Attempt)
	}
}

func TestExecuteJobPermanentErrorDeadLettersImmediately(t *testing.T) {
	jobSvc, exec, _ := setup(t)
	delays := runScheduledInline(t)

	exec.indexFunc = func(ctx context.Context, docId string) error {
		return fmt.Errorf("bad file: %w", kbModel.ErrUnsupportedFormat)
	}

	executeJob(job.NewIndexJob("d1", "kb1", "t1", "trace"))

	if len(*delays) != 0 {
		t.Errorf("permanent error scheduled %d retries", len(*delays))
	}
	dead, _ := jobSvc.JobStore.(*store.InMemoryJobStore).DeadLetters(context.Background())
	if len(dead) != 1 {
		t.Fatalf("dead letters = %d; want 1", len(dead))
	}
	if exec.indexed != 1 {
		t.Errorf("executed %d times; want 1", exec.indexed)
	}
}

func TestExecuteJobCancellationCompletes(t *testing.T) {
	jobSvc, exec, _ := setup(t)
	delays := runScheduledInline(t)

	exec.indexFunc = func(ctx context.Context, docId string) error {
		return kbModel.ErrCancelled
	}

	j := job.NewIndexJob("d1", "kb1", "t1", "trace")
	executeJob(j)

	if len(*delays) != 0 {
		t.Errorf("cancelled job scheduled retries")
	}
	saved, ok := jobSvc.JobStore.GetJob(context.Background(), j.Id)
	if !ok || saved.Status != jobModel.JobStatusComplete {
		t.Errorf("job status = %v; cancellation should complete the job", saved.Status)
	}
}

func TestFinishJobReportsTerminalStatus(t *testing.T) {
	setup(t)
	runScheduledInline(t)
	ctx := context.Background()

	j := job.NewIndexJob("d1", "kb1", "t1", "trace")
	if got := finishJob(ctx, j, nil); got != jobModel.JobStatusComplete {
		t.Errorf("success reported %s; want COMPLETE", got)
	}
	if got := finishJob(ctx, j, fmt.Errorf("embed: %w", kbModel.ErrTransientIO)); got != jobModel.JobStatusError {
		t.Errorf("transient failure reported %s; want ERROR", got)
	}
	if got := finishJob(ctx, j, kbModel.ErrUnsupportedFormat); got != jobModel.JobStatusDead {
		t.Errorf("permanent failure reported %s; want DEAD", got)
	}
}

func TestPerDocumentLockExcludes(t *testing.T) {
	jobSvc, exec, _ := setup(t)
	delays := runScheduledInline(t)

	// hold the lock as if another worker were mid-ingest
	if !jobSvc.TryAcquireDoc("d1") {
		t.Fatal("fresh lock not acquirable")
	}

	prev := scheduleLater
	scheduleLater = func(delay time.Duration, fn func()) {
		*delays = append(*delays, delay)
		//do NOT run: the doc is still locked, running would spin
	}
	defer func() { scheduleLater = prev }()

	executeJob(job.NewIndexJob("d1", "kb1", "t1", "trace"))

	if exec.indexed != 0 {
		t.Error("locked document was executed anyway")
	}
	if len(*delays) != 1 {
		t.Fatalf("blocked job scheduled %d requeues; want 1", len(*delays))
	}

	// once released, the same job runs fine
	jobSvc.ReleaseDoc("d1")
	executeJob(job.NewIndexJob("d1", "kb1", "t1", "trace"))
	if exec.indexed != 1 {
		t.Errorf("indexed %d times after release; want 1", exec.indexed)
	}
}

func TestWorkerPoolFlow(t *testing.T) {
	jobSvc, exec, recon := setup(t)

	stopChan := make(chan bool)
	wg := &sync.WaitGroup{}
	InitWorkerPool(stopChan, wg)
	defer close(stopChan)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		j := job.NewIndexJob(fmt.Sprintf("doc-%d", i), "kb1", "t1", "trace")
		if err := jobSvc.Enqueue(ctx, j); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if err := jobSvc.Enqueue(ctx, job.NewSweepJob("trace")); err != nil {
		t.Fatalf("Enqueue sweep: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for atomic.LoadInt32(&exec.indexed) < 5 || atomic.LoadInt32(&recon.swept) < 1 {
		select {
		case <-deadline:
			t.Fatalf("pool processed %d/5 index jobs, %d/1 sweeps",
				atomic.LoadInt32(&exec.indexed), atomic.LoadInt32(&recon.swept))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRetryDelayCurve(t *testing.T) {
	if retryDelay(1) >= retryDelay(2) {
		t.Error("delay not growing")
	}
	if retryDelay(60) > 5*time.Minute {
		t.Errorf("delay %v exceeds cap", retryDelay(60))
	}
	if retryDelay(3) != retryDelay(2)*2 {
		t.Errorf("delay not doubling: %v vs %v", retryDelay(3), retryDelay(2))
	}
}
