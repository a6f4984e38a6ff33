package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/raines/forensiq/internal/domain"
	"github.com/raines/forensiq/internal/repository"
)

// fakeLedger is an in-memory Ledger capturing calls for assertions.
type fakeLedger struct {
	mu       sync.Mutex
	rows     map[string]*domain.ProcessingTask // by job ID
	deferred map[string]bool
	synced   map[string]domain.JobView // last synced view by job ID
	failSync bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		rows:     map[string]*domain.ProcessingTask{},
		deferred: map[string]bool{},
		synced:   map[string]domain.JobView{},
	}
}

func (f *fakeLedger) Create(ctx context.Context, huntID, datasetID, jobID, stage string) (*domain.ProcessingTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task := &domain.ProcessingTask{
		ID:        "task-" + jobID,
		HuntID:    huntID,
		DatasetID: datasetID,
		JobID:     jobID,
		Stage:     stage,
		Status:    string(domain.JobStatusQueued),
	}
	f.rows[jobID] = task
	return task, nil
}

func (f *fakeLedger) ExistsByJobID(ctx context.Context, jobID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[jobID]
	return ok, nil
}

func (f *fakeLedger) SyncJob(ctx context.Context, view domain.JobView) repository.SyncResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSync {
		return repository.SyncResult{JobID: view.ID, Err: errors.New("ledger unavailable")}
	}
	f.synced[view.ID] = view
	if row := f.rows[view.ID]; row != nil {
		row.Status = string(view.Status)
		row.Progress = view.Progress
	}
	return repository.SyncResult{JobID: view.ID}
}

func (f *fakeLedger) MarkDeferred(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deferred[jobID] = true
	return nil
}

func (f *fakeLedger) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeLedger) syncedStatus(jobID string) (domain.JobStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	view, ok := f.synced[jobID]
	return view.Status, ok
}

// waitTerminal polls until the job reaches a terminal state.
func waitTerminal(t *testing.T, q *Queue, jobID string) domain.JobView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		view, ok := q.Get(jobID)
		if ok && view.Status.Terminal() {
			return view
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", jobID)
	return domain.JobView{}
}

func newTestQueue(t *testing.T, cfg Config, ledger Ledger, handlers map[domain.JobType]Handler, chains map[domain.JobType][]domain.JobType) *Queue {
	t.Helper()
	q, err := New(cfg, ledger, nil, handlers, chains)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	return q
}

// TestNewValidation covers construction-time handler and chain validation.
func TestNewValidation(t *testing.T) {
	noop := func(ctx context.Context, job *domain.Job) (interface{}, error) { return nil, nil }

	tests := []struct {
		name     string
		cfg      Config
		handlers map[domain.JobType]Handler
		chains   map[domain.JobType][]domain.JobType
		wantErr  bool
	}{
		{
			name:     "valid",
			cfg:      Config{Workers: 1},
			handlers: map[domain.JobType]Handler{domain.JobTypeTriage: noop},
		},
		{
			name:    "zero workers",
			cfg:     Config{Workers: 0},
			wantErr: true,
		},
		{
			name:    "negative backlog",
			cfg:     Config{Workers: 1, MaxBacklog: -1},
			wantErr: true,
		},
		{
			name:     "unknown handler type",
			cfg:      Config{Workers: 1},
			handlers: map[domain.JobType]Handler{domain.JobType("bogus"): noop},
			wantErr:  true,
		},
		{
			name:     "nil handler",
			cfg:      Config{Workers: 1},
			handlers: map[domain.JobType]Handler{domain.JobTypeTriage: nil},
			wantErr:  true,
		},
		{
			name:     "chain target without handler",
			cfg:      Config{Workers: 1},
			handlers: map[domain.JobType]Handler{domain.JobTypeTriage: noop},
			chains:   map[domain.JobType][]domain.JobType{domain.JobTypeTriage: {domain.JobTypeHostProfile}},
			wantErr:  true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.cfg, nil, nil, tc.handlers, tc.chains)
			if (err != nil) != tc.wantErr {
				t.Errorf("New: err=%v, wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

// TestSubmitStageCreatesLedgerRow verifies every submitted stage gets a
// ledger row before execution, and completion is synced back.
func TestSubmitStageCreatesLedgerRow(t *testing.T) {
	ledger := newFakeLedger()
	done := make(chan struct{}, 8)
	handler := func(ctx context.Context, job *domain.Job) (interface{}, error) {
		done <- struct{}{}
		return "ok", nil
	}
	q := newTestQueue(t, Config{Workers: 2, MaxBacklog: 8}, ledger,
		map[domain.JobType]Handler{domain.JobTypeTriage: handler}, nil)

	ctx := context.Background()
	q.Start(ctx)
	defer q.Shutdown(context.Background())

	var jobIDs []string
	for i := 0; i < 3; i++ {
		job, err := q.SubmitStage(ctx, domain.JobTypeTriage, "h1", fmt.Sprintf("d%d", i))
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		jobIDs = append(jobIDs, job.ID)
	}

	if got := ledger.rowCount(); got != 3 {
		t.Errorf("ledger rows: got %d, want 3", got)
	}

	for _, jobID := range jobIDs {
		view := waitTerminal(t, q, jobID)
		if view.Status != domain.JobStatusCompleted {
			t.Errorf("job %s: got %s, want completed", jobID, view.Status)
		}
		if status, ok := ledger.syncedStatus(jobID); !ok || status != domain.JobStatusCompleted {
			t.Errorf("job %s ledger sync: got %s (ok=%v), want completed", jobID, status, ok)
		}
	}
}

// TestBackpressure verifies MaxBacklog 0 rejects every submission and marks
// the stage's ledger row deferred instead of dropping it.
func TestBackpressure(t *testing.T) {
	ledger := newFakeLedger()
	noop := func(ctx context.Context, job *domain.Job) (interface{}, error) { return nil, nil }
	q := newTestQueue(t, Config{Workers: 1, MaxBacklog: 0}, ledger,
		map[domain.JobType]Handler{domain.JobTypeTriage: noop}, nil)

	job, err := q.SubmitStage(context.Background(), domain.JobTypeTriage, "h1", "d1")
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("submit with zero backlog: got %v, want ErrQueueFull", err)
	}
	if job == nil {
		t.Fatalf("deferred submission must still return the job")
	}
	if ledger.rowCount() != 1 {
		t.Errorf("ledger rows: got %d, want 1", ledger.rowCount())
	}
	ledger.mu.Lock()
	deferred := ledger.deferred[job.ID]
	ledger.mu.Unlock()
	if !deferred {
		t.Errorf("rejected stage was not marked deferred")
	}

	// The deferred job ID handed back to the caller must stay resolvable.
	view, ok := q.Get(job.ID)
	if !ok {
		t.Fatalf("deferred job not resolvable by ID")
	}
	if view.Status != domain.JobStatusQueued {
		t.Errorf("deferred job status: got %s, want queued", view.Status)
	}
	if view.Message != "Deferred: queue full" {
		t.Errorf("deferred job message: got %q, want %q", view.Message, "Deferred: queue full")
	}
}

// TestHandlerFailureDoesNotKillWorker verifies a failing handler marks its
// job failed and the worker keeps serving the backlog.
func TestHandlerFailureDoesNotKillWorker(t *testing.T) {
	handlers := map[domain.JobType]Handler{
		domain.JobTypeTriage: func(ctx context.Context, job *domain.Job) (interface{}, error) {
			if job.Param(domain.ParamDatasetID) == "bad" {
				return nil, errors.New("corrupt dataset")
			}
			return "ok", nil
		},
	}
	q := newTestQueue(t, Config{Workers: 1, MaxBacklog: 8}, newFakeLedger(), handlers, nil)

	ctx := context.Background()
	q.Start(ctx)
	defer q.Shutdown(context.Background())

	bad, err := q.SubmitStage(ctx, domain.JobTypeTriage, "h1", "bad")
	if err != nil {
		t.Fatalf("submit bad: %v", err)
	}
	good, err := q.SubmitStage(ctx, domain.JobTypeTriage, "h1", "good")
	if err != nil {
		t.Fatalf("submit good: %v", err)
	}

	badView := waitTerminal(t, q, bad.ID)
	if badView.Status != domain.JobStatusFailed {
		t.Errorf("bad job: got %s, want failed", badView.Status)
	}
	if badView.Error == "" {
		t.Errorf("failed job should carry the handler error")
	}

	goodView := waitTerminal(t, q, good.ID)
	if goodView.Status != domain.JobStatusCompleted {
		t.Errorf("good job after failure: got %s, want completed", goodView.Status)
	}
}

// TestHandlerPanicIsolated verifies a panicking handler fails its job
// without killing the worker.
func TestHandlerPanicIsolated(t *testing.T) {
	handlers := map[domain.JobType]Handler{
		domain.JobTypeTriage: func(ctx context.Context, job *domain.Job) (interface{}, error) {
			panic("boom")
		},
	}
	q := newTestQueue(t, Config{Workers: 1, MaxBacklog: 8}, newFakeLedger(), handlers, nil)

	ctx := context.Background()
	q.Start(ctx)
	defer q.Shutdown(context.Background())

	job, err := q.SubmitStage(ctx, domain.JobTypeTriage, "h1", "d1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	view := waitTerminal(t, q, job.ID)
	if view.Status != domain.JobStatusFailed {
		t.Errorf("panicked job: got %s, want failed", view.Status)
	}
}

// TestChaining verifies a completed triage submits the chained host-profile
// stage with the same hunt scope, and the chained job gets its own ledger row.
func TestChaining(t *testing.T) {
	ledger := newFakeLedger()
	var profiled sync.WaitGroup
	profiled.Add(1)

	handlers := map[domain.JobType]Handler{
		domain.JobTypeTriage: func(ctx context.Context, job *domain.Job) (interface{}, error) {
			return "triaged", nil
		},
		domain.JobTypeHostProfile: func(ctx context.Context, job *domain.Job) (interface{}, error) {
			profiled.Done()
			return "profiled", nil
		},
	}
	chains := map[domain.JobType][]domain.JobType{
		domain.JobTypeTriage: {domain.JobTypeHostProfile},
	}
	q := newTestQueue(t, Config{Workers: 1, MaxBacklog: 8}, ledger, handlers, chains)

	ctx := context.Background()
	q.Start(ctx)
	defer q.Shutdown(context.Background())

	job, err := q.SubmitStage(ctx, domain.JobTypeTriage, "h1", "d1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitTerminal(t, q, job.ID)

	waitDone := make(chan struct{})
	go func() {
		profiled.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("chained host_profile never ran")
	}

	views := q.JobsForHunt("h1", []string{"d1"})
	var chained *domain.JobView
	for i := range views {
		if views[i].Type == domain.JobTypeHostProfile {
			chained = &views[i]
		}
	}
	if chained == nil {
		t.Fatalf("chained job not found in hunt view")
	}
	if chained.Params[domain.ParamHuntID] != "h1" || chained.Params[domain.ParamDatasetID] != "d1" {
		t.Errorf("chained params: got %v", chained.Params)
	}
	if ledger.rowCount() != 2 {
		t.Errorf("ledger rows after chain: got %d, want 2", ledger.rowCount())
	}
}

// TestFailedJobDoesNotChain verifies chaining only happens on success.
func TestFailedJobDoesNotChain(t *testing.T) {
	ledger := newFakeLedger()
	handlers := map[domain.JobType]Handler{
		domain.JobTypeTriage: func(ctx context.Context, job *domain.Job) (interface{}, error) {
			return nil, errors.New("nope")
		},
		domain.JobTypeHostProfile: func(ctx context.Context, job *domain.Job) (interface{}, error) {
			t.Errorf("chained stage ran after failure")
			return nil, nil
		},
	}
	chains := map[domain.JobType][]domain.JobType{
		domain.JobTypeTriage: {domain.JobTypeHostProfile},
	}
	q := newTestQueue(t, Config{Workers: 1, MaxBacklog: 8}, ledger, handlers, chains)

	ctx := context.Background()
	q.Start(ctx)
	defer q.Shutdown(context.Background())

	job, err := q.SubmitStage(ctx, domain.JobTypeTriage, "h1", "d1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitTerminal(t, q, job.ID)

	// Give a would-be chained submission time to appear.
	time.Sleep(50 * time.Millisecond)
	if ledger.rowCount() != 1 {
		t.Errorf("ledger rows: got %d, want 1", ledger.rowCount())
	}
}

// TestCancelBeforeRun verifies a job cancelled while queued terminates
// without invoking its handler.
func TestCancelBeforeRun(t *testing.T) {
	release := make(chan struct{})
	ran := make(chan string, 8)
	handlers := map[domain.JobType]Handler{
		domain.JobTypeTriage: func(ctx context.Context, job *domain.Job) (interface{}, error) {
			ran <- job.ID
			<-release
			return nil, nil
		},
	}
	q := newTestQueue(t, Config{Workers: 1, MaxBacklog: 8}, newFakeLedger(), handlers, nil)

	ctx := context.Background()
	q.Start(ctx)
	defer func() {
		close(release)
		q.Shutdown(context.Background())
	}()

	// Occupy the single worker.
	blocker, err := q.SubmitStage(ctx, domain.JobTypeTriage, "h1", "d0")
	if err != nil {
		t.Fatalf("submit blocker: %v", err)
	}
	<-ran

	victim, err := q.SubmitStage(ctx, domain.JobTypeTriage, "h1", "d1")
	if err != nil {
		t.Fatalf("submit victim: %v", err)
	}
	if err := q.Cancel(victim.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	release <- struct{}{}
	view := waitTerminal(t, q, victim.ID)
	if view.Status != domain.JobStatusCancelled {
		t.Errorf("victim status: got %s, want cancelled", view.Status)
	}
	select {
	case id := <-ran:
		if id == victim.ID {
			t.Errorf("cancelled job's handler ran")
		}
	default:
	}
	_ = blocker
}

// TestLedgerSyncFailureIsAdvisory verifies ledger write failures never fail
// the job.
func TestLedgerSyncFailureIsAdvisory(t *testing.T) {
	ledger := newFakeLedger()
	ledger.failSync = true
	handlers := map[domain.JobType]Handler{
		domain.JobTypeTriage: func(ctx context.Context, job *domain.Job) (interface{}, error) {
			return "ok", nil
		},
	}
	q := newTestQueue(t, Config{Workers: 1, MaxBacklog: 8}, ledger, handlers, nil)

	ctx := context.Background()
	q.Start(ctx)
	defer q.Shutdown(context.Background())

	job, err := q.SubmitStage(ctx, domain.JobTypeTriage, "h1", "d1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	view := waitTerminal(t, q, job.ID)
	if view.Status != domain.JobStatusCompleted {
		t.Errorf("job with failing ledger: got %s, want completed", view.Status)
	}
}

// TestListJobsNewestFirst verifies listing order and the limit parameter.
func TestListJobsNewestFirst(t *testing.T) {
	noop := func(ctx context.Context, job *domain.Job) (interface{}, error) { return nil, nil }
	q := newTestQueue(t, Config{Workers: 1, MaxBacklog: 8}, newFakeLedger(),
		map[domain.JobType]Handler{domain.JobTypeTriage: noop}, nil)

	// Not started: jobs stay queued, creation order is the only ordering input.
	var last string
	for i := 0; i < 3; i++ {
		job, err := q.Submit(domain.JobTypeTriage, map[string]string{"n": fmt.Sprint(i)})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		last = job.ID
		time.Sleep(2 * time.Millisecond)
	}

	views := q.ListJobs(0)
	if len(views) != 3 {
		t.Fatalf("list: got %d jobs, want 3", len(views))
	}
	if views[0].ID != last {
		t.Errorf("newest first: got %s, want %s", views[0].ID, last)
	}

	limited := q.ListJobs(2)
	if len(limited) != 2 {
		t.Errorf("limit: got %d jobs, want 2", len(limited))
	}
}

// TestObserverReceivesTerminalSnapshots verifies the observer fires once per
// terminal job.
func TestObserverReceivesTerminalSnapshots(t *testing.T) {
	noop := func(ctx context.Context, job *domain.Job) (interface{}, error) { return "ok", nil }
	q := newTestQueue(t, Config{Workers: 1, MaxBacklog: 8}, newFakeLedger(),
		map[domain.JobType]Handler{domain.JobTypeTriage: noop}, nil)

	terminal := make(chan domain.JobView, 8)
	q.SetObserver(func(view domain.JobView) { terminal <- view })

	ctx := context.Background()
	q.Start(ctx)
	defer q.Shutdown(context.Background())

	job, err := q.SubmitStage(ctx, domain.JobTypeTriage, "h1", "d1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case view := <-terminal:
		if view.ID != job.ID || view.Status != domain.JobStatusCompleted {
			t.Errorf("observer view: got %s/%s", view.ID, view.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("observer never fired")
	}
}
