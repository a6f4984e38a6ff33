package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/raines/forensiq/internal/domain"
	"github.com/raines/forensiq/internal/logger"
	"github.com/raines/forensiq/internal/repository"
)

// ErrQueueFull signals backpressure: the backlog of not-yet-started jobs is
// at capacity and the caller should retry later. It is not a system fault.
var ErrQueueFull = errors.New("job queue backlog is full")

// Handler executes one job. A nil error marks the job completed with the
// returned result; a non-nil error marks it failed. Handlers running batch
// loops must check job.Cancelled() between batches.
type Handler func(ctx context.Context, job *domain.Job) (interface{}, error)

// Ledger is the advisory mirror the queue writes job lifecycle into.
// Implemented by repository.TaskRepository.
type Ledger interface {
	Create(ctx context.Context, huntID, datasetID, jobID, stage string) (*domain.ProcessingTask, error)
	ExistsByJobID(ctx context.Context, jobID string) (bool, error)
	SyncJob(ctx context.Context, view domain.JobView) repository.SyncResult
	MarkDeferred(ctx context.Context, jobID string) error
}

// Config bounds the queue: a fixed worker pool pulling from one bounded
// backlog.
type Config struct {
	Workers    int
	MaxBacklog int

	// ProgressFloor is the small non-zero progress set when a job starts
	// running, so observers can distinguish "about to run" from "stuck at 0".
	// Defaults to 5.
	ProgressFloor int
}

// Queue is the background job engine: a bounded FIFO backlog executed by a
// fixed pool of workers, with handlers bound per job type and a declarative
// chain table consulted on successful completion. Jobs live in memory and
// are mirrored into the ledger for observability and crash recovery.
type Queue struct {
	cfg      Config
	handlers map[domain.JobType]Handler
	chains   map[domain.JobType][]domain.JobType
	ledger   Ledger
	log      *logger.Logger

	// observer, when set, is called with every terminal job snapshot.
	observer func(domain.JobView)

	mu     sync.RWMutex
	jobs   map[string]*domain.Job
	order  []string
	queued int

	backlog chan *domain.Job
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New constructs a queue with its full handler registry and chain table.
// Every handler key and every chain source/target must be a known job type,
// and every chain target must have a registered handler; violations are
// construction errors, never runtime dispatch misses.
func New(cfg Config, ledger Ledger, log *logger.Logger, handlers map[domain.JobType]Handler, chains map[domain.JobType][]domain.JobType) (*Queue, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("queue: workers must be >= 1, got %d", cfg.Workers)
	}
	if cfg.MaxBacklog < 0 {
		return nil, fmt.Errorf("queue: max backlog must be >= 0, got %d", cfg.MaxBacklog)
	}
	if cfg.ProgressFloor <= 0 {
		cfg.ProgressFloor = 5
	}
	for jobType, handler := range handlers {
		if !jobType.Valid() {
			return nil, fmt.Errorf("queue: handler registered for unknown job type %q", jobType)
		}
		if handler == nil {
			return nil, fmt.Errorf("queue: nil handler for job type %q", jobType)
		}
	}
	for from, targets := range chains {
		if !from.Valid() {
			return nil, fmt.Errorf("queue: chain source is unknown job type %q", from)
		}
		if handlers[from] == nil {
			return nil, fmt.Errorf("queue: chain source %q has no handler", from)
		}
		for _, to := range targets {
			if !to.Valid() {
				return nil, fmt.Errorf("queue: chain target is unknown job type %q", to)
			}
			if handlers[to] == nil {
				return nil, fmt.Errorf("queue: chain target %q has no handler", to)
			}
		}
	}

	if log == nil {
		log = logger.GetDefault()
	}

	return &Queue{
		cfg:      cfg,
		handlers: handlers,
		chains:   chains,
		ledger:   ledger,
		log:      log,
		jobs:     map[string]*domain.Job{},
		// Headroom beyond the backlog bound: admission is controlled by the
		// queued counter, so sends never block.
		backlog: make(chan *domain.Job, cfg.MaxBacklog+cfg.Workers+1),
	}, nil
}

// SetObserver registers a callback invoked with every terminal job snapshot.
// Must be called before Start.
func (q *Queue) SetObserver(fn func(domain.JobView)) {
	q.observer = fn
}

// Start launches the worker pool.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	workerCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.mu.Unlock()

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(workerCtx, i)
	}

	q.log.WithFields(logger.Fields{
		"workers":     q.cfg.Workers,
		"max_backlog": q.cfg.MaxBacklog,
	}).Info("Job queue started")
}

// Shutdown stops the workers, waiting up to the context deadline for the
// in-flight jobs to finish.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	cancel := q.cancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit creates a queued job and enqueues it, rejecting with ErrQueueFull
// when the backlog is at capacity.
// Parameters:
//   - jobType: stage kind to dispatch; must have a registered handler.
//   - params: opaque parameters handed to the handler.
// Returns:
//   - *domain.Job: the queued job.
//   - error: ErrQueueFull on backpressure, or an unknown-type error.
func (q *Queue) Submit(jobType domain.JobType, params map[string]string) (*domain.Job, error) {
	if q.handlers[jobType] == nil {
		return nil, fmt.Errorf("queue: no handler registered for job type %q", jobType)
	}

	job := domain.NewJob(jobType, params)
	job.SetMessage("Queued")

	q.mu.Lock()
	if q.queued >= q.cfg.MaxBacklog {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %d jobs queued", ErrQueueFull, q.cfg.MaxBacklog)
	}
	q.queued++
	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	q.mu.Unlock()

	q.backlog <- job
	return job, nil
}

// SubmitStage submits one pipeline stage for a hunt/dataset pair, creating
// the mirroring ledger row before execution begins. The row creation is
// guarded by an existence check on job_id so a retried chain does not create
// duplicates. On backpressure the ledger row is kept and annotated as
// deferred so the stage is never silently dropped, and ErrQueueFull is
// returned with the job.
func (q *Queue) SubmitStage(ctx context.Context, jobType domain.JobType, huntID, datasetID string) (*domain.Job, error) {
	if q.handlers[jobType] == nil {
		return nil, fmt.Errorf("queue: no handler registered for job type %q", jobType)
	}

	job := domain.NewJob(jobType, map[string]string{
		domain.ParamHuntID:    huntID,
		domain.ParamDatasetID: datasetID,
	})
	job.SetMessage("Queued")

	if q.ledger != nil {
		exists, err := q.ledger.ExistsByJobID(ctx, job.ID)
		if err != nil {
			q.log.WithError(err).WithField(logger.FieldJobID, job.ID).Warn("Ledger existence check failed")
		}
		if !exists {
			if _, err := q.ledger.Create(ctx, huntID, datasetID, job.ID, string(jobType)); err != nil {
				return nil, fmt.Errorf("queue: create ledger row: %w", err)
			}
		}
	}

	q.mu.Lock()
	if q.queued >= q.cfg.MaxBacklog {
		// The deferred job is registered but never enqueued, so its ID stays
		// resolvable for callers that surface it.
		job.SetMessage("Deferred: queue full")
		q.jobs[job.ID] = job
		q.order = append(q.order, job.ID)
		q.mu.Unlock()
		if q.ledger != nil {
			if err := q.ledger.MarkDeferred(ctx, job.ID); err != nil {
				q.log.WithError(err).WithField(logger.FieldJobID, job.ID).Warn("Failed to mark ledger row deferred")
			}
		}
		return job, fmt.Errorf("%w: %d jobs queued", ErrQueueFull, q.cfg.MaxBacklog)
	}
	q.queued++
	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	q.mu.Unlock()

	q.backlog <- job
	return job, nil
}

// Cancel sets the cooperative cancellation flag on a job. Handlers observe
// the flag between batches; a job that never reaches a check point cannot be
// stopped.
func (q *Queue) Cancel(jobID string) error {
	q.mu.RLock()
	job := q.jobs[jobID]
	q.mu.RUnlock()
	if job == nil {
		return fmt.Errorf("queue: job %s not found", jobID)
	}
	job.Cancel()
	return nil
}

// Get returns a snapshot of one job.
func (q *Queue) Get(jobID string) (domain.JobView, bool) {
	q.mu.RLock()
	job := q.jobs[jobID]
	q.mu.RUnlock()
	if job == nil {
		return domain.JobView{}, false
	}
	return job.Snapshot(), true
}

// ListJobs returns snapshots of in-memory jobs for diagnostics, newest
// first, at most limit entries (0 means all).
func (q *Queue) ListJobs(limit int) []domain.JobView {
	q.mu.RLock()
	ids := make([]string, len(q.order))
	copy(ids, q.order)
	jobs := make([]*domain.Job, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, q.jobs[id])
	}
	q.mu.RUnlock()

	views := make([]domain.JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, job.Snapshot())
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].CreatedAt.After(views[j].CreatedAt)
	})
	if limit > 0 && len(views) > limit {
		views = views[:limit]
	}
	return views
}

// JobsForHunt returns snapshots of jobs scoped to a hunt, either directly by
// hunt_id or through one of the hunt's dataset IDs.
func (q *Queue) JobsForHunt(huntID string, datasetIDs []string) []domain.JobView {
	datasets := make(map[string]struct{}, len(datasetIDs))
	for _, id := range datasetIDs {
		datasets[id] = struct{}{}
	}

	var views []domain.JobView
	for _, view := range q.ListJobs(0) {
		if view.Params[domain.ParamHuntID] == huntID {
			views = append(views, view)
			continue
		}
		if _, ok := datasets[view.Params[domain.ParamDatasetID]]; ok {
			views = append(views, view)
		}
	}
	return views
}

// worker is one loop of the fixed pool. It never terminates on a handler
// error; only context cancellation stops it.
func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.backlog:
			q.mu.Lock()
			q.queued--
			q.mu.Unlock()
			q.run(ctx, id, job)
		}
	}
}

func (q *Queue) run(ctx context.Context, workerID int, job *domain.Job) {
	jobCtx := logger.WithFields(ctx, logger.Fields{
		logger.FieldJobID: job.ID,
		logger.FieldStage: string(job.Type),
	})

	// Cancellation observed while still queued: terminal without execution.
	if job.Cancelled() {
		job.MarkCancelled()
		q.syncLedger(jobCtx, job)
		q.notifyTerminal(job)
		return
	}

	job.MarkRunning(q.cfg.ProgressFloor)
	q.syncLedger(jobCtx, job)
	logger.CtxInfo(jobCtx, "Job started: worker=%d, type=%s", workerID, job.Type)

	start := time.Now()
	result, err := q.invoke(jobCtx, job)

	switch {
	case err != nil:
		job.MarkFailed(err.Error())
		logger.With(logger.Fields{
			logger.FieldDurationMs: time.Since(start).Milliseconds(),
		}).Error(jobCtx, "Job failed: type=%s, error=%v", job.Type, err)
	case job.Cancelled():
		job.MarkCancelled()
		logger.CtxInfo(jobCtx, "Job cancelled: type=%s", job.Type)
	default:
		job.MarkCompleted(result)
		logger.With(logger.Fields{
			logger.FieldDurationMs: time.Since(start).Milliseconds(),
		}).Info(jobCtx, "Job completed: type=%s", job.Type)
	}

	q.syncLedger(jobCtx, job)
	q.notifyTerminal(job)

	if view := job.Snapshot(); view.Status == domain.JobStatusCompleted {
		q.chain(jobCtx, view)
	}
}

// invoke runs the handler with panic isolation so a panicking stage marks
// its job failed instead of killing the worker.
func (q *Queue) invoke(ctx context.Context, job *domain.Job) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return q.handlers[job.Type](ctx, job)
}

// chain submits the follow-on stages declared for a completed job type.
func (q *Queue) chain(ctx context.Context, completed domain.JobView) {
	for _, next := range q.chains[completed.Type] {
		huntID := completed.Params[domain.ParamHuntID]
		datasetID := completed.Params[domain.ParamDatasetID]
		chained, err := q.SubmitStage(ctx, next, huntID, datasetID)
		if err != nil {
			if errors.Is(err, ErrQueueFull) {
				logger.CtxWarn(ctx, "Chained stage deferred by backpressure: from=%s, to=%s, job=%s",
					completed.Type, next, chained.ID)
				continue
			}
			logger.CtxError(ctx, "Failed to chain stage: from=%s, to=%s, error=%v", completed.Type, next, err)
			continue
		}
		logger.CtxInfo(ctx, "Chained stage submitted: from=%s, to=%s, job=%s", completed.Type, next, chained.ID)
	}
}

// syncLedger mirrors the job state, logging and continuing on failure. The
// ledger is advisory and must never fail the worker loop.
func (q *Queue) syncLedger(ctx context.Context, job *domain.Job) {
	if q.ledger == nil {
		return
	}
	if res := q.ledger.SyncJob(ctx, job.Snapshot()); !res.OK() {
		logger.CtxWarn(ctx, "Ledger sync failed: job=%s, error=%v", res.JobID, res.Err)
	}
}

func (q *Queue) notifyTerminal(job *domain.Job) {
	if q.observer == nil {
		return
	}
	view := job.Snapshot()
	if view.Status.Terminal() {
		q.observer(view)
	}
}
