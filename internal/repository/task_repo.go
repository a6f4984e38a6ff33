package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/raines/forensiq/internal/domain"
	"gorm.io/gorm"
)

// TaskRepository is the persistent task ledger: a durable, best-effort
// mirror of job lifecycle used for cross-process progress queries and crash
// recovery. It is advisory by contract; writes that fail are reported, never
// raised into the worker loop.
type TaskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a new TaskRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *TaskRepository: repository instance bound to db.
func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create inserts a queued ledger row for a submitted stage job, before
// execution begins.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - huntID: hunt the stage belongs to.
//   - datasetID: dataset the stage processes; may be empty for hunt-level stages.
//   - jobID: in-memory job ID the row mirrors.
//   - stage: stage tag (job type name).
// Returns:
//   - *domain.ProcessingTask: created row.
//   - error: non-nil if the insert fails.
func (r *TaskRepository) Create(ctx context.Context, huntID, datasetID, jobID, stage string) (*domain.ProcessingTask, error) {
	task := &domain.ProcessingTask{
		ID:        uuid.New().String(),
		HuntID:    huntID,
		DatasetID: datasetID,
		JobID:     jobID,
		Stage:     stage,
		Status:    string(domain.JobStatusQueued),
		Progress:  0,
		Message:   "Queued",
	}
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

// ExistsByJobID checks whether a ledger row already mirrors the given job.
// Used to guard chained submissions against duplicate rows.
func (r *TaskRepository) ExistsByJobID(ctx context.Context, jobID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.ProcessingTask{}).
		Where("job_id = ?", jobID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetByJobID retrieves the ledger row mirroring a job.
func (r *TaskRepository) GetByJobID(ctx context.Context, jobID string) (*domain.ProcessingTask, error) {
	var task domain.ProcessingTask
	if err := r.db.WithContext(ctx).First(&task, "job_id = ?", jobID).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// SyncResult makes the advisory-write contract explicit: the caller decides
// to log-and-continue rather than hiding failures in a swallowed error.
type SyncResult struct {
	JobID string
	Err   error
}

// OK reports whether the sync was written.
func (s SyncResult) OK() bool {
	return s.Err == nil
}

// SyncJob updates the ledger row matched by job_id with the in-memory job's
// state. Best-effort: the result is returned, never raised.
func (r *TaskRepository) SyncJob(ctx context.Context, view domain.JobView) SyncResult {
	updates := map[string]interface{}{
		"status":       string(view.Status),
		"progress":     view.Progress,
		"message":      view.Message,
		"error":        view.Error,
		"started_at":   view.StartedAt,
		"completed_at": view.CompletedAt,
	}
	err := r.db.WithContext(ctx).Model(&domain.ProcessingTask{}).
		Where("job_id = ?", view.ID).
		Updates(updates).Error
	return SyncResult{JobID: view.ID, Err: err}
}

// MarkDeferred annotates a queued row whose submission was rejected by
// backpressure, so the stage reads as deferred instead of silently dropped.
func (r *TaskRepository) MarkDeferred(ctx context.Context, jobID string) error {
	return r.db.WithContext(ctx).Model(&domain.ProcessingTask{}).
		Where("job_id = ?", jobID).
		Update("message", "Deferred: queue full").Error
}

// ReconcileStale marks every row still queued or running as failed with a
// restart-recovery message. Run once at startup: the in-memory queue is lost
// on restart while the ledger persists, and without this pass stale rows
// would permanently read as in progress.
// Returns the number of rows fixed, for logging.
func (r *TaskRepository) ReconcileStale(ctx context.Context) (int64, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&domain.ProcessingTask{}).
		Where("status IN ?", []string{
			string(domain.JobStatusQueued),
			string(domain.JobStatusRunning),
		}).
		Updates(map[string]interface{}{
			"status":       string(domain.JobStatusFailed),
			"error":        "task interrupted by service restart; marked failed at startup",
			"message":      "Recovered after restart",
			"completed_at": &now,
		})
	return res.RowsAffected, res.Error
}

// ListByHunt returns the ledger rows for a hunt, newest first.
func (r *TaskRepository) ListByHunt(ctx context.Context, huntID string) ([]domain.ProcessingTask, error) {
	var tasks []domain.ProcessingTask
	if err := r.db.WithContext(ctx).
		Where("hunt_id = ?", huntID).
		Order("created_at DESC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// RollupForHunt aggregates ledger rows for a hunt into totals and per-stage
// sub-rollups, the form consumed by the progress aggregator.
func (r *TaskRepository) RollupForHunt(ctx context.Context, huntID string) (*domain.TaskRollup, error) {
	var tasks []domain.ProcessingTask
	if err := r.db.WithContext(ctx).
		Where("hunt_id = ?", huntID).
		Find(&tasks).Error; err != nil {
		return nil, err
	}

	rollup := &domain.TaskRollup{Stages: map[string]*domain.StageRollup{}}
	for _, task := range tasks {
		stage := rollup.Stages[task.Stage]
		if stage == nil {
			stage = &domain.StageRollup{}
			rollup.Stages[task.Stage] = stage
		}

		rollup.Total++
		stage.Total++
		stage.ProgressSum += task.Progress

		switch domain.JobStatus(task.Status) {
		case domain.JobStatusCompleted:
			rollup.Done++
			stage.Done++
		case domain.JobStatusRunning:
			rollup.Running++
			stage.Running++
		case domain.JobStatusQueued:
			rollup.Queued++
			stage.Queued++
		case domain.JobStatusFailed, domain.JobStatusCancelled:
			rollup.Failed++
			stage.Failed++
		}
	}

	for _, stage := range rollup.Stages {
		if stage.Total > 0 {
			stage.Percent = float64(stage.ProgressSum) / float64(stage.Total)
		}
	}

	return rollup, nil
}
