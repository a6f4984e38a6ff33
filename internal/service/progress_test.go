package service

import (
	"context"
	"testing"

	"github.com/raines/forensiq/internal/domain"
	"github.com/raines/forensiq/internal/queue"
	"github.com/raines/forensiq/internal/repository"
	"gorm.io/gorm"
)

func newProgressForTest(t *testing.T, db *gorm.DB) (*ProgressService, *queue.Queue, *repository.TaskRepository) {
	t.Helper()
	datasets := repository.NewDatasetRepository(db)
	tasks := repository.NewTaskRepository(db)
	inventory := NewInventoryService(datasets, nil, InventoryConfig{BatchSize: 10})

	noop := func(ctx context.Context, job *domain.Job) (interface{}, error) { return nil, nil }
	q, err := queue.New(queue.Config{Workers: 1, MaxBacklog: 8}, tasks, nil,
		map[domain.JobType]queue.Handler{domain.JobTypeTriage: noop}, nil)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	// The queue is deliberately not started: submitted jobs stay queued so
	// the live view is deterministic.

	return NewProgressService(datasets, tasks, q, inventory, nil), q, tasks
}

func syncTaskStatus(t *testing.T, tasks *repository.TaskRepository, jobID string, status domain.JobStatus, progress int) {
	t.Helper()
	res := tasks.SyncJob(context.Background(), domain.JobView{
		ID:       jobID,
		Status:   status,
		Progress: progress,
	})
	if !res.OK() {
		t.Fatalf("sync task %s: %v", jobID, res.Err)
	}
}

// TestProgressMaxReconciliation verifies running/queued counts take the
// maximum of the live queue view and the persistent ledger view.
func TestProgressMaxReconciliation(t *testing.T) {
	db := newTestDB(t)
	seedHunt(t, db, "h1", "d1", nil)
	svc, q, tasks := newProgressForTest(t, db)

	// Ledger knows about two running stages from a previous process.
	for _, jobID := range []string{"stale-1", "stale-2"} {
		if _, err := tasks.Create(context.Background(), "h1", "d1", jobID, "triage"); err != nil {
			t.Fatalf("create ledger row: %v", err)
		}
		syncTaskStatus(t, tasks, jobID, domain.JobStatusRunning, 40)
	}

	// The live queue only has one queued job.
	if _, err := q.SubmitStage(context.Background(), domain.JobTypeTriage, "h1", "d1"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	progress, err := svc.HuntProgress(context.Background(), "h1")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if progress.ActiveJobs != 2 {
		t.Errorf("active jobs: got %d, want 2 (ledger view)", progress.ActiveJobs)
	}
	if progress.QueuedJobs != 1 {
		t.Errorf("queued jobs: got %d, want 1 (live view)", progress.QueuedJobs)
	}
	if progress.Status != "processing" {
		t.Errorf("status: got %s, want processing", progress.Status)
	}
}

// TestProgressPercentWeights covers the two weighting formulas: with and
// without ledger rows.
func TestProgressPercentWeights(t *testing.T) {
	t.Run("datasets only", func(t *testing.T) {
		db := newTestDB(t)
		seedHuntOnly(t, db, "h1")
		seedDataset(t, db, "h1", "d1", nil)
		seedDataset(t, db, "h1", "d2", nil)
		if err := db.Model(&domain.Dataset{}).Where("id = ?", "d1").
			Update("status", string(domain.DatasetStatusCompleted)).Error; err != nil {
			t.Fatalf("update dataset: %v", err)
		}

		svc, _, _ := newProgressForTest(t, db)
		progress, err := svc.HuntProgress(context.Background(), "h1")
		if err != nil {
			t.Fatalf("progress: %v", err)
		}
		// 0.85 * 50 + 0.15 * 0
		if progress.ProgressPercent != 42.5 {
			t.Errorf("overall percent: got %v, want 42.5", progress.ProgressPercent)
		}
	})

	t.Run("with task rollup", func(t *testing.T) {
		db := newTestDB(t)
		seedHuntOnly(t, db, "h1")
		seedDataset(t, db, "h1", "d1", nil)
		if err := db.Model(&domain.Dataset{}).Where("id = ?", "d1").
			Update("status", string(domain.DatasetStatusCompleted)).Error; err != nil {
			t.Fatalf("update dataset: %v", err)
		}

		svc, _, tasks := newProgressForTest(t, db)
		for i, status := range []domain.JobStatus{domain.JobStatusCompleted, domain.JobStatusRunning} {
			jobID := []string{"j1", "j2"}[i]
			if _, err := tasks.Create(context.Background(), "h1", "d1", jobID, "triage"); err != nil {
				t.Fatalf("create ledger row: %v", err)
			}
			syncTaskStatus(t, tasks, jobID, status, 50)
		}

		progress, err := svc.HuntProgress(context.Background(), "h1")
		if err != nil {
			t.Fatalf("progress: %v", err)
		}
		// 0.50 * 100 (datasets) + 0.35 * 50 (1 of 2 tasks done) + 0.15 * 0
		if progress.ProgressPercent != 67.5 {
			t.Errorf("overall percent: got %v, want 67.5", progress.ProgressPercent)
		}
		if progress.Stages["triage"] == nil || progress.Stages["triage"].Total != 2 {
			t.Errorf("stage rollup missing or wrong: %+v", progress.Stages)
		}
	})
}

// TestProgressIdempotent verifies repeated reads return identical values and
// never mutate state.
func TestProgressIdempotent(t *testing.T) {
	db := newTestDB(t)
	seedHunt(t, db, "h1", "d1", nil)
	svc, _, tasks := newProgressForTest(t, db)

	if _, err := tasks.Create(context.Background(), "h1", "d1", "j1", "triage"); err != nil {
		t.Fatalf("create ledger row: %v", err)
	}

	first, err := svc.HuntProgress(context.Background(), "h1")
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	second, err := svc.HuntProgress(context.Background(), "h1")
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if first.ProgressPercent != second.ProgressPercent ||
		first.QueuedJobs != second.QueuedJobs ||
		first.Status != second.Status {
		t.Errorf("progress reads diverged: first=%+v second=%+v", first, second)
	}
}

// TestProgressReadyStatus verifies a hunt with all datasets terminal and no
// in-flight work reads as ready.
func TestProgressReadyStatus(t *testing.T) {
	db := newTestDB(t)
	seedHunt(t, db, "h1", "d1", nil)
	if err := db.Model(&domain.Dataset{}).Where("id = ?", "d1").
		Update("status", string(domain.DatasetStatusCompleted)).Error; err != nil {
		t.Fatalf("update dataset: %v", err)
	}

	svc, _, _ := newProgressForTest(t, db)
	progress, err := svc.HuntProgress(context.Background(), "h1")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if progress.Status != "ready" {
		t.Errorf("status: got %s, want ready", progress.Status)
	}
}

// TestProgressUnknownHunt verifies the repository sentinel is surfaced.
func TestProgressUnknownHunt(t *testing.T) {
	db := newTestDB(t)
	svc, _, _ := newProgressForTest(t, db)

	if _, err := svc.HuntProgress(context.Background(), "ghost"); err == nil {
		t.Fatalf("expected error for unknown hunt")
	}
}
