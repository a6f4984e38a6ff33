package service

import (
	"context"
	"math"

	"github.com/raines/forensiq/internal/domain"
	"github.com/raines/forensiq/internal/logger"
	"github.com/raines/forensiq/internal/queue"
	"github.com/raines/forensiq/internal/repository"
)

// Component weights of the overall percent. When no ledger rows exist yet
// the task weight folds into the dataset weight.
const (
	weightDatasets     = 0.50
	weightTasks        = 0.35
	weightNetwork      = 0.15
	weightDatasetsOnly = 0.85
)

// HuntProgress is the merged processing view for a hunt: dataset status
// counts from the ingestion tables, live job counts from the in-memory
// queue reconciled against the persistent ledger, per-stage breakdowns, and
// the host inventory state.
type HuntProgress struct {
	HuntID string `json:"hunt_id"`
	Status string `json:"status"` // idle, processing, ready

	DatasetTotal      int `json:"dataset_total"`
	DatasetCompleted  int `json:"dataset_completed"`
	DatasetProcessing int `json:"dataset_processing"`
	DatasetErrors     int `json:"dataset_errors"`

	ActiveJobs  int `json:"active_jobs"`
	QueuedJobs  int `json:"queued_jobs"`
	FailedTasks int `json:"failed_tasks"`

	Stages map[string]*domain.StageRollup `json:"stages,omitempty"`

	NetworkStatus   string  `json:"network_status"` // none, building, ready
	ProgressPercent float64 `json:"progress_percent"`
}

// ProgressService aggregates the three partial views of hunt progress. None
// of them is authoritative alone: the queue forgets on restart, the ledger
// lags behind in-memory transitions, and dataset statuses only move on
// triage boundaries. Counts are reconciled by taking the maximum of the
// live and persisted views, which only ever errs toward showing work as
// still in flight.
type ProgressService struct {
	datasets  *repository.DatasetRepository
	tasks     *repository.TaskRepository
	queue     *queue.Queue
	inventory *InventoryService
	log       *logger.Logger
}

// NewProgressService creates a new progress aggregator.
func NewProgressService(
	datasets *repository.DatasetRepository,
	tasks *repository.TaskRepository,
	q *queue.Queue,
	inventory *InventoryService,
	log *logger.Logger,
) *ProgressService {
	if log == nil {
		log = logger.GetDefault()
	}
	return &ProgressService{
		datasets:  datasets,
		tasks:     tasks,
		queue:     q,
		inventory: inventory,
		log:       log,
	}
}

// HuntProgress computes the merged progress view for a hunt. Read-only and
// idempotent: calling it never mutates jobs, ledger rows, or caches.
func (s *ProgressService) HuntProgress(ctx context.Context, huntID string) (*HuntProgress, error) {
	if _, err := s.datasets.GetHunt(ctx, huntID); err != nil {
		return nil, err
	}

	counts, err := s.datasets.StatusCounts(ctx, huntID)
	if err != nil {
		return nil, err
	}
	rollup, err := s.tasks.RollupForHunt(ctx, huntID)
	if err != nil {
		return nil, err
	}

	datasetList, err := s.datasets.ListByHunt(ctx, huntID)
	if err != nil {
		return nil, err
	}
	datasetIDs := make([]string, 0, len(datasetList))
	for _, d := range datasetList {
		datasetIDs = append(datasetIDs, d.ID)
	}

	liveRunning, liveQueued := 0, 0
	for _, view := range s.queue.JobsForHunt(huntID, datasetIDs) {
		switch view.Status {
		case domain.JobStatusRunning:
			liveRunning++
		case domain.JobStatusQueued:
			liveQueued++
		}
	}

	progress := &HuntProgress{
		HuntID:            huntID,
		DatasetTotal:      counts.Total,
		DatasetCompleted:  counts.Completed,
		DatasetProcessing: counts.Processing,
		DatasetErrors:     counts.Errored,
		ActiveJobs:        maxInt(liveRunning, rollup.Running),
		QueuedJobs:        maxInt(liveQueued, rollup.Queued),
		FailedTasks:       rollup.Failed,
		Stages:            rollup.Stages,
		NetworkStatus:     s.inventory.Status(huntID),
	}

	progress.ProgressPercent = s.progressPercent(counts, rollup, progress.NetworkStatus)
	progress.Status = deriveStatus(progress)

	return progress, nil
}

// progressPercent blends the dataset, task, and network components. Clamped
// to [0, 100] and rounded to one decimal so pollers see stable values. A
// hunt with no datasets counts its dataset component as complete: there is
// nothing left to process there.
func (s *ProgressService) progressPercent(counts *repository.DatasetStatusCounts, rollup *domain.TaskRollup, networkStatus string) float64 {
	datasetPct := 100.0
	if counts.Total > 0 {
		datasetPct = float64(counts.Completed+counts.Errored) / float64(counts.Total) * 100
	}

	networkPct := 0.0
	switch networkStatus {
	case domain.InventoryStatusReady:
		networkPct = 100
	case domain.InventoryStatusBuilding:
		networkPct = 50
	}

	var overall float64
	if rollup.Total == 0 {
		overall = weightDatasetsOnly*datasetPct + weightNetwork*networkPct
	} else {
		taskPct := float64(rollup.Done) / float64(rollup.Total) * 100
		overall = weightDatasets*datasetPct + weightTasks*taskPct + weightNetwork*networkPct
	}

	if overall < 0 {
		overall = 0
	}
	if overall > 100 {
		overall = 100
	}
	return math.Round(overall*10) / 10
}

// deriveStatus collapses the merged view to idle/processing/ready.
func deriveStatus(p *HuntProgress) string {
	switch {
	case p.ActiveJobs > 0 || p.QueuedJobs > 0 || p.DatasetProcessing > 0 ||
		p.NetworkStatus == domain.InventoryStatusBuilding:
		return "processing"
	case p.DatasetTotal > 0 && p.DatasetCompleted+p.DatasetErrors >= p.DatasetTotal:
		return "ready"
	default:
		return "idle"
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
