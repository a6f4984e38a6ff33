package service

import (
	"context"
	"errors"

	"github.com/raines/forensiq/internal/domain"
	"github.com/raines/forensiq/internal/logger"
	"github.com/raines/forensiq/internal/queue"
	"github.com/raines/forensiq/internal/repository"
)

// pipelineStages is the fixed dataset processing pipeline, in submission
// order. Host profiling is not listed: it chains off triage instead, so it
// runs at most once per hunt per wave rather than once per dataset.
var pipelineStages = []domain.JobType{
	domain.JobTypeTriage,
	domain.JobTypeKeywordScan,
	domain.JobTypeAnomalyScan,
	domain.JobTypeIndicatorExtract,
}

// PipelineSubmission reports what happened to each stage of one submission.
type PipelineSubmission struct {
	DatasetID string   `json:"dataset_id"`
	JobIDs    []string `json:"job_ids"`
	Submitted []string `json:"submitted"`
	Deferred  []string `json:"deferred"`
}

// PipelineService submits the full stage pipeline for a dataset.
type PipelineService struct {
	queue    *queue.Queue
	datasets *repository.DatasetRepository
	log      *logger.Logger
}

// NewPipelineService creates a new pipeline service.
func NewPipelineService(q *queue.Queue, datasets *repository.DatasetRepository, log *logger.Logger) *PipelineService {
	if log == nil {
		log = logger.GetDefault()
	}
	return &PipelineService{queue: q, datasets: datasets, log: log}
}

// Submit queues every pipeline stage for a dataset. Stages rejected by
// backpressure keep their deferred ledger rows and are reported back; the
// remaining stages are still submitted so a full backlog degrades the
// pipeline instead of aborting it.
// Returns ErrQueueFull alongside the submission report when any stage was
// deferred, so the API can answer 429 while still exposing what got through.
func (s *PipelineService) Submit(ctx context.Context, datasetID string) (*PipelineSubmission, error) {
	dataset, err := s.datasets.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	submission := &PipelineSubmission{DatasetID: datasetID}
	deferred := false

	for _, stage := range pipelineStages {
		job, err := s.queue.SubmitStage(ctx, stage, dataset.HuntID, datasetID)
		if err != nil {
			if errors.Is(err, queue.ErrQueueFull) {
				deferred = true
				submission.Deferred = append(submission.Deferred, string(stage))
				if job != nil {
					submission.JobIDs = append(submission.JobIDs, job.ID)
				}
				continue
			}
			return submission, err
		}
		submission.Submitted = append(submission.Submitted, string(stage))
		submission.JobIDs = append(submission.JobIDs, job.ID)
	}

	logger.With(logger.Fields{
		logger.FieldDatasetID: datasetID,
		logger.FieldCount:     len(submission.Submitted),
	}).Info(ctx, "Pipeline submitted: deferred=%d", len(submission.Deferred))

	if deferred {
		return submission, queue.ErrQueueFull
	}
	return submission, nil
}

// SubmitHunt queues the pipeline for every dataset in a hunt, in stable
// dataset order. The first backpressure rejection stops further submissions;
// everything already queued keeps running.
func (s *PipelineService) SubmitHunt(ctx context.Context, huntID string) ([]PipelineSubmission, error) {
	if _, err := s.datasets.GetHunt(ctx, huntID); err != nil {
		return nil, err
	}
	datasets, err := s.datasets.ListByHunt(ctx, huntID)
	if err != nil {
		return nil, err
	}

	var submissions []PipelineSubmission
	for _, dataset := range datasets {
		submission, err := s.Submit(ctx, dataset.ID)
		if submission != nil {
			submissions = append(submissions, *submission)
		}
		if err != nil {
			return submissions, err
		}
	}
	return submissions, nil
}
