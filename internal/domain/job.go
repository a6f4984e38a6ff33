package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of an in-memory job.
// Values include JobStatusQueued, JobStatusRunning, JobStatusCompleted,
// JobStatusFailed, and JobStatusCancelled.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobType is the closed set of analysis stage kinds. Handlers are bound to
// exactly one type at queue construction; an unknown type is a construction
// error, never a runtime dispatch miss.
type JobType string

const (
	JobTypeTriage           JobType = "triage"
	JobTypeKeywordScan      JobType = "keyword_scan"
	JobTypeAnomalyScan      JobType = "anomaly_scan"
	JobTypeIndicatorExtract JobType = "indicator_extract"
	JobTypeHostProfile      JobType = "host_profile"
)

// AllJobTypes lists every known stage kind.
var AllJobTypes = []JobType{
	JobTypeTriage,
	JobTypeKeywordScan,
	JobTypeAnomalyScan,
	JobTypeIndicatorExtract,
	JobTypeHostProfile,
}

// Valid reports whether t is a known stage kind.
func (t JobType) Valid() bool {
	for _, known := range AllJobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Standard job parameter keys shared by the pipeline stages.
const (
	ParamHuntID    = "hunt_id"
	ParamDatasetID = "dataset_id"
)

// Job is an in-memory unit of background work owned exclusively by the job
// queue. Workers are the only mutators; other goroutines read through
// Snapshot. Jobs are retained for diagnostics until process restart.
type Job struct {
	ID     string
	Type   JobType
	Params map[string]string

	mu          sync.Mutex
	status      JobStatus
	progress    int
	message     string
	errMsg      string
	result      interface{}
	createdAt   time.Time
	startedAt   *time.Time
	completedAt *time.Time
	cancelled   bool
}

// NewJob creates a queued job with a generated ID.
// Parameters:
//   - jobType: stage kind for handler dispatch.
//   - params: opaque key/value parameters passed to the handler.
// Returns:
//   - *Job: queued job with creation time set.
func NewJob(jobType JobType, params map[string]string) *Job {
	if params == nil {
		params = map[string]string{}
	}
	return &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Params:    params,
		status:    JobStatusQueued,
		createdAt: time.Now(),
	}
}

// Param returns the named parameter or the empty string.
func (j *Job) Param(key string) string {
	return j.Params[key]
}

// Cancel sets the cooperative cancellation flag. Handlers running batch
// loops check it between batches and return early.
func (j *Job) Cancel() {
	j.mu.Lock()
	j.cancelled = true
	j.mu.Unlock()
}

// Cancelled reports whether cancellation has been requested.
func (j *Job) Cancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

// SetProgress updates the job progress, clamped to 0-100.
func (j *Job) SetProgress(progress int) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	j.mu.Lock()
	j.progress = progress
	j.mu.Unlock()
}

// SetMessage updates the human-readable status message.
func (j *Job) SetMessage(message string) {
	j.mu.Lock()
	j.message = message
	j.mu.Unlock()
}

// MarkRunning transitions the job to running, records the start time, and
// raises progress to floor if still at zero so observers can distinguish
// "about to run" from "stuck at 0".
func (j *Job) MarkRunning(floor int) {
	now := time.Now()
	j.mu.Lock()
	j.status = JobStatusRunning
	j.startedAt = &now
	if j.progress == 0 && floor > 0 {
		j.progress = floor
	}
	if j.message == "" || j.message == "Queued" {
		j.message = "Running"
	}
	j.mu.Unlock()
}

// MarkCompleted transitions the job to completed with the handler result.
func (j *Job) MarkCompleted(result interface{}) {
	now := time.Now()
	j.mu.Lock()
	j.status = JobStatusCompleted
	j.progress = 100
	j.result = result
	j.message = "Completed"
	j.completedAt = &now
	j.mu.Unlock()
}

// MarkFailed transitions the job to failed with the handler error.
func (j *Job) MarkFailed(errMsg string) {
	now := time.Now()
	j.mu.Lock()
	j.status = JobStatusFailed
	j.errMsg = errMsg
	j.message = "Failed"
	j.completedAt = &now
	j.mu.Unlock()
}

// MarkCancelled transitions the job to cancelled, ensuring completed_at is
// set even when the handler returned without observing the flag.
func (j *Job) MarkCancelled() {
	now := time.Now()
	j.mu.Lock()
	j.status = JobStatusCancelled
	j.message = "Cancelled"
	if j.completedAt == nil {
		j.completedAt = &now
	}
	j.mu.Unlock()
}

// Result returns the handler result stored at completion.
func (j *Job) Result() interface{} {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// JobView is an immutable snapshot of a job used for listing, progress
// aggregation, and ledger sync.
type JobView struct {
	ID          string            `json:"id"`
	Type        JobType           `json:"type"`
	Params      map[string]string `json:"params,omitempty"`
	Status      JobStatus         `json:"status"`
	Progress    int               `json:"progress"`
	Message     string            `json:"message,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// Snapshot returns a consistent copy of the job's mutable state.
func (j *Job) Snapshot() JobView {
	j.mu.Lock()
	defer j.mu.Unlock()
	params := make(map[string]string, len(j.Params))
	for k, v := range j.Params {
		params[k] = v
	}
	return JobView{
		ID:          j.ID,
		Type:        j.Type,
		Params:      params,
		Status:      j.status,
		Progress:    j.progress,
		Message:     j.message,
		Error:       j.errMsg,
		CreatedAt:   j.createdAt,
		StartedAt:   j.startedAt,
		CompletedAt: j.completedAt,
	}
}
