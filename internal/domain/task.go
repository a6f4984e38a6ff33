package domain

import "time"

// ProcessingTask is the durable ledger mirror of a stage job. It is created
// before execution begins and updated on every job status transition. The
// ledger is advisory: it enables cross-process progress queries and crash
// recovery, but the in-memory job queue remains the source of truth while
// the process lives. Rows are never deleted by this core.
type ProcessingTask struct {
	ID          string     `gorm:"type:text;primaryKey" json:"id"`
	HuntID      string     `gorm:"type:text;not null;index" json:"hunt_id"`
	DatasetID   string     `gorm:"type:text;index" json:"dataset_id"`
	JobID       string     `gorm:"type:text;not null;index" json:"job_id"`
	Stage       string     `gorm:"type:text;not null" json:"stage"`
	Status      string     `gorm:"default:queued;index" json:"status"`
	Progress    int        `gorm:"default:0" json:"progress"`
	Message     string     `json:"message,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for ProcessingTask.
func (ProcessingTask) TableName() string {
	return "processing_tasks"
}

// StageRollup aggregates ledger rows for one stage within a hunt.
type StageRollup struct {
	Total       int     `json:"total"`
	Done        int     `json:"done"`
	Running     int     `json:"running"`
	Queued      int     `json:"queued"`
	Failed      int     `json:"failed"`
	ProgressSum int     `json:"-"`
	Percent     float64 `json:"percent"`
}

// TaskRollup aggregates ledger rows for a whole hunt, with per-stage
// sub-rollups keyed by stage name.
type TaskRollup struct {
	Total   int                     `json:"total"`
	Done    int                     `json:"done"`
	Running int                     `json:"running"`
	Queued  int                     `json:"queued"`
	Failed  int                     `json:"failed"`
	Stages  map[string]*StageRollup `json:"stages"`
}
