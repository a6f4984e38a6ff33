package domain

import "time"

// DatasetStatus tracks ingestion/processing state of a dataset.
type DatasetStatus string

const (
	DatasetStatusUploaded   DatasetStatus = "uploaded"
	DatasetStatusProcessing DatasetStatus = "processing"
	DatasetStatusCompleted  DatasetStatus = "completed"
	DatasetStatusError      DatasetStatus = "error"
)

// Hunt is a named investigation scoping one or more datasets.
type Hunt struct {
	ID          string    `gorm:"type:text;primaryKey" json:"id"`
	Name        string    `gorm:"type:text;not null" json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Hunt.
func (Hunt) TableName() string {
	return "hunts"
}

// Dataset is an ingested, row-oriented artifact export with typed columns.
// Ingestion and column normalization happen upstream; this core only reads
// rows through the repository's keyset pagination.
type Dataset struct {
	ID        string        `gorm:"type:text;primaryKey" json:"id"`
	HuntID    string        `gorm:"type:text;not null;index" json:"hunt_id"`
	Name      string        `gorm:"type:text;not null" json:"name"`
	Status    DatasetStatus `gorm:"default:uploaded;index" json:"status"`
	RowCount  int64         `gorm:"default:0" json:"row_count"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// TableName returns the database table name for Dataset.
func (Dataset) TableName() string {
	return "datasets"
}

// DatasetRow is one normalized artifact row. The monotonically increasing
// primary key is the keyset cursor for batch scans: pages are fetched with
// "id > last seen id", never with numeric offsets, so budget truncation is
// deterministic and rows are not skipped or duplicated under concurrent
// writes.
type DatasetRow struct {
	ID        int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	DatasetID string            `gorm:"type:text;not null;index" json:"dataset_id"`
	RowIndex  int               `gorm:"not null" json:"row_index"`
	Columns   map[string]string `gorm:"serializer:json" json:"columns"`
}

// TableName returns the database table name for DatasetRow.
func (DatasetRow) TableName() string {
	return "dataset_rows"
}

// Annotation is a free-text analyst note attached to a hunt. Annotations are
// an auxiliary keyword-scan source.
type Annotation struct {
	ID        string    `gorm:"type:text;primaryKey" json:"id"`
	HuntID    string    `gorm:"type:text;not null;index" json:"hunt_id"`
	Body      string    `gorm:"type:text" json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Annotation.
func (Annotation) TableName() string {
	return "annotations"
}

// Message is a hunt-scoped discussion message, also scannable as an
// auxiliary keyword-scan source.
type Message struct {
	ID        string    `gorm:"type:text;primaryKey" json:"id"`
	HuntID    string    `gorm:"type:text;not null;index" json:"hunt_id"`
	Body      string    `gorm:"type:text" json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string {
	return "messages"
}
