package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/raines/forensiq/internal/domain"
	"gorm.io/gorm"
)

// Sentinel errors for entity lookups. Handlers skip missing datasets and
// continue; the API surfaces missing hunts/datasets as not-found responses.
var (
	ErrHuntNotFound    = errors.New("hunt not found")
	ErrDatasetNotFound = errors.New("dataset not found")
)

// DatasetRepository is the row-source boundary to the ingestion layer: it
// hands out hunts, datasets, and cursor-paginated rows with named columns.
type DatasetRepository struct {
	db *gorm.DB
}

// NewDatasetRepository creates a new DatasetRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *DatasetRepository: repository instance bound to db.
func NewDatasetRepository(db *gorm.DB) *DatasetRepository {
	return &DatasetRepository{db: db}
}

// Session returns a repository bound to a fresh gorm session. Stage handlers
// use it so a long batch scan holds a handler-private connection instead of
// serializing unrelated requests behind the caller's.
func (r *DatasetRepository) Session() *DatasetRepository {
	return &DatasetRepository{db: r.db.Session(&gorm.Session{NewDB: true})}
}

// GetHunt retrieves a hunt by ID.
func (r *DatasetRepository) GetHunt(ctx context.Context, id string) (*domain.Hunt, error) {
	var hunt domain.Hunt
	if err := r.db.WithContext(ctx).First(&hunt, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrHuntNotFound, id)
		}
		return nil, err
	}
	return &hunt, nil
}

// GetDataset retrieves a dataset by ID.
func (r *DatasetRepository) GetDataset(ctx context.Context, id string) (*domain.Dataset, error) {
	var dataset domain.Dataset
	if err := r.db.WithContext(ctx).First(&dataset, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, id)
		}
		return nil, err
	}
	return &dataset, nil
}

// ListByHunt retrieves a hunt's datasets in stable ID order, the order every
// batch processor walks them in so budget truncation stays deterministic.
func (r *DatasetRepository) ListByHunt(ctx context.Context, huntID string) ([]domain.Dataset, error) {
	var datasets []domain.Dataset
	if err := r.db.WithContext(ctx).
		Where("hunt_id = ?", huntID).
		Order("id ASC").
		Find(&datasets).Error; err != nil {
		return nil, err
	}
	return datasets, nil
}

// FetchRowsAfter returns the next batch of rows for a dataset using a keyset
// cursor: rows with id strictly greater than afterID, ascending, limited to
// batch size. Offset pagination is deliberately not offered here; it degrades
// as row counts grow and can skip or duplicate rows under concurrent writes.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - datasetID: dataset to page through.
//   - afterID: last seen row ID; 0 starts from the beginning.
//   - limit: maximum rows to return.
// Returns:
//   - []domain.DatasetRow: next batch, strictly increasing by ID.
//   - error: non-nil if the query fails.
func (r *DatasetRepository) FetchRowsAfter(ctx context.Context, datasetID string, afterID int64, limit int) ([]domain.DatasetRow, error) {
	var rows []domain.DatasetRow
	if err := r.db.WithContext(ctx).
		Where("dataset_id = ? AND id > ?", datasetID, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// DatasetStatusCounts holds per-status dataset counts for a hunt.
type DatasetStatusCounts struct {
	Total      int
	Completed  int
	Processing int
	Errored    int
}

// StatusCounts aggregates dataset statuses for a hunt.
func (r *DatasetRepository) StatusCounts(ctx context.Context, huntID string) (*DatasetStatusCounts, error) {
	type row struct {
		Status string
		N      int
	}
	var rows []row
	if err := r.db.WithContext(ctx).Model(&domain.Dataset{}).
		Select("status, count(*) as n").
		Where("hunt_id = ?", huntID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := &DatasetStatusCounts{}
	for _, r := range rows {
		counts.Total += r.N
		switch domain.DatasetStatus(r.Status) {
		case domain.DatasetStatusCompleted:
			counts.Completed += r.N
		case domain.DatasetStatusProcessing:
			counts.Processing += r.N
		case domain.DatasetStatusError:
			counts.Errored += r.N
		}
	}
	return counts, nil
}

// UpdateStatus sets a dataset's processing status.
func (r *DatasetRepository) UpdateStatus(ctx context.Context, datasetID string, status domain.DatasetStatus) error {
	return r.db.WithContext(ctx).Model(&domain.Dataset{}).
		Where("id = ?", datasetID).
		Update("status", string(status)).Error
}

// ListAnnotations returns a hunt's annotations for auxiliary scanning.
func (r *DatasetRepository) ListAnnotations(ctx context.Context, huntID string) ([]domain.Annotation, error) {
	var annotations []domain.Annotation
	if err := r.db.WithContext(ctx).
		Where("hunt_id = ?", huntID).
		Order("created_at ASC").
		Find(&annotations).Error; err != nil {
		return nil, err
	}
	return annotations, nil
}

// ListMessages returns a hunt's messages for auxiliary scanning.
func (r *DatasetRepository) ListMessages(ctx context.Context, huntID string) ([]domain.Message, error) {
	var messages []domain.Message
	if err := r.db.WithContext(ctx).
		Where("hunt_id = ?", huntID).
		Order("created_at ASC").
		Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}
