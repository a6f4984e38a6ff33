package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/raines/forensiq/internal/domain"
)

func seedDatasetRows(t *testing.T, repo *DatasetRepository, huntID, datasetID string, n int) {
	t.Helper()
	if err := repo.db.Create(&domain.Hunt{ID: huntID, Name: "hunt"}).Error; err != nil {
		t.Fatalf("seed hunt: %v", err)
	}
	if err := repo.db.Create(&domain.Dataset{ID: datasetID, HuntID: huntID, Name: "ds", RowCount: int64(n)}).Error; err != nil {
		t.Fatalf("seed dataset: %v", err)
	}
	for i := 0; i < n; i++ {
		row := &domain.DatasetRow{
			DatasetID: datasetID,
			RowIndex:  i,
			Columns:   map[string]string{"message": fmt.Sprintf("row %d", i)},
		}
		if err := repo.db.Create(row).Error; err != nil {
			t.Fatalf("seed row %d: %v", i, err)
		}
	}
}

// TestFetchRowsAfter verifies keyset pages are strictly increasing, complete,
// and free of duplicates.
func TestFetchRowsAfter(t *testing.T) {
	db := newTestDB(t)
	repo := NewDatasetRepository(db)
	seedDatasetRows(t, repo, "h1", "d1", 10)

	seen := map[int64]bool{}
	var afterID int64
	total := 0
	for {
		rows, err := repo.FetchRowsAfter(context.Background(), "d1", afterID, 3)
		if err != nil {
			t.Fatalf("fetch after %d: %v", afterID, err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			if row.ID <= afterID {
				t.Errorf("row %d not strictly after cursor %d", row.ID, afterID)
			}
			if seen[row.ID] {
				t.Errorf("row %d returned twice", row.ID)
			}
			seen[row.ID] = true
		}
		afterID = rows[len(rows)-1].ID
		total += len(rows)
		if len(rows) < 3 {
			break
		}
	}
	if total != 10 {
		t.Errorf("paged rows: got %d, want 10", total)
	}
}

// TestGetSentinels verifies not-found lookups wrap the package sentinels so
// callers can branch with errors.Is.
func TestGetSentinels(t *testing.T) {
	db := newTestDB(t)
	repo := NewDatasetRepository(db)

	if _, err := repo.GetHunt(context.Background(), "ghost"); !errors.Is(err, ErrHuntNotFound) {
		t.Errorf("GetHunt: got %v, want ErrHuntNotFound", err)
	}
	if _, err := repo.GetDataset(context.Background(), "ghost"); !errors.Is(err, ErrDatasetNotFound) {
		t.Errorf("GetDataset: got %v, want ErrDatasetNotFound", err)
	}
}

// TestStatusCounts verifies per-status aggregation for a hunt.
func TestStatusCounts(t *testing.T) {
	db := newTestDB(t)
	repo := NewDatasetRepository(db)

	if err := db.Create(&domain.Hunt{ID: "h1", Name: "hunt"}).Error; err != nil {
		t.Fatalf("seed hunt: %v", err)
	}
	statuses := []domain.DatasetStatus{
		domain.DatasetStatusCompleted,
		domain.DatasetStatusCompleted,
		domain.DatasetStatusProcessing,
		domain.DatasetStatusError,
		domain.DatasetStatusUploaded,
	}
	for i, status := range statuses {
		ds := &domain.Dataset{
			ID:     fmt.Sprintf("d%d", i),
			HuntID: "h1",
			Name:   "ds",
			Status: status,
		}
		if err := db.Create(ds).Error; err != nil {
			t.Fatalf("seed dataset %d: %v", i, err)
		}
	}

	counts, err := repo.StatusCounts(context.Background(), "h1")
	if err != nil {
		t.Fatalf("status counts: %v", err)
	}
	if counts.Total != 5 {
		t.Errorf("total: got %d, want 5", counts.Total)
	}
	if counts.Completed != 2 || counts.Processing != 1 || counts.Errored != 1 {
		t.Errorf("counts: got %+v", counts)
	}
}

// TestListByHuntOrder verifies datasets come back in stable ID order.
func TestListByHuntOrder(t *testing.T) {
	db := newTestDB(t)
	repo := NewDatasetRepository(db)

	if err := db.Create(&domain.Hunt{ID: "h1", Name: "hunt"}).Error; err != nil {
		t.Fatalf("seed hunt: %v", err)
	}
	for _, id := range []string{"c", "a", "b"} {
		if err := db.Create(&domain.Dataset{ID: id, HuntID: "h1", Name: id}).Error; err != nil {
			t.Fatalf("seed dataset %s: %v", id, err)
		}
	}

	datasets, err := repo.ListByHunt(context.Background(), "h1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"a", "b", "c"}
	for i, ds := range datasets {
		if ds.ID != want[i] {
			t.Errorf("position %d: got %s, want %s", i, ds.ID, want[i])
		}
	}
}
