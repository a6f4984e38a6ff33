package service

import (
	"fmt"
	"testing"

	"github.com/raines/forensiq/internal/domain"
	"github.com/raines/forensiq/internal/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestDB opens an isolated in-memory database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&domain.Hunt{},
		&domain.Dataset{},
		&domain.DatasetRow{},
		&domain.Annotation{},
		&domain.Message{},
		&domain.Theme{},
		&domain.Keyword{},
		&domain.ProcessingTask{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// seedHunt inserts a hunt with one dataset and the given rows.
func seedHunt(t *testing.T, db *gorm.DB, huntID, datasetID string, rows []map[string]string) {
	t.Helper()
	seedHuntOnly(t, db, huntID)
	seedDataset(t, db, huntID, datasetID, rows)
}

func seedHuntOnly(t *testing.T, db *gorm.DB, huntID string) {
	t.Helper()
	hunt := &domain.Hunt{ID: huntID, Name: "hunt " + huntID}
	if err := db.Create(hunt).Error; err != nil {
		t.Fatalf("seed hunt: %v", err)
	}
}

func seedDataset(t *testing.T, db *gorm.DB, huntID, datasetID string, rows []map[string]string) {
	t.Helper()
	dataset := &domain.Dataset{
		ID:       datasetID,
		HuntID:   huntID,
		Name:     "dataset " + datasetID,
		Status:   domain.DatasetStatusUploaded,
		RowCount: int64(len(rows)),
	}
	if err := db.Create(dataset).Error; err != nil {
		t.Fatalf("seed dataset: %v", err)
	}
	for i, columns := range rows {
		row := &domain.DatasetRow{DatasetID: datasetID, RowIndex: i, Columns: columns}
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("seed row %d: %v", i, err)
		}
	}
}

// seedRows generates n synthetic rows with a hostname and message column.
func seedRows(n int) []map[string]string {
	rows := make([]map[string]string, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, map[string]string{
			"hostname": fmt.Sprintf("host-%02d", i%4),
			"message":  fmt.Sprintf("event number %d", i),
		})
	}
	return rows
}

// seedTheme inserts an enabled theme with literal keyword patterns.
func seedTheme(t *testing.T, db *gorm.DB, themeID, name string, patterns ...string) {
	t.Helper()
	theme := &domain.Theme{ID: themeID, Name: name, Color: "#ff0000", Enabled: true}
	if err := db.Create(theme).Error; err != nil {
		t.Fatalf("seed theme: %v", err)
	}
	for i, pattern := range patterns {
		kw := &domain.Keyword{
			ID:      fmt.Sprintf("%s-kw-%d", themeID, i),
			ThemeID: themeID,
			Pattern: pattern,
		}
		if err := db.Create(kw).Error; err != nil {
			t.Fatalf("seed keyword: %v", err)
		}
	}
}

func newScanServiceForTest(t *testing.T, db *gorm.DB, cfg ScanConfig) *ScanService {
	t.Helper()
	return NewScanService(
		repository.NewDatasetRepository(db),
		repository.NewThemeRepository(db),
		NewScanCache(),
		nil,
		cfg,
	)
}
