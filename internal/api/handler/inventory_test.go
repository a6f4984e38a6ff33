package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/raines/forensiq/internal/domain"
	"github.com/raines/forensiq/internal/queue"
	"github.com/raines/forensiq/internal/repository"
	"github.com/raines/forensiq/internal/service"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newInventoryRouter wires the inventory handler against an in-memory
// database with one hunt and an unstarted queue, so submissions behave
// deterministically.
func newInventoryRouter(t *testing.T, maxBacklog int) (*gin.Engine, *queue.Queue) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&domain.Hunt{}, &domain.Dataset{}, &domain.DatasetRow{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	if err := db.Create(&domain.Hunt{ID: "h1", Name: "hunt h1"}).Error; err != nil {
		t.Fatalf("seed hunt: %v", err)
	}

	datasets := repository.NewDatasetRepository(db)
	inventory := service.NewInventoryService(datasets, nil, service.InventoryConfig{BatchSize: 10})

	noop := func(ctx context.Context, job *domain.Job) (interface{}, error) { return nil, nil }
	q, err := queue.New(queue.Config{Workers: 1, MaxBacklog: maxBacklog}, nil, nil,
		map[domain.JobType]queue.Handler{domain.JobTypeHostProfile: noop}, nil)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}

	h := NewInventoryHandler(inventory, q)
	r := gin.New()
	r.GET("/hunts/:id/inventory", h.Get)
	r.POST("/hunts/:id/inventory", h.Build)
	return r, q
}

// TestInventoryBuildUnknownHunt verifies a build request for a nonexistent
// hunt is rejected before anything is queued.
func TestInventoryBuildUnknownHunt(t *testing.T) {
	r, q := newInventoryRouter(t, 8)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/hunts/ghost/inventory", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusNotFound)
	}
	if jobs := q.ListJobs(0); len(jobs) != 0 {
		t.Errorf("unknown hunt still queued %d jobs", len(jobs))
	}
}

// TestInventoryBuildDeferred verifies the backpressure response carries a
// status pollers can branch on and a job ID that resolves.
func TestInventoryBuildDeferred(t *testing.T) {
	r, q := newInventoryRouter(t, 0)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/hunts/h1/inventory", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	var body struct {
		Status string `json:"status"`
		JobID  string `json:"job_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "deferred" {
		t.Errorf("body status: got %q, want %q", body.Status, "deferred")
	}
	if body.JobID == "" {
		t.Fatalf("deferred response has no job_id")
	}
	if _, ok := q.Get(body.JobID); !ok {
		t.Errorf("deferred job_id %s does not resolve", body.JobID)
	}
}

// TestInventoryGetNone verifies the empty state reads as 404 with an explicit
// status.
func TestInventoryGetNone(t *testing.T) {
	r, _ := newInventoryRouter(t, 8)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/hunts/h1/inventory", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusNotFound)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != domain.InventoryStatusNone {
		t.Errorf("body status: got %q, want %q", body.Status, domain.InventoryStatusNone)
	}
}
