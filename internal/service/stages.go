package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/raines/forensiq/internal/domain"
	"github.com/raines/forensiq/internal/logger"
	"github.com/raines/forensiq/internal/queue"
	"github.com/raines/forensiq/internal/repository"
)

// Indicator extraction patterns.
var (
	ipv4Pattern   = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	domainPattern = regexp.MustCompile(`\b[a-zA-Z0-9][a-zA-Z0-9-]{0,62}(?:\.[a-zA-Z0-9][a-zA-Z0-9-]{0,62})+\.[a-zA-Z]{2,}\b`)
	md5Pattern    = regexp.MustCompile(`\b[a-fA-F0-9]{32}\b`)
	sha256Pattern = regexp.MustCompile(`\b[a-fA-F0-9]{64}\b`)
)

// maxTrackedValues caps per-column frequency tracking in the anomaly pass so
// high-cardinality columns cannot blow up memory.
const maxTrackedValues = 1000

// rareValueRatio marks a value anomalous when it appears in fewer than this
// share of a column's non-empty cells.
const rareValueRatio = 0.01

// StageConfig bounds the derived-analysis stage handlers that page rows
// themselves (triage, anomaly, indicator extraction).
type StageConfig struct {
	BatchSize int
	RowBudget int // 0 means unlimited
}

// StageSet bundles the pipeline stage handlers and the declarative chain
// table that links them. The job queue consults the table on completion
// instead of embedding per-stage callbacks, which keeps the pipeline graph
// inspectable and testable in isolation.
type StageSet struct {
	datasets  *repository.DatasetRepository
	scan      *ScanService
	inventory *InventoryService
	log       *logger.Logger
	cfg       StageConfig
}

// NewStageSet creates the stage handler bundle.
func NewStageSet(
	datasets *repository.DatasetRepository,
	scan *ScanService,
	inventory *InventoryService,
	log *logger.Logger,
	cfg StageConfig,
) *StageSet {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 500
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &StageSet{
		datasets:  datasets,
		scan:      scan,
		inventory: inventory,
		log:       log,
		cfg:       cfg,
	}
}

// Handlers returns the full job-type-to-handler registry.
func (s *StageSet) Handlers() map[domain.JobType]queue.Handler {
	return map[domain.JobType]queue.Handler{
		domain.JobTypeTriage:           s.Triage,
		domain.JobTypeKeywordScan:      s.KeywordScan,
		domain.JobTypeAnomalyScan:      s.AnomalyScan,
		domain.JobTypeIndicatorExtract: s.IndicatorExtract,
		domain.JobTypeHostProfile:      s.HostProfile,
	}
}

// Chains returns the stage chaining table: a completed triage submits a
// host-profile build for the hunt.
func (s *StageSet) Chains() map[domain.JobType][]domain.JobType {
	return map[domain.JobType][]domain.JobType{
		domain.JobTypeTriage: {domain.JobTypeHostProfile},
	}
}

// repos returns a handler-private repository session so a long batch scan
// does not serialize unrelated requests behind it on a single-writer store.
func (s *StageSet) repos() *repository.DatasetRepository {
	return s.datasets.Session()
}

// TriageResult summarizes the classification pass over one dataset.
type TriageResult struct {
	DatasetID     string             `json:"dataset_id"`
	RowsScanned   int                `json:"rows_scanned"`
	ColumnFill    map[string]float64 `json:"column_fill"`
	Severity      string             `json:"severity"`
	BudgetLimited bool               `json:"budget_limited"`
}

// Triage classifies a dataset: a budgeted row pass computing per-column
// fill ratios and a coarse severity tag, then marks the dataset completed.
func (s *StageSet) Triage(ctx context.Context, job *domain.Job) (interface{}, error) {
	datasetID := job.Param(domain.ParamDatasetID)
	repos := s.repos()

	dataset, err := repos.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if err := repos.UpdateStatus(ctx, datasetID, domain.DatasetStatusProcessing); err != nil {
		logger.CtxWarn(ctx, "Failed to mark dataset processing: dataset=%s, error=%v", datasetID, err)
	}

	result := &TriageResult{DatasetID: datasetID, ColumnFill: map[string]float64{}}
	nonEmpty := map[string]int{}

	err = s.forEachBatch(ctx, repos, datasetID, job, func(rows []domain.DatasetRow) {
		for _, row := range rows {
			for col, val := range row.Columns {
				if val != "" {
					nonEmpty[col]++
				}
			}
		}
		result.RowsScanned += len(rows)
	}, &result.BudgetLimited)
	if err != nil {
		if updErr := repos.UpdateStatus(ctx, datasetID, domain.DatasetStatusError); updErr != nil {
			logger.CtxWarn(ctx, "Failed to mark dataset errored: dataset=%s, error=%v", datasetID, updErr)
		}
		return nil, err
	}

	if result.RowsScanned > 0 {
		for col, n := range nonEmpty {
			result.ColumnFill[col] = float64(n) / float64(result.RowsScanned)
		}
	}
	result.Severity = classifySeverity(nonEmpty)

	if err := repos.UpdateStatus(ctx, datasetID, domain.DatasetStatusCompleted); err != nil {
		logger.CtxWarn(ctx, "Failed to mark dataset completed: dataset=%s, error=%v", datasetID, err)
	}

	logger.With(logger.Fields{
		logger.FieldRows: result.RowsScanned,
	}).Info(ctx, "Triage finished: dataset=%s, severity=%s", dataset.Name, result.Severity)

	return result, nil
}

// classifySeverity tags a dataset by the identity/network signal its
// columns carry.
func classifySeverity(nonEmpty map[string]int) string {
	hasIdentity := false
	hasNetwork := false
	for _, col := range identityColumns {
		if nonEmpty[col] > 0 {
			hasIdentity = true
		}
	}
	for _, col := range append(connSourceCols, connTargetCols...) {
		if nonEmpty[col] > 0 {
			hasNetwork = true
		}
	}
	switch {
	case hasIdentity && hasNetwork:
		return "high"
	case hasIdentity || hasNetwork:
		return "medium"
	default:
		return "low"
	}
}

// KeywordScan runs the cached keyword scanner over the job's dataset,
// invalidating its cache entry first so a re-processed dataset is rescanned.
func (s *StageSet) KeywordScan(ctx context.Context, job *domain.Job) (interface{}, error) {
	datasetID := job.Param(domain.ParamDatasetID)
	huntID := job.Param(domain.ParamHuntID)

	s.scan.Cache().Invalidate(datasetID)

	result, err := s.scan.Scan(ctx, huntID, domain.ScanRequest{DatasetIDs: []string{datasetID}}, job)
	if err != nil {
		return nil, err
	}
	if result != nil {
		job.SetMessage(fmt.Sprintf("%d hits across %d rows", result.TotalHits, result.RowsScanned))
	}
	return result, nil
}

// ColumnAnomaly reports the rare values found in one column.
type ColumnAnomaly struct {
	Column     string         `json:"column"`
	RareValues map[string]int `json:"rare_values"`
}

// AnomalyResult summarizes the rare-value pass over one dataset.
type AnomalyResult struct {
	DatasetID     string          `json:"dataset_id"`
	RowsScanned   int             `json:"rows_scanned"`
	Anomalies     []ColumnAnomaly `json:"anomalies"`
	BudgetLimited bool            `json:"budget_limited"`
}

// AnomalyScan flags low-frequency values in low-cardinality columns: a
// value seen in under 1% of a column's non-empty cells is reported, unless
// the column's cardinality outgrew tracking.
func (s *StageSet) AnomalyScan(ctx context.Context, job *domain.Job) (interface{}, error) {
	datasetID := job.Param(domain.ParamDatasetID)
	repos := s.repos()

	if _, err := repos.GetDataset(ctx, datasetID); err != nil {
		return nil, err
	}

	result := &AnomalyResult{DatasetID: datasetID}
	freq := map[string]map[string]int{}
	overflowed := map[string]bool{}

	err := s.forEachBatch(ctx, repos, datasetID, job, func(rows []domain.DatasetRow) {
		for _, row := range rows {
			for col, val := range row.Columns {
				if val == "" || overflowed[col] {
					continue
				}
				values := freq[col]
				if values == nil {
					values = map[string]int{}
					freq[col] = values
				}
				if _, seen := values[val]; !seen && len(values) >= maxTrackedValues {
					overflowed[col] = true
					delete(freq, col)
					continue
				}
				values[val]++
			}
		}
		result.RowsScanned += len(rows)
	}, &result.BudgetLimited)
	if err != nil {
		return nil, err
	}

	columns := make([]string, 0, len(freq))
	for col := range freq {
		columns = append(columns, col)
	}
	sort.Strings(columns)
	for _, col := range columns {
		values := freq[col]
		total := 0
		for _, n := range values {
			total += n
		}
		if total == 0 {
			continue
		}
		rare := map[string]int{}
		for val, n := range values {
			if float64(n)/float64(total) < rareValueRatio {
				rare[val] = n
			}
		}
		if len(rare) > 0 {
			result.Anomalies = append(result.Anomalies, ColumnAnomaly{Column: col, RareValues: rare})
		}
	}

	return result, nil
}

// IndicatorResult summarizes extracted indicators with occurrence counts.
type IndicatorResult struct {
	DatasetID     string         `json:"dataset_id"`
	RowsScanned   int            `json:"rows_scanned"`
	IPs           map[string]int `json:"ips,omitempty"`
	Domains       map[string]int `json:"domains,omitempty"`
	Hashes        map[string]int `json:"hashes,omitempty"`
	BudgetLimited bool           `json:"budget_limited"`
}

// IndicatorExtract pulls IPv4 addresses, domains, and MD5/SHA256 hashes out
// of every cell, deduplicated with counts.
func (s *StageSet) IndicatorExtract(ctx context.Context, job *domain.Job) (interface{}, error) {
	datasetID := job.Param(domain.ParamDatasetID)
	repos := s.repos()

	if _, err := repos.GetDataset(ctx, datasetID); err != nil {
		return nil, err
	}

	result := &IndicatorResult{
		DatasetID: datasetID,
		IPs:       map[string]int{},
		Domains:   map[string]int{},
		Hashes:    map[string]int{},
	}

	err := s.forEachBatch(ctx, repos, datasetID, job, func(rows []domain.DatasetRow) {
		for _, row := range rows {
			for _, val := range row.Columns {
				if val == "" {
					continue
				}
				for _, ip := range ipv4Pattern.FindAllString(val, -1) {
					result.IPs[ip]++
				}
				for _, d := range domainPattern.FindAllString(val, -1) {
					result.Domains[d]++
				}
				for _, h := range md5Pattern.FindAllString(val, -1) {
					result.Hashes[h]++
				}
				for _, h := range sha256Pattern.FindAllString(val, -1) {
					result.Hashes[h]++
				}
			}
		}
		result.RowsScanned += len(rows)
	}, &result.BudgetLimited)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// HostProfile builds (or returns) the hunt's host inventory. A build
// already in progress is a success from the job's point of view: the
// snapshot will land when the running build finishes.
func (s *StageSet) HostProfile(ctx context.Context, job *domain.Job) (interface{}, error) {
	huntID := job.Param(domain.ParamHuntID)

	snapshot, err := s.inventory.Build(ctx, huntID, job)
	if err != nil {
		if errors.Is(err, ErrBuildInProgress) {
			job.SetMessage("Build already in progress")
			return map[string]string{"status": domain.InventoryStatusBuilding}, nil
		}
		return nil, err
	}
	if snapshot == nil {
		// Cancelled between batches.
		return nil, nil
	}
	job.SetMessage(fmt.Sprintf("%d hosts from %d rows", snapshot.Stats.TotalHosts, snapshot.Stats.TotalRowsScanned))
	return snapshot, nil
}

// forEachBatch pages a dataset by keyset cursor under the stage row budget,
// checking cooperative cancellation between batches. Per-batch failures
// abort only this stage, never the worker loop.
func (s *StageSet) forEachBatch(ctx context.Context, repos *repository.DatasetRepository, datasetID string, job *domain.Job, fn func([]domain.DatasetRow), budgetLimited *bool) error {
	var afterID int64
	scanned := 0
	progress := 10

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if job != nil && job.Cancelled() {
			return nil
		}

		rows, err := repos.FetchRowsAfter(ctx, datasetID, afterID, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		fn(rows)
		afterID = rows[len(rows)-1].ID
		scanned += len(rows)

		// Coarse progress: creep toward 90 while the total is unknown.
		if job != nil && progress < 90 {
			progress += 10
			job.SetProgress(progress)
		}

		if s.cfg.RowBudget > 0 && scanned >= s.cfg.RowBudget {
			*budgetLimited = true
			return nil
		}
		if len(rows) < s.cfg.BatchSize {
			return nil
		}
	}
}
