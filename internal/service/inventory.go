package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/raines/forensiq/internal/domain"
	"github.com/raines/forensiq/internal/logger"
	"github.com/raines/forensiq/internal/repository"
)

// ErrBuildInProgress tells the caller a build for the hunt is already
// running: poll again, do not queue behind it.
var ErrBuildInProgress = errors.New("host inventory build in progress")

// Columns consulted during host extraction.
var (
	identityColumns = []string{"hostname", "fqdn", "client_id", "computer_name"}
	ipColumns       = []string{"ip", "ip_address", "source_ip", "local_ip"}
	osColumns       = []string{"os", "os_version", "operating_system"}
	connSourceCols  = []string{"source_ip", "src_ip"}
	connTargetCols  = []string{"destination_ip", "dst_ip", "remote_ip"}
)

// InventoryConfig bounds one build. Budgets of 0 mean unlimited.
type InventoryConfig struct {
	BatchSize           int
	RowBudgetPerDataset int
	GlobalRowBudget     int
}

// InventoryService builds the per-hunt host/connection graph. The per-hunt
// "building" marker is the only mutual-exclusion primitive in the system and
// it is non-blocking: concurrent callers are turned away with
// ErrBuildInProgress rather than queued.
type InventoryService struct {
	datasets *repository.DatasetRepository
	log      *logger.Logger
	cfg      InventoryConfig

	mu        sync.Mutex
	snapshots map[string]*domain.HostInventorySnapshot
	building  map[string]bool
}

// NewInventoryService creates a new inventory service.
func NewInventoryService(datasets *repository.DatasetRepository, log *logger.Logger, cfg InventoryConfig) *InventoryService {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 500
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &InventoryService{
		datasets:  datasets,
		log:       log,
		cfg:       cfg,
		snapshots: map[string]*domain.HostInventorySnapshot{},
		building:  map[string]bool{},
	}
}

// EnsureHunt verifies the hunt exists before a build is queued for it,
// surfacing the repository sentinel for unknown hunts.
func (s *InventoryService) EnsureHunt(ctx context.Context, huntID string) error {
	_, err := s.datasets.GetHunt(ctx, huntID)
	return err
}

// Status derives the externally visible state for a hunt: none (no
// snapshot, no build), building (marker set), ready (snapshot present).
func (s *InventoryService) Status(huntID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshots[huntID] != nil {
		return domain.InventoryStatusReady
	}
	if s.building[huntID] {
		return domain.InventoryStatusBuilding
	}
	return domain.InventoryStatusNone
}

// Snapshot returns the ready snapshot for a hunt, if any.
func (s *InventoryService) Snapshot(huntID string) (*domain.HostInventorySnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.snapshots[huntID]
	return snapshot, snapshot != nil
}

// Invalidate drops the snapshot for a hunt so the next build recomputes it.
func (s *InventoryService) Invalidate(huntID string) {
	s.mu.Lock()
	delete(s.snapshots, huntID)
	s.mu.Unlock()
}

// Build returns the existing snapshot, or builds one. If a build is already
// running for the hunt it returns ErrBuildInProgress immediately. On
// completion the snapshot replaces the building marker atomically.
func (s *InventoryService) Build(ctx context.Context, huntID string, job *domain.Job) (*domain.HostInventorySnapshot, error) {
	s.mu.Lock()
	if snapshot := s.snapshots[huntID]; snapshot != nil {
		s.mu.Unlock()
		return snapshot, nil
	}
	if s.building[huntID] {
		s.mu.Unlock()
		return nil, ErrBuildInProgress
	}
	s.building[huntID] = true
	s.mu.Unlock()

	snapshot, err := s.build(ctx, huntID, job)

	s.mu.Lock()
	delete(s.building, huntID)
	if err == nil && snapshot != nil {
		s.snapshots[huntID] = snapshot
	}
	s.mu.Unlock()

	return snapshot, err
}

// hostAccumulator aggregates one host's observations across datasets.
type hostAccumulator struct {
	entry    domain.HostEntry
	ips      map[string]struct{}
	users    map[string]struct{}
	datasets map[string]struct{}
}

// build walks every dataset linked to the hunt in stable ID order, paging
// rows by keyset cursor in fixed batches, under independent per-dataset and
// global row budgets.
func (s *InventoryService) build(ctx context.Context, huntID string, job *domain.Job) (*domain.HostInventorySnapshot, error) {
	if _, err := s.datasets.GetHunt(ctx, huntID); err != nil {
		return nil, err
	}
	datasets, err := s.datasets.ListByHunt(ctx, huntID)
	if err != nil {
		return nil, err
	}

	hosts := map[string]*hostAccumulator{}
	connections := map[[2]string]int{}
	stats := domain.InventoryStats{
		RowBudgetPerDataset: s.cfg.RowBudgetPerDataset,
	}
	globalRows := 0

	for _, dataset := range datasets {
		if s.cfg.GlobalRowBudget > 0 && globalRows >= s.cfg.GlobalRowBudget {
			stats.SampledMode = true
			break
		}

		datasetRows := 0
		datasetHadHosts := false
		var afterID int64

	batches:
		for {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if job != nil && job.Cancelled() {
				return nil, nil
			}

			rows, err := s.datasets.FetchRowsAfter(ctx, dataset.ID, afterID, s.cfg.BatchSize)
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				break
			}

			for _, row := range rows {
				if s.extractRow(dataset.ID, row, hosts, connections) {
					datasetHadHosts = true
				}
			}

			afterID = rows[len(rows)-1].ID
			datasetRows += len(rows)
			globalRows += len(rows)

			switch {
			case s.cfg.RowBudgetPerDataset > 0 && datasetRows >= s.cfg.RowBudgetPerDataset:
				stats.SampledMode = true
				stats.SampledDatasets = append(stats.SampledDatasets, dataset.ID)
				break batches
			case s.cfg.GlobalRowBudget > 0 && globalRows >= s.cfg.GlobalRowBudget:
				stats.SampledMode = true
				break batches
			case len(rows) < s.cfg.BatchSize:
				break batches
			}
		}

		stats.TotalDatasetsScanned++
		stats.TotalRowsScanned += datasetRows
		if datasetHadHosts {
			stats.DatasetsWithHosts++
		}
	}

	snapshot := &domain.HostInventorySnapshot{
		HuntID:  huntID,
		BuiltAt: time.Now(),
	}

	ids := make([]string, 0, len(hosts))
	for id := range hosts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		acc := hosts[id]
		acc.entry.IPs = sortedKeys(acc.ips)
		acc.entry.Users = sortedKeys(acc.users)
		acc.entry.Datasets = sortedKeys(acc.datasets)
		if len(acc.entry.IPs) > 0 {
			stats.HostsWithIPs++
		}
		if len(acc.entry.Users) > 0 {
			stats.HostsWithUsers++
		}
		snapshot.Hosts = append(snapshot.Hosts, acc.entry)
	}
	stats.TotalHosts = len(snapshot.Hosts)

	pairs := make([][2]string, 0, len(connections))
	for pair := range connections {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})
	for _, pair := range pairs {
		snapshot.Connections = append(snapshot.Connections, domain.HostConnection{
			Source: pair[0],
			Target: pair[1],
			Count:  connections[pair],
		})
	}

	snapshot.Stats = stats

	s.log.WithFields(logger.Fields{
		logger.FieldHuntID: huntID,
		"hosts":            stats.TotalHosts,
		"rows":             stats.TotalRowsScanned,
		"sampled":          stats.SampledMode,
	}).Info("Host inventory built")

	return snapshot, nil
}

// extractRow folds one row into the host and connection accumulators.
// Returns true when the row carried a host identity.
func (s *InventoryService) extractRow(datasetID string, row domain.DatasetRow, hosts map[string]*hostAccumulator, connections map[[2]string]int) bool {
	identity := firstColumn(row.Columns, identityColumns)

	if source, target := firstColumn(row.Columns, connSourceCols), firstColumn(row.Columns, connTargetCols); source != "" && target != "" {
		connections[[2]string{source, target}]++
	}

	if identity == "" {
		return false
	}

	key := strings.ToLower(identity)
	acc := hosts[key]
	if acc == nil {
		acc = &hostAccumulator{
			entry:    domain.HostEntry{ID: key},
			ips:      map[string]struct{}{},
			users:    map[string]struct{}{},
			datasets: map[string]struct{}{},
		}
		hosts[key] = acc
	}

	if acc.entry.Hostname == "" {
		acc.entry.Hostname = row.Columns["hostname"]
	}
	if acc.entry.FQDN == "" {
		acc.entry.FQDN = row.Columns["fqdn"]
	}
	if acc.entry.ClientID == "" {
		acc.entry.ClientID = row.Columns["client_id"]
	}
	if acc.entry.OS == "" {
		acc.entry.OS = firstColumn(row.Columns, osColumns)
	}
	for _, col := range ipColumns {
		if ip := row.Columns[col]; ip != "" {
			acc.ips[ip] = struct{}{}
		}
	}
	for _, col := range usernameColumns {
		if user := row.Columns[col]; user != "" {
			acc.users[user] = struct{}{}
		}
	}
	acc.datasets[datasetID] = struct{}{}
	acc.entry.RowCount++

	return true
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
