package service

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/raines/forensiq/internal/domain"
	"github.com/raines/forensiq/internal/logger"
	"github.com/raines/forensiq/internal/repository"
)

// Row columns consulted when resolving hit context.
var (
	hostnameColumns = []string{"hostname", "fqdn", "computer_name"}
	usernameColumns = []string{"username", "user", "user_name"}
)

// ScanConfig bounds one scan invocation.
type ScanConfig struct {
	BatchSize       int
	GlobalRowBudget int // 0 means unlimited
}

// ScanService is the row-budgeted, keyset-paginated keyword scanner. It
// consults and populates the scan cache so unchanged datasets are never
// re-scanned, and merges cached with freshly computed per-dataset results.
type ScanService struct {
	datasets *repository.DatasetRepository
	themes   *repository.ThemeRepository
	cache    *ScanCache
	log      *logger.Logger
	cfg      ScanConfig
}

// NewScanService creates a new scan service.
func NewScanService(
	datasets *repository.DatasetRepository,
	themes *repository.ThemeRepository,
	cache *ScanCache,
	log *logger.Logger,
	cfg ScanConfig,
) *ScanService {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 500
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &ScanService{
		datasets: datasets,
		themes:   themes,
		cache:    cache,
		log:      log,
		cfg:      cfg,
	}
}

// Cache exposes the underlying scan cache for invalidation and sweeps.
func (s *ScanService) Cache() *ScanCache {
	return s.cache
}

// compiledKeyword is one match pattern ready to test against cell values.
type compiledKeyword struct {
	pattern string
	lower   string         // literal matching, case-insensitive
	regex   *regexp.Regexp // non-nil when the keyword is a regex
}

// compiledTheme groups a theme's usable patterns.
type compiledTheme struct {
	name     string
	color    string
	keywords []compiledKeyword
}

// rowBudget tracks the global row counter for one invocation.
type rowBudget struct {
	limit int
	used  int
}

func (b *rowBudget) add(n int) { b.used += n }

func (b *rowBudget) exhausted() bool {
	return b.limit > 0 && b.used >= b.limit
}

// Scan runs the cached scan state machine for a hunt.
//
// The hunt must exist, and requested datasets are scoped to it: IDs that are
// missing or belong to another hunt are skipped. Dataset IDs are partitioned
// into cached and missing; only missing datasets are scanned, each fresh
// complete result is cached, and everything is merged with hits re-filtered
// to the requested theme set. Auxiliary sources (hunt text, annotations,
// messages) are scanned fresh when their flags are set. A request naming
// zero datasets with all auxiliary sources disabled returns an empty
// successful result with no I/O.
func (s *ScanService) Scan(ctx context.Context, huntID string, req domain.ScanRequest, job *domain.Job) (*domain.ScanResult, error) {
	result := &domain.ScanResult{
		Hits:        []domain.ScanHit{},
		CacheStatus: domain.CacheStatusMiss,
	}

	if len(req.DatasetIDs) == 0 && !req.ScanHunts && !req.ScanAnnotations && !req.ScanMessages {
		return result, nil
	}

	hunt, err := s.datasets.GetHunt(ctx, huntID)
	if err != nil {
		return nil, err
	}

	themes, err := s.compileThemes(ctx)
	if err != nil {
		return nil, err
	}
	requested, err := s.requestedThemeNames(ctx, req.ThemeIDs)
	if err != nil {
		return nil, err
	}

	result.ThemesScanned = len(themes)
	for _, theme := range themes {
		result.KeywordsScanned += len(theme.keywords)
	}

	// Stable order so budget truncation is deterministic and reproducible.
	datasetIDs := append([]string(nil), req.DatasetIDs...)
	sort.Strings(datasetIDs)

	// Membership is resolved before the cache is consulted: a dataset from
	// another hunt must never be served, cached or not.
	scoped := datasetIDs[:0]
	for _, id := range datasetIDs {
		dataset, err := s.datasets.GetDataset(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrDatasetNotFound) {
				logger.CtxWarn(ctx, "Dataset missing, skipped in scan: dataset=%s", id)
				continue
			}
			return nil, err
		}
		if dataset.HuntID != huntID {
			logger.CtxWarn(ctx, "Dataset outside hunt, skipped in scan: dataset=%s, hunt=%s", id, huntID)
			continue
		}
		scoped = append(scoped, id)
	}
	datasetIDs = scoped

	var cachedEntries []*ScanCacheEntry
	var missing []string
	for _, id := range datasetIDs {
		if entry, ok := s.cache.Get(id); ok {
			cachedEntries = append(cachedEntries, entry)
		} else {
			missing = append(missing, id)
		}
	}

	budget := &rowBudget{limit: s.cfg.GlobalRowBudget}
	var fresh []*domain.DatasetScanResult
	for _, id := range missing {
		if budget.exhausted() {
			result.BudgetLimited = true
			break
		}
		dsResult, err := s.scanDataset(ctx, id, themes, budget, job)
		if err != nil {
			if errors.Is(err, repository.ErrDatasetNotFound) {
				logger.CtxWarn(ctx, "Dataset missing, skipped in scan: dataset=%s", id)
				continue
			}
			return nil, err
		}
		if dsResult == nil {
			// Cooperative cancellation observed between batches.
			break
		}
		fresh = append(fresh, dsResult)
		if dsResult.BudgetLimited {
			result.BudgetLimited = true
			break
		}
		// Truncated results are not cached: a later scan with budget headroom
		// must be able to complete the dataset.
		s.cache.Put(id, dsResult)
	}

	// Merge: concatenate hit lists filtered to requested themes, sum rows,
	// and take the oldest cached build time as the staleness signal.
	for _, entry := range cachedEntries {
		result.Hits = append(result.Hits, filterHits(entry.Result.Hits, requested)...)
		result.RowsScanned += entry.Result.RowsScanned
		if result.CachedAt == nil || entry.BuiltAt.Before(*result.CachedAt) {
			builtAt := entry.BuiltAt
			result.CachedAt = &builtAt
		}
	}
	for _, dsResult := range fresh {
		result.Hits = append(result.Hits, filterHits(dsResult.Hits, requested)...)
		result.RowsScanned += dsResult.RowsScanned
	}

	switch {
	case len(datasetIDs) > 0 && len(missing) == 0:
		result.CacheStatus = domain.CacheStatusHit
		result.CacheUsed = true
	case len(cachedEntries) > 0:
		result.CacheStatus = domain.CacheStatusPartial
		result.CacheUsed = true
	default:
		result.CacheStatus = domain.CacheStatusMiss
	}

	if err := s.scanAuxiliary(ctx, hunt, req, themes, requested, result); err != nil {
		return nil, err
	}

	result.TotalHits = len(result.Hits)
	return result, nil
}

// scanDataset pages through one dataset with a keyset cursor in fixed-size
// batches, testing every non-null cell against every active pattern. The
// current batch always finishes; truncation happens only on batch
// boundaries. A nil result without error means cancellation was observed.
func (s *ScanService) scanDataset(ctx context.Context, datasetID string, themes []compiledTheme, budget *rowBudget, job *domain.Job) (*domain.DatasetScanResult, error) {
	dataset, err := s.datasets.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	dsResult := &domain.DatasetScanResult{
		DatasetID:   dataset.ID,
		DatasetName: dataset.Name,
		Hits:        []domain.ScanHit{},
	}

	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if job != nil && job.Cancelled() {
			return nil, nil
		}

		rows, err := s.datasets.FetchRowsAfter(ctx, datasetID, afterID, s.cfg.BatchSize)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			s.matchRow(dataset, row, themes, dsResult)
		}

		afterID = rows[len(rows)-1].ID
		dsResult.RowsScanned += len(rows)
		budget.add(len(rows))

		if budget.exhausted() {
			dsResult.BudgetLimited = true
			break
		}
		if len(rows) < s.cfg.BatchSize {
			break
		}
	}

	return dsResult, nil
}

// matchRow tests every non-empty cell against every pattern and records
// hits with resolved host/user context when the row carries it.
func (s *ScanService) matchRow(dataset *domain.Dataset, row domain.DatasetRow, themes []compiledTheme, out *domain.DatasetScanResult) {
	hostname := firstColumn(row.Columns, hostnameColumns)
	username := firstColumn(row.Columns, usernameColumns)

	for field, value := range row.Columns {
		if value == "" {
			continue
		}
		lowerValue := strings.ToLower(value)
		for _, theme := range themes {
			for _, kw := range theme.keywords {
				if !kw.matches(value, lowerValue) {
					continue
				}
				rowIndex := row.RowIndex
				out.Hits = append(out.Hits, domain.ScanHit{
					ThemeName:    theme.name,
					ThemeColor:   theme.color,
					Keyword:      kw.pattern,
					SourceType:   domain.ScanSourceDataset,
					SourceID:     dataset.ID,
					Field:        field,
					MatchedValue: value,
					RowIndex:     &rowIndex,
					DatasetName:  dataset.Name,
					Hostname:     hostname,
					Username:     username,
				})
			}
		}
	}
}

// scanAuxiliary scans hunt text, annotations, and messages when requested.
// These sources are small and never cached.
func (s *ScanService) scanAuxiliary(ctx context.Context, hunt *domain.Hunt, req domain.ScanRequest, themes []compiledTheme, requested map[string]struct{}, result *domain.ScanResult) error {
	appendHits := func(sourceType, sourceID, field, value string) {
		if value == "" {
			return
		}
		lowerValue := strings.ToLower(value)
		for _, theme := range themes {
			if requested != nil {
				if _, ok := requested[theme.name]; !ok {
					continue
				}
			}
			for _, kw := range theme.keywords {
				if kw.matches(value, lowerValue) {
					result.Hits = append(result.Hits, domain.ScanHit{
						ThemeName:    theme.name,
						ThemeColor:   theme.color,
						Keyword:      kw.pattern,
						SourceType:   sourceType,
						SourceID:     sourceID,
						Field:        field,
						MatchedValue: value,
					})
				}
			}
		}
	}

	if req.ScanHunts {
		appendHits(domain.ScanSourceHunt, hunt.ID, "name", hunt.Name)
		appendHits(domain.ScanSourceHunt, hunt.ID, "description", hunt.Description)
	}

	if req.ScanAnnotations {
		annotations, err := s.datasets.ListAnnotations(ctx, hunt.ID)
		if err != nil {
			return err
		}
		for _, a := range annotations {
			appendHits(domain.ScanSourceAnnotation, a.ID, "body", a.Body)
		}
	}

	if req.ScanMessages {
		messages, err := s.datasets.ListMessages(ctx, hunt.ID)
		if err != nil {
			return err
		}
		for _, m := range messages {
			appendHits(domain.ScanSourceMessage, m.ID, "body", m.Body)
		}
	}

	return nil
}

// compileThemes loads enabled themes and compiles their patterns. Invalid
// regexes are skipped and logged; they must not fail the whole scan.
func (s *ScanService) compileThemes(ctx context.Context) ([]compiledTheme, error) {
	themes, err := s.themes.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}

	compiled := make([]compiledTheme, 0, len(themes))
	for _, theme := range themes {
		ct := compiledTheme{name: theme.Name, color: theme.Color}
		for _, kw := range theme.Keywords {
			if kw.IsRegex {
				re, err := regexp.Compile(kw.Pattern)
				if err != nil {
					s.log.WithFields(logger.Fields{
						"theme":   theme.Name,
						"pattern": kw.Pattern,
					}).Warn("Skipping invalid keyword regex")
					continue
				}
				ct.keywords = append(ct.keywords, compiledKeyword{pattern: kw.Pattern, regex: re})
			} else {
				ct.keywords = append(ct.keywords, compiledKeyword{
					pattern: kw.Pattern,
					lower:   strings.ToLower(kw.Pattern),
				})
			}
		}
		compiled = append(compiled, ct)
	}
	return compiled, nil
}

// requestedThemeNames resolves the optional theme-ID narrowing to a name
// set; nil means "all themes".
func (s *ScanService) requestedThemeNames(ctx context.Context, themeIDs []string) (map[string]struct{}, error) {
	if len(themeIDs) == 0 {
		return nil, nil
	}
	names, err := s.themes.NamesByIDs(ctx, themeIDs)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set, nil
}

func (k compiledKeyword) matches(value, lowerValue string) bool {
	if k.regex != nil {
		return k.regex.MatchString(value)
	}
	return strings.Contains(lowerValue, k.lower)
}

// filterHits narrows hits to the requested theme names; nil keeps all.
func filterHits(hits []domain.ScanHit, requested map[string]struct{}) []domain.ScanHit {
	if requested == nil {
		return hits
	}
	filtered := make([]domain.ScanHit, 0, len(hits))
	for _, hit := range hits {
		if _, ok := requested[hit.ThemeName]; ok {
			filtered = append(filtered, hit)
		}
	}
	return filtered
}

func firstColumn(columns map[string]string, names []string) string {
	for _, name := range names {
		if v := columns[name]; v != "" {
			return v
		}
	}
	return ""
}
