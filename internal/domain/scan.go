package domain

import "time"

// Cache status values for a scan response.
const (
	CacheStatusHit     = "hit"
	CacheStatusPartial = "partial"
	CacheStatusMiss    = "miss"
)

// Scan hit source types.
const (
	ScanSourceDataset    = "dataset"
	ScanSourceHunt       = "hunt"
	ScanSourceAnnotation = "annotation"
	ScanSourceMessage    = "message"
)

// ScanRequest selects what a keyword scan covers. An empty DatasetIDs list
// with every auxiliary source disabled yields an empty successful result
// with no I/O.
type ScanRequest struct {
	DatasetIDs      []string `json:"dataset_ids"`
	ThemeIDs        []string `json:"theme_ids,omitempty"`
	ScanHunts       bool     `json:"scan_hunts"`
	ScanAnnotations bool     `json:"scan_annotations"`
	ScanMessages    bool     `json:"scan_messages"`
}

// ScanHit is one keyword match against a cell, hunt text, annotation, or
// message.
type ScanHit struct {
	ThemeName    string `json:"theme_name"`
	ThemeColor   string `json:"theme_color,omitempty"`
	Keyword      string `json:"keyword"`
	SourceType   string `json:"source_type"`
	SourceID     string `json:"source_id"`
	Field        string `json:"field,omitempty"`
	MatchedValue string `json:"matched_value"`
	RowIndex     *int   `json:"row_index,omitempty"`
	DatasetName  string `json:"dataset_name,omitempty"`
	Hostname     string `json:"hostname,omitempty"`
	Username     string `json:"username,omitempty"`
}

// ScanResult is the merged response for a scan request. BudgetLimited is a
// partial-success flag, not an error: callers use it to distinguish "no
// more data" from "stopped early".
type ScanResult struct {
	TotalHits       int        `json:"total_hits"`
	Hits            []ScanHit  `json:"hits"`
	ThemesScanned   int        `json:"themes_scanned"`
	KeywordsScanned int        `json:"keywords_scanned"`
	RowsScanned     int        `json:"rows_scanned"`
	CacheUsed       bool       `json:"cache_used"`
	CacheStatus     string     `json:"cache_status"`
	CachedAt        *time.Time `json:"cached_at,omitempty"`
	BudgetLimited   bool       `json:"budget_limited"`
}

// DatasetScanResult is the per-dataset unit stored in the scan cache. It
// always covers every enabled theme; narrower requests re-filter hits at
// merge time.
type DatasetScanResult struct {
	DatasetID     string    `json:"dataset_id"`
	DatasetName   string    `json:"dataset_name"`
	Hits          []ScanHit `json:"hits"`
	RowsScanned   int       `json:"rows_scanned"`
	BudgetLimited bool      `json:"budget_limited"`
}
