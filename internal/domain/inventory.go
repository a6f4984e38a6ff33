package domain

import "time"

// Host inventory status values derived from cache state: none (no snapshot,
// no build running), building (marker set), ready (snapshot present).
const (
	InventoryStatusNone     = "none"
	InventoryStatusBuilding = "building"
	InventoryStatusReady    = "ready"
)

// HostEntry is one aggregated host observed across a hunt's datasets.
type HostEntry struct {
	ID       string   `json:"id"`
	Hostname string   `json:"hostname,omitempty"`
	FQDN     string   `json:"fqdn,omitempty"`
	ClientID string   `json:"client_id,omitempty"`
	IPs      []string `json:"ips,omitempty"`
	OS       string   `json:"os,omitempty"`
	Users    []string `json:"users,omitempty"`
	Datasets []string `json:"datasets,omitempty"`
	RowCount int      `json:"row_count"`
}

// HostConnection is a directed source/destination pair with an observation
// count.
type HostConnection struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Count  int    `json:"count"`
}

// InventoryStats summarizes a build, including whether any dataset was
// sampled because a row budget was hit.
type InventoryStats struct {
	TotalHosts           int      `json:"total_hosts"`
	TotalDatasetsScanned int      `json:"total_datasets_scanned"`
	DatasetsWithHosts    int      `json:"datasets_with_hosts"`
	TotalRowsScanned     int      `json:"total_rows_scanned"`
	HostsWithIPs         int      `json:"hosts_with_ips"`
	HostsWithUsers       int      `json:"hosts_with_users"`
	RowBudgetPerDataset  int      `json:"row_budget_per_dataset"`
	SampledMode          bool     `json:"sampled_mode"`
	SampledDatasets      []string `json:"sampled_datasets,omitempty"`
}

// HostInventorySnapshot is the per-hunt host/connection graph produced by
// the inventory builder. It replaces the "building" marker atomically on
// completion.
type HostInventorySnapshot struct {
	HuntID      string           `json:"hunt_id"`
	Hosts       []HostEntry      `json:"hosts"`
	Connections []HostConnection `json:"connections"`
	Stats       InventoryStats   `json:"stats"`
	BuiltAt     time.Time        `json:"built_at"`
}
