package models

import "time"

// SyncState is the coordinator's connectivity/sync state.
type SyncState string

const (
	StateOffline SyncState = "offline"
	StateIdle    SyncState = "online_idle"
	StateSyncing SyncState = "syncing"
)

// StorageEstimate describes consumed vs. available local storage. All
// fields are zero when the platform cannot report them.
type StorageEstimate struct {
	Usage      int64   `json:"usage"`
	Quota      int64   `json:"quota"`
	Percentage float64 `json:"percentage"`
}

// NewStorageEstimate computes Percentage from usage and quota.
func NewStorageEstimate(usage, quota int64) StorageEstimate {
	est := StorageEstimate{Usage: usage, Quota: quota}
	if quota > 0 {
		est.Percentage = float64(usage) / float64(quota) * 100
	}
	return est
}

// SyncStatus is a point-in-time snapshot of the process-wide sync state.
type SyncStatus struct {
	State        SyncState       `json:"state"`
	IsOnline     bool            `json:"is_online"`
	IsSyncing    bool            `json:"is_syncing"`
	LastSync     *time.Time      `json:"last_sync,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
	Storage      StorageEstimate `json:"storage"`
	PendingItems int             `json:"pending_items"`
}
