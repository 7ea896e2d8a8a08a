package models

import "time"

// Conflict resolutions recorded in the conflict log.
const (
	ResolutionRemoteWins = "remote_wins"
)

// ConflictLog records a pulled remote record overwriting a local edit that
// had not yet been replayed, for user awareness.
type ConflictLog struct {
	ID              string `db:"id" json:"id"`
	Collection      string `db:"collection" json:"collection"`
	RecordKey       string `db:"record_key" json:"record_key"`
	QueueItemID     string `db:"queue_item_id" json:"queue_item_id"`
	LocalTimestamp  int64  `db:"local_timestamp" json:"local_timestamp"`
	RemoteTimestamp int64  `db:"remote_timestamp" json:"remote_timestamp"`
	Resolution      string `db:"resolution" json:"resolution"`
	DetectedAt      int64  `db:"detected_at" json:"detected_at"`
}

// TableName returns the table name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}

// DetectedAtTime returns the DetectedAt as time.Time.
func (c *ConflictLog) DetectedAtTime() time.Time {
	return time.UnixMilli(c.DetectedAt)
}
