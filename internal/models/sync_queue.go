package models

import (
	"encoding/json"
	"time"
)

// QueueOp is the kind of mutation recorded in the sync queue.
type QueueOp string

const (
	OpCreate QueueOp = "create"
	OpUpdate QueueOp = "update"
	OpDelete QueueOp = "delete"
)

// Valid reports whether op is a known operation.
func (op QueueOp) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// SyncQueueItem is an offline-originated mutation awaiting remote replay.
type SyncQueueItem struct {
	ID          string          `db:"id" json:"id"`
	Operation   QueueOp         `db:"operation" json:"operation" validate:"required,oneof=create update delete"`
	Collection  string          `db:"collection" json:"collection" validate:"required"`
	RecordKey   string          `db:"record_key" json:"record_key" validate:"required"`
	Payload     json.RawMessage `db:"payload" json:"payload,omitempty"`
	CreatedAt   int64           `db:"created_at" json:"created_at"` // unix millis
	Synced      bool            `db:"synced" json:"synced"`
	SyncedAt    *int64          `db:"synced_at" json:"synced_at,omitempty"`
	RetryCount  int             `db:"retry_count" json:"retry_count"`
	NextRetryAt int64           `db:"next_retry_at" json:"next_retry_at"` // unix millis, 0 = now
	LastError   string          `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the table name for SyncQueueItem.
func (SyncQueueItem) TableName() string {
	return "sync_queue"
}

// CreatedAtTime returns CreatedAt as time.Time.
func (q *SyncQueueItem) CreatedAtTime() time.Time {
	return time.UnixMilli(q.CreatedAt)
}

// Due reports whether the item may be replayed at now.
func (q *SyncQueueItem) Due(now time.Time) bool {
	return !q.Synced && q.NextRetryAt <= now.UnixMilli()
}

// QueueStats summarizes the sync queue.
type QueueStats struct {
	Pending  int   `db:"pending" json:"pending"`
	Failing  int   `db:"failing" json:"failing"` // pending with at least one failed attempt
	Synced   int   `db:"synced" json:"synced"`
	Total    int   `db:"total" json:"total"`
	OldestMs int64 `db:"oldest" json:"oldest_pending_at,omitempty"`
}
