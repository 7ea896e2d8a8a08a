package db

import (
	"context"
	"time"

	"github.com/kimhsiao/shule/backend/internal/models"
)

// QueueRepository defines persistence for the sync queue.
type QueueRepository interface {
	CreateQueueItem(ctx context.Context, item *models.SyncQueueItem) error
	GetQueueItem(ctx context.Context, id string) (*models.SyncQueueItem, error)
	ListUnsyncedQueueItems(ctx context.Context, limit int) ([]*models.SyncQueueItem, error)
	ListUnsyncedForRecord(ctx context.Context, collection, key string) ([]*models.SyncQueueItem, error)
	MarkQueueItemSynced(ctx context.Context, id string, at time.Time) error
	MarkQueueItemFailed(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, lastErr string) error
	ResetQueueRetries(ctx context.Context) (int64, error)
	PurgeSyncedQueueItems(ctx context.Context, cutoff time.Time) (int64, error)
	QueueStats(ctx context.Context) (*models.QueueStats, error)
}

// ConflictLogRepository defines operations for conflict log persistence.
type ConflictLogRepository interface {
	CreateConflictLog(ctx context.Context, log *models.ConflictLog) error
	ListConflictLogs(ctx context.Context, limit int) ([]*models.ConflictLog, error)
}

// TimetableRepository defines persistence for locally stored timetable
// entries.
type TimetableRepository interface {
	ListTimetableEntries(ctx context.Context, f models.TimetableFilter) ([]*models.TimetableEntry, error)
	GetTimetableEntry(ctx context.Context, id string) (*models.TimetableEntry, error)
	CreateTimetableEntry(ctx context.Context, e *models.TimetableEntry) error
	CreateTimetableEntries(ctx context.Context, entries []*models.TimetableEntry) (int, error)
	UpdateTimetableEntry(ctx context.Context, e *models.TimetableEntry) error
	DeleteTimetableEntry(ctx context.Context, id string) error
}

// Ensure *Repository implements the interfaces at compile time.
var (
	_ QueueRepository       = (*Repository)(nil)
	_ ConflictLogRepository = (*Repository)(nil)
	_ TimetableRepository   = (*Repository)(nil)
)
