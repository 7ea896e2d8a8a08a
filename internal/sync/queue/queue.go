// Package queue provides the durable queue of offline mutations awaiting
// replay against the remote store, with exponential backoff between
// failed attempts.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kimhsiao/shule/backend/internal/db"
	apperrors "github.com/kimhsiao/shule/backend/internal/errors"
	"github.com/kimhsiao/shule/backend/internal/logging"
	"github.com/kimhsiao/shule/backend/internal/models"
	"github.com/kimhsiao/shule/backend/internal/telemetry"
	"github.com/kimhsiao/shule/backend/internal/uuid"
)

// Config holds retry settings.
type Config struct {
	MaxRetries int           // attempts before an item is reported as stuck (default: 5)
	BaseDelay  time.Duration // backoff unit (default: 1 minute)
	MaxDelay   time.Duration // backoff cap (default: 1 hour)
	BatchSize  int           // items read per pass, 0 = all
}

// DefaultConfig returns default queue configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 5,
		BaseDelay:  time.Minute,
		MaxDelay:   time.Hour,
	}
}

// Queue is the sync queue persisted in the local database. Items are never
// dropped on failure; they stay unsynced until a replay succeeds.
type Queue struct {
	repo    db.QueueRepository
	cfg     Config
	metrics *telemetry.Recorder
	now     func() time.Time
}

// New creates a new Queue. metrics may be nil.
func New(repo db.QueueRepository, cfg Config, metrics *telemetry.Recorder) *Queue {
	def := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	return &Queue{repo: repo, cfg: cfg, metrics: metrics, now: time.Now}
}

// Enqueue records a mutation of one record.
func (q *Queue) Enqueue(ctx context.Context, op models.QueueOp, collection models.CollectionName, key string, payload json.RawMessage) (*models.SyncQueueItem, error) {
	item := &models.SyncQueueItem{
		Operation:  op,
		Collection: string(collection),
		RecordKey:  key,
		Payload:    payload,
	}
	if err := q.Add(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Add appends a prepared item. ID and CreatedAt are filled in when unset;
// a preset ID must be a UUID.
func (q *Queue) Add(ctx context.Context, item *models.SyncQueueItem) error {
	if item == nil {
		return apperrors.New(apperrors.ErrInvalid, "queue item is required")
	}
	if !item.Operation.Valid() {
		return apperrors.Newf(apperrors.ErrInvalid, "unknown queue operation %q", item.Operation)
	}
	if !models.IsCollection(models.CollectionName(item.Collection)) {
		return apperrors.Newf(apperrors.ErrInvalid, "unknown collection %q", item.Collection)
	}
	if item.RecordKey == "" {
		return apperrors.New(apperrors.ErrInvalid, "queue item has no record key")
	}
	if item.Operation != models.OpDelete && !json.Valid(item.Payload) {
		return apperrors.New(apperrors.ErrInvalid, "queue item payload is not valid JSON")
	}

	// the id is replayed as the idempotency key
	if item.ID == "" {
		item.ID = uuid.NewOrdered()
	} else if !uuid.IsID(item.ID) {
		return apperrors.Newf(apperrors.ErrInvalid, "queue item id %q is not a uuid", item.ID)
	}
	if item.CreatedAt == 0 {
		item.CreatedAt = q.now().UnixMilli()
	}
	item.Synced = false
	item.SyncedAt = nil

	if err := q.repo.CreateQueueItem(ctx, item); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "enqueue sync item", err)
	}
	q.metrics.QueueEnqueued(ctx, item.Collection, string(item.Operation))

	logging.Debug("Enqueued sync item", map[string]interface{}{
		"id":         item.ID,
		"operation":  item.Operation,
		"collection": item.Collection,
		"key":        item.RecordKey,
	})
	return nil
}

// Pending returns unsynced items oldest first, including ones still
// waiting out their backoff.
func (q *Queue) Pending(ctx context.Context) ([]*models.SyncQueueItem, error) {
	items, err := q.repo.ListUnsyncedQueueItems(ctx, q.cfg.BatchSize)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "list pending sync items", err)
	}
	return items, nil
}

// PendingKeys maps record keys of collection to their oldest unsynced item.
func (q *Queue) PendingKeys(ctx context.Context, collection models.CollectionName) (map[string]*models.SyncQueueItem, error) {
	items, err := q.repo.ListUnsyncedQueueItems(ctx, 0)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "list pending sync items", err)
	}
	keys := make(map[string]*models.SyncQueueItem)
	for _, item := range items {
		if item.Collection != string(collection) {
			continue
		}
		if _, seen := keys[item.RecordKey]; !seen {
			keys[item.RecordKey] = item
		}
	}
	return keys, nil
}

// HasPending reports whether a record has unsynced items.
func (q *Queue) HasPending(ctx context.Context, collection models.CollectionName, key string) (bool, error) {
	items, err := q.repo.ListUnsyncedForRecord(ctx, string(collection), key)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrStorage, "list pending sync items", err)
	}
	return len(items) > 0, nil
}

// MarkSynced flags an item as applied.
func (q *Queue) MarkSynced(ctx context.Context, item *models.SyncQueueItem) error {
	now := q.now()
	if err := q.repo.MarkQueueItemSynced(ctx, item.ID, now); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "mark sync item synced", err)
	}
	at := now.UnixMilli()
	item.Synced = true
	item.SyncedAt = &at
	item.LastError = ""
	q.metrics.QueueReplay(ctx, item.Collection, true)
	return nil
}

// MarkFailed records a failed replay and schedules the next attempt.
func (q *Queue) MarkFailed(ctx context.Context, item *models.SyncQueueItem, cause error) error {
	retries := item.RetryCount + 1
	next := q.now().Add(Backoff(retries, q.cfg.BaseDelay, q.cfg.MaxDelay))
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	if err := q.repo.MarkQueueItemFailed(ctx, item.ID, retries, next, msg); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "mark sync item failed", err)
	}
	item.RetryCount = retries
	item.NextRetryAt = next.UnixMilli()
	item.LastError = msg
	q.metrics.QueueReplay(ctx, item.Collection, false)

	fields := map[string]interface{}{
		"id":          item.ID,
		"collection":  item.Collection,
		"key":         item.RecordKey,
		"retry":       retries,
		"next_retry":  next.Format(time.RFC3339),
		"max_retries": q.cfg.MaxRetries,
	}
	if retries >= q.cfg.MaxRetries {
		logging.ErrorWithCode("Sync item keeps failing", string(apperrors.ErrQueueReplay), cause, fields)
	} else {
		logging.Warn("Sync item replay failed, will retry", fields)
	}
	return nil
}

// ResetRetries makes every unsynced item due immediately.
func (q *Queue) ResetRetries(ctx context.Context) (int64, error) {
	n, err := q.repo.ResetQueueRetries(ctx)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "reset sync item retries", err)
	}
	return n, nil
}

// PurgeSynced deletes items applied more than retention ago.
func (q *Queue) PurgeSynced(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := q.repo.PurgeSyncedQueueItems(ctx, q.now().Add(-retention))
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "purge synced items", err)
	}
	if n > 0 {
		logging.Info("Purged synced queue items", map[string]interface{}{"count": n})
	}
	return n, nil
}

// Stats summarizes the queue.
func (q *Queue) Stats(ctx context.Context) (*models.QueueStats, error) {
	stats, err := q.repo.QueueStats(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "queue stats", err)
	}
	return stats, nil
}

// Backoff returns the delay before attempt retries+1: base * 2^retries,
// capped at max.
func Backoff(retries int, base, max time.Duration) time.Duration {
	if retries < 0 {
		retries = 0
	}
	if retries > 30 {
		return max
	}
	d := base << uint(retries)
	if d > max || d <= 0 {
		return max
	}
	return d
}
