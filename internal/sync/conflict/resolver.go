// Package conflict records pulled remote records that overwrite local edits
// still waiting in the sync queue.
//
// The remote copy always wins. The log exists so the user can see which
// local edits were shadowed and replay or redo them.
package conflict

import (
	"context"
	"time"

	"github.com/kimhsiao/shule/backend/internal/db"
	apperrors "github.com/kimhsiao/shule/backend/internal/errors"
	"github.com/kimhsiao/shule/backend/internal/logging"
	"github.com/kimhsiao/shule/backend/internal/models"
	"github.com/kimhsiao/shule/backend/internal/uuid"
)

// PendingLookup finds unsynced queue items of a collection by record key.
type PendingLookup interface {
	PendingKeys(ctx context.Context, collection models.CollectionName) (map[string]*models.SyncQueueItem, error)
}

// Resolver detects and logs remote overwrites.
type Resolver struct {
	pending PendingLookup
	logs    db.ConflictLogRepository
	now     func() time.Time
}

// NewResolver creates a new Resolver. logs may be nil, in which case
// conflicts are only logged.
func NewResolver(pending PendingLookup, logs db.ConflictLogRepository) *Resolver {
	return &Resolver{pending: pending, logs: logs, now: time.Now}
}

// Detect returns a conflict log entry for every pulled record whose key has
// an unsynced local edit.
func (r *Resolver) Detect(ctx context.Context, collection models.CollectionName, pulled []models.Record) ([]*models.ConflictLog, error) {
	if len(pulled) == 0 {
		return nil, nil
	}
	pending, err := r.pending.PendingKeys(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	detected := r.now().UnixMilli()
	var conflicts []*models.ConflictLog
	for _, rec := range pulled {
		item, ok := pending[rec.Key()]
		if !ok {
			continue
		}
		conflicts = append(conflicts, &models.ConflictLog{
			ID:              uuid.New(),
			Collection:      string(collection),
			RecordKey:       rec.Key(),
			QueueItemID:     item.ID,
			LocalTimestamp:  item.CreatedAt,
			RemoteTimestamp: remoteTimestamp(rec, detected),
			Resolution:      models.ResolutionRemoteWins,
			DetectedAt:      detected,
		})
	}
	return conflicts, nil
}

// Record persists and logs conflicts.
func (r *Resolver) Record(ctx context.Context, conflicts []*models.ConflictLog) error {
	for _, c := range conflicts {
		logging.Warn("Remote record overwrote pending local edit", map[string]interface{}{
			"collection":       c.Collection,
			"key":              c.RecordKey,
			"queue_item":       c.QueueItemID,
			"local_timestamp":  c.LocalTimestamp,
			"remote_timestamp": c.RemoteTimestamp,
			"resolution":       c.Resolution,
		})
		if r.logs == nil {
			continue
		}
		if err := r.logs.CreateConflictLog(ctx, c); err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "record conflict", err)
		}
	}
	return nil
}

// Reconcile detects and records conflicts for one pulled collection.
func (r *Resolver) Reconcile(ctx context.Context, collection models.CollectionName, pulled []models.Record) ([]*models.ConflictLog, error) {
	conflicts, err := r.Detect(ctx, collection, pulled)
	if err != nil {
		return nil, err
	}
	if err := r.Record(ctx, conflicts); err != nil {
		return nil, err
	}
	return conflicts, nil
}

// modifier is implemented by records that carry a remote modification
// time.
type modifier interface {
	Modified() *time.Time
}

func remoteTimestamp(rec models.Record, fallback int64) int64 {
	if m, ok := rec.(modifier); ok {
		if ts := m.Modified(); ts != nil {
			return ts.UnixMilli()
		}
	}
	return fallback
}
