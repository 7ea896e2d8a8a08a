// Package sync pulls authoritative records from the remote store into the
// offline cache and replays offline edits back to it.
package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kimhsiao/shule/backend/internal/models"
	"github.com/kimhsiao/shule/backend/internal/remote"
)

// SyncEngineInterface defines the engine operations the scheduler and the
// desktop API depend on.
type SyncEngineInterface interface {
	// Sync pulls every tracked collection.
	Sync(ctx context.Context) (*SyncResult, error)

	// ProcessQueue replays due offline edits.
	ProcessQueue(ctx context.Context) (*QueueResult, error)

	// SetOnline records a connectivity change and reports whether the
	// state changed.
	SetOnline(online bool) bool

	// SetEventHandler sets the handler for sync notifications.
	SetEventHandler(handler EventHandler)

	// Status returns a snapshot of the sync state.
	Status() models.SyncStatus

	// LastSync returns the completion time of the last successful sync.
	LastSync() *time.Time

	// Ping checks the remote store.
	Ping(ctx context.Context) error
}

// RemoteSource is the remote store as seen by the engine. Both the REST
// client and the direct Postgres store implement it.
type RemoteSource interface {
	Select(ctx context.Context, collection string, filters ...remote.Filter) ([]json.RawMessage, error)
	Upsert(ctx context.Context, collection string, record json.RawMessage) error
	Delete(ctx context.Context, collection, key string) error
	Ping(ctx context.Context) error
}

// Cache is the subset of the offline cache the engine writes to.
type Cache interface {
	Add(ctx context.Context, r models.Record) error
	Put(ctx context.Context, r models.Record) error
	BulkPut(ctx context.Context, collection models.CollectionName, records []models.Record) error
	Delete(ctx context.Context, collection models.CollectionName, key string) error
	StorageEstimate(ctx context.Context) models.StorageEstimate
}
