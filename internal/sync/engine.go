package sync

import (
	"context"
	"fmt"
	"strings"
	gosync "sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/kimhsiao/shule/backend/internal/errors"
	"github.com/kimhsiao/shule/backend/internal/logging"
	"github.com/kimhsiao/shule/backend/internal/models"
	"github.com/kimhsiao/shule/backend/internal/remote"
	"github.com/kimhsiao/shule/backend/internal/sync/conflict"
	"github.com/kimhsiao/shule/backend/internal/sync/queue"
	"github.com/kimhsiao/shule/backend/internal/telemetry"
)

// CollectionResult is the outcome of pulling one collection.
type CollectionResult struct {
	Collection models.CollectionName `json:"collection"`
	Records    int                   `json:"records"`
	Conflicts  int                   `json:"conflicts,omitempty"`
	Error      string                `json:"error,omitempty"`

	err error
}

// OK reports whether the collection was pulled and cached.
func (c CollectionResult) OK() bool {
	return c.err == nil
}

// SyncResult represents the result of a sync operation.
type SyncResult struct {
	StartTime   time.Time          `json:"start_time"`
	EndTime     time.Time          `json:"end_time"`
	Duration    time.Duration      `json:"duration"`
	Collections []CollectionResult `json:"collections"`
	Pulled      int                `json:"pulled"`
	Conflicts   int                `json:"conflicts"`
}

// Succeeded lists the collections that were refreshed.
func (r *SyncResult) Succeeded() []models.CollectionName {
	var out []models.CollectionName
	for _, c := range r.Collections {
		if c.OK() {
			out = append(out, c.Collection)
		}
	}
	return out
}

// Failed lists the collections whose cached copy was left untouched.
func (r *SyncResult) Failed() []models.CollectionName {
	var out []models.CollectionName
	for _, c := range r.Collections {
		if !c.OK() {
			out = append(out, c.Collection)
		}
	}
	return out
}

// QueueFailure describes one item that could not be replayed.
type QueueFailure struct {
	ItemID     string `json:"item_id"`
	Collection string `json:"collection"`
	RecordKey  string `json:"record_key"`
	Error      string `json:"error"`
}

// QueueResult summarizes one pass over the sync queue.
type QueueResult struct {
	Replayed int            `json:"replayed"`
	Deferred int            `json:"deferred"` // waiting on backoff or an earlier item for the same record
	Failures []QueueFailure `json:"failures,omitempty"`
}

// Config holds engine settings.
type Config struct {
	Collections []models.CollectionName // default: every collection
	Concurrency int                     // collections pulled at once (default: 4)
}

// Engine coordinates pulls, offline writes and queue replay. It owns the
// process-wide sync status; callers read it through Status and friends.
type Engine struct {
	cache    Cache
	remote   RemoteSource
	queue    *queue.Queue
	resolver *conflict.Resolver
	metrics  *telemetry.Recorder
	cfg      Config
	now      func() time.Time

	mu       gosync.RWMutex
	online   bool
	syncing  bool
	lastSync *time.Time
	lastErr  string
	storage  models.StorageEstimate
	pending  int
	handler  EventHandler

	replayMu gosync.Mutex
}

// NewSyncEngine creates a new Engine. remote may be nil when no remote store
// is configured; writes are then queued and syncs refused. The engine starts
// offline.
func NewSyncEngine(cache Cache, remote RemoteSource, q *queue.Queue, resolver *conflict.Resolver, metrics *telemetry.Recorder, cfg Config) *Engine {
	if len(cfg.Collections) == 0 {
		cfg.Collections = models.Collections()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Engine{
		cache:    cache,
		remote:   remote,
		queue:    q,
		resolver: resolver,
		metrics:  metrics,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetEventHandler sets the event handler for sync notifications.
func (e *Engine) SetEventHandler(handler EventHandler) {
	e.mu.Lock()
	e.handler = handler
	e.mu.Unlock()
}

func (e *Engine) emit(ev Event) {
	e.mu.RLock()
	h := e.handler
	ev.Status = e.statusLocked()
	e.mu.RUnlock()
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	if h != nil {
		h(ev)
	}
}

func (e *Engine) statusLocked() models.SyncStatus {
	st := models.SyncStatus{
		State:        models.StateOffline,
		IsOnline:     e.online,
		IsSyncing:    e.syncing,
		LastError:    e.lastErr,
		Storage:      e.storage,
		PendingItems: e.pending,
	}
	switch {
	case e.syncing:
		st.State = models.StateSyncing
	case e.online:
		st.State = models.StateIdle
	}
	if e.lastSync != nil {
		t := *e.lastSync
		st.LastSync = &t
	}
	return st
}

// Status returns a snapshot of the sync state.
func (e *Engine) Status() models.SyncStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.statusLocked()
}

// State returns the current state.
func (e *Engine) State() models.SyncState {
	return e.Status().State
}

// LastSync returns the completion time of the last sync in which at least
// one collection was refreshed.
func (e *Engine) LastSync() *time.Time {
	return e.Status().LastSync
}

// IsOnline reports the last connectivity signal.
func (e *Engine) IsOnline() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.online
}

// Configured reports whether a remote store is attached.
func (e *Engine) Configured() bool {
	return e.remote != nil
}

// Reset returns the status to its initial offline state.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.online = false
	e.syncing = false
	e.lastSync = nil
	e.lastErr = ""
	e.storage = models.StorageEstimate{}
	e.pending = 0
	e.mu.Unlock()
}

// Refresh recomputes the storage estimate and pending item count.
func (e *Engine) Refresh(ctx context.Context) {
	storage := e.cache.StorageEstimate(ctx)
	e.mu.Lock()
	e.storage = storage
	e.mu.Unlock()
	e.refreshPending(ctx)
}

func (e *Engine) refreshPending(ctx context.Context) {
	stats, err := e.queue.Stats(ctx)
	if err != nil {
		logging.Warn("Could not read queue stats", map[string]interface{}{"error": err.Error()})
		return
	}
	e.mu.Lock()
	e.pending = stats.Pending
	e.mu.Unlock()
}

// SetOnline records a connectivity change. It returns true when the state
// actually changed.
func (e *Engine) SetOnline(online bool) bool {
	e.mu.Lock()
	changed := e.online != online
	e.online = online
	e.mu.Unlock()
	if !changed {
		return false
	}

	logging.Info("Online status changed", map[string]interface{}{"is_online": online})
	if online {
		e.emit(Event{Type: EventOnline})
	} else {
		e.emit(Event{Type: EventOffline})
	}
	return true
}

// Ping checks the remote store.
func (e *Engine) Ping(ctx context.Context) error {
	if e.remote == nil {
		return apperrors.New(apperrors.ErrSyncNotConfigured, "no remote store configured")
	}
	return remote.AppError("ping remote", e.remote.Ping(ctx))
}

// Sync pulls every tracked collection into the cache. Collections are
// fetched concurrently and independently: a failed collection keeps its
// previous cached copy. When some collections fail the result is returned
// together with a SYNC_PARTIAL error; when all fail, SYNC_FAILED.
func (e *Engine) Sync(ctx context.Context) (*SyncResult, error) {
	if e.remote == nil {
		return nil, apperrors.New(apperrors.ErrSyncNotConfigured, "no remote store configured")
	}

	e.mu.Lock()
	if !e.online {
		e.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrOffline, "cannot sync while offline")
	}
	if e.syncing {
		e.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrSyncInProgress, "sync already in progress")
	}
	e.syncing = true
	e.mu.Unlock()
	e.emit(Event{Type: EventSyncStarted})

	result := &SyncResult{
		StartTime:   e.now(),
		Collections: make([]CollectionResult, len(e.cfg.Collections)),
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, name := range e.cfg.Collections {
		i, name := i, name
		g.Go(func() error {
			result.Collections[i] = e.pullCollection(ctx, name)
			return nil
		})
	}
	_ = g.Wait()

	result.EndTime = e.now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	for _, c := range result.Collections {
		result.Pulled += c.Records
		result.Conflicts += c.Conflicts
	}

	syncErr := summarize(result)
	storage := e.cache.StorageEstimate(ctx)

	e.mu.Lock()
	e.syncing = false
	e.storage = storage
	if len(result.Succeeded()) > 0 {
		end := result.EndTime
		e.lastSync = &end
	}
	if syncErr != nil {
		e.lastErr = syncErr.Error()
	} else {
		e.lastErr = ""
	}
	e.mu.Unlock()
	e.refreshPending(ctx)

	outcome := "success"
	switch {
	case apperrors.Is(syncErr, apperrors.ErrSyncFailed):
		outcome = "failed"
	case syncErr != nil:
		outcome = "partial"
	}
	e.metrics.SyncRun(ctx, outcome, result.Duration)

	if syncErr != nil {
		logging.ErrorWithCode("Sync finished with errors", string(apperrors.CodeOf(syncErr)), syncErr,
			map[string]interface{}{"failed": result.Failed(), "pulled": result.Pulled})
		e.emit(Event{Type: EventSyncFailed, Result: result, Error: syncErr.Error()})
		return result, syncErr
	}

	logging.Info("Sync completed", map[string]interface{}{
		"pulled":    result.Pulled,
		"conflicts": result.Conflicts,
		"duration":  result.Duration.String(),
	})
	e.emit(Event{Type: EventSyncCompleted, Result: result})
	return result, nil
}

// pullCollection fetches, decodes and caches one collection. Nothing is
// written unless every record decodes and validates.
func (e *Engine) pullCollection(ctx context.Context, name models.CollectionName) CollectionResult {
	res := CollectionResult{Collection: name}
	fail := func(err error) CollectionResult {
		res.err = err
		res.Error = err.Error()
		res.Records = 0
		return res
	}

	rows, err := e.remote.Select(ctx, string(name))
	if err != nil {
		return fail(remote.AppError("select "+string(name), err))
	}

	records := make([]models.Record, 0, len(rows))
	for i, raw := range rows {
		rec, err := models.DecodeRecord(name, raw)
		if err != nil {
			return fail(apperrors.Wrap(apperrors.ErrValidation, fmt.Sprintf("decode %s row %d", name, i), err))
		}
		records = append(records, rec)
	}

	if e.resolver != nil {
		conflicts, err := e.resolver.Reconcile(ctx, name, records)
		if err != nil {
			logging.Warn("Conflict detection failed", map[string]interface{}{
				"collection": string(name),
				"error":      err.Error(),
			})
		}
		res.Conflicts = len(conflicts)
	}

	if err := e.cache.BulkPut(ctx, name, records); err != nil {
		return fail(err)
	}
	res.Records = len(records)
	e.metrics.RecordsPulled(ctx, string(name), len(records))
	return res
}

func summarize(r *SyncResult) error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}

	msgs := make([]string, 0, len(failed))
	var first error
	for _, c := range r.Collections {
		if c.err == nil {
			continue
		}
		if first == nil {
			first = c.err
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", c.Collection, c.Error))
	}

	if len(failed) == len(r.Collections) {
		return apperrors.Wrap(apperrors.ErrSyncFailed, "every collection failed: "+strings.Join(msgs, "; "), first)
	}
	return apperrors.Wrap(apperrors.ErrSyncPartial,
		fmt.Sprintf("%d of %d collections failed: %s", len(failed), len(r.Collections), strings.Join(msgs, "; ")), first)
}

// Write stores record in the cache and sends it to the remote store. When
// offline, when the remote call fails, or when earlier edits of the same
// record are still queued, the write is queued instead. It reports whether
// the write was queued.
func (e *Engine) Write(ctx context.Context, op models.QueueOp, record models.Record) (bool, error) {
	if record == nil {
		return false, apperrors.New(apperrors.ErrInvalid, "record is required")
	}
	switch op {
	case models.OpCreate:
		if err := e.cache.Add(ctx, record); err != nil {
			return false, err
		}
	case models.OpUpdate:
		if err := e.cache.Put(ctx, record); err != nil {
			return false, err
		}
	default:
		return false, apperrors.Newf(apperrors.ErrInvalid, "write does not accept operation %q", op)
	}

	payload, err := models.MarshalFull(record)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrInternal, "encode record", err)
	}
	item := &models.SyncQueueItem{
		Operation:  op,
		Collection: string(record.Collection()),
		RecordKey:  record.Key(),
		Payload:    payload,
	}
	return e.apply(ctx, item)
}

// Remove deletes a record from the cache and from the remote store, queueing
// the delete when it cannot be applied now.
func (e *Engine) Remove(ctx context.Context, collection models.CollectionName, key string) (bool, error) {
	if err := e.cache.Delete(ctx, collection, key); err != nil {
		return false, err
	}
	return e.apply(ctx, &models.SyncQueueItem{
		Operation:  models.OpDelete,
		Collection: string(collection),
		RecordKey:  key,
	})
}

// apply sends item straight to the remote store when possible and queues it
// otherwise.
func (e *Engine) apply(ctx context.Context, item *models.SyncQueueItem) (bool, error) {
	if e.remote != nil && e.IsOnline() {
		held, err := e.queue.HasPending(ctx, models.CollectionName(item.Collection), item.RecordKey)
		if err != nil {
			return false, err
		}
		if !held {
			err := e.replay(ctx, item, "")
			if err == nil {
				return false, nil
			}
			logging.Warn("Remote write failed, queueing", map[string]interface{}{
				"collection": item.Collection,
				"key":        item.RecordKey,
				"error":      err.Error(),
			})
		}
	}
	if err := e.AddToQueue(ctx, item); err != nil {
		return false, err
	}
	return true, nil
}

// AddToQueue records an offline mutation for later replay.
func (e *Engine) AddToQueue(ctx context.Context, item *models.SyncQueueItem) error {
	if err := e.queue.Add(ctx, item); err != nil {
		return err
	}
	e.refreshPending(ctx)
	e.emit(Event{Type: EventQueued})
	return nil
}

// replay applies one item remotely. Creates and updates are sent as upserts
// and deletes tolerate a missing row, so replaying an item twice is harmless.
// The queue item id doubles as the idempotency key.
func (e *Engine) replay(ctx context.Context, item *models.SyncQueueItem, idemKey string) error {
	if idemKey != "" {
		ctx = remote.WithIdempotencyKey(ctx, idemKey)
	}
	switch item.Operation {
	case models.OpCreate, models.OpUpdate:
		return e.remote.Upsert(ctx, item.Collection, item.Payload)
	case models.OpDelete:
		return e.remote.Delete(ctx, item.Collection, item.RecordKey)
	default:
		return errors.Errorf("unknown operation %q", item.Operation)
	}
}

// ProcessQueue replays unsynced items oldest first. Items waiting on
// backoff are skipped, and once an item for a record fails or is skipped,
// later items for the same record wait too so edits land in order. Failed
// items stay queued. Any failure is reported as QUEUE_REPLAY_FAILED along
// with the result.
func (e *Engine) ProcessQueue(ctx context.Context) (*QueueResult, error) {
	if e.remote == nil {
		return nil, apperrors.New(apperrors.ErrSyncNotConfigured, "no remote store configured")
	}
	if !e.IsOnline() {
		return nil, apperrors.New(apperrors.ErrOffline, "cannot replay queue while offline")
	}
	if !e.replayMu.TryLock() {
		return nil, apperrors.New(apperrors.ErrSyncInProgress, "queue replay already in progress")
	}
	defer e.replayMu.Unlock()

	items, err := e.queue.Pending(ctx)
	if err != nil {
		return nil, err
	}

	result := &QueueResult{}
	blocked := make(map[string]bool)
	now := e.now()
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			break
		}
		key := item.Collection + "/" + item.RecordKey
		if blocked[key] || !item.Due(now) {
			blocked[key] = true
			result.Deferred++
			continue
		}

		if err := e.replay(ctx, item, item.ID); err != nil {
			blocked[key] = true
			result.Failures = append(result.Failures, QueueFailure{
				ItemID:     item.ID,
				Collection: item.Collection,
				RecordKey:  item.RecordKey,
				Error:      err.Error(),
			})
			if merr := e.queue.MarkFailed(ctx, item, err); merr != nil {
				return result, merr
			}
			continue
		}
		if err := e.queue.MarkSynced(ctx, item); err != nil {
			return result, err
		}
		result.Replayed++
	}

	e.refreshPending(ctx)
	e.emit(Event{Type: EventQueueProcessed, Queue: result})

	if len(result.Failures) > 0 {
		keys := make([]string, 0, len(result.Failures))
		for _, f := range result.Failures {
			keys = append(keys, f.Collection+"/"+f.RecordKey)
		}
		return result, apperrors.Newf(apperrors.ErrQueueReplay, "%d queued edits failed to replay: %s",
			len(result.Failures), strings.Join(keys, ", "))
	}
	if result.Replayed > 0 {
		logging.Info("Queue processing completed", map[string]interface{}{
			"replayed": result.Replayed,
			"deferred": result.Deferred,
		})
	}
	return result, nil
}

// PurgeSynced deletes replayed items older than retention.
func (e *Engine) PurgeSynced(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := e.queue.PurgeSynced(ctx, retention)
	if err == nil {
		e.refreshPending(ctx)
	}
	return n, err
}

// QueueStats summarizes the sync queue.
func (e *Engine) QueueStats(ctx context.Context) (*models.QueueStats, error) {
	return e.queue.Stats(ctx)
}

var _ SyncEngineInterface = (*Engine)(nil)
