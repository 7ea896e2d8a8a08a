// Package scheduler runs sync in the background: periodic pulls on a cron
// schedule, queue replay on a ticker, and a connectivity probe that flips
// the engine online or offline.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kimhsiao/shule/backend/internal/errors"
	"github.com/kimhsiao/shule/backend/internal/logging"
	"github.com/kimhsiao/shule/backend/internal/models"
	syncpkg "github.com/kimhsiao/shule/backend/internal/sync"
)

// purger is implemented by engines that can drop replayed queue items.
type purger interface {
	PurgeSynced(ctx context.Context, retention time.Duration) (int64, error)
}

// Scheduler manages background sync operations.
type Scheduler struct {
	engine syncpkg.SyncEngineInterface
	config SchedulerConfig

	cron    *cron.Cron
	entry   cron.EntryID
	baseCtx context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu              sync.RWMutex
	isRunning       bool
	stopped         bool // set by Stop; no new background work after it
	lastSyncTime    time.Time
	syncInProgress  bool
	queueInProgress bool
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	Cron          string        // pull schedule (default: every 15 minutes)
	QueueInterval time.Duration // how often to replay the queue (default: 1 minute)
	ProbeInterval time.Duration // connectivity probe period, 0 disables probing
	Timeout       time.Duration // per-sync deadline (default: 5 minutes)
	Retention     time.Duration // replayed items kept this long, 0 keeps them forever
	AutoSync      bool          // replay and pull as soon as the engine comes back online
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Cron:          "@every 15m",
		QueueInterval: time.Minute,
		ProbeInterval: 30 * time.Second,
		Timeout:       5 * time.Minute,
		Retention:     7 * 24 * time.Hour,
		AutoSync:      true,
	}
}

// NewScheduler creates a new Scheduler. The cron expression is validated
// here so a bad schedule fails at startup.
func NewScheduler(engine syncpkg.SyncEngineInterface, config *SchedulerConfig) (*Scheduler, error) {
	def := DefaultSchedulerConfig()
	if config == nil {
		config = def
	}
	cfg := *config
	if cfg.Cron == "" {
		cfg.Cron = def.Cron
	}
	if cfg.QueueInterval <= 0 {
		cfg.QueueInterval = def.QueueInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	s := &Scheduler{
		engine:  engine,
		config:  cfg,
		baseCtx: context.Background(),
	}
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{})), cron.WithLogger(cronLogger{}))

	id, err := s.cron.AddFunc(cfg.Cron, func() { s.runSync(s.context(), "periodic") })
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, fmt.Sprintf("invalid sync schedule %q", cfg.Cron), err)
	}
	s.entry = id

	if p, ok := engine.(purger); ok && cfg.Retention > 0 {
		if _, err := s.cron.AddFunc("@daily", func() { s.purge(p) }); err != nil {
			return nil, errors.Wrap(errors.ErrInternal, "schedule queue purge", err)
		}
	}
	return s, nil
}

func (s *Scheduler) context() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseCtx
}

// Start starts the background sync scheduler. Work stops when ctx is
// canceled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopped = false
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.stopCh = make(chan struct{})
	runCtx, stopCh := s.baseCtx, s.stopCh
	s.mu.Unlock()

	s.cron.Start()

	s.wg.Add(1)
	go s.queueProcessorLoop(runCtx, stopCh)

	if s.config.ProbeInterval > 0 {
		s.wg.Add(1)
		go s.probeLoop(runCtx, stopCh)
	}

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"schedule":       s.config.Cron,
		"queue_interval": s.config.QueueInterval.String(),
		"probe_interval": s.config.ProbeInterval.String(),
	})
}

// Stop stops the background sync scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.stopped = true
	cancel, stopCh := s.cancel, s.stopCh
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	close(stopCh)
	cancel()
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// SetOnlineStatus forwards a connectivity change to the engine. On an
// offline to online transition with AutoSync set, the queue is replayed
// and a pull started in the background, unless the scheduler has been
// stopped.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	if !s.engine.SetOnline(isOnline) {
		return
	}
	if !isOnline || !s.config.AutoSync {
		return
	}

	// wg.Add must not race Stop's Wait
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	ctx := s.baseCtx
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.processQueue(ctx)
		s.runSync(ctx, "reconnect")
	}()
}

// Probe pings the remote store once and updates the online status.
func (s *Scheduler) Probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := s.engine.Ping(probeCtx)
	if err != nil && s.engine.Status().IsOnline {
		logging.Warn("Remote store unreachable", map[string]interface{}{"error": err.Error()})
	}
	s.SetOnlineStatus(err == nil)
	return err == nil
}

func (s *Scheduler) probeLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	s.Probe(ctx)
	ticker := time.NewTicker(s.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

func (s *Scheduler) queueProcessorLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.QueueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.processQueue(ctx)
		}
	}
}

// runSync executes a pull unless one is already running.
func (s *Scheduler) runSync(ctx context.Context, trigger string) {
	if !s.IsOnline() {
		logging.Debug("Skipping sync - engine is offline", map[string]interface{}{"trigger": trigger})
		return
	}

	s.mu.Lock()
	if s.syncInProgress {
		s.mu.Unlock()
		logging.Debug("Sync already in progress, skipping", map[string]interface{}{"trigger": trigger})
		return
	}
	s.syncInProgress = true
	s.mu.Unlock()

	if _, err := s.doSync(ctx); err != nil {
		if errors.Is(err, errors.ErrSyncPartial) {
			logging.Warn("Sync partially failed", map[string]interface{}{"trigger": trigger, "error": err.Error()})
		} else {
			logging.ErrorWithCode("Sync failed", string(errors.CodeOf(err)), err,
				map[string]interface{}{"trigger": trigger})
		}
	}
}

// doSync runs one pull and clears syncInProgress when done.
func (s *Scheduler) doSync(ctx context.Context) (*syncpkg.SyncResult, error) {
	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	syncCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	result, err := s.engine.Sync(syncCtx)
	if result != nil && len(result.Succeeded()) > 0 {
		s.mu.Lock()
		s.lastSyncTime = result.EndTime
		s.mu.Unlock()
	}
	return result, err
}

// processQueue replays due queue items when online.
func (s *Scheduler) processQueue(ctx context.Context) {
	if !s.IsOnline() {
		return
	}
	s.mu.Lock()
	if s.queueInProgress {
		s.mu.Unlock()
		return
	}
	s.queueInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.queueInProgress = false
		s.mu.Unlock()
	}()

	result, err := s.engine.ProcessQueue(ctx)
	if err != nil {
		if errors.Is(err, errors.ErrQueueReplay) && result != nil {
			logging.Warn("Some queued edits failed to replay", map[string]interface{}{"failed": len(result.Failures)})
			return
		}
		if !errors.Is(err, errors.ErrOffline) && !errors.Is(err, errors.ErrSyncInProgress) {
			logging.Error("Queue processing failed", err)
		}
	}
}

func (s *Scheduler) purge(p purger) {
	if _, err := p.PurgeSynced(s.context(), s.config.Retention); err != nil {
		logging.Error("Failed to purge synced queue items", err)
	}
}

// TriggerSync starts a pull in the background. It returns false if a sync
// is already in progress or the engine is offline.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	s.mu.RLock()
	isSyncing := s.syncInProgress
	s.mu.RUnlock()

	if isSyncing || !s.IsOnline() {
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSync(context.WithoutCancel(ctx), "manual")
	}()
	return true
}

// SyncNow runs a pull and waits for it.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.SyncResult, error) {
	s.mu.Lock()
	if s.syncInProgress {
		s.mu.Unlock()
		return nil, errors.New(errors.ErrSyncInProgress, "sync already in progress")
	}
	s.syncInProgress = true
	s.mu.Unlock()

	result, err := s.doSync(ctx)
	if err != nil {
		return result, err
	}

	logging.Info("Manual sync completed", map[string]interface{}{
		"pulled":    result.Pulled,
		"conflicts": result.Conflicts,
	})
	return result, nil
}

// SchedulerStatus is a snapshot of the scheduler and engine state.
type SchedulerStatus struct {
	IsRunning       bool              `json:"is_running"`
	IsOnline        bool              `json:"is_online"`
	LastSyncTime    *time.Time        `json:"last_sync_time,omitempty"`
	NextSyncTime    *time.Time        `json:"next_sync_time,omitempty"`
	SyncInProgress  bool              `json:"sync_in_progress"`
	QueueInProgress bool              `json:"queue_in_progress"`
	Sync            models.SyncStatus `json:"sync"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	engineStatus := s.engine.Status()

	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning:       s.isRunning,
		IsOnline:        engineStatus.IsOnline,
		SyncInProgress:  s.syncInProgress,
		QueueInProgress: s.queueInProgress,
		Sync:            engineStatus,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	if s.isRunning {
		if next := s.cron.Entry(s.entry).Next; !next.IsZero() {
			status.NextSyncTime = &next
		}
	}
	return status
}

// IsOnline returns whether the engine is in online mode.
func (s *Scheduler) IsOnline() bool {
	return s.engine.Status().IsOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// cronLogger routes cron's own messages to the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.Debug("cron: "+msg, pairs(keysAndValues))
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logging.Error("cron: "+msg, err, pairs(keysAndValues))
}

func pairs(kv []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return out
}
