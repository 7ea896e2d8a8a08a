// Package app wires the components shared by the desktop server and the
// admin CLI.
package app

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/kimhsiao/shule/backend/internal/cache"
	"github.com/kimhsiao/shule/backend/internal/config"
	"github.com/kimhsiao/shule/backend/internal/db"
	"github.com/kimhsiao/shule/backend/internal/logging"
	"github.com/kimhsiao/shule/backend/internal/models"
	"github.com/kimhsiao/shule/backend/internal/remote"
	"github.com/kimhsiao/shule/backend/internal/remote/pgstore"
	"github.com/kimhsiao/shule/backend/internal/sync"
	"github.com/kimhsiao/shule/backend/internal/sync/conflict"
	"github.com/kimhsiao/shule/backend/internal/sync/queue"
	"github.com/kimhsiao/shule/backend/internal/sync/scheduler"
	"github.com/kimhsiao/shule/backend/internal/telemetry"
	"github.com/kimhsiao/shule/backend/internal/timetable"
)

// App holds the wired components.
type App struct {
	Config    *config.Config
	Cache     *cache.Store
	Repo      *db.Repository
	Queue     *queue.Queue
	Engine    *sync.Engine
	Scheduler *scheduler.Scheduler
	Timetable *timetable.Engine
	Axis      timetable.SlotAxis

	closers []func() error
}

// remoteBackend is what each remote driver provides.
type remoteBackend interface {
	sync.RemoteSource
	timetable.Store
}

// New opens the local cache and, when configured, the remote store, and
// builds the engines on top. Timetable operations go to the remote store
// when one is configured and to the local database otherwise.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	metrics := telemetry.Default()

	a.Cache = cache.New(cache.Options{
		DataDir:    cfg.DataDir,
		FileName:   cfg.DBFile,
		QuotaBytes: cfg.Storage.QuotaBytes,
		Metrics:    metrics,
	})
	if err := a.Cache.Initialize(ctx); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Cache.Close)
	a.Repo = db.NewRepository(a.Cache.DB())

	tracked, err := collections(cfg.Sync.Collections)
	if err != nil {
		a.Close()
		return nil, err
	}
	backend, err := openRemote(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Queue = queue.New(a.Repo, queue.Config{
		MaxRetries: cfg.Sync.MaxRetries,
		BaseDelay:  cfg.Sync.RetryBase,
	}, metrics)

	var src sync.RemoteSource
	var store timetable.Store = a.Repo
	if backend != nil {
		src, store = backend, backend
		if c, ok := backend.(interface{ Close() error }); ok {
			a.closers = append(a.closers, c.Close)
		}
	}

	a.Engine = sync.NewSyncEngine(a.Cache, src, a.Queue, conflict.NewResolver(a.Queue, a.Repo), metrics, sync.Config{
		Collections: tracked,
		Concurrency: cfg.Sync.Concurrency,
	})
	a.Engine.Refresh(ctx)

	a.Scheduler, err = scheduler.NewScheduler(a.Engine, &scheduler.SchedulerConfig{
		Cron:          cfg.Sync.Cron,
		QueueInterval: cfg.Sync.QueueInterval,
		ProbeInterval: probeInterval(cfg, backend != nil),
		Timeout:       cfg.Sync.Timeout,
		Retention:     cfg.Sync.Retention,
		AutoSync:      true,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Timetable = timetable.NewEngine(store, metrics)
	a.Axis = timetable.SlotAxis{
		DayStart:    models.MustClock(cfg.Timetable.DayStart),
		DayEnd:      models.MustClock(cfg.Timetable.DayEnd),
		SlotMinutes: cfg.Timetable.SlotMinutes,
	}
	return a, nil
}

// openRemote returns nil when no remote store is configured.
func openRemote(cfg *config.Config) (remoteBackend, error) {
	switch cfg.Remote.Driver {
	case "postgres":
		if cfg.Remote.DSN == "" {
			return nil, nil
		}
		store, err := pgstore.Open(cfg.Remote.DSN)
		if err != nil {
			return nil, err
		}
		logging.Info("Using direct Postgres remote store", nil)
		return store, nil
	case "rest", "":
		if cfg.Remote.URL == "" {
			logging.Warn("No remote store configured, edits stay queued locally", nil)
			return nil, nil
		}
		client, err := remote.NewClient(remote.Config{
			URL:       cfg.Remote.URL,
			APIKey:    cfg.Remote.APIKey,
			Timeout:   cfg.Remote.Timeout,
			RateLimit: cfg.Remote.RateLimit,
			Burst:     cfg.Remote.Burst,
		})
		if err != nil {
			return nil, err
		}
		logging.Info("Using REST remote store", map[string]interface{}{"url": cfg.Remote.URL})
		return restBackend{Client: client, TimetableStore: remote.NewTimetableStore(client)}, nil
	default:
		return nil, errors.Errorf("unknown remote driver %q", cfg.Remote.Driver)
	}
}

// restBackend joins the REST client and the timetable store built on it.
type restBackend struct {
	*remote.Client
	*remote.TimetableStore
}

func probeInterval(cfg *config.Config, configured bool) time.Duration {
	if !configured {
		return 0
	}
	return cfg.Sync.ProbeInterval
}

func collections(names []string) ([]models.CollectionName, error) {
	var out []models.CollectionName
	for _, n := range names {
		name := models.CollectionName(strings.TrimSpace(n))
		if name == "" {
			continue
		}
		if !models.IsCollection(name) {
			return nil, errors.Errorf("config: unknown sync collection %q", name)
		}
		out = append(out, name)
	}
	return out, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
