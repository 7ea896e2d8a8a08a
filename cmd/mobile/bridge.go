// Package main is the bridge the mobile shells load as a shared library
// (libshule.so on Android, Shule.framework on iOS). The exported C functions
// in ffi.go are thin wrappers over the bridge below, which speaks JSON.
package main

import (
	"context"
	"encoding/json"
	"os"
	gosync "sync"

	"github.com/kimhsiao/shule/backend/internal/app"
	"github.com/kimhsiao/shule/backend/internal/config"
	apperrors "github.com/kimhsiao/shule/backend/internal/errors"
	"github.com/kimhsiao/shule/backend/internal/logging"
	"github.com/kimhsiao/shule/backend/internal/models"
	"github.com/kimhsiao/shule/backend/internal/timetable"
)

// bridge holds the single app instance of the library.
type bridge struct {
	mu      gosync.RWMutex
	app     *app.App
	ctx     context.Context
	cancel  context.CancelFunc
	lastErr string
}

var core bridge

var errNotInitialized = apperrors.New(apperrors.ErrInternal, "core not initialized")

// init opens the app with the config at configPath (empty for defaults)
// and dataDir overriding the configured data directory when set. Calling
// it again while open is a no-op.
func (b *bridge) init(configPath, dataDir string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.app != nil {
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	logging.Init(os.Stderr, logging.ParseLevel(cfg.Log.Level))

	ctx, cancel := context.WithCancel(context.Background())
	a, err := app.New(ctx, cfg)
	if err != nil {
		cancel()
		return err
	}
	a.Scheduler.Start(ctx)

	b.app, b.ctx, b.cancel = a, ctx, cancel
	return nil
}

func (b *bridge) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.app == nil {
		return
	}
	b.app.Scheduler.Stop()
	b.cancel()
	if err := b.app.Close(); err != nil {
		logging.Error("Failed to close core", err)
	}
	b.app = nil
}

func (b *bridge) setLastError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.lastErr = ""
		return
	}
	b.lastErr = err.Error()
}

func (b *bridge) lastError() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastErr
}

// call runs fn against the open app and encodes its result.
func (b *bridge) call(fn func(ctx context.Context, a *app.App) (interface{}, error)) (string, error) {
	b.mu.RLock()
	a, ctx := b.app, b.ctx
	b.mu.RUnlock()
	if a == nil {
		return "", errNotInitialized
	}

	v, err := fn(ctx, a)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrInternal, "encode result", err)
	}
	return string(data), nil
}

func (b *bridge) status() (string, error) {
	return b.call(func(ctx context.Context, a *app.App) (interface{}, error) {
		return a.Scheduler.GetStatus(), nil
	})
}

// setOnline forwards the platform's connectivity signal.
func (b *bridge) setOnline(online bool) (string, error) {
	return b.call(func(ctx context.Context, a *app.App) (interface{}, error) {
		a.Scheduler.SetOnlineStatus(online)
		return a.Engine.Status(), nil
	})
}

// syncNow pulls and reports the per-collection result even when the pull
// was partial; the error then travels alongside it.
func (b *bridge) syncNow() (string, error) {
	return b.call(func(ctx context.Context, a *app.App) (interface{}, error) {
		res, err := a.Scheduler.SyncNow(ctx)
		if err != nil && !(apperrors.Is(err, apperrors.ErrSyncPartial) && res != nil) {
			return nil, err
		}
		out := map[string]interface{}{"result": res}
		if err != nil {
			out["error"] = err.Error()
		}
		return out, nil
	})
}

func (b *bridge) processQueue() (string, error) {
	return b.call(func(ctx context.Context, a *app.App) (interface{}, error) {
		res, err := a.Engine.ProcessQueue(ctx)
		if err != nil && !(apperrors.Is(err, apperrors.ErrQueueReplay) && res != nil) {
			return nil, err
		}
		out := map[string]interface{}{"result": res}
		if err != nil {
			out["error"] = err.Error()
		}
		return out, nil
	})
}

// conflicts lists the newest pending edits a pull overwrote.
func (b *bridge) conflicts(limit int) (string, error) {
	return b.call(func(ctx context.Context, a *app.App) (interface{}, error) {
		logs, err := a.Repo.ListConflictLogs(ctx, limit)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "list conflicts", err)
		}
		if logs == nil {
			logs = []*models.ConflictLog{}
		}
		return logs, nil
	})
}

func collection(name string) (models.CollectionName, error) {
	c := models.CollectionName(name)
	if !models.IsCollection(c) {
		return "", apperrors.Newf(apperrors.ErrInvalid, "unknown collection %q", name)
	}
	return c, nil
}

func (b *bridge) cacheGet(name, key string) (string, error) {
	return b.call(func(ctx context.Context, a *app.App) (interface{}, error) {
		c, err := collection(name)
		if err != nil {
			return nil, err
		}
		rec, err := a.Cache.Get(ctx, c, key)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, apperrors.Newf(apperrors.ErrNotFound, "%s/%s not cached", name, key)
		}
		return rec, nil
	})
}

// cacheList returns every record of a collection, or those matching
// index=value when index is set.
func (b *bridge) cacheList(name, index, value string) (string, error) {
	return b.call(func(ctx context.Context, a *app.App) (interface{}, error) {
		c, err := collection(name)
		if err != nil {
			return nil, err
		}
		var recs []models.Record
		if index != "" {
			recs, err = a.Cache.GetByIndex(ctx, c, index, value)
		} else {
			recs, err = a.Cache.GetAll(ctx, c)
		}
		if err != nil {
			return nil, err
		}
		if recs == nil {
			recs = []models.Record{}
		}
		return recs, nil
	})
}

// cachePut writes a record through the sync engine; op is create or
// update.
func (b *bridge) cachePut(name, op, record string) (string, error) {
	return b.call(func(ctx context.Context, a *app.App) (interface{}, error) {
		c, err := collection(name)
		if err != nil {
			return nil, err
		}
		rec, err := models.DecodeRecord(c, json.RawMessage(record))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrValidation, "invalid record", err)
		}
		queued, err := a.Engine.Write(ctx, models.QueueOp(op), rec)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"record": rec, "queued": queued}, nil
	})
}

func (b *bridge) cacheDelete(name, key string) (string, error) {
	return b.call(func(ctx context.Context, a *app.App) (interface{}, error) {
		c, err := collection(name)
		if err != nil {
			return nil, err
		}
		queued, err := a.Engine.Remove(ctx, c, key)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"queued": queued}, nil
	})
}

func decodeArg(arg string, v interface{}) error {
	if err := json.Unmarshal([]byte(arg), v); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "invalid argument", err)
	}
	return nil
}

func (b *bridge) timetableList(filter string) (string, error) {
	return b.call(func(ctx context.Context, a *app.App) (interface{}, error) {
		var f models.TimetableFilter
		if err := decodeArg(filter, &f); err != nil {
			return nil, err
		}
		entries, err := a.Timetable.Entries(ctx, f)
		if err != nil {
			return nil, err
		}
		if entries == nil {
			entries = []*models.TimetableEntry{}
		}
		return entries, nil
	})
}

func (b *bridge) timetableAdd(entry string) (string, error) {
	return b.call(func(ctx context.Context, a *app.App) (interface{}, error) {
		var e models.TimetableEntry
		if err := decodeArg(entry, &e); err != nil {
			return nil, err
		}
		return a.Timetable.AddEntry(ctx, &e)
	})
}

func (b *bridge) timetableUpdate(id, patch string) (string, error) {
	return b.call(func(ctx context.Context, a *app.App) (interface{}, error) {
		var p timetable.EntryPatch
		if err := decodeArg(patch, &p); err != nil {
			return nil, err
		}
		return a.Timetable.UpdateEntry(ctx, id, p)
	})
}

func (b *bridge) timetableDelete(id string) (string, error) {
	return b.call(func(ctx context.Context, a *app.App) (interface{}, error) {
		if err := a.Timetable.DeleteEntry(ctx, id); err != nil {
			return nil, err
		}
		return map[string]string{"deleted": id}, nil
	})
}

func (b *bridge) timetableCheck(query string) (string, error) {
	return b.call(func(ctx context.Context, a *app.App) (interface{}, error) {
		var q models.ConflictQuery
		if err := decodeArg(query, &q); err != nil {
			return nil, err
		}
		conflict, err := a.Timetable.CheckConflict(ctx, q)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"conflict": conflict}, nil
	})
}

func (b *bridge) timetableClone(req string) (string, error) {
	return b.call(func(ctx context.Context, a *app.App) (interface{}, error) {
		var r models.CloneRequest
		if err := decodeArg(req, &r); err != nil {
			return nil, err
		}
		n, err := a.Timetable.CloneSchedule(ctx, r)
		if err != nil {
			return nil, err
		}
		return map[string]int{"copied": n}, nil
	})
}

func (b *bridge) timetableGrid(filter string) (string, error) {
	return b.call(func(ctx context.Context, a *app.App) (interface{}, error) {
		var f models.TimetableFilter
		if err := decodeArg(filter, &f); err != nil {
			return nil, err
		}
		if f.SectionID == "" && f.TeacherID == "" {
			return nil, apperrors.New(apperrors.ErrInvalid, "section_id or teacher_id is required")
		}
		entries, err := a.Timetable.Entries(ctx, f)
		if err != nil {
			return nil, err
		}
		return timetable.BuildGrid(entries, a.Axis), nil
	})
}

func main() {}
