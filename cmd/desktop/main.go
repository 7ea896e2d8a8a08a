// Package main runs the local school data server for desktop platforms.
// Desktop clients talk to it over REST and WebSocket on localhost.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kimhsiao/shule/backend/cmd/desktop/handlers"
	"github.com/kimhsiao/shule/backend/internal/app"
	"github.com/kimhsiao/shule/backend/internal/config"
	"github.com/kimhsiao/shule/backend/internal/logging"
)

const serviceName = "shule-desktop"

func main() {
	configPath := flag.String("config", "", "path to a config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(os.Stdout, logging.ParseLevel(cfg.Log.Level))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logging.Error("Failed to start", err)
		os.Exit(1)
	}
	defer a.Close()

	hub := NewWSHub()
	defer hub.Close()
	a.Engine.SetEventHandler(hub.Broadcast)

	a.Scheduler.Start(ctx)
	defer a.Scheduler.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
		Handler:           newRouter(a, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info("Server starting", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Server error", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logging.Info("Shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server forced shutdown", err)
	}
	logging.Info("Server stopped")
}

// newRouter mounts the API on a chi router.
func newRouter(a *app.App, hub *WSHub) http.Handler {
	cacheHandler := handlers.NewCacheHandler(a.Cache, a.Engine)
	syncHandler := handlers.NewSyncHandler(a.Scheduler, a.Engine)
	ttHandler := handlers.NewTimetableHandler(a.Timetable, a.Axis)
	conflictHandler := handlers.NewConflictHandler(a.Repo)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","service":%q}`, serviceName)
	})

	r.Get("/api/sync/status", syncHandler.GetStatus)
	r.Post("/api/sync", syncHandler.TriggerSync)
	r.Post("/api/network", syncHandler.SetNetwork)
	r.Get("/api/queue", syncHandler.QueueStats)
	r.Post("/api/queue", syncHandler.ProcessQueue)
	r.Get("/api/conflicts", conflictHandler.List)

	r.Route("/api/cache", cacheHandler.Routes)
	r.Route("/api/timetable", ttHandler.Routes)

	r.Get("/ws", HandleWebSocket(hub))
	return r
}

// requestLogger logs each request once it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		fields := map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}
		if ww.Status() >= http.StatusInternalServerError {
			logging.Warn("Request failed", fields)
			return
		}
		logging.Debug("Request", fields)
	})
}
