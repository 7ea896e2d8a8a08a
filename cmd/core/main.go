// Package main is the admin command line for the local school data store.
// It shares configuration and storage with the desktop server, so it can
// inspect the cache, drive a sync or replay the queue without the UI.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/kimhsiao/shule/backend/internal/app"
	"github.com/kimhsiao/shule/backend/internal/config"
	"github.com/kimhsiao/shule/backend/internal/db"
	apperrors "github.com/kimhsiao/shule/backend/internal/errors"
	"github.com/kimhsiao/shule/backend/internal/logging"
	"github.com/kimhsiao/shule/backend/internal/models"
	"github.com/kimhsiao/shule/backend/internal/timetable"
)

// Version is set at build time
var Version = "0.1.0"

const usage = `usage: shule [-config file] <command> [args]

commands:
  version                         print the version
  migrate up|down|version|status  manage the local schema
  status                          show sync state and queue counts
  counts                          show cached record counts per collection
  sync                            probe the remote store and pull
  queue stats|process|retry|purge manage the pending write queue
  conflicts [-limit N]            list local edits overwritten by a pull
  clone -from Y/T -to Y/T         copy a term's timetable forward
  grid -year Y -term T -section S print a weekly timetable grid
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("shule", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := fs.String("config", "", "path to a config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	if cmd == "version" {
		fmt.Fprintf(stdout, "shule %s\n", Version)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	logging.Init(stderr, logging.ParseLevel(cfg.Log.Level))

	if cmd == "migrate" {
		err = migrate(cfg, rest, stdout)
	} else {
		err = withApp(ctx, cfg, func(a *app.App) error {
			switch cmd {
			case "status":
				return status(ctx, a, stdout)
			case "counts":
				return counts(ctx, a, stdout)
			case "sync":
				return pull(ctx, a, stdout)
			case "queue":
				return queueCmd(ctx, a, rest, stdout)
			case "conflicts":
				return conflicts(ctx, a, rest, stdout, stderr)
			case "clone":
				return clone(ctx, a, rest, stdout, stderr)
			case "grid":
				return grid(ctx, a, rest, stdout, stderr)
			default:
				return apperrors.Newf(apperrors.ErrInvalid, "unknown command %q", cmd)
			}
		})
	}
	if err != nil {
		if apperrors.Is(err, apperrors.ErrInvalid) {
			fmt.Fprintf(stderr, "%v\n\n%s", err, usage)
			return 2
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func withApp(ctx context.Context, cfg *config.Config, fn func(*app.App) error) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrate(cfg *config.Config, args []string, w io.Writer) error {
	if len(args) != 1 {
		return apperrors.New(apperrors.ErrInvalid, "migrate needs one of up, down, version, status")
	}
	conn, err := db.Open(cfg.DataDir, cfg.DBFile)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "open local database", err)
	}
	defer conn.Close()

	m := db.NewMigrator(conn.DB, db.Migrations())
	if err := m.Initialize(); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "initialize migrations", err)
	}

	switch args[0] {
	case "up":
		if err := m.Up(); err != nil {
			return apperrors.Wrap(apperrors.ErrMigration, "apply migrations", err)
		}
	case "down":
		if err := m.Down(); err != nil {
			return apperrors.Wrap(apperrors.ErrMigration, "roll back migration", err)
		}
	case "version":
	case "status":
		applied, err := m.GetAppliedMigrations()
		if err != nil {
			return apperrors.Wrap(apperrors.ErrMigration, "list migrations", err)
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tAPPLIED\tDESCRIPTION")
		for _, mig := range applied {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", mig.Version, mig.AppliedAt.Format(time.RFC3339), mig.Description)
		}
		tw.Flush()
		pending, err := m.Pending()
		if err != nil {
			return apperrors.Wrap(apperrors.ErrMigration, "list pending migrations", err)
		}
		fmt.Fprintf(w, "pending: %v\n", pending)
		return nil
	default:
		return apperrors.Newf(apperrors.ErrInvalid, "unknown migrate action %q", args[0])
	}

	version, err := m.CurrentVersion()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "read schema version", err)
	}
	fmt.Fprintf(w, "schema version %d\n", version)
	return nil
}

func status(ctx context.Context, a *app.App, w io.Writer) error {
	stats, err := a.Engine.QueueStats(ctx)
	if err != nil {
		return err
	}
	return printJSON(w, map[string]interface{}{
		"configured": a.Engine.Configured(),
		"sync":       a.Engine.Status(),
		"queue":      stats,
	})
}

func counts(ctx context.Context, a *app.App, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COLLECTION\tRECORDS")
	for _, name := range models.Collections() {
		n, err := a.Cache.Count(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%d\n", name, n)
	}
	return tw.Flush()
}

// goOnline pings the remote store and marks the engine online.
func goOnline(ctx context.Context, a *app.App) error {
	if !a.Engine.Configured() {
		return apperrors.New(apperrors.ErrSyncNotConfigured, "no remote store configured")
	}
	if err := a.Engine.Ping(ctx); err != nil {
		return apperrors.Wrap(apperrors.ErrOffline, "remote store unreachable", err)
	}
	a.Engine.SetOnline(true)
	return nil
}

// pull replays the queue and then pulls every tracked collection, the
// same order the desktop server uses on reconnect.
func pull(ctx context.Context, a *app.App, w io.Writer) error {
	if err := goOnline(ctx, a); err != nil {
		return err
	}
	qres, qerr := a.Engine.ProcessQueue(ctx)
	if qerr != nil && !apperrors.Is(qerr, apperrors.ErrQueueReplay) {
		return qerr
	}

	ctx, cancel := context.WithTimeout(ctx, a.Config.Sync.Timeout)
	defer cancel()
	result, err := a.Engine.Sync(ctx)
	if result != nil {
		printJSON(w, map[string]interface{}{"queue": qres, "sync": result})
	}
	if err != nil {
		return err
	}
	return qerr
}

func queueCmd(ctx context.Context, a *app.App, args []string, w io.Writer) error {
	if len(args) != 1 {
		return apperrors.New(apperrors.ErrInvalid, "queue needs one of stats, process, retry, purge")
	}
	switch args[0] {
	case "stats":
		stats, err := a.Engine.QueueStats(ctx)
		if err != nil {
			return err
		}
		return printJSON(w, stats)
	case "process":
		if err := goOnline(ctx, a); err != nil {
			return err
		}
		result, err := a.Engine.ProcessQueue(ctx)
		if result != nil {
			printJSON(w, result)
		}
		return err
	case "retry":
		n, err := a.Queue.ResetRetries(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "reset %d items\n", n)
		return nil
	case "purge":
		n, err := a.Engine.PurgeSynced(ctx, a.Config.Sync.Retention)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "purged %d synced items\n", n)
		return nil
	default:
		return apperrors.Newf(apperrors.ErrInvalid, "unknown queue action %q", args[0])
	}
}

func conflicts(ctx context.Context, a *app.App, args []string, w, stderr io.Writer) error {
	fs := flag.NewFlagSet("conflicts", flag.ContinueOnError)
	fs.SetOutput(stderr)
	limit := fs.Int("limit", 20, "number of entries to show")
	if err := fs.Parse(args); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "conflicts", err)
	}
	if *limit <= 0 {
		return apperrors.New(apperrors.ErrInvalid, "-limit must be positive")
	}

	logs, err := a.Repo.ListConflictLogs(ctx, *limit)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "list conflicts", err)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DETECTED\tCOLLECTION\tKEY\tRESOLUTION")
	for _, c := range logs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			c.DetectedAtTime().UTC().Format(time.RFC3339), c.Collection, c.RecordKey, c.Resolution)
	}
	return tw.Flush()
}

// periodFlag parses YEAR/TERM, e.g. 2025/2.
type periodFlag struct{ p *models.Period }

func (f periodFlag) String() string {
	if f.p == nil || f.p.Year == 0 {
		return ""
	}
	return fmt.Sprintf("%d/%d", f.p.Year, f.p.Term)
}

func (f periodFlag) Set(s string) error {
	year, term, ok := strings.Cut(s, "/")
	if !ok {
		return fmt.Errorf("want YEAR/TERM, got %q", s)
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return fmt.Errorf("bad year %q", year)
	}
	t, err := strconv.Atoi(term)
	if err != nil {
		return fmt.Errorf("bad term %q", term)
	}
	*f.p = models.Period{Year: y, Term: t}
	return nil
}

func clone(ctx context.Context, a *app.App, args []string, w, stderr io.Writer) error {
	var req models.CloneRequest
	fs := flag.NewFlagSet("clone", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Var(periodFlag{&req.Source}, "from", "source period YEAR/TERM")
	fs.Var(periodFlag{&req.Target}, "to", "target period YEAR/TERM")
	fs.StringVar(&req.SectionID, "section", "", "only clone this section")
	if err := fs.Parse(args); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "clone", err)
	}

	n, err := a.Timetable.CloneSchedule(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "copied %d entries from %s to %s\n", n, req.Source, req.Target)
	return nil
}

func grid(ctx context.Context, a *app.App, args []string, w, stderr io.Writer) error {
	var f models.TimetableFilter
	asJSON := false
	fs := flag.NewFlagSet("grid", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVar(&f.AcademicYear, "year", 0, "academic year")
	fs.IntVar(&f.Term, "term", 0, "term")
	fs.StringVar(&f.SectionID, "section", "", "section id")
	fs.StringVar(&f.TeacherID, "teacher", "", "teacher id")
	fs.BoolVar(&asJSON, "json", false, "print the grid as JSON")
	if err := fs.Parse(args); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "grid", err)
	}
	if f.SectionID == "" && f.TeacherID == "" {
		return apperrors.New(apperrors.ErrInvalid, "grid needs -section or -teacher")
	}

	entries, err := a.Timetable.Entries(ctx, f)
	if err != nil {
		return err
	}
	g := timetable.BuildGrid(entries, a.Axis)
	if asJSON {
		return printJSON(w, g)
	}
	return printGrid(w, g)
}
