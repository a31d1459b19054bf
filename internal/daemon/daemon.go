// Package daemon drives periodic reconciliation passes and owns the daemon
// lifecycle (pid file, stop signal).
package daemon

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/asheshgoplani/claude-status/internal/config"
	"github.com/asheshgoplani/claude-status/internal/logging"
	"github.com/asheshgoplani/claude-status/internal/notify"
	"github.com/asheshgoplani/claude-status/internal/scanner"
	"github.com/asheshgoplani/claude-status/internal/statedb"
	"github.com/asheshgoplani/claude-status/internal/tracker"
)

var log = logging.ForComponent(logging.CompDaemon)

// watchDebounce coalesces bursts of catalog writes (Claude appends to a
// session log on every turn) into one early pass.
const watchDebounce = 500 * time.Millisecond

// Daemon runs full reconciliation passes on an interval, with an optional
// fsnotify trigger on the session catalog for sub-interval latency.
type Daemon struct {
	db          *statedb.StateDB
	scanner     *scanner.Scanner
	rec         *tracker.Reconciler
	sender      *notify.Sender
	interval    time.Duration
	watch       bool
	projectsDir string

	// limiter bounds the UDP signal stream; a display refresh twice a
	// second is plenty.
	limiter *rate.Limiter
}

// New assembles a Daemon from the user config.
func New(db *statedb.StateDB, cfg *config.Config) *Daemon {
	return &Daemon{
		db:          db,
		scanner:     scanner.New(config.ProjectsDir()),
		rec:         tracker.NewReconciler(cfg.ActivityThreshold()),
		sender:      notify.New(cfg.NotifyAddr()),
		interval:    cfg.PollInterval(),
		watch:       cfg.CatalogWatchEnabled(),
		projectsDir: config.ProjectsDir(),
		limiter:     rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
	}
}

// Run executes passes until ctx is cancelled. The first pass runs
// immediately. Pass failures are logged and the loop continues; shutdown
// latency is bounded by the select, not the poll interval.
func (d *Daemon) Run(ctx context.Context) error {
	kick := make(chan struct{}, 1)
	if d.watch {
		if closer := d.watchCatalog(ctx, kick); closer != nil {
			defer closer()
		}
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			d.pass(ctx)
			timer.Reset(d.interval)
		case <-kick:
			d.pass(ctx)
			timer.Reset(d.interval)
		}
	}
}

// pass runs one reconciliation pass and signals listeners. Panics and errors
// are contained here so one bad pass never takes the loop down.
func (d *Daemon) pass(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("pass_panic", "panic", r)
		}
	}()

	if err := tracker.RunPass(ctx, d.db, d.scanner, d.rec); err != nil {
		log.Error("pass_failed", "error", err)
		return
	}
	if d.limiter.Allow() {
		d.sender.Send()
	}
}

// watchCatalog triggers an early pass when the session catalog changes,
// debounced. Returns a cleanup func, or nil when the watcher can't start
// (the interval timer still covers correctness).
func (d *Daemon) watchCatalog(ctx context.Context, kick chan<- struct{}) func() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Debug("watcher_unavailable", "error", err)
		return nil
	}
	if err := w.Add(d.projectsDir); err != nil {
		log.Debug("watcher_add_failed", "dir", d.projectsDir, "error", err)
		w.Close()
		return nil
	}

	go func() {
		var debounce *time.Timer
		fire := func() {
			select {
			case kick <- struct{}{}:
			default:
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-w.Events:
				if !ok {
					return
				}
				if debounce == nil {
					debounce = time.AfterFunc(watchDebounce, fire)
				} else {
					debounce.Reset(watchDebounce)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Debug("watcher_error", "error", err)
			}
		}
	}()

	return func() { w.Close() }
}
