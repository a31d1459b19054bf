package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/asheshgoplani/claude-status/internal/config"
	"github.com/asheshgoplani/claude-status/internal/notify"
	"github.com/asheshgoplani/claude-status/internal/scanner"
	"github.com/asheshgoplani/claude-status/internal/statedb"
	"github.com/asheshgoplani/claude-status/internal/tracker"
)

// maxHookPayload bounds the stdin read; real hook payloads are tiny.
const maxHookPayload = 1 << 20

// handleNotify is the hook entry point. Claude Code runs it on every hook
// event and blocks on it, so it must be fast, silent, and unable to fail:
// any error or panic is discarded and the process exits 0.
func handleNotify(cfg *config.Config) {
	defer func() { _ = recover() }()

	payload, err := io.ReadAll(io.LimitReader(os.Stdin, maxHookPayload))
	if err != nil {
		return
	}

	db, err := statedb.Open(cfg.DBPath())
	if err != nil {
		return
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d := tracker.NewHookDispatcher(
		db,
		scanner.New(config.ProjectsDir()),
		tracker.NewReconciler(cfg.ActivityThreshold()),
	)
	changed, err := d.Dispatch(ctx, payload)
	if err == nil && changed {
		notify.New(cfg.NotifyAddr()).Send()
	}
}
