package main

import (
	"fmt"
	"os"

	"github.com/asheshgoplani/claude-status/internal/config"
	"github.com/asheshgoplani/claude-status/internal/logging"
	"github.com/asheshgoplani/claude-status/internal/statedb"
)

const Version = "0.3.1"

func main() {
	cfg, cfgErr := config.Load()
	initLogging(cfg)
	defer logging.Shutdown()

	args := os.Args[1:]
	cmd := "list"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	// The hook entry point must never print or fail, so it skips the
	// config-warning path entirely.
	if cmd == "notify" {
		handleNotify(cfg)
		return
	}

	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", cfgErr)
	}

	switch cmd {
	case "version", "--version", "-v":
		fmt.Printf("claude-status v%s\n", Version)
	case "help", "--help", "-h":
		printHelp()
	case "list", "ls":
		handleList(cfg, args)
	case "get":
		handleGet(cfg, args)
	case "poll":
		handlePoll(cfg)
	case "daemon":
		handleDaemon(cfg, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printHelp()
		os.Exit(1)
	}
}

func initLogging(cfg *config.Config) {
	dir, err := config.StatusDir()
	if err != nil {
		return
	}
	logging.Init(logging.Config{
		LogDir:    dir,
		Level:     cfg.Log.Level,
		MaxSizeMB: cfg.Log.MaxSizeMB,
	})
}

// openDB opens and migrates the store, exiting on failure. Not used on the
// hook path, which has its own silent error handling.
func openDB(cfg *config.Config) *statedb.StateDB {
	db, err := statedb.Open(cfg.DBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return db
}

func printHelp() {
	fmt.Print(`claude-status - live view of running Claude Code sessions

Usage:
  claude-status [list] [--all] [--project <p>] [--state <s>] [--search <q>] [--json]
  claude-status get <session-id-or-prefix> [--json]
  claude-status poll
  claude-status notify            (hook entry point, reads JSON from stdin)
  claude-status daemon start|stop|status|run
  claude-status version

Commands:
  list     Show active sessions (default). --all includes inactive ones;
           --state filters on working/idle/waiting/inactive.
  get      Show one session by id or id prefix.
  poll     Run one reconciliation pass and exit.
  notify   Apply a Claude Code hook event (configure in hook settings).
  daemon   Manage the background poller.
`)
}
