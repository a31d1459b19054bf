package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/asheshgoplani/claude-status/internal/config"
	"github.com/asheshgoplani/claude-status/internal/daemon"
	"github.com/asheshgoplani/claude-status/internal/notify"
	"github.com/asheshgoplani/claude-status/internal/scanner"
	"github.com/asheshgoplani/claude-status/internal/tracker"
)

// handlePoll runs one full reconciliation pass, for bootstrap and debugging.
func handlePoll(cfg *config.Config) {
	db := openDB(cfg)
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sc := scanner.New(config.ProjectsDir())
	rec := tracker.NewReconciler(cfg.ActivityThreshold())
	if err := tracker.RunPass(ctx, db, sc, rec); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	notify.New(cfg.NotifyAddr()).Send()

	views, err := db.ActiveSessions()
	if err == nil {
		fmt.Printf("Pass complete: %d active session(s)\n", len(views))
	}
}

func handleDaemon(cfg *config.Config, args []string) {
	sub := "status"
	if len(args) > 0 {
		sub = args[0]
	}

	switch sub {
	case "run":
		daemonRun(cfg)
	case "start":
		daemonStart()
	case "stop":
		stopped, err := daemon.Stop()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if stopped {
			fmt.Println("Daemon stopped.")
		} else {
			fmt.Println("Daemon not running.")
		}
	case "status":
		daemonStatus(cfg)
	default:
		fmt.Fprintf(os.Stderr, "Usage: claude-status daemon start|stop|status|run\n")
		os.Exit(1)
	}
}

// daemonRun is the foreground loop, used directly and as the re-exec target
// of daemon start.
func daemonRun(cfg *config.Config) {
	if pid, ok := daemon.Running(); ok && pid != os.Getpid() {
		fmt.Fprintf(os.Stderr, "Daemon already running (pid %d)\n", pid)
		os.Exit(1)
	}
	if err := daemon.WritePIDFile(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer daemon.RemovePIDFile()

	db := openDB(cfg)
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := daemon.New(db, cfg).Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// daemonStart re-executes the binary detached, the Go substitute for a
// double fork.
func daemonStart() {
	if pid, ok := daemon.Running(); ok {
		fmt.Printf("Daemon already running (pid %d)\n", pid)
		return
	}

	self, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cmd := exec.Command(self, "daemon", "run")
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	// Reap without waiting: the child outlives us.
	go func() { _ = cmd.Wait() }()

	fmt.Printf("Daemon started (pid %d)\n", cmd.Process.Pid)
}

func daemonStatus(cfg *config.Config) {
	pid, ok := daemon.Running()
	if !ok {
		fmt.Println("Daemon not running.")
		return
	}
	fmt.Printf("Daemon running (pid %d)\n", pid)

	db := openDB(cfg)
	defer db.Close()
	if lastPoll, err := db.GetMeta("last_poll"); err == nil && lastPoll != "" {
		fmt.Printf("Last poll: %s\n", lastPoll)
	}
}
