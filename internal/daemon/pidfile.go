package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/asheshgoplani/claude-status/internal/config"
)

const pidFileName = "daemon.pid"

// stopGrace is how long a SIGTERM gets before SIGKILL.
const stopGrace = 3 * time.Second

// PIDFilePath returns the daemon pid file location.
func PIDFilePath() (string, error) {
	dir, err := config.StatusDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, pidFileName), nil
}

// WritePIDFile records the current process as the running daemon.
func WritePIDFile() error {
	path, err := PIDFilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("daemon: mkdir: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0600); err != nil {
		return fmt.Errorf("daemon: write pid file: %w", err)
	}
	return nil
}

// RemovePIDFile deletes the pid file, ignoring errors.
func RemovePIDFile() {
	if path, err := PIDFilePath(); err == nil {
		_ = os.Remove(path)
	}
}

// Running returns the daemon's pid when one is alive. A pid file pointing at
// a dead process is cleaned up.
func Running() (int, bool) {
	path, err := PIDFilePath()
	if err != nil {
		return 0, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		_ = os.Remove(path)
		return 0, false
	}
	if !processAlive(pid) {
		_ = os.Remove(path)
		return 0, false
	}
	return pid, true
}

// Stop terminates the running daemon: SIGTERM, a grace period, then SIGKILL.
// Returns false when no daemon was running.
func Stop() (bool, error) {
	pid, ok := Running()
	if !ok {
		return false, nil
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return false, fmt.Errorf("daemon: signal %d: %w", pid, err)
	}

	deadline := time.Now().Add(stopGrace)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			RemovePIDFile()
			return true, nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = syscall.Kill(pid, syscall.SIGKILL)
	RemovePIDFile()
	return true, nil
}

// processAlive probes a pid with signal 0.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}
