// Package procinfo enumerates running Claude CLI processes and maps their
// terminals to tmux pane/client identities. It is a read-only data source:
// every collector degrades to an empty result on failure, and the next
// reconciliation cycle retries.
package procinfo

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/asheshgoplani/claude-status/internal/logging"
)

var log = logging.ForComponent(logging.CompProc)

const commandTimeout = 5 * time.Second

// Process is one running Claude CLI process.
type Process struct {
	PID int
	TTY string
	// ResumeArg is the value following --resume, if any. It may contain
	// spaces and runs to end of line.
	ResumeArg string
}

// Pane is the tmux identity of a terminal device.
type Pane struct {
	Target  string // session:window.pane
	Session string // session name
}

// Inventory is the process/terminal view a reconciliation pass consumes.
// The concrete Snapshot shells out to ps/lsof/tmux; tests substitute a fake.
type Inventory interface {
	Processes() []Process
	Pane(ttyDevice string) (Pane, bool)
	ClientTTY(tmuxSession string) string
	Cwd(pid int) string
}

// Snapshot is a point-in-time inventory gathered from ps and tmux. Process
// working directories are looked up lazily per pid (lsof is too slow to run
// for every process up front).
type Snapshot struct {
	procs   []Process
	panes   map[string]Pane
	clients map[string]string
	cwdFn   func(pid int) string
}

// Collect gathers the process table and tmux maps concurrently. Individual
// source failures are logged and yield empty results, never an error.
func Collect(ctx context.Context) *Snapshot {
	snap := &Snapshot{cwdFn: processCwd}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		snap.procs = claudeProcesses(ctx)
		return nil
	})
	g.Go(func() error {
		snap.panes = tmuxPaneMap(ctx)
		return nil
	})
	g.Go(func() error {
		snap.clients = tmuxClientMap(ctx)
		return nil
	})
	_ = g.Wait()

	return snap
}

// NewStaticSnapshot builds an Inventory from fixed data, for tests.
func NewStaticSnapshot(procs []Process, panes map[string]Pane, clients map[string]string, cwdFn func(int) string) *Snapshot {
	if cwdFn == nil {
		cwdFn = func(int) string { return "" }
	}
	return &Snapshot{procs: procs, panes: panes, clients: clients, cwdFn: cwdFn}
}

// Processes returns the detected Claude CLI processes.
func (s *Snapshot) Processes() []Process {
	return s.procs
}

// Pane returns the tmux pane owning the given /dev tty device.
func (s *Snapshot) Pane(ttyDevice string) (Pane, bool) {
	p, ok := s.panes[ttyDevice]
	return p, ok
}

// ClientTTY returns the terminal device of the client attached to a tmux
// session, or "" when the session has no attached client.
func (s *Snapshot) ClientTTY(tmuxSession string) string {
	return s.clients[tmuxSession]
}

// Cwd returns the working directory of a process, or "" when unknown.
func (s *Snapshot) Cwd(pid int) string {
	return s.cwdFn(pid)
}

// excludePatterns filters false positives out of process detection: the
// desktop app, tmux itself (whose server command lines mention the shell
// command), and this tool.
var excludePatterns = []string{
	"tmux",
	"/Applications/Claude",
	"Claude.app",
	"claude-status",
}

func claudeProcesses(ctx context.Context) []Process {
	out, err := runCommand(ctx, "ps", "-eo", "pid,tty,args")
	if err != nil {
		log.Debug("ps_failed", "error", err)
		return nil
	}
	return ParsePS(out)
}

// ParsePS parses `ps -eo pid,tty,args` output, keeping Claude CLI sessions.
func ParsePS(out string) []Process {
	var procs []Process
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		if i == 0 { // header
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 3)
		if len(parts) < 3 {
			continue
		}
		pidStr, tty := parts[0], parts[1]
		args := strings.TrimSpace(parts[2])
		if !isClaudeCommand(args) {
			continue
		}
		pid, err := strconv.Atoi(pidStr)
		if err != nil {
			continue
		}
		procs = append(procs, Process{
			PID:       pid,
			TTY:       tty,
			ResumeArg: ExtractResumeArg(args),
		})
	}
	return procs
}

// isClaudeCommand reports whether an args string is a Claude CLI session:
// "claude" as a standalone command word (optionally path-prefixed), not
// claude-something, and none of the known false positives.
func isClaudeCommand(args string) bool {
	for _, pattern := range excludePatterns {
		if strings.Contains(args, pattern) {
			return false
		}
	}
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return false
	}
	cmd := fields[0]
	if i := strings.LastIndexByte(cmd, '/'); i >= 0 {
		cmd = cmd[i+1:]
	}
	return cmd == "claude"
}

// ExtractResumeArg returns the value following --resume, which may contain
// spaces and runs to the end of the command line. Returns "" when absent.
func ExtractResumeArg(args string) string {
	const flag = "--resume"
	idx := strings.Index(args, flag)
	if idx < 0 {
		return ""
	}
	rest := args[idx+len(flag):]
	if rest == "" || rest[0] != ' ' {
		return ""
	}
	return strings.TrimSpace(rest)
}

// processCwd returns a process's working directory via lsof. The fcwd file
// descriptor record is followed by an "n"-prefixed name record.
func processCwd(pid int) string {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	out, err := runCommand(ctx, "lsof", "-p", strconv.Itoa(pid), "-Fn")
	if err != nil {
		return ""
	}
	return ParseLsofCwd(out)
}

// ParseLsofCwd extracts the cwd from `lsof -p <pid> -Fn` output.
func ParseLsofCwd(out string) string {
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "fcwd" && i+1 < len(lines) {
			if name := lines[i+1]; strings.HasPrefix(name, "n") {
				return name[1:]
			}
		}
	}
	return ""
}

func tmuxPaneMap(ctx context.Context) map[string]Pane {
	out, err := runCommand(ctx, "tmux", "list-panes", "-a", "-F",
		"#{pane_tty} #{session_name}:#{window_index}.#{pane_index} #{session_name}")
	if err != nil {
		return nil
	}
	return ParsePanes(out)
}

// ParsePanes parses tmux list-panes output into a tty-device → Pane map.
func ParsePanes(out string) map[string]Pane {
	panes := make(map[string]Pane)
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(strings.TrimSpace(line), " ", 3)
		switch len(parts) {
		case 3:
			panes[parts[0]] = Pane{Target: parts[1], Session: parts[2]}
		case 2:
			panes[parts[0]] = Pane{Target: parts[1]}
		}
	}
	return panes
}

func tmuxClientMap(ctx context.Context) map[string]string {
	out, err := runCommand(ctx, "tmux", "list-clients", "-F",
		"#{session_name} #{client_tty}")
	if err != nil {
		return nil
	}
	return ParseClients(out)
}

// ParseClients parses tmux list-clients output into a session-name →
// client-tty map.
func ParseClients(out string) map[string]string {
	clients := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(strings.TrimSpace(line), " ", 2)
		if len(parts) == 2 && parts[0] != "" {
			clients[parts[0]] = parts[1]
		}
	}
	return clients
}

// ResolveTTYDevice converts ps TTY format ("ttys001") to the /dev path tmux
// reports ("/dev/ttys001"). "??" (no controlling terminal) passes through.
func ResolveTTYDevice(tty string) string {
	if strings.HasPrefix(tty, "/dev/") || tty == "??" || tty == "?" {
		return tty
	}
	return "/dev/" + tty
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
