package procinfo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePS = `  PID TTY           ARGS
    1 ??           /sbin/launchd
  410 ??           /Applications/Claude.app/Contents/MacOS/Claude
  501 ttys001      claude
  502 ttys002      /opt/homebrew/bin/claude --resume 4f6f3a2e-9c1b-4d7e-8a2f-0c1d2e3f4a5b
  503 ttys003      claude --resume My Project Session
  504 ttys004      tmux new-session claude
  505 ttys005      claude-status daemon run
  506 ttys006      claudette --help
  507 ttys007      node /usr/local/lib/claude/cli.js
`

func TestParsePS(t *testing.T) {
	procs := ParsePS(samplePS)
	require.Len(t, procs, 3)

	require.Equal(t, 501, procs[0].PID)
	require.Equal(t, "ttys001", procs[0].TTY)
	require.Equal(t, "", procs[0].ResumeArg)

	require.Equal(t, 502, procs[1].PID)
	require.Equal(t, "4f6f3a2e-9c1b-4d7e-8a2f-0c1d2e3f4a5b", procs[1].ResumeArg)

	// Resume values may contain spaces and run to end of line.
	require.Equal(t, 503, procs[2].PID)
	require.Equal(t, "My Project Session", procs[2].ResumeArg)
}

func TestParsePSEmpty(t *testing.T) {
	require.Empty(t, ParsePS(""))
	require.Empty(t, ParsePS("  PID TTY ARGS\n"))
}

func TestExtractResumeArg(t *testing.T) {
	require.Equal(t, "", ExtractResumeArg("claude"))
	require.Equal(t, "", ExtractResumeArg("claude --resume"))
	require.Equal(t, "abc", ExtractResumeArg("claude --resume abc"))
	require.Equal(t, "fix the build", ExtractResumeArg("claude --resume fix the build"))
}

func TestIsClaudeCommand(t *testing.T) {
	require.True(t, isClaudeCommand("claude"))
	require.True(t, isClaudeCommand("/usr/local/bin/claude --resume x"))
	require.False(t, isClaudeCommand("claudette"))
	require.False(t, isClaudeCommand("claude-status poll"))
	require.False(t, isClaudeCommand("tmux new-session claude"))
	require.False(t, isClaudeCommand("/Applications/Claude.app/Contents/MacOS/Claude"))
	require.False(t, isClaudeCommand(""))
}

func TestParseLsofCwd(t *testing.T) {
	out := "p501\nfcwd\nn/Users/jud/Projects/ips\nftxt\nn/usr/local/bin/claude\n"
	require.Equal(t, "/Users/jud/Projects/ips", ParseLsofCwd(out))

	require.Equal(t, "", ParseLsofCwd("p501\nftxt\nn/usr/local/bin/claude\n"))
	require.Equal(t, "", ParseLsofCwd(""))
}

func TestParsePanes(t *testing.T) {
	out := "/dev/ttys001 main:0.0 main\n/dev/ttys002 work:1.2 work\n"
	panes := ParsePanes(out)
	require.Len(t, panes, 2)
	require.Equal(t, Pane{Target: "main:0.0", Session: "main"}, panes["/dev/ttys001"])
	require.Equal(t, Pane{Target: "work:1.2", Session: "work"}, panes["/dev/ttys002"])
}

func TestParseClients(t *testing.T) {
	out := "main /dev/ttys010\nwork /dev/ttys011\n"
	clients := ParseClients(out)
	require.Equal(t, "/dev/ttys010", clients["main"])
	require.Equal(t, "/dev/ttys011", clients["work"])
	require.Empty(t, ParseClients(""))
}

func TestResolveTTYDevice(t *testing.T) {
	require.Equal(t, "/dev/ttys001", ResolveTTYDevice("ttys001"))
	require.Equal(t, "/dev/ttys001", ResolveTTYDevice("/dev/ttys001"))
	require.Equal(t, "??", ResolveTTYDevice("??"))
}

func TestStaticSnapshot(t *testing.T) {
	snap := NewStaticSnapshot(
		[]Process{{PID: 1, TTY: "ttys001"}},
		map[string]Pane{"/dev/ttys001": {Target: "main:0.0", Session: "main"}},
		map[string]string{"main": "/dev/ttys009"},
		func(pid int) string { return "/tmp/proj" },
	)
	require.Len(t, snap.Processes(), 1)
	p, ok := snap.Pane("/dev/ttys001")
	require.True(t, ok)
	require.Equal(t, "main", p.Session)
	require.Equal(t, "/dev/ttys009", snap.ClientTTY("main"))
	require.Equal(t, "/tmp/proj", snap.Cwd(1))
}
