package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"
	"golang.org/x/term"

	"github.com/asheshgoplani/claude-status/internal/config"
	"github.com/asheshgoplani/claude-status/internal/statedb"
)

// Table column widths; TITLE absorbs whatever terminal width remains.
const (
	tableColState = 8
	tableColMsgs  = 5
	tableColAge   = 9
	tableColPath  = 32
)

var stateStyles = map[string]lipgloss.Style{
	statedb.StateWorking: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
	statedb.StateIdle:    lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
	statedb.StateWaiting: lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
}

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))

func handleList(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	all := fs.Bool("all", false, "include sessions with no running process")
	project := fs.String("project", "", "filter by project path substring")
	state := fs.String("state", "", "filter by state (working/idle/waiting/inactive)")
	search := fs.String("search", "", "fuzzy filter on title and project")
	jsonOut := fs.Bool("json", false, "output JSON")
	_ = fs.Parse(args)

	db := openDB(cfg)
	defer db.Close()

	var views []*statedb.SessionView
	var err error
	if *all || *project != "" || *state != "" {
		views, err = db.AllSessions(*project, *state)
	} else {
		views, err = db.ActiveSessions()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *search != "" {
		views = fuzzyFilter(views, *search)
	}

	if *jsonOut {
		printJSON(views)
		return
	}
	printTable(views)
}

func handleGet(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "output JSON")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: claude-status get <session-id-or-prefix> [--json]")
		os.Exit(1)
	}

	db := openDB(cfg)
	defer db.Close()

	v, err := db.GetSession(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if v == nil {
		fmt.Fprintf(os.Stderr, "No session matching %q\n", fs.Arg(0))
		os.Exit(1)
	}

	if *jsonOut {
		printJSON(v)
		return
	}
	printDetail(v)
}

// fuzzyFilter keeps sessions whose title or project path fuzzy-matches the
// query, in match-quality order.
func fuzzyFilter(views []*statedb.SessionView, query string) []*statedb.SessionView {
	haystack := make([]string, len(views))
	for i, v := range views {
		project := ""
		if v.ProjectPath != nil {
			project = *v.ProjectPath
		}
		haystack[i] = v.Title() + " " + project
	}

	matches := fuzzy.Find(query, haystack)
	result := make([]*statedb.SessionView, 0, len(matches))
	for _, m := range matches {
		result = append(result, views[m.Index])
	}
	return result
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printTable(views []*statedb.SessionView) {
	if len(views) == 0 {
		fmt.Println("No sessions.")
		return
	}

	width := 100
	if term.IsTerminal(int(os.Stdout.Fd())) {
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 40 {
			width = w
		}
	}
	titleWidth := width - tableColState - tableColMsgs - tableColAge - tableColPath - 8
	if titleWidth < 12 {
		titleWidth = 12
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("%s  %s  %s  %s  %s",
		pad("STATE", tableColState),
		pad("TITLE", titleWidth),
		pad("PROJECT", tableColPath),
		pad("AGE", tableColAge),
		pad("MSGS", tableColMsgs),
	)))

	for _, v := range views {
		state := "-"
		if v.State != nil {
			state = *v.State
		}
		cell := pad(state, tableColState)
		if style, ok := stateStyles[state]; ok {
			cell = style.Render(cell)
		}

		fmt.Printf("%s  %s  %s  %s  %s\n",
			cell,
			pad(v.Title(), titleWidth),
			pad(shortenPath(strValue(v.ProjectPath)), tableColPath),
			pad(relativeTime(v.ModifiedAt), tableColAge),
			pad(fmt.Sprintf("%d", v.MessageCount), tableColMsgs),
		)
	}
}

func printDetail(v *statedb.SessionView) {
	fmt.Printf("Session:  %s\n", v.SessionID)
	fmt.Printf("Title:    %s\n", v.Title())
	if v.ProjectPath != nil {
		fmt.Printf("Project:  %s\n", shortenPath(*v.ProjectPath))
	}
	if v.GitBranch != nil {
		fmt.Printf("Branch:   %s\n", *v.GitBranch)
	}
	if v.FirstPrompt != nil {
		fmt.Printf("Prompt:   %s\n", truncate(*v.FirstPrompt, 70))
	}
	fmt.Printf("Messages: %d\n", v.MessageCount)
	fmt.Printf("Modified: %s\n", relativeTime(v.ModifiedAt))

	if v.State == nil {
		fmt.Println("State:    inactive")
		return
	}
	state := *v.State
	if style, ok := stateStyles[state]; ok {
		state = style.Render(state)
	}
	fmt.Printf("State:    %s\n", state)
	if v.PID != nil {
		fmt.Printf("PID:      %d\n", *v.PID)
	}
	if v.TTY != nil {
		fmt.Printf("TTY:      %s\n", *v.TTY)
	}
	if v.TmuxTarget != nil {
		fmt.Printf("Tmux:     %s\n", *v.TmuxTarget)
	}
}

// pad truncates or right-pads a cell to a display width, rune-width aware.
func pad(s string, width int) string {
	return runewidth.FillRight(runewidth.Truncate(s, width, "…"), width)
}

func truncate(s string, width int) string {
	return runewidth.Truncate(strings.ReplaceAll(s, "\n", " "), width, "…")
}

func strValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// shortenPath collapses the home directory prefix to ~.
func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" || path == "" {
		return path
	}
	if path == home {
		return "~"
	}
	if rel, ok := strings.CutPrefix(path, home+string(filepath.Separator)); ok {
		return "~" + string(filepath.Separator) + rel
	}
	return path
}

// relativeTime renders an RFC3339 timestamp as a compact age ("3m", "2d").
func relativeTime(stamp *string) string {
	if stamp == nil || *stamp == "" {
		return "-"
	}
	t, err := time.Parse(time.RFC3339, *stamp)
	if err != nil {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
