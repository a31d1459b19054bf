// Package scanner maintains session rows from the on-disk catalog: the
// per-project sessions-index.json files (fast metadata) and the per-session
// JSONL logs (the only source for slug, custom title, and cwd).
package scanner

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"

	"github.com/asheshgoplani/claude-status/internal/logging"
	"github.com/asheshgoplani/claude-status/internal/statedb"
)

var log = logging.ForComponent(logging.CompScanner)

const (
	indexFileName    = "sessions-index.json"
	firstPromptLimit = 200

	// mtimeEpsilon absorbs filesystem mtime granularity when comparing the
	// stored jsonl_mtime against the on-disk value.
	mtimeEpsilon = 0.01
)

// Scanner walks the Claude Code projects directory and upserts session rows.
type Scanner struct {
	projectsDir string
}

// New returns a Scanner over the given projects directory.
func New(projectsDir string) *Scanner {
	return &Scanner{projectsDir: projectsDir}
}

// Scan refreshes session rows from all on-disk sources. Per project
// directory: index entries first (fast fields), then JSONL files guarded by
// the stored mtime, then one bulk title-propagation pass. A missing or
// unreadable source is skipped, never fatal.
func (s *Scanner) Scan(tx *statedb.Tx) error {
	entries, err := os.ReadDir(s.projectsDir)
	if err != nil {
		log.Debug("projects_dir_unreadable", "dir", s.projectsDir, "error", err)
		return nil
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		projectDir := filepath.Join(s.projectsDir, entry.Name())

		if err := s.scanIndexFile(tx, projectDir, entry.Name()); err != nil {
			return err
		}
		if err := s.scanJSONLFiles(tx, projectDir, entry.Name()); err != nil {
			return err
		}
	}

	return tx.PropagateTitles()
}

// indexFile is the shape of sessions-index.json.
type indexFile struct {
	OriginalPath string       `json:"originalPath"`
	Entries      []indexEntry `json:"entries"`
}

type indexEntry struct {
	SessionID    string `json:"sessionId"`
	FirstPrompt  string `json:"firstPrompt"`
	MessageCount int    `json:"messageCount"`
	IsSidechain  bool   `json:"isSidechain"`
	GitBranch    string `json:"gitBranch"`
	FullPath     string `json:"fullPath"`
	Created      string `json:"created"`
	Modified     string `json:"modified"`
}

// scanIndexFile upserts the fast fields for every index entry. It never
// writes jsonl_mtime: the index lacks slug/custom_title/cwd, and recording
// the mtime here would make the guard in scanJSONLFiles skip the JSONL parse
// that provides them.
func (s *Scanner) scanIndexFile(tx *statedb.Tx, projectDir, projectDirName string) error {
	data, err := os.ReadFile(filepath.Join(projectDir, indexFileName))
	if err != nil {
		return nil
	}
	var idx indexFile
	if err := json.Unmarshal(data, &idx); err != nil {
		log.Debug("index_unparseable", "dir", projectDirName, "error", err)
		return nil
	}

	projectPath := idx.OriginalPath
	if projectPath == "" {
		projectPath = FolderLabel(projectDirName)
	}

	for _, e := range idx.Entries {
		if e.SessionID == "" {
			continue
		}
		patch := statedb.SessionPatch{
			SessionID:    e.SessionID,
			FirstPrompt:  truncateOrNil(e.FirstPrompt, firstPromptLimit),
			MessageCount: &e.MessageCount,
			IsSidechain:  &e.IsSidechain,
			ProjectPath:  &projectPath,
			ProjectDir:   &projectDirName,
		}
		if e.GitBranch != "" {
			patch.GitBranch = &e.GitBranch
		}
		if e.FullPath != "" {
			patch.JSONLPath = &e.FullPath
		}
		if e.Created != "" {
			patch.CreatedAt = &e.Created
		}
		if e.Modified != "" {
			patch.ModifiedAt = &e.Modified
		}
		if err := tx.UpsertSession(patch); err != nil {
			return err
		}
	}
	return nil
}

// scanJSONLFiles parses session logs for the fields the index lacks. Files
// whose mtime matches the stored jsonl_mtime are skipped.
func (s *Scanner) scanJSONLFiles(tx *statedb.Tx, projectDir, projectDirName string) error {
	files, err := filepath.Glob(filepath.Join(projectDir, "*.jsonl"))
	if err != nil {
		return nil
	}
	projectPath := FolderLabel(projectDirName)

	for _, file := range files {
		sessionID := sessionIDFromPath(file)

		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		mtime := float64(info.ModTime().UnixNano()) / 1e9

		stored, ok, err := tx.SessionJSONLMtime(sessionID)
		if err != nil {
			return err
		}
		if ok && math.Abs(stored-mtime) < mtimeEpsilon {
			continue
		}

		parsed := ParseSessionLog(file)
		if parsed == nil {
			continue
		}

		patch := statedb.SessionPatch{
			SessionID:    sessionID,
			Slug:         parsed.Slug,
			CustomTitle:  parsed.Title,
			Cwd:          parsed.Cwd,
			FirstPrompt:  truncateOrNil(parsed.FirstUserText, firstPromptLimit),
			MessageCount: &parsed.MessageCount,
			ProjectPath:  &projectPath,
			ProjectDir:   &projectDirName,
			JSONLPath:    &file,
			JSONLMtime:   &mtime,
			CreatedAt:    &parsed.FirstTimestamp,
			ModifiedAt:   &parsed.LastTimestamp,
		}
		if err := tx.UpsertSession(patch); err != nil {
			return err
		}
	}
	return nil
}

func sessionIDFromPath(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

// truncateOrNil truncates text to max runes with a trailing ellipsis,
// returning nil for empty input so the upsert leaves the field alone.
func truncateOrNil(text string, max int) *string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= max {
		return &text
	}
	truncated := string(runes[:max-1]) + "…"
	return &truncated
}
