package tracker

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/asheshgoplani/claude-status/internal/statedb"
)

const (
	// DefaultActivityThreshold is how fresh a session's JSONL must be for
	// the session to count as working on mtime alone.
	DefaultActivityThreshold = 5 * time.Second

	// toolUseWindow extends the working verdict for sessions whose log tail
	// ends in a tool_use block: a long-running tool produces no log writes
	// while it executes.
	toolUseWindow = 30 * time.Second

	// tailProbeBytes bounds how much of the log the tail probe reads.
	tailProbeBytes = 16 * 1024
)

// detectState infers working/idle for a session from its JSONL file. The log
// is the ground truth for activity: a write within the threshold means the
// assistant is producing output, and a trailing tool_use block within a wider
// window means a tool is still running. Returns the state and the log mtime
// as a unix-seconds activity timestamp (nil when the log is missing).
func detectState(tx *statedb.Tx, sessionID string, threshold time.Duration) (string, *float64, error) {
	path, err := tx.SessionJSONLPath(sessionID)
	if err != nil {
		return "", nil, err
	}
	if path == "" {
		return statedb.StateIdle, nil, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return statedb.StateIdle, nil, nil
	}
	mtime := float64(info.ModTime().UnixNano()) / 1e9
	age := time.Since(info.ModTime())

	switch {
	case age <= threshold:
		return statedb.StateWorking, &mtime, nil
	case age <= toolUseWindow && tailEndsInToolUse(path, info.Size()):
		return statedb.StateWorking, &mtime, nil
	default:
		return statedb.StateIdle, &mtime, nil
	}
}

// tailEntry is the slice of a log line the tail probe needs.
type tailEntry struct {
	Type    string `json:"type"`
	Message struct {
		Content []struct {
			Type string `json:"type"`
		} `json:"content"`
	} `json:"message"`
}

// tailEndsInToolUse reports whether the last parseable entry of the log is an
// assistant turn containing a tool_use content block.
func tailEndsInToolUse(path string, size int64) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	offset := size - tailProbeBytes
	if offset < 0 {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return false
	}

	var lastLine []byte
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 0, 64*1024), tailProbeBytes)
	for sc.Scan() {
		if line := bytes.TrimSpace(sc.Bytes()); len(line) > 0 && line[0] == '{' {
			lastLine = append(lastLine[:0], line...)
		}
	}
	if len(lastLine) == 0 {
		return false
	}

	var entry tailEntry
	if err := json.Unmarshal(lastLine, &entry); err != nil {
		return false
	}
	if entry.Type != "assistant" {
		return false
	}
	for _, block := range entry.Message.Content {
		if block.Type == "tool_use" {
			return true
		}
	}
	return false
}
