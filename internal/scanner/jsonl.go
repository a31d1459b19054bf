package scanner

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
)

// SessionLog holds the fields extracted from one session JSONL file.
// Pointer fields are nil when the log never carried them.
type SessionLog struct {
	Title          *string
	Slug           *string
	Cwd            *string
	FirstUserText  string
	MessageCount   int
	FirstTimestamp string
	LastTimestamp  string
}

// logEntry is a single JSONL line. Only the fields we need are decoded.
type logEntry struct {
	Type        string `json:"type"`
	Timestamp   string `json:"timestamp"`
	CustomTitle string `json:"customTitle"`
	Slug        string `json:"slug"`
	Cwd         string `json:"cwd"`
	Message     struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// contentBlock is one element of a user message's content array when the
// content is not a bare string.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ParseSessionLog sequentially parses a session JSONL file, extracting the
// first custom-title entry, the slug/cwd from the first user entry carrying
// them, the first non-trivial user prompt, the assistant-turn count, and the
// first/last timestamps. Malformed lines are skipped individually. Returns
// nil when the file is unreadable or contains no timestamped user entry.
func ParseSessionLog(path string) *SessionLog {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	result := &SessionLog{}

	sc := bufio.NewScanner(file)
	// Some tool outputs produce very long lines.
	buf := make([]byte, 0, 1024*1024)
	sc.Buffer(buf, 10*1024*1024)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var entry logEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}

		switch entry.Type {
		case "custom-title":
			if result.Title == nil {
				title := strings.TrimSpace(firstLine(entry.CustomTitle))
				if title != "" {
					result.Title = &title
				}
			}

		case "user":
			if entry.Timestamp != "" {
				if result.FirstTimestamp == "" {
					result.FirstTimestamp = entry.Timestamp
				}
				result.LastTimestamp = entry.Timestamp
			}
			if result.Slug == nil && entry.Slug != "" {
				slug := entry.Slug
				result.Slug = &slug
			}
			if result.Cwd == nil && entry.Cwd != "" {
				cwd := entry.Cwd
				result.Cwd = &cwd
			}
			if result.FirstUserText == "" {
				text := extractUserText(entry.Message.Content)
				// Synthetic interruption artifacts are not real prompts.
				if text != "" && !strings.HasPrefix(text, "[Request interrupted") {
					result.FirstUserText = text
				}
			}

		case "assistant":
			if entry.Timestamp != "" {
				result.LastTimestamp = entry.Timestamp
			}
			result.MessageCount++
		}
	}

	if result.FirstTimestamp == "" {
		return nil
	}
	return result
}

// extractUserText joins the text of a user message's content blocks. The
// content is either a bare string or an array of string/typed blocks.
func extractUserText(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}

	var plain string
	if err := json.Unmarshal(content, &plain); err == nil {
		return strings.TrimSpace(plain)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(content, &raw); err != nil {
		return ""
	}

	var parts []string
	for _, item := range raw {
		var str string
		if err := json.Unmarshal(item, &str); err == nil {
			parts = append(parts, str)
			continue
		}
		var block contentBlock
		if err := json.Unmarshal(item, &block); err == nil && block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, ""))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
