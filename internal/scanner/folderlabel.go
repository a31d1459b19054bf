package scanner

import (
	"os"
	"strings"
)

// FolderLabel converts a flattened project directory name back to a readable
// filesystem path. Claude Code flattens paths with hyphens, e.g.
// "-Users-jud-Projects-ips-chief-of-staff" for
// "/Users/jud/Projects/ips/chief-of-staff", which is ambiguous when path
// segments themselves contain hyphens. Reconstruct by greedily testing the
// longest hyphen-joined candidate that exists on disk, falling back to
// single segments.
func FolderLabel(projectDirName string) string {
	if !strings.HasPrefix(projectDirName, "-") {
		return projectDirName
	}

	raw := strings.TrimLeft(projectDirName, "-")
	parts := strings.Split(raw, "-")
	var segments []string

	i := 0
	for i < len(parts) {
		matched := false
		for j := len(parts); j > i; j-- {
			candidate := strings.Join(parts[i:j], "-")
			testPath := "/" + strings.Join(append(append([]string{}, segments...), candidate), "/")
			if _, err := os.Stat(testPath); err == nil {
				segments = append(segments, candidate)
				i = j
				matched = true
				break
			}
		}
		if !matched {
			segments = append(segments, parts[i])
			i++
		}
	}

	return "/" + strings.Join(segments, "/")
}
