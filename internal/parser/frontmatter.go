package parser

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/RamXX/vlt"
)

// SplitFrontmatter separates a document into its YAML header and markdown
// body. A byte order mark and leading blank lines are skipped. Markdown
// documents that do not then start with "---" have no header. YAML files
// (.yaml, .yml) are treated as a header with an empty body.
func SplitFrontmatter(content, path string) (header, body string, err error) {
	content = strings.TrimLeft(strings.TrimPrefix(content, "\ufeff"), " \t\r\n")
	if content == "" {
		return "", "", nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return content, "", nil
	}
	if !strings.HasPrefix(content, "---") {
		return "", content, nil
	}
	yamlStr, bodyStart, found := vlt.ExtractFrontmatter(content)
	if !found {
		return "", content, fmt.Errorf("malformed YAML frontmatter in %s: missing closing '---' delimiter", path)
	}
	lines := strings.SplitAfter(content, "\n")
	if bodyStart < len(lines) {
		body = strings.Join(lines[bodyStart:], "")
	}
	return yamlStr, body, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime accepts the timestamp spellings found in BMAD artifacts.
// Values without a zone are taken as UTC.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
