package parser

import (
	"context"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/RamXX/bmdash/internal/model"
	"gopkg.in/yaml.v3"
)

// HistoryMiner derives workflow history from version-control activity.
type HistoryMiner interface {
	MineWorkflows(ctx context.Context, storyID string) []model.WorkflowEntry
}

// Workflow history sources.
const (
	HistoryFrontmatter = "frontmatter"
	HistoryCodeReview  = "code-review-file"
	HistoryGit         = "git"
)

type workflowRecord struct {
	Name      string `yaml:"name"`
	Workflow  string `yaml:"workflow"`
	Timestamp string `yaml:"timestamp"`
	Date      string `yaml:"date"`
	Result    string `yaml:"result"`
	Status    string `yaml:"status"`
}

type reviewHeader struct {
	Date      string `yaml:"date"`
	Reviewed  string `yaml:"reviewed"`
	Created   string `yaml:"created"`
	Timestamp string `yaml:"timestamp"`
}

var reviewDateRe = regexp.MustCompile(`(?im)^[*_\s]*Date[*_]*\s*:[*_]*\s*(.+)$`)

func historyFromFrontmatter(records []workflowRecord) []model.WorkflowEntry {
	var out []model.WorkflowEntry
	for _, r := range records {
		name := r.Name
		if name == "" {
			name = r.Workflow
		}
		if name == "" {
			continue
		}
		ts := r.Timestamp
		if ts == "" {
			ts = r.Date
		}
		t, _ := ParseTime(ts)
		result := r.Result
		if result == "" {
			result = r.Status
		}
		if result == "" {
			result = model.ResultSuccess
		}
		out = append(out, model.WorkflowEntry{
			Name:      strings.ToLower(strings.TrimSpace(name)),
			Timestamp: t,
			Result:    strings.ToLower(result),
			Source:    HistoryFrontmatter,
		})
	}
	SortHistory(out)
	return out
}

// SortHistory orders entries most recent first.
func SortHistory(entries []model.WorkflowEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
}

// historyFromCodeReview treats an existing code-review document as proof
// that both development and review ran.
func historyFromCodeReview(path string) ([]model.WorkflowEntry, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	when := info.ModTime().UTC()
	if data, err := os.ReadFile(path); err == nil {
		if t, ok := reviewDate(string(data), path); ok {
			when = t
		}
	}
	return []model.WorkflowEntry{
		{Name: model.WorkflowCodeReview, Timestamp: when, Result: model.ResultDone, Source: HistoryCodeReview},
		{Name: model.WorkflowDevStory, Timestamp: when, Result: model.ResultDone, Source: HistoryCodeReview},
	}, true
}

func reviewDate(content, path string) (time.Time, bool) {
	header, body, err := SplitFrontmatter(content, path)
	if err == nil && header != "" {
		var h reviewHeader
		if yaml.Unmarshal([]byte(header), &h) == nil {
			for _, v := range []string{h.Date, h.Reviewed, h.Created, h.Timestamp} {
				if t, ok := ParseTime(v); ok {
					return t, true
				}
			}
		}
	}
	if m := reviewDateRe.FindStringSubmatch(body); m != nil {
		v := strings.TrimSpace(strings.Trim(m[1], "*_ "))
		if t, ok := ParseTime(v); ok {
			return t, true
		}
		if fields := strings.Fields(v); len(fields) > 0 {
			return ParseTime(fields[0])
		}
	}
	return time.Time{}, false
}
