package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/RamXX/bmdash/internal/idgen"
	"github.com/RamXX/bmdash/internal/model"
)

var (
	taskRe     = regexp.MustCompile(`^[-*]\s+\[([ xX])\]\s+(.+)$`)
	subtaskRe  = regexp.MustCompile(`^\s+[-*]\s+\[([ xX])\]\s+(.+)$`)
	headingRe  = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)
	acHeadRe   = regexp.MustCompile(`(?i)^#+\s*Acceptance\s+Criteria`)
	gwtRe      = regexp.MustCompile(`^\s*(?:(?:[-*]|\d+\.)\s+)?\*\*(Given|When|Then|And)\*\*\s*(.*)$`)
	bulletRe   = regexp.MustCompile(`^\s*(?:[-*]|\d+\.)\s+(?:\[[ xX]\]\s+)?(.+)$`)
	storyH1Re  = regexp.MustCompile(`(?i)^story\s+\d+[.\-]\d+\s*[:\-]\s*(.+)$`)
	reportedRe = []*regexp.Regexp{
		regexp.MustCompile(`(\d+)/(\d+)\s+passing`),
		regexp.MustCompile(`passing\s*\((\d+)/(\d+)\)`),
		regexp.MustCompile(`(?i)Tests?:\s*(\d+)/(\d+)`),
		regexp.MustCompile(`(?i)Test Results?:\s*(\d+)/(\d+)`),
	}
	allPassingRe = []*regexp.Regexp{
		regexp.MustCompile(`(?i)All\s+(\d+)\s+tests?\s+passing`),
		regexp.MustCompile(`(?i)(\d+)\s+tests?,\s*all passing`),
	}
)

func checkStatus(mark string) model.TaskStatus {
	if mark == "x" || mark == "X" {
		return model.TaskDone
	}
	return model.TaskTodo
}

// ParseTasks extracts top-level checkbox tasks and their indented subtasks.
// Tasks are numbered task-1, task-2, ... in document order.
func ParseTasks(body string) []model.Task {
	var tasks []model.Task
	current := -1
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		if m := taskRe.FindStringSubmatch(line); m != nil {
			tasks = append(tasks, model.Task{
				ID:     idgen.TaskID(len(tasks) + 1),
				Title:  strings.TrimSpace(m[2]),
				Status: checkStatus(m[1]),
			})
			current = len(tasks) - 1
			continue
		}
		if m := subtaskRe.FindStringSubmatch(line); m != nil && current >= 0 {
			tasks[current].Subtasks = append(tasks[current].Subtasks, model.Subtask{
				Text:   strings.TrimSpace(m[2]),
				Status: checkStatus(m[1]),
			})
			continue
		}
		if headingRe.MatchString(line) {
			current = -1
		}
	}
	return tasks
}

// ParseHeadings returns every markdown heading with its 1-based line number.
func ParseHeadings(body string) []model.Heading {
	var out []model.Heading
	for i, line := range strings.Split(body, "\n") {
		m := headingRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		out = append(out, model.Heading{Level: len(m[1]), Text: m[2], Line: i + 1})
	}
	return out
}

// ParseAcceptanceCriteria collects Given/When/Then lines and bullets from the
// "Acceptance Criteria" section. The section ends at the next heading of the
// same or higher level.
func ParseAcceptanceCriteria(body string) []string {
	var out []string
	level := 0
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		if hm := headingRe.FindStringSubmatch(line); hm != nil {
			if acHeadRe.MatchString(line) {
				level = len(hm[1])
				continue
			}
			if level > 0 && len(hm[1]) <= level {
				level = 0
			}
			continue
		}
		if level == 0 {
			continue
		}
		if m := gwtRe.FindStringSubmatch(line); m != nil {
			out = append(out, strings.TrimSpace(m[1]+" "+m[2]))
			continue
		}
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			out = append(out, strings.TrimSpace(m[1]))
		}
	}
	return out
}

// TitleFromBody returns the title from a "# Story E.S: Title" heading.
func TitleFromBody(headings []model.Heading) string {
	for _, h := range headings {
		if h.Level != 1 {
			continue
		}
		if m := storyH1Re.FindStringSubmatch(h.Text); m != nil {
			return strings.TrimSpace(m[1])
		}
		return ""
	}
	return ""
}

// ParseReportedCounts reads test counts a developer recorded in the story
// document, such as "22/22 passing" or "All 15 tests passing".
func ParseReportedCounts(body string) (passed, total int, ok bool) {
	for _, re := range reportedRe {
		if m := re.FindStringSubmatch(body); m != nil {
			return atoi(m[1]), atoi(m[2]), true
		}
	}
	for _, re := range allPassingRe {
		if m := re.FindStringSubmatch(body); m != nil {
			n := atoi(m[1])
			return n, n, true
		}
	}
	return 0, 0, false
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
