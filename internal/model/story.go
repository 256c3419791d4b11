package model

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a story or epic as written in the
// sprint-status file or a story's frontmatter.
type Status string

const (
	StatusBacklog     Status = "backlog"
	StatusTodo        Status = "todo"
	StatusDrafted     Status = "drafted"
	StatusReadyForDev Status = "ready-for-dev"
	StatusInProgress  Status = "in-progress"
	StatusReview      Status = "review"
	StatusDone        Status = "done"
	StatusComplete    Status = "complete"
	StatusContexted   Status = "contexted"
)

var knownStatuses = map[Status]bool{
	StatusBacklog:     true,
	StatusTodo:        true,
	StatusDrafted:     true,
	StatusReadyForDev: true,
	StatusInProgress:  true,
	StatusReview:      true,
	StatusDone:        true,
	StatusComplete:    true,
	StatusContexted:   true,
}

// StatusOrder is the display order used when grouping stories by status.
var StatusOrder = []Status{
	StatusInProgress,
	StatusReview,
	StatusReadyForDev,
	StatusDrafted,
	StatusTodo,
	StatusBacklog,
	StatusDone,
	StatusComplete,
}

// NormalizeStatus lowercases and trims s, mapping underscores and spaces to
// hyphens. Unknown values are kept so artifacts written by newer method
// versions still round-trip.
func NormalizeStatus(s string) Status {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("_", "-", " ", "-").Replace(s)
	return Status(s)
}

// ParseStatus is the strict variant of NormalizeStatus used for user input.
func ParseStatus(s string) (Status, error) {
	st := NormalizeStatus(s)
	if !knownStatuses[st] {
		return "", fmt.Errorf("invalid status %q: must be one of backlog, todo, drafted, ready-for-dev, in-progress, review, done, complete", s)
	}
	return st, nil
}

func (s Status) String() string { return string(s) }

// IsDone reports whether the status counts toward epic progress.
func (s Status) IsDone() bool {
	return s == StatusDone || s == StatusComplete
}

// IsActive reports whether work on the story is underway.
func (s Status) IsActive() bool {
	return s == StatusInProgress || s == StatusReview
}

// StatusSource records which artifact set the story's current status.
type StatusSource string

const (
	SourceSprintStatus StatusSource = "sprint-status"
	SourceFrontmatter  StatusSource = "frontmatter"
)

// TaskStatus is the checkbox state of a task.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in-progress"
	TaskDone       TaskStatus = "done"
)

// Subtask is one indented checkbox line under a task.
type Subtask struct {
	Text   string     `json:"text"`
	Status TaskStatus `json:"status"`
}

// Task is a top-level checkbox line in a story document.
type Task struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Status   TaskStatus `json:"status"`
	Inferred bool       `json:"inferred,omitempty"`
	Subtasks []Subtask  `json:"subtasks,omitempty"`
}

// Heading is a markdown heading found in a story body.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
	Line  int    `json:"line"`
}

// Workflow result values recorded in a story's history.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
	ResultDone    = "done"
)

// Canonical workflow names.
const (
	WorkflowCreateStory = "create-story"
	WorkflowDevStory    = "dev-story"
	WorkflowCodeReview  = "code-review"
	WorkflowTest        = "test"
)

// WorkflowEntry is one executed process step.
type WorkflowEntry struct {
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Result    string    `json:"result"`
	Source    string    `json:"source,omitempty"`
}

// Story is a single unit of work, usually backed by a markdown file under
// implementation-artifacts.
type Story struct {
	ID                 string          `json:"id"`
	Key                string          `json:"key"`
	Title              string          `json:"title"`
	Status             Status          `json:"status"`
	StatusSource       StatusSource    `json:"status_source"`
	Epic               int             `json:"epic"`
	Number             int             `json:"number"`
	Tasks              []Task          `json:"tasks,omitempty"`
	AcceptanceCriteria []string        `json:"acceptance_criteria,omitempty"`
	Headings           []Heading       `json:"headings,omitempty"`
	FilePath           string          `json:"file_path"`
	Mtime              time.Time       `json:"mtime"`
	ContentHash        string          `json:"content_hash,omitempty"`
	WorkflowHistory    []WorkflowEntry `json:"workflow_history,omitempty"`
	Gaps               []Gap           `json:"gaps,omitempty"`
	Evidence           Evidence        `json:"evidence"`
	Created            string          `json:"created,omitempty"`
	Completed          string          `json:"completed,omitempty"`
	LastUpdated        string          `json:"last_updated,omitempty"`
	ParseError         string          `json:"parse_error,omitempty"`

	// Runtime fields -- not persisted.
	Body string `json:"-"`
}

// IsStub reports whether the story has no backing document.
func (s *Story) IsStub() bool {
	return s.FilePath == ""
}

// TaskCounts returns the number of done tasks and the total.
func (s *Story) TaskCounts() (done, total int) {
	for _, t := range s.Tasks {
		if t.Status == TaskDone {
			done++
		}
	}
	return done, len(s.Tasks)
}

// Less orders stories by epic then story number.
func (s *Story) Less(o *Story) bool {
	if s.Epic != o.Epic {
		return s.Epic < o.Epic
	}
	if s.Number != o.Number {
		return s.Number < o.Number
	}
	return s.ID < o.ID
}
