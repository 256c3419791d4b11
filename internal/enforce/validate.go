package enforce

import (
	"fmt"

	"github.com/RamXX/bmdash/internal/model"
)

// ValidationResult aggregates the completion checks for one story.
type ValidationResult struct {
	StoryID            string      `json:"story_id"`
	HasGitCommits      bool        `json:"has_git_commits"`
	CommitCount        int         `json:"commit_count"`
	HasTests           bool        `json:"has_tests"`
	TestsPassing       bool        `json:"tests_passing"`
	TasksDone          int         `json:"tasks_done"`
	TasksTotal         int         `json:"tasks_total"`
	AllTasksComplete   bool        `json:"all_tasks_complete"`
	DevStoryExecuted   bool        `json:"dev_story_executed"`
	CodeReviewExecuted bool        `json:"code_review_executed"`
	Gaps               []model.Gap `json:"gaps,omitempty"`
	Stage              string      `json:"stage"`
	OutOfOrder         []string    `json:"out_of_order,omitempty"`
	Issues             []string    `json:"issues,omitempty"`
	IsComplete         bool        `json:"is_complete"`
}

// ValidateStory checks git activity, tests, tasks and workflow execution.
// Every unmet condition adds an issue; the story is complete only when
// none are unmet.
func ValidateStory(s *model.Story) *ValidationResult {
	r := &ValidationResult{StoryID: s.ID, Gaps: s.Gaps}

	if g := s.Evidence.Git; g != nil && g.Source != model.GitSourceFileMtime {
		r.CommitCount = g.CommitCount
		r.HasGitCommits = g.CommitCount > 0
	}
	if !r.HasGitCommits {
		r.Issues = append(r.Issues, "No git commits found for this story")
	}

	t := s.Evidence.Tests
	r.HasTests = t != nil && (len(t.TestFiles) > 0 || t.Total() > 0)
	switch {
	case !r.HasTests:
		r.Issues = append(r.Issues, "No tests found for this story")
	case t.FailCount > 0:
		r.Issues = append(r.Issues, fmt.Sprintf("%d failing tests detected", t.FailCount))
	default:
		r.TestsPassing = true
	}

	r.TasksDone, r.TasksTotal = s.TaskCounts()
	r.AllTasksComplete = r.TasksTotal > 0 && r.TasksDone == r.TasksTotal
	switch {
	case r.TasksTotal == 0:
		r.Issues = append(r.Issues, "No tasks found in story document")
	case !r.AllTasksComplete:
		r.Issues = append(r.Issues, fmt.Sprintf("%d incomplete tasks remaining", r.TasksTotal-r.TasksDone))
	}

	executed := ExecutedWorkflows(s.WorkflowHistory)
	r.DevStoryExecuted = executed[model.WorkflowDevStory]
	r.CodeReviewExecuted = executed[model.WorkflowCodeReview]
	if !r.DevStoryExecuted {
		r.Issues = append(r.Issues, "Missing dev-story workflow execution")
	}
	if !r.CodeReviewExecuted {
		r.Issues = append(r.Issues, "Missing code-review workflow execution")
	}
	if len(r.Gaps) > 0 {
		r.Issues = append(r.Issues, fmt.Sprintf("%d workflow gaps detected", len(r.Gaps)))
	}

	if lc, err := NewLifecycle(s.ID); err == nil {
		lc.Replay(s.WorkflowHistory)
		r.Stage = lc.Stage()
		r.OutOfOrder = lc.OutOfOrder()
	}

	r.IsComplete = r.HasGitCommits && r.TestsPassing && r.AllTasksComplete &&
		r.DevStoryExecuted && r.CodeReviewExecuted && len(r.Gaps) == 0
	return r
}

// StoryGaps lists the gaps for one story.
type StoryGaps struct {
	StoryID  string       `json:"story_id"`
	Key      string       `json:"key"`
	Title    string       `json:"title"`
	Status   model.Status `json:"status"`
	GapCount int          `json:"gap_count"`
	Gaps     []model.Gap  `json:"gaps"`
}

// DetectWorkflowGaps returns only stories with at least one gap, in the
// order given.
func DetectWorkflowGaps(stories []*model.Story) []StoryGaps {
	var out []StoryGaps
	for _, s := range stories {
		if len(s.Gaps) == 0 {
			continue
		}
		out = append(out, StoryGaps{
			StoryID:  s.ID,
			Key:      s.Key,
			Title:    s.Title,
			Status:   s.Status,
			GapCount: len(s.Gaps),
			Gaps:     s.Gaps,
		})
	}
	return out
}
