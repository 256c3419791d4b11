package enforce

import (
	"github.com/RamXX/bmdash/internal/model"
)

// Suggested remediation commands.
const (
	CmdDevStory   = "/bmad:bmm:workflows:dev-story"
	CmdCodeReview = "/bmad:bmm:workflows:code-review"
	CmdTestGap    = "/bmad:bmm:workflows:testarch-automate"
)

// ExecutedWorkflows returns the workflow names in history that ran without
// being skipped.
func ExecutedWorkflows(history []model.WorkflowEntry) map[string]bool {
	out := make(map[string]bool, len(history))
	for _, e := range history {
		if e.Result == model.ResultSkipped {
			continue
		}
		out[e.Name] = true
	}
	return out
}

// DetectGaps applies the workflow rules to one story. Rules are independent
// and every rule that matches contributes a gap.
func DetectGaps(status model.Status, executed map[string]bool, testCount int) []model.Gap {
	var gaps []model.Gap
	dev := executed[model.WorkflowDevStory]
	review := executed[model.WorkflowCodeReview]

	if status.IsDone() && !dev {
		gaps = append(gaps, model.Gap{
			Type:             model.GapMissingDevStory,
			Message:          "Missing: dev-story workflow",
			SuggestedCommand: CmdDevStory,
			Severity:         model.SeverityHigh,
		})
	}
	if dev && !review {
		gaps = append(gaps, model.Gap{
			Type:             model.GapMissingCodeReview,
			Message:          "Missing: code-review workflow",
			SuggestedCommand: CmdCodeReview,
			Severity:         model.SeverityMedium,
		})
	}
	if status.IsDone() && review && testCount == 0 {
		gaps = append(gaps, model.Gap{
			Type:             model.GapTestGap,
			Message:          "Missing: tests for completed story",
			SuggestedCommand: CmdTestGap,
			Severity:         model.SeverityHigh,
		})
	}
	return gaps
}
