package model

// GapType identifies a process-gap rule.
type GapType string

const (
	GapMissingDevStory   GapType = "missing-dev-story"
	GapMissingCodeReview GapType = "missing-code-review"
	GapTestGap           GapType = "test-gap"
)

// Severity ranks how urgent a gap is.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Gap is a detected deviation from the expected workflow.
type Gap struct {
	Type             GapType  `json:"type"`
	Message          string   `json:"message"`
	SuggestedCommand string   `json:"suggested_command"`
	Severity         Severity `json:"severity"`
}

// WorkflowValidation is the result of checking the workflow-status file.
type WorkflowValidation struct {
	Valid       bool     `json:"valid"`
	FilePath    string   `json:"file_path,omitempty"`
	Errors      []string `json:"errors,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}
