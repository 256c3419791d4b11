package model

import "time"

// Light is a traffic-light health signal.
type Light string

const (
	LightGreen   Light = "green"
	LightYellow  Light = "yellow"
	LightRed     Light = "red"
	LightUnknown Light = "unknown"
)

// GitCommit is one commit correlated with a story.
type GitCommit struct {
	SHA          string    `json:"sha"`
	Message      string    `json:"message"`
	Author       string    `json:"author"`
	Timestamp    time.Time `json:"timestamp"`
	FilesChanged []string  `json:"files_changed,omitempty"`
}

// Sentinel values carried by a synthetic commit built from a file mtime.
const (
	FallbackSHA    = "file-mtime"
	FallbackAuthor = "file-mtime (no git history)"
)

// IsFallback reports whether c was synthesized from a file mtime.
func (c GitCommit) IsFallback() bool {
	return c.SHA == FallbackSHA
}

// Git evidence sources.
const (
	GitSourceLog       = "git"
	GitSourceFileMtime = "file-mtime"
)

// GitEvidence summarizes the commits correlated with a story.
type GitEvidence struct {
	CommitCount   int        `json:"commit_count"`
	LastCommit    *time.Time `json:"last_commit,omitempty"`
	LastSHA       string     `json:"last_sha,omitempty"`
	LastMessage   string     `json:"last_message,omitempty"`
	Status        Light      `json:"status"`
	Source        string     `json:"source,omitempty"`
	InferredTasks []string   `json:"inferred_tasks,omitempty"`
}

// TestMode records how a test evidence record was produced.
type TestMode string

const (
	TestModeExecuted TestMode = "executed"
	TestModeStatic   TestMode = "static"
	TestModeReported TestMode = "reported"
	TestModeManual   TestMode = "manual"
)

// TestEvidence summarizes the tests discovered for a story.
type TestEvidence struct {
	StoryID      string     `json:"story_id,omitempty"`
	TestFiles    []string   `json:"test_files,omitempty"`
	PassCount    int        `json:"pass_count"`
	FailCount    int        `json:"fail_count"`
	FailingTests []string   `json:"failing_tests,omitempty"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	Status       Light      `json:"status"`
	Mode         TestMode   `json:"mode,omitempty"`
}

// Total returns the number of tests counted.
func (t *TestEvidence) Total() int {
	if t == nil {
		return 0
	}
	return t.PassCount + t.FailCount
}

// Evidence is the derived, non-authored data attached to a story.
type Evidence struct {
	Git   *GitEvidence  `json:"git,omitempty"`
	Tests *TestEvidence `json:"tests,omitempty"`
}

// IsZero reports whether no evidence has been computed.
func (e Evidence) IsZero() bool {
	return e.Git == nil && e.Tests == nil
}

// Healthy reports whether there is commit activity and no failing tests.
func (e Evidence) Healthy() bool {
	if e.Git == nil || e.Git.CommitCount == 0 {
		return false
	}
	return e.Tests == nil || e.Tests.FailCount == 0
}
