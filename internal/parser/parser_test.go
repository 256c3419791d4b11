package parser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RamXX/bmdash/internal/model"
	"github.com/RamXX/bmdash/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func artifacts(root string) string {
	return filepath.Join(root, store.OutputDir, store.ArtifactsDir)
}

func newParser(t *testing.T, root string, opts ...Option) *Parser {
	t.Helper()
	s, err := store.Open(root)
	require.NoError(t, err)
	return New(s, opts...)
}

const flatStatus = `development_status:
  epic-2: in-progress
  2-1-foo: done
  2-2-bar: backlog
  epic-2-retrospective: optional
`

func TestParseFlatStatus(t *testing.T) {
	ss, err := ParseSprintStatus([]byte(flatStatus))
	require.NoError(t, err)
	require.Len(t, ss.Epics, 1)

	e := ss.Epics[0]
	assert.Equal(t, 2, e.Number)
	assert.Equal(t, "Epic 2", e.Title)
	assert.Equal(t, model.StatusInProgress, e.Status)
	require.Len(t, e.Stories, 2)
	assert.Equal(t, "2.1", e.Stories[0].ID)
	assert.Equal(t, "Foo", e.Stories[0].Title)
	assert.Equal(t, model.StatusDone, e.Stories[0].Status)
	assert.Equal(t, "2.2", e.Stories[1].ID)
}

func TestParseFlatStatusPreservesOrderAndSortsEpics(t *testing.T) {
	ss, err := ParseSprintStatus([]byte(`development_status:
  epic-10: backlog
  10-1-late: backlog
  epic-3: done
  3-2-second: done
  3-1-first: done
`))
	require.NoError(t, err)
	require.Len(t, ss.Epics, 2)
	assert.Equal(t, 3, ss.Epics[0].Number)
	assert.Equal(t, 10, ss.Epics[1].Number)
	assert.Equal(t, "3.2", ss.Epics[0].Stories[0].ID, "declaration order is kept")
	assert.Equal(t, "3.1", ss.Epics[0].Stories[1].ID)
}

func TestParseNestedStatus(t *testing.T) {
	ss, err := ParseSprintStatus([]byte(`project: demo
bmad_version: 6.0.0
epics:
  - epic_id: epic-1
    title: Foundations
    status: in-progress
    stories:
      - story_key: 1-1-setup
        story_id: "1.1"
        title: Project setup
        status: done
      - story_key: 1-10-tenth
        status: review
`))
	require.NoError(t, err)
	assert.Equal(t, "demo", ss.Project)
	assert.Equal(t, "6.0.0", ss.BmadVersion)
	require.Len(t, ss.Epics, 1)
	e := ss.Epics[0]
	assert.Equal(t, "Foundations", e.Title)
	require.Len(t, e.Stories, 2)
	assert.Equal(t, "Project setup", e.Stories[0].Title)
	assert.Equal(t, "1.10", e.Stories[1].ID)
	assert.Equal(t, "Tenth", e.Stories[1].Title)
}

func TestParseSprintStatusMalformed(t *testing.T) {
	_, err := ParseSprintStatus([]byte("development_status: [unclosed"))
	assert.Error(t, err)
}

func TestParseProjectFlat(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(artifacts(root), store.SprintStatusFile), flatStatus)
	writeFile(t, filepath.Join(artifacts(root), "2-1-foo.md"), "# Story 2.1: Foo\n\n- [x] write code\n- [ ] write docs\n")

	proj, err := newParser(t, root).ParseProject(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.PhaseImplementation, proj.Phase)
	require.Len(t, proj.Epics, 1)

	e := proj.Epics[0]
	assert.Equal(t, "2", e.ID)
	assert.Equal(t, model.Progress{Total: 2, Done: 1}, e.Progress)
	require.Len(t, e.Stories, 2)

	foo := e.Stories[0]
	assert.Equal(t, filepath.Join(artifacts(root), "2-1-foo.md"), foo.FilePath)
	assert.False(t, foo.Mtime.IsZero())
	require.Len(t, foo.Tasks, 2)
	assert.Equal(t, "task-1", foo.Tasks[0].ID)
	assert.Equal(t, model.TaskDone, foo.Tasks[0].Status)

	bar := e.Stories[1]
	assert.True(t, bar.IsStub())
	assert.Empty(t, bar.FilePath)
	assert.Empty(t, bar.Tasks)
	assert.Equal(t, model.StatusBacklog, bar.Status)
}

func TestParseProjectMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "proj")
	require.NoError(t, os.MkdirAll(root, 0o755))
	p := newParser(t, root)
	require.NoError(t, os.RemoveAll(root))

	_, err := p.ParseProject(context.Background())
	assert.True(t, errors.Is(err, store.ErrProjectRootMissing), "err = %v", err)
}

func TestParseProjectWithoutStatusFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "_bmad-output", "planning-artifacts", "prd.md"), "# PRD\n")

	proj, err := newParser(t, root).ParseProject(context.Background())
	require.NoError(t, err)
	assert.Empty(t, proj.Epics)
	assert.Equal(t, model.PhasePlanning, proj.Phase)
	assert.Equal(t, "latest", proj.BmadVersion)
}

func TestParseProjectMalformedStatusIsCaptured(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(artifacts(root), store.SprintStatusFile), "development_status: [oops")
	proj, err := newParser(t, root).ParseProject(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, proj.Errors)
}

func TestFrontmatterEpicConflictKeepsDeclaredEpic(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(artifacts(root), store.SprintStatusFile), "development_status:\n  1-1-thing: backlog\n  2-1-other: backlog\n")
	writeFile(t, filepath.Join(artifacts(root), "1-1-thing.md"), `---
story_id: "2.7"
epic: epic-2
status: in-progress
---
# Story
`)
	proj, err := newParser(t, root).ParseProject(context.Background())
	require.NoError(t, err)
	require.Len(t, proj.Epics, 2)

	e1 := proj.Epics[0]
	assert.Equal(t, 1, e1.Number)
	require.Len(t, e1.Stories, 1)
	s := e1.Stories[0]
	assert.Equal(t, "1.1", s.ID)
	assert.Equal(t, 1, s.Epic)
	assert.Equal(t, model.StatusInProgress, s.Status, "other overrides still apply")
	for _, other := range proj.Epics[1].Stories {
		assert.Equal(t, 2, other.Epic)
	}
}

func TestFrontmatterOverrides(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(artifacts(root), store.SprintStatusFile), "development_status:\n  4-1-thing: backlog\n")
	writeFile(t, filepath.Join(artifacts(root), "4-1-thing.md"), `---
title: The Real Title
status: review
epic: epic-4
created: 2025-01-02
workflow_history:
  - name: dev-story
    timestamp: 2025-01-03T10:00:00Z
    result: success
  - name: code-review
    timestamp: 2025-01-05T10:00:00Z
    result: success
---
# Story 4.1

- [ ] first
  - [x] sub a
  - [ ] sub b
- [X] second
`)
	proj, err := newParser(t, root).ParseProject(context.Background())
	require.NoError(t, err)
	s := proj.Epics[0].Stories[0]

	assert.Equal(t, "The Real Title", s.Title)
	assert.Equal(t, model.StatusReview, s.Status)
	assert.Equal(t, model.SourceFrontmatter, s.StatusSource)
	assert.Equal(t, 4, s.Epic)
	assert.Equal(t, "2025-01-02", s.Created)
	require.Len(t, s.WorkflowHistory, 2)
	assert.Equal(t, "code-review", s.WorkflowHistory[0].Name, "history is most recent first")
	assert.Empty(t, s.Gaps)

	require.Len(t, s.Tasks, 2)
	require.Len(t, s.Tasks[0].Subtasks, 2)
	assert.Equal(t, model.TaskDone, s.Tasks[0].Subtasks[0].Status)
	assert.Equal(t, model.TaskDone, s.Tasks[1].Status)
}

func TestMalformedFrontmatterIsReported(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(artifacts(root), store.SprintStatusFile), "development_status:\n  1-1-a: in-progress\n")
	writeFile(t, filepath.Join(artifacts(root), "1-1-a.md"), "---\ntitle: broken\n\n- [ ] task\n")

	proj, err := newParser(t, root).ParseProject(context.Background())
	require.NoError(t, err)
	s := proj.Epics[0].Stories[0]
	assert.Contains(t, s.ParseError, "missing closing '---' delimiter")
	assert.Equal(t, "A", s.Title)
	assert.Contains(t, proj.Errors, s.ParseError)
}

func TestCodeReviewFileFallback(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(artifacts(root), store.SprintStatusFile), "development_status:\n  1-2-b: done\n")
	writeFile(t, filepath.Join(artifacts(root), "1-2-b.md"), "# Story 1.2: B\n\n- [x] done\n")
	writeFile(t, filepath.Join(artifacts(root), "code-review-1-2.md"), "# Review\n\n**Date:** 2025-02-10\n")

	proj, err := newParser(t, root).ParseProject(context.Background())
	require.NoError(t, err)
	s := proj.Epics[0].Stories[0]
	require.Len(t, s.WorkflowHistory, 2)
	assert.Equal(t, HistoryCodeReview, s.WorkflowHistory[0].Source)
	assert.Equal(t, time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC), s.WorkflowHistory[0].Timestamp)

	// Done and reviewed with no tests anywhere.
	require.Len(t, s.Gaps, 1)
	assert.Equal(t, model.GapTestGap, s.Gaps[0].Type)
}

type fakeMiner struct{ calls int }

func (m *fakeMiner) MineWorkflows(_ context.Context, id string) []model.WorkflowEntry {
	m.calls++
	return []model.WorkflowEntry{{Name: model.WorkflowDevStory, Result: model.ResultSuccess, Source: HistoryGit}}
}

type fakeCounter map[string]int

func (c fakeCounter) StaticTestCount(id string) int { return c[id] }

func TestGitMiningFallbackAndTestCounter(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(artifacts(root), store.SprintStatusFile), "development_status:\n  3-1-c: done\n")
	writeFile(t, filepath.Join(artifacts(root), "3-1-c.md"), "# Story 3.1: C\n")

	m := &fakeMiner{}
	proj, err := newParser(t, root, WithHistoryMiner(m), WithTestCounter(fakeCounter{"3.1": 2})).ParseProject(context.Background())
	require.NoError(t, err)
	s := proj.Epics[0].Stories[0]
	assert.Equal(t, 1, m.calls)
	require.Len(t, s.WorkflowHistory, 1)
	require.Len(t, s.Gaps, 1)
	assert.Equal(t, model.GapMissingCodeReview, s.Gaps[0].Type)
}

func TestParseAcceptanceCriteria(t *testing.T) {
	body := `# Story

## Acceptance Criteria

1. **Given** a user
   **When** they log in
   **Then** they see the dashboard
- errors are shown inline

### Notes inside AC
- still criteria

## Tasks

- [ ] not a criterion
`
	got := ParseAcceptanceCriteria(body)
	assert.Equal(t, []string{
		"Given a user",
		"When they log in",
		"Then they see the dashboard",
		"errors are shown inline",
		"still criteria",
	}, got[:5])
	assert.NotContains(t, got, "not a criterion")
}

func TestParseHeadings(t *testing.T) {
	hs := ParseHeadings("# Title\ntext\n## Tasks ##\n")
	require.Len(t, hs, 2)
	assert.Equal(t, model.Heading{Level: 1, Text: "Title", Line: 1}, hs[0])
	assert.Equal(t, model.Heading{Level: 2, Text: "Tasks", Line: 3}, hs[1])
}

func TestParseReportedCounts(t *testing.T) {
	tests := []struct {
		body          string
		passed, total int
		ok            bool
	}{
		{"Result: 22/22 passing", 22, 22, true},
		{"passing (3/4)", 3, 4, true},
		{"Tests: 5/6", 5, 6, true},
		{"All 15 tests passing", 15, 15, true},
		{"12 tests, all passing", 12, 12, true},
		{"no numbers here", 0, 0, false},
	}
	for _, tt := range tests {
		p, total, ok := ParseReportedCounts(tt.body)
		assert.Equal(t, tt.ok, ok, tt.body)
		assert.Equal(t, tt.passed, p, tt.body)
		assert.Equal(t, tt.total, total, tt.body)
	}
}

func TestSplitFrontmatter(t *testing.T) {
	h, b, err := SplitFrontmatter("", "x.md")
	require.NoError(t, err)
	assert.Empty(t, h)
	assert.Empty(t, b)

	h, b, err = SplitFrontmatter("# Just markdown\n", "x.md")
	require.NoError(t, err)
	assert.Empty(t, h)
	assert.Equal(t, "# Just markdown\n", b)

	h, _, err = SplitFrontmatter("key: value\n", "x.yaml")
	require.NoError(t, err)
	assert.Equal(t, "key: value\n", h)

	_, _, err = SplitFrontmatter("---\ntitle: x\n", "x.md")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing closing '---' delimiter")

	for _, in := range []string{"\ufeff---\ntitle: x\n---\nbody\n", "\n\n  ---\ntitle: x\n---\nbody\n"} {
		h, b, err = SplitFrontmatter(in, "x.md")
		require.NoError(t, err, "%q", in)
		assert.Contains(t, h, "title: x", "%q", in)
		assert.Equal(t, "body\n", b, "%q", in)
	}
}

func TestParseTime(t *testing.T) {
	want := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, in := range []string{"2025-01-02T03:04:05Z", "2025-01-02T03:04:05", "2025-01-02 03:04:05"} {
		got, ok := ParseTime(in)
		assert.True(t, ok, in)
		assert.True(t, got.Equal(want), in)
		assert.Equal(t, time.UTC, got.Location(), in)
	}
	_, ok := ParseTime("yesterday")
	assert.False(t, ok)
}

func TestDetectPhase(t *testing.T) {
	tests := []struct {
		file string
		want model.Phase
	}{
		{"_bmad-output/implementation-artifacts/sprint-status.yaml", model.PhaseImplementation},
		{"sprint-status.yaml", model.PhaseImplementation},
		{"_bmad-output/planning-artifacts/architecture.md", model.PhaseSolutioning},
		{"_bmad-output/prd.md", model.PhasePlanning},
		{"product-brief.md", model.PhaseAnalysis},
		{"", model.PhaseUnknown},
	}
	for _, tt := range tests {
		root := t.TempDir()
		if tt.file != "" {
			writeFile(t, filepath.Join(root, tt.file), "x")
		}
		assert.Equal(t, tt.want, DetectPhase(root), tt.file)
	}
}

func TestDetectVersion(t *testing.T) {
	root := t.TempDir()
	assert.Equal(t, "latest", DetectVersion(root))

	writeFile(t, filepath.Join(artifacts(root), store.SprintStatusFile), "bmad_version: 5.1.0\n")
	assert.Equal(t, "5.1.0", DetectVersion(root))

	writeFile(t, filepath.Join(root, "_bmad", "bmm", "config.yaml"), "# Version: 6.0.0-alpha.22\nuser_name: x\n")
	assert.Equal(t, "6.0.0-alpha.22", DetectVersion(root))
}

func TestValidateWorkflowFile(t *testing.T) {
	root := t.TempDir()
	v := ValidateWorkflowFile(root)
	assert.False(t, v.Valid)
	assert.Contains(t, v.Errors, "No bmm-workflow-status.yaml file found")

	writeFile(t, filepath.Join(root, "_bmad-output", "planning-artifacts", "bmm-workflow-status.yaml"), `generated: 2025-01-01
project: demo
project_type: greenfield
selected_track: quick-flow
field_type: greenfield
workflow_path: x.yaml
workflow_status:
  - phase: 1
    name: Analysis
    workflows:
      - id: brainstorm
        name: Brainstorm
        agent: analyst
        status: done
`)
	v = ValidateWorkflowFile(root)
	assert.True(t, v.Valid, "errors: %v", v.Errors)
	assert.Contains(t, v.Warnings, "Invalid selected_track: quick-flow")
	assert.Contains(t, v.Warnings, "Phase 0, workflow 0 (Brainstorm) is missing 'command' field")

	writeFile(t, filepath.Join(root, "_bmad-output", "planning-artifacts", "bmm-workflow-status.yaml"), "project: demo\nworkflow_status: nope\n")
	v = ValidateWorkflowFile(root)
	assert.False(t, v.Valid)
	assert.Contains(t, v.Errors, "workflow_status must be a list of phases")
	assert.NotEmpty(t, v.Suggestions)
}
