package state

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RamXX/bmdash/internal/cache"
	"github.com/RamXX/bmdash/internal/gitlog"
	"github.com/RamXX/bmdash/internal/model"
	"github.com/RamXX/bmdash/internal/store"
	"github.com/RamXX/bmdash/internal/testev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

type fakeReader struct {
	commits []model.GitCommit
	err     error
	calls   int
}

func (f *fakeReader) Log(_ context.Context, limit int) ([]model.GitCommit, error) {
	f.calls++
	return f.commits, f.err
}

type fakeExecutor struct{ out string }

func (f fakeExecutor) Run(context.Context, string, string, ...string) (string, error) {
	return f.out, nil
}

const sprintStatus = `project: demo
development_status:
  epic-1: in-progress
  1-1-user-login: done
  1-2-password-reset: in-progress
  1-3-profile-page: backlog
  epic-1-retrospective: optional
  epic-2: backlog
  2-1-billing: backlog
`

const loginStory = `---
story_id: "1.1"
status: done
workflow_history:
  - name: dev-story
    timestamp: 2025-06-10T10:00:00Z
    result: success
---
# Story 1.1: User Login

## Tasks

- [x] Build login form
- [x] Wire session handling
`

const resetStory = `# Story 1.2: Password Reset

## Acceptance Criteria

- Reset email is sent

## Tasks

- [x] Add reset endpoint
- [ ] Send email
`

type fixture struct {
	root   string
	reader *fakeReader
}

func (f *fixture) artifact(name string) string {
	return filepath.Join(f.root, store.OutputDir, store.ArtifactsDir, name)
}

func (f *fixture) write(t *testing.T, name, content string) string {
	t.Helper()
	p := f.artifact(name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

// bump moves a file's mtime forward by d.
func bump(t *testing.T, path string, d time.Duration) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	mt := info.ModTime().Add(d)
	require.NoError(t, os.Chtimes(path, mt, mt))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		root: t.TempDir(),
		reader: &fakeReader{commits: []model.GitCommit{
			{SHA: "c2", Message: "chore(story-1.2): reset endpoint, task 1", Timestamp: now.Add(-2 * time.Hour)},
			{SHA: "c1", Message: "feat(story-1.1): login form", Timestamp: now.Add(-24 * time.Hour)},
		}},
	}
	f.write(t, store.SprintStatusFile, sprintStatus)
	f.write(t, "1-1-user-login.md", loginStory)
	f.write(t, "1-2-password-reset.md", resetStory)
	return f
}

func (f *fixture) orchestrator(t *testing.T, opts ...Option) *Orchestrator {
	t.Helper()
	s, err := store.Open(f.root)
	require.NoError(t, err)
	corr := gitlog.NewCorrelator(f.reader, gitlog.WithClock(clock))
	tests := testev.NewCollector(testev.NewDiscoverer(f.root),
		testev.WithExecutor(fakeExecutor{out: "==== 3 passed in 0.2s ====\n"}),
		testev.WithClock(clock),
	)
	base := []Option{WithCorrelator(corr), WithCollector(tests), WithClock(clock)}
	return New(s, append(base, opts...)...)
}

func stateJSON(t *testing.T, ps *model.ProjectState) string {
	t.Helper()
	data, err := json.Marshal(ps)
	require.NoError(t, err)
	return string(data)
}

func TestBootstrap(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t)

	ps, err := o.Bootstrap(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "demo", ps.Project.Name)
	assert.Equal(t, model.PhaseImplementation, ps.Project.Phase)
	require.Len(t, ps.Epics, 2)
	e1, ok := ps.Epic("1")
	require.True(t, ok)
	assert.Equal(t, []string{"1.1", "1.2", "1.3"}, e1.StoryIDs)
	assert.Equal(t, model.Progress{Total: 3, Done: 1}, e1.Progress)
	assert.Equal(t, "1.2", ps.CurrentStory)

	login := ps.Stories["1.1"]
	require.NotNil(t, login.Evidence.Git)
	assert.Equal(t, 1, login.Evidence.Git.CommitCount)
	assert.Equal(t, model.LightGreen, login.Evidence.Git.Status)
	require.NotNil(t, login.Evidence.Tests)
	assert.Equal(t, model.LightUnknown, login.Evidence.Tests.Status)

	reset := ps.Stories["1.2"]
	assert.Equal(t, model.TaskDone, reset.Tasks[0].Status)
	assert.False(t, reset.Tasks[0].Inferred, "already done in the document")

	stub := ps.Stories["1.3"]
	assert.True(t, stub.IsStub())
	assert.Equal(t, "Profile Page", stub.Title)
	assert.Empty(t, stub.Tasks)

	_, err = os.Stat(f.artifact(store.StateFile))
	assert.NoError(t, err)
}

func TestBootstrapInfersTasksAndRunsActiveTests(t *testing.T) {
	f := newFixture(t)
	f.write(t, "1-2-password-reset.md", strings.Replace(resetStory, "- [x] Add reset endpoint", "- [ ] Add reset endpoint", 1))
	testFile := filepath.Join(f.root, "tests", "test_story_1_2.py")
	require.NoError(t, os.MkdirAll(filepath.Dir(testFile), 0o755))
	require.NoError(t, os.WriteFile(testFile, []byte("def test_reset():\n    pass\n"), 0o644))

	ps, err := f.orchestrator(t).Bootstrap(context.Background())
	require.NoError(t, err)

	reset := ps.Stories["1.2"]
	assert.Equal(t, model.TaskDone, reset.Tasks[0].Status)
	assert.True(t, reset.Tasks[0].Inferred)
	assert.Equal(t, []string{"task-1"}, reset.Evidence.Git.InferredTasks)

	tests := reset.Evidence.Tests
	require.NotNil(t, tests)
	assert.Equal(t, model.TestModeExecuted, tests.Mode)
	assert.Equal(t, 3, tests.PassCount)
	assert.Equal(t, model.LightGreen, tests.Status)
}

func TestRoundTrip(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t)
	ps, err := o.Bootstrap(context.Background())
	require.NoError(t, err)

	loaded, err := f.orchestrator(t).Load()
	require.NoError(t, err)
	assert.Equal(t, stateJSON(t, ps), stateJSON(t, loaded))

	e1, ok := loaded.Epic("epic-1")
	require.True(t, ok)
	require.Len(t, e1.Stories, 3, "stories reattached on load")
	assert.Same(t, loaded.Stories["1.1"], e1.Stories[0])
}

func TestLoadMissingOrOutdated(t *testing.T) {
	f := newFixture(t)
	ps, err := f.orchestrator(t).Load()
	require.NoError(t, err)
	assert.True(t, ps.IsEmpty())

	f.write(t, store.StateFile, `{"version":"1","stories":{"1.1":{"id":"1.1"}}}`)
	ps, err = f.orchestrator(t).Load()
	require.NoError(t, err)
	assert.True(t, ps.IsEmpty())
}

func TestSyncBootstrapsEmptyState(t *testing.T) {
	f := newFixture(t)
	report, err := f.orchestrator(t).Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Bootstrapped)
	_, err = os.Stat(f.artifact(store.StateFile))
	assert.NoError(t, err)
}

func TestSyncIdempotent(t *testing.T) {
	f := newFixture(t)
	_, err := f.orchestrator(t).Bootstrap(context.Background())
	require.NoError(t, err)
	before, err := os.ReadFile(f.artifact(store.StateFile))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		report, err := f.orchestrator(t).Sync(context.Background())
		require.NoError(t, err)
		assert.False(t, report.Changed(), "sync %d: %+v", i, report)
	}

	after, err := os.ReadFile(f.artifact(store.StateFile))
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestSyncTargetedInvalidation(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t)
	ps, err := o.Bootstrap(context.Background())
	require.NoError(t, err)
	loginBefore := stateJSON(t, &model.ProjectState{Stories: map[string]*model.Story{"1.1": ps.Stories["1.1"]}})

	p := f.write(t, "1-2-password-reset.md", strings.Replace(resetStory, "- [ ] Send email", "- [x] Send email", 1))
	bump(t, p, 2*time.Second)

	report, err := f.orchestrator(t).Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1.2"}, report.Reparsed)
	assert.False(t, report.ShapeChanged)

	loaded, err := f.orchestrator(t).Load()
	require.NoError(t, err)
	done, total := loaded.Stories["1.2"].TaskCounts()
	assert.Equal(t, 2, done)
	assert.Equal(t, 2, total)
	assert.Equal(t, loginBefore, stateJSON(t, &model.ProjectState{Stories: map[string]*model.Story{"1.1": loaded.Stories["1.1"]}}))
}

func TestSyncSmallMtimeDriftIgnored(t *testing.T) {
	f := newFixture(t)
	_, err := f.orchestrator(t).Bootstrap(context.Background())
	require.NoError(t, err)

	bump(t, f.artifact("1-1-user-login.md"), 100*time.Millisecond)
	report, err := f.orchestrator(t).Sync(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Reparsed)
}

func TestSyncContentHashSkipsTouch(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.root, store.ConfigFile), []byte("version: \"1\"\nsync:\n  content_hash: true\n"), 0o644))
	_, err := f.orchestrator(t).Bootstrap(context.Background())
	require.NoError(t, err)

	bump(t, f.artifact("1-1-user-login.md"), 5*time.Second)
	report, err := f.orchestrator(t).Sync(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Reparsed)
	assert.Equal(t, []string{"1.1"}, report.Touched)

	report, err = f.orchestrator(t).Sync(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Changed())
}

func TestSyncShapeChange(t *testing.T) {
	f := newFixture(t)
	_, err := f.orchestrator(t).Bootstrap(context.Background())
	require.NoError(t, err)

	p := f.write(t, store.SprintStatusFile, `project: demo
development_status:
  epic-1: in-progress
  1-1-user-login: done
  1-2-password-reset: review
  epic-2: in-progress
  2-1-billing: in-progress
  2-2-invoices: backlog
`)
	bump(t, p, 2*time.Second)

	report, err := f.orchestrator(t).Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, report.ShapeChanged)
	assert.Equal(t, []string{"2.2"}, report.Added)
	assert.Equal(t, []string{"1.3"}, report.Removed)

	ps, err := f.orchestrator(t).Load()
	require.NoError(t, err)
	assert.NotContains(t, ps.Stories, "1.3")
	assert.Equal(t, model.StatusReview, ps.Stories["1.2"].Status)
	assert.Equal(t, model.StatusInProgress, ps.Stories["2.1"].Status)
	assert.Equal(t, model.StatusDone, ps.Stories["1.1"].Status)

	e1, _ := ps.Epic("1")
	assert.Equal(t, model.Progress{Total: 2, Done: 1}, e1.Progress)
	e2, _ := ps.Epic("2")
	assert.Equal(t, []string{"2.1", "2.2"}, e2.StoryIDs)
	assert.Equal(t, model.StatusInProgress, e2.Status)
	assert.Equal(t, "2.1", ps.CurrentStory)
}

func TestSyncFrontmatterStatusWins(t *testing.T) {
	f := newFixture(t)
	_, err := f.orchestrator(t).Bootstrap(context.Background())
	require.NoError(t, err)

	p := f.write(t, store.SprintStatusFile, strings.Replace(sprintStatus, "1-1-user-login: done", "1-1-user-login: review", 1))
	bump(t, p, 2*time.Second)

	_, err = f.orchestrator(t).Sync(context.Background())
	require.NoError(t, err)
	ps, err := f.orchestrator(t).Load()
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, ps.Stories["1.1"].Status)
}

func TestSyncNewDocumentAndDeletedDocument(t *testing.T) {
	f := newFixture(t)
	_, err := f.orchestrator(t).Bootstrap(context.Background())
	require.NoError(t, err)

	f.write(t, "1-3-profile-page.md", "# Story 1.3: Profile Page\n\n- [ ] Avatar upload\n")
	require.NoError(t, os.Remove(f.artifact("1-2-password-reset.md")))

	report, err := f.orchestrator(t).Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1.3"}, report.Reparsed)
	assert.Equal(t, []string{"1.2"}, report.Stubbed)

	ps, err := f.orchestrator(t).Load()
	require.NoError(t, err)
	assert.False(t, ps.Stories["1.3"].IsStub())
	require.Len(t, ps.Stories["1.3"].Tasks, 1)

	reset := ps.Stories["1.2"]
	assert.True(t, reset.IsStub())
	assert.Empty(t, reset.Tasks)
	assert.Equal(t, model.StatusInProgress, reset.Status)
	assert.Equal(t, 1, reset.Evidence.Git.CommitCount, "git evidence still correlates")
}

func TestDoneStoriesReuseCache(t *testing.T) {
	f := newFixture(t)
	cacheDir := filepath.Join(f.root, store.CacheDir)

	_, err := f.orchestrator(t, WithCache(cache.NewFileCache(cacheDir))).Bootstrap(context.Background())
	require.NoError(t, err)

	fc := cache.NewFileCache(cacheDir)
	st := fc.Stats()
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, 1, st.ByStatus["done"])

	f.reader.commits = nil
	f.reader.err = errors.New("git unavailable")
	ps, err := f.orchestrator(t, WithCache(fc)).Bootstrap(context.Background())
	require.NoError(t, err)

	login := ps.Stories["1.1"]
	assert.Equal(t, model.GitSourceLog, login.Evidence.Git.Source, "restored from cache")
	assert.Equal(t, 1, login.Evidence.Git.CommitCount)
	assert.Equal(t, model.GitSourceFileMtime, ps.Stories["1.2"].Evidence.Git.Source, "recomputed")
	assert.Equal(t, 1, fc.Stats().Hits)
}

func TestUpdateStory(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t)
	_, err := o.Bootstrap(context.Background())
	require.NoError(t, err)

	done := model.StatusDone
	title := "Password reset flow"
	s, err := o.UpdateStory("story-1.2", StoryPatch{Status: &done, Title: &title})
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, s.Status)

	ps, err := f.orchestrator(t).Load()
	require.NoError(t, err)
	assert.Equal(t, "Password reset flow", ps.Stories["1.2"].Title)
	e1, _ := ps.Epic("1")
	assert.Equal(t, 2, e1.Progress.Done)
	assert.Equal(t, "", ps.CurrentStory)

	_, err = o.UpdateStory("9.9", StoryPatch{Title: &title})
	assert.ErrorIs(t, err, ErrStoryNotFound)

	bad := model.Status("nonsense")
	_, err = o.UpdateStory("1.2", StoryPatch{Status: &bad})
	assert.Error(t, err)
}

func TestUpdateStoryFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t)
	_, err := o.Bootstrap(context.Background())
	require.NoError(t, err)
	before, err := o.GetStory("1.1")
	require.NoError(t, err)
	title, status := before.Title, before.Status

	changed := "CHANGED"
	bogus := model.Status("bogus")
	_, err = o.UpdateStory("1.1", StoryPatch{Title: &changed, Status: &bogus})
	require.Error(t, err)
	s, err := o.GetStory("1.1")
	require.NoError(t, err)
	assert.Equal(t, title, s.Title)

	// A directory where the state file belongs makes the write fail.
	statePath := o.Store().StatePath()
	require.NoError(t, os.Remove(statePath))
	require.NoError(t, os.MkdirAll(filepath.Join(statePath, "blocked"), 0o755))
	review := model.StatusReview
	_, err = o.UpdateStory("1.1", StoryPatch{Title: &changed, Status: &review})
	require.Error(t, err)
	s, err = o.GetStory("1.1")
	require.NoError(t, err)
	assert.Equal(t, title, s.Title)
	assert.Equal(t, status, s.Status)
}

func TestValidateAndGaps(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t)
	_, err := o.Bootstrap(context.Background())
	require.NoError(t, err)

	res, err := o.ValidateStory("1.1")
	require.NoError(t, err)
	assert.True(t, res.HasGitCommits)
	assert.True(t, res.AllTasksComplete)
	assert.True(t, res.DevStoryExecuted)
	assert.False(t, res.CodeReviewExecuted)
	assert.False(t, res.IsComplete)

	gaps, err := o.DetectWorkflowGaps()
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.Equal(t, "1.1", gaps[0].StoryID)
	assert.Equal(t, model.GapMissingCodeReview, gaps[0].Gaps[0].Type)

	_, err = o.ValidateStory("4.4")
	assert.ErrorIs(t, err, ErrStoryNotFound)
}

func TestMissingRoot(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t)
	require.NoError(t, os.RemoveAll(f.root))

	_, err := o.Bootstrap(context.Background())
	assert.ErrorIs(t, err, ErrProjectRootMissing)
	_, err = o.Sync(context.Background())
	assert.ErrorIs(t, err, ErrProjectRootMissing)
}

func TestSummarize(t *testing.T) {
	f := newFixture(t)
	ps, err := f.orchestrator(t).Bootstrap(context.Background())
	require.NoError(t, err)
	before := stateJSON(t, ps)

	out := Summarize(ps, SummaryOptions{Tree: &WorkingTree{Changed: []string{"a.go", "b.go"}}})
	assert.Contains(t, out, "Project: demo")
	assert.Contains(t, out, "Phase: Implementation")
	assert.Contains(t, out, "Epic 1: Epic 1 [in-progress] 1/3 done (33%)")
	assert.Contains(t, out, "Current focus: Story 1.2 Password Reset [in-progress], tasks 1/2")
	assert.Contains(t, out, "in-progress (1): 1.2")
	assert.Contains(t, out, "backlog (2): 1.3, 2.1")
	assert.Contains(t, out, "Working tree: 2 uncommitted changes")
	assert.Contains(t, out, "Story 1.1: no tests, missing-code-review")
	assert.Equal(t, before, stateJSON(t, ps), "summary does not mutate")

	assert.Contains(t, Summarize(&model.ProjectState{}, SummaryOptions{}), "No project state")
}

func TestRefreshEvidenceAppliesOverride(t *testing.T) {
	f := newFixture(t)
	ov := testev.LoadOverrides(filepath.Join(t.TempDir(), testev.OverridesFile))
	tests := testev.NewCollector(testev.NewDiscoverer(f.root),
		testev.WithOverrides(ov),
		testev.WithClock(clock),
	)
	o := f.orchestrator(t, WithCollector(tests))
	ctx := context.Background()
	_, err := o.Bootstrap(ctx)
	require.NoError(t, err)

	require.NoError(t, ov.Set("1.2", testev.Override{Passed: 4, Failed: 1, FailingTests: []string{"test_email"}, SetAt: now}))
	s, err := o.RefreshEvidence(ctx, "story-1.2")
	require.NoError(t, err)
	require.NotNil(t, s.Evidence.Tests)
	assert.Equal(t, model.TestModeManual, s.Evidence.Tests.Mode)
	assert.Equal(t, "1.2", s.Evidence.Tests.StoryID)
	assert.Equal(t, model.LightRed, s.Evidence.Tests.Status)
	assert.Equal(t, []string{"test_email"}, s.Evidence.Tests.FailingTests)
	assert.Equal(t, 1, s.Evidence.Git.CommitCount)

	loaded, err := f.orchestrator(t).Load()
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Stories["1.2"].Evidence.Tests.PassCount)
	e1, _ := loaded.Epic("1")
	assert.Len(t, e1.Stories, 3)

	_, err = o.RefreshEvidence(ctx, "9.9")
	assert.ErrorIs(t, err, ErrStoryNotFound)
}
