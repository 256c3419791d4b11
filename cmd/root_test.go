package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/RamXX/bmdash/internal/store"
	"github.com/RamXX/bmdash/internal/testev"
	"github.com/RamXX/bmdash/internal/watch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, store.OutputDir), 0o755))
	nested := filepath.Join(root, "src", "pkg")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	got, ok := findRoot(nested)
	require.True(t, ok)
	assert.Equal(t, root, got)

	_, ok = findRoot(t.TempDir())
	assert.False(t, ok)
}

func TestCommandsRegistered(t *testing.T) {
	for _, path := range [][]string{
		{"bootstrap"}, {"sync"}, {"watch"}, {"list"}, {"show"}, {"epic"},
		{"gaps"}, {"validate"}, {"evidence"},
		{"tests", "set"}, {"tests", "clear"}, {"tests", "show"},
		{"cache", "stats"}, {"cache", "clear"}, {"cache", "prune"}, {"cache", "invalidate"},
		{"config", "get"}, {"config", "set"}, {"config", "list"},
		{"doctor"}, {"stale"}, {"summary"}, {"search"}, {"stats"}, {"init"},
	} {
		c, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], c.Name())
	}
}

func TestWatchIgnoresOwnOutputs(t *testing.T) {
	w, err := watch.New(nil, watch.WithIgnore(ignoredOutputs...))
	require.NoError(t, err)
	assert.True(t, w.Ignored("/p/_bmad-output/implementation-artifacts/project-state.json"))
	assert.True(t, w.Ignored("/p/_bmad-output/implementation-artifacts/project-state.json4172"))
	assert.True(t, w.Ignored("/p/.bmad-cache/stories.json.lock"))
	assert.False(t, w.Ignored("/p/_bmad-output/implementation-artifacts/1-1-login.md"))
	assert.False(t, w.Ignored("/p/_bmad-output/implementation-artifacts/sprint-status.yaml"))
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(context.Background())
}

func TestCommandWorkflow(t *testing.T) {
	root := t.TempDir()
	artifacts := filepath.Join(root, store.OutputDir, store.ArtifactsDir)
	require.NoError(t, os.MkdirAll(artifacts, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(artifacts, store.SprintStatusFile), []byte(`development_status:
  epic-1: in-progress
  1-1-user-login: in-progress
  1-2-password-reset: backlog
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(artifacts, "1-1-user-login.md"), []byte("# Story 1.1: User Login\n\n- [ ] Build form\n"), 0o644))

	t.Cleanup(func() { rootDir, jsonOut, quiet = "", false, false })
	quiet = true
	jsonOut = true

	require.NoError(t, run(t, "--root", root, "--quiet", "--json", "bootstrap"))
	assert.FileExists(t, filepath.Join(artifacts, store.StateFile))

	require.NoError(t, run(t, "--root", root, "--quiet", "--json", "sync"))
	require.NoError(t, run(t, "--root", root, "--quiet", "--json", "show", "1.1"))
	assert.Error(t, run(t, "--root", root, "--quiet", "--json", "show", "9.9"))

	require.NoError(t, run(t, "--root", root, "--quiet", "--json", "tests", "set", "1.1", "--passed", "3", "--failed", "1"))
	ov := testev.LoadOverrides(filepath.Join(root, store.CacheDir, testev.OverridesFile))
	got, ok := ov.Get("1.1")
	require.True(t, ok)
	assert.Equal(t, 3, got.Passed)
	assert.Equal(t, 1, got.Failed)

	require.NoError(t, run(t, "--root", root, "--quiet", "--json", "tests", "clear", "1.1"))
	_, ok = testev.LoadOverrides(filepath.Join(root, store.CacheDir, testev.OverridesFile)).Get("1.1")
	assert.False(t, ok)

	require.NoError(t, run(t, "--root", root, "--quiet", "config", "set", "git.fresh_days", "3"))
	s, err := store.Open(root)
	require.NoError(t, err)
	v, err := s.GetConfigValue("git.fresh_days")
	require.NoError(t, err)
	assert.Equal(t, "3", v)
}

func TestStoryFor(t *testing.T) {
	assert.Equal(t, "1.2", storyFor("implementation-artifacts/1-2-login-form.md"))
	assert.Equal(t, "10.3", storyFor("10-3-billing.md"))
	assert.Empty(t, storyFor("implementation-artifacts/code-review-1-2.md"))
	assert.Empty(t, storyFor("planning-artifacts/prd.md"))
}
