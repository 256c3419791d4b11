// Package gitlog correlates version-control history with BMAD stories.
package gitlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"time"

	"github.com/RamXX/bmdash/internal/idgen"
	"github.com/RamXX/bmdash/internal/model"
)

// DefaultFreshness is how recent the newest commit must be for green.
const DefaultFreshness = 7 * 24 * time.Hour

// Correlator loads the commit window once and answers per-story queries
// against it. It is not safe for concurrent use.
type Correlator struct {
	reader     LogReader
	window     int
	fresh      time.Duration
	classifier Classifier
	extractor  TaskReferenceExtractor
	log        *slog.Logger
	now        func() time.Time

	loaded  bool
	commits []model.GitCommit
	loadErr error
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithWindow sets how many recent commits are scanned (capped at MaxWindow).
func WithWindow(n int) Option { return func(c *Correlator) { c.window = n } }

// WithFreshness sets the green threshold.
func WithFreshness(d time.Duration) Option { return func(c *Correlator) { c.fresh = d } }

// WithClassifier replaces the commit-message workflow classifier.
func WithClassifier(cl Classifier) Option { return func(c *Correlator) { c.classifier = cl } }

// WithExtractor replaces the task reference extractor.
func WithExtractor(ex TaskReferenceExtractor) Option { return func(c *Correlator) { c.extractor = ex } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Correlator) { c.log = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(c *Correlator) { c.now = now } }

// NewCorrelator returns a Correlator reading history from r.
func NewCorrelator(r LogReader, opts ...Option) *Correlator {
	c := &Correlator{
		reader:     r,
		window:     MaxWindow,
		fresh:      DefaultFreshness,
		classifier: DefaultClassifier,
		extractor:  TaskRefExtractor{},
		log:        slog.New(slog.DiscardHandler),
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.window <= 0 || c.window > MaxWindow {
		c.window = MaxWindow
	}
	return c
}

// Reset drops the loaded window so the next query re-reads history.
func (c *Correlator) Reset() {
	c.loaded = false
	c.commits = nil
	c.loadErr = nil
}

func (c *Correlator) load(ctx context.Context) ([]model.GitCommit, error) {
	if c.loaded {
		return c.commits, c.loadErr
	}
	c.loaded = true
	if c.reader == nil {
		return nil, nil
	}
	c.commits, c.loadErr = c.reader.Log(ctx, c.window)
	if c.loadErr != nil {
		c.log.Warn("git history unavailable", "err", c.loadErr)
	} else {
		c.log.Debug("git history loaded", "commits", len(c.commits))
	}
	return c.commits, c.loadErr
}

// storyPatterns returns the message templates that reference id ("E.S").
func storyPatterns(id string) []*regexp.Regexp {
	q := regexp.QuoteMeta(id)
	return []*regexp.Regexp{
		regexp.MustCompile(`(?i)story[-_ ]?` + q + `\b`),
		regexp.MustCompile(`\[` + q + `\]`),
		regexp.MustCompile(`(?i)\b(?:feat|fix|docs|style|refactor|test|chore)\(story-` + q + `\)`),
		regexp.MustCompile(`(?i)\b(?:feat|fix|docs|style|refactor|test|chore)\(` + q + `\)`),
	}
}

// Matches reports whether message references the story.
func Matches(message, storyID string) bool {
	id, ok := idgen.Normalize(storyID)
	if !ok {
		return false
	}
	for _, re := range storyPatterns(id) {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}

// CommitsFor returns the commits whose message references the story, newest
// first. An unrecognizable ID yields no commits.
func (c *Correlator) CommitsFor(ctx context.Context, storyID string) ([]model.GitCommit, error) {
	id, ok := idgen.Normalize(storyID)
	if !ok {
		return nil, nil
	}
	all, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	patterns := storyPatterns(id)
	var out []model.GitCommit
	for _, commit := range all {
		for _, re := range patterns {
			if re.MatchString(commit.Message) {
				out = append(out, commit)
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// CommitsWithFallback returns correlated commits, or a single synthetic
// commit dated by sourcePath's mtime when there are none.
func (c *Correlator) CommitsWithFallback(ctx context.Context, storyID, sourcePath string) []model.GitCommit {
	commits, err := c.CommitsFor(ctx, storyID)
	if err != nil {
		c.log.Debug("commit correlation failed", "story", storyID, "err", err)
	}
	if len(commits) > 0 || sourcePath == "" {
		return commits
	}
	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil
	}
	return []model.GitCommit{{
		SHA:       model.FallbackSHA,
		Message:   fmt.Sprintf("Fallback: no commits reference story %s; using file modification time", storyID),
		Author:    model.FallbackAuthor,
		Timestamp: info.ModTime().UTC(),
	}}
}

// CalculateStatus classifies commit recency: none is red with no time,
// newer than fresh is green, anything older is yellow.
func CalculateStatus(commits []model.GitCommit, now time.Time, fresh time.Duration) (model.Light, *time.Time) {
	if len(commits) == 0 {
		return model.LightRed, nil
	}
	last := commits[0].Timestamp
	for _, c := range commits[1:] {
		if c.Timestamp.After(last) {
			last = c.Timestamp
		}
	}
	last = last.UTC()
	if now.Sub(last) < fresh {
		return model.LightGreen, &last
	}
	return model.LightYellow, &last
}

// Evidence correlates commits for s, infers task completion from their
// messages, and summarizes the result. s.Tasks may be modified.
func (c *Correlator) Evidence(ctx context.Context, s *model.Story) *model.GitEvidence {
	commits := c.CommitsWithFallback(ctx, s.ID, s.FilePath)
	status, last := CalculateStatus(commits, c.now(), c.fresh)
	ev := &model.GitEvidence{
		CommitCount: len(commits),
		LastCommit:  last,
		Status:      status,
	}
	if len(commits) == 0 {
		return ev
	}
	ev.LastSHA = commits[0].SHA
	ev.LastMessage = firstLine(commits[0].Message)
	ev.Source = model.GitSourceLog
	if commits[0].IsFallback() {
		ev.Source = model.GitSourceFileMtime
		return ev
	}
	ev.InferredTasks = InferTasks(s.Tasks, commits, c.extractor)
	return ev
}

// MineWorkflows derives workflow history from correlated commit messages.
func (c *Correlator) MineWorkflows(ctx context.Context, storyID string) []model.WorkflowEntry {
	commits, err := c.CommitsFor(ctx, storyID)
	if err != nil {
		return nil
	}
	var out []model.WorkflowEntry
	for _, commit := range commits {
		name, result, ok := c.classifier.Classify(commit.Message)
		if !ok {
			continue
		}
		out = append(out, model.WorkflowEntry{
			Name:      name,
			Timestamp: commit.Timestamp,
			Result:    result,
			Source:    "git",
		})
	}
	return out
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
