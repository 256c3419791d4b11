// Package state keeps the persisted project snapshot in step with the
// artifact tree: a full bootstrap on first use, then incremental syncs
// that only re-parse what changed on disk.
package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/RamXX/bmdash/internal/cache"
	"github.com/RamXX/bmdash/internal/enforce"
	"github.com/RamXX/bmdash/internal/gitlog"
	"github.com/RamXX/bmdash/internal/idgen"
	"github.com/RamXX/bmdash/internal/metrics"
	"github.com/RamXX/bmdash/internal/model"
	"github.com/RamXX/bmdash/internal/parser"
	"github.com/RamXX/bmdash/internal/store"
	"github.com/RamXX/bmdash/internal/testev"
)

// ErrProjectRootMissing is returned when the project root does not exist.
var ErrProjectRootMissing = store.ErrProjectRootMissing

// ErrStoryNotFound is returned for story IDs absent from the snapshot.
var ErrStoryNotFound = errors.New("story not found")

// Orchestrator owns the project snapshot and the collaborators that
// derive it.
type Orchestrator struct {
	store   *store.Store
	parser  *parser.Parser
	corr    *gitlog.Correlator
	tests   *testev.Collector
	cache   cache.EvidenceCache
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time

	state *model.ProjectState
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache sets the evidence cache. The default stores nothing.
func WithCache(c cache.EvidenceCache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithLogger sets the logger passed to every collaborator.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithCorrelator replaces the version-control correlator.
func WithCorrelator(c *gitlog.Correlator) Option {
	return func(o *Orchestrator) { o.corr = c }
}

// WithCollector replaces the test evidence collector.
func WithCollector(c *testev.Collector) Option {
	return func(o *Orchestrator) { o.tests = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithMetrics records sync and test activity.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New returns an Orchestrator for the project behind s. Collaborators not
// supplied through options are built from the project config.
func New(s *store.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store: s,
		cache: cache.Nop{},
		log:   slog.New(slog.DiscardHandler),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	cfg := s.Config()
	if o.corr == nil {
		o.corr = gitlog.NewCorrelator(
			gitlog.CLI{Dir: s.Root(), Timeout: gitlog.DefaultTimeout},
			gitlog.WithWindow(cfg.CommitWindow()),
			gitlog.WithFreshness(cfg.GitFreshness()),
			gitlog.WithLogger(o.log),
			gitlog.WithClock(o.now),
		)
	}
	if o.tests == nil {
		disc := testev.NewDiscoverer(s.Root(),
			testev.WithRoots(cfg.Tests.Roots),
			testev.WithDiscoveryLogger(o.log),
		)
		o.tests = testev.NewCollector(disc,
			testev.WithOverrides(testev.LoadOverrides(filepath.Join(s.CachePath(), testev.OverridesFile))),
			testev.WithTimeout(cfg.TestTimeout()),
			testev.WithFreshness(cfg.TestFreshness()),
			testev.WithLogger(o.log),
			testev.WithClock(o.now),
			testev.WithRunHook(o.metrics.TestRun),
		)
	}
	o.parser = parser.New(s,
		parser.WithHistoryMiner(o.corr),
		parser.WithTestCounter(o.tests.Discoverer()),
		parser.WithLogger(o.log),
	)
	return o
}

// Store returns the project store.
func (o *Orchestrator) Store() *store.Store { return o.store }

// Cache returns the evidence cache.
func (o *Orchestrator) Cache() cache.EvidenceCache { return o.cache }

// Tests returns the test evidence collector.
func (o *Orchestrator) Tests() *testev.Collector { return o.tests }

// Load reads the persisted snapshot. A missing, unreadable or outdated
// file loads as an empty snapshot.
func (o *Orchestrator) Load() (*model.ProjectState, error) {
	var ps model.ProjectState
	err := store.ReadJSON(o.store.StatePath(), &ps)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		o.state = &model.ProjectState{}
		return o.state, nil
	case err != nil:
		o.log.Warn("project state unreadable, starting empty", "path", o.store.StatePath(), "err", err)
		o.state = &model.ProjectState{}
		return o.state, nil
	case ps.Version != model.StateVersion:
		o.log.Info("project state schema changed, starting empty", "version", ps.Version)
		o.state = &model.ProjectState{}
		return o.state, nil
	}
	if ps.Epics == nil {
		ps.Epics = make(map[string]*model.Epic)
	}
	if ps.Stories == nil {
		ps.Stories = make(map[string]*model.Story)
	}
	ps.Reconnect()
	o.state = &ps
	return o.state, nil
}

// Save persists the current snapshot.
func (o *Orchestrator) Save() error {
	if o.state == nil {
		return nil
	}
	return o.persist(o.state)
}

// persist writes ps without making it current.
func (o *Orchestrator) persist(ps *model.ProjectState) error {
	ps.UpdatedAt = o.now().UTC()
	if err := store.WriteJSON(o.store.StatePath(), ps); err != nil {
		return fmt.Errorf("save project state: %w", err)
	}
	return nil
}

// commit persists next and makes it the current snapshot. On failure the
// current snapshot is left as it was.
func (o *Orchestrator) commit(next *model.ProjectState) error {
	next.Reconnect()
	next.CurrentStory = CurrentStory(next)
	if err := o.persist(next); err != nil {
		return err
	}
	o.state = next
	return nil
}

// State returns the current snapshot, loading it on first use. The
// snapshot may be empty.
func (o *Orchestrator) State() (*model.ProjectState, error) {
	if o.state == nil {
		return o.Load()
	}
	return o.state, nil
}

// Bootstrap parses the whole project, gathers evidence for every story
// and persists the result.
func (o *Orchestrator) Bootstrap(ctx context.Context) (*model.ProjectState, error) {
	start := time.Now()
	o.corr.Reset()
	o.tests.Discoverer().Reset()

	proj, err := o.parser.ParseProject(ctx)
	if err != nil {
		return nil, err
	}
	ps := model.NewProjectState(proj)
	ps.WorkflowValidation = parser.ValidateWorkflowFile(o.store.Root())

	pending := make(map[string]cache.Entry)
	ids := make([]string, 0, len(ps.Stories))
	for _, s := range ps.OrderedStories() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		o.attachEvidence(ctx, s, pending)
		ids = append(ids, s.ID)
	}
	if err := o.cache.SetMany(pending); err != nil {
		o.log.Warn("cache write failed", "err", err)
	}
	if n, err := o.cache.Prune(ids); err != nil {
		o.log.Warn("cache prune failed", "err", err)
	} else if n > 0 {
		o.log.Debug("cache pruned", "removed", n)
	}

	if err := o.commit(ps); err != nil {
		return nil, err
	}
	o.metrics.Sync("bootstrap", time.Since(start), len(ids))
	o.log.Info("bootstrap complete", "epics", len(ps.Epics), "stories", len(ps.Stories), "cached", len(ids)-len(pending))
	return ps, nil
}

// attachEvidence fills s.Evidence, from the cache when s is done and its
// document is unchanged. Freshly computed evidence for done stories is
// queued in pending.
func (o *Orchestrator) attachEvidence(ctx context.Context, s *model.Story, pending map[string]cache.Entry) {
	if s.Status.IsDone() {
		if e, ok := o.cache.Get(s.ID, s.FilePath); ok {
			s.Evidence = e.Evidence
			if g := s.Evidence.Git; g != nil {
				gitlog.ApplyInferred(s.Tasks, g.InferredTasks)
			}
			o.log.Debug("evidence from cache", "story", s.ID)
			return
		}
	}
	s.Evidence.Git = o.corr.Evidence(ctx, s)
	s.Evidence.Tests = o.testEvidence(ctx, s)
	if s.Status.IsDone() && s.FilePath != "" {
		pending[s.ID] = cache.Entry{
			Title:     s.Title,
			Status:    s.Status,
			FileMtime: s.Mtime,
			Evidence:  s.Evidence,
		}
	}
}

// testEvidence runs tests for stories under active development and counts
// them statically otherwise. Stories without test files fall back to
// counts reported in their document.
func (o *Orchestrator) testEvidence(ctx context.Context, s *model.Story) *model.TestEvidence {
	var ev *model.TestEvidence
	if s.Status.IsActive() && o.store.Config().ExecuteTests() {
		ev = o.tests.Executed(ctx, s.ID)
	} else {
		ev = o.tests.Static(s.ID)
	}
	if len(ev.TestFiles) > 0 || ev.Mode == model.TestModeManual {
		return ev
	}
	if passed, total, ok := parser.ParseReportedCounts(s.Body); ok {
		return o.tests.Reported(s.ID, passed, total, nil)
	}
	return ev
}

// GetStory returns the story with the given ID in any accepted spelling.
func (o *Orchestrator) GetStory(id string) (*model.Story, error) {
	ps, err := o.State()
	if err != nil {
		return nil, err
	}
	norm, ok := idgen.Normalize(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStoryNotFound, id)
	}
	s, ok := ps.Stories[norm]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStoryNotFound, norm)
	}
	return s, nil
}

// StoryPatch lists the fields UpdateStory may change. Nil fields are left
// alone.
type StoryPatch struct {
	Title  *string
	Status *model.Status
	Tests  *model.TestEvidence
}

// UpdateStory merges patch into the story, persists the snapshot and
// drops the story's cache entry. The patch is validated and applied to a
// copy; the snapshot is unchanged unless the write succeeds.
func (o *Orchestrator) UpdateStory(id string, patch StoryPatch) (*model.Story, error) {
	cur, err := o.GetStory(id)
	if err != nil {
		return nil, err
	}
	var status model.Status
	if patch.Status != nil {
		if status, err = model.ParseStatus(string(*patch.Status)); err != nil {
			return nil, err
		}
	}

	next, err := o.state.Clone()
	if err != nil {
		return nil, err
	}
	s := next.Stories[cur.ID]
	if patch.Title != nil {
		s.Title = *patch.Title
	}
	if patch.Status != nil {
		s.Status = status
	}
	if patch.Tests != nil {
		t := *patch.Tests
		t.StoryID = s.ID
		t.Status = testev.Status(&t, o.now(), o.store.Config().TestFreshness())
		s.Evidence.Tests = &t
	}
	o.regap(s)
	if err := o.commit(next); err != nil {
		return nil, err
	}
	if _, err := o.cache.Invalidate(s.ID); err != nil {
		o.log.Warn("cache invalidate failed", "story", s.ID, "err", err)
	}
	return s, nil
}

// RefreshEvidence re-parses one story's document and recomputes its git
// and test evidence, bypassing the cache.
func (o *Orchestrator) RefreshEvidence(ctx context.Context, id string) (*model.Story, error) {
	cur, err := o.GetStory(id)
	if err != nil {
		return nil, err
	}
	next, err := o.state.Clone()
	if err != nil {
		return nil, err
	}
	o.corr.Reset()
	o.tests.Discoverer().Reset()

	ns := next.Stories[cur.ID]
	if !ns.IsStub() {
		ns = o.parser.ParseStory(ctx, parser.DeclFromStory(ns))
	}
	ns.Evidence.Git = o.corr.Evidence(ctx, ns)
	ns.Evidence.Tests = o.testEvidence(ctx, ns)
	o.regap(ns)
	next.Stories[cur.ID] = ns
	if err := o.commit(next); err != nil {
		return nil, err
	}
	if _, err := o.cache.Invalidate(cur.ID); err != nil {
		o.log.Warn("cache invalidate failed", "story", cur.ID, "err", err)
	}
	return ns, nil
}

// regap recomputes a story's gaps from its current status and history.
func (o *Orchestrator) regap(s *model.Story) {
	if s.IsStub() {
		s.Gaps = nil
		return
	}
	n := o.tests.Discoverer().StaticTestCount(s.ID)
	if n == 0 && s.Evidence.Tests != nil {
		n = s.Evidence.Tests.Total()
	}
	s.Gaps = enforce.DetectGaps(s.Status, enforce.ExecutedWorkflows(s.WorkflowHistory), n)
}

// ValidateStory runs the completion checks for one story.
func (o *Orchestrator) ValidateStory(id string) (*enforce.ValidationResult, error) {
	s, err := o.GetStory(id)
	if err != nil {
		return nil, err
	}
	return enforce.ValidateStory(s), nil
}

// DetectWorkflowGaps lists stories with at least one gap in story order.
func (o *Orchestrator) DetectWorkflowGaps() ([]enforce.StoryGaps, error) {
	ps, err := o.State()
	if err != nil {
		return nil, err
	}
	return enforce.DetectWorkflowGaps(ps.OrderedStories()), nil
}

// CurrentStory picks the focus story: the first in progress, then in
// review, then ready for development.
func CurrentStory(ps *model.ProjectState) string {
	stories := ps.OrderedStories()
	for _, want := range []model.Status{model.StatusInProgress, model.StatusReview, model.StatusReadyForDev} {
		for _, s := range stories {
			if s.Status == want {
				return s.ID
			}
		}
	}
	return ""
}
