package testev

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/RamXX/bmdash/internal/model"
)

// Defaults for test evidence collection.
const (
	DefaultTimeout   = 30 * time.Second
	DefaultFreshness = 24 * time.Hour
)

// RunHook observes each test file execution.
type RunHook func(runner string, ok bool)

// Collector turns discovered test files into TestEvidence, either by
// running them or by counting their declarations.
type Collector struct {
	disc      *Discoverer
	exe       Executor
	runners   []Runner
	overrides *Overrides
	limit     time.Duration
	fresh     time.Duration
	log       *slog.Logger
	now       func() time.Time
	onRun     RunHook
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithExecutor replaces the subprocess executor.
func WithExecutor(e Executor) CollectorOption {
	return func(c *Collector) { c.exe = e }
}

// WithRunners replaces the runner strategies.
func WithRunners(r []Runner) CollectorOption {
	return func(c *Collector) { c.runners = r }
}

// WithOverrides consults o before discovery.
func WithOverrides(o *Overrides) CollectorOption {
	return func(c *Collector) { c.overrides = o }
}

// WithTimeout bounds each test file run.
func WithTimeout(d time.Duration) CollectorOption {
	return func(c *Collector) {
		if d > 0 {
			c.limit = d
		}
	}
}

// WithFreshness sets how old a passing run may be and still count as green.
func WithFreshness(d time.Duration) CollectorOption {
	return func(c *Collector) {
		if d > 0 {
			c.fresh = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CollectorOption {
	return func(c *Collector) { c.log = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CollectorOption {
	return func(c *Collector) { c.now = now }
}

// WithRunHook registers fn to be called after every test file run.
func WithRunHook(fn RunHook) CollectorOption {
	return func(c *Collector) { c.onRun = fn }
}

// NewCollector returns a Collector backed by disc.
func NewCollector(disc *Discoverer, opts ...CollectorOption) *Collector {
	c := &Collector{
		disc:    disc,
		exe:     ExecExecutor{},
		runners: DefaultRunners,
		limit:   DefaultTimeout,
		fresh:   DefaultFreshness,
		log:     slog.New(slog.DiscardHandler),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Discoverer returns the underlying discoverer.
func (c *Collector) Discoverer() *Discoverer { return c.disc }

// Overrides returns the manual override store, or nil when none is set.
func (c *Collector) Overrides() *Overrides { return c.overrides }

// Executed runs every test file found for storyID and sums the results.
// When no file could be run, the static count is returned instead.
func (c *Collector) Executed(ctx context.Context, storyID string) *model.TestEvidence {
	if ev := c.manual(storyID); ev != nil {
		return ev
	}
	files := c.disc.DiscoverTestsFor(storyID)
	if len(files) == 0 {
		return c.finish(storyID, &model.TestEvidence{Mode: model.TestModeExecuted})
	}

	ev := &model.TestEvidence{TestFiles: files, Mode: model.TestModeExecuted}
	seen := make(map[string]bool)
	ran := 0
	for _, f := range files {
		res, ok := Run(ctx, c.exe, c.runners, c.disc.Root(), f, c.limit)
		c.hook(f, ok)
		if !ok {
			c.log.Warn("test run produced no result", "story", storyID, "file", f)
			continue
		}
		ran++
		ev.PassCount += res.Passed
		ev.FailCount += res.Failed
		for _, name := range res.FailingTests {
			if !seen[name] {
				seen[name] = true
				ev.FailingTests = append(ev.FailingTests, name)
			}
		}
		if ev.LastRun == nil || res.RanAt.After(*ev.LastRun) {
			t := res.RanAt
			ev.LastRun = &t
		}
	}
	if ran == 0 {
		return c.Static(storyID)
	}
	sort.Strings(ev.FailingTests)
	return c.finish(storyID, ev)
}

// Static counts test declarations without running anything. The newest
// test file mtime stands in for the last run time.
func (c *Collector) Static(storyID string) *model.TestEvidence {
	if ev := c.manual(storyID); ev != nil {
		return ev
	}
	files := c.disc.DiscoverTestsFor(storyID)
	ev := &model.TestEvidence{TestFiles: files, Mode: model.TestModeStatic}
	for _, f := range files {
		ev.PassCount += CountTestsStatic(c.disc.Abs(f))
	}
	if t, ok := c.disc.NewestMtime(files); ok {
		ev.LastRun = &t
	}
	return c.finish(storyID, ev)
}

// Reported builds evidence from counts recorded in the story document.
func (c *Collector) Reported(storyID string, passed, total int, at *time.Time) *model.TestEvidence {
	failed := total - passed
	if failed < 0 {
		failed = 0
	}
	return c.finish(storyID, &model.TestEvidence{
		PassCount: passed,
		FailCount: failed,
		LastRun:   at,
		Mode:      model.TestModeReported,
	})
}

func (c *Collector) manual(storyID string) *model.TestEvidence {
	if c.overrides == nil {
		return nil
	}
	o, ok := c.overrides.Get(storyID)
	if !ok {
		return nil
	}
	return c.finish(storyID, o.Evidence())
}

func (c *Collector) finish(storyID string, ev *model.TestEvidence) *model.TestEvidence {
	ev.StoryID = storyID
	ev.Status = Status(ev, c.now(), c.fresh)
	return ev
}

func (c *Collector) hook(file string, ok bool) {
	if c.onRun == nil {
		return
	}
	name := "none"
	for _, r := range c.runners {
		if r.Match(file) {
			name = r.Name()
			break
		}
	}
	c.onRun(name, ok)
}

// Status classifies test evidence: unknown without tests, red on any
// failure, green when passing and fresh (or undated), yellow when stale.
func Status(ev *model.TestEvidence, now time.Time, fresh time.Duration) model.Light {
	if ev == nil {
		return model.LightUnknown
	}
	counted := ev.Mode == model.TestModeManual || ev.Mode == model.TestModeReported
	if len(ev.TestFiles) == 0 && !counted {
		return model.LightUnknown
	}
	if ev.FailCount > 0 {
		return model.LightRed
	}
	if ev.PassCount == 0 {
		return model.LightUnknown
	}
	if ev.LastRun == nil || now.Sub(*ev.LastRun) <= fresh {
		return model.LightGreen
	}
	return model.LightYellow
}
