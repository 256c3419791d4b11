package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/RamXX/bmdash/internal/enforce"
	"github.com/RamXX/bmdash/internal/model"
	"github.com/RamXX/bmdash/internal/parser"
)

// SyncTolerance is how far a story document's mtime may drift from the
// recorded one before the story is re-parsed.
const SyncTolerance = 500 * time.Millisecond

// SyncReport describes what a Sync changed.
type SyncReport struct {
	Bootstrapped bool     `json:"bootstrapped"`
	ShapeChanged bool     `json:"shape_changed"`
	MetaChanged  bool     `json:"meta_changed"`
	Added        []string `json:"added,omitempty"`
	Removed      []string `json:"removed,omitempty"`
	Reparsed     []string `json:"reparsed,omitempty"`
	Stubbed      []string `json:"stubbed,omitempty"`
	Touched      []string `json:"touched,omitempty"`
}

// Changed reports whether the snapshot was modified.
func (r *SyncReport) Changed() bool {
	return r.Bootstrapped || r.ShapeChanged || r.MetaChanged ||
		len(r.Reparsed) > 0 || len(r.Stubbed) > 0 || len(r.Touched) > 0
}

// Sync brings the snapshot up to date with the artifact tree. An empty
// snapshot is bootstrapped. Otherwise a changed sprint-status file
// reshapes epics and story membership, and each story whose document
// changed is re-parsed with fresh git evidence. Work happens on a copy
// that replaces the snapshot only when something changed, and nothing is
// written otherwise.
func (o *Orchestrator) Sync(ctx context.Context) (*SyncReport, error) {
	start := time.Now()
	ps, err := o.State()
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(o.store.Root()); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrProjectRootMissing, o.store.Root())
	}
	if ps.IsEmpty() {
		if _, err := o.Bootstrap(ctx); err != nil {
			return nil, err
		}
		return &SyncReport{Bootstrapped: true}, nil
	}

	next, err := ps.Clone()
	if err != nil {
		return nil, err
	}
	o.corr.Reset()
	o.tests.Discoverer().Reset()
	report := &SyncReport{}

	ss, mtime, err := o.parser.LoadSprintStatus()
	if err != nil {
		o.log.Warn("sprint status unreadable, keeping previous shape", "err", err)
		ss = nil
	}
	if ss != nil && !mtime.Equal(next.Project.SprintStatusMtime) {
		o.reshape(ctx, next, ss, report)
		next.Project.SprintStatusMtime = mtime
		report.ShapeChanged = true
	}

	for _, s := range next.OrderedStories() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		o.syncStory(ctx, next, ss, s, report)
	}

	root := o.store.Root()
	if phase := parser.DetectPhase(root); phase != next.Project.Phase {
		next.Project.Phase = phase
		report.MetaChanged = true
	}
	if wv := parser.ValidateWorkflowFile(root); !sameJSON(wv, next.WorkflowValidation) {
		next.WorkflowValidation = wv
		report.MetaChanged = true
	}

	if !report.Changed() {
		o.metrics.Sync("sync", time.Since(start), 0)
		o.log.Debug("sync: nothing changed")
		return report, nil
	}
	if err := o.commit(next); err != nil {
		return nil, err
	}
	o.metrics.Sync("sync", time.Since(start), len(report.Reparsed))
	o.log.Info("sync complete", "reparsed", len(report.Reparsed), "added", len(report.Added), "removed", len(report.Removed))
	return report, nil
}

// reshape rebuilds epics and story membership from the sprint-status file.
// Existing stories keep their parsed content and evidence; statuses not
// overridden by frontmatter follow the file. New stories start as stubs.
func (o *Orchestrator) reshape(ctx context.Context, next *model.ProjectState, ss *parser.SprintStatus, report *SyncReport) {
	byKey := make(map[string]*model.Story, len(next.Stories))
	for _, s := range next.Stories {
		byKey[s.Key] = s
	}

	stories := make(map[string]*model.Story)
	epics := make(map[string]*model.Epic)
	for _, ed := range ss.Epics {
		e := parser.NewEpic(ed)
		for _, sd := range ed.Stories {
			s := byKey[sd.Key]
			if s == nil {
				s = next.Stories[sd.ID]
			}
			if s == nil {
				s = parser.Stub(sd)
				s.Evidence.Git = o.corr.Evidence(ctx, s)
				s.Evidence.Tests = o.testEvidence(ctx, s)
				report.Added = append(report.Added, s.ID)
			} else {
				o.redeclare(s, sd)
			}
			if _, dup := stories[s.ID]; dup {
				next.Errors = append(next.Errors, fmt.Sprintf("duplicate story id %s (key %s)", s.ID, sd.Key))
				continue
			}
			stories[s.ID] = s
			e.StoryIDs = append(e.StoryIDs, s.ID)
		}
		epics[e.Key()] = e
	}

	for id := range next.Stories {
		if _, ok := stories[id]; ok {
			continue
		}
		report.Removed = append(report.Removed, id)
		if _, err := o.cache.Invalidate(id); err != nil {
			o.log.Warn("cache invalidate failed", "story", id, "err", err)
		}
	}
	next.Stories = stories
	next.Epics = epics
	if ss.Project != "" {
		next.Project.Name = ss.Project
	}
}

// redeclare applies sprint-status metadata to an existing story.
func (o *Orchestrator) redeclare(s *model.Story, sd parser.StoryDecl) {
	if s.IsStub() {
		s.Title = sd.Title
		s.Epic, s.Number = sd.Epic, sd.Number
	}
	if s.StatusSource == model.SourceFrontmatter || s.Status == sd.Status {
		return
	}
	s.Status = sd.Status
	o.regap(s)
}

// syncStory re-parses s when its document appeared, changed or vanished.
func (o *Orchestrator) syncStory(ctx context.Context, next *model.ProjectState, ss *parser.SprintStatus, s *model.Story, report *SyncReport) {
	path := s.FilePath
	if path == "" {
		path = o.store.StoryPath(s.Key)
	}
	info, err := os.Stat(path)
	if err != nil {
		if s.IsStub() {
			return
		}
		stub := parser.Stub(o.declFor(ss, s))
		stub.Evidence.Git = o.corr.Evidence(ctx, stub)
		stub.Evidence.Tests = s.Evidence.Tests
		o.replace(next, s, stub)
		report.Stubbed = append(report.Stubbed, stub.ID)
		o.log.Debug("story document removed", "story", s.ID, "path", path)
		return
	}

	mtime := info.ModTime().UTC()
	if !s.IsStub() && absDuration(mtime.Sub(s.Mtime)) < SyncTolerance {
		return
	}
	if !s.IsStub() && o.store.Config().Sync.ContentHash {
		if h, err := enforce.HashFile(path); err == nil && h == s.ContentHash {
			s.Mtime = mtime
			report.Touched = append(report.Touched, s.ID)
			return
		}
	}

	ns := o.parser.ParseStory(ctx, o.declFor(ss, s))
	ns.Evidence.Git = o.corr.Evidence(ctx, ns)
	ns.Evidence.Tests = s.Evidence.Tests
	if ns.Evidence.Tests == nil {
		ns.Evidence.Tests = o.testEvidence(ctx, ns)
	}
	o.replace(next, s, ns)
	report.Reparsed = append(report.Reparsed, ns.ID)
	if _, err := o.cache.Invalidate(s.ID); err != nil {
		o.log.Warn("cache invalidate failed", "story", s.ID, "err", err)
	}
	o.log.Debug("story reparsed", "story", ns.ID, "path", path)
}

// declFor finds the sprint-status declaration behind s, falling back to
// what the snapshot knows.
func (o *Orchestrator) declFor(ss *parser.SprintStatus, s *model.Story) parser.StoryDecl {
	if ss != nil {
		for _, e := range ss.Epics {
			for _, sd := range e.Stories {
				if sd.Key == s.Key || (s.FilePath != "" && o.store.StoryPath(sd.Key) == s.FilePath) {
					return sd
				}
			}
		}
		if sd, ok := ss.Story(s.ID); ok {
			return sd
		}
	}
	return parser.DeclFromStory(s)
}

// replace swaps old for ns in the snapshot, following an ID change in the
// epic membership lists.
func (o *Orchestrator) replace(next *model.ProjectState, old, ns *model.Story) {
	if ns.ID != old.ID {
		if _, taken := next.Stories[ns.ID]; taken {
			o.log.Warn("story id already in use, keeping previous id", "story", old.ID, "frontmatter_id", ns.ID)
			ns.ID = old.ID
		} else {
			delete(next.Stories, old.ID)
			for _, e := range next.Epics {
				for i, id := range e.StoryIDs {
					if id == old.ID {
						e.StoryIDs[i] = ns.ID
					}
				}
			}
		}
	}
	next.Stories[ns.ID] = ns
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func sameJSON(a, b any) bool {
	x, err1 := json.Marshal(a)
	y, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && bytes.Equal(x, y)
}
