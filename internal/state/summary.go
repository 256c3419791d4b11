package state

import (
	"fmt"
	"sort"
	"strings"

	"github.com/RamXX/bmdash/internal/model"
)

// WorkingTree is the cleanliness of the repository's working tree.
type WorkingTree struct {
	Clean   bool
	Changed []string
}

// SummaryOptions tunes Summarize.
type SummaryOptions struct {
	// Tree is reported when set.
	Tree *WorkingTree
	// RecentDone bounds how many recently completed stories are checked
	// for evidence gaps. Zero means 5.
	RecentDone int
}

// Summarize renders a plain-text overview of ps for consumers that read
// project context as prose. It does not modify ps.
func Summarize(ps *model.ProjectState, opts SummaryOptions) string {
	if ps == nil || ps.IsEmpty() {
		return "No project state. Run `bmdash bootstrap` first.\n"
	}
	if opts.RecentDone <= 0 {
		opts.RecentDone = 5
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n", ps.Project.Name)
	fmt.Fprintf(&b, "Phase: %s\n", ps.Project.Phase)
	if ps.Project.BmadVersion != "" {
		fmt.Fprintf(&b, "BMAD version: %s\n", ps.Project.BmadVersion)
	}

	b.WriteString("\nEpics:\n")
	for _, e := range ps.OrderedEpics() {
		fmt.Fprintf(&b, "  Epic %s: %s [%s] %d/%d done (%d%%)\n",
			e.ID, e.Title, e.Status, e.Progress.Done, e.Progress.Total, e.Progress.Percent())
	}

	b.WriteString("\nCurrent focus: ")
	if s, ok := ps.Stories[ps.CurrentStory]; ok {
		done, total := s.TaskCounts()
		fmt.Fprintf(&b, "Story %s %s [%s], tasks %d/%d\n", s.ID, s.Title, s.Status, done, total)
	} else {
		b.WriteString("none\n")
	}

	groups := make(map[model.Status][]*model.Story)
	for _, s := range ps.OrderedStories() {
		groups[s.Status] = append(groups[s.Status], s)
	}
	b.WriteString("\nStories by status:\n")
	for _, st := range statusGroups(groups) {
		list := groups[st]
		ids := make([]string, len(list))
		for i, s := range list {
			ids[i] = s.ID
		}
		fmt.Fprintf(&b, "  %s (%d): %s\n", st, len(list), strings.Join(ids, ", "))
	}

	if opts.Tree != nil {
		b.WriteString("\nWorking tree: ")
		if opts.Tree.Clean {
			b.WriteString("clean\n")
		} else {
			fmt.Fprintf(&b, "%d uncommitted changes\n", len(opts.Tree.Changed))
		}
	}

	gaps := evidenceGaps(recentDone(ps, opts.RecentDone))
	b.WriteString("\nEvidence gaps on recently completed stories:\n")
	if len(gaps) == 0 {
		b.WriteString("  none\n")
	}
	for _, g := range gaps {
		fmt.Fprintf(&b, "  %s\n", g)
	}
	return b.String()
}

// statusGroups orders the statuses present: known statuses first in
// display order, then any others alphabetically.
func statusGroups(groups map[model.Status][]*model.Story) []model.Status {
	var out []model.Status
	known := make(map[model.Status]bool)
	for _, st := range model.StatusOrder {
		known[st] = true
		if len(groups[st]) > 0 {
			out = append(out, st)
		}
	}
	var extra []model.Status
	for st := range groups {
		if !known[st] {
			extra = append(extra, st)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

// recentDone returns up to n done stories, most recently changed first.
func recentDone(ps *model.ProjectState, n int) []*model.Story {
	var done []*model.Story
	for _, s := range ps.OrderedStories() {
		if s.Status.IsDone() {
			done = append(done, s)
		}
	}
	sort.SliceStable(done, func(i, j int) bool { return done[i].Mtime.After(done[j].Mtime) })
	if len(done) > n {
		done = done[:n]
	}
	return done
}

func evidenceGaps(stories []*model.Story) []string {
	var out []string
	for _, s := range stories {
		var missing []string
		if g := s.Evidence.Git; g == nil || g.CommitCount == 0 || g.Source == model.GitSourceFileMtime {
			missing = append(missing, "no commits")
		}
		if t := s.Evidence.Tests; t == nil || t.Total() == 0 {
			missing = append(missing, "no tests")
		} else if t.FailCount > 0 {
			missing = append(missing, fmt.Sprintf("%d failing tests", t.FailCount))
		}
		for _, g := range s.Gaps {
			missing = append(missing, string(g.Type))
		}
		if len(missing) > 0 {
			out = append(out, fmt.Sprintf("Story %s: %s", s.ID, strings.Join(missing, ", ")))
		}
	}
	return out
}
