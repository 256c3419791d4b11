// Package format renders project snapshots for the terminal and as JSON.
package format

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/RamXX/bmdash/internal/enforce"
	"github.com/RamXX/bmdash/internal/model"
	"github.com/RamXX/bmdash/internal/ui"
)

const dateTime = "2006-01-02 15:04"

// Table renders a compact story list.
// Format: STATUS_ICON ID [STATUS] GIT TESTS tasks d/t - TITLE
func Table(w io.Writer, stories []*model.Story) {
	if len(stories) == 0 {
		fmt.Fprintln(w, "No stories found.")
		return
	}

	for _, s := range stories {
		title := s.Title
		if len(title) > 60 {
			title = title[:57] + "..."
		}
		done, total := s.TaskCounts()

		if s.Status.IsDone() && len(s.Gaps) == 0 {
			line := fmt.Sprintf("%s %-5s [%s] tasks %d/%d - %s",
				ui.IconDone, s.ID, s.Status, done, total, title)
			fmt.Fprintln(w, ui.RenderDoneLine(line))
			continue
		}

		parts := []string{
			ui.RenderStatusIcon(s.Status),
			fmt.Sprintf("%-5s", s.ID),
			fmt.Sprintf("[%s]", ui.RenderStatus(s.Status)),
			"git " + ui.RenderLight(gitLight(s)),
			"tests " + ui.RenderLight(testLight(s)),
			fmt.Sprintf("tasks %d/%d", done, total),
		}
		if n := len(s.Gaps); n > 0 {
			parts = append(parts, ui.RedStyle.Render(fmt.Sprintf("gaps:%d", n)))
		}
		if s.IsStub() {
			parts = append(parts, ui.RenderMuted("(no document)"))
		}
		parts = append(parts, "- "+title)
		fmt.Fprintln(w, strings.Join(parts, " "))
	}
	fmt.Fprintf(w, "\n%d story(ies)\n", len(stories))
}

func gitLight(s *model.Story) model.Light {
	if s.Evidence.Git == nil {
		return model.LightUnknown
	}
	return s.Evidence.Git.Status
}

func testLight(s *model.Story) model.Light {
	if s.Evidence.Tests == nil {
		return model.LightUnknown
	}
	return s.Evidence.Tests.Status
}

// Detail renders one story with its evidence, history and gaps. The
// markdown body is included when showBody is set.
func Detail(w io.Writer, s *model.Story, showBody bool) {
	fmt.Fprintf(w, "%s %s %s %s [%s]\n",
		ui.RenderStatusIcon(s.Status),
		ui.RenderAccent("Story "+s.ID),
		ui.RenderMuted("."),
		ui.RenderBold(s.Title),
		ui.RenderStatus(s.Status),
	)

	fmt.Fprintf(w, "%s %s %s %s %s\n",
		ui.RenderAccent("Key:"), s.Key,
		ui.RenderMuted("."),
		ui.RenderAccent("Status from:"), s.StatusSource,
	)
	if s.IsStub() {
		fmt.Fprintf(w, "%s %s\n", ui.RenderAccent("File:"), ui.RenderMuted("(no document)"))
	} else {
		fmt.Fprintf(w, "%s %s\n", ui.RenderAccent("File:"), s.FilePath)
	}
	var dates []string
	for _, d := range [][2]string{{"Created:", s.Created}, {"Completed:", s.Completed}, {"Updated:", s.LastUpdated}} {
		if d[1] != "" {
			dates = append(dates, fmt.Sprintf("%s %s", ui.RenderAccent(d[0]), d[1]))
		}
	}
	if len(dates) > 0 {
		fmt.Fprintln(w, strings.Join(dates, fmt.Sprintf(" %s ", ui.RenderMuted("."))))
	}
	if s.ParseError != "" {
		fmt.Fprintf(w, "%s %s\n", ui.RedStyle.Render("Parse error:"), s.ParseError)
	}

	if len(s.Tasks) > 0 {
		done, total := s.TaskCounts()
		fmt.Fprintf(w, "\n%s %d/%d\n", ui.RenderBold("Tasks"), done, total)
		for _, t := range s.Tasks {
			mark := "[ ]"
			switch t.Status {
			case model.TaskDone:
				mark = "[x]"
			case model.TaskInProgress:
				mark = "[>]"
			}
			line := fmt.Sprintf("  %s %s %s", mark, t.ID, t.Title)
			if t.Inferred {
				line += " " + ui.RenderMuted("(inferred from commits)")
			}
			fmt.Fprintln(w, line)
			for _, st := range t.Subtasks {
				sub := "[ ]"
				if st.Status == model.TaskDone {
					sub = "[x]"
				}
				fmt.Fprintf(w, "      %s %s\n", sub, st.Text)
			}
		}
	}

	if len(s.AcceptanceCriteria) > 0 {
		fmt.Fprintf(w, "\n%s\n", ui.RenderBold("Acceptance Criteria"))
		for _, ac := range s.AcceptanceCriteria {
			fmt.Fprintf(w, "  - %s\n", ac)
		}
	}

	fmt.Fprintf(w, "\n%s\n", ui.RenderBold("Evidence"))
	Evidence(w, s.Evidence)

	if len(s.WorkflowHistory) > 0 {
		fmt.Fprintf(w, "\n%s\n", ui.RenderBold("Workflow History"))
		for _, h := range s.WorkflowHistory {
			src := ""
			if h.Source != "" {
				src = " " + ui.RenderMuted("("+h.Source+")")
			}
			fmt.Fprintf(w, "  %s %-13s %s%s\n", h.Timestamp.Format(dateTime), h.Name, h.Result, src)
		}
	}

	if len(s.Gaps) > 0 {
		fmt.Fprintf(w, "\n%s\n", ui.RenderBold("Gaps"))
		gapLines(w, s.Gaps, "  ")
	}

	if showBody && s.Body != "" {
		fmt.Fprintln(w)
		fmt.Fprint(w, ui.RenderMarkdown(s.Body))
	}
}

// Evidence renders git and test evidence.
func Evidence(w io.Writer, ev model.Evidence) {
	if g := ev.Git; g != nil {
		fmt.Fprintf(w, "  Git:   %s %d commit(s)", ui.RenderLight(g.Status), g.CommitCount)
		if g.Source == model.GitSourceFileMtime {
			fmt.Fprint(w, " "+ui.RenderMuted("(file mtime, no git history)"))
		}
		fmt.Fprintln(w)
		if g.LastCommit != nil {
			sha := g.LastSHA
			if len(sha) > 8 {
				sha = sha[:8]
			}
			fmt.Fprintf(w, "         last %s %s %s\n", g.LastCommit.Format(dateTime), sha, g.LastMessage)
		}
		if len(g.InferredTasks) > 0 {
			fmt.Fprintf(w, "         inferred done: %s\n", strings.Join(g.InferredTasks, ", "))
		}
	} else {
		fmt.Fprintf(w, "  Git:   %s\n", ui.RenderLight(model.LightUnknown))
	}

	t := ev.Tests
	if t == nil {
		fmt.Fprintf(w, "  Tests: %s\n", ui.RenderLight(model.LightUnknown))
		return
	}
	fmt.Fprintf(w, "  Tests: %s %d passed, %d failed", ui.RenderLight(t.Status), t.PassCount, t.FailCount)
	if t.Mode != "" {
		fmt.Fprint(w, " "+ui.RenderMuted("("+string(t.Mode)+")"))
	}
	fmt.Fprintln(w)
	if t.LastRun != nil {
		fmt.Fprintf(w, "         last run %s\n", t.LastRun.Format(dateTime))
	}
	for _, f := range t.TestFiles {
		fmt.Fprintf(w, "         %s\n", f)
	}
	for _, f := range t.FailingTests {
		fmt.Fprintf(w, "         %s %s\n", ui.RedStyle.Render("FAIL"), f)
	}
}

func gapLines(w io.Writer, gaps []model.Gap, indent string) {
	for _, g := range gaps {
		fmt.Fprintf(w, "%s%s %s: %s\n", indent, ui.RenderSeverity(g.Severity), g.Type, g.Message)
		if g.SuggestedCommand != "" {
			fmt.Fprintf(w, "%s    -> %s\n", indent, ui.RenderAccent(g.SuggestedCommand))
		}
	}
}

// Gaps renders the stories that have workflow gaps.
func Gaps(w io.Writer, stories []enforce.StoryGaps) {
	if len(stories) == 0 {
		fmt.Fprintln(w, "No workflow gaps.")
		return
	}
	total := 0
	for _, sg := range stories {
		fmt.Fprintf(w, "%s %s [%s] %s\n", ui.RenderAccent("Story "+sg.StoryID), sg.Title, ui.RenderStatus(sg.Status), ui.RenderMuted(sg.Key))
		gapLines(w, sg.Gaps, "  ")
		total += sg.GapCount
	}
	fmt.Fprintf(w, "\n%d gap(s) across %d story(ies)\n", total, len(stories))
}

// Validation renders a completion check.
func Validation(w io.Writer, r *enforce.ValidationResult) {
	verdict := ui.GreenStyle.Render("complete")
	if !r.IsComplete {
		verdict = ui.RedStyle.Render("incomplete")
	}
	fmt.Fprintf(w, "%s %s\n", ui.RenderAccent("Story "+r.StoryID), verdict)
	check := func(ok bool, label string) {
		mark := ui.RedStyle.Render("✗")
		if ok {
			mark = ui.GreenStyle.Render("✓")
		}
		fmt.Fprintf(w, "  %s %s\n", mark, label)
	}
	check(r.HasGitCommits, fmt.Sprintf("git commits (%d)", r.CommitCount))
	check(r.HasTests && r.TestsPassing, "tests present and passing")
	check(r.AllTasksComplete, fmt.Sprintf("tasks %d/%d", r.TasksDone, r.TasksTotal))
	check(r.DevStoryExecuted, "dev-story executed")
	check(r.CodeReviewExecuted, "code-review executed")
	check(len(r.Gaps) == 0, fmt.Sprintf("no gaps (%d)", len(r.Gaps)))
	if r.Stage != "" {
		fmt.Fprintf(w, "  %s %s\n", ui.RenderAccent("Stage:"), r.Stage)
	}
	if len(r.OutOfOrder) > 0 {
		fmt.Fprintf(w, "  %s %s\n", ui.YellowStyle.Render("Out of order:"), strings.Join(r.OutOfOrder, ", "))
	}
	for _, issue := range r.Issues {
		fmt.Fprintf(w, "  - %s\n", issue)
	}
}

// Epics renders each epic with progress.
func Epics(w io.Writer, epics []*model.Epic) {
	if len(epics) == 0 {
		fmt.Fprintln(w, "No epics found.")
		return
	}
	for _, e := range epics {
		fmt.Fprintf(w, "%s %s [%s] %s\n",
			ui.RenderEpic("Epic "+e.ID), e.Title, ui.RenderStatus(e.Status), ui.RenderProgress(e.Progress))
	}
}

// EpicTree renders one epic and its stories.
func EpicTree(w io.Writer, e *model.Epic) {
	fmt.Fprintf(w, "%s %s [%s] %s\n",
		ui.RenderEpic("Epic "+e.ID), e.Title, ui.RenderStatus(e.Status), ui.RenderProgress(e.Progress))
	for _, s := range e.Stories {
		done, total := s.TaskCounts()
		fmt.Fprintf(w, "  %s %-5s %s [%s] tasks %d/%d\n",
			ui.RenderStatusIcon(s.Status), s.ID, s.Title, ui.RenderStatus(s.Status), done, total)
	}
}

// Short renders a one-line summary of a story.
func Short(w io.Writer, s *model.Story) {
	fmt.Fprintf(w, "%s %s [%s] %s\n",
		ui.RenderStatusIcon(s.Status),
		s.ID,
		ui.RenderStatus(s.Status),
		s.Title,
	)
}

// Age renders a duration as a short human string.
func Age(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// JSON writes v as indented JSON.
func JSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
