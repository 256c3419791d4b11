package format

import (
	"fmt"
	"io"

	"github.com/RamXX/bmdash/internal/model"
)

// Stats tallies a snapshot.
type Stats struct {
	Epics       int                  `json:"epics"`
	Stories     int                  `json:"stories"`
	Stubs       int                  `json:"stubs"`
	Done        int                  `json:"done"`
	ByStatus    map[model.Status]int `json:"by_status"`
	GitLights   map[model.Light]int  `json:"git"`
	TestLights  map[model.Light]int  `json:"tests"`
	Gaps        int                  `json:"gaps"`
	TasksDone   int                  `json:"tasks_done"`
	TasksTotal  int                  `json:"tasks_total"`
	ParseErrors int                  `json:"parse_errors"`
}

// ComputeStats walks every story in ps.
func ComputeStats(ps *model.ProjectState) Stats {
	st := Stats{
		Epics:      len(ps.Epics),
		ByStatus:   make(map[model.Status]int),
		GitLights:  make(map[model.Light]int),
		TestLights: make(map[model.Light]int),
	}
	for _, s := range ps.Stories {
		st.Stories++
		st.ByStatus[s.Status]++
		if s.IsStub() {
			st.Stubs++
		}
		if s.Status.IsDone() {
			st.Done++
		}
		st.GitLights[gitLight(s)]++
		st.TestLights[testLight(s)]++
		st.Gaps += len(s.Gaps)
		d, t := s.TaskCounts()
		st.TasksDone += d
		st.TasksTotal += t
		if s.ParseError != "" {
			st.ParseErrors++
		}
	}
	return st
}

// PrintStats renders st as aligned columns.
func PrintStats(w io.Writer, st Stats) {
	fmt.Fprintf(w, "Epics:        %d\n", st.Epics)
	fmt.Fprintf(w, "Stories:      %d (%d without document)\n", st.Stories, st.Stubs)
	fmt.Fprintf(w, "Done:         %d\n", st.Done)
	fmt.Fprintf(w, "Tasks:        %d/%d\n", st.TasksDone, st.TasksTotal)
	fmt.Fprintf(w, "Gaps:         %d\n", st.Gaps)
	if st.ParseErrors > 0 {
		fmt.Fprintf(w, "Parse errors: %d\n", st.ParseErrors)
	}

	fmt.Fprintln(w, "\nBy Status:")
	for _, s := range model.StatusOrder {
		if c := st.ByStatus[s]; c > 0 {
			fmt.Fprintf(w, "  %-14s %d\n", s, c)
		}
	}
	lights := []model.Light{model.LightGreen, model.LightYellow, model.LightRed, model.LightUnknown}
	fmt.Fprintln(w, "\nEvidence:        git  tests")
	for _, l := range lights {
		fmt.Fprintf(w, "  %-14s %4d  %5d\n", l, st.GitLights[l], st.TestLights[l])
	}
}
