package model

import (
	"testing"
	"time"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		input string
		want  Status
		err   bool
	}{
		{"backlog", StatusBacklog, false},
		{"in_progress", StatusInProgress, false},
		{"Ready For Dev", StatusReadyForDev, false},
		{"  REVIEW  ", StatusReview, false},
		{"done", StatusDone, false},
		{"blocked", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStatus(tt.input)
		if tt.err && err == nil {
			t.Errorf("ParseStatus(%q) expected error", tt.input)
		}
		if !tt.err && err != nil {
			t.Errorf("ParseStatus(%q) unexpected error: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("ParseStatus(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeStatusKeepsUnknown(t *testing.T) {
	if got := NormalizeStatus("Waiting_On QA"); got != "waiting-on-qa" {
		t.Errorf("NormalizeStatus = %q", got)
	}
}

func TestStatusPredicates(t *testing.T) {
	if !StatusComplete.IsDone() || !StatusDone.IsDone() || StatusReview.IsDone() {
		t.Error("IsDone")
	}
	if !StatusInProgress.IsActive() || !StatusReview.IsActive() || StatusBacklog.IsActive() {
		t.Error("IsActive")
	}
}

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		p    Progress
		want int
	}{
		{Progress{}, 0},
		{Progress{Total: 3, Done: 1}, 33},
		{Progress{Total: 4, Done: 4}, 100},
	}
	for _, tt := range tests {
		if got := tt.p.Percent(); got != tt.want {
			t.Errorf("%+v.Percent() = %d, want %d", tt.p, got, tt.want)
		}
	}
}

func TestTaskCounts(t *testing.T) {
	s := &Story{Tasks: []Task{{Status: TaskDone}, {Status: TaskInProgress}, {Status: TaskTodo}}}
	done, total := s.TaskCounts()
	if done != 1 || total != 3 {
		t.Errorf("TaskCounts = %d/%d", done, total)
	}
}

func TestStoryLess(t *testing.T) {
	a := &Story{ID: "1.10", Epic: 1, Number: 10}
	b := &Story{ID: "1.2", Epic: 1, Number: 2}
	c := &Story{ID: "2.1", Epic: 2, Number: 1}
	if !b.Less(a) || a.Less(b) || !a.Less(c) {
		t.Error("stories must sort numerically by epic then story")
	}
}

func TestEvidenceHealthy(t *testing.T) {
	tests := []struct {
		name string
		ev   Evidence
		want bool
	}{
		{"empty", Evidence{}, false},
		{"no commits", Evidence{Git: &GitEvidence{}}, false},
		{"commits only", Evidence{Git: &GitEvidence{CommitCount: 2}}, true},
		{"failing tests", Evidence{Git: &GitEvidence{CommitCount: 2}, Tests: &TestEvidence{FailCount: 1}}, false},
		{"passing tests", Evidence{Git: &GitEvidence{CommitCount: 2}, Tests: &TestEvidence{PassCount: 4}}, true},
	}
	for _, tt := range tests {
		if got := tt.ev.Healthy(); got != tt.want {
			t.Errorf("%s: Healthy() = %v, want %v", tt.name, got, tt.want)
		}
	}
	if !(Evidence{}).IsZero() {
		t.Error("empty evidence should be zero")
	}
	var nilTests *TestEvidence
	if nilTests.Total() != 0 {
		t.Error("nil TestEvidence total")
	}
}

func testState() *ProjectState {
	s11 := &Story{ID: "1.1", Epic: 1, Number: 1, Status: StatusDone, Body: "# body"}
	s12 := &Story{ID: "1.2", Epic: 1, Number: 2, Status: StatusInProgress}
	s21 := &Story{ID: "2.1", Epic: 2, Number: 1, Status: StatusBacklog}
	return &ProjectState{
		Version: StateVersion,
		Epics: map[string]*Epic{
			"epic-1": {ID: "1", Number: 1, StoryIDs: []string{"1.1", "1.2", "9.9"}},
			"epic-2": {ID: "2", Number: 2, StoryIDs: []string{"2.1"}},
		},
		Stories:   map[string]*Story{"1.1": s11, "1.2": s12, "2.1": s21},
		UpdatedAt: time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
	}
}

func TestReconnect(t *testing.T) {
	ps := testState()
	ps.Reconnect()
	e1 := ps.Epics["epic-1"]
	if len(e1.Stories) != 2 || len(e1.StoryIDs) != 2 {
		t.Fatalf("missing story ID should be dropped: %v", e1.StoryIDs)
	}
	if e1.Stories[0] != ps.Stories["1.1"] {
		t.Error("epic must point at the state's story")
	}
	if e1.Progress != (Progress{Total: 2, Done: 1}) {
		t.Errorf("progress = %+v", e1.Progress)
	}
}

func TestCloneIsDeep(t *testing.T) {
	ps := testState()
	ps.Reconnect()
	c, err := ps.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	c.Stories["1.2"].Status = StatusDone
	if ps.Stories["1.2"].Status != StatusInProgress {
		t.Error("clone shares stories with the original")
	}
	if c.Stories["1.1"].Body != "# body" {
		t.Error("clone must keep runtime bodies")
	}
	if c.Epics["epic-1"].Stories[1] != c.Stories["1.2"] {
		t.Error("clone epics must point at cloned stories")
	}
}

func TestOrderedAndLookup(t *testing.T) {
	ps := testState()
	ps.Reconnect()
	stories := ps.OrderedStories()
	if stories[0].ID != "1.1" || stories[2].ID != "2.1" {
		t.Errorf("order = %s %s %s", stories[0].ID, stories[1].ID, stories[2].ID)
	}
	epics := ps.OrderedEpics()
	if epics[0].ID != "1" || epics[1].ID != "2" {
		t.Error("epic order")
	}
	if _, ok := ps.Epic("2"); !ok {
		t.Error("Epic by number")
	}
	if _, ok := ps.Epic("epic-1"); !ok {
		t.Error("Epic by key")
	}
	if _, ok := ps.Epic("x"); ok {
		t.Error("Epic with bad id")
	}
	if (&ProjectState{}).IsEmpty() != true || ps.IsEmpty() {
		t.Error("IsEmpty")
	}
}

func TestGitCommitIsFallback(t *testing.T) {
	if !(GitCommit{SHA: FallbackSHA}).IsFallback() || (GitCommit{SHA: "abc"}).IsFallback() {
		t.Error("IsFallback")
	}
}
