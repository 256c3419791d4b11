package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Phase is the inferred stage of the BMAD method a project is in.
type Phase string

const (
	PhaseAnalysis       Phase = "Analysis"
	PhasePlanning       Phase = "Planning"
	PhaseSolutioning    Phase = "Solutioning"
	PhaseImplementation Phase = "Implementation"
	PhaseUnknown        Phase = "Unknown"
)

// Progress counts done stories against the total in an epic.
type Progress struct {
	Total int `json:"total"`
	Done  int `json:"done"`
}

// Percent returns completion as a whole-number percentage.
func (p Progress) Percent() int {
	if p.Total == 0 {
		return 0
	}
	return p.Done * 100 / p.Total
}

// Epic groups stories.
type Epic struct {
	ID       string   `json:"id"`
	Number   int      `json:"number"`
	Title    string   `json:"title"`
	Status   Status   `json:"status"`
	StoryIDs []string `json:"story_ids,omitempty"`
	Progress Progress `json:"progress"`

	// Runtime fields -- rebuilt by Reconnect.
	Stories []*Story `json:"-"`
}

// Key returns the epic's map key in a ProjectState ("epic-N").
func (e *Epic) Key() string {
	return "epic-" + e.ID
}

// Attach appends s to the epic and records its ID.
func (e *Epic) Attach(s *Story) {
	e.Stories = append(e.Stories, s)
	e.StoryIDs = append(e.StoryIDs, s.ID)
}

// RecomputeProgress derives Progress from the attached stories.
func (e *Epic) RecomputeProgress() {
	p := Progress{Total: len(e.Stories)}
	for _, s := range e.Stories {
		if s.Status.IsDone() {
			p.Done++
		}
	}
	e.Progress = p
}

// Project is the parsed view of a BMAD artifact tree.
type Project struct {
	Name              string
	Phase             Phase
	RootPath          string
	Epics             []*Epic
	SprintStatusMtime time.Time
	BmadVersion       string
	Errors            []string
}

// Stories returns every story in epic order.
func (p *Project) Stories() []*Story {
	var out []*Story
	for _, e := range p.Epics {
		out = append(out, e.Stories...)
	}
	return out
}

// ProjectMeta is the persisted project header.
type ProjectMeta struct {
	Name              string    `json:"name"`
	Phase             Phase     `json:"phase"`
	Root              string    `json:"root"`
	BmadVersion       string    `json:"bmad_version,omitempty"`
	SprintStatusMtime time.Time `json:"sprint_status_mtime"`
}

// StateVersion is the schema version of the persisted project state.
const StateVersion = "2"

// ProjectState is the persisted snapshot of a project plus derived
// evidence. Epics are keyed "epic-N"; stories are keyed by their "E.S" ID.
type ProjectState struct {
	Version            string              `json:"version"`
	Project            ProjectMeta         `json:"project"`
	CurrentStory       string              `json:"current_story,omitempty"`
	Epics              map[string]*Epic    `json:"epics"`
	Stories            map[string]*Story   `json:"stories"`
	WorkflowValidation *WorkflowValidation `json:"workflow_validation,omitempty"`
	Errors             []string            `json:"errors,omitempty"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// NewProjectState flattens a parsed project into a snapshot.
func NewProjectState(p *Project) *ProjectState {
	ps := &ProjectState{
		Version: StateVersion,
		Project: ProjectMeta{
			Name:              p.Name,
			Phase:             p.Phase,
			Root:              p.RootPath,
			BmadVersion:       p.BmadVersion,
			SprintStatusMtime: p.SprintStatusMtime,
		},
		Epics:   make(map[string]*Epic, len(p.Epics)),
		Stories: make(map[string]*Story),
		Errors:  p.Errors,
	}
	for _, e := range p.Epics {
		ps.Epics[e.Key()] = e
		for _, s := range e.Stories {
			ps.Stories[s.ID] = s
		}
	}
	return ps
}

// IsEmpty reports whether the snapshot holds no epics and no stories.
func (ps *ProjectState) IsEmpty() bool {
	return ps == nil || (len(ps.Epics) == 0 && len(ps.Stories) == 0)
}

// Reconnect rebuilds each epic's Stories slice from StoryIDs and
// recomputes progress. Missing story IDs are dropped.
func (ps *ProjectState) Reconnect() {
	for _, e := range ps.Epics {
		e.Stories = e.Stories[:0]
		ids := e.StoryIDs[:0]
		for _, id := range e.StoryIDs {
			s, ok := ps.Stories[id]
			if !ok {
				continue
			}
			e.Stories = append(e.Stories, s)
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			ids = nil
			e.Stories = nil
		}
		e.StoryIDs = ids
		e.RecomputeProgress()
	}
}

// OrderedEpics returns epics sorted by number.
func (ps *ProjectState) OrderedEpics() []*Epic {
	out := make([]*Epic, 0, len(ps.Epics))
	for _, e := range ps.Epics {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// OrderedStories returns stories sorted by epic then story number.
func (ps *ProjectState) OrderedStories() []*Story {
	out := make([]*Story, 0, len(ps.Stories))
	for _, s := range ps.Stories {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Epic returns the epic with the given number or "epic-N" key.
func (ps *ProjectState) Epic(id string) (*Epic, bool) {
	if e, ok := ps.Epics[id]; ok {
		return e, true
	}
	if _, err := strconv.Atoi(id); err == nil {
		e, ok := ps.Epics["epic-"+id]
		return e, ok
	}
	return nil, false
}

// Clone returns a deep copy of the snapshot, including runtime links.
func (ps *ProjectState) Clone() (*ProjectState, error) {
	data, err := json.Marshal(ps)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	var out ProjectState
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	for id, s := range ps.Stories {
		if c, ok := out.Stories[id]; ok {
			c.Body = s.Body
		}
	}
	out.Reconnect()
	return &out, nil
}
