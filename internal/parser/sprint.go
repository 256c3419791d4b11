package parser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/RamXX/bmdash/internal/idgen"
	"github.com/RamXX/bmdash/internal/model"
	"gopkg.in/yaml.v3"
)

// StoryDecl is a story as declared by the sprint-status file.
type StoryDecl struct {
	ID     string
	Key    string
	Title  string
	Status model.Status
	Epic   int
	Number int
}

// EpicDecl is an epic as declared by the sprint-status file.
type EpicDecl struct {
	Number  int
	Title   string
	Status  model.Status
	Stories []StoryDecl
}

// SprintStatus is the decoded sprint-status file.
type SprintStatus struct {
	Project     string
	BmadVersion string
	Epics       []EpicDecl
}

// Story finds a declared story by ID.
func (ss *SprintStatus) Story(id string) (StoryDecl, bool) {
	for _, e := range ss.Epics {
		for _, s := range e.Stories {
			if s.ID == id {
				return s, true
			}
		}
	}
	return StoryDecl{}, false
}

type nestedStory struct {
	Key     string `yaml:"story_key"`
	AltKey  string `yaml:"key"`
	StoryID string `yaml:"story_id"`
	AltID   string `yaml:"id"`
	Title   string `yaml:"title"`
	Status  string `yaml:"status"`
}

type nestedEpic struct {
	EpicID  string        `yaml:"epic_id"`
	AltID   string        `yaml:"id"`
	Title   string        `yaml:"title"`
	Status  string        `yaml:"status"`
	Stories []nestedStory `yaml:"stories"`
}

// ParseSprintStatus decodes both sprint-status shapes: the flat
// development_status map and the nested epics list. Declaration order is
// preserved for stories; epics are ordered by number.
func ParseSprintStatus(data []byte) (*SprintStatus, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse sprint status: %w", err)
	}
	ss := &SprintStatus{}
	if len(doc.Content) == 0 {
		return ss, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse sprint status: top level must be a mapping")
	}

	epics := make(map[int]*EpicDecl)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		switch key.Value {
		case "project":
			ss.Project = val.Value
		case "bmad_version":
			ss.BmadVersion = val.Value
		case "development_status":
			if val.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("parse sprint status: development_status must be a mapping")
			}
			parseFlat(val, epics)
		case "epics":
			if val.Kind != yaml.SequenceNode {
				return nil, fmt.Errorf("parse sprint status: epics must be a list")
			}
			if err := parseNested(val, epics); err != nil {
				return nil, err
			}
		}
	}

	for _, e := range epics {
		ss.Epics = append(ss.Epics, *e)
	}
	sort.Slice(ss.Epics, func(i, j int) bool { return ss.Epics[i].Number < ss.Epics[j].Number })
	return ss, nil
}

func epicFor(epics map[int]*EpicDecl, n int) *EpicDecl {
	e, ok := epics[n]
	if !ok {
		e = &EpicDecl{Number: n, Title: fmt.Sprintf("Epic %d", n), Status: model.StatusBacklog}
		epics[n] = e
	}
	return e
}

func parseFlat(m *yaml.Node, epics map[int]*EpicDecl) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		key := strings.TrimSpace(m.Content[i].Value)
		status := model.NormalizeStatus(m.Content[i+1].Value)
		if strings.Contains(key, "retrospective") {
			continue
		}
		if n, ok := idgen.ParseEpicKey(key); ok {
			epicFor(epics, n).Status = status
			continue
		}
		en, sn, slug, ok := idgen.ParseStoryKey(key)
		if !ok {
			continue
		}
		e := epicFor(epics, en)
		e.Stories = append(e.Stories, StoryDecl{
			ID:     idgen.StoryID(en, sn),
			Key:    key,
			Title:  idgen.TitleFromSlug(slug),
			Status: status,
			Epic:   en,
			Number: sn,
		})
	}
}

func parseNested(seq *yaml.Node, epics map[int]*EpicDecl) error {
	for _, item := range seq.Content {
		var ne nestedEpic
		if err := item.Decode(&ne); err != nil {
			return fmt.Errorf("parse sprint status epic: %w", err)
		}
		ref := ne.EpicID
		if ref == "" {
			ref = ne.AltID
		}
		n, ok := idgen.EpicNumber(ref)
		if !ok {
			continue
		}
		e := epicFor(epics, n)
		if ne.Title != "" {
			e.Title = ne.Title
		}
		if ne.Status != "" {
			e.Status = model.NormalizeStatus(ne.Status)
		}
		for _, ns := range ne.Stories {
			if d, ok := nestedStoryDecl(n, ns); ok {
				e.Stories = append(e.Stories, d)
			}
		}
	}
	return nil
}

func nestedStoryDecl(epic int, ns nestedStory) (StoryDecl, bool) {
	key := ns.Key
	if key == "" {
		key = ns.AltKey
	}
	rawID := ns.StoryID
	if rawID == "" {
		rawID = ns.AltID
	}
	d := StoryDecl{Key: key, Title: ns.Title, Status: model.NormalizeStatus(ns.Status), Epic: epic}
	if en, sn, slug, ok := idgen.ParseStoryKey(key); ok {
		d.Epic, d.Number = en, sn
		d.ID = idgen.StoryID(en, sn)
		if d.Title == "" {
			d.Title = idgen.TitleFromSlug(slug)
		}
	}
	if id, ok := idgen.Normalize(rawID); ok {
		d.ID = id
		d.Epic, d.Number, _ = idgen.ParseStoryID(id)
	}
	if d.ID == "" {
		return StoryDecl{}, false
	}
	if d.Key == "" {
		d.Key = strings.ReplaceAll(d.ID, ".", "-")
	}
	if d.Status == "" {
		d.Status = model.StatusBacklog
	}
	return d, true
}
