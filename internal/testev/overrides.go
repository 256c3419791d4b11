package testev

import (
	"fmt"
	"sort"
	"time"

	"github.com/RamXX/bmdash/internal/idgen"
	"github.com/RamXX/bmdash/internal/model"
	"github.com/RamXX/bmdash/internal/store"
)

// OverridesFile is the file name of the manual test result store.
const OverridesFile = "test-overrides.json"

// Override is a manually recorded test result for one story.
type Override struct {
	Passed       int       `json:"passed"`
	Failed       int       `json:"failed"`
	FailingTests []string  `json:"failing_tests,omitempty"`
	Note         string    `json:"note,omitempty"`
	SetAt        time.Time `json:"set_at"`
}

// Evidence converts the override to manual test evidence. Status is left
// for the caller to classify.
func (o Override) Evidence() *model.TestEvidence {
	at := o.SetAt
	return &model.TestEvidence{
		PassCount:    o.Passed,
		FailCount:    o.Failed,
		FailingTests: append([]string(nil), o.FailingTests...),
		LastRun:      &at,
		Mode:         model.TestModeManual,
	}
}

// Overrides is a JSON file of manual test results keyed by story ID.
type Overrides struct {
	path    string
	entries map[string]Override
}

// LoadOverrides reads the store at path. A missing or unreadable file
// yields an empty store.
func LoadOverrides(path string) *Overrides {
	o := &Overrides{path: path, entries: make(map[string]Override)}
	var entries map[string]Override
	if err := store.ReadJSON(path, &entries); err == nil && entries != nil {
		o.entries = entries
	}
	return o
}

// Path returns the backing file path.
func (o *Overrides) Path() string { return o.path }

// Get returns the override for storyID.
func (o *Overrides) Get(storyID string) (Override, bool) {
	id, ok := idgen.Normalize(storyID)
	if !ok {
		return Override{}, false
	}
	v, ok := o.entries[id]
	return v, ok
}

// Set records an override and persists the store.
func (o *Overrides) Set(storyID string, v Override) error {
	id, ok := idgen.Normalize(storyID)
	if !ok {
		return fmt.Errorf("invalid story ID %q", storyID)
	}
	if v.Passed < 0 || v.Failed < 0 {
		return fmt.Errorf("test counts must be non-negative")
	}
	if v.SetAt.IsZero() {
		v.SetAt = time.Now()
	}
	v.SetAt = v.SetAt.UTC()
	o.entries[id] = v
	return o.save()
}

// Clear removes the override for storyID. It reports whether one existed.
func (o *Overrides) Clear(storyID string) (bool, error) {
	id, ok := idgen.Normalize(storyID)
	if !ok {
		return false, fmt.Errorf("invalid story ID %q", storyID)
	}
	if _, ok := o.entries[id]; !ok {
		return false, nil
	}
	delete(o.entries, id)
	return true, o.save()
}

// IDs returns the story IDs with overrides, sorted.
func (o *Overrides) IDs() []string {
	ids := make([]string, 0, len(o.entries))
	for id := range o.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return idgen.Less(ids[i], ids[j]) })
	return ids
}

func (o *Overrides) save() error {
	if err := store.WriteJSON(o.path, o.entries); err != nil {
		return fmt.Errorf("save test overrides: %w", err)
	}
	return nil
}
