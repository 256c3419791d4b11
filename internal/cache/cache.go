// Package cache keeps computed story evidence between runs so that
// unchanged stories are not re-correlated.
package cache

import (
	"time"

	"github.com/RamXX/bmdash/internal/model"
)

// Cache file layout.
const (
	FileName = "stories.json"
	Version  = "2"
)

// MtimeTolerance is how far a source file mtime may drift from the cached
// one and still be a hit.
const MtimeTolerance = 10 * time.Millisecond

// Entry is the cached evidence for one story.
type Entry struct {
	Title     string         `json:"title"`
	Status    model.Status   `json:"status"`
	FileMtime time.Time      `json:"file_mtime"`
	Evidence  model.Evidence `json:"evidence"`
	CachedAt  time.Time      `json:"cached_at"`
}

// Stats describes the cache contents and this process's hit rate.
type Stats struct {
	Path       string         `json:"path"`
	FileExists bool           `json:"file_exists"`
	Entries    int            `json:"entries"`
	ByStatus   map[string]int `json:"by_status"`
	UpdatedAt  *time.Time     `json:"updated_at,omitempty"`
	Age        time.Duration  `json:"age_ns,omitempty"`
	Hits       int            `json:"hits"`
	Misses     int            `json:"misses"`
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}

// EvidenceCache stores story evidence keyed by story ID and validated
// against the mtime of the story's source file.
type EvidenceCache interface {
	// Get returns the entry for id when sourcePath has not changed since
	// it was cached.
	Get(id, sourcePath string) (*Entry, bool)
	Set(id string, e Entry) error
	SetMany(entries map[string]Entry) error
	// Invalidate drops one entry and reports whether it existed.
	Invalidate(id string) (bool, error)
	Clear() error
	// Prune drops every entry whose ID is not in live and returns how many
	// were removed.
	Prune(live []string) (int, error)
	Stats() Stats
}

// Nop is an EvidenceCache that stores nothing.
type Nop struct{}

var _ EvidenceCache = Nop{}

func (Nop) Get(string, string) (*Entry, bool) { return nil, false }
func (Nop) Set(string, Entry) error { return nil }
func (Nop) SetMany(map[string]Entry) error { return nil }
func (Nop) Invalidate(string) (bool, error) { return false, nil }
func (Nop) Clear() error { return nil }
func (Nop) Prune([]string) (int, error) { return 0, nil }
func (Nop) Stats() Stats { return Stats{ByStatus: map[string]int{}} }
