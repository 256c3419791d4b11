package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/RamXX/bmdash/internal/idgen"
	"github.com/RamXX/bmdash/internal/store"
)

type document struct {
	Version   string           `json:"version"`
	UpdatedAt time.Time        `json:"updated_at"`
	Stories   map[string]Entry `json:"stories"`
}

func emptyDocument() *document {
	return &document{Version: Version, Stories: make(map[string]Entry)}
}

// Hook observes cache lookups.
type Hook func(hit bool)

// FileCache is an EvidenceCache held in memory and persisted to a JSON
// file. Writes reload the file under a cooperative lock so concurrent
// processes merge rather than overwrite each other.
type FileCache struct {
	path string
	lock *fileLock
	log  *slog.Logger
	now  func() time.Time
	hook Hook

	doc    *document
	hits   int
	misses int
}

var _ EvidenceCache = (*FileCache)(nil)

// Option configures a FileCache.
type Option func(*FileCache)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *FileCache) { c.log = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *FileCache) { c.now = now }
}

// WithHook registers fn to observe every Get.
func WithHook(fn Hook) Option {
	return func(c *FileCache) { c.hook = fn }
}

// NewFileCache returns a cache stored in dir/stories.json.
func NewFileCache(dir string, opts ...Option) *FileCache {
	c := &FileCache{
		path: filepath.Join(dir, FileName),
		log:  slog.New(slog.DiscardHandler),
		now:  time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.lock = newFileLock(c.path+".lock", c.now)
	return c
}

// Path returns the cache file path.
func (c *FileCache) Path() string { return c.path }

// read loads the cache file. Missing, corrupt and outdated files all read
// as an empty cache.
func (c *FileCache) read() *document {
	var doc document
	if err := store.ReadJSON(c.path, &doc); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.log.Debug("cache unreadable, starting empty", "path", c.path, "err", err)
		}
		return emptyDocument()
	}
	if doc.Version != Version {
		c.log.Debug("cache version mismatch, starting empty", "path", c.path, "version", doc.Version)
		return emptyDocument()
	}
	if doc.Stories == nil {
		doc.Stories = make(map[string]Entry)
	}
	return &doc
}

func (c *FileCache) load() *document {
	if c.doc == nil {
		c.doc = c.read()
	}
	return c.doc
}

// update applies fn to the freshest on-disk document and writes it back.
func (c *FileCache) update(fn func(doc *document) bool) error {
	if err := c.lock.acquire(context.Background()); err != nil {
		c.log.Warn("writing cache without lock", "err", err)
	}
	defer c.lock.release()

	doc := c.read()
	if !fn(doc) {
		c.doc = doc
		return nil
	}
	doc.UpdatedAt = c.now().UTC()
	if err := store.WriteJSON(c.path, doc); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	c.doc = doc
	return nil
}

// Get implements EvidenceCache.
func (c *FileCache) Get(id, sourcePath string) (*Entry, bool) {
	e, ok := c.lookup(id, sourcePath)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	if c.hook != nil {
		c.hook(ok)
	}
	return e, ok
}

func (c *FileCache) lookup(id, sourcePath string) (*Entry, bool) {
	if sourcePath == "" {
		return nil, false
	}
	e, ok := c.load().Stories[id]
	if !ok {
		return nil, false
	}
	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, false
	}
	diff := info.ModTime().Sub(e.FileMtime)
	if diff < 0 {
		diff = -diff
	}
	if diff >= MtimeTolerance {
		c.log.Debug("cache stale", "story", id, "drift", diff)
		return nil, false
	}
	return &e, true
}

// Set implements EvidenceCache.
func (c *FileCache) Set(id string, e Entry) error {
	return c.SetMany(map[string]Entry{id: e})
}

// SetMany implements EvidenceCache. All entries are written in one pass.
func (c *FileCache) SetMany(entries map[string]Entry) error {
	if len(entries) == 0 {
		return nil
	}
	at := c.now().UTC()
	return c.update(func(doc *document) bool {
		for id, e := range entries {
			if e.CachedAt.IsZero() {
				e.CachedAt = at
			}
			e.FileMtime = e.FileMtime.UTC()
			doc.Stories[id] = e
		}
		return true
	})
}

// Invalidate implements EvidenceCache.
func (c *FileCache) Invalidate(id string) (bool, error) {
	var found bool
	err := c.update(func(doc *document) bool {
		if _, found = doc.Stories[id]; found {
			delete(doc.Stories, id)
		}
		return found
	})
	return found, err
}

// Clear implements EvidenceCache. The cache file is removed.
func (c *FileCache) Clear() error {
	c.doc = emptyDocument()
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

// Prune implements EvidenceCache.
func (c *FileCache) Prune(live []string) (int, error) {
	keep := make(map[string]bool, len(live))
	for _, id := range live {
		keep[id] = true
	}
	removed := 0
	err := c.update(func(doc *document) bool {
		for id := range doc.Stories {
			if !keep[id] {
				delete(doc.Stories, id)
				removed++
			}
		}
		return removed > 0
	})
	return removed, err
}

// IDs returns the cached story IDs in story order.
func (c *FileCache) IDs() []string {
	doc := c.load()
	ids := make([]string, 0, len(doc.Stories))
	for id := range doc.Stories {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return idgen.Less(ids[i], ids[j]) })
	return ids
}

// Stats implements EvidenceCache.
func (c *FileCache) Stats() Stats {
	s := Stats{
		Path:     c.path,
		ByStatus: make(map[string]int),
		Hits:     c.hits,
		Misses:   c.misses,
	}
	_, err := os.Stat(c.path)
	s.FileExists = err == nil

	doc := c.load()
	s.Entries = len(doc.Stories)
	for _, e := range doc.Stories {
		s.ByStatus[string(e.Status)]++
	}
	if !doc.UpdatedAt.IsZero() {
		t := doc.UpdatedAt
		s.UpdatedAt = &t
		s.Age = c.now().Sub(t)
	}
	return s
}
