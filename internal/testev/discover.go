// Package testev finds, counts and runs the tests that belong to a story.
package testev

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/RamXX/bmdash/internal/idgen"
)

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	"_bmad-output": true,
	"_bmad":        true,
	".bmad-cache":  true,
	"dist":         true,
	"build":        true,
	"coverage":     true,
}

var testFileRe = regexp.MustCompile(`^(?:test_.+\.py|.+_test\.py|.+\.(?:test|spec)\.(?:js|jsx|ts|tsx)|.+_test\.go)$`)

// IsTestFile reports whether name follows a test-file naming convention.
func IsTestFile(name string) bool {
	return testFileRe.MatchString(name)
}

// Discoverer locates test files for stories under a set of roots. The file
// index is built on first use and kept until Reset.
type Discoverer struct {
	root  string
	roots []string
	log   *slog.Logger

	indexed  bool
	files    []string
	contents map[string]string
}

// DiscovererOption configures a Discoverer.
type DiscovererOption func(*Discoverer)

// WithRoots limits the search to these directories, relative to the
// project root.
func WithRoots(roots []string) DiscovererOption {
	return func(d *Discoverer) {
		if len(roots) > 0 {
			d.roots = roots
		}
	}
}

// WithDiscoveryLogger sets the logger.
func WithDiscoveryLogger(l *slog.Logger) DiscovererOption {
	return func(d *Discoverer) { d.log = l }
}

// NewDiscoverer returns a Discoverer for the project at root.
func NewDiscoverer(root string, opts ...DiscovererOption) *Discoverer {
	d := &Discoverer{root: root, roots: []string{"."}, log: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Root returns the project root paths are relative to.
func (d *Discoverer) Root() string { return d.root }

// Reset forgets the file index.
func (d *Discoverer) Reset() {
	d.indexed = false
	d.files = nil
	d.contents = nil
}

func (d *Discoverer) index() []string {
	if d.indexed {
		return d.files
	}
	d.indexed = true
	d.contents = make(map[string]string)
	seen := make(map[string]bool)
	for _, r := range d.roots {
		base := filepath.Join(d.root, r)
		err := filepath.WalkDir(base, func(path string, e fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if e.IsDir() {
				if path != base && (skipDirs[e.Name()] || strings.HasPrefix(e.Name(), ".")) {
					return filepath.SkipDir
				}
				return nil
			}
			if !IsTestFile(e.Name()) {
				return nil
			}
			rel, err := filepath.Rel(d.root, path)
			if err != nil || seen[rel] {
				return nil
			}
			seen[rel] = true
			d.files = append(d.files, filepath.ToSlash(rel))
			return nil
		})
		if err != nil {
			d.log.Debug("test root walk failed", "root", base, "err", err)
		}
	}
	sort.Strings(d.files)
	d.log.Debug("test files indexed", "count", len(d.files))
	return d.files
}

func namePatterns(epic, story int) []*regexp.Regexp {
	return []*regexp.Regexp{
		regexp.MustCompile(fmt.Sprintf(`^test_story_%d_%d(?:_.+)?\.py$`, epic, story)),
		regexp.MustCompile(fmt.Sprintf(`^story-%d\.%d\.(?:test|spec)\.(?:js|jsx|ts|tsx)$`, epic, story)),
		regexp.MustCompile(fmt.Sprintf(`^story_%d_%d(?:_.+)?_test\.go$`, epic, story)),
	}
}

func markerPatterns(id string) []*regexp.Regexp {
	q := regexp.QuoteMeta(id)
	return []*regexp.Regexp{
		regexp.MustCompile(`story_id\s*[=:]\s*["']` + q + `["']`),
		regexp.MustCompile(`@story\s+` + q + `\b`),
		regexp.MustCompile(`(?i)\bstory:\s*` + q + `\b`),
	}
}

// DiscoverTestsFor returns the slash-separated, root-relative paths of the
// tests for a story: files named after it, or failing that, test files
// that declare it in their content. Results are sorted and unique.
func (d *Discoverer) DiscoverTestsFor(storyID string) []string {
	id, ok := idgen.Normalize(storyID)
	if !ok {
		return nil
	}
	epic, story, _ := idgen.ParseStoryID(id)
	files := d.index()

	var out []string
	names := namePatterns(epic, story)
	for _, f := range files {
		base := filepath.Base(f)
		for _, re := range names {
			if re.MatchString(base) {
				out = append(out, f)
				break
			}
		}
	}
	if len(out) > 0 {
		return out
	}

	markers := markerPatterns(id)
	for _, f := range files {
		content := d.read(f)
		for _, re := range markers {
			if re.MatchString(content) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

func (d *Discoverer) read(rel string) string {
	if c, ok := d.contents[rel]; ok {
		return c
	}
	data, err := os.ReadFile(filepath.Join(d.root, filepath.FromSlash(rel)))
	if err != nil {
		d.log.Debug("test file unreadable", "path", rel, "err", err)
	}
	d.contents[rel] = string(data)
	return d.contents[rel]
}

// Abs returns the absolute path of a discovered file.
func (d *Discoverer) Abs(rel string) string {
	return filepath.Join(d.root, filepath.FromSlash(rel))
}

// StaticTestCount counts test declarations across a story's test files
// without running them.
func (d *Discoverer) StaticTestCount(storyID string) int {
	n := 0
	for _, f := range d.DiscoverTestsFor(storyID) {
		n += countDeclarations(f, d.read(f))
	}
	return n
}

var (
	pyTestRe = regexp.MustCompile(`(?m)^\s*(?:async\s+)?def\s+test_\w*\s*\(`)
	jsTestRe = regexp.MustCompile(`(?m)^\s*(?:it|test)(?:\.only)?\s*\(`)
	goTestRe = regexp.MustCompile(`(?m)^func\s+(Test\w*)\s*\(\s*\w+\s+\*testing\.T\s*\)`)
)

// CountTestsStatic tallies the test declarations in a file.
func CountTestsStatic(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	return countDeclarations(path, string(data))
}

// GoTestNames returns the names of the top-level Go tests declared in
// content, in declaration order.
func GoTestNames(content string) []string {
	var names []string
	for _, m := range goTestRe.FindAllStringSubmatch(content, -1) {
		names = append(names, m[1])
	}
	return names
}

func countDeclarations(path, content string) int {
	switch {
	case strings.HasSuffix(path, ".py"):
		return len(pyTestRe.FindAllStringIndex(content, -1))
	case strings.HasSuffix(path, ".go"):
		return len(goTestRe.FindAllStringIndex(content, -1))
	default:
		return len(jsTestRe.FindAllStringIndex(content, -1))
	}
}

// NewestMtime returns the latest modification time across files, used as
// the "last run" of tests that were counted but not executed.
func (d *Discoverer) NewestMtime(files []string) (time.Time, bool) {
	var newest time.Time
	for _, f := range files {
		info, err := os.Stat(d.Abs(f))
		if err != nil {
			continue
		}
		if m := info.ModTime(); m.After(newest) {
			newest = m
		}
	}
	return newest.UTC(), !newest.IsZero()
}
