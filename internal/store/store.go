package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/RamXX/bmdash/internal/idgen"
	"github.com/RamXX/vlt"
	"gopkg.in/yaml.v3"
)

// Layout of a BMAD project relative to its root.
const (
	ConfigFile        = ".bmdash.yaml"
	OutputDir         = "_bmad-output"
	ArtifactsDir      = "implementation-artifacts"
	PlanningDir       = "planning-artifacts"
	SprintStatusFile  = "sprint-status.yaml"
	StateFile         = "project-state.json"
	CacheDir          = ".bmad-cache"
	WorkflowStatusYML = "bmm-workflow-status.yaml"
)

// ErrProjectRootMissing is returned when the project root does not exist.
var ErrProjectRootMissing = errors.New("project root not found")

// ErrUnknownConfigKey is returned for config keys bmdash does not define.
var ErrUnknownConfigKey = errors.New("unknown config key")

// GitConfig tunes the version-control correlator.
type GitConfig struct {
	CommitWindow int `yaml:"commit_window,omitempty"`
	FreshDays    int `yaml:"fresh_days,omitempty"`
}

// TestsConfig tunes test discovery and execution.
type TestsConfig struct {
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	FreshHours     int      `yaml:"fresh_hours,omitempty"`
	Roots          []string `yaml:"roots,omitempty"`
	Execute        *bool    `yaml:"execute,omitempty"`
}

// SyncConfig tunes incremental sync.
type SyncConfig struct {
	ContentHash bool `yaml:"content_hash,omitempty"`
}

// Config holds project-level bmdash configuration stored in .bmdash.yaml.
// Zero values fall back to the defaults below.
type Config struct {
	Version string      `yaml:"version"`
	Git     GitConfig   `yaml:"git,omitempty"`
	Tests   TestsConfig `yaml:"tests,omitempty"`
	Sync    SyncConfig  `yaml:"sync,omitempty"`
}

const (
	DefaultCommitWindow = 1000
	DefaultGitFreshDays = 7
	DefaultTestTimeout  = 30 * time.Second
	DefaultTestFresh    = 24 * time.Hour
)

// CommitWindow returns the number of recent commits scanned, capped at 1000.
func (c Config) CommitWindow() int {
	n := c.Git.CommitWindow
	if n <= 0 || n > DefaultCommitWindow {
		return DefaultCommitWindow
	}
	return n
}

// GitFreshness returns the age under which commit activity is green.
func (c Config) GitFreshness() time.Duration {
	if c.Git.FreshDays <= 0 {
		return DefaultGitFreshDays * 24 * time.Hour
	}
	return time.Duration(c.Git.FreshDays) * 24 * time.Hour
}

// TestTimeout returns the per-file test runner budget.
func (c Config) TestTimeout() time.Duration {
	if c.Tests.TimeoutSeconds <= 0 {
		return DefaultTestTimeout
	}
	return time.Duration(c.Tests.TimeoutSeconds) * time.Second
}

// TestFreshness returns the age under which a passing run is green.
func (c Config) TestFreshness() time.Duration {
	if c.Tests.FreshHours <= 0 {
		return DefaultTestFresh
	}
	return time.Duration(c.Tests.FreshHours) * time.Hour
}

// ExecuteTests reports whether test files may be run.
func (c Config) ExecuteTests() bool {
	return c.Tests.Execute == nil || *c.Tests.Execute
}

// Store locates a BMAD project's artifacts and wraps the artifact
// directory as a vlt.Vault.
type Store struct {
	vault  *vlt.Vault
	config Config
	root   string
}

// Open opens the project at root. The config file and the artifact
// output directory are both optional.
func Open(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrProjectRootMissing, abs)
	}
	s := &Store{root: abs}
	if err := s.loadConfig(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if info, err := os.Stat(s.OutputPath()); err == nil && info.IsDir() {
		v, err := vlt.Open(s.OutputPath())
		if err != nil {
			return nil, fmt.Errorf("open artifact vault: %w", err)
		}
		s.vault = v
	}
	return s, nil
}

// Init writes a default config for the project at root.
func Init(root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, OutputDir, ArtifactsDir), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", ArtifactsDir, err)
	}
	cfg := Config{Version: "1"}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, ConfigFile), data, 0o644); err != nil {
		return nil, fmt.Errorf("write config: %w", err)
	}
	return Open(root)
}

func (s *Store) loadConfig() error {
	data, err := os.ReadFile(filepath.Join(s.root, ConfigFile))
	if errors.Is(err, fs.ErrNotExist) {
		s.config = Config{Version: "1"}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", ConfigFile, err)
	}
	return yaml.Unmarshal(data, &s.config)
}

// Vault returns the artifact vault, or nil when _bmad-output is absent.
func (s *Store) Vault() *vlt.Vault { return s.vault }

// Config returns the project configuration.
func (s *Store) Config() Config { return s.config }

// Root returns the absolute project root.
func (s *Store) Root() string { return s.root }

// Name returns the project name (the root directory's base name).
func (s *Store) Name() string { return filepath.Base(s.root) }

// OutputPath returns the _bmad-output directory.
func (s *Store) OutputPath() string { return filepath.Join(s.root, OutputDir) }

// ArtifactsPath returns the implementation-artifacts directory.
func (s *Store) ArtifactsPath() string { return filepath.Join(s.root, OutputDir, ArtifactsDir) }

// SprintStatusPath returns the sprint-status file location.
func (s *Store) SprintStatusPath() string { return filepath.Join(s.ArtifactsPath(), SprintStatusFile) }

// StoryPath returns where the document for a story key lives.
func (s *Store) StoryPath(key string) string { return filepath.Join(s.ArtifactsPath(), key+".md") }

// StatePath returns the persisted project-state location.
func (s *Store) StatePath() string { return filepath.Join(s.ArtifactsPath(), StateFile) }

// CachePath returns the evidence cache directory.
func (s *Store) CachePath() string { return filepath.Join(s.root, CacheDir) }

// StoryFiles lists story documents ("E-S-slug.md") in the artifacts
// directory as absolute paths sorted by name.
func (s *Store) StoryFiles() ([]string, error) {
	if s.vault == nil {
		return nil, nil
	}
	files, err := s.vault.Files(ArtifactsDir, "md")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list story files: %w", err)
	}
	var out []string
	for _, f := range files {
		key := strings.TrimSuffix(filepath.Base(f), ".md")
		if _, _, _, ok := idgen.ParseStoryKey(key); !ok {
			continue
		}
		if !filepath.IsAbs(f) {
			f = filepath.Join(s.OutputPath(), f)
		}
		out = append(out, f)
	}
	sort.Strings(out)
	return out, nil
}

// SaveConfig writes the current config back to .bmdash.yaml.
func (s *Store) SaveConfig() error {
	data, err := yaml.Marshal(s.config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(s.root, ConfigFile), data, 0o644)
}

// SetConfigValue sets a config field by dot-notation key with validation.
func (s *Store) SetConfigValue(key, value string) error {
	switch key {
	case "git.commit_window":
		n, err := positiveInt(key, value)
		if err != nil {
			return err
		}
		if n > DefaultCommitWindow {
			return fmt.Errorf("%s must be at most %d", key, DefaultCommitWindow)
		}
		s.config.Git.CommitWindow = n
	case "git.fresh_days":
		n, err := positiveInt(key, value)
		if err != nil {
			return err
		}
		s.config.Git.FreshDays = n
	case "tests.timeout_seconds":
		n, err := positiveInt(key, value)
		if err != nil {
			return err
		}
		s.config.Tests.TimeoutSeconds = n
	case "tests.fresh_hours":
		n, err := positiveInt(key, value)
		if err != nil {
			return err
		}
		s.config.Tests.FreshHours = n
	case "tests.roots":
		var roots []string
		for _, r := range strings.Split(value, ",") {
			if r = strings.TrimSpace(r); r != "" {
				roots = append(roots, r)
			}
		}
		s.config.Tests.Roots = roots
	case "tests.execute":
		b, err := parseBool(key, value)
		if err != nil {
			return err
		}
		s.config.Tests.Execute = &b
	case "sync.content_hash":
		b, err := parseBool(key, value)
		if err != nil {
			return err
		}
		s.config.Sync.ContentHash = b
	default:
		return fmt.Errorf("%w %q", ErrUnknownConfigKey, key)
	}
	return s.SaveConfig()
}

// GetConfigValue returns the effective value of a config field.
func (s *Store) GetConfigValue(key string) (string, error) {
	for _, entry := range s.ConfigEntries() {
		if entry[0] == key {
			return entry[1], nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownConfigKey, key)
}

// ConfigEntries returns all effective config values as key-value pairs.
func (s *Store) ConfigEntries() [][2]string {
	return s.config.Entries()
}

// Entries returns the effective values of c in display order. The zero
// Config yields the defaults.
func (c Config) Entries() [][2]string {
	return [][2]string{
		{"version", c.Version},
		{"git.commit_window", strconv.Itoa(c.CommitWindow())},
		{"git.fresh_days", strconv.Itoa(int(c.GitFreshness() / (24 * time.Hour)))},
		{"tests.timeout_seconds", strconv.Itoa(int(c.TestTimeout() / time.Second))},
		{"tests.fresh_hours", strconv.Itoa(int(c.TestFreshness() / time.Hour))},
		{"tests.roots", strings.Join(c.Tests.Roots, ",")},
		{"tests.execute", strconv.FormatBool(c.ExecuteTests())},
		{"sync.content_hash", strconv.FormatBool(c.Sync.ContentHash)},
	}
}

func positiveInt(key, value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid value %q for %s: must be a positive integer", value, key)
	}
	return n, nil
}

func parseBool(key, value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value %q for %s", value, key)
}
