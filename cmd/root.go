package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/RamXX/bmdash/internal/cache"
	"github.com/RamXX/bmdash/internal/metrics"
	"github.com/RamXX/bmdash/internal/state"
	"github.com/RamXX/bmdash/internal/store"
	"github.com/spf13/cobra"
)

var (
	rootDir string
	jsonOut bool
	verbose bool
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:          "bmdash",
	Short:        "BMAD evidence dashboard",
	Long:         "bmdash -- correlates BMAD story artifacts with git history and test results.",
	SilenceUsage: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "project root (default: nearest directory with _bmad-output)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-essential output")
}

// resolveRoot returns the project root, walking up from the working
// directory to the first directory holding _bmad-output or .bmdash.yaml.
func resolveRoot() string {
	if rootDir != "" {
		return rootDir
	}
	cwd, _ := os.Getwd()
	if root, ok := findRoot(cwd); ok {
		return root
	}
	return "."
}

func findRoot(dir string) (string, bool) {
	for {
		for _, marker := range []string{store.OutputDir, store.ConfigFile} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// newLogger writes to stderr at warn level, debug with --verbose and
// error with --quiet.
func newLogger() *slog.Logger {
	level := slog.LevelWarn
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// project bundles what most commands need.
type project struct {
	store   *store.Store
	orch    *state.Orchestrator
	cache   *cache.FileCache
	metrics *metrics.Metrics
	log     *slog.Logger
}

func openProject() (*project, error) {
	s, err := store.Open(resolveRoot())
	if err != nil {
		return nil, err
	}
	log := newLogger()
	m := metrics.New()
	fc := cache.NewFileCache(s.CachePath(),
		cache.WithLogger(log),
		cache.WithHook(m.CacheLookup),
	)
	orch := state.New(s,
		state.WithCache(fc),
		state.WithLogger(log),
		state.WithMetrics(m),
	)
	return &project{store: s, orch: orch, cache: fc, metrics: m, log: log}, nil
}

// loadState returns the snapshot, bootstrapping it on first use.
func (p *project) loadState(ctx context.Context) error {
	ps, err := p.orch.State()
	if err != nil {
		return err
	}
	if ps.IsEmpty() {
		_, err = p.orch.Bootstrap(ctx)
	}
	return err
}

func errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "bmdash: "+format+"\n", args...)
}
