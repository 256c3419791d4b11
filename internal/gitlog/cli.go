package gitlog

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/RamXX/bmdash/internal/model"
)

// MaxWindow caps how many commits are ever read.
const MaxWindow = 1000

// DefaultTimeout bounds each git subprocess.
const DefaultTimeout = 30 * time.Second

// ErrNotRepository is returned when the directory is not inside a work tree.
var ErrNotRepository = errors.New("not a git repository")

// LogReader returns recent commits, newest first.
type LogReader interface {
	Log(ctx context.Context, limit int) ([]model.GitCommit, error)
}

// CLI reads history by running the git binary.
type CLI struct {
	Dir     string
	Timeout time.Duration
}

const (
	recordSep = "\x1e"
	fieldSep  = "\x1f"
)

func (c CLI) run(ctx context.Context, args ...string) ([]byte, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// #nosec G204 -- arguments are fixed flags plus a bounds-checked integer
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", c.Dir}, args...)...)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("git %s timed out after %s", args[0], timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && strings.Contains(string(exitErr.Stderr), "not a git repository") {
			return nil, ErrNotRepository
		}
		return nil, fmt.Errorf("git %s: %w", args[0], err)
	}
	return out, nil
}

// Log returns at most limit commits, capped at MaxWindow.
func (c CLI) Log(ctx context.Context, limit int) ([]model.GitCommit, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > MaxWindow {
		limit = MaxWindow
	}
	out, err := c.run(ctx, "log", "-n", strconv.Itoa(limit), "--name-only",
		"--pretty=format:"+recordSep+"%H"+fieldSep+"%an"+fieldSep+"%aI"+fieldSep+"%B"+fieldSep)
	if err != nil {
		return nil, err
	}
	return parseLog(string(out)), nil
}

func parseLog(out string) []model.GitCommit {
	var commits []model.GitCommit
	for _, rec := range strings.Split(out, recordSep) {
		fields := strings.Split(rec, fieldSep)
		if len(fields) < 4 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(fields[2]))
		if err != nil {
			continue
		}
		c := model.GitCommit{
			SHA:       strings.TrimSpace(fields[0]),
			Author:    fields[1],
			Timestamp: ts.UTC(),
			Message:   strings.TrimSpace(fields[3]),
		}
		if len(fields) > 4 {
			for _, f := range strings.Split(fields[4], "\n") {
				if f = strings.TrimSpace(f); f != "" {
					c.FilesChanged = append(c.FilesChanged, f)
				}
			}
		}
		commits = append(commits, c)
	}
	return commits
}

// WorkingTree reports whether the work tree is clean and lists the paths
// with uncommitted changes.
func (c CLI) WorkingTree(ctx context.Context) (clean bool, changed []string, err error) {
	out, err := c.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, nil, err
	}
	for _, line := range strings.Split(string(out), "\n") {
		if len(line) > 3 {
			changed = append(changed, strings.TrimSpace(line[3:]))
		}
	}
	return len(changed) == 0, changed, nil
}
