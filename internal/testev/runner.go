package testev

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/timeout"
)

// RunResult is the parsed outcome of running one test file.
type RunResult struct {
	Passed       int
	Failed       int
	FailingTests []string
	RanAt        time.Time
}

// Executor runs a command and returns its combined output. A non-zero exit
// with output is not an error: failing tests exit non-zero.
type Executor interface {
	Run(ctx context.Context, dir, name string, args ...string) (string, error)
}

// ExecExecutor runs real subprocesses.
type ExecExecutor struct{}

// Run implements Executor.
func (ExecExecutor) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return string(out), nil
		}
		return string(out), err
	}
	return string(out), nil
}

// Runner knows how to run and read one kind of test file.
type Runner interface {
	Name() string
	Match(relPath string) bool
	// Command builds the invocation for relPath, run from dir.
	Command(dir, relPath string) (name string, args []string)
	Parse(output string) (RunResult, bool)
}

// DefaultRunners covers pytest, jest and go test.
var DefaultRunners = []Runner{PytestRunner{}, JestRunner{}, GoTestRunner{}}

// PytestRunner runs Python test files.
type PytestRunner struct{}

var (
	pytestPassedRe = regexp.MustCompile(`(\d+) passed`)
	pytestFailedRe = regexp.MustCompile(`(\d+) (?:failed|error)`)
	pytestFailRe   = regexp.MustCompile(`::(\S+?)\s+FAILED`)
	pytestShortRe  = regexp.MustCompile(`(?m)^FAILED \S+::(\S+)`)
	pytestSumRe    = regexp.MustCompile(`(?m)^=+ .*(?:passed|failed|error).* =+$`)
)

func (PytestRunner) Name() string { return "pytest" }

func (PytestRunner) Match(p string) bool { return strings.HasSuffix(p, ".py") }

func (PytestRunner) Command(_, p string) (string, []string) {
	return "python", []string{"-m", "pytest", "-v", "--tb=no", p}
}

func (PytestRunner) Parse(out string) (RunResult, bool) {
	summary := pytestSumRe.FindString(out)
	if summary == "" {
		return RunResult{}, false
	}
	r := RunResult{
		Passed: sumMatches(pytestPassedRe, summary),
		Failed: sumMatches(pytestFailedRe, summary),
	}
	r.FailingTests = uniqueMatches(out, pytestFailRe, pytestShortRe)
	return r, true
}

// JestRunner runs JavaScript and TypeScript test files through npx.
type JestRunner struct{}

var (
	jestTestsRe  = regexp.MustCompile(`(?m)^Tests:\s+(.*)$`)
	jestPassedRe = regexp.MustCompile(`(\d+) passed`)
	jestFailedRe = regexp.MustCompile(`(\d+) failed`)
	jestFailRe   = regexp.MustCompile(`(?m)✕\s+(.+?)(?:\s+\(\d+\s*ms\))?\s*$`)
)

func (JestRunner) Name() string { return "jest" }

func (JestRunner) Match(p string) bool {
	for _, ext := range []string{".js", ".jsx", ".ts", ".tsx"} {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}

func (JestRunner) Command(_, p string) (string, []string) {
	return "npx", []string{"--no-install", "jest", "--verbose", p}
}

func (JestRunner) Parse(out string) (RunResult, bool) {
	m := jestTestsRe.FindStringSubmatch(out)
	if m == nil {
		return RunResult{}, false
	}
	r := RunResult{
		Passed: sumMatches(jestPassedRe, m[1]),
		Failed: sumMatches(jestFailedRe, m[1]),
	}
	r.FailingTests = uniqueMatches(out, jestFailRe)
	return r, true
}

// GoTestRunner runs the Go tests declared in a story's test file, selected
// by name so that other tests in the same package do not count.
type GoTestRunner struct{}

var (
	goPassRe = regexp.MustCompile(`(?m)^\s*--- PASS: (\S+)`)
	goFailRe = regexp.MustCompile(`(?m)^\s*--- FAIL: (\S+)`)
	goDoneRe = regexp.MustCompile(`(?m)^(?:ok|FAIL|PASS)\b`)
)

func (GoTestRunner) Name() string { return "go test" }

func (GoTestRunner) Match(p string) bool { return strings.HasSuffix(p, "_test.go") }

func (GoTestRunner) Command(dir, p string) (string, []string) {
	pattern := "^$"
	if data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(p))); err == nil {
		if names := GoTestNames(string(data)); len(names) > 0 {
			pattern = "^(" + strings.Join(names, "|") + ")$"
		}
	}
	return "go", []string{"test", "-v", "-count=1", "-run", pattern, "./" + path.Dir(filepath.ToSlash(p))}
}

// Parse counts top-level tests only; subtests roll up into their parent.
func (GoTestRunner) Parse(out string) (RunResult, bool) {
	if !goDoneRe.MatchString(out) {
		return RunResult{}, false
	}
	var passed int
	for _, m := range goPassRe.FindAllStringSubmatch(out, -1) {
		if !strings.Contains(m[1], "/") {
			passed++
		}
	}
	var failing []string
	for _, name := range uniqueMatches(out, goFailRe) {
		if !strings.Contains(name, "/") {
			failing = append(failing, name)
		}
	}
	return RunResult{
		Passed:       passed,
		Failed:       len(failing),
		FailingTests: failing,
	}, true
}

func sumMatches(re *regexp.Regexp, s string) int {
	n := 0
	for _, m := range re.FindAllStringSubmatch(s, -1) {
		v, _ := strconv.Atoi(m[1])
		n += v
	}
	return n
}

func uniqueMatches(s string, res ...*regexp.Regexp) []string {
	var out []string
	seen := make(map[string]bool)
	for _, re := range res {
		for _, m := range re.FindAllStringSubmatch(s, -1) {
			name := strings.TrimSpace(m[1])
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// Run executes relPath under dir with the first matching runner, bounded by
// limit. It returns false when no runner applies, the runner is missing,
// the run times out or its output cannot be read.
func Run(ctx context.Context, exe Executor, runners []Runner, dir, relPath string, limit time.Duration) (*RunResult, bool) {
	var runner Runner
	for _, r := range runners {
		if r.Match(relPath) {
			runner = r
			break
		}
	}
	if runner == nil {
		return nil, false
	}
	name, args := runner.Command(dir, relPath)
	tm := timeout.New[string](timeout.Config{DefaultTimeout: limit})
	out, err := tm.Execute(ctx, limit, func(ctx context.Context) (string, error) {
		return exe.Run(ctx, dir, name, args...)
	})
	if err != nil {
		return nil, false
	}
	res, ok := runner.Parse(out)
	if !ok {
		return nil, false
	}
	res.RanAt = time.Now().UTC()
	return &res, true
}
