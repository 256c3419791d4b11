package gitlog

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/RamXX/bmdash/internal/idgen"
	"github.com/RamXX/bmdash/internal/model"
)

// Classifier maps a commit message to the workflow it evidences.
type Classifier interface {
	Classify(message string) (workflow, result string, ok bool)
}

// KeywordClassifier matches lowercase keywords per workflow. Groups are
// tried in Order.
type KeywordClassifier struct {
	Order  []string
	Groups map[string][]string
}

// DefaultClassifier recognizes the four BMAD implementation workflows.
var DefaultClassifier = KeywordClassifier{
	Order: []string{
		model.WorkflowCodeReview,
		model.WorkflowCreateStory,
		model.WorkflowDevStory,
		model.WorkflowTest,
	},
	Groups: map[string][]string{
		model.WorkflowCodeReview:  {"code-review", "code review", "review"},
		model.WorkflowCreateStory: {"create-story", "create story", "draft story"},
		model.WorkflowDevStory:    {"dev-story", "dev story", "implement", "feat"},
		model.WorkflowTest:        {"test"},
	},
}

var (
	failureWords = []string{"fail", "fix", "bug"}
	skippedWords = []string{"skip", "wip", "incomplete"}
)

// Classify implements Classifier.
func (k KeywordClassifier) Classify(message string) (string, string, bool) {
	msg := strings.ToLower(message)
	for _, name := range k.Order {
		for _, kw := range k.Groups[name] {
			if strings.Contains(msg, kw) {
				return name, resultOf(msg), true
			}
		}
	}
	return "", "", false
}

func resultOf(msg string) string {
	for _, w := range failureWords {
		if strings.Contains(msg, w) {
			return model.ResultFailure
		}
	}
	for _, w := range skippedWords {
		if strings.Contains(msg, w) {
			return model.ResultSkipped
		}
	}
	return model.ResultSuccess
}

// TaskReferenceExtractor finds task numbers a commit claims to complete.
type TaskReferenceExtractor interface {
	ExtractTaskReferences(message string) []int
}

// TaskRefExtractor recognizes "task 3", "task-3", "tasks 1, 2 and 4".
type TaskRefExtractor struct{}

var (
	taskListRe = regexp.MustCompile(`(?i)\btasks?[\s#-]*(\d+(?:\s*(?:,|and|&)\s*#?\d+)*)`)
	digitsRe   = regexp.MustCompile(`\d+`)
)

// ExtractTaskReferences implements TaskReferenceExtractor.
func (TaskRefExtractor) ExtractTaskReferences(message string) []int {
	var out []int
	seen := make(map[int]bool)
	for _, m := range taskListRe.FindAllStringSubmatch(message, -1) {
		for _, d := range digitsRe.FindAllString(m[1], -1) {
			n, err := strconv.Atoi(d)
			if err != nil || n == 0 || seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// InferTasks marks tasks done when commits reference them. Tasks already
// done from the document are left untouched. It returns the IDs inferred.
func InferTasks(tasks []model.Task, commits []model.GitCommit, ex TaskReferenceExtractor) []string {
	var inferred []string
	for _, c := range commits {
		if c.IsFallback() {
			continue
		}
		for _, n := range ex.ExtractTaskReferences(c.Message) {
			id := idgen.TaskID(n)
			for i := range tasks {
				if tasks[i].ID != id || tasks[i].Status == model.TaskDone {
					continue
				}
				tasks[i].Status = model.TaskDone
				tasks[i].Inferred = true
				inferred = append(inferred, id)
			}
		}
	}
	return inferred
}

// ApplyInferred re-marks tasks listed in ids as inferred-done. Used when
// evidence is restored from the cache.
func ApplyInferred(tasks []model.Task, ids []string) {
	for _, id := range ids {
		for i := range tasks {
			if tasks[i].ID == id && tasks[i].Status != model.TaskDone {
				tasks[i].Status = model.TaskDone
				tasks[i].Inferred = true
			}
		}
	}
}
