// Package parser turns a BMAD artifact tree into the normalized project
// model: the sprint-status file declares epics and stories, and each
// story's markdown document contributes frontmatter overrides, tasks,
// acceptance criteria and workflow history.
package parser

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/RamXX/bmdash/internal/enforce"
	"github.com/RamXX/bmdash/internal/idgen"
	"github.com/RamXX/bmdash/internal/model"
	"github.com/RamXX/bmdash/internal/store"
	"gopkg.in/yaml.v3"
)

// TestCounter reports how many tests exist for a story without running
// them.
type TestCounter interface {
	StaticTestCount(storyID string) int
}

type storyHeader struct {
	StoryID         string           `yaml:"story_id"`
	StoryKey        string           `yaml:"story_key"`
	Title           string           `yaml:"title"`
	Status          string           `yaml:"status"`
	Epic            string           `yaml:"epic"`
	Created         string           `yaml:"created"`
	Completed       string           `yaml:"completed"`
	LastUpdated     string           `yaml:"last_updated"`
	WorkflowHistory []workflowRecord `yaml:"workflow_history"`
}

// Parser reads artifacts through a store.
type Parser struct {
	store *store.Store
	miner HistoryMiner
	tests TestCounter
	log   *slog.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithHistoryMiner enables commit-message mining as the last workflow
// history fallback.
func WithHistoryMiner(m HistoryMiner) Option {
	return func(p *Parser) { p.miner = m }
}

// WithTestCounter enables the test-gap rule's static test count.
func WithTestCounter(c TestCounter) Option {
	return func(p *Parser) { p.tests = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Parser) { p.log = l }
}

// New returns a Parser for the project behind s.
func New(s *store.Store, opts ...Option) *Parser {
	p := &Parser{store: s, log: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(p)
	}
	return p
}

// LoadSprintStatus reads and decodes the sprint-status file. A missing file
// yields a nil status and no error.
func (p *Parser) LoadSprintStatus() (*SprintStatus, time.Time, error) {
	path := p.store.SprintStatusPath()
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("stat sprint status: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, info.ModTime().UTC(), fmt.Errorf("read sprint status: %w", err)
	}
	ss, err := ParseSprintStatus(data)
	return ss, info.ModTime().UTC(), err
}

// ParseProject parses the whole project. Only a missing project root is an
// error; anything else degrades to stubs and entries in Project.Errors.
func (p *Parser) ParseProject(ctx context.Context) (*model.Project, error) {
	root := p.store.Root()
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", store.ErrProjectRootMissing, root)
	}
	proj := &model.Project{
		Name:        p.store.Name(),
		Phase:       DetectPhase(root),
		RootPath:    root,
		BmadVersion: DetectVersion(root),
	}

	ss, mtime, err := p.LoadSprintStatus()
	proj.SprintStatusMtime = mtime
	if err != nil {
		p.log.Warn("sprint status unreadable", "path", p.store.SprintStatusPath(), "err", err)
		proj.Errors = append(proj.Errors, err.Error())
		return proj, nil
	}
	if ss == nil {
		return proj, nil
	}
	if ss.Project != "" {
		proj.Name = ss.Project
	}

	seen := make(map[string]bool)
	for _, decl := range ss.Epics {
		epic := NewEpic(decl)
		for _, sd := range decl.Stories {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			s := p.ParseStory(ctx, sd)
			if seen[s.ID] {
				proj.Errors = append(proj.Errors, fmt.Sprintf("duplicate story id %s (key %s)", s.ID, s.Key))
				continue
			}
			seen[s.ID] = true
			if s.ParseError != "" {
				proj.Errors = append(proj.Errors, s.ParseError)
			}
			epic.Attach(s)
		}
		epic.RecomputeProgress()
		proj.Epics = append(proj.Epics, epic)
	}
	return proj, nil
}

// NewEpic builds an empty epic from its declaration.
func NewEpic(decl EpicDecl) *model.Epic {
	return &model.Epic{
		ID:     strconv.Itoa(decl.Number),
		Number: decl.Number,
		Title:  decl.Title,
		Status: decl.Status,
	}
}

// Stub returns the story as declared, with no document behind it.
func Stub(decl StoryDecl) *model.Story {
	return &model.Story{
		ID:           decl.ID,
		Key:          decl.Key,
		Title:        decl.Title,
		Status:       decl.Status,
		StatusSource: model.SourceSprintStatus,
		Epic:         decl.Epic,
		Number:       decl.Number,
	}
}

// DeclFromStory rebuilds a declaration from an already-parsed story.
func DeclFromStory(s *model.Story) StoryDecl {
	return StoryDecl{ID: s.ID, Key: s.Key, Title: s.Title, Status: s.Status, Epic: s.Epic, Number: s.Number}
}

// ParseStory parses one declared story. A missing document yields a stub.
func (p *Parser) ParseStory(ctx context.Context, decl StoryDecl) *model.Story {
	s := Stub(decl)
	path := p.store.StoryPath(decl.Key)
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			p.log.Warn("story document unreadable", "story", decl.ID, "err", err)
		}
		return s
	}
	data, err := os.ReadFile(path)
	if err != nil {
		p.log.Warn("story document unreadable", "story", decl.ID, "err", err)
		return s
	}
	s.FilePath = path
	s.Mtime = info.ModTime().UTC()
	p.applyDocument(ctx, s, string(data))
	return s
}

func (p *Parser) applyDocument(ctx context.Context, s *model.Story, content string) {
	s.ContentHash = enforce.ComputeContentHash(content)
	header, body, err := SplitFrontmatter(content, s.FilePath)
	if err != nil {
		s.ParseError = err.Error()
		p.log.Warn("frontmatter", "story", s.ID, "err", err)
	}

	var h storyHeader
	if header != "" {
		if err := yaml.Unmarshal([]byte(header), &h); err != nil {
			s.ParseError = fmt.Sprintf("invalid frontmatter in %s: %v", s.FilePath, err)
			p.log.Warn("frontmatter", "story", s.ID, "err", err)
			h = storyHeader{}
		} else {
			for _, c := range applyHeader(s, h) {
				p.log.Warn("frontmatter conflicts with sprint status, keeping declared epic", "story", s.ID, "field", c)
			}
		}
	}

	s.Body = body
	s.Tasks = ParseTasks(body)
	s.AcceptanceCriteria = ParseAcceptanceCriteria(body)
	s.Headings = ParseHeadings(body)
	if h.Title == "" {
		if t := TitleFromBody(s.Headings); t != "" {
			s.Title = t
		}
	}

	s.WorkflowHistory = p.resolveHistory(ctx, s, h.WorkflowHistory)
	s.Gaps = enforce.DetectGaps(s.Status, enforce.ExecutedWorkflows(s.WorkflowHistory), p.staticTests(s))
}

// applyHeader copies frontmatter overrides onto s. The epic that declares
// the story in the sprint-status file owns it, so an epic or story_id that
// points elsewhere is ignored; the names of ignored fields are returned.
func applyHeader(s *model.Story, h storyHeader) (ignored []string) {
	if id, ok := idgen.Normalize(h.StoryID); ok {
		epic, number, _ := idgen.ParseStoryID(id)
		if s.Epic == 0 || epic == s.Epic {
			s.ID = id
			s.Epic, s.Number = epic, number
		} else {
			ignored = append(ignored, "story_id")
		}
	}
	if h.StoryKey != "" {
		s.Key = h.StoryKey
	}
	if h.Title != "" {
		s.Title = h.Title
	}
	if h.Status != "" {
		s.Status = model.NormalizeStatus(h.Status)
		s.StatusSource = model.SourceFrontmatter
	}
	if h.Epic != "" {
		if n, ok := idgen.EpicNumber(h.Epic); ok {
			if s.Epic == 0 || n == s.Epic {
				s.Epic = n
			} else {
				ignored = append(ignored, "epic")
			}
		}
	}
	s.Created = h.Created
	s.Completed = h.Completed
	s.LastUpdated = h.LastUpdated
	return ignored
}

// resolveHistory tries the frontmatter, then a sibling code-review
// document, then commit messages.
func (p *Parser) resolveHistory(ctx context.Context, s *model.Story, records []workflowRecord) []model.WorkflowEntry {
	if h := historyFromFrontmatter(records); len(h) > 0 {
		return h
	}
	if s.FilePath != "" {
		review := filepath.Join(filepath.Dir(s.FilePath), idgen.CodeReviewFile(s.Epic, s.Number))
		if h, ok := historyFromCodeReview(review); ok {
			return h
		}
	}
	if p.miner != nil {
		h := p.miner.MineWorkflows(ctx, s.ID)
		SortHistory(h)
		return h
	}
	return nil
}

func (p *Parser) staticTests(s *model.Story) int {
	if p.tests != nil {
		if n := p.tests.StaticTestCount(s.ID); n > 0 {
			return n
		}
	}
	if _, total, ok := ParseReportedCounts(s.Body); ok {
		return total
	}
	return 0
}
