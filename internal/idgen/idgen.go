// Package idgen builds and normalizes the identifiers used across BMAD
// artifacts: story IDs ("E.S"), story keys ("E-S-slug"), epic keys
// ("epic-N") and task IDs ("task-N").
package idgen

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var (
	looseStoryRe = regexp.MustCompile(`(\d+)[.\-_\s](\d+)`)
	storyKeyRe   = regexp.MustCompile(`^(\d+)-(\d+)-(.+)$`)
	epicKeyRe    = regexp.MustCompile(`^epic-(\d+)$`)
)

// StoryID formats a story ID in dot notation.
func StoryID(epic, story int) string {
	return fmt.Sprintf("%d.%d", epic, story)
}

// ParseStoryID splits a canonical "E.S" ID.
func ParseStoryID(id string) (epic, story int, ok bool) {
	e, s, found := strings.Cut(id, ".")
	if !found {
		return 0, 0, false
	}
	en, err1 := strconv.Atoi(e)
	sn, err2 := strconv.Atoi(s)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return en, sn, true
}

// Normalize extracts the canonical "E.S" form from loose spellings such as
// "story-1.2", "Story 1.2", "1-2" or "1_2".
func Normalize(raw string) (string, bool) {
	m := looseStoryRe.FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}
	e, _ := strconv.Atoi(m[1])
	s, _ := strconv.Atoi(m[2])
	return StoryID(e, s), true
}

// ParseStoryKey splits a status-file story key "E-S-slug".
func ParseStoryKey(key string) (epic, story int, slug string, ok bool) {
	m := storyKeyRe.FindStringSubmatch(key)
	if m == nil {
		return 0, 0, "", false
	}
	epic, _ = strconv.Atoi(m[1])
	story, _ = strconv.Atoi(m[2])
	return epic, story, m[3], true
}

// ParseEpicKey extracts N from "epic-N".
func ParseEpicKey(key string) (int, bool) {
	m := epicKeyRe.FindStringSubmatch(key)
	if m == nil {
		return 0, false
	}
	n, _ := strconv.Atoi(m[1])
	return n, true
}

// EpicKey formats an epic's state key.
func EpicKey(n int) string {
	return fmt.Sprintf("epic-%d", n)
}

// EpicNumber accepts the shapes an epic reference takes in frontmatter:
// 4, "4" or "epic-4".
func EpicNumber(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		return int(x), true
	case string:
		x = strings.TrimSpace(x)
		if n, ok := ParseEpicKey(strings.ToLower(x)); ok {
			return n, true
		}
		n, err := strconv.Atoi(x)
		return n, err == nil
	}
	return 0, false
}

// TaskID formats the nth task ID (1-based).
func TaskID(n int) string {
	return fmt.Sprintf("task-%d", n)
}

// TitleFromSlug turns "user-login-flow" into "User Login Flow".
func TitleFromSlug(slug string) string {
	words := strings.FieldsFunc(slug, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// CodeReviewFile returns the sibling code-review document name for a story.
func CodeReviewFile(epic, story int) string {
	return fmt.Sprintf("code-review-%d-%d.md", epic, story)
}

// Less orders story IDs numerically, falling back to string order for IDs
// that do not parse.
func Less(a, b string) bool {
	ae, as, aok := ParseStoryID(a)
	be, bs, bok := ParseStoryID(b)
	if !aok || !bok {
		return a < b
	}
	if ae != be {
		return ae < be
	}
	return as < bs
}
