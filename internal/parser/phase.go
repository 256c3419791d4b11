package parser

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/RamXX/bmdash/internal/model"
	"gopkg.in/yaml.v3"
)

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func anyExists(root string, dirs []string, names ...string) bool {
	for _, d := range dirs {
		for _, n := range names {
			if exists(filepath.Join(root, d, n)) {
				return true
			}
		}
	}
	return false
}

var (
	implDirs     = []string{"_bmad-output/implementation-artifacts", "_bmad-output", "."}
	planningDirs = []string{"_bmad-output/planning-artifacts", "_bmad-output", "."}
)

// DetectPhase infers the BMAD phase from which artifacts exist. Later
// phases win.
func DetectPhase(root string) model.Phase {
	switch {
	case anyExists(root, implDirs, "sprint-status.yaml"):
		return model.PhaseImplementation
	case anyExists(root, planningDirs, "architecture.md"):
		return model.PhaseSolutioning
	case anyExists(root, planningDirs, "prd.md"):
		return model.PhasePlanning
	case anyExists(root, planningDirs, "brainstorming.md", "product-brief.md", "ideas.md"):
		return model.PhaseAnalysis
	}
	return model.PhaseUnknown
}

var versionCommentRe = regexp.MustCompile(`(?i)#\s*Version:\s*([\d.]+(?:-[\w.]+)?)`)

type versionField struct {
	BmadVersion string `yaml:"bmad_version"`
}

func versionFromYAML(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var v versionField
	if yaml.Unmarshal(data, &v) != nil {
		return ""
	}
	return strings.TrimSpace(v.BmadVersion)
}

// DetectVersion reports the BMAD method version a project was generated
// with, or "latest" when nothing records it.
func DetectVersion(root string) string {
	cfg := filepath.Join(root, "_bmad", "bmm", "config.yaml")
	if data, err := os.ReadFile(cfg); err == nil {
		if m := versionCommentRe.FindSubmatch(data); m != nil {
			return string(m[1])
		}
		if v := versionFromYAML(cfg); v != "" {
			return v
		}
	}
	for _, p := range []string{
		filepath.Join(root, "_bmad-output", "implementation-artifacts", "sprint-status.yaml"),
		filepath.Join(root, "sprint-status.yaml"),
		filepath.Join(root, ".agent", "workflows", "workflow.yaml"),
		filepath.Join(root, "_bmad-output", "workflow.yaml"),
	} {
		if v := versionFromYAML(p); v != "" {
			return v
		}
	}
	return "latest"
}
