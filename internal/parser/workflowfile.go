package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/RamXX/bmdash/internal/model"
	"gopkg.in/yaml.v3"
)

const workflowInitCmd = "/bmad:bmm:workflows:workflow-init"

var (
	requiredWorkflowFields = []string{
		"generated", "project", "project_type", "selected_track",
		"field_type", "workflow_path", "workflow_status",
	}
	requiredStepFields = []string{"id", "name", "agent", "command", "status"}
	validProjectTypes  = []string{"greenfield", "brownfield"}
	validTracks        = []string{"bmad-method", "enterprise-method"}
)

// FindWorkflowFile returns the workflow-status file path, or "".
func FindWorkflowFile(root string) string {
	for _, p := range []string{
		filepath.Join(root, "_bmad-output", "planning-artifacts", "bmm-workflow-status.yaml"),
		filepath.Join(root, "_bmad-output", "bmm-workflow-status.yaml"),
	} {
		if exists(p) {
			return p
		}
	}
	return ""
}

// ValidateWorkflowFile checks the workflow-status file's structure and
// reports errors, warnings and remediation suggestions.
func ValidateWorkflowFile(root string) *model.WorkflowValidation {
	v := &model.WorkflowValidation{}
	path := FindWorkflowFile(root)
	if path == "" {
		v.Errors = append(v.Errors, "No bmm-workflow-status.yaml file found")
		v.Suggestions = append(v.Suggestions, "Run "+workflowInitCmd+" to initialize project tracking")
		return v
	}
	v.FilePath = path

	data, err := os.ReadFile(path)
	if err != nil {
		v.Errors = append(v.Errors, fmt.Sprintf("Could not read file: %v", err))
		return v
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		v.Errors = append(v.Errors, fmt.Sprintf("Invalid YAML syntax: %v", err))
		return v
	}
	if doc == nil {
		v.Errors = append(v.Errors, "Workflow status file must be a YAML dictionary")
		v.Suggestions = append(v.Suggestions, "Run "+workflowInitCmd+" to regenerate the file")
		return v
	}

	var missing []string
	for _, f := range requiredWorkflowFields {
		if _, ok := doc[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		v.Errors = append(v.Errors, "Missing required fields: "+strings.Join(missing, ", "))
		v.Suggestions = append(v.Suggestions,
			"This file appears to be malformed or outdated",
			"Run "+workflowInitCmd+" to regenerate the file")
	}

	checkValue := func(field string, allowed []string) {
		raw, ok := doc[field]
		if !ok {
			return
		}
		if s, _ := raw.(string); !slices.Contains(allowed, s) {
			v.Warnings = append(v.Warnings, fmt.Sprintf("Invalid %s: %v", field, raw))
		}
	}
	checkValue("project_type", validProjectTypes)
	checkValue("selected_track", validTracks)
	checkValue("field_type", validProjectTypes)

	if raw, ok := doc["workflow_status"]; ok {
		validatePhases(v, raw)
	}

	v.Valid = len(v.Errors) == 0
	if !v.Valid && len(v.Suggestions) == 0 {
		v.Suggestions = append(v.Suggestions, "Run "+workflowInitCmd+" to fix this file")
	}
	return v
}

func validatePhases(v *model.WorkflowValidation, raw any) {
	phases, ok := raw.([]any)
	if !ok {
		v.Errors = append(v.Errors, "workflow_status must be a list of phases")
		return
	}
	for i, p := range phases {
		phase, ok := p.(map[string]any)
		if !ok {
			v.Errors = append(v.Errors, fmt.Sprintf("Phase %d is not a dictionary", i))
			continue
		}
		for _, f := range []string{"phase", "name"} {
			if _, ok := phase[f]; !ok {
				v.Errors = append(v.Errors, fmt.Sprintf("Phase %d is missing '%s' field", i, f))
			}
		}
		wraw, ok := phase["workflows"]
		if !ok {
			v.Errors = append(v.Errors, fmt.Sprintf("Phase %d is missing 'workflows' field", i))
			continue
		}
		workflows, ok := wraw.([]any)
		if !ok {
			v.Errors = append(v.Errors, fmt.Sprintf("Phase %d workflows must be a list", i))
			continue
		}
		for j, w := range workflows {
			step, ok := w.(map[string]any)
			if !ok {
				v.Errors = append(v.Errors, fmt.Sprintf("Phase %d, workflow %d is not a dictionary", i, j))
				continue
			}
			name, _ := step["name"].(string)
			if name == "" {
				name = "unknown"
			}
			for _, f := range requiredStepFields {
				if _, ok := step[f]; !ok {
					v.Warnings = append(v.Warnings,
						fmt.Sprintf("Phase %d, workflow %d (%s) is missing '%s' field", i, j, name, f))
				}
			}
		}
	}
}
