package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/RamXX/bmdash/internal/enforce"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the snapshot against the artifacts on disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		fix, _ := cmd.Flags().GetBool("fix")

		p, err := openProject()
		if err != nil {
			return err
		}
		if err := p.loadState(cmd.Context()); err != nil {
			return err
		}
		ps, err := p.orch.State()
		if err != nil {
			return err
		}

		problems := 0
		stale := false
		report := func(tag, format string, args ...any) {
			fmt.Printf("[%s] %s\n", tag, fmt.Sprintf(format, args...))
			problems++
		}

		// Check 1: Snapshot freshness by content hash.
		for _, s := range ps.OrderedStories() {
			if s.IsStub() {
				continue
			}
			got, err := enforce.HashFile(s.FilePath)
			if err != nil {
				report("MISSING", "%s: document %s is gone", s.ID, s.FilePath)
				stale = true
				continue
			}
			if got != s.ContentHash {
				report("HASH", "%s: document changed since last sync", s.ID)
				stale = true
			}
		}

		// Check 2: Story documents not declared in the sprint status.
		known := make(map[string]bool, len(ps.Stories))
		for _, s := range ps.Stories {
			known[s.Key] = true
			if s.FilePath != "" {
				known[strings.TrimSuffix(filepath.Base(s.FilePath), ".md")] = true
			}
		}
		files, err := p.store.StoryFiles()
		if err != nil {
			return err
		}
		for _, f := range files {
			if key := strings.TrimSuffix(filepath.Base(f), ".md"); !known[key] {
				report("ORPHAN", "%s is not listed in %s", filepath.Base(f), p.store.SprintStatusPath())
			}
		}

		// Check 3: Parse errors.
		for _, e := range ps.Errors {
			report("PARSE", "%s", e)
		}
		for _, s := range ps.OrderedStories() {
			if s.ParseError != "" {
				report("PARSE", "%s: %s", s.ID, s.ParseError)
			}
		}

		// Check 4: Workflow status file.
		if wv := ps.WorkflowValidation; wv != nil && !wv.Valid {
			for _, e := range wv.Errors {
				report("WORKFLOW", "%s", e)
			}
		}

		// Check 5: Workflow steps run out of order.
		for _, s := range ps.OrderedStories() {
			if r := enforce.ValidateStory(s); len(r.OutOfOrder) > 0 {
				report("ORDER", "%s: %s", s.ID, strings.Join(r.OutOfOrder, ", "))
			}
		}

		// Check 6: Cache entries for stories that no longer exist.
		var orphans []string
		for _, id := range p.cache.IDs() {
			if _, ok := ps.Stories[id]; !ok {
				orphans = append(orphans, id)
			}
		}
		if len(orphans) > 0 {
			report("CACHE", "cache holds entries for unknown stories: %s", strings.Join(orphans, ", "))
			if fix {
				ids := make([]string, 0, len(ps.Stories))
				for id := range ps.Stories {
					ids = append(ids, id)
				}
				if n, err := p.cache.Prune(ids); err != nil {
					errorf("prune cache: %v", err)
				} else {
					fmt.Printf("  -> pruned %d\n", n)
				}
			}
		}

		if fix && stale {
			r, err := p.orch.Sync(cmd.Context())
			if err != nil {
				errorf("sync: %v", err)
			} else {
				fmt.Printf("  -> synced (%d reparsed, %d stubbed)\n", len(r.Reparsed), len(r.Stubbed))
			}
		}

		if problems == 0 {
			fmt.Printf("All %d stories passed.\n", len(ps.Stories))
		} else {
			action := "found"
			if fix {
				action = "fixed where possible"
			}
			fmt.Printf("\n%d problem(s) %s across %d stories.\n", problems, action, len(ps.Stories))
		}
		return nil
	},
}

func init() {
	doctorCmd.Flags().Bool("fix", false, "sync stale stories and prune the cache")
	rootCmd.AddCommand(doctorCmd)
}
