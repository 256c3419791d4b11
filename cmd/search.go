package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/RamXX/bmdash/internal/format"
	"github.com/RamXX/bmdash/internal/idgen"
	"github.com/RamXX/bmdash/internal/model"
	"github.com/RamXX/bmdash/internal/store"
	"github.com/RamXX/bmdash/internal/ui"
	"github.com/RamXX/vlt"
	"github.com/spf13/cobra"
)

type searchHit struct {
	Story   string   `json:"story,omitempty"`
	File    string   `json:"file"`
	Line    int      `json:"line"`
	Context []string `json:"context,omitempty"`
}

// storyFor maps a story document path to its story ID.
func storyFor(file string) string {
	key := strings.TrimSuffix(filepath.Base(file), ".md")
	e, s, _, ok := idgen.ParseStoryKey(key)
	if !ok {
		return ""
	}
	return idgen.StoryID(e, s)
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search across story documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		all, _ := cmd.Flags().GetBool("all")
		lines, _ := cmd.Flags().GetInt("context")

		p, err := openProject()
		if err != nil {
			return err
		}
		if p.store.Vault() == nil {
			return errors.New("no " + store.OutputDir + " directory in " + p.store.Root())
		}
		path := store.ArtifactsDir
		if all {
			path = ""
		}
		results, err := p.store.Vault().SearchWithContext(vlt.SearchOptions{
			Query:    query,
			Path:     path,
			ContextN: lines,
		})
		if err != nil {
			return err
		}

		hits := make([]searchHit, 0, len(results))
		for _, m := range results {
			hits = append(hits, searchHit{Story: storyFor(m.File), File: m.File, Line: m.Line, Context: m.Context})
		}
		if jsonOut {
			return format.JSON(os.Stdout, hits)
		}
		if len(hits) == 0 {
			fmt.Println("No matches.")
			return nil
		}

		// Story labels are best effort; search works without a snapshot.
		var ps *model.ProjectState
		if st, err := p.orch.State(); err == nil {
			ps = st
		}
		prev := ""
		for _, h := range hits {
			if h.File != prev {
				if prev != "" {
					fmt.Println()
				}
				header := h.File
				if h.Story != "" {
					header = ui.RenderBold("Story "+h.Story) + "  " + ui.RenderMuted(h.File)
					if ps != nil {
						if s, ok := ps.Stories[h.Story]; ok {
							header += "  " + ui.RenderStatus(s.Status)
						}
					}
				}
				fmt.Println(header)
				prev = h.File
			}
			fmt.Printf("  %d:\n", h.Line)
			for _, line := range h.Context {
				fmt.Printf("    %s\n", line)
			}
		}
		fmt.Printf("\n%d match(es)\n", len(hits))
		return nil
	},
}

func init() {
	searchCmd.Flags().Bool("all", false, "search every BMAD output, not only implementation artifacts")
	searchCmd.Flags().Int("context", 2, "lines of context around each match")
	rootCmd.AddCommand(searchCmd)
}
