package cmd

import (
	"fmt"
	"os"

	"github.com/RamXX/bmdash/internal/format"
	"github.com/RamXX/bmdash/internal/idgen"
	"github.com/RamXX/bmdash/internal/model"
	"github.com/RamXX/bmdash/internal/parser"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stories",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		epic, _ := cmd.Flags().GetString("epic")
		gapsOnly, _ := cmd.Flags().GetBool("gaps")
		showAll, _ := cmd.Flags().GetBool("all")

		var want model.Status
		if status != "" {
			st, err := model.ParseStatus(status)
			if err != nil {
				return err
			}
			want = st
		}
		epicNum := 0
		if epic != "" {
			n, ok := idgen.EpicNumber(epic)
			if !ok {
				return fmt.Errorf("invalid --epic %q", epic)
			}
			epicNum = n
		}

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

		var stories []*model.Story
		for _, s := range ps.OrderedStories() {
			switch {
			case want != "" && s.Status != want:
				continue
			case want == "" && !showAll && s.Status.IsDone() && len(s.Gaps) == 0:
				continue
			case epicNum != 0 && s.Epic != epicNum:
				continue
			case gapsOnly && len(s.Gaps) == 0:
				continue
			}
			stories = append(stories, s)
		}

		if jsonOut {
			return format.JSON(os.Stdout, stories)
		}
		format.Table(os.Stdout, stories)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show story detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		short, _ := cmd.Flags().GetBool("short")
		body, _ := cmd.Flags().GetBool("body")

		p, err := openProject()
		if err != nil {
			return err
		}
		if err := p.loadState(cmd.Context()); err != nil {
			return err
		}
		s, err := p.orch.GetStory(args[0])
		if err != nil {
			return err
		}
		if body && s.FilePath != "" {
			if data, err := os.ReadFile(s.FilePath); err == nil {
				if _, b, err := parser.SplitFrontmatter(string(data), s.FilePath); err == nil {
					s.Body = b
				} else {
					s.Body = string(data)
				}
			}
		}

		if jsonOut {
			return format.JSON(os.Stdout, s)
		}
		if short {
			format.Short(os.Stdout, s)
			return nil
		}
		format.Detail(os.Stdout, s, body)
		return nil
	},
}

func init() {
	listCmd.Flags().StringP("status", "s", "", "filter by status")
	listCmd.Flags().StringP("epic", "e", "", "filter by epic number")
	listCmd.Flags().Bool("gaps", false, "only stories with workflow gaps")
	listCmd.Flags().Bool("all", false, "include done stories without gaps")
	showCmd.Flags().Bool("short", false, "one-line summary")
	showCmd.Flags().Bool("body", false, "render the story document")
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
}
