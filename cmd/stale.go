package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/RamXX/bmdash/internal/format"
	"github.com/RamXX/bmdash/internal/model"
	"github.com/spf13/cobra"
)

var staleCmd = &cobra.Command{
	Use:   "stale",
	Short: "List active stories without recent activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		cutoff := time.Now().UTC().AddDate(0, 0, -days)

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
			if !s.Status.IsActive() {
				continue
			}
			if lastActivity(s).Before(cutoff) {
				stories = append(stories, s)
			}
		}

		if jsonOut {
			return format.JSON(os.Stdout, stories)
		}
		if len(stories) == 0 {
			fmt.Printf("No stale stories (threshold: %d days).\n", days)
			return nil
		}
		format.Table(os.Stdout, stories)
		return nil
	},
}

// lastActivity is the newer of the last correlated commit and the
// document mtime.
func lastActivity(s *model.Story) time.Time {
	last := s.Mtime
	if g := s.Evidence.Git; g != nil && g.LastCommit != nil && g.LastCommit.After(last) {
		last = *g.LastCommit
	}
	return last
}

func init() {
	staleCmd.Flags().Int("days", 7, "days without commits or edits to consider stale")
	rootCmd.AddCommand(staleCmd)
}
