package cmd

import (
	"fmt"
	"os"

	"github.com/RamXX/bmdash/internal/format"
	"github.com/RamXX/bmdash/internal/gitlog"
	"github.com/RamXX/bmdash/internal/state"
	"github.com/spf13/cobra"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print a plain-text project overview for context injection",
	RunE: func(cmd *cobra.Command, args []string) error {
		recent, _ := cmd.Flags().GetInt("recent")
		ctx := cmd.Context()

		p, err := openProject()
		if err != nil {
			return err
		}
		if _, err := p.orch.Sync(ctx); err != nil {
			return err
		}
		ps, err := p.orch.State()
		if err != nil {
			return err
		}

		opts := state.SummaryOptions{RecentDone: recent}
		git := gitlog.CLI{Dir: p.store.Root(), Timeout: gitlog.DefaultTimeout}
		if clean, changed, err := git.WorkingTree(ctx); err == nil {
			opts.Tree = &state.WorkingTree{Clean: clean, Changed: changed}
		} else {
			p.log.Debug("working tree unavailable", "err", err)
		}

		if jsonOut {
			return format.JSON(os.Stdout, map[string]string{"summary": state.Summarize(ps, opts)})
		}
		fmt.Print(state.Summarize(ps, opts))
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show project statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
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
		st := format.ComputeStats(ps)
		if jsonOut {
			return format.JSON(os.Stdout, st)
		}
		format.PrintStats(os.Stdout, st)
		return nil
	},
}

func init() {
	summaryCmd.Flags().Int("recent", 5, "recently completed stories to check for evidence gaps")
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(statsCmd)
}
