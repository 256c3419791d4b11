package cmd

import (
	"os"

	"github.com/RamXX/bmdash/internal/format"
	"github.com/spf13/cobra"
)

var gapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "List stories whose workflow history has gaps",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject()
		if err != nil {
			return err
		}
		if err := p.loadState(cmd.Context()); err != nil {
			return err
		}
		gaps, err := p.orch.DetectWorkflowGaps()
		if err != nil {
			return err
		}
		if jsonOut {
			return format.JSON(os.Stdout, gaps)
		}
		format.Gaps(os.Stdout, gaps)
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <id>",
	Short: "Check whether a story is complete",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject()
		if err != nil {
			return err
		}
		if err := p.loadState(cmd.Context()); err != nil {
			return err
		}
		r, err := p.orch.ValidateStory(args[0])
		if err != nil {
			return err
		}
		if jsonOut {
			return format.JSON(os.Stdout, r)
		}
		format.Validation(os.Stdout, r)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(gapsCmd)
	rootCmd.AddCommand(validateCmd)
}
