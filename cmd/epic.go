package cmd

import (
	"fmt"
	"os"

	"github.com/RamXX/bmdash/internal/format"
	"github.com/spf13/cobra"
)

var epicCmd = &cobra.Command{
	Use:   "epic [id]",
	Short: "List epics or show one epic with its stories",
	Args:  cobra.MaximumNArgs(1),
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

		if len(args) == 0 {
			epics := ps.OrderedEpics()
			if jsonOut {
				return format.JSON(os.Stdout, epics)
			}
			format.Epics(os.Stdout, epics)
			return nil
		}

		e, ok := ps.Epic(args[0])
		if !ok {
			return fmt.Errorf("epic %s not found", args[0])
		}
		if jsonOut {
			return format.JSON(os.Stdout, struct {
				Epic    any `json:"epic"`
				Stories any `json:"stories"`
			}{e, e.Stories})
		}
		format.EpicTree(os.Stdout, e)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(epicCmd)
}
