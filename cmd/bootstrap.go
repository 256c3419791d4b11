package cmd

import (
	"fmt"
	"os"

	"github.com/RamXX/bmdash/internal/format"
	"github.com/spf13/cobra"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Parse the whole project and rebuild the snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject()
		if err != nil {
			return err
		}
		ps, err := p.orch.Bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOut {
			return format.JSON(os.Stdout, ps)
		}
		if !quiet {
			fmt.Printf("Bootstrapped %s: %d epic(s), %d story(ies), phase %s\n",
				ps.Project.Name, len(ps.Epics), len(ps.Stories), ps.Project.Phase)
			for _, e := range ps.Errors {
				errorf("%s", e)
			}
		}
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Re-parse only what changed since the last snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject()
		if err != nil {
			return err
		}
		r, err := p.orch.Sync(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOut {
			return format.JSON(os.Stdout, r)
		}
		if quiet {
			return nil
		}
		switch {
		case r.Bootstrapped:
			fmt.Println("No snapshot found; bootstrapped.")
		case !r.Changed():
			fmt.Println("Up to date.")
		default:
			fmt.Printf("Synced: %d reparsed, %d added, %d removed, %d stubbed, %d touched\n",
				len(r.Reparsed), len(r.Added), len(r.Removed), len(r.Stubbed), len(r.Touched))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(syncCmd)
}
