package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/RamXX/bmdash/internal/format"
	"github.com/RamXX/bmdash/internal/model"
	"github.com/RamXX/bmdash/internal/testev"
	"github.com/spf13/cobra"
)

var evidenceCmd = &cobra.Command{
	Use:   "evidence <id>",
	Short: "Show git and test evidence for a story",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		refresh, _ := cmd.Flags().GetBool("refresh")

		p, err := openProject()
		if err != nil {
			return err
		}
		if err := p.loadState(cmd.Context()); err != nil {
			return err
		}
		var s *model.Story
		if refresh {
			s, err = p.orch.RefreshEvidence(cmd.Context(), args[0])
		} else {
			s, err = p.orch.GetStory(args[0])
		}
		if err != nil {
			return err
		}
		if jsonOut {
			return format.JSON(os.Stdout, s.Evidence)
		}
		fmt.Printf("Story %s %s\n", s.ID, s.Title)
		format.Evidence(os.Stdout, s.Evidence)
		return nil
	},
}

var testsCmd = &cobra.Command{
	Use:   "tests",
	Short: "Manage manual test result overrides",
}

var testsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show overrides (all, or one story)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject()
		if err != nil {
			return err
		}
		ov := p.orch.Tests().Overrides()
		ids := ov.IDs()
		if len(args) == 1 {
			if _, ok := ov.Get(args[0]); !ok {
				return fmt.Errorf("no override for story %s", args[0])
			}
			ids = []string{args[0]}
		}
		out := make(map[string]testev.Override, len(ids))
		for _, id := range ids {
			o, _ := ov.Get(id)
			out[id] = o
		}
		if jsonOut {
			return format.JSON(os.Stdout, out)
		}
		if len(ids) == 0 {
			fmt.Println("No test overrides.")
			return nil
		}
		for _, id := range ids {
			o := out[id]
			fmt.Printf("%-6s %d passed, %d failed (set %s)", id, o.Passed, o.Failed, o.SetAt.Local().Format("2006-01-02 15:04"))
			if o.Note != "" {
				fmt.Printf(" - %s", o.Note)
			}
			fmt.Println()
			for _, f := range o.FailingTests {
				fmt.Printf("       FAIL %s\n", f)
			}
		}
		return nil
	},
}

var testsSetCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Record test results for a story by hand",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		passed, _ := cmd.Flags().GetInt("passed")
		failed, _ := cmd.Flags().GetInt("failed")
		failing, _ := cmd.Flags().GetStringSlice("failing")
		note, _ := cmd.Flags().GetString("note")

		p, err := openProject()
		if err != nil {
			return err
		}
		if err := p.loadState(cmd.Context()); err != nil {
			return err
		}
		if _, err := p.orch.GetStory(args[0]); err != nil {
			return err
		}
		o := testev.Override{Passed: passed, Failed: failed, FailingTests: failing, Note: note, SetAt: time.Now()}
		if err := p.orch.Tests().Overrides().Set(args[0], o); err != nil {
			return err
		}
		s, err := p.orch.RefreshEvidence(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOut {
			return format.JSON(os.Stdout, s.Evidence.Tests)
		}
		if !quiet {
			fmt.Printf("Story %s tests: %d passed, %d failed", s.ID, passed, failed)
			if len(failing) > 0 {
				fmt.Printf(" (%s)", strings.Join(failing, ", "))
			}
			fmt.Println()
		}
		return nil
	},
}

var testsClearCmd = &cobra.Command{
	Use:   "clear <id>",
	Short: "Remove a manual override and rediscover tests",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject()
		if err != nil {
			return err
		}
		removed, err := p.orch.Tests().Overrides().Clear(args[0])
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("no override for story %s", args[0])
		}
		if err := p.loadState(cmd.Context()); err != nil {
			return err
		}
		if _, err := p.orch.RefreshEvidence(cmd.Context(), args[0]); err != nil {
			return err
		}
		if !quiet {
			fmt.Printf("Cleared test override for story %s\n", args[0])
		}
		return nil
	},
}

func init() {
	evidenceCmd.Flags().Bool("refresh", false, "recompute evidence, bypassing the cache")
	testsSetCmd.Flags().Int("passed", 0, "number of passing tests")
	testsSetCmd.Flags().Int("failed", 0, "number of failing tests")
	testsSetCmd.Flags().StringSlice("failing", nil, "names of failing tests")
	testsSetCmd.Flags().String("note", "", "free-form note")
	testsCmd.AddCommand(testsShowCmd)
	testsCmd.AddCommand(testsSetCmd)
	testsCmd.AddCommand(testsClearCmd)
	rootCmd.AddCommand(evidenceCmd)
	rootCmd.AddCommand(testsCmd)
}
