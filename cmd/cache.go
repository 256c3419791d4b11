package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/RamXX/bmdash/internal/format"
	"github.com/RamXX/bmdash/internal/idgen"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the evidence cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject()
		if err != nil {
			return err
		}
		st := p.cache.Stats()
		if jsonOut {
			return format.JSON(os.Stdout, st)
		}
		fmt.Printf("Path:    %s\n", st.Path)
		if !st.FileExists {
			fmt.Println("Cache:   empty (no file)")
			return nil
		}
		fmt.Printf("Entries: %d\n", st.Entries)
		if st.UpdatedAt != nil {
			fmt.Printf("Age:     %s\n", format.Age(st.Age))
		}
		statuses := make([]string, 0, len(st.ByStatus))
		for s := range st.ByStatus {
			statuses = append(statuses, s)
		}
		sort.Strings(statuses)
		for _, s := range statuses {
			fmt.Printf("  %-14s %d\n", s, st.ByStatus[s])
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the evidence cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject()
		if err != nil {
			return err
		}
		if err := p.cache.Clear(); err != nil {
			return err
		}
		if !quiet {
			fmt.Println("Cache cleared.")
		}
		return nil
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop cache entries for stories no longer in the project",
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
		ids := make([]string, 0, len(ps.Stories))
		for id := range ps.Stories {
			ids = append(ids, id)
		}
		n, err := p.cache.Prune(ids)
		if err != nil {
			return err
		}
		if !quiet {
			fmt.Printf("Pruned %d entr(ies).\n", n)
		}
		return nil
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <id>",
	Short: "Drop the cache entry for one story",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, ok := idgen.Normalize(args[0])
		if !ok {
			return fmt.Errorf("invalid story ID %q", args[0])
		}
		p, err := openProject()
		if err != nil {
			return err
		}
		ok, err = p.cache.Invalidate(id)
		if err != nil {
			return err
		}
		if !quiet {
			if ok {
				fmt.Printf("Invalidated %s.\n", id)
			} else {
				fmt.Printf("No cache entry for %s.\n", id)
			}
		}
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cachePruneCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
	rootCmd.AddCommand(cacheCmd)
}
