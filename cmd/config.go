package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/RamXX/bmdash/internal/format"
	"github.com/RamXX/bmdash/internal/store"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the project's " + store.ConfigFile,
}

type configEntry struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Default bool   `json:"default"`
}

// configEntries pairs each effective value with whether it is still the
// built-in default.
func configEntries(s *store.Store) []configEntry {
	defaults := make(map[string]string)
	for _, e := range (store.Config{}).Entries() {
		defaults[e[0]] = e[1]
	}
	var out []configEntry
	for _, e := range s.ConfigEntries() {
		out = append(out, configEntry{Key: e[0], Value: e[1], Default: defaults[e[0]] == e[1]})
	}
	return out
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the effective value of a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(resolveRoot())
		if err != nil {
			return err
		}
		val, err := s.GetConfigValue(args[0])
		if err != nil {
			return err
		}
		if jsonOut {
			return format.JSON(os.Stdout, map[string]string{args[0]: val})
		}
		fmt.Println(val)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Validate and store a value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(resolveRoot())
		if err != nil {
			return err
		}
		prev, err := s.GetConfigValue(args[0])
		if err != nil {
			return err
		}
		if err := s.SetConfigValue(args[0], args[1]); err != nil {
			return err
		}
		cur, _ := s.GetConfigValue(args[0])
		if !quiet {
			if prev == cur {
				fmt.Printf("%s unchanged (%s)\n", args[0], cur)
			} else {
				fmt.Printf("%s: %s -> %s\n", args[0], prev, cur)
			}
		}
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List effective values, marking defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(resolveRoot())
		if err != nil {
			return err
		}
		entries := configEntries(s)
		if jsonOut {
			return format.JSON(os.Stdout, entries)
		}
		for _, e := range entries {
			line := fmt.Sprintf("%-22s %s", e.Key, e.Value)
			if e.Default && e.Value != "" {
				line += "  (default)"
			}
			fmt.Println(line)
		}
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default " + store.ConfigFile + " and create the artifacts directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := rootDir
		if dir == "" {
			dir = "."
		}
		if _, err := os.Stat(filepath.Join(dir, store.ConfigFile)); err == nil {
			return fmt.Errorf("already initialized: %s exists in %s", store.ConfigFile, dir)
		}
		s, err := store.Init(dir)
		if err != nil {
			return err
		}
		if !quiet {
			fmt.Printf("Initialized bmdash at %s\n", s.Root())
			fmt.Printf("Story documents go in %s\n", s.ArtifactsPath())
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configGetCmd, configSetCmd, configListCmd)
	rootCmd.AddCommand(configCmd, initCmd)
}
