package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// RunFlags holds flags for the run command.
type RunFlags struct {
	ConfigPath string
	APIAddr    string
	APIBase    string
}

// CheckFlags holds flags for the check command.
type CheckFlags struct {
	ConfigPath string
}

// ZombieFlags holds flags for the zombies command.
type ZombieFlags struct {
	ConfigPath  string
	JournalPath string
	Kill        bool
}

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "harness",
		Short:         "Start, supervise and clean up external service processes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var rf RunFlags
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start all configured services and supervise until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServices(cmd.Context(), rf)
		},
	}
	runCmd.Flags().StringVarP(&rf.ConfigPath, "config", "c", "", "path to TOML config (required)")
	runCmd.Flags().StringVar(&rf.APIAddr, "api", "", "listen address for the status API, empty disables")
	runCmd.Flags().StringVar(&rf.APIBase, "api-base", "", "base path for the status API")
	_ = runCmd.MarkFlagRequired("config")

	var cf CheckFlags
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a config file without starting anything",
		RunE: func(_ *cobra.Command, _ []string) error {
			return checkConfig(cf)
		},
	}
	checkCmd.Flags().StringVarP(&cf.ConfigPath, "config", "c", "", "path to TOML config (required)")
	_ = checkCmd.MarkFlagRequired("config")

	var zf ZombieFlags
	zombiesCmd := &cobra.Command{
		Use:   "zombies",
		Short: "List (and optionally kill) processes left behind by dead runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listZombies(cmd.Context(), zf)
		},
	}
	zombiesCmd.Flags().StringVarP(&zf.ConfigPath, "config", "c", "", "path to TOML config (journal path is taken from it)")
	zombiesCmd.Flags().StringVar(&zf.JournalPath, "journal", "", "journal path, overrides the config")
	zombiesCmd.Flags().BoolVar(&zf.Kill, "kill", false, "kill stale processes instead of only listing them")

	root.AddCommand(runCmd, checkCmd, zombiesCmd)
	return root
}

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
