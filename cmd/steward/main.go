package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/stewardproject/steward/internal/common/logging"
	"github.com/stewardproject/steward/internal/common/output"
)

var (
	verbose bool
	quiet   bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "steward",
	Short: "Managed software client tools",
	Long:  `Tools for checking a software repository for managed installs, inspecting installer items, and importing them into a repository.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logging.SetVerbose(true)
		}
		if quiet {
			logging.SetQuiet(true)
		}
		if noColor {
			output.NoColor()
		}
	},
}

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Work with a software repository",
	Long:  `Commands that operate on a software repository: importing installer items and their metadata.`,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-error output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(repoCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
