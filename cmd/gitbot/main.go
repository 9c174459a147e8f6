// Command gitbot runs the autonomous GitLab mention bot: it polls a fixed
// set of projects for @-mentions, stale issues, and unlabeled issues, and
// replies, labels, and triages them without a human in the loop.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gitbot",
		Short: "An autonomous GitLab mention bot",
		Long:  `gitbot polls GitLab projects for bot mentions, stale issues, and unlabeled issues, and responds to each without human intervention.`,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show gitbot's version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gitbot %s\n", version)
			if buildTime != "unknown" {
				fmt.Printf("Built: %s\n", buildTime)
			}
		},
	}
}
