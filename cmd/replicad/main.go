package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "replicad",
		Short: "Replicated settings for background, ui and page roles",
		Long: `replicad keeps one settings snapshot consistent across three roles.

The background role runs the hub, owns the durable store and refreshes
remote selectors. ui and page roles attach over websockets and receive
every change. The remaining commands talk to a running background.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (REPLICA_* env vars override it)")

	rootCmd.AddCommand(
		serveCmd(),
		attachCmd(),
		getCmd(),
		setCmd(),
		resetCmd(),
		refreshCmd(),
		evalCmd(),
		optionsCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "replicad %s (%s)\n", version, commit)
		},
	}
}
