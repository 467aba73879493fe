package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	verbose bool
	dryRun  bool
	restart bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "termine",
	Short: "Reddit bot answering !termin requests with upcoming company events",
	Long: `termine watches subreddits for comments containing "!termin <identifier>"
or "!termine <identifier>" and replies with the upcoming events (earnings,
dividends, general meetings) of the requested companies.

Identifiers are ticker symbols, ISINs or WKNs. Without a subcommand the
listener is started, as with "termine start".`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart(cmd.Context(), false)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "d", false, "compute replies without posting or registering them")
	rootCmd.PersistentFlags().BoolVarP(&restart, "restart", "r", false, "restart the listener after a failure")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")

	rootCmd.AddCommand(startCmd, serveCmd, mcpCmd, lookupCmd, cacheCmd, statusCmd, configCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError("%v", err)
		stop()
		os.Exit(1)
	}
}
