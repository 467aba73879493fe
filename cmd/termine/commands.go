package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/msw-projects/termine/internal/api"
	"github.com/msw-projects/termine/internal/config"
	"github.com/msw-projects/termine/internal/responder"
	"github.com/msw-projects/termine/internal/storage"
)

// --- lookup ---

var lookupCmd = &cobra.Command{
	Use:   "lookup <identifier>...",
	Short: "Resolve identifiers and print the reply the bot would post",
	Long: `Resolve identifiers and print the reply the bot would post.

Examples:
  termine lookup AAPL
  termine lookup DE0007472060 865985`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		results := a.resolver.ResolveAll(cmd.Context(), args)
		for _, r := range results {
			if !r.OK() {
				printWarning("%s: %s", r.Token, r.Kind)
			}
		}
		writeReply(cmd.OutOrStdout(), responder.FormatReply(results))
		return nil
	},
}

// --- cache ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or prune the local cache",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete cached events and answered comments older than the retention",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		retention := a.cfg.Cache.Retention
		if cmd.Flags().Changed("retention") {
			retention, _ = cmd.Flags().GetDuration("retention")
		}

		printStep("Evicting entries older than %s", retention)
		evicted, err := a.store.EvictExpired(retention)
		if err != nil {
			return err
		}
		printSuccess("Removed %d events and %d answered comments", evicted.Events, evicted.Responses)
		return nil
	},
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached companies",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		companies, err := a.store.ListCompanies(limit)
		if err != nil {
			return err
		}
		return writeCompanies(cmd.OutOrStdout(), companies)
	},
}

func writeCompanies(w io.Writer, companies []storage.CompanySummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ISIN\tWKN\tSYMBOL\tEVENTS\tNAME")
	for _, c := range companies {
		symbol := c.Ticker
		if symbol == "" {
			symbol = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", c.NationalID, c.LocalCode, symbol, c.EventCount, c.Name)
	}
	return tw.Flush()
}

func init() {
	cachePruneCmd.Flags().Duration("retention", 0, "override cache.retention for this run")
	cacheListCmd.Flags().Int("limit", 50, "maximum number of companies to list")
	cacheCmd.AddCommand(cachePruneCmd)
	cacheCmd.AddCommand(cacheListCmd)
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a running query API",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return showStatus(cmd.Context(), client)
	},
}

func showStatus(ctx context.Context, client *apiClient) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := client.get(ctx, "/health")
	if err != nil {
		printError("query API not reachable at %s", client.baseURL)
		return err
	}
	var health map[string]string
	if err := decodeJSON(resp, &health); err != nil {
		return err
	}
	printStatus("API", "%s (%s)", colorize(colorGreen, health["status"]), client.baseURL)

	resp, err = client.get(ctx, "/companies?limit=500")
	if err != nil {
		return err
	}
	var companies []api.CompanyJSON
	if err := decodeJSON(resp, &companies); err != nil {
		return err
	}
	events := 0
	for _, c := range companies {
		if c.EventCount != nil {
			events += *c.EventCount
		}
	}
	printStatus("Cache", "%d companies, %d events", len(companies), events)
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) == 0 {
			return config.ValidKeys(), cobra.ShellCompDirectiveNoFileComp
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "termine version %s\n", version)
	},
}
