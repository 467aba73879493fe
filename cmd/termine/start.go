package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/msw-projects/termine/internal/api"
	"github.com/msw-projects/termine/internal/config"
	"github.com/msw-projects/termine/internal/reddit"
	"github.com/msw-projects/termine/internal/responder"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Listen for !termin comments and reply to them (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		serve, _ := cmd.Flags().GetBool("serve")
		return runStart(cmd.Context(), serve)
	},
}

func init() {
	startCmd.Flags().Bool("serve", false, "also serve the query API on server.port")
}

func runStart(ctx context.Context, serve bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.cfg.ValidateReddit(); err != nil {
		return err
	}

	a.logger.Info("starting termine", "version", version, "dry_run", dryRun, "restart", restart)

	evicted, err := a.store.EvictExpired(a.cfg.Cache.Retention)
	if err != nil {
		return fmt.Errorf("evicting expired cache entries: %w", err)
	}
	a.logger.Info("evicted expired cache entries",
		"events", evicted.Events, "responses", evicted.Responses, "retention", a.cfg.Cache.Retention)

	resp := responder.New(a.store, a.resolver, responder.Options{DryRun: dryRun, Logger: a.logger})
	client := reddit.New(ctx, reddit.Config{
		ClientID:     a.cfg.Reddit.ClientID,
		ClientSecret: a.cfg.Reddit.ClientSecret,
		Username:     a.cfg.Reddit.Username,
		Password:     a.cfg.Reddit.Password,
		UserAgent:    a.cfg.Reddit.UserAgent,
		PollInterval: a.cfg.Reddit.PollInterval,
	}, a.logger)

	listen := func(ctx context.Context) error {
		return client.StreamComments(ctx, a.cfg.Reddit.SubredditList(), func(ctx context.Context, c *reddit.Comment) error {
			outcome, err := resp.Handle(ctx, c)
			if outcome == responder.Aborted {
				return nil
			}
			if err != nil {
				a.logger.Error("handling comment", "comment_id", c.ID(), "outcome", outcome, "error", err)
				return nil
			}
			if outcome != responder.Ignored {
				a.logger.Debug("comment handled", "comment_id", c.ID(), "subreddit", c.Subreddit, "outcome", outcome)
			}
			return nil
		})
	}

	if !serve {
		return runWithRestart(ctx, a.logger, a.cfg.Restart, restart, listen)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runWithRestart(gctx, a.logger, a.cfg.Restart, restart, listen)
	})
	g.Go(func() error {
		handler := api.NewHandler(api.Deps{
			Companies: a.store,
			Resolver:  a.resolver,
			Token:     a.cfg.Server.Token,
			Logger:    a.logger,
		})
		return serveHTTP(gctx, a.logger, fmt.Sprintf("127.0.0.1:%d", a.cfg.Server.Port), handler)
	})
	return g.Wait()
}

// runWithRestart runs fn until it succeeds or ctx is cancelled. When enabled,
// a failed run is retried after rc.Delay, at most rc.Max times (0 means
// no limit).
func runWithRestart(ctx context.Context, logger *slog.Logger, rc config.RestartConfig, enabled bool, fn func(context.Context) error) error {
	restarts := 0
	for {
		err := fn(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		if !enabled {
			return fmt.Errorf("listener failed: %w", err)
		}
		if rc.Max > 0 && restarts >= rc.Max {
			return fmt.Errorf("listener failed after %d restarts: %w", restarts, err)
		}

		restarts++
		logger.Warn("listener failed, restarting", "error", err, "delay", rc.Delay, "attempt", restarts)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(rc.Delay):
		}
	}
}
