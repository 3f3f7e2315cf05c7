// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/memorg-dev/memorg/internal/memory"
	"github.com/memorg-dev/memorg/internal/store"
)

func (c *cli) newTierCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tier",
		Short: "Run a tiering pass: rescore, demote and refresh summaries",
		Long: "Run one tiering pass over every session, or a single session with --session. " +
			"With --watch the pass repeats on tiering.schedule until interrupted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessionID, _ := cmd.Flags().GetString("session")
			watch, _ := cmd.Flags().GetBool("watch")

			return c.withApp(func(app *App) error {
				ctx := cmd.Context()
				if watch {
					ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
					defer stop()
					app.Scheduler.Start()
					c.logger.Info("watching; interrupt to stop", "schedule", c.cfg.Tiering.Schedule)
					<-ctx.Done()
					return nil
				}

				var (
					rep memory.Report
					err error
				)
				if sessionID != "" {
					rep, err = app.Memory.TierSession(ctx, sessionID)
				} else {
					rep, err = app.Scheduler.RunOnce(ctx)
				}
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), rep)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "sessions=%d rescored=%d warmed=%d cooled=%d summaries=%d\n",
					rep.Sessions, rep.Rescored, rep.Warmed, rep.Cooled, rep.Summaries)
				return err
			})
		},
	}
	cmd.Flags().String("session", "", "limit the pass to one session")
	cmd.Flags().Bool("watch", false, "keep running passes on the configured schedule")
	return cmd
}

func (c *cli) newPromoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promote <entity-id>",
		Short: "Restore an entity to the hot tier, recovering archived verbatim content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rawScope, _ := cmd.Flags().GetString("scope")
			scope, err := parseScope(rawScope)
			if err != nil {
				return err
			}
			return c.withApp(func(app *App) error {
				ref, err := app.Memory.Promote(cmd.Context(), scope, args[0])
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), ref)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "promoted %s %s to %s\n", ref.Kind, ref.ID, store.TierHot)
				return err
			})
		},
	}
	cmd.Flags().String("scope", "all", "scope the entity must belong to")
	return cmd
}

func (c *cli) newUsageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "usage <session-id>",
		Short: "Show memory usage statistics for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(app *App) error {
				u, err := app.Memory.Usage(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), u)
				}
				rows := [][]string{
					{"conversations", fmt.Sprint(u.Conversations)},
					{"topics", fmt.Sprint(u.Topics)},
					{"exchanges (hot)", fmt.Sprint(u.Exchanges[store.TierHot])},
					{"exchanges (warm)", fmt.Sprint(u.Exchanges[store.TierWarm])},
					{"exchanges (cold)", fmt.Sprint(u.Exchanges[store.TierCold])},
					{"summaries", fmt.Sprint(u.Summaries)},
					{"verbatim tokens", fmt.Sprint(u.VerbatimTokens)},
					{"summary tokens", fmt.Sprint(u.SummaryTokens)},
					{"vectors", fmt.Sprint(u.VectorCount)},
					{"archived entries", fmt.Sprint(u.ArchivedEntries)},
				}
				return table(cmd.OutOrStdout(), "METRIC\tVALUE", rows)
			})
		},
	}
}
