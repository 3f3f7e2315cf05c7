// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memorg-dev/memorg/internal/engine"
	"github.com/memorg-dev/memorg/internal/window"
)

type turnOutput struct {
	SessionID   string             `json:"session_id"`
	State       window.State       `json:"state"`
	Budget      int                `json:"budget"`
	Payload     string             `json:"payload"`
	Composition window.Composition `json:"composition"`
	Skipped     int                `json:"skipped"`
	Reply       string             `json:"reply,omitempty"`
	ExchangeID  string             `json:"exchange_id,omitempty"`
}

func (c *cli) newTurnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "turn <session-id> <message>",
		Short: "Assemble the context window for a message, optionally generating a reply",
		Long: "Assemble the context window for a message within a token budget. " +
			"With --respond the configured generator answers and the exchange is recorded under --topic.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, budget, respond, err := turnFlags(cmd)
			if err != nil {
				return err
			}
			sessionID, msg := args[0], strings.Join(args[1:], " ")

			return c.withApp(func(app *App) error {
				ctx := cmd.Context()
				var out turnOutput
				if respond {
					res, err := app.Engine.Respond(ctx, sessionID, msg, budget, opts)
					if err != nil {
						return err
					}
					out = newTurnOutput(res.Turn)
					out.Reply = res.Reply
					out.ExchangeID = res.Exchange.ID
				} else {
					tc, err := app.Engine.PrepareTurnContext(ctx, sessionID, msg, budget, opts)
					if err != nil {
						return err
					}
					out = newTurnOutput(tc)
				}

				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), out)
				}
				return printTurn(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().String("topic", "", "topic the message belongs to")
	cmd.Flags().Int("budget", 0, "token budget (0 uses the session default)")
	cmd.Flags().String("scope", "", "retrieval scope (defaults to the session)")
	cmd.Flags().StringSlice("pin", nil, "entities that must appear, as <kind>:<id>")
	cmd.Flags().Int("top-k", 0, "retrieval candidates (0 uses turn.top_k)")
	cmd.Flags().Bool("respond", false, "generate a reply and record the exchange")
	return cmd
}

func turnFlags(cmd *cobra.Command) (engine.TurnOptions, int, bool, error) {
	var opts engine.TurnOptions
	opts.TopicID, _ = cmd.Flags().GetString("topic")
	opts.TopK, _ = cmd.Flags().GetInt("top-k")
	budget, _ := cmd.Flags().GetInt("budget")
	respond, _ := cmd.Flags().GetBool("respond")

	if raw, _ := cmd.Flags().GetString("scope"); raw != "" {
		scope, err := parseScope(raw)
		if err != nil {
			return opts, 0, false, err
		}
		opts.Scope = scope
	}
	pins, _ := cmd.Flags().GetStringSlice("pin")
	for _, p := range pins {
		ref, err := parseRef(p)
		if err != nil {
			return opts, 0, false, err
		}
		opts.Pinned = append(opts.Pinned, ref)
	}
	return opts, budget, respond, nil
}

func newTurnOutput(tc *engine.TurnContext) turnOutput {
	return turnOutput{
		SessionID:   tc.SessionID,
		State:       tc.State,
		Budget:      tc.Budget,
		Payload:     tc.Payload.Text,
		Composition: tc.Payload.Composition,
		Skipped:     len(tc.Allocation.Skipped),
	}
}

func printTurn(w io.Writer, out turnOutput) error {
	comp := out.Composition
	_, _ = fmt.Fprintln(w, out.Payload)
	_, _ = fmt.Fprintln(w, strings.Repeat("-", 40))
	_, _ = fmt.Fprintf(w, "state=%s tokens=%d/%d items=%d compressed=%d summary_only=%d pinned=%d skipped=%d ratio=%.2f\n",
		comp.State, comp.Tokens, out.Budget, comp.Items, comp.Compressed, comp.SummaryOnly, comp.Pinned, out.Skipped, comp.Ratio)
	for _, s := range comp.Sections {
		_, _ = fmt.Fprintf(w, "  %-18s items=%d tokens=%d\n", s.Name, s.Items, s.Tokens)
	}
	if out.Reply != "" {
		_, _ = fmt.Fprintf(w, "\nreply (%s):\n%s\n", out.ExchangeID, out.Reply)
	}
	return nil
}
