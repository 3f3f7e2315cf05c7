// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/memorg-dev/memorg/internal/provider"
	"github.com/memorg-dev/memorg/pkg/health"
)

const pingText = "memorg status check"

// collaboratorStatus is one collaborator's health as reported by status.
type collaboratorStatus struct {
	health.Metrics
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	Error    string `json:"error,omitempty"`
}

type statusOutput struct {
	Backend       string               `json:"backend"`
	DataDir       string               `json:"data_dir,omitempty"`
	TokenCounter  string               `json:"token_counter"`
	Collaborators []collaboratorStatus `json:"collaborators"`
}

// Ping sends one minimal request to every configured collaborator so
// their health trackers reflect reachability. Failures are keyed by role.
func (a *App) Ping(ctx context.Context) map[string]error {
	failed := make(map[string]error)
	if _, err := a.Embedder.Embed(ctx, []string{pingText}); err != nil {
		failed["embedder"] = err
	}
	if a.Generator != nil {
		_, err := a.Generator.Generate(ctx, provider.GenerateRequest{
			Model:    a.Config.Collaborators.Generator.Model,
			Messages: []provider.Message{{Role: provider.MessageRoleUser, Content: pingText}},
			Options:  provider.GenerateOptions{MaxTokens: 1},
		})
		if err != nil {
			failed["generator"] = err
		}
	}
	if _, err := a.Analyzer.Analyze(ctx, pingText); err != nil {
		failed["analyzer"] = err
	}
	return failed
}

// HealthReport snapshots every tracked collaborator, ordered by role.
func (a *App) HealthReport() []health.Metrics {
	roles := make([]string, 0, len(a.Health))
	for role := range a.Health {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	out := make([]health.Metrics, 0, len(roles))
	for _, role := range roles {
		m := a.Health[role].Metrics()
		m.Collaborator = role
		out = append(out, m)
	}
	return out
}

func (c *cli) newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show storage and collaborator health",
		Long: "Ping every configured collaborator with a minimal request and report " +
			"its health alongside the storage configuration. --offline reports without calling out.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			offline, _ := cmd.Flags().GetBool("offline")

			return c.withApp(func(app *App) error {
				var failed map[string]error
				if !offline {
					failed = app.Ping(cmd.Context())
				}
				out := newStatusOutput(app, failed)
				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), out)
				}
				return printStatus(cmd, out)
			})
		},
	}
	cmd.Flags().Bool("offline", false, "report without calling collaborators")
	return cmd
}

func newStatusOutput(app *App, failed map[string]error) statusOutput {
	cfg := app.Config
	out := statusOutput{
		Backend:      cfg.Storage.Backend,
		DataDir:      cfg.DataDir,
		TokenCounter: cfg.Tokens.Counter,
	}
	roles := map[string]struct{ provider, model string }{
		"embedder":  {cfg.Collaborators.Embedder.Provider, cfg.Collaborators.Embedder.Model},
		"generator": {cfg.Collaborators.Generator.Provider, cfg.Collaborators.Generator.Model},
		"analyzer":  {cfg.Collaborators.Analyzer.Provider, cfg.Collaborators.Analyzer.Model},
	}
	for _, m := range app.HealthReport() {
		st := collaboratorStatus{
			Metrics:  m,
			Provider: roles[m.Collaborator].provider,
			Model:    roles[m.Collaborator].model,
		}
		if err := failed[m.Collaborator]; err != nil {
			st.Error = err.Error()
		}
		out.Collaborators = append(out.Collaborators, st)
	}
	return out
}

func printStatus(cmd *cobra.Command, out statusOutput) error {
	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(w, "backend: %s\n", out.Backend)
	if out.DataDir != "" {
		_, _ = fmt.Fprintf(w, "data dir: %s\n", out.DataDir)
	}
	_, _ = fmt.Fprintf(w, "token counter: %s\n\n", out.TokenCounter)

	rows := make([][]string, 0, len(out.Collaborators))
	for _, st := range out.Collaborators {
		last, until := "-", "-"
		if st.LastFailureAt != nil {
			last = stamp(*st.LastFailureAt)
		}
		if st.CooldownUntil != nil {
			until = stamp(*st.CooldownUntil)
		}
		rows = append(rows, []string{
			st.Collaborator, st.Provider, strconv.FormatBool(st.Available),
			strconv.FormatInt(st.FailureCount, 10), last, until,
		})
	}
	return table(w, "ROLE\tPROVIDER\tAVAILABLE\tFAILURES\tLAST FAILURE\tCOOLDOWN UNTIL", rows)
}
