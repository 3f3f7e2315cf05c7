// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memorg-dev/memorg/internal/retrieval"
)

type searchHit struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind"`
	Tier        string   `json:"tier"`
	Score       float64  `json:"score"`
	Keyword     float64  `json:"keyword"`
	Vector      float64  `json:"vector"`
	Temporal    float64  `json:"temporal"`
	Matches     []string `json:"matches"`
	SummaryOnly bool     `json:"summary_only"`
	Content     string   `json:"content"`
}

func (c *cli) newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search memory with combined keyword, semantic and temporal retrieval",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rawScope, _ := cmd.Flags().GetString("scope")
			topK, _ := cmd.Flags().GetInt("top-k")
			scope, err := parseScope(rawScope)
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")

			return c.withApp(func(app *App) error {
				ctx := cmd.Context()
				pq, err := app.Retrieval.Process(ctx, query, retrieval.QueryContext{Now: app.Memory.Now()})
				if err != nil {
					return err
				}
				cands, err := app.Retrieval.Retrieve(ctx, pq, scope, topK)
				if err != nil {
					return err
				}

				hits := make([]searchHit, 0, len(cands))
				for _, cd := range cands {
					matches := make([]string, 0, len(cd.Matches))
					for _, m := range cd.Matches {
						matches = append(matches, string(m))
					}
					hits = append(hits, searchHit{
						ID:          cd.Ref.ID,
						Kind:        string(cd.Ref.Kind),
						Tier:        string(cd.Tier),
						Score:       cd.Score,
						Keyword:     cd.Keyword,
						Vector:      cd.Vector,
						Temporal:    cd.Temporal,
						Matches:     matches,
						SummaryOnly: cd.SummaryOnly,
						Content:     cd.Content,
					})
				}
				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), hits)
				}

				rows := make([][]string, 0, len(hits))
				for _, h := range hits {
					rows = append(rows, []string{
						h.ID, h.Kind, h.Tier, fmt.Sprintf("%.3f", h.Score),
						strings.Join(h.Matches, ","), snippet(h.Content, 60),
					})
				}
				return table(cmd.OutOrStdout(), "ID\tKIND\tTIER\tSCORE\tMATCHES\tCONTENT", rows)
			})
		},
	}
	cmd.Flags().String("scope", "all", "search scope: all or <session|conversation|topic>:<id>")
	cmd.Flags().Int("top-k", 10, "number of results")
	return cmd
}
