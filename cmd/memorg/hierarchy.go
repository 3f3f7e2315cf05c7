// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/memorg-dev/memorg/internal/store"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

func (c *cli) newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage sessions",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, _ := cmd.Flags().GetString("user")
			maxTokens, _ := cmd.Flags().GetInt("max-tokens")
			return c.withApp(func(app *App) error {
				sess, err := app.Memory.CreateSession(cmd.Context(), user, store.SessionConfig{MaxTokens: maxTokens})
				if err != nil {
					return err
				}
				return printCreated(cmd, sess.ID, sess)
			})
		},
	}
	create.Flags().String("user", "", "user the session belongs to")
	create.Flags().Int("max-tokens", 0, "default turn budget for the session (0 uses turn.default_budget)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(func(app *App) error {
				sessions, err := app.Memory.ListSessions(cmd.Context(), store.ListFilter{})
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), sessions)
				}
				rows := make([][]string, 0, len(sessions))
				for _, s := range sessions {
					rows = append(rows, []string{s.ID, s.UserID, strconv.Itoa(s.Config.MaxTokens), stamp(s.CreatedAt)})
				}
				return table(cmd.OutOrStdout(), "ID\tUSER\tMAX TOKENS\tCREATED", rows)
			})
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

func (c *cli) newConversationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversation",
		Short: "Manage conversations",
	}

	create := &cobra.Command{
		Use:   "create <session-id>",
		Short: "Start a conversation in a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(app *App) error {
				conv, err := app.Memory.CreateConversation(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printCreated(cmd, conv.ID, conv)
			})
		},
	}

	list := &cobra.Command{
		Use:   "list <session-id>",
		Short: "List the conversations of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(app *App) error {
				convs, err := app.Memory.ListConversations(cmd.Context(), args[0], store.ListFilter{})
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), convs)
				}
				rows := make([][]string, 0, len(convs))
				for _, cv := range convs {
					rows = append(rows, []string{cv.ID, string(cv.Tier), fmt.Sprintf("%.3f", cv.Importance), snippet(cv.Summary, 60)})
				}
				return table(cmd.OutOrStdout(), "ID\tTIER\tIMPORTANCE\tSUMMARY", rows)
			})
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

func (c *cli) newTopicCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topic",
		Short: "Manage topics",
	}

	create := &cobra.Command{
		Use:   "create <conversation-id>",
		Short: "Open a topic in a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title, _ := cmd.Flags().GetString("title")
			return c.withApp(func(app *App) error {
				topic, err := app.Memory.CreateTopic(cmd.Context(), args[0], title)
				if err != nil {
					return err
				}
				return printCreated(cmd, topic.ID, topic)
			})
		},
	}
	create.Flags().String("title", "", "topic title")

	list := &cobra.Command{
		Use:   "list <conversation-id>",
		Short: "List the topics of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(app *App) error {
				topics, err := app.Memory.ListTopics(cmd.Context(), args[0], store.ListFilter{})
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return printJSON(cmd.OutOrStdout(), topics)
				}
				rows := make([][]string, 0, len(topics))
				for _, tp := range topics {
					rows = append(rows, []string{tp.ID, tp.Title, string(tp.Tier), strconv.Itoa(tp.CentroidCount), snippet(tp.Summary, 50)})
				}
				return table(cmd.OutOrStdout(), "ID\tTITLE\tTIER\tEMBEDDED\tSUMMARY", rows)
			})
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

func (c *cli) newAppendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append <topic-id>",
		Short: "Record a user/system exchange under a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			system, _ := cmd.Flags().GetString("system")
			if user == "" && system == "" {
				return memerr.New(memerr.CodeCLIInputInvalid, "--user or --system is required")
			}
			return c.withApp(func(app *App) error {
				ex, err := app.Memory.AppendExchange(cmd.Context(), args[0], user, system)
				if err != nil {
					return err
				}
				return printCreated(cmd, ex.ID, ex)
			})
		},
	}
	cmd.Flags().String("user", "", "user message")
	cmd.Flags().String("system", "", "system reply")
	return cmd
}

// printCreated prints the new id, or the whole entity with --json.
func printCreated(cmd *cobra.Command, id string, entity any) error {
	if jsonOutput(cmd) {
		return printJSON(cmd.OutOrStdout(), entity)
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), id)
	return err
}
