// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package main

import (
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/memorg-dev/memorg/internal/config"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// cli carries the state shared by one command tree.
type cli struct {
	v      *viper.Viper
	wire   wireFunc
	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCmd creates the root memorg command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	return newRootCmd(Wire)
}

func newRootCmd(wire wireFunc) *cobra.Command {
	c := &cli{v: viper.New(), wire: wire}

	root := &cobra.Command{
		Use:           "memorg",
		Short:         "memorg: long-term conversational memory for LLM assistants",
		Long:          "memorg stores conversation history hierarchically, tiers and compresses it, and assembles a bounded context window for each turn.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
	}

	// Global flags; these map to viper keys in init.
	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("data-dir", "", "path to data directory")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	root.PersistentFlags().Bool("json", false, "print results as JSON")

	root.AddCommand(
		newVersionCmd(),
		c.newSessionCmd(),
		c.newConversationCmd(),
		c.newTopicCmd(),
		c.newAppendCmd(),
		c.newSearchCmd(),
		c.newTurnCmd(),
		c.newPromoteCmd(),
		c.newTierCmd(),
		c.newUsageCmd(),
		c.newStatusCmd(),
	)

	return root
}

// init sets up viper with defaults, env bindings, flag bindings and an
// optional config file so the standard precedence (flag > env > file >
// defaults) is handled uniformly, then decodes the result.
func (c *cli) init(cmd *cobra.Command) error {
	v := c.v

	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return memerr.Errorf(memerr.CodeConfigLoadReadFailure, "reading config file: %w", err)
		}
		config.CheckPermissions(cfgFile)
	} else {
		// SetConfigType is omitted so viper never matches the bare
		// ./memorg binary as a config file.
		v.SetConfigName("memorg")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/memorg")
		v.AddConfigPath("/etc/memorg")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return memerr.Errorf(memerr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
			if path := config.BootstrapConfig(); path != "" {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return memerr.Errorf(memerr.CodeConfigLoadReadFailure, "reading bootstrapped config: %w", err)
				}
			}
		} else {
			config.CheckPermissions(v.ConfigFileUsed())
		}
	}

	flags := cmd.Root().PersistentFlags()
	if flags.Changed("data-dir") {
		if err := v.BindPFlag("data_dir", flags.Lookup("data-dir")); err != nil {
			return memerr.Errorf(memerr.CodeCLISetupFailure, "binding data-dir flag: %w", err)
		}
	}
	if verbose, _ := flags.GetBool("verbose"); verbose {
		v.Set("log.level", "debug")
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = newLogger(cmd.ErrOrStderr(), cfg.Log)
	slog.SetDefault(c.logger)
	return nil
}

func newLogger(w io.Writer, lc config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: lc.SlogLevel()}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// open wires the application for one command.
func (c *cli) open() (*App, error) {
	if c.cfg == nil {
		return nil, memerr.New(memerr.CodeCLISetupFailure, "configuration not loaded")
	}
	return c.wire(c.cfg, c.logger)
}

// withApp runs fn against a freshly wired App and closes it afterwards.
func (c *cli) withApp(fn func(*App) error) error {
	app, err := c.open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(); cerr != nil {
			c.logger.Warn("closing storage", "error", cerr)
		}
	}()
	return fn(app)
}
