// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/lcbandit/cmd/lcbandit/config"
	"github.com/AleutianAI/lcbandit/pkg/logging"
	"github.com/AleutianAI/lcbandit/pkg/ux"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	jsonLogs   bool
	quiet      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "lcbandit",
		Short: "Choose which transient light curve to observe next",
		Long: `lcbandit runs an upper-confidence-bound bandit over a set of light
curves. Each round it reveals one more window of observations for the
chosen curve, refits every model and scores how strongly the model of
interest is preferred.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonLogs, "json-logs", false, "write JSON logs to stderr")
	rootCmd.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "suppress stderr logs")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newPlanCmd(opts),
		newValidateCmd(),
		newRetimeCmd(),
		newHistoryCmd(opts),
		newConfigCmd(opts),
	)
	return rootCmd
}

// loadConfig reads --config and applies the persistent logging flags.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("json-logs") {
		cfg.Log.JSON = o.jsonLogs
	}
	if flags.Changed("quiet") {
		cfg.Log.Quiet = o.quiet
	}
	return cfg, nil
}

// newLogger builds the run logger. runDir may be empty for commands that
// keep no log file.
func newLogger(cmd *cobra.Command, cfg config.Config, runDir, runID string) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{
		Level:  level,
		RunDir: runDir,
		RunID:  runID,
		JSON:   cfg.Log.JSON,
		Quiet:  cfg.Log.Quiet,
		Stderr: cmd.ErrOrStderr(),
	})
}

func newPrinter(cmd *cobra.Command) *ux.Printer {
	w := cmd.OutOrStdout()
	return ux.NewPrinter(w, ux.DetectMode(w))
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create configuration files",
	}

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration to path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefault(args[0]); err != nil {
				return err
			}
			newPrinter(cmd).Success(fmt.Sprintf("wrote %s", args[0]))
			return nil
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration given by --config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			p := newPrinter(cmd)
			p.Success("configuration is valid")
			p.KeyValue("models", cfg.Models)
			p.KeyValue("model of interest", cfg.ModelOfInterest)
			p.KeyValue("statistic", cfg.Statistic)
			if cfg.Fit.Backend == nil {
				p.Warning("no fit backend configured; only plan and validate will work")
			}
			return nil
		},
	}

	configCmd.AddCommand(initCmd, checkCmd)
	return configCmd
}
