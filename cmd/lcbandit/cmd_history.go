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
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/lcbandit/pkg/logging"
	"github.com/AleutianAI/lcbandit/pkg/ux"
	"github.com/AleutianAI/lcbandit/services/bandit/history"
	bstore "github.com/AleutianAI/lcbandit/services/bandit/storage/badger"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List journaled runs, or show one run round by round",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				cfg, err := opts.loadConfig(cmd)
				if err != nil {
					return err
				}
				if cfg.OutDir == "" && cfg.History.Path == "" {
					return fmt.Errorf("--db is required when the config has no out_dir")
				}
				dbPath = cfg.HistoryPath()
			}

			bcfg := bstore.DefaultConfig()
			bcfg.Path = dbPath
			bcfg.Logger = logging.Discard()
			bcfg.GCInterval = 0
			store, err := history.OpenBadgerStore(bcfg)
			if err != nil {
				return fmt.Errorf("open journal %s: %w", dbPath, err)
			}
			defer store.Close()

			p := newPrinter(cmd)
			if len(args) == 0 {
				return listRuns(cmd.Context(), p, store)
			}
			return showRun(cmd.Context(), p, store, args[0])
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "journal directory (default <out_dir>/journal)")
	return cmd
}

func listRuns(ctx context.Context, p *ux.Printer, store *history.BadgerStore) error {
	runs, err := store.Runs(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		p.Info("no runs journaled")
		return nil
	}
	p.Title("Runs")
	for _, r := range runs {
		p.KeyValue(r.RunID, fmt.Sprintf("%s  %d arms  %s/%s",
			r.StartedAt.Format(time.RFC3339), len(r.Arms), r.ModelOfInterest, r.Statistic))
	}
	return nil
}

func showRun(ctx context.Context, p *ux.Printer, store *history.BadgerStore, runID string) error {
	info, err := store.Run(ctx, runID)
	if err != nil {
		return err
	}
	policies, err := store.Policies(ctx, runID)
	if err != nil {
		return err
	}

	p.Title("Run " + info.RunID)
	p.KeyValue("started", info.StartedAt.Format(time.RFC3339))
	p.KeyValue("arms", strings.Join(info.Arms, ", "))
	p.KeyValue("models", strings.Join(info.Models, ", "))
	p.KeyValue("model of interest", info.ModelOfInterest)
	p.KeyValue("statistic", info.Statistic)

	for _, label := range info.Arms {
		rounds, err := store.Rounds(ctx, runID, label)
		if err != nil {
			return err
		}
		p.KeyValue(label+" fits", fmt.Sprintf("%d rounds", len(rounds)))
	}

	rounds := make([]int, 0, len(policies))
	for r := range policies {
		rounds = append(rounds, r)
	}
	sort.Ints(rounds)
	for _, r := range rounds {
		snap := policies[r]
		rows := make([]ux.RewardRow, len(info.Arms))
		for i, label := range info.Arms {
			rows[i] = ux.RewardRow{Arm: label, Chosen: r > 0 && i == snap.Current}
			if i < len(snap.Pulls) {
				rows[i].Pulls = snap.Pulls[i]
				rows[i].Average = snap.Average[i]
			}
		}
		p.RewardTable(r, rows)
	}
	return nil
}
