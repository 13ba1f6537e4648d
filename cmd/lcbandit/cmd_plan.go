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
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/lcbandit/cmd/lcbandit/config"
	"github.com/AleutianAI/lcbandit/pkg/ux"
	"github.com/AleutianAI/lcbandit/services/bandit/driver"
)

func newPlanCmd(opts *rootOptions) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the inputs, start time and window schedule without fitting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, &cfg, f)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return printPlan(newPrinter(cmd), cfg)
		},
	}
	addRunFlags(cmd, f)
	return cmd
}

func printPlan(p *ux.Printer, cfg config.Config) error {
	plan, err := driver.BuildPlan(driverConfig(cfg))
	if err != nil {
		return err
	}

	p.Title("Bandit plan")
	p.KeyValue("arms", strings.Join(plan.Labels, ", "))
	p.KeyValue("models", strings.Join(cfg.Models, ", "))
	p.KeyValue("model of interest", cfg.ModelOfInterest)
	p.KeyValue("statistic", cfg.Statistic)
	p.KeyValue("start time", fmt.Sprintf("%g", plan.StartTime))
	p.KeyValue("rounds", plan.Rounds())
	p.KeyValue("initial fits", len(plan.SeedLabels))

	var b strings.Builder
	for i, iv := range plan.Intervals {
		fmt.Fprintf(&b, "%3d  %s\n", i, iv)
	}
	p.Box("windows", strings.TrimRight(b.String(), "\n"))
	return nil
}
