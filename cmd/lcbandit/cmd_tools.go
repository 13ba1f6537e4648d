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
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/lcbandit/services/bandit/lightcurve"
)

// errRejected is returned by validate when any curve fails the check.
var errRejected = errors.New("one or more light curves were rejected")

func newValidateCmd() *cobra.Command {
	var (
		minDetections int
		window        float64
		allBands      bool
	)
	cmd := &cobra.Command{
		Use:   "validate [file...]",
		Short: "Check that light curves have enough early detections",
		Long: `validate reports, for each file, whether it holds at least
--min-detections detections within --window days of its first
observation.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrinter(cmd)
			rejected := 0
			for _, path := range args {
				s, err := lightcurve.Load(path)
				if err != nil {
					p.Error(fmt.Sprintf("%s: %v", path, err))
					rejected++
					continue
				}
				if lightcurve.Validate(s, minDetections, window, allBands) {
					p.Success(fmt.Sprintf("%s (%s)", path, s.Label))
				} else {
					p.Warning(fmt.Sprintf("%s (%s): fewer than %d detections in %g days",
						path, s.Label, minDetections, window))
					rejected++
				}
			}
			if rejected > 0 {
				return fmt.Errorf("%w: %d of %d", errRejected, rejected, len(args))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&minDetections, "min-detections", 3, "required detections")
	cmd.Flags().Float64Var(&window, "window", 3, "days after the first observation")
	cmd.Flags().BoolVar(&allBands, "all-bands", false, "require the detections in every band")
	return cmd
}

func newRetimeCmd() *cobra.Command {
	var start float64
	cmd := &cobra.Command{
		Use:   "retime <in> <out>",
		Short: "Shift a light curve's times so the first observation is t=0",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := lightcurve.Load(args[0])
			if err != nil {
				return err
			}
			var out *lightcurve.Series
			if cmd.Flags().Changed("start") {
				out = lightcurve.Retime(s, start)
			} else {
				out = lightcurve.RetimeToFirst(s)
			}
			if err := lightcurve.Save(args[1], out); err != nil {
				return err
			}
			newPrinter(cmd).Success(fmt.Sprintf("wrote %s (%d observations)", args[1], out.Len()))
			return nil
		},
	}
	cmd.Flags().Float64Var(&start, "start", 0, "subtract this time instead of the first observation")
	return cmd
}
