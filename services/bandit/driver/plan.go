// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package driver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AleutianAI/lcbandit/services/bandit/fit"
	"github.com/AleutianAI/lcbandit/services/bandit/lightcurve"
	"github.com/AleutianAI/lcbandit/services/bandit/schedule"
)

// Plan is everything a run decides before the first fit is submitted.
type Plan struct {
	Inputs    []string
	Labels    []string
	Curves    []*lightcurve.Series
	StartTime float64
	Intervals []schedule.Interval

	// SeedLabels are the round-0 fit labels, arm-major.
	SeedLabels []string
}

// Rounds is the number of rounds including round 0.
func (p *Plan) Rounds() int {
	return len(p.Intervals)
}

// Discover lists the input light curves in sorted order.
func Discover(dataDir, glob string) ([]string, error) {
	if glob == "" {
		glob = DefaultGlob
	}
	paths, err := filepath.Glob(filepath.Join(dataDir, glob))
	if err != nil {
		return nil, fmt.Errorf("input glob: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoInputs, filepath.Join(dataDir, glob))
	}
	sort.Strings(paths)
	return paths, nil
}

// BuildPlan validates cfg, loads every input and computes the shared
// start time and the window schedule.
func BuildPlan(cfg Config) (*Plan, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	paths, err := Discover(cfg.DataDir, cfg.Glob)
	if err != nil {
		return nil, err
	}

	p := &Plan{Inputs: paths}
	seen := make(map[string]bool, len(paths))
	for _, path := range paths {
		s, err := lightcurve.Load(path)
		if err != nil {
			return nil, err
		}
		if s.Label == MiscKey || seen[s.Label] {
			return nil, fmt.Errorf("%w: %q from %s", ErrInvalidLabel, s.Label, path)
		}
		seen[s.Label] = true
		p.Labels = append(p.Labels, s.Label)
		p.Curves = append(p.Curves, s)
	}

	p.StartTime, err = lightcurve.FindStartTime(p.Curves, cfg.MinDetections, cfg.AllFilters)
	if err != nil {
		return nil, err
	}
	p.Intervals = schedule.Intervals(p.StartTime, cfg.Step, cfg.NSteps)

	for _, label := range p.Labels {
		for _, m := range cfg.Models {
			p.SeedLabels = append(p.SeedLabels, fit.FitID{Arm: label, Round: 0, Model: m}.Label())
		}
	}
	return p, nil
}

// ObservedPath is where a simulation arm's observed subset is written.
func ObservedPath(outDir, label string) string {
	return filepath.Join(outDir, observedPrefix+label+".json")
}

// CleanRun removes observed_* entries left in outDir by an earlier run and
// returns how many were removed. A missing outDir is not an error.
func CleanRun(outDir string) (int, error) {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	var errs []error
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), observedPrefix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(outDir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
