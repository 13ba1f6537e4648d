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
	"slices"
	"strings"

	"github.com/AleutianAI/lcbandit/services/bandit/arm"
	"github.com/AleutianAI/lcbandit/services/bandit/fit"
	"github.com/AleutianAI/lcbandit/services/bandit/policy"
	"github.com/AleutianAI/lcbandit/services/bandit/stats"
)

// Defaults
const (
	DefaultGlob       = "lc*.json"
	DefaultResultFile = "fit_stats.json"

	// MiscKey holds run metadata in the result file. No arm may use it.
	MiscKey = "misc"

	observedPrefix = "observed_"
)

var (
	// ErrUnknownModelOfInterest: the target model is not configured.
	ErrUnknownModelOfInterest = errors.New("model of interest is not in the model set")

	// ErrInvalidStatistic: the reward statistic is not one the backend reports.
	ErrInvalidStatistic = errors.New("invalid reward statistic")

	// ErrNoInputs: the input glob matched no light curves.
	ErrNoInputs = errors.New("no input light curves found")

	// ErrInvalidLabel: an input's label collides with another or with MiscKey.
	ErrInvalidLabel = errors.New("invalid light curve label")

	// ErrInvalidConfig covers the remaining range checks.
	ErrInvalidConfig = errors.New("invalid driver config")
)

// Config parameterizes a bandit run.
type Config struct {
	// DataDir holds the input light curves.
	DataDir string

	// Glob selects inputs inside DataDir. Default: DefaultGlob.
	Glob string

	// OutDir receives observed subsets, fit outputs and the result file.
	OutDir string

	// ResultFile is the result file name inside OutDir.
	ResultFile string

	// Models are the configured model names, in order.
	Models []string

	ModelOfInterest string

	// Statistic is the reward statistic.
	Statistic string

	// NSteps is the number of bandit rounds after round 0.
	NSteps int

	// Step is the width of every window after the first.
	Step float64

	MinDetections int
	AllFilters    bool

	// WarmStart is the initial pull count per arm.
	WarmStart int

	Mode        arm.Mode
	PrimaryBand string

	// Parallelism bounds concurrent round-0 reveals. Zero means one per arm.
	Parallelism int

	// SweepPatterns are removed from the whole OutDir tree before each
	// bandit round.
	SweepPatterns []string

	// MinFreeBytes fails the run early when OutDir's filesystem is short.
	MinFreeBytes uint64

	// CleanRun removes observed_* entries from OutDir once the run holds
	// the OutDir lock.
	CleanRun bool
}

func (c *Config) applyDefaults() {
	if c.Glob == "" {
		c.Glob = DefaultGlob
	}
	if c.ResultFile == "" {
		c.ResultFile = DefaultResultFile
	}
	if c.WarmStart == 0 {
		c.WarmStart = policy.DefaultWarmStart
	}
	if c.Mode == "" {
		c.Mode = arm.ModeSimulation
	}
	if c.SweepPatterns == nil {
		c.SweepPatterns = fit.DefaultSweepPatterns
	}
}

// Validate reports configuration errors. It runs before any work starts.
func (c Config) Validate() error {
	if !slices.Contains(c.Models, c.ModelOfInterest) {
		return fmt.Errorf("%w: %q not in %s", ErrUnknownModelOfInterest,
			c.ModelOfInterest, strings.Join(c.Models, ","))
	}
	if !stats.IsRewardStatistic(c.Statistic) {
		return fmt.Errorf("%w: %q (want one of %s)", ErrInvalidStatistic,
			c.Statistic, strings.Join(stats.RewardStatistics, ","))
	}
	switch {
	case c.DataDir == "":
		return fmt.Errorf("%w: data dir is required", ErrInvalidConfig)
	case c.OutDir == "":
		return fmt.Errorf("%w: out dir is required", ErrInvalidConfig)
	case c.NSteps < 0:
		return fmt.Errorf("%w: nsteps must not be negative", ErrInvalidConfig)
	case c.Step <= 0:
		return fmt.Errorf("%w: step must be positive", ErrInvalidConfig)
	case c.MinDetections < 1:
		return fmt.Errorf("%w: min detections must be at least 1", ErrInvalidConfig)
	case c.WarmStart < 1:
		return fmt.Errorf("%w: warm start must be at least 1", ErrInvalidConfig)
	case c.Parallelism < 0:
		return fmt.Errorf("%w: parallelism must not be negative", ErrInvalidConfig)
	case c.Mode != arm.ModeSimulation && c.Mode != arm.ModeOnline:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	return nil
}
