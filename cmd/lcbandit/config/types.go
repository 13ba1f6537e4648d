// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the lcbandit run configuration.
package config

import (
	"time"

	"github.com/AleutianAI/lcbandit/services/bandit/fit"
	"github.com/AleutianAI/lcbandit/services/bandit/sink"
	"github.com/AleutianAI/lcbandit/services/bandit/stats"
	"github.com/AleutianAI/lcbandit/services/bandit/telemetry"
)

// Config is the top-level YAML document.
type Config struct {
	DataDir    string `yaml:"data_dir" validate:"required"`
	OutDir     string `yaml:"out_dir" validate:"required"`
	Glob       string `yaml:"glob"`
	ResultFile string `yaml:"result_file"`

	// RewardsFile receives one JSON line per reward event, relative to
	// OutDir unless absolute. Empty disables it.
	RewardsFile string `yaml:"rewards_file"`

	// Models and Priors are parallel lists. When Priors is empty each
	// model's prior is <prior_dir>/<model>.prior.
	Models   []string `yaml:"models" validate:"required,min=2,unique,dive,required"`
	Priors   []string `yaml:"priors,omitempty"`
	PriorDir string   `yaml:"prior_dir"`

	ModelOfInterest string `yaml:"model_of_interest" validate:"required"`
	Statistic       string `yaml:"statistic" validate:"required"`

	NSteps        int     `yaml:"nsteps" validate:"gte=0"`
	TStep         float64 `yaml:"tstep" validate:"gt=0"`
	MinDetections int     `yaml:"min_detections" validate:"gte=1"`
	AllFilters    bool    `yaml:"all_filters"`
	WarmStart     int     `yaml:"warm_start" validate:"gte=1"`

	Mode        string `yaml:"mode" validate:"oneof=simulation online"`
	PrimaryBand string `yaml:"primary_band"`
	Parallelism int    `yaml:"parallelism" validate:"gte=0"`
	CleanRun    bool   `yaml:"clean_run"`
	MinFreeMB   uint64 `yaml:"min_free_mb"`

	Fit       FitConfig        `yaml:"fit"`
	Log       LogConfig        `yaml:"log"`
	History   HistoryConfig    `yaml:"history"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Status    StatusConfig     `yaml:"status"`

	// Influx enables the reward time-series sink.
	Influx *sink.InfluxConfig `yaml:"influx,omitempty" validate:"omitempty"`

	// GCS enables result publishing.
	GCS *sink.GCSConfig `yaml:"gcs,omitempty" validate:"omitempty"`
}

// FitConfig configures the fit orchestrator and its backend.
type FitConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval" validate:"gt=0"`
	Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
	WatchArtifacts bool          `yaml:"watch_artifacts"`
	SweepPatterns  []string      `yaml:"sweep_patterns"`

	// Backend is required to run fits but not to plan or validate.
	Backend *fit.CommandConfig `yaml:"backend,omitempty" validate:"omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
	Quiet bool   `yaml:"quiet"`
}

// HistoryConfig configures the run journal. Path defaults to
// <out_dir>/journal.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// StatusConfig configures the status server. An empty Addr disables it.
type StatusConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

// DefaultConfig mirrors the defaults of the original bandit driver.
func DefaultConfig() Config {
	return Config{
		Glob:            "lc*.json",
		ResultFile:      "fit_stats.json",
		RewardsFile:     "rewards.jsonl",
		Models:          []string{"nugent-hyper", "Me2017", "TrPi2018"},
		PriorDir:        "priors",
		ModelOfInterest: "Me2017",
		Statistic:       stats.LogLikelihood,
		NSteps:          4,
		TStep:           1.0,
		MinDetections:   3,
		WarmStart:       3,
		Mode:            "simulation",
		PrimaryBand:     "ztfg",
		Fit: FitConfig{
			PollInterval:   2 * time.Minute,
			Timeout:        time.Hour,
			WatchArtifacts: true,
			SweepPatterns:  fit.DefaultSweepPatterns,
		},
		Log:       LogConfig{Level: "info"},
		History:   HistoryConfig{Enabled: true},
		Telemetry: telemetry.DefaultConfig(),
	}
}
