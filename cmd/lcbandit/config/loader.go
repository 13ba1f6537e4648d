// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/lcbandit/services/bandit/fit"
	"github.com/AleutianAI/lcbandit/services/bandit/stats"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New()

// Load reads path over DefaultConfig. An empty path returns the defaults.
// The result is not validated; flags may still override it.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// WriteDefault writes DefaultConfig to path, creating parent directories.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks struct tags and the cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", ErrInvalidConfig, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if !slices.Contains(c.Models, c.ModelOfInterest) {
		return fmt.Errorf("%w: model_of_interest %q is not in models", ErrInvalidConfig, c.ModelOfInterest)
	}
	if !stats.IsRewardStatistic(c.Statistic) {
		return fmt.Errorf("%w: statistic %q must be one of %v", ErrInvalidConfig, c.Statistic, stats.RewardStatistics)
	}
	if len(c.Priors) > 0 && len(c.Priors) != len(c.Models) {
		return fmt.Errorf("%w: %d priors for %d models", ErrInvalidConfig, len(c.Priors), len(c.Models))
	}
	return nil
}

// ModelSpecs resolves the (model, prior) pairs.
func (c Config) ModelSpecs() ([]fit.ModelSpec, error) {
	if len(c.Priors) > 0 {
		return fit.NewModelSpecs(c.Models, c.Priors)
	}
	return fit.PriorsFromDir(c.Models, c.PriorDir)
}

// HistoryPath is the journal directory.
func (c Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(c.OutDir, "journal")
}

// RewardsPath is the reward log location, or "" when disabled.
func (c Config) RewardsPath() string {
	if c.RewardsFile == "" || filepath.IsAbs(c.RewardsFile) {
		return c.RewardsFile
	}
	return filepath.Join(c.OutDir, c.RewardsFile)
}
