// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fit drives the external model-fitting backend for one observed
// light curve and turns its artifacts into per-model statistics.
//
// A fit batch submits one request per configured (model, prior) pair, waits
// on task handles until every request settles or the batch timeout passes,
// then harvests best-fit artifacts. Failures of any kind become a typed
// FitFailure and are converted to sentinel statistics inside the
// Orchestrator, so a batch always returns an entry for every model.
package fit

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
)

var (
	// ErrModelPriorMismatch indicates model and prior lists of different
	// lengths.
	ErrModelPriorMismatch = errors.New("model and prior lists differ in length")

	// ErrInvalidModels indicates an empty or duplicated model list.
	ErrInvalidModels = errors.New("invalid model list")
)

// ModelSpec pairs a model name with its prior file.
type ModelSpec struct {
	Name  string `json:"name"`
	Prior string `json:"prior"`
}

// NewModelSpecs zips parallel model and prior lists.
func NewModelSpecs(models, priors []string) ([]ModelSpec, error) {
	if len(models) != len(priors) {
		return nil, fmt.Errorf("%w: %d models, %d priors", ErrModelPriorMismatch, len(models), len(priors))
	}
	specs := make([]ModelSpec, len(models))
	for i := range models {
		specs[i] = ModelSpec{Name: models[i], Prior: priors[i]}
	}
	return specs, validateModels(specs)
}

// PriorsFromDir returns ModelSpecs whose prior is <dir>/<model>.prior.
func PriorsFromDir(models []string, dir string) ([]ModelSpec, error) {
	specs := make([]ModelSpec, len(models))
	for i, m := range models {
		specs[i] = ModelSpec{Name: m, Prior: filepath.Join(dir, m+".prior")}
	}
	return specs, validateModels(specs)
}

func validateModels(specs []ModelSpec) error {
	if len(specs) == 0 {
		return fmt.Errorf("%w: no models", ErrInvalidModels)
	}
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if s.Name == "" {
			return fmt.Errorf("%w: empty model name", ErrInvalidModels)
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: duplicate model %s", ErrInvalidModels, s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// FitID identifies one fit: a model applied to one arm's observations at
// one round. Labels must be unique per (arm, round, model) because the
// artifact path is derived from them.
type FitID struct {
	Arm   string
	Round int
	Model string
}

// Label is the single flat serialization of a FitID, used for backend
// labels and artifact file names.
func (id FitID) Label() string {
	return id.Arm + "_round" + strconv.Itoa(id.Round) + "_" + id.Model
}

// String implements fmt.Stringer.
func (id FitID) String() string {
	return id.Label()
}

// Target is one observed series to fit with every configured model.
type Target struct {
	// Arm is the arm label.
	Arm string

	// Round is the round the observations belong to.
	Round int

	// SeriesPath is the observed-subset file handed to the backend.
	SeriesPath string

	// TMax is the time cutoff passed to the backend. Zero means unset.
	TMax float64
}

// Request is one backend submission.
type Request struct {
	ID     FitID
	Model  ModelSpec
	Series string
	OutDir string
	TMax   float64
}

// BestFitPath is where the backend writes the best-fit summary.
func (r Request) BestFitPath() string {
	return filepath.Join(r.OutDir, r.ID.Label()+"_bestfit.json")
}

// ResultPath is where the backend writes the full inference result.
func (r Request) ResultPath() string {
	return filepath.Join(r.OutDir, r.ID.Label()+"_result.json")
}

// LogPath is where a command backend captures process output.
func (r Request) LogPath() string {
	return filepath.Join(r.OutDir, r.ID.Label()+".log")
}

// ModelOutDir is the per-model output directory for arm under root.
func ModelOutDir(root, arm, model string) string {
	return filepath.Join(root, "fits", arm, model)
}
