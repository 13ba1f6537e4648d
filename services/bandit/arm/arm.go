// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package arm implements one bandit arm: a light curve whose observations
// are revealed window by window and refit after every reveal.
package arm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/lcbandit/services/bandit/fit"
	"github.com/AleutianAI/lcbandit/services/bandit/lightcurve"
	"github.com/AleutianAI/lcbandit/services/bandit/schedule"
	"github.com/AleutianAI/lcbandit/services/bandit/stats"
	"github.com/AleutianAI/lcbandit/services/bandit/telemetry"
)

const tracerName = "lcbandit.arm"

// tmaxPad is added to the observed time span to form the fit cutoff.
const tmaxPad = 0.1

// Mode selects where an arm's observations come from.
type Mode string

const (
	// ModeSimulation reveals points from a fully known series.
	ModeSimulation Mode = "simulation"
	// ModeOnline refits a file that is appended to externally.
	ModeOnline Mode = "online"
)

var (
	// ErrRoundOutOfRange indicates a round index outside the schedule.
	ErrRoundOutOfRange = errors.New("round out of range")

	// ErrEmptySeries indicates a simulation series with no observations.
	ErrEmptySeries = errors.New("light curve has no observations")
)

// Fitter runs a fit batch for one observed series.
type Fitter interface {
	RunAllModels(ctx context.Context, target fit.Target) (*fit.Outcome, error)
}

// Config describes one arm.
type Config struct {
	// SourcePath is the full series (simulation) or the live file (online).
	SourcePath string

	// ObservedPath receives the observed subset in simulation mode. Online
	// arms fit SourcePath directly.
	ObservedPath string

	// Rounds is the number of rounds in the schedule, round 0 included.
	Rounds int

	// Mode is ModeSimulation or ModeOnline.
	Mode Mode

	// PrimaryBand seeds the observed subset. When absent from the series
	// the first band in file order is used.
	PrimaryBand string
}

// Arm tracks one candidate light curve through a bandit run.
//
// Thread Safety: Reveal must not be called concurrently on the same Arm.
// Accessors are safe to call while a Reveal is in flight.
type Arm struct {
	cfg    Config
	label  string
	fitter Fitter
	logger *slog.Logger

	full     *lightcurve.Series
	revealed map[string]map[int]bool

	mu       sync.RWMutex
	observed *lightcurve.Series
	presence []bool
	history  stats.History
}

// RevealResult summarizes one reveal.
type RevealResult struct {
	Round    int
	Added    int
	Observed int
	Record   stats.Record
	Failures []*fit.FitFailure
}

// New builds an arm.
//
// Description:
//
//	In simulation mode the full series is loaded from SourcePath and the
//	observed subset starts with exactly the first record of the primary
//	band. In online mode nothing is read until the first reveal.
//
// Inputs:
//
//	cfg - Arm configuration. Rounds must be positive.
//	fitter - Runs the per-reveal fit batch. Must not be nil.
//	logger - Optional. Nil uses slog.Default().
func New(cfg Config, fitter Fitter, logger *slog.Logger) (*Arm, error) {
	if cfg.Rounds <= 0 {
		return nil, fmt.Errorf("rounds must be positive, got %d", cfg.Rounds)
	}
	if fitter == nil {
		return nil, errors.New("fitter must not be nil")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeSimulation
	}
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Mode {
	case ModeSimulation:
		full, err := lightcurve.Load(cfg.SourcePath)
		if err != nil {
			return nil, err
		}
		return NewFromSeries(full, cfg, fitter, logger)
	case ModeOnline:
		label := lightcurve.LabelFromPath(cfg.SourcePath)
		return &Arm{
			cfg:      cfg,
			label:    label,
			fitter:   fitter,
			logger:   logger,
			revealed: make(map[string]map[int]bool),
			observed: lightcurve.NewSeries(label),
			presence: make([]bool, cfg.Rounds),
			history:  make(stats.History),
		}, nil
	default:
		return nil, fmt.Errorf("unknown arm mode %q", cfg.Mode)
	}
}

// NewFromSeries builds a simulation arm from an already loaded series.
func NewFromSeries(full *lightcurve.Series, cfg Config, fitter Fitter, logger *slog.Logger) (*Arm, error) {
	if full == nil {
		return nil, errors.New("series must not be nil")
	}
	if cfg.Rounds <= 0 {
		return nil, fmt.Errorf("rounds must be positive, got %d", cfg.Rounds)
	}
	if fitter == nil {
		return nil, errors.New("fitter must not be nil")
	}
	if cfg.ObservedPath == "" {
		return nil, errors.New("observed path is required in simulation mode")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Mode = ModeSimulation
	a := &Arm{
		cfg:      cfg,
		label:    full.Label,
		fitter:   fitter,
		logger:   logger,
		full:     full,
		revealed: make(map[string]map[int]bool),
		observed: lightcurve.NewSeries(full.Label),
		presence: make([]bool, cfg.Rounds),
		history:  make(stats.History),
	}
	if err := a.seedObserved(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Arm) seedObserved() error {
	bands := a.full.Bands()
	band := ""
	for _, b := range bands {
		if b == a.cfg.PrimaryBand && len(a.full.Band(b)) > 0 {
			band = b
			break
		}
	}
	if band == "" {
		for _, b := range bands {
			if len(a.full.Band(b)) > 0 {
				band = b
				break
			}
		}
	}
	if band == "" {
		return fmt.Errorf("%s: %w", a.label, ErrEmptySeries)
	}
	a.observed.Append(band, a.full.Band(band)[0])
	a.markRevealed(band, 0)
	return nil
}

func (a *Arm) markRevealed(band string, idx int) {
	if a.revealed[band] == nil {
		a.revealed[band] = make(map[int]bool)
	}
	a.revealed[band][idx] = true
}

// Label returns the arm's label.
func (a *Arm) Label() string {
	return a.label
}

// Full returns the ground-truth series, or nil for an online arm.
func (a *Arm) Full() *lightcurve.Series {
	return a.full
}

// Observed returns a copy of the observed subset.
func (a *Arm) Observed() *lightcurve.Series {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.observed.Clone()
}

// Presence returns a copy of the round-presence vector.
func (a *Arm) Presence() []bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]bool, len(a.presence))
	copy(out, a.presence)
	return out
}

// History returns a copy of the per-round statistics.
func (a *Arm) History() stats.History {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(stats.History, len(a.history))
	for r, rec := range a.history {
		out[r] = rec.Clone()
	}
	return out
}

// SeriesPath is the file handed to the fitting backend.
func (a *Arm) SeriesPath() string {
	if a.cfg.Mode == ModeOnline {
		return a.cfg.SourcePath
	}
	return a.cfg.ObservedPath
}

// Reveal extends the observed subset with window and refits it.
//
// Description:
//
//	Simulation arms append every not-yet-revealed point of the full series
//	whose time lies in the closed window, then persist the observed subset.
//	An empty increment is not an error. Online arms re-read their live
//	file instead. The fit batch runs on the resulting file and its record
//	is stored under round. The round is marked present either way.
//
// Outputs:
//
//	*RevealResult - The stored record and any per-model failures.
//	error - Round out of range, persistence failure, or cancellation.
func (a *Arm) Reveal(ctx context.Context, round int, window schedule.Interval) (*RevealResult, error) {
	if round < 0 || round >= a.cfg.Rounds {
		return nil, fmt.Errorf("%s: %w: %d", a.label, ErrRoundOutOfRange, round)
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "arm.Reveal",
		trace.WithAttributes(
			attribute.String("arm", a.label),
			attribute.Int("round", round),
			attribute.String("mode", string(a.cfg.Mode)),
		),
	)
	defer span.End()

	added, err := a.extend(window)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	observed := a.Observed()
	target := fit.Target{
		Arm:        a.label,
		Round:      round,
		SeriesPath: a.SeriesPath(),
	}
	if first, last, ok := observed.TimeSpan(); ok {
		target.TMax = last - first + tmaxPad
	}

	a.logger.Debug("revealing window",
		slog.String("arm", a.label),
		slog.Int("round", round),
		slog.String("window", window.String()),
		slog.Int("added", added),
		slog.Int("observed", observed.Len()),
	)

	outcome, err := a.fitter.RunAllModels(ctx, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%s round %d: %w", a.label, round, err)
	}

	a.mu.Lock()
	a.history[round] = outcome.Record.Clone()
	a.presence[round] = true
	a.mu.Unlock()

	span.SetAttributes(attribute.Int("added", added), attribute.Int("failures", len(outcome.Failures)))
	span.SetStatus(codes.Ok, "")
	return &RevealResult{
		Round:    round,
		Added:    added,
		Observed: observed.Len(),
		Record:   outcome.Record,
		Failures: outcome.Failures,
	}, nil
}

// extend updates the observed subset for window and returns how many
// points were added.
func (a *Arm) extend(window schedule.Interval) (int, error) {
	if a.cfg.Mode == ModeOnline {
		live, err := lightcurve.Load(a.cfg.SourcePath)
		if err != nil {
			return 0, err
		}
		a.mu.Lock()
		added := live.Len() - a.observed.Len()
		a.observed = live
		a.mu.Unlock()
		if added < 0 {
			added = 0
		}
		return added, nil
	}

	added := 0
	a.mu.Lock()
	for _, band := range a.full.Bands() {
		for idx, o := range a.full.Band(band) {
			if !window.Contains(o.Time) || a.revealed[band][idx] {
				continue
			}
			a.observed.Append(band, o)
			a.markRevealed(band, idx)
			added++
		}
	}
	snapshot := a.observed.Clone()
	a.mu.Unlock()

	if err := lightcurve.Save(a.cfg.ObservedPath, snapshot); err != nil {
		return added, fmt.Errorf("%s: persist observed series: %w", a.label, err)
	}
	return added, nil
}
