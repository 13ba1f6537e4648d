// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy implements the Upper Confidence Bound arm selection used
// by the bandit loop.
package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/AleutianAI/lcbandit/pkg/pyjson"
)

var (
	// ErrNotSeeded is returned by Choose before any arm has been seeded.
	// The confidence radius needs ln(t) with t >= 1.
	ErrNotSeeded = errors.New("policy has not been seeded")

	// ErrNoCurrentArm is returned by Update before Choose has been called.
	ErrNoCurrentArm = errors.New("no arm has been chosen")

	// ErrArmOutOfRange indicates an arm index outside [0, arms).
	ErrArmOutOfRange = errors.New("arm index out of range")

	// ErrInvalidReward indicates a NaN reward.
	ErrInvalidReward = errors.New("reward is NaN")
)

// DefaultWarmStart is the pull count every arm starts with, standing for
// the observations guaranteed before the bandit loop begins.
const DefaultWarmStart = 3

// =============================================================================
// UCB
// =============================================================================

// UCB is an upper-confidence-bound bandit over a fixed number of arms.
//
// Description:
//
//	Each arm carries a pull count, a cumulative reward and an average reward.
//	Pull counts start at the warm-start value instead of zero. Seeding adds
//	a free initial reward without touching pull counts; every seeded arm
//	also advances the round counter t, so the seeding phase is what makes
//	t >= 1 before the first Choose.
//
//	Choose scores every arm as
//	  avg[i] + sqrt(2 * ln(t) / n[i])
//	and returns the first index holding the maximum.
//
// Thread Safety: UCB is safe for concurrent use. The bandit loop itself is
// sequential; the lock exists for status readers.
type UCB struct {
	mu sync.RWMutex

	pulls      []int
	cumulative []float64
	average    []float64
	seeded     []bool

	t       int
	current int

	logger *slog.Logger
}

// NewUCB creates a policy over arms arms, each starting with warmStart pulls.
//
// Inputs:
//
//	arms - Number of arms. Must be positive.
//	warmStart - Initial pull count per arm. Must be at least 1.
//	logger - Optional. Nil uses slog.Default().
func NewUCB(arms, warmStart int, logger *slog.Logger) (*UCB, error) {
	if arms <= 0 {
		return nil, fmt.Errorf("arms must be positive, got %d", arms)
	}
	if warmStart < 1 {
		return nil, fmt.Errorf("warm start must be at least 1, got %d", warmStart)
	}
	if logger == nil {
		logger = slog.Default()
	}
	u := &UCB{
		pulls:      make([]int, arms),
		cumulative: make([]float64, arms),
		average:    make([]float64, arms),
		seeded:     make([]bool, arms),
		current:    -1,
		logger:     logger,
	}
	for i := range u.pulls {
		u.pulls[i] = warmStart
	}
	return u, nil
}

// Arms returns the number of arms.
func (u *UCB) Arms() int {
	return len(u.pulls)
}

// Seed adds an initial reward to arm without incrementing its pull count.
// The first seed of each arm advances t by one.
func (u *UCB) Seed(arm int, reward float64) error {
	if math.IsNaN(reward) {
		return ErrInvalidReward
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	if arm < 0 || arm >= len(u.pulls) {
		return fmt.Errorf("%w: %d", ErrArmOutOfRange, arm)
	}
	u.cumulative[arm] += reward
	u.average[arm] = u.cumulative[arm] / float64(u.pulls[arm])
	if !u.seeded[arm] {
		u.seeded[arm] = true
		u.t++
	}

	u.logger.Debug("ucb seeded arm",
		slog.Int("arm", arm),
		slog.Float64("reward", reward),
		slog.Float64("average", u.average[arm]),
	)
	return nil
}

// Choose selects the arm with the highest upper confidence bound, counts a
// pull against it and advances t. Ties go to the lowest index.
func (u *UCB) Choose() (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.t < 1 {
		return 0, ErrNotSeeded
	}

	logT := math.Log(float64(u.t))
	best, bestScore := 0, math.Inf(-1)
	for i := range u.pulls {
		score := u.average[i] + math.Sqrt(2*logT/float64(u.pulls[i]))
		if math.IsNaN(score) {
			score = math.Inf(-1)
		}
		if i == 0 || score > bestScore {
			best, bestScore = i, score
		}
	}

	u.pulls[best]++
	u.current = best
	u.t++

	u.logger.Debug("ucb chose arm",
		slog.Int("arm", best),
		slog.Float64("score", bestScore),
		slog.Int("t", u.t),
	)
	return best, nil
}

// Update credits reward to the arm returned by the last Choose and
// recomputes every average from cumulative reward and pull count.
func (u *UCB) Update(reward float64) error {
	if math.IsNaN(reward) {
		return ErrInvalidReward
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.current < 0 {
		return ErrNoCurrentArm
	}
	u.cumulative[u.current] += reward
	for i, n := range u.pulls {
		if n > 0 {
			u.average[i] = u.cumulative[i] / float64(n)
		}
	}
	return nil
}

// Snapshot returns a copy of the policy state.
func (u *UCB) Snapshot() Snapshot {
	u.mu.RLock()
	defer u.mu.RUnlock()

	s := Snapshot{
		T:          u.t,
		Current:    u.current,
		Pulls:      make([]int, len(u.pulls)),
		Cumulative: make([]float64, len(u.cumulative)),
		Average:    make([]float64, len(u.average)),
	}
	copy(s.Pulls, u.pulls)
	copy(s.Cumulative, u.cumulative)
	copy(s.Average, u.average)
	return s
}

// Snapshot is a point-in-time copy of UCB state.
type Snapshot struct {
	T          int
	Current    int
	Pulls      []int
	Cumulative []float64
	Average    []float64
}

type snapshotJSON struct {
	T          int            `json:"t"`
	Current    int            `json:"current"`
	Pulls      []int          `json:"pulls"`
	Cumulative []pyjson.Float `json:"cumulative"`
	Average    []pyjson.Float `json:"average"`
}

// MarshalJSON keeps -Inf averages representable.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		T:          s.T,
		Current:    s.Current,
		Pulls:      s.Pulls,
		Cumulative: toPy(s.Cumulative),
		Average:    toPy(s.Average),
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Snapshot{
		T:          raw.T,
		Current:    raw.Current,
		Pulls:      raw.Pulls,
		Cumulative: fromPy(raw.Cumulative),
		Average:    fromPy(raw.Average),
	}
	return nil
}

func toPy(xs []float64) []pyjson.Float {
	out := make([]pyjson.Float, len(xs))
	for i, x := range xs {
		out[i] = pyjson.Float(x)
	}
	return out
}

func fromPy(xs []pyjson.Float) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = float64(x)
	}
	return out
}
