// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSeeded(t *testing.T, rewards ...float64) *UCB {
	t.Helper()
	u, err := NewUCB(len(rewards), DefaultWarmStart, nil)
	require.NoError(t, err)
	for i, r := range rewards {
		require.NoError(t, u.Seed(i, r))
	}
	return u
}

func TestNewUCB_Validation(t *testing.T) {
	_, err := NewUCB(0, 3, nil)
	assert.Error(t, err)
	_, err = NewUCB(2, 0, nil)
	assert.Error(t, err)
}

func TestSeed_DoesNotCountPulls(t *testing.T) {
	u := newSeeded(t, 1.5, -3)
	s := u.Snapshot()

	assert.Equal(t, []int{3, 3}, s.Pulls)
	assert.Equal(t, []float64{1.5, -3}, s.Cumulative)
	assert.InDelta(t, 0.5, s.Average[0], 1e-12)
	assert.InDelta(t, -1.0, s.Average[1], 1e-12)
	assert.Equal(t, 2, s.T)
	assert.Equal(t, -1, s.Current)
}

func TestSeed_Errors(t *testing.T) {
	u, err := NewUCB(2, 3, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, u.Seed(2, 1), ErrArmOutOfRange)
	assert.ErrorIs(t, u.Seed(-1, 1), ErrArmOutOfRange)
	assert.ErrorIs(t, u.Seed(0, math.NaN()), ErrInvalidReward)
}

func TestChoose_RequiresSeeding(t *testing.T) {
	u, err := NewUCB(3, 3, nil)
	require.NoError(t, err)

	_, err = u.Choose()
	assert.ErrorIs(t, err, ErrNotSeeded)
	assert.ErrorIs(t, u.Update(1), ErrNoCurrentArm)
}

func TestChoose_HighestAverageFirstOnTies(t *testing.T) {
	u := newSeeded(t, 1.0, 0.5, 0.5)

	// A fourth seed on an already seeded arm does not advance t.
	require.NoError(t, u.Seed(0, 0))
	require.Equal(t, 3, u.Snapshot().T)

	arm, err := u.Choose()
	require.NoError(t, err)
	assert.Equal(t, 0, arm)

	s := u.Snapshot()
	assert.Equal(t, []int{4, 3, 3}, s.Pulls)
	assert.Equal(t, 4, s.T)
	assert.Equal(t, 0, s.Current)
}

func TestChoose_TieGoesToLowestIndex(t *testing.T) {
	u := newSeeded(t, 0.5, 0.5, 0.5)
	arm, err := u.Choose()
	require.NoError(t, err)
	assert.Equal(t, 0, arm)
}

func TestChoose_ExploresUnderPulledArm(t *testing.T) {
	u := newSeeded(t, 0, 0)
	for i := 0; i < 5; i++ {
		arm, err := u.Choose()
		require.NoError(t, err)
		require.NoError(t, u.Update(0))
		if i == 0 {
			assert.Equal(t, 0, arm)
		}
	}
	s := u.Snapshot()
	// Equal rewards: exploration keeps the pulls balanced.
	assert.LessOrEqual(t, absInt(s.Pulls[0]-s.Pulls[1]), 1)
}

func TestUpdate_RecomputesAverages(t *testing.T) {
	u := newSeeded(t, 3, 0)
	arm, err := u.Choose()
	require.NoError(t, err)
	require.Equal(t, 0, arm)

	require.NoError(t, u.Update(1))
	s := u.Snapshot()
	assert.Equal(t, 4.0, s.Cumulative[0])
	assert.InDelta(t, 1.0, s.Average[0], 1e-12)
	assert.InDelta(t, 0.0, s.Average[1], 1e-12)

	assert.ErrorIs(t, u.Update(math.NaN()), ErrInvalidReward)
}

func TestChoose_NegativeInfinityArmIsAvoided(t *testing.T) {
	u := newSeeded(t, math.Inf(-1), -5)
	arm, err := u.Choose()
	require.NoError(t, err)
	assert.Equal(t, 1, arm)
}

func TestSnapshot_JSON(t *testing.T) {
	u := newSeeded(t, math.Inf(-1), 2)
	data, err := json.Marshal(u.Snapshot())
	require.NoError(t, err)

	var back Snapshot
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, math.IsInf(back.Average[0], -1))
	assert.Equal(t, []int{3, 3}, back.Pulls)
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
