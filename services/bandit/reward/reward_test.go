// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reward

import (
	"math"
	"testing"

	"github.com/AleutianAI/lcbandit/services/bandit/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(vals map[string]float64) stats.Record {
	r := stats.Record{}
	for m, v := range vals {
		r[m] = stats.Values{"ll": v}
	}
	return r
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name string
		vals map[string]float64
		want float64
	}{
		{"favored", map[string]float64{"A": 5, "B": 3, "C": 1}, 2},
		{"disfavored", map[string]float64{"A": 1, "B": 5, "C": 3}, -4},
		{"competitor failed", map[string]float64{"A": 1, "B": math.Inf(-1)}, math.Inf(1)},
		{"everything failed", map[string]float64{"A": math.Inf(-1), "B": math.Inf(-1)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(rec(tt.vals), "A", "ll")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompute_TargetFailed(t *testing.T) {
	got, err := Compute(rec(map[string]float64{"A": math.Inf(-1), "B": 2}), "A", "ll")
	require.NoError(t, err)
	assert.True(t, math.IsInf(got, -1))
}

func TestCompute_Errors(t *testing.T) {
	_, err := Compute(rec(map[string]float64{"B": 1, "C": 2}), "A", "ll")
	assert.ErrorIs(t, err, ErrMissingModel)

	_, err = Compute(rec(map[string]float64{"A": 1, "B": 2}), "A", "bf")
	assert.ErrorIs(t, err, ErrMissingStatistic)

	r := rec(map[string]float64{"A": 1})
	r["B"] = stats.Values{"other": 1}
	_, err = Compute(r, "A", "ll")
	assert.ErrorIs(t, err, ErrMissingStatistic)

	_, err = Compute(rec(map[string]float64{"A": 1}), "A", "ll")
	assert.ErrorIs(t, err, ErrNoCompetitors)
}
