// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lightcurve

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var inf = math.Inf(1)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func detections(times ...float64) []Observation {
	out := make([]Observation, len(times))
	for i, tm := range times {
		out[i] = Observation{Time: tm, Mag: 20, MagErr: 0.1}
	}
	return out
}

// =============================================================================
// Load / Save
// =============================================================================

func TestLoad_PreservesBandOrderAndInfinity(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "lc_a.json",
		`{"ztfr": [[0.5, 19.0, 0.1]], "ztfg": [[0.0, 18.0, 0.2], [1.0, 21.0, Infinity]]}`)

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "lc_a", s.Label)
	assert.Equal(t, []string{"ztfr", "ztfg"}, s.Bands())
	g := s.Band("ztfg")
	require.Len(t, g, 2)
	assert.True(t, g[0].IsDetection())
	assert.False(t, g[1].IsDetection())
	assert.True(t, math.IsInf(g[1].MagErr, 1))
}

func TestSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewSeries("lc_b")
	s.Append("ztfg", Observation{Time: 1, Mag: 18, MagErr: inf})
	s.Append("ztfi", detections(2, 3)...)

	path := filepath.Join(dir, "observed_lc_b.json")
	require.NoError(t, Save(path, s))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Infinity")
	assert.NotContains(t, string(raw), `"Infinity"`)

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, s.Bands(), back.Bands())
	assert.Equal(t, 3, back.Len())
}

func TestLoad_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.json", `{"ztfg": [[1.0, 2.0]]}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedSeries))
}

func TestWindow_ClosedInterval(t *testing.T) {
	s := NewSeries("x")
	s.Append("g", detections(0, 1, 2, 3)...)
	s.Append("r", detections(5)...)

	w := s.Window(1, 2)
	assert.Equal(t, []string{"g"}, w.Bands())
	assert.Len(t, w.Band("g"), 2)

	w = s.Window(math.Inf(-1), 0)
	assert.Len(t, w.Band("g"), 1)
}

// =============================================================================
// Start time
// =============================================================================

func TestReadyTime_AnyBandUsesMin(t *testing.T) {
	s := NewSeries("x")
	s.Append("g", detections(0, 1, 2, 3)...)
	s.Append("r", detections(0, 4, 5)...)
	s.Append("i", detections(0)...)

	got, err := s.ReadyTime(3, false)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)
}

func TestReadyTime_AllFiltersUsesMax(t *testing.T) {
	s := NewSeries("x")
	s.Append("g", detections(0, 1, 2, 3)...)
	s.Append("r", detections(0, 4, 5)...)

	got, err := s.ReadyTime(3, true)
	require.NoError(t, err)
	assert.Equal(t, 5.0, got)

	s.Append("i", detections(0)...)
	_, err = s.ReadyTime(3, true)
	assert.ErrorIs(t, err, ErrInsufficientDetections)
}

func TestReadyTime_IgnoresUpperLimits(t *testing.T) {
	s := NewSeries("x")
	s.Append("g",
		Observation{Time: 0, Mag: 20, MagErr: 0.1},
		Observation{Time: 1, Mag: 22, MagErr: inf},
		Observation{Time: 2, Mag: 20, MagErr: 0.1},
		Observation{Time: 3, Mag: 20, MagErr: 0.1},
	)
	got, err := s.ReadyTime(3, false)
	require.NoError(t, err)
	assert.Equal(t, 3.0, got)
}

func TestFindStartTime_MaxAcrossArms(t *testing.T) {
	a := NewSeries("a")
	a.Append("g", detections(0, 1, 2)...)
	b := NewSeries("b")
	b.Append("g", detections(0, 3, 4, 5)...)

	got, err := FindStartTime([]*Series{a, b}, 3, false)
	require.NoError(t, err)
	assert.Equal(t, 4.0, got)

	again, err := FindStartTime([]*Series{a, b}, 3, false)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestFindStartTime_Idempotent(t *testing.T) {
	a := NewSeries("a")
	a.Append("g", detections(44240, 44241, 44242.5)...)
	a.Append("r", detections(44241, 44243, 44244, 44246)...)
	b := NewSeries("b")
	b.Append("g", detections(44239.5, 44243, 44245)...)
	curves := []*Series{a, b}
	before := []*Series{a.Clone(), b.Clone()}

	for _, allFilters := range []bool{false, true} {
		first, err := FindStartTime(curves, 3, allFilters)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			again, err := FindStartTime(curves, 3, allFilters)
			require.NoError(t, err)
			assert.Equal(t, first, again, "allFilters=%v", allFilters)
		}
		assert.Equal(t, before, curves, "inputs are not mutated")

		// Shifting every curve by the same offset shifts the start time by
		// that offset and nothing else.
		const shift = 44239.5
		retimed := []*Series{Retime(a, shift), Retime(b, shift)}
		got, err := FindStartTime(retimed, 3, allFilters)
		require.NoError(t, err)
		assert.InDelta(t, first-shift, got, 1e-9)

		again, err := FindStartTime(retimed, 3, allFilters)
		require.NoError(t, err)
		assert.Equal(t, got, again)
	}
}

func TestFindStartTime_FailsOnUnreadyArm(t *testing.T) {
	a := NewSeries("a")
	a.Append("g", detections(0, 1, 2)...)
	b := NewSeries("b")
	b.Append("g", detections(0)...)

	_, err := FindStartTime([]*Series{a, b}, 3, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientDetections)
	assert.Contains(t, err.Error(), "b")

	_, err = FindStartTime(nil, 3, false)
	assert.ErrorIs(t, err, ErrInsufficientDetections)
}

// =============================================================================
// Validate / Retime
// =============================================================================

func TestValidate(t *testing.T) {
	s := NewSeries("x")
	s.Append("g", detections(10, 11, 12, 20)...)
	s.Append("r", detections(10, 30)...)

	assert.True(t, Validate(s, 3, 3.1, false))
	assert.False(t, Validate(s, 3, 3.1, true))
	assert.False(t, Validate(s, 3, 1.5, false))
	assert.False(t, Validate(NewSeries("empty"), 1, 10, false))
}

func TestRetimeToFirst(t *testing.T) {
	s := NewSeries("x")
	s.Append("g", detections(44245, 44246)...)
	s.Append("r", detections(44244.5)...)

	out := RetimeToFirst(s)
	assert.Equal(t, 0.5, out.Band("g")[0].Time)
	assert.Equal(t, 0.0, out.Band("r")[0].Time)
	assert.Equal(t, 44245.0, s.Band("g")[0].Time, "input is not mutated")
}
