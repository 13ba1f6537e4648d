// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package arm

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/lcbandit/services/bandit/fit"
	"github.com/AleutianAI/lcbandit/services/bandit/fit/fittest"
	"github.com/AleutianAI/lcbandit/services/bandit/lightcurve"
	"github.com/AleutianAI/lcbandit/services/bandit/schedule"
	"github.com/AleutianAI/lcbandit/services/bandit/stats"
)

// recordingFitter returns a fixed record and remembers every target.
type recordingFitter struct {
	mu      sync.Mutex
	targets []fit.Target
	err     error
}

func (f *recordingFitter) RunAllModels(_ context.Context, t fit.Target) (*fit.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, t)
	if f.err != nil {
		return nil, f.err
	}
	return &fit.Outcome{Record: stats.Record{
		"A": {stats.LogLikelihood: float64(t.Round)},
		"B": stats.Sentinel(),
	}}, nil
}

func writeCurve(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "lc_test.json")
	body := `{
		"ztfr": [[0.2, 19.0, 0.1], [1.5, 19.2, 0.1]],
		"ztfg": [[0.0, 18.0, 0.1], [1.0, 18.4, 0.1], [2.0, 18.8, Infinity], [3.0, 19.0, 0.1]]
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func newSimArm(t *testing.T, fitter Fitter) (*Arm, string) {
	t.Helper()
	dir := t.TempDir()
	observed := filepath.Join(dir, "out", "observed_lc_test.json")
	a, err := New(Config{
		SourcePath:   writeCurve(t, dir),
		ObservedPath: observed,
		Rounds:       4,
		Mode:         ModeSimulation,
		PrimaryBand:  "ztfg",
	}, fitter, nil)
	require.NoError(t, err)
	return a, observed
}

func TestNew_SeedsFirstPrimaryRecord(t *testing.T) {
	a, _ := newSimArm(t, &recordingFitter{})

	obs := a.Observed()
	assert.Equal(t, "lc_test", a.Label())
	assert.Equal(t, []string{"ztfg"}, obs.Bands())
	assert.Equal(t, []lightcurve.Observation{{Time: 0, Mag: 18, MagErr: 0.1}}, obs.Band("ztfg"))
	assert.Equal(t, []bool{false, false, false, false}, a.Presence())
}

func TestNew_FallsBackToFirstBand(t *testing.T) {
	dir := t.TempDir()
	a, err := New(Config{
		SourcePath:   writeCurve(t, dir),
		ObservedPath: filepath.Join(dir, "obs.json"),
		Rounds:       1,
		PrimaryBand:  "ztfi",
	}, &recordingFitter{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ztfr"}, a.Observed().Bands())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Rounds: 0}, &recordingFitter{}, nil)
	assert.Error(t, err)
	_, err = New(Config{Rounds: 1}, nil, nil)
	assert.Error(t, err)
	_, err = New(Config{Rounds: 1, Mode: "replay", SourcePath: "x.json"}, &recordingFitter{}, nil)
	assert.Error(t, err)

	empty := lightcurve.NewSeries("empty")
	_, err = NewFromSeries(empty, Config{Rounds: 1, ObservedPath: "o.json"}, &recordingFitter{}, nil)
	assert.ErrorIs(t, err, ErrEmptySeries)
}

func TestReveal_GrowsMonotonicallyWithoutDuplicates(t *testing.T) {
	fitter := &recordingFitter{}
	a, observedPath := newSimArm(t, fitter)
	windows := schedule.Intervals(0.5, 1, 3)

	prev := a.Observed().Len()
	for round, w := range windows {
		res, err := a.Reveal(context.Background(), round, w)
		require.NoError(t, err)
		cur := a.Observed().Len()
		assert.GreaterOrEqual(t, cur, prev)
		assert.Equal(t, cur-prev, res.Added)
		prev = cur
	}

	// Every point of the full series revealed exactly once.
	assert.Equal(t, 6, a.Observed().Len())
	assert.Equal(t, []bool{true, true, true, true}, a.Presence())

	saved, err := lightcurve.Load(observedPath)
	require.NoError(t, err)
	assert.Equal(t, 6, saved.Len())
	assert.True(t, math.IsInf(saved.Band("ztfg")[2].MagErr, 1))

	require.Len(t, fitter.targets, 4)
	assert.Equal(t, observedPath, fitter.targets[0].SeriesPath)
	assert.InDelta(t, 3.1, fitter.targets[3].TMax, 1e-9)
}

func TestReveal_EmptyIncrementStillFits(t *testing.T) {
	fitter := &recordingFitter{}
	a, _ := newSimArm(t, fitter)

	res, err := a.Reveal(context.Background(), 2, schedule.Interval{Start: 10, End: 11})
	require.NoError(t, err)
	assert.Zero(t, res.Added)
	assert.Equal(t, 1, a.Observed().Len())
	assert.Equal(t, []bool{false, false, true, false}, a.Presence())

	h := a.History()
	require.Contains(t, h, 2)
	assert.Equal(t, 2.0, h[2]["A"][stats.LogLikelihood])
	assert.True(t, h[2]["B"].IsSentinel())
}

func TestReveal_RoundOutOfRange(t *testing.T) {
	a, _ := newSimArm(t, &recordingFitter{})
	_, err := a.Reveal(context.Background(), 4, schedule.Interval{})
	assert.ErrorIs(t, err, ErrRoundOutOfRange)
}

func TestReveal_FitterErrorLeavesHistoryUntouched(t *testing.T) {
	a, _ := newSimArm(t, &recordingFitter{err: context.Canceled})
	_, err := a.Reveal(context.Background(), 0, schedule.Interval{Start: math.Inf(-1), End: 0.5})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, a.History())
	assert.Equal(t, []bool{false, false, false, false}, a.Presence())
}

func TestReveal_Online(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, "observed_lc_live.json")
	require.NoError(t, os.WriteFile(live, []byte(`{"ztfg": [[0, 18, 0.1]]}`), 0644))

	fitter := &recordingFitter{}
	a, err := New(Config{SourcePath: live, Rounds: 3, Mode: ModeOnline}, fitter, nil)
	require.NoError(t, err)

	res, err := a.Reveal(context.Background(), 0, schedule.Interval{Start: math.Inf(-1), End: 0})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)

	// The live file is appended externally between rounds.
	require.NoError(t, os.WriteFile(live, []byte(`{"ztfg": [[0, 18, 0.1], [1, 18.5, 0.1]]}`), 0644))
	res, err = a.Reveal(context.Background(), 1, schedule.Interval{Start: 0, End: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, live, fitter.targets[1].SeriesPath)
	assert.Nil(t, a.Full())
}

func TestReveal_WithOrchestrator(t *testing.T) {
	backend := fittest.New(fittest.PerModel(map[string]float64{"Me2017": -3, "Bu2019lm": -8}))
	orch, err := fit.NewOrchestrator(fit.Config{
		Models:       []fit.ModelSpec{{Name: "Me2017"}, {Name: "Bu2019lm"}},
		OutRoot:      t.TempDir(),
		PollInterval: 5 * time.Millisecond,
		Timeout:      time.Second,
	}, backend, nil, nil)
	require.NoError(t, err)

	a, observed := newSimArm(t, orch)
	res, err := a.Reveal(context.Background(), 0, schedule.Interval{Start: math.Inf(-1), End: 1})
	require.NoError(t, err)

	assert.Equal(t, -3.0, res.Record["Me2017"][stats.LogLikelihood])
	reqs := backend.Submitted()
	require.Len(t, reqs, 2)
	assert.Equal(t, observed, reqs[0].Series)
	assert.Equal(t, "lc_test_round0_Me2017", reqs[0].ID.Label())
}
