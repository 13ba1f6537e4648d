// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fit_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/lcbandit/services/bandit/fit"
	"github.com/AleutianAI/lcbandit/services/bandit/fit/fittest"
	"github.com/AleutianAI/lcbandit/services/bandit/stats"
)

var models = []fit.ModelSpec{
	{Name: "Me2017", Prior: "priors/Me2017.prior"},
	{Name: "nugent-hyper", Prior: "priors/nugent-hyper.prior"},
	{Name: "TrPi2018", Prior: "priors/TrPi2018.prior"},
}

func newOrchestrator(t *testing.T, backend fit.Backend, mutate ...func(*fit.Config)) (*fit.Orchestrator, string) {
	t.Helper()
	root := t.TempDir()
	cfg := fit.Config{
		Models:         models,
		OutRoot:        root,
		PollInterval:   5 * time.Millisecond,
		Timeout:        2 * time.Second,
		WatchArtifacts: true,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	o, err := fit.NewOrchestrator(cfg, backend, nil, nil)
	require.NoError(t, err)
	return o, root
}

func target(round int) fit.Target {
	return fit.Target{Arm: "lc_a", Round: round, SeriesPath: "observed_lc_a.json", TMax: 4.1}
}

func TestRunAllModels_AllSucceed(t *testing.T) {
	backend := fittest.New(fittest.PerModel(map[string]float64{
		"Me2017": -10, "nugent-hyper": -12, "TrPi2018": -30,
	}))
	o, root := newOrchestrator(t, backend)

	out, err := o.RunAllModels(context.Background(), target(0))
	require.NoError(t, err)

	assert.Empty(t, out.Failures)
	assert.False(t, out.TimedOut)
	require.Len(t, out.Record, 3)
	assert.Equal(t, -10.0, out.Record["Me2017"][stats.LogLikelihood])
	assert.Equal(t, -30.0, out.Record["TrPi2018"][stats.LogBayesFactor])

	reqs := backend.Submitted()
	require.Len(t, reqs, 3)
	assert.Equal(t, "lc_a_round0_Me2017", reqs[0].ID.Label())
	assert.Equal(t, filepath.Join(root, "fits", "lc_a", "Me2017"), reqs[0].OutDir)
	assert.Equal(t, 4.1, reqs[0].TMax)
	assert.Equal(t, "priors/Me2017.prior", reqs[0].Model.Prior)
}

func TestRunAllModels_SentinelForEveryFailureKind(t *testing.T) {
	backend := fittest.New(func(req fit.Request) fittest.Result {
		switch req.Model.Name {
		case "Me2017":
			return fittest.Result{Malformed: true}
		case "nugent-hyper":
			return fittest.Result{NoArtifact: true}
		default:
			return fittest.Result{Fail: errors.New("sampler crashed")}
		}
	})
	o, _ := newOrchestrator(t, backend)

	out, err := o.RunAllModels(context.Background(), target(1))
	require.NoError(t, err)

	require.Len(t, out.Record, 3)
	for _, m := range models {
		assert.True(t, out.Record[m.Name].IsSentinel(), m.Name)
	}

	kinds := map[string]fit.FailureKind{}
	for _, f := range out.Failures {
		kinds[f.ID.Model] = f.Kind
	}
	assert.Equal(t, fit.FailureMalformedArtifact, kinds["Me2017"])
	assert.Equal(t, fit.FailureMissingArtifact, kinds["nugent-hyper"])
	assert.Equal(t, fit.FailureBackend, kinds["TrPi2018"])
}

func TestRunAllModels_SubmitError(t *testing.T) {
	backend := fittest.New(func(req fit.Request) fittest.Result {
		if req.Model.Name == "TrPi2018" {
			return fittest.Result{SubmitErr: errors.New("queue full")}
		}
		return fittest.Result{Stats: stats.Values{stats.LogLikelihood: 1, stats.LogBayesFactor: 2}}
	})
	o, _ := newOrchestrator(t, backend)

	out, err := o.RunAllModels(context.Background(), target(0))
	require.NoError(t, err)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, fit.FailureSubmit, out.Failures[0].Kind)
	assert.ErrorContains(t, out.Failures[0], "queue full")
	assert.Equal(t, 1.0, out.Record["Me2017"][stats.LogLikelihood])
}

func TestRunAllModels_TimeoutAbandonsPending(t *testing.T) {
	backend := fittest.New(func(req fit.Request) fittest.Result {
		if req.Model.Name == "nugent-hyper" {
			return fittest.Result{Never: true}
		}
		return fittest.Result{PendingPolls: 1, Stats: stats.Values{stats.LogLikelihood: 0, stats.LogBayesFactor: 0}}
	})
	o, _ := newOrchestrator(t, backend, func(c *fit.Config) {
		c.Timeout = 40 * time.Millisecond
	})

	out, err := o.RunAllModels(context.Background(), target(2))
	require.NoError(t, err)

	assert.True(t, out.TimedOut)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, fit.FailureTimeout, out.Failures[0].Kind)
	assert.ErrorIs(t, out.Failures[0], fit.ErrFitTimeout)
	assert.True(t, out.Record["nugent-hyper"].IsSentinel())
	assert.False(t, out.Record["Me2017"].IsSentinel())
	assert.Equal(t, 1, backend.Canceled())
}

func TestRunAllModels_IgnoresStaleArtifacts(t *testing.T) {
	backend := fittest.New(func(fit.Request) fittest.Result { return fittest.Result{NoArtifact: true} })
	o, _ := newOrchestrator(t, backend)

	// A previous batch with the same label left a valid artifact behind.
	for _, req := range o.Requests(target(3)) {
		require.NoError(t, os.MkdirAll(req.OutDir, 0750))
		require.NoError(t, fit.WriteBestFit(req.BestFitPath(), &fit.BestFit{
			Stats: stats.Values{stats.LogLikelihood: 99, stats.LogBayesFactor: 99},
		}))
	}

	out, err := o.RunAllModels(context.Background(), target(3))
	require.NoError(t, err)
	for _, m := range models {
		assert.True(t, out.Record[m.Name].IsSentinel(), m.Name)
	}
}

func TestRunAllModels_SweepsWorkDirectories(t *testing.T) {
	backend := fittest.New(func(req fit.Request) fittest.Result {
		// The backend leaves transient entries next to its artifacts.
		_ = os.MkdirAll(filepath.Join(req.OutDir, "pm_"+req.ID.Label()), 0750)
		_ = os.WriteFile(filepath.Join(req.OutDir, req.ID.Label()+"_posterior_samples.dat"), []byte("x"), 0644)
		return fittest.Result{Stats: stats.Values{stats.LogLikelihood: 1, stats.LogBayesFactor: 1}}
	})
	o, _ := newOrchestrator(t, backend)

	_, err := o.RunAllModels(context.Background(), target(0))
	require.NoError(t, err)

	for _, req := range backend.Submitted() {
		entries, err := os.ReadDir(req.OutDir)
		require.NoError(t, err)
		for _, e := range entries {
			assert.NotContains(t, e.Name(), "pm_")
			assert.NotContains(t, e.Name(), "posterior_samples")
		}
		_, err = os.Stat(req.BestFitPath())
		assert.NoError(t, err, "artifacts survive the sweep")
	}
}

func TestRunAllModels_WaitsForArtifactWrittenInSteps(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	backend, err := fit.NewCommandBackend(fit.CommandConfig{
		Command: []string{"sh", "-c",
			`printf '{"log_likelihood": -7.0,' > {outdir}/{label}_bestfit.json; sleep 0.5; ` +
				`printf ' "log_bayes_factor": 3.0}' >> {outdir}/{label}_bestfit.json`},
		Mode: fit.ModeWait,
	}, nil)
	require.NoError(t, err)
	o, _ := newOrchestrator(t, backend, func(c *fit.Config) { c.Timeout = 10 * time.Second })

	out, err := o.RunAllModels(context.Background(), target(0))
	require.NoError(t, err)

	assert.Empty(t, out.Failures)
	for _, m := range models {
		require.False(t, out.Record[m.Name].IsSentinel(), m.Name)
		assert.Equal(t, -7.0, out.Record[m.Name][stats.LogLikelihood], m.Name)
		assert.Equal(t, 3.0, out.Record[m.Name][stats.LogBayesFactor], m.Name)
	}
}

func TestRunAllModels_ContextCanceled(t *testing.T) {
	backend := fittest.New(func(fit.Request) fittest.Result { return fittest.Result{Never: true} })
	o, _ := newOrchestrator(t, backend, func(c *fit.Config) {
		c.PollInterval = time.Hour
		c.Timeout = 2 * time.Hour
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	out, err := o.RunAllModels(ctx, target(0))
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, out)
	require.Len(t, out.Record, 3)
	for _, f := range out.Failures {
		assert.Equal(t, fit.FailureCanceled, f.Kind)
	}
}

func TestNewOrchestrator_Validation(t *testing.T) {
	backend := fittest.New(fittest.PerModel(nil))

	_, err := fit.NewOrchestrator(fit.Config{}, backend, nil, nil)
	assert.ErrorIs(t, err, fit.ErrInvalidModels)

	_, err = fit.NewOrchestrator(fit.Config{Models: models}, nil, nil, nil)
	assert.Error(t, err)

	dup := []fit.ModelSpec{{Name: "A"}, {Name: "A"}}
	_, err = fit.NewOrchestrator(fit.Config{Models: dup}, backend, nil, nil)
	assert.ErrorIs(t, err, fit.ErrInvalidModels)
}
