// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package driver runs a bandit over a directory of light curves.
//
// # Description
//
// A run plans the shared start time and window schedule, reveals round 0
// to every arm in parallel and seeds the policy with those rewards. Each
// later round sweeps backend leftovers, lets the UCB policy choose one arm,
// reveals the next window to that arm only and feeds its reward back. The
// per-arm statistics histories are written to a single result file.
//
// # Thread Safety
//
// A Driver runs one bandit at a time.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/lcbandit/pkg/pyjson"
	"github.com/AleutianAI/lcbandit/pkg/ux"
	"github.com/AleutianAI/lcbandit/services/bandit/arm"
	"github.com/AleutianAI/lcbandit/services/bandit/fit"
	"github.com/AleutianAI/lcbandit/services/bandit/history"
	"github.com/AleutianAI/lcbandit/services/bandit/policy"
	"github.com/AleutianAI/lcbandit/services/bandit/reward"
	"github.com/AleutianAI/lcbandit/services/bandit/schedule"
	"github.com/AleutianAI/lcbandit/services/bandit/sink"
	"github.com/AleutianAI/lcbandit/services/bandit/stats"
	"github.com/AleutianAI/lcbandit/services/bandit/status"
	"github.com/AleutianAI/lcbandit/services/bandit/telemetry"
	"github.com/AleutianAI/lcbandit/services/bandit/workdir"
)

const tracerName = "lcbandit.driver"

// Options carries the driver's collaborators. Only Fitter is required.
type Options struct {
	Fitter    arm.Fitter
	History   history.Store
	Sink      sink.RewardSink
	Publisher sink.Publisher
	Metrics   *telemetry.Metrics
	Tracker   *status.Tracker
	Printer   *ux.Printer
	Logger    *slog.Logger

	// RunID overrides the generated run id.
	RunID string
}

// Driver runs bandits.
type Driver struct {
	cfg  Config
	opts Options
	log  *slog.Logger
	now  func() time.Time
}

// Result summarizes a finished run.
type Result struct {
	RunID      string
	ResultPath string

	// Published is the remote location, when a publisher is configured.
	Published string

	Plan     *Plan
	Arms     []*arm.Arm
	Snapshot policy.Snapshot

	// Chosen lists the arm index pulled in each round after round 0.
	Chosen []int
}

// New validates cfg and returns a Driver.
func New(cfg Config, opts Options) (*Driver, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Fitter == nil {
		return nil, errors.New("fitter must not be nil")
	}
	if opts.History == nil {
		opts.History = history.NopStore{}
	}
	if opts.Sink == nil {
		opts.Sink = sink.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Driver{cfg: cfg, opts: opts, log: opts.Logger, now: time.Now}, nil
}

// Config returns the effective configuration.
func (d *Driver) Config() Config {
	return d.cfg
}

// Run executes a full bandit run.
//
// Description:
//
//	Configuration, input and insufficient-data errors are returned before
//	any fit is submitted. Per-model fit failures are absorbed as sentinel
//	statistics by the fitter. A reward that cannot be computed, a reveal
//	that cannot persist its observations, and cancellation end the run.
//	Journal, sink and publish errors are logged and never end the run.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	started := d.now()

	plan, err := BuildPlan(d.cfg)
	if err != nil {
		return nil, err
	}

	// A caller-supplied run id is expected to be on the logger already.
	log := d.log
	runID := d.opts.RunID
	if runID == "" {
		runID = uuid.New().String()
		log = log.With(slog.String("run_id", runID))
	}

	if err := workdir.CheckFreeSpace(d.cfg.OutDir, d.cfg.MinFreeBytes, log); err != nil {
		return nil, err
	}
	lock, err := workdir.Acquire(d.cfg.OutDir, runID, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warn("release run lock", slog.String("error", err.Error()))
		}
	}()

	// Cleaning only happens under the lock so a live run is never touched.
	if d.cfg.CleanRun {
		n, err := CleanRun(d.cfg.OutDir)
		if err != nil {
			return nil, fmt.Errorf("clean run: %w", err)
		}
		log.Info("removed observed entries", slog.Int("removed", n))
		if d.opts.Printer != nil {
			d.opts.Printer.Info(fmt.Sprintf("removed %d observed entries", n))
		}
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "bandit.Run",
		trace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.Int("arms", len(plan.Labels)),
			attribute.Int("rounds", plan.Rounds()),
		),
	)
	defer span.End()

	res, err := d.run(ctx, log, runID, plan, started)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.setPhase(status.PhaseFailed)
		return res, err
	}
	span.SetStatus(codes.Ok, "")
	d.setPhase(status.PhaseDone)
	return res, nil
}

func (d *Driver) run(ctx context.Context, log *slog.Logger, runID string, plan *Plan, started time.Time) (*Result, error) {
	log.Info("bandit run starting",
		slog.Int("arms", len(plan.Labels)),
		slog.Int("rounds", plan.Rounds()),
		slog.Float64("start_time", plan.StartTime),
		slog.String("model_of_interest", d.cfg.ModelOfInterest),
		slog.String("statistic", d.cfg.Statistic),
	)
	if d.opts.Tracker != nil {
		d.opts.Tracker.Reset(runID, plan.Labels, plan.Rounds())
	}
	d.journal(log, "begin run", d.opts.History.BeginRun(ctx, history.RunInfo{
		RunID:           runID,
		StartedAt:       started.UTC(),
		Arms:            plan.Labels,
		Models:          d.cfg.Models,
		ModelOfInterest: d.cfg.ModelOfInterest,
		Statistic:       d.cfg.Statistic,
	}))

	arms, err := d.buildArms(plan, log)
	if err != nil {
		return nil, err
	}
	bandit, err := policy.NewUCB(len(arms), d.cfg.WarmStart, log)
	if err != nil {
		return nil, err
	}
	res := &Result{RunID: runID, Plan: plan, Arms: arms}

	d.setPhase(status.PhaseSeeding)
	if err := d.seed(ctx, log, runID, plan, arms, bandit); err != nil {
		return res, err
	}
	d.afterRound(ctx, log, runID, 0, arms, bandit)

	d.setPhase(status.PhaseRunning)
	for round := 1; round < plan.Rounds(); round++ {
		chosen, err := d.round(ctx, log, runID, round, plan.Intervals[round], arms, bandit)
		if err != nil {
			return res, err
		}
		res.Chosen = append(res.Chosen, chosen)
		d.afterRound(ctx, log, runID, round, arms, bandit)
	}

	res.Snapshot = bandit.Snapshot()
	res.ResultPath = filepath.Join(d.cfg.OutDir, d.cfg.ResultFile)
	if err := d.writeResult(res, plan, started); err != nil {
		return res, err
	}
	log.Info("bandit run complete",
		slog.String("result", res.ResultPath),
		slog.Duration("elapsed", d.now().Sub(started)),
	)

	if d.opts.Publisher != nil {
		loc, err := d.opts.Publisher.Publish(ctx, runID, res.ResultPath)
		if err != nil {
			log.Warn("publish result failed", slog.String("error", err.Error()))
		} else {
			res.Published = loc
			log.Info("result published", slog.String("location", loc))
		}
	}
	return res, nil
}

func (d *Driver) buildArms(plan *Plan, log *slog.Logger) ([]*arm.Arm, error) {
	arms := make([]*arm.Arm, len(plan.Inputs))
	for i, path := range plan.Inputs {
		cfg := arm.Config{
			SourcePath:   path,
			ObservedPath: ObservedPath(d.cfg.OutDir, plan.Labels[i]),
			Rounds:       plan.Rounds(),
			Mode:         d.cfg.Mode,
			PrimaryBand:  d.cfg.PrimaryBand,
		}
		var (
			a   *arm.Arm
			err error
		)
		if d.cfg.Mode == arm.ModeSimulation {
			a, err = arm.NewFromSeries(plan.Curves[i], cfg, d.opts.Fitter, log)
		} else {
			a, err = arm.New(cfg, d.opts.Fitter, log)
		}
		if err != nil {
			return nil, fmt.Errorf("arm %s: %w", plan.Labels[i], err)
		}
		arms[i] = a
	}
	return arms, nil
}

// seed reveals round 0 to every arm concurrently, then seeds the policy in
// arm order.
func (d *Driver) seed(ctx context.Context, log *slog.Logger, runID string, plan *Plan, arms []*arm.Arm, bandit *policy.UCB) error {
	rewards := make([]float64, len(arms))
	failed := make([]int, len(arms))
	g, gctx := errgroup.WithContext(ctx)
	limit := d.cfg.Parallelism
	if limit <= 0 {
		limit = len(arms)
	}
	g.SetLimit(limit)

	for i, a := range arms {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, failures, err := d.reveal(gctx, log, runID, a, 0, plan.Intervals[0])
			if err != nil {
				return err
			}
			rewards[i], failed[i] = r, failures
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("round 0: %w", err)
	}

	for i, r := range rewards {
		if err := bandit.Seed(i, r); err != nil {
			return fmt.Errorf("seed %s: %w", arms[i].Label(), err)
		}
		log.Info("initial reward",
			slog.String("arm", arms[i].Label()),
			slog.Int("index", i),
			slog.Float64("reward", r),
		)
		d.emit(ctx, log, runID, 0, i, arms, bandit, r, failed[i])
	}
	return nil
}

func (d *Driver) round(ctx context.Context, log *slog.Logger, runID string, round int, window schedule.Interval, arms []*arm.Arm, bandit *policy.UCB) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "bandit.Round",
		trace.WithAttributes(attribute.Int("round", round)))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := fit.SweepTree(d.cfg.OutDir, d.cfg.SweepPatterns)
	if err != nil {
		log.Warn("sweep failed", slog.String("error", err.Error()))
	}
	if n > 0 {
		log.Debug("swept backend leftovers", slog.Int("removed", n))
		d.opts.Metrics.RecordSwept(ctx, n)
	}

	chosen, err := bandit.Choose()
	if err != nil {
		return 0, fmt.Errorf("round %d: %w", round, err)
	}
	a := arms[chosen]
	span.SetAttributes(attribute.String("arm", a.Label()))
	log.Info("arm chosen",
		slog.Int("round", round),
		slog.String("arm", a.Label()),
		slog.String("window", window.String()),
	)

	r, failures, err := d.reveal(ctx, log, runID, a, round, window)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return chosen, fmt.Errorf("round %d: %w", round, err)
	}
	if err := bandit.Update(r); err != nil {
		return chosen, fmt.Errorf("round %d: %w", round, err)
	}
	log.Info("round reward",
		slog.Int("round", round),
		slog.String("arm", a.Label()),
		slog.Float64("reward", r),
	)
	d.emit(ctx, log, runID, round, chosen, arms, bandit, r, failures)
	return chosen, nil
}

// reveal runs one arm's reveal and turns the record into a reward. It
// also returns how many model fits failed during the reveal.
func (d *Driver) reveal(ctx context.Context, log *slog.Logger, runID string, a *arm.Arm, round int, window schedule.Interval) (float64, int, error) {
	res, err := a.Reveal(ctx, round, window)
	if err != nil {
		return 0, 0, err
	}
	r, err := reward.Compute(res.Record, d.cfg.ModelOfInterest, d.cfg.Statistic)
	if err != nil {
		return 0, 0, fmt.Errorf("%s round %d: %w", a.Label(), round, err)
	}
	d.journal(log, "save round", d.opts.History.SaveRound(ctx, runID, a.Label(), round, res.Record))
	return r, len(res.Failures), nil
}

// emit publishes one arm's reward to metrics and the sink.
func (d *Driver) emit(ctx context.Context, log *slog.Logger, runID string, round, idx int, arms []*arm.Arm, bandit *policy.UCB, r float64, failures int) {
	snap := bandit.Snapshot()
	label := arms[idx].Label()
	d.opts.Metrics.RecordPull(ctx, label, r)
	err := d.opts.Sink.WriteReward(ctx, sink.RewardEvent{
		RunID:    runID,
		Arm:      label,
		Round:    round,
		Reward:   r,
		Average:  snap.Average[idx],
		Pulls:    snap.Pulls[idx],
		Failures: failures,
		Time:     d.now(),
	})
	if err != nil {
		log.Warn("reward sink write failed", slog.String("arm", label), slog.String("error", err.Error()))
	}
}

// afterRound logs the average-reward table and records the round.
func (d *Driver) afterRound(ctx context.Context, log *slog.Logger, runID string, round int, arms []*arm.Arm, bandit *policy.UCB) {
	snap := bandit.Snapshot()
	observed := make([]int, len(arms))
	rows := make([]ux.RewardRow, len(arms))
	attrs := make([]any, 0, len(arms)+1)
	attrs = append(attrs, slog.Int("round", round))
	for i, a := range arms {
		observed[i] = a.Observed().Len()
		rows[i] = ux.RewardRow{
			Arm:          a.Label(),
			Pulls:        snap.Pulls[i],
			Average:      snap.Average[i],
			Observations: observed[i],
			Chosen:       round > 0 && i == snap.Current,
		}
		attrs = append(attrs, slog.Float64(a.Label(), snap.Average[i]))
	}
	log.Info("average rewards", attrs...)
	if d.opts.Printer != nil {
		d.opts.Printer.RewardTable(round, rows)
	}

	d.opts.Metrics.RecordRound(ctx, round)
	d.journal(log, "save policy", d.opts.History.SavePolicy(ctx, runID, round, snap))
	if d.opts.Tracker != nil {
		d.opts.Tracker.Observe(round, snap, observed)
	}
}

func (d *Driver) writeResult(res *Result, plan *Plan, started time.Time) error {
	ended := d.now()
	histories := make(map[string]stats.History, len(res.Arms))
	final := make(map[string]pyjson.Float, len(res.Arms))
	pulls := make(map[string]int, len(res.Arms))
	for i, a := range res.Arms {
		histories[a.Label()] = a.History()
		final[a.Label()] = pyjson.Float(res.Snapshot.Cumulative[i])
		pulls[a.Label()] = res.Snapshot.Pulls[i]
	}
	meta := RunMeta{
		StartTime:       unixSeconds(started),
		EndTime:         unixSeconds(ended),
		RunTime:         pyjson.Float(ended.Sub(started).Seconds()),
		RunID:           res.RunID,
		Models:          d.cfg.Models,
		ModelOfInterest: d.cfg.ModelOfInterest,
		Statistic:       d.cfg.Statistic,
		InitTime:        pyjson.Float(plan.StartTime),
		FinalRewards:    final,
		Pulls:           pulls,
	}
	if err := WriteResult(res.ResultPath, histories, meta); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

func (d *Driver) setPhase(p status.Phase) {
	if d.opts.Tracker != nil {
		d.opts.Tracker.SetPhase(p)
	}
}

func (d *Driver) journal(log *slog.Logger, what string, err error) {
	if err != nil {
		log.Warn("history journal write failed", slog.String("op", what), slog.String("error", err.Error()))
	}
}

func unixSeconds(t time.Time) pyjson.Float {
	return pyjson.Float(float64(t.UnixNano()) / float64(time.Second))
}
