// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/lcbandit/services/bandit/stats"
	"github.com/AleutianAI/lcbandit/services/bandit/telemetry"
)

const tracerName = "lcbandit.fit"

// Config configures an Orchestrator.
type Config struct {
	// Models is the ordered list of (model, prior) pairs fit per batch.
	Models []ModelSpec

	// OutRoot is the root under which per-model output directories live.
	OutRoot string

	// PollInterval is the time between completion polls.
	// Default: 2 minutes.
	PollInterval time.Duration

	// Timeout bounds the wait for one batch, measured from the end of
	// submission. Default: 1 hour.
	Timeout time.Duration

	// SweepPatterns name the transient backend entries removed from each
	// output directory after harvesting. Default: DefaultSweepPatterns.
	SweepPatterns []string

	// WatchArtifacts enables fsnotify wake-ups between polls.
	WatchArtifacts bool
}

// DefaultConfig returns the polling defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:   2 * time.Minute,
		Timeout:        time.Hour,
		SweepPatterns:  DefaultSweepPatterns,
		WatchArtifacts: true,
	}
}

// Outcome is the result of one fit batch.
type Outcome struct {
	// Record holds an entry for every configured model. Failed models
	// carry sentinel statistics.
	Record stats.Record

	// Failures lists the models that fell back to sentinels.
	Failures []*FitFailure

	// TimedOut is true when the batch deadline cut waiting short.
	TimedOut bool

	// Elapsed is the wall time of the batch.
	Elapsed time.Duration
}

// Orchestrator runs fit batches against a Backend.
//
// Thread Safety: Safe for concurrent use; concurrent batches must target
// distinct labels.
type Orchestrator struct {
	cfg     Config
	backend Backend
	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewOrchestrator validates cfg and returns an Orchestrator.
//
// Inputs:
//
//	cfg - Models must be non-empty with unique names. Zero durations take
//	      the defaults.
//	backend - The fitting backend. Must not be nil.
//	metrics - Optional instruments.
//	logger - Optional. Nil uses slog.Default().
func NewOrchestrator(cfg Config, backend Backend, metrics *telemetry.Metrics, logger *slog.Logger) (*Orchestrator, error) {
	if backend == nil {
		return nil, errors.New("backend must not be nil")
	}
	if err := validateModels(cfg.Models); err != nil {
		return nil, err
	}
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.SweepPatterns == nil {
		cfg.SweepPatterns = def.SweepPatterns
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:     cfg,
		backend: backend,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Models returns the configured model names in order.
func (o *Orchestrator) Models() []string {
	out := make([]string, len(o.cfg.Models))
	for i, m := range o.cfg.Models {
		out[i] = m.Name
	}
	return out
}

// Requests returns the backend requests a batch for target would submit.
func (o *Orchestrator) Requests(target Target) []Request {
	reqs := make([]Request, len(o.cfg.Models))
	for i, m := range o.cfg.Models {
		reqs[i] = Request{
			ID:     FitID{Arm: target.Arm, Round: target.Round, Model: m.Name},
			Model:  m,
			Series: target.SeriesPath,
			OutDir: ModelOutDir(o.cfg.OutRoot, target.Arm, m.Name),
			TMax:   target.TMax,
		}
	}
	return reqs
}

// RunAllModels fits target with every configured model.
//
// Description:
//
//	Removes stale artifacts for this batch's labels, submits one request
//	per model, then polls every pending handle until all have settled or
//	Timeout has passed since submission. Each poll logs "k of n complete"
//	with a linear estimate of the time remaining. Settled fits are
//	harvested from their best-fit artifacts; every failure (submit error,
//	backend failure, missing or malformed artifact, timeout) becomes a
//	FitFailure and sentinel statistics for that model. Transient backend
//	work entries are swept afterwards.
//
// Outputs:
//
//	*Outcome - Always holds a record entry for every configured model.
//	error - Non-nil only when ctx is canceled. The Outcome is still
//	        populated, with canceled fits as sentinels.
func (o *Orchestrator) RunAllModels(ctx context.Context, target Target) (*Outcome, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "fit.RunAllModels",
		trace.WithAttributes(
			attribute.String("arm", target.Arm),
			attribute.Int("round", target.Round),
			attribute.Int("models", len(o.cfg.Models)),
		),
	)
	defer span.End()

	start := o.now()
	reqs := o.Requests(target)
	statuses := make([]Status, len(reqs))
	handles := make([]Handle, len(reqs))
	submitErr := make([]error, len(reqs))

	for i, req := range reqs {
		if err := removeStale(req); err != nil {
			o.logger.Warn("could not remove stale artifact",
				slog.String("label", req.ID.Label()),
				slog.String("error", err.Error()),
			)
		}
		if err := os.MkdirAll(req.OutDir, 0750); err != nil {
			submitErr[i] = fmt.Errorf("create output directory: %w", err)
			statuses[i] = Status{State: Failed, Err: submitErr[i]}
		}
	}

	var watcher *artifactWatcher
	if o.cfg.WatchArtifacts {
		paths := make([]string, len(reqs))
		for i, r := range reqs {
			paths[i] = r.BestFitPath()
		}
		w, err := newArtifactWatcher(paths, o.logger)
		if err != nil {
			o.logger.Debug("artifact watcher unavailable, polling only", slog.String("error", err.Error()))
		} else {
			watcher = w
			defer watcher.Close()
		}
	}

	for i, req := range reqs {
		if submitErr[i] != nil {
			continue
		}
		h, err := o.backend.Submit(ctx, req)
		if err != nil {
			submitErr[i] = err
			statuses[i] = Status{State: Failed, Err: err}
			continue
		}
		handles[i] = h
	}

	timedOut, waitErr := o.wait(ctx, reqs, handles, statuses, watcher)
	outcome := o.harvest(ctx, reqs, statuses, submitErr)
	outcome.TimedOut = timedOut
	outcome.Elapsed = o.now().Sub(start)

	o.sweep(ctx, reqs)
	o.metrics.RecordBatch(ctx, outcome.Elapsed, timedOut)

	span.SetAttributes(
		attribute.Int("failures", len(outcome.Failures)),
		attribute.Bool("timed_out", timedOut),
	)
	if waitErr != nil {
		span.RecordError(waitErr)
		span.SetStatus(codes.Error, waitErr.Error())
		return outcome, waitErr
	}
	span.SetStatus(codes.Ok, "")
	return outcome, nil
}

// wait polls handles until all settle, the timeout passes, or ctx ends.
func (o *Orchestrator) wait(ctx context.Context, reqs []Request, handles []Handle, statuses []Status, watcher *artifactWatcher) (bool, error) {
	n := len(reqs)
	submitted := o.now()
	var wake <-chan struct{}
	if watcher != nil {
		wake = watcher.Wake()
	}

	for {
		pending := o.pollOnce(ctx, handles, statuses)
		o.metrics.RecordPoll(ctx)
		if pending == 0 {
			return false, nil
		}

		elapsed := o.now().Sub(submitted)
		if elapsed >= o.cfg.Timeout {
			o.logger.Warn("fit batch timed out",
				slog.String("arm", reqs[0].ID.Arm),
				slog.Int("round", reqs[0].ID.Round),
				slog.Int("remaining", pending),
				slog.Duration("timeout", o.cfg.Timeout),
			)
			o.abandon(handles, statuses, Status{State: TimedOut, Err: ErrFitTimeout})
			return true, nil
		}
		o.logProgress(reqs[0].ID, n, n-pending, elapsed)

		delay := o.cfg.PollInterval
		if remaining := o.cfg.Timeout - elapsed; remaining < delay {
			delay = remaining
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			o.abandon(handles, statuses, Status{State: Failed, Err: ctx.Err()})
			return false, ctx.Err()
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (o *Orchestrator) pollOnce(ctx context.Context, handles []Handle, statuses []Status) int {
	pending := 0
	for i, h := range handles {
		if h == nil || statuses[i].State.Terminal() {
			continue
		}
		statuses[i] = h.Poll(ctx)
		if !statuses[i].State.Terminal() {
			pending++
		}
	}
	return pending
}

// abandon marks every unsettled fit with st and cancels its handle.
func (o *Orchestrator) abandon(handles []Handle, statuses []Status, st Status) {
	for i, h := range handles {
		if h == nil || statuses[i].State.Terminal() {
			continue
		}
		statuses[i] = st
		if c, ok := h.(Canceler); ok {
			if err := c.Cancel(); err != nil {
				o.logger.Debug("cancel fit", slog.String("error", err.Error()))
			}
		}
	}
}

func (o *Orchestrator) logProgress(id FitID, total, complete int, elapsed time.Duration) {
	attrs := []any{
		slog.String("arm", id.Arm),
		slog.Int("round", id.Round),
		slog.Int("complete", complete),
		slog.Int("total", total),
		slog.Duration("elapsed", elapsed.Round(time.Second)),
	}
	if complete == 0 {
		o.logger.Info(fmt.Sprintf("%d of %d fits complete", complete, total), attrs...)
		return
	}
	eta := time.Duration(float64(elapsed) / float64(complete) * float64(total-complete))
	attrs = append(attrs, slog.Duration("eta", eta.Round(time.Second)))
	o.logger.Info(fmt.Sprintf("%d of %d fits complete", complete, total), attrs...)
	if over := elapsed + eta - o.cfg.Timeout; over > 0 {
		o.logger.Warn("estimated completion exceeds fit timeout",
			slog.String("arm", id.Arm),
			slog.Int("round", id.Round),
			slog.Duration("over_by", over.Round(time.Second)),
		)
	}
}

// harvest converts settled statuses into statistics. This is the only
// place a FitFailure becomes sentinel statistics.
func (o *Orchestrator) harvest(ctx context.Context, reqs []Request, statuses []Status, submitErr []error) *Outcome {
	out := &Outcome{Record: make(stats.Record, len(reqs))}
	for i, req := range reqs {
		var failure *FitFailure
		st := statuses[i]

		switch {
		case submitErr[i] != nil:
			failure = &FitFailure{ID: req.ID, Kind: FailureSubmit, Cause: submitErr[i]}
		case st.State == Done:
			path := st.Artifact
			if path == "" {
				path = req.BestFitPath()
			}
			bf, err := ParseBestFit(path)
			switch {
			case errors.Is(err, os.ErrNotExist):
				failure = &FitFailure{ID: req.ID, Kind: FailureMissingArtifact, Cause: err}
			case err != nil:
				failure = &FitFailure{ID: req.ID, Kind: FailureMalformedArtifact, Cause: err}
			default:
				out.Record[req.Model.Name] = bf.Stats
			}
		case st.State == TimedOut:
			failure = &FitFailure{ID: req.ID, Kind: FailureTimeout, Cause: st.Err}
		case errors.Is(st.Err, context.Canceled) || errors.Is(st.Err, context.DeadlineExceeded):
			failure = &FitFailure{ID: req.ID, Kind: FailureCanceled, Cause: st.Err}
		default:
			failure = &FitFailure{ID: req.ID, Kind: FailureBackend, Cause: st.Err}
		}

		if failure == nil {
			o.metrics.RecordFit(ctx, req.Model.Name, Done.String())
			continue
		}
		out.Record[req.Model.Name] = stats.Sentinel()
		out.Failures = append(out.Failures, failure)
		o.metrics.RecordFit(ctx, req.Model.Name, string(failure.Kind))
		o.logger.Warn("fit failed, using sentinel statistics",
			slog.String("label", req.ID.Label()),
			slog.String("kind", string(failure.Kind)),
			slog.String("error", errString(failure.Cause)),
		)
	}
	return out
}

func (o *Orchestrator) sweep(ctx context.Context, reqs []Request) {
	total := 0
	for _, req := range reqs {
		n, err := Sweep(req.OutDir, o.cfg.SweepPatterns)
		total += n
		if err != nil {
			o.logger.Warn("sweep work directory",
				slog.String("dir", req.OutDir),
				slog.String("error", err.Error()),
			)
		}
	}
	o.metrics.RecordSwept(ctx, total)
}

// removeStale deletes artifacts left by an earlier batch with the same
// label so they cannot be mistaken for this batch's output.
func removeStale(req Request) error {
	var errs []error
	for _, p := range []string{req.BestFitPath(), req.ResultPath()} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
