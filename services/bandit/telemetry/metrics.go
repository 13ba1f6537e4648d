// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

// Metrics holds the instruments recorded during a bandit run. All names use
// the "lcbandit_" prefix.
//
// Thread Safety: Safe for concurrent use after creation. A nil *Metrics
// accepts every call and records nothing.
type Metrics struct {
	// RoundsTotal counts completed bandit rounds, round 0 included.
	RoundsTotal metric.Int64Counter

	// ArmPullsTotal counts reveals per arm.
	ArmPullsTotal metric.Int64Counter

	// Reward records each computed reward by arm.
	Reward metric.Float64Histogram

	// FitsTotal counts per-model fit outcomes by model and status.
	FitsTotal metric.Int64Counter

	// FitBatchDuration records wall time of one RunAllModels call.
	FitBatchDuration metric.Float64Histogram

	// PollsTotal counts completion polls.
	PollsTotal metric.Int64Counter

	// SweptTotal counts work directories removed.
	SweptTotal metric.Int64Counter
}

// NewMetrics registers the bandit instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RoundsTotal, err = meter.Int64Counter(
		"lcbandit_rounds_total",
		metric.WithDescription("Completed bandit rounds"),
		metric.WithUnit("{round}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rounds_total: %w", err)
	}

	m.ArmPullsTotal, err = meter.Int64Counter(
		"lcbandit_arm_pulls_total",
		metric.WithDescription("Reveals per arm"),
		metric.WithUnit("{pull}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create arm_pulls_total: %w", err)
	}

	m.Reward, err = meter.Float64Histogram(
		"lcbandit_reward",
		metric.WithDescription("Reward computed after each reveal"),
		metric.WithExplicitBucketBoundaries(-100, -50, -20, -10, -5, -1, 0, 1, 5, 10, 20, 50, 100),
	)
	if err != nil {
		return nil, fmt.Errorf("create reward: %w", err)
	}

	m.FitsTotal, err = meter.Int64Counter(
		"lcbandit_fits_total",
		metric.WithDescription("Per-model fit outcomes"),
		metric.WithUnit("{fit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create fits_total: %w", err)
	}

	m.FitBatchDuration, err = meter.Float64Histogram(
		"lcbandit_fit_batch_duration_seconds",
		metric.WithDescription("Wall time of one fit batch"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 10, 60, 120, 300, 600, 1200, 1800, 3600, 7200),
	)
	if err != nil {
		return nil, fmt.Errorf("create fit_batch_duration: %w", err)
	}

	m.PollsTotal, err = meter.Int64Counter(
		"lcbandit_fit_polls_total",
		metric.WithDescription("Fit completion polls"),
		metric.WithUnit("{poll}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create fit_polls_total: %w", err)
	}

	m.SweptTotal, err = meter.Int64Counter(
		"lcbandit_workdirs_swept_total",
		metric.WithDescription("Fit work directories removed"),
		metric.WithUnit("{dir}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create workdirs_swept_total: %w", err)
	}

	return m, nil
}

// NewGlobalMetrics registers the instruments on otel.Meter("lcbandit").
func NewGlobalMetrics() (*Metrics, error) {
	return NewMetrics(otel.Meter("lcbandit"))
}

// NewNoopMetrics returns instruments that record nothing.
func NewNoopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter("lcbandit"))
	return m
}

// RecordRound counts one completed round.
func (m *Metrics) RecordRound(ctx context.Context, round int) {
	if m == nil {
		return
	}
	m.RoundsTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("initial", round == 0)))
}

// RecordPull counts a reveal and its reward for arm.
func (m *Metrics) RecordPull(ctx context.Context, arm string, reward float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("arm", arm))
	m.ArmPullsTotal.Add(ctx, 1, attrs)
	m.Reward.Record(ctx, reward, attrs)
}

// RecordFit counts one per-model fit outcome.
func (m *Metrics) RecordFit(ctx context.Context, model, status string) {
	if m == nil {
		return
	}
	m.FitsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("status", status),
	))
}

// RecordBatch records the duration of a fit batch.
func (m *Metrics) RecordBatch(ctx context.Context, d time.Duration, timedOut bool) {
	if m == nil {
		return
	}
	m.FitBatchDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("timed_out", timedOut)))
}

// RecordPoll counts one completion poll.
func (m *Metrics) RecordPoll(ctx context.Context) {
	if m == nil {
		return
	}
	m.PollsTotal.Add(ctx, 1)
}

// RecordSwept counts removed work directories.
func (m *Metrics) RecordSwept(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.SweptTotal.Add(ctx, int64(n))
}

// StartSpan starts a span on the named tracer.
func StartSpan(ctx context.Context, tracerName, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, opts...)
}
