// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sink ships bandit progress out of the process: per-round reward
// events to a time-series database and the final result file to object
// storage. Both are optional; a run without sinks writes only local files.
package sink

import (
	"context"
	"errors"
	"time"
)

// RewardEvent describes one arm's reward after a reveal.
type RewardEvent struct {
	RunID    string
	Arm      string
	Round    int
	Reward   float64
	Average  float64
	Pulls    int
	Failures int
	Time     time.Time
}

// RewardSink receives reward events.
type RewardSink interface {
	WriteReward(ctx context.Context, ev RewardEvent) error
	Close() error
}

// Publisher uploads a finished result file and returns its remote location.
type Publisher interface {
	Publish(ctx context.Context, runID, localPath string) (string, error)
	Close() error
}

// Nop is a RewardSink and Publisher that does nothing.
type Nop struct{}

// WriteReward implements RewardSink.
func (Nop) WriteReward(context.Context, RewardEvent) error { return nil }

// Publish implements Publisher.
func (Nop) Publish(_ context.Context, _ string, localPath string) (string, error) {
	return localPath, nil
}

// Close implements RewardSink and Publisher.
func (Nop) Close() error { return nil }

// Multi fans reward events out to several sinks. Every sink sees every
// event; errors are joined.
type Multi []RewardSink

// WriteReward implements RewardSink.
func (m Multi) WriteReward(ctx context.Context, ev RewardEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteReward(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements RewardSink.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
