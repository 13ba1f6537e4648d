// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package status exposes live progress of a bandit run over HTTP.
//
// A Tracker holds the latest policy snapshot and is updated by the driver
// after every round. The Server serves it as JSON and as Prometheus
// gauges next to the OpenTelemetry metrics.
package status

import (
	"sync"
	"time"

	"github.com/AleutianAI/lcbandit/pkg/pyjson"
	"github.com/AleutianAI/lcbandit/services/bandit/policy"
	"github.com/prometheus/client_golang/prometheus"
)

// Phase names what the run is doing.
type Phase string

const (
	PhaseStarting Phase = "starting"
	PhaseSeeding  Phase = "seeding"
	PhaseRunning  Phase = "running"
	PhaseDone     Phase = "done"
	PhaseFailed   Phase = "failed"
)

// ArmView is one arm's state as served by /v1/status.
type ArmView struct {
	Label        string       `json:"label"`
	Pulls        int          `json:"pulls"`
	Cumulative   pyjson.Float `json:"cumulative_reward"`
	Average      pyjson.Float `json:"average_reward"`
	Observations int          `json:"observations"`
}

// View is a point-in-time copy of run progress.
type View struct {
	RunID       string    `json:"run_id"`
	Phase       Phase     `json:"phase"`
	Round       int       `json:"round"`
	TotalRounds int       `json:"total_rounds"`
	T           int       `json:"t"`
	Current     string    `json:"current_arm,omitempty"`
	Arms        []ArmView `json:"arms"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Tracker is the shared progress state.
//
// Thread Safety: Safe for concurrent use.
type Tracker struct {
	mu   sync.RWMutex
	view View
	now  func() time.Time
}

// NewTracker creates a tracker for the given run.
func NewTracker(runID string, labels []string, totalRounds int) *Tracker {
	t := &Tracker{now: time.Now}
	t.Reset(runID, labels, totalRounds)
	return t
}

// Reset starts tracking a new run.
func (t *Tracker) Reset(runID string, labels []string, totalRounds int) {
	arms := make([]ArmView, len(labels))
	for i, l := range labels {
		arms[i] = ArmView{Label: l}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.view = View{
		RunID:       runID,
		Phase:       PhaseStarting,
		TotalRounds: totalRounds,
		Arms:        arms,
		UpdatedAt:   t.now(),
	}
}

// SetPhase records a phase change.
func (t *Tracker) SetPhase(p Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.view.Phase = p
	t.view.UpdatedAt = t.now()
}

// Observe records the policy state after round. observations may be nil;
// otherwise it is indexed like the arms.
func (t *Tracker) Observe(round int, snap policy.Snapshot, observations []int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.view.Round = round
	t.view.T = snap.T
	t.view.Current = ""
	if snap.Current >= 0 && snap.Current < len(t.view.Arms) {
		t.view.Current = t.view.Arms[snap.Current].Label
	}
	for i := range t.view.Arms {
		a := &t.view.Arms[i]
		if i < len(snap.Pulls) {
			a.Pulls = snap.Pulls[i]
		}
		if i < len(snap.Cumulative) {
			a.Cumulative = pyjson.Float(snap.Cumulative[i])
		}
		if i < len(snap.Average) {
			a.Average = pyjson.Float(snap.Average[i])
		}
		if i < len(observations) {
			a.Observations = observations[i]
		}
	}
	t.view.UpdatedAt = t.now()
}

// View returns a copy of the current state.
func (t *Tracker) View() View {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v := t.view
	v.Arms = append([]ArmView(nil), t.view.Arms...)
	return v
}

var (
	roundDesc = prometheus.NewDesc(
		"lcbandit_status_round", "Current bandit round.", []string{"run_id"}, nil)
	pullsDesc = prometheus.NewDesc(
		"lcbandit_status_arm_pulls", "Pull count per arm including warm start.", []string{"run_id", "arm"}, nil)
	averageDesc = prometheus.NewDesc(
		"lcbandit_status_arm_average_reward", "Average reward per arm.", []string{"run_id", "arm"}, nil)
	observationsDesc = prometheus.NewDesc(
		"lcbandit_status_arm_observations", "Revealed observations per arm.", []string{"run_id", "arm"}, nil)
)

// Describe implements prometheus.Collector.
func (t *Tracker) Describe(ch chan<- *prometheus.Desc) {
	ch <- roundDesc
	ch <- pullsDesc
	ch <- averageDesc
	ch <- observationsDesc
}

// Collect implements prometheus.Collector.
func (t *Tracker) Collect(ch chan<- prometheus.Metric) {
	v := t.View()
	ch <- prometheus.MustNewConstMetric(roundDesc, prometheus.GaugeValue, float64(v.Round), v.RunID)
	for _, a := range v.Arms {
		ch <- prometheus.MustNewConstMetric(pullsDesc, prometheus.GaugeValue, float64(a.Pulls), v.RunID, a.Label)
		ch <- prometheus.MustNewConstMetric(averageDesc, prometheus.GaugeValue, float64(a.Average), v.RunID, a.Label)
		ch <- prometheus.MustNewConstMetric(observationsDesc, prometheus.GaugeValue, float64(a.Observations), v.RunID, a.Label)
	}
}
