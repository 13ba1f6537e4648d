// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fittest provides a scripted fit.Backend for tests.
package fittest

import (
	"context"
	"os"
	"sync"

	"github.com/AleutianAI/lcbandit/services/bandit/fit"
	"github.com/AleutianAI/lcbandit/services/bandit/stats"
)

// Result scripts how one submitted fit behaves.
type Result struct {
	// Stats is written as the best-fit artifact when the fit completes.
	Stats stats.Values

	// SubmitErr makes Submit fail.
	SubmitErr error

	// Fail makes the handle report Failed with this cause.
	Fail error

	// Never keeps the handle Pending forever.
	Never bool

	// Malformed writes a corrupt artifact.
	Malformed bool

	// NoArtifact reports Done without writing an artifact.
	NoArtifact bool

	// PendingPolls is the number of polls reported Pending before settling.
	PendingPolls int
}

// Script decides the Result for a request.
type Script func(req fit.Request) Result

// Backend is a fit.Backend driven by a Script.
//
// Thread Safety: Safe for concurrent use.
type Backend struct {
	script Script

	mu        sync.Mutex
	submitted []fit.Request
	canceled  int
}

// New returns a Backend running script.
func New(script Script) *Backend {
	return &Backend{script: script}
}

// PerModel scripts a fixed log likelihood and Bayes factor per model.
func PerModel(values map[string]float64) Script {
	return func(req fit.Request) Result {
		v, ok := values[req.Model.Name]
		if !ok {
			return Result{Fail: os.ErrNotExist}
		}
		return Result{Stats: stats.Values{
			stats.LogLikelihood:  v,
			stats.LogBayesFactor: v,
			stats.LogEvidence:    v,
		}}
	}
}

// Submit implements fit.Backend.
func (b *Backend) Submit(_ context.Context, req fit.Request) (fit.Handle, error) {
	b.mu.Lock()
	b.submitted = append(b.submitted, req)
	b.mu.Unlock()

	res := b.script(req)
	if res.SubmitErr != nil {
		return nil, res.SubmitErr
	}
	return &handle{backend: b, req: req, res: res}, nil
}

// Submitted returns a copy of every request seen so far.
func (b *Backend) Submitted() []fit.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]fit.Request, len(b.submitted))
	copy(out, b.submitted)
	return out
}

// SubmittedFor returns the requests for arm.
func (b *Backend) SubmittedFor(arm string) []fit.Request {
	var out []fit.Request
	for _, r := range b.Submitted() {
		if r.ID.Arm == arm {
			out = append(out, r)
		}
	}
	return out
}

// Canceled returns how many handles were canceled.
func (b *Backend) Canceled() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.canceled
}

type handle struct {
	backend *Backend
	req     fit.Request
	res     Result

	mu    sync.Mutex
	polls int
}

func (h *handle) Poll(_ context.Context) fit.Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.polls++
	if h.res.Never || h.polls <= h.res.PendingPolls {
		return fit.Status{State: fit.Pending}
	}
	if h.res.Fail != nil {
		return fit.Status{State: fit.Failed, Err: h.res.Fail}
	}

	path := h.req.BestFitPath()
	switch {
	case h.res.NoArtifact:
	case h.res.Malformed:
		if err := os.WriteFile(path, []byte(`{"log_likelihood": `), 0644); err != nil {
			return fit.Status{State: fit.Failed, Err: err}
		}
	default:
		if err := fit.WriteBestFit(path, &fit.BestFit{Stats: h.res.Stats}); err != nil {
			return fit.Status{State: fit.Failed, Err: err}
		}
	}
	return fit.Status{State: fit.Done, Artifact: path}
}

func (h *handle) Cancel() error {
	h.backend.mu.Lock()
	h.backend.canceled++
	h.backend.mu.Unlock()
	return nil
}
