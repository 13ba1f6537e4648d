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
)

// State is the lifecycle state of a submitted fit.
type State int

const (
	// Pending means the fit has not settled yet.
	Pending State = iota
	// Done means the backend reports an artifact is available.
	Done
	// Failed means the backend reports the fit will not produce an artifact.
	Failed
	// TimedOut means the batch deadline passed before the fit settled.
	TimedOut
)

// String returns the metric label for the state.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state can no longer change.
func (s State) Terminal() bool {
	return s != Pending
}

// Status is the result of polling a Handle.
type Status struct {
	State State

	// Artifact is the best-fit path for Done. Empty means the request's
	// default BestFitPath.
	Artifact string

	// Err carries the cause for Failed.
	Err error
}

// Backend submits fits to the external fitting routine.
type Backend interface {
	// Submit launches the fit described by req. It may block (for a
	// synchronous backend) or return as soon as the work is queued.
	Submit(ctx context.Context, req Request) (Handle, error)
}

// Handle tracks one submitted fit.
type Handle interface {
	// Poll reports the fit's current state without blocking.
	Poll(ctx context.Context) Status
}

// Canceler is implemented by handles that can abandon in-flight work.
type Canceler interface {
	Cancel() error
}

// FailureKind classifies a FitFailure.
type FailureKind string

const (
	FailureSubmit            FailureKind = "submit"
	FailureBackend           FailureKind = "backend"
	FailureMissingArtifact   FailureKind = "missing_artifact"
	FailureMalformedArtifact FailureKind = "malformed_artifact"
	FailureTimeout           FailureKind = "timeout"
	FailureCanceled          FailureKind = "canceled"
)

// ErrFitTimeout is the cause recorded for fits cut off by the batch
// deadline.
var ErrFitTimeout = errors.New("fit did not complete before the batch timeout")

// FitFailure records why one model produced no usable statistics.
type FitFailure struct {
	ID    FitID
	Kind  FailureKind
	Cause error
}

// Error implements error.
func (f *FitFailure) Error() string {
	if f.Cause == nil {
		return fmt.Sprintf("fit %s: %s", f.ID.Label(), f.Kind)
	}
	return fmt.Sprintf("fit %s: %s: %v", f.ID.Label(), f.Kind, f.Cause)
}

// Unwrap returns the cause.
func (f *FitFailure) Unwrap() error {
	return f.Cause
}
