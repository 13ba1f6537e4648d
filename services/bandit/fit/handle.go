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
	"os"
	"sync"
	"time"
)

// ErrNoArtifact is the cause reported when a backend process exits
// cleanly without writing its best-fit summary.
var ErrNoArtifact = errors.New("backend exited without writing an artifact")

// DefaultSettleWindow is how long a detached artifact that does not parse
// is given to finish being written before it is harvested as malformed.
const DefaultSettleWindow = 30 * time.Second

// ArtifactHandle reports completion by the best-fit file.
//
// When exited is non-nil the handle observes the backend process and the
// fit is Done only once the process has exited with the artifact in place.
// A process that exits without it is Failed. When exited is nil (detached
// submission) the artifact alone decides: it is Done once it parses, or
// once it has stopped changing for the settle window.
//
// Thread Safety: Safe for concurrent use.
type ArtifactHandle struct {
	path   string
	exited <-chan error
	cancel func() error
	settle time.Duration
	now    func() time.Time

	mu       sync.Mutex
	hasExit  bool
	exitErr  error
	lastSize int64
	lastMod  time.Time
}

// NewArtifactHandle returns a handle watching path. exited and cancel are
// optional.
func NewArtifactHandle(path string, exited <-chan error, cancel func() error) *ArtifactHandle {
	return &ArtifactHandle{
		path:     path,
		exited:   exited,
		cancel:   cancel,
		settle:   DefaultSettleWindow,
		now:      time.Now,
		lastSize: -1,
	}
}

// WithSettleWindow overrides DefaultSettleWindow and returns h.
func (h *ArtifactHandle) WithSettleWindow(d time.Duration) *ArtifactHandle {
	h.mu.Lock()
	h.settle = d
	h.mu.Unlock()
	return h
}

// Poll implements Handle.
func (h *ArtifactHandle) Poll(_ context.Context) Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited == nil {
		return h.pollDetached()
	}

	if !h.hasExit {
		select {
		case err := <-h.exited:
			h.hasExit, h.exitErr = true, err
		default:
			return Status{State: Pending}
		}
	}
	if fileExists(h.path) {
		return Status{State: Done, Artifact: h.path}
	}
	if h.exitErr != nil {
		return Status{State: Failed, Err: fmt.Errorf("backend process: %w", h.exitErr)}
	}
	return Status{State: Failed, Err: ErrNoArtifact}
}

// pollDetached must be called with mu held.
func (h *ArtifactHandle) pollDetached() Status {
	info, err := os.Stat(h.path)
	if err != nil || info.IsDir() {
		return Status{State: Pending}
	}
	if _, err := ParseBestFit(h.path); err == nil {
		return Status{State: Done, Artifact: h.path}
	}

	changed := info.Size() != h.lastSize || !info.ModTime().Equal(h.lastMod)
	h.lastSize, h.lastMod = info.Size(), info.ModTime()
	if changed || h.now().Sub(info.ModTime()) < h.settle {
		return Status{State: Pending}
	}
	// Stable and still unparsable; harvest records it as malformed.
	return Status{State: Done, Artifact: h.path}
}

// Cancel implements Canceler.
func (h *ArtifactHandle) Cancel() error {
	if h.cancel == nil {
		return nil
	}
	return h.cancel()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
