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
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// artifactWatcher wakes the poll loop when an expected artifact appears,
// so a batch does not sit out a full poll interval after its last fit
// lands. It is an accelerator only; polling remains the source of truth.
type artifactWatcher struct {
	watcher  *fsnotify.Watcher
	expected map[string]bool
	wake     chan struct{}
	done     chan struct{}
	logger   *slog.Logger
}

// newArtifactWatcher watches the directories holding paths.
func newArtifactWatcher(paths []string, logger *slog.Logger) (*artifactWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	aw := &artifactWatcher{
		watcher:  w,
		expected: make(map[string]bool, len(paths)),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		logger:   logger,
	}
	dirs := make(map[string]bool)
	for _, p := range paths {
		clean := filepath.Clean(p)
		aw.expected[clean] = true
		dirs[filepath.Dir(clean)] = true
	}
	for d := range dirs {
		if err := w.Add(d); err != nil {
			w.Close()
			return nil, err
		}
	}
	go aw.processEvents()
	return aw, nil
}

// Wake fires at most once per burst of matching events.
func (aw *artifactWatcher) Wake() <-chan struct{} {
	return aw.wake
}

func (aw *artifactWatcher) processEvents() {
	for {
		select {
		case <-aw.done:
			return
		case event, ok := <-aw.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !aw.expected[filepath.Clean(event.Name)] {
				continue
			}
			select {
			case aw.wake <- struct{}{}:
			default:
			}
		case err, ok := <-aw.watcher.Errors:
			if !ok {
				return
			}
			aw.logger.Debug("artifact watcher error", slog.String("error", err.Error()))
		}
	}
}

// Close stops the watcher.
func (aw *artifactWatcher) Close() error {
	close(aw.done)
	return aw.watcher.Close()
}
