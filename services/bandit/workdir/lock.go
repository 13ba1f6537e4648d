// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workdir guards the run output directory: an exclusive run lock
// so two bandit runs never share fit artifacts, and a free-space check
// before fits start writing posterior samples.
package workdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// LockFileName is created inside the guarded directory.
const LockFileName = ".lcbandit.lock"

var (
	// ErrLocked is returned when another live process holds the lock.
	ErrLocked = errors.New("output directory is locked by another run")

	// ErrInsufficientSpace is returned by CheckFreeSpace.
	ErrInsufficientSpace = errors.New("insufficient free disk space")
)

// Holder is written into the lock file.
type Holder struct {
	PID      int       `json:"pid"`
	RunID    string    `json:"run_id"`
	LockedAt time.Time `json:"locked_at"`
}

// LockError carries the current holder when available.
type LockError struct {
	Dir    string
	Holder *Holder
}

func (e *LockError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("%s: %v (pid %d, run %s)", e.Dir, ErrLocked, e.Holder.PID, e.Holder.RunID)
	}
	return fmt.Sprintf("%s: %v", e.Dir, ErrLocked)
}

func (e *LockError) Unwrap() error { return ErrLocked }

// Lock is a held directory lock.
type Lock struct {
	dir  string
	path string
	f    *os.File
}

// Acquire takes the exclusive lock on dir, creating dir if needed. It does
// not block. A lock file left behind by a dead process is reclaimed.
func Acquire(dir, runID string, logger *slog.Logger) (*Lock, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, LockFileName)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		holder := readHolder(path)
		f.Close()
		if errors.Is(err, ErrLocked) {
			return nil, &LockError{Dir: dir, Holder: holder}
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	// flock is released when the holder dies, so anything still in the
	// file at this point is stale.
	if prev := readHolder(path); prev != nil && prev.PID != os.Getpid() {
		logger.Info("reclaiming stale run lock",
			slog.String("dir", dir),
			slog.Int("old_pid", prev.PID),
			slog.String("old_run", prev.RunID),
			slog.Bool("old_alive", processAlive(prev.PID)),
		)
	}

	data, err := json.Marshal(Holder{PID: os.Getpid(), RunID: runID, LockedAt: time.Now().UTC()})
	if err != nil {
		unlockFile(f)
		f.Close()
		return nil, err
	}
	if err := f.Truncate(0); err == nil {
		_, err = f.WriteAt(data, 0)
	}
	if err != nil {
		unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("write lock holder: %w", err)
	}
	logger.Debug("acquired run lock", slog.String("dir", dir), slog.String("run_id", runID))
	return &Lock{dir: dir, path: path, f: f}, nil
}

// Release unlocks and removes the lock file. Safe to call twice.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	rmErr := os.Remove(l.path)
	if errors.Is(rmErr, os.ErrNotExist) {
		rmErr = nil
	}
	err := errors.Join(unlockFile(l.f), l.f.Close(), rmErr)
	l.f = nil
	return err
}

// Inspect reports the holder of dir's lock, or nil when unlocked.
func Inspect(dir string) (*Holder, error) {
	path := filepath.Join(dir, LockFileName)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	if err := lockFile(f); err != nil {
		if errors.Is(err, ErrLocked) {
			return readHolder(path), nil
		}
		return nil, err
	}
	unlockFile(f)
	return nil, nil
}

func readHolder(path string) *Holder {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return nil
	}
	var h Holder
	if json.Unmarshal(data, &h) != nil {
		return nil
	}
	return &h
}
