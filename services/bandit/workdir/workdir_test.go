// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build unix

package workdir

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_Exclusive(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	l, err := Acquire(dir, "run-a", nil)
	require.NoError(t, err)

	h, err := Inspect(dir)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "run-a", h.RunID)
	assert.Equal(t, os.Getpid(), h.PID)

	// flock is per open file description, so a second open conflicts
	// even within one process.
	_, err = Acquire(dir, "run-b", nil)
	require.ErrorIs(t, err, ErrLocked)
	var le *LockError
	require.ErrorAs(t, err, &le)
	require.NotNil(t, le.Holder)
	assert.Equal(t, "run-a", le.Holder.RunID)

	require.NoError(t, l.Release())
	require.NoError(t, l.Release())
	_, err = os.Stat(filepath.Join(dir, LockFileName))
	assert.True(t, os.IsNotExist(err))

	h, err = Inspect(dir)
	require.NoError(t, err)
	assert.Nil(t, h)

	l2, err := Acquire(dir, "run-b", nil)
	require.NoError(t, err)
	assert.NoError(t, l2.Release())
}

func TestAcquire_ReclaimsStaleFile(t *testing.T) {
	dir := t.TempDir()
	stale := []byte(`{"pid":999999,"run_id":"old","locked_at":"2020-01-01T00:00:00Z"}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, LockFileName), stale, 0644))

	l, err := Acquire(dir, "new", nil)
	require.NoError(t, err)
	defer l.Release()

	h := readHolder(filepath.Join(dir, LockFileName))
	require.NotNil(t, h)
	assert.Equal(t, "new", h.RunID)
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, processAlive(os.Getpid()))
	assert.False(t, processAlive(0))
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, CheckFreeSpace(dir, 0, nil))
	assert.NoError(t, CheckFreeSpace(dir, 1, nil))
	assert.ErrorIs(t, CheckFreeSpace(dir, math.MaxUint64, nil), ErrInsufficientSpace)

	free, err := FreeSpace(dir)
	require.NoError(t, err)
	assert.Positive(t, free)
}

func TestCheckFreeSpace_MissingDirUsesAncestor(t *testing.T) {
	root := t.TempDir()
	missing := filepath.Join(root, "runs", "a", "out")

	assert.Equal(t, root, nearestExisting(missing))
	assert.NoError(t, CheckFreeSpace(missing, 1, nil))
	assert.ErrorIs(t, CheckFreeSpace(missing, math.MaxUint64, nil), ErrInsufficientSpace)
	assert.NoDirExists(t, filepath.Join(root, "runs"), "the check does not create directories")
}
