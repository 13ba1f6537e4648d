// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"DEBUG", slog.LevelDebug, false},
		{" warning ", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_StderrAndRunLog(t *testing.T) {
	var stderr bytes.Buffer
	dir := t.TempDir()

	l, err := New(Config{
		Level:  slog.LevelInfo,
		RunDir: dir,
		RunID:  "abc",
		Stderr: &stderr,
	})
	require.NoError(t, err)

	l.Slog().Debug("hidden")
	l.Slog().Info("round complete", "round", 2, "arm", "lc_a")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.Contains(t, stderr.String(), "round complete")
	assert.Contains(t, stderr.String(), "run_id=abc")
	assert.NotContains(t, stderr.String(), "hidden")

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "round complete", rec["msg"])
	assert.Equal(t, DefaultService, rec["service"])
	assert.Equal(t, "abc", rec["run_id"])
	assert.Equal(t, "lc_a", rec["arm"])
}

func TestNew_QuietJSON(t *testing.T) {
	var stderr bytes.Buffer
	l, err := New(Config{Quiet: true, JSON: true, Stderr: &stderr})
	require.NoError(t, err)
	l.Slog().Error("nobody hears this")
	assert.Empty(t, stderr.String())
	assert.Empty(t, l.Path())
	assert.NoError(t, l.Close())
}

func TestNew_UnwritableRunDir(t *testing.T) {
	file := t.TempDir() + "/not-a-dir"
	require.NoError(t, os.WriteFile(file, nil, 0600))
	_, err := New(Config{RunDir: file})
	assert.Error(t, err)
}

func TestMultiHandler_WithGroup(t *testing.T) {
	var a, b bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewJSONHandler(&a, nil),
		slog.NewJSONHandler(&b, &slog.HandlerOptions{Level: slog.LevelError}),
	}}
	log := slog.New(h).WithGroup("fit")
	log.Info("submitted", "model", "Me2017")

	assert.Contains(t, a.String(), `"fit":{"model":"Me2017"}`)
	assert.Empty(t, b.String())
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() { Discard().Info("x") })
}
