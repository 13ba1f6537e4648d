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
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Command backend modes.
const (
	// ModeWait starts the command and treats its exit as part of the fit.
	ModeWait = "wait"
	// ModeDetach runs the command to completion as a submission step (a
	// scheduler wrapper, for instance) and then waits on the artifact only.
	ModeDetach = "detach"
)

// ErrEmptyCommand is returned when no command template is configured.
var ErrEmptyCommand = errors.New("fit command is empty")

// CommandConfig configures a CommandBackend.
type CommandConfig struct {
	// Command is the argv template. Placeholders {data}, {model}, {prior},
	// {outdir}, {label} and {tmax} are substituted per request.
	Command []string `yaml:"command" validate:"required,min=1"`

	// Mode is ModeWait or ModeDetach.
	Mode string `yaml:"mode" validate:"omitempty,oneof=wait detach"`

	// SubmitRate limits submissions per second. Zero disables limiting.
	SubmitRate float64 `yaml:"submit_rate" validate:"gte=0"`

	// Env is appended to the current environment.
	Env []string `yaml:"env"`

	// SettleWindow is how long a detached artifact that does not parse may
	// keep changing before it is harvested as malformed. Zero means
	// DefaultSettleWindow.
	SettleWindow time.Duration `yaml:"settle_window" validate:"gte=0"`
}

// DefaultCommandConfig spaces submissions 100ms apart.
func DefaultCommandConfig() CommandConfig {
	return CommandConfig{
		Mode:       ModeWait,
		SubmitRate: 10,
	}
}

// CommandBackend launches fits as external processes.
//
// Thread Safety: Safe for concurrent use.
type CommandBackend struct {
	cfg     CommandConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewCommandBackend validates cfg and builds a backend.
func NewCommandBackend(cfg CommandConfig, logger *slog.Logger) (*CommandBackend, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, ErrEmptyCommand
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeWait
	}
	if cfg.Mode != ModeWait && cfg.Mode != ModeDetach {
		return nil, fmt.Errorf("unknown command mode %q", cfg.Mode)
	}
	if logger == nil {
		logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.SubmitRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRate), 1)
	}
	return &CommandBackend{cfg: cfg, limiter: limiter, logger: logger}, nil
}

// Submit implements Backend.
func (b *CommandBackend) Submit(ctx context.Context, req Request) (Handle, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("submission rate limit: %w", err)
	}
	if err := os.MkdirAll(req.OutDir, 0750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	argv := ExpandCommand(b.cfg.Command, req)
	logFile, err := os.Create(req.LogPath())
	if err != nil {
		return nil, fmt.Errorf("create fit log: %w", err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), b.cfg.Env...)

	b.logger.Debug("submitting fit",
		slog.String("label", req.ID.Label()),
		slog.String("mode", b.cfg.Mode),
		slog.String("command", strings.Join(argv, " ")),
	)

	if b.cfg.Mode == ModeDetach {
		err := cmd.Run()
		logFile.Close()
		if err != nil {
			return nil, fmt.Errorf("run submission command: %w", err)
		}
		h := NewArtifactHandle(req.BestFitPath(), nil, nil)
		if b.cfg.SettleWindow > 0 {
			h.WithSettleWindow(b.cfg.SettleWindow)
		}
		return h, nil
	}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("start fit command: %w", err)
	}
	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
		logFile.Close()
	}()
	cancel := func() error {
		if cmd.Process == nil {
			return nil
		}
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
		return nil
	}
	return NewArtifactHandle(req.BestFitPath(), exited, cancel), nil
}

// ExpandCommand substitutes request fields into an argv template.
func ExpandCommand(tmpl []string, req Request) []string {
	tmax := ""
	if req.TMax != 0 {
		tmax = strconv.FormatFloat(req.TMax, 'g', -1, 64)
	}
	r := strings.NewReplacer(
		"{data}", req.Series,
		"{model}", req.Model.Name,
		"{prior}", req.Model.Prior,
		"{outdir}", req.OutDir,
		"{label}", req.ID.Label(),
		"{tmax}", tmax,
	)
	out := make([]string, len(tmpl))
	for i, arg := range tmpl {
		out[i] = r.Replace(arg)
	}
	return out
}
