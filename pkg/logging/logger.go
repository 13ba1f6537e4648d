// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging builds the structured logger shared by every lcbandit
// component.
//
// # Description
//
// Components take a *slog.Logger. This package decides where records go:
// a human-readable (or JSON) stream on stderr and, when a run directory is
// known, a JSON log file next to the run's artifacts so a finished run can
// be audited without the terminal scrollback.
//
// # Thread Safety
//
// Logger is safe for concurrent use. Close must be called once.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultService tags records when Config.Service is empty.
const DefaultService = "lcbandit"

// ParseLevel maps a config string onto a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Config controls logger output.
type Config struct {
	// Level is the minimum level written anywhere.
	Level slog.Level

	// RunDir, when set, receives <service>.log as JSON lines.
	RunDir string

	// Service is attached to every record.
	Service string

	// RunID is attached to every record when set.
	RunID string

	// JSON switches stderr output from text to JSON.
	JSON bool

	// Quiet suppresses stderr output. The run log file is still written.
	Quiet bool

	// Stderr overrides os.Stderr, for tests.
	Stderr io.Writer
}

// Logger owns the handlers and the open log file.
type Logger struct {
	slog *slog.Logger
	file *os.File
	path string
	mu   sync.Mutex
}

// New builds a logger. Failing to open the run log file is an error since
// a run without its log cannot be audited.
func New(cfg Config) (*Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	var handlers []slog.Handler

	if !cfg.Quiet {
		w := cfg.Stderr
		if w == nil {
			w = os.Stderr
		}
		if cfg.JSON {
			handlers = append(handlers, slog.NewJSONHandler(w, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(w, opts))
		}
	}

	service := cfg.Service
	if service == "" {
		service = DefaultService
	}

	l := &Logger{}
	if cfg.RunDir != "" {
		dir := expandPath(cfg.RunDir)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		l.path = filepath.Join(dir, service+".log")
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return nil, fmt.Errorf("open run log: %w", err)
		}
		l.file = f
		handlers = append(handlers, slog.NewJSONHandler(f, opts))
	}

	var h slog.Handler
	switch len(handlers) {
	case 0:
		h = slog.NewTextHandler(io.Discard, opts)
	case 1:
		h = handlers[0]
	default:
		h = &multiHandler{handlers: handlers}
	}

	attrs := []slog.Attr{slog.String("service", service)}
	if cfg.RunID != "" {
		attrs = append(attrs, slog.String("run_id", cfg.RunID))
	}
	l.slog = slog.New(h.WithAttrs(attrs))
	return l, nil
}

// Slog returns the underlying structured logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Path is the run log file, or "" when none is written.
func (l *Logger) Path() string {
	return l.path
}

// Close syncs and closes the run log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := errors.Join(l.file.Sync(), l.file.Close())
	l.file = nil
	if err != nil {
		return fmt.Errorf("close run log: %w", err)
	}
	return nil
}

// Discard returns a logger that drops everything, for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// multiHandler fans records out to every enabled handler.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle writes to every handler even if one fails; the stderr handler
// failing must not lose the file record.
func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
