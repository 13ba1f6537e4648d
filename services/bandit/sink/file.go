// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package sink

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AleutianAI/lcbandit/pkg/pyjson"
)

// fileEvent is the on-disk form of a RewardEvent.
type fileEvent struct {
	RunID    string       `json:"run_id"`
	Arm      string       `json:"arm"`
	Round    int          `json:"round"`
	Reward   pyjson.Float `json:"reward"`
	Average  pyjson.Float `json:"average"`
	Pulls    int          `json:"pulls"`
	Failures int          `json:"failures"`
	Time     time.Time    `json:"time"`
}

// FileSink appends reward events to a local file, one JSON document per
// line. Non-finite rewards are written as bare Python tokens.
//
// Thread Safety: Safe for concurrent use.
type FileSink struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// NewFileSink opens path for appending, creating it and its directory.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create reward log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open reward log: %w", err)
	}
	return &FileSink{f: f, path: path}, nil
}

// Path returns the file being written.
func (s *FileSink) Path() string { return s.path }

// WriteReward implements RewardSink.
func (s *FileSink) WriteReward(_ context.Context, ev RewardEvent) error {
	line, err := pyjson.Marshal(fileEvent{
		RunID:    ev.RunID,
		Arm:      ev.Arm,
		Round:    ev.Round,
		Reward:   pyjson.Float(ev.Reward),
		Average:  pyjson.Float(ev.Average),
		Pulls:    ev.Pulls,
		Failures: ev.Failures,
		Time:     ev.Time.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode reward event: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return os.ErrClosed
	}
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("write reward log: %w", err)
	}
	return nil
}

// Close implements RewardSink. It is safe to call more than once.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// ReadRewardLog reads every event a FileSink wrote to path.
func ReadRewardLog(path string) ([]RewardEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []RewardEvent
	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var fe fileEvent
		if err := pyjson.Unmarshal(sc.Bytes(), &fe); err != nil {
			return events, fmt.Errorf("reward log line %d: %w", n, err)
		}
		events = append(events, RewardEvent{
			RunID:    fe.RunID,
			Arm:      fe.Arm,
			Round:    fe.Round,
			Reward:   float64(fe.Reward),
			Average:  float64(fe.Average),
			Pulls:    fe.Pulls,
			Failures: fe.Failures,
			Time:     fe.Time,
		})
	}
	return events, sc.Err()
}
