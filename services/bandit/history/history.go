// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history journals bandit runs: the statistics of every reveal and
// the policy state after every round. The result file remains the primary
// artifact of a run; the journal makes partial runs inspectable.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/lcbandit/pkg/pyjson"
	"github.com/AleutianAI/lcbandit/services/bandit/policy"
	"github.com/AleutianAI/lcbandit/services/bandit/stats"
	bstore "github.com/AleutianAI/lcbandit/services/bandit/storage/badger"
)

// ErrRunNotFound is returned when a run id has no journal entry.
var ErrRunNotFound = errors.New("run not found")

// RunInfo describes a journaled run.
type RunInfo struct {
	RunID           string    `json:"run_id"`
	StartedAt       time.Time `json:"started_at"`
	Arms            []string  `json:"arms"`
	Models          []string  `json:"models"`
	ModelOfInterest string    `json:"model_of_interest"`
	Statistic       string    `json:"statistic"`
}

// Store persists run journals.
type Store interface {
	BeginRun(ctx context.Context, info RunInfo) error
	SaveRound(ctx context.Context, runID, arm string, round int, rec stats.Record) error
	SavePolicy(ctx context.Context, runID string, round int, snap policy.Snapshot) error
	Rounds(ctx context.Context, runID, arm string) (stats.History, error)
	Policies(ctx context.Context, runID string) (map[int]policy.Snapshot, error)
	Runs(ctx context.Context) ([]RunInfo, error)
	Close() error
}

// =============================================================================
// Badger store
// =============================================================================

// BadgerStore keeps journals in BadgerDB.
//
// Keys:
//
//	run/<run>                     RunInfo
//	round/<run>/<arm>/<round>     stats.Record
//	policy/<run>/<round>          policy.Snapshot
//
// Round numbers are zero-padded so prefix scans return them in order.
//
// Thread Safety: Safe for concurrent use.
type BadgerStore struct {
	db *bstore.DB
}

// NewBadgerStore wraps an open database.
func NewBadgerStore(db *bstore.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// OpenBadgerStore opens a database with cfg and wraps it.
func OpenBadgerStore(cfg bstore.Config) (*BadgerStore, error) {
	db, err := bstore.Open(cfg)
	if err != nil {
		return nil, err
	}
	return NewBadgerStore(db), nil
}

func runKey(runID string) []byte {
	return []byte("run/" + runID)
}

func roundPrefix(runID, arm string) []byte {
	return []byte("round/" + runID + "/" + arm + "/")
}

func roundKey(runID, arm string, round int) []byte {
	return append(roundPrefix(runID, arm), fmt.Sprintf("%06d", round)...)
}

func policyPrefix(runID string) []byte {
	return []byte("policy/" + runID + "/")
}

func policyKey(runID string, round int) []byte {
	return append(policyPrefix(runID), fmt.Sprintf("%06d", round)...)
}

// BeginRun records run metadata.
func (s *BadgerStore) BeginRun(ctx context.Context, info RunInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode run info: %w", err)
	}
	return s.db.Update(ctx, func(txn *badger.Txn) error {
		return txn.Set(runKey(info.RunID), data)
	})
}

// SaveRound records one arm's statistics for round.
func (s *BadgerStore) SaveRound(ctx context.Context, runID, arm string, round int, rec stats.Record) error {
	data, err := pyjson.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return s.db.Update(ctx, func(txn *badger.Txn) error {
		return txn.Set(roundKey(runID, arm, round), data)
	})
}

// SavePolicy records the policy state after round.
func (s *BadgerStore) SavePolicy(ctx context.Context, runID string, round int, snap policy.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode policy snapshot: %w", err)
	}
	return s.db.Update(ctx, func(txn *badger.Txn) error {
		return txn.Set(policyKey(runID, round), data)
	})
}

// Rounds returns an arm's journaled history.
func (s *BadgerStore) Rounds(ctx context.Context, runID, arm string) (stats.History, error) {
	out := make(stats.History)
	prefix := roundPrefix(runID, arm)
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		return scan(txn, prefix, func(suffix string, val []byte) error {
			round, err := strconv.Atoi(suffix)
			if err != nil {
				return fmt.Errorf("bad round key %q: %w", suffix, err)
			}
			var rec stats.Record
			if err := pyjson.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("decode round %d: %w", round, err)
			}
			out[round] = rec
			return nil
		})
	})
	return out, err
}

// Policies returns the journaled policy snapshots by round.
func (s *BadgerStore) Policies(ctx context.Context, runID string) (map[int]policy.Snapshot, error) {
	out := make(map[int]policy.Snapshot)
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		return scan(txn, policyPrefix(runID), func(suffix string, val []byte) error {
			round, err := strconv.Atoi(suffix)
			if err != nil {
				return fmt.Errorf("bad policy key %q: %w", suffix, err)
			}
			var snap policy.Snapshot
			if err := json.Unmarshal(val, &snap); err != nil {
				return fmt.Errorf("decode policy %d: %w", round, err)
			}
			out[round] = snap
			return nil
		})
	})
	return out, err
}

// Run returns one run's metadata.
func (s *BadgerStore) Run(ctx context.Context, runID string) (RunInfo, error) {
	var info RunInfo
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(runID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &info)
		})
	})
	return info, err
}

// Runs lists journaled runs, oldest first.
func (s *BadgerStore) Runs(ctx context.Context) ([]RunInfo, error) {
	var out []RunInfo
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		return scan(txn, []byte("run/"), func(_ string, val []byte) error {
			var info RunInfo
			if err := json.Unmarshal(val, &info); err != nil {
				return err
			}
			out = append(out, info)
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, err
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func scan(txn *badger.Txn, prefix []byte, fn func(suffix string, val []byte) error) error {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 32})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		suffix := strings.TrimPrefix(string(item.Key()), string(prefix))
		if err := item.Value(func(val []byte) error { return fn(suffix, val) }); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// No-op store
// =============================================================================

// NopStore discards everything.
type NopStore struct{}

func (NopStore) BeginRun(context.Context, RunInfo) error { return nil }

func (NopStore) SaveRound(context.Context, string, string, int, stats.Record) error { return nil }

func (NopStore) SavePolicy(context.Context, string, int, policy.Snapshot) error { return nil }

func (NopStore) Rounds(context.Context, string, string) (stats.History, error) {
	return stats.History{}, nil
}

func (NopStore) Policies(context.Context, string) (map[int]policy.Snapshot, error) {
	return map[int]policy.Snapshot{}, nil
}

func (NopStore) Runs(context.Context) ([]RunInfo, error) { return nil, nil }

func (NopStore) Close() error { return nil }
