// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stats holds the per-model fit statistics produced by one fit
// round and the sentinel used when a fit cannot be read.
package stats

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/AleutianAI/lcbandit/pkg/pyjson"
)

// Statistic names reported by the fitting backend.
const (
	LogLikelihood  = "log_likelihood"
	LogBayesFactor = "log_bayes_factor"
	LogEvidence    = "log_evidence"
)

// RewardStatistics lists the statistics a reward may be computed from.
var RewardStatistics = []string{LogLikelihood, LogBayesFactor}

// IsRewardStatistic reports whether name is usable as a reward statistic.
func IsRewardStatistic(name string) bool {
	for _, s := range RewardStatistics {
		if s == name {
			return true
		}
	}
	return false
}

// Values maps statistic name to value for one model.
type Values map[string]float64

// Sentinel returns the values substituted for a failed fit.
func Sentinel() Values {
	return Values{
		LogLikelihood:  math.Inf(-1),
		LogBayesFactor: math.Inf(-1),
		LogEvidence:    math.Inf(-1),
	}
}

// IsSentinel reports whether every value is -Inf.
func (v Values) IsSentinel() bool {
	if len(v) == 0 {
		return false
	}
	for _, x := range v {
		if !math.IsInf(x, -1) {
			return false
		}
	}
	return true
}

// MarshalJSON keeps non-finite values as Python tokens.
func (v Values) MarshalJSON() ([]byte, error) {
	m := make(map[string]pyjson.Float, len(v))
	for k, x := range v {
		m[k] = pyjson.Float(x)
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts numbers or quoted non-finite tokens.
func (v *Values) UnmarshalJSON(data []byte) error {
	var m map[string]pyjson.Float
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	out := make(Values, len(m))
	for k, x := range m {
		out[k] = float64(x)
	}
	*v = out
	return nil
}

// Record maps model name to its statistics for one fit round. After a round
// completes every configured model has an entry.
type Record map[string]Values

// Models returns the model names in sorted order.
func (r Record) Models() []string {
	out := make([]string, 0, len(r))
	for m := range r {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for m, v := range r {
		vv := make(Values, len(v))
		for k, x := range v {
			vv[k] = x
		}
		out[m] = vv
	}
	return out
}

// History maps round index to that round's record for one arm.
type History map[int]Record

// Rounds returns the round indices in ascending order.
func (h History) Rounds() []int {
	out := make([]int, 0, len(h))
	for r := range h {
		out = append(out, r)
	}
	sort.Ints(out)
	return out
}
