// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reward turns one round's fit statistics into the scalar signal
// the bandit maximizes.
package reward

import (
	"errors"
	"fmt"
	"math"

	"github.com/AleutianAI/lcbandit/services/bandit/stats"
)

var (
	// ErrMissingModel indicates the model of interest has no entry.
	ErrMissingModel = errors.New("model of interest missing from statistics")

	// ErrMissingStatistic indicates a model entry lacks the statistic.
	ErrMissingStatistic = errors.New("statistic missing from model entry")

	// ErrNoCompetitors indicates the record holds no model other than the
	// model of interest.
	ErrNoCompetitors = errors.New("no competing models")
)

// Compute returns rec[model][stat] minus the largest rec[m][stat] over the
// other models. A positive value means the model of interest is favored
// over its best competitor.
//
// When both sides are -Inf (every fit failed) the difference is undefined;
// Compute returns 0 so the round carries no signal either way.
func Compute(rec stats.Record, model, stat string) (float64, error) {
	target, ok := rec[model]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingModel, model)
	}
	mine, ok := target[stat]
	if !ok {
		return 0, fmt.Errorf("%w: %s/%s", ErrMissingStatistic, model, stat)
	}

	best := math.Inf(-1)
	competitors := 0
	for m, vals := range rec {
		if m == model {
			continue
		}
		v, ok := vals[stat]
		if !ok {
			return 0, fmt.Errorf("%w: %s/%s", ErrMissingStatistic, m, stat)
		}
		competitors++
		if v > best || math.IsNaN(best) {
			best = v
		}
	}
	if competitors == 0 {
		return 0, fmt.Errorf("%w for %s", ErrNoCompetitors, model)
	}

	r := mine - best
	if math.IsNaN(r) {
		return 0, nil
	}
	return r, nil
}
