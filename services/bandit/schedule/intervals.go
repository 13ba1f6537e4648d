// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schedule plans the observation windows of a bandit run.
package schedule

import (
	"fmt"
	"math"
)

// Interval is one round's observation window. Round 0's window is
// unbounded below.
type Interval struct {
	Start float64
	End   float64
}

// String renders the window for logs.
func (iv Interval) String() string {
	return fmt.Sprintf("(%g, %g)", iv.Start, iv.End)
}

// Contains reports whether t lies in the closed window.
func (iv Interval) Contains(t float64) bool {
	return t >= iv.Start && t <= iv.End
}

// Intervals returns nSteps+1 contiguous windows: (-Inf, initTime) followed
// by (initTime+(k-1)*step, initTime+k*step) for k = 1..nSteps.
//
// Window k's end is computed as initTime + k*step rather than accumulated,
// so long schedules do not drift. A negative nSteps is treated as zero.
func Intervals(initTime, step float64, nSteps int) []Interval {
	if nSteps < 0 {
		nSteps = 0
	}
	out := make([]Interval, 0, nSteps+1)
	out = append(out, Interval{Start: math.Inf(-1), End: initTime})
	for k := 1; k <= nSteps; k++ {
		out = append(out, Interval{
			Start: initTime + float64(k-1)*step,
			End:   initTime + float64(k)*step,
		})
	}
	return out
}
