// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lightcurve

import (
	"fmt"
	"math"
	"sort"
)

// BandReadyTime returns the time at which band accumulates minDetections
// detections. ok is false when the band never gets there.
func (s *Series) BandReadyTime(band string, minDetections int) (t float64, ok bool) {
	if minDetections <= 0 {
		minDetections = 1
	}
	var times []float64
	for _, o := range s.obs[band] {
		if o.IsDetection() {
			times = append(times, o.Time)
		}
	}
	if len(times) < minDetections {
		return 0, false
	}
	sort.Float64s(times)
	return times[minDetections-1], true
}

// ReadyTime returns the earliest time at which the curve has enough
// detections to be fit.
//
// With allFilters set every band must individually reach minDetections and
// the per-band times are combined with max. Otherwise bands that never
// qualify are ignored and the per-band times are combined with min.
func (s *Series) ReadyTime(minDetections int, allFilters bool) (float64, error) {
	ready := math.NaN()
	for _, b := range s.bands {
		t, ok := s.BandReadyTime(b, minDetections)
		if !ok {
			if allFilters {
				return 0, fmt.Errorf("%s: band %s has fewer than %d detections: %w",
					s.Label, b, minDetections, ErrInsufficientDetections)
			}
			continue
		}
		switch {
		case math.IsNaN(ready):
			ready = t
		case allFilters:
			ready = math.Max(ready, t)
		default:
			ready = math.Min(ready, t)
		}
	}
	if math.IsNaN(ready) {
		return 0, fmt.Errorf("%s: no band reaches %d detections: %w",
			s.Label, minDetections, ErrInsufficientDetections)
	}
	return ready, nil
}

// FindStartTime returns the shared observation cutoff for a set of curves:
// the latest per-curve ready time, so that every curve has at least
// minDetections detections by the returned time.
//
// Description:
//
//	Computes ReadyTime for every curve and takes the maximum. A curve that
//	never qualifies fails the whole computation; there is no fallback start
//	time. The result depends only on the inputs, so repeated calls agree.
//
// Inputs:
//
//	curves - Full (ground-truth) series, one per arm. Must not be empty.
//	minDetections - Detection threshold per band.
//	allFilters - Require every band to qualify (max) rather than any (min).
//
// Outputs:
//
//	float64 - The shared start time.
//	error - Wraps ErrInsufficientDetections naming the failing curve.
func FindStartTime(curves []*Series, minDetections int, allFilters bool) (float64, error) {
	if len(curves) == 0 {
		return 0, fmt.Errorf("no light curves: %w", ErrInsufficientDetections)
	}
	start := math.Inf(-1)
	for _, c := range curves {
		t, err := c.ReadyTime(minDetections, allFilters)
		if err != nil {
			return 0, err
		}
		start = math.Max(start, t)
	}
	return start, nil
}

// Validate reports whether the curve holds at least minDetections
// detections within window of its first observation. With allBands every
// band must meet the threshold, otherwise one band suffices.
func Validate(s *Series, minDetections int, window float64, allBands bool) bool {
	first, _, ok := s.TimeSpan()
	if !ok {
		return false
	}
	early := s.Window(first, first+window)

	anyMet := false
	for _, b := range s.bands {
		n := 0
		for _, o := range early.obs[b] {
			if o.IsDetection() {
				n++
			}
		}
		met := n >= minDetections
		if allBands && !met {
			return false
		}
		anyMet = anyMet || met
	}
	return anyMet
}

// Retime returns a copy of s with every time shifted by -start.
func Retime(s *Series, start float64) *Series {
	out := NewSeries(s.Label)
	for _, b := range s.bands {
		shifted := make([]Observation, len(s.obs[b]))
		for i, o := range s.obs[b] {
			o.Time -= start
			shifted[i] = o
		}
		out.Append(b, shifted...)
	}
	return out
}

// RetimeToFirst shifts s so that its earliest observation sits at t=0.
func RetimeToFirst(s *Series) *Series {
	first, _, ok := s.TimeSpan()
	if !ok {
		return s.Clone()
	}
	return Retime(s, first)
}
