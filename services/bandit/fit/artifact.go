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
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/AleutianAI/lcbandit/pkg/pyjson"
	"github.com/AleutianAI/lcbandit/services/bandit/lightcurve"
	"github.com/AleutianAI/lcbandit/services/bandit/stats"
)

// ErrMalformedArtifact indicates a best-fit summary that cannot be used.
var ErrMalformedArtifact = errors.New("malformed best-fit artifact")

// requiredStats must be present in every best-fit summary.
var requiredStats = []string{stats.LogLikelihood, stats.LogBayesFactor}

// BestFit is the backend's best-fit summary. Only the scalar statistics
// feed the bandit; magnitudes are kept for inspection.
type BestFit struct {
	Stats       stats.Values
	Magnitudes  map[string][]float64
	SampleTimes []float64
}

// ParseBestFit reads a best-fit summary from path.
func ParseBestFit(path string) (*BestFit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]json.RawMessage
	if err := pyjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArtifact, err)
	}

	bf := &BestFit{Stats: stats.Values{}}
	for _, name := range []string{stats.LogLikelihood, stats.LogBayesFactor, stats.LogEvidence} {
		msg, ok := raw[name]
		if !ok {
			continue
		}
		var v pyjson.Float
		if err := json.Unmarshal(msg, &v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedArtifact, name, err)
		}
		bf.Stats[name] = float64(v)
	}
	for _, name := range requiredStats {
		if _, ok := bf.Stats[name]; !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrMalformedArtifact, name)
		}
	}

	if msg, ok := raw["Magnitudes"]; ok {
		var mags map[string][]pyjson.Float
		if err := json.Unmarshal(msg, &mags); err == nil {
			bf.Magnitudes = make(map[string][]float64, len(mags))
			for band, xs := range mags {
				bf.Magnitudes[band] = floats(xs)
			}
		}
	}
	if msg, ok := raw["bestfit_sample_times"]; ok {
		var ts []pyjson.Float
		if err := json.Unmarshal(msg, &ts); err == nil {
			bf.SampleTimes = floats(ts)
		}
	}
	return bf, nil
}

// WriteBestFit writes a best-fit summary in the backend's format.
func WriteBestFit(path string, bf *BestFit) error {
	doc := make(map[string]any, len(bf.Stats)+2)
	for k, v := range bf.Stats {
		doc[k] = pyjson.Float(v)
	}
	if bf.Magnitudes != nil {
		mags := make(map[string][]pyjson.Float, len(bf.Magnitudes))
		for band, xs := range bf.Magnitudes {
			mags[band] = pyFloats(xs)
		}
		doc["Magnitudes"] = mags
	}
	if bf.SampleTimes != nil {
		doc["bestfit_sample_times"] = pyFloats(bf.SampleTimes)
	}
	data, err := pyjson.Marshal(doc)
	if err != nil {
		return err
	}
	return lightcurve.WriteFileAtomic(path, data)
}

func floats(xs []pyjson.Float) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = float64(x)
	}
	return out
}

func pyFloats(xs []float64) []pyjson.Float {
	out := make([]pyjson.Float, len(xs))
	for i, x := range xs {
		out[i] = pyjson.Float(x)
	}
	return out
}
