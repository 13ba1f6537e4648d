// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lightcurve models multi-band transient light curves and the
// detection rules used to decide when a curve is ready to be fit.
//
// A light curve is stored on disk as a JSON object mapping band name to an
// ordered list of [time, magnitude, magnitude_uncertainty] triples. A
// non-detection (upper limit) carries an infinite uncertainty. Band order in
// the file is preserved so that "the primary band" is well defined.
package lightcurve

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/lcbandit/pkg/pyjson"
)

var (
	// ErrMalformedSeries indicates a light-curve document that is not a
	// band → triples object.
	ErrMalformedSeries = errors.New("malformed light curve")

	// ErrInsufficientDetections indicates a curve that never reaches the
	// required number of detections.
	ErrInsufficientDetections = errors.New("insufficient detections")
)

// Observation is one photometric point.
type Observation struct {
	Time   float64
	Mag    float64
	MagErr float64
}

// IsDetection reports whether the point is a real detection rather than an
// upper limit.
func (o Observation) IsDetection() bool {
	return isFinite(o.Mag) && isFinite(o.MagErr)
}

// MarshalJSON encodes the observation as a [t, mag, err] triple.
func (o Observation) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]pyjson.Float{pyjson.Float(o.Time), pyjson.Float(o.Mag), pyjson.Float(o.MagErr)})
}

// UnmarshalJSON decodes a [t, mag, err] triple.
func (o *Observation) UnmarshalJSON(data []byte) error {
	var triple []pyjson.Float
	if err := json.Unmarshal(data, &triple); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSeries, err)
	}
	if len(triple) != 3 {
		return fmt.Errorf("%w: expected [time, mag, err], got %d values", ErrMalformedSeries, len(triple))
	}
	o.Time = float64(triple[0])
	o.Mag = float64(triple[1])
	o.MagErr = float64(triple[2])
	return nil
}

// Series is an ordered set of bands, each holding time-ordered observations.
//
// Thread Safety: not safe for concurrent mutation. Readers may share a Series
// that is no longer appended to.
type Series struct {
	// Label identifies the curve, normally the file stem it was loaded from.
	Label string

	bands []string
	obs   map[string][]Observation
}

// NewSeries returns an empty series.
func NewSeries(label string) *Series {
	return &Series{Label: label, obs: make(map[string][]Observation)}
}

// Bands returns the band names in file order.
func (s *Series) Bands() []string {
	out := make([]string, len(s.bands))
	copy(out, s.bands)
	return out
}

// Band returns a copy of the observations recorded for band.
func (s *Series) Band(band string) []Observation {
	src := s.obs[band]
	out := make([]Observation, len(src))
	copy(out, src)
	return out
}

// Append adds observations to band, registering the band if it is new.
func (s *Series) Append(band string, obs ...Observation) {
	if s.obs == nil {
		s.obs = make(map[string][]Observation)
	}
	if _, ok := s.obs[band]; !ok {
		s.bands = append(s.bands, band)
		s.obs[band] = nil
	}
	s.obs[band] = append(s.obs[band], obs...)
}

// Len returns the number of observations across all bands.
func (s *Series) Len() int {
	n := 0
	for _, b := range s.bands {
		n += len(s.obs[b])
	}
	return n
}

// Clone returns a deep copy.
func (s *Series) Clone() *Series {
	c := NewSeries(s.Label)
	for _, b := range s.bands {
		c.Append(b, s.obs[b]...)
	}
	return c
}

// Window returns the observations whose time lies in the closed interval
// [start, end], keeping band order. Bands with no points in the window are
// omitted.
func (s *Series) Window(start, end float64) *Series {
	w := NewSeries(s.Label)
	for _, b := range s.bands {
		for _, o := range s.obs[b] {
			if o.Time >= start && o.Time <= end {
				w.Append(b, o)
			}
		}
	}
	return w
}

// TimeSpan returns the earliest and latest observation times.
func (s *Series) TimeSpan() (first, last float64, ok bool) {
	first, last = math.Inf(1), math.Inf(-1)
	for _, b := range s.bands {
		for _, o := range s.obs[b] {
			first = math.Min(first, o.Time)
			last = math.Max(last, o.Time)
			ok = true
		}
	}
	return first, last, ok
}

// MarshalJSON writes the bands as an object in band order.
func (s *Series) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, b := range s.bands {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(b)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		obs := s.obs[b]
		if obs == nil {
			obs = []Observation{}
		}
		val, err := json.Marshal(obs)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a band object, recording the order keys appear in.
// Non-finite tokens must already be quoted; Load takes care of that.
func (s *Series) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSeries, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("%w: expected object", ErrMalformedSeries)
	}

	s.bands = nil
	s.obs = make(map[string][]Observation)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedSeries, err)
		}
		band, ok := tok.(string)
		if !ok {
			return fmt.Errorf("%w: expected band name", ErrMalformedSeries)
		}
		var obs []Observation
		if err := dec.Decode(&obs); err != nil {
			return fmt.Errorf("band %s: %w", band, err)
		}
		s.Append(band, obs...)
	}
	return nil
}

// Load reads a light-curve file. The label is the file name without its
// extension.
func Load(path string) (*Series, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read light curve %s: %w", path, err)
	}
	s := NewSeries(LabelFromPath(path))
	if err := pyjson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse light curve %s: %w", path, err)
	}
	return s, nil
}

// Save writes s to path atomically: the document is written to a temporary
// file in the same directory and then renamed over path.
func Save(path string, s *Series) error {
	data, err := pyjson.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode light curve %s: %w", s.Label, err)
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data through a same-directory temp file and rename.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// LabelFromPath returns the base name of path without its extension.
func LabelFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
