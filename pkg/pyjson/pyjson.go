// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pyjson reads and writes JSON documents that carry the non-finite
// number tokens emitted by Python's json module.
//
// Python serializes float('inf') and float('nan') as the bare tokens
// Infinity, -Infinity and NaN. encoding/json rejects those, so documents are
// rewritten on the way in (bare token → quoted string) and on the way out
// (Float's marked string → bare token). Float decodes every form.
package pyjson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Token spellings used by Python's json module.
const (
	tokenNaN    = "NaN"
	tokenPosInf = "Infinity"
	tokenNegInf = "-Infinity"
)

// Float encodes non-finite values as a string whose first character is
// the noncharacter U+FDD0, written as the escape below. encoding/json never
// emits that escape for an ordinary string, so Desanitize can tell Float
// output apart from string values that merely spell a token.
const (
	markerEscape = `\ufdd0`
	markerRune   = "\ufdd0"
)

// Float is a float64 that round-trips NaN and ±Inf through JSON.
type Float float64

// MarshalJSON writes finite values as numbers and non-finite values as a
// marked string holding the Python token. Marshal turns the marked string
// back into a bare token.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return marked(tokenNaN), nil
	case math.IsInf(v, 1):
		return marked(tokenPosInf), nil
	case math.IsInf(v, -1):
		return marked(tokenNegInf), nil
	}
	return json.Marshal(v)
}

func marked(tok string) []byte {
	return []byte(`"` + markerEscape + tok + `"`)
}

// UnmarshalJSON accepts a JSON number, null (read as NaN), or one of the
// Python tokens as a plain or marked string.
func (f *Float) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = Float(math.NaN())
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return fmt.Errorf("pyjson: invalid float string %s: %w", data, err)
		}
		v, ok := parseToken(strings.TrimPrefix(s, markerRune))
		if !ok {
			return fmt.Errorf("pyjson: invalid float string %q", s)
		}
		*f = Float(v)
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("pyjson: invalid float %s: %w", data, err)
	}
	*f = Float(v)
	return nil
}

func parseToken(s string) (float64, bool) {
	switch s {
	case tokenNaN:
		return math.NaN(), true
	case tokenPosInf:
		return math.Inf(1), true
	case tokenNegInf:
		return math.Inf(-1), true
	}
	return 0, false
}

// Unmarshal decodes a document that may contain bare non-finite tokens.
// Non-finite values only decode into Float (or interface{} as strings).
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(Sanitize(data), v)
}

// Marshal encodes v and rewrites Float's non-finite values to the bare
// tokens Python expects. String values are left alone.
func Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Desanitize(data), nil
}

// MarshalIndent is Marshal with indentation.
func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	data, err := json.MarshalIndent(v, prefix, indent)
	if err != nil {
		return nil, err
	}
	return Desanitize(data), nil
}

// Sanitize quotes every bare NaN, Infinity and -Infinity that appears
// outside a string literal. Other bytes are copied unchanged.
func Sanitize(data []byte) []byte {
	if !bytes.Contains(data, []byte(tokenNaN)) && !bytes.Contains(data, []byte(tokenPosInf)) {
		return data
	}
	out := make([]byte, 0, len(data)+16)
	for i := 0; i < len(data); {
		c := data[i]
		if c == '"' {
			end := stringEnd(data, i)
			out = append(out, data[i:end]...)
			i = end
			continue
		}
		if tok := bareTokenAt(data, i); tok != "" {
			out = append(out, '"')
			out = append(out, tok...)
			out = append(out, '"')
			i += len(tok)
			continue
		}
		out = append(out, c)
		i++
	}
	return out
}

// Desanitize replaces every marked string written by Float with its bare
// token. Plain strings, including ones spelling a token, and object keys
// are copied unchanged.
func Desanitize(data []byte) []byte {
	if !bytes.Contains(data, []byte(markerEscape)) {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		if data[i] != '"' {
			out = append(out, data[i])
			i++
			continue
		}
		end := stringEnd(data, i)
		lit := data[i:end]
		if len(lit) >= 2 && !isKey(data, end) {
			inner := lit[1 : len(lit)-1]
			if tok, ok := bytes.CutPrefix(inner, []byte(markerEscape)); ok {
				if _, ok := parseToken(string(tok)); ok {
					out = append(out, tok...)
					i = end
					continue
				}
			}
		}
		out = append(out, lit...)
		i = end
	}
	return out
}

// stringEnd returns the index just past the string literal opening at start.
func stringEnd(data []byte, start int) int {
	for j := start + 1; j < len(data); j++ {
		switch data[j] {
		case '\\':
			j++
		case '"':
			return j + 1
		}
	}
	return len(data)
}

func bareTokenAt(data []byte, i int) string {
	for _, tok := range [...]string{tokenNegInf, tokenPosInf, tokenNaN} {
		if bytes.HasPrefix(data[i:], []byte(tok)) {
			return tok
		}
	}
	return ""
}

func isKey(data []byte, after int) bool {
	for j := after; j < len(data); j++ {
		switch data[j] {
		case ' ', '\t', '\n', '\r':
			continue
		case ':':
			return true
		default:
			return false
		}
	}
	return false
}
