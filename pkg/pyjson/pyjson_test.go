// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pyjson

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize_QuotesBareTokens(t *testing.T) {
	in := []byte(`{"g": [[1.0, 18.5, Infinity], [2.0, NaN, -Infinity]]}`)
	got := Sanitize(in)
	assert.Equal(t, `{"g": [[1.0, 18.5, "Infinity"], [2.0, "NaN", "-Infinity"]]}`, string(got))
}

func TestSanitize_LeavesStringsAlone(t *testing.T) {
	in := []byte(`{"name": "NaN band \"Infinity\"", "v": NaN}`)
	got := Sanitize(in)
	assert.Equal(t, `{"name": "NaN band \"Infinity\"", "v": "NaN"}`, string(got))
}

func TestDesanitize_OnlyRewritesFloatOutput(t *testing.T) {
	in := []byte(`{"NaN":"\ufdd0Infinity","x":["\ufdd0-Infinity","abc","NaN"],"\ufdd0NaN":1}`)
	got := Desanitize(in)
	assert.Equal(t, `{"NaN":Infinity,"x":[-Infinity,"abc","NaN"],"\ufdd0NaN":1}`, string(got))

	plain := []byte(`{"band":"Infinity","v":"-Infinity"}`)
	assert.Equal(t, string(plain), string(Desanitize(plain)))
}

func TestMarshal_KeepsStringsThatSpellTokens(t *testing.T) {
	type doc struct {
		Name   string            `json:"name"`
		Status string            `json:"status"`
		Tags   map[string]string `json:"tags"`
		V      Float             `json:"v"`
	}
	in := doc{
		Name:   "NaN",
		Status: "Infinity",
		Tags:   map[string]string{"Infinity": "-Infinity"},
		V:      Float(math.Inf(-1)),
	}

	data, err := Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"NaN","status":"Infinity","tags":{"Infinity":"-Infinity"},"v":-Infinity}`, string(data))

	var out doc
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, "NaN", out.Name)
	assert.Equal(t, "Infinity", out.Status)
	assert.Equal(t, "-Infinity", out.Tags["Infinity"])
	assert.True(t, math.IsInf(float64(out.V), -1))
}

func TestFloat_PlainJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal([]Float{Float(math.Inf(1)), 1.5})
	require.NoError(t, err)

	var back []Float
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back, 2)
	assert.True(t, math.IsInf(float64(back[0]), 1))
	assert.Equal(t, 1.5, float64(back[1]))
}

func TestFloat_RoundTrip(t *testing.T) {
	type doc struct {
		A Float   `json:"a"`
		B Float   `json:"b"`
		C []Float `json:"c"`
	}
	in := doc{A: Float(math.Inf(-1)), B: 2.5, C: []Float{Float(math.Inf(1)), Float(math.NaN())}}

	data, err := Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `{"a":-Infinity,"b":2.5,"c":[Infinity,NaN]}`, string(data))

	var out doc
	require.NoError(t, Unmarshal(data, &out))
	assert.True(t, math.IsInf(float64(out.A), -1))
	assert.Equal(t, 2.5, float64(out.B))
	require.Len(t, out.C, 2)
	assert.True(t, math.IsInf(float64(out.C[0]), 1))
	assert.True(t, math.IsNaN(float64(out.C[1])))
}

func TestFloat_UnmarshalErrors(t *testing.T) {
	var f Float
	assert.Error(t, f.UnmarshalJSON([]byte(`"inf"`)))
	assert.Error(t, f.UnmarshalJSON([]byte(`abc`)))

	require.NoError(t, f.UnmarshalJSON([]byte(`null`)))
	assert.True(t, math.IsNaN(float64(f)))
}
