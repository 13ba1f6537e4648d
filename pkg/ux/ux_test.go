// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectMode_NonTerminal(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, ModePlain, DetectMode(&buf))

	t.Setenv("NO_COLOR", "1")
	assert.Equal(t, ModePlain, DetectMode(&buf))
}

func TestPrinter_Plain(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModePlain)

	p.Title("plan")
	p.Success("done")
	p.Warning("slow")
	p.Error("boom")
	p.Info("note")
	p.KeyValue("arms", 2)
	p.Box("result", "ok")

	want := "== plan ==\nOK: done\nWARN: slow\nERROR: boom\nnote\narms: 2\nresult:\nok\n"
	assert.Equal(t, want, buf.String())
}

func TestPrinter_Styled(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeStyled)
	p.Success("done")
	p.Box("t", "body")
	assert.Contains(t, buf.String(), "done")
	assert.Contains(t, buf.String(), "body")
}

func TestRenderRewardTable_Plain(t *testing.T) {
	out := RenderRewardTable(2, []RewardRow{
		{Arm: "lc_a", Pulls: 3, Average: 0, Observations: 3},
		{Arm: "lc_long", Pulls: 4, Average: 1.5, Observations: 4, Chosen: true},
		{Arm: "lc_c", Pulls: 3, Average: math.Inf(-1), Observations: 3},
	}, ModePlain)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.Len(t, lines, 5)
	assert.Equal(t, "round 2", lines[0])
	assert.Equal(t, "   arm      pulls  avg reward  obs", lines[1])
	assert.Equal(t, "*  lc_long      4       1.500    4", lines[3])
	assert.Contains(t, lines[4], "-inf")
}

func TestFormatReward(t *testing.T) {
	assert.Equal(t, "0.250", FormatReward(0.25))
	assert.Equal(t, "nan", FormatReward(math.NaN()))
	assert.Equal(t, "+inf", FormatReward(math.Inf(1)))
	assert.Equal(t, "-inf", FormatReward(math.Inf(-1)))
}

func TestConfirm_AssumeYes(t *testing.T) {
	ok, err := Confirm("delete?", "", true)
	assert.NoError(t, err)
	assert.True(t, ok)
}
