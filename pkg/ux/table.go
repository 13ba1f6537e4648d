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
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// RewardRow is one arm in the per-round reward table.
type RewardRow struct {
	Arm          string
	Pulls        int
	Average      float64
	Observations int
	Chosen       bool
}

var rewardHeaders = []string{"", "arm", "pulls", "avg reward", "obs"}

// RewardTable renders the average-reward table printed after each round.
func (p *Printer) RewardTable(round int, rows []RewardRow) {
	fmt.Fprint(p.w, RenderRewardTable(round, rows, p.mode))
}

// RenderRewardTable formats rows; the chosen arm is marked with '*'.
func RenderRewardTable(round int, rows []RewardRow, mode Mode) string {
	cells := make([][]string, 0, len(rows)+1)
	cells = append(cells, rewardHeaders)
	for _, r := range rows {
		mark := " "
		if r.Chosen {
			mark = "*"
		}
		cells = append(cells, []string{
			mark,
			r.Arm,
			fmt.Sprintf("%d", r.Pulls),
			FormatReward(r.Average),
			fmt.Sprintf("%d", r.Observations),
		})
	}

	widths := make([]int, len(rewardHeaders))
	for _, row := range cells {
		for i, c := range row {
			if n := lipgloss.Width(c); n > widths[i] {
				widths[i] = n
			}
		}
	}

	var b strings.Builder
	title := fmt.Sprintf("round %d", round)
	if mode == ModeStyled {
		b.WriteString(Styles.Title.Render(title))
	} else {
		b.WriteString(title)
	}
	b.WriteByte('\n')

	for ri, row := range cells {
		parts := make([]string, len(row))
		for i, c := range row {
			cell := pad(c, widths[i], i >= 2)
			if mode == ModeStyled {
				switch {
				case ri == 0:
					cell = Styles.Header.Render(cell)
				case rows[ri-1].Chosen:
					cell = Styles.Highlight.Render(cell)
				case i == 3 && math.IsInf(rows[ri-1].Average, -1):
					cell = Styles.Muted.Render(cell)
				}
			}
			parts[i] = cell
		}
		b.WriteString(strings.TrimRight(strings.Join(parts, "  "), " "))
		b.WriteByte('\n')
	}
	return b.String()
}

// FormatReward prints rewards with fixed precision and readable infinities.
func FormatReward(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "+inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return fmt.Sprintf("%.3f", v)
}

func pad(s string, width int, right bool) string {
	gap := width - lipgloss.Width(s)
	if gap <= 0 {
		return s
	}
	if right {
		return strings.Repeat(" ", gap) + s
	}
	return s + strings.Repeat(" ", gap)
}
