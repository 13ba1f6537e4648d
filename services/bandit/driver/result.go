// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package driver

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/AleutianAI/lcbandit/pkg/pyjson"
	"github.com/AleutianAI/lcbandit/services/bandit/lightcurve"
	"github.com/AleutianAI/lcbandit/services/bandit/stats"
)

// resultIndent matches the indentation of result files written by the
// earlier analysis tooling.
const resultIndent = "      "

// RunMeta is the result file's misc entry.
type RunMeta struct {
	StartTime       pyjson.Float            `json:"start_time"`
	EndTime         pyjson.Float            `json:"end_time"`
	RunTime         pyjson.Float            `json:"run_time"`
	RunID           string                  `json:"run_id"`
	Models          []string                `json:"models"`
	ModelOfInterest string                  `json:"model_of_interest"`
	Statistic       string                  `json:"statistic"`
	InitTime        pyjson.Float            `json:"init_time"`
	FinalRewards    map[string]pyjson.Float `json:"final_rewards"`
	Pulls           map[string]int          `json:"pulls"`
}

// ResultFile is the decoded result file.
type ResultFile struct {
	Arms map[string]stats.History
	Misc RunMeta
}

// WriteResult writes histories plus misc atomically.
func WriteResult(path string, histories map[string]stats.History, meta RunMeta) error {
	doc := make(map[string]any, len(histories)+1)
	for label, h := range histories {
		doc[label] = h
	}
	doc[MiscKey] = meta
	data, err := pyjson.MarshalIndent(doc, "", resultIndent)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return lightcurve.WriteFileAtomic(path, append(data, '\n'))
}

// ReadResult decodes a result file.
func ReadResult(path string) (*ResultFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := pyjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", path, err)
	}
	out := &ResultFile{Arms: make(map[string]stats.History, len(raw))}
	for key, msg := range raw {
		if key == MiscKey {
			if err := json.Unmarshal(msg, &out.Misc); err != nil {
				return nil, fmt.Errorf("decode %s: %w", MiscKey, err)
			}
			continue
		}
		var h stats.History
		if err := json.Unmarshal(msg, &h); err != nil {
			return nil, fmt.Errorf("decode history of %s: %w", key, err)
		}
		out.Arms[key] = h
	}
	return out, nil
}
