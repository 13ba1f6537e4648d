// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sink

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// ErrNoToken is returned when no InfluxDB token source yields a value.
var ErrNoToken = errors.New("influx token not provided")

// InfluxConfig configures the InfluxDB reward sink.
type InfluxConfig struct {
	URL         string `yaml:"url" validate:"required,url"`
	Org         string `yaml:"org" validate:"required"`
	Bucket      string `yaml:"bucket" validate:"required"`
	Measurement string `yaml:"measurement"`

	// TokenEnv names the environment variable holding the token.
	TokenEnv string `yaml:"token_env"`

	// TokenFile is read when TokenEnv is unset or empty.
	TokenFile string `yaml:"token_file"`
}

// LoadToken seals the token from cfg's env var or file into an enclave so
// it does not sit in ordinary heap memory between startup and use.
func LoadToken(cfg InfluxConfig) (*memguard.Enclave, error) {
	var raw []byte
	if cfg.TokenEnv != "" {
		if v := os.Getenv(cfg.TokenEnv); v != "" {
			raw = []byte(v)
		}
	}
	if raw == nil && cfg.TokenFile != "" {
		data, err := os.ReadFile(cfg.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("read influx token file: %w", err)
		}
		raw = []byte(strings.TrimSpace(string(data)))
		memguard.WipeBytes(data)
	}
	if len(raw) == 0 {
		return nil, ErrNoToken
	}
	// NewEnclave wipes raw.
	return memguard.NewEnclave(raw), nil
}

// pointWriter is the part of api.WriteAPIBlocking the sink uses.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink writes reward events as points.
//
// Thread Safety: Safe for concurrent use.
type InfluxSink struct {
	client      influxdb2.Client
	writer      pointWriter
	measurement string
}

// NewInfluxSink opens a client using the sealed token.
func NewInfluxSink(cfg InfluxConfig, token *memguard.Enclave) (*InfluxSink, error) {
	if token == nil {
		return nil, ErrNoToken
	}
	buf, err := token.Open()
	if err != nil {
		return nil, fmt.Errorf("open influx token: %w", err)
	}
	client := influxdb2.NewClient(cfg.URL, buf.String())
	buf.Destroy()

	return &InfluxSink{
		client:      client,
		writer:      client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: measurementOr(cfg.Measurement),
	}, nil
}

func newInfluxSinkWithWriter(w pointWriter, measurement string) *InfluxSink {
	return &InfluxSink{writer: w, measurement: measurementOr(measurement)}
}

func measurementOr(m string) string {
	if m == "" {
		return "bandit_reward"
	}
	return m
}

// WriteReward implements RewardSink. Non-finite rewards cannot be stored
// as InfluxDB floats; they are written as a string field instead.
func (s *InfluxSink) WriteReward(ctx context.Context, ev RewardEvent) error {
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	fields := map[string]interface{}{
		"round":    ev.Round,
		"pulls":    ev.Pulls,
		"failures": ev.Failures,
	}
	putFloat(fields, "reward", ev.Reward)
	putFloat(fields, "average", ev.Average)

	p := influxdb2.NewPoint(
		s.measurement,
		map[string]string{"run_id": ev.RunID, "arm": ev.Arm},
		fields,
		ts,
	)
	if err := s.writer.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("write reward point: %w", err)
	}
	return nil
}

func putFloat(fields map[string]interface{}, key string, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		fields[key+"_nonfinite"] = fmt.Sprint(v)
		return
	}
	fields[key] = v
}

// Close implements RewardSink.
func (s *InfluxSink) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
