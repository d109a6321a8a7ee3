// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the aggtree configuration file.
//
// The file lives at ~/.aggtree/aggtree.yaml unless --config names another
// path. A missing default file is created on first run. AGGTREE_* variables
// override individual fields after the file is read.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/aggtree/pkg/logging"
	"github.com/AleutianAI/aggtree/services/api"
	"github.com/AleutianAI/aggtree/services/history"
	"github.com/AleutianAI/aggtree/services/scenario"
	"github.com/AleutianAI/aggtree/services/telemetry"
)

// ErrInvalidConfig wraps validation failures.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full configuration file.
type Config struct {
	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Server    api.Config       `yaml:"server"`
	History   HistoryConfig    `yaml:"history"`
	Bench     BenchConfig      `yaml:"bench"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// HistoryConfig configures the run history database.
type HistoryConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Path           string        `yaml:"path" validate:"required_if=Enabled true"`
	SyncWrites     bool          `yaml:"sync_writes"`
	GCInterval     time.Duration `yaml:"gc_interval" validate:"gte=0"`
	GCDiscardRatio float64       `yaml:"gc_discard_ratio" validate:"gte=0,lte=1"`

	// RegressionThreshold flags a run slower than this multiple of the
	// previous run of the same kind.
	RegressionThreshold float64 `yaml:"regression_threshold" validate:"gte=0"`
}

// BenchConfig lists the scenarios run by "aggtree bench".
type BenchConfig struct {
	Scenarios []scenario.Spec `yaml:"scenarios" validate:"dive"`

	// Timeout bounds each scenario.
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() Config {
	return Config{
		Logging:   LoggingConfig{Level: "info"},
		Telemetry: telemetry.DefaultConfig(),
		Server:    api.DefaultConfig(),
		History: HistoryConfig{
			Enabled:             true,
			Path:                "~/.aggtree/history",
			SyncWrites:          true,
			GCInterval:          10 * time.Minute,
			GCDiscardRatio:      0.5,
			RegressionThreshold: 1.5,
		},
		Bench: BenchConfig{
			Timeout: 5 * time.Minute,
			Scenarios: []scenario.Spec{
				{Name: "chain", Kind: scenario.KindChain, CheckInvariants: true},
				{Name: "double-chain", Kind: scenario.KindDoubleChain, CheckInvariants: true},
				{Name: "rectangle", Kind: scenario.KindRectangle, CheckInvariants: true},
				{Name: "many-children", Kind: scenario.KindManyChildren},
				{Name: "random-dag", Kind: scenario.KindRandomDAG, TrackMembers: true, CheckInvariants: true},
			},
		},
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// LogLevel parses Logging.Level.
func (c *Config) LogLevel() logging.Level {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.LevelInfo
	}
	return level
}

// LoggingOptions converts the logging section for logging.New.
func (c *Config) LoggingOptions(service string) logging.Config {
	return logging.Config{
		Level:   c.LogLevel(),
		LogDir:  c.Logging.Dir,
		Service: service,
		JSON:    c.Logging.JSON,
	}
}

// HistoryOptions converts the history section for history.Open.
func (c *Config) HistoryOptions() history.Config {
	cfg := history.DefaultConfig(expandHome(c.History.Path))
	cfg.SyncWrites = c.History.SyncWrites
	cfg.GCInterval = c.History.GCInterval
	cfg.GCDiscardRatio = c.History.GCDiscardRatio
	return cfg
}
