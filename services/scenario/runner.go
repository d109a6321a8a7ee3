// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/aggtree/services/aggregation"
	"github.com/AleutianAI/aggtree/services/telemetry"
)

// Kind names a graph shape.
type Kind string

const (
	KindChain        Kind = "chain"
	KindDoubleChain  Kind = "double-chain"
	KindRectangle    Kind = "rectangle"
	KindManyChildren Kind = "many-children"
	KindRandomDAG    Kind = "random-dag"
)

// Kinds lists every supported kind.
func Kinds() []Kind {
	return []Kind{KindChain, KindDoubleChain, KindRectangle, KindManyChildren, KindRandomDAG}
}

// Spec describes one scenario run. Zero sizes take the kind's defaults.
type Spec struct {
	Name string `yaml:"name" json:"name" validate:"required,max=64"`
	Kind Kind   `yaml:"kind" json:"kind" validate:"required,oneof=chain double-chain rectangle many-children random-dag"`

	// Size is the chain length or the node count of a random DAG.
	Size int `yaml:"size" json:"size" validate:"gte=0,lte=1000000"`

	Width  int `yaml:"width" json:"width" validate:"gte=0,lte=2000"`
	Height int `yaml:"height" json:"height" validate:"gte=0,lte=2000"`

	Roots    int `yaml:"roots" json:"roots" validate:"gte=0,lte=100000"`
	Children int `yaml:"children" json:"children" validate:"gte=0,lte=1000000"`
	Batches  int `yaml:"batches" json:"batches" validate:"gte=0,lte=100"`

	// Edges is the edge count of a random DAG.
	Edges   int   `yaml:"edges" json:"edges" validate:"gte=0,lte=10000000"`
	Workers int   `yaml:"workers" json:"workers" validate:"gte=0,lte=256"`
	Seed    int64 `yaml:"seed" json:"seed"`

	// TrackMembers records per-node contribution counts so coverage of the
	// root can be verified. It costs memory proportional to the graph.
	TrackMembers bool `yaml:"track_members" json:"track_members"`

	// CheckInvariants runs a full traversal after the scenario.
	CheckInvariants bool `yaml:"check_invariants" json:"check_invariants"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validate checks field ranges.
func (s Spec) Validate() error {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	return nil
}

// WithDefaults fills zero sizes with the kind's defaults.
func (s Spec) WithDefaults() Spec {
	switch s.Kind {
	case KindChain:
		s.Size = orDefault(s.Size, 100)
	case KindDoubleChain:
		s.Size = orDefault(s.Size, 30)
	case KindRectangle:
		s.Width = orDefault(s.Width, 20)
		s.Height = orDefault(s.Height, 20)
	case KindManyChildren:
		// Every root keeps a member entry per reachable child.
		s.Roots = orDefault(s.Roots, 50)
		s.Children = orDefault(s.Children, 5000)
		s.Batches = orDefault(s.Batches, 8)
	case KindRandomDAG:
		s.Size = orDefault(s.Size, 2000)
		s.Edges = orDefault(s.Edges, 3*s.Size)
		s.Workers = orDefault(s.Workers, 4)
	}
	if s.Seed == 0 {
		s.Seed = 1
	}
	return s
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// Step is one measured phase of a run.
type Step struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration_ns"`
	Merges   uint64        `json:"merges"`
}

// Result is the outcome of a run.
type Result struct {
	RunID     string    `json:"run_id"`
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	StartedAt time.Time `json:"started_at"`

	Nodes    int           `json:"nodes"`
	Edges    int           `json:"edges"`
	Duration time.Duration `json:"duration_ns"`
	Steps    []Step        `json:"steps"`
	Merges   uint64        `json:"merges"`

	// RootValue is the aggregate read from the scenario's root.
	RootValue int64 `json:"root_value"`

	// ExpectedValue is the sum of every distinct node value under the root.
	ExpectedValue int64 `json:"expected_value"`

	// Covered is the number of distinct nodes contributing to the root when
	// members are tracked.
	Covered int `json:"covered,omitempty"`

	// SlowBatches counts batches slower than twice the baseline batch.
	SlowBatches int `json:"slow_batches,omitempty"`

	Consistent     bool              `json:"consistent"`
	Stats          aggregation.Stats `json:"stats"`
	InvariantError string            `json:"invariant_error,omitempty"`
}

// Progress is reported while a run advances.
type Progress struct {
	RunID   string        `json:"run_id"`
	Step    string        `json:"step"`
	Done    int           `json:"done"`
	Total   int           `json:"total"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

// ProgressFunc receives progress updates. Calls never overlap, but may come
// from a worker goroutine. It must not block for long.
type ProgressFunc func(Progress)

// Runner executes scenarios.
//
// Thread Safety: Safe for concurrent use; every run builds its own graph.
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a runner. A nil logger uses slog.Default.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger}
}

// run carries the state of one scenario execution.
type run struct {
	ctx      context.Context
	spec     Spec
	graph    *SumGraph
	result   *Result
	progress ProgressFunc
	started  time.Time
}

// step measures fn as a named phase.
func (r *run) step(name string, fn func() error) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	r.graph.ResetMerges()
	start := time.Now()
	err := fn()
	s := Step{Name: name, Duration: time.Since(start), Merges: r.graph.ResetMerges()}
	r.result.Steps = append(r.result.Steps, s)
	r.result.Merges += s.Merges
	stepMerges.WithLabelValues(string(r.spec.Kind), name).Observe(float64(s.Merges))
	return err
}

func (r *run) report(step string, done, total int) {
	if r.progress == nil {
		return
	}
	r.progress(Progress{
		RunID:   r.result.RunID,
		Step:    step,
		Done:    done,
		Total:   total,
		Elapsed: time.Since(r.started),
	})
}

// Run executes spec and returns its measurements.
//
// Description:
//
//	Applies defaults, validates the scenario, builds the graph for its kind and
//	measures each phase. Cancellation is checked between phases and batches;
//	a cancelled run returns the context error.
//
// Inputs:
//
//	ctx      - Cancellation and tracing context.
//	spec     - What to run.
//	progress - Optional progress callback, may be nil.
//
// Outputs:
//
//	*Result - Measurements. Non-nil whenever error is nil.
//	error   - ErrInvalidSpec, ErrUnknownKind, or a context error.
func (rn *Runner) Run(ctx context.Context, spec Spec, progress ProgressFunc) (*Result, error) {
	spec = spec.WithDefaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "scenario.Runner.Run",
		trace.WithAttributes(
			attribute.String("scenario.name", spec.Name),
			attribute.String("scenario.kind", string(spec.Kind)),
		),
	)
	defer span.End()

	var opts []SumGraphOption
	if spec.Kind == KindRectangle {
		opts = append(opts, WithoutPropagation())
	}
	if spec.TrackMembers {
		opts = append(opts, WithMembers())
	}

	r := &run{
		ctx:      ctx,
		spec:     spec,
		graph:    NewSumGraph(opts...),
		progress: progress,
		started:  time.Now(),
		result: &Result{
			RunID:     uuid.New().String(),
			Name:      spec.Name,
			Kind:      spec.Kind,
			StartedAt: time.Now().UTC(),
		},
	}
	rn.logger.Info("scenario started", "run_id", r.result.RunID, "name", spec.Name, "kind", spec.Kind)

	var roots []*SumNode
	var err error
	switch spec.Kind {
	case KindChain:
		roots, err = r.chain()
	case KindDoubleChain:
		roots, err = r.doubleChain()
	case KindRectangle:
		roots, err = r.rectangle()
	case KindManyChildren:
		roots, err = r.manyChildren()
	case KindRandomDAG:
		roots, err = r.randomDAG()
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownKind, spec.Kind)
	}
	r.result.Duration = time.Since(r.started)
	runDuration.WithLabelValues(string(spec.Kind)).Observe(r.result.Duration.Seconds())

	if err != nil {
		runsTotal.WithLabelValues(string(spec.Kind), outcome(err)).Inc()
		telemetry.FailSpan(span, err)
		rn.logger.Warn("scenario failed", "run_id", r.result.RunID, "error", err)
		return nil, fmt.Errorf("run scenario %s: %w", spec.Name, err)
	}

	r.result.Stats = r.graph.Stats(roots...)
	if spec.CheckInvariants {
		if ierr := r.graph.CheckInvariants(roots...); ierr != nil {
			r.result.InvariantError = ierr.Error()
			r.result.Consistent = false
		}
	}

	runsTotal.WithLabelValues(string(spec.Kind), "ok").Inc()
	span.SetAttributes(
		attribute.Int("scenario.nodes", r.result.Nodes),
		attribute.Int64("scenario.merges", int64(r.result.Merges)),
		attribute.Bool("scenario.consistent", r.result.Consistent),
	)
	rn.logger.Info("scenario finished",
		"run_id", r.result.RunID,
		"name", spec.Name,
		"nodes", r.result.Nodes,
		"merges", r.result.Merges,
		"duration", r.result.Duration,
		"consistent", r.result.Consistent,
	)
	return r.result, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
