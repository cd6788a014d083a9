// Copyright (C) 2026 Cove Cloud (engineering@covecloud.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validate runs post-setup health checks against a provisioned
// environment and aggregates them into a report.
//
// Checks are grouped by platform component and gated by depth: quick runs
// only the cheap reachability probes, standard adds functional checks, and
// comprehensive runs everything concurrently. A misbehaving check can
// panic without taking down the run; the panic is converted into a failed
// result for that check alone.
package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Depth selects how much of the check suite runs.
type Depth string

const (
	DepthQuick         Depth = "quick"
	DepthStandard      Depth = "standard"
	DepthComprehensive Depth = "comprehensive"
)

// rank orders depths so a check declares its minimum depth once.
func (d Depth) rank() int {
	switch d {
	case DepthQuick:
		return 0
	case DepthStandard:
		return 1
	case DepthComprehensive:
		return 2
	default:
		return 1
	}
}

// Valid reports whether d is a recognized depth.
func (d Depth) Valid() bool {
	switch d {
	case DepthQuick, DepthStandard, DepthComprehensive:
		return true
	}
	return false
}

// Components lists every platform component in report order.
var Components = []string{
	"infrastructure",
	"cluster",
	"application",
	"database",
	"monitoring",
	"network",
	"security",
}

// Status is the outcome of a single check.
type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Check is one verifiable property of a component.
type Check interface {
	// Name identifies the check in reports.
	Name() string
	// Component is one of the Components values.
	Component() string
	// MinDepth is the shallowest depth at which the check runs.
	MinDepth() Depth
	// Run performs the check. Returning an error marks the check failed;
	// the Result carries detail for both outcomes.
	Run(ctx context.Context) Result
}

// Result is the recorded outcome of one check execution.
type Result struct {
	Check     string        `json:"check"`
	Component string        `json:"component"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

// =============================================================================
// Registry
// =============================================================================

// Registry holds checks grouped by component.
type Registry struct {
	mu     sync.RWMutex
	checks []Check
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Register(c Check) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks = append(r.checks, c)
}

// Covered reports whether any check is registered for the component, at
// any depth. Uncovered components were not provisioned in this
// environment.
func (r *Registry) Covered(component string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.checks {
		if c.Component() == component {
			return true
		}
	}
	return false
}

// Select returns the checks to run for the given components at the given
// depth, in stable component order. An empty component list means all.
func (r *Registry) Select(components []string, depth Depth) []Check {
	wanted := make(map[string]bool, len(components))
	for _, c := range components {
		wanted[c] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var selected []Check
	for _, c := range r.checks {
		if len(wanted) > 0 && !wanted[c.Component()] {
			continue
		}
		if c.MinDepth().rank() > depth.rank() {
			continue
		}
		selected = append(selected, c)
	}
	order := make(map[string]int, len(Components))
	for i, name := range Components {
		order[name] = i
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return order[selected[i].Component()] < order[selected[j].Component()]
	})
	return selected
}

// =============================================================================
// Report
// =============================================================================

// Report aggregates the results of a validation run.
type Report struct {
	Environment string        `json:"environment"`
	Depth       Depth         `json:"depth"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration_ns"`
	Results     []Result      `json:"results"`
	Passed      int           `json:"passed"`
	Warned      int           `json:"warned"`
	Failed      int           `json:"failed"`
	// SuccessRate is the fraction of checks that passed outright; warns
	// and failures both lower it.
	SuccessRate float64 `json:"success_rate"`
	// Overall fails if and only if at least one check failed.
	Overall Status `json:"overall"`
}

// JSON renders the report for machine consumption.
func (r *Report) JSON() (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	return string(data), nil
}

func buildReport(env string, depth Depth, started time.Time, results []Result) *Report {
	report := &Report{
		Environment: env,
		Depth:       depth,
		StartedAt:   started,
		Duration:    time.Since(started),
		Results:     results,
	}
	for _, res := range results {
		switch res.Status {
		case StatusPass:
			report.Passed++
		case StatusWarn:
			report.Warned++
		case StatusFail:
			report.Failed++
		}
	}
	total := len(results)
	if total > 0 {
		report.SuccessRate = float64(report.Passed) / float64(total)
	}
	if report.Failed > 0 {
		report.Overall = StatusFail
	} else if report.Warned > 0 {
		report.Overall = StatusWarn
	} else {
		report.Overall = StatusPass
	}
	return report
}

// =============================================================================
// Engine
// =============================================================================

// Logger is the subset of the logging interface the engine needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Engine executes a selection of checks and produces a Report.
type Engine struct {
	registry *Registry
	log      Logger
	// parallelism bounds concurrent checks in comprehensive mode.
	parallelism int
}

func NewEngine(registry *Registry, log Logger) *Engine {
	return &Engine{registry: registry, log: log, parallelism: 4}
}

// Run executes the selected checks. Quick and standard depths run
// sequentially so output ordering is deterministic; comprehensive fans
// out across a bounded worker group.
func (e *Engine) Run(ctx context.Context, env string, components []string, depth Depth) (*Report, error) {
	if !depth.Valid() {
		return nil, fmt.Errorf("unknown validation depth %q", depth)
	}
	for _, c := range components {
		if !knownComponent(c) {
			return nil, fmt.Errorf("unknown component %q", c)
		}
	}

	checks := e.registry.Select(components, depth)
	started := time.Now()
	e.log.Info("validation started", "environment", env, "depth", string(depth), "checks", len(checks))

	var results []Result
	if depth == DepthComprehensive {
		results = e.runParallel(ctx, checks)
	} else {
		results = e.runSequential(ctx, checks)
	}

	// A requested component with nothing registered was never provisioned
	// here; that degrades to a warning rather than an empty pass.
	for _, comp := range components {
		if !e.registry.Covered(comp) {
			results = append(results, Result{
				Check:     "component-registered",
				Component: comp,
				Status:    StatusWarn,
				Message:   "component not found",
			})
		}
	}

	report := buildReport(env, depth, started, results)
	if report.Failed > 0 {
		e.log.Warn("validation finished with failures",
			"environment", env,
			"failed", report.Failed,
			"passed", report.Passed,
		)
	} else {
		e.log.Info("validation finished", "environment", env, "passed", report.Passed, "warned", report.Warned)
	}
	return report, nil
}

func (e *Engine) runSequential(ctx context.Context, checks []Check) []Result {
	results := make([]Result, 0, len(checks))
	for _, c := range checks {
		results = append(results, e.runOne(ctx, c))
	}
	return results
}

func (e *Engine) runParallel(ctx context.Context, checks []Check) []Result {
	results := make([]Result, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i, c := range checks {
		i, c := i, c
		g.Go(func() error {
			results[i] = e.runOne(gctx, c)
			return nil
		})
	}
	// Workers never return errors; failures live in the results.
	_ = g.Wait()
	return results
}

// runOne executes a single check with panic isolation.
func (e *Engine) runOne(ctx context.Context, c Check) (result Result) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = Result{
				Check:     c.Name(),
				Component: c.Component(),
				Status:    StatusFail,
				Message:   fmt.Sprintf("check panicked: %v", r),
				Duration:  time.Since(started),
			}
		}
	}()
	result = c.Run(ctx)
	result.Check = c.Name()
	result.Component = c.Component()
	result.Duration = time.Since(started)
	return result
}

func knownComponent(name string) bool {
	for _, c := range Components {
		if c == name {
			return true
		}
	}
	return false
}
