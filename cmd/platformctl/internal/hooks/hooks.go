// Copyright (C) 2026 Cove Cloud (engineering@covecloud.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package hooks runs operator-supplied extension points around lifecycle
// events. A pre hook can veto the event by failing; a post hook failure is
// reported but never fails the event it follows.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Event is a lifecycle event hooks can attach to.
type Event string

const (
	EventSetup    Event = "setup"
	EventTeardown Event = "teardown"
)

// When is the position of a hook relative to its event.
type When string

const (
	WhenPre  When = "pre"
	WhenPost When = "post"
)

// ErrVetoed is returned when a pre hook fails and blocks its event.
var ErrVetoed = errors.New("operation vetoed by pre hook")

// Context carries what a hook is allowed to see about the run.
type Context struct {
	Environment string
	Template    string
	Event       Event
	When        When
	// Phase is set when the hook fires inside a phased operation.
	Phase string
	// Vars are additional values forwarded from earlier hooks or the
	// orchestrator, exposed to the hook process as environment variables.
	Vars map[string]string
}

// Hook is one extension point. Run returns variables to forward to later
// hooks and the surrounding operation.
type Hook interface {
	Name() string
	Run(ctx context.Context, hctx Context) (map[string]string, error)
}

// =============================================================================
// Registry
// =============================================================================

type hookKey struct {
	event Event
	when  When
}

// Registry holds hooks keyed by (event, when). Registration order is
// preserved per slot, which is the order hooks run in.
type Registry struct {
	mu    sync.RWMutex
	hooks map[hookKey][]Hook
}

func NewRegistry() *Registry {
	return &Registry{hooks: make(map[hookKey][]Hook)}
}

func (r *Registry) Register(event Event, when When, h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := hookKey{event: event, when: when}
	r.hooks[key] = append(r.hooks[key], h)
}

// For returns the registered hooks for a slot in registration order.
func (r *Registry) For(event Event, when When) []Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	registered := r.hooks[hookKey{event: event, when: when}]
	out := make([]Hook, len(registered))
	copy(out, registered)
	return out
}

// =============================================================================
// Runner
// =============================================================================

// Logger is the subset of the logging interface the runner needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Runner executes the hooks for a slot with the slot's failure semantics.
type Runner struct {
	registry *Registry
	timeout  time.Duration
	log      Logger
}

func NewRunner(registry *Registry, timeout time.Duration, log Logger) *Runner {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Runner{registry: registry, timeout: timeout, log: log}
}

// RunPre executes all pre hooks for the event in order. The first failure
// stops the chain and vetoes the event; variables forwarded by hooks that
// already succeeded are discarded along with the veto. On success the
// merged forwarded variables are returned, later hooks overriding earlier
// ones on key collision.
func (r *Runner) RunPre(ctx context.Context, event Event, hctx Context) (map[string]string, error) {
	hctx.Event = event
	hctx.When = WhenPre

	forwarded := make(map[string]string)
	for _, h := range r.registry.For(event, WhenPre) {
		vars, err := r.runOne(ctx, h, hctx, forwarded)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrVetoed, h.Name(), err)
		}
		for k, v := range vars {
			forwarded[k] = v
		}
		r.log.Info("pre hook completed", "hook", h.Name(), "event", string(event), "forwarded_vars", len(vars))
	}
	return forwarded, nil
}

// RunPost executes all post hooks for the event in order. Failures are
// logged as warnings and never propagate; every hook runs regardless of
// earlier failures. The number of failed hooks is returned for reporting.
func (r *Runner) RunPost(ctx context.Context, event Event, hctx Context) int {
	hctx.Event = event
	hctx.When = WhenPost

	failed := 0
	forwarded := make(map[string]string)
	for _, h := range r.registry.For(event, WhenPost) {
		vars, err := r.runOne(ctx, h, hctx, forwarded)
		if err != nil {
			failed++
			r.log.Warn("post hook failed", "hook", h.Name(), "event", string(event), "error", err.Error())
			continue
		}
		for k, v := range vars {
			forwarded[k] = v
		}
	}
	return failed
}

func (r *Runner) runOne(ctx context.Context, h Hook, hctx Context, forwarded map[string]string) (map[string]string, error) {
	merged := make(map[string]string, len(hctx.Vars)+len(forwarded))
	for k, v := range hctx.Vars {
		merged[k] = v
	}
	for k, v := range forwarded {
		merged[k] = v
	}
	hctx.Vars = merged

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return h.Run(runCtx, hctx)
}
