// Copyright (C) 2026 Cove Cloud (engineering@covecloud.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package diagnostics records lifecycle operation metrics. Automation runs
// push these through a text-format dump for scrape-on-exit collection.
package diagnostics

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Metrics aggregates the counters and histograms for one process run.
// A fresh registry per instance keeps tests independent.
type Metrics struct {
	registry *prometheus.Registry

	phaseDuration  *prometheus.HistogramVec
	setupTotal     *prometheus.CounterVec
	teardownTotal  *prometheus.CounterVec
	destroyEvents  *prometheus.CounterVec
	hookFailures   *prometheus.CounterVec
	backupDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "platformctl",
			Name:      "phase_duration_seconds",
			Help:      "Duration of provisioning phases.",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 8), // 10s .. ~21min
		}, []string{"environment", "phase"}),
		setupTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "platformctl",
			Name:      "setup_total",
			Help:      "Setup runs by outcome.",
		}, []string{"environment", "outcome"}),
		teardownTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "platformctl",
			Name:      "teardown_total",
			Help:      "Teardown runs by outcome.",
		}, []string{"environment", "outcome"}),
		destroyEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "platformctl",
			Name:      "destroy_events_total",
			Help:      "Destroy events by trigger reason.",
		}, []string{"environment", "reason"}),
		hookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "platformctl",
			Name:      "hook_failures_total",
			Help:      "Hook failures by event and position.",
		}, []string{"event", "when"}),
		backupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "platformctl",
			Name:      "backup_duration_seconds",
			Help:      "Duration of full backup runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	m.registry.MustRegister(
		m.phaseDuration,
		m.setupTotal,
		m.teardownTotal,
		m.destroyEvents,
		m.hookFailures,
		m.backupDuration,
	)
	return m
}

func (m *Metrics) ObservePhase(env, phase string, d time.Duration) {
	m.phaseDuration.WithLabelValues(env, phase).Observe(d.Seconds())
}

func (m *Metrics) SetupFinished(env string, ok bool) {
	m.setupTotal.WithLabelValues(env, outcome(ok)).Inc()
}

func (m *Metrics) TeardownFinished(env string, ok bool) {
	m.teardownTotal.WithLabelValues(env, outcome(ok)).Inc()
}

// DestroyEvent records what triggered a destroy: "requested", "forced",
// or "emergency".
func (m *Metrics) DestroyEvent(env, reason string) {
	m.destroyEvents.WithLabelValues(env, reason).Inc()
}

func (m *Metrics) HookFailed(event, when string) {
	m.hookFailures.WithLabelValues(event, when).Inc()
}

func (m *Metrics) ObserveBackup(d time.Duration) {
	m.backupDuration.Observe(d.Seconds())
}

// Dump writes all gathered metrics in prometheus text format.
func (m *Metrics) Dump(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := enc.Encode(family); err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
	}
	return nil
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
