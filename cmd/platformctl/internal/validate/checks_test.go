// Copyright (C) 2026 Cove Cloud (engineering@covecloud.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/covecloud/platformctl/cmd/platformctl/internal/backend"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/infra/process"
)

type stubResolver struct {
	ptr *backend.Pointer
	err error
}

func (s *stubResolver) Resolve(_ context.Context, _ string, phase backend.Phase) (*backend.Pointer, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.ptr != nil {
		return s.ptr, nil
	}
	return &backend.Pointer{Bucket: "b", Key: phase.Key(), Region: "us-west-2"}, nil
}

func TestStateBackendCheck(t *testing.T) {
	check := &StateBackendCheck{Resolver: &stubResolver{}, Environment: "dev"}
	if res := check.Run(context.Background()); res.Status != StatusPass {
		t.Errorf("expected pass, got %s: %s", res.Status, res.Message)
	}

	legacy := &StateBackendCheck{
		Resolver:    &stubResolver{ptr: &backend.Pointer{Bucket: "b", Key: backend.LegacyKey, Legacy: true}},
		Environment: "dev",
	}
	if res := legacy.Run(context.Background()); res.Status != StatusWarn {
		t.Errorf("legacy layout should warn, got %s", res.Status)
	}

	broken := &StateBackendCheck{Resolver: &stubResolver{err: backend.ErrBackendUnreachable}, Environment: "dev"}
	if res := broken.Run(context.Background()); res.Status != StatusFail {
		t.Errorf("unreachable backend should fail, got %s", res.Status)
	}
}

func TestDatabaseReadyCheck(t *testing.T) {
	mock := &process.MockManager{}
	check := &DatabaseReadyCheck{Proc: mock, Host: "db.internal", Port: "5432"}
	if res := check.Run(context.Background()); res.Status != StatusPass {
		t.Errorf("expected pass, got %s: %s", res.Status, res.Message)
	}

	calls := mock.GetCalls()
	last := calls[len(calls)-1]
	if last.Name != "pg_isready" {
		t.Errorf("expected pg_isready invocation, got %s", last.Name)
	}

	failing := &DatabaseReadyCheck{
		Proc: &process.MockManager{
			RunInDirFunc: func(_ context.Context, _ string, _ []string, _ string, _ ...string) (string, string, int, error) {
				return "", "no response", 2, errors.New("exit status 2")
			},
		},
		Host: "db.internal", Port: "5432",
	}
	if res := failing.Run(context.Background()); res.Status != StatusFail {
		t.Errorf("refused connection should fail, got %s", res.Status)
	}

	noHost := &DatabaseReadyCheck{Proc: mock}
	if res := noHost.Run(context.Background()); res.Status != StatusWarn {
		t.Errorf("missing endpoint should warn, got %s", res.Status)
	}

	notInstalled := &DatabaseReadyCheck{
		Proc: &process.MockManager{
			LookPathFunc: func(string) (string, error) { return "", errors.New("not found") },
		},
		Host: "db.internal", Port: "5432",
	}
	if res := notInstalled.Run(context.Background()); res.Status != StatusWarn {
		t.Errorf("missing pg_isready should warn, got %s", res.Status)
	}
}

func TestNodeUtilizationCheck(t *testing.T) {
	top := "node-a   250m   12%   4096Mi   35%\nnode-b   1800m   91%   7800Mi   88%\n"
	hot := &NodeUtilizationCheck{
		Proc: &process.MockManager{
			RunInDirFunc: func(_ context.Context, _ string, _ []string, _ string, _ ...string) (string, string, int, error) {
				return top, "", 0, nil
			},
		},
		Kubeconfig: "/tmp/kubeconfig",
	}
	res := hot.Run(context.Background())
	if res.Status != StatusWarn {
		t.Errorf("a node above the threshold should warn, got %s: %s", res.Status, res.Message)
	}
	if !strings.Contains(res.Message, "1 of 2 nodes") {
		t.Errorf("message should count hot nodes, got %q", res.Message)
	}

	cool := &NodeUtilizationCheck{
		Proc: &process.MockManager{
			RunInDirFunc: func(_ context.Context, _ string, _ []string, _ string, _ ...string) (string, string, int, error) {
				return "node-a   250m   12%   4096Mi   35%\n", "", 0, nil
			},
		},
		Kubeconfig: "/tmp/kubeconfig",
	}
	if res := cool.Run(context.Background()); res.Status != StatusPass {
		t.Errorf("expected pass, got %s: %s", res.Status, res.Message)
	}

	noMetrics := &NodeUtilizationCheck{
		Proc: &process.MockManager{
			RunInDirFunc: func(_ context.Context, _ string, _ []string, _ string, _ ...string) (string, string, int, error) {
				return "", "Metrics API not available", 1, errors.New("exit status 1")
			},
		},
		Kubeconfig: "/tmp/kubeconfig",
	}
	if res := noMetrics.Run(context.Background()); res.Status != StatusWarn {
		t.Errorf("missing metrics server should warn, got %s", res.Status)
	}

	noKubectl := &NodeUtilizationCheck{
		Proc: &process.MockManager{
			LookPathFunc: func(string) (string, error) { return "", errors.New("not found") },
		},
	}
	if res := noKubectl.Run(context.Background()); res.Status != StatusWarn {
		t.Errorf("missing kubectl should warn, got %s", res.Status)
	}
}

func TestDatabaseLatencyCheck(t *testing.T) {
	mock := &process.MockManager{}
	check := &DatabaseLatencyCheck{Proc: mock, Host: "db.internal", Port: "5432", Database: "platform"}
	if res := check.Run(context.Background()); res.Status != StatusPass {
		t.Errorf("expected pass, got %s: %s", res.Status, res.Message)
	}
	calls := mock.GetCalls()
	last := calls[len(calls)-1]
	if last.Name != "psql" {
		t.Errorf("expected psql invocation, got %s", last.Name)
	}

	failing := &DatabaseLatencyCheck{
		Proc: &process.MockManager{
			RunInDirFunc: func(_ context.Context, _ string, _ []string, _ string, _ ...string) (string, string, int, error) {
				return "", "FATAL: password authentication failed", 2, errors.New("exit status 2")
			},
		},
		Host: "db.internal", Port: "5432",
	}
	if res := failing.Run(context.Background()); res.Status != StatusFail {
		t.Errorf("failed query should fail, got %s", res.Status)
	}

	noHost := &DatabaseLatencyCheck{Proc: mock}
	if res := noHost.Run(context.Background()); res.Status != StatusWarn {
		t.Errorf("missing endpoint should warn, got %s", res.Status)
	}
}

func TestMonitoringEndpointCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	check := &MonitoringEndpointCheck{URL: server.URL, Enabled: true, HTTPClient: server.Client()}
	if res := check.Run(context.Background()); res.Status != StatusPass {
		t.Errorf("expected pass, got %s: %s", res.Status, res.Message)
	}

	disabled := &MonitoringEndpointCheck{Enabled: false}
	res := disabled.Run(context.Background())
	if res.Status != StatusWarn || !strings.Contains(res.Message, "disabled") {
		t.Errorf("disabled monitoring should warn, got %s: %s", res.Status, res.Message)
	}

	missing := &MonitoringEndpointCheck{Enabled: true}
	if res := missing.Run(context.Background()); res.Status != StatusFail {
		t.Errorf("enabled without endpoint should fail, got %s", res.Status)
	}
}

func TestKubeconfigPermissionsCheck(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kubeconfig")
	if err := os.WriteFile(path, []byte("apiVersion: v1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	check := &KubeconfigPermissionsCheck{Path: path}
	if res := check.Run(context.Background()); res.Status != StatusPass {
		t.Errorf("0600 artifact should pass, got %s: %s", res.Status, res.Message)
	}

	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatal(err)
	}
	if res := check.Run(context.Background()); res.Status != StatusFail {
		t.Errorf("world-readable artifact should fail, got %s", res.Status)
	}

	absent := &KubeconfigPermissionsCheck{Path: filepath.Join(dir, "absent")}
	if res := absent.Run(context.Background()); res.Status != StatusFail {
		t.Errorf("missing artifact should fail, got %s", res.Status)
	}
}

func TestDNSResolutionCheckNoEndpoint(t *testing.T) {
	check := &DNSResolutionCheck{}
	if res := check.Run(context.Background()); res.Status != StatusFail {
		t.Errorf("missing endpoint should fail, got %s", res.Status)
	}
}
