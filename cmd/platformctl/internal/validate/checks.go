// Copyright (C) 2026 Cove Cloud (engineering@covecloud.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validate

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/covecloud/platformctl/cmd/platformctl/internal/backend"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/infra/kube"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/infra/process"
)

// Narrow views of the collaborating packages so each check depends only on
// what it actually calls.

type backendResolver interface {
	Resolve(ctx context.Context, env string, phase backend.Phase) (*backend.Pointer, error)
}

type stateLister interface {
	StateList(ctx context.Context) ([]string, error)
}

type clusterProbe interface {
	ServerReachable(ctx context.Context) (string, error)
	CheckStorageClasses(ctx context.Context, required []string) error
	ActiveWorkloads(ctx context.Context, namespace, selector string) ([]kube.Workload, error)
}

func pass(msg string) Result { return Result{Status: StatusPass, Message: msg} }
func warn(msg string) Result { return Result{Status: StatusWarn, Message: msg} }
func fail(msg string) Result { return Result{Status: StatusFail, Message: msg} }

// =============================================================================
// infrastructure
// =============================================================================

// StateBackendCheck verifies the remote state container resolves for both
// phases. A legacy single-key layout passes with a warning so operators
// know a migration is still pending.
type StateBackendCheck struct {
	Resolver    backendResolver
	Environment string
}

func (c *StateBackendCheck) Name() string      { return "state-backend" }
func (c *StateBackendCheck) Component() string { return "infrastructure" }
func (c *StateBackendCheck) MinDepth() Depth   { return DepthQuick }

func (c *StateBackendCheck) Run(ctx context.Context) Result {
	for _, phase := range []backend.Phase{backend.PhaseInfra, backend.PhaseApp} {
		ptr, err := c.Resolver.Resolve(ctx, c.Environment, phase)
		if err != nil {
			return fail(fmt.Sprintf("%s phase: %v", phase, err))
		}
		if ptr.Legacy {
			return warn(fmt.Sprintf("legacy state layout at s3://%s/%s, migration pending", ptr.Bucket, ptr.Key))
		}
	}
	return pass("state backend reachable for both phases")
}

// TerraformStateCheck verifies the infrastructure state actually holds
// resources. An empty state after a reported setup means the apply never
// recorded anything.
type TerraformStateCheck struct {
	Lister stateLister
}

func (c *TerraformStateCheck) Name() string      { return "terraform-state" }
func (c *TerraformStateCheck) Component() string { return "infrastructure" }
func (c *TerraformStateCheck) MinDepth() Depth   { return DepthStandard }

func (c *TerraformStateCheck) Run(ctx context.Context) Result {
	resources, err := c.Lister.StateList(ctx)
	if err != nil {
		return fail(fmt.Sprintf("list state: %v", err))
	}
	if len(resources) == 0 {
		return fail("state contains no resources")
	}
	return pass(fmt.Sprintf("%d resources under management", len(resources)))
}

// =============================================================================
// cluster
// =============================================================================

// APIServerCheck probes the cluster control plane.
type APIServerCheck struct {
	Cluster clusterProbe
}

func (c *APIServerCheck) Name() string      { return "api-server" }
func (c *APIServerCheck) Component() string { return "cluster" }
func (c *APIServerCheck) MinDepth() Depth   { return DepthQuick }

func (c *APIServerCheck) Run(ctx context.Context) Result {
	version, err := c.Cluster.ServerReachable(ctx)
	if err != nil {
		return fail(err.Error())
	}
	return pass("API server " + version)
}

// StorageClassCheck verifies the storage classes workspaces bind to exist.
type StorageClassCheck struct {
	Cluster  clusterProbe
	Required []string
}

func (c *StorageClassCheck) Name() string      { return "storage-classes" }
func (c *StorageClassCheck) Component() string { return "cluster" }
func (c *StorageClassCheck) MinDepth() Depth   { return DepthStandard }

func (c *StorageClassCheck) Run(ctx context.Context) Result {
	if err := c.Cluster.CheckStorageClasses(ctx, c.Required); err != nil {
		return fail(err.Error())
	}
	return pass(fmt.Sprintf("%d storage classes present", len(c.Required)))
}

// NodeUtilizationCheck reads per-node CPU and memory utilization from the
// metrics pipeline and warns when any node runs hot. A missing metrics
// server degrades to a warning; utilization is a direct measurement, not
// a reachability probe, so there is nothing to fail against.
type NodeUtilizationCheck struct {
	Proc       process.Manager
	Kubeconfig string
	// WarnPercent is the utilization that degrades the result; zero uses 90.
	WarnPercent int
}

func (c *NodeUtilizationCheck) Name() string      { return "node-utilization" }
func (c *NodeUtilizationCheck) Component() string { return "cluster" }
func (c *NodeUtilizationCheck) MinDepth() Depth   { return DepthComprehensive }

func (c *NodeUtilizationCheck) Run(ctx context.Context) Result {
	if _, err := c.Proc.LookPath("kubectl"); err != nil {
		return warn("kubectl not installed, cannot read node utilization")
	}
	stdout, stderr, code, err := c.Proc.RunInDir(ctx, "", nil, "kubectl",
		"--kubeconfig", c.Kubeconfig, "top", "nodes", "--no-headers")
	if err != nil || code != 0 {
		return warn(fmt.Sprintf("metrics pipeline unavailable: %s", strings.TrimSpace(stderr)))
	}

	threshold := c.WarnPercent
	if threshold <= 0 {
		threshold = 90
	}
	var nodes, hot int
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		// NAME CPU(cores) CPU% MEMORY(bytes) MEMORY%
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		nodes++
		cpu, _ := strconv.Atoi(strings.TrimSuffix(fields[2], "%"))
		mem, _ := strconv.Atoi(strings.TrimSuffix(fields[4], "%"))
		if cpu >= threshold || mem >= threshold {
			hot++
		}
	}
	if nodes == 0 {
		return warn("metrics pipeline returned no nodes")
	}
	if hot > 0 {
		return warn(fmt.Sprintf("%d of %d nodes at or above %d%% utilization", hot, nodes, threshold))
	}
	return pass(fmt.Sprintf("%d nodes under %d%% utilization", nodes, threshold))
}

// =============================================================================
// application
// =============================================================================

// WorkspaceNamespaceCheck verifies the workspace namespace answers and
// reports how many workloads are active. Zero active workloads is a pass;
// a fresh environment has none.
type WorkspaceNamespaceCheck struct {
	Cluster   clusterProbe
	Namespace string
	Selector  string
}

func (c *WorkspaceNamespaceCheck) Name() string      { return "workspace-namespace" }
func (c *WorkspaceNamespaceCheck) Component() string { return "application" }
func (c *WorkspaceNamespaceCheck) MinDepth() Depth   { return DepthStandard }

func (c *WorkspaceNamespaceCheck) Run(ctx context.Context) Result {
	workloads, err := c.Cluster.ActiveWorkloads(ctx, c.Namespace, c.Selector)
	if err != nil {
		return fail(err.Error())
	}
	return pass(fmt.Sprintf("%d active workloads in %s", len(workloads), c.Namespace))
}

// =============================================================================
// database
// =============================================================================

// DatabaseReadyCheck runs pg_isready against the platform database.
type DatabaseReadyCheck struct {
	Proc process.Manager
	Host string
	Port string
}

func (c *DatabaseReadyCheck) Name() string      { return "database-ready" }
func (c *DatabaseReadyCheck) Component() string { return "database" }
func (c *DatabaseReadyCheck) MinDepth() Depth   { return DepthStandard }

func (c *DatabaseReadyCheck) Run(ctx context.Context) Result {
	if c.Host == "" {
		return warn("database endpoint not present in outputs, skipping")
	}
	if _, err := c.Proc.LookPath("pg_isready"); err != nil {
		return warn("pg_isready not installed, cannot probe database")
	}
	_, stderr, code, err := c.Proc.RunInDir(ctx, "", nil, "pg_isready", "-h", c.Host, "-p", c.Port, "-t", "10")
	if err != nil || code != 0 {
		return fail(fmt.Sprintf("pg_isready exit %d: %s", code, stderr))
	}
	return pass(c.Host + " accepting connections")
}

// DatabaseLatencyCheck times a synthetic query against the platform
// database. Reachability is covered by DatabaseReadyCheck; this one
// measures how quickly the database answers once reached.
type DatabaseLatencyCheck struct {
	Proc     process.Manager
	Host     string
	Port     string
	Database string
	User     string
	// WarnAbove is the latency that degrades the result; zero uses 500ms.
	WarnAbove time.Duration
}

func (c *DatabaseLatencyCheck) Name() string      { return "database-latency" }
func (c *DatabaseLatencyCheck) Component() string { return "database" }
func (c *DatabaseLatencyCheck) MinDepth() Depth   { return DepthComprehensive }

func (c *DatabaseLatencyCheck) Run(ctx context.Context) Result {
	if c.Host == "" {
		return warn("database endpoint not present in outputs, skipping")
	}
	if _, err := c.Proc.LookPath("psql"); err != nil {
		return warn("psql not installed, cannot measure query latency")
	}
	args := []string{"-h", c.Host, "-p", c.Port, "-At", "-c", "SELECT 1"}
	if c.Database != "" {
		args = append(args, "-d", c.Database)
	}
	if c.User != "" {
		args = append(args, "-U", c.User)
	}

	started := time.Now()
	_, stderr, code, err := c.Proc.RunInDir(ctx, "", nil, "psql", args...)
	elapsed := time.Since(started)
	if err != nil || code != 0 {
		return fail(fmt.Sprintf("synthetic query exit %d: %s", code, strings.TrimSpace(stderr)))
	}
	warnAbove := c.WarnAbove
	if warnAbove <= 0 {
		warnAbove = 500 * time.Millisecond
	}
	if elapsed > warnAbove {
		return warn(fmt.Sprintf("synthetic query took %s, above %s", elapsed.Round(time.Millisecond), warnAbove))
	}
	return pass(fmt.Sprintf("synthetic query answered in %s", elapsed.Round(time.Millisecond)))
}

// =============================================================================
// monitoring
// =============================================================================

// MonitoringEndpointCheck probes the metrics stack's health endpoint.
// Environments provisioned without monitoring pass with a warning rather
// than failing a component they never had.
type MonitoringEndpointCheck struct {
	URL     string
	Enabled bool
	// HTTPClient is injectable for tests; nil uses a 10s-timeout default.
	HTTPClient *http.Client
}

func (c *MonitoringEndpointCheck) Name() string      { return "monitoring-endpoint" }
func (c *MonitoringEndpointCheck) Component() string { return "monitoring" }
func (c *MonitoringEndpointCheck) MinDepth() Depth   { return DepthStandard }

func (c *MonitoringEndpointCheck) Run(ctx context.Context) Result {
	if !c.Enabled {
		return warn("monitoring disabled for this environment")
	}
	if c.URL == "" {
		return fail("monitoring enabled but no endpoint in outputs")
	}
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return fail(fmt.Sprintf("build request: %v", err))
	}
	resp, err := client.Do(req)
	if err != nil {
		return fail(fmt.Sprintf("probe %s: %v", c.URL, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Sprintf("%s returned %d", c.URL, resp.StatusCode))
	}
	return pass("monitoring endpoint healthy")
}

// =============================================================================
// network
// =============================================================================

// DNSResolutionCheck resolves the cluster endpoint hostname.
type DNSResolutionCheck struct {
	Endpoint string
	// Resolver is injectable for tests; nil uses net.DefaultResolver.
	Resolver *net.Resolver
}

func (c *DNSResolutionCheck) Name() string      { return "dns-resolution" }
func (c *DNSResolutionCheck) Component() string { return "network" }
func (c *DNSResolutionCheck) MinDepth() Depth   { return DepthQuick }

func (c *DNSResolutionCheck) Run(ctx context.Context) Result {
	if c.Endpoint == "" {
		return fail("no cluster endpoint in outputs")
	}
	host := c.Endpoint
	if u, err := url.Parse(c.Endpoint); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	resolver := c.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupHost(ctx, host)
	if err != nil {
		return fail(fmt.Sprintf("resolve %s: %v", host, err))
	}
	return pass(fmt.Sprintf("%s resolves to %d addresses", host, len(addrs)))
}

// =============================================================================
// security
// =============================================================================

// KubeconfigPermissionsCheck verifies the access artifact is owner-only.
type KubeconfigPermissionsCheck struct {
	Path string
}

func (c *KubeconfigPermissionsCheck) Name() string      { return "kubeconfig-permissions" }
func (c *KubeconfigPermissionsCheck) Component() string { return "security" }
func (c *KubeconfigPermissionsCheck) MinDepth() Depth   { return DepthQuick }

func (c *KubeconfigPermissionsCheck) Run(ctx context.Context) Result {
	info, err := os.Stat(c.Path)
	if err != nil {
		return fail(fmt.Sprintf("kubeconfig artifact missing: %v", err))
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return fail(fmt.Sprintf("kubeconfig %s has group/other permissions %v", c.Path, perm))
	}
	return pass("kubeconfig artifact is owner-only")
}

// TLSExpiryCheck inspects the cluster endpoint's serving certificate and
// warns when it is inside the renewal window.
type TLSExpiryCheck struct {
	Endpoint    string
	WarnWithin  time.Duration
	DialTimeout time.Duration
}

func (c *TLSExpiryCheck) Name() string      { return "tls-expiry" }
func (c *TLSExpiryCheck) Component() string { return "security" }
func (c *TLSExpiryCheck) MinDepth() Depth   { return DepthComprehensive }

func (c *TLSExpiryCheck) Run(ctx context.Context) Result {
	if c.Endpoint == "" {
		return fail("no cluster endpoint in outputs")
	}
	host := c.Endpoint
	if u, err := url.Parse(c.Endpoint); err == nil && u.Host != "" {
		host = u.Host
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: timeout},
		// The CA is cluster-internal; chain validity is checked by the
		// kubeconfig artifact, this check only reads the expiry.
		Config: &tls.Config{InsecureSkipVerify: true},
	}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return fail(fmt.Sprintf("dial %s: %v", host, err))
	}
	defer conn.Close()

	certs := conn.(*tls.Conn).ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return fail("no peer certificate presented")
	}
	expiry := certs[0].NotAfter
	remaining := time.Until(expiry)
	warnWithin := c.WarnWithin
	if warnWithin <= 0 {
		warnWithin = 30 * 24 * time.Hour
	}
	if remaining <= 0 {
		return fail(fmt.Sprintf("serving certificate expired %s", expiry.Format(time.RFC3339)))
	}
	if remaining < warnWithin {
		return warn(fmt.Sprintf("serving certificate expires in %s", remaining.Round(time.Hour)))
	}
	return pass(fmt.Sprintf("serving certificate valid until %s", expiry.Format("2006-01-02")))
}
