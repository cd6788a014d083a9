// Copyright (C) 2026 Cove Cloud (engineering@covecloud.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/covecloud/platformctl/cmd/platformctl/internal/backend"
	"github.com/covecloud/platformctl/cmd/platformctl/internal/infra/process"
)

// stateStore is the slice of the backend coordinator the state component
// uses.
type stateStore interface {
	Resolve(ctx context.Context, env string, phase backend.Phase) (*backend.Pointer, error)
	DownloadState(ctx context.Context, ptr *backend.Pointer, w io.Writer) (int64, error)
	UploadState(ctx context.Context, ptr *backend.Pointer, r io.Reader) error
}

// =============================================================================
// infrastructure-state
// =============================================================================

// StateComponent captures both phase state documents from the remote
// backend and pushes them back on restore.
type StateComponent struct {
	Store       stateStore
	Environment string
}

func (c *StateComponent) Name() string { return "infrastructure-state" }

func (c *StateComponent) Backup(ctx context.Context, dir string) error {
	for _, phase := range []backend.Phase{backend.PhaseInfra, backend.PhaseApp} {
		ptr, err := c.Store.Resolve(ctx, c.Environment, phase)
		if err != nil {
			return err
		}
		f, err := os.OpenFile(filepath.Join(dir, string(phase)+".tfstate"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("create state capture: %w", err)
		}
		_, err = c.Store.DownloadState(ctx, ptr, f)
		f.Close()
		if err != nil {
			// A never-applied app phase has no state object yet.
			if phase == backend.PhaseApp && strings.Contains(err.Error(), "does not exist") {
				os.Remove(f.Name())
				continue
			}
			return err
		}
	}
	return nil
}

func (c *StateComponent) Restore(ctx context.Context, dir string) error {
	for _, phase := range []backend.Phase{backend.PhaseInfra, backend.PhaseApp} {
		path := filepath.Join(dir, string(phase)+".tfstate")
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("open state capture: %w", err)
		}
		ptr, err := c.Store.Resolve(ctx, c.Environment, phase)
		if err != nil {
			f.Close()
			return err
		}
		err = c.Store.UploadState(ctx, ptr, f)
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// cluster-manifests
// =============================================================================

// ManifestsComponent exports the workspace namespace's objects as YAML and
// re-applies them on restore.
type ManifestsComponent struct {
	Proc       process.Manager
	Kubeconfig string
	Namespace  string
}

func (c *ManifestsComponent) Name() string { return "cluster-manifests" }

func (c *ManifestsComponent) kubectl(ctx context.Context, args ...string) (string, string, int, error) {
	full := append([]string{"--kubeconfig", c.Kubeconfig, "-n", c.Namespace}, args...)
	return c.Proc.RunInDir(ctx, "", nil, "kubectl", full...)
}

func (c *ManifestsComponent) Backup(ctx context.Context, dir string) error {
	stdout, stderr, code, err := c.kubectl(ctx,
		"get", "deployments,statefulsets,services,configmaps,persistentvolumeclaims",
		"-o", "yaml")
	if err != nil {
		return fmt.Errorf("export manifests (exit %d): %s", code, strings.TrimSpace(stderr))
	}
	return os.WriteFile(filepath.Join(dir, "manifests.yaml"), []byte(stdout), 0o600)
}

func (c *ManifestsComponent) Restore(ctx context.Context, dir string) error {
	path := filepath.Join(dir, "manifests.yaml")
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("manifests capture missing: %w", err)
	}
	_, stderr, code, err := c.kubectl(ctx, "apply", "-f", path)
	if err != nil {
		return fmt.Errorf("apply manifests (exit %d): %s", code, strings.TrimSpace(stderr))
	}
	return nil
}

// =============================================================================
// data-dump
// =============================================================================

// DataDumpComponent captures the platform database with pg_dump and
// replays it with psql. Connection credentials come from the environment's
// infrastructure outputs.
type DataDumpComponent struct {
	Proc     process.Manager
	Host     string
	Port     string
	Database string
	User     string
	// Password is injected as PGPASSWORD, never placed on the argv.
	Password string
}

func (c *DataDumpComponent) Name() string { return "data-dump" }

func (c *DataDumpComponent) env() []string {
	if c.Password == "" {
		return nil
	}
	return []string{"PGPASSWORD=" + c.Password}
}

func (c *DataDumpComponent) Backup(ctx context.Context, dir string) error {
	if c.Host == "" {
		return fmt.Errorf("database endpoint unknown, cannot dump")
	}
	dumpPath := filepath.Join(dir, "dump.sql")
	_, stderr, code, err := c.Proc.RunInDir(ctx, "", c.env(), "pg_dump",
		"-h", c.Host, "-p", c.Port, "-U", c.User, "-d", c.Database,
		"--no-owner", "-f", dumpPath)
	if err != nil {
		return fmt.Errorf("pg_dump (exit %d): %s", code, strings.TrimSpace(stderr))
	}
	return nil
}

func (c *DataDumpComponent) Restore(ctx context.Context, dir string) error {
	dumpPath := filepath.Join(dir, "dump.sql")
	if _, err := os.Stat(dumpPath); err != nil {
		return fmt.Errorf("dump capture missing: %w", err)
	}
	_, stderr, code, err := c.Proc.RunInDir(ctx, "", c.env(), "psql",
		"-h", c.Host, "-p", c.Port, "-U", c.User, "-d", c.Database,
		"-v", "ON_ERROR_STOP=1", "-f", dumpPath)
	if err != nil {
		return fmt.Errorf("psql restore (exit %d): %s", code, strings.TrimSpace(stderr))
	}
	return nil
}

// =============================================================================
// workspace-volumes
// =============================================================================

// VolumesComponent archives each workspace pod's data directory through
// kubectl exec. Streamed as tar so file modes survive the round trip.
type VolumesComponent struct {
	Proc       process.Manager
	Kubeconfig string
	Namespace  string
	Selector   string
	DataPath   string
}

func (c *VolumesComponent) Name() string { return "workspace-volumes" }

func (c *VolumesComponent) pods(ctx context.Context) ([]string, error) {
	stdout, stderr, code, err := c.Proc.RunInDir(ctx, "", nil, "kubectl",
		"--kubeconfig", c.Kubeconfig, "-n", c.Namespace,
		"get", "pods", "-l", c.Selector,
		"-o", "jsonpath={.items[*].metadata.name}")
	if err != nil {
		return nil, fmt.Errorf("list workspace pods (exit %d): %s", code, strings.TrimSpace(stderr))
	}
	fields := strings.Fields(stdout)
	return fields, nil
}

func (c *VolumesComponent) Backup(ctx context.Context, dir string) error {
	pods, err := c.pods(ctx)
	if err != nil {
		return err
	}
	for _, pod := range pods {
		stdout, stderr, code, err := c.Proc.RunInDir(ctx, "", nil, "kubectl",
			"--kubeconfig", c.Kubeconfig, "-n", c.Namespace,
			"exec", pod, "--", "tar", "czf", "-", "-C", c.DataPath, ".")
		if err != nil {
			return fmt.Errorf("archive %s (exit %d): %s", pod, code, strings.TrimSpace(stderr))
		}
		archive := filepath.Join(dir, pod+".tar.gz")
		if err := os.WriteFile(archive, []byte(stdout), 0o600); err != nil {
			return fmt.Errorf("write archive for %s: %w", pod, err)
		}
	}
	return nil
}

func (c *VolumesComponent) Restore(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read volume captures: %w", err)
	}
	for _, entry := range entries {
		pod, ok := strings.CutSuffix(entry.Name(), ".tar.gz")
		if !ok {
			continue
		}
		_, stderr, code, err := c.Proc.RunInDir(ctx, dir, nil, "kubectl",
			"--kubeconfig", c.Kubeconfig, "-n", c.Namespace,
			"cp", entry.Name(), pod+":"+"/tmp/restore.tar.gz")
		if err != nil {
			return fmt.Errorf("copy archive to %s (exit %d): %s", pod, code, strings.TrimSpace(stderr))
		}
		_, stderr, code, err = c.Proc.RunInDir(ctx, "", nil, "kubectl",
			"--kubeconfig", c.Kubeconfig, "-n", c.Namespace,
			"exec", pod, "--", "tar", "xzf", "/tmp/restore.tar.gz", "-C", c.DataPath)
		if err != nil {
			return fmt.Errorf("unpack archive in %s (exit %d): %s", pod, code, strings.TrimSpace(stderr))
		}
	}
	return nil
}

var (
	_ Component = (*StateComponent)(nil)
	_ Component = (*ManifestsComponent)(nil)
	_ Component = (*DataDumpComponent)(nil)
	_ Component = (*VolumesComponent)(nil)
)
