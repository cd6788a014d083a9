// Copyright (C) 2026 Cove Cloud (engineering@covecloud.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package backup captures and restores the recoverable pieces of an
// environment: remote state, cluster manifests, database contents, and
// workspace volumes.
//
// Backups are best-effort: a component that fails to capture is recorded
// in the manifest and the run continues, because a partial backup before a
// teardown beats no backup. Restores are the opposite: components restore
// in a fixed dependency order and the first failure stops the run, since
// restoring manifests onto unrestored state produces a cluster that lies.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const manifestFile = "manifest.json"

// RestoreOrder is the fixed dependency order for restores.
var RestoreOrder = []string{
	"infrastructure-state",
	"cluster-manifests",
	"data-dump",
	"workspace-volumes",
}

var (
	ErrBackupNotFound = errors.New("backup not found")
	ErrNoBackups      = errors.New("no backups exist for environment")
	// ErrRestoreDeclined is returned when the operator answers no at the
	// destructive-restore prompt.
	ErrRestoreDeclined = errors.New("restore declined")
)

// Component captures and restores one slice of the environment.
type Component interface {
	// Name must be one of the RestoreOrder values.
	Name() string
	// Backup writes the component's capture into dir.
	Backup(ctx context.Context, dir string) error
	// Restore applies a previous capture from dir back onto the
	// environment. Destructive: existing data is overwritten.
	Restore(ctx context.Context, dir string) error
}

// ComponentRecord is one component's outcome inside a manifest.
type ComponentRecord struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "ok" | "failed"
	Error  string `json:"error,omitempty"`
}

// Manifest describes one completed backup run.
type Manifest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Environment string            `json:"environment"`
	CreatedAt   time.Time         `json:"created_at"`
	Components  []ComponentRecord `json:"components"`
	// Complete is true when every component captured successfully.
	Complete bool `json:"complete"`

	// path is the backup directory on disk, not serialized.
	path string
}

// Path returns the directory the backup was written to.
func (m *Manifest) Path() string { return m.path }

// Confirmer gates destructive restores. Implementations prompt the
// operator or auto-approve for unattended runs.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

// AutoConfirmer approves without prompting, for unattended runs.
type AutoConfirmer struct{}

func (AutoConfirmer) Confirm(string) (bool, error) { return true, nil }

// Uploader ships a finished backup directory offsite.
type Uploader interface {
	UploadDir(ctx context.Context, localDir, remotePrefix string) error
}

// Logger is the subset of the logging interface the manager needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Manager defines backup lifecycle operations for one environment.
type Manager interface {
	// Backup captures the named components, or everything registered when
	// the list is empty.
	Backup(ctx context.Context, name string, components []string) (*Manifest, error)
	Restore(ctx context.Context, backupName string, components []string) error
	// RestorePlan reports what Restore would replay, in order, without
	// touching anything.
	RestorePlan(backupName string, components []string) ([]string, error)
	List() ([]Manifest, error)
	Prune() (int, error)
}

// DefaultManager implements Manager on the local filesystem, with
// optional offsite upload. Backups live under
// {dir}/{environment}/{name}-{timestamp}/.
type DefaultManager struct {
	env        string
	dir        string
	keep       int
	components []Component
	uploader   Uploader
	confirm    Confirmer
	log        Logger
}

// Config configures a DefaultManager.
type Config struct {
	Environment string
	// Dir is the backup root; per-environment subdirectories are created
	// beneath it.
	Dir string
	// Keep bounds how many backups survive pruning. Zero disables pruning.
	Keep       int
	Components []Component
	// Uploader is optional; nil disables offsite copies.
	Uploader Uploader
	Confirm  Confirmer
	Log      Logger
}

func NewManager(cfg Config) *DefaultManager {
	confirm := cfg.Confirm
	if confirm == nil {
		confirm = AutoConfirmer{}
	}
	return &DefaultManager{
		env:        cfg.Environment,
		dir:        cfg.Dir,
		keep:       cfg.Keep,
		components: cfg.Components,
		uploader:   cfg.Uploader,
		confirm:    confirm,
		log:        cfg.Log,
	}
}

// Backup captures the selected components into a new timestamped
// directory and writes the manifest. An empty component list captures
// everything registered. Component failures are recorded, not fatal.
// After a successful write, old backups beyond the retention count are
// pruned and the new backup is uploaded offsite when an uploader is
// configured.
func (m *DefaultManager) Backup(ctx context.Context, name string, components []string) (*Manifest, error) {
	if name == "" {
		name = "backup"
	}
	requested := make(map[string]bool, len(components))
	for _, c := range components {
		if !knownComponent(c) {
			return nil, fmt.Errorf("unknown backup component %q", c)
		}
		requested[c] = true
	}
	stamp := time.Now().UTC().Format("20060102-150405")
	dir := filepath.Join(m.dir, m.env, name+"-"+stamp)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	manifest := &Manifest{
		ID:          uuid.NewString(),
		Name:        name,
		Environment: m.env,
		CreatedAt:   time.Now().UTC(),
		Complete:    true,
		path:        dir,
	}

	for _, comp := range m.components {
		if len(requested) > 0 && !requested[comp.Name()] {
			continue
		}
		compDir := filepath.Join(dir, comp.Name())
		if err := os.MkdirAll(compDir, 0o700); err != nil {
			return nil, fmt.Errorf("create component directory: %w", err)
		}
		record := ComponentRecord{Name: comp.Name(), Status: "ok"}
		if err := comp.Backup(ctx, compDir); err != nil {
			record.Status = "failed"
			record.Error = err.Error()
			manifest.Complete = false
			m.log.Warn("backup component failed", "component", comp.Name(), "error", err.Error())
		} else {
			m.log.Info("backup component captured", "component", comp.Name())
		}
		manifest.Components = append(manifest.Components, record)
	}

	if err := writeManifest(dir, manifest); err != nil {
		return nil, err
	}

	if m.keep > 0 {
		if pruned, err := m.Prune(); err != nil {
			m.log.Warn("backup pruning failed", "error", err.Error())
		} else if pruned > 0 {
			m.log.Info("pruned old backups", "count", pruned)
		}
	}

	if m.uploader != nil {
		prefix := filepath.ToSlash(filepath.Join("backups", m.env, filepath.Base(dir)))
		if err := m.uploader.UploadDir(ctx, dir, prefix); err != nil {
			m.log.Warn("offsite upload failed", "backup", filepath.Base(dir), "error", err.Error())
		} else {
			m.log.Info("backup uploaded offsite", "backup", filepath.Base(dir))
		}
	}

	return manifest, nil
}

// Restore applies a backup in RestoreOrder, stopping at the first failure.
// backupName "latest" selects the most recent backup. An empty component
// list restores everything the backup captured successfully; an explicit
// list restores only those components, still in dependency order.
func (m *DefaultManager) Restore(ctx context.Context, backupName string, components []string) error {
	manifest, err := m.find(backupName)
	if err != nil {
		return err
	}
	selected, err := selectComponents(manifest, components)
	if err != nil {
		return err
	}

	prompt := fmt.Sprintf("Restore backup %s onto environment %q? Existing data will be overwritten.",
		filepath.Base(manifest.path), m.env)
	ok, err := m.confirm.Confirm(prompt)
	if err != nil {
		return fmt.Errorf("confirm restore: %w", err)
	}
	if !ok {
		return ErrRestoreDeclined
	}

	byName := make(map[string]Component, len(m.components))
	for _, comp := range m.components {
		byName[comp.Name()] = comp
	}

	for _, name := range selected {
		comp, ok := byName[name]
		if !ok {
			return fmt.Errorf("no restorer registered for component %s", name)
		}
		m.log.Info("restoring component", "component", name, "backup", filepath.Base(manifest.path))
		if err := comp.Restore(ctx, filepath.Join(manifest.path, name)); err != nil {
			return fmt.Errorf("restore %s: %w", name, err)
		}
	}
	return nil
}

// RestorePlan resolves the backup and returns the components a Restore
// would replay, in dependency order.
func (m *DefaultManager) RestorePlan(backupName string, components []string) ([]string, error) {
	manifest, err := m.find(backupName)
	if err != nil {
		return nil, err
	}
	return selectComponents(manifest, components)
}

// selectComponents intersects the requested components with what the
// backup captured successfully, preserving RestoreOrder. Requesting a
// component the backup does not hold is an error; captured components
// missing from an empty request are simply skipped.
func selectComponents(manifest *Manifest, components []string) ([]string, error) {
	requested := make(map[string]bool, len(components))
	for _, c := range components {
		if !knownComponent(c) {
			return nil, fmt.Errorf("unknown backup component %q", c)
		}
		requested[c] = true
	}

	captured := make(map[string]bool, len(manifest.Components))
	for _, rec := range manifest.Components {
		if rec.Status == "ok" {
			captured[rec.Name] = true
		}
	}

	var selected []string
	for _, name := range RestoreOrder {
		if len(requested) > 0 && !requested[name] {
			continue
		}
		if !captured[name] {
			if requested[name] {
				return nil, fmt.Errorf("component %s was not captured in backup %s", name, filepath.Base(manifest.path))
			}
			continue
		}
		selected = append(selected, name)
	}
	return selected, nil
}

// List returns the environment's backups, newest first.
func (m *DefaultManager) List() ([]Manifest, error) {
	envDir := filepath.Join(m.dir, m.env)
	entries, err := os.ReadDir(envDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var manifests []Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		manifest, err := readManifest(filepath.Join(envDir, entry.Name()))
		if err != nil {
			// Leave unreadable entries alone; they may be mid-write.
			continue
		}
		manifests = append(manifests, *manifest)
	}
	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].CreatedAt.After(manifests[j].CreatedAt)
	})
	return manifests, nil
}

// Prune deletes backups beyond the retention count, oldest first, and
// returns how many were removed.
func (m *DefaultManager) Prune() (int, error) {
	if m.keep <= 0 {
		return 0, nil
	}
	manifests, err := m.List()
	if err != nil {
		return 0, err
	}
	if len(manifests) <= m.keep {
		return 0, nil
	}
	pruned := 0
	for _, manifest := range manifests[m.keep:] {
		if err := os.RemoveAll(manifest.path); err != nil {
			return pruned, fmt.Errorf("remove %s: %w", manifest.path, err)
		}
		pruned++
	}
	return pruned, nil
}

// find resolves a backup by name prefix, or the newest one for "latest".
func (m *DefaultManager) find(backupName string) (*Manifest, error) {
	manifests, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(manifests) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoBackups, m.env)
	}
	if backupName == "" || backupName == "latest" {
		return &manifests[0], nil
	}
	for i := range manifests {
		base := filepath.Base(manifests[i].path)
		if base == backupName || strings.HasPrefix(base, backupName+"-") || manifests[i].ID == backupName {
			return &manifests[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrBackupNotFound, backupName)
}

func writeManifest(dir string, manifest *Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), data, 0o600); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func readManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest in %s: %w", dir, err)
	}
	manifest.path = dir
	return &manifest, nil
}

func knownComponent(name string) bool {
	for _, c := range RestoreOrder {
		if c == name {
			return true
		}
	}
	return false
}

var _ Manager = (*DefaultManager)(nil)
