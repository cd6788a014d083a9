// Copyright (C) 2026 Cove Cloud (engineering@covecloud.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	// Global is a singleton instance
	Global PlatformConfig
	once   sync.Once
)

// Load ensures the config is loaded into the Global variable.
func Load() error {
	var err error
	once.Do(func() {
		err = loadInternal()
	})
	return err
}

func loadInternal() error {
	dir, err := HomeDir()
	if err != nil {
		return err
	}
	configPath := filepath.Join(dir, "platformctl.yaml")
	// create it if it doesn't exist
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Printf("First run detected, creating the config at %s\n", configPath)
		if err := createDefault(configPath); err != nil {
			return err
		}
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read the config file: %w", err)
	}
	if err = yaml.Unmarshal(data, &Global); err != nil {
		return fmt.Errorf("failed to parse %s: %w", configPath, err)
	}
	applyDefaults(&Global)
	if err := validator.New().Struct(Global); err != nil {
		return fmt.Errorf("invalid configuration in %s: %w", configPath, err)
	}
	return nil
}

// applyDefaults fills optional fields the operator left empty.
func applyDefaults(c *PlatformConfig) {
	if c.Terraform.Binary == "" {
		c.Terraform.Binary = "terraform"
	}
	if c.Terraform.ApplyTimeoutMinutes <= 0 {
		c.Terraform.ApplyTimeoutMinutes = 60
	}
	if c.Cluster.AppNamespace == "" {
		c.Cluster.AppNamespace = "workspaces"
	}
	if c.Cluster.WorkloadSelector == "" {
		c.Cluster.WorkloadSelector = "app=workspace"
	}
	if len(c.Cluster.RequiredStorageClasses) == 0 {
		c.Cluster.RequiredStorageClasses = []string{"gp3"}
	}
	if c.Cluster.DrainTimeoutMinutes <= 0 {
		c.Cluster.DrainTimeoutMinutes = 10
	}
	if c.Backup.Keep <= 0 {
		c.Backup.Keep = 10
	}
	if c.Hooks.TimeoutSeconds <= 0 {
		c.Hooks.TimeoutSeconds = 120
	}
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	defaultCfg := DefaultConfig()
	data, err := yaml.Marshal(defaultCfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
