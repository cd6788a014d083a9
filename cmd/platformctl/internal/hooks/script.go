// Copyright (C) 2026 Cove Cloud (engineering@covecloud.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package hooks

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/covecloud/platformctl/cmd/platformctl/internal/infra/process"
)

// outputEnvVar names the file a script writes KEY=VALUE lines into to
// forward variables to later hooks and the surrounding operation.
const outputEnvVar = "PLATFORM_HOOK_OUTPUT"

// ScriptHook runs an operator-owned executable found in the hooks
// directory. The run context is exposed through PLATFORM_* environment
// variables:
//
//	PLATFORM_ENV       environment name
//	PLATFORM_TEMPLATE  platform template in use
//	PLATFORM_EVENT     setup | teardown
//	PLATFORM_HOOK      pre | post
//	PLATFORM_PHASE     infra | app, when the event is phased
//
// plus one variable per forwarded var. A non-zero exit fails the hook;
// what that means depends on the slot (pre vetoes, post warns).
type ScriptHook struct {
	path string
	proc process.Manager
}

func NewScriptHook(path string, proc process.Manager) *ScriptHook {
	return &ScriptHook{path: path, proc: proc}
}

func (s *ScriptHook) Name() string {
	return filepath.Base(s.path)
}

func (s *ScriptHook) Run(ctx context.Context, hctx Context) (map[string]string, error) {
	outFile, err := os.CreateTemp("", "platformctl-hook-*.env")
	if err != nil {
		return nil, fmt.Errorf("create hook output file: %w", err)
	}
	outPath := outFile.Name()
	outFile.Close()
	defer os.Remove(outPath)

	env := []string{
		"PLATFORM_ENV=" + hctx.Environment,
		"PLATFORM_TEMPLATE=" + hctx.Template,
		"PLATFORM_EVENT=" + string(hctx.Event),
		"PLATFORM_HOOK=" + string(hctx.When),
		"PLATFORM_PHASE=" + hctx.Phase,
		outputEnvVar + "=" + outPath,
	}
	for k, v := range hctx.Vars {
		if !process.ValidEnvKey(k) {
			continue
		}
		env = append(env, k+"="+v)
	}

	_, stderr, code, err := s.proc.RunInDir(ctx, filepath.Dir(s.path), env, s.path)
	if err != nil {
		if strings.TrimSpace(stderr) != "" {
			return nil, fmt.Errorf("exit %d: %s", code, strings.TrimSpace(stderr))
		}
		return nil, err
	}

	return parseOutputFile(outPath)
}

// parseOutputFile reads KEY=VALUE lines. Blank lines and # comments are
// skipped; lines with malformed keys are rejected so a hook cannot smuggle
// arbitrary environment into later processes.
func parseOutputFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read hook output: %w", err)
	}
	defer f.Close()

	vars := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("malformed hook output line: %q", line)
		}
		key = strings.TrimSpace(key)
		if !process.ValidEnvKey(key) {
			return nil, fmt.Errorf("invalid hook output key: %q", key)
		}
		vars[key] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan hook output: %w", err)
	}
	if len(vars) == 0 {
		return nil, nil
	}
	return vars, nil
}

var _ Hook = (*ScriptHook)(nil)

// DiscoverScripts registers a ScriptHook for every conventional script
// present in dir. Scripts are named <when>-<event> ("pre-setup",
// "post-teardown"); files that exist but are not executable are reported
// so a forgotten chmod fails loudly instead of silently skipping.
func DiscoverScripts(dir string, registry *Registry, proc process.Manager) error {
	for _, event := range []Event{EventSetup, EventTeardown} {
		for _, when := range []When{WhenPre, WhenPost} {
			path := filepath.Join(dir, string(when)+"-"+string(event))
			info, err := os.Stat(path)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return fmt.Errorf("stat hook script %s: %w", path, err)
			}
			if info.IsDir() {
				continue
			}
			if info.Mode().Perm()&0o111 == 0 {
				return fmt.Errorf("hook script %s exists but is not executable", path)
			}
			registry.Register(event, when, NewScriptHook(path, proc))
		}
	}
	return nil
}
