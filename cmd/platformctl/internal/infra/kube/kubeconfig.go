// Copyright (C) 2026 Cove Cloud (engineering@covecloud.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package kube

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

// ClusterAccess is the connection material emitted by the infrastructure
// phase.
type ClusterAccess struct {
	Endpoint      string
	CACertificate string // base64-encoded PEM
	ClusterName   string
}

// WriteKubeconfig renders a kubeconfig artifact for the environment and
// writes it with owner-only permissions. The exec block delegates token
// minting to the cloud CLI so no long-lived credential lands on disk.
func WriteKubeconfig(path string, access ClusterAccess, region string) error {
	if access.Endpoint == "" || access.ClusterName == "" {
		return fmt.Errorf("cluster access is incomplete: endpoint=%q name=%q", access.Endpoint, access.ClusterName)
	}
	caData, err := base64.StdEncoding.DecodeString(access.CACertificate)
	if err != nil {
		return fmt.Errorf("decode cluster CA certificate: %w", err)
	}

	cfg := clientcmdapi.NewConfig()
	cfg.Clusters[access.ClusterName] = &clientcmdapi.Cluster{
		Server:                   access.Endpoint,
		CertificateAuthorityData: caData,
	}
	cfg.AuthInfos[access.ClusterName] = &clientcmdapi.AuthInfo{
		Exec: &clientcmdapi.ExecConfig{
			APIVersion: "client.authentication.k8s.io/v1beta1",
			Command:    "aws",
			Args: []string{
				"eks", "get-token",
				"--cluster-name", access.ClusterName,
				"--region", region,
			},
			InteractiveMode: clientcmdapi.NeverExecInteractiveMode,
		},
	}
	cfg.Contexts[access.ClusterName] = &clientcmdapi.Context{
		Cluster:  access.ClusterName,
		AuthInfo: access.ClusterName,
	}
	cfg.CurrentContext = access.ClusterName

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create kubeconfig directory: %w", err)
	}
	data, err := clientcmd.Write(*cfg)
	if err != nil {
		return fmt.Errorf("serialize kubeconfig: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write kubeconfig %s: %w", path, err)
	}
	return nil
}

// RemoveKubeconfig deletes the artifact after a verified teardown. Missing
// files are not an error.
func RemoveKubeconfig(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove kubeconfig %s: %w", path, err)
	}
	return nil
}
