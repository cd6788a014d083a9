// Copyright (C) 2026 Cove Cloud (engineering@covecloud.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package kube wraps the cluster operations the lifecycle orchestrator
// needs: a reachability probe, storage-class preflight, workspace workload
// inspection, and a bounded drain before teardown.
package kube

import (
	"context"
	"errors"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

var (
	ErrClusterUnreachable  = errors.New("cluster is not reachable")
	ErrStorageClassMissing = errors.New("required storage class missing")
	ErrDrainTimeout        = errors.New("drain did not complete before the deadline")
)

// Workload is one running unit of user work inside the platform namespace.
type Workload struct {
	Name      string
	Namespace string
	Phase     string
	Node      string
}

// Client performs the cluster-side checks and mutations. The clientset is
// injected so tests can substitute a fake.
type Client struct {
	clientset    kubernetes.Interface
	pollInterval time.Duration
}

func NewClient(clientset kubernetes.Interface) *Client {
	return &Client{clientset: clientset, pollInterval: 5 * time.Second}
}

// NewClientFromKubeconfig builds a client from a kubeconfig artifact on disk.
func NewClientFromKubeconfig(path string) (*Client, error) {
	cfg, err := clientcmd.BuildConfigFromFlags("", path)
	if err != nil {
		return nil, fmt.Errorf("load kubeconfig %s: %w", path, err)
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build clientset: %w", err)
	}
	return NewClient(clientset), nil
}

// # Description
//
//	Confirms the API server answers before any further cluster operation.
//
// # Outputs
//
//	The server version string, or ErrClusterUnreachable.
func (c *Client) ServerReachable(ctx context.Context) (string, error) {
	info, err := c.clientset.Discovery().ServerVersion()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrClusterUnreachable, err)
	}
	return info.GitVersion, nil
}

// CheckStorageClasses verifies every required storage class exists. Run
// between the infrastructure and application phases so the second phase
// never applies against a cluster that cannot bind its volumes.
func (c *Client) CheckStorageClasses(ctx context.Context, required []string) error {
	classes, err := c.clientset.StorageV1().StorageClasses().List(ctx, metav1.ListOptions{})
	if err != nil {
		return fmt.Errorf("%w: list storage classes: %v", ErrClusterUnreachable, err)
	}
	present := make(map[string]bool, len(classes.Items))
	for _, sc := range classes.Items {
		present[sc.Name] = true
	}
	for _, name := range required {
		if !present[name] {
			return fmt.Errorf("%w: %s", ErrStorageClassMissing, name)
		}
	}
	return nil
}

// ActiveWorkloads lists running or pending workspace pods. Succeeded and
// failed pods do not count as active.
func (c *Client) ActiveWorkloads(ctx context.Context, namespace, selector string) ([]Workload, error) {
	pods, err := c.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list workloads in %s: %w", namespace, err)
	}
	var active []Workload
	for _, pod := range pods.Items {
		switch pod.Status.Phase {
		case corev1.PodSucceeded, corev1.PodFailed:
			continue
		}
		active = append(active, Workload{
			Name:      pod.Name,
			Namespace: pod.Namespace,
			Phase:     string(pod.Status.Phase),
			Node:      pod.Spec.NodeName,
		})
	}
	return active, nil
}

// CordonNodes marks every node unschedulable so evicted workloads are not
// rescheduled while the drain proceeds.
func (c *Client) CordonNodes(ctx context.Context) error {
	nodes, err := c.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return fmt.Errorf("list nodes: %w", err)
	}
	patch := []byte(`{"spec":{"unschedulable":true}}`)
	for _, node := range nodes.Items {
		if node.Spec.Unschedulable {
			continue
		}
		_, err := c.clientset.CoreV1().Nodes().Patch(ctx, node.Name, types.MergePatchType, patch, metav1.PatchOptions{})
		if err != nil {
			return fmt.Errorf("cordon node %s: %w", node.Name, err)
		}
	}
	return nil
}

// # Description
//
//	Cordons the nodes, then evicts all workspace pods and waits for them to
//	terminate, bounded by the context deadline. Deletion uses a grace period
//	so in-flight work can flush.
//
// # Limitations
//
//	Pods recreated by controllers during the drain will be deleted again on
//	the next poll; the drain only converges once the owning controllers are
//	scaled down or the cluster is being destroyed anyway.
func (c *Client) DrainWorkspaces(ctx context.Context, namespace, selector string, grace time.Duration) error {
	if err := c.CordonNodes(ctx); err != nil {
		return err
	}
	graceSeconds := int64(grace.Seconds())
	deleteOpts := metav1.DeleteOptions{GracePeriodSeconds: &graceSeconds}

	for {
		active, err := c.ActiveWorkloads(ctx, namespace, selector)
		if err != nil {
			return err
		}
		if len(active) == 0 {
			return nil
		}
		for _, w := range active {
			err := c.clientset.CoreV1().Pods(namespace).Delete(ctx, w.Name, deleteOpts)
			if err != nil && !apierrors.IsNotFound(err) {
				return fmt.Errorf("evict %s/%s: %w", namespace, w.Name, err)
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %d workloads still active", ErrDrainTimeout, len(active))
		case <-time.After(c.pollInterval):
		}
	}
}
