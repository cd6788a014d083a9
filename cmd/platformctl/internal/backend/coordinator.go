// Copyright (C) 2026 Cove Cloud (engineering@covecloud.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package backend resolves the remote state location for each
// (environment, phase) pair before any provisioning tool runs against it.
//
// One versioned S3 bucket exists per environment, holding two phase-scoped
// state keys. A legacy single-key layout from before the two-phase split is
// detected by presence-checking the phase key first. The coordinator never
// proceeds with a backend it cannot confirm is reachable.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Phase is one of the two ordered provisioning stages.
type Phase string

const (
	PhaseInfra Phase = "infra"
	PhaseApp   Phase = "app"
)

// Key returns the state key for the phase within its environment bucket.
func (p Phase) Key() string {
	return string(p) + "/terraform.tfstate"
}

// LegacyKey is the single-phase layout used before the infra/app split.
const LegacyKey = "terraform.tfstate"

var (
	// ErrBackendUnauthorized is fatal: credentials cannot touch the bucket.
	ErrBackendUnauthorized = errors.New("state backend access denied")

	// ErrBackendUnreachable is fatal: the bucket cannot be confirmed usable.
	ErrBackendUnreachable = errors.New("state backend unreachable")
)

// Pointer is a resolved backend location consumed by the terraform runner.
type Pointer struct {
	Bucket string
	Key    string
	Region string
	// Legacy is true when the pointer refers to the pre-split layout.
	Legacy bool
}

// BackendArgs renders the pointer as -backend-config values.
func (p Pointer) BackendArgs() []string {
	return []string{
		"bucket=" + p.Bucket,
		"key=" + p.Key,
		"region=" + p.Region,
	}
}

// S3API is the subset of the S3 client the coordinator uses. Narrow on
// purpose so tests can fake it.
type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutBucketVersioning(ctx context.Context, params *s3.PutBucketVersioningInput, optFns ...func(*s3.Options)) (*s3.PutBucketVersioningOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// Coordinator ensures a durable state container exists per environment and
// resolves phase-scoped pointers into it. Idempotent: repeated calls for the
// same (environment, phase) never create duplicate containers.
type Coordinator struct {
	client       S3API
	bucketPrefix string
	region       string
}

func NewCoordinator(client S3API, bucketPrefix, region string) *Coordinator {
	return &Coordinator{client: client, bucketPrefix: bucketPrefix, region: region}
}

// BucketFor returns the environment's state container name.
func (c *Coordinator) BucketFor(env string) string {
	return c.bucketPrefix + "-" + env
}

// Resolve returns a pointer guaranteed to be usable, creating the bucket if
// absent. The phase-scoped key is preferred; for the infra phase a legacy
// single-key layout is detected and returned for migration compatibility.
func (c *Coordinator) Resolve(ctx context.Context, env string, phase Phase) (*Pointer, error) {
	bucket := c.BucketFor(env)

	if err := c.ensureBucket(ctx, bucket); err != nil {
		return nil, err
	}

	ptr := &Pointer{Bucket: bucket, Key: phase.Key(), Region: c.region}

	exists, err := c.objectExists(ctx, bucket, phase.Key())
	if err != nil {
		return nil, err
	}
	if exists {
		return ptr, nil
	}

	// No phase-scoped state yet. Fall back to legacy only for the infra
	// phase; the app phase never existed in the old layout.
	if phase == PhaseInfra {
		legacy, err := c.objectExists(ctx, bucket, LegacyKey)
		if err != nil {
			return nil, err
		}
		if legacy {
			return &Pointer{Bucket: bucket, Key: LegacyKey, Region: c.region, Legacy: true}, nil
		}
	}

	// Fresh environment: terraform will create the key on first apply.
	return ptr, nil
}

// ensureBucket creates the container if missing and enables versioning.
func (c *Coordinator) ensureBucket(ctx context.Context, bucket string) error {
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	if isAccessDenied(err) {
		return fmt.Errorf("%w: bucket %s exists but is not readable with these credentials", ErrBackendUnauthorized, bucket)
	}
	if !isNotFound(err) {
		return fmt.Errorf("%w: head %s: %v", ErrBackendUnreachable, bucket, err)
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	// us-east-1 rejects an explicit LocationConstraint.
	if c.region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(c.region),
		}
	}
	if _, err := c.client.CreateBucket(ctx, input); err != nil {
		var owned *s3types.BucketAlreadyOwnedByYou
		if !errors.As(err, &owned) {
			if isAccessDenied(err) {
				return fmt.Errorf("%w: create %s", ErrBackendUnauthorized, bucket)
			}
			return fmt.Errorf("%w: create %s: %v", ErrBackendUnreachable, bucket, err)
		}
	}

	_, err = c.client.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket: aws.String(bucket),
		VersioningConfiguration: &s3types.VersioningConfiguration{
			Status: s3types.BucketVersioningStatusEnabled,
		},
	})
	if err != nil {
		return fmt.Errorf("%w: enable versioning on %s: %v", ErrBackendUnreachable, bucket, err)
	}
	return nil
}

func (c *Coordinator) objectExists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	if isAccessDenied(err) {
		return false, fmt.Errorf("%w: head s3://%s/%s", ErrBackendUnauthorized, bucket, key)
	}
	return false, fmt.Errorf("%w: head s3://%s/%s: %v", ErrBackendUnreachable, bucket, key, err)
}

// DownloadState streams a phase's state object into w. Used by the backup
// manager's infrastructure-state component.
func (c *Coordinator) DownloadState(ctx context.Context, ptr *Pointer, w io.Writer) (int64, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(ptr.Bucket),
		Key:    aws.String(ptr.Key),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("state object s3://%s/%s does not exist", ptr.Bucket, ptr.Key)
		}
		return 0, fmt.Errorf("download s3://%s/%s: %w", ptr.Bucket, ptr.Key, err)
	}
	defer out.Body.Close()
	return io.Copy(w, out.Body)
}

// UploadState writes a state document back to a phase's key. Restores a
// captured state file; the bucket's versioning preserves the overwritten
// revision.
func (c *Coordinator) UploadState(ctx context.Context, ptr *Pointer, r io.Reader) error {
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(ptr.Bucket),
		Key:    aws.String(ptr.Key),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", ptr.Bucket, ptr.Key, err)
	}
	return nil
}

// ArchiveState copies a phase's final state under the archive/ prefix so a
// destroyed environment leaves an inspectable record behind.
func (c *Coordinator) ArchiveState(ctx context.Context, ptr *Pointer, runID string) error {
	dst := fmt.Sprintf("archive/%s/%s", runID, strings.ReplaceAll(ptr.Key, "/", "-"))
	_, err := c.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(ptr.Bucket),
		CopySource: aws.String(ptr.Bucket + "/" + ptr.Key),
		Key:        aws.String(dst),
	})
	if err != nil {
		if isNotFound(err) {
			// Nothing to archive is fine on a never-applied phase.
			return nil
		}
		return fmt.Errorf("archive s3://%s/%s: %w", ptr.Bucket, ptr.Key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *s3types.NotFound
	var nsb *s3types.NoSuchBucket
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsb) || errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchBucket" || code == "NoSuchKey"
	}
	return false
}

func isAccessDenied(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "AccessDenied" || code == "Forbidden" || code == "InvalidAccessKeyId" || code == "SignatureDoesNotMatch"
	}
	return false
}
