// Copyright (C) 2026 Cove Cloud (engineering@covecloud.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backend

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// =============================================================================
// Fake S3 client
// =============================================================================

type fakeS3 struct {
	headBucketFunc    func(ctx context.Context, in *s3.HeadBucketInput) (*s3.HeadBucketOutput, error)
	createBucketFunc  func(ctx context.Context, in *s3.CreateBucketInput) (*s3.CreateBucketOutput, error)
	putVersioningFunc func(ctx context.Context, in *s3.PutBucketVersioningInput) (*s3.PutBucketVersioningOutput, error)
	headObjectFunc    func(ctx context.Context, in *s3.HeadObjectInput) (*s3.HeadObjectOutput, error)
	getObjectFunc     func(ctx context.Context, in *s3.GetObjectInput) (*s3.GetObjectOutput, error)
	putObjectFunc     func(ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error)
	copyObjectFunc    func(ctx context.Context, in *s3.CopyObjectInput) (*s3.CopyObjectOutput, error)

	createdBuckets   []string
	versionedBuckets []string
	copies           []string
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headBucketFunc != nil {
		return f.headBucketFunc(ctx, in)
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.createdBuckets = append(f.createdBuckets, *in.Bucket)
	if f.createBucketFunc != nil {
		return f.createBucketFunc(ctx, in)
	}
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) PutBucketVersioning(ctx context.Context, in *s3.PutBucketVersioningInput, _ ...func(*s3.Options)) (*s3.PutBucketVersioningOutput, error) {
	f.versionedBuckets = append(f.versionedBuckets, *in.Bucket)
	if f.putVersioningFunc != nil {
		return f.putVersioningFunc(ctx, in)
	}
	return &s3.PutBucketVersioningOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headObjectFunc != nil {
		return f.headObjectFunc(ctx, in)
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getObjectFunc != nil {
		return f.getObjectFunc(ctx, in)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(""))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putObjectFunc != nil {
		return f.putObjectFunc(ctx, in)
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.copies = append(f.copies, *in.CopySource+" -> "+*in.Key)
	if f.copyObjectFunc != nil {
		return f.copyObjectFunc(ctx, in)
	}
	return &s3.CopyObjectOutput{}, nil
}

func notFound() error { return &s3types.NotFound{} }

// =============================================================================
// Resolve
// =============================================================================

func TestResolveExistingPhaseKey(t *testing.T) {
	fake := &fakeS3{}
	coord := NewCoordinator(fake, "covecloud-tfstate", "us-west-2")

	ptr, err := coord.Resolve(context.Background(), "staging", PhaseInfra)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if ptr.Bucket != "covecloud-tfstate-staging" {
		t.Errorf("expected bucket covecloud-tfstate-staging, got %s", ptr.Bucket)
	}
	if ptr.Key != "infra/terraform.tfstate" {
		t.Errorf("expected phase key, got %s", ptr.Key)
	}
	if ptr.Legacy {
		t.Error("phase key present, pointer should not be legacy")
	}
	if len(fake.createdBuckets) != 0 {
		t.Errorf("bucket exists, expected no creation, got %v", fake.createdBuckets)
	}
}

func TestResolveCreatesMissingBucket(t *testing.T) {
	fake := &fakeS3{
		headBucketFunc: func(_ context.Context, _ *s3.HeadBucketInput) (*s3.HeadBucketOutput, error) {
			return nil, notFound()
		},
		headObjectFunc: func(_ context.Context, _ *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
			return nil, notFound()
		},
	}
	coord := NewCoordinator(fake, "covecloud-tfstate", "us-west-2")

	ptr, err := coord.Resolve(context.Background(), "dev", PhaseApp)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(fake.createdBuckets) != 1 || fake.createdBuckets[0] != "covecloud-tfstate-dev" {
		t.Errorf("expected bucket creation, got %v", fake.createdBuckets)
	}
	if len(fake.versionedBuckets) != 1 {
		t.Errorf("expected versioning enabled on new bucket, got %v", fake.versionedBuckets)
	}
	if ptr.Key != "app/terraform.tfstate" {
		t.Errorf("unexpected key %s", ptr.Key)
	}
}

func TestResolveLegacyFallbackInfraOnly(t *testing.T) {
	// Phase key missing, legacy key present.
	fake := &fakeS3{
		headObjectFunc: func(_ context.Context, in *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
			if *in.Key == LegacyKey {
				return &s3.HeadObjectOutput{}, nil
			}
			return nil, notFound()
		},
	}
	coord := NewCoordinator(fake, "covecloud-tfstate", "us-west-2")

	ptr, err := coord.Resolve(context.Background(), "prod", PhaseInfra)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !ptr.Legacy || ptr.Key != LegacyKey {
		t.Errorf("expected legacy pointer, got %+v", ptr)
	}

	// App phase never falls back to the legacy key.
	appPtr, err := coord.Resolve(context.Background(), "prod", PhaseApp)
	if err != nil {
		t.Fatalf("Resolve app failed: %v", err)
	}
	if appPtr.Legacy || appPtr.Key != "app/terraform.tfstate" {
		t.Errorf("app phase must not use legacy layout, got %+v", appPtr)
	}
}

func TestResolveBucketOwnedRace(t *testing.T) {
	fake := &fakeS3{
		headBucketFunc: func(_ context.Context, _ *s3.HeadBucketInput) (*s3.HeadBucketOutput, error) {
			return nil, notFound()
		},
		createBucketFunc: func(_ context.Context, _ *s3.CreateBucketInput) (*s3.CreateBucketOutput, error) {
			return nil, &s3types.BucketAlreadyOwnedByYou{}
		},
		headObjectFunc: func(_ context.Context, _ *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
			return nil, notFound()
		},
	}
	coord := NewCoordinator(fake, "covecloud-tfstate", "us-west-2")

	if _, err := coord.Resolve(context.Background(), "dev", PhaseInfra); err != nil {
		t.Fatalf("already-owned bucket should be tolerated: %v", err)
	}
}

func TestResolveUnreachableBackend(t *testing.T) {
	fake := &fakeS3{
		headBucketFunc: func(_ context.Context, _ *s3.HeadBucketInput) (*s3.HeadBucketOutput, error) {
			return nil, errors.New("dial tcp: connection refused")
		},
	}
	coord := NewCoordinator(fake, "covecloud-tfstate", "us-west-2")

	_, err := coord.Resolve(context.Background(), "dev", PhaseInfra)
	if !errors.Is(err, ErrBackendUnreachable) {
		t.Errorf("expected ErrBackendUnreachable, got %v", err)
	}
}

// =============================================================================
// DownloadState / ArchiveState
// =============================================================================

func TestDownloadState(t *testing.T) {
	fake := &fakeS3{
		getObjectFunc: func(_ context.Context, _ *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
			return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(`{"version":4}`))}, nil
		},
	}
	coord := NewCoordinator(fake, "covecloud-tfstate", "us-west-2")

	var buf bytes.Buffer
	n, err := coord.DownloadState(context.Background(), &Pointer{Bucket: "b", Key: "infra/terraform.tfstate"}, &buf)
	if err != nil {
		t.Fatalf("DownloadState failed: %v", err)
	}
	if n == 0 || buf.String() != `{"version":4}` {
		t.Errorf("unexpected download content %q (%d bytes)", buf.String(), n)
	}
}

func TestArchiveStateMissingObjectIsNoop(t *testing.T) {
	fake := &fakeS3{
		copyObjectFunc: func(_ context.Context, _ *s3.CopyObjectInput) (*s3.CopyObjectOutput, error) {
			return nil, notFound()
		},
	}
	coord := NewCoordinator(fake, "covecloud-tfstate", "us-west-2")

	ptr := &Pointer{Bucket: "b", Key: "app/terraform.tfstate"}
	if err := coord.ArchiveState(context.Background(), ptr, "run-1"); err != nil {
		t.Errorf("missing state should archive as a no-op, got %v", err)
	}
}

func TestBackendArgs(t *testing.T) {
	ptr := Pointer{Bucket: "covecloud-tfstate-dev", Key: "infra/terraform.tfstate", Region: "us-west-2"}
	args := ptr.BackendArgs()
	want := []string{
		"bucket=covecloud-tfstate-dev",
		"key=infra/terraform.tfstate",
		"region=us-west-2",
	}
	if len(args) != len(want) {
		t.Fatalf("expected %d args, got %d", len(want), len(args))
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("arg %d: expected %q, got %q", i, want[i], args[i])
		}
	}
}
