// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sheets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// =============================================================================
// DirBlobStore
// =============================================================================

// DirBlobStore keeps blobs as files under a root directory.
//
// Thread Safety: Safe for concurrent use. Writes go through a temp file and
// rename, so readers never see a partial object.
type DirBlobStore struct {
	root string
}

// NewDirBlobStore returns a store rooted at dir. The directory is created on
// first write.
func NewDirBlobStore(dir string) *DirBlobStore {
	return &DirBlobStore{root: dir}
}

// Get implements BlobStore.
func (d *DirBlobStore) Get(_ context.Context, name string) ([]byte, error) {
	p, err := d.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, name)
	}
	return data, err
}

// Put implements BlobStore.
func (d *DirBlobStore) Put(_ context.Context, name string, data []byte) error {
	p, err := d.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// path maps a blob name to a file path, refusing names that escape root.
func (d *DirBlobStore) path(name string) (string, error) {
	clean := path.Clean("/" + name)
	if clean == "/" || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	return filepath.Join(d.root, filepath.FromSlash(clean[1:])), nil
}

// =============================================================================
// GCSBlobStore
// =============================================================================

// GCSBlobStore keeps blobs as objects in a Cloud Storage bucket.
//
// Thread Safety: Safe for concurrent use.
type GCSBlobStore struct {
	bucket *storage.BucketHandle
	prefix string
}

// NewGCSBlobStore returns a store over bucket. Object names are prefix +
// blob name; a non-empty prefix should end with "/".
func NewGCSBlobStore(client *storage.Client, bucket, prefix string) *GCSBlobStore {
	return &GCSBlobStore{bucket: client.Bucket(bucket), prefix: prefix}
}

// Get implements BlobStore.
func (g *GCSBlobStore) Get(ctx context.Context, name string) ([]byte, error) {
	r, err := g.bucket.Object(g.object(name)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("gcs read %s: %w", name, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Put implements BlobStore.
func (g *GCSBlobStore) Put(ctx context.Context, name string, data []byte) error {
	w := g.bucket.Object(g.object(name)).NewWriter(ctx)
	w.ContentType = contentType(name)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("gcs write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs write %s: %w", name, err)
	}
	return nil
}

func (g *GCSBlobStore) object(name string) string {
	return g.prefix + name
}

// =============================================================================
// S3BlobStore
// =============================================================================

// S3API is the subset of *s3.Client used by S3BlobStore.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3BlobStore keeps blobs as objects in an S3 (or S3-compatible) bucket.
//
// Thread Safety: Safe for concurrent use.
type S3BlobStore struct {
	client S3API
	bucket string
	prefix string
}

// NewS3BlobStore returns a store over bucket. Object keys are prefix + blob
// name, as with GCSBlobStore.
func NewS3BlobStore(client S3API, bucket, prefix string) *S3BlobStore {
	return &S3BlobStore{client: client, bucket: bucket, prefix: prefix}
}

// Get implements BlobStore.
func (s *S3BlobStore) Get(ctx context.Context, name string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + name),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		var nf *types.NotFound
		if errors.As(err, &nsk) || errors.As(err, &nf) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, name)
		}
		return nil, fmt.Errorf("s3 read %s: %w", name, err)
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadAll(out.Body)
}

// Put implements BlobStore.
func (s *S3BlobStore) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.prefix + name),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType(name)),
	})
	if err != nil {
		return fmt.Errorf("s3 write %s: %w", name, err)
	}
	return nil
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".yaml":
		return "application/yaml"
	}
	return "application/octet-stream"
}
