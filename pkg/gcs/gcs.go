// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package gcs provides wrappers around Google Cloud Storage (GCS) APIs.
// Package uses Application Default Credentials.
//
// See the following links for details and API reference:
// https://cloud.google.com/go/getting-started/using-cloud-storage
// https://godoc.org/cloud.google.com/go/storage
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Client accesses files by "bucket/path/to/file" names.
type Client interface {
	Close() error
	FileReader(ctx context.Context, gcsFile string) (io.ReadCloser, error)
	FileWriter(ctx context.Context, gcsFile string) (io.WriteCloser, error)
	DeleteFile(ctx context.Context, gcsFile string) error
}

var ErrFileNotFound = errors.New("the requested file does not exist")

type client struct {
	client *storage.Client
}

func NewClient(ctx context.Context) (Client, error) {
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &client{client: storageClient}, nil
}

func (c *client) Close() error {
	return c.client.Close()
}

func (c *client) object(gcsFile string) (*storage.ObjectHandle, error) {
	bucket, filename, err := split(gcsFile)
	if err != nil {
		return nil, err
	}
	return c.client.Bucket(bucket).Object(filename), nil
}

func (c *client) FileReader(ctx context.Context, gcsFile string) (io.ReadCloser, error) {
	obj, err := c.object(gcsFile)
	if err != nil {
		return nil, err
	}
	r, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return nil, fmt.Errorf("%v: %w", gcsFile, ErrFileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %v: %w", gcsFile, err)
	}
	return r, nil
}

func (c *client) FileWriter(ctx context.Context, gcsFile string) (io.WriteCloser, error) {
	obj, err := c.object(gcsFile)
	if err != nil {
		return nil, err
	}
	return obj.NewWriter(ctx), nil
}

func (c *client) DeleteFile(ctx context.Context, gcsFile string) error {
	obj, err := c.object(gcsFile)
	if err != nil {
		return err
	}
	err = obj.Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%v: %w", gcsFile, ErrFileNotFound)
	}
	return err
}

func split(file string) (bucket, filename string, err error) {
	file = strings.TrimPrefix(file, "gs://")
	pos := strings.IndexByte(file, '/')
	if pos <= 0 || pos == len(file)-1 {
		return "", "", fmt.Errorf("invalid GCS file name: %v", file)
	}
	return file[:pos], file[pos+1:], nil
}
