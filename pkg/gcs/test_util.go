// Copyright 2026 logspam project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// TestClient is an in-memory Client used in tests.
type TestClient struct {
	mu    sync.Mutex
	Files map[string][]byte
}

func NewTestClient() *TestClient {
	return &TestClient{Files: make(map[string][]byte)}
}

func (c *TestClient) Close() error {
	return nil
}

func (c *TestClient) FileReader(ctx context.Context, gcsFile string) (io.ReadCloser, error) {
	if _, _, err := split(gcsFile); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.Files[gcsFile]
	if !ok {
		return nil, fmt.Errorf("%v: %w", gcsFile, ErrFileNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (c *TestClient) FileWriter(ctx context.Context, gcsFile string) (io.WriteCloser, error) {
	if _, _, err := split(gcsFile); err != nil {
		return nil, err
	}
	return &testWriter{ctx: ctx, c: c, name: gcsFile}, nil
}

func (c *TestClient) DeleteFile(ctx context.Context, gcsFile string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.Files[gcsFile]; !ok {
		return fmt.Errorf("%v: %w", gcsFile, ErrFileNotFound)
	}
	delete(c.Files, gcsFile)
	return nil
}

// Objects become visible only on Close, as with real GCS writers.
// A writer whose context is done aborts the upload.
type testWriter struct {
	bytes.Buffer
	ctx  context.Context
	c    *TestClient
	name string
}

func (w *testWriter) Close() error {
	if err := w.ctx.Err(); err != nil {
		return fmt.Errorf("upload of %v aborted: %w", w.name, err)
	}
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	w.c.Files[w.name] = append([]byte(nil), w.Bytes()...)
	return nil
}
