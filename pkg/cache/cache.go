// Copyright 2026 logspam project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package cache persists processed build evidence, so that a build is fetched only once.
// Entries are xz-compressed JSON.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/logspam/logspam/pkg/gcs"
	"github.com/logspam/logspam/pkg/hash"
	"github.com/logspam/logspam/pkg/log"
	"github.com/logspam/logspam/pkg/osutil"
	"github.com/logspam/logspam/pkg/stat"
	"github.com/logspam/logspam/pkg/warnings"
	"github.com/ulikunitz/xz"
)

var ErrNotFound = errors.New("cache entry not found")

type Cache interface {
	// Load returns ErrNotFound if there is no usable entry for the key.
	Load(ctx context.Context, key Key) (*warnings.Evidence, error)
	Store(ctx context.Context, key Key, ev *warnings.Evidence) error
}

type Key struct {
	Repo     string
	Revision string
	Platform string
	// Pattern is the warning pattern the evidence was collected with.
	Pattern string
}

func (key Key) Dir() string {
	return fmt.Sprintf("%v-%v-%v", key.Repo, key.Revision, key.Platform)
}

// File returns the entry name within Dir.
// Entries for the default pattern keep the short name.
func (key Key) File() string {
	if key.Pattern == "" || key.Pattern == warnings.DefaultPattern {
		return "results.json.xz"
	}
	return fmt.Sprintf("results.%v.json.xz", hash.String([]byte(key.Pattern)))
}

var (
	statHits = stat.New("cache hits", "Number of builds loaded from the cache",
		stat.Console, stat.Prometheus("logspam_cache_hits"))
	statCorrupt = stat.New("cache corrupt", "Number of discarded corrupt cache entries",
		stat.Prometheus("logspam_cache_corrupt"))
)

func encode(ev *warnings.Evidence) ([]byte, error) {
	buf := new(bytes.Buffer)
	w, err := xz.NewWriter(buf)
	if err != nil {
		return nil, fmt.Errorf("xz.NewWriter: %w", err)
	}
	if err := json.NewEncoder(w).Encode(ev); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("xz: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(r io.Reader) (*warnings.Evidence, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("xz.NewReader: %w", err)
	}
	ev := new(warnings.Evidence)
	if err := json.NewDecoder(xr).Decode(ev); err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	for _, jl := range ev.Jobs {
		if jl == nil {
			return nil, fmt.Errorf("null job entry")
		}
	}
	return ev, nil
}

// Dir keeps entries in a local directory.
type Dir struct {
	root string
}

func NewDir(root string) (*Dir, error) {
	if err := osutil.MkdirAll(root); err != nil {
		return nil, err
	}
	return &Dir{root: root}, nil
}

func (d *Dir) file(key Key) string {
	return filepath.Join(d.root, key.Dir(), key.File())
}

func (d *Dir) Load(ctx context.Context, key Key) (*warnings.Evidence, error) {
	file := d.file(key)
	data, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	ev, err := decode(bytes.NewReader(data))
	if err != nil {
		statCorrupt.Add(1)
		log.Logf(0, "removing corrupt cache entry %v: %v", file, err)
		if err := os.Remove(file); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	statHits.Add(1)
	return ev, nil
}

func (d *Dir) Store(ctx context.Context, key Key, ev *warnings.Evidence) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(ev)
	if err != nil {
		return err
	}
	dir := filepath.Join(d.root, key.Dir())
	if err := osutil.MkdirAll(dir); err != nil {
		return err
	}
	return osutil.WriteFileAtomic(d.file(key), data)
}

// GCS keeps entries in a Google Cloud Storage bucket under a prefix ("bucket/dir").
type GCS struct {
	client gcs.Client
	prefix string
}

func NewGCS(client gcs.Client, prefix string) *GCS {
	return &GCS{
		client: client,
		prefix: prefix,
	}
}

func (g *GCS) file(key Key) string {
	return path.Join(g.prefix, key.Dir(), key.File())
}

func (g *GCS) Load(ctx context.Context, key Key) (*warnings.Evidence, error) {
	file := g.file(key)
	r, err := g.client.FileReader(ctx, file)
	if errors.Is(err, gcs.ErrFileNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	defer r.Close()
	ev, err := decode(r)
	if err != nil {
		statCorrupt.Add(1)
		log.Logf(0, "removing corrupt cache entry gs://%v: %v", file, err)
		if err := g.client.DeleteFile(ctx, file); err != nil && !errors.Is(err, gcs.ErrFileNotFound) {
			return nil, err
		}
		return nil, ErrNotFound
	}
	statHits.Add(1)
	return ev, nil
}

func (g *GCS) Store(ctx context.Context, key Key, ev *warnings.Evidence) error {
	data, err := encode(ev)
	if err != nil {
		return err
	}
	w, err := g.client.FileWriter(ctx, g.file(key))
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Open returns the GCS cache if gcsPrefix is set and the local directory cache otherwise.
// The returned function releases the resources of the cache.
func Open(ctx context.Context, dir, gcsPrefix string) (Cache, func(), error) {
	if gcsPrefix != "" {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create GCS client: %w", err)
		}
		return NewGCS(client, gcsPrefix), func() { client.Close() }, nil
	}
	d, err := NewDir(dir)
	if err != nil {
		return nil, nil, err
	}
	return d, func() {}, nil
}
