// Copyright 2026 logspam project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package evidence gathers processed job logs of a build, consulting the cache first
// and fetching the logs of all jobs in parallel otherwise.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/logspam/logspam/pkg/cache"
	"github.com/logspam/logspam/pkg/log"
	"github.com/logspam/logspam/pkg/stat"
	"github.com/logspam/logspam/pkg/treeherder"
	"github.com/logspam/logspam/pkg/warnings"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers = 24
	DefaultRetries = 5
)

// Source lists the jobs of a build and opens their raw logs.
// *treeherder.Client implements it.
type Source interface {
	Jobs(ctx context.Context, repo, revision, platform string) ([]treeherder.Job, error)
	// LogURL returns treeherder.ErrNoLog for jobs without a log.
	LogURL(ctx context.Context, repo string, jobID int) (string, error)
	Log(ctx context.Context, url string) (io.ReadCloser, error)
}

type Gatherer struct {
	Source Source
	// Cache is optional.
	Cache cache.Cache
	// NoCache ignores existing cache entries, fresh results are still stored.
	NoCache bool
	// Pattern selects warning lines, empty means warnings.DefaultPattern.
	Pattern string
	Workers int
	// Retries is the number of attempts for every request before giving up.
	Retries int

	re *regexp.Regexp
}

var (
	statFetched = stat.New("jobs fetched", "Number of job logs fetched and processed",
		stat.Console, stat.Prometheus("logspam_jobs_fetched"))
	statRetries = stat.New("fetch retries", "Number of retried log fetches",
		stat.Console, stat.Prometheus("logspam_fetch_retries"))
	statDropped = stat.New("jobs dropped", "Number of jobs dropped after all fetch attempts failed",
		stat.Console, stat.Prometheus("logspam_jobs_dropped"))
	statGatherTime stat.AverageValue[time.Duration]
	_              = stat.New("gather time", "Average time to gather evidence for a build (sec)",
		func() int { return int(statGatherTime.Value() / time.Second) })
)

func (g *Gatherer) init() error {
	if g.re != nil {
		return nil
	}
	if g.Source == nil {
		return fmt.Errorf("no evidence source")
	}
	re, err := warnings.CompilePattern(g.Pattern)
	if err != nil {
		return err
	}
	g.re = re
	if g.Workers <= 0 {
		g.Workers = DefaultWorkers
	}
	if g.Retries <= 0 {
		g.Retries = DefaultRetries
	}
	return nil
}

// Gather returns evidence for the revision on the repo.
// Jobs whose logs could not be fetched are silently missing from the result,
// so the result may have fewer jobs than the build actually ran.
func (g *Gatherer) Gather(ctx context.Context, repo, revision, platform string) (*warnings.Evidence, error) {
	if err := g.init(); err != nil {
		return nil, err
	}
	key := cache.Key{
		Repo:     repo,
		Revision: revision,
		Platform: platform,
		Pattern:  g.Pattern,
	}
	if g.Cache != nil && !g.NoCache {
		ev, err := g.Cache.Load(ctx, key)
		if err == nil {
			log.Logf(1, "using cached evidence for %v", ev)
			return ev, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			log.Logf(0, "failed to load %v from the cache: %v", key.Dir(), err)
		}
	}
	start := time.Now()
	jobs, err := g.jobs(ctx, repo, revision, platform)
	if err != nil {
		return nil, err
	}
	logs := make([]*warnings.JobLog, len(jobs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.Workers)
	for i, job := range jobs {
		i, job := i, job
		eg.Go(func() error {
			logs[i] = g.fetch(egCtx, repo, job)
			return egCtx.Err()
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	ev := &warnings.Evidence{
		Repo:     repo,
		Revision: revision,
		Platform: platform,
	}
	for _, jl := range logs {
		if jl != nil {
			ev.Jobs = append(ev.Jobs, jl)
		}
	}
	ev.Sort()
	statGatherTime.Save(time.Since(start))
	log.Logf(1, "gathered %v out of %v jobs in %v", ev, len(jobs), time.Since(start).Round(time.Second))
	if g.Cache != nil && len(ev.Jobs) != 0 {
		if err := g.Cache.Store(ctx, key, ev); err != nil {
			log.Logf(0, "failed to store %v in the cache: %v", key.Dir(), err)
		}
	}
	return ev, nil
}

func (g *Gatherer) jobs(ctx context.Context, repo, revision, platform string) ([]treeherder.Job, error) {
	var err error
	for attempt := 0; attempt < g.Retries; attempt++ {
		var jobs []treeherder.Job
		jobs, err = g.Source.Jobs(ctx, repo, revision, platform)
		if err == nil {
			return jobs, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		statRetries.Add(1)
		log.Logf(1, "failed to list jobs of %v %v: %v", repo, revision, err)
	}
	return nil, fmt.Errorf("failed to list jobs of %v %v %v: %w", repo, revision, platform, err)
}

// fetch returns the processed log of the job, or nil if the job has no log or all attempts failed.
// Every attempt starts from scratch, counts of a failed attempt are discarded.
func (g *Gatherer) fetch(ctx context.Context, repo string, job treeherder.Job) *warnings.JobLog {
	var err error
	for attempt := 0; attempt < g.Retries; attempt++ {
		if attempt != 0 {
			statRetries.Add(1)
		}
		var jl *warnings.JobLog
		jl, err = g.fetchOnce(ctx, repo, job)
		if err == nil {
			statFetched.Add(1)
			return jl
		}
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, treeherder.ErrNoLog) {
			log.Logf(1, "skipping job %v: %v", job.Name, err)
			return nil
		}
		log.Logf(2, "attempt %v to fetch %v failed: %v", attempt+1, job.Name, err)
	}
	statDropped.Add(1)
	log.Logf(0, "dropping job %v: %v", job.Name, err)
	return nil
}

func (g *Gatherer) fetchOnce(ctx context.Context, repo string, job treeherder.Job) (*warnings.JobLog, error) {
	logURL, err := g.Source.LogURL(ctx, repo, job.ID)
	if err != nil {
		return nil, err
	}
	r, err := g.Source.Log(ctx, logURL)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return warnings.Parse(job.Name, logURL, r, g.re)
}

// Config describes where evidence comes from and where it is kept.
type Config struct {
	Pattern       string `json:"warning_re" yaml:"warning_re"`
	Workers       int    `json:"workers" yaml:"workers"`
	Retries       int    `json:"retries" yaml:"retries"`
	TreeherderURL string `json:"treeherder_url" yaml:"treeherder_url"`
	// CacheDir is the local cache directory, used unless GCSCache ("bucket/dir") is set.
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`
	GCSCache string `json:"gcs_cache" yaml:"gcs_cache"`
	NoCache  bool   `json:"no_cache" yaml:"no_cache"`
}

func DefaultConfig() Config {
	return Config{
		Pattern:       warnings.DefaultPattern,
		Workers:       DefaultWorkers,
		Retries:       DefaultRetries,
		TreeherderURL: treeherder.DefaultURL,
		CacheDir:      "logspam-cache",
	}
}

// NewGatherer returns a gatherer that fetches logs from Treeherder.
// The returned function releases the cache.
func NewGatherer(ctx context.Context, cfg Config) (*Gatherer, func(), error) {
	c, closeCache, err := cache.Open(ctx, cfg.CacheDir, cfg.GCSCache)
	if err != nil {
		return nil, nil, err
	}
	g := &Gatherer{
		Source:  treeherder.NewClient(cfg.TreeherderURL),
		Cache:   c,
		NoCache: cfg.NoCache,
		Pattern: cfg.Pattern,
		Workers: cfg.Workers,
		Retries: cfg.Retries,
	}
	if err := g.init(); err != nil {
		closeCache()
		return nil, nil, err
	}
	return g, closeCache, nil
}
