// Copyright 2026 logspam project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package treeherder retrieves test jobs and their raw logs from a Treeherder instance.
package treeherder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultURL = "https://treeherder.mozilla.org"
	// DebugOptionHash is the option collection hash that identifies debug builds.
	DebugOptionHash = "32faaecac742100f7753f0c1d0aa0add01b4046b"
	// Large enough to never need pagination.
	maxJobs   = 5000
	userAgent = "logspam"
)

type Client struct {
	url string
	// OptionHash selects the build type of the listed jobs.
	OptionHash string
	throttle   bool
	ctor       requestCtor
	doer       requestDoer
}

type (
	requestCtor func(ctx context.Context, method, url string, body io.Reader) (*http.Request, error)
	requestDoer func(req *http.Request) (*http.Response, error)
)

func NewClient(serverURL string) *Client {
	if serverURL == "" {
		serverURL = DefaultURL
	}
	return &Client{
		url:        strings.TrimSuffix(serverURL, "/"),
		OptionHash: DebugOptionHash,
		throttle:   true,
		ctor:       http.NewRequestWithContext,
		doer:       http.DefaultClient.Do,
	}
}

func NewTestClient(serverURL string, doer requestDoer) *Client {
	return &Client{
		url:        strings.TrimSuffix(serverURL, "/"),
		OptionHash: DebugOptionHash,
		ctor:       http.NewRequestWithContext,
		doer:       doer,
	}
}

// Job is one test job of a push.
type Job struct {
	ID   int
	Name string
}

// ErrNoLog is returned by LogURL for jobs that did not upload a log.
var ErrNoLog = errors.New("job has no log")

type pushReply struct {
	Results []struct {
		ID       int    `json:"id"`
		Revision string `json:"revision"`
	} `json:"results"`
}

type jobsReply struct {
	Results []struct {
		ID            int    `json:"id"`
		JobTypeName   string `json:"job_type_name"`
		JobTypeSymbol string `json:"job_type_symbol"`
	} `json:"results"`
}

type logURLReply []struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Jobs returns all test jobs of the push that contains revision on the platform.
func (c *Client) Jobs(ctx context.Context, repo, revision, platform string) ([]Job, error) {
	var push pushReply
	if err := c.query(ctx, "/api/project/"+repo+"/push/", url.Values{"revision": {revision}}, &push); err != nil {
		return nil, err
	}
	if len(push.Results) == 0 {
		return nil, fmt.Errorf("failed to find %v in %v", revision, repo)
	}
	args := url.Values{
		"push_id":  {strconv.Itoa(push.Results[0].ID)},
		"platform": {platform},
		"count":    {strconv.Itoa(maxJobs)},
	}
	if c.OptionHash != "" {
		args.Set("option_collection_hash", c.OptionHash)
	}
	var jobs jobsReply
	if err := c.query(ctx, "/api/project/"+repo+"/jobs/", args, &jobs); err != nil {
		return nil, err
	}
	var res []Job
	for _, j := range jobs.Results {
		job := Job{
			ID:   j.ID,
			Name: j.JobTypeName,
		}
		// Symbols are needed for jobs without unique names.
		if j.JobTypeSymbol != "" {
			job.Name += " " + j.JobTypeSymbol
		}
		res = append(res, job)
	}
	return res, nil
}

// LogURL returns the location of the raw log of the job, or ErrNoLog.
func (c *Client) LogURL(ctx context.Context, repo string, jobID int) (string, error) {
	var logs logURLReply
	err := c.query(ctx, "/api/project/"+repo+"/job-log-url/",
		url.Values{"job_id": {strconv.Itoa(jobID)}}, &logs)
	if err != nil {
		return "", err
	}
	if len(logs) == 0 {
		return "", fmt.Errorf("job %v: %w", jobID, ErrNoLog)
	}
	return logs[0].URL, nil
}

// Log opens the raw log stream, the caller must close it.
func (c *Client) Log(ctx context.Context, logURL string) (io.ReadCloser, error) {
	res, err := c.get(ctx, logURL)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		res.Body.Close()
		return nil, fmt.Errorf("log request %q failed: status(%v) body(%s)", logURL, res.StatusCode, body)
	}
	return res.Body, nil
}

func (c *Client) query(ctx context.Context, path string, args url.Values, result any) error {
	queryURL := c.url + path + "?" + args.Encode()
	if c.throttle {
		select {
		case <-throttler:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	res, err := c.get(ctx, queryURL)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if res.StatusCode < 200 || res.StatusCode >= 300 || err != nil {
		return fmt.Errorf("api request %q failed: status(%v) err(%w) body(%.1024s)",
			queryURL, res.StatusCode, err, string(body))
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("json.Unmarshal: %w\n%.1024s", err, body)
	}
	return nil
}

func (c *Client) get(ctx context.Context, queryURL string) (*http.Response, error) {
	req, err := c.ctor(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("http.NewRequest: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	res, err := c.doer(req)
	if err != nil {
		return nil, fmt.Errorf("http.Get(%v): %w", queryURL, err)
	}
	return res, nil
}

// Treeherder asks clients to not issue more than a few requests per second.
var throttler = time.NewTicker(250 * time.Millisecond).C
