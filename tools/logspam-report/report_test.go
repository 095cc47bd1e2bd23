// Copyright 2026 logspam project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/logspam/logspam/pkg/evidence"
	"github.com/logspam/logspam/pkg/report"
	"github.com/stretchr/testify/assert"
)

func testServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/project/mozilla-central/push/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("revision") != "0123456789ab" {
			fmt.Fprint(w, `{"results": []}`)
			return
		}
		fmt.Fprint(w, `{"results": [{"id": 1, "revision": "0123456789ab"}]}`)
	})
	mux.HandleFunc("/api/project/mozilla-central/jobs/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results": [{"id": 7, "job_type_name": "mochitest", "job_type_symbol": "1"}]}`)
	})
	mux.HandleFunc("/api/project/mozilla-central/job-log-url/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{"name": "live_backing_log", "url": "http://%v/logs/7"}]`, r.Host)
	})
	mux.HandleFunc("/logs/7", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "WARNING: a\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunErrors(t *testing.T) {
	srv := testServer(t)
	cfg := evidence.DefaultConfig()
	cfg.TreeherderURL = srv.URL
	cfg.CacheDir = t.TempDir()
	cfg.Retries = 1
	ctx := context.Background()

	err := run(ctx, cfg, []string{"ffffffffffff"})
	assert.ErrorContains(t, err, "failed to retrieve logs of mozilla-central ffffffffffff")

	err = run(ctx, cfg, []string{"0123456789ab", "WARNING: b"})
	assert.ErrorIs(t, err, report.ErrWarningNotFound)

	err = run(ctx, cfg, []string{"0123456789ab", "ASSERTION: a"})
	assert.ErrorIs(t, err, report.ErrPatternMismatch)

	cfg.Pattern = "(("
	err = run(ctx, cfg, []string{"0123456789ab"})
	assert.Error(t, err)
}
