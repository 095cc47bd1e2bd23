// Copyright 2026 logspam project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package bisect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/logspam/logspam/pkg/evaluate"
	"github.com/logspam/logspam/pkg/evidence"
	"github.com/logspam/logspam/pkg/treeherder"
	"github.com/logspam/logspam/pkg/vcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// logSource serves jobs jobs per revision, every log has the given text.
type logSource struct {
	jobs int
	logs map[string]string

	mu   sync.Mutex
	urls []string
}

func (src *logSource) Jobs(ctx context.Context, repo, revision, platform string) ([]treeherder.Job, error) {
	if _, ok := src.logs[revision]; !ok {
		return nil, errors.New("unknown revision")
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	var res []treeherder.Job
	for i := 0; i < src.jobs; i++ {
		res = append(res, treeherder.Job{
			ID:   len(src.urls),
			Name: fmt.Sprintf("mochitest-%v", i),
		})
		src.urls = append(src.urls, revision+"/"+fmt.Sprint(i))
	}
	return res, nil
}

func (src *logSource) LogURL(ctx context.Context, repo string, jobID int) (string, error) {
	src.mu.Lock()
	defer src.mu.Unlock()
	return src.urls[jobID], nil
}

func (src *logSource) Log(ctx context.Context, url string) (io.ReadCloser, error) {
	rev, _, _ := strings.Cut(url, "/")
	return io.NopCloser(strings.NewReader(src.logs[rev])), nil
}

func TestEvidenceOracle(t *testing.T) {
	const target = "WARNING: leak: file a.cpp, line 20"
	src := &logSource{
		jobs: 25,
		logs: map[string]string{
			// 25 * 50 warnings exceed the limit.
			"bad": strings.Repeat(target+"\n", 50),
			// The same warning is reported on another line.
			"moved": strings.Repeat("WARNING: leak: file a.cpp, line 17\n", 50),
			"good":  "WARNING: leak: file a.cpp, line 20\n",
		},
	}
	cfg := evaluate.DefaultConfig()
	newOracle := func(cfg evaluate.Config) Oracle {
		return NewOracle(&evidence.Gatherer{Source: src}, evaluate.NewEvaluator(cfg, nil), "linux64", target)
	}
	oracle := newOracle(cfg)
	ctx := context.Background()
	build := func(rev string) *vcs.Build {
		return &vcs.Build{Branch: vcs.DefaultBranch, Changeset: rev}
	}

	v, err := oracle.Test(ctx, build("bad"))
	require.NoError(t, err)
	assert.Equal(t, vcs.BisectBad, v.Result)
	assert.Equal(t, 1250, v.Total)

	v, err = oracle.Test(ctx, build("good"))
	require.NoError(t, err)
	assert.Equal(t, vcs.BisectGood, v.Result)
	assert.Equal(t, 25, v.Total)
	assert.Empty(t, v.LineMoves)

	v, err = oracle.Test(ctx, build("moved"))
	require.NoError(t, err)
	assert.Equal(t, vcs.BisectGood, v.Result)
	require.Len(t, v.LineMoves, 1)
	assert.Equal(t, "WARNING: leak: file a.cpp, line 17", v.LineMoves[0].Text)

	v, err = oracle.Test(ctx, build("missing"))
	require.NoError(t, err)
	assert.Equal(t, vcs.BisectSkip, v.Result)
	assert.Contains(t, v.Reason, "unknown revision")

	cfg.IgnoreLineNumbers = true
	v, err = newOracle(cfg).Test(ctx, build("moved"))
	require.NoError(t, err)
	assert.Equal(t, vcs.BisectBad, v.Result)
	assert.Empty(t, v.LineMoves)
}
