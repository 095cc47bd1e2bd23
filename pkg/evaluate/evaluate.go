// Copyright 2026 logspam project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package evaluate decides whether a build is good or bad with respect to a warning
// given the processed logs of all its test jobs.
package evaluate

import (
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/logspam/logspam/pkg/stat"
	"github.com/logspam/logspam/pkg/vcs"
	"github.com/logspam/logspam/pkg/warnings"
	dmp "github.com/sergi/go-diff/diffmatchpatch"
)

const (
	// DefaultMinJobs is the number of jobs below which absence of a warning means nothing.
	DefaultMinJobs = 20
	DefaultLimit   = 1000
)

type Config struct {
	// MinJobs is the minimal number of processed jobs a build needs to produce a verdict.
	MinJobs int `json:"min_jobs" yaml:"min_jobs"`
	// Limit is the maximal number of warnings a good build may have.
	Limit int `json:"warning_limit" yaml:"warning_limit"`
	// RequiredTest, if set, must be a substring of the name of at least one job.
	RequiredTest string `json:"required_test" yaml:"required_test"`
	// IgnoreLineNumbers counts all warnings that differ from the target only in the line number.
	IgnoreLineNumbers bool `json:"ignore_lines" yaml:"ignore_lines"`
}

func DefaultConfig() Config {
	return Config{
		MinJobs: DefaultMinJobs,
		Limit:   DefaultLimit,
	}
}

type Evaluator struct {
	cfg   Config
	trace io.Writer
}

func NewEvaluator(cfg Config, trace io.Writer) *Evaluator {
	if trace == nil {
		trace = io.Discard
	}
	return &Evaluator{
		cfg:   cfg,
		trace: trace,
	}
}

func (e *Evaluator) Config() Config {
	return e.cfg
}

type Result struct {
	Verdict vcs.BisectResult
	// Total is the merged number of target warnings, not set for skipped builds.
	Total  int
	Reason string
}

var (
	statEvaluated = stat.New("builds evaluated", "Number of builds evaluated",
		stat.Console, stat.Prometheus("logspam_builds_evaluated"))
	statSkipped = stat.New("builds skipped", "Number of builds without enough evidence for a verdict",
		stat.Console, stat.Prometheus("logspam_builds_skipped"))
	statTotals = stat.New("warning totals", "Distribution of merged target warning counts per build",
		stat.Distribution{})
)

// Evaluate returns the verdict for the build the evidence was gathered for.
// Skip is returned only if the evidence is insufficient, otherwise the build is
// bad if the number of target warnings exceeds the limit.
func (e *Evaluator) Evaluate(ev *warnings.Evidence, target string) Result {
	statEvaluated.Add(1)
	if len(ev.Jobs) < e.cfg.MinJobs {
		statSkipped.Add(1)
		res := Result{
			Verdict: vcs.BisectSkip,
			Reason:  fmt.Sprintf("not enough tests run (%v < %v)", len(ev.Jobs), e.cfg.MinJobs),
		}
		e.logf("skipping build %v: %v", vcs.ShortHash(ev.Revision), res.Reason)
		return res
	}
	if e.cfg.RequiredTest != "" && !ev.HasJob(e.cfg.RequiredTest) {
		statSkipped.Add(1)
		res := Result{
			Verdict: vcs.BisectSkip,
			Reason:  fmt.Sprintf("required test %v was not run", e.cfg.RequiredTest),
		}
		e.logf("skipping build %v: %v", vcs.ShortHash(ev.Revision), res.Reason)
		return res
	}
	merged := ev.Merge()
	var total int
	if e.cfg.IgnoreLineNumbers {
		prefix := StripLineNumber(target)
		total = CountPrefix(merged, prefix)
		e.logf("%v - %v", total, prefix)
	} else {
		total = merged[target]
		e.logf("%v - %v", total, target)
	}
	statTotals.Add(total)
	if total > e.cfg.Limit {
		e.logf("%v > %v", total, e.cfg.Limit)
		return Result{Verdict: vcs.BisectBad, Total: total}
	}
	e.logf("%v <= %v", total, e.cfg.Limit)
	return Result{Verdict: vcs.BisectGood, Total: total}
}

func (e *Evaluator) logf(msg string, args ...any) {
	fmt.Fprintf(e.trace, msg+"\n", args...)
}

var lineNumberRe = regexp.MustCompile(`^(.*), line [0-9]+$`)

// StripLineNumber removes the trailing ", line N" from warning text.
// Text without the suffix is returned as is.
func StripLineNumber(text string) string {
	if m := lineNumberRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return text
}

// CountPrefix sums counts of all warnings starting with prefix.
func CountPrefix(counts map[string]int, prefix string) int {
	total := 0
	for k, n := range counts {
		if strings.HasPrefix(k, prefix) {
			total += n
		}
	}
	return total
}

// LineMove is a warning that matches the target except for the line number.
type LineMove struct {
	Text  string
	Count int
	// Diff shows the difference from the target, [-removed-]{+added+}.
	Diff string
}

// LineMoves returns warnings that differ from target only in the line number
// and still exceed limit. Such warnings suggest that the target warning did not appear,
// but moved to another line.
func LineMoves(ev *warnings.Evidence, target string, limit int) []LineMove {
	prefix := StripLineNumber(target)
	if prefix == target {
		return nil
	}
	var res []LineMove
	for k, n := range ev.Merge() {
		if k == target || n <= limit || !strings.HasPrefix(k, prefix) {
			continue
		}
		res = append(res, LineMove{
			Text:  k,
			Count: n,
			Diff:  diffText(target, k),
		})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Count != res[j].Count {
			return res[i].Count > res[j].Count
		}
		return res[i].Text < res[j].Text
	})
	return res
}

// CheckForLineMove reports if the target warning possibly moved lines.
// It is advisory only: it does not change verdicts.
func CheckForLineMove(ev *warnings.Evidence, target string, limit int) bool {
	return len(LineMoves(ev, target, limit)) != 0
}

func diffText(from, to string) string {
	differ := dmp.New()
	diffs := differ.DiffCleanupSemantic(differ.DiffMain(from, to, false))
	var b strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case dmp.DiffEqual:
			b.WriteString(d.Text)
		case dmp.DiffDelete:
			b.WriteString("[-" + d.Text + "-]")
		case dmp.DiffInsert:
			b.WriteString("{+" + d.Text + "+}")
		}
	}
	return b.String()
}
