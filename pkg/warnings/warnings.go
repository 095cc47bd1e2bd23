// Copyright 2026 logspam project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package warnings extracts and counts warning lines in test job logs.
package warnings

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/logspam/logspam/pkg/log"
	"github.com/logspam/logspam/pkg/normalize"
)

// DefaultPattern matches proper warnings emitted by debug builds.
const DefaultPattern = "^WARNING"

var testStartRe = regexp.MustCompile(`TEST-START \| (.*)`)

// JobLog is the processed log of one test job.
// Warnings maps normalized warning text to the number of occurrences in the whole log,
// Tests maps normalized warning text to per-test occurrences.
type JobLog struct {
	Name       string                    `json:"job_name"`
	URL        string                    `json:"url"`
	Warnings   map[string]int            `json:"warnings"`
	Tests      map[string]map[string]int `json:"tests,omitempty"`
	Unreadable int                       `json:"unreadable,omitempty"`
}

// CompilePattern compiles the warning pattern, empty pattern means DefaultPattern.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad warning pattern %q: %w", pattern, err)
	}
	return re, nil
}

// Aggregator accumulates warning counts for one job log line by line.
type Aggregator struct {
	pattern *regexp.Regexp
	test    string
	log     *JobLog
}

func NewAggregator(name, url string, pattern *regexp.Regexp) *Aggregator {
	return &Aggregator{
		pattern: pattern,
		log: &JobLog{
			Name:     name,
			URL:      url,
			Warnings: make(map[string]int),
			Tests:    make(map[string]map[string]int),
		},
	}
}

// Add consumes one normalized line. Lines that are not attributable
// (their raw bytes were not valid text) still count towards the log total,
// but are not attributed to the current test.
func (a *Aggregator) Add(line string, attributable bool) {
	if m := testStartRe.FindStringSubmatch(line); m != nil {
		a.test = strings.TrimSpace(m[1])
	}
	if !a.pattern.MatchString(line) {
		return
	}
	a.log.Warnings[line]++
	if !attributable {
		a.log.Unreadable++
		return
	}
	if a.test == "" {
		return
	}
	tests := a.log.Tests[line]
	if tests == nil {
		tests = make(map[string]int)
		a.log.Tests[line] = tests
	}
	tests[a.test]++
}

// JobLog returns the accumulated result. The aggregator must not be used afterwards.
func (a *Aggregator) JobLog() *JobLog {
	res := a.log
	a.log = nil
	return res
}

// Parse reads raw job log from r, normalizes every line and counts warnings matching pattern.
// A read error fails the whole log: partial counts are never returned.
func Parse(name, url string, r io.Reader, pattern *regexp.Regexp) (*JobLog, error) {
	agg := NewAggregator(name, url, pattern)
	br := bufio.NewReaderSize(r, 64<<10)
	for {
		raw, err := br.ReadBytes('\n')
		raw = bytes.TrimRight(raw, "\r\n")
		if len(raw) != 0 {
			valid := utf8.Valid(raw)
			line := normalize.Line(raw)
			if !valid {
				log.Logf(2, "%v: can't attribute line: %q", name, line)
			}
			agg.Add(line, valid)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read log of %v: %w", name, err)
		}
	}
	return agg.JobLog(), nil
}

// Total returns the number of all warnings in the log.
func (jl *JobLog) Total() int {
	total := 0
	for _, n := range jl.Warnings {
		total += n
	}
	return total
}

// Merge sums warning counts of all logs. The result does not depend on the order of logs.
func Merge(logs ...*JobLog) map[string]int {
	res := make(map[string]int)
	for _, jl := range logs {
		if jl == nil {
			continue
		}
		for k, n := range jl.Warnings {
			res[k] += n
		}
	}
	return res
}

// Evidence is the set of processed job logs of one build.
type Evidence struct {
	Repo     string    `json:"repo"`
	Revision string    `json:"revision"`
	Platform string    `json:"platform"`
	Jobs     []*JobLog `json:"jobs"`
}

func (ev *Evidence) Merge() map[string]int {
	return Merge(ev.Jobs...)
}

// HasJob returns true if the name of any job contains substr.
func (ev *Evidence) HasJob(substr string) bool {
	for _, jl := range ev.Jobs {
		if jl != nil && strings.Contains(jl.Name, substr) {
			return true
		}
	}
	return false
}

// Sort orders jobs by name, so that evidence gathered in parallel is stored deterministically.
func (ev *Evidence) Sort() {
	sort.SliceStable(ev.Jobs, func(i, j int) bool {
		return ev.Jobs[i].Name < ev.Jobs[j].Name
	})
}

func (ev *Evidence) String() string {
	return fmt.Sprintf("%v %v %v (%v jobs)", ev.Repo, ev.Revision, ev.Platform, len(ev.Jobs))
}

// Count is a warning with its number of occurrences.
type Count struct {
	Text  string
	Count int
}

// Sorted returns counts ordered by decreasing count, ties are ordered by text.
func Sorted(counts map[string]int) []Count {
	res := make([]Count, 0, len(counts))
	for k, n := range counts {
		res = append(res, Count{k, n})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Count != res[j].Count {
			return res[i].Count > res[j].Count
		}
		return res[i].Text < res[j].Text
	})
	return res
}
