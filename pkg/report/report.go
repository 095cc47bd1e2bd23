// Copyright 2026 logspam project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package report summarizes warnings of one build: the most (or least) frequent warnings
// and the breakdown of a single warning by job and by test.
package report

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/logspam/logspam/pkg/vcs"
	"github.com/logspam/logspam/pkg/warnings"
)

var (
	ErrPatternMismatch = errors.New("warning does not match the warning pattern")
	ErrWarningNotFound = errors.New("warning was not found")
)

type Report struct {
	ev      *warnings.Evidence
	pattern *regexp.Regexp
	counts  map[string]int
	// HgURL is the server used for annotate links.
	HgURL string
}

func New(ev *warnings.Evidence, pattern string) (*Report, error) {
	re, err := warnings.CompilePattern(pattern)
	if err != nil {
		return nil, err
	}
	return &Report{
		ev:      ev,
		pattern: re,
		counts:  ev.Merge(),
		HgURL:   vcs.DefaultHgmoURL,
	}, nil
}

func (r *Report) Total() int {
	total := 0
	for _, n := range r.counts {
		total += n
	}
	return total
}

// Top returns n most frequent warnings, or n least frequent ones if reverse is set.
func (r *Report) Top(n int, reverse bool) []warnings.Count {
	sorted := warnings.Sorted(r.counts)
	if reverse {
		for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
			sorted[i], sorted[j] = sorted[j], sorted[i]
		}
	}
	if n >= 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

func (r *Report) WriteTop(w io.Writer, n int, reverse bool) {
	title := fmt.Sprintf("Top %v Warnings", n)
	if reverse {
		title = fmt.Sprintf("Bottom %v Warnings", n)
	}
	fmt.Fprintf(w, "%v\n%v\n", title, strings.Repeat("=", len(title)))
	for _, c := range r.Top(n, reverse) {
		fmt.Fprintf(w, "%6d %v\n", c.Count, c.Text)
	}
	fmt.Fprintf(w, "TOTAL WARNINGS: %v\n", r.Total())
}

var warningRe = regexp.MustCompile(`.*WARNING: (.*)[:,] file ([^,]+), line ([0-9]+).*`)

// Details is everything known about one warning, suitable for a bug report.
type Details struct {
	Warning string
	Count   int
	// Text, File and Line are parsed from the warning if it has the standard format.
	Text string
	File string
	Line int
	Jobs []warnings.Count
	// Tests are ordered by count and limited, NumTests is the number of all tests.
	Tests    []warnings.Count
	NumTests int
	Summary  string
	Link     string
}

// Details returns the breakdown of the warning. At most testCount tests are listed.
func (r *Report) Details(warning string, testCount int) (*Details, error) {
	if !r.pattern.MatchString(warning) {
		return nil, fmt.Errorf("%w: %q does not match %q", ErrPatternMismatch, warning, r.pattern)
	}
	d := &Details{
		Warning: warning,
		Count:   r.counts[warning],
		Text:    warning,
		File:    "none",
	}
	if d.Count == 0 {
		return nil, fmt.Errorf("%w: %q", ErrWarningNotFound, warning)
	}
	if m := warningRe.FindStringSubmatch(warning); m != nil {
		d.Text, d.File = m[1], m[2]
		d.Line, _ = strconv.Atoi(m[3])
	}
	jobs := make(map[string]int)
	tests := make(map[string]int)
	for _, jl := range r.ev.Jobs {
		n := jl.Warnings[warning]
		if n == 0 {
			continue
		}
		jobs[jl.Name] += n
		prefix := "       "
		if strings.Contains(jl.Name, "e10s") {
			prefix = "[e10s] "
		}
		for test, n := range jl.Tests[warning] {
			tests[prefix+test] += n
		}
	}
	d.Jobs = warnings.Sorted(jobs)
	d.Tests = warnings.Sorted(tests)
	d.NumTests = len(d.Tests)
	if testCount >= 0 && testCount < len(d.Tests) {
		d.Tests = d.Tests[:testCount]
	}
	rounded := (d.Count + 50) / 100 * 100
	d.Summary = fmt.Sprintf("%v instances of %q emitted from %v during %v debug testing",
		thousands(rounded), d.Text, d.File, r.ev.Platform)
	d.Link = fmt.Sprintf("%v/%v/annotate/%v/%v#l%v", r.HgURL, vcs.BranchPath(r.ev.Repo),
		r.ev.Revision, d.File, d.Line)
	return d, nil
}

// String formats the details as the description of a bug.
func (d *Details) String() string {
	b := new(strings.Builder)
	fmt.Fprintf(b, "%v\n\n", d.Summary)
	fmt.Fprintf(b, "> %v %v\n\n", d.Count, d.Warning)
	fmt.Fprintf(b, "This warning [1] shows up in the following test suites:\n\n")
	for _, job := range d.Jobs {
		fmt.Fprintf(b, "> %6d - %v\n", job.Count, job.Text)
	}
	fmt.Fprintf(b, "\nIt shows up in %v tests. A few of the most prevalent:\n\n", d.NumTests)
	for _, test := range d.Tests {
		fmt.Fprintf(b, "> %6d - %v\n", test.Count, test.Text)
	}
	fmt.Fprintf(b, "\n[1] %v\n", d.Link)
	return b.String()
}

func thousands(n int) string {
	s := strconv.Itoa(n)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}
