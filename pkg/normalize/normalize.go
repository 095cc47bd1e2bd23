// Copyright 2026 logspam project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package normalize strips volatile substrings (timestamps, pids, checkout paths, pointer values)
// from raw test log lines, so that the same warning emitted on different machines and builds
// produces the same text.
package normalize

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"
)

type rule struct {
	re   *regexp.Regexp
	repl string
}

// Order matters: agent prefixes have to go before the generic leading bracket strip.
var prefixRules = []rule{
	// [task 2016-09-20T11:09:35.539828Z] 11:09:35
	{regexp.MustCompile(`^\[task[^\]]+\]\s`), ""},
	{regexp.MustCompile(`^[0-9:]+\s+INFO\s+-\s+`), ""},
	{regexp.MustCompile(`^[0-9]+\s+INFO\s+`), ""},
	{regexp.MustCompile(`^PROCESS \| [0-9]+ \| `), ""},
	// PID 13497 |  WARNING:
	{regexp.MustCompile(`^PID\s+[0-9]+\s+\|\s+`), ""},
	{regexp.MustCompile(`\[(Child|Parent|GMP|NPAPI)?\s?[0-9]+\]`), ""},
}

var pathRules = []rule{
	{regexp.MustCompile(`/home/worker/workspace/build/src/`), ""},
	{regexp.MustCompile(`/builds/worker/checkouts/gecko/`), ""},
	// c:/builds/moz2_slave/m-cen-w32-d-000000000000000000/build/src/
	{regexp.MustCompile(`([a-z]:)?/builds/[^/]+/[^/]+/build/src/`), ""},
	// z:/build/build/src/
	{regexp.MustCompile(`([a-z]:)?/(build/)+src/`), ""},
}

var (
	// blah=1caa2c00
	pointerRe = regexp.MustCompile(`=[a-z0-9]+`)
	// GECKO(1265) |
	geckoRe = regexp.MustCompile(`GECKO\([0-9]+\) \|`)
	// [1355, Main Thread]
	threadRe = regexp.MustCompile(`^\[[^\]]+\]\s+`)
)

// Placeholder replaces the value of key=value pairs that look like pointers or ids.
const Placeholder = "NNNNNN"

// Real lines converge in 2-3 passes. Every pass that changes the line consumes at least
// one stacked prefix, so the number of passes is additionally bounded by the line length.
const maxPasses = 16

// Line returns normalized text of one raw log line.
// It never fails: invalid UTF-8 sequences are replaced with U+FFFD.
// Line is idempotent: Line([]byte(Line(x))) == Line(x).
func Line(raw []byte) string {
	return String(string(raw))
}

// String is Line for input that is already a string.
func String(line string) string {
	if !utf8.ValidString(line) {
		line = strings.ToValidUTF8(line, "\uFFFD")
	}
	// Stripping one prefix may expose another one (e.g. "PID 1 | PROCESS | 2 | ..."),
	// so the pipeline runs until nothing changes.
	for i, n := 0, len(line)+maxPasses; i < n; i++ {
		next := pass(line)
		if next == line {
			break
		}
		line = next
	}
	return line
}

func pass(line string) string {
	line = unwrapJSON(line)
	for _, r := range prefixRules {
		line = r.re.ReplaceAllString(line, r.repl)
	}
	for _, r := range pathRules {
		line = r.re.ReplaceAllString(line, r.repl)
	}
	line = pointerRe.ReplaceAllString(line, "="+Placeholder)
	line = geckoRe.ReplaceAllString(line, "")
	line = strings.TrimSpace(line)
	line = threadRe.ReplaceAllString(line, "")
	return line
}

// unwrapJSON returns the data field of structured (mozlog) lines,
// legacy plain text lines are returned as is.
func unwrapJSON(line string) string {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return line
	}
	var envelope struct {
		Data *string `json:"data"`
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	if err := dec.Decode(&envelope); err != nil || envelope.Data == nil || dec.More() {
		return line
	}
	return *envelope.Data
}
