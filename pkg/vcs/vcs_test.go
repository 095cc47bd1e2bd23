// Copyright 2026 logspam project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package vcs

import (
	"testing"
	"time"
)

func TestCheckChangeset(t *testing.T) {
	testPredicate(t, CheckChangeset, map[string]bool{
		"5ffed033557e": true,
		"5ffed033557e5ffed033557e5ffed033557e5ffe": true,
		"5ffed033557": false,
		"5ffed033557e5ffed033557e5ffed033557e5ffed": false,
		"5FFED033557E": false,
		"2017-01-01":   false,
		"":             false,
	})
}

func TestParseDate(t *testing.T) {
	testPredicate(t, func(s string) bool {
		_, ok := ParseDate(s)
		return ok
	}, map[string]bool{
		"2017-01-01":   true,
		" 2017-01-31 ": true,
		"2017-02-30":   false,
		"5ffed033557e": false,
		"":             false,
	})
	d, _ := ParseDate("2017-03-04")
	if want := time.Date(2017, 3, 4, 0, 0, 0, 0, time.UTC); !d.Equal(want) {
		t.Fatalf("got %v, want %v", d, want)
	}
}

func TestSameChangeset(t *testing.T) {
	full := TestChangeset("x", 1)
	if !SameChangeset(full, ShortHash(full)) || !SameChangeset(ShortHash(full), full) {
		t.Fatalf("short hash does not match")
	}
	if SameChangeset(full, "") || SameChangeset(full, TestChangeset("x", 2)) {
		t.Fatalf("different changesets match")
	}
}

func TestBranches(t *testing.T) {
	for in, want := range map[string]string{
		"autoland":        "integration/autoland",
		"mozilla-inbound": "integration/mozilla-inbound",
		"mozilla-central": "mozilla-central",
	} {
		if got := BranchPath(in); got != want {
			t.Errorf("BranchPath(%q) = %q, want %q", in, got, want)
		}
	}
	for in, want := range map[string]string{
		"inbound":  "mozilla-inbound",
		"Autoland": "autoland",
		"m-c,":     "mozilla-central",
	} {
		if got := CanonicalBranch(in); got != want {
			t.Errorf("CanonicalBranch(%q) = %q, want %q", in, got, want)
		}
	}
}

func testPredicate(t *testing.T, fn func(string) bool, tests map[string]bool) {
	for input, want := range tests {
		if got := fn(input); got != want {
			t.Errorf("%v: got %v, want %v", input, got, want)
		}
	}
}
