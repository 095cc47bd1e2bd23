// Copyright 2026 logspam project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package vcs provides access to build history of the repositories that are bisected
// (pushes, nightly snapshots and merges between integration branches).
package vcs

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

type History interface {
	// Snapshot returns the nightly snapshot build for the given date.
	// If there is no snapshot on that date, the closest earlier one is returned.
	Snapshot(ctx context.Context, date time.Time) (*Build, error)

	// Snapshots returns nightly snapshot builds from date from to date to (both inclusive),
	// ordered from the oldest. Dates without a snapshot are missing from the result.
	Snapshots(ctx context.Context, from, to time.Time) ([]*Build, error)

	// Resolve returns the push build that contains changeset rev on the branch.
	Resolve(ctx context.Context, branch, rev string) (*Build, error)

	// Range returns all push builds between good and bad (both inclusive) on the branch,
	// ordered from the oldest. The first element is the build of good, the last one is the build of bad.
	Range(ctx context.Context, branch, good, bad string) ([]*Build, error)

	// Merge checks if bad (the push right after good) merges another branch into the branch.
	// Returns nil if it does not.
	Merge(ctx context.Context, branch string, good, bad *Build) (*Merge, error)
}

// Build identifies one push (or nightly snapshot) that has a full set of test jobs.
type Build struct {
	Branch    string
	Changeset string
	PushID    int
	Date      time.Time
	// Nightly is set for snapshot builds, Date is then the snapshot date.
	Nightly bool
}

func (b *Build) String() string {
	if b.Nightly {
		return fmt.Sprintf("%v nightly %v (%v)", b.Branch, b.Date.Format(DateFormat), ShortHash(b.Changeset))
	}
	return fmt.Sprintf("%v %v", b.Branch, ShortHash(b.Changeset))
}

// Merge describes the source side of a merge push.
type Merge struct {
	Branch string
	Good   string
	Bad    string
}

type BisectResult int

const (
	BisectBad BisectResult = iota
	BisectGood
	BisectSkip
)

func (res BisectResult) String() string {
	switch res {
	case BisectBad:
		return "bad"
	case BisectGood:
		return "good"
	case BisectSkip:
		return "skip"
	}
	return fmt.Sprintf("BisectResult(%d)", int(res))
}

const DateFormat = "2006-01-02"

// ParseDate parses bisection endpoints given as dates.
func ParseDate(s string) (time.Time, bool) {
	t, err := time.Parse(DateFormat, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

var hashRe = regexp.MustCompile("^[a-f0-9]+$")

// CheckChangeset does a best-effort check of a (possibly abbreviated) changeset hash.
func CheckChangeset(hash string) bool {
	return len(hash) >= 12 && len(hash) <= 40 && hashRe.MatchString(hash)
}

// ShortHash returns the 12-digit form of a changeset used by the build services.
func ShortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

// SameChangeset compares possibly abbreviated changesets.
func SameChangeset(a, b string) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	return a != "" && strings.HasPrefix(b, a)
}

// DefaultBranch is the main line that nightly snapshots are built from.
const DefaultBranch = "mozilla-central"

var branchPaths = map[string]string{
	"autoland":        "integration/autoland",
	"b2g-inbound":     "integration/b2g-inbound",
	"fx-team":         "integration/fx-team",
	"mozilla-inbound": "integration/mozilla-inbound",
}

// BranchPath returns the path of the branch repository on the hg server.
func BranchPath(branch string) string {
	if path, ok := branchPaths[branch]; ok {
		return path
	}
	return branch
}

var branchAliases = map[string]string{
	"inbound": "mozilla-inbound",
	"m-i":     "mozilla-inbound",
	"central": "mozilla-central",
	"m-c":     "mozilla-central",
	"b2g-i":   "b2g-inbound",
}

// CanonicalBranch maps branch names as they appear in merge commit messages to repository names.
func CanonicalBranch(name string) string {
	name = strings.ToLower(strings.Trim(name, ".,;:"))
	if canon, ok := branchAliases[name]; ok {
		return canon
	}
	return name
}
