// Copyright 2026 logspam project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package vcs

import (
	"context"
	"fmt"
	"time"

	"github.com/logspam/logspam/pkg/hash"
)

// TestHistory is an in-memory History used in tests.
type TestHistory struct {
	Nightlies []*Build
	Branches  map[string][]*Build
	// Merges are keyed by the changeset of the merge push.
	Merges map[string]*Merge
}

func NewTestHistory() *TestHistory {
	return &TestHistory{
		Branches: make(map[string][]*Build),
		Merges:   make(map[string]*Merge),
	}
}

// TestChangeset returns a stable fake 40-digit changeset for i-th push on the branch.
func TestChangeset(branch string, i int) string {
	return hash.String([]byte(fmt.Sprintf("%v-%v", branch, i)))
}

// AddDays appends perDay pushes for each of days days starting at start.
// For the default branch the last push of every day becomes that day's nightly snapshot.
func (h *TestHistory) AddDays(branch string, start time.Time, days, perDay int) {
	for day := 0; day < days; day++ {
		date := start.AddDate(0, 0, day)
		var last *Build
		for i := 0; i < perDay; i++ {
			last = h.AddPush(branch, date.Add(time.Duration(i+1)*time.Hour))
		}
		if branch == DefaultBranch && last != nil {
			h.Nightlies = append(h.Nightlies, &Build{
				Branch:    branch,
				Changeset: last.Changeset,
				PushID:    last.PushID,
				Date:      date,
				Nightly:   true,
			})
		}
	}
}

// AddPush appends one push to the branch.
func (h *TestHistory) AddPush(branch string, date time.Time) *Build {
	id := len(h.Branches[branch]) + 1
	b := &Build{
		Branch:    branch,
		Changeset: TestChangeset(branch, id),
		PushID:    id,
		Date:      date,
	}
	h.Branches[branch] = append(h.Branches[branch], b)
	return b
}

// Push returns i-th (1-based) push of the branch.
func (h *TestHistory) Push(branch string, i int) *Build {
	return h.Branches[branch][i-1]
}

func (h *TestHistory) Snapshot(ctx context.Context, date time.Time) (*Build, error) {
	var res *Build
	for _, b := range h.Nightlies {
		if !b.Date.After(date) {
			res = b
		}
	}
	if res == nil {
		return nil, fmt.Errorf("no snapshot on or before %v", date.Format(DateFormat))
	}
	return res, nil
}

func (h *TestHistory) Snapshots(ctx context.Context, from, to time.Time) ([]*Build, error) {
	var res []*Build
	for _, b := range h.Nightlies {
		if !b.Date.Before(from) && !b.Date.After(to) {
			res = append(res, b)
		}
	}
	return res, nil
}

func (h *TestHistory) Resolve(ctx context.Context, branch, rev string) (*Build, error) {
	idx := h.find(branch, rev)
	if idx == -1 {
		return nil, fmt.Errorf("%v: changeset %v not found", branch, rev)
	}
	return h.Branches[branch][idx], nil
}

func (h *TestHistory) Range(ctx context.Context, branch, good, bad string) ([]*Build, error) {
	from, to := h.find(branch, good), h.find(branch, bad)
	if from == -1 || to == -1 || from >= to {
		return nil, fmt.Errorf("%v: bad range %v..%v", branch, ShortHash(good), ShortHash(bad))
	}
	return append([]*Build(nil), h.Branches[branch][from:to+1]...), nil
}

func (h *TestHistory) Merge(ctx context.Context, branch string, good, bad *Build) (*Merge, error) {
	return h.Merges[bad.Changeset], nil
}

func (h *TestHistory) find(branch, rev string) int {
	for i, b := range h.Branches[branch] {
		if SameChangeset(b.Changeset, rev) {
			return i
		}
	}
	return -1
}
