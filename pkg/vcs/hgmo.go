// Copyright 2026 logspam project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package vcs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultHgmoURL is the Mercurial server that hosts the pushlogs.
const DefaultHgmoURL = "https://hg.mozilla.org"

// Hgmo implements History on top of the json-pushes pushlog API.
type Hgmo struct {
	url  string
	doer requestDoer
	// snapshotLookback limits how far back Snapshot searches for a missing snapshot.
	snapshotLookback int
}

type requestDoer func(req *http.Request) (*http.Response, error)

func NewHgmo(baseURL string) *Hgmo {
	if baseURL == "" {
		baseURL = DefaultHgmoURL
	}
	return &Hgmo{
		url:              strings.TrimSuffix(baseURL, "/"),
		doer:             http.DefaultClient.Do,
		snapshotLookback: 7,
	}
}

type hgPush struct {
	ID         int
	Date       time.Time
	Changesets []hgChangeset
}

type hgChangeset struct {
	Node    string   `json:"node"`
	Desc    string   `json:"desc"`
	Parents []string `json:"parents"`
}

func (push *hgPush) tip() string {
	return push.Changesets[len(push.Changesets)-1].Node
}

func (push *hgPush) build(branch string) *Build {
	return &Build{
		Branch:    branch,
		Changeset: push.tip(),
		PushID:    push.ID,
		Date:      push.Date,
	}
}

func (hg *Hgmo) Snapshot(ctx context.Context, date time.Time) (*Build, error) {
	builds, err := hg.Snapshots(ctx, date.AddDate(0, 0, -hg.snapshotLookback), date)
	if err != nil {
		return nil, err
	}
	if len(builds) == 0 {
		return nil, fmt.Errorf("no %v snapshot on or before %v", DefaultBranch, date.Format(DateFormat))
	}
	return builds[len(builds)-1], nil
}

func (hg *Hgmo) Snapshots(ctx context.Context, from, to time.Time) ([]*Build, error) {
	args := url.Values{}
	args.Set("tipsonly", "1")
	args.Set("startdate", from.Format(DateFormat))
	args.Set("enddate", to.AddDate(0, 0, 1).Format(DateFormat))
	pushes, err := hg.pushes(ctx, DefaultBranch, args)
	if err != nil {
		return nil, err
	}
	// The snapshot of a day is the last push of that (UTC) day.
	days := make(map[string]*hgPush)
	for _, push := range pushes {
		day := push.Date.UTC().Format(DateFormat)
		if prev := days[day]; prev == nil || prev.ID < push.ID {
			days[day] = push
		}
	}
	var res []*Build
	first, last := from.Format(DateFormat), to.Format(DateFormat)
	for day, push := range days {
		if day < first || day > last {
			continue
		}
		date, _ := time.Parse(DateFormat, day)
		b := push.build(DefaultBranch)
		b.Date = date
		b.Nightly = true
		res = append(res, b)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Date.Before(res[j].Date)
	})
	return res, nil
}

func (hg *Hgmo) Resolve(ctx context.Context, branch, rev string) (*Build, error) {
	push, err := hg.pushFor(ctx, branch, rev, false)
	if err != nil {
		return nil, err
	}
	return push.build(branch), nil
}

func (hg *Hgmo) Range(ctx context.Context, branch, good, bad string) ([]*Build, error) {
	first, err := hg.Resolve(ctx, branch, good)
	if err != nil {
		return nil, err
	}
	args := url.Values{}
	args.Set("fromchange", good)
	args.Set("tochange", bad)
	pushes, err := hg.pushes(ctx, branch, args)
	if err != nil {
		return nil, err
	}
	res := []*Build{first}
	for _, push := range pushes {
		if push.ID > first.PushID {
			res = append(res, push.build(branch))
		}
	}
	if len(res) < 2 {
		return nil, fmt.Errorf("%v: no pushes between %v and %v", branch, ShortHash(good), ShortHash(bad))
	}
	return res, nil
}

var mergeRe = regexp.MustCompile(`(?i)^merge\s+(\S+)\s+to\s+(\S+)`)

func (hg *Hgmo) Merge(ctx context.Context, branch string, good, bad *Build) (*Merge, error) {
	push, err := hg.pushFor(ctx, branch, bad.Changeset, true)
	if err != nil {
		return nil, err
	}
	tip := push.Changesets[len(push.Changesets)-1]
	m := mergeRe.FindStringSubmatch(tip.Desc)
	if m == nil {
		return nil, nil
	}
	src := CanonicalBranch(m[1])
	if src == branch {
		return nil, nil
	}
	var srcBad string
	switch {
	case len(tip.Parents) == 2:
		srcBad = tip.Parents[1]
	case len(push.Changesets) > 1:
		srcBad = push.Changesets[len(push.Changesets)-2].Node
	default:
		return nil, nil
	}
	// The oldest merged changeset was pushed to the source branch right after
	// the source-side good state.
	oldest, err := hg.pushFor(ctx, src, push.Changesets[0].Node, false)
	if err != nil {
		return nil, err
	}
	if oldest.ID <= 1 {
		return nil, fmt.Errorf("%v: no push before %v", src, ShortHash(oldest.tip()))
	}
	args := url.Values{}
	args.Set("startID", strconv.Itoa(oldest.ID-2))
	args.Set("endID", strconv.Itoa(oldest.ID-1))
	prev, err := hg.pushes(ctx, src, args)
	if err != nil {
		return nil, err
	}
	if len(prev) == 0 {
		return nil, fmt.Errorf("%v: push %v not found", src, oldest.ID-1)
	}
	srcBadPush, err := hg.pushFor(ctx, src, srcBad, false)
	if err != nil {
		return nil, err
	}
	return &Merge{
		Branch: src,
		Good:   prev[len(prev)-1].tip(),
		Bad:    srcBadPush.tip(),
	}, nil
}

func (hg *Hgmo) pushFor(ctx context.Context, branch, rev string, full bool) (*hgPush, error) {
	args := url.Values{}
	args.Set("changeset", rev)
	if full {
		args.Set("full", "1")
	}
	pushes, err := hg.pushes(ctx, branch, args)
	if err != nil {
		return nil, err
	}
	if len(pushes) == 0 {
		return nil, fmt.Errorf("%v: changeset %v not found", branch, rev)
	}
	return pushes[len(pushes)-1], nil
}

// pushes queries json-pushes and returns non-empty pushes ordered by push id.
func (hg *Hgmo) pushes(ctx context.Context, branch string, args url.Values) ([]*hgPush, error) {
	args.Set("version", "2")
	queryURL := fmt.Sprintf("%v/%v/json-pushes?%v", hg.url, BranchPath(branch), args.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("http.NewRequest: %w", err)
	}
	res, err := hg.doer(req)
	if err != nil {
		return nil, fmt.Errorf("http.Get(%v): %w", queryURL, err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if res.StatusCode < 200 || res.StatusCode >= 300 || err != nil {
		return nil, fmt.Errorf("pushlog request %q failed: status(%v) err(%w) body(%.1024s)",
			queryURL, res.StatusCode, err, string(body))
	}
	return parsePushes(body, args.Get("full") != "")
}

func parsePushes(data []byte, full bool) ([]*hgPush, error) {
	var reply struct {
		Pushes map[string]struct {
			Changesets json.RawMessage `json:"changesets"`
			Date       int64           `json:"date"`
		} `json:"pushes"`
	}
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("json.Unmarshal: %w\n%.1024s", err, data)
	}
	var res []*hgPush
	for id, raw := range reply.Pushes {
		pushID, err := strconv.Atoi(id)
		if err != nil {
			return nil, fmt.Errorf("bad push id %q", id)
		}
		push := &hgPush{
			ID:   pushID,
			Date: time.Unix(raw.Date, 0).UTC(),
		}
		if full {
			if err := json.Unmarshal(raw.Changesets, &push.Changesets); err != nil {
				return nil, fmt.Errorf("push %v: %w", id, err)
			}
		} else {
			var nodes []string
			if err := json.Unmarshal(raw.Changesets, &nodes); err != nil {
				return nil, fmt.Errorf("push %v: %w", id, err)
			}
			for _, node := range nodes {
				push.Changesets = append(push.Changesets, hgChangeset{Node: node})
			}
		}
		if len(push.Changesets) != 0 {
			res = append(res, push)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].ID < res[j].ID
	})
	return res, nil
}
