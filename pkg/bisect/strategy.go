// Copyright 2026 logspam project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package bisect

import (
	"context"
	"fmt"
	"time"

	"github.com/logspam/logspam/pkg/vcs"
)

// strategy is one phase of the search.
type strategy interface {
	phase() Phase
	// candidates returns the builds of the phase ordered from the oldest,
	// the first one is good and the last one is bad.
	candidates(ctx context.Context, env *env) ([]*vcs.Build, error)
	// next returns the phase that continues from the narrowed range, nil means converged.
	// exhausted is set if the range could not be narrowed to adjacent builds.
	next(ctx context.Context, env *env, good, bad *vcs.Build, exhausted bool) (strategy, error)
}

// nightly bisects daily snapshots of the main branch.
type nightly struct {
	from time.Time
	to   time.Time
}

func (st *nightly) phase() Phase {
	return PhaseNightly
}

func (st *nightly) candidates(ctx context.Context, env *env) ([]*vcs.Build, error) {
	good, err := env.hist.Snapshot(ctx, st.from)
	if err != nil {
		return nil, &AmbiguousEndpointError{Endpoint: st.from.Format(vcs.DateFormat), Err: err}
	}
	bad, err := env.hist.Snapshot(ctx, st.to)
	if err != nil {
		return nil, &AmbiguousEndpointError{Endpoint: st.to.Format(vcs.DateFormat), Err: err}
	}
	if vcs.SameChangeset(good.Changeset, bad.Changeset) {
		return nil, fmt.Errorf("%w: %v and %v have the same snapshot %v", ErrInvertedRange,
			st.from.Format(vcs.DateFormat), st.to.Format(vcs.DateFormat), vcs.ShortHash(good.Changeset))
	}
	snapshots, err := env.hist.Snapshots(ctx, st.from, st.to)
	if err != nil {
		return nil, err
	}
	builds := []*vcs.Build{good}
	for _, b := range snapshots {
		if b.Date.After(good.Date) && b.Date.Before(bad.Date) {
			builds = append(builds, b)
		}
	}
	return append(builds, bad), nil
}

func (st *nightly) next(ctx context.Context, env *env, good, bad *vcs.Build, exhausted bool) (strategy, error) {
	// Snapshots can't identify a single push, so the search always continues on pushes.
	// If all snapshots in between were skipped, the pushes of the whole range are searched.
	env.log("nightly range narrowed to %v..%v", good.Date.Format(vcs.DateFormat), bad.Date.Format(vcs.DateFormat))
	return &inbound{branch: good.Branch, good: good.Changeset, bad: bad.Changeset}, nil
}

// inbound bisects individual pushes of one branch.
type inbound struct {
	branch string
	good   string
	bad    string
}

func (st *inbound) phase() Phase {
	return PhaseInbound
}

func (st *inbound) candidates(ctx context.Context, env *env) ([]*vcs.Build, error) {
	return env.hist.Range(ctx, st.branch, st.good, st.bad)
}

func (st *inbound) next(ctx context.Context, env *env, good, bad *vcs.Build, exhausted bool) (strategy, error) {
	if exhausted {
		return nil, &ExhaustedError{
			Phase:  PhaseInbound,
			Good:   good,
			Bad:    bad,
			Reason: "all builds in between were skipped",
		}
	}
	merge, err := env.hist.Merge(ctx, st.branch, good, bad)
	if err != nil {
		return nil, fmt.Errorf("failed to check %v for merges: %w", bad, err)
	}
	if merge == nil {
		return nil, nil
	}
	if env.crossings >= env.cfg.MaxMergeCrossings {
		env.log("%v merges %v, not following it after %v merges", bad, merge.Branch, env.crossings)
		env.unfollowed = true
		return nil, nil
	}
	env.crossings++
	env.log("%v merges %v %v..%v", bad, merge.Branch, vcs.ShortHash(merge.Good), vcs.ShortHash(merge.Bad))
	return &mergeCrossing{merge: merge}, nil
}

// mergeCrossing switches the search to the branch a merge came from.
type mergeCrossing struct {
	merge *vcs.Merge
}

func (st *mergeCrossing) phase() Phase {
	return PhaseMergeCrossing
}

func (st *mergeCrossing) candidates(ctx context.Context, env *env) ([]*vcs.Build, error) {
	good, err := env.hist.Resolve(ctx, st.merge.Branch, st.merge.Good)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve merge source: %w", err)
	}
	bad, err := env.hist.Resolve(ctx, st.merge.Branch, st.merge.Bad)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve merge source: %w", err)
	}
	return []*vcs.Build{good, bad}, nil
}

func (st *mergeCrossing) next(ctx context.Context, env *env, good, bad *vcs.Build, exhausted bool) (strategy, error) {
	return &inbound{branch: st.merge.Branch, good: good.Changeset, bad: bad.Changeset}, nil
}
