// Copyright 2026 logspam project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package bisect searches the build history for the push that made a warning exceed its limit.
//
// The search starts on nightly snapshots when both endpoints are dates, narrows the range
// to two adjacent snapshots, continues on individual pushes of the main branch and follows
// merges into the integration branch the regression came from.
package bisect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/logspam/logspam/pkg/evaluate"
	"github.com/logspam/logspam/pkg/vcs"
)

const (
	DefaultMaxSkips          = 5
	DefaultMaxMergeCrossings = 4
)

type Config struct {
	// Branch the endpoints belong to, defaults to vcs.DefaultBranch.
	Branch string
	// Good and Bad are either dates (2006-01-02) or changesets.
	Good string
	Bad  string
	// MaxSkips is the number of consecutive skipped builds after which the search gives up.
	MaxSkips int
	// MaxMergeCrossings bounds the number of followed merges.
	MaxMergeCrossings int
	// CheckEndpoints tests the endpoints before bisecting.
	CheckEndpoints bool
	Trace          io.Writer
}

func (cfg *Config) setDefaults() {
	if cfg.Branch == "" {
		cfg.Branch = vcs.DefaultBranch
	}
	if cfg.MaxSkips <= 0 {
		cfg.MaxSkips = DefaultMaxSkips
	}
	if cfg.MaxMergeCrossings <= 0 {
		cfg.MaxMergeCrossings = DefaultMaxMergeCrossings
	}
	if cfg.Trace == nil {
		cfg.Trace = io.Discard
	}
}

// Oracle tests a single build.
type Oracle interface {
	Test(ctx context.Context, build *vcs.Build) (*Verdict, error)
}

type Verdict struct {
	Result vcs.BisectResult
	// Total is the number of target warnings in the build.
	Total  int
	Reason string
	// LineMoves are warnings that differ from the target only in the line number,
	// but still exceed the limit.
	LineMoves []evaluate.LineMove
}

type Phase int

const (
	PhaseNightly Phase = iota
	PhaseInbound
	PhaseMergeCrossing
)

func (p Phase) String() string {
	switch p {
	case PhaseNightly:
		return "nightly"
	case PhaseInbound:
		return "inbound"
	case PhaseMergeCrossing:
		return "merge crossing"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

type Confidence int

const (
	// Both sides of the found pair have verdicts.
	ConfidenceHigh Confidence = iota
	// One side of the found pair is an endpoint that was never tested.
	ConfidenceMedium
	// The warning probably moved lines, or the search stopped at a merge it was not allowed to follow.
	ConfidenceLow
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceHigh:
		return "high"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceLow:
		return "low"
	}
	return fmt.Sprintf("Confidence(%d)", int(c))
}

type Tested struct {
	Build   *vcs.Build
	Phase   Phase
	Verdict *Verdict
}

type Result struct {
	ID string
	// Found is the first bad push, Good is the push right before it.
	Found  *vcs.Build
	Good   *vcs.Build
	Branch string
	// PossibleLineMove is set if the good build already has the warning on a different line.
	// The search should then be repeated with line numbers ignored.
	PossibleLineMove bool
	LineMoves        []evaluate.LineMove
	Confidence       Confidence
	Tested           []Tested
	Phases           []Phase
}

var (
	ErrAmbiguousEndpoint = errors.New("endpoint is neither a date nor a known changeset")
	ErrSearchExhausted   = errors.New("search exhausted")
	ErrInvertedRange     = errors.New("endpoints do not bracket the regression")
)

type AmbiguousEndpointError struct {
	Endpoint string
	Err      error
}

func (err *AmbiguousEndpointError) Error() string {
	if err.Err != nil {
		return fmt.Sprintf("%v: %q: %v", ErrAmbiguousEndpoint, err.Endpoint, err.Err)
	}
	return fmt.Sprintf("%v: %q", ErrAmbiguousEndpoint, err.Endpoint)
}

func (err *AmbiguousEndpointError) Is(target error) bool {
	return target == ErrAmbiguousEndpoint
}

func (err *AmbiguousEndpointError) Unwrap() error {
	return err.Err
}

// ExhaustedError means that the range between Good and Bad can't be narrowed further
// because the builds in between could not be tested.
type ExhaustedError struct {
	Phase  Phase
	Good   *vcs.Build
	Bad    *vcs.Build
	Reason string
}

func (err *ExhaustedError) Error() string {
	return fmt.Sprintf("%v: %v between %v and %v: %v", ErrSearchExhausted, err.Phase, err.Good, err.Bad, err.Reason)
}

func (err *ExhaustedError) Is(target error) bool {
	return target == ErrSearchExhausted
}

type env struct {
	cfg       *Config
	hist      vcs.History
	oracle    Oracle
	res       *Result
	verdicts  map[string]*Verdict
	crossings int
	// Set when the search stopped on a merge that was not followed.
	unfollowed bool
	testTime   time.Duration
}

// Run bisects the range between cfg.Good and cfg.Bad.
// On a non-convergent search the error is *ExhaustedError.
func Run(ctx context.Context, cfg *Config, hist vcs.History, oracle Oracle) (*Result, error) {
	cfg.setDefaults()
	env := &env{
		cfg:    cfg,
		hist:   hist,
		oracle: oracle,
		res: &Result{
			ID: uuid.New().String(),
		},
		verdicts: make(map[string]*Verdict),
	}
	env.log("bisection %v: searching for the first bad build between %v and %v", env.res.ID, cfg.Good, cfg.Bad)
	start := time.Now()
	res, err := env.bisect(ctx)
	env.log("builds tested: %v, total time: %v (testing: %v)", len(env.res.Tested),
		time.Since(start).Round(time.Second), env.testTime.Round(time.Second))
	if err != nil {
		env.log("error: %v", err)
		return nil, err
	}
	env.log("first bad build: %v (%v), confidence %v", res.Found, res.Found.Date.Format(time.RFC3339), res.Confidence)
	if res.PossibleLineMove {
		env.log("the warning may have moved lines before %v, consider ignoring line numbers", res.Good)
	}
	return res, nil
}

func (env *env) bisect(ctx context.Context) (*Result, error) {
	st, err := env.initialStrategy(ctx)
	if err != nil {
		return nil, err
	}
	var good, bad *vcs.Build
	for st != nil {
		env.res.Phases = append(env.res.Phases, st.phase())
		builds, err := st.candidates(ctx, env)
		if err != nil {
			return nil, err
		}
		if len(builds) < 2 {
			return nil, fmt.Errorf("%v: range has %v builds", st.phase(), len(builds))
		}
		lo, hi, exhausted, err := env.search(ctx, st.phase(), builds)
		if err != nil {
			return nil, err
		}
		good, bad = builds[lo], builds[hi]
		if st, err = st.next(ctx, env, good, bad, exhausted); err != nil {
			return nil, err
		}
	}
	return env.converged(ctx, good, bad)
}

func (env *env) initialStrategy(ctx context.Context) (strategy, error) {
	cfg := env.cfg
	goodDate, goodIsDate := vcs.ParseDate(cfg.Good)
	badDate, badIsDate := vcs.ParseDate(cfg.Bad)
	if goodIsDate && badIsDate {
		if !goodDate.Before(badDate) {
			return nil, fmt.Errorf("%w: good date %v is not before bad date %v", ErrInvertedRange, cfg.Good, cfg.Bad)
		}
		return &nightly{from: goodDate, to: badDate}, nil
	}
	good, err := env.resolveEndpoint(ctx, cfg.Good)
	if err != nil {
		return nil, err
	}
	bad, err := env.resolveEndpoint(ctx, cfg.Bad)
	if err != nil {
		return nil, err
	}
	return &inbound{branch: cfg.Branch, good: good.Changeset, bad: bad.Changeset}, nil
}

func (env *env) resolveEndpoint(ctx context.Context, endpoint string) (*vcs.Build, error) {
	rev := endpoint
	if date, ok := vcs.ParseDate(endpoint); ok {
		snapshot, err := env.hist.Snapshot(ctx, date)
		if err != nil {
			return nil, &AmbiguousEndpointError{Endpoint: endpoint, Err: err}
		}
		rev = snapshot.Changeset
	} else if !vcs.CheckChangeset(endpoint) {
		return nil, &AmbiguousEndpointError{Endpoint: endpoint}
	}
	build, err := env.hist.Resolve(ctx, env.cfg.Branch, rev)
	if err != nil {
		return nil, &AmbiguousEndpointError{Endpoint: endpoint, Err: err}
	}
	return build, nil
}

// search narrows builds (first is good, last is bad) to two adjacent builds that have verdicts,
// or to a range whose interior builds were all skipped (exhausted is set then).
func (env *env) search(ctx context.Context, phase Phase, builds []*vcs.Build) (lo, hi int, exhausted bool, err error) {
	lo, hi = 0, len(builds)-1
	env.log("%v: bisecting %v builds between %v and %v", phase, len(builds)-2, builds[lo], builds[hi])
	if env.cfg.CheckEndpoints {
		if err := env.checkEndpoints(ctx, phase, builds[lo], builds[hi]); err != nil {
			return 0, 0, false, err
		}
	}
	skipped := make(map[int]bool)
	skips := 0
	for hi-lo > 1 {
		idx := pick(lo, hi, skipped)
		if idx == -1 {
			env.log("%v: all %v builds between %v and %v were skipped", phase, hi-lo-1, builds[lo], builds[hi])
			return lo, hi, true, nil
		}
		v, err := env.test(ctx, phase, builds[idx])
		if err != nil {
			return 0, 0, false, err
		}
		switch v.Result {
		case vcs.BisectGood:
			lo, skips = idx, 0
		case vcs.BisectBad:
			hi, skips = idx, 0
		default:
			skipped[idx] = true
			if skips++; skips > env.cfg.MaxSkips {
				return 0, 0, false, &ExhaustedError{
					Phase:  phase,
					Good:   builds[lo],
					Bad:    builds[hi],
					Reason: fmt.Sprintf("%v builds in a row were skipped", skips),
				}
			}
		}
	}
	return lo, hi, false, nil
}

// pick returns the midpoint of (lo, hi), or the untested build closest to it.
// On equal distance the earlier build wins. Returns -1 if all builds were skipped.
func pick(lo, hi int, skipped map[int]bool) int {
	mid := lo + (hi-lo)/2
	for d := 0; mid-d > lo || mid+d < hi; d++ {
		if idx := mid - d; idx > lo && !skipped[idx] {
			return idx
		}
		if idx := mid + d; idx < hi && !skipped[idx] {
			return idx
		}
	}
	return -1
}

func (env *env) checkEndpoints(ctx context.Context, phase Phase, good, bad *vcs.Build) error {
	v, err := env.test(ctx, phase, good)
	if err != nil {
		return err
	}
	if v.Result == vcs.BisectBad {
		return fmt.Errorf("%w: good build %v is bad", ErrInvertedRange, good)
	}
	if v, err = env.test(ctx, phase, bad); err != nil {
		return err
	}
	if v.Result == vcs.BisectGood {
		return fmt.Errorf("%w: bad build %v is good", ErrInvertedRange, bad)
	}
	return nil
}

// test returns the verdict for the build, every changeset is tested once.
func (env *env) test(ctx context.Context, phase Phase, build *vcs.Build) (*Verdict, error) {
	if v := env.verdicts[build.Changeset]; v != nil {
		return v, nil
	}
	env.log("testing %v", build)
	start := time.Now()
	v, err := env.oracle.Test(ctx, build)
	env.testTime += time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("failed to test %v: %w", build, err)
	}
	if v.Reason != "" {
		env.log("%v: %v (%v)", build, v.Result, v.Reason)
	} else {
		env.log("%v: %v (%v warnings)", build, v.Result, v.Total)
	}
	env.verdicts[build.Changeset] = v
	env.res.Tested = append(env.res.Tested, Tested{
		Build:   build,
		Phase:   phase,
		Verdict: v,
	})
	return v, nil
}

func (env *env) converged(ctx context.Context, good, bad *vcs.Build) (*Result, error) {
	res := env.res
	res.Found, res.Good, res.Branch = bad, good, bad.Branch
	badTested := env.verdicts[bad.Changeset] != nil
	// The good side is needed for the line move check anyway.
	v, err := env.test(ctx, res.Phases[len(res.Phases)-1], good)
	if err != nil {
		return nil, err
	}
	if v.Result == vcs.BisectBad {
		return nil, fmt.Errorf("%w: good build %v is bad", ErrInvertedRange, good)
	}
	if v.Result == vcs.BisectSkip || !badTested {
		res.Confidence = ConfidenceMedium
	}
	if env.unfollowed {
		res.Confidence = ConfidenceLow
	}
	if len(v.LineMoves) != 0 {
		res.PossibleLineMove = true
		res.LineMoves = v.LineMoves
		res.Confidence = ConfidenceLow
		for _, move := range v.LineMoves {
			env.log("possible line move: %v %v", move.Count, move.Diff)
		}
	}
	return res, nil
}

func (env *env) log(msg string, args ...any) {
	fmt.Fprintf(env.cfg.Trace, msg+"\n", args...)
}
