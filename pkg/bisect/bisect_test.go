// Copyright 2026 logspam project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package bisect

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/logspam/logspam/pkg/evaluate"
	"github.com/logspam/logspam/pkg/vcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testOracle says a push is bad starting from the given push id on every branch.
type testOracle struct {
	t        *testing.T
	firstBad map[string]int
	skip     map[string]map[int]bool
	// moves marks good builds that have the warning on another line.
	moves bool
	calls []*vcs.Build
}

func (o *testOracle) Test(ctx context.Context, build *vcs.Build) (*Verdict, error) {
	for _, prev := range o.calls {
		if prev.Changeset == build.Changeset {
			o.t.Errorf("%v tested twice", build)
		}
	}
	o.calls = append(o.calls, build)
	if o.skip[build.Branch][build.PushID] {
		return &Verdict{Result: vcs.BisectSkip, Reason: "not enough tests run"}, nil
	}
	firstBad, ok := o.firstBad[build.Branch]
	if !ok {
		o.t.Fatalf("unexpected branch %v", build.Branch)
	}
	if build.PushID >= firstBad {
		return &Verdict{Result: vcs.BisectBad, Total: 2000}, nil
	}
	v := &Verdict{Result: vcs.BisectGood, Total: 10}
	if o.moves {
		v.LineMoves = []evaluate.LineMove{{Text: "WARNING: x, line 2", Count: 2000}}
	}
	return v, nil
}

func pushIDs(tested []Tested) []int {
	var res []int
	for _, t := range tested {
		res = append(res, t.Build.PushID)
	}
	return res
}

var testStart = time.Date(2016, 9, 1, 0, 0, 0, 0, time.UTC)

func linearHistory(pushes int) *vcs.TestHistory {
	hist := vcs.NewTestHistory()
	for i := 0; i < pushes; i++ {
		hist.AddPush(vcs.DefaultBranch, testStart.Add(time.Duration(i)*time.Hour))
	}
	return hist
}

func TestNightlyToInbound(t *testing.T) {
	hist := vcs.NewTestHistory()
	hist.AddDays(vcs.DefaultBranch, testStart, 8, 3)
	oracle := &testOracle{t: t, firstBad: map[string]int{vcs.DefaultBranch: 8}}
	trace := new(bytes.Buffer)
	cfg := &Config{
		Good:  "2016-09-01",
		Bad:   "2016-09-08",
		Trace: trace,
	}
	res, err := Run(context.Background(), cfg, hist, oracle)
	require.NoError(t, err, trace.String())
	assert.Equal(t, hist.Push(vcs.DefaultBranch, 8), res.Found)
	assert.Equal(t, hist.Push(vcs.DefaultBranch, 7), res.Good)
	assert.Equal(t, vcs.DefaultBranch, res.Branch)
	assert.Equal(t, []Phase{PhaseNightly, PhaseInbound}, res.Phases)
	// Midpoints of nightlies 4, 2, 3 are bad, good, bad.
	assert.Equal(t, []int{12, 6, 9, 7, 8}, pushIDs(res.Tested))
	for _, tested := range res.Tested[:3] {
		assert.Equal(t, PhaseNightly, tested.Phase)
		assert.True(t, tested.Build.Nightly)
	}
	assert.Equal(t, ConfidenceHigh, res.Confidence)
	assert.False(t, res.PossibleLineMove)
	assert.NotEmpty(t, res.ID)
	assert.Contains(t, trace.String(), "nightly range narrowed to 2016-09-02..2016-09-03")
}

func TestMergeCrossing(t *testing.T) {
	hist := linearHistory(10)
	for i := 0; i < 8; i++ {
		hist.AddPush("autoland", testStart.Add(time.Duration(i)*time.Minute))
	}
	hist.Merges[hist.Push(vcs.DefaultBranch, 6).Changeset] = &vcs.Merge{
		Branch: "autoland",
		Good:   vcs.TestChangeset("autoland", 3),
		Bad:    vcs.TestChangeset("autoland", 7),
	}
	oracle := &testOracle{t: t, firstBad: map[string]int{
		vcs.DefaultBranch: 6,
		"autoland":        5,
	}}
	cfg := &Config{
		Good: vcs.TestChangeset(vcs.DefaultBranch, 1),
		Bad:  vcs.TestChangeset(vcs.DefaultBranch, 10)[:12],
	}
	res, err := Run(context.Background(), cfg, hist, oracle)
	require.NoError(t, err)
	assert.Equal(t, hist.Push("autoland", 5), res.Found)
	assert.Equal(t, hist.Push("autoland", 4), res.Good)
	assert.Equal(t, "autoland", res.Branch)
	assert.Equal(t, []Phase{PhaseInbound, PhaseMergeCrossing, PhaseInbound}, res.Phases)
	assert.Equal(t, []int{5, 7, 6, 5, 4}, pushIDs(res.Tested))
	assert.Equal(t, ConfidenceHigh, res.Confidence)
}

func TestMergeCrossingLimit(t *testing.T) {
	hist := linearHistory(10)
	for i := 0; i < 8; i++ {
		hist.AddPush("autoland", testStart.Add(time.Duration(i)*time.Minute))
	}
	hist.Merges[hist.Push(vcs.DefaultBranch, 6).Changeset] = &vcs.Merge{
		Branch: "autoland",
		Good:   vcs.TestChangeset("autoland", 3),
		Bad:    vcs.TestChangeset("autoland", 7),
	}
	hist.Merges[hist.Push("autoland", 5).Changeset] = &vcs.Merge{
		Branch: "fx-team",
		Good:   vcs.TestChangeset("fx-team", 1),
		Bad:    vcs.TestChangeset("fx-team", 2),
	}
	oracle := &testOracle{t: t, firstBad: map[string]int{
		vcs.DefaultBranch: 6,
		"autoland":        5,
	}}
	cfg := &Config{
		Good:              vcs.TestChangeset(vcs.DefaultBranch, 1),
		Bad:               vcs.TestChangeset(vcs.DefaultBranch, 10),
		MaxMergeCrossings: 1,
	}
	res, err := Run(context.Background(), cfg, hist, oracle)
	require.NoError(t, err)
	assert.Equal(t, hist.Push("autoland", 5), res.Found)
	assert.Equal(t, ConfidenceLow, res.Confidence)
}

func TestSkipNeverMovesEndpoints(t *testing.T) {
	hist := linearHistory(10)
	oracle := &testOracle{
		t:        t,
		firstBad: map[string]int{vcs.DefaultBranch: 8},
		skip:     map[string]map[int]bool{vcs.DefaultBranch: {5: true}},
	}
	cfg := &Config{
		Good: vcs.TestChangeset(vcs.DefaultBranch, 1),
		Bad:  vcs.TestChangeset(vcs.DefaultBranch, 10),
	}
	res, err := Run(context.Background(), cfg, hist, oracle)
	require.NoError(t, err)
	// The skipped midpoint is replaced by the closest earlier push.
	assert.Equal(t, []int{5, 4, 7, 8}, pushIDs(res.Tested))
	assert.Equal(t, hist.Push(vcs.DefaultBranch, 8), res.Found)
	assert.Equal(t, hist.Push(vcs.DefaultBranch, 7), res.Good)
}

func TestExhaustedOnSkippedPush(t *testing.T) {
	hist := linearHistory(10)
	oracle := &testOracle{
		t:        t,
		firstBad: map[string]int{vcs.DefaultBranch: 6},
		skip:     map[string]map[int]bool{vcs.DefaultBranch: {5: true}},
	}
	cfg := &Config{
		Good: vcs.TestChangeset(vcs.DefaultBranch, 1),
		Bad:  vcs.TestChangeset(vcs.DefaultBranch, 10),
	}
	_, err := Run(context.Background(), cfg, hist, oracle)
	require.ErrorIs(t, err, ErrSearchExhausted)
	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	// The skipped push 5 is the only one between the last good and the last bad.
	assert.Equal(t, hist.Push(vcs.DefaultBranch, 4), exhausted.Good)
	assert.Equal(t, hist.Push(vcs.DefaultBranch, 6), exhausted.Bad)
	assert.Equal(t, PhaseInbound, exhausted.Phase)
	assert.Equal(t, []int{5, 4, 7, 6}, pushIDs(testedBuilds(oracle.calls)))
}

func testedBuilds(builds []*vcs.Build) []Tested {
	var res []Tested
	for _, b := range builds {
		res = append(res, Tested{Build: b})
	}
	return res
}

func TestExhaustedMaxSkips(t *testing.T) {
	hist := linearHistory(20)
	skip := make(map[int]bool)
	for i := 1; i <= 20; i++ {
		skip[i] = true
	}
	oracle := &testOracle{
		t:        t,
		firstBad: map[string]int{vcs.DefaultBranch: 8},
		skip:     map[string]map[int]bool{vcs.DefaultBranch: skip},
	}
	cfg := &Config{
		Good:     vcs.TestChangeset(vcs.DefaultBranch, 1),
		Bad:      vcs.TestChangeset(vcs.DefaultBranch, 20),
		MaxSkips: 3,
	}
	_, err := Run(context.Background(), cfg, hist, oracle)
	require.ErrorIs(t, err, ErrSearchExhausted)
	assert.Len(t, oracle.calls, 4)
	assert.Equal(t, []int{10, 9, 11, 8}, pushIDs(testedBuilds(oracle.calls)))
}

func TestNightlyAllSkipped(t *testing.T) {
	hist := vcs.NewTestHistory()
	hist.AddDays(vcs.DefaultBranch, testStart, 4, 2)
	oracle := &testOracle{
		t:        t,
		firstBad: map[string]int{vcs.DefaultBranch: 3},
		skip:     map[string]map[int]bool{vcs.DefaultBranch: {4: true, 6: true}},
	}
	cfg := &Config{
		Good: "2016-09-01",
		Bad:  "2016-09-04",
	}
	res, err := Run(context.Background(), cfg, hist, oracle)
	require.NoError(t, err)
	assert.Equal(t, []Phase{PhaseNightly, PhaseInbound}, res.Phases)
	assert.Equal(t, []int{4, 6, 5, 3, 2}, pushIDs(res.Tested))
	assert.Equal(t, hist.Push(vcs.DefaultBranch, 3), res.Found)
	assert.Equal(t, ConfidenceHigh, res.Confidence)
}

func TestMixedEndpoints(t *testing.T) {
	hist := vcs.NewTestHistory()
	hist.AddDays(vcs.DefaultBranch, testStart, 4, 2)
	oracle := &testOracle{t: t, firstBad: map[string]int{vcs.DefaultBranch: 5}}
	cfg := &Config{
		Good: "2016-09-01",
		Bad:  vcs.TestChangeset(vcs.DefaultBranch, 8),
	}
	res, err := Run(context.Background(), cfg, hist, oracle)
	require.NoError(t, err)
	assert.Equal(t, []Phase{PhaseInbound}, res.Phases)
	assert.Equal(t, hist.Push(vcs.DefaultBranch, 5), res.Found)
	assert.Equal(t, hist.Push(vcs.DefaultBranch, 4), res.Good)
}

func TestAmbiguousEndpoint(t *testing.T) {
	tests := []struct {
		good, bad string
		endpoint  string
	}{
		{"last week", vcs.TestChangeset(vcs.DefaultBranch, 8), "last week"},
		{vcs.TestChangeset(vcs.DefaultBranch, 1), "ffffffffffff", "ffffffffffff"},
		{vcs.TestChangeset(vcs.DefaultBranch, 1), "tip", "tip"},
		{"2015-01-01", vcs.TestChangeset(vcs.DefaultBranch, 8), "2015-01-01"},
	}
	for _, test := range tests {
		hist := vcs.NewTestHistory()
		hist.AddDays(vcs.DefaultBranch, testStart, 4, 2)
		oracle := &testOracle{t: t, firstBad: map[string]int{vcs.DefaultBranch: 5}}
		cfg := &Config{
			Good: test.good,
			Bad:  test.bad,
		}
		_, err := Run(context.Background(), cfg, hist, oracle)
		require.ErrorIs(t, err, ErrAmbiguousEndpoint)
		var ambiguous *AmbiguousEndpointError
		require.True(t, errors.As(err, &ambiguous))
		assert.Equal(t, test.endpoint, ambiguous.Endpoint)
		assert.Empty(t, oracle.calls, "nothing must be tested before endpoints are resolved")
	}
}

func TestCheckEndpoints(t *testing.T) {
	hist := linearHistory(10)
	oracle := &testOracle{t: t, firstBad: map[string]int{vcs.DefaultBranch: 1}}
	cfg := &Config{
		Good:           vcs.TestChangeset(vcs.DefaultBranch, 1),
		Bad:            vcs.TestChangeset(vcs.DefaultBranch, 10),
		CheckEndpoints: true,
	}
	_, err := Run(context.Background(), cfg, hist, oracle)
	require.ErrorIs(t, err, ErrInvertedRange)
	assert.Len(t, oracle.calls, 1)

	_, err = Run(context.Background(), &Config{Good: "2016-09-05", Bad: "2016-09-01"}, hist, oracle)
	require.ErrorIs(t, err, ErrInvertedRange)
}

func TestPossibleLineMove(t *testing.T) {
	hist := linearHistory(10)
	oracle := &testOracle{
		t:        t,
		firstBad: map[string]int{vcs.DefaultBranch: 4},
		moves:    true,
	}
	cfg := &Config{
		Good: vcs.TestChangeset(vcs.DefaultBranch, 1),
		Bad:  vcs.TestChangeset(vcs.DefaultBranch, 10),
	}
	res, err := Run(context.Background(), cfg, hist, oracle)
	require.NoError(t, err)
	assert.Equal(t, hist.Push(vcs.DefaultBranch, 4), res.Found)
	assert.True(t, res.PossibleLineMove)
	assert.Equal(t, ConfidenceLow, res.Confidence)
	want := []evaluate.LineMove{{Text: "WARNING: x, line 2", Count: 2000}}
	if diff := cmp.Diff(want, res.LineMoves); diff != "" {
		t.Fatal(diff)
	}
}

func TestUntestedEndpoint(t *testing.T) {
	hist := linearHistory(4)
	oracle := &testOracle{t: t, firstBad: map[string]int{vcs.DefaultBranch: 4}}
	cfg := &Config{
		Good: vcs.TestChangeset(vcs.DefaultBranch, 1),
		Bad:  vcs.TestChangeset(vcs.DefaultBranch, 4),
	}
	res, err := Run(context.Background(), cfg, hist, oracle)
	require.NoError(t, err)
	// Pushes 2 and 3 are good, the bad endpoint is never tested.
	assert.Equal(t, []int{2, 3}, pushIDs(res.Tested))
	assert.Equal(t, hist.Push(vcs.DefaultBranch, 4), res.Found)
	assert.Equal(t, ConfidenceMedium, res.Confidence)
}

func TestPick(t *testing.T) {
	tests := []struct {
		lo, hi  int
		skipped []int
		want    int
	}{
		{0, 2, nil, 1},
		{0, 3, nil, 1},
		{0, 4, nil, 2},
		{0, 9, nil, 4},
		{0, 9, []int{4}, 3},
		{0, 9, []int{3, 4}, 5},
		{0, 9, []int{1, 2, 3, 4, 5, 6, 7}, 8},
		{0, 9, []int{1, 2, 3, 4, 5, 6, 7, 8}, -1},
		{3, 5, []int{4}, -1},
	}
	for _, test := range tests {
		skipped := make(map[int]bool)
		for _, idx := range test.skipped {
			skipped[idx] = true
		}
		assert.Equal(t, test.want, pick(test.lo, test.hi, skipped), "%+v", test)
	}
}
