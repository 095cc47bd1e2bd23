// Copyright 2026 logspam project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package bisect

import (
	"context"
	"fmt"

	"github.com/logspam/logspam/pkg/evaluate"
	"github.com/logspam/logspam/pkg/evidence"
	"github.com/logspam/logspam/pkg/log"
	"github.com/logspam/logspam/pkg/vcs"
)

// evidenceOracle tests builds by gathering their job logs and evaluating them.
type evidenceOracle struct {
	gatherer  *evidence.Gatherer
	evaluator *evaluate.Evaluator
	platform  string
	target    string
}

func NewOracle(gatherer *evidence.Gatherer, evaluator *evaluate.Evaluator, platform, target string) Oracle {
	return &evidenceOracle{
		gatherer:  gatherer,
		evaluator: evaluator,
		platform:  platform,
		target:    target,
	}
}

// Test never fails because of missing evidence, such builds are skipped.
func (o *evidenceOracle) Test(ctx context.Context, build *vcs.Build) (*Verdict, error) {
	ev, err := o.gatherer.Gather(ctx, build.Branch, build.Changeset, o.platform)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Logf(0, "failed to gather evidence for %v: %v", build, err)
		return &Verdict{
			Result: vcs.BisectSkip,
			Reason: fmt.Sprintf("no evidence: %v", err),
		}, nil
	}
	res := o.evaluator.Evaluate(ev, o.target)
	v := &Verdict{
		Result: res.Verdict,
		Total:  res.Total,
		Reason: res.Reason,
	}
	cfg := o.evaluator.Config()
	if res.Verdict != vcs.BisectSkip && !cfg.IgnoreLineNumbers {
		v.LineMoves = evaluate.LineMoves(ev, o.target, cfg.Limit)
	}
	return v, nil
}
