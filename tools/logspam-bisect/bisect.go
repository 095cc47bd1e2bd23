// Copyright 2026 logspam project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// logspam-bisect finds the push that made a warning exceed the limit.
// Usage:
//
//	logspam-bisect [flags] good bad warning
//
// good and bad are either dates (2016-09-20) or changesets. If both are dates, the search
// starts on nightly snapshots, otherwise on pushes of the -branch.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/logspam/logspam/pkg/bisect"
	"github.com/logspam/logspam/pkg/config"
	"github.com/logspam/logspam/pkg/evaluate"
	"github.com/logspam/logspam/pkg/evidence"
	"github.com/logspam/logspam/pkg/log"
	"github.com/logspam/logspam/pkg/stat"
	"github.com/logspam/logspam/pkg/tool"
	"github.com/logspam/logspam/pkg/vcs"
)

var (
	flagConfig       = flag.String("config", "", "optional config file (JSON or YAML), flags override it")
	flagBranch       = flag.String("branch", vcs.DefaultBranch, "branch the changeset endpoints belong to")
	flagPlatform     = flag.String("platform", "linux64", "platform to get logs for")
	flagWarningRe    = flag.String("warning-re", "", "regexp used to match warning lines (default ^WARNING)")
	flagIgnoreLines  = flag.Bool("ignore-lines", false, "ignore line numbers when counting the warning")
	flagLimit        = flag.Int("warning-limit", evaluate.DefaultLimit, "number of warnings above which a build is bad")
	flagRequiredTest = flag.String("required-test", "", "test that must be present to use a build")
	flagMinJobs      = flag.Int("min-jobs", evaluate.DefaultMinJobs, "minimal number of jobs to use a build")
	flagCacheDir     = flag.String("cache-dir", "", "directory to cache processed logs in")
	flagGCSCache     = flag.String("gcs-cache", "", "GCS bucket/dir to cache processed logs in")
	flagNoCache      = flag.Bool("no-cache", false, "refetch logs even if they are cached")
	flagCheck        = flag.Bool("check-endpoints", false, "test the endpoints before bisecting")
	flagHTTP         = flag.String("http", "", "address to serve metrics on")
)

type Config struct {
	Branch            string          `json:"branch" yaml:"branch"`
	Platform          string          `json:"platform" yaml:"platform"`
	HgURL             string          `json:"hg_url" yaml:"hg_url"`
	Evidence          evidence.Config `json:"evidence" yaml:"evidence"`
	Eval              evaluate.Config `json:"eval" yaml:"eval"`
	MaxSkips          int             `json:"max_skips" yaml:"max_skips"`
	MaxMergeCrossings int             `json:"max_merge_crossings" yaml:"max_merge_crossings"`
	CheckEndpoints    bool            `json:"check_endpoints" yaml:"check_endpoints"`
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: logspam-bisect [flags] good bad warning\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 3 {
		flag.Usage()
		os.Exit(1)
	}
	cfg, err := loadConfig()
	if err != nil {
		tool.Fail(err)
	}
	if *flagHTTP != "" {
		tool.ServeHTTP(*flagHTTP)
	}
	log.EnableLogCaching(1000, 1<<20)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	res, err := run(ctx, cfg, flag.Arg(0), flag.Arg(1), flag.Arg(2))
	cancel()
	tool.PrintStats(os.Stderr, stat.Console)
	var exhausted *bisect.ExhaustedError
	switch {
	case errors.As(err, &exhausted):
		tool.Failf("could not narrow the range further than %v..%v: %v",
			exhausted.Good, exhausted.Bad, exhausted.Reason)
	case errors.Is(err, bisect.ErrAmbiguousEndpoint):
		tool.Fail(err)
	case err != nil:
		fmt.Fprintf(os.Stderr, "recent log:\n%v", log.CachedLogOutput())
		tool.Failf("bisection failed: %v", err)
	}
	printResult(res)
}

func loadConfig() (*Config, error) {
	cfg := &Config{
		Platform: "linux64",
		Branch:   vcs.DefaultBranch,
		HgURL:    vcs.DefaultHgmoURL,
		Evidence: evidence.DefaultConfig(),
		Eval:     evaluate.DefaultConfig(),
	}
	if *flagConfig != "" {
		if err := config.LoadFile(*flagConfig, cfg); err != nil {
			return nil, err
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "branch":
			cfg.Branch = *flagBranch
		case "platform":
			cfg.Platform = *flagPlatform
		case "warning-re":
			cfg.Evidence.Pattern = *flagWarningRe
		case "ignore-lines":
			cfg.Eval.IgnoreLineNumbers = *flagIgnoreLines
		case "warning-limit":
			cfg.Eval.Limit = *flagLimit
		case "required-test":
			cfg.Eval.RequiredTest = *flagRequiredTest
		case "min-jobs":
			cfg.Eval.MinJobs = *flagMinJobs
		case "cache-dir":
			cfg.Evidence.CacheDir = *flagCacheDir
		case "gcs-cache":
			cfg.Evidence.GCSCache = *flagGCSCache
		case "no-cache":
			cfg.Evidence.NoCache = *flagNoCache
		case "check-endpoints":
			cfg.CheckEndpoints = *flagCheck
		}
	})
	cfg.Branch = vcs.CanonicalBranch(cfg.Branch)
	return cfg, nil
}

func run(ctx context.Context, cfg *Config, good, bad, warning string) (*bisect.Result, error) {
	gatherer, closeCache, err := evidence.NewGatherer(ctx, cfg.Evidence)
	if err != nil {
		return nil, err
	}
	defer closeCache()
	evaluator := evaluate.NewEvaluator(cfg.Eval, log.VerboseWriter(0))
	oracle := bisect.NewOracle(gatherer, evaluator, cfg.Platform, warning)
	return bisect.Run(ctx, &bisect.Config{
		Branch:            cfg.Branch,
		Good:              good,
		Bad:               bad,
		MaxSkips:          cfg.MaxSkips,
		MaxMergeCrossings: cfg.MaxMergeCrossings,
		CheckEndpoints:    cfg.CheckEndpoints,
		Trace:             log.VerboseWriter(0),
	}, vcs.NewHgmo(cfg.HgURL), oracle)
}

func printResult(res *bisect.Result) {
	fmt.Printf("first bad push:  %v %v (%v)\n", res.Branch, res.Found.Changeset,
		res.Found.Date.Format(time.RFC3339))
	fmt.Printf("last good push:  %v %v\n", res.Good.Branch, res.Good.Changeset)
	fmt.Printf("confidence:      %v\n", res.Confidence)
	fmt.Printf("builds tested:   %v\n", len(res.Tested))
	if res.PossibleLineMove {
		fmt.Printf("\nthe warning possibly moved lines, it was already present in the good push:\n")
		for _, move := range res.LineMoves {
			fmt.Printf("  %6d %v\n", move.Count, move.Diff)
		}
		fmt.Printf("consider bisecting again with -ignore-lines starting from %v\n",
			res.Good.Date.Format(vcs.DateFormat))
	}
}
