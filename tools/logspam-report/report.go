// Copyright 2026 logspam project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// logspam-report prints the most frequent warnings of a build,
// or the details of one warning if it is given.
// Usage:
//
//	logspam-report [flags] revision [warning]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/logspam/logspam/pkg/config"
	"github.com/logspam/logspam/pkg/evidence"
	"github.com/logspam/logspam/pkg/report"
	"github.com/logspam/logspam/pkg/tool"
	"github.com/logspam/logspam/pkg/vcs"
)

var (
	flagConfig    = flag.String("config", "", "optional evidence config file (JSON or YAML), flags override it")
	flagRepo      = flag.String("repo", vcs.DefaultBranch, "repository the revision belongs to")
	flagPlatform  = flag.String("platform", "linux64", "platform to get logs for")
	flagWarningRe = flag.String("warning-re", "", "regexp used to match warning lines (default ^WARNING)")
	flagCacheDir  = flag.String("cache-dir", "", "directory to cache processed logs in")
	flagGCSCache  = flag.String("gcs-cache", "", "GCS bucket/dir to cache processed logs in")
	flagNoCache   = flag.Bool("no-cache", false, "refetch logs even if they are cached")
	flagCount     = flag.Int("warning-count", 40, "number of warnings to show in the summary")
	flagTests     = flag.Int("test-summary-count", 10, "number of tests to list in the warning details")
	flagReverse   = flag.Bool("reverse", false, "print the least common warnings instead")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: logspam-report [flags] revision [warning]\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 && flag.NArg() != 2 {
		flag.Usage()
		os.Exit(1)
	}
	cfg := evidence.DefaultConfig()
	if *flagConfig != "" {
		if err := config.LoadFile(*flagConfig, &cfg); err != nil {
			tool.Fail(err)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "warning-re":
			cfg.Pattern = *flagWarningRe
		case "cache-dir":
			cfg.CacheDir = *flagCacheDir
		case "gcs-cache":
			cfg.GCSCache = *flagGCSCache
		case "no-cache":
			cfg.NoCache = *flagNoCache
		}
	})
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, cfg, flag.Args())
	cancel()
	if err != nil {
		tool.Fail(err)
	}
}

func run(ctx context.Context, cfg evidence.Config, args []string) error {
	gatherer, closeCache, err := evidence.NewGatherer(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()
	repo := vcs.CanonicalBranch(*flagRepo)
	ev, err := gatherer.Gather(ctx, repo, args[0], *flagPlatform)
	if err != nil {
		return fmt.Errorf("failed to retrieve logs of %v %v: %w", repo, args[0], err)
	}
	rep, err := report.New(ev, cfg.Pattern)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		rep.WriteTop(os.Stdout, *flagCount, *flagReverse)
		return nil
	}
	details, err := rep.Details(args[1], *flagTests)
	if err != nil {
		return err
	}
	fmt.Print(details)
	return nil
}
