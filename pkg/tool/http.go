// Copyright 2026 logspam project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package tool

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/logspam/logspam/pkg/log"
	"github.com/logspam/logspam/pkg/stat"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServeHTTP exports metrics on /metrics (Prometheus) and /stats (plain text) in background.
func ServeHTTP(addr string) {
	http.Handle("/", handlers.CompressHandler(StatsHandler()))
	http.Handle("/metrics", handlers.CompressHandler(
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})))
	log.Logf(0, "serving http on http://%v", addr)
	go func() {
		err := http.ListenAndServe(addr, nil)
		if err != nil {
			log.Fatalf("failed to listen on %v: %v", addr, err)
		}
	}()
}

func StatsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		PrintStats(w, stat.All)
	})
}

// PrintStats writes the current value of all metrics at the given level.
func PrintStats(w io.Writer, level stat.Level) {
	for _, s := range stat.Collect(level) {
		fmt.Fprintf(w, "%-24v: %v\n", s.Name, s.Value)
	}
}
