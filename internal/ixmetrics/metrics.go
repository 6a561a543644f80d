// Package ixmetrics registers the Prometheus gauges the Runner and
// sources update, served behind the setPrometheusPort config option
// (spec.md §6). Grounded on the teacher's zk/metrics/metrics_xlayer.go
// gauge-per-concern style.
package ixmetrics

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const prefix = "indexer_"

// lastCommitted mirrors CommittedHeight for /healthz, since a prometheus
// Gauge does not expose its current value for reading back out.
var lastCommitted atomic.Uint64

var (
	CommittedHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: prefix + "committed_height",
		Help: "last block height committed to the store",
	})

	ChainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: prefix + "chain_height",
		Help: "chain head height as last reported by the active source",
	})

	BatchFetchSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: prefix + "batch_fetch_seconds",
		Help: "latency of fetching one batch from a source",
	}, []string{"source"})

	HandlerSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: prefix + "handler_seconds",
		Help: "latency of one handler invocation",
	})

	ReorgTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "reorg_total",
		Help: "number of detected chain reorganizations",
	})

	Phase = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: prefix + "phase",
		Help: "1 if the runner is currently in this phase, 0 otherwise",
	}, []string{"phase"})
)

// Register wires every gauge/histogram/counter into the default registry,
// the way zk/metrics.Init does for the sequencer's metrics.
func Register() {
	prometheus.MustRegister(CommittedHeight, ChainHeight, BatchFetchSeconds, HandlerSeconds, ReorgTotal, Phase)
}

// Serve starts the Prometheus HTTP endpoint on addr, alongside a minimal
// /healthz reporting the last committed height; callers run it in its own
// goroutine (spec.md §6 setPrometheusPort).
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok committed_height=%d\n", lastCommitted.Load())
	})
	return http.ListenAndServe(addr, mux)
}

// SetCommittedHeight updates both the Prometheus gauge and the /healthz
// snapshot.
func SetCommittedHeight(height uint64) {
	CommittedHeight.Set(float64(height))
	lastCommitted.Store(height)
}

// SetPhase flips the named phase gauge on and every other known phase off,
// grounded on the Runner's single-active-state machine (spec.md §4.6).
func SetPhase(active string) {
	for _, p := range []string{"init", "archive", "hot", "reorg"} {
		v := 0.0
		if p == active {
			v = 1.0
		}
		Phase.WithLabelValues(p).Set(v)
	}
}
