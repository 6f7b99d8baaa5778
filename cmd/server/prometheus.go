package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kimberlitedb/kimberlite-sub009/sim"
)

var (
	// Prometheus metrics (gauges)
	promMetrics = struct {
		iterationsDone    prometheus.Gauge
		iterationsFailed  prometheus.Gauge
		faultCoverage     prometheus.Gauge
		invariantCoverage prometheus.Gauge
		eventsProcessed   prometheus.Gauge
		virtualSeconds    prometheus.Gauge
		running           prometheus.Gauge
	}{
		iterationsDone: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vopr_iterations_completed",
			Help: "Iterations completed in the current run",
		}),
		iterationsFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vopr_iterations_failed",
			Help: "Iterations failed in the current run",
		}),
		faultCoverage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vopr_fault_coverage",
			Help: "Fraction of enabled fault points triggered at least once",
		}),
		invariantCoverage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vopr_invariant_coverage",
			Help: "Fraction of invariants exercised at least once",
		}),
		eventsProcessed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vopr_events_processed_last",
			Help: "Events processed by the most recent iteration",
		}),
		virtualSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vopr_virtual_seconds_last",
			Help: "Virtual seconds simulated by the most recent iteration",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vopr_run_active",
			Help: "Run state (0=idle, 1=running)",
		}),
	}
)

func initPrometheusMetrics() {
	prometheus.MustRegister(
		promMetrics.iterationsDone,
		promMetrics.iterationsFailed,
		promMetrics.faultCoverage,
		promMetrics.invariantCoverage,
		promMetrics.eventsProcessed,
		promMetrics.virtualSeconds,
		promMetrics.running,
	)
	http.Handle("/metrics", promhttp.Handler())
}

func updateIterationMetrics(ir sim.IterationReport, done, failed int) {
	promMetrics.iterationsDone.Set(float64(done))
	promMetrics.iterationsFailed.Set(float64(failed))
	if ir.Result != nil {
		promMetrics.eventsProcessed.Set(float64(ir.Result.EventsProcessed))
		promMetrics.virtualSeconds.Set(ir.Result.FinalTime.Seconds())
	}
}

func updateRunMetrics(report *sim.Report) {
	promMetrics.faultCoverage.Set(report.FaultCoverage)
	promMetrics.invariantCoverage.Set(report.InvariantCoverage)
	promMetrics.iterationsDone.Set(float64(report.Iterations))
	promMetrics.iterationsFailed.Set(float64(report.FailedIterations))
}
