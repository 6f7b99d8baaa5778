package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/kimberlitedb/kimberlite-sub009/sim"
)

func main() {
	// Parse command line flags
	seed := flag.Uint64("seed", 0, "Base seed; iteration i runs with seed+i")
	iterations := flag.Int("iterations", 1, "Number of iterations to run")
	scenarioName := flag.String("scenario", "baseline", "Built-in scenario name")
	scenarioFile := flag.String("scenario-file", "", "Path to a YAML scenario override file (takes precedence over -scenario)")
	checkDeterminism := flag.Bool("check-determinism", false, "Re-execute every seed and compare traces")
	minFaultCoverage := flag.Float64("min-fault-coverage", 0, "Minimum fraction of enabled fault points that must trigger")
	minInvariantCoverage := flag.Float64("min-invariant-coverage", 0, "Minimum fraction of invariants that must be exercised")
	requireAllInvariants := flag.Bool("require-all-invariants", false, "Fail coverage if any invariant was never exercised")
	stopOnFirst := flag.Bool("stop-on-first-violation", false, "Stop the run at the first failing iteration")
	parallelism := flag.Int("parallelism", runtime.NumCPU(), "Concurrent iterations")
	keepTrace := flag.Bool("trace", false, "Retain full event traces in the output (memory heavy)")
	outputFile := flag.String("output", "", "Path to output JSON file (optional, prints to stdout if not specified)")
	watchdogSec := flag.Int("watchdog", 300, "Real-time limit per iteration in seconds (0 disables)")
	verbose := flag.Bool("verbose", false, "Enable verbose event logging to stderr")
	flag.Parse()

	scenario, err := loadScenario(*scenarioName, *scenarioFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading scenario: %v\n", err)
		os.Exit(1)
	}

	config := sim.RunnerConfig{
		Scenario:   scenario,
		Seed:       *seed,
		Iterations: *iterations,
		Thresholds: sim.Thresholds{
			MinFaultCoverage:     *minFaultCoverage,
			MinInvariantCoverage: *minInvariantCoverage,
			RequireAllInvariants: *requireAllInvariants,
		},
		Parallelism:          *parallelism,
		CheckDeterminism:     *checkDeterminism,
		StopOnFirstViolation: *stopOnFirst,
		KeepTrace:            *keepTrace,
		Watchdog:             time.Duration(*watchdogSec) * time.Second,
	}
	if *verbose {
		config.LogEvent = func(msg string) {
			fmt.Fprintf(os.Stderr, "[SIM] %s\n", msg)
		}
	}

	runner, err := sim.NewRunner(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "Running scenario %q: %d iteration(s) from seed %d...\n",
		scenario.Name, *iterations, *seed)
	startTime := time.Now()
	report := runner.Run()
	fmt.Fprintf(os.Stderr, "Run completed in %v\n", time.Since(startTime))

	printSummary(report)

	output, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling report: %v\n", err)
		os.Exit(1)
	}
	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, output, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output file: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Report written to %s\n", *outputFile)
	} else {
		fmt.Println(string(output))
	}

	os.Exit(report.ExitCode)
}

func loadScenario(name, file string) (sim.Scenario, error) {
	if file != "" {
		return sim.LoadScenarioFile(file)
	}
	return sim.ScenarioByName(name)
}

func printSummary(report *sim.Report) {
	fmt.Fprintf(os.Stderr, "  fault coverage:     %.1f%%\n", report.FaultCoverage*100)
	fmt.Fprintf(os.Stderr, "  invariant coverage: %.1f%%\n", report.InvariantCoverage*100)
	fmt.Fprintf(os.Stderr, "  failed iterations:  %d/%d\n", report.FailedIterations, report.Iterations)

	for _, ir := range report.IterationReports {
		if !ir.Failed() {
			continue
		}
		if ir.Error != "" {
			fmt.Fprintf(os.Stderr, "  iteration %d (seed %d): %s\n", ir.Iteration, ir.Seed, ir.Error)
			continue
		}
		if ir.Determinism != nil && !ir.Determinism.OK {
			fmt.Fprintf(os.Stderr, "  iteration %d (seed %d): determinism failure: %s\n", ir.Iteration, ir.Seed, ir.Determinism.Detail)
		}
		if ir.Result != nil {
			for _, v := range ir.Result.Violations {
				fmt.Fprintf(os.Stderr, "  iteration %d (seed %d): %s\n", ir.Iteration, ir.Seed, v)
			}
		}
	}
	for _, cv := range report.CoverageViolations {
		fmt.Fprintf(os.Stderr, "  coverage: %s\n", cv.Detail)
	}
	fmt.Fprintf(os.Stderr, "  exit code: %d\n", report.ExitCode)
}
