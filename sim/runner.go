package sim

import (
	"fmt"
	"sync"
	"time"
)

// Exit codes reported by a run. Coverage shortfall is distinct from
// failure: the run was clean but did not exercise enough of the fault
// and invariant space to mean anything.
const (
	ExitOK                = 0
	ExitFailure           = 1
	ExitCoverageShortfall = 2
)

// RunnerConfig configures a multi-iteration run.
type RunnerConfig struct {
	Scenario   Scenario   `json:"scenario"`
	Seed       uint64     `json:"seed"`
	Iterations int        `json:"iterations"`
	Thresholds Thresholds `json:"thresholds"`

	// Parallelism is how many iterations run concurrently. Iterations
	// never share mutable state except the coverage accountant, so
	// parallelism cannot change any iteration's trace.
	Parallelism int `json:"parallelism"`

	// CheckDeterminism re-executes every iteration's seed and compares
	// the two traces.
	CheckDeterminism bool `json:"checkDeterminism"`

	// StopOnFirstViolation skips the remaining iterations once one fails.
	// A fatal violation always halts its own iteration regardless.
	StopOnFirstViolation bool `json:"stopOnFirstViolation"`
	KeepTrace            bool `json:"keepTrace"`

	// Watchdog bounds one iteration in real time; an iteration is a pure
	// computation, so exceeding it means a hang, not slowness. Zero
	// disables the watchdog.
	Watchdog time.Duration `json:"-"`

	LogEvent func(msg string) `json:"-"`

	// OnIteration, when set, is invoked as each iteration completes. It
	// may be called from multiple goroutines and must be safe for
	// concurrent use.
	OnIteration func(report IterationReport) `json:"-"`
}

// Validate checks the runner configuration.
func (c RunnerConfig) Validate() error {
	if err := c.Scenario.Validate(); err != nil {
		return err
	}
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if c.Iterations <= 0 {
		return ErrInvalidConfig("iterations must be positive, got %d", c.Iterations)
	}
	if c.Parallelism <= 0 {
		return ErrInvalidConfig("parallelism must be positive, got %d", c.Parallelism)
	}
	return nil
}

// DeterminismCheck is the outcome of replaying one seed.
type DeterminismCheck struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// IterationReport summarizes one iteration within a run.
type IterationReport struct {
	Iteration int    `json:"iteration"`
	Seed      uint64 `json:"seed"`

	Result      *RunResult        `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	Skipped     bool              `json:"skipped,omitempty"`
	Determinism *DeterminismCheck `json:"determinism,omitempty"`
}

// Failed reports whether this iteration counts against the run.
func (r IterationReport) Failed() bool {
	if r.Error != "" {
		return true
	}
	if r.Result != nil && r.Result.Failed {
		return true
	}
	if r.Determinism != nil && !r.Determinism.OK {
		return true
	}
	return false
}

// Report is the aggregate outcome of a run.
type Report struct {
	Scenario   string `json:"scenario"`
	BaseSeed   uint64 `json:"baseSeed"`
	Iterations int    `json:"iterations"`

	IterationReports []IterationReport `json:"iterationReports"`

	Coverage            CoverageReport      `json:"coverage"`
	FaultCoverage       float64             `json:"faultCoverage"`
	InvariantCoverage   float64             `json:"invariantCoverage"`
	CoverageViolations  []CoverageViolation `json:"coverageViolations,omitempty"`
	FailedIterations    int                 `json:"failedIterations"`
	DeterminismFailures int                 `json:"determinismFailures"`
	WallClock           string              `json:"wallClock"`

	ExitCode int `json:"exitCode"`
}

// Runner executes a batch of iterations over derived seeds and
// aggregates their coverage and outcomes.
type Runner struct {
	config     RunnerConfig
	accountant *Accountant
}

// NewRunner creates a runner from a validated configuration.
func NewRunner(config RunnerConfig) (*Runner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	registry := DefaultRegistry()
	enabled := make([]string, 0, len(config.Scenario.Faults))
	for _, p := range allFaultPoints() {
		if _, ok := config.Scenario.Faults[p.Name]; ok {
			enabled = append(enabled, p.Name)
		}
	}
	return &Runner{
		config:     config,
		accountant: NewAccountant(enabled, registry.Names()),
	}, nil
}

// IterationSeed derives the seed for iteration i. Wrapping addition
// keeps the mapping total over the uint64 space.
func (r *Runner) IterationSeed(i int) uint64 {
	return r.config.Seed + uint64(i)
}

// Run executes all iterations and returns the aggregate report.
func (r *Runner) Run() *Report {
	start := time.Now()
	reports := make([]IterationReport, r.config.Iterations)

	var wg sync.WaitGroup
	sem := make(chan struct{}, r.config.Parallelism)
	var stopMu sync.Mutex
	stopped := false

	shouldStop := func() bool {
		stopMu.Lock()
		defer stopMu.Unlock()
		return stopped
	}
	markStop := func() {
		stopMu.Lock()
		stopped = true
		stopMu.Unlock()
	}

	for i := 0; i < r.config.Iterations; i++ {
		if r.config.StopOnFirstViolation && shouldStop() {
			reports[i] = IterationReport{Iteration: i, Seed: r.IterationSeed(i), Skipped: true}
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			report := r.runIteration(i)
			if report.Failed() && r.config.StopOnFirstViolation {
				markStop()
			}
			reports[i] = report
			if r.config.OnIteration != nil {
				r.config.OnIteration(report)
			}
		}(i)
	}
	wg.Wait()

	return r.buildReport(reports, time.Since(start))
}

func (r *Runner) runIteration(i int) IterationReport {
	seed := r.IterationSeed(i)
	report := IterationReport{Iteration: i, Seed: seed}

	opts := RunOptions{
		KeepTrace: r.config.KeepTrace,
		LogEvent:  r.config.LogEvent,
	}
	result, err := r.runOnce(seed, opts)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	report.Result = result
	r.accountant.Merge(result.Coverage)

	if r.config.CheckDeterminism {
		report.Determinism = r.replayAndCompare(seed, result)
	}
	return report
}

// runOnce executes one iteration, under the watchdog when configured.
func (r *Runner) runOnce(seed uint64, opts RunOptions) (*RunResult, error) {
	run := func() (*RunResult, error) {
		cluster, err := NewCluster(r.config.Scenario, seed, opts)
		if err != nil {
			return nil, err
		}
		return cluster.Run()
	}
	if r.config.Watchdog <= 0 {
		return run()
	}

	type outcome struct {
		result *RunResult
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		result, err := run()
		ch <- outcome{result: result, err: err}
	}()
	select {
	case o := <-ch:
		return o.result, o.err
	case <-time.After(r.config.Watchdog):
		return nil, fmt.Errorf("watchdog: iteration with seed %d exceeded %s of real time", seed, r.config.Watchdog)
	}
}

// replayAndCompare re-executes a seed and diffs the two traces. Replay
// runs without logging or trace retention; neither feeds back into
// simulated state, so a mismatch is a real determinism defect.
func (r *Runner) replayAndCompare(seed uint64, first *RunResult) *DeterminismCheck {
	replay, err := r.runOnce(seed, RunOptions{})
	if err != nil {
		return &DeterminismCheck{Detail: ErrDeterminism("replay of seed %d failed: %v", seed, err).Error()}
	}
	if detail := diffResults(first, replay); detail != "" {
		return &DeterminismCheck{Detail: ErrDeterminism("seed %d: %s", seed, detail).Error()}
	}
	return &DeterminismCheck{OK: true}
}

func diffResults(a, b *RunResult) string {
	if a.TraceDigest != b.TraceDigest {
		return fmt.Sprintf("trace digest mismatch: %x vs %x", a.TraceDigest, b.TraceDigest)
	}
	if a.TraceEvents != b.TraceEvents {
		return fmt.Sprintf("trace event count mismatch: %d vs %d", a.TraceEvents, b.TraceEvents)
	}
	if a.EventsProcessed != b.EventsProcessed {
		return fmt.Sprintf("events processed mismatch: %d vs %d", a.EventsProcessed, b.EventsProcessed)
	}
	if a.FinalTime != b.FinalTime {
		return fmt.Sprintf("final time mismatch: %s vs %s", a.FinalTime, b.FinalTime)
	}
	for i := range a.DiskHashes {
		if a.DiskHashes[i] != b.DiskHashes[i] {
			return fmt.Sprintf("node %d disk state hash mismatch: %x vs %x", i, a.DiskHashes[i], b.DiskHashes[i])
		}
	}
	for i := range a.StateHashes {
		if a.StateHashes[i] != b.StateHashes[i] {
			return fmt.Sprintf("node %d state hash mismatch: %x vs %x", i, a.StateHashes[i], b.StateHashes[i])
		}
	}
	return ""
}

func (r *Runner) buildReport(reports []IterationReport, elapsed time.Duration) *Report {
	report := &Report{
		Scenario:         r.config.Scenario.Name,
		BaseSeed:         r.config.Seed,
		Iterations:       r.config.Iterations,
		IterationReports: reports,
		Coverage:         r.accountant.Report(),
		WallClock:        elapsed.String(),
	}
	report.FaultCoverage = r.accountant.FaultCoverage()
	report.InvariantCoverage = r.accountant.InvariantCoverage(r.config.Thresholds.RequireAllInvariants)

	for _, ir := range reports {
		if ir.Failed() {
			report.FailedIterations++
		}
		if ir.Determinism != nil && !ir.Determinism.OK {
			report.DeterminismFailures++
		}
	}

	report.CoverageViolations = ValidateCoverage(r.accountant, r.config.Thresholds)

	switch {
	case report.FailedIterations > 0:
		report.ExitCode = ExitFailure
	case len(report.CoverageViolations) > 0:
		report.ExitCode = ExitCoverageShortfall
	default:
		report.ExitCode = ExitOK
	}
	return report
}
