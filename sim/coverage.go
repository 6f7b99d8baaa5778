package sim

import (
	"fmt"
	"sort"
	"sync"
)

// InvariantOutcome is the per-invariant coverage state.
type InvariantOutcome int

const (
	InvariantNeverExercised InvariantOutcome = iota
	InvariantVerified
	InvariantViolated
)

func (o InvariantOutcome) String() string {
	switch o {
	case InvariantNeverExercised:
		return "never-exercised"
	case InvariantVerified:
		return "verified"
	case InvariantViolated:
		return "violated"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the outcome as its string form.
func (o InvariantOutcome) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", o.String())), nil
}

// IterationCoverage tracks fault triggers and invariant outcomes within a
// single iteration. It is owned exclusively by that iteration; the
// Accountant merges it into cumulative totals once the iteration ends.
type IterationCoverage struct {
	FaultTriggers map[string]uint64           `json:"faultTriggers"`
	Invariants    map[string]InvariantOutcome `json:"invariants"`
}

// NewIterationCoverage pre-seeds the maps with every enabled fault point
// and registered invariant so never-triggered and never-exercised entries
// appear explicitly in reports.
func NewIterationCoverage(faultPoints []string, invariants []string) *IterationCoverage {
	c := &IterationCoverage{
		FaultTriggers: make(map[string]uint64, len(faultPoints)),
		Invariants:    make(map[string]InvariantOutcome, len(invariants)),
	}
	for _, p := range faultPoints {
		c.FaultTriggers[p] = 0
	}
	for _, inv := range invariants {
		c.Invariants[inv] = InvariantNeverExercised
	}
	return c
}

// RecordFault increments the trigger count for a fault point.
func (c *IterationCoverage) RecordFault(point string) {
	c.FaultTriggers[point]++
}

// RecordInvariant records an invariant evaluation. A violation is sticky:
// later clean evaluations never downgrade it back to verified.
func (c *IterationCoverage) RecordInvariant(name string, violated bool) {
	if violated {
		c.Invariants[name] = InvariantViolated
		return
	}
	if c.Invariants[name] == InvariantNeverExercised {
		c.Invariants[name] = InvariantVerified
	}
}

// Accountant accumulates coverage across all iterations of a run. It is
// the only mutable state shared between parallel iterations; updates
// happen at one accumulation point per completed iteration, under the
// mutex, so aggregation order cannot affect the totals.
type Accountant struct {
	mu            sync.Mutex
	faultTriggers map[string]uint64
	invariants    map[string]InvariantOutcome
	iterations    uint64
}

// NewAccountant creates an accountant pre-seeded with the scenario's
// enabled fault points and registered invariants.
func NewAccountant(faultPoints []string, invariants []string) *Accountant {
	a := &Accountant{
		faultTriggers: make(map[string]uint64, len(faultPoints)),
		invariants:    make(map[string]InvariantOutcome, len(invariants)),
	}
	for _, p := range faultPoints {
		a.faultTriggers[p] = 0
	}
	for _, inv := range invariants {
		a.invariants[inv] = InvariantNeverExercised
	}
	return a
}

// Merge folds one completed iteration's coverage into the cumulative
// totals.
func (a *Accountant) Merge(c *IterationCoverage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.iterations++
	for point, n := range c.FaultTriggers {
		a.faultTriggers[point] += n
	}
	for name, outcome := range c.Invariants {
		switch outcome {
		case InvariantViolated:
			a.invariants[name] = InvariantViolated
		case InvariantVerified:
			if a.invariants[name] == InvariantNeverExercised {
				a.invariants[name] = InvariantVerified
			}
		}
	}
}

// FaultCoverage returns the fraction of enabled fault points triggered at
// least once, in [0, 1]. A scenario with no enabled fault points has full
// coverage by definition.
func (a *Accountant) FaultCoverage() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.faultTriggers) == 0 {
		return 1.0
	}
	triggered := 0
	for _, n := range a.faultTriggers {
		if n > 0 {
			triggered++
		}
	}
	return float64(triggered) / float64(len(a.faultTriggers))
}

// InvariantCoverage returns the fraction of registered invariants
// exercised at least once. With requireAll, only invariants verified
// without any violation count.
func (a *Accountant) InvariantCoverage(requireAll bool) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.invariants) == 0 {
		return 1.0
	}
	covered := 0
	for _, outcome := range a.invariants {
		switch outcome {
		case InvariantVerified:
			covered++
		case InvariantViolated:
			if !requireAll {
				covered++
			}
		}
	}
	return float64(covered) / float64(len(a.invariants))
}

// Report returns a copy of the cumulative coverage state.
func (a *Accountant) Report() CoverageReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := CoverageReport{
		Iterations:    a.iterations,
		FaultTriggers: make(map[string]uint64, len(a.faultTriggers)),
		Invariants:    make(map[string]InvariantOutcome, len(a.invariants)),
	}
	for k, v := range a.faultTriggers {
		r.FaultTriggers[k] = v
	}
	for k, v := range a.invariants {
		r.Invariants[k] = v
	}
	return r
}

// CoverageReport is the cumulative coverage across a run.
type CoverageReport struct {
	Iterations    uint64                      `json:"iterations"`
	FaultTriggers map[string]uint64           `json:"faultTriggers"`
	Invariants    map[string]InvariantOutcome `json:"invariants"`
}

// Thresholds are the pass/fail coverage requirements for a run.
type Thresholds struct {
	MinFaultCoverage     float64 `json:"minFaultCoverage" yaml:"minFaultCoverage"`
	MinInvariantCoverage float64 `json:"minInvariantCoverage" yaml:"minInvariantCoverage"`
	RequireAllInvariants bool    `json:"requireAllInvariants" yaml:"requireAllInvariants"`
}

// Validate rejects unsatisfiable thresholds at startup.
func (t Thresholds) Validate() error {
	if t.MinFaultCoverage < 0 || t.MinFaultCoverage > 1 {
		return ErrInvalidConfig("minFaultCoverage %.2f outside [0, 1]", t.MinFaultCoverage)
	}
	if t.MinInvariantCoverage < 0 || t.MinInvariantCoverage > 1 {
		return ErrInvalidConfig("minInvariantCoverage %.2f outside [0, 1]", t.MinInvariantCoverage)
	}
	return nil
}

// CoverageViolationKind distinguishes which threshold was missed.
type CoverageViolationKind int

const (
	ViolationFaultCoverage CoverageViolationKind = iota
	ViolationInvariantCoverage
	ViolationInvariantNeverExercised
)

func (k CoverageViolationKind) String() string {
	switch k {
	case ViolationFaultCoverage:
		return "fault-coverage"
	case ViolationInvariantCoverage:
		return "invariant-coverage"
	case ViolationInvariantNeverExercised:
		return "invariant-never-exercised"
	default:
		return "unknown"
	}
}

// CoverageViolation describes one missed threshold.
type CoverageViolation struct {
	Kind   CoverageViolationKind `json:"kind"`
	Detail string                `json:"detail"`
}

// ValidateCoverage compares measured coverage against thresholds.
// Violations here are a coverage shortfall, not a functional failure:
// the run "ran clean but under-covered".
func ValidateCoverage(a *Accountant, t Thresholds) []CoverageViolation {
	var violations []CoverageViolation

	fc := a.FaultCoverage()
	if fc < t.MinFaultCoverage {
		violations = append(violations, CoverageViolation{
			Kind:   ViolationFaultCoverage,
			Detail: fmt.Sprintf("fault coverage %.1f%% below minimum %.1f%%", fc*100, t.MinFaultCoverage*100),
		})
	}

	ic := a.InvariantCoverage(t.RequireAllInvariants)
	if ic < t.MinInvariantCoverage {
		violations = append(violations, CoverageViolation{
			Kind:   ViolationInvariantCoverage,
			Detail: fmt.Sprintf("invariant coverage %.1f%% below minimum %.1f%%", ic*100, t.MinInvariantCoverage*100),
		})
	}

	if t.RequireAllInvariants {
		report := a.Report()
		names := make([]string, 0, len(report.Invariants))
		for name := range report.Invariants {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if report.Invariants[name] == InvariantNeverExercised {
				violations = append(violations, CoverageViolation{
					Kind:   ViolationInvariantNeverExercised,
					Detail: fmt.Sprintf("invariant %q was never exercised", name),
				})
			}
		}
	}

	return violations
}
