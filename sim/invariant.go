package sim

import "fmt"

// Severity classifies what a violated invariant means for the run.
type Severity int

const (
	// SeverityFatal violations fail the iteration.
	SeverityFatal Severity = iota
	// SeverityAdvisory violations are recorded but do not fail the run.
	SeverityAdvisory
)

func (s Severity) String() string {
	switch s {
	case SeverityFatal:
		return "fatal"
	case SeverityAdvisory:
		return "advisory"
	default:
		return "unknown"
	}
}

// Cadence is how often an invariant is evaluated.
type Cadence int

const (
	CadenceEveryEvent Cadence = iota
	CadenceCheckpoint
	CadenceEndOfRun
)

func (c Cadence) String() string {
	switch c {
	case CadenceEveryEvent:
		return "every-event"
	case CadenceCheckpoint:
		return "checkpoint"
	case CadenceEndOfRun:
		return "end-of-run"
	default:
		return "unknown"
	}
}

// NodeInfo is one node's externally visible state, as the checkers see
// it. Checkers only look through the SystemUnderTest surface.
type NodeInfo struct {
	ID          NodeID
	Running     bool
	Incarnation int
	SUT         SystemUnderTest
}

// CheckContext is the snapshot of cluster state handed to invariant
// checkers.
type CheckContext struct {
	Now     VirtualTime
	Primary NodeID
	Nodes   []NodeInfo
	Model   *Model
	Space   TenantSpace
}

// Invariant is one safety or liveness property checked against the
// running cluster. Check returns whether the property was actually
// exercised this evaluation and an error describing the violation, if
// any.
type Invariant interface {
	Name() string
	Severity() Severity
	Cadence() Cadence
	Check(ctx *CheckContext) (exercised bool, err error)
}

// InvariantViolation is one recorded violation.
type InvariantViolation struct {
	Name     string      `json:"name"`
	Severity Severity    `json:"-"`
	Sev      string      `json:"severity"`
	Time     VirtualTime `json:"timeNs"`
	Detail   string      `json:"detail"`
}

func (v InvariantViolation) String() string {
	return fmt.Sprintf("[%s] %s at %s: %s", v.Sev, v.Name, v.Time, v.Detail)
}

// Registry holds the invariants registered for a run, in registration
// order.
type Registry struct {
	invariants []Invariant
}

// NewRegistry builds a registry. Registration order is fixed for the
// life of the run so evaluation order is deterministic.
func NewRegistry(invariants ...Invariant) *Registry {
	return &Registry{invariants: invariants}
}

// DefaultRegistry registers the standard checker set.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewCommitMonotonic(),
		NewPrefixConsistency(),
		NewCommittedDurable(),
		NewTenantIsolation(),
		NewReadYourWrites(),
		NewLogIntegrity(),
	)
}

// Names returns the registered invariant names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.invariants))
	for i, inv := range r.invariants {
		names[i] = inv.Name()
	}
	return names
}

// Check evaluates every invariant registered at the cadence and returns
// the violations found. Outcomes are recorded into the iteration's
// coverage as a side effect.
func (r *Registry) Check(cadence Cadence, ctx *CheckContext, coverage *IterationCoverage) []InvariantViolation {
	var violations []InvariantViolation
	for _, inv := range r.invariants {
		if inv.Cadence() != cadence {
			continue
		}
		exercised, err := inv.Check(ctx)
		if err != nil {
			coverage.RecordInvariant(inv.Name(), true)
			violations = append(violations, InvariantViolation{
				Name:     inv.Name(),
				Severity: inv.Severity(),
				Sev:      inv.Severity().String(),
				Time:     ctx.Now,
				Detail:   err.Error(),
			})
			continue
		}
		if exercised {
			coverage.RecordInvariant(inv.Name(), false)
		}
	}
	return violations
}

// CommitMonotonic verifies that no node's commit index ever regresses
// within one incarnation. A restart begins a new incarnation; the commit
// index is rebuilt from the primary, so it may legitimately start lower.
type CommitMonotonic struct {
	last map[NodeID]commitObservation
}

type commitObservation struct {
	incarnation int
	commitIndex uint64
}

func NewCommitMonotonic() *CommitMonotonic {
	return &CommitMonotonic{last: make(map[NodeID]commitObservation)}
}

func (c *CommitMonotonic) Name() string       { return "commit-monotonic" }
func (c *CommitMonotonic) Severity() Severity { return SeverityFatal }
func (c *CommitMonotonic) Cadence() Cadence   { return CadenceEveryEvent }

func (c *CommitMonotonic) Check(ctx *CheckContext) (bool, error) {
	exercised := false
	for _, n := range ctx.Nodes {
		if !n.Running {
			continue
		}
		ci := n.SUT.CommitIndex()
		prev, seen := c.last[n.ID]
		c.last[n.ID] = commitObservation{incarnation: n.Incarnation, commitIndex: ci}
		if !seen || prev.incarnation != n.Incarnation {
			continue
		}
		exercised = true
		if ci < prev.commitIndex {
			return true, fmt.Errorf("node %d commit index regressed from %d to %d", n.ID, prev.commitIndex, ci)
		}
	}
	return exercised, nil
}

// PrefixConsistency verifies that all running nodes agree on the shared
// log prefix: entries at the same index have the same checksum.
type PrefixConsistency struct{}

func NewPrefixConsistency() *PrefixConsistency { return &PrefixConsistency{} }

func (p *PrefixConsistency) Name() string       { return "replica-prefix-consistency" }
func (p *PrefixConsistency) Severity() Severity { return SeverityFatal }
func (p *PrefixConsistency) Cadence() Cadence   { return CadenceCheckpoint }

func (p *PrefixConsistency) Check(ctx *CheckContext) (bool, error) {
	exercised := false
	var running []NodeInfo
	for _, n := range ctx.Nodes {
		if n.Running {
			running = append(running, n)
		}
	}
	for i := 0; i < len(running); i++ {
		for j := i + 1; j < len(running); j++ {
			a, b := running[i], running[j]
			min := a.SUT.LogLen()
			if l := b.SUT.LogLen(); l < min {
				min = l
			}
			if min > 0 {
				exercised = true
			}
			for idx := uint64(0); idx < min; idx++ {
				ea, _ := a.SUT.LogEntry(idx)
				eb, _ := b.SUT.LogEntry(idx)
				if ea.Checksum != eb.Checksum {
					return true, fmt.Errorf("nodes %d and %d diverge at log index %d (checksums %x vs %x)",
						a.ID, b.ID, idx, ea.Checksum, eb.Checksum)
				}
			}
		}
	}
	return exercised, nil
}

// CommittedDurable verifies that every entry the primary ever reported
// committed is still present, intact, at its position in the primary's
// log. The primary is never crashed by the fault plan, so a committed
// entry missing there is lost data, not replication lag.
type CommittedDurable struct{}

func NewCommittedDurable() *CommittedDurable { return &CommittedDurable{} }

func (c *CommittedDurable) Name() string       { return "committed-writes-durable" }
func (c *CommittedDurable) Severity() Severity { return SeverityFatal }
func (c *CommittedDurable) Cadence() Cadence   { return CadenceCheckpoint }

func (c *CommittedDurable) Check(ctx *CheckContext) (bool, error) {
	committed := ctx.Model.Committed()
	if len(committed) == 0 {
		return false, nil
	}
	var primary SystemUnderTest
	for _, n := range ctx.Nodes {
		if n.ID == ctx.Primary {
			primary = n.SUT
		}
	}
	if primary == nil {
		return false, nil
	}
	for i, want := range committed {
		got, ok := primary.LogEntry(uint64(i))
		if !ok {
			return true, fmt.Errorf("committed entry %d (seq=%d) missing from primary log", i, want.Seq)
		}
		if got.Checksum != want.Checksum {
			return true, fmt.Errorf("committed entry %d (seq=%d) altered in primary log", i, want.Seq)
		}
	}
	return true, nil
}

// TenantIsolation verifies that no entry is stored under a key outside
// its tenant's range, and that scans never leak entries across tenants.
// Scan results are observed inline as operations execute; the log sweep
// runs at checkpoints.
type TenantIsolation struct {
	scansObserved uint64
	scanViolation error
}

func NewTenantIsolation() *TenantIsolation { return &TenantIsolation{} }

func (t *TenantIsolation) Name() string       { return "tenant-isolation" }
func (t *TenantIsolation) Severity() Severity { return SeverityFatal }
func (t *TenantIsolation) Cadence() Cadence   { return CadenceCheckpoint }

// ObserveScan records one scan result for later evaluation.
func (t *TenantIsolation) ObserveScan(space TenantSpace, tenant TenantID, node NodeID, entries []Entry) {
	t.scansObserved++
	if t.scanViolation != nil {
		return
	}
	for _, e := range entries {
		if e.Tenant != tenant {
			t.scanViolation = fmt.Errorf("scan of tenant %d on node %d returned entry for tenant %d", tenant, node, e.Tenant)
			return
		}
		if !space.Owns(tenant, e.Key) {
			t.scanViolation = fmt.Errorf("scan of tenant %d on node %d returned key %d outside its range", tenant, node, e.Key)
			return
		}
	}
}

func (t *TenantIsolation) Check(ctx *CheckContext) (bool, error) {
	// A buffered scan violation is reported once, not on every check.
	if v := t.scanViolation; v != nil {
		t.scanViolation = nil
		return true, v
	}
	exercised := t.scansObserved > 0
	for _, n := range ctx.Nodes {
		if !n.Running {
			continue
		}
		for idx := uint64(0); idx < n.SUT.LogLen(); idx++ {
			e, _ := n.SUT.LogEntry(idx)
			exercised = true
			if !ctx.Space.Owns(e.Tenant, e.Key) {
				return true, fmt.Errorf("node %d log index %d stores key %d outside tenant %d range", n.ID, idx, e.Key, e.Tenant)
			}
		}
	}
	return exercised, nil
}

// ReadYourWrites verifies that a read at the primary observes the latest
// value the primary accepted for that key. Advisory because a read racing
// an in-flight rejected write is ambiguous at this layer; mismatches are
// reported without failing the run.
type ReadYourWrites struct {
	reads     uint64
	violation error
}

func NewReadYourWrites() *ReadYourWrites { return &ReadYourWrites{} }

func (r *ReadYourWrites) Name() string       { return "read-your-writes" }
func (r *ReadYourWrites) Severity() Severity { return SeverityAdvisory }
func (r *ReadYourWrites) Cadence() Cadence   { return CadenceEveryEvent }

// ObserveRead records one verified read.
func (r *ReadYourWrites) ObserveRead(op ClientOp, gotValue uint64, gotOK bool, wantValue uint64, wantOK bool) {
	r.reads++
	if r.violation != nil {
		return
	}
	if gotOK != wantOK {
		r.violation = fmt.Errorf("read of tenant %d key %d: found=%v, expected found=%v", op.Tenant, op.Key, gotOK, wantOK)
		return
	}
	if gotOK && gotValue != wantValue {
		r.violation = fmt.Errorf("read of tenant %d key %d returned %d, expected %d", op.Tenant, op.Key, gotValue, wantValue)
	}
}

func (r *ReadYourWrites) Check(ctx *CheckContext) (bool, error) {
	if v := r.violation; v != nil {
		r.violation = nil
		return true, v
	}
	return r.reads > 0, nil
}

// LogIntegrity audits every surviving log entry's checksum once the run
// settles. Entries are verified on ingest, so a mismatch here means node
// state was corrupted after append.
type LogIntegrity struct{}

func NewLogIntegrity() *LogIntegrity { return &LogIntegrity{} }

func (l *LogIntegrity) Name() string       { return "log-integrity" }
func (l *LogIntegrity) Severity() Severity { return SeverityFatal }
func (l *LogIntegrity) Cadence() Cadence   { return CadenceEndOfRun }

func (l *LogIntegrity) Check(ctx *CheckContext) (bool, error) {
	exercised := false
	for _, n := range ctx.Nodes {
		if !n.Running {
			continue
		}
		for idx := uint64(0); idx < n.SUT.LogLen(); idx++ {
			e, _ := n.SUT.LogEntry(idx)
			exercised = true
			if !e.Verify() {
				return true, fmt.Errorf("node %d log index %d fails its checksum", n.ID, idx)
			}
		}
	}
	return exercised, nil
}
