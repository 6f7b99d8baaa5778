package sim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func harnessContext(h *replicaHarness, model *Model) *CheckContext {
	ctx := &CheckContext{Primary: 0, Model: model, Space: TenantSpace{Tenants: 4, KeysPerTenant: 1024}}
	for _, r := range h.replicas {
		ctx.Nodes = append(ctx.Nodes, NodeInfo{ID: r.ID(), Running: true, SUT: r})
	}
	return ctx
}

func TestCommitMonotonicDetectsRegression(t *testing.T) {
	h := newReplicaHarness(t, 3)
	h.write(0, 1, 5, 0, nil)
	inv := NewCommitMonotonic()
	ctx := harnessContext(h, NewModel())

	exercised, err := inv.Check(ctx)
	require.NoError(t, err)
	require.False(t, exercised, "first observation establishes the baseline")

	exercised, err = inv.Check(ctx)
	require.NoError(t, err)
	require.True(t, exercised)

	// Force a regression on the primary.
	h.replicas[0].commitIndex = 0
	_, err = inv.Check(ctx)
	require.Error(t, err)
}

func TestCommitMonotonicAllowsRestartReset(t *testing.T) {
	h := newReplicaHarness(t, 3)
	h.write(0, 1, 5, 0, nil)
	inv := NewCommitMonotonic()
	ctx := harnessContext(h, NewModel())

	_, err := inv.Check(ctx)
	require.NoError(t, err)

	// A restart legitimately rebuilds commit knowledge from zero.
	h.replicas[1].commitIndex = 0
	ctx.Nodes[1].Incarnation = 1
	_, err = inv.Check(ctx)
	require.NoError(t, err, "a new incarnation starts a fresh baseline")
}

func TestPrefixConsistencyDetectsDivergence(t *testing.T) {
	h := newReplicaHarness(t, 3)
	h.write(0, 1, 5, 0, nil)
	inv := NewPrefixConsistency()
	ctx := harnessContext(h, NewModel())

	exercised, err := inv.Check(ctx)
	require.NoError(t, err)
	require.True(t, exercised)

	// Replace backup 1's entry with a different one at the same index.
	h.replicas[1].log[0] = NewEntry(0, 1, 999, 0)
	_, err = inv.Check(ctx)
	require.Error(t, err)
}

func TestPrefixConsistencyIgnoresCrashedNodes(t *testing.T) {
	h := newReplicaHarness(t, 3)
	h.write(0, 1, 5, 0, nil)
	h.replicas[1].log[0] = NewEntry(0, 1, 999, 0)

	ctx := harnessContext(h, NewModel())
	ctx.Nodes[1].Running = false

	_, err := NewPrefixConsistency().Check(ctx)
	require.NoError(t, err, "a crashed node's log is not compared")
}

func TestCommittedDurableDetectsLostEntry(t *testing.T) {
	h := newReplicaHarness(t, 3)
	model := NewModel()
	h.write(0, 1, 5, 0, nil)
	model.RecordCommitted(h.replicas[0].TakeCommitted())
	inv := NewCommittedDurable()
	ctx := harnessContext(h, model)

	exercised, err := inv.Check(ctx)
	require.NoError(t, err)
	require.True(t, exercised)

	t.Run("altered entry", func(t *testing.T) {
		saved := h.replicas[0].log[0]
		h.replicas[0].log[0] = NewEntry(0, 1, 999, 0)
		_, err := inv.Check(ctx)
		require.Error(t, err)
		h.replicas[0].log[0] = saved
	})

	t.Run("truncated log", func(t *testing.T) {
		h.replicas[0].log = h.replicas[0].log[:0]
		_, err := inv.Check(ctx)
		require.Error(t, err)
	})
}

func TestCommittedDurableNotExercisedBeforeFirstCommit(t *testing.T) {
	h := newReplicaHarness(t, 3)
	exercised, err := NewCommittedDurable().Check(harnessContext(h, NewModel()))
	require.NoError(t, err)
	require.False(t, exercised)
}

func TestTenantIsolationScanObservation(t *testing.T) {
	space := TenantSpace{Tenants: 4, KeysPerTenant: 1024}
	inv := NewTenantIsolation()

	inv.ObserveScan(space, 1, 0, []Entry{NewEntry(1, 1030, 5, 0)})
	h := newReplicaHarness(t, 3)
	_, err := inv.Check(harnessContext(h, NewModel()))
	require.NoError(t, err)

	t.Run("cross-tenant leak", func(t *testing.T) {
		inv := NewTenantIsolation()
		inv.ObserveScan(space, 1, 0, []Entry{NewEntry(2, 2050, 5, 0)})
		_, err := inv.Check(harnessContext(h, NewModel()))
		require.Error(t, err)
	})

	t.Run("key outside tenant range", func(t *testing.T) {
		inv := NewTenantIsolation()
		inv.ObserveScan(space, 1, 0, []Entry{NewEntry(1, 5000, 5, 0)})
		_, err := inv.Check(harnessContext(h, NewModel()))
		require.Error(t, err)
	})
}

func TestTenantIsolationLogSweep(t *testing.T) {
	h := newReplicaHarness(t, 3)
	// Key 2000 belongs to tenant 1 in a 1024-wide layout, not tenant 0.
	h.write(0, 2000, 5, 0, nil)
	_, err := NewTenantIsolation().Check(harnessContext(h, NewModel()))
	require.Error(t, err)
}

func TestReadYourWritesObservation(t *testing.T) {
	inv := NewReadYourWrites()
	h := newReplicaHarness(t, 3)
	ctx := harnessContext(h, NewModel())

	exercised, err := inv.Check(ctx)
	require.NoError(t, err)
	require.False(t, exercised, "no reads observed yet")

	op := ClientOp{Kind: OpRead, Tenant: 1, Key: 10}
	inv.ObserveRead(op, 5, true, 5, true)
	exercised, err = inv.Check(ctx)
	require.NoError(t, err)
	require.True(t, exercised)

	inv.ObserveRead(op, 6, true, 5, true)
	_, err = inv.Check(ctx)
	require.Error(t, err)

	t.Run("missing value", func(t *testing.T) {
		inv := NewReadYourWrites()
		inv.ObserveRead(op, 0, false, 5, true)
		_, err := inv.Check(ctx)
		require.Error(t, err)
	})
}

func TestLogIntegrityAuditsFinalState(t *testing.T) {
	h := newReplicaHarness(t, 3)
	h.write(0, 1, 5, 0, nil)
	inv := NewLogIntegrity()
	ctx := harnessContext(h, NewModel())

	exercised, err := inv.Check(ctx)
	require.NoError(t, err)
	require.True(t, exercised)

	// Flip a field without recomputing the checksum.
	h.replicas[1].log[0].Value = 999
	_, err = inv.Check(ctx)
	require.Error(t, err)
}

func TestRegistryRecordsCoverageAndSeverity(t *testing.T) {
	h := newReplicaHarness(t, 3)
	h.write(0, 1, 5, 0, nil)
	model := NewModel()
	model.RecordCommitted(h.replicas[0].TakeCommitted())

	registry := DefaultRegistry()
	coverage := NewIterationCoverage(nil, registry.Names())
	ctx := harnessContext(h, model)

	violations := registry.Check(CadenceCheckpoint, ctx, coverage)
	require.Empty(t, violations)
	require.Equal(t, InvariantVerified, coverage.Invariants["replica-prefix-consistency"])
	require.Equal(t, InvariantVerified, coverage.Invariants["committed-writes-durable"])
	require.Equal(t, InvariantNeverExercised, coverage.Invariants["read-your-writes"],
		"every-event invariants do not run at checkpoint cadence")

	// Break the primary's log and re-check.
	h.replicas[0].log[0] = NewEntry(0, 1, 999, 0)
	violations = registry.Check(CadenceCheckpoint, ctx, coverage)
	require.NotEmpty(t, violations)
	for _, v := range violations {
		require.Equal(t, SeverityFatal, v.Severity)
	}
	require.Equal(t, InvariantViolated, coverage.Invariants[violations[0].Name])
}
