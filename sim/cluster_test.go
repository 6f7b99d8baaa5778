package sim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// shrunkScenario returns a catalog scenario cut down for test runtime.
func shrunkScenario(t *testing.T, name string) Scenario {
	t.Helper()
	s, err := ScenarioByName(name)
	require.NoError(t, err)
	s.Workload.TotalOps = 200
	s.Workload.OpsPerTick = 4
	s.MaxEvents = 500_000
	return s
}

func runScenario(t *testing.T, s Scenario, seed uint64, opts RunOptions) *RunResult {
	t.Helper()
	cluster, err := NewCluster(s, seed, opts)
	require.NoError(t, err)
	result, err := cluster.Run()
	require.NoError(t, err)
	return result
}

func TestClusterBaselineRunsClean(t *testing.T) {
	result := runScenario(t, shrunkScenario(t, "baseline"), 1, RunOptions{})

	require.False(t, result.Failed)
	require.Empty(t, result.Violations)
	require.True(t, result.Quiesced, "a fault-free run must converge")
	require.Equal(t, uint64(0), result.Network.Dropped)
	require.Positive(t, result.Ops.WritesAccepted)
	require.Positive(t, result.Ops.ReadsChecked)
	require.Positive(t, result.Ops.ScansChecked)

	// A converged cluster agrees on log and commit index, so every
	// node's state hash matches.
	for i := 1; i < len(result.StateHashes); i++ {
		require.Equal(t, result.StateHashes[0], result.StateHashes[i], "node %d diverged", i)
	}

	// Every invariant is exercised by a plain run.
	for name, outcome := range result.Coverage.Invariants {
		require.Equal(t, InvariantVerified, outcome, "invariant %s", name)
	}
}

func TestClusterSameSeedSameTrace(t *testing.T) {
	s := shrunkScenario(t, "combined")
	a := runScenario(t, s, 42, RunOptions{})
	b := runScenario(t, s, 42, RunOptions{})

	require.Equal(t, a.TraceDigest, b.TraceDigest)
	require.Equal(t, a.TraceEvents, b.TraceEvents)
	require.Equal(t, a.EventsProcessed, b.EventsProcessed)
	require.Equal(t, a.FinalTime, b.FinalTime)
	require.Equal(t, a.DiskHashes, b.DiskHashes)
	require.Equal(t, a.StateHashes, b.StateHashes)
	require.Equal(t, a.Network, b.Network)
}

func TestClusterDifferentSeedsDiverge(t *testing.T) {
	s := shrunkScenario(t, "network-faults")
	a := runScenario(t, s, 1, RunOptions{})
	b := runScenario(t, s, 2, RunOptions{})
	require.NotEqual(t, a.TraceDigest, b.TraceDigest)
}

func TestClusterObservabilityDoesNotPerturbTrace(t *testing.T) {
	s := shrunkScenario(t, "crash-restart")
	quiet := runScenario(t, s, 7, RunOptions{})

	logged := 0
	noisy := runScenario(t, s, 7, RunOptions{
		KeepTrace: true,
		LogEvent:  func(string) { logged++ },
	})

	require.Equal(t, quiet.TraceDigest, noisy.TraceDigest,
		"logging and trace retention must not feed back into the simulation")
	require.Len(t, noisy.Trace, int(noisy.TraceEvents))
	require.Nil(t, quiet.Trace)
}

func TestClusterNetworkFaultsRunClean(t *testing.T) {
	s := shrunkScenario(t, "network-faults")
	result := runScenario(t, s, 3, RunOptions{})

	require.False(t, result.Failed, "violations: %v", result.Violations)
	triggered := uint64(0)
	for _, n := range result.Coverage.FaultTriggers {
		triggered += n
	}
	require.Positive(t, triggered, "fault plan must actually fire")
}

func TestClusterDiskFaultsRunClean(t *testing.T) {
	s := shrunkScenario(t, "disk-faults")
	result := runScenario(t, s, 4, RunOptions{})
	require.False(t, result.Failed, "violations: %v", result.Violations)
	require.Positive(t, result.Disk.Writes)
}

func TestClusterCrashRestartRunsClean(t *testing.T) {
	s := shrunkScenario(t, "crash-restart")
	s.Workload.TotalOps = 400

	result := runScenario(t, s, 5, RunOptions{})
	require.False(t, result.Failed, "violations: %v", result.Violations)
	require.Positive(t, result.Coverage.FaultTriggers["node.crash"], "crashes must occur")
	require.True(t, result.Quiesced, "restarted nodes must catch back up")
}

func TestClusterHaltsOnFatalViolation(t *testing.T) {
	s := shrunkScenario(t, "baseline")
	cluster, err := NewCluster(s, 9, RunOptions{})
	require.NoError(t, err)

	// Poison the isolation checker with a cross-tenant scan result; the
	// first checkpoint sweep reports it and the iteration must stop right
	// there, not run on to quiescence.
	leaked := NewEntry(2, 2050, 7, 0)
	cluster.tenantIso.ObserveScan(s.Workload.Space, 1, 0, []Entry{leaked})

	result, err := cluster.Run()
	require.NoError(t, err)
	require.True(t, result.Failed)
	require.False(t, result.Quiesced, "a fatally violated iteration must not converge")
	require.NotEmpty(t, result.Violations)
	require.Equal(t, "tenant-isolation", result.Violations[0].Name)
	require.Equal(t, result.Violations[0].Time, result.FinalTime,
		"virtual time stops at the violating check")
}

func TestClusterMultiTenantIsolationHolds(t *testing.T) {
	s := shrunkScenario(t, "multi-tenant")
	for seed := uint64(0); seed < 3; seed++ {
		result := runScenario(t, s, seed, RunOptions{})
		require.False(t, result.Failed, "seed %d violations: %v", seed, result.Violations)
		require.Positive(t, result.Ops.ScansChecked, "seed %d", seed)
		require.Equal(t, InvariantVerified, result.Coverage.Invariants["tenant-isolation"], "seed %d", seed)
	}
}

func TestClusterReplaysFailingRunIdentically(t *testing.T) {
	s := shrunkScenario(t, "network-faults")
	poisonedRun := func() *RunResult {
		cluster, err := NewCluster(s, 11, RunOptions{})
		require.NoError(t, err)
		cluster.tenantIso.ObserveScan(s.Workload.Space, 1, 0, []Entry{NewEntry(3, 3100, 9, 0)})
		result, err := cluster.Run()
		require.NoError(t, err)
		return result
	}

	a := poisonedRun()
	b := poisonedRun()
	require.True(t, a.Failed)
	require.Equal(t, a.Violations, b.Violations, "same violation at the same virtual time")
	require.Equal(t, a.FinalTime, b.FinalTime)
	require.Equal(t, a.TraceDigest, b.TraceDigest)
	require.Equal(t, a.EventsProcessed, b.EventsProcessed)
}

func TestClusterGrayFailureRunsClean(t *testing.T) {
	s := shrunkScenario(t, "gray-failure")
	result := runScenario(t, s, 8, RunOptions{})
	require.False(t, result.Failed, "violations: %v", result.Violations)
	require.Positive(t, result.Network.Delayed, "gray failure must slow traffic down")
}

func TestClusterCombinedFaultsSurviveManySeeds(t *testing.T) {
	if testing.Short() {
		t.Skip("multi-seed sweep")
	}
	s := shrunkScenario(t, "combined")
	s.Workload.TotalOps = 150

	for seed := uint64(0); seed < 10; seed++ {
		result := runScenario(t, s, seed, RunOptions{})
		require.False(t, result.Failed, "seed %d violations: %v", seed, result.Violations)
	}
}

func TestClusterRejectsInvalidScenario(t *testing.T) {
	s := shrunkScenario(t, "baseline")
	s.ClusterSize = 1
	_, err := NewCluster(s, 0, RunOptions{})
	require.Error(t, err)
	require.True(t, IsConfigError(err))
}

func TestClusterEventBudgetStopsRun(t *testing.T) {
	s := shrunkScenario(t, "baseline")
	s.MaxEvents = 100

	result := runScenario(t, s, 6, RunOptions{})
	require.Equal(t, uint64(100), result.EventsProcessed)
	require.False(t, result.Quiesced)
	require.False(t, result.Failed, "an exhausted budget is not a failure")
}
