package sim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestInjector(t *testing.T, enabled map[string]float64, seed uint64) (*Injector, *IterationCoverage) {
	t.Helper()
	names := make([]string, 0, len(enabled))
	for _, p := range allFaultPoints() {
		if _, ok := enabled[p.Name]; ok {
			names = append(names, p.Name)
		}
	}
	coverage := NewIterationCoverage(names, nil)
	injector, err := NewInjector(enabled, NewRng(seed), coverage)
	require.NoError(t, err)
	return injector, coverage
}

func TestInjectorRejectsUnknownPoint(t *testing.T) {
	_, err := NewInjector(map[string]float64{"disk.spontaneous-combustion": 0.5}, NewRng(1), NewIterationCoverage(nil, nil))
	require.Error(t, err)
	require.True(t, IsConfigError(err))
}

func TestInjectorRejectsBadProbability(t *testing.T) {
	for _, p := range []float64{-0.1, 1.5} {
		_, err := NewInjector(map[string]float64{"network.drop": p}, NewRng(1), NewIterationCoverage(nil, nil))
		require.Error(t, err, "probability %f must be rejected", p)
	}
}

func TestInjectorCertainPointAlwaysFires(t *testing.T) {
	injector, coverage := newTestInjector(t, map[string]float64{"network.drop": 1.0}, 42)

	for i := 0; i < 100; i++ {
		action := injector.MaybeInject(SiteNetworkSend)
		require.NotNil(t, action)
		require.Equal(t, ActionDrop, action.Kind)
		require.Equal(t, "network.drop", action.Point)
	}
	require.Equal(t, uint64(100), coverage.FaultTriggers["network.drop"])
}

func TestInjectorDisabledSiteNeverFires(t *testing.T) {
	injector, _ := newTestInjector(t, map[string]float64{"network.drop": 1.0}, 42)
	require.Nil(t, injector.MaybeInject(SiteDiskWrite), "drop is registered at the network site only")
}

func TestInjectorFirstFireWins(t *testing.T) {
	// Both points certain at the same site: registration order decides,
	// and network.delay registers before network.drop.
	injector, coverage := newTestInjector(t, map[string]float64{
		"network.delay": 1.0,
		"network.drop":  1.0,
	}, 7)

	action := injector.MaybeInject(SiteNetworkSend)
	require.NotNil(t, action)
	require.Equal(t, "network.delay", action.Point)

	// Only the winner is recorded as triggered.
	require.Equal(t, uint64(1), coverage.FaultTriggers["network.delay"])
	require.Equal(t, uint64(0), coverage.FaultTriggers["network.drop"])
}

func TestInjectorEveryEnabledPointConsumesOneDraw(t *testing.T) {
	// Same seed, same consultation count. If later points stopped
	// drawing after an earlier fire, the two streams would diverge.
	rngA := NewRng(11)
	covA := NewIterationCoverage([]string{"network.delay", "network.drop"}, nil)
	injectorA, err := NewInjector(map[string]float64{"network.delay": 1.0, "network.drop": 0.5}, rngA, covA)
	require.NoError(t, err)

	rngB := NewRng(11)
	for i := 0; i < 50; i++ {
		injectorA.MaybeInject(SiteNetworkSend)
		rngB.Float64() // delay's draw
		rngB.Float64() // drop's draw, consumed despite delay firing
	}
	require.Equal(t, rngB.Uint64(), rngA.Uint64(), "injector must consume one draw per enabled point")
}

func TestInjectorEnabledPointsInRegistrationOrder(t *testing.T) {
	injector, _ := newTestInjector(t, map[string]float64{
		"node.crash":      0.1,
		"network.drop":    0.1,
		"disk.torn-write": 0.1,
	}, 1)
	require.Equal(t, []string{"network.drop", "disk.torn-write", "node.crash"}, injector.EnabledPoints())
}

func TestKnownFaultPoint(t *testing.T) {
	require.True(t, KnownFaultPoint("disk.fsync-fail"))
	require.False(t, KnownFaultPoint("made-up"))
}
