package sim

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func testDiskConfig() DiskConfig {
	return DiskConfig{
		WriteLatency: LatencyConfig{Dist: DistUniform, Min: 100 * Microsecond, Max: 2 * Millisecond},
		ReadLatency:  LatencyConfig{Dist: DistUniform, Min: 50 * Microsecond, Max: Millisecond},
		FsyncLatency: LatencyConfig{Dist: DistUniform, Min: 500 * Microsecond, Max: 5 * Millisecond},
	}
}

func newTestDisk(t *testing.T, faults map[string]float64, seed uint64) *Disk {
	t.Helper()
	rng := NewRng(seed)
	names := make([]string, 0, len(faults))
	for _, p := range allFaultPoints() {
		if _, ok := faults[p.Name]; ok {
			names = append(names, p.Name)
		}
	}
	injector, err := NewInjector(faults, rng, NewIterationCoverage(names, nil))
	require.NoError(t, err)
	return NewDisk(testDiskConfig(), 0, NewSimulation(0, 0), rng, injector)
}

func TestDiskWriteIsPendingUntilFsync(t *testing.T) {
	d := newTestDisk(t, nil, 1)

	require.NoError(t, d.Write(0, []byte("hello")))
	require.True(t, d.HasPending())
	require.Equal(t, 0, d.DurableBlocks())

	// Read sees the pending write.
	data, ok := d.Read(0)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), data)

	// Durable view does not.
	_, ok = d.DurableRead(0)
	require.False(t, ok)

	require.NoError(t, d.Fsync())
	require.False(t, d.HasPending())
	require.Equal(t, 1, d.DurableBlocks())

	data, ok = d.DurableRead(0)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), data)
}

func TestDiskCrashLosesPendingWrites(t *testing.T) {
	d := newTestDisk(t, nil, 2)

	require.NoError(t, d.Write(0, []byte("durable")))
	require.NoError(t, d.Fsync())
	require.NoError(t, d.Write(1, []byte("lost")))

	d.DropPending()

	_, ok := d.Read(1)
	require.False(t, ok, "unfsynced write must be lost after crash")
	data, ok := d.Read(0)
	require.True(t, ok, "fsynced write must survive crash")
	require.Equal(t, []byte("durable"), data)
}

func TestDiskPendingReadsSeeLatestWrite(t *testing.T) {
	d := newTestDisk(t, nil, 3)
	require.NoError(t, d.Write(0, []byte("v1")))
	require.NoError(t, d.Write(0, []byte("v2")))

	data, ok := d.Read(0)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), data)
}

func TestDiskInjectedWriteFailure(t *testing.T) {
	d := newTestDisk(t, map[string]float64{"disk.write-fail": 1.0}, 4)

	err := d.Write(0, []byte("doomed"))
	require.ErrorIs(t, err, ErrWriteFailed)
	require.False(t, d.HasPending(), "failed write must not land in the pending set")
	require.Equal(t, uint64(1), d.Stats().WriteFails)
}

func TestDiskInjectedFsyncFailureLosesPending(t *testing.T) {
	d := newTestDisk(t, map[string]float64{"disk.fsync-fail": 1.0}, 5)

	require.NoError(t, d.Write(0, []byte("going")))
	err := d.Fsync()
	require.ErrorIs(t, err, ErrFsyncFailed)
	require.False(t, d.HasPending())
	require.Equal(t, 0, d.DurableBlocks(), "failed fsync must promote nothing")
}

func TestDiskTornWritePersistsTruncatedBlock(t *testing.T) {
	d := newTestDisk(t, map[string]float64{"disk.torn-write": 1.0}, 6)

	payload := []byte("0123456789")
	require.NoError(t, d.Write(0, payload))
	data, ok := d.Read(0)
	require.True(t, ok)
	require.Equal(t, len(payload)/2, len(data), "torn write keeps only a prefix")
	require.True(t, bytes.HasPrefix(payload, data))
}

func TestDiskCorruptWriteAltersStoredBytes(t *testing.T) {
	d := newTestDisk(t, map[string]float64{"disk.corrupt-write": 1.0}, 7)

	payload := []byte("untouched")
	require.NoError(t, d.Write(0, payload))
	data, ok := d.Read(0)
	require.True(t, ok)
	require.Equal(t, len(payload), len(data))
	require.NotEqual(t, payload, data, "corrupt write must flip a stored byte")
}

func TestDiskReadCorruptionLeavesStoredBytesIntact(t *testing.T) {
	d := newTestDisk(t, map[string]float64{"disk.read-corrupt": 1.0}, 8)

	require.NoError(t, d.Write(0, []byte("stable")))
	corrupted, ok := d.Read(0)
	require.True(t, ok)
	require.NotEqual(t, []byte("stable"), corrupted)

	// The stored block itself is untouched.
	require.NoError(t, d.Fsync())
	data, ok := d.DurableRead(0)
	require.True(t, ok)
	require.Equal(t, []byte("stable"), data)
}

func TestDiskStateHashMatchesForIdenticalContent(t *testing.T) {
	a := newTestDisk(t, nil, 9)
	b := newTestDisk(t, nil, 10)

	for _, d := range []*Disk{a, b} {
		require.NoError(t, d.Write(3, []byte("three")))
		require.NoError(t, d.Write(1, []byte("one")))
		require.NoError(t, d.Fsync())
	}
	require.Equal(t, a.StateHash(), b.StateHash())

	require.NoError(t, a.Write(2, []byte("two")))
	require.NoError(t, a.Fsync())
	require.NotEqual(t, a.StateHash(), b.StateHash())
}

func TestDiskCheckpointRestore(t *testing.T) {
	d := newTestDisk(t, nil, 11)
	require.NoError(t, d.Write(0, []byte("kept")))
	require.NoError(t, d.Fsync())
	cp := d.Checkpoint()

	require.NoError(t, d.Write(0, []byte("overwritten")))
	require.NoError(t, d.Write(1, []byte("extra")))
	require.NoError(t, d.Fsync())

	d.Restore(cp)
	data, ok := d.DurableRead(0)
	require.True(t, ok)
	require.Equal(t, []byte("kept"), data)
	_, ok = d.DurableRead(1)
	require.False(t, ok)
}
