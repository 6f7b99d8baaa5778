package sim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEntryChecksum(t *testing.T) {
	e := NewEntry(2, 100, 42, 7)
	require.True(t, e.Verify())

	tampered := e
	tampered.Value = 43
	require.False(t, tampered.Verify())
}

func TestEntryEncodeDecode(t *testing.T) {
	e := NewEntry(1, 5, 99, 3)
	decoded, ok := decodeEntry(encodeEntry(e))
	require.True(t, ok)
	require.Equal(t, e, decoded)

	t.Run("torn block is invalid", func(t *testing.T) {
		data := encodeEntry(e)
		_, ok := decodeEntry(data[:len(data)/2])
		require.False(t, ok)
	})

	t.Run("flipped byte is invalid", func(t *testing.T) {
		data := encodeEntry(e)
		data[12] ^= 0xFF
		_, ok := decodeEntry(data)
		require.False(t, ok)
	})
}

// replicaHarness wires replicas to fault-free disks and routes their
// protocol messages synchronously.
type replicaHarness struct {
	t        *testing.T
	replicas []*Replica
	disks    []*Disk
}

func newReplicaHarness(t *testing.T, size int) *replicaHarness {
	t.Helper()
	h := &replicaHarness{t: t}
	for i := 0; i < size; i++ {
		d := newTestDisk(t, nil, uint64(100+i))
		h.disks = append(h.disks, d)
		h.replicas = append(h.replicas, NewReplica(NodeID(i), size, 0, d))
	}
	return h
}

type routedMessage struct {
	from NodeID
	msg  NodeMessage
}

// pump delivers messages, and everything they generate, until quiet.
// down nodes swallow their messages.
func (h *replicaHarness) pump(from NodeID, msgs []NodeMessage, down map[NodeID]bool) {
	queue := make([]routedMessage, 0, len(msgs))
	for _, m := range msgs {
		queue = append(queue, routedMessage{from: from, msg: m})
	}
	for len(queue) > 0 {
		rm := queue[0]
		queue = queue[1:]
		if down[rm.msg.To] {
			continue
		}
		out := h.replicas[rm.msg.To].Deliver(rm.from, rm.msg)
		for _, m := range out {
			queue = append(queue, routedMessage{from: rm.msg.To, msg: m})
		}
	}
}

func (h *replicaHarness) write(tenant TenantID, key, value, seq uint64, down map[NodeID]bool) {
	out, err := h.replicas[0].SubmitWrite(ClientOp{Kind: OpWrite, Tenant: tenant, Key: key, Value: value, Seq: seq})
	require.NoError(h.t, err)
	h.pump(0, out, down)
}

func TestReplicaRejectsWriteAtBackup(t *testing.T) {
	h := newReplicaHarness(t, 3)
	_, err := h.replicas[1].SubmitWrite(ClientOp{Kind: OpWrite})
	require.Error(t, err)
}

func TestReplicaWriteReplicationAndQuorumCommit(t *testing.T) {
	h := newReplicaHarness(t, 3)
	h.write(1, 10, 111, 0, nil)

	for i, r := range h.replicas {
		require.Equal(t, uint64(1), r.LogLen(), "node %d", i)
		require.Equal(t, uint64(1), r.CommitIndex(), "node %d", i)
	}

	committed := h.replicas[0].TakeCommitted()
	require.Len(t, committed, 1)
	require.Equal(t, uint64(111), committed[0].Value)
	require.Empty(t, h.replicas[0].TakeCommitted(), "TakeCommitted drains")
}

func TestReplicaCommitNeedsQuorum(t *testing.T) {
	h := newReplicaHarness(t, 3)
	down := map[NodeID]bool{1: true, 2: true}

	out, err := h.replicas[0].SubmitWrite(ClientOp{Kind: OpWrite, Tenant: 0, Key: 1, Value: 5, Seq: 0})
	require.NoError(t, err)
	h.pump(0, out, down)

	require.Equal(t, uint64(0), h.replicas[0].CommitIndex(), "no quorum with both backups down")

	// One backup comes back and the repair timer closes the gap.
	delete(down, 1)
	h.pump(0, h.replicas[0].Tick(), down)
	require.Equal(t, uint64(1), h.replicas[0].CommitIndex(), "primary plus one backup is a quorum of 3")
}

func TestReplicaDuplicateAppendIsIdempotent(t *testing.T) {
	h := newReplicaHarness(t, 3)
	h.write(0, 1, 7, 0, nil)

	entry, _ := h.replicas[1].LogEntry(0)
	dup := NodeMessage{Kind: MsgAppend, To: 1, Index: 0, Entry: entry}
	out := h.replicas[1].Deliver(0, dup)

	require.Equal(t, uint64(1), h.replicas[1].LogLen(), "duplicate must not re-append")
	require.Len(t, out, 1)
	require.Equal(t, MsgAppendAck, out[0].Kind)
	require.Equal(t, uint64(1), out[0].Index)
}

func TestReplicaGapTriggersRepair(t *testing.T) {
	h := newReplicaHarness(t, 3)
	// Backup 1 misses three writes.
	down := map[NodeID]bool{1: true}
	for i := uint64(0); i < 3; i++ {
		h.write(0, i, i*10, i, down)
	}
	require.Equal(t, uint64(0), h.replicas[1].LogLen())
	require.Equal(t, uint64(3), h.replicas[2].LogLen())

	// A fresh append exposes the gap; the repair round-trip fills it.
	h.write(0, 99, 999, 3, nil)
	require.Equal(t, uint64(4), h.replicas[1].LogLen())
	require.Equal(t, uint64(4), h.replicas[1].CommitIndex())
}

func TestReplicaIgnoresCorruptAppend(t *testing.T) {
	h := newReplicaHarness(t, 3)

	msg := NodeMessage{Kind: MsgAppend, To: 1, Index: 0, Entry: NewEntry(0, 1, 2, 0), Corrupt: true}
	out := h.replicas[1].Deliver(0, msg)
	require.Empty(t, out)
	require.Equal(t, uint64(0), h.replicas[1].LogLen())

	bad := NewEntry(0, 1, 2, 0)
	bad.Value = 3 // checksum no longer matches
	out = h.replicas[1].Deliver(0, NodeMessage{Kind: MsgAppend, To: 1, Index: 0, Entry: bad})
	require.Empty(t, out)
	require.Equal(t, uint64(0), h.replicas[1].LogLen())
}

func TestReplicaBackupTickHeartbeatsLogLength(t *testing.T) {
	h := newReplicaHarness(t, 3)
	h.write(0, 1, 7, 0, nil)

	out := h.replicas[1].Tick()
	require.Len(t, out, 1)
	require.Equal(t, MsgAppendAck, out[0].Kind)
	require.Equal(t, uint64(1), out[0].Index)
}

func TestReplicaRestartReloadsDurablePrefix(t *testing.T) {
	h := newReplicaHarness(t, 3)
	h.write(0, 1, 11, 0, nil)
	h.write(0, 2, 22, 1, nil)
	require.NoError(t, h.disks[1].Fsync())

	// A third write lands but never fsyncs on backup 1.
	h.write(0, 3, 33, 2, nil)
	require.Equal(t, uint64(3), h.replicas[1].LogLen())

	// Crash: pending disk state is lost, then the node reloads.
	h.disks[1].DropPending()
	h.replicas[1].Crash()
	out := h.replicas[1].Restart()

	require.Equal(t, uint64(2), h.replicas[1].LogLen(), "only the fsynced prefix survives")
	require.Equal(t, uint64(0), h.replicas[1].CommitIndex(), "commit knowledge is rebuilt from the primary")
	require.Len(t, out, 1)
	require.Equal(t, MsgRepairRequest, out[0].Kind)
	require.Equal(t, uint64(2), out[0].Index)

	// The repair round-trip restores the lost suffix and commit index.
	h.pump(1, out, nil)
	require.Equal(t, uint64(3), h.replicas[1].LogLen())
	require.Equal(t, uint64(3), h.replicas[1].CommitIndex())
}

func TestReplicaGetAndScan(t *testing.T) {
	h := newReplicaHarness(t, 3)
	h.write(1, 100, 5, 0, nil)
	h.write(1, 100, 6, 1, nil)
	h.write(2, 200, 7, 2, nil)

	v, ok := h.replicas[0].Get(1, 100)
	require.True(t, ok)
	require.Equal(t, uint64(6), v, "Get returns the latest write")

	_, ok = h.replicas[0].Get(3, 100)
	require.False(t, ok)

	scan := h.replicas[0].Scan(1)
	require.Len(t, scan, 2)
	for _, e := range scan {
		require.Equal(t, TenantID(1), e.Tenant)
	}
}

func TestReplicaStateHashReflectsLogAndCommit(t *testing.T) {
	a := newReplicaHarness(t, 3)
	b := newReplicaHarness(t, 3)
	a.write(0, 1, 5, 0, nil)
	b.write(0, 1, 5, 0, nil)
	require.Equal(t, a.replicas[0].StateHash(), b.replicas[0].StateHash())

	b.write(0, 2, 6, 1, nil)
	require.NotEqual(t, a.replicas[0].StateHash(), b.replicas[0].StateHash())
}
