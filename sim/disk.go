package sim

import (
	"encoding/binary"
	"errors"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Simulated I/O failures injected by fault points. The database node
// logic sees these exactly as it would see a real I/O error.
var (
	ErrWriteFailed = errors.New("disk: injected write failure")
	ErrFsyncFailed = errors.New("disk: injected fsync failure")
)

// DiskConfig shapes the simulated disk.
type DiskConfig struct {
	WriteLatency LatencyConfig `json:"writeLatency" yaml:"writeLatency"`
	ReadLatency  LatencyConfig `json:"readLatency" yaml:"readLatency"`
	FsyncLatency LatencyConfig `json:"fsyncLatency" yaml:"fsyncLatency"`
}

// Validate checks the disk configuration.
func (c DiskConfig) Validate() error {
	if err := c.WriteLatency.Validate("disk.writeLatency"); err != nil {
		return err
	}
	if err := c.ReadLatency.Validate("disk.readLatency"); err != nil {
		return err
	}
	return c.FsyncLatency.Validate("disk.fsyncLatency")
}

// DiskStats counts disk activity and injected faults for one iteration.
type DiskStats struct {
	Writes       uint64 `json:"writes"`
	Reads        uint64 `json:"reads"`
	Fsyncs       uint64 `json:"fsyncs"`
	WriteFails   uint64 `json:"writeFails"`
	FsyncFails   uint64 `json:"fsyncFails"`
	CorruptedOps uint64 `json:"corruptedOps"`
}

type pendingWrite struct {
	addr uint64
	data []byte
}

// Disk is the simulated storage substrate for one node. Writes land in a
// pending set and become durable only on a successful fsync; a crash or a
// failed fsync loses the pending set. Operations mutate state when issued
// and schedule a completion event at a latency sampled from the seeded
// RNG, using a busy-until model so concurrent I/O queues behind earlier
// I/O.
type Disk struct {
	config   DiskConfig
	node     NodeID
	sim      *Simulation
	rng      *Rng
	injector *Injector

	durable   map[uint64][]byte
	pending   []pendingWrite
	busyUntil VirtualTime
	stats     DiskStats
}

// NewDisk creates the disk substrate for one node.
func NewDisk(config DiskConfig, node NodeID, sim *Simulation, rng *Rng, injector *Injector) *Disk {
	return &Disk{
		config:   config,
		node:     node,
		sim:      sim,
		rng:      rng,
		injector: injector,
		durable:  make(map[uint64][]byte),
	}
}

// Stats returns a copy of the disk counters.
func (d *Disk) Stats() DiskStats {
	return d.stats
}

// schedule reserves the disk and schedules the completion event.
func (d *Disk) schedule(op DiskOpKind, addr uint64, latency VirtualTime) {
	start := d.sim.Now()
	if d.busyUntil > start {
		start = d.busyUntil
	}
	complete := start + latency
	d.busyUntil = complete
	d.sim.Schedule(NewDiskCompleteEvent(complete, d.node, op, addr))
}

// Write stores a block in the pending set. The fault injector may fail
// the write outright, silently corrupt the stored bytes, or tear the
// write (persist a truncated block).
func (d *Disk) Write(addr uint64, data []byte) error {
	d.stats.Writes++
	stored := append([]byte(nil), data...)

	if action := d.injector.MaybeInject(SiteDiskWrite); action != nil {
		switch action.Kind {
		case ActionWriteFail:
			d.stats.WriteFails++
			return ErrWriteFailed
		case ActionCorrupt:
			if len(stored) > 0 {
				stored[d.rng.Intn(len(stored))] ^= 0xFF
				d.stats.CorruptedOps++
			}
		case ActionTornWrite:
			stored = stored[:len(stored)/2]
			d.stats.CorruptedOps++
		}
	}

	d.pending = append(d.pending, pendingWrite{addr: addr, data: stored})
	d.schedule(DiskOpWrite, addr, d.config.WriteLatency.Sample(d.rng))
	return nil
}

// Read returns the block at addr, pending writes first, then durable
// state. The fault injector may corrupt the returned copy without
// touching the stored bytes.
func (d *Disk) Read(addr uint64) ([]byte, bool) {
	d.stats.Reads++
	var data []byte
	found := false
	for i := len(d.pending) - 1; i >= 0; i-- {
		if d.pending[i].addr == addr {
			data = d.pending[i].data
			found = true
			break
		}
	}
	if !found {
		data, found = d.durable[addr]
	}
	if !found {
		d.schedule(DiskOpRead, addr, d.config.ReadLatency.Sample(d.rng))
		return nil, false
	}

	out := append([]byte(nil), data...)
	if action := d.injector.MaybeInject(SiteDiskRead); action != nil && action.Kind == ActionReadCorrupt {
		if len(out) > 0 {
			out[d.rng.Intn(len(out))] ^= 0xFF
			d.stats.CorruptedOps++
		}
	}
	d.schedule(DiskOpRead, addr, d.config.ReadLatency.Sample(d.rng))
	return out, true
}

// Fsync promotes pending writes to durable state in write order. A
// failed fsync loses the pending set entirely, matching the worst-case
// contract the database is expected to survive.
func (d *Disk) Fsync() error {
	d.stats.Fsyncs++
	d.schedule(DiskOpFsync, 0, d.config.FsyncLatency.Sample(d.rng))

	if action := d.injector.MaybeInject(SiteDiskFsync); action != nil && action.Kind == ActionFsyncFail {
		d.stats.FsyncFails++
		d.pending = nil
		return ErrFsyncFailed
	}

	for _, w := range d.pending {
		d.durable[w.addr] = w.data
	}
	d.pending = nil
	return nil
}

// DropPending discards unfsynced writes; called when the node crashes.
func (d *Disk) DropPending() {
	d.pending = nil
}

// HasPending reports whether unfsynced writes exist.
func (d *Disk) HasPending() bool {
	return len(d.pending) > 0
}

// DurableBlocks returns the number of durable blocks.
func (d *Disk) DurableBlocks() int {
	return len(d.durable)
}

// DurableRead returns the durable block at addr, ignoring pending writes
// and bypassing fault injection.
func (d *Disk) DurableRead(addr uint64) ([]byte, bool) {
	data, ok := d.durable[addr]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// StateHash digests the durable state in address order. Two disks with
// identical durable contents produce identical hashes on any host.
func (d *Disk) StateHash() uint64 {
	addrs := make([]uint64, 0, len(d.durable))
	for addr := range d.durable {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	h := xxhash.New()
	var buf [8]byte
	for _, addr := range addrs {
		binary.LittleEndian.PutUint64(buf[:], addr)
		_, _ = h.Write(buf[:])
		_, _ = h.Write(d.durable[addr])
	}
	return h.Sum64()
}

// DiskCheckpoint is a snapshot of durable state.
type DiskCheckpoint struct {
	blocks map[uint64][]byte
}

// Checkpoint snapshots the durable state. Pending writes are not part of
// a checkpoint.
func (d *Disk) Checkpoint() *DiskCheckpoint {
	cp := &DiskCheckpoint{blocks: make(map[uint64][]byte, len(d.durable))}
	for addr, data := range d.durable {
		cp.blocks[addr] = append([]byte(nil), data...)
	}
	return cp
}

// Restore replaces durable state with a checkpoint and discards pending
// writes.
func (d *Disk) Restore(cp *DiskCheckpoint) {
	d.durable = make(map[uint64][]byte, len(cp.blocks))
	for addr, data := range cp.blocks {
		d.durable[addr] = append([]byte(nil), data...)
	}
	d.pending = nil
}
