package sim

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// NodeID identifies one logical database node.
type NodeID int

// TenantID identifies one tenant in the multi-tenant store.
type TenantID int

// OpKind is the kind of client operation.
type OpKind int

const (
	OpWrite OpKind = iota
	OpRead
	OpScan
)

func (k OpKind) String() string {
	switch k {
	case OpWrite:
		return "write"
	case OpRead:
		return "read"
	case OpScan:
		return "scan"
	default:
		return "unknown"
	}
}

// ClientOp is one synthetic client operation produced by the workload
// generator, tagged with its target tenant and node.
type ClientOp struct {
	Kind   OpKind
	Tenant TenantID
	Key    uint64
	Value  uint64
	Node   NodeID
	Seq    uint64
}

func (op ClientOp) String() string {
	return fmt.Sprintf("%s(tenant=%d, key=%d, node=%d, seq=%d)", op.Kind, op.Tenant, op.Key, op.Node, op.Seq)
}

// Entry is one record in the append-only log. The checksum covers all
// other fields so corruption anywhere (network or disk) is detectable.
type Entry struct {
	Tenant   TenantID
	Key      uint64
	Value    uint64
	Seq      uint64
	Checksum uint64
}

// NewEntry builds an entry with its checksum.
func NewEntry(tenant TenantID, key, value, seq uint64) Entry {
	e := Entry{Tenant: tenant, Key: key, Value: value, Seq: seq}
	e.Checksum = e.computeChecksum()
	return e
}

func (e Entry) computeChecksum() uint64 {
	var buf [32]byte
	binary.LittleEndian.PutUint64(buf[0:], uint64(e.Tenant))
	binary.LittleEndian.PutUint64(buf[8:], e.Key)
	binary.LittleEndian.PutUint64(buf[16:], e.Value)
	binary.LittleEndian.PutUint64(buf[24:], e.Seq)
	return xxhash.Sum64(buf[:])
}

// Verify reports whether the entry's checksum matches its contents.
func (e Entry) Verify() bool {
	return e.Checksum == e.computeChecksum()
}

const entryEncodedSize = 40

// encodeEntry serializes an entry for the disk model.
func encodeEntry(e Entry) []byte {
	buf := make([]byte, entryEncodedSize)
	binary.LittleEndian.PutUint64(buf[0:], uint64(e.Tenant))
	binary.LittleEndian.PutUint64(buf[8:], e.Key)
	binary.LittleEndian.PutUint64(buf[16:], e.Value)
	binary.LittleEndian.PutUint64(buf[24:], e.Seq)
	binary.LittleEndian.PutUint64(buf[32:], e.Checksum)
	return buf
}

// decodeEntry deserializes an entry; returns false for truncated blocks
// (torn writes) or checksum mismatches (corruption).
func decodeEntry(data []byte) (Entry, bool) {
	if len(data) != entryEncodedSize {
		return Entry{}, false
	}
	e := Entry{
		Tenant:   TenantID(binary.LittleEndian.Uint64(data[0:])),
		Key:      binary.LittleEndian.Uint64(data[8:]),
		Value:    binary.LittleEndian.Uint64(data[16:]),
		Seq:      binary.LittleEndian.Uint64(data[24:]),
		Checksum: binary.LittleEndian.Uint64(data[32:]),
	}
	if !e.Verify() {
		return Entry{}, false
	}
	return e, true
}

// MsgKind is the node protocol message type.
type MsgKind int

const (
	MsgAppend MsgKind = iota
	MsgAppendAck
	MsgCommit
	MsgRepairRequest
	MsgRepairReply
)

func (k MsgKind) String() string {
	switch k {
	case MsgAppend:
		return "append"
	case MsgAppendAck:
		return "append_ack"
	case MsgCommit:
		return "commit"
	case MsgRepairRequest:
		return "repair_request"
	case MsgRepairReply:
		return "repair_reply"
	default:
		return "unknown"
	}
}

// NodeMessage is one protocol message between nodes. Outgoing messages
// carry To; the network stamps From on the wire envelope.
type NodeMessage struct {
	Kind        MsgKind
	To          NodeID
	Index       uint64 // log index (append), acked length (ack), start index (repair)
	Entry       Entry
	Entries     []Entry // repair reply payload
	CommitIndex uint64
	Corrupt     bool // set by network fault injection
}

// SystemUnderTest is the abstract interface the simulator hosts a
// database node through. The database exposes the same lifecycle and
// message surface in production; there are no simulator-specific code
// paths behind it.
type SystemUnderTest interface {
	ID() NodeID

	// SubmitWrite appends a client write (primary only) and returns the
	// replication messages to send.
	SubmitWrite(op ClientOp) ([]NodeMessage, error)

	// Get returns the latest value for a tenant key, including
	// not-yet-committed writes (read-your-writes at the primary).
	Get(tenant TenantID, key uint64) (uint64, bool)

	// Scan returns the committed entries belonging to a tenant.
	Scan(tenant TenantID) []Entry

	// Deliver handles an incoming message and returns any responses.
	Deliver(from NodeID, msg NodeMessage) []NodeMessage

	// Tick fires the node's periodic timer (repair/retransmission).
	Tick() []NodeMessage

	// Crash freezes the node; unfsynced disk state is lost by the disk
	// model.
	Crash()

	// Restart reloads state from the disk model's durable blocks and
	// returns catch-up messages to send.
	Restart() []NodeMessage

	// TakeCommitted drains entries newly committed since the last call.
	TakeCommitted() []Entry

	CommitIndex() uint64
	LogLen() uint64
	LogEntry(i uint64) (Entry, bool)
	StateHash() uint64
}

// repairBatch bounds how many entries the primary retransmits to one
// lagging backup per timer tick.
const repairBatch = 8

// Replica is the reference system under test: one node of an append-only
// multi-tenant compliance store with primary/backup replication. The
// primary appends client writes and replicates them; backups append in
// order and ack; the primary commits at quorum and broadcasts the commit
// index.
type Replica struct {
	id          NodeID
	clusterSize int
	primary     NodeID
	disk        *Disk

	log         []Entry
	commitIndex uint64
	acked       map[NodeID]uint64 // primary: contiguous acked log length per node

	newlyCommitted []Entry
}

// NewReplica creates one node instance wired to its simulated disk.
func NewReplica(id NodeID, clusterSize int, primary NodeID, disk *Disk) *Replica {
	r := &Replica{
		id:          id,
		clusterSize: clusterSize,
		primary:     primary,
		disk:        disk,
		acked:       make(map[NodeID]uint64),
	}
	return r
}

func (r *Replica) ID() NodeID { return r.id }

func (r *Replica) isPrimary() bool { return r.id == r.primary }

func (r *Replica) quorum() uint64 { return uint64(r.clusterSize/2 + 1) }

// SubmitWrite appends a client write to the primary's log and returns
// Append messages for every backup. A failed disk write rejects the
// operation without mutating the log.
func (r *Replica) SubmitWrite(op ClientOp) ([]NodeMessage, error) {
	if !r.isPrimary() {
		return nil, fmt.Errorf("node %d is not the primary", r.id)
	}

	idx := uint64(len(r.log))
	entry := NewEntry(op.Tenant, op.Key, op.Value, op.Seq)
	if err := r.disk.Write(idx, encodeEntry(entry)); err != nil {
		return nil, err
	}
	r.log = append(r.log, entry)
	r.acked[r.id] = uint64(len(r.log))

	out := make([]NodeMessage, 0, r.clusterSize-1)
	for n := 0; n < r.clusterSize; n++ {
		if NodeID(n) == r.id {
			continue
		}
		out = append(out, NodeMessage{Kind: MsgAppend, To: NodeID(n), Index: idx, Entry: entry})
	}
	out = append(out, r.maybeAdvanceCommit()...)
	return out, nil
}

// maybeAdvanceCommit advances the commit index to the largest length
// acknowledged by a quorum, and returns commit broadcasts if it moved.
func (r *Replica) maybeAdvanceCommit() []NodeMessage {
	target := r.commitIndex
	for l := r.commitIndex + 1; l <= uint64(len(r.log)); l++ {
		count := uint64(0)
		for n := 0; n < r.clusterSize; n++ {
			if r.acked[NodeID(n)] >= l {
				count++
			}
		}
		if count >= r.quorum() {
			target = l
		} else {
			break
		}
	}
	if target == r.commitIndex {
		return nil
	}
	for i := r.commitIndex; i < target; i++ {
		r.newlyCommitted = append(r.newlyCommitted, r.log[i])
	}
	r.commitIndex = target

	out := make([]NodeMessage, 0, r.clusterSize-1)
	for n := 0; n < r.clusterSize; n++ {
		if NodeID(n) == r.id {
			continue
		}
		out = append(out, NodeMessage{Kind: MsgCommit, To: NodeID(n), CommitIndex: r.commitIndex})
	}
	return out
}

// Deliver handles one protocol message from another node.
func (r *Replica) Deliver(from NodeID, msg NodeMessage) []NodeMessage {
	switch msg.Kind {
	case MsgAppend:
		return r.handleAppend(msg)
	case MsgAppendAck:
		return r.handleAppendAck(from, msg)
	case MsgCommit:
		if !msg.Corrupt {
			r.handleCommit(msg.CommitIndex)
		}
		return nil
	case MsgRepairRequest:
		return r.handleRepairRequest(from, msg)
	case MsgRepairReply:
		return r.handleRepairReply(msg)
	default:
		return nil
	}
}

func (r *Replica) handleAppend(msg NodeMessage) []NodeMessage {
	// Corrupted messages fail verification and are ignored; the repair
	// timer closes the gap later.
	if msg.Corrupt || !msg.Entry.Verify() {
		return nil
	}

	switch {
	case msg.Index == uint64(len(r.log)):
		if err := r.disk.Write(msg.Index, encodeEntry(msg.Entry)); err != nil {
			return nil // not acked; primary retransmits
		}
		r.log = append(r.log, msg.Entry)
	case msg.Index > uint64(len(r.log)):
		// Gap: ask the primary for the missing suffix.
		return []NodeMessage{{Kind: MsgRepairRequest, To: r.primary, Index: uint64(len(r.log))}}
	}
	// Duplicate or in-order append: (re-)ack the current length.
	return []NodeMessage{{Kind: MsgAppendAck, To: r.primary, Index: uint64(len(r.log))}}
}

func (r *Replica) handleAppendAck(from NodeID, msg NodeMessage) []NodeMessage {
	if !r.isPrimary() || msg.Corrupt {
		return nil
	}
	// Acks are authoritative, not monotonic: a backup that crashed and
	// lost unfsynced suffix reports a shorter log, and the primary must
	// resend from there rather than trust a stale pre-crash ack.
	r.acked[from] = msg.Index
	return r.maybeAdvanceCommit()
}

func (r *Replica) handleCommit(commitIndex uint64) {
	if commitIndex <= r.commitIndex {
		return
	}
	if commitIndex > uint64(len(r.log)) {
		commitIndex = uint64(len(r.log))
	}
	r.commitIndex = commitIndex
}

func (r *Replica) handleRepairRequest(from NodeID, msg NodeMessage) []NodeMessage {
	if !r.isPrimary() || msg.Corrupt {
		return nil
	}
	if msg.Index >= uint64(len(r.log)) {
		return nil
	}
	end := msg.Index + repairBatch
	if end > uint64(len(r.log)) {
		end = uint64(len(r.log))
	}
	entries := append([]Entry(nil), r.log[msg.Index:end]...)
	return []NodeMessage{{
		Kind:        MsgRepairReply,
		To:          from,
		Index:       msg.Index,
		Entries:     entries,
		CommitIndex: r.commitIndex,
	}}
}

func (r *Replica) handleRepairReply(msg NodeMessage) []NodeMessage {
	if msg.Corrupt {
		return nil
	}
	idx := msg.Index
	for _, e := range msg.Entries {
		if !e.Verify() {
			break
		}
		if idx == uint64(len(r.log)) {
			if err := r.disk.Write(idx, encodeEntry(e)); err != nil {
				break
			}
			r.log = append(r.log, e)
		}
		idx++
	}
	r.handleCommit(msg.CommitIndex)
	return []NodeMessage{{Kind: MsgAppendAck, To: r.primary, Index: uint64(len(r.log))}}
}

// Tick fires the node's repair timer. The primary retransmits log
// suffixes to lagging backups and rebroadcasts the commit index;
// backups heartbeat their log length so the primary's ack state
// self-corrects after restarts and dropped acks.
func (r *Replica) Tick() []NodeMessage {
	if !r.isPrimary() {
		return []NodeMessage{{Kind: MsgAppendAck, To: r.primary, Index: uint64(len(r.log))}}
	}
	var out []NodeMessage
	for n := 0; n < r.clusterSize; n++ {
		id := NodeID(n)
		if id == r.id {
			continue
		}
		acked := r.acked[id]
		if acked < uint64(len(r.log)) {
			end := acked + repairBatch
			if end > uint64(len(r.log)) {
				end = uint64(len(r.log))
			}
			for i := acked; i < end; i++ {
				out = append(out, NodeMessage{Kind: MsgAppend, To: id, Index: i, Entry: r.log[i]})
			}
		}
		if r.commitIndex > 0 {
			out = append(out, NodeMessage{Kind: MsgCommit, To: id, CommitIndex: r.commitIndex})
		}
	}
	return out
}

// Crash freezes the node. Volatile replication bookkeeping the node
// would rebuild is dropped here; the disk model separately loses
// unfsynced writes.
func (r *Replica) Crash() {
	r.newlyCommitted = nil
}

// Restart reloads the log from the disk model's durable blocks, stopping
// at the first missing, torn, or corrupt block, and asks the primary for
// the rest.
func (r *Replica) Restart() []NodeMessage {
	r.log = r.log[:0]
	r.commitIndex = 0
	r.acked = make(map[NodeID]uint64)
	for i := uint64(0); ; i++ {
		data, ok := r.disk.Read(i)
		if !ok {
			break
		}
		entry, valid := decodeEntry(data)
		if !valid {
			break
		}
		r.log = append(r.log, entry)
	}
	if r.isPrimary() {
		return nil
	}
	return []NodeMessage{{Kind: MsgRepairRequest, To: r.primary, Index: uint64(len(r.log))}}
}

// Get returns the latest value written for a tenant key, including
// not-yet-committed entries.
func (r *Replica) Get(tenant TenantID, key uint64) (uint64, bool) {
	for i := len(r.log) - 1; i >= 0; i-- {
		if r.log[i].Tenant == tenant && r.log[i].Key == key {
			return r.log[i].Value, true
		}
	}
	return 0, false
}

// Scan returns the committed entries belonging to a tenant.
func (r *Replica) Scan(tenant TenantID) []Entry {
	var out []Entry
	for i := uint64(0); i < r.commitIndex; i++ {
		if r.log[i].Tenant == tenant {
			out = append(out, r.log[i])
		}
	}
	return out
}

// TakeCommitted drains entries committed since the last call.
func (r *Replica) TakeCommitted() []Entry {
	out := r.newlyCommitted
	r.newlyCommitted = nil
	return out
}

func (r *Replica) CommitIndex() uint64 { return r.commitIndex }

func (r *Replica) LogLen() uint64 { return uint64(len(r.log)) }

func (r *Replica) LogEntry(i uint64) (Entry, bool) {
	if i >= uint64(len(r.log)) {
		return Entry{}, false
	}
	return r.log[i], true
}

// StateHash digests the node's visible state: log checksums plus the
// commit index.
func (r *Replica) StateHash() uint64 {
	h := xxhash.New()
	var buf [8]byte
	for _, e := range r.log {
		binary.LittleEndian.PutUint64(buf[:], e.Checksum)
		_, _ = h.Write(buf[:])
	}
	binary.LittleEndian.PutUint64(buf[:], r.commitIndex)
	_, _ = h.Write(buf[:])
	return h.Sum64()
}
