package sim

import "fmt"

// EventKind represents the type of simulation event
type EventKind int

const (
	EventMessageDeliver EventKind = iota
	EventTimerFire
	EventDiskComplete
	EventFaultTrigger
	EventNodeCrash
	EventNodeRestart
	EventClientOp
	EventWorkloadTick
	EventFsyncTick
	EventInvariantCheck
	EventCheckpointCreate
	EventPartitionHeal
)

func (ek EventKind) String() string {
	switch ek {
	case EventMessageDeliver:
		return "message_deliver"
	case EventTimerFire:
		return "timer_fire"
	case EventDiskComplete:
		return "disk_complete"
	case EventFaultTrigger:
		return "fault_trigger"
	case EventNodeCrash:
		return "node_crash"
	case EventNodeRestart:
		return "node_restart"
	case EventClientOp:
		return "client_op"
	case EventWorkloadTick:
		return "workload_tick"
	case EventFsyncTick:
		return "fsync_tick"
	case EventInvariantCheck:
		return "invariant_check"
	case EventCheckpointCreate:
		return "checkpoint_create"
	case EventPartitionHeal:
		return "partition_heal"
	default:
		return "unknown"
	}
}

// Event is the base interface for all simulation events. Events carry
// the VirtualTime they are scheduled for; ordering between events at the
// same time is resolved by the queue's insertion sequence number, never
// by payload contents or memory identity.
type Event interface {
	Timestamp() VirtualTime
	Kind() EventKind
	String() string
}

// MessageDeliverEvent delivers a network message to its target node.
type MessageDeliverEvent struct {
	timestamp VirtualTime
	Msg       Message
}

func NewMessageDeliverEvent(timestamp VirtualTime, msg Message) *MessageDeliverEvent {
	return &MessageDeliverEvent{timestamp: timestamp, Msg: msg}
}

func (e *MessageDeliverEvent) Timestamp() VirtualTime { return e.timestamp }
func (e *MessageDeliverEvent) Kind() EventKind        { return EventMessageDeliver }
func (e *MessageDeliverEvent) String() string {
	return fmt.Sprintf("MessageDeliver(t=%s, %d->%d, %s)", e.timestamp, e.Msg.From, e.Msg.To, e.Msg.Payload.Kind)
}

// TimerName identifies a recurring node timer.
type TimerName string

const (
	// TimerRepair drives the primary's periodic re-send of log suffixes
	// to lagging backups, giving liveness under message drops.
	TimerRepair TimerName = "repair"
)

// TimerFireEvent fires a named timer on a node.
type TimerFireEvent struct {
	timestamp VirtualTime
	Node      NodeID
	Name      TimerName
}

func NewTimerFireEvent(timestamp VirtualTime, node NodeID, name TimerName) *TimerFireEvent {
	return &TimerFireEvent{timestamp: timestamp, Node: node, Name: name}
}

func (e *TimerFireEvent) Timestamp() VirtualTime { return e.timestamp }
func (e *TimerFireEvent) Kind() EventKind        { return EventTimerFire }
func (e *TimerFireEvent) String() string {
	return fmt.Sprintf("TimerFire(t=%s, node=%d, %s)", e.timestamp, e.Node, e.Name)
}

// DiskOpKind identifies the disk operation a completion event reports.
type DiskOpKind int

const (
	DiskOpWrite DiskOpKind = iota
	DiskOpRead
	DiskOpFsync
)

func (k DiskOpKind) String() string {
	switch k {
	case DiskOpWrite:
		return "write"
	case DiskOpRead:
		return "read"
	case DiskOpFsync:
		return "fsync"
	default:
		return "unknown"
	}
}

// DiskCompleteEvent reports completion of a disk operation. State
// transitions happen when the operation is issued; the completion event
// accounts for the sampled I/O latency in the event trace.
type DiskCompleteEvent struct {
	timestamp VirtualTime
	Node      NodeID
	Op        DiskOpKind
	Addr      uint64
}

func NewDiskCompleteEvent(timestamp VirtualTime, node NodeID, op DiskOpKind, addr uint64) *DiskCompleteEvent {
	return &DiskCompleteEvent{timestamp: timestamp, Node: node, Op: op, Addr: addr}
}

func (e *DiskCompleteEvent) Timestamp() VirtualTime { return e.timestamp }
func (e *DiskCompleteEvent) Kind() EventKind        { return EventDiskComplete }
func (e *DiskCompleteEvent) String() string {
	return fmt.Sprintf("DiskComplete(t=%s, node=%d, %s, addr=%d)", e.timestamp, e.Node, e.Op, e.Addr)
}

// FaultTriggerEvent is the periodic opportunity for cluster-level faults
// (node crashes, network partitions). Self-perpetuating while the
// iteration runs.
type FaultTriggerEvent struct {
	timestamp VirtualTime
}

func NewFaultTriggerEvent(timestamp VirtualTime) *FaultTriggerEvent {
	return &FaultTriggerEvent{timestamp: timestamp}
}

func (e *FaultTriggerEvent) Timestamp() VirtualTime { return e.timestamp }
func (e *FaultTriggerEvent) Kind() EventKind        { return EventFaultTrigger }
func (e *FaultTriggerEvent) String() string {
	return fmt.Sprintf("FaultTrigger(t=%s)", e.timestamp)
}

// NodeCrashEvent crashes a node immediately; unfsynced disk state is lost.
type NodeCrashEvent struct {
	timestamp VirtualTime
	Node      NodeID
}

func NewNodeCrashEvent(timestamp VirtualTime, node NodeID) *NodeCrashEvent {
	return &NodeCrashEvent{timestamp: timestamp, Node: node}
}

func (e *NodeCrashEvent) Timestamp() VirtualTime { return e.timestamp }
func (e *NodeCrashEvent) Kind() EventKind        { return EventNodeCrash }
func (e *NodeCrashEvent) String() string {
	return fmt.Sprintf("NodeCrash(t=%s, node=%d)", e.timestamp, e.Node)
}

// NodeRestartEvent restarts a crashed node from its durable disk state.
type NodeRestartEvent struct {
	timestamp VirtualTime
	Node      NodeID
}

func NewNodeRestartEvent(timestamp VirtualTime, node NodeID) *NodeRestartEvent {
	return &NodeRestartEvent{timestamp: timestamp, Node: node}
}

func (e *NodeRestartEvent) Timestamp() VirtualTime { return e.timestamp }
func (e *NodeRestartEvent) Kind() EventKind        { return EventNodeRestart }
func (e *NodeRestartEvent) String() string {
	return fmt.Sprintf("NodeRestart(t=%s, node=%d)", e.timestamp, e.Node)
}

// ClientOpEvent is a synthetic client operation produced by the workload
// generator.
type ClientOpEvent struct {
	timestamp VirtualTime
	Op        ClientOp
}

func NewClientOpEvent(timestamp VirtualTime, op ClientOp) *ClientOpEvent {
	return &ClientOpEvent{timestamp: timestamp, Op: op}
}

func (e *ClientOpEvent) Timestamp() VirtualTime { return e.timestamp }
func (e *ClientOpEvent) Kind() EventKind        { return EventClientOp }
func (e *ClientOpEvent) String() string {
	return fmt.Sprintf("ClientOp(t=%s, %s)", e.timestamp, e.Op)
}

// WorkloadTickEvent schedules the next batch of client operations.
type WorkloadTickEvent struct {
	timestamp VirtualTime
}

func NewWorkloadTickEvent(timestamp VirtualTime) *WorkloadTickEvent {
	return &WorkloadTickEvent{timestamp: timestamp}
}

func (e *WorkloadTickEvent) Timestamp() VirtualTime { return e.timestamp }
func (e *WorkloadTickEvent) Kind() EventKind        { return EventWorkloadTick }
func (e *WorkloadTickEvent) String() string {
	return fmt.Sprintf("WorkloadTick(t=%s)", e.timestamp)
}

// FsyncTickEvent triggers a periodic fsync on every running node,
// promoting pending disk writes to durable state.
type FsyncTickEvent struct {
	timestamp VirtualTime
}

func NewFsyncTickEvent(timestamp VirtualTime) *FsyncTickEvent {
	return &FsyncTickEvent{timestamp: timestamp}
}

func (e *FsyncTickEvent) Timestamp() VirtualTime { return e.timestamp }
func (e *FsyncTickEvent) Kind() EventKind        { return EventFsyncTick }
func (e *FsyncTickEvent) String() string {
	return fmt.Sprintf("FsyncTick(t=%s)", e.timestamp)
}

// InvariantCheckEvent is a checkpoint at which checkpoint-cadence
// invariants are evaluated.
type InvariantCheckEvent struct {
	timestamp VirtualTime
}

func NewInvariantCheckEvent(timestamp VirtualTime) *InvariantCheckEvent {
	return &InvariantCheckEvent{timestamp: timestamp}
}

func (e *InvariantCheckEvent) Timestamp() VirtualTime { return e.timestamp }
func (e *InvariantCheckEvent) Kind() EventKind        { return EventInvariantCheck }
func (e *InvariantCheckEvent) String() string {
	return fmt.Sprintf("InvariantCheck(t=%s)", e.timestamp)
}

// CheckpointCreateEvent snapshots every node's durable disk state.
type CheckpointCreateEvent struct {
	timestamp    VirtualTime
	CheckpointID uint64
}

func NewCheckpointCreateEvent(timestamp VirtualTime, id uint64) *CheckpointCreateEvent {
	return &CheckpointCreateEvent{timestamp: timestamp, CheckpointID: id}
}

func (e *CheckpointCreateEvent) Timestamp() VirtualTime { return e.timestamp }
func (e *CheckpointCreateEvent) Kind() EventKind        { return EventCheckpointCreate }
func (e *CheckpointCreateEvent) String() string {
	return fmt.Sprintf("CheckpointCreate(t=%s, id=%d)", e.timestamp, e.CheckpointID)
}

// PartitionHealEvent removes a network partition between two nodes.
type PartitionHealEvent struct {
	timestamp VirtualTime
	A, B      NodeID
}

func NewPartitionHealEvent(timestamp VirtualTime, a, b NodeID) *PartitionHealEvent {
	return &PartitionHealEvent{timestamp: timestamp, A: a, B: b}
}

func (e *PartitionHealEvent) Timestamp() VirtualTime { return e.timestamp }
func (e *PartitionHealEvent) Kind() EventKind        { return EventPartitionHeal }
func (e *PartitionHealEvent) String() string {
	return fmt.Sprintf("PartitionHeal(t=%s, %d<->%d)", e.timestamp, e.A, e.B)
}
