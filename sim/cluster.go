package sim

// NodeState is the lifecycle state of one cluster node.
type NodeState int

const (
	NodeRunning NodeState = iota
	NodeCrashed
	NodeRestarting
)

func (s NodeState) String() string {
	switch s {
	case NodeRunning:
		return "running"
	case NodeCrashed:
		return "crashed"
	case NodeRestarting:
		return "restarting"
	default:
		return "unknown"
	}
}

type clusterNode struct {
	id          NodeID
	sut         SystemUnderTest
	disk        *Disk
	state       NodeState
	incarnation int
}

// RunOptions tune one iteration without changing its semantics. LogEvent
// and trace retention never feed back into simulated state, so toggling
// them cannot change the trace digest.
type RunOptions struct {
	KeepTrace bool
	LogEvent  func(msg string)
}

// RunResult is everything one iteration produced.
type RunResult struct {
	Seed     uint64 `json:"seed"`
	Scenario string `json:"scenario"`

	EventsProcessed uint64      `json:"eventsProcessed"`
	FinalTime       VirtualTime `json:"finalTimeNs"`
	TraceDigest     uint64      `json:"traceDigest"`
	TraceEvents     uint64      `json:"traceEvents"`

	// Per-node hashes in node ID order.
	DiskHashes  []uint64 `json:"diskHashes"`
	StateHashes []uint64 `json:"stateHashes"`

	Checkpoints uint64 `json:"checkpoints"`
	Quiesced    bool   `json:"quiesced"`

	Violations []InvariantViolation `json:"violations,omitempty"`
	Failed     bool                 `json:"failed"`

	Network  NetworkStats       `json:"network"`
	Disk     DiskStats          `json:"disk"`
	Ops      ModelStats         `json:"ops"`
	Coverage *IterationCoverage `json:"coverage"`

	Trace []TraceRecord `json:"trace,omitempty"`
}

// Cluster hosts one iteration: the scheduler, the world model (network
// and disks), the replicas, the workload, the oracle, and the invariant
// registry. Everything is single-threaded and owned by the iteration.
type Cluster struct {
	scenario Scenario
	seed     uint64
	opts     RunOptions

	sim      *Simulation
	rng      *Rng
	injector *Injector
	network  *Network
	nodes    []*clusterNode
	primary  NodeID

	workload  *Workload
	model     *Model
	registry  *Registry
	tenantIso *TenantIsolation
	ryw       *ReadYourWrites
	coverage  *IterationCoverage
	trace     *Trace

	violations  []InvariantViolation
	fatalHit    bool
	checkpoints uint64
	lastSnaps   []*DiskCheckpoint
}

// NewCluster wires up one iteration from a validated scenario and seed.
func NewCluster(scenario Scenario, seed uint64, opts RunOptions) (*Cluster, error) {
	if err := scenario.Validate(); err != nil {
		return nil, err
	}

	c := &Cluster{
		scenario: scenario,
		seed:     seed,
		opts:     opts,
		primary:  0,
	}
	c.sim = NewSimulation(scenario.MaxEvents, scenario.MaxTime)
	c.sim.LogEvent = opts.LogEvent
	c.rng = NewRng(seed)

	tenantIso := NewTenantIsolation()
	ryw := NewReadYourWrites()
	c.tenantIso = tenantIso
	c.ryw = ryw
	c.registry = NewRegistry(
		NewCommitMonotonic(),
		NewPrefixConsistency(),
		NewCommittedDurable(),
		tenantIso,
		ryw,
		NewLogIntegrity(),
	)

	// The enabled fault set is derived in registration order so the
	// coverage map exists before the injector that records into it.
	enabled := make([]string, 0, len(scenario.Faults))
	for _, p := range allFaultPoints() {
		if _, ok := scenario.Faults[p.Name]; ok {
			enabled = append(enabled, p.Name)
		}
	}
	c.coverage = NewIterationCoverage(enabled, c.registry.Names())

	injector, err := NewInjector(scenario.Faults, c.rng, c.coverage)
	if err != nil {
		return nil, err
	}
	c.injector = injector

	c.network = NewNetwork(scenario.Network, c.sim, c.rng, injector)
	for i := 0; i < scenario.ClusterSize; i++ {
		id := NodeID(i)
		disk := NewDisk(scenario.Disk, id, c.sim, c.rng, injector)
		c.nodes = append(c.nodes, &clusterNode{
			id:   id,
			sut:  NewReplica(id, scenario.ClusterSize, c.primary, disk),
			disk: disk,
		})
	}

	c.workload = NewWorkload(scenario.Workload, scenario.ClusterSize, c.rng)
	c.model = NewModel()
	c.trace = NewTrace(opts.KeepTrace)
	c.lastSnaps = make([]*DiskCheckpoint, scenario.ClusterSize)
	return c, nil
}

// Run executes the iteration to completion and returns its result. An
// error here is an infrastructure failure; invariant violations are
// reported in the result, not as errors.
func (c *Cluster) Run() (*RunResult, error) {
	c.seedInitialEvents()

	err := c.sim.RunUntil(c.done, func(event Event) error {
		c.trace.Record(event)
		c.dispatch(event)
		c.checkInvariants(CadenceEveryEvent)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// An aborted iteration tears the queue down so nothing dangles into
	// later inspection.
	if c.fatalHit {
		c.sim.Drain()
	}

	// Final sweep: checkpoint-cadence and end-of-run invariants see the
	// settled state.
	c.checkInvariants(CadenceCheckpoint)
	c.checkInvariants(CadenceEndOfRun)

	return c.result(), nil
}

func (c *Cluster) seedInitialEvents() {
	s := c.scenario
	c.sim.Schedule(NewWorkloadTickEvent(s.Workload.TickInterval))
	c.sim.Schedule(NewFsyncTickEvent(s.FsyncInterval))
	c.sim.Schedule(NewFaultTriggerEvent(s.FaultTickInterval))
	c.sim.Schedule(NewInvariantCheckEvent(s.CheckpointInterval))
	c.sim.Schedule(NewCheckpointCreateEvent(s.CheckpointInterval+s.CheckpointInterval/2, 0))
	for _, n := range c.nodes {
		c.sim.Schedule(NewTimerFireEvent(s.RepairInterval, n.id, TimerRepair))
	}
}

// done reports whether the iteration stops: a fatal violation halts it
// immediately, otherwise it runs to full quiescence.
func (c *Cluster) done() bool {
	return c.fatalHit || c.quiesced()
}

// quiesced holds when the workload is exhausted and the cluster has
// converged: every node running, every log caught up, and every accepted
// write committed.
func (c *Cluster) quiesced() bool {
	if !c.workload.Exhausted() {
		return false
	}
	accepted := c.model.Stats().WritesAccepted
	primaryLen := c.nodes[c.primary].sut.LogLen()
	if c.nodes[c.primary].sut.CommitIndex() != accepted || primaryLen != accepted {
		return false
	}
	for _, n := range c.nodes {
		if n.state != NodeRunning {
			return false
		}
		if n.sut.LogLen() != primaryLen || n.sut.CommitIndex() != accepted {
			return false
		}
	}
	return true
}

func (c *Cluster) dispatch(event Event) {
	switch ev := event.(type) {
	case *MessageDeliverEvent:
		c.handleDeliver(ev)
	case *TimerFireEvent:
		c.handleTimer(ev)
	case *DiskCompleteEvent:
		// Latency accounting only; state moved when the op was issued.
	case *FaultTriggerEvent:
		c.handleFaultTrigger()
	case *NodeCrashEvent:
		c.handleCrash(ev.Node)
	case *NodeRestartEvent:
		c.handleRestart(ev.Node)
	case *ClientOpEvent:
		c.handleClientOp(ev.Op)
	case *WorkloadTickEvent:
		c.handleWorkloadTick()
	case *FsyncTickEvent:
		c.handleFsyncTick()
	case *InvariantCheckEvent:
		c.checkInvariants(CadenceCheckpoint)
		if !c.quiesced() {
			c.sim.Schedule(NewInvariantCheckEvent(c.sim.Now() + c.scenario.CheckpointInterval))
		}
	case *CheckpointCreateEvent:
		c.handleCheckpoint(ev.CheckpointID)
	case *PartitionHealEvent:
		c.network.Heal(ev.A, ev.B)
	}
}

// send pushes a node's outgoing messages into the network.
func (c *Cluster) send(from NodeID, msgs []NodeMessage) {
	for _, m := range msgs {
		c.network.Send(from, m.To, m)
	}
}

// drainCommitted moves newly committed entries from the primary into the
// oracle. Called after any step that can advance the commit index.
func (c *Cluster) drainCommitted() {
	c.model.RecordCommitted(c.nodes[c.primary].sut.TakeCommitted())
}

func (c *Cluster) handleDeliver(ev *MessageDeliverEvent) {
	c.network.Delivered()
	target := c.nodes[ev.Msg.To]
	if target.state != NodeRunning {
		return
	}
	out := target.sut.Deliver(ev.Msg.From, ev.Msg.Payload)
	c.send(target.id, out)
	c.drainCommitted()
}

func (c *Cluster) handleTimer(ev *TimerFireEvent) {
	n := c.nodes[ev.Node]
	if n.state == NodeRunning {
		c.send(n.id, n.sut.Tick())
	}
	if !c.quiesced() {
		c.sim.Schedule(NewTimerFireEvent(c.sim.Now()+c.scenario.RepairInterval, ev.Node, ev.Name))
	}
}

// handleFaultTrigger is the periodic opportunity for cluster-level
// faults. Injection stops once the workload is exhausted so the cluster
// can converge during the drain phase.
func (c *Cluster) handleFaultTrigger() {
	if c.workload.Exhausted() {
		return
	}
	if action := c.injector.MaybeInject(SiteClusterTick); action != nil {
		switch action.Kind {
		case ActionCrash:
			if victim, ok := c.pickCrashVictim(); ok {
				c.sim.Schedule(NewNodeCrashEvent(c.sim.Now(), victim))
				restartAt := c.sim.Now() + c.scenario.RestartDelay.Sample(c.rng)
				c.sim.Schedule(NewNodeRestartEvent(restartAt, victim))
			}
		case ActionPartition:
			a, b := c.pickPartitionPair()
			c.network.Partition(a, b)
			healAt := c.sim.Now() + c.scenario.PartitionDuration.Sample(c.rng)
			c.sim.Schedule(NewPartitionHealEvent(healAt, a, b))
		}
	}
	c.sim.Schedule(NewFaultTriggerEvent(c.sim.Now() + c.scenario.FaultTickInterval))
}

// pickCrashVictim selects a running backup, and only when every other
// node is up: the primary is never crashed and at most one node is down
// at a time, preserving quorum.
func (c *Cluster) pickCrashVictim() (NodeID, bool) {
	var candidates []NodeID
	for _, n := range c.nodes {
		if n.state != NodeRunning {
			return 0, false
		}
		if n.id != c.primary {
			candidates = append(candidates, n.id)
		}
	}
	return candidates[c.rng.Intn(len(candidates))], true
}

func (c *Cluster) pickPartitionPair() (NodeID, NodeID) {
	n := len(c.nodes)
	a := c.rng.Intn(n)
	b := c.rng.Intn(n - 1)
	if b >= a {
		b++
	}
	return NodeID(a), NodeID(b)
}

func (c *Cluster) handleCrash(id NodeID) {
	n := c.nodes[id]
	if n.state == NodeCrashed {
		return
	}
	n.state = NodeCrashed
	n.disk.DropPending()
	n.sut.Crash()
	c.sim.logf("node %d crashed at %s", id, c.sim.Now())
}

func (c *Cluster) handleRestart(id NodeID) {
	n := c.nodes[id]
	if n.state != NodeCrashed {
		return
	}
	n.state = NodeRestarting
	n.incarnation++
	out := n.sut.Restart()
	n.state = NodeRunning
	c.send(n.id, out)
	c.sim.logf("node %d restarted at %s (incarnation %d)", id, c.sim.Now(), n.incarnation)
}

func (c *Cluster) handleClientOp(op ClientOp) {
	switch op.Kind {
	case OpWrite:
		primary := c.nodes[c.primary]
		out, err := primary.sut.SubmitWrite(op)
		if err != nil {
			// Disk write failures reject the op; the client never saw an
			// ack, so the oracle must not expect the value.
			c.model.RecordRejected()
			return
		}
		c.model.RecordWrite(op)
		c.send(primary.id, out)
		c.drainCommitted()
	case OpRead:
		primary := c.nodes[c.primary]
		got, gotOK := primary.sut.Get(op.Tenant, op.Key)
		want, wantOK := c.model.ExpectedValue(op.Tenant, op.Key)
		c.ryw.ObserveRead(op, got, gotOK, want, wantOK)
		c.model.RecordReadChecked()
	case OpScan:
		n := c.nodes[op.Node]
		if n.state != NodeRunning {
			return
		}
		entries := n.sut.Scan(op.Tenant)
		c.tenantIso.ObserveScan(c.scenario.Workload.Space, op.Tenant, op.Node, entries)
		c.model.RecordScanChecked()
	}
}

func (c *Cluster) handleWorkloadTick() {
	for _, op := range c.workload.NextBatch() {
		c.sim.Schedule(NewClientOpEvent(c.sim.Now(), op))
	}
	if !c.workload.Exhausted() {
		c.sim.Schedule(NewWorkloadTickEvent(c.sim.Now() + c.scenario.Workload.TickInterval))
	}
}

func (c *Cluster) handleFsyncTick() {
	for _, n := range c.nodes {
		if n.state == NodeRunning {
			_ = n.disk.Fsync() // injected failures surface via the fault plan
		}
	}
	if !c.quiesced() {
		c.sim.Schedule(NewFsyncTickEvent(c.sim.Now() + c.scenario.FsyncInterval))
	}
}

func (c *Cluster) handleCheckpoint(id uint64) {
	c.checkpoints++
	for i, n := range c.nodes {
		c.lastSnaps[i] = n.disk.Checkpoint()
	}
	if !c.quiesced() {
		c.sim.Schedule(NewCheckpointCreateEvent(c.sim.Now()+c.scenario.CheckpointInterval, id+1))
	}
}

func (c *Cluster) checkContext() *CheckContext {
	ctx := &CheckContext{
		Now:     c.sim.Now(),
		Primary: c.primary,
		Model:   c.model,
		Space:   c.scenario.Workload.Space,
	}
	for _, n := range c.nodes {
		ctx.Nodes = append(ctx.Nodes, NodeInfo{
			ID:          n.id,
			Running:     n.state == NodeRunning,
			Incarnation: n.incarnation,
			SUT:         n.sut,
		})
	}
	return ctx
}

func (c *Cluster) checkInvariants(cadence Cadence) {
	violations := c.registry.Check(cadence, c.checkContext(), c.coverage)
	for _, v := range violations {
		c.violations = append(c.violations, v)
		if v.Severity == SeverityFatal {
			c.fatalHit = true
		}
		c.sim.logf("invariant violation: %s", v)
	}
}

func (c *Cluster) result() *RunResult {
	r := &RunResult{
		Seed:            c.seed,
		Scenario:        c.scenario.Name,
		EventsProcessed: c.sim.EventsProcessed(),
		FinalTime:       c.sim.Now(),
		TraceDigest:     c.trace.Digest(),
		TraceEvents:     c.trace.Count(),
		Checkpoints:     c.checkpoints,
		Quiesced:        c.quiesced(),
		Violations:      c.violations,
		Failed:          c.fatalHit,
		Network:         c.network.Stats(),
		Ops:             c.model.Stats(),
		Coverage:        c.coverage,
		Trace:           c.trace.Records(),
	}
	for _, n := range c.nodes {
		r.DiskHashes = append(r.DiskHashes, n.disk.StateHash())
		r.StateHashes = append(r.StateHashes, n.sut.StateHash())
		ds := n.disk.Stats()
		r.Disk.Writes += ds.Writes
		r.Disk.Reads += ds.Reads
		r.Disk.Fsyncs += ds.Fsyncs
		r.Disk.WriteFails += ds.WriteFails
		r.Disk.FsyncFails += ds.FsyncFails
		r.Disk.CorruptedOps += ds.CorruptedOps
	}
	return r
}
