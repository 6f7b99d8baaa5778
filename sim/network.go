package sim

import "fmt"

// Message is one in-flight network message. Payload is the typed node
// protocol message; the network treats it as opaque except for the
// Corrupt flag set by fault injection.
type Message struct {
	ID      uint64
	From    NodeID
	To      NodeID
	Payload NodeMessage
}

func (m Message) String() string {
	return fmt.Sprintf("msg#%d %d->%d %s", m.ID, m.From, m.To, m.Payload.Kind)
}

// NetworkConfig shapes the simulated network.
type NetworkConfig struct {
	Latency     LatencyConfig `json:"latency" yaml:"latency"`
	MaxInFlight int           `json:"maxInFlight" yaml:"maxInFlight"`
}

// Validate checks the network configuration.
func (c NetworkConfig) Validate() error {
	if err := c.Latency.Validate("network.latency"); err != nil {
		return err
	}
	if c.MaxInFlight <= 0 {
		return ErrInvalidConfig("network.maxInFlight must be positive, got %d", c.MaxInFlight)
	}
	return nil
}

// NetworkStats counts what the network did to traffic during one
// iteration.
type NetworkStats struct {
	Sent        uint64 `json:"sent"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
	Duplicated  uint64 `json:"duplicated"`
	Reordered   uint64 `json:"reordered"`
	Delayed     uint64 `json:"delayed"`
	Corrupted   uint64 `json:"corrupted"`
	Partitioned uint64 `json:"partitioned"`
	Rejected    uint64 `json:"rejected"`
}

// Network is the simulated network substrate. All cross-node
// communication passes through it, and it is the only component permitted
// to reorder, delay, drop, or duplicate messages. It does so only under
// instruction from the fault injector, never spontaneously.
type Network struct {
	config   NetworkConfig
	sim      *Simulation
	rng      *Rng
	injector *Injector

	partitions map[[2]NodeID]bool
	inFlight   int
	nextMsgID  uint64
	stats      NetworkStats
}

// NewNetwork creates the network substrate for one iteration.
func NewNetwork(config NetworkConfig, sim *Simulation, rng *Rng, injector *Injector) *Network {
	return &Network{
		config:     config,
		sim:        sim,
		rng:        rng,
		injector:   injector,
		partitions: make(map[[2]NodeID]bool),
	}
}

// Stats returns a copy of the traffic counters.
func (n *Network) Stats() NetworkStats {
	return n.stats
}

func partitionKey(a, b NodeID) [2]NodeID {
	if a > b {
		a, b = b, a
	}
	return [2]NodeID{a, b}
}

// Partition blocks traffic between two nodes in both directions.
func (n *Network) Partition(a, b NodeID) {
	n.partitions[partitionKey(a, b)] = true
}

// Heal removes a partition between two nodes.
func (n *Network) Heal(a, b NodeID) {
	delete(n.partitions, partitionKey(a, b))
}

// IsPartitioned reports whether traffic between a and b is blocked.
func (n *Network) IsPartitioned(a, b NodeID) bool {
	return n.partitions[partitionKey(a, b)]
}

// Send enqueues a message for delivery. The message resolves by a
// MessageDeliverEvent scheduled at a latency sampled from the seeded RNG;
// the fault injector may delay, drop, duplicate, reorder, or corrupt it
// on the way.
func (n *Network) Send(from, to NodeID, payload NodeMessage) {
	n.stats.Sent++

	if n.IsPartitioned(from, to) {
		n.stats.Partitioned++
		return
	}
	if n.inFlight >= n.config.MaxInFlight {
		n.stats.Rejected++
		return
	}

	msg := Message{ID: n.nextMsgID, From: from, To: to, Payload: payload}
	n.nextMsgID++

	delay := n.config.Latency.Sample(n.rng)

	if action := n.injector.MaybeInject(SiteNetworkSend); action != nil {
		switch action.Kind {
		case ActionDrop:
			n.stats.Dropped++
			return
		case ActionDelay:
			// Stack a second latency sample on top of the base delay.
			delay += n.config.Latency.Sample(n.rng)
			n.stats.Delayed++
		case ActionDuplicate:
			dupDelay := n.config.Latency.Sample(n.rng)
			n.deliverAt(n.sim.Now()+dupDelay, msg)
			n.stats.Duplicated++
		case ActionReorder:
			// Push this message behind later traffic by inflating its
			// delay past the latency window.
			delay += n.config.Latency.Max - n.config.Latency.Min + n.config.Latency.Sample(n.rng)
			n.stats.Reordered++
		case ActionCorrupt:
			msg.Payload.Corrupt = true
			n.stats.Corrupted++
		}
	}

	n.deliverAt(n.sim.Now()+delay, msg)
}

func (n *Network) deliverAt(at VirtualTime, msg Message) {
	n.inFlight++
	n.sim.Schedule(NewMessageDeliverEvent(at, msg))
}

// Delivered is called by the dispatch loop when a MessageDeliverEvent is
// processed, releasing the in-flight slot.
func (n *Network) Delivered() {
	n.stats.Delivered++
	if n.inFlight > 0 {
		n.inFlight--
	}
}
