package sim

// TenantSpace carves the key space into disjoint per-tenant ranges.
// Tenant t owns keys [t*KeysPerTenant, (t+1)*KeysPerTenant); any entry
// stored outside its tenant's range is an isolation violation.
type TenantSpace struct {
	Tenants       int    `json:"tenants" yaml:"tenants"`
	KeysPerTenant uint64 `json:"keysPerTenant" yaml:"keysPerTenant"`
}

// Validate checks the tenant layout.
func (t TenantSpace) Validate() error {
	if t.Tenants <= 0 {
		return ErrInvalidConfig("tenants must be positive, got %d", t.Tenants)
	}
	if t.KeysPerTenant == 0 {
		return ErrInvalidConfig("keysPerTenant must be positive")
	}
	return nil
}

// KeyRange returns the half-open key range owned by a tenant.
func (t TenantSpace) KeyRange(tenant TenantID) (lo, hi uint64) {
	lo = uint64(tenant) * t.KeysPerTenant
	return lo, lo + t.KeysPerTenant
}

// Owns reports whether key falls inside tenant's range.
func (t TenantSpace) Owns(tenant TenantID, key uint64) bool {
	lo, hi := t.KeyRange(tenant)
	return key >= lo && key < hi
}

// WorkloadConfig shapes the synthetic client workload.
type WorkloadConfig struct {
	Space TenantSpace `json:"space" yaml:"space"`

	// Weights select the operation mix; they need not sum to 1 and are
	// normalized at build time.
	WriteWeight float64 `json:"writeWeight" yaml:"writeWeight"`
	ReadWeight  float64 `json:"readWeight" yaml:"readWeight"`
	ScanWeight  float64 `json:"scanWeight" yaml:"scanWeight"`

	// OpsPerTick operations are emitted per workload tick until TotalOps
	// have been produced.
	OpsPerTick   int         `json:"opsPerTick" yaml:"opsPerTick"`
	TickInterval VirtualTime `json:"tickIntervalNs" yaml:"tickIntervalNs"`
	TotalOps     uint64      `json:"totalOps" yaml:"totalOps"`
}

// Validate checks the workload configuration.
func (c WorkloadConfig) Validate() error {
	if err := c.Space.Validate(); err != nil {
		return err
	}
	if c.WriteWeight < 0 || c.ReadWeight < 0 || c.ScanWeight < 0 {
		return ErrInvalidConfig("workload weights must be non-negative")
	}
	if c.WriteWeight+c.ReadWeight+c.ScanWeight == 0 {
		return ErrInvalidConfig("at least one workload weight must be positive")
	}
	if c.OpsPerTick <= 0 {
		return ErrInvalidConfig("opsPerTick must be positive, got %d", c.OpsPerTick)
	}
	if c.TickInterval <= 0 {
		return ErrInvalidConfig("tickIntervalNs must be positive, got %d", c.TickInterval)
	}
	if c.TotalOps == 0 {
		return ErrInvalidConfig("totalOps must be positive")
	}
	return nil
}

// Workload produces the synthetic client operation stream for one
// iteration. Every choice (tenant, key, operation kind, value) comes from
// the iteration's seeded RNG, so the same seed yields the same stream.
type Workload struct {
	config   WorkloadConfig
	rng      *Rng
	clusterN int

	produced uint64
	nextSeq  uint64
}

// NewWorkload creates the workload generator for one iteration.
func NewWorkload(config WorkloadConfig, clusterSize int, rng *Rng) *Workload {
	return &Workload{config: config, rng: rng, clusterN: clusterSize}
}

// Exhausted reports whether the operation budget has been produced.
func (w *Workload) Exhausted() bool {
	return w.produced >= w.config.TotalOps
}

// Produced returns how many operations have been generated so far.
func (w *Workload) Produced() uint64 {
	return w.produced
}

// NextBatch generates up to OpsPerTick operations, fewer if the budget
// runs out mid-batch.
func (w *Workload) NextBatch() []ClientOp {
	var ops []ClientOp
	for i := 0; i < w.config.OpsPerTick && !w.Exhausted(); i++ {
		ops = append(ops, w.nextOp())
		w.produced++
	}
	return ops
}

func (w *Workload) nextOp() ClientOp {
	tenant := TenantID(w.rng.Intn(w.config.Space.Tenants))
	lo, hi := w.config.Space.KeyRange(tenant)
	key := w.rng.Range(lo, hi)

	op := ClientOp{Tenant: tenant, Key: key}
	switch w.pickKind() {
	case OpWrite:
		op.Kind = OpWrite
		op.Value = w.rng.Uint64()
		op.Node = 0 // writes go to the primary
		op.Seq = w.nextSeq
		w.nextSeq++
	case OpRead:
		op.Kind = OpRead
		op.Node = 0 // reads verified against the model at the primary
	case OpScan:
		op.Kind = OpScan
		// Scans may land on any node; only tenant isolation is checked
		// there, so replication lag is fine.
		op.Node = NodeID(w.rng.Intn(w.clusterN))
	}
	return op
}

func (w *Workload) pickKind() OpKind {
	total := w.config.WriteWeight + w.config.ReadWeight + w.config.ScanWeight
	x := w.rng.Float64() * total
	if x < w.config.WriteWeight {
		return OpWrite
	}
	if x < w.config.WriteWeight+w.config.ReadWeight {
		return OpRead
	}
	return OpScan
}
