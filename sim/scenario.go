package sim

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Scenario is a complete iteration configuration: cluster shape, world
// model latencies, workload mix, fault plan, and run limits. Scenarios
// are plain data; two iterations with the same scenario and seed produce
// the same trace.
type Scenario struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	ClusterSize int `json:"clusterSize" yaml:"clusterSize"`

	Network  NetworkConfig  `json:"network" yaml:"network"`
	Disk     DiskConfig     `json:"disk" yaml:"disk"`
	Workload WorkloadConfig `json:"workload" yaml:"workload"`

	// Faults maps fault point names to activation probabilities. Unknown
	// names are rejected at validation.
	Faults map[string]float64 `json:"faults,omitempty" yaml:"faults,omitempty"`

	// Recurring intervals driving the iteration.
	FaultTickInterval  VirtualTime `json:"faultTickIntervalNs" yaml:"faultTickIntervalNs"`
	FsyncInterval      VirtualTime `json:"fsyncIntervalNs" yaml:"fsyncIntervalNs"`
	CheckpointInterval VirtualTime `json:"checkpointIntervalNs" yaml:"checkpointIntervalNs"`
	RepairInterval     VirtualTime `json:"repairIntervalNs" yaml:"repairIntervalNs"`

	// RestartDelay is how long a crashed node stays down; Partition
	// Duration is how long an injected partition lasts before healing.
	RestartDelay      LatencyConfig `json:"restartDelay" yaml:"restartDelay"`
	PartitionDuration LatencyConfig `json:"partitionDuration" yaml:"partitionDuration"`

	// Run limits; zero means unlimited.
	MaxEvents uint64      `json:"maxEvents" yaml:"maxEvents"`
	MaxTime   VirtualTime `json:"maxTimeNs" yaml:"maxTimeNs"`
}

// Validate checks the whole scenario.
func (s Scenario) Validate() error {
	if s.Name == "" {
		return ErrInvalidConfig("scenario name must not be empty")
	}
	if s.ClusterSize < 3 {
		return ErrInvalidConfig("clusterSize must be at least 3, got %d", s.ClusterSize)
	}
	if err := s.Network.Validate(); err != nil {
		return err
	}
	if err := s.Disk.Validate(); err != nil {
		return err
	}
	if err := s.Workload.Validate(); err != nil {
		return err
	}
	for name, p := range s.Faults {
		if !KnownFaultPoint(name) {
			return ErrInvalidConfig("unknown fault point %q", name)
		}
		if p < 0 || p > 1 {
			return ErrInvalidConfig("fault point %q probability %.3f outside [0, 1]", name, p)
		}
	}
	if s.FaultTickInterval <= 0 {
		return ErrInvalidConfig("faultTickIntervalNs must be positive")
	}
	if s.FsyncInterval <= 0 {
		return ErrInvalidConfig("fsyncIntervalNs must be positive")
	}
	if s.CheckpointInterval <= 0 {
		return ErrInvalidConfig("checkpointIntervalNs must be positive")
	}
	if s.RepairInterval <= 0 {
		return ErrInvalidConfig("repairIntervalNs must be positive")
	}
	if err := s.RestartDelay.Validate("restartDelay"); err != nil {
		return err
	}
	if err := s.PartitionDuration.Validate("partitionDuration"); err != nil {
		return err
	}
	if s.MaxEvents == 0 && s.MaxTime == 0 {
		return ErrInvalidConfig("scenario must bound the run with maxEvents or maxTimeNs")
	}
	return nil
}

// baseScenario is the shared skeleton the catalog entries customize.
func baseScenario() Scenario {
	return Scenario{
		ClusterSize: 3,
		Network: NetworkConfig{
			Latency:     LatencyConfig{Dist: DistUniform, Min: 50 * Microsecond, Max: 5 * Millisecond},
			MaxInFlight: 4096,
		},
		Disk: DiskConfig{
			WriteLatency: LatencyConfig{Dist: DistUniform, Min: 100 * Microsecond, Max: 2 * Millisecond},
			ReadLatency:  LatencyConfig{Dist: DistUniform, Min: 50 * Microsecond, Max: Millisecond},
			FsyncLatency: LatencyConfig{Dist: DistUniform, Min: 500 * Microsecond, Max: 5 * Millisecond},
		},
		Workload: WorkloadConfig{
			Space:        TenantSpace{Tenants: 4, KeysPerTenant: 1024},
			WriteWeight:  0.6,
			ReadWeight:   0.3,
			ScanWeight:   0.1,
			OpsPerTick:   4,
			TickInterval: 10 * Millisecond,
			TotalOps:     2000,
		},
		FaultTickInterval:  50 * Millisecond,
		FsyncInterval:      100 * Millisecond,
		CheckpointInterval: 500 * Millisecond,
		RepairInterval:     200 * Millisecond,
		RestartDelay:       LatencyConfig{Dist: DistUniform, Min: 100 * Millisecond, Max: Second},
		PartitionDuration:  LatencyConfig{Dist: DistUniform, Min: 200 * Millisecond, Max: 2 * Second},
		MaxEvents:          2_000_000,
		MaxTime:            10 * 60 * Second,
	}
}

// Scenarios is the built-in catalog.
func Scenarios() []Scenario {
	baseline := baseScenario()
	baseline.Name = "baseline"
	baseline.Description = "fault-free run establishing the clean trace"

	network := baseScenario()
	network.Name = "network-faults"
	network.Description = "message delay, drop, duplication, reordering, and corruption"
	network.Faults = map[string]float64{
		"network.delay":     0.05,
		"network.drop":      0.02,
		"network.duplicate": 0.02,
		"network.reorder":   0.03,
		"network.corrupt":   0.01,
	}

	disk := baseScenario()
	disk.Name = "disk-faults"
	disk.Description = "write failures, torn writes, corruption, and fsync loss"
	disk.Faults = map[string]float64{
		"disk.write-fail":    0.01,
		"disk.corrupt-write": 0.005,
		"disk.torn-write":    0.005,
		"disk.read-corrupt":  0.005,
		"disk.fsync-fail":    0.01,
	}

	crash := baseScenario()
	crash.Name = "crash-restart"
	crash.Description = "backup crashes with durable-state recovery and catch-up"
	crash.Faults = map[string]float64{
		"node.crash": 0.10,
	}

	tenants := baseScenario()
	tenants.Name = "multi-tenant"
	tenants.Description = "heavier tenant mix exercising isolation under light faults"
	tenants.Workload.Space = TenantSpace{Tenants: 16, KeysPerTenant: 256}
	tenants.Workload.ScanWeight = 0.3
	tenants.Workload.ReadWeight = 0.2
	tenants.Workload.WriteWeight = 0.5
	tenants.Faults = map[string]float64{
		"network.delay": 0.05,
		"network.drop":  0.01,
	}

	gray := baseScenario()
	gray.Name = "gray-failure"
	gray.Description = "degraded-but-alive components: heavy delays and slow, flaky I/O"
	gray.Network.Latency = LatencyConfig{Dist: DistExponential, Min: 50 * Microsecond, Max: 50 * Millisecond}
	gray.Disk.WriteLatency = LatencyConfig{Dist: DistExponential, Min: 100 * Microsecond, Max: 20 * Millisecond}
	gray.Disk.FsyncLatency = LatencyConfig{Dist: DistExponential, Min: 500 * Microsecond, Max: 50 * Millisecond}
	gray.Faults = map[string]float64{
		"network.delay":   0.25,
		"network.drop":    0.005,
		"disk.fsync-fail": 0.02,
	}

	combined := baseScenario()
	combined.Name = "combined"
	combined.Description = "every fault point enabled at once"
	combined.ClusterSize = 5
	combined.Faults = map[string]float64{
		"network.delay":      0.05,
		"network.drop":       0.02,
		"network.duplicate":  0.02,
		"network.reorder":    0.03,
		"network.corrupt":    0.01,
		"network.partition":  0.05,
		"disk.write-fail":    0.01,
		"disk.corrupt-write": 0.005,
		"disk.torn-write":    0.005,
		"disk.read-corrupt":  0.005,
		"disk.fsync-fail":    0.01,
		"node.crash":         0.08,
	}

	return []Scenario{baseline, network, disk, crash, tenants, gray, combined}
}

// ScenarioNames returns the catalog names, sorted.
func ScenarioNames() []string {
	scenarios := Scenarios()
	names := make([]string, len(scenarios))
	for i, s := range scenarios {
		names[i] = s.Name
	}
	sort.Strings(names)
	return names
}

// ScenarioByName looks up a catalog scenario.
func ScenarioByName(name string) (Scenario, error) {
	for _, s := range Scenarios() {
		if s.Name == name {
			return s, nil
		}
	}
	return Scenario{}, ErrInvalidConfig("unknown scenario %q (available: %v)", name, ScenarioNames())
}

// scenarioFile is the YAML override format: a catalog base plus a sparse
// scenario overlay.
type scenarioFile struct {
	Base     string   `yaml:"base"`
	Scenario yaml.Node `yaml:"scenario"`
}

// LoadScenarioFile reads a YAML scenario definition. The file names a
// catalog scenario as its base; fields present under scenario: override
// the base, fields absent keep the base's values.
func LoadScenarioFile(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario file: %w", err)
	}
	var file scenarioFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Scenario{}, ErrInvalidConfig("parse scenario file %s: %v", path, err)
	}
	base := baseScenario()
	base.Name = "custom"
	if file.Base != "" {
		base, err = ScenarioByName(file.Base)
		if err != nil {
			return Scenario{}, err
		}
	}
	if !file.Scenario.IsZero() {
		if err := file.Scenario.Decode(&base); err != nil {
			return Scenario{}, ErrInvalidConfig("decode scenario overrides in %s: %v", path, err)
		}
	}
	if err := base.Validate(); err != nil {
		return Scenario{}, err
	}
	return base, nil
}
