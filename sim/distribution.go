package sim

import (
	"encoding/json"
	"fmt"
	"math"
)

// DistributionType represents different latency distributions
type DistributionType int

const (
	DistUniform DistributionType = iota
	DistExponential
	DistFixed
)

// String returns the string representation of DistributionType
func (dt DistributionType) String() string {
	switch dt {
	case DistUniform:
		return "uniform"
	case DistExponential:
		return "exponential"
	case DistFixed:
		return "fixed"
	default:
		return fmt.Sprintf("unknown(%d)", int(dt))
	}
}

// ParseDistributionType parses a string into a DistributionType
func ParseDistributionType(s string) (DistributionType, error) {
	switch s {
	case "uniform":
		return DistUniform, nil
	case "exponential":
		return DistExponential, nil
	case "fixed":
		return DistFixed, nil
	default:
		return DistUniform, fmt.Errorf("invalid DistributionType: %s (must be 'uniform', 'exponential', or 'fixed')", s)
	}
}

// MarshalJSON implements json.Marshaler for DistributionType
func (dt DistributionType) MarshalJSON() ([]byte, error) {
	return json.Marshal(dt.String())
}

// UnmarshalJSON implements json.Unmarshaler for DistributionType
func (dt *DistributionType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDistributionType(s)
	if err != nil {
		return err
	}
	*dt = parsed
	return nil
}

// Distribution samples a value within [min, max] from a shared Rng.
// Substrate latencies (network delivery, disk I/O) are drawn through this
// interface so scenarios can shape them without changing the substrates.
type Distribution interface {
	Sample(rng *Rng, min, max VirtualTime) VirtualTime
}

// UniformDistribution samples uniformly between min and max
type UniformDistribution struct{}

func (d *UniformDistribution) Sample(rng *Rng, min, max VirtualTime) VirtualTime {
	if min >= max {
		return min
	}
	return min + rng.Delay(0, max-min+1)
}

// ExponentialDistribution samples with exponential bias toward min.
// Models the long-tail latency profile of real networks and disks.
type ExponentialDistribution struct {
	Lambda float64 // Rate parameter (higher = more skewed toward min)
}

func (d *ExponentialDistribution) Sample(rng *Rng, min, max VirtualTime) VirtualTime {
	if min >= max {
		return min
	}

	// Inverse transform sampling: X = -ln(U) / lambda
	u := rng.Float64()
	if u == 0 {
		u = 1e-10 // Avoid log(0)
	}
	x := -math.Log(u) / d.Lambda

	// Normalize to [0, 1] by clamping at a reasonable upper bound.
	// For lambda=0.5, 95% of values are < 6, so use that as max.
	maxVal := 6.0 / d.Lambda
	normalized := x / maxVal
	if normalized > 1.0 {
		normalized = 1.0
	}

	scaled := normalized * float64(max-min)
	return min + VirtualTime(scaled)
}

// FixedDistribution always returns the midpoint fraction of the range.
// It still consumes one draw so that switching distributions does not
// change the RNG draw count at a call site.
type FixedDistribution struct {
	Fraction float64 // Position within [min, max] (0.0 to 1.0)
}

func (d *FixedDistribution) Sample(rng *Rng, min, max VirtualTime) VirtualTime {
	_ = rng.Float64() // keep draw count stable across distribution types
	if min >= max {
		return min
	}
	f := d.Fraction
	if f < 0.0 {
		f = 0.0
	}
	if f > 1.0 {
		f = 1.0
	}
	return min + VirtualTime(f*float64(max-min))
}

// NewDistribution creates a distribution based on type
func NewDistribution(distType DistributionType) Distribution {
	switch distType {
	case DistUniform:
		return &UniformDistribution{}
	case DistExponential:
		return &ExponentialDistribution{Lambda: 0.5}
	case DistFixed:
		return &FixedDistribution{Fraction: 0.5}
	default:
		return &UniformDistribution{}
	}
}

// LatencyConfig binds a distribution type to a latency window.
type LatencyConfig struct {
	Dist DistributionType `json:"dist" yaml:"dist"`
	Min  VirtualTime      `json:"minNs" yaml:"minNs"`
	Max  VirtualTime      `json:"maxNs" yaml:"maxNs"`
}

// Sample draws one latency value.
func (lc LatencyConfig) Sample(rng *Rng) VirtualTime {
	return NewDistribution(lc.Dist).Sample(rng, lc.Min, lc.Max)
}

// Validate checks the latency window.
func (lc LatencyConfig) Validate(name string) error {
	if lc.Min < 0 || lc.Max < 0 {
		return ErrInvalidConfig("%s: latency bounds must be non-negative", name)
	}
	if lc.Max < lc.Min {
		return ErrInvalidConfig("%s: max latency %d < min latency %d", name, lc.Max, lc.Min)
	}
	return nil
}
