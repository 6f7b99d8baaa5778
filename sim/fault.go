package sim

import "fmt"

// FaultSite identifies a category of injection opportunity. Fault points
// are registered against a site and consulted whenever the simulated
// world reaches it.
type FaultSite int

const (
	SiteNetworkSend FaultSite = iota
	SiteDiskWrite
	SiteDiskRead
	SiteDiskFsync
	SiteClusterTick
)

func (s FaultSite) String() string {
	switch s {
	case SiteNetworkSend:
		return "network.send"
	case SiteDiskWrite:
		return "disk.write"
	case SiteDiskRead:
		return "disk.read"
	case SiteDiskFsync:
		return "disk.fsync"
	case SiteClusterTick:
		return "cluster.tick"
	default:
		return "unknown"
	}
}

// FaultActionKind is the concrete action a fired fault point takes.
type FaultActionKind int

const (
	ActionDelay FaultActionKind = iota
	ActionDrop
	ActionDuplicate
	ActionReorder
	ActionCorrupt
	ActionWriteFail
	ActionTornWrite
	ActionFsyncFail
	ActionReadCorrupt
	ActionCrash
	ActionPartition
)

func (k FaultActionKind) String() string {
	switch k {
	case ActionDelay:
		return "delay"
	case ActionDrop:
		return "drop"
	case ActionDuplicate:
		return "duplicate"
	case ActionReorder:
		return "reorder"
	case ActionCorrupt:
		return "corrupt"
	case ActionWriteFail:
		return "write-fail"
	case ActionTornWrite:
		return "torn-write"
	case ActionFsyncFail:
		return "fsync-fail"
	case ActionReadCorrupt:
		return "read-corrupt"
	case ActionCrash:
		return "crash"
	case ActionPartition:
		return "partition"
	default:
		return "unknown"
	}
}

// FaultPoint is a named, stateless fault template: a site, an action, an
// activation probability, and an enablement flag. Scenarios enable points
// and scale probabilities; the injector instantiates concrete occurrences
// at runtime.
type FaultPoint struct {
	Name        string          `json:"name" yaml:"name"`
	Site        FaultSite       `json:"-" yaml:"-"`
	Action      FaultActionKind `json:"-" yaml:"-"`
	Probability float64         `json:"probability" yaml:"probability"`
	Enabled     bool            `json:"enabled" yaml:"enabled"`
}

// FaultAction is a concrete fault occurrence returned by MaybeInject.
type FaultAction struct {
	Point string
	Kind  FaultActionKind
}

func (a FaultAction) String() string {
	return fmt.Sprintf("%s(%s)", a.Point, a.Kind)
}

// allFaultPoints is the canonical fault point registry: every point the
// simulator knows how to inject, in its fixed registration order.
// Scenarios select from this list by name; unknown names are a
// configuration error.
func allFaultPoints() []FaultPoint {
	return []FaultPoint{
		{Name: "network.delay", Site: SiteNetworkSend, Action: ActionDelay},
		{Name: "network.drop", Site: SiteNetworkSend, Action: ActionDrop},
		{Name: "network.duplicate", Site: SiteNetworkSend, Action: ActionDuplicate},
		{Name: "network.reorder", Site: SiteNetworkSend, Action: ActionReorder},
		{Name: "network.corrupt", Site: SiteNetworkSend, Action: ActionCorrupt},
		{Name: "network.partition", Site: SiteClusterTick, Action: ActionPartition},
		{Name: "disk.write-fail", Site: SiteDiskWrite, Action: ActionWriteFail},
		{Name: "disk.corrupt-write", Site: SiteDiskWrite, Action: ActionCorrupt},
		{Name: "disk.torn-write", Site: SiteDiskWrite, Action: ActionTornWrite},
		{Name: "disk.read-corrupt", Site: SiteDiskRead, Action: ActionReadCorrupt},
		{Name: "disk.fsync-fail", Site: SiteDiskFsync, Action: ActionFsyncFail},
		{Name: "node.crash", Site: SiteClusterTick, Action: ActionCrash},
	}
}

// KnownFaultPoint reports whether name exists in the canonical registry.
func KnownFaultPoint(name string) bool {
	for _, p := range allFaultPoints() {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Injector decides, at each registered fault site, whether to inject a
// fault. Points are consulted in fixed registration order and every
// enabled point consumes exactly one RNG draw per consultation, whether
// or not an earlier point already fired. This keeps the number and order
// of draws identical across reproductions of the same seed.
//
// Composition rule: fault points are mutually exclusive per injection
// site per step; the first point whose draw fires wins. Faults from
// different sites may still compound within one event.
type Injector struct {
	points   []FaultPoint // fixed registration order
	rng      *Rng
	coverage *IterationCoverage
}

// NewInjector builds an injector from the scenario's fault configuration.
// enabled maps point name to its scenario-scaled probability.
func NewInjector(enabled map[string]float64, rng *Rng, coverage *IterationCoverage) (*Injector, error) {
	points := allFaultPoints()
	for name := range enabled {
		if !KnownFaultPoint(name) {
			return nil, ErrInvalidConfig("unknown fault point %q", name)
		}
	}
	for i := range points {
		if p, ok := enabled[points[i].Name]; ok {
			if p < 0 || p > 1 {
				return nil, ErrInvalidConfig("fault point %q probability %.3f outside [0, 1]", points[i].Name, p)
			}
			points[i].Enabled = true
			points[i].Probability = p
		}
	}
	return &Injector{points: points, rng: rng, coverage: coverage}, nil
}

// EnabledPoints returns the names of enabled fault points in registration
// order.
func (in *Injector) EnabledPoints() []string {
	var names []string
	for _, p := range in.points {
		if p.Enabled {
			names = append(names, p.Name)
		}
	}
	return names
}

// MaybeInject consults every enabled fault point registered at the site,
// in registration order, and returns the first action that fires, or nil.
func (in *Injector) MaybeInject(site FaultSite) *FaultAction {
	var fired *FaultAction
	for _, p := range in.points {
		if !p.Enabled || p.Site != site {
			continue
		}
		hit := in.rng.Chance(p.Probability)
		if hit && fired == nil {
			fired = &FaultAction{Point: p.Name, Kind: p.Action}
			in.coverage.RecordFault(p.Name)
		}
	}
	return fired
}
