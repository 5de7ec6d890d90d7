package loadbalance

import (
	"fmt"
	"math"
	"sort"

	"github.com/kilianp07/skyswarm/core/model"
)

// Strategy names accepted in configuration.
const (
	RoundRobin    = "round_robin"
	CapacityBased = "capacity_based"
	DistanceBased = "distance_based"
	AIOptimized   = "ai_optimized"
)

// AgentLoad is the balancer view of one agent.
type AgentLoad struct {
	ID         string
	Workload   int
	Efficiency float64
	Location   model.Coordinates
}

// WorkItem is a pending delivery or task waiting to be distributed.
type WorkItem struct {
	ID       string            `json:"id"`
	Location model.Coordinates `json:"location"`
}

// Strategy computes the workload of every agent for the pending items.
// Agents are passed in registration order; implementations must be
// deterministic for a given input.
type Strategy interface {
	Name() string
	Distribute(agents []AgentLoad, items []WorkItem) (map[string]int, error)
}

// NotImplemented is a placeholder strategy that always fails. It stands in
// for strategies that are declared but not available in a deployment.
type NotImplemented struct{ Algorithm string }

func (n NotImplemented) Name() string { return n.Algorithm }

func (n NotImplemented) Distribute([]AgentLoad, []WorkItem) (map[string]int, error) {
	return nil, fmt.Errorf("loadbalance: %s: %w", n.Algorithm, model.ErrStrategyNotImplemented)
}

// RoundRobinStrategy gives every agent floor(N/M) items and one extra item to
// the first N mod M agents.
type RoundRobinStrategy struct{}

func (RoundRobinStrategy) Name() string { return RoundRobin }

func (RoundRobinStrategy) Distribute(agents []AgentLoad, items []WorkItem) (map[string]int, error) {
	out := make(map[string]int, len(agents))
	if len(agents) == 0 {
		return out, nil
	}
	base, rem := len(items)/len(agents), len(items)%len(agents)
	for i, a := range agents {
		out[a.ID] = base
		if i < rem {
			out[a.ID]++
		}
	}
	return out, nil
}

// CapacityBasedStrategy derives the workload from the agent efficiency only:
// workload = efficiency / 10.
type CapacityBasedStrategy struct{}

func (CapacityBasedStrategy) Name() string { return CapacityBased }

func (CapacityBasedStrategy) Distribute(agents []AgentLoad, _ []WorkItem) (map[string]int, error) {
	out := make(map[string]int, len(agents))
	for _, a := range agents {
		out[a.ID] = int(a.Efficiency / 10)
	}
	return out, nil
}

// DistanceBasedStrategy assigns every item to the nearest agent that still
// has room, with room capped at ceil(N/M) items per agent. Items without a
// location go to the least loaded agent.
type DistanceBasedStrategy struct{}

func (DistanceBasedStrategy) Name() string { return DistanceBased }

func (DistanceBasedStrategy) Distribute(agents []AgentLoad, items []WorkItem) (map[string]int, error) {
	out := make(map[string]int, len(agents))
	for _, a := range agents {
		out[a.ID] = 0
	}
	if len(agents) == 0 || len(items) == 0 {
		return out, nil
	}
	capacity := (len(items) + len(agents) - 1) / len(agents)
	sorted := append([]WorkItem(nil), items...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for _, it := range sorted {
		best := -1
		bestDist := math.Inf(1)
		for i, a := range agents {
			if out[a.ID] >= capacity {
				continue
			}
			var d float64
			if !it.Location.IsZero() && !a.Location.IsZero() {
				d = model.DistanceKm(a.Location, it.Location)
			} else {
				d = float64(out[a.ID])
			}
			if d < bestDist {
				best, bestDist = i, d
			}
		}
		if best < 0 {
			return nil, fmt.Errorf("loadbalance: no agent left for item %s: %w", it.ID, model.ErrOverload)
		}
		out[agents[best].ID]++
	}
	return out, nil
}

// StrategyFor returns the built-in strategy registered under name.
func StrategyFor(name string) (Strategy, error) {
	switch name {
	case RoundRobin, "":
		return RoundRobinStrategy{}, nil
	case CapacityBased:
		return CapacityBasedStrategy{}, nil
	case DistanceBased:
		return DistanceBasedStrategy{}, nil
	case AIOptimized:
		return NewLPStrategy(0), nil
	default:
		return nil, model.Validationf("loadbalance: unknown strategy %q", name)
	}
}
