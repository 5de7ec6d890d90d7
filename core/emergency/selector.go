package emergency

import (
	"sort"

	"github.com/kilianp07/skyswarm/core/model"
)

// Selector names.
const (
	FirstAvailableSelector = "first_available"
	RankedSelector         = "ranked"
)

// Candidate is an agent offered as a potential responder together with the
// fleet context used to rank it.
type Candidate struct {
	Agent      model.Agent
	Workload   int
	Reputation int
}

// Selector picks at most n responders for a request.
type Selector interface {
	Name() string
	Select(req model.EmergencyRequest, resp model.ResponseType, candidates []Candidate, n int) []Candidate
}

// FirstAvailable takes the first n available candidates in the order given.
type FirstAvailable struct{}

// Name implements Selector.
func (FirstAvailable) Name() string { return FirstAvailableSelector }

// Select implements Selector.
func (FirstAvailable) Select(req model.EmergencyRequest, _ model.ResponseType, candidates []Candidate, n int) []Candidate {
	var out []Candidate
	for _, c := range eligible(req, candidates) {
		if len(out) == n {
			break
		}
		out = append(out, c)
	}
	return out
}

// Ranked prefers agents equipped for the response, then orders them by a
// penalty combining distance to the request, current workload and
// reputation.
type Ranked struct {
	// WorkloadKm is the distance penalty of one queued work item.
	WorkloadKm float64
	// ReputationKm is the distance bonus of a perfect reputation.
	ReputationKm float64
	// UnknownDistanceKm is used for agents without a position fix.
	UnknownDistanceKm float64
}

// NewRanked returns a ranked selector with the default weights.
func NewRanked() Ranked {
	return Ranked{WorkloadKm: 0.5, ReputationKm: 1, UnknownDistanceKm: 50}
}

// Name implements Selector.
func (Ranked) Name() string { return RankedSelector }

// Select implements Selector.
func (r Ranked) Select(req model.EmergencyRequest, resp model.ResponseType, candidates []Candidate, n int) []Candidate {
	type scored struct {
		c       Candidate
		capable bool
		penalty float64
	}
	need := requiredCapability(resp)
	var pool []scored
	for _, c := range eligible(req, candidates) {
		dist := r.UnknownDistanceKm
		if !c.Agent.Position.IsZero() {
			dist = model.DistanceKm(c.Agent.Position, req.Location)
		}
		pool = append(pool, scored{
			c:       c,
			capable: c.Agent.Has(need),
			penalty: dist + float64(c.Workload)*r.WorkloadKm - float64(c.Reputation)/100*r.ReputationKm,
		})
	}
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].capable != pool[j].capable {
			return pool[i].capable
		}
		return pool[i].penalty < pool[j].penalty
	})
	if len(pool) > n {
		pool = pool[:n]
	}
	out := make([]Candidate, len(pool))
	for i, s := range pool {
		out[i] = s.c
	}
	return out
}

// SelectorFor returns the selector registered under name.
func SelectorFor(name string) (Selector, error) {
	switch name {
	case FirstAvailableSelector:
		return FirstAvailable{}, nil
	case RankedSelector, "":
		return NewRanked(), nil
	default:
		return nil, model.Validationf("emergency: unknown selector %q", name)
	}
}

// eligible drops unavailable agents, the requesting agent and agents already
// attached to the request.
func eligible(req model.EmergencyRequest, candidates []Candidate) []Candidate {
	taken := make(map[string]bool, len(req.Responders)+1)
	taken[req.AgentID] = true
	for _, id := range req.Responders {
		taken[id] = true
	}
	var out []Candidate
	for _, c := range candidates {
		if !c.Agent.Available || taken[c.Agent.ID] {
			continue
		}
		taken[c.Agent.ID] = true
		out = append(out, c)
	}
	return out
}

func requiredCapability(resp model.ResponseType) model.Capability {
	switch resp {
	case model.ResponseBatteryAssist:
		return model.CapabilityCharging
	case model.ResponsePickupTransfer:
		return model.CapabilityDelivery
	case model.ResponseNavigationAid:
		return model.CapabilityNavigation
	default:
		return model.CapabilityRescue
	}
}
