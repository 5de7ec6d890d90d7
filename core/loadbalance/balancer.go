// Package loadbalance distributes pending work across the agents of a region.
package loadbalance

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/skyswarm/core/logger"
	"github.com/kilianp07/skyswarm/core/model"
)

// Config holds the balancer settings.
type Config struct {
	Region              string        `json:"region"`
	Algorithm           string        `json:"algorithm"`
	RebalanceInterval   time.Duration `json:"rebalance_interval"`
	MaxWorkloadPerAgent int           `json:"max_workload_per_agent"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Region == "" {
		c.Region = "default"
	}
	if c.Algorithm == "" {
		c.Algorithm = RoundRobin
	}
	if c.RebalanceInterval <= 0 {
		c.RebalanceInterval = 5 * time.Minute
	}
	if c.MaxWorkloadPerAgent <= 0 {
		c.MaxWorkloadPerAgent = 10
	}
}

// Validate checks the algorithm name.
func (c Config) Validate() error {
	_, err := StrategyFor(c.Algorithm)
	return err
}

// Result describes one Optimize call.
type Result struct {
	Skipped  bool
	Strategy string
	Pending  int
	Workload map[string]int
	At       time.Time
}

type entry struct {
	agent      model.Agent
	workload   int
	efficiency float64
}

// Balancer tracks the agents, their workload and the pending items of one
// region. It is safe for concurrent use.
type Balancer struct {
	mu            sync.RWMutex
	cfg           Config
	strategy      Strategy
	agents        map[string]*entry
	order         []string
	pending       []WorkItem
	lastRebalance time.Time
	log           logger.Logger
}

// New creates a balancer using the configured algorithm.
func New(cfg Config, log logger.Logger) (*Balancer, error) {
	cfg.SetDefaults()
	s, err := StrategyFor(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	if lps, ok := s.(*LPStrategy); ok {
		lps.Limit = cfg.MaxWorkloadPerAgent
	}
	return &Balancer{cfg: cfg, strategy: s, agents: make(map[string]*entry), log: log}, nil
}

// SetStrategy replaces the distribution strategy.
func (b *Balancer) SetStrategy(s Strategy) {
	b.mu.Lock()
	b.strategy = s
	b.mu.Unlock()
}

// Region returns the balanced region.
func (b *Balancer) Region() string { return b.cfg.Region }

// Register adds an agent with workload 0 and efficiency 100.
func (b *Balancer) Register(a model.Agent) error {
	if err := a.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.agents[a.ID]; ok {
		return model.Validationf("loadbalance: agent %s already registered", a.ID)
	}
	b.agents[a.ID] = &entry{agent: a, efficiency: 100}
	b.order = append(b.order, a.ID)
	b.log.Debugf("registered agent %s in region %s", a.ID, b.cfg.Region)
	return nil
}

// UpdateAgent refreshes the live description of a registered agent.
func (b *Balancer) UpdateAgent(a model.Agent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.agents[a.ID]
	if !ok {
		return fmt.Errorf("loadbalance: agent %s: %w", a.ID, model.ErrNotFound)
	}
	e.agent = a
	return nil
}

// SetEfficiency sets the efficiency of an agent, clamped to [0,100].
func (b *Balancer) SetEfficiency(id string, eff float64) error {
	if eff < 0 {
		eff = 0
	}
	if eff > 100 {
		eff = 100
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.agents[id]
	if !ok {
		return fmt.Errorf("loadbalance: agent %s: %w", id, model.ErrNotFound)
	}
	e.efficiency = eff
	return nil
}

// Agent returns the registered description of id.
func (b *Balancer) Agent(id string) (model.Agent, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.agents[id]
	if !ok {
		return model.Agent{}, false
	}
	return e.agent, true
}

// Enqueue appends pending items.
func (b *Balancer) Enqueue(items ...WorkItem) error {
	for _, it := range items {
		if it.ID == "" {
			return model.Validationf("loadbalance: work item id is required")
		}
		if !it.Location.IsZero() {
			if err := it.Location.Validate(); err != nil {
				return fmt.Errorf("loadbalance: item %s: %w", it.ID, err)
			}
		}
	}
	b.mu.Lock()
	b.pending = append(b.pending, items...)
	b.mu.Unlock()
	return nil
}

// Complete removes a pending item. It reports whether the item was found.
func (b *Balancer) Complete(itemID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, it := range b.pending {
		if it.ID == itemID {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Pending returns the number of pending items.
func (b *Balancer) Pending() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.pending)
}

// Optimize redistributes the pending items when the rebalance interval has
// elapsed since the last successful rebalance. On error nothing changes.
func (b *Balancer) Optimize(now time.Time) (Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	res := Result{Strategy: b.strategy.Name(), Pending: len(b.pending), At: now}
	if !b.lastRebalance.IsZero() && now.Sub(b.lastRebalance) < b.cfg.RebalanceInterval {
		res.Skipped = true
		res.Workload = b.workloadLocked()
		return res, nil
	}
	m := len(b.order)
	if m == 0 {
		if len(b.pending) > 0 {
			return res, model.Unavailablef("loadbalance: no agents registered in %s", b.cfg.Region)
		}
		res.Skipped = true
		return res, nil
	}
	if len(b.pending) > m*b.cfg.MaxWorkloadPerAgent {
		return res, fmt.Errorf("loadbalance: %d items for %d agents (max %d each): %w",
			len(b.pending), m, b.cfg.MaxWorkloadPerAgent, model.ErrOverload)
	}

	loads := make([]AgentLoad, 0, m)
	for _, id := range b.order {
		e := b.agents[id]
		loads = append(loads, AgentLoad{ID: id, Workload: e.workload, Efficiency: e.efficiency, Location: e.agent.Position})
	}
	dist, err := b.strategy.Distribute(loads, append([]WorkItem(nil), b.pending...))
	if err != nil {
		return res, err
	}
	for _, id := range b.order {
		b.agents[id].workload = dist[id]
	}
	b.lastRebalance = now
	res.Workload = b.workloadLocked()
	b.log.Infof("rebalanced %d items over %d agents in %s using %s", len(b.pending), m, b.cfg.Region, res.Strategy)
	return res, nil
}

// Workload returns the current workload of an agent.
func (b *Balancer) Workload(id string) (int, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.agents[id]
	if !ok {
		return 0, false
	}
	return e.workload, true
}

// Snapshot returns the workload of every agent.
func (b *Balancer) Snapshot() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.workloadLocked()
}

func (b *Balancer) workloadLocked() map[string]int {
	out := make(map[string]int, len(b.agents))
	for id, e := range b.agents {
		out[id] = e.workload
	}
	return out
}

// Available returns up to limit available agents, least loaded first and in
// registration order on ties. A limit <= 0 returns every available agent.
func (b *Balancer) Available(limit int) []model.Agent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	type cand struct {
		a    model.Agent
		load int
		pos  int
	}
	var cands []cand
	for i, id := range b.order {
		e := b.agents[id]
		if e.agent.Available {
			cands = append(cands, cand{a: e.agent, load: e.workload, pos: i})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].load != cands[j].load {
			return cands[i].load < cands[j].load
		}
		return cands[i].pos < cands[j].pos
	})
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	out := make([]model.Agent, len(cands))
	for i, c := range cands {
		out[i] = c.a
	}
	return out
}
